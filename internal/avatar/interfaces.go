package avatar

import (
	"context"
	"io"
	"time"
)

// Owner is any record that can be the target of an avatar request.
type Owner interface {
	Ref() OwnerRef
}

// Avatarable is implemented by owners that expose an avatar slot.
// AttachAvatar must commit bytes and metadata atomically or not at all.
type Avatarable interface {
	Owner
	AttachAvatar(ctx context.Context, upload Upload) (Attachment, error)
}

// OwnerResolver turns a reference into a live owner record.
type OwnerResolver interface {
	Resolve(ctx context.Context, ref OwnerRef) (Owner, error)
}

// SlotStore persists the current attachment of each owner.
type SlotStore interface {
	PutAttachment(ctx context.Context, att Attachment) error
	GetAttachment(ctx context.Context, ref OwnerRef) (Attachment, error)
}

// BlobStore writes raw avatar bytes and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Fetcher downloads a candidate avatar.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Payload, error)
}

// Queue provides enqueue/dequeue semantics for avatar work.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Publisher pushes attach events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
