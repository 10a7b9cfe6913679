// Package owner resolves owner references into records and implements the avatar slot.
package owner

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/avatar-ingest/internal/avatar"
)

// DefaultAvatarTypes are the owner types that carry an avatar slot.
var DefaultAvatarTypes = []string{"Contact", "User", "AgentBot", "Inbox"}

// Config controls how owners are resolved and where blobs go.
type Config struct {
	AvatarTypes []string
	BlobPrefix  string
}

// Registry resolves owners and wires avatar slots to storage.
type Registry struct {
	types  map[string]struct{}
	slots  avatar.SlotStore
	blobs  avatar.BlobStore
	hasher avatar.Hasher
	clock  avatar.Clock
	prefix string
}

// NewRegistry constructs a Registry.
func NewRegistry(
	slots avatar.SlotStore,
	blobs avatar.BlobStore,
	hasher avatar.Hasher,
	clock avatar.Clock,
	cfg Config,
) *Registry {
	types := cfg.AvatarTypes
	if len(types) == 0 {
		types = DefaultAvatarTypes
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[strings.TrimSpace(t)] = struct{}{}
	}
	return &Registry{
		types:  set,
		slots:  slots,
		blobs:  blobs,
		hasher: hasher,
		clock:  clock,
		prefix: strings.Trim(cfg.BlobPrefix, "/"),
	}
}

// Resolve returns a Record with an avatar slot for configured types, a bare owner otherwise.
func (r *Registry) Resolve(_ context.Context, ref avatar.OwnerRef) (avatar.Owner, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("owner reference %q is incomplete", ref)
	}
	if _, ok := r.types[ref.Type]; !ok {
		return bare{ref: ref}, nil
	}
	return &Record{ref: ref, registry: r}, nil
}

// Current returns the attachment currently held by the owner's slot.
func (r *Registry) Current(ctx context.Context, ref avatar.OwnerRef) (avatar.Attachment, error) {
	att, err := r.slots.GetAttachment(ctx, ref)
	if err != nil {
		return avatar.Attachment{}, fmt.Errorf("get attachment: %w", err)
	}
	return att, nil
}

func (r *Registry) blobPath(ref avatar.OwnerRef, checksum, filename string) string {
	// Escape separators so owner identifiers cannot walk the blob namespace.
	owner := path.Join(escapeSegment(ref.Type), escapeSegment(ref.ID), checksum, escapeSegment(filename))
	if r.prefix == "" {
		return owner
	}
	return r.prefix + "/" + owner
}

func escapeSegment(s string) string {
	s = strings.NewReplacer("/", "_", `\`, "_").Replace(s)
	if s == "." || s == ".." || s == "" {
		return "_"
	}
	return s
}

type bare struct {
	ref avatar.OwnerRef
}

func (b bare) Ref() avatar.OwnerRef { return b.ref }

// Record is an owner with an avatar slot.
type Record struct {
	ref      avatar.OwnerRef
	registry *Registry
}

// Ref returns the owner reference.
func (rec *Record) Ref() avatar.OwnerRef { return rec.ref }

// AttachAvatar stores the bytes, then swaps the slot to the new attachment in one step.
// A failure before the swap leaves the previous avatar current.
func (rec *Record) AttachAvatar(ctx context.Context, upload avatar.Upload) (avatar.Attachment, error) {
	r := rec.registry
	checksum, err := r.hasher.Hash(upload.Data)
	if err != nil {
		return avatar.Attachment{}, fmt.Errorf("hash avatar: %w", err)
	}
	uri, err := r.blobs.PutObject(ctx, r.blobPath(rec.ref, checksum, upload.Filename), upload.ContentType, bytes.NewReader(upload.Data))
	if err != nil {
		return avatar.Attachment{}, fmt.Errorf("put object: %w", err)
	}
	att := avatar.Attachment{
		Owner:       rec.ref,
		BlobURI:     uri,
		Filename:    upload.Filename,
		ContentType: upload.ContentType,
		ByteSize:    int64(len(upload.Data)),
		Checksum:    checksum,
		SourceURL:   upload.SourceURL,
		AttachedAt:  r.clock.Now(),
	}
	if err := r.slots.PutAttachment(ctx, att); err != nil {
		return avatar.Attachment{}, fmt.Errorf("put attachment: %w", err)
	}
	return att, nil
}
