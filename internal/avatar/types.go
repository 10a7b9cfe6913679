// Package avatar defines the core types and ports of the avatar ingest pipeline.
package avatar

import (
	"net/http"
	"time"
)

// MaxDownloadBytes is the default ceiling for a fetched avatar (15 MiB).
const MaxDownloadBytes int64 = 15 * 1024 * 1024

// DefaultContentType is attached when the origin did not declare one.
const DefaultContentType = "image/jpeg"

// DefaultAccept prefers images but allows anything.
const DefaultAccept = "image/*,*/*;q=0.8"

// OwnerRef identifies the record that owns an avatar slot.
type OwnerRef struct {
	Type string `json:"owner_type"`
	ID   string `json:"owner_id"`
}

// IsZero reports whether the reference carries no identity.
func (r OwnerRef) IsZero() bool {
	return r.Type == "" || r.ID == ""
}

// String renders the reference as Type/ID.
func (r OwnerRef) String() string {
	return r.Type + "/" + r.ID
}

// Request is a single unit of avatar work.
type Request struct {
	Owner  OwnerRef `json:"owner"`
	RawURL string   `json:"raw_url"`
}

// QueueItem wraps a request travelling through a lane.
type QueueItem struct {
	ID        string  `json:"id"`
	Lane      string  `json:"lane"`
	Request   Request `json:"request"`
	Attempt   int     `json:"attempt"`
	Submitted int64   `json:"submitted"`
}

// FetchRequest captures everything needed to download a candidate avatar.
type FetchRequest struct {
	URL      string
	MaxBytes int64
	Headers  http.Header
}

// Payload is a downloaded candidate avatar. Empty strings mean "not declared".
type Payload struct {
	Data        []byte
	ContentType string
	Filename    string
	Size        int64
}

// Upload is what gets handed to an avatar slot.
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
	SourceURL   string
}

// Attachment describes the current avatar held by a slot.
type Attachment struct {
	Owner       OwnerRef  `json:"owner"`
	BlobURI     string    `json:"blob_uri"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	ByteSize    int64     `json:"byte_size"`
	Checksum    string    `json:"checksum"`
	SourceURL   string    `json:"source_url"`
	AttachedAt  time.Time `json:"attached_at"`
}

// Outcome is the terminal state of one ingest invocation.
type Outcome string

// Terminal outcomes of the ingest task.
const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeNotFound Outcome = "not_found"
	OutcomeFailed   Outcome = "failed"
)

// Result is returned by the ingest task.
type Result struct {
	Outcome    Outcome
	Reason     string
	Attachment *Attachment
}
