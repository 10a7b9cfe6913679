package avatar

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a stale or expired avatar URL (HTTP 404/410).
	ErrNotFound = errors.New("avatar not found")
	// ErrSizeExceeded marks a payload larger than the download ceiling.
	ErrSizeExceeded = errors.New("avatar exceeds size limit")
	// ErrSlotEmpty is returned when an owner has no current avatar.
	ErrSlotEmpty = errors.New("avatar slot empty")
)

// TransportError wraps every fetch failure other than ErrNotFound.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
