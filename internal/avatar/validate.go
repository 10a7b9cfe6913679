package avatar

import "strings"

// Reason explains a validation verdict.
type Reason string

// Validation reasons, used for logging only.
const (
	ReasonEmpty              Reason = "empty"
	ReasonSizeExceeded       Reason = "size_exceeded"
	ReasonMissingContentType Reason = "missing_content_type"
	ReasonBadContentType     Reason = "bad_content_type"
	ReasonExtensionConfirmed Reason = "extension_confirmed"
	ReasonContentTypeOnly    Reason = "content_type_only"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}

// Verdict is the outcome of Validate.
type Verdict struct {
	Accepted bool
	Reason   Reason
}

// Validate classifies a payload as an acceptable avatar.
// The image/ content type is the deciding rule; a known extension only confirms it.
func Validate(p Payload, maxBytes int64) Verdict {
	if maxBytes <= 0 {
		maxBytes = MaxDownloadBytes
	}
	size := p.Size
	if size == 0 {
		size = int64(len(p.Data))
	}
	if size <= 0 {
		return Verdict{Reason: ReasonEmpty}
	}
	if size > maxBytes {
		return Verdict{Reason: ReasonSizeExceeded}
	}

	contentType := strings.ToLower(strings.TrimSpace(p.ContentType))
	if contentType == "" {
		return Verdict{Reason: ReasonMissingContentType}
	}
	if !strings.HasPrefix(contentType, "image/") {
		return Verdict{Reason: ReasonBadContentType}
	}

	filename := strings.ToLower(p.Filename)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(filename, ext) {
			return Verdict{Accepted: true, Reason: ReasonExtensionConfirmed}
		}
	}
	return Verdict{Accepted: true, Reason: ReasonContentTypeOnly}
}

// IsValidImage applies Validate with the default ceiling.
func IsValidImage(p Payload) bool {
	return Validate(p, MaxDownloadBytes).Accepted
}
