package avatar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	small := []byte("fake-image")
	testCases := []struct {
		name    string
		payload Payload
		want    Verdict
	}{
		{"empty", Payload{ContentType: "image/png"}, Verdict{Reason: ReasonEmpty}},
		{"oversized", Payload{Data: small, Size: MaxDownloadBytes + 1, ContentType: "image/png"}, Verdict{Reason: ReasonSizeExceeded}},
		{"at ceiling", Payload{Data: small, Size: MaxDownloadBytes, ContentType: "image/png", Filename: "a.png"}, Verdict{Accepted: true, Reason: ReasonExtensionConfirmed}},
		{"missing content type", Payload{Data: small, Filename: "a.jpg"}, Verdict{Reason: ReasonMissingContentType}},
		{"html", Payload{Data: small, ContentType: "text/html", Filename: "a.jpg"}, Verdict{Reason: ReasonBadContentType}},
		{"pdf", Payload{Data: small, ContentType: "application/pdf"}, Verdict{Reason: ReasonBadContentType}},
		{"png without extension", Payload{Data: small, ContentType: "image/png", Filename: "avatar"}, Verdict{Accepted: true, Reason: ReasonContentTypeOnly}},
		{"png without filename", Payload{Data: small, ContentType: "image/png"}, Verdict{Accepted: true, Reason: ReasonContentTypeOnly}},
		{"mismatched extension", Payload{Data: small, ContentType: "image/png", Filename: "doc.pdf"}, Verdict{Accepted: true, Reason: ReasonContentTypeOnly}},
		{"upper case extension", Payload{Data: small, ContentType: "IMAGE/JPEG", Filename: "PIC.JPEG"}, Verdict{Accepted: true, Reason: ReasonExtensionConfirmed}},
		{"webp", Payload{Data: small, ContentType: "image/webp", Filename: "x.webp"}, Verdict{Accepted: true, Reason: ReasonExtensionConfirmed}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Validate(tc.payload, MaxDownloadBytes))
			assert.Equal(t, tc.want.Accepted, IsValidImage(tc.payload))
		})
	}
}

func TestValidateCustomCeiling(t *testing.T) {
	t.Parallel()

	p := Payload{Data: make([]byte, 11), ContentType: "image/gif"}
	assert.Equal(t, ReasonSizeExceeded, Validate(p, 10).Reason)
	assert.True(t, Validate(p, 0).Accepted, "non-positive ceiling falls back to the default")
}

func TestDeriveFilename(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	testCases := []struct {
		path string
		want string
	}{
		{"/pic.jpg", "pic.jpg"},
		{"/v/t61/img", "img.jpg"},
		{"/a/b.c/photo", "photo.jpg"},
		{"/archive.tar.gz", "archive.tar.gz"},
		{"", "avatar_1700000000.jpg"},
		{"/", "avatar_1700000000.jpg"},
		{"/images/", "avatar_1700000000.jpg"},
		{"/ ", "avatar_1700000000.jpg"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, DeriveFilename(SanitizedURL{Path: tc.path}, now), tc.path)
	}
}
