package avatar

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeRejectsNonHTTP(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	s := NewSanitizer(DefaultProviderRules(), zap.New(core))

	for _, raw := range []string{
		"",
		"   ",
		"ftp://example.com/pic.jpg",
		"www.example.com/pic.jpg",
		"javascript:alert(1)",
		"data:image/png;base64,AAAA",
		" //example.com/pic.jpg",
	} {
		_, ok := s.Sanitize(raw)
		assert.False(t, ok, "expected %q to be rejected", raw)
	}
	assert.Equal(t, 0, logs.Len(), "non-http input is rejected without logging")
}

func TestSanitizeTrimsWhitespace(t *testing.T) {
	t.Parallel()

	s := NewSanitizer(DefaultProviderRules(), zap.NewNop())
	got, ok := s.Sanitize("  \thttps://cdn.example.com/pic.jpg \n")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/pic.jpg", got.String())
	assert.Equal(t, "https", got.Scheme)
	assert.Equal(t, "cdn.example.com", got.Host)
	assert.Equal(t, "/pic.jpg", got.Path)
}

func TestSanitizeStripsProviderAuthParams(t *testing.T) {
	t.Parallel()

	s := NewSanitizer(DefaultProviderRules(), zap.NewNop())
	testCases := []struct {
		name string
		raw  string
		want string
	}{
		{"token dropped", "https://pps.whatsapp.net/v/t61/pic.jpg?token=abc&foo=bar", "https://pps.whatsapp.net/v/t61/pic.jpg?foo=bar"},
		{"only auth params", "https://graph.whatsapp.net/img?signature=xyz", "https://graph.whatsapp.net/img"},
		{"order preserved", "https://graph.whatsapp.net/img?token=T1&w=200", "https://graph.whatsapp.net/img?w=200"},
		{"case insensitive", "https://mmg.WhatsApp.net/a.png?AUTH=1&Token=2&size=96", "https://mmg.WhatsApp.net/a.png?size=96"},
		{"substring keys", "https://pps.whatsapp.net/a?oauth_sig=1&access_token=2&oe=65F", "https://pps.whatsapp.net/a?oe=65F"},
		{"encoded key", "https://pps.whatsapp.net/a?%74oken=1&n=2", "https://pps.whatsapp.net/a?n=2"},
		{"no query", "https://pps.whatsapp.net/a.jpg", "https://pps.whatsapp.net/a.jpg"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := s.Sanitize(tc.raw)
			require.True(t, ok)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestSanitizeLeavesOtherHostsAlone(t *testing.T) {
	t.Parallel()

	s := NewSanitizer(DefaultProviderRules(), zap.NewNop())
	got, ok := s.Sanitize("https://cdn.example.com/pic.jpg?token=abc&foo=bar")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/pic.jpg?token=abc&foo=bar", got.String())
	assert.Equal(t, "token=abc&foo=bar", got.RawQuery)
}

func TestSanitizeCustomProviderRule(t *testing.T) {
	t.Parallel()

	s := NewSanitizer([]ProviderRule{
		{HostMarker: " CDN.Acme ", AuthParamPattern: regexp.MustCompile(`^sig$`)},
		{HostMarker: ""},
	}, zap.NewNop())

	got, ok := s.Sanitize("https://img.cdn.acme.io/a.png?sig=1&token=2")
	require.True(t, ok)
	assert.Equal(t, "https://img.cdn.acme.io/a.png?token=2", got.String())

	// WhatsApp is not configured here, so nothing is stripped.
	got, ok = s.Sanitize("https://pps.whatsapp.net/a.jpg?token=1")
	require.True(t, ok)
	assert.Equal(t, "https://pps.whatsapp.net/a.jpg?token=1", got.String())
}

func TestSanitizeLogsParseFailures(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"http://%zz/pic.jpg", "https://exa mple.com/a.jpg", "http://"} {
		core, logs := observer.New(zapcore.DebugLevel)
		s := NewSanitizer(DefaultProviderRules(), zap.New(core))

		_, ok := s.Sanitize(raw)
		require.False(t, ok, raw)

		entries := logs.All()
		require.Len(t, entries, 1, raw)
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
		assert.Equal(t, raw, entries[0].ContextMap()["url"])
		assert.NotEmpty(t, entries[0].ContextMap()["error"])
	}
}

func FuzzSanitize(f *testing.F) {
	for _, seed := range []string{"https://graph.whatsapp.net/img?token=T1&w=200", "http://%zz", "", "https://a/b?c"} {
		f.Add(seed)
	}
	s := NewSanitizer(DefaultProviderRules(), zap.NewNop())
	f.Fuzz(func(t *testing.T, raw string) {
		got, ok := s.Sanitize(raw)
		if !ok {
			return
		}
		if got.Scheme != "http" && got.Scheme != "https" {
			t.Fatalf("unexpected scheme %q from %q", got.Scheme, raw)
		}
	})
}
