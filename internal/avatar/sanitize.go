package avatar

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var schemePattern = regexp.MustCompile(`^https?://`)

// DefaultAuthParamPattern matches query keys that carry short-lived credentials.
var DefaultAuthParamPattern = regexp.MustCompile(`(?i)token|auth|signature`)

// ProviderRule strips auth-like query parameters from hosts containing HostMarker.
type ProviderRule struct {
	HostMarker       string
	AuthParamPattern *regexp.Regexp
}

// DefaultProviderRules covers WhatsApp-compatible gateway CDNs.
func DefaultProviderRules() []ProviderRule {
	return []ProviderRule{{HostMarker: "whatsapp", AuthParamPattern: DefaultAuthParamPattern}}
}

// SanitizedURL is an immutable, fetchable http(s) URL.
type SanitizedURL struct {
	Scheme   string
	Host     string
	Path     string
	RawQuery string
	raw      string
}

// String returns the reassembled URL.
func (u SanitizedURL) String() string {
	return u.raw
}

// Sanitizer normalizes raw avatar URLs reported by messaging providers.
type Sanitizer struct {
	rules  []ProviderRule
	logger *zap.Logger
}

// NewSanitizer builds a Sanitizer. Rules without a pattern use DefaultAuthParamPattern.
func NewSanitizer(rules []ProviderRule, logger *zap.Logger) *Sanitizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized := make([]ProviderRule, 0, len(rules))
	for _, rule := range rules {
		marker := strings.ToLower(strings.TrimSpace(rule.HostMarker))
		if marker == "" {
			continue
		}
		pattern := rule.AuthParamPattern
		if pattern == nil {
			pattern = DefaultAuthParamPattern
		}
		normalized = append(normalized, ProviderRule{HostMarker: marker, AuthParamPattern: pattern})
	}
	return &Sanitizer{rules: normalized, logger: logger}
}

// Sanitize trims and validates raw, stripping auth parameters for known providers.
// It returns false when raw is not a usable http(s) URL.
func (s *Sanitizer) Sanitize(raw string) (SanitizedURL, bool) {
	cleaned := strings.TrimSpace(raw)
	if !schemePattern.MatchString(cleaned) {
		return SanitizedURL{}, false
	}

	u, err := url.Parse(cleaned)
	if err == nil && u.Host == "" {
		err = errors.New("missing host")
	}
	if err != nil {
		s.logger.Warn("invalid avatar url", zap.String("url", raw), zap.Error(err))
		return SanitizedURL{}, false
	}

	if rule, ok := s.ruleFor(u.Hostname()); ok {
		u.RawQuery = filterQuery(u.RawQuery, rule.AuthParamPattern)
		u.ForceQuery = false
	}

	return SanitizedURL{
		Scheme:   u.Scheme,
		Host:     u.Host,
		Path:     u.Path,
		RawQuery: u.RawQuery,
		raw:      u.String(),
	}, true
}

func (s *Sanitizer) ruleFor(host string) (ProviderRule, bool) {
	host = strings.ToLower(host)
	for _, rule := range s.rules {
		if strings.Contains(host, rule.HostMarker) {
			return rule, true
		}
	}
	return ProviderRule{}, false
}

// filterQuery drops pairs whose decoded key matches pattern, keeping order and encoding.
func filterQuery(rawQuery string, pattern *regexp.Regexp) string {
	if rawQuery == "" {
		return ""
	}
	kept := make([]string, 0, strings.Count(rawQuery, "&")+1)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if pattern.MatchString(key) {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}
