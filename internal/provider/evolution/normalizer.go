// Package evolution normalizes Evolution API contact payloads into the canonical
// shape the ingest pipeline consumes.
package evolution

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var httpPrefix = regexp.MustCompile(`^https?://`)

// avatarCandidates lists where Evolution API may place the avatar, highest priority first.
var avatarCandidates = [][]string{
	{"profile", "profile_pic_url"},
	{"profile", "avatar_url"},
	{"profile", "profilePicUrl"},
	{"avatar_url"},
	{"profilePicUrl"},
	{"photo"},
}

// Normalizer rewrites provider payloads. It never mutates its input.
type Normalizer struct {
	logger *zap.Logger
}

// New constructs a Normalizer.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// ExtractAvatarURL returns the first candidate that is a non-blank http(s) URL after trimming.
func (n *Normalizer) ExtractAvatarURL(contact map[string]any) (string, bool) {
	for _, keys := range avatarCandidates {
		raw, ok := lookupString(contact, keys...)
		if !ok {
			continue
		}
		candidate := strings.TrimSpace(raw)
		if candidate == "" || !httpPrefix.MatchString(candidate) {
			continue
		}
		n.logger.Debug("evolution avatar url extracted", zap.String("url", candidate))
		return candidate, true
	}
	return "", false
}

// NormalizeContact returns a copy of contact with profile.profile_pic_url and profile.name filled in.
func (n *Normalizer) NormalizeContact(contact map[string]any) map[string]any {
	if len(contact) == 0 {
		return contact
	}
	normalized := deepCopyMap(contact)

	profile, ok := normalized["profile"].(map[string]any)
	if !ok {
		profile = map[string]any{}
		normalized["profile"] = profile
	}
	if url, ok := n.ExtractAvatarURL(contact); ok {
		profile["profile_pic_url"] = url
	}
	if profile["name"] == nil {
		if name := firstPresent(contact, "name", "pushname"); name != nil {
			profile["name"] = name
		}
	}
	return normalized
}

// ProcessMessage returns a copy of message with every contact normalized.
func (n *Normalizer) ProcessMessage(message map[string]any) map[string]any {
	if len(message) == 0 {
		return message
	}
	normalized := deepCopyMap(message)
	contacts, ok := normalized["contacts"].([]any)
	if !ok || len(contacts) == 0 {
		return normalized
	}
	for i, c := range contacts {
		if contact, ok := c.(map[string]any); ok {
			contacts[i] = n.NormalizeContact(contact)
		}
	}
	return normalized
}

func lookupString(m map[string]any, keys ...string) (string, bool) {
	var cur any = m
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = obj[k]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v := m[k]; v != nil {
			return v
		}
	}
	return nil
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
