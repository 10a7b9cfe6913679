package evolution

import "strings"

// Profile is the canonical contact profile.
type Profile struct {
	Name          string `json:"name,omitempty"`
	ProfilePicURL string `json:"profile_pic_url,omitempty"`
}

// Contact is the typed view of a normalized contact.
type Contact struct {
	ID      string  `json:"id"`
	Profile Profile `json:"profile"`
}

var idKeys = []string{"wa_id", "id", "remoteJid"}

// Contacts normalizes message and returns its contacts in typed form.
// Contacts without any identifier are dropped.
func (n *Normalizer) Contacts(message map[string]any) []Contact {
	normalized := n.ProcessMessage(message)
	raw, _ := normalized["contacts"].([]any)
	out := make([]Contact, 0, len(raw))
	for _, c := range raw {
		contact, ok := c.(map[string]any)
		if !ok {
			continue
		}
		id := ""
		for _, k := range idKeys {
			if v, ok := lookupString(contact, k); ok && strings.TrimSpace(v) != "" {
				id = strings.TrimSpace(v)
				break
			}
		}
		if id == "" {
			continue
		}
		name, _ := lookupString(contact, "profile", "name")
		pic, _ := lookupString(contact, "profile", "profile_pic_url")
		out = append(out, Contact{ID: id, Profile: Profile{Name: name, ProfilePicURL: pic}})
	}
	return out
}
