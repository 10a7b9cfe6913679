package evolution

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestExtractAvatarURLPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		contact string
		want    string
		ok      bool
	}{
		{
			name:    "profile snake case wins",
			contact: `{"profile":{"profile_pic_url":"https://a/1.jpg","avatar_url":"https://a/2.jpg"},"photo":"https://a/3.jpg"}`,
			want:    "https://a/1.jpg",
			ok:      true,
		},
		{
			name:    "profile camel case",
			contact: `{"profile":{"profilePicUrl":"https://a/camel.jpg"}}`,
			want:    "https://a/camel.jpg",
			ok:      true,
		},
		{
			name:    "top level avatar_url before photo",
			contact: `{"avatar_url":"http://a/top.jpg","photo":"https://a/photo.jpg"}`,
			want:    "http://a/top.jpg",
			ok:      true,
		},
		{
			name:    "photo only",
			contact: `{"photo":"  https://a/photo.jpg  "}`,
			want:    "https://a/photo.jpg",
			ok:      true,
		},
		{
			name:    "blank candidate falls through",
			contact: `{"profile":{"profile_pic_url":"   "},"photo":"https://a/photo.jpg"}`,
			want:    "https://a/photo.jpg",
			ok:      true,
		},
		{
			name:    "non http candidate falls through",
			contact: `{"avatar_url":"data:image/png;base64,xx","profilePicUrl":"https://a/ok.png"}`,
			want:    "https://a/ok.png",
			ok:      true,
		},
		{
			name:    "uppercase scheme rejected",
			contact: `{"photo":"HTTPS://a/x.jpg"}`,
			ok:      false,
		},
		{
			name:    "non string ignored",
			contact: `{"photo":42}`,
			ok:      false,
		},
		{
			name:    "nothing",
			contact: `{"name":"Ana"}`,
			ok:      false,
		},
	}

	n := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := n.ExtractAvatarURL(decode(t, tt.contact))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractAvatarURLLogsAtDebug(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	n := New(zap.New(core))
	_, ok := n.ExtractAvatarURL(map[string]any{"photo": "https://a/p.jpg"})
	require.True(t, ok)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "https://a/p.jpg", entries[0].ContextMap()["url"])
}

func TestNormalizeContactDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	input := decode(t, `{"pushname":"Ana","photo":" https://a/p.jpg ","profile":{"extra":{"k":"v"}}}`)
	n := New(nil)
	out := n.NormalizeContact(input)

	profile := out["profile"].(map[string]any)
	assert.Equal(t, "https://a/p.jpg", profile["profile_pic_url"])
	assert.Equal(t, "Ana", profile["name"])

	profile["extra"].(map[string]any)["k"] = "changed"
	inProfile := input["profile"].(map[string]any)
	assert.NotContains(t, inProfile, "profile_pic_url")
	assert.NotContains(t, inProfile, "name")
	assert.Equal(t, "v", inProfile["extra"].(map[string]any)["k"])
}

func TestNormalizeContactName(t *testing.T) {
	t.Parallel()

	n := New(nil)

	out := n.NormalizeContact(decode(t, `{"name":"Bia","pushname":"B"}`))
	assert.Equal(t, "Bia", out["profile"].(map[string]any)["name"])

	out = n.NormalizeContact(decode(t, `{"name":"Bia","profile":{"name":"Kept"}}`))
	assert.Equal(t, "Kept", out["profile"].(map[string]any)["name"])

	out = n.NormalizeContact(decode(t, `{"wa_id":"1"}`))
	profile := out["profile"].(map[string]any)
	assert.Empty(t, profile)
}

func TestNormalizeContactEmptyPassthrough(t *testing.T) {
	t.Parallel()

	n := New(nil)
	assert.Nil(t, n.NormalizeContact(nil))
	assert.Empty(t, n.NormalizeContact(map[string]any{}))
}

func TestProcessMessageNormalizesEveryContact(t *testing.T) {
	t.Parallel()

	input := decode(t, `{
		"contacts": [
			{"wa_id":"5511","pushname":"Ana","profilePicUrl":"https://pps.whatsapp.net/a.jpg?oh=1"},
			{"wa_id":"5522","profile":{"name":"Caio"}}
		],
		"messages": [{"id":"m1"}]
	}`)
	n := New(nil)
	out := n.ProcessMessage(input)

	contacts := out["contacts"].([]any)
	require.Len(t, contacts, 2)
	first := contacts[0].(map[string]any)["profile"].(map[string]any)
	assert.Equal(t, "https://pps.whatsapp.net/a.jpg?oh=1", first["profile_pic_url"])
	assert.Equal(t, "Ana", first["name"])

	assert.NotContains(t, input["contacts"].([]any)[0].(map[string]any), "profile")
	assert.Equal(t, input["messages"], out["messages"])
}

func TestProcessMessageWithoutContacts(t *testing.T) {
	t.Parallel()

	n := New(nil)
	out := n.ProcessMessage(decode(t, `{"contacts":[],"event":"messages.upsert"}`))
	assert.Equal(t, "messages.upsert", out["event"])
	assert.Nil(t, n.ProcessMessage(nil))
}

func TestContactsTypedView(t *testing.T) {
	t.Parallel()

	n := New(nil)
	got := n.Contacts(decode(t, `{
		"contacts": [
			{"wa_id":"5511","pushname":"Ana","photo":"https://a/p.jpg"},
			{"remoteJid":"5533@s.whatsapp.net","name":"Duda"},
			{"pushname":"anonymous"},
			"garbage"
		]
	}`))

	require.Len(t, got, 2)
	assert.Equal(t, Contact{ID: "5511", Profile: Profile{Name: "Ana", ProfilePicURL: "https://a/p.jpg"}}, got[0])
	assert.Equal(t, Contact{ID: "5533@s.whatsapp.net", Profile: Profile{Name: "Duda"}}, got[1])
}
