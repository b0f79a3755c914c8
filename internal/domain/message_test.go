package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectItemCarriesGarment(t *testing.T) {
	g := Garment{ID: "7", Name: "Slim Jeans", Price: 49.5, Category: "Jeans"}

	msg, err := NewSelectItem("sess-1", g)
	require.NoError(t, err)
	require.NoError(t, msg.Validate())

	got, err := msg.Garment()
	require.NoError(t, err)
	assert.Equal(t, g, got)
	assert.Equal(t, "sess-1", msg.Session)
}

func TestValidateRejectsMalformedMessages(t *testing.T) {
	cases := map[string]Message{
		"unknown type":   {Type: "DANCE"},
		"empty payload":  {Type: MsgSelectItem},
		"bad payload":    {Type: MsgSelectItem, Payload: json.RawMessage(`[1,2]`)},
		"anonymous item": {Type: MsgSelectItem, Payload: json.RawMessage(`{"price":3}`)},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			err := msg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrProtocolViolation))
		})
	}
}

func TestControlMessagesCarryNoPayload(t *testing.T) {
	assert.NoError(t, NewCloseScreen("s").Validate())
	assert.NoError(t, NewScreenClosed("").Validate())

	_, err := NewCloseScreen("s").Garment()
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestGarmentAcceptsNumericID(t *testing.T) {
	var g Garment
	require.NoError(t, json.Unmarshal([]byte(`{"id": 12, "name": "Tee", "price": 9.99}`), &g))
	assert.Equal(t, "12", g.ID)
	assert.Equal(t, "Tee", g.Name)

	require.NoError(t, json.Unmarshal([]byte(`{"id": "abc", "name": "Tee"}`), &g))
	assert.Equal(t, "abc", g.ID)
}

func TestInSession(t *testing.T) {
	msg := NewCloseScreen("a")
	assert.True(t, msg.InSession("a"))
	assert.True(t, msg.InSession(""))
	assert.False(t, msg.InSession("b"))
	assert.True(t, NewCloseScreen("").InSession("b"))
}

func TestPlaceholderImageIsDeterministic(t *testing.T) {
	g := Garment{ID: "3", Name: "Hoodie"}
	first := g.DisplayImage()
	assert.Equal(t, first, PlaceholderImage(g))
	assert.True(t, strings.Contains(first, "64748B"))
	assert.True(t, strings.HasSuffix(first, "text=H"))

	g.ImageRef = "https://cdn.example/hoodie.png"
	assert.Equal(t, "https://cdn.example/hoodie.png", g.DisplayImage())
}

func TestTryOnSessionExpiry(t *testing.T) {
	now := time.Now()
	s := &TryOnSession{Status: SessionActive, StartedAt: now.Add(-time.Hour), LastSeenAt: now.Add(-10 * time.Minute)}

	assert.True(t, s.Expired(now, 5*time.Minute))
	assert.False(t, s.Expired(now, 15*time.Minute))
	assert.Equal(t, time.Hour, s.Duration(now))

	s.Status = SessionCompleted
	assert.False(t, s.Expired(now, time.Second))
}
