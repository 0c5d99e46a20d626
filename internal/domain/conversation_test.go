package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewConversation_CanonicalPair(t *testing.T) {
	conv := NewConversation("dm_1", "zed", "amy", t0)
	require.Equal(t, "amy", conv.ParticipantA)
	require.Equal(t, "zed", conv.ParticipantB)
	require.Equal(t, []string{"amy", "zed"}, conv.Participants())
	require.True(t, conv.IsActive)
	require.Nil(t, conv.LastMessageAt)
	require.Nil(t, conv.LastMessagePreview)
	require.False(t, conv.Handshake.KeyExchangeCompleted)
	require.True(t, conv.HasParticipant("zed"))
	require.False(t, conv.HasParticipant(""))
	require.Equal(t, "amy", conv.Counterpart("zed"))
	require.Equal(t, "", conv.Counterpart("bob"))
}

func TestParticipantsIsAProjection(t *testing.T) {
	conv := NewConversation("dm_1", "u1", "u2", t0)
	p := conv.Participants()
	p[0] = "intruder"
	require.Equal(t, "u1", conv.ParticipantA)
}

func TestApplyHandshake(t *testing.T) {
	conv := NewConversation("dm_1", "u1", "u2", t0)
	alg := "x25519-aes256gcm"
	conv.ApplyHandshake(HandshakeUpdate{PublicKeys: map[string]string{"u1": "key-u1"}, Algorithm: &alg}, t0.Add(time.Second))
	require.Equal(t, "key-u1", conv.Handshake.PublicKeys["u1"])
	require.Equal(t, alg, conv.Handshake.Algorithm)
	require.False(t, conv.Handshake.KeyExchangeCompleted)
	require.Equal(t, t0.Add(time.Second), conv.UpdatedAt)

	done := true
	conv.ApplyHandshake(HandshakeUpdate{PublicKeys: map[string]string{"u2": "key-u2"}, KeyExchangeCompleted: &done}, t0.Add(2*time.Second))
	require.Equal(t, map[string]string{"u1": "key-u1", "u2": "key-u2"}, conv.Handshake.PublicKeys)
	require.True(t, conv.Handshake.KeyExchangeCompleted)
	require.Equal(t, t0.Add(2*time.Second), *conv.Handshake.CompletedAt)

	conv.ApplyHandshake(HandshakeUpdate{KeyExchangeCompleted: &done}, t0.Add(3*time.Second))
	require.Equal(t, t0.Add(2*time.Second), *conv.Handshake.CompletedAt)
	require.Equal(t, alg, conv.Handshake.Algorithm)
}

func TestActivityKeyOrdering(t *testing.T) {
	quiet := NewConversation("dm_a", "u1", "u2", t0.Add(time.Hour))
	older := NewConversation("dm_b", "u1", "u3", t0)
	newer := NewConversation("dm_c", "u1", "u4", t0)
	at1, at2 := t0.Add(time.Minute), t0.Add(2*time.Minute)
	older.LastMessageAt = &at1
	newer.LastMessageAt = &at2

	require.Greater(t, newer.ActivityKey(), older.ActivityKey())
	require.Greater(t, older.ActivityKey(), quiet.ActivityKey())
}

func TestPageNormalize(t *testing.T) {
	p := Page{}.Normalize(20, 100)
	require.Equal(t, Page{Page: 1, Limit: 20}, p)
	require.Equal(t, 0, p.Offset())

	p = Page{Page: 3, Limit: 500}.Normalize(20, 100)
	require.Equal(t, Page{Page: 3, Limit: 100}, p)
	require.Equal(t, 200, p.Offset())

	p = Page{Page: math.MaxInt, Limit: 20}.Normalize(20, 100)
	require.Equal(t, MaxPage, p.Page)
	require.Equal(t, (MaxPage-1)*20, p.Offset())

	require.Equal(t, math.MaxInt, Page{Page: math.MaxInt, Limit: 100}.Offset())
	require.Equal(t, 0, Page{Page: 5}.Offset())
}

func TestTimeKeyRoundTripAndOrder(t *testing.T) {
	a := time.Date(2026, 3, 1, 12, 0, 0, 500, time.FixedZone("x", 3600))
	b := a.Add(time.Millisecond)
	got, err := ParseTimeKey(FormatTimeKey(a))
	require.NoError(t, err)
	require.True(t, a.Equal(got))
	require.Less(t, FormatTimeKey(a), FormatTimeKey(b))
}
