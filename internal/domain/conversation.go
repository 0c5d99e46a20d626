package domain

import "time"

// Conversation is the persisted record for a two-party conversation.
// ParticipantA and ParticipantB are stored in canonical (sorted) order.
type Conversation struct {
	ID                 string
	ParticipantA       string
	ParticipantB       string
	IsActive           bool
	LastMessageAt      *time.Time
	LastMessagePreview *string
	LastMessageID      string
	Handshake          Handshake
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int64
}

// Handshake records the outcome of the client-side key exchange. The core
// never sees key material, only references to it.
type Handshake struct {
	PublicKeys           map[string]string
	Algorithm            string
	KeyVersion           string
	KeyExchangeCompleted bool
	CompletedAt          *time.Time
}

// HandshakeUpdate is a partial update; nil fields are left untouched and
// PublicKeys entries are merged per participant.
type HandshakeUpdate struct {
	PublicKeys           map[string]string
	Algorithm            *string
	KeyVersion           *string
	KeyExchangeCompleted *bool
}

// NewConversation builds a fresh active conversation for a resolved pair.
func NewConversation(id, x, y string, now time.Time) Conversation {
	a, b := canonicalPair(x, y)
	return Conversation{
		ID:           id,
		ParticipantA: a,
		ParticipantB: b,
		IsActive:     true,
		Handshake:    Handshake{PublicKeys: map[string]string{}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Participants is a read-only projection of the pair.
func (c Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.ParticipantA || userID == c.ParticipantB)
}

// Counterpart returns the other participant, or "" if userID is not a member.
func (c Conversation) Counterpart(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

// ApplyHandshake merges u into the handshake state. CompletedAt is stamped
// the first time the exchange is reported complete.
func (c *Conversation) ApplyHandshake(u HandshakeUpdate, now time.Time) {
	h := c.Handshake
	keys := make(map[string]string, len(h.PublicKeys)+len(u.PublicKeys))
	for k, v := range h.PublicKeys {
		keys[k] = v
	}
	for k, v := range u.PublicKeys {
		keys[k] = v
	}
	h.PublicKeys = keys
	if u.Algorithm != nil {
		h.Algorithm = *u.Algorithm
	}
	if u.KeyVersion != nil {
		h.KeyVersion = *u.KeyVersion
	}
	if u.KeyExchangeCompleted != nil {
		h.KeyExchangeCompleted = *u.KeyExchangeCompleted
		switch {
		case !h.KeyExchangeCompleted:
			h.CompletedAt = nil
		case h.CompletedAt == nil:
			at := now
			h.CompletedAt = &at
		}
	}
	c.Handshake = h
	c.UpdatedAt = now
}

// ActivityKey orders conversations for inbox listings: conversations with
// messages sort above those without, newest first within each group when
// compared in descending order.
func (c Conversation) ActivityKey() string {
	if c.LastMessageAt != nil {
		return "1#" + FormatTimeKey(*c.LastMessageAt) + "#" + c.ID
	}
	return "0#" + FormatTimeKey(c.CreatedAt) + "#" + c.ID
}
