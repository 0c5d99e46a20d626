package domain

import "time"

// Status is the delivery state of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses; transitions only move to a higher rank.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// StatusFromRank is the inverse of Rank.
func StatusFromRank(rank int) (Status, bool) {
	switch rank {
	case 0:
		return StatusSent, true
	case 1:
		return StatusDelivered, true
	case 2:
		return StatusRead, true
	}
	return "", false
}

// Kind is the content type carried inside the ciphertext.
type Kind string

const (
	KindText  Kind = "text"
	KindFile  Kind = "file"
	KindImage Kind = "image"
)

// Valid reports whether k is a known message kind.
func (k Kind) Valid() bool {
	return k == KindText || k == KindFile || k == KindImage
}

// FileDescriptor points at an encrypted attachment stored elsewhere.
type FileDescriptor struct {
	Name     string
	Size     int64
	MimeType string
	Location string
}

// Metadata holds the plaintext tags that travel next to the ciphertext.
// PreviewHint is whatever the sender explicitly marked as safe to display
// in conversation listings.
type Metadata struct {
	Algorithm   string
	KeyVersion  string
	Kind        Kind
	File        *FileDescriptor
	PreviewHint string
}

// Envelope is the opaque encrypted payload as submitted by a sender.
type Envelope struct {
	EncryptedContent []byte
	IV               []byte
	MessageHash      string
	Metadata         Metadata
}

// Validate checks the envelope is complete. The ciphertext itself is never
// inspected.
func (e *Envelope) Validate() error {
	if len(e.EncryptedContent) == 0 {
		return invalid(ErrInvalidEnvelope, "empty_ciphertext")
	}
	if len(e.IV) == 0 {
		return invalid(ErrInvalidEnvelope, "empty_iv")
	}
	if e.MessageHash == "" {
		return invalid(ErrInvalidEnvelope, "empty_message_hash")
	}
	if e.Metadata.Kind == "" {
		e.Metadata.Kind = KindText
	}
	if !e.Metadata.Kind.Valid() {
		return invalid(ErrInvalidEnvelope, "unknown_kind")
	}
	if f := e.Metadata.File; f != nil && f.Size < 0 {
		return invalid(ErrInvalidEnvelope, "negative_file_size")
	}
	return nil
}

// Message is a single encrypted message. Content fields are immutable after
// creation; only delivery and deletion state change.
type Message struct {
	ID               string
	ConversationID   string
	SenderID         string
	RecipientID      string
	EncryptedContent []byte
	IV               []byte
	MessageHash      string
	Status           Status
	DeliveredAt      *time.Time
	ReadAt           *time.Time
	Metadata         Metadata
	IsDeleted        bool
	DeletedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewMessage builds a message in the initial sent state.
func NewMessage(id, conversationID, senderID, recipientID string, env Envelope, now time.Time) Message {
	return Message{
		ID:               id,
		ConversationID:   conversationID,
		SenderID:         senderID,
		RecipientID:      recipientID,
		EncryptedContent: env.EncryptedContent,
		IV:               env.IV,
		MessageHash:      env.MessageHash,
		Status:           StatusSent,
		Metadata:         env.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Advance moves the message to target if target outranks the current
// status. It reports whether anything changed. Reading a message that was
// never acknowledged as delivered backfills DeliveredAt with the read time.
// at is clamped so timestamps never precede earlier ones on the record.
func (m *Message) Advance(target Status, at time.Time) bool {
	if target.Rank() <= m.Status.Rank() {
		return false
	}
	at = m.TransitionTime(at)
	switch target {
	case StatusDelivered:
		m.DeliveredAt = &at
	case StatusRead:
		m.ReadAt = &at
		if m.DeliveredAt == nil {
			m.DeliveredAt = &at
		}
	default:
		return false
	}
	m.Status = target
	m.UpdatedAt = at
	return true
}

// TransitionTime returns at, moved forward if needed so that it is not
// earlier than CreatedAt or DeliveredAt.
func (m Message) TransitionTime(at time.Time) time.Time {
	if at.Before(m.CreatedAt) {
		at = m.CreatedAt
	}
	if m.DeliveredAt != nil && at.Before(*m.DeliveredAt) {
		at = *m.DeliveredAt
	}
	return at
}

// After reports whether m is more recent than other for summary purposes.
// Ties on CreatedAt fall back to the time-ordered id.
func (m Message) After(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.After(other.CreatedAt)
	}
	return m.ID > other.ID
}
