package domain

import "time"

// EventType names a domain event emitted after a committed change.
type EventType string

const (
	EventConversationCreated EventType = "conversation.created"
	EventMessageSent         EventType = "message.sent"
	EventMessageDelivered    EventType = "message.delivered"
	EventMessageRead         EventType = "message.read"
	EventMessageDeleted      EventType = "message.deleted"
)

// Event is emitted to notification and dashboard consumers after a
// mutation commits. It never carries ciphertext.
type Event struct {
	Type           EventType
	ConversationID string
	MessageID      string
	ActorID        string
	RecipientID    string
	Status         Status
	OccurredAt     time.Time
}
