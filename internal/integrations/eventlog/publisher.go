// Package eventlog publishes messaging events as structured log records.
// Notification and dashboard consumers subscribe to the log stream.
package eventlog

import (
	"context"
	"errors"
	"log/slog"

	"secure-messaging/internal/domain"
)

// Publisher writes each event as one structured log record.
type Publisher struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		return nil, errors.New("eventlog: logger must not be nil")
	}
	return &Publisher{logger: logger.With("component", "events")}, nil
}

func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if event.Type == "" {
		return errors.New("eventlog: event type is required")
	}
	attrs := []slog.Attr{
		slog.String("event", string(event.Type)),
		slog.String("conversation_id", event.ConversationID),
		slog.Time("occurred_at", event.OccurredAt),
	}
	if event.MessageID != "" {
		attrs = append(attrs, slog.String("message_id", event.MessageID))
	}
	if event.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", event.ActorID))
	}
	if event.RecipientID != "" {
		attrs = append(attrs, slog.String("recipient_id", event.RecipientID))
	}
	if event.Status != "" {
		attrs = append(attrs, slog.String("status", string(event.Status)))
	}
	p.logger.LogAttrs(ctx, slog.LevelInfo, "messaging event", attrs...)
	return nil
}
