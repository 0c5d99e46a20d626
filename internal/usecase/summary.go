package usecase

import (
	"context"
	"strings"
	"time"

	"secure-messaging/internal/domain"
)

// applySent points the summary at msg unless the conversation already shows
// a newer message.
func (s *Service) applySent(conv *domain.Conversation, msg domain.Message) {
	if conv.LastMessageAt != nil {
		current := domain.Message{ID: conv.LastMessageID, CreatedAt: *conv.LastMessageAt}
		if !msg.After(current) {
			return
		}
	}
	s.pointSummaryAt(conv, &msg, msg.CreatedAt)
}

// pointSummaryAt sets the summary from msg, or clears it when msg is nil.
func (s *Service) pointSummaryAt(conv *domain.Conversation, msg *domain.Message, at time.Time) {
	if msg == nil {
		conv.LastMessageAt = nil
		conv.LastMessagePreview = nil
		conv.LastMessageID = ""
	} else {
		createdAt := msg.CreatedAt
		preview := s.preview(msg.Metadata.PreviewHint)
		conv.LastMessageAt = &createdAt
		conv.LastMessagePreview = &preview
		conv.LastMessageID = msg.ID
	}
	if at.After(conv.UpdatedAt) {
		conv.UpdatedAt = at
	}
}

// latestLiveMessage returns the newest non-deleted message other than
// excludeID, or nil.
func (s *Service) latestLiveMessage(ctx context.Context, conversationID, excludeID string) (*domain.Message, error) {
	msgs, err := s.store.ListMessages(ctx, conversationID, domain.MessageQuery{
		Page:       domain.Page{Page: 1, Limit: 2},
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if msg.ID != excludeID {
			return &msg, nil
		}
	}
	return nil, nil
}

// preview renders the sender's display hint as a single bounded line. The
// ciphertext is never consulted.
func (s *Service) preview(hint string) string {
	hint = strings.Join(strings.Fields(hint), " ")
	if hint == "" {
		return s.settings.PreviewPlaceholder
	}
	runes := []rune(hint)
	if len(runes) > s.settings.PreviewMaxRunes {
		return string(runes[:s.settings.PreviewMaxRunes])
	}
	return hint
}
