package usecase

import (
	"context"
	"errors"

	"secure-messaging/internal/domain"
)

// SendMessage stores a new encrypted message in state sent and moves the
// conversation summary to it. Message and summary commit together.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, recipientID string, env domain.Envelope) (domain.Message, error) {
	if err := env.Validate(); err != nil {
		return domain.Message{}, validationError(err)
	}
	msg := domain.NewMessage(newMessageID(), conversationID, senderID, recipientID, env, now())

	for attempt := 0; attempt < s.settings.MaxWriteRetries; attempt++ {
		conv, err := s.store.GetConversation(ctx, conversationID)
		if err != nil {
			return domain.Message{}, storeError(err, ErrorConversationNotFound, "conversation_read_error")
		}
		if senderID == recipientID || !conv.HasParticipant(senderID) || !conv.HasParticipant(recipientID) {
			return domain.Message{}, newError(ErrorNotAParticipant, "message_parties", nil)
		}

		s.applySent(&conv, msg)
		_, err = s.store.InsertMessage(ctx, msg, conv)
		if err == nil {
			s.publishSent(ctx, msg)
			return msg, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Message{}, storeError(err, "", "message_write_error")
		}
		// An earlier attempt may have committed without us seeing the answer.
		if stored, getErr := s.store.GetMessage(ctx, msg.ID); getErr == nil {
			s.logger.DebugContext(ctx, "send already committed", "message_id", msg.ID, "attempt", attempt)
			s.publishSent(ctx, stored)
			return stored, nil
		}
		s.logger.DebugContext(ctx, "send conflict", "conversation_id", conversationID, "attempt", attempt)
	}
	return domain.Message{}, contentionError("message_write_contention")
}

func (s *Service) publishSent(ctx context.Context, msg domain.Message) {
	s.publish(ctx, domain.Event{
		Type:           domain.EventMessageSent,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		ActorID:        msg.SenderID,
		RecipientID:    msg.RecipientID,
		Status:         msg.Status,
		OccurredAt:     msg.CreatedAt,
	})
}

// GetMessage returns a message by id, including soft-deleted ones.
func (s *Service) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return domain.Message{}, storeError(err, ErrorMessageNotFound, "message_read_error")
	}
	return msg, nil
}

// AcknowledgeDelivery moves a sent message to delivered. Messages already
// delivered or read are returned unchanged.
func (s *Service) AcknowledgeDelivery(ctx context.Context, messageID string) (domain.Message, error) {
	return s.advance(ctx, messageID, domain.StatusDelivered, domain.EventMessageDelivered)
}

// AcknowledgeRead moves a message to read, backfilling the delivery time when
// no delivery acknowledgement was seen.
func (s *Service) AcknowledgeRead(ctx context.Context, messageID string) (domain.Message, error) {
	return s.advance(ctx, messageID, domain.StatusRead, domain.EventMessageRead)
}

func (s *Service) advance(ctx context.Context, messageID string, target domain.Status, eventType domain.EventType) (domain.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return domain.Message{}, storeError(err, ErrorMessageNotFound, "message_read_error")
	}
	if target.Rank() <= msg.Status.Rank() {
		return msg, nil
	}

	updated, advanced, err := s.store.AdvanceMessageStatus(ctx, msg, target, msg.TransitionTime(now()))
	if err != nil {
		return domain.Message{}, storeError(err, ErrorMessageNotFound, "message_status_write_error")
	}
	if advanced {
		s.publish(ctx, domain.Event{
			Type:           eventType,
			ConversationID: updated.ConversationID,
			MessageID:      updated.ID,
			ActorID:        updated.RecipientID,
			RecipientID:    updated.SenderID,
			Status:         updated.Status,
			OccurredAt:     updated.UpdatedAt,
		})
	}
	return updated, nil
}

// DeleteMessage soft-deletes a message on behalf of its sender. If the
// message backs the conversation summary, the summary is recomputed from the
// latest remaining message in the same commit. Deleting twice is a no-op.
func (s *Service) DeleteMessage(ctx context.Context, messageID, requesterID string) error {
	for attempt := 0; attempt < s.settings.MaxWriteRetries; attempt++ {
		msg, err := s.store.GetMessage(ctx, messageID)
		if err != nil {
			return storeError(err, ErrorMessageNotFound, "message_read_error")
		}
		if requesterID == "" || msg.SenderID != requesterID {
			return newError(ErrorForbidden, "not_message_sender", nil)
		}
		if msg.IsDeleted {
			return nil
		}

		conv, err := s.store.GetConversation(ctx, msg.ConversationID)
		if err != nil {
			return storeError(err, ErrorConversationNotFound, "conversation_read_error")
		}
		deletedAt := msg.TransitionTime(now())
		if conv.LastMessageID == msg.ID {
			latest, err := s.latestLiveMessage(ctx, conv.ID, msg.ID)
			if err != nil {
				return storeError(err, "", "summary_read_error")
			}
			s.pointSummaryAt(&conv, latest, deletedAt)
		}

		err = s.store.SoftDeleteMessage(ctx, msg, deletedAt, conv)
		if err == nil {
			s.publish(ctx, domain.Event{
				Type:           domain.EventMessageDeleted,
				ConversationID: msg.ConversationID,
				MessageID:      msg.ID,
				ActorID:        requesterID,
				RecipientID:    msg.RecipientID,
				Status:         msg.Status,
				OccurredAt:     deletedAt,
			})
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return storeError(err, "", "message_delete_error")
		}
		s.logger.DebugContext(ctx, "delete conflict", "message_id", messageID, "attempt", attempt)
	}
	return contentionError("message_delete_contention")
}

// ListMessages returns a page of a conversation's messages, oldest first
// unless q.Descending is set. Soft-deleted messages are skipped unless
// q.IncludeDeleted is set.
func (s *Service) ListMessages(ctx context.Context, conversationID string, q domain.MessageQuery) ([]domain.Message, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, storeError(err, ErrorConversationNotFound, "conversation_read_error")
	}
	q.Page = q.Page.Normalize(s.settings.DefaultPageLimit, s.settings.MaxPageLimit)
	msgs, err := s.store.ListMessages(ctx, conversationID, q)
	if err != nil {
		return nil, storeError(err, "", "message_list_error")
	}
	return msgs, nil
}
