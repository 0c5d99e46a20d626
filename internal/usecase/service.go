package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"secure-messaging/internal/domain"
)

const (
	defaultPreviewMaxRunes    = 80
	defaultPreviewPlaceholder = "Encrypted message"
	defaultMaxWriteRetries    = 5
)

// Store is the persistence contract of the messaging core. Implementations
// must return domain.ErrNotFound for missing records and domain.ErrConflict
// when a conditional write loses (duplicate create, stale conversation
// version, message already deleted).
type Store interface {
	CreateConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	ListConversations(ctx context.Context, userID string, q domain.ConversationQuery) ([]domain.Conversation, error)
	UpdateConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error)
	InsertMessage(ctx context.Context, msg domain.Message, conv domain.Conversation) (domain.Conversation, error)
	GetMessage(ctx context.Context, messageID string) (domain.Message, error)
	AdvanceMessageStatus(ctx context.Context, msg domain.Message, target domain.Status, at time.Time) (domain.Message, bool, error)
	SoftDeleteMessage(ctx context.Context, msg domain.Message, deletedAt time.Time, conv domain.Conversation) error
	ListMessages(ctx context.Context, conversationID string, q domain.MessageQuery) ([]domain.Message, error)
}

// Publisher receives events after mutations commit.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Settings tunes summary rendering, paging and write contention handling.
// Zero values fall back to defaults.
type Settings struct {
	PreviewMaxRunes    int
	PreviewPlaceholder string
	MaxWriteRetries    int
	DefaultPageLimit   int
	MaxPageLimit       int
}

func (s Settings) withDefaults() Settings {
	if s.PreviewMaxRunes <= 0 {
		s.PreviewMaxRunes = defaultPreviewMaxRunes
	}
	if s.PreviewPlaceholder == "" {
		s.PreviewPlaceholder = defaultPreviewPlaceholder
	}
	if s.MaxWriteRetries <= 0 {
		s.MaxWriteRetries = defaultMaxWriteRetries
	}
	if s.DefaultPageLimit <= 0 {
		s.DefaultPageLimit = domain.DefaultPageLimit
	}
	if s.MaxPageLimit <= 0 {
		s.MaxPageLimit = domain.MaxPageLimit
	}
	return s
}

// Service implements conversation and message operations on top of a Store.
// It keeps no per-request state; all coordination happens through the
// store's conditional writes.
type Service struct {
	store    Store
	events   Publisher
	logger   *slog.Logger
	settings Settings
}

// NewService validates its dependencies and fills unset settings with defaults.
func NewService(store Store, events Publisher, logger *slog.Logger, settings Settings) (*Service, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if events == nil {
		return nil, errors.New("usecase: publisher must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		events:   events,
		logger:   logger,
		settings: settings.withDefaults(),
	}, nil
}

// GetOrCreateConversation returns the conversation for the pair, creating it
// on first use. Concurrent callers for the same pair all observe the record
// of whichever create committed first.
func (s *Service) GetOrCreateConversation(ctx context.Context, x, y string) (domain.Conversation, error) {
	id, err := domain.ResolveConversationID(x, y)
	if err != nil {
		return domain.Conversation{}, validationError(err)
	}

	for attempt := 0; attempt < s.settings.MaxWriteRetries; attempt++ {
		conv, err := s.store.GetConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Conversation{}, storeError(err, "", "conversation_read_error")
		}

		created, err := s.store.CreateConversation(ctx, domain.NewConversation(id, x, y, now()))
		if err == nil {
			s.publish(ctx, domain.Event{
				Type:           domain.EventConversationCreated,
				ConversationID: created.ID,
				ActorID:        x,
				RecipientID:    y,
				OccurredAt:     created.CreatedAt,
			})
			return created, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Conversation{}, storeError(err, "", "conversation_create_error")
		}
		s.logger.DebugContext(ctx, "conversation create lost race", "conversation_id", id, "attempt", attempt)
	}
	return domain.Conversation{}, contentionError("conversation_create_contention")
}

// FindConversation returns a conversation by id.
func (s *Service) FindConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, storeError(err, ErrorConversationNotFound, "conversation_read_error")
	}
	return conv, nil
}

// FindConversationByParticipants looks up the pair without creating anything.
func (s *Service) FindConversationByParticipants(ctx context.Context, x, y string) (domain.Conversation, error) {
	id, err := domain.ResolveConversationID(x, y)
	if err != nil {
		return domain.Conversation{}, validationError(err)
	}
	return s.FindConversation(ctx, id)
}

// ListConversations returns the user's conversations, most recent activity
// first. Conversations without messages follow, newest first.
func (s *Service) ListConversations(ctx context.Context, userID string, q domain.ConversationQuery) ([]domain.Conversation, error) {
	if err := domain.ValidateParticipantID(userID); err != nil {
		return nil, validationError(err)
	}
	q.Page = q.Page.Normalize(s.settings.DefaultPageLimit, s.settings.MaxPageLimit)
	convs, err := s.store.ListConversations(ctx, userID, q)
	if err != nil {
		return nil, storeError(err, "", "conversation_list_error")
	}
	return convs, nil
}

// UpdateHandshake merges handshake metadata into the conversation. Key
// references may only be recorded for the conversation's participants.
func (s *Service) UpdateHandshake(ctx context.Context, conversationID string, update domain.HandshakeUpdate) (domain.Conversation, error) {
	return s.mutateConversation(ctx, conversationID, "handshake", func(conv *domain.Conversation) (bool, error) {
		for participant := range update.PublicKeys {
			if !conv.HasParticipant(participant) {
				return false, newError(ErrorNotAParticipant, "handshake_key_owner", nil)
			}
		}
		conv.ApplyHandshake(update, now())
		return true, nil
	})
}

// DeactivateConversation hides the conversation from default listings.
// Messages stay readable.
func (s *Service) DeactivateConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	return s.mutateConversation(ctx, conversationID, "deactivate", func(conv *domain.Conversation) (bool, error) {
		if !conv.IsActive {
			return false, nil
		}
		conv.IsActive = false
		conv.UpdatedAt = now()
		return true, nil
	})
}

func (s *Service) ReactivateConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	return s.mutateConversation(ctx, conversationID, "reactivate", func(conv *domain.Conversation) (bool, error) {
		if conv.IsActive {
			return false, nil
		}
		conv.IsActive = true
		conv.UpdatedAt = now()
		return true, nil
	})
}

// mutateConversation runs a read-modify-write cycle guarded by the
// conversation version, retrying from a fresh read on conflict.
func (s *Service) mutateConversation(ctx context.Context, conversationID, op string, mutate func(*domain.Conversation) (bool, error)) (domain.Conversation, error) {
	for attempt := 0; attempt < s.settings.MaxWriteRetries; attempt++ {
		conv, err := s.store.GetConversation(ctx, conversationID)
		if err != nil {
			return domain.Conversation{}, storeError(err, ErrorConversationNotFound, "conversation_read_error")
		}
		changed, err := mutate(&conv)
		if err != nil {
			return domain.Conversation{}, err
		}
		if !changed {
			return conv, nil
		}
		updated, err := s.store.UpdateConversation(ctx, conv)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Conversation{}, storeError(err, "", op+"_write_error")
		}
		s.logger.DebugContext(ctx, "conversation write conflict", "conversation_id", conversationID, "op", op, "attempt", attempt)
	}
	return domain.Conversation{}, contentionError(op + "_contention")
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			"type", event.Type,
			"conversation_id", event.ConversationID,
			"message_id", event.MessageID,
			"err", err,
		)
	}
}

func contentionError(reason string) *Error {
	return newError(ErrorStoreUnavailable, reason, domain.ErrConflict)
}

var now = func() time.Time {
	return time.Now().UTC()
}

// newMessageID returns a time-ordered UUIDv7.
var newMessageID = func() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
