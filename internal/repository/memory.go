package repository

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"secure-messaging/internal/domain"
)

// Memory is an in-process store with the same conditional-write semantics as
// Client. It backs local runs and tests.
type Memory struct {
	mu            sync.Mutex
	conversations map[string]domain.Conversation
	messages      map[string]domain.Message
	byConv        map[string][]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string]domain.Message),
		byConv:        make(map[string][]string),
	}
}

func (m *Memory) CreateConversation(_ context.Context, conv domain.Conversation) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conv.ID]; ok {
		return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", domain.ErrConflict)
	}
	conv.Version = 1
	m.conversations[conv.ID] = cloneConversation(conv)
	return cloneConversation(conv), nil
}

func (m *Memory) GetConversation(_ context.Context, conversationID string) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation: %w", domain.ErrNotFound)
	}
	return cloneConversation(conv), nil
}

func (m *Memory) ListConversations(_ context.Context, userID string, q domain.ConversationQuery) ([]domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var convs []domain.Conversation
	for _, conv := range m.conversations {
		if !conv.HasParticipant(userID) || (!conv.IsActive && !q.IncludeInactive) {
			continue
		}
		convs = append(convs, cloneConversation(conv))
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].ActivityKey() > convs[j].ActivityKey()
	})
	return pageOf(convs, q.Page), nil
}

func (m *Memory) UpdateConversation(_ context.Context, conv domain.Conversation) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkVersion(conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: UpdateConversation: %w", err)
	}
	conv.Version++
	m.conversations[conv.ID] = cloneConversation(conv)
	return cloneConversation(conv), nil
}

func (m *Memory) InsertMessage(_ context.Context, msg domain.Message, conv domain.Conversation) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; ok {
		return domain.Conversation{}, fmt.Errorf("repository: InsertMessage: %w", domain.ErrConflict)
	}
	if err := m.checkVersion(conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: InsertMessage: %w", err)
	}
	conv.Version++
	m.conversations[conv.ID] = cloneConversation(conv)
	m.messages[msg.ID] = cloneMessage(msg)
	m.byConv[msg.ConversationID] = append(m.byConv[msg.ConversationID], msg.ID)
	return cloneConversation(conv), nil
}

func (m *Memory) GetMessage(_ context.Context, messageID string) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return domain.Message{}, fmt.Errorf("repository: GetMessage: %w", domain.ErrNotFound)
	}
	return cloneMessage(msg), nil
}

func (m *Memory) AdvanceMessageStatus(_ context.Context, msg domain.Message, target domain.Status, at time.Time) (domain.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.messages[msg.ID]
	if !ok {
		return domain.Message{}, false, fmt.Errorf("repository: AdvanceMessageStatus: %w", domain.ErrNotFound)
	}
	if !stored.Advance(target, at) {
		return cloneMessage(stored), false, nil
	}
	m.messages[msg.ID] = stored
	return cloneMessage(stored), true, nil
}

func (m *Memory) SoftDeleteMessage(_ context.Context, msg domain.Message, deletedAt time.Time, conv domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.messages[msg.ID]
	if !ok || stored.IsDeleted {
		return fmt.Errorf("repository: SoftDeleteMessage: %w", domain.ErrConflict)
	}
	if err := m.checkVersion(conv); err != nil {
		return fmt.Errorf("repository: SoftDeleteMessage: %w", err)
	}
	next := cloneConversation(conv)
	next.Version++
	m.conversations[next.ID] = next
	at := deletedAt
	stored.IsDeleted = true
	stored.DeletedAt = &at
	stored.UpdatedAt = at
	m.messages[msg.ID] = stored
	return nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string, q domain.MessageQuery) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var msgs []domain.Message
	for _, id := range m.byConv[conversationID] {
		msg := m.messages[id]
		if msg.IsDeleted && !q.IncludeDeleted {
			continue
		}
		msgs = append(msgs, cloneMessage(msg))
	}
	sort.Slice(msgs, func(i, j int) bool {
		if q.Descending {
			return msgs[i].After(msgs[j])
		}
		return msgs[j].After(msgs[i])
	})
	return pageOf(msgs, q.Page), nil
}

func (m *Memory) checkVersion(conv domain.Conversation) error {
	stored, ok := m.conversations[conv.ID]
	if !ok || stored.Version != conv.Version {
		return domain.ErrConflict
	}
	return nil
}

func pageOf[T any](all []T, page domain.Page) []T {
	page = page.Normalize(domain.DefaultPageLimit, domain.MaxPageLimit)
	if page.Offset() >= len(all) {
		return nil
	}
	all = all[page.Offset():]
	if len(all) > page.Limit {
		all = all[:page.Limit]
	}
	return all
}

func cloneConversation(conv domain.Conversation) domain.Conversation {
	keys := make(map[string]string, len(conv.Handshake.PublicKeys))
	for k, v := range conv.Handshake.PublicKeys {
		keys[k] = v
	}
	conv.Handshake.PublicKeys = keys
	conv.Handshake.CompletedAt = cloneTime(conv.Handshake.CompletedAt)
	conv.LastMessageAt = cloneTime(conv.LastMessageAt)
	if conv.LastMessagePreview != nil {
		p := *conv.LastMessagePreview
		conv.LastMessagePreview = &p
	}
	return conv
}

func cloneMessage(msg domain.Message) domain.Message {
	msg.EncryptedContent = bytes.Clone(msg.EncryptedContent)
	msg.IV = bytes.Clone(msg.IV)
	msg.DeliveredAt = cloneTime(msg.DeliveredAt)
	msg.ReadAt = cloneTime(msg.ReadAt)
	msg.DeletedAt = cloneTime(msg.DeletedAt)
	if msg.Metadata.File != nil {
		f := *msg.Metadata.File
		msg.Metadata.File = &f
	}
	return msg
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
