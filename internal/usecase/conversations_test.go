package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"secure-messaging/internal/domain"
	"secure-messaging/internal/repository"
)

func TestNewService_ValidatesDependencies(t *testing.T) {
	_, err := NewService(nil, &recordingPublisher{}, nil, Settings{})
	require.Error(t, err)

	_, err = NewService(repository.NewMemory(), nil, nil, Settings{})
	require.Error(t, err)

	svc, err := NewService(repository.NewMemory(), &recordingPublisher{}, nil, Settings{})
	require.NoError(t, err)
	require.Equal(t, defaultPreviewMaxRunes, svc.settings.PreviewMaxRunes)
	require.Equal(t, defaultPreviewPlaceholder, svc.settings.PreviewPlaceholder)
}

func TestGetOrCreateConversation_CreatesOnce(t *testing.T) {
	svc, _, events := newMemoryService(t)
	ctx := context.Background()

	first, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	require.True(t, first.IsActive)
	require.Nil(t, first.LastMessageAt)
	require.Nil(t, first.LastMessagePreview)
	require.False(t, first.Handshake.KeyExchangeCompleted)
	require.ElementsMatch(t, []string{"u1", "u2"}, first.Participants())

	second, err := svc.GetOrCreateConversation(ctx, "u2", "u1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, events.count(domain.EventConversationCreated))

	id, err := domain.ResolveConversationID("u2", "u1")
	require.NoError(t, err)
	require.Equal(t, id, first.ID)
}

func TestGetOrCreateConversation_InvalidParticipants(t *testing.T) {
	svc, _, _ := newMemoryService(t)

	_, err := svc.GetOrCreateConversation(context.Background(), "u1", "u1")
	expectError(t, err, ErrorInvalidParticipants, "self_conversation")
	require.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = svc.GetOrCreateConversation(context.Background(), "", "u1")
	expectError(t, err, ErrorInvalidParticipants, "empty_participant")
}

func TestGetOrCreateConversation_ConcurrentCallersShareOneRecord(t *testing.T) {
	svc, store, events := newMemoryService(t)
	const n = 32

	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := "u1", "u2"
			if i%2 == 1 {
				x, y = y, x
			}
			conv, err := svc.GetOrCreateConversation(context.Background(), x, y)
			ids[i], errs[i] = conv.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}
	convs, err := store.ListConversations(context.Background(), "u1", domain.ConversationQuery{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, 1, events.count(domain.EventConversationCreated))
}

func TestGetOrCreateConversation_LoserFetchesWinner(t *testing.T) {
	useClock(t)
	mem := repository.NewMemory()
	store := &faultyStore{Store: mem}
	id, err := domain.ResolveConversationID("u1", "u2")
	require.NoError(t, err)
	winner := domain.NewConversation(id, "u1", "u2", now())
	store.onCreate = func() {
		// Another caller commits between our read and our create.
		if store.createCalled == 1 {
			_, err := mem.CreateConversation(context.Background(), winner)
			require.NoError(t, err)
		}
	}
	svc, events := newTestService(t, store, Settings{})

	conv, err := svc.GetOrCreateConversation(context.Background(), "u2", "u1")
	require.NoError(t, err)
	require.Equal(t, winner.ID, conv.ID)
	require.True(t, winner.CreatedAt.Equal(conv.CreatedAt))
	require.Equal(t, 1, store.createCalled)
	require.Equal(t, 0, events.count(domain.EventConversationCreated))
}

func TestGetOrCreateConversation_StoreUnavailable(t *testing.T) {
	useClock(t)
	svc, _ := newTestService(t, &faultyStore{Store: repository.NewMemory(), getConvErr: errBoom}, Settings{})

	_, err := svc.GetOrCreateConversation(context.Background(), "u1", "u2")
	expectError(t, err, ErrorStoreUnavailable, "conversation_read_error")
	require.ErrorIs(t, err, errBoom)

	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.True(t, ucErr.Retryable())
}

func TestGetOrCreateConversation_PersistentConflictGivesUp(t *testing.T) {
	useClock(t)
	store := &faultyStore{Store: repository.NewMemory(), createErr: fmt.Errorf("wrapped: %w", domain.ErrConflict)}
	svc, _ := newTestService(t, store, Settings{MaxWriteRetries: 3})

	_, err := svc.GetOrCreateConversation(context.Background(), "u1", "u2")
	expectError(t, err, ErrorStoreUnavailable, "conversation_create_contention")
	require.Equal(t, 3, store.createCalled)
}

func TestFindConversation(t *testing.T) {
	svc, _, _ := newMemoryService(t)
	conv := mustConversation(t, svc, "u1", "u2")

	got, err := svc.FindConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, conv.ID, got.ID)

	got, err = svc.FindConversationByParticipants(context.Background(), "u2", "u1")
	require.NoError(t, err)
	require.Equal(t, conv.ID, got.ID)

	_, err = svc.FindConversation(context.Background(), "dm_missing")
	expectError(t, err, ErrorConversationNotFound, "")
	require.ErrorIs(t, err, ErrConversationNotFound)

	_, err = svc.FindConversationByParticipants(context.Background(), "u1", "u3")
	expectError(t, err, ErrorConversationNotFound, "")
}

func TestListConversations_OrderedByActivity(t *testing.T) {
	svc, _, _ := newMemoryService(t)
	quietOld := mustConversation(t, svc, "u1", "u2")
	busy := mustConversation(t, svc, "u1", "u3")
	quietNew := mustConversation(t, svc, "u1", "u4")
	latest := mustConversation(t, svc, "u5", "u1")
	mustConversation(t, svc, "u6", "u7")

	mustSend(t, svc, busy.ID, "u1", "u3", "hello")
	mustSend(t, svc, latest.ID, "u5", "u1", "hi")

	convs, err := svc.ListConversations(context.Background(), "u1", domain.ConversationQuery{})
	require.NoError(t, err)
	var got []string
	for _, c := range convs {
		got = append(got, c.ID)
	}
	require.Equal(t, []string{latest.ID, busy.ID, quietNew.ID, quietOld.ID}, got)

	page2, err := svc.ListConversations(context.Background(), "u1", domain.ConversationQuery{Page: domain.Page{Page: 2, Limit: 3}})
	require.NoError(t, err)
	require.Len(t, page2, 1)
	require.Equal(t, quietOld.ID, page2[0].ID)
}

func TestListConversations_InvalidUser(t *testing.T) {
	svc, _, _ := newMemoryService(t)
	_, err := svc.ListConversations(context.Background(), "", domain.ConversationQuery{})
	expectError(t, err, ErrorInvalidParticipants, "empty_participant")
}

func TestDeactivateConversation(t *testing.T) {
	svc, _, _ := newMemoryService(t)
	conv := mustConversation(t, svc, "u1", "u2")
	msg := mustSend(t, svc, conv.ID, "u1", "u2", "hello")

	deactivated, err := svc.DeactivateConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.False(t, deactivated.IsActive)

	again, err := svc.DeactivateConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, deactivated.Version, again.Version)

	active, err := svc.ListConversations(context.Background(), "u1", domain.ConversationQuery{})
	require.NoError(t, err)
	require.Empty(t, active)

	all, err := svc.ListConversations(context.Background(), "u1", domain.ConversationQuery{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, all, 1)

	msgs, err := svc.ListMessages(context.Background(), conv.ID, domain.MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, msg.ID, msgs[0].ID)

	fetched, err := svc.GetOrCreateConversation(context.Background(), "u2", "u1")
	require.NoError(t, err)
	require.False(t, fetched.IsActive)

	reactivated, err := svc.ReactivateConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.True(t, reactivated.IsActive)

	_, err = svc.DeactivateConversation(context.Background(), "dm_missing")
	expectError(t, err, ErrorConversationNotFound, "")
}

func TestUpdateHandshake(t *testing.T) {
	svc, _, _ := newMemoryService(t)
	conv := mustConversation(t, svc, "u1", "u2")
	alg := "x25519-xsalsa20-poly1305"
	done := true

	updated, err := svc.UpdateHandshake(context.Background(), conv.ID, domain.HandshakeUpdate{
		PublicKeys: map[string]string{"u1": "kref-1"},
		Algorithm:  &alg,
	})
	require.NoError(t, err)
	require.Equal(t, "kref-1", updated.Handshake.PublicKeys["u1"])
	require.False(t, updated.Handshake.KeyExchangeCompleted)

	updated, err = svc.UpdateHandshake(context.Background(), conv.ID, domain.HandshakeUpdate{
		PublicKeys:           map[string]string{"u2": "kref-2"},
		KeyExchangeCompleted: &done,
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"u1": "kref-1", "u2": "kref-2"}, updated.Handshake.PublicKeys)
	require.Equal(t, alg, updated.Handshake.Algorithm)
	require.True(t, updated.Handshake.KeyExchangeCompleted)
	require.NotNil(t, updated.Handshake.CompletedAt)

	_, err = svc.UpdateHandshake(context.Background(), conv.ID, domain.HandshakeUpdate{PublicKeys: map[string]string{"u9": "k"}})
	expectError(t, err, ErrorNotAParticipant, "handshake_key_owner")

	_, err = svc.UpdateHandshake(context.Background(), "dm_missing", domain.HandshakeUpdate{Algorithm: &alg})
	expectError(t, err, ErrorConversationNotFound, "")
}

// racingStore commits a competing conversation write just before the first
// UpdateConversation call.
type racingStore struct {
	Store
	raced bool
	calls int
}

func (r *racingStore) UpdateConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	r.calls++
	if !r.raced {
		r.raced = true
		current, err := r.Store.GetConversation(ctx, conv.ID)
		if err != nil {
			return domain.Conversation{}, err
		}
		if _, err := r.Store.UpdateConversation(ctx, current); err != nil {
			return domain.Conversation{}, err
		}
	}
	return r.Store.UpdateConversation(ctx, conv)
}

func TestUpdateHandshake_RetriesOnStaleVersion(t *testing.T) {
	useClock(t)
	store := &racingStore{Store: repository.NewMemory()}
	svc, _ := newTestService(t, store, Settings{})
	conv := mustConversation(t, svc, "u1", "u2")

	alg := "aes"
	updated, err := svc.UpdateHandshake(context.Background(), conv.ID, domain.HandshakeUpdate{Algorithm: &alg})
	require.NoError(t, err)
	require.Equal(t, 2, store.calls)
	require.Equal(t, conv.Version+2, updated.Version)
	require.Equal(t, alg, updated.Handshake.Algorithm)
}
