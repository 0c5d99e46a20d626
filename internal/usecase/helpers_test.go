package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secure-messaging/internal/domain"
	"secure-messaging/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

// Now advances by one second per call so every transition gets a distinct,
// increasing timestamp.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func useClock(t *testing.T) *fakeClock {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	prev := now
	now = clock.Now
	t.Cleanup(func() { now = prev })
	return clock
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) count(typ domain.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// faultyStore wraps a Store and injects failures per operation.
type faultyStore struct {
	Store
	getConvErr   error
	createErr    error
	insertErr    error
	insertCalls  int
	lostCommit   error
	softDelErr   error
	listMsgErr   error
	onCreate     func()
	createCalled int
}

func (f *faultyStore) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	if f.getConvErr != nil {
		return domain.Conversation{}, f.getConvErr
	}
	return f.Store.GetConversation(ctx, id)
}

func (f *faultyStore) CreateConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	f.createCalled++
	if f.onCreate != nil {
		f.onCreate()
	}
	if f.createErr != nil {
		return domain.Conversation{}, f.createErr
	}
	return f.Store.CreateConversation(ctx, conv)
}

func (f *faultyStore) InsertMessage(ctx context.Context, msg domain.Message, conv domain.Conversation) (domain.Conversation, error) {
	f.insertCalls++
	if f.insertErr != nil {
		return domain.Conversation{}, f.insertErr
	}
	if f.lostCommit != nil {
		// The write lands but the caller only sees the error.
		if _, err := f.Store.InsertMessage(ctx, msg, conv); err != nil {
			return domain.Conversation{}, err
		}
		err := f.lostCommit
		f.lostCommit = nil
		return domain.Conversation{}, err
	}
	return f.Store.InsertMessage(ctx, msg, conv)
}

func (f *faultyStore) SoftDeleteMessage(ctx context.Context, msg domain.Message, at time.Time, conv domain.Conversation) error {
	if f.softDelErr != nil {
		return f.softDelErr
	}
	return f.Store.SoftDeleteMessage(ctx, msg, at, conv)
}

func (f *faultyStore) ListMessages(ctx context.Context, id string, q domain.MessageQuery) ([]domain.Message, error) {
	if f.listMsgErr != nil {
		return nil, f.listMsgErr
	}
	return f.Store.ListMessages(ctx, id, q)
}

var errBoom = errors.New("boom")

func newTestService(t *testing.T, store Store, settings Settings) (*Service, *recordingPublisher) {
	t.Helper()
	events := &recordingPublisher{}
	svc, err := NewService(store, events, slog.New(slog.NewTextHandler(io.Discard, nil)), settings)
	require.NoError(t, err)
	return svc, events
}

func newMemoryService(t *testing.T) (*Service, *repository.Memory, *recordingPublisher) {
	t.Helper()
	useClock(t)
	store := repository.NewMemory()
	svc, events := newTestService(t, store, Settings{})
	return svc, store, events
}

func envelope(hint string) domain.Envelope {
	return domain.Envelope{
		EncryptedContent: []byte("abc"),
		IV:               []byte("xyz"),
		MessageHash:      "h1",
		Metadata:         domain.Metadata{Algorithm: "aes-256-gcm", KeyVersion: "1", PreviewHint: hint},
	}
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
	if reason != "" {
		require.Equal(t, reason, ucErr.Reason)
	}
}

func mustConversation(t *testing.T, svc *Service, x, y string) domain.Conversation {
	t.Helper()
	conv, err := svc.GetOrCreateConversation(context.Background(), x, y)
	require.NoError(t, err)
	return conv
}

func mustSend(t *testing.T, svc *Service, convID, from, to, hint string) domain.Message {
	t.Helper()
	msg, err := svc.SendMessage(context.Background(), convID, from, to, envelope(hint))
	require.NoError(t, err)
	return msg
}
