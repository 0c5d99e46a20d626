package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secure-messaging/internal/domain"
)

// fakeGetter is a minimal paramstore stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	name   string
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.name = name
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func sampleEvent() domain.Event {
	return domain.Event{
		Type:           domain.EventMessageSent,
		ConversationID: "dm_1",
		MessageID:      "m1",
		ActorID:        "u1",
		RecipientID:    "u2",
		Status:         domain.StatusSent,
		OccurredAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(url, &fakeGetter{val: `{"token":"wh-test"}`}, "/secure-messaging",
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", &fakeGetter{}, "/p")
	require.ErrorContains(t, err, "url")
	_, err = NewClient("http://x", nil, "/p")
	require.ErrorContains(t, err, "nil")
	_, err = NewClient("http://x", &fakeGetter{}, " / ")
	require.ErrorContains(t, err, "prefix")
}

func TestPublish_PostsEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer wh-test", r.Header.Get("Authorization"))
		require.Equal(t, "message.sent", r.Header.Get("X-Event-Type"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		require.Equal(t, "message.sent", body["type"])
		require.Equal(t, "m1", body["messageId"])
		require.Equal(t, "u2", body["recipientId"])
		require.Equal(t, "2026-01-02T03:04:05Z", body["occurredAt"])
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv.URL).Publish(context.Background(), sampleEvent()))
}

func TestPublish_OmitsEmptyFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NotContains(t, string(raw), "messageId")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).Publish(context.Background(), domain.Event{Type: domain.EventConversationCreated, ConversationID: "dm_1"})
	require.NoError(t, err)
}

func TestPublish_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).Publish(context.Background(), sampleEvent())
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "slow down")
}

func TestPublish_NetworkError(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}
	err := c.Publish(context.Background(), sampleEvent())
	require.ErrorContains(t, err, "request failed")
}

func TestPublish_RequiresType(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	require.Error(t, c.Publish(context.Background(), domain.Event{}))
}

func TestResolveToken_FetchedOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"wh"}`, onCall: func() { calls++ }}
	c, err := NewClient("http://x", g, "/secure-messaging/")
	require.NoError(t, err)

	token, err := c.resolveToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "wh", token)
	require.Equal(t, "/secure-messaging/webhook_token", g.name)

	_, _ = c.resolveToken(context.Background())
	require.Equal(t, 1, calls)
}

func TestFetchToken(t *testing.T) {
	cases := []struct {
		name    string
		getter  Getter
		param   string
		wantErr string
	}{
		{"malformed", &fakeGetter{val: `{"broken`}, "/p/webhook_token", "unmarshal"},
		{"empty token", &fakeGetter{val: `{"other":"x"}`}, "/p/webhook_token", "token is empty"},
		{"getter error", &fakeGetter{err: errors.New("ssm unavailable")}, "/p/webhook_token", "ssm unavailable"},
		{"nil getter", nil, "/p/webhook_token", "nil"},
		{"empty name", &fakeGetter{val: `{"token":"x"}`}, " ", "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fetchTokenFromParamStore(context.Background(), tc.getter, tc.param)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}
