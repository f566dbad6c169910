package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus/internal/api"
	"campus/internal/metrics"
	"campus/internal/realtime"
)

type tokens struct{}

func (tokens) AccessToken() string         { return "tok" }
func (tokens) RefreshToken() string        { return "ref" }
func (tokens) SetTokens(_, _ string) error { return nil }

// offlineCreds keeps test channels from dialing: no token, no reconnects.
type offlineCreds struct{}

func (offlineCreds) AccessToken() string { return "" }
func (offlineCreds) Authenticated() bool { return false }

func newStore(t *testing.T, backend http.Handler) *Store {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	log := slog.New(slog.DiscardHandler)
	client := api.NewClient(api.Config{
		BaseURL: srv.URL,
		Tokens:  tokens{},
		Logger:  log,
		Metrics: metrics.New(),
		Timeout: 5 * time.Second,
	})
	factory := &realtime.Factory{
		Log:     log,
		BaseURL: "ws://127.0.0.1:1/ws",
		Creds:   offlineCreds{},
		Metrics: metrics.New(),
	}
	return New(log, client, factory)
}

func respond(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
}

func msg(id, chatID int64, at time.Time) api.Message {
	return api.Message{ID: id, ChatID: chatID, Content: "m", Timestamp: at}
}

func TestFetchChatsSortsByLastActivity(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	older := msg(1, 1, now.Add(-2*time.Hour))
	newer := msg(2, 2, now.Add(-time.Minute))

	mux := http.NewServeMux()
	mux.HandleFunc("/api/messaging/chats/", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, http.StatusOK, []api.Chat{
			{ID: 1, ChatType: api.ChatDirect, LastMessage: &older},
			{ID: 3, ChatType: api.ChatGroup, CreatedAt: now.Add(-3 * time.Hour)}, // no messages yet
			{ID: 2, ChatType: api.ChatDirect, LastMessage: &newer},
		})
	})

	s := newStore(t, mux)
	require.NoError(t, s.FetchChats(context.Background()))

	chats := s.Chats()
	require.Len(t, chats, 3)
	assert.Equal(t, int64(2), chats[0].ID)
	assert.Equal(t, int64(1), chats[1].ID)
	assert.Equal(t, int64(3), chats[2].ID)
}

func TestSetActiveChatLoadsHistoryAndMarksRead(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	var markReads int64

	mux := http.NewServeMux()
	mux.HandleFunc("/api/messaging/chats/", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, http.StatusOK, []api.Chat{{ID: 1, UnreadCount: 4}})
	})
	mux.HandleFunc("/api/messaging/chats/1/messages/", func(w http.ResponseWriter, r *http.Request) {
		// Served out of order; the store sorts ascending.
		respond(t, w, http.StatusOK, []api.Message{
			msg(12, 1, now.Add(-time.Minute)),
			msg(10, 1, now.Add(-time.Hour)),
			msg(11, 1, now.Add(-30*time.Minute)),
		})
	})
	mux.HandleFunc("/api/messaging/chats/1/mark_read/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&markReads, 1)
		respond(t, w, http.StatusOK, nil)
	})

	s := newStore(t, mux)
	require.NoError(t, s.FetchChats(context.Background()))
	require.NoError(t, s.SetActiveChat(context.Background(), 1))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(10), msgs[0].ID)
	assert.Equal(t, int64(11), msgs[1].ID)
	assert.Equal(t, int64(12), msgs[2].ID)

	assert.EqualValues(t, 1, atomic.LoadInt64(&markReads))
	assert.Equal(t, 0, s.Chats()[0].UnreadCount)

	// Re-selecting the active chat is a no-op.
	require.NoError(t, s.SetActiveChat(context.Background(), 1))
	assert.EqualValues(t, 1, atomic.LoadInt64(&markReads))
}

func TestInboundMessageToActiveChat(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	var markReads int64

	mux := http.NewServeMux()
	mux.HandleFunc("/api/messaging/chats/", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, http.StatusOK, []api.Chat{{ID: 1}})
	})
	mux.HandleFunc("/api/messaging/chats/1/messages/", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, http.StatusOK, []api.Message{msg(10, 1, now.Add(-time.Hour))})
	})
	mux.HandleFunc("/api/messaging/chats/1/mark_read/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&markReads, 1)
		respond(t, w, http.StatusOK, nil)
	})

	s := newStore(t, mux)
	require.NoError(t, s.FetchChats(context.Background()))
	require.NoError(t, s.SetActiveChat(context.Background(), 1))

	inbound := msg(11, 1, now)
	payload, _ := json.Marshal(inbound)
	s.handleInbound(payload)
	// The same frame a second time must not duplicate the message.
	s.handleInbound(payload)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(11), msgs[1].ID)

	chats := s.Chats()
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, int64(11), chats[0].LastMessage.ID)
	assert.Equal(t, 0, chats[0].UnreadCount, "active chat stays read")

	// Inbound messages to the open chat are marked read asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&markReads) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, atomic.LoadInt64(&markReads), int64(2))
}

func TestInboundMessageToOtherChatBumpsUnread(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/messaging/chats/", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, http.StatusOK, []api.Chat{
			{ID: 1, LastMessage: &api.Message{ID: 5, ChatID: 1, Timestamp: now.Add(-time.Minute)}},
			{ID: 2, UnreadCount: 1, LastMessage: &api.Message{ID: 6, ChatID: 2, Timestamp: now.Add(-time.Hour)}},
		})
	})
	mux.HandleFunc("/api/messaging/chats/1/messages/", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, http.StatusOK, []api.Message{})
	})
	mux.HandleFunc("/api/messaging/chats/1/mark_read/", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, http.StatusOK, nil)
	})

	s := newStore(t, mux)
	require.NoError(t, s.FetchChats(context.Background()))
	require.NoError(t, s.SetActiveChat(context.Background(), 1))

	payload, _ := json.Marshal(msg(7, 2, now))
	s.handleInbound(payload)

	// Chat 2 moved to the top with its counter bumped; nothing landed in the
	// active chat's message list.
	chats := s.Chats()
	assert.Equal(t, int64(2), chats[0].ID)
	assert.Equal(t, 2, chats[0].UnreadCount)
	assert.Empty(t, s.Messages())
	assert.Equal(t, int64(1), s.ActiveChatID())
}

func TestSendMessageCarriesClientID(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/messaging/chats/", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, http.StatusOK, []api.Chat{{ID: 1}})
	})
	mux.HandleFunc("/api/messaging/chats/1/mark_read/", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, http.StatusOK, nil)
	})
	mux.HandleFunc("/api/messaging/chats/1/messages/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			respond(t, w, http.StatusOK, []api.Message{})
			return
		}
		var req api.MessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, int64(1), req.Chat)
		_, err := ulid.Parse(req.ClientMsgID)
		require.NoError(t, err, "client_msg_id must be a ULID")
		respond(t, w, http.StatusCreated, api.Message{ID: 42, ChatID: 1, Content: req.Content, Timestamp: now})
	})

	s := newStore(t, mux)
	require.NoError(t, s.FetchChats(context.Background()))
	require.NoError(t, s.SetActiveChat(context.Background(), 1))

	require.NoError(t, s.SendMessage(context.Background(), "hi"))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(42), msgs[0].ID)

	chats := s.Chats()
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, int64(42), chats[0].LastMessage.ID)
}
