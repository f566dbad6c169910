package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"campus/internal/metrics"
)

type stubCreds struct {
	mu     sync.Mutex
	token  string
	authed bool
}

func (s *stubCreds) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *stubCreds) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

func (s *stubCreds) logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.authed = false
}

// wsFixture is a websocket test server that hands each accepted connection
// to the test over a channel.
type wsFixture struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	done  chan struct{}
	dials int64
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	f := &wsFixture{
		conns: make(chan *websocket.Conn, 4),
		done:  make(chan struct{}),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "tok" {
			t.Errorf("dial token = %q, want tok", got)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		f.conns <- conn
		// Hold the handler open; the test drives the connection.
		<-f.done
	}))
	t.Cleanup(f.srv.Close)
	t.Cleanup(func() { close(f.done) }) // unblocks handlers before srv.Close
	return f
}

func (f *wsFixture) factory(t *testing.T, creds CredentialSource, delay time.Duration) *Factory {
	t.Helper()
	return &Factory{
		Log:            slog.New(slog.DiscardHandler),
		BaseURL:        "ws://" + strings.TrimPrefix(f.srv.URL, "http://"),
		Creds:          creds,
		Metrics:        metrics.New(),
		ReconnectDelay: delay,
		Dial: func(ctx context.Context, target string) (*websocket.Conn, error) {
			atomic.AddInt64(&f.dials, 1)
			conn, resp, err := websocket.Dial(ctx, target, nil)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			return conn, err
		},
	}
}

func (f *wsFixture) dialCount() int64 { return atomic.LoadInt64(&f.dials) }

func (f *wsFixture) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("no websocket connection arrived")
		return nil
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(Event{Type: typ, Payload: raw})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestChannelDispatchesEvents(t *testing.T) {
	f := newWSFixture(t)
	creds := &stubCreds{token: "tok", authed: true}

	received := make(chan string, 4)
	fac := f.factory(t, creds, 50*time.Millisecond)
	ch := fac.Channel("notifications", "notifications/", map[string]Handler{
		"new_notification": func(payload json.RawMessage) {
			var body struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(payload, &body)
			received <- body.Message
		},
	})

	ch.Open()
	conn := f.accept(t)
	defer ch.Close()

	waitFor(t, "channel open", func() bool { return ch.State() == Open })

	sendEvent(t, conn, "new_notification", map[string]any{"message": "hello"})
	// An unknown event type is dropped without killing the read loop.
	sendEvent(t, conn, "unrelated_event", map[string]any{"x": 1})
	sendEvent(t, conn, "new_notification", map[string]any{"message": "again"})

	for _, want := range []string{"hello", "again"} {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("received %q, want %q", got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("event %q never dispatched", want)
		}
	}

	// The read loop is serial, so by the time "again" arrived both handled
	// frames and the dropped one have been counted.
	dispatched := testutil.ToFloat64(fac.Metrics.EventsTotal.WithLabelValues("notifications", "dispatched"))
	if dispatched != 2 {
		t.Fatalf("dispatched events counted = %v, want 2", dispatched)
	}
	dropped := testutil.ToFloat64(fac.Metrics.EventsTotal.WithLabelValues("notifications", "dropped"))
	if dropped != 1 {
		t.Fatalf("dropped events counted = %v, want 1", dropped)
	}
}

func TestChannelOpenIsIdempotent(t *testing.T) {
	f := newWSFixture(t)
	creds := &stubCreds{token: "tok", authed: true}

	ch := f.factory(t, creds, time.Minute).Channel("notifications", "notifications/", nil)
	ch.Open()
	f.accept(t)
	defer ch.Close()
	waitFor(t, "channel open", func() bool { return ch.State() == Open })

	ch.Open()
	ch.Open()
	time.Sleep(50 * time.Millisecond)
	if got := f.dialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
}

func TestChannelWithoutTokenStaysDown(t *testing.T) {
	f := newWSFixture(t)
	creds := &stubCreds{token: "", authed: false}

	ch := f.factory(t, creds, 50*time.Millisecond).Channel("notifications", "notifications/", nil)
	ch.Open()

	time.Sleep(100 * time.Millisecond)
	if got := f.dialCount(); got != 0 {
		t.Fatalf("dials = %d, want 0", got)
	}
	if got := ch.State(); got != Disconnected {
		t.Fatalf("state = %v, want disconnected", got)
	}
}

func TestAbnormalCloseReconnectsOnce(t *testing.T) {
	f := newWSFixture(t)
	creds := &stubCreds{token: "tok", authed: true}

	ch := f.factory(t, creds, 50*time.Millisecond).Channel("notifications", "notifications/", nil)
	ch.Open()
	defer ch.Close()

	first := f.accept(t)
	waitFor(t, "channel open", func() bool { return ch.State() == Open })

	// Kill the socket without a close frame.
	first.CloseNow()

	f.accept(t)
	waitFor(t, "channel reopen", func() bool { return ch.State() == Open })
	if got := f.dialCount(); got != 2 {
		t.Fatalf("dials = %d, want 2", got)
	}
}

func TestSecondAbnormalCloseLeavesOneTimer(t *testing.T) {
	f := newWSFixture(t)
	creds := &stubCreds{token: "tok", authed: true}

	ch := f.factory(t, creds, 150*time.Millisecond).Channel("notifications", "notifications/", nil)
	ch.Open()
	defer ch.Close()

	first := f.accept(t)
	waitFor(t, "channel open", func() bool { return ch.State() == Open })

	// First abnormal close arms the reconnect timer.
	first.CloseNow()
	waitFor(t, "channel down", func() bool { return ch.State() == Disconnected })

	// Reopen inside the delay window. Whichever side wins the race, the
	// pending timer and the manual open may produce only one socket.
	ch.Open()
	second := f.accept(t)
	waitFor(t, "channel reopen", func() bool { return ch.State() == Open })

	// Kill the new socket too: the fresh timer replaces any earlier one,
	// so exactly one further dial happens, then the channel stays put.
	second.CloseNow()
	f.accept(t)
	waitFor(t, "second reconnect", func() bool { return ch.State() == Open })
	time.Sleep(400 * time.Millisecond)
	if got := f.dialCount(); got != 3 {
		t.Fatalf("dials = %d, want 3 (one socket per close, no stacked timers)", got)
	}
}

func TestNormalClosureDoesNotReconnect(t *testing.T) {
	f := newWSFixture(t)
	creds := &stubCreds{token: "tok", authed: true}

	ch := f.factory(t, creds, 50*time.Millisecond).Channel("notifications", "notifications/", nil)
	ch.Open()

	conn := f.accept(t)
	waitFor(t, "channel open", func() bool { return ch.State() == Open })

	if err := conn.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Fatalf("server close: %v", err)
	}

	waitFor(t, "channel down", func() bool { return ch.State() == Disconnected })
	time.Sleep(200 * time.Millisecond)
	if got := f.dialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1 (no reconnect after normal closure)", got)
	}
}

func TestLogoutSuppressesReconnect(t *testing.T) {
	f := newWSFixture(t)
	creds := &stubCreds{token: "tok", authed: true}

	ch := f.factory(t, creds, 50*time.Millisecond).Channel("notifications", "notifications/", nil)
	ch.Open()

	conn := f.accept(t)
	waitFor(t, "channel open", func() bool { return ch.State() == Open })

	creds.logout()
	conn.CloseNow()

	waitFor(t, "channel down", func() bool { return ch.State() == Disconnected })
	time.Sleep(200 * time.Millisecond)
	if got := f.dialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1 (no reconnect after logout)", got)
	}
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	f := newWSFixture(t)
	creds := &stubCreds{token: "tok", authed: true}

	ch := f.factory(t, creds, 150*time.Millisecond).Channel("notifications", "notifications/", nil)
	ch.Open()

	conn := f.accept(t)
	waitFor(t, "channel open", func() bool { return ch.State() == Open })

	// Abnormal close arms the timer; an intentional Close must disarm it.
	conn.CloseNow()
	waitFor(t, "channel down", func() bool { return ch.State() == Disconnected })
	ch.Close()

	time.Sleep(400 * time.Millisecond)
	if got := f.dialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1 (reconnect fired after Close)", got)
	}
	if got := ch.State(); got != Disconnected {
		t.Fatalf("state = %v, want disconnected", got)
	}
}
