package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/monitoring"
)

func startHub(t *testing.T, h *Hub) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("hub did not stop")
		}
	}
}

func dial(t *testing.T, srv *httptest.Server, mailbox string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream?mailbox=" + mailbox
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_DeliversToSubscribedMailbox(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	hub := NewHub(nil, nil, WithMetrics(metrics))
	stop := startHub(t, hub)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("mailbox"))
	}))
	defer srv.Close()

	alice := dial(t, srv, "Alice@mail.test")
	defer alice.Close()
	bob := dial(t, srv, "bob@mail.test")
	defer bob.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount("alice@mail.test") == 1 && hub.ClientCount("bob@mail.test") == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.StreamClients))

	hub.NotifyNewMail(context.Background(), domain.NewMailEvent{
		Type:             domain.EventNewMail,
		Mailbox:          "alice@mail.test",
		ID:               42,
		Subject:          "code",
		VerificationCode: "482913",
	})

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := alice.ReadMessage()
	require.NoError(t, err)
	var evt domain.NewMailEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, domain.EventNewMail, evt.Type)
	assert.Equal(t, int64(42), evt.ID)
	assert.Equal(t, "482913", evt.VerificationCode)

	bob.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = bob.ReadMessage()
	assert.Error(t, err, "其他邮箱收不到事件")

	alice.Close()
	require.Eventually(t, func() bool {
		return hub.ClientCount("alice@mail.test") == 0
	}, time.Second, 10*time.Millisecond)

	stop()
}

type fakeRelay struct {
	mu       sync.Mutex
	handlers []func([]byte)
	ready    chan struct{}
	failPub  bool
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{ready: make(chan struct{})}
}

func (f *fakeRelay) Publish(_ context.Context, payload []byte) error {
	if f.failPub {
		return errors.New("redis down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.handlers {
		h(payload)
	}
	return nil
}

func (f *fakeRelay) Subscribe(ctx context.Context, handler func([]byte)) error {
	f.mu.Lock()
	f.handlers = append(f.handlers, handler)
	f.mu.Unlock()
	close(f.ready)
	<-ctx.Done()
	return ctx.Err()
}

func registerFake(t *testing.T, h *Hub, mailbox string) *Client {
	t.Helper()
	c := &Client{ID: mailbox, Mailbox: mailbox, send: make(chan []byte, 4), hub: h}
	h.register <- c
	require.Eventually(t, func() bool { return h.ClientCount(mailbox) == 1 }, time.Second, 5*time.Millisecond)
	return c
}

func receive(t *testing.T, c *Client) domain.NewMailEvent {
	t.Helper()
	select {
	case data := <-c.send:
		var evt domain.NewMailEvent
		require.NoError(t, json.Unmarshal(data, &evt))
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	return domain.NewMailEvent{}
}

func TestHub_RelayRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	relay := newFakeRelay()
	hub := NewHub(nil, nil, WithRelay(relay))
	stop := startHub(t, hub)
	defer stop()
	<-relay.ready

	c := registerFake(t, hub, "a@mail.test")
	hub.NotifyNewMail(context.Background(), domain.NewMailEvent{Type: domain.EventNewMail, Mailbox: "A@mail.test", ID: 7})
	assert.Equal(t, int64(7), receive(t, c).ID)
}

func TestHub_RelayFailureFallsBackToLocal(t *testing.T) {
	defer goleak.VerifyNone(t)

	relay := newFakeRelay()
	relay.failPub = true
	hub := NewHub(nil, nil, WithRelay(relay))
	stop := startHub(t, hub)
	defer stop()
	<-relay.ready

	c := registerFake(t, hub, "a@mail.test")
	hub.NotifyNewMail(context.Background(), domain.NewMailEvent{Type: domain.EventNewMail, Mailbox: "a@mail.test", ID: 8})
	assert.Equal(t, int64(8), receive(t, c).ID)
}

func TestHub_MalformedRelayPayloadDropped(t *testing.T) {
	hub := NewHub(nil, nil)
	hub.enqueue([]byte("not json"))
	hub.enqueue([]byte(`{"type":"new_mail"}`))
	assert.Len(t, hub.broadcast, 0)
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"default allows all", nil, "https://evil.test", true},
		{"wildcard", []string{"*"}, "https://evil.test", true},
		{"listed", []string{"https://mail.test"}, "https://mail.test", true},
		{"not listed", []string{"https://mail.test"}, "https://evil.test", false},
		{"no origin header", []string{"https://mail.test"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpgrader(tt.allowed)
			r := httptest.NewRequest(http.MethodGet, "/stream", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, up.CheckOrigin(r))
		})
	}
}
