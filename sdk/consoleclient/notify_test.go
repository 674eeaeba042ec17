package consoleclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"scholaris/console/internal/model"
	"scholaris/console/internal/notify"
)

// pushServer mimics the gateway's push endpoint: one live connection per
// user, a later handshake evicting the earlier one.
type pushServer struct {
	server *httptest.Server

	mu         sync.Mutex
	conn       *websocket.Conn
	handshakes int
	readAlls   int
	lastUserID string
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	p := &pushServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/notifications", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.mu.Lock()
		prev := p.conn
		p.conn = ws
		p.handshakes++
		p.lastUserID = r.URL.Query().Get("userId")
		p.mu.Unlock()
		if prev != nil {
			_ = prev.Close()
		}
	})
	mux.HandleFunc("/api/notifications/read-all", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.readAlls++
		p.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *pushServer) push(t *testing.T, n model.Notification) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn != nil {
			if err := conn.WriteJSON(notify.Frame{Event: notify.EventNotificationNew, Data: n}); err != nil {
				t.Fatalf("push error: %v", err)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no live connection to push to")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (p *pushServer) awaitHandshakes(t *testing.T, want int) {
	t.Helper()
	waitFor(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.handshakes >= want
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition never met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChannelConnectEmptyUserIsNoop(t *testing.T) {
	client := New("http://127.0.0.1:0", nil)
	if err := client.Notifications().Connect(context.Background(), ""); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if client.Notifications().Connected() {
		t.Fatalf("expected no connection")
	}
}

func TestChannelEventArrival(t *testing.T) {
	push := newPushServer(t)
	client := New(push.server.URL, nil)
	channel := client.Notifications()

	// Two prior unread notifications from the historical fetch.
	channel.Seed([]model.Notification{
		{ID: "n2", Message: "earlier", CreatedAt: time.Now().UTC()},
		{ID: "n3", Message: "earliest", CreatedAt: time.Now().UTC()},
	}, 2)

	if err := channel.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect error: %v", err)
	}
	defer channel.Disconnect()

	push.push(t, model.Notification{ID: "n1", UserID: "u1", Message: "Fee due", CreatedAt: time.Now().UTC()})

	waitFor(t, func() bool { return channel.Unread() == 3 })
	items := channel.Items()
	if len(items) != 3 || items[0].ID != "n1" {
		t.Fatalf("expected n1 first of three, got %+v", items)
	}
}

func TestChannelConnectEscapesQueryValues(t *testing.T) {
	push := newPushServer(t)
	client := New(push.server.URL, nil)
	client.Session().Login(model.UserProfile{ID: "u 1+x"}, "tok&=1")
	channel := client.Notifications()

	if err := channel.Connect(context.Background(), "u 1+x"); err != nil {
		t.Fatalf("connect error: %v", err)
	}
	defer channel.Disconnect()

	push.awaitHandshakes(t, 1)
	push.mu.Lock()
	got := push.lastUserID
	push.mu.Unlock()
	if got != "u 1+x" {
		t.Fatalf("expected userId round-tripped, got %q", got)
	}
}

func TestChannelReconnectKeepsSingleDelivery(t *testing.T) {
	push := newPushServer(t)
	client := New(push.server.URL, nil)
	channel := client.Notifications()

	if err := channel.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("first connect error: %v", err)
	}
	if err := channel.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("second connect error: %v", err)
	}
	defer channel.Disconnect()

	push.awaitHandshakes(t, 2)
	push.push(t, model.Notification{ID: "n1", UserID: "u1", Message: "once"})

	waitFor(t, func() bool { return channel.Unread() == 1 })
	// A single pushed event lands exactly once despite the reconnect.
	time.Sleep(100 * time.Millisecond)
	if channel.Unread() != 1 || len(channel.Items()) != 1 {
		t.Fatalf("expected exactly one delivery, got unread=%d items=%d", channel.Unread(), len(channel.Items()))
	}
}

func TestChannelDisconnectIdempotent(t *testing.T) {
	push := newPushServer(t)
	client := New(push.server.URL, nil)
	channel := client.Notifications()

	if err := channel.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect error: %v", err)
	}
	channel.Disconnect()
	if channel.Connected() {
		t.Fatalf("expected disconnected")
	}
	channel.Disconnect()
	if channel.Connected() {
		t.Fatalf("expected disconnected after second call")
	}
}

func TestChannelMarkAllRead(t *testing.T) {
	push := newPushServer(t)
	client := New(push.server.URL, nil)
	channel := client.Notifications()

	channel.Seed([]model.Notification{
		{ID: "n1", Message: "a"},
		{ID: "n2", Message: "b"},
	}, 2)

	channel.MarkAllRead(context.Background())
	if channel.Unread() != 0 {
		t.Fatalf("expected unread 0, got %d", channel.Unread())
	}
	for _, n := range channel.Items() {
		if !n.Read {
			t.Fatalf("expected every local item read")
		}
	}
	waitFor(t, func() bool {
		push.mu.Lock()
		defer push.mu.Unlock()
		return push.readAlls == 1
	})

	// Zero unread items: same terminal state.
	channel.MarkAllRead(context.Background())
	if channel.Unread() != 0 {
		t.Fatalf("expected unread to stay 0")
	}
}

func TestChannelMarkAllReadSurvivesServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, nil)
	channel := client.Notifications()
	channel.Seed([]model.Notification{{ID: "n1", Message: "a"}}, 1)

	channel.MarkAllRead(context.Background())
	if channel.Unread() != 0 {
		t.Fatalf("expected optimistic flip despite server failure")
	}
	if !channel.Items()[0].Read {
		t.Fatalf("expected item flipped locally")
	}
}

func TestLogoutDisconnectsChannel(t *testing.T) {
	push := newPushServer(t)
	client := New(push.server.URL, nil)
	client.Session().Login(model.UserProfile{ID: "u1", Role: model.RoleParent}, "tok-1")

	if err := client.Notifications().Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect error: %v", err)
	}
	client.Logout(context.Background())
	if client.Notifications().Connected() {
		t.Fatalf("expected channel closed by logout")
	}
}
