package consoleclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"scholaris/console/internal/model"
	"scholaris/console/internal/notify"
)

// Channel maintains at most one live push connection process-wide and feeds
// inbound events into the in-memory notification list, newest first.
type Channel struct {
	client *Client

	mu     sync.Mutex
	conn   *websocket.Conn
	userID string
	items  []model.Notification
	unread int
}

func newChannel(client *Client) *Channel {
	return &Channel{client: client}
}

// Connect opens the push connection correlated with userID. A no-op when
// userID is empty. Calling Connect again replaces the previous connection;
// the old one is closed first so it cannot leak or double-deliver.
func (ch *Channel) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}

	query := url.Values{}
	query.Set("userId", userID)
	query.Set("token", ch.client.store.Token())
	dialURL := "ws" + strings.TrimPrefix(ch.client.baseURL, "http") +
		"/ws/notifications?" + query.Encode()
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}

	ch.mu.Lock()
	prev := ch.conn
	ch.conn = conn
	ch.userID = userID
	ch.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	go ch.readPump(conn)
	return nil
}

// Disconnect is idempotent; calling it with no live connection does nothing.
func (ch *Channel) Disconnect() {
	ch.mu.Lock()
	conn := ch.conn
	ch.conn = nil
	ch.userID = ""
	ch.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// readPump processes events strictly in receipt order. Once the connection is
// replaced or torn down, its events are discarded rather than applied.
func (ch *Channel) readPump(conn *websocket.Conn) {
	for {
		var frame struct {
			Event string             `json:"event"`
			Data  model.Notification `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			ch.mu.Lock()
			if ch.conn == conn {
				ch.conn = nil
				ch.userID = ""
			}
			ch.mu.Unlock()
			return
		}
		if frame.Event != notify.EventNotificationNew {
			continue
		}

		ch.mu.Lock()
		if ch.conn == conn {
			ch.items = append([]model.Notification{frame.Data}, ch.items...)
			ch.unread++
		}
		ch.mu.Unlock()
	}
}

func (ch *Channel) Connected() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.conn != nil
}

// Items returns a copy of the local list, newest first.
func (ch *Channel) Items() []model.Notification {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]model.Notification, len(ch.items))
	copy(out, ch.items)
	return out
}

func (ch *Channel) Unread() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.unread
}

// Seed replaces the local list with the server-side page, typically right
// after the historical fetch on load.
func (ch *Channel) Seed(items []model.Notification, unread int) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.items = append([]model.Notification(nil), items...)
	ch.unread = unread
}

// MarkAllRead optimistically flips every local item and zeroes the counter,
// then tells the server best-effort. A failed write is logged, never retried
// and never surfaced.
func (ch *Channel) MarkAllRead(ctx context.Context) {
	ch.mu.Lock()
	for i := range ch.items {
		ch.items[i].Read = true
	}
	ch.unread = 0
	ch.mu.Unlock()

	go func() {
		req, err := ch.client.NewRequest(ctx, http.MethodPost, "/api/notifications/read-all", nil)
		if err != nil {
			logf("mark all read request failed: %v", err)
			return
		}
		resp, err := ch.client.http.Do(req)
		if err != nil {
			logf("mark all read failed: %v", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			logf("mark all read failed: %v", responseError(resp))
		}
	}()
}
