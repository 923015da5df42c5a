package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type eventData struct {
	EventType string `json:"eventType"`
	PackageID string `json:"packageId"`
}

// watcher is one realtime connection joined to a single package room.
type watcher struct {
	conn      *websocket.Conn
	packageID string
	// seen counts domain events by type for the watched package.
	seen    map[string]int
	foreign int
}

func wsURL(base, path string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + path
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + path
	}
	return base + path
}

// dialWatcher connects, waits for the hello frame and joins packageID.
func dialWatcher(ctx context.Context, url, cookie, token, packageID string, timeout time.Duration) (*watcher, error) {
	d := websocket.Dialer{HandshakeTimeout: timeout}
	header := http.Header{}
	header.Add("Cookie", (&http.Cookie{Name: cookie, Value: token}).String())

	conn, _, err := d.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	w := &watcher{conn: conn, packageID: packageID, seen: make(map[string]int)}

	hello, err := w.read(time.Now().Add(timeout))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if hello.Event != "hello" {
		_ = conn.Close()
		return nil, fmt.Errorf("expected hello, got %q", hello.Event)
	}
	if err := w.send("join:package", map[string]string{"packageId": packageID}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	// A pong after the join proves the room membership is in place.
	if err := w.sync(time.Now().Add(timeout)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return w, nil
}

func (w *watcher) send(name string, data any) error {
	if err := w.conn.WriteJSON(map[string]any{"event": name, "data": data}); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

func (w *watcher) read(deadline time.Time) (frame, error) {
	var f frame
	if err := w.conn.SetReadDeadline(deadline); err != nil {
		return f, err
	}
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// sync pings and records every frame that arrives before the pong.
func (w *watcher) sync(deadline time.Time) error {
	if err := w.send("client:ping", nil); err != nil {
		return err
	}
	for {
		f, err := w.read(deadline)
		if err != nil {
			return err
		}
		switch f.Event {
		case "server:pong":
			return nil
		case "error":
			return fmt.Errorf("server error: %s", f.Data)
		}
		w.record(f)
	}
}

func (w *watcher) record(f frame) {
	var d eventData
	if err := json.Unmarshal(f.Data, &d); err != nil || d.EventType == "" {
		return
	}
	if d.PackageID != w.packageID {
		w.foreign++
		return
	}
	w.seen[d.EventType]++
}

// collect reads until want is satisfied or the deadline passes.
func (w *watcher) collect(want map[string]int, deadline time.Time) error {
	for !w.satisfied(want) {
		f, err := w.read(deadline)
		if err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			return err
		}
		w.record(f)
	}
	// Anything already queued behind the last expected event still counts.
	return w.sync(deadline.Add(time.Second))
}

func (w *watcher) satisfied(want map[string]int) bool {
	for t, n := range want {
		if w.seen[t] < n {
			return false
		}
	}
	return true
}

func (w *watcher) close() {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = w.conn.Close()
}
