package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/parcelcast/internal/adapters/mq/queue"
	"github.com/okian/parcelcast/internal/adapters/mq/worker"
	"github.com/okian/parcelcast/internal/domain/event"
	"github.com/okian/parcelcast/internal/domain/identity"
)

// enqueueResult says what happened to a frame handed to a session.
type enqueueResult int

const (
	enqueued enqueueResult = iota
	parked
	rejected
	overflowed
	gone
)

// pending is a reliable frame waiting for queue room.
type pending struct {
	frame    queue.Frame
	typ      event.Type
	deadline time.Time
}

// Session is one authenticated connection. Frames reach the socket only
// through its outbound queue and write pump.
type Session struct {
	id          string
	identity    identity.Identity
	remote      string
	connectedAt time.Time

	conn         *websocket.Conn
	queue        *queue.InMemoryQueue
	writeTimeout time.Duration

	// backlog holds reliable frames that found the queue full, oldest
	// first. While it is non-empty every new frame goes behind it.
	backlogMu sync.Mutex
	backlog   []pending
	draining  bool

	closeOnce sync.Once
	closed    chan struct{}
}

var _ worker.Writer = (*Session)(nil)

func newSession(id string, ident identity.Identity, conn *websocket.Conn, capacity int, writeTimeout time.Duration) *Session {
	return &Session{
		id:           id,
		identity:     ident,
		conn:         conn,
		queue:        queue.NewInMemoryQueue(queue.WithCapacity(capacity), queue.WithName("session "+id)),
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// Identity returns the authenticated user.
func (s *Session) Identity() identity.Identity { return s.identity }

// WriteFrame writes one text frame. Called by the pump only.
func (s *Session) WriteFrame(_ context.Context, f queue.Frame) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, f.Payload)
}

// Ping sends a control ping.
func (s *Session) Ping(context.Context) error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// Closed is closed once the session starts closing.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// close stops the outbound queue at once and tears the socket down on its
// own goroutine so callers holding delivery locks never wait on the network.
// It reports whether this call closed the session.
func (s *Session) close(code int, reason string) bool {
	first := false
	s.closeOnce.Do(func() {
		first = true
		_ = s.queue.Close()
		close(s.closed)
		if s.conn == nil {
			return
		}
		go func() {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout))
			_ = s.conn.Close()
		}()
	})
	return first
}

// enqueue hands f to the session without waiting. Reliable frames that
// find the queue full are parked in the backlog, up to limit frames; start
// reports that the caller must run a drainer for them.
func (s *Session) enqueue(p pending, reliable bool, limit int) (res enqueueResult, start bool) {
	s.backlogMu.Lock()
	defer s.backlogMu.Unlock()
	if s.queue.IsClosed() {
		return gone, false
	}
	if len(s.backlog) == 0 && s.queue.Offer(p.frame) {
		return enqueued, false
	}
	switch {
	case s.queue.IsClosed():
		return gone, false
	case !reliable:
		return rejected, false
	case len(s.backlog) >= limit:
		return overflowed, false
	}
	s.backlog = append(s.backlog, p)
	if s.draining {
		return parked, false
	}
	s.draining = true
	return parked, true
}

// head returns the oldest parked frame. An empty backlog ends the drainer.
func (s *Session) head() (pending, bool) {
	s.backlogMu.Lock()
	defer s.backlogMu.Unlock()
	if len(s.backlog) == 0 {
		s.draining = false
		return pending{}, false
	}
	return s.backlog[0], true
}

// pop removes the frame head returned, after it reached the queue.
func (s *Session) pop() {
	s.backlogMu.Lock()
	defer s.backlogMu.Unlock()
	s.backlog[0] = pending{}
	s.backlog = s.backlog[1:]
}

func (s *Session) dropBacklog() {
	s.backlogMu.Lock()
	defer s.backlogMu.Unlock()
	s.backlog = nil
	s.draining = false
}

// reply queues a direct response, waiting up to timeout for room.
func (s *Session) reply(ctx context.Context, name string, data any, timeout time.Duration) error {
	payload, err := encodeFrame(name, data)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err = s.queue.Put(ctx, queue.Frame{Name: name, Payload: payload})
	if errors.Is(err, queue.ErrFull) {
		s.close(CloseSlowConsumer, ReasonSlowConsumer)
	}
	return err
}
