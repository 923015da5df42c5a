package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/okian/parcelcast/internal/adapters/backplane"
	"github.com/okian/parcelcast/internal/adapters/mq/queue"
	"github.com/okian/parcelcast/internal/adapters/mq/worker"
	"github.com/okian/parcelcast/internal/domain/event"
	"github.com/okian/parcelcast/pkg/logger"
	"github.com/okian/parcelcast/pkg/metrics"
)

// Stats is a point-in-time view of the gateway.
type Stats struct {
	Origin      string `json:"origin"`
	Shared      bool   `json:"shared"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Evicted     uint64 `json:"evicted"`
	Remote      uint64 `json:"remote"`
}

// Gateway accepts WebSocket connections and delivers frames to the local
// members of rooms.
type Gateway struct {
	origin          string
	namespace       string
	pingInterval    time.Duration
	idleTimeout     time.Duration
	writeTimeout    time.Duration
	outboundBuffer  int
	reliableTimeout time.Duration
	maxMessageBytes int64
	allowedOrigins  map[string]struct{}
	now             func() time.Time

	auth      *Authenticator
	backplane backplane.Backplane
	registry  *Registry
	pool      *worker.Pool
	upgrader  websocket.Upgrader
	logger    logger.Logger
	metrics   *metrics.Manager

	mu       sync.RWMutex
	sessions map[string]*Session
	sub      backplane.Subscription
	closed   bool

	// deliverMu serializes deliveries so every connection sees frames in
	// the order they were delivered.
	deliverMu sync.Mutex
	drains    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	evicted   atomic.Uint64
	remote    atomic.Uint64
}

// NewGateway creates a gateway authenticating handshakes with auth.
func NewGateway(auth *Authenticator, opts ...Option) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		origin:          uuid.NewString(),
		namespace:       defaultNamespace,
		pingInterval:    defaultPingInterval,
		idleTimeout:     defaultIdleTimeout,
		writeTimeout:    defaultWriteTimeout,
		outboundBuffer:  defaultOutboundBuffer,
		reliableTimeout: defaultReliableTimeout,
		maxMessageBytes: defaultMaxMessageBytes,
		allowedOrigins:  make(map[string]struct{}),
		now:             time.Now,
		auth:            auth,
		backplane:       backplane.Local{},
		registry:        NewRegistry(),
		logger:          logger.Nop(),
		metrics:         metrics.Default(),
		sessions:        make(map[string]*Session),
		ctx:             ctx,
		cancel:          cancel,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("gateway")
	g.pool = worker.NewPool(g.logger)
	g.upgrader = websocket.Upgrader{
		HandshakeTimeout: g.writeTimeout,
		CheckOrigin:      g.checkOrigin,
	}
	return g
}

// Origin returns the process identity stamped on backplane envelopes.
func (g *Gateway) Origin() string { return g.origin }

// Registry exposes the local membership index.
func (g *Gateway) Registry() *Registry { return g.registry }

// Start subscribes to the backplane. Envelopes this process published are
// skipped since they were already delivered locally.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrGatewayClosed
	}
	if g.sub != nil {
		return nil
	}
	sub, err := g.backplane.Subscribe(ctx, g.receive)
	if err != nil {
		g.metrics.BackplaneError("subscribe")
		return fmt.Errorf("subscribe backplane: %w", err)
	}
	g.sub = sub
	g.metrics.SetBackplaneShared(g.backplane.Shared())
	g.metrics.Refresh(g.ctx, g.namespace, g.gauges)
	g.logger.Info(ctx, "gateway started",
		logger.String("origin", g.origin),
		logger.Bool("shared", g.backplane.Shared()),
	)
	return nil
}

func (g *Gateway) receive(env backplane.Envelope) {
	if env.Origin == g.origin {
		return
	}
	g.remote.Add(1)
	g.metrics.RemoteEnvelope()
	g.deliver(queue.Frame{Name: string(env.Type), Payload: env.Frame}, env.Type, env.Class, env.Rooms)
}

// Close unsubscribes from the backplane, closes every connection and waits
// for the write pumps to stop.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	sub := g.sub
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	var errs []error
	if sub != nil {
		if err := sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscription: %w", err))
		}
	}
	for _, s := range sessions {
		s.close(CloseGoingAway, ReasonShuttingDown)
	}
	g.cancel()
	// Wait out any delivery that may still be starting a drainer.
	g.deliverMu.Lock()
	g.deliverMu.Unlock()
	g.drains.Wait()
	if err := g.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// gauges reports live connections and rooms for the metrics refresher.
func (g *Gateway) gauges() (connections, rooms int) {
	g.mu.RLock()
	connections = len(g.sessions)
	g.mu.RUnlock()
	return connections, g.registry.Len()
}

// Stats returns connection, room and delivery counters.
func (g *Gateway) Stats() Stats {
	conns, rooms := g.gauges()
	return Stats{
		Origin:      g.origin,
		Shared:      g.backplane.Shared(),
		Connections: conns,
		Rooms:       rooms,
		Published:   g.published.Load(),
		Delivered:   g.delivered.Load(),
		Dropped:     g.dropped.Load(),
		Evicted:     g.evicted.Load(),
		Remote:      g.remote.Load(),
	}
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := g.allowedOrigins["*"]; ok {
		return true
	}
	if _, ok := g.allowedOrigins[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// ServeHTTP upgrades the request and runs the connection until it closes.
// Rejected handshakes get an error frame followed by a close frame; they
// never join a room.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug(ctx, "upgrade failed", logger.Error(err))
		return
	}

	if err := g.auth.Admit(ctx, r); err != nil {
		if errors.Is(err, ErrRateLimited) {
			g.metrics.RateLimited("rt.handshake")
			g.reject(conn, CloseRateLimited, ReasonRateLimited)
			return
		}
		g.logger.Warn(ctx, "handshake limiter unavailable", logger.Error(err))
	}

	ident, err := g.auth.Authenticate(r)
	if err != nil {
		g.metrics.AuthFailure(ReasonUnauthorized)
		g.logger.Debug(ctx, "handshake rejected", logger.String("remote", r.RemoteAddr), logger.Error(err))
		g.reject(conn, CloseUnauthorized, ReasonUnauthorized)
		return
	}

	s := newSession(uuid.NewString(), ident, conn, g.outboundBuffer, g.writeTimeout)
	s.remote = r.RemoteAddr
	s.connectedAt = g.now()
	if !g.attach(s) {
		g.reject(conn, CloseGoingAway, ReasonShuttingDown)
		return
	}
	defer g.detach(s)

	pump := worker.NewPump(s.queue, s,
		worker.WithName("pump "+s.id),
		worker.WithLogger(g.logger),
		worker.WithHeartbeat(g.pingInterval),
		worker.WithExitHook(func(err error) {
			if err != nil {
				s.close(websocket.CloseAbnormalClosure, "write failed")
			}
		}),
	)
	g.pool.Go(g.ctx, pump)

	for _, room := range AutoRooms(ident) {
		g.join(s, room)
	}
	if err := s.reply(ctx, EventHello, helloData{Message: "connected"}, g.reliableTimeout); err != nil {
		return
	}

	g.logger.Debug(ctx, "connection opened",
		logger.String("conn", s.id),
		logger.String("user", ident.UserID),
		logger.String("role", string(ident.Role)),
	)
	g.readLoop(s)
}

// reject tells the client why before closing. Nothing was registered yet.
func (g *Gateway) reject(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(controlTimeout)
	if payload, err := encodeFrame(EventError, reasonData{Reason: reason}); err == nil {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

func (g *Gateway) attach(s *Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.sessions[s.id] = s
	g.metrics.ConnectionOpened(g.namespace)
	return true
}

func (g *Gateway) detach(s *Session) {
	s.close(websocket.CloseNormalClosure, "")
	// Leave rooms under the delivery lock so no in-flight delivery still
	// targets the session after it is gone.
	g.deliverMu.Lock()
	g.registry.DropConnection(s.id)
	g.deliverMu.Unlock()

	g.mu.Lock()
	delete(g.sessions, s.id)
	g.mu.Unlock()

	g.metrics.ConnectionClosed(g.namespace)
	g.metrics.SetRoomCount(g.registry.Len())
	g.logger.Debug(g.ctx, "connection closed", logger.String("conn", s.id))
}

func (g *Gateway) join(s *Session, room event.Room) {
	if g.registry.Join(s.id, room) {
		g.metrics.RoomJoined(room.Kind())
		g.metrics.SetRoomCount(g.registry.Len())
	}
}

func (g *Gateway) leave(s *Session, room event.Room) {
	if g.registry.Leave(s.id, room) {
		g.metrics.SetRoomCount(g.registry.Len())
	}
}

func (g *Gateway) readLoop(s *Session) {
	conn := s.conn
	conn.SetReadLimit(g.maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(g.idleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.idleTimeout))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				g.logger.Debug(g.ctx, "read failed", logger.String("conn", s.id), logger.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(g.idleTimeout))
		if kind != websocket.TextMessage {
			continue
		}
		if err := g.handle(s, data); err != nil {
			return
		}
	}
}

// handle processes one client frame. A non-nil error ends the connection.
func (g *Gateway) handle(s *Session, data []byte) error {
	msg, err := decodeMessage(data)
	if err != nil {
		return s.reply(g.ctx, EventError, reasonData{Reason: ReasonBadRequest}, g.reliableTimeout)
	}

	switch msg.Event {
	case EventJoinPackage, EventLeavePackage:
		id, err := packageID(msg.Data)
		if err != nil {
			return s.reply(g.ctx, EventError, reasonData{Reason: ReasonInvalidPackage}, g.reliableTimeout)
		}
		if msg.Event == EventJoinPackage {
			g.join(s, event.PackageRoom(id))
		} else {
			g.leave(s, event.PackageRoom(id))
		}
		return nil
	case EventClientPing:
		return s.reply(g.ctx, EventPong, pongData{Timestamp: g.now().UnixMilli()}, g.reliableTimeout)
	default:
		return s.reply(g.ctx, EventError, reasonData{Reason: ReasonUnknownEvent}, g.reliableTimeout)
	}
}

// deliver queues f on every local member of rooms, once per connection,
// and never waits on a connection. Best-effort frames are dropped for
// connections whose queue is full. Reliable frames are parked behind the
// queue and drained by a goroutine per connection; connections still full
// after the reliable timeout, or whose backlog is full, are evicted.
func (g *Gateway) deliver(f queue.Frame, t event.Type, class event.Class, rooms []event.Room) int {
	g.deliverMu.Lock()
	defer g.deliverMu.Unlock()

	ids := g.registry.union(rooms)
	targets := make([]*Session, 0, len(ids))
	g.mu.RLock()
	for id := range ids {
		if s, ok := g.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	g.mu.RUnlock()

	p := pending{frame: f, typ: t, deadline: time.Now().Add(g.reliableTimeout)}
	reliable := class == event.Reliable
	n := 0
	for _, s := range targets {
		res, start := s.enqueue(p, reliable, g.outboundBuffer)
		switch res {
		case enqueued:
			n++
			g.delivered.Add(1)
		case parked:
			n++
			if start {
				g.drains.Add(1)
				go g.drain(s)
			}
		case rejected:
			g.dropped.Add(1)
			g.metrics.EventDropped(string(t), "buffer_full")
		case overflowed:
			g.evict(s, t)
		}
	}

	g.metrics.FanoutRecipients(n)
	return n
}

// drain moves parked reliable frames of s into its queue in order, each
// waiting until its own deadline.
func (g *Gateway) drain(s *Session) {
	defer g.drains.Done()
	for {
		p, ok := s.head()
		if !ok {
			return
		}
		ctx, cancel := context.WithDeadline(g.ctx, p.deadline)
		err := s.queue.Put(ctx, p.frame)
		cancel()
		switch {
		case err == nil:
			s.pop()
			g.delivered.Add(1)
			continue
		case errors.Is(err, queue.ErrFull) && g.ctx.Err() == nil:
			g.evict(s, p.typ)
		}
		s.dropBacklog()
		return
	}
}

func (g *Gateway) evict(s *Session, t event.Type) {
	if !s.close(CloseSlowConsumer, ReasonSlowConsumer) {
		return
	}
	g.evicted.Add(1)
	g.metrics.EventDropped(string(t), ReasonSlowConsumer)
	g.logger.Warn(g.ctx, "evicted slow consumer",
		logger.String("conn", s.id),
		logger.String("user", s.identity.UserID),
		logger.String("event", string(t)),
	)
}

// sessionsOf lists local sessions of one user.
func (g *Gateway) sessionsOf(userID string) []*Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Session
	for _, s := range g.sessions {
		if s.identity.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

var _ http.Handler = (*Gateway)(nil)
