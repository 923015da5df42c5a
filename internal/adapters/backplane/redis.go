package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/okian/parcelcast/pkg/logger"
	"github.com/okian/parcelcast/pkg/metrics"
)

// Redis fans envelopes out over a Redis pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
	log     logger.Logger

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

var _ Backplane = (*Redis)(nil)

// Option configures a Redis backplane.
type Option func(*Redis)

// WithChannel overrides DefaultChannel.
func WithChannel(name string) Option {
	return func(r *Redis) {
		if name != "" {
			r.channel = name
		}
	}
}

// WithLogger sets the logger used for undecodable messages.
func WithLogger(l logger.Logger) Option {
	return func(r *Redis) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRedis returns a backplane on client. The client is not owned: Close
// ends subscriptions but leaves the client open.
func NewRedis(client *redis.Client, opts ...Option) *Redis {
	r := &Redis{
		client:  client,
		channel: DefaultChannel,
		log:     logger.Nop(),
		subs:    make(map[*redisSubscription]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Shared() bool { return true }

func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	ps := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscribe confirmation so nothing published after this
	// call returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	sub := &redisSubscription{ps: ps, owner: r, done: make(chan struct{})}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	go sub.run(h, r.log)
	return sub, nil
}

// Close ends every subscription.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redisSubscription, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	var first error
	for _, s := range subs {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type redisSubscription struct {
	ps    *redis.PubSub
	owner *Redis
	once  sync.Once
	done  chan struct{}
}

func (s *redisSubscription) run(h Handler, log logger.Logger) {
	defer close(s.done)
	for msg := range s.ps.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			metrics.RecordBackplaneError("decode")
			log.Warn(context.Background(), "dropping undecodable envelope", logger.Error(err))
			continue
		}
		h(env)
	}
}

// Close stops delivery and waits for the handler goroutine to exit.
func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
	})
	return err
}
