package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/parcelcast/internal/adapters/mq/queue"
	"github.com/okian/parcelcast/pkg/logger"
)

// Queue defines how pumps receive frames.
type Queue interface {
	Dequeue() <-chan queue.Frame
	Done() <-chan struct{}
}

// Writer is the connection side of a pump. Only the pump calls it, so
// implementations need not serialize writes themselves.
type Writer interface {
	WriteFrame(ctx context.Context, f queue.Frame) error
	Ping(ctx context.Context) error
}

// Worker is a long-running loop with graceful shutdown.
type Worker interface {
	// Run starts the loop until ctx is canceled or Shutdown is called.
	Run(ctx context.Context)

	// Shutdown stops the loop and waits for it to exit.
	Shutdown(ctx context.Context) error
}

// Pump writes queued frames to one connection, in queue order, and sends
// heartbeats between frames. It stops on the first write error.
type Pump struct {
	queue     Queue
	writer    Writer
	name      string
	heartbeat time.Duration
	onExit    func(err error)

	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

var _ Worker = (*Pump)(nil)

// NewPump creates a pump for q writing to w.
func NewPump(q Queue, w Writer, opts ...Option) *Pump {
	p := &Pump{
		queue:    q,
		writer:   w,
		name:     "pump",
		onExit:   func(error) {},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named(p.name)
	return p
}

// Run drains the queue until ctx ends, Shutdown is called, the queue is
// closed or a write fails. Frames still queued when the queue closes are
// flushed first.
func (p *Pump) Run(ctx context.Context) {
	var exitErr error
	defer func() {
		close(p.done)
		p.onExit(exitErr)
	}()

	var tick <-chan time.Time
	if p.heartbeat > 0 {
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	frames := p.queue.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-p.queue.Done():
			exitErr = p.flush(ctx)
			return
		case f := <-frames:
			if err := p.writer.WriteFrame(ctx, f); err != nil {
				exitErr = fmt.Errorf("write %s: %w", f.Name, err)
				p.logger.Debug(ctx, "write failed", logger.String("event", f.Name), logger.Error(err))
				return
			}
		case <-tick:
			if err := p.writer.Ping(ctx); err != nil {
				exitErr = fmt.Errorf("ping: %w", err)
				p.logger.Debug(ctx, "ping failed", logger.Error(err))
				return
			}
		}
	}
}

func (p *Pump) flush(ctx context.Context) error {
	for {
		select {
		case f := <-p.queue.Dequeue():
			if err := p.writer.WriteFrame(ctx, f); err != nil {
				return fmt.Errorf("flush %s: %w", f.Name, err)
			}
		default:
			return nil
		}
	}
}

// Shutdown stops the pump without flushing.
func (p *Pump) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.shutdown) })

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (p *Pump) Done() <-chan struct{} { return p.done }

// Pool tracks running workers so they can be stopped together.
type Pool struct {
	mu      sync.Mutex
	workers map[Worker]struct{}
	wg      sync.WaitGroup
	logger  logger.Logger
}

// NewPool creates an empty pool.
func NewPool(l logger.Logger) *Pool {
	if l == nil {
		l = logger.Nop()
	}
	return &Pool{workers: make(map[Worker]struct{}), logger: l.Named("worker-pool")}
}

// Go runs w on its own goroutine until it exits.
func (p *Pool) Go(ctx context.Context, w Worker) {
	p.mu.Lock()
	p.workers[w] = struct{}{}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.workers, w)
			p.mu.Unlock()
			p.wg.Done()
		}()
		w.Run(ctx)
	}()
}

// Len returns the number of running workers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Shutdown stops every worker and waits for all of them, or for ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	workers := make([]Worker, 0, len(p.workers))
	for w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		if err := w.Shutdown(ctx); err != nil {
			p.logger.Warn(ctx, "worker did not stop", logger.Error(err))
		}
	}

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool shutdown timed out: %w", ctx.Err())
	}
}
