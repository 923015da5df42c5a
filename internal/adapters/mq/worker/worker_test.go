package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/parcelcast/internal/adapters/mq/queue"
	worker "github.com/okian/parcelcast/internal/adapters/mq/worker"
	"github.com/smartystreets/goconvey/convey"
)

type mockWriter struct {
	mu      sync.Mutex
	written []string
	pings   int
	failOn  string
	delay   time.Duration
}

func (m *mockWriter) WriteFrame(_ context.Context, f queue.Frame) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.Name == m.failOn {
		return errors.New("broken pipe")
	}
	m.written = append(m.written, f.Name)
	return nil
}

func (m *mockWriter) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return nil
}

func (m *mockWriter) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.written...)
}

func (m *mockWriter) pingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

func waitDone(p *worker.Pump) bool {
	select {
	case <-p.Done():
		return true
	case <-time.After(time.Second):
		return false
	}
}

func TestPump(t *testing.T) {
	convey.Convey("Given a pump over an outbound queue", t, func() {
		q := queue.NewInMemoryQueue(testCapacity())
		w := &mockWriter{}
		exits := make(chan error, 1)
		p := worker.NewPump(q, w,
			worker.WithName("conn-1"),
			worker.WithExitHook(func(err error) { exits <- err }),
		)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go p.Run(ctx)

		convey.Convey("When frames are queued", func() {
			for _, name := range []string{"hello", "package.created", "scan.applied"} {
				convey.So(q.Offer(queue.Frame{Name: name}), convey.ShouldBeTrue)
			}

			convey.Convey("Then they are written in order", func() {
				time.Sleep(50 * time.Millisecond)
				convey.So(w.names(), convey.ShouldResemble, []string{"hello", "package.created", "scan.applied"})
			})
		})

		convey.Convey("When a write fails", func() {
			w.failOn = "bad"
			_ = q.Offer(queue.Frame{Name: "bad"})

			convey.Convey("Then the pump stops and reports the error", func() {
				convey.So(waitDone(p), convey.ShouldBeTrue)
				convey.So(<-exits, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the queue is closed with frames pending", func() {
			w.delay = 5 * time.Millisecond
			_ = q.Offer(queue.Frame{Name: "a"})
			_ = q.Offer(queue.Frame{Name: "b"})
			_ = q.Close()

			convey.Convey("Then pending frames are flushed before exit", func() {
				convey.So(waitDone(p), convey.ShouldBeTrue)
				convey.So(<-exits, convey.ShouldBeNil)
				convey.So(w.names(), convey.ShouldResemble, []string{"a", "b"})
			})
		})

		convey.Convey("When shut down", func() {
			err := p.Shutdown(context.Background())

			convey.Convey("Then it exits cleanly", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(<-exits, convey.ShouldBeNil)
				convey.So(p.Shutdown(context.Background()), convey.ShouldBeNil)
			})
		})
	})
}

func testCapacity() queue.Option { return queue.WithCapacity(8) }

func TestPumpHeartbeat(t *testing.T) {
	convey.Convey("Given a pump with a short heartbeat", t, func() {
		q := queue.NewInMemoryQueue()
		w := &mockWriter{}
		p := worker.NewPump(q, w, worker.WithHeartbeat(10*time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())
		go p.Run(ctx)

		time.Sleep(55 * time.Millisecond)
		cancel()
		convey.So(waitDone(p), convey.ShouldBeTrue)

		convey.Convey("Then it pings while idle", func() {
			convey.So(w.pingCount(), convey.ShouldBeGreaterThanOrEqualTo, 3)
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of pumps", t, func() {
		pool := worker.NewPool(nil)
		ctx := context.Background()
		queues := make([]*queue.InMemoryQueue, 3)
		for i := range queues {
			queues[i] = queue.NewInMemoryQueue()
			pool.Go(ctx, worker.NewPump(queues[i], &mockWriter{}))
		}

		convey.Convey("Then it tracks running pumps", func() {
			time.Sleep(10 * time.Millisecond)
			convey.So(pool.Len(), convey.ShouldEqual, 3)
		})

		convey.Convey("When one queue closes", func() {
			_ = queues[0].Close()
			time.Sleep(20 * time.Millisecond)
			convey.So(pool.Len(), convey.ShouldEqual, 2)
		})

		convey.Convey("When the pool shuts down", func() {
			sctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			convey.So(pool.Shutdown(sctx), convey.ShouldBeNil)
			convey.So(pool.Len(), convey.ShouldEqual, 0)
		})
	})
}
