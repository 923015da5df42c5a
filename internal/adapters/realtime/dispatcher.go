package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/parcelcast/internal/adapters/backplane"
	"github.com/okian/parcelcast/internal/adapters/mq/queue"
	"github.com/okian/parcelcast/internal/domain/event"
	"github.com/okian/parcelcast/pkg/logger"
)

const defaultBackplaneTimeout = time.Second

// Publisher is what request handlers use to emit domain events.
type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

// Dispatcher stamps domain events, delivers them to local rooms and
// forwards them to other processes.
type Dispatcher struct {
	gw      *Gateway
	timeout time.Duration
	logger  logger.Logger
}

var _ Publisher = (*Dispatcher)(nil)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBackplaneTimeout bounds each backplane publish.
func WithBackplaneTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithDispatcherLogger sets a custom logger for the dispatcher.
func WithDispatcherLogger(l logger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher publishes through gw and its backplane.
func NewDispatcher(gw *Gateway, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{gw: gw, timeout: defaultBackplaneTimeout, logger: logger.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatcher")
	return d
}

// Publish validates and stamps e, delivers it to local members of its
// target rooms and then forwards it to the backplane. Backplane failures
// are logged and never reach the caller, since local delivery already
// happened. Only malformed events return an error.
func (d *Dispatcher) Publish(ctx context.Context, e event.Event) error {
	if err := e.Validate(); err != nil {
		d.gw.metrics.EventMalformed()
		d.logger.Error(ctx, "dropping malformed event", logger.String("type", string(e.Type)), logger.Error(err))
		return err
	}

	class := event.ClassOf(e.Type)
	payload, err := encodeFrame(string(e.Type), e.Data(d.gw.now()))
	if err != nil {
		d.gw.metrics.EventMalformed()
		d.logger.Error(ctx, "dropping unencodable event", logger.String("type", string(e.Type)), logger.Error(err))
		return fmt.Errorf("%w: %w", event.ErrMalformedEvent, err)
	}
	rooms := event.Targets(e)

	d.gw.published.Add(1)
	d.gw.metrics.EventPublished(string(e.Type), string(class))
	d.gw.deliver(queue.Frame{Name: string(e.Type), Payload: payload}, e.Type, class, rooms)

	bp := d.gw.backplane
	if !bp.Shared() {
		return nil
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	env := backplane.Envelope{
		Origin: d.gw.origin,
		Type:   e.Type,
		Class:  class,
		Rooms:  rooms,
		Frame:  payload,
	}
	if err := bp.Publish(bctx, env); err != nil {
		d.gw.metrics.BackplaneError("publish")
		d.logger.Warn(ctx, "backplane publish failed",
			logger.String("type", string(e.Type)),
			logger.String("package", e.PackageID),
			logger.Error(err),
		)
	}
	return nil
}
