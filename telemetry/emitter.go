package telemetry

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akhenakh/biceplsp/protocol"
)

// Notifier sends a notification to the client.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

// Delivery tracks the outcome of a single Emit call. It completes exactly once,
// independently of the request that caused the emission.
type Delivery struct {
	event Event
	done  chan struct{}
	err   error
}

func newDelivery(ev Event) *Delivery {
	return &Delivery{event: ev, done: make(chan struct{})}
}

func (d *Delivery) finish(err error) {
	d.err = err
	close(d.done)
}

// Event returns the event carried by this delivery.
func (d *Delivery) Event() Event { return d.event }

// Done is closed once the notification was written or dropped.
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Err returns nil when the notification was written, or the reason it was
// dropped. It must only be called after Done is closed.
func (d *Delivery) Err() error { return d.err }

// Wait blocks until the delivery completes or ctx is done.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type pending struct {
	ctx      context.Context
	delivery *Delivery
}

// Emitter pushes telemetry events to the client. Each Emit produces at most one
// notification; sends happen on a single background goroutine in Emit order and
// are never retried. An Emitter is bound to one session and must be closed with it.
type Emitter struct {
	notifier    Notifier
	logger      *zap.Logger
	sessionID   string
	sendTimeout time.Duration

	mu     sync.RWMutex // guards closed and sends on queue
	closed bool
	queue  chan pending
	wg     sync.WaitGroup
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithLogger sets the emitter logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithQueueSize sets how many events may wait for delivery before new ones are dropped.
func WithQueueSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.queue = make(chan pending, n)
		}
	}
}

// WithSendTimeout bounds each notification write.
func WithSendTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.sendTimeout = d
		}
	}
}

// WithSessionID overrides the generated session identifier used in logs.
func WithSessionID(id string) Option {
	return func(e *Emitter) {
		if id != "" {
			e.sessionID = id
		}
	}
}

// NewEmitter creates an Emitter writing through n and starts its worker.
func NewEmitter(n Notifier, opts ...Option) *Emitter {
	e := &Emitter{
		notifier:    n,
		logger:      zap.NewNop(),
		sessionID:   uuid.NewString(),
		sendTimeout: 5 * time.Second,
		queue:       make(chan pending, 256),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("session", e.sessionID))

	e.wg.Add(1)
	go e.run()
	return e
}

// SessionID returns the identifier of the session this emitter belongs to.
func (e *Emitter) SessionID() string { return e.sessionID }

// Emit schedules one telemetry/event notification for ev and returns
// immediately. The returned Delivery reports the outcome.
func (e *Emitter) Emit(ctx context.Context, ev Event) *Delivery {
	d := newDelivery(ev)
	if err := ev.Validate(); err != nil {
		e.drop(ctx, d, "invalid", err)
		return d
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.drop(ctx, d, "closed", ErrChannelClosed)
		return d
	}

	select {
	case e.queue <- pending{ctx: context.WithoutCancel(ctx), delivery: d}:
	default:
		e.drop(ctx, d, "backlog", ErrBacklogFull)
	}
	return d
}

// Close stops accepting events and waits for queued ones to be written or dropped.
func (e *Emitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for p := range e.queue {
		e.deliver(p.ctx, p.delivery)
	}
}

func (e *Emitter) deliver(ctx context.Context, d *Delivery) {
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()

	start := time.Now()
	err := e.notifier.Notify(sendCtx, protocol.MethodTelemetryEvent, d.event)
	switch {
	case err == nil:
		recordEmitted(ctx, d.event.EventName, time.Since(start).Seconds())
		e.logger.Debug("telemetry event sent", zap.String("event", string(d.event.EventName)))
		d.finish(nil)
	case isClosed(err):
		e.logger.Info("telemetry channel closed, event dropped",
			zap.String("event", string(d.event.EventName)), zap.Error(err))
		recordDropped(ctx, d.event.EventName, "closed")
		d.finish(ErrChannelClosed)
	default:
		e.drop(ctx, d, "send_failed", err)
	}
}

func (e *Emitter) drop(ctx context.Context, d *Delivery, reason string, err error) {
	log := e.logger.Warn
	if errors.Is(err, ErrChannelClosed) {
		log = e.logger.Info
	}
	log("telemetry event dropped",
		zap.String("event", string(d.event.EventName)),
		zap.String("reason", reason),
		zap.Error(err))
	recordDropped(ctx, d.event.EventName, reason)
	d.finish(err)
}

func isClosed(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, ErrChannelClosed)
}
