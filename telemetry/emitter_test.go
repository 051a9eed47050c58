package telemetry

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/akhenakh/biceplsp/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingNotifier struct {
	mu      sync.Mutex
	methods []string
	events  []Event
	err     error
	block   chan struct{}
}

func (n *recordingNotifier) Notify(ctx context.Context, method string, params any) error {
	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.methods = append(n.methods, method)
	n.events = append(n.events, params.(Event))
	return nil
}

func (n *recordingNotifier) sent() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

func waitDelivery(t *testing.T, d *Delivery) error {
	t.Helper()
	select {
	case <-d.Done():
		return d.Err()
	case <-time.After(2 * time.Second):
		t.Fatal("delivery did not complete")
		return nil
	}
}

var eventComparer = cmp.Comparer(func(a, b Event) bool { return a.Equal(b) })

func TestEmitterSendsExactlyOnce(t *testing.T) {
	n := &recordingNotifier{}
	e := NewEmitter(n)
	defer e.Close()

	ev := NewEvent(TopLevelDeclarationSnippetInsertion, PropertyName, "res-aks-cluster")
	require.NoError(t, waitDelivery(t, e.Emit(context.Background(), ev)))

	assert.Empty(t, cmp.Diff([]Event{ev}, n.sent(), eventComparer))
	assert.Equal(t, []string{protocol.MethodTelemetryEvent}, n.methods)
}

func TestEmitterPreservesOrder(t *testing.T) {
	n := &recordingNotifier{}
	e := NewEmitter(n)

	var want []Event
	var last *Delivery
	for _, label := range []string{"a", "b", "c", "d"} {
		ev := NewEvent(ObjectBodySnippetInsertion, PropertyName, label)
		want = append(want, ev)
		last = e.Emit(context.Background(), ev)
	}
	require.NoError(t, waitDelivery(t, last))
	require.NoError(t, e.Close())

	assert.Empty(t, cmp.Diff(want, n.sent(), eventComparer))
}

func TestEmitterIgnoresRequestCancellation(t *testing.T) {
	n := &recordingNotifier{}
	e := NewEmitter(n)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := e.Emit(ctx, NewEvent(ModuleBodySnippetInsertion, PropertyName, "{}"))
	cancel()

	require.NoError(t, waitDelivery(t, d))
	assert.Len(t, n.sent(), 1)
}

func TestEmitterDropsOnClosedChannel(t *testing.T) {
	for _, sendErr := range []error{io.ErrClosedPipe, io.EOF, ErrChannelClosed} {
		t.Run(sendErr.Error(), func(t *testing.T) {
			n := &recordingNotifier{err: sendErr}
			e := NewEmitter(n)
			defer e.Close()

			err := waitDelivery(t, e.Emit(context.Background(), NewEvent(DisableNextLineDiagnostics, PropertyCode, "no-unused-vars")))
			assert.ErrorIs(t, err, ErrChannelClosed)
			assert.Empty(t, n.sent())
		})
	}
}

func TestEmitterSendFailureIsNotRetried(t *testing.T) {
	boom := errors.New("boom")
	n := &recordingNotifier{err: boom}
	e := NewEmitter(n)
	defer e.Close()

	err := waitDelivery(t, e.Emit(context.Background(), NewEvent(ObjectBodySnippetInsertion, PropertyName, "{}")))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, n.sent())
}

func TestEmitterRejectsInvalidEvent(t *testing.T) {
	n := &recordingNotifier{}
	e := NewEmitter(n)
	defer e.Close()

	d := e.Emit(context.Background(), Event{EventName: "Nope"})
	err := waitDelivery(t, d)
	assert.ErrorIs(t, err, ErrMalformedPayload)
	assert.Empty(t, n.sent())
}

func TestEmitterAfterClose(t *testing.T) {
	n := &recordingNotifier{}
	e := NewEmitter(n)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	err := waitDelivery(t, e.Emit(context.Background(), NewEvent(ObjectBodySnippetInsertion, PropertyName, "{}")))
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.Empty(t, n.sent())
}

func TestEmitterCloseDrainsQueue(t *testing.T) {
	n := &recordingNotifier{block: make(chan struct{})}
	e := NewEmitter(n, WithQueueSize(4))

	first := e.Emit(context.Background(), NewEvent(ObjectBodySnippetInsertion, PropertyName, "1"))
	second := e.Emit(context.Background(), NewEvent(ObjectBodySnippetInsertion, PropertyName, "2"))
	close(n.block)
	require.NoError(t, e.Close())

	assert.NoError(t, first.Err())
	assert.NoError(t, second.Err())
	assert.Len(t, n.sent(), 2)
}

func TestEmitterBacklogFullDoesNotBlock(t *testing.T) {
	n := &recordingNotifier{block: make(chan struct{})}
	e := NewEmitter(n, WithQueueSize(1))

	ev := NewEvent(ObjectBodySnippetInsertion, PropertyName, "{}")
	deliveries := make([]*Delivery, 0, 8)
	for range 8 {
		deliveries = append(deliveries, e.Emit(context.Background(), ev))
	}

	var full int
	for _, d := range deliveries {
		select {
		case <-d.Done():
			if errors.Is(d.Err(), ErrBacklogFull) {
				full++
			}
		default:
		}
	}
	// One send is blocked in the worker and one waits in the queue.
	assert.GreaterOrEqual(t, full, 6)

	close(n.block)
	require.NoError(t, e.Close())
	for _, d := range deliveries {
		<-d.Done()
	}
	assert.Len(t, n.sent(), len(deliveries)-full)
}

func TestEmitterSendTimeout(t *testing.T) {
	n := &recordingNotifier{block: make(chan struct{})}
	e := NewEmitter(n, WithSendTimeout(20*time.Millisecond))
	defer e.Close()

	err := waitDelivery(t, e.Emit(context.Background(), NewEvent(ObjectBodySnippetInsertion, PropertyName, "{}")))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEmitterSessionID(t *testing.T) {
	a := NewEmitter(&recordingNotifier{})
	defer a.Close()
	b := NewEmitter(&recordingNotifier{}, WithSessionID("fixed"))
	defer b.Close()

	assert.NotEmpty(t, a.SessionID())
	assert.Equal(t, "fixed", b.SessionID())
}
