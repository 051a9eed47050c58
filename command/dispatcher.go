package command

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akhenakh/biceplsp/document"
	"github.com/akhenakh/biceplsp/protocol"
	"github.com/akhenakh/biceplsp/telemetry"
)

var tracer = otel.Tracer("biceplsp.command")

// Emitter delivers telemetry events.
type Emitter interface {
	Emit(ctx context.Context, ev telemetry.Event) *telemetry.Delivery
}

// ErrEditNotApplied is returned when the client did not apply a suppression edit.
var ErrEditNotApplied = errors.New("edit not applied")

// Documents gives read access to open documents.
type Documents interface {
	Get(uri protocol.DocumentURI) (document.Document, error)
}

// EditApplier asks the client to apply a workspace edit and reports its answer.
type EditApplier interface {
	ApplyEdit(ctx context.Context, params protocol.ApplyWorkspaceEditParams) (protocol.ApplyWorkspaceEditResponse, error)
}

// Dispatcher executes decoded actions. Every successful execution emits
// exactly one telemetry event, after the client has applied the action's edit.
type Dispatcher struct {
	emitter Emitter
	docs    Documents
	client  EditApplier
	logger  *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEditApplier forwards suppression edits to the client.
func WithEditApplier(a EditApplier) Option {
	return func(d *Dispatcher) { d.client = a }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a Dispatcher emitting through emitter and checking
// edits against docs.
func NewDispatcher(emitter Emitter, docs Documents, opts ...Option) *Dispatcher {
	d := &Dispatcher{emitter: emitter, docs: docs, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ExecuteCommand decodes params and executes the resulting action.
func (d *Dispatcher) ExecuteCommand(ctx context.Context, params protocol.ExecuteCommandParams) (*telemetry.Delivery, error) {
	action, err := Decode(params)
	if err != nil {
		d.logger.Warn("rejected command", zap.String("command", params.Command), zap.Error(err))
		return nil, err
	}
	return d.Execute(ctx, action)
}

// Execute runs action and schedules its telemetry event. The returned Delivery
// completes independently of the caller.
func (d *Dispatcher) Execute(ctx context.Context, action Action) (*telemetry.Delivery, error) {
	ev := action.Event()
	ctx, span := tracer.Start(ctx, "command.Execute",
		trace.WithAttributes(attribute.String("telemetry.event", string(ev.EventName))),
	)
	defer span.End()

	switch a := action.(type) {
	case SnippetTelemetry:
	case SuppressDiagnostic:
		if err := d.suppress(ctx, a); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	default:
		err := fmt.Errorf("%w: action %T", ErrUnknownCommand, action)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	delivery := d.emitter.Emit(ctx, ev)
	span.SetStatus(codes.Ok, "")
	return delivery, nil
}

// suppress has the client apply the edit carried by a. The document text is
// only updated through the client's didChange.
func (d *Dispatcher) suppress(ctx context.Context, a SuppressDiagnostic) error {
	if a.Edit == nil {
		return nil
	}
	log := d.logger.With(zap.String("uri", string(a.URI)), zap.String("code", a.Code))

	doc, err := d.docs.Get(a.URI)
	switch {
	case err == nil:
		if doc.Version != a.Version {
			return fmt.Errorf("%w: %s is at version %d, edit targets %d",
				document.ErrVersionMismatch, a.URI, doc.Version, a.Version)
		}
	case errors.Is(err, document.ErrNotFound):
		// Closed in the meantime; the client still owns the file.
		log.Debug("document not open, sending edit unchecked")
	default:
		return err
	}

	if d.client == nil {
		return fmt.Errorf("%w: no client to apply it", ErrEditNotApplied)
	}
	resp, err := d.client.ApplyEdit(ctx, protocol.ApplyWorkspaceEditParams{
		Label: "Disable " + a.Code,
		Edit:  protocol.NewWorkspaceEdit(a.URI, a.Version, *a.Edit),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEditNotApplied, err)
	}
	if !resp.Applied {
		log.Info("client declined suppression edit", zap.String("reason", resp.FailureReason))
		return fmt.Errorf("%w: %s", ErrEditNotApplied, resp.FailureReason)
	}
	return nil
}
