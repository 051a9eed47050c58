package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/akhenakh/biceplsp/document"
	"github.com/akhenakh/biceplsp/protocol"
	"github.com/akhenakh/biceplsp/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const uri = protocol.DocumentURI("file:///main.bicep")

type sink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *sink) Notify(_ context.Context, _ string, params any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, params.(telemetry.Event))
	return nil
}

func (s *sink) sent() []telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Event(nil), s.events...)
}

// applier answers workspace/applyEdit with a fixed response.
type applier struct {
	mu      sync.Mutex
	pushed  []protocol.ApplyWorkspaceEditParams
	decline string
	err     error
}

func (a *applier) ApplyEdit(_ context.Context, params protocol.ApplyWorkspaceEditParams) (protocol.ApplyWorkspaceEditResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushed = append(a.pushed, params)
	if a.err != nil {
		return protocol.ApplyWorkspaceEditResponse{}, a.err
	}
	return protocol.ApplyWorkspaceEditResponse{Applied: a.decline == "", FailureReason: a.decline}, nil
}

func newDispatcher(t *testing.T, docs Documents, opts ...Option) (*Dispatcher, *sink) {
	t.Helper()
	s := &sink{}
	emitter := telemetry.NewEmitter(s)
	t.Cleanup(func() { _ = emitter.Close() })
	return NewDispatcher(emitter, docs, opts...), s
}

func await(t *testing.T, d *telemetry.Delivery) {
	t.Helper()
	require.NotNil(t, d)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

var eventComparer = cmp.Comparer(func(a, b telemetry.Event) bool { return a.Equal(b) })

func TestTelemetryCommandRoundTrip(t *testing.T) {
	ev := telemetry.NewEvent(telemetry.ResourceBodySnippetInsertion,
		telemetry.PropertyName, "{}",
		telemetry.PropertyType, "Microsoft.Web/sites@2022-03-01")
	cmd, err := NewTelemetry(ev)
	require.NoError(t, err)
	assert.Equal(t, Telemetry, cmd.Command)

	action, err := Decode(protocol.ExecuteCommandParams{Command: cmd.Command, Arguments: cmd.Arguments})
	require.NoError(t, err)
	got, ok := action.(SnippetTelemetry)
	require.True(t, ok, "got %T", action)
	assert.Empty(t, cmp.Diff(ev, got.Telemetry, eventComparer))
}

func TestSuppressCommandRoundTrip(t *testing.T) {
	edit := &protocol.TextEdit{NewText: "#disable-next-line no-unused-params\n"}
	cmd, err := NewSuppress(SuppressDiagnostic{Code: "no-unused-params", URI: uri, Version: 3, Edit: edit})
	require.NoError(t, err)
	assert.Equal(t, "Disable no-unused-params", cmd.Title)

	action, err := Decode(protocol.ExecuteCommandParams{Command: cmd.Command, Arguments: cmd.Arguments})
	require.NoError(t, err)
	assert.Equal(t, SuppressDiagnostic{Code: "no-unused-params", URI: uri, Version: 3, Edit: edit}, action)

	_, err = NewSuppress(SuppressDiagnostic{Code: "BCP 037"})
	assert.ErrorIs(t, err, telemetry.ErrMalformedPayload)
}

func TestDecodeRejectsMalformedArguments(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    []string
	}{
		{name: "no arguments", command: Telemetry},
		{name: "null argument", command: Telemetry, args: []string{`null`}},
		{name: "string argument", command: Telemetry, args: []string{`"TopLevelDeclarationSnippetInsertion"`}},
		{name: "unknown event", command: Telemetry, args: []string{`{"eventName":"Nope","properties":{}}`}},
		{name: "missing event name", command: Telemetry, args: []string{`{"properties":{"name":"x"}}`}},
		{name: "non-string property", command: Telemetry, args: []string{`{"eventName":"ObjectBodySnippetInsertion","properties":{"name":true}}`}},
		{name: "suppress without code", command: DisableNextLine, args: []string{`{"uri":"file:///a.bicep"}`}},
		{name: "suppress with invalid code", command: DisableNextLine, args: []string{`{"code":"no unused"}`}},
		{name: "suppress numeric code", command: DisableNextLine, args: []string{`{"code":42}`}},
		{name: "suppress edit without uri", command: DisableNextLine, args: []string{`{"code":"x","edit":{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":0}},"newText":"y"}}`}},
		{name: "suppress unknown field", command: DisableNextLine, args: []string{`{"code":"x","rule":"y"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := protocol.ExecuteCommandParams{Command: tt.command}
			for _, a := range tt.args {
				params.Arguments = append(params.Arguments, json.RawMessage(a))
			}
			_, err := Decode(params)
			assert.ErrorIs(t, err, telemetry.ErrMalformedPayload)
		})
	}

	_, err := Decode(protocol.ExecuteCommandParams{Command: "bicep.unknown"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestExecuteMalformedEmitsNothing(t *testing.T) {
	d, s := newDispatcher(t, document.NewStore(nil))

	delivery, err := d.ExecuteCommand(context.Background(), protocol.ExecuteCommandParams{
		Command:   Telemetry,
		Arguments: []json.RawMessage{json.RawMessage(`{"eventName":"SnippetAccepted"}`)},
	})
	require.ErrorIs(t, err, telemetry.ErrMalformedPayload)
	assert.Nil(t, delivery)

	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, s.sent())
}

func TestExecuteSnippetTelemetry(t *testing.T) {
	d, s := newDispatcher(t, document.NewStore(nil))
	ev := telemetry.NewEvent(telemetry.TopLevelDeclarationSnippetInsertion, telemetry.PropertyName, "res-aks-cluster")

	delivery, err := d.Execute(context.Background(), SnippetTelemetry{Telemetry: ev})
	require.NoError(t, err)
	await(t, delivery)
	assert.Empty(t, cmp.Diff([]telemetry.Event{ev}, s.sent(), eventComparer))
}

func TestExecuteSuppressEmitsAfterClientApplies(t *testing.T) {
	docs := document.NewStore(nil)
	docs.Open(protocol.TextDocumentItem{URI: uri, Version: 1, Text: "param unused string\n"})
	a := &applier{}
	d, s := newDispatcher(t, docs, WithEditApplier(a))

	edit := &protocol.TextEdit{NewText: "#disable-next-line no-unused-params\n"}
	delivery, err := d.Execute(context.Background(), SuppressDiagnostic{Code: "no-unused-params", URI: uri, Version: 1, Edit: edit})
	require.NoError(t, err)

	require.Len(t, a.pushed, 1)
	assert.Equal(t, protocol.NewWorkspaceEdit(uri, 1, *edit), a.pushed[0].Edit)

	// The text changes only when the client reports it through didChange.
	doc, err := docs.Get(uri)
	require.NoError(t, err)
	assert.Equal(t, "param unused string\n", doc.Text)
	assert.Equal(t, 1, doc.Version)

	await(t, delivery)
	want := telemetry.NewEvent(telemetry.DisableNextLineDiagnostics, telemetry.PropertyCode, "no-unused-params")
	assert.Empty(t, cmp.Diff([]telemetry.Event{want}, s.sent(), eventComparer))
}

func TestExecuteSuppressNotAppliedEmitsNothing(t *testing.T) {
	edit := &protocol.TextEdit{NewText: "#disable-next-line x\n"}
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "declined", opts: []Option{WithEditApplier(&applier{decline: "document changed"})}},
		{name: "request failed", opts: []Option{WithEditApplier(&applier{err: errors.New("client gone")})}},
		{name: "no client"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := document.NewStore(nil)
			docs.Open(protocol.TextDocumentItem{URI: uri, Version: 1, Text: "param a string\n"})
			d, s := newDispatcher(t, docs, tt.opts...)

			delivery, err := d.Execute(context.Background(), SuppressDiagnostic{Code: "x", URI: uri, Version: 1, Edit: edit})
			require.ErrorIs(t, err, ErrEditNotApplied)
			assert.Nil(t, delivery)
			time.Sleep(10 * time.Millisecond)
			assert.Empty(t, s.sent())
		})
	}
}

func TestExecuteSuppressOnClosedDocument(t *testing.T) {
	a := &applier{}
	d, s := newDispatcher(t, document.NewStore(nil), WithEditApplier(a))

	edit := &protocol.TextEdit{NewText: "#disable-next-line x\n"}
	delivery, err := d.Execute(context.Background(), SuppressDiagnostic{Code: "x", URI: uri, Version: 1, Edit: edit})
	require.NoError(t, err)
	await(t, delivery)

	assert.Len(t, a.pushed, 1)
	assert.Len(t, s.sent(), 1)
}

func TestExecuteSuppressStaleVersionFails(t *testing.T) {
	docs := document.NewStore(nil)
	docs.Open(protocol.TextDocumentItem{URI: uri, Version: 5, Text: "param a string\n"})
	a := &applier{}
	d, s := newDispatcher(t, docs, WithEditApplier(a))

	edit := &protocol.TextEdit{NewText: "#disable-next-line x\n"}
	_, err := d.Execute(context.Background(), SuppressDiagnostic{Code: "x", URI: uri, Version: 4, Edit: edit})
	require.ErrorIs(t, err, document.ErrVersionMismatch)

	assert.Empty(t, a.pushed)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, s.sent())
}

func TestExecuteSuppressWithoutEdit(t *testing.T) {
	docs := document.NewStore(nil)
	docs.Open(protocol.TextDocumentItem{URI: uri, Version: 1, Text: "a\n"})
	d, s := newDispatcher(t, docs)

	delivery, err := d.Execute(context.Background(), SuppressDiagnostic{Code: "no-unused-vars"})
	require.NoError(t, err)
	await(t, delivery)

	doc, _ := docs.Get(uri)
	assert.Equal(t, "a\n", doc.Text)
	assert.Len(t, s.sent(), 1)
}

func TestRepeatedExecutionsAreIndependent(t *testing.T) {
	d, s := newDispatcher(t, document.NewStore(nil))
	ev := telemetry.NewEvent(telemetry.ObjectBodySnippetInsertion, telemetry.PropertyName, "{}")

	var deliveries []*telemetry.Delivery
	for range 3 {
		delivery, err := d.Execute(context.Background(), SnippetTelemetry{Telemetry: ev})
		require.NoError(t, err)
		deliveries = append(deliveries, delivery)
	}
	for _, delivery := range deliveries {
		await(t, delivery)
	}
	assert.Len(t, s.sent(), 3)
}
