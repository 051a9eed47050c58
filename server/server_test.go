package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/akhenakh/biceplsp/jsonrpc2"
	"github.com/akhenakh/biceplsp/protocol"
	"github.com/akhenakh/biceplsp/server/servertest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	srv    *Server
	client *servertest.Client
	runErr chan error
}

func start(t *testing.T, register func(*Server), opts ...Option) *harness {
	t.Helper()
	serverSide, clientSide := servertest.Pipe()
	srv := NewServer(append([]Option{WithStream(serverSide)}, opts...)...)
	if register != nil {
		register(srv)
	}

	h := &harness{srv: srv, client: servertest.NewClient(t, clientSide), runErr: make(chan error, 1)}
	go func() { h.runErr <- srv.Run(context.Background()) }()
	return h
}

func (h *harness) initialize(t *testing.T, caps protocol.ClientCapabilities) protocol.InitializeResult {
	t.Helper()
	ctx := context.Background()
	var result protocol.InitializeResult
	require.NoError(t, h.client.Call(ctx, protocol.MethodInitialize, protocol.InitializeParams{Capabilities: caps}, &result))
	require.NoError(t, h.client.Notify(ctx, protocol.MethodInitialized, protocol.InitializedParams{}))
	return result
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.client.Call(ctx, protocol.MethodShutdown, nil, nil))
	require.NoError(t, h.client.Notify(ctx, protocol.MethodExit, nil))
	return h.wait(t)
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(servertest.DefaultTimeout):
		t.Fatal("server did not stop")
		return nil
	}
}

type echoParams struct {
	Text string `json:"text"`
}

func TestHandlerSignatures(t *testing.T) {
	valid := []any{
		func(context.Context) {},
		func(context.Context) error { return nil },
		func(context.Context, *echoParams) (string, error) { return "", nil },
		func(context.Context, echoParams) string { return "" },
		func(context.Context, *jsonrpc2.Conn, *echoParams) error { return nil },
		func(context.Context, *jsonrpc2.Conn) (any, error) { return nil, nil },
	}
	for _, h := range valid {
		_, err := newTypedHandler(h)
		assert.NoError(t, err, "%T", h)
	}

	invalid := []any{
		nil,
		"not a function",
		func() {},
		func(int) {},
		func(context.Context, *echoParams, int) {},
		func(context.Context) (string, int) { return "", 0 },
		func(context.Context) (int, int, error) { return 0, 0, nil },
	}
	for _, h := range invalid {
		_, err := newTypedHandler(h)
		assert.Error(t, err, "%T", h)
	}
}

func TestInvoke(t *testing.T) {
	ctx := context.Background()

	th, err := newTypedHandler(func(_ context.Context, p *echoParams) (string, error) { return "echo " + p.Text, nil })
	require.NoError(t, err)
	got, err := th.invoke(ctx, nil, json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "echo hi", got)

	_, err = th.invoke(ctx, nil, json.RawMessage(`{"text":1}`))
	var rpcErr *jsonrpc2.ErrorObject
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.InvalidParams, rpcErr.Code)

	byValue, err := newTypedHandler(func(_ context.Context, p echoParams) string { return p.Text })
	require.NoError(t, err)
	_, err = byValue.invoke(ctx, nil, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.InvalidParams, rpcErr.Code)

	failing, err := newTypedHandler(func(context.Context) error { return errors.New("boom") })
	require.NoError(t, err)
	_, err = failing.invoke(ctx, nil, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.InternalError, rpcErr.Code)

	typed, err := newTypedHandler(func(context.Context) error { return jsonrpc2.NewError(jsonrpc2.InvalidParams, "bad") })
	require.NoError(t, err)
	_, err = typed.invoke(ctx, nil, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.InvalidParams, rpcErr.Code)

	nilResult, err := newTypedHandler(func(context.Context) (*echoParams, error) { return nil, nil })
	require.NoError(t, err)
	got, err = nilResult.invoke(ctx, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRegisterDuplicate(t *testing.T) {
	srv := NewServer(WithStream(ReadWriter{Reader: nil, Writer: io.Discard}))
	assert.Error(t, srv.Register(protocol.MethodInitialize, func(context.Context) {}))
	assert.Error(t, srv.Register("custom/method", 42))
}

func TestLifecycle(t *testing.T) {
	h := start(t, func(s *Server) {
		require.NoError(t, s.Register(protocol.MethodTextDocumentCompletion, func(context.Context, *protocol.CompletionParams) (*protocol.CompletionList, error) {
			return &protocol.CompletionList{Items: []protocol.CompletionItem{}}, nil
		}))
		require.NoError(t, s.Register(protocol.MethodCompletionItemResolve, func(_ context.Context, item *protocol.CompletionItem) (*protocol.CompletionItem, error) {
			return item, nil
		}))
		require.NoError(t, s.Register(protocol.MethodWorkspaceExecuteCommand, func(context.Context, *protocol.ExecuteCommandParams) (any, error) {
			return nil, nil
		}))
	}, WithServerInfo("bicep-lsp", "test"), WithCommands("bicep.Telemetry"))
	ctx := context.Background()

	var rpcErr *jsonrpc2.ErrorObject
	err := h.client.Call(ctx, protocol.MethodTextDocumentCompletion, protocol.CompletionParams{}, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.ServerNotInitialized, rpcErr.Code)

	result := h.initialize(t, protocol.ClientCapabilities{})
	require.NotNil(t, result.ServerInfo)
	assert.Equal(t, "bicep-lsp", result.ServerInfo.Name)
	require.NotNil(t, result.Capabilities.CompletionProvider)
	assert.True(t, result.Capabilities.CompletionProvider.ResolveProvider)
	require.NotNil(t, result.Capabilities.ExecuteCommandProvider)
	assert.Equal(t, []string{"bicep.Telemetry"}, result.Capabilities.ExecuteCommandProvider.Commands)
	assert.Nil(t, result.Capabilities.CodeActionProvider)

	err = h.client.Call(ctx, protocol.MethodInitialize, protocol.InitializeParams{}, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.InvalidRequest, rpcErr.Code)

	var list protocol.CompletionList
	require.NoError(t, h.client.Call(ctx, protocol.MethodTextDocumentCompletion, protocol.CompletionParams{}, &list))
	assert.Empty(t, list.Items)

	err = h.client.Call(ctx, "bicep/unknown", struct{}{}, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.MethodNotFound, rpcErr.Code)

	require.NoError(t, h.client.Call(ctx, protocol.MethodShutdown, nil, nil))
	err = h.client.Call(ctx, protocol.MethodTextDocumentCompletion, protocol.CompletionParams{}, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.InvalidRequest, rpcErr.Code)

	require.NoError(t, h.client.Notify(ctx, protocol.MethodExit, nil))
	assert.NoError(t, h.wait(t))
}

func TestExitWithoutShutdown(t *testing.T) {
	h := start(t, nil)
	h.initialize(t, protocol.ClientCapabilities{})
	require.NoError(t, h.client.Notify(context.Background(), protocol.MethodExit, nil))
	assert.ErrorIs(t, h.wait(t), ErrExitWithoutShutdown)
}

func TestClientDisconnect(t *testing.T) {
	h := start(t, nil)
	h.initialize(t, protocol.ClientCapabilities{})
	require.NoError(t, h.client.Close())
	assert.ErrorIs(t, h.wait(t), io.ErrUnexpectedEOF)
}

func TestContextCancelStopsRun(t *testing.T) {
	serverSide, clientSide := servertest.Pipe()
	srv := NewServer(WithStream(serverSide))
	client := servertest.NewClient(t, clientSide)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(servertest.DefaultTimeout):
		t.Fatal("server did not stop")
	}
}

func TestNotifyStates(t *testing.T) {
	h := start(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, h.srv.Notify(ctx, protocol.MethodTelemetryEvent, map[string]string{}), ErrNotInitialized)

	h.initialize(t, protocol.ClientCapabilities{})
	// initialized is processed on the read loop; a round trip guarantees it ran.
	require.Error(t, h.client.Call(ctx, "bicep/ping", nil, nil))

	require.NoError(t, h.srv.Notify(ctx, protocol.MethodTelemetryEvent, map[string]string{"eventName": "x"}))
	n := h.client.WaitNotification(t, protocol.MethodTelemetryEvent)
	assert.JSONEq(t, `{"eventName":"x"}`, string(n.Params))

	require.NoError(t, h.stop(t))
	err := h.srv.Notify(ctx, protocol.MethodTelemetryEvent, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestApplyEdit(t *testing.T) {
	edit := protocol.ApplyWorkspaceEditParams{
		Label: "Disable no-unused-params",
		Edit: protocol.NewWorkspaceEdit("file:///main.bicep", 1, protocol.TextEdit{
			NewText: "#disable-next-line no-unused-params\n",
		}),
	}
	applyEditCaps := protocol.ClientCapabilities{Workspace: &protocol.WorkspaceClientCapabilities{ApplyEdit: true}}
	ctx := context.Background()

	type outcome struct {
		resp protocol.ApplyWorkspaceEditResponse
		err  error
	}
	apply := func(h *harness) chan outcome {
		out := make(chan outcome, 1)
		go func() {
			resp, err := h.srv.ApplyEdit(ctx, edit)
			out <- outcome{resp: resp, err: err}
		}()
		return out
	}

	t.Run("unsupported", func(t *testing.T) {
		h := start(t, nil)
		h.initialize(t, protocol.ClientCapabilities{})
		_, err := h.srv.ApplyEdit(ctx, edit)
		assert.ErrorIs(t, err, ErrApplyEditUnsupported)
		require.NoError(t, h.stop(t))
	})

	for _, applied := range []bool{true, false} {
		t.Run(fmt.Sprintf("client answers applied=%t", applied), func(t *testing.T) {
			h := start(t, nil)
			h.initialize(t, applyEditCaps)
			out := apply(h)

			req := h.client.WaitRequest(t, protocol.MethodWorkspaceApplyEdit)
			var got protocol.ApplyWorkspaceEditParams
			require.NoError(t, json.Unmarshal(req.Params, &got))
			assert.Equal(t, edit, got)

			select {
			case <-out:
				t.Fatal("ApplyEdit returned before the client answered")
			case <-time.After(20 * time.Millisecond):
			}

			require.NoError(t, h.client.Reply(ctx, req.ID, protocol.ApplyWorkspaceEditResponse{Applied: applied, FailureReason: "busy"}))
			res := <-out
			require.NoError(t, res.err)
			assert.Equal(t, applied, res.resp.Applied)
			require.NoError(t, h.stop(t))

			h.srv.trackMu.Lock()
			defer h.srv.trackMu.Unlock()
			assert.Empty(t, h.srv.outgoing)
		})
	}

	t.Run("released when the client disconnects", func(t *testing.T) {
		h := start(t, nil)
		h.initialize(t, applyEditCaps)
		out := apply(h)
		h.client.WaitRequest(t, protocol.MethodWorkspaceApplyEdit)

		require.NoError(t, h.client.Close())
		assert.ErrorIs(t, h.wait(t), io.ErrUnexpectedEOF)
		res := <-out
		assert.ErrorIs(t, res.err, ErrClosed)
	})
}

func TestCancelRequest(t *testing.T) {
	started := make(chan struct{})
	h := start(t, func(s *Server) {
		require.NoError(t, s.Register("bicep/slow", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}))
	})
	h.initialize(t, protocol.ClientCapabilities{})
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() { errc <- h.client.Call(ctx, "bicep/slow", nil, nil) }()
	<-started
	// The first call made by the client after initialize has id 2.
	require.NoError(t, h.client.Notify(ctx, protocol.MethodCancelRequest, protocol.CancelParams{ID: json.RawMessage("2")}))

	var rpcErr *jsonrpc2.ErrorObject
	require.ErrorAs(t, <-errc, &rpcErr)
	assert.Equal(t, jsonrpc2.RequestCancelled, rpcErr.Code)
	require.NoError(t, h.stop(t))
}

func TestMalformedMessageIsSkipped(t *testing.T) {
	serverSide, clientSide := servertest.Pipe()
	srv := NewServer(WithStream(serverSide))
	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	_, err := io.WriteString(clientSide, "Content-Length: 7\r\n\r\n{oops!}")
	require.NoError(t, err)

	client := servertest.NewClient(t, clientSide)
	var result protocol.InitializeResult
	require.NoError(t, client.Call(context.Background(), protocol.MethodInitialize, protocol.InitializeParams{}, &result))
	require.NoError(t, client.Call(context.Background(), protocol.MethodShutdown, nil, nil))
	require.NoError(t, client.Notify(context.Background(), protocol.MethodExit, nil))
	assert.NoError(t, <-done)
}
