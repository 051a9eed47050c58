// Package server runs a language server over a JSON-RPC stream: lifecycle,
// handler dispatch, cancellation and server-to-client messages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akhenakh/biceplsp/jsonrpc2"
	"github.com/akhenakh/biceplsp/protocol"
)

var (
	// ErrNotInitialized is returned when sending to a client that has not initialized.
	ErrNotInitialized = errors.New("server not initialized")
	// ErrClosed is returned when sending after shutdown or exit. It wraps io.ErrClosedPipe.
	ErrClosed = fmt.Errorf("server closed: %w", io.ErrClosedPipe)
	// ErrApplyEditUnsupported is returned by ApplyEdit when the client lacks workspace/applyEdit.
	ErrApplyEditUnsupported = errors.New("client does not support workspace/applyEdit")
	// ErrExitWithoutShutdown is returned by Run when the client exits without a shutdown request.
	ErrExitWithoutShutdown = errors.New("exit received before shutdown")
)

// exitTimeout bounds how long exit waits for in-flight requests.
const exitTimeout = 2 * time.Second

// Server represents an LSP server.
type Server struct {
	conn         *jsonrpc2.Conn
	handlers     map[string]*typedHandler
	mu           sync.RWMutex
	state        atomic.Value // serverState
	shutdownOnce sync.Once
	pendingReqs  sync.WaitGroup
	logger       *zap.Logger
	opts         *options

	initMu     sync.RWMutex
	initParams *protocol.InitializeParams

	trackMu  sync.Mutex
	inflight map[string]context.CancelFunc // incoming requests by id
	outgoing map[string]*call              // server requests awaiting an answer, by raw id

	exitErr error
}

// call is a server-to-client request waiting for its response.
type call struct {
	method string
	done   chan *jsonrpc2.ResponseMessage
}

type serverState int

const (
	stateUninitialized serverState = iota
	stateInitializing
	stateRunning
	stateShutdown
	stateExited
)

func (s serverState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateInitializing:
		return "initializing"
	case stateRunning:
		return "running"
	case stateShutdown:
		return "shutdown"
	case stateExited:
		return "exited"
	}
	return "unknown"
}

// NewServer creates a new LSP server. It communicates over stdin/stdout unless
// WithStream is given.
func NewServer(opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	s := &Server{
		conn:     jsonrpc2.NewConn(jsonrpc2.NewStream(o.stream)),
		handlers: make(map[string]*typedHandler),
		logger:   o.logger,
		opts:     o,
		inflight: make(map[string]context.CancelFunc),
		outgoing: make(map[string]*call),
	}
	s.state.Store(stateUninitialized)
	s.registerDefaultHandlers()
	return s
}

func (s *Server) registerDefaultHandlers() {
	for method, h := range map[string]any{
		protocol.MethodInitialize:    s.handleInitialize,
		protocol.MethodInitialized:   s.handleInitialized,
		protocol.MethodShutdown:      s.handleShutdown,
		protocol.MethodExit:          s.handleExit,
		protocol.MethodCancelRequest: s.handleCancel,
	} {
		if err := s.Register(method, h); err != nil {
			panic(err)
		}
	}
}

// Register associates a handler function with an LSP method name. The handler
// must look like func(ctx context.Context [, conn *jsonrpc2.Conn] [, params P]) [(R,] [error)].
func (s *Server) Register(method string, handlerFunc any) error {
	th, err := newTypedHandler(handlerFunc)
	if err != nil {
		return fmt.Errorf("invalid handler for method %s: %w", method, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handlers[method]; exists {
		return fmt.Errorf("handler already registered for method: %s", method)
	}
	s.handlers[method] = th
	s.logger.Debug("registered handler",
		zap.String("method", method),
		zap.Bool("takesConn", th.takesConn),
		zap.Bool("takesParams", th.takesParams))
	return nil
}

func (s *Server) handler(method string) (*typedHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[method]
	return h, ok
}

func (s *Server) hasHandler(method string) bool {
	_, ok := s.handler(method)
	return ok
}

// Run reads and dispatches messages until the client exits, the stream ends or
// ctx is cancelled. Notifications and lifecycle requests are handled in order
// on the read loop; other requests run concurrently. Run waits for in-flight
// requests before returning.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("server starting")
	defer s.logger.Info("server stopped")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()
	defer func() {
		cancel()
		s.abandonCalls()
		s.pendingReqs.Wait()
	}()

	for {
		msg, err := s.conn.Read(ctx)
		var rpcErr *jsonrpc2.ErrorObject
		switch {
		case errors.As(err, &rpcErr):
			// The frame was consumed; only this message is lost.
			s.logger.Warn("dropping malformed message", zap.Error(err))
			continue
		case err != nil:
			return s.readError(ctx, err)
		}
		s.dispatch(ctx, msg)
		if s.currentState() == stateExited {
			return s.exitErr
		}
	}
}

func (s *Server) readError(ctx context.Context, err error) error {
	state := s.currentState()
	switch {
	case state == stateExited:
		return s.exitErr
	case ctx.Err() != nil:
		s.logger.Info("context cancelled, exiting run loop", zap.Error(ctx.Err()))
		return ctx.Err()
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe):
		if state == stateShutdown {
			return nil
		}
		s.logger.Warn("client closed connection before shutdown", zap.Stringer("state", state))
		return io.ErrUnexpectedEOF
	}
	return fmt.Errorf("fatal error reading message: %w", err)
}

func (s *Server) currentState() serverState {
	state, _ := s.state.Load().(serverState)
	return state
}

func (s *Server) dispatch(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case *jsonrpc2.RequestMessage:
		if m.Method == protocol.MethodInitialize || m.Method == protocol.MethodShutdown {
			s.handleRequest(ctx, m)
			return
		}
		id := string(m.ID)
		reqCtx, cancel := context.WithCancel(ctx)
		s.trackMu.Lock()
		s.inflight[id] = cancel
		s.trackMu.Unlock()

		s.pendingReqs.Add(1)
		go func() {
			defer s.pendingReqs.Done()
			defer func() {
				s.trackMu.Lock()
				delete(s.inflight, id)
				s.trackMu.Unlock()
				cancel()
			}()
			s.handleRequest(reqCtx, m)
		}()
	case *jsonrpc2.NotificationMessage:
		s.handleNotification(ctx, m)
	case *jsonrpc2.ResponseMessage:
		s.handleResponse(m)
	default:
		s.logger.Warn("received unknown message type", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (s *Server) handleRequest(ctx context.Context, req *jsonrpc2.RequestMessage) {
	method := req.Method
	log := s.logger.With(zap.String("method", method), zap.ByteString("id", req.ID))
	log.Debug("--> request")

	switch state := s.currentState(); {
	case state == stateShutdown || state == stateExited:
		s.sendResponse(ctx, req.ID, nil, jsonrpc2.NewError(jsonrpc2.InvalidRequest, "server is shutting down"))
		return
	case state == stateUninitialized && method != protocol.MethodInitialize:
		s.sendResponse(ctx, req.ID, nil, jsonrpc2.NewError(jsonrpc2.ServerNotInitialized, "server not initialized"))
		return
	}

	handler, found := s.handler(method)
	if !found {
		log.Debug("no handler for request")
		s.sendResponse(ctx, req.ID, nil, jsonrpc2.Errorf(jsonrpc2.MethodNotFound, "method not found: %s", method))
		return
	}

	result, err := handler.invoke(ctx, s.conn, req.Params)
	var errResp *jsonrpc2.ErrorObject
	if err != nil {
		errResp = toRPCError(err)
		if errors.Is(ctx.Err(), context.Canceled) {
			errResp = jsonrpc2.NewError(jsonrpc2.RequestCancelled, "request cancelled")
		}
		log.Info("request failed", zap.Int("code", errResp.Code), zap.String("message", errResp.Message))
	}
	s.sendResponse(context.WithoutCancel(ctx), req.ID, result, errResp)
}

func (s *Server) handleNotification(ctx context.Context, n *jsonrpc2.NotificationMessage) {
	method := n.Method
	log := s.logger.With(zap.String("method", method))
	log.Debug("--> notification")

	state := s.currentState()
	if state == stateShutdown && method != protocol.MethodExit {
		log.Debug("ignoring notification during shutdown")
		return
	}
	early := method == protocol.MethodCancelRequest || method == protocol.MethodExit
	if state == stateUninitialized && !early {
		log.Debug("ignoring notification before initialization")
		return
	}

	handler, found := s.handler(method)
	if !found {
		// Unknown notifications are ignored.
		log.Debug("no handler for notification")
		return
	}
	if _, err := handler.invoke(ctx, s.conn, n.Params); err != nil {
		log.Warn("notification handler failed", zap.Error(err))
	}
}

func (s *Server) handleResponse(resp *jsonrpc2.ResponseMessage) {
	id := string(resp.ID)
	s.trackMu.Lock()
	c, ok := s.outgoing[id]
	delete(s.outgoing, id)
	s.trackMu.Unlock()

	if !ok {
		s.logger.Warn("received response to unknown request", zap.String("id", id))
		return
	}
	s.logger.Debug("<-- response", zap.String("id", id), zap.String("method", c.method))
	c.done <- resp
}

// abandonCalls releases callers still waiting for a client answer.
func (s *Server) abandonCalls() {
	s.trackMu.Lock()
	calls := s.outgoing
	s.outgoing = make(map[string]*call)
	s.trackMu.Unlock()

	for _, c := range calls {
		close(c.done)
	}
}

func (s *Server) sendResponse(ctx context.Context, id json.RawMessage, result any, respErr *jsonrpc2.ErrorObject) {
	if len(id) == 0 || string(id) == "null" {
		s.logger.Warn("response without request id ignored")
		return
	}

	response := &jsonrpc2.ResponseMessage{JSONRPC: jsonrpc2.Version, ID: id}
	switch {
	case respErr != nil:
		response.Error = respErr
	case result != nil:
		raw, err := json.Marshal(result)
		if err != nil {
			s.logger.Error("cannot marshal result", zap.ByteString("id", id), zap.Error(err))
			response.Error = jsonrpc2.Errorf(jsonrpc2.InternalError, "failed to marshal result: %v", err)
		} else {
			response.Result = raw
		}
	default:
		response.Result = json.RawMessage("null")
	}

	if err := s.conn.Write(ctx, response); err != nil {
		s.logger.Warn("cannot write response", zap.ByteString("id", id), zap.Error(err))
	}
}

// ClientCapabilities returns the capabilities sent by the client in initialize.
func (s *Server) ClientCapabilities() protocol.ClientCapabilities {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	if s.initParams == nil {
		return protocol.ClientCapabilities{}
	}
	return s.initParams.Capabilities
}

func (s *Server) handleInitialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	if !s.state.CompareAndSwap(stateUninitialized, stateInitializing) {
		return nil, jsonrpc2.NewError(jsonrpc2.InvalidRequest, "server already initialized or is shutting down")
	}
	s.initMu.Lock()
	s.initParams = params
	s.initMu.Unlock()

	fields := []zap.Field{
		zap.Bool("applyEdit", params.Capabilities.SupportsApplyEdit()),
		zap.Bool("codeActionResolve", params.Capabilities.SupportsCodeActionResolve("command")),
	}
	if params.ClientInfo != nil {
		fields = append(fields, zap.String("client", params.ClientInfo.Name), zap.String("clientVersion", params.ClientInfo.Version))
	}
	s.logger.Info("initialize", fields...)

	info := s.opts.info
	return &protocol.InitializeResult{
		Capabilities: s.determineServerCapabilities(),
		ServerInfo:   &info,
	}, nil
}

// determineServerCapabilities advertises what the registered handlers implement.
func (s *Server) determineServerCapabilities() protocol.ServerCapabilities {
	var caps protocol.ServerCapabilities

	hasOpen := s.hasHandler(protocol.MethodTextDocumentDidOpen)
	hasChange := s.hasHandler(protocol.MethodTextDocumentDidChange)
	hasClose := s.hasHandler(protocol.MethodTextDocumentDidClose)
	if hasOpen || hasChange || hasClose {
		caps.TextDocumentSync = &protocol.TextDocumentSyncOptions{
			OpenClose: hasOpen || hasClose,
			Change:    protocol.SyncIncremental,
		}
	}

	if s.hasHandler(protocol.MethodTextDocumentCompletion) {
		caps.CompletionProvider = &protocol.CompletionOptions{
			ResolveProvider:   s.hasHandler(protocol.MethodCompletionItemResolve),
			TriggerCharacters: s.opts.triggers,
		}
	}

	if s.hasHandler(protocol.MethodTextDocumentCodeAction) {
		caps.CodeActionProvider = &protocol.CodeActionOptions{
			CodeActionKinds: s.opts.kinds,
			ResolveProvider: s.hasHandler(protocol.MethodCodeActionResolve),
		}
	}

	if s.hasHandler(protocol.MethodWorkspaceExecuteCommand) {
		commands := s.opts.commands
		if commands == nil {
			commands = []string{}
		}
		caps.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{Commands: commands}
	}
	return caps
}

func (s *Server) handleInitialized(ctx context.Context, params *protocol.InitializedParams) error {
	if s.state.CompareAndSwap(stateInitializing, stateRunning) {
		s.logger.Info("server running")
	} else {
		s.logger.Warn("initialized received in unexpected state", zap.Stringer("state", s.currentState()))
	}
	return nil
}

func (s *Server) handleShutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		for _, from := range []serverState{stateRunning, stateInitializing, stateUninitialized} {
			if s.state.CompareAndSwap(from, stateShutdown) {
				s.logger.Info("server shutting down", zap.Stringer("from", from))
				return
			}
		}
	})
	return nil
}

// handleExit stops the read loop. Run reports ErrExitWithoutShutdown unless a
// shutdown request came first.
func (s *Server) handleExit(ctx context.Context) {
	if s.currentState() != stateShutdown {
		s.exitErr = ErrExitWithoutShutdown
	}

	waitCh := make(chan struct{})
	go func() {
		s.pendingReqs.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(exitTimeout):
		s.logger.Warn("timed out waiting for pending requests during exit")
	}

	s.state.Store(stateExited)
	s.logger.Info("exit", zap.Error(s.exitErr))
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("cannot close connection during exit", zap.Error(err))
	}
}

func (s *Server) handleCancel(ctx context.Context, params *protocol.CancelParams) {
	if params == nil {
		return
	}
	id := string(params.ID)
	s.trackMu.Lock()
	cancel, ok := s.inflight[id]
	s.trackMu.Unlock()
	if !ok {
		s.logger.Debug("cancel for unknown or finished request", zap.String("id", id))
		return
	}
	s.logger.Debug("cancelling request", zap.String("id", id))
	cancel()
}

func (s *Server) writable(method string) error {
	switch s.currentState() {
	case stateUninitialized:
		return fmt.Errorf("%s: %w", method, ErrNotInitialized)
	case stateShutdown, stateExited:
		return fmt.Errorf("%s: %w", method, ErrClosed)
	}
	return nil
}

func marshalParams(method string, params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
	}
	return raw, nil
}

// Notify sends a notification to the client. After shutdown or once the
// connection is gone the returned error wraps io.ErrClosedPipe.
func (s *Server) Notify(ctx context.Context, method string, params any) error {
	if err := s.writable(method); err != nil {
		return err
	}
	raw, err := marshalParams(method, params)
	if err != nil {
		return err
	}

	s.logger.Debug("<-- notification", zap.String("method", method))
	notification := &jsonrpc2.NotificationMessage{JSONRPC: jsonrpc2.Version, Method: method, Params: raw}
	if err := s.conn.Write(ctx, notification); err != nil {
		return fmt.Errorf("failed to write notification %s: %w", method, err)
	}
	return nil
}

// Call sends a request to the client and waits for its answer, decoding the
// result into result when it is not nil. An error answer is returned as a
// *jsonrpc2.ErrorObject.
func (s *Server) Call(ctx context.Context, method string, params, result any) error {
	if err := s.writable(method); err != nil {
		return err
	}
	raw, err := marshalParams(method, params)
	if err != nil {
		return err
	}

	id := strconv.Quote(uuid.NewString())
	c := &call{method: method, done: make(chan *jsonrpc2.ResponseMessage, 1)}
	s.trackMu.Lock()
	s.outgoing[id] = c
	s.trackMu.Unlock()
	forget := func() {
		s.trackMu.Lock()
		delete(s.outgoing, id)
		s.trackMu.Unlock()
	}

	s.logger.Debug("--> request", zap.String("method", method), zap.String("id", id))
	req := &jsonrpc2.RequestMessage{JSONRPC: jsonrpc2.Version, ID: json.RawMessage(id), Method: method, Params: raw}
	if err := s.conn.Write(ctx, req); err != nil {
		forget()
		return fmt.Errorf("failed to write request %s: %w", method, err)
	}

	select {
	case resp, ok := <-c.done:
		if !ok {
			return fmt.Errorf("%s: %w", method, ErrClosed)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		forget()
		return ctx.Err()
	}
}

// ApplyEdit asks the client to apply params through workspace/applyEdit and
// returns its answer.
func (s *Server) ApplyEdit(ctx context.Context, params protocol.ApplyWorkspaceEditParams) (protocol.ApplyWorkspaceEditResponse, error) {
	var resp protocol.ApplyWorkspaceEditResponse
	if !s.ClientCapabilities().SupportsApplyEdit() {
		return resp, ErrApplyEditUnsupported
	}
	if err := s.Call(ctx, protocol.MethodWorkspaceApplyEdit, params, &resp); err != nil {
		return resp, err
	}
	if !resp.Applied {
		s.logger.Info("client did not apply edit", zap.String("reason", resp.FailureReason))
	}
	return resp, nil
}
