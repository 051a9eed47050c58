package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/akhenakh/biceplsp/codeaction"
	"github.com/akhenakh/biceplsp/command"
	"github.com/akhenakh/biceplsp/completion"
	"github.com/akhenakh/biceplsp/config"
	"github.com/akhenakh/biceplsp/document"
	"github.com/akhenakh/biceplsp/jsonrpc2"
	"github.com/akhenakh/biceplsp/protocol"
	"github.com/akhenakh/biceplsp/server"
	"github.com/akhenakh/biceplsp/telemetry"
)

// session wires one client connection: the server, the open documents and the
// telemetry emitter bound to that connection.
type session struct {
	srv        *server.Server
	docs       *document.Store
	resolver   *completion.Resolver
	actions    *codeaction.Provider
	dispatcher *command.Dispatcher
	emitter    *telemetry.Emitter
	logger     *zap.Logger
}

func newSession(cfg config.Config, catalog *completion.Catalog, logger *zap.Logger, opts ...server.Option) (*session, error) {
	opts = append([]server.Option{
		server.WithLogger(logger.Named("server")),
		server.WithCommands(command.Names...),
		server.WithCodeActionKinds(protocol.QuickFix),
	}, opts...)
	srv := server.NewServer(opts...)

	docs := document.NewStore(logger.Named("documents"))
	emitter := telemetry.NewEmitter(srv,
		telemetry.WithLogger(logger.Named("telemetry")),
		telemetry.WithQueueSize(cfg.Telemetry.QueueSize),
		telemetry.WithSendTimeout(cfg.Telemetry.SendTimeout),
	)
	s := &session{
		srv:  srv,
		docs: docs,
		resolver: completion.NewResolver(catalog,
			completion.WithEagerCommands(cfg.Completion.EagerCommands),
			completion.WithLogger(logger.Named("completion"))),
		actions: codeaction.NewProvider(docs,
			codeaction.WithSuppressErrors(cfg.CodeActions.SuppressErrors),
			codeaction.WithLogger(logger.Named("codeaction"))),
		dispatcher: command.NewDispatcher(emitter, docs,
			command.WithEditApplier(srv),
			command.WithLogger(logger.Named("command"))),
		emitter: emitter,
		logger:  logger.With(zap.String("session", emitter.SessionID())),
	}

	for method, h := range map[string]any{
		protocol.MethodTextDocumentDidOpen:     s.handleDidOpen,
		protocol.MethodTextDocumentDidChange:   s.handleDidChange,
		protocol.MethodTextDocumentDidClose:    s.handleDidClose,
		protocol.MethodTextDocumentCompletion:  s.handleCompletion,
		protocol.MethodCompletionItemResolve:   s.handleCompletionResolve,
		protocol.MethodTextDocumentCodeAction:  s.handleCodeAction,
		protocol.MethodCodeActionResolve:       s.handleCodeActionResolve,
		protocol.MethodWorkspaceExecuteCommand: s.handleExecuteCommand,
	} {
		if err := srv.Register(method, h); err != nil {
			_ = emitter.Close()
			return nil, err
		}
	}
	return s, nil
}

// run serves the connection and closes the emitter once it ends.
func (s *session) run(ctx context.Context) error {
	s.logger.Info("session started")
	defer func() {
		if err := s.emitter.Close(); err != nil {
			s.logger.Warn("closing telemetry emitter", zap.Error(err))
		}
		s.logger.Info("session ended")
	}()
	return s.srv.Run(ctx)
}

func (s *session) handleDidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.docs.Open(params.TextDocument)
	return nil
}

func (s *session) handleDidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
	_, err := s.docs.Change(params.TextDocument.URI, params.TextDocument.Version, params.ContentChanges)
	return err
}

func (s *session) handleDidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.docs.Close(params.TextDocument.URI)
	return nil
}

func (s *session) handleCompletion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error) {
	list := &protocol.CompletionList{Items: []protocol.CompletionItem{}}
	uri := params.TextDocument.URI

	var cc completion.Context
	err := s.docs.With(uri, func(doc document.Document) error {
		offset, err := document.Offset(doc.Text, params.Position)
		if err != nil {
			return err
		}
		cc, err = completion.ClassifyText(doc.Text, offset)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, completion.ErrClassificationAmbiguous),
		errors.Is(err, document.ErrPositionOutOfRange),
		errors.Is(err, document.ErrNotFound):
		s.logger.Debug("no snippet context", zap.String("uri", string(uri)), zap.Error(err))
		return list, nil
	default:
		return nil, err
	}

	list.Items = s.resolver.Candidates(cc)
	return list, nil
}

func (s *session) handleCompletionResolve(ctx context.Context, item *protocol.CompletionItem) (*protocol.CompletionItem, error) {
	resolved, err := s.resolver.Resolve(*item)
	if err != nil {
		return nil, rpcError(err)
	}
	return &resolved, nil
}

func (s *session) handleCodeAction(ctx context.Context, params *protocol.CodeActionParams) ([]protocol.CodeAction, error) {
	actions, err := s.actions.Actions(*params, s.srv.ClientCapabilities())
	if err != nil {
		return nil, rpcError(err)
	}
	return actions, nil
}

func (s *session) handleCodeActionResolve(ctx context.Context, action *protocol.CodeAction) (*protocol.CodeAction, error) {
	resolved, err := s.actions.Resolve(*action, s.srv.ClientCapabilities())
	if err != nil {
		return nil, rpcError(err)
	}
	return &resolved, nil
}

func (s *session) handleExecuteCommand(ctx context.Context, params *protocol.ExecuteCommandParams) (any, error) {
	if _, err := s.dispatcher.ExecuteCommand(ctx, *params); err != nil {
		return nil, rpcError(err)
	}
	return nil, nil
}

// rpcError maps domain errors onto JSON-RPC error codes.
func rpcError(err error) error {
	switch {
	case errors.Is(err, telemetry.ErrMalformedPayload),
		errors.Is(err, command.ErrUnknownCommand),
		errors.Is(err, completion.ErrUnknownSnippetLabel),
		errors.Is(err, codeaction.ErrInvalidData):
		return jsonrpc2.NewError(jsonrpc2.InvalidParams, err.Error())
	case errors.Is(err, document.ErrVersionMismatch):
		return jsonrpc2.NewError(jsonrpc2.ContentModified, err.Error())
	}
	return jsonrpc2.NewError(jsonrpc2.RequestFailed, err.Error())
}
