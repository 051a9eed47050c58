// Package codeaction offers "Disable <rule>" quick fixes for diagnostics and
// builds the suppression edit and command when an action is resolved.
package codeaction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/akhenakh/biceplsp/command"
	"github.com/akhenakh/biceplsp/document"
	"github.com/akhenakh/biceplsp/protocol"
)

// SuppressionComment is the directive that silences a rule on the following line.
const SuppressionComment = "#disable-next-line"

// ErrInvalidData is returned when a code action to resolve carries no usable data.
var ErrInvalidData = errors.New("invalid code action data")

// Documents gives read access to open documents.
type Documents interface {
	Get(uri protocol.DocumentURI) (document.Document, error)
}

// actionData travels in CodeAction.Data between offer and resolve.
type actionData struct {
	URI   protocol.DocumentURI `json:"uri"`
	Code  string               `json:"code"`
	Range protocol.Range       `json:"range"`
}

// Provider implements textDocument/codeAction and codeAction/resolve for rule suppression.
type Provider struct {
	docs           Documents
	suppressErrors bool
	logger         *zap.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithSuppressErrors also offers suppression for error-severity diagnostics.
func WithSuppressErrors(v bool) Option {
	return func(p *Provider) { p.suppressErrors = v }
}

// WithLogger sets the provider logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvider creates a Provider reading documents from docs.
func NewProvider(docs Documents, opts ...Option) *Provider {
	p := &Provider{docs: docs, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Suppressible reports whether a diagnostic can be silenced with a comment.
func (p *Provider) Suppressible(d protocol.Diagnostic) (string, bool) {
	code, ok := d.CodeString()
	if !ok || !command.ValidRuleCode(code) {
		return "", false
	}
	if d.Severity == protocol.SeverityError && !p.suppressErrors {
		return "", false
	}
	return code, true
}

// Actions offers one quick fix per suppressible diagnostic and line. Clients that
// cannot resolve code actions lazily receive them resolved.
func (p *Provider) Actions(params protocol.CodeActionParams, caps protocol.ClientCapabilities) ([]protocol.CodeAction, error) {
	if len(params.Context.Only) > 0 && !slices.Contains(params.Context.Only, protocol.QuickFix) {
		return nil, nil
	}

	type seenKey struct {
		code string
		line uint
	}
	seen := make(map[seenKey]bool)
	eager := !caps.SupportsCodeActionResolve("command")

	var actions []protocol.CodeAction
	for _, diag := range params.Context.Diagnostics {
		code, ok := p.Suppressible(diag)
		if !ok {
			continue
		}
		key := seenKey{code: code, line: diag.Range.Start.Line}
		if seen[key] {
			continue
		}
		seen[key] = true

		data, err := json.Marshal(actionData{URI: params.TextDocument.URI, Code: code, Range: diag.Range})
		if err != nil {
			return nil, fmt.Errorf("encode code action data: %w", err)
		}
		action := protocol.CodeAction{
			Title:       "Disable " + code,
			Kind:        protocol.QuickFix,
			Diagnostics: []protocol.Diagnostic{diag},
			Data:        data,
		}
		if eager {
			action, err = p.Resolve(action, caps)
			if err != nil {
				p.logger.Warn("cannot resolve code action", zap.String("code", code), zap.Error(err))
				continue
			}
		}
		actions = append(actions, action)
	}

	p.logger.Debug("offering code actions",
		zap.String("uri", string(params.TextDocument.URI)),
		zap.Int("diagnostics", len(params.Context.Diagnostics)),
		zap.Int("actions", len(actions)))
	return actions, nil
}

// Resolve computes the suppression edit for action and attaches the command
// that records it. When the client accepts workspace/applyEdit the edit rides
// inside the command and the server asks the client to apply it; otherwise it
// is returned on the action for the client to apply before running the command.
func (p *Provider) Resolve(action protocol.CodeAction, caps protocol.ClientCapabilities) (protocol.CodeAction, error) {
	var data actionData
	if len(bytes.TrimSpace(action.Data)) == 0 {
		return action, fmt.Errorf("%w: missing data", ErrInvalidData)
	}
	if err := json.Unmarshal(action.Data, &data); err != nil {
		return action, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if data.URI == "" || !command.ValidRuleCode(data.Code) {
		return action, fmt.Errorf("%w: incomplete data", ErrInvalidData)
	}

	doc, err := p.docs.Get(data.URI)
	if err != nil {
		return action, err
	}
	edit, err := SuppressionEdit(doc.Text, data.Range.Start.Line, data.Code)
	if err != nil {
		return action, err
	}

	suppress := command.SuppressDiagnostic{Code: data.Code, URI: data.URI, Version: doc.Version}
	if caps.SupportsApplyEdit() {
		suppress.Edit = &edit
		action.Edit = nil
	} else {
		we := protocol.NewWorkspaceEdit(data.URI, doc.Version, edit)
		action.Edit = &we
	}
	cmd, err := command.NewSuppress(suppress)
	if err != nil {
		return action, err
	}
	action.Command = &cmd
	return action, nil
}

// SuppressionEdit inserts "#disable-next-line <code>" above line, indented like
// it and ended with the document's line break.
func SuppressionEdit(text string, line uint, code string) (protocol.TextEdit, error) {
	target, err := document.Line(text, line)
	if err != nil {
		return protocol.TextEdit{}, err
	}
	at := protocol.Position{Line: line, Character: 0}
	return protocol.TextEdit{
		Range:   protocol.Range{Start: at, End: at},
		NewText: document.Indentation(target) + SuppressionComment + " " + code + document.LineBreak(text, line),
	}, nil
}
