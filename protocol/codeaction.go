package protocol

import "encoding/json"

// CodeActionParams are the parameters of textDocument/codeAction.
type CodeActionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Range        Range                  `json:"range"`
	Context      CodeActionContext      `json:"context"`
}

// CodeActionContext carries the client diagnostics overlapping the requested
// range. An empty Only asks for every kind.
type CodeActionContext struct {
	Diagnostics []Diagnostic     `json:"diagnostics"`
	Only        []CodeActionKind `json:"only,omitempty"`
}

// CodeActionKind is a hierarchical, dot separated action kind.
type CodeActionKind string

// QuickFix is the kind of actions that fix a diagnostic.
const QuickFix CodeActionKind = "quickfix"

// CodeAction is a change offered for a range of a document. Data survives the
// round trip from textDocument/codeAction to codeAction/resolve. When both Edit
// and Command are set the client applies the edit first.
type CodeAction struct {
	Title       string          `json:"title"`
	Kind        CodeActionKind  `json:"kind,omitempty"`
	Diagnostics []Diagnostic    `json:"diagnostics,omitempty"`
	Edit        *WorkspaceEdit  `json:"edit,omitempty"`
	Command     *Command        `json:"command,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Command references a command registered by the server through
// executeCommandProvider.
type Command struct {
	Title     string            `json:"title"`
	Command   string            `json:"command"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// CodeActionOptions is the codeActionProvider server capability.
type CodeActionOptions struct {
	CodeActionKinds []CodeActionKind `json:"codeActionKinds,omitempty"`
	ResolveProvider bool             `json:"resolveProvider,omitempty"`
}
