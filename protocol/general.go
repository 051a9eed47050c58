package protocol

import (
	"encoding/json"
	"slices"
)

// ClientInfo information about the client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams parameters for the initialize request.
type InitializeParams struct {
	ProcessID             *int               `json:"processId,omitempty"`
	ClientInfo            *ClientInfo        `json:"clientInfo,omitempty"`
	RootURI               *DocumentURI       `json:"rootUri,omitempty"`
	InitializationOptions json.RawMessage    `json:"initializationOptions,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	Trace                 string             `json:"trace,omitempty"` // off, messages, verbose
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders,omitempty"`
}

// WorkspaceFolder information.
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ClientCapabilities defines the capabilities provided by the client.
// Only the fields the server acts on are modelled.
type ClientCapabilities struct {
	Workspace    *WorkspaceClientCapabilities    `json:"workspace,omitempty"`
	TextDocument *TextDocumentClientCapabilities `json:"textDocument,omitempty"`
}

// SupportsApplyEdit reports whether the client accepts workspace/applyEdit requests.
func (c ClientCapabilities) SupportsApplyEdit() bool {
	return c.Workspace != nil && c.Workspace.ApplyEdit
}

// SupportsCodeActionResolve reports whether the client can lazily resolve the
// named code action property (e.g. "command" or "edit").
func (c ClientCapabilities) SupportsCodeActionResolve(property string) bool {
	if c.TextDocument == nil || c.TextDocument.CodeAction == nil || c.TextDocument.CodeAction.ResolveSupport == nil {
		return false
	}
	return slices.Contains(c.TextDocument.CodeAction.ResolveSupport.Properties, property)
}

// WorkspaceClientCapabilities workspace specific client capabilities.
type WorkspaceClientCapabilities struct {
	ApplyEdit bool `json:"applyEdit,omitempty"`
}

// TextDocumentClientCapabilities text document specific client capabilities.
type TextDocumentClientCapabilities struct {
	Synchronization *TextDocumentSyncClientCapabilities `json:"synchronization,omitempty"`
	Completion      *CompletionClientCapabilities       `json:"completion,omitempty"`
	CodeAction      *CodeActionClientCapabilities       `json:"codeAction,omitempty"`
}

// TextDocumentSyncClientCapabilities capabilities for text document synchronization.
type TextDocumentSyncClientCapabilities struct {
	DidSave bool `json:"didSave,omitempty"`
}

// CompletionClientCapabilities capabilities specific to completion requests.
type CompletionClientCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
	CompletionItem      *struct {
		SnippetSupport bool `json:"snippetSupport,omitempty"`
		ResolveSupport *struct {
			Properties []string `json:"properties"`
		} `json:"resolveSupport,omitempty"`
	} `json:"completionItem,omitempty"`
}

// CodeActionClientCapabilities capabilities specific to the `textDocument/codeAction` request.
type CodeActionClientCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
	// Since LSP 3.8.0
	CodeActionLiteralSupport *CodeActionLiteralSupport `json:"codeActionLiteralSupport,omitempty"`
	// Since LSP 3.16.0
	ResolveSupport *CodeActionResolveSupport `json:"resolveSupport,omitempty"`
	// Since LSP 3.15.0
	IsPreferredSupport bool `json:"isPreferredSupport,omitempty"`
	// Since LSP 3.16.0
	DataSupport bool `json:"dataSupport,omitempty"`
}

// CodeActionLiteralSupport defines the code action kinds that the client supports for literals.
type CodeActionLiteralSupport struct {
	CodeActionKind CodeActionKindCapability `json:"codeActionKind"`
}

// CodeActionKindCapability defines the supported CodeActionKinds.
type CodeActionKindCapability struct {
	ValueSet []CodeActionKind `json:"valueSet"`
}

// CodeActionResolveSupport defines the properties that a client can resolve lazily.
type CodeActionResolveSupport struct {
	Properties []string `json:"properties"` // e.g., ["edit", "command"]
}

// MarkupKind describes the content type that a client supports in various
// result literals like `Hover`, `ParameterInformation` or `CompletionItem`.
type MarkupKind string

const (
	PlainText MarkupKind = "plaintext"
	Markdown  MarkupKind = "markdown"
)

// InitializeResult result of the initialize request.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerInfo information about the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerCapabilities defines the capabilities provided by the server.
type ServerCapabilities struct {
	TextDocumentSync       *TextDocumentSyncOptions `json:"textDocumentSync,omitempty"`
	CompletionProvider     *CompletionOptions       `json:"completionProvider,omitempty"`
	CodeActionProvider     *CodeActionOptions       `json:"codeActionProvider,omitempty"`
	ExecuteCommandProvider *ExecuteCommandOptions   `json:"executeCommandProvider,omitempty"`
}

// TextDocumentSyncOptions defines how text documents are synced.
type TextDocumentSyncOptions struct {
	OpenClose bool                 `json:"openClose,omitempty"`
	Change    TextDocumentSyncKind `json:"change,omitempty"`
}

// TextDocumentSyncKind defines the type of sync notifications.
type TextDocumentSyncKind int

const (
	// None documents should not be synced at all.
	SyncNone TextDocumentSyncKind = 0
	// Full documents are synced by sending the full content on change.
	SyncFull TextDocumentSyncKind = 1
	// Incremental documents are synced by sending incremental changes.
	SyncIncremental TextDocumentSyncKind = 2
)

// CompletionOptions server options for completion requests.
type CompletionOptions struct {
	ResolveProvider   bool     `json:"resolveProvider,omitempty"`
	TriggerCharacters []string `json:"triggerCharacters,omitempty"`
}

// InitializedParams parameters for the initialized notification. Empty struct.
type InitializedParams struct{}

// ExecuteCommandParams parameters for the workspace/executeCommand request.
type ExecuteCommandParams struct {
	// The identifier of the actual command handler.
	Command string `json:"command"`
	// Arguments that the command handler should be invoked with.
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// ExecuteCommandOptions lists the commands the server executes.
type ExecuteCommandOptions struct {
	Commands []string `json:"commands"`
}

// CancelParams parameters for the $/cancelRequest notification.
type CancelParams struct {
	ID json.RawMessage `json:"id"` // number | string
}

// ApplyWorkspaceEditParams parameters for `workspace/applyEdit` request.
type ApplyWorkspaceEditParams struct {
	// An optional label of the edit, shown for example as the undo label.
	Label string `json:"label,omitempty"`
	// The edits to apply.
	Edit WorkspaceEdit `json:"edit"`
}

// ApplyWorkspaceEditResponse result for `workspace/applyEdit` request.
type ApplyWorkspaceEditResponse struct {
	Applied       bool   `json:"applied"`
	FailureReason string `json:"failureReason,omitempty"`
}
