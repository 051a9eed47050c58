package protocol

// LSP method names handled or sent by the server.
const (
	// Text Document Synchronization
	MethodTextDocumentDidOpen   = "textDocument/didOpen"
	MethodTextDocumentDidChange = "textDocument/didChange"
	MethodTextDocumentDidClose  = "textDocument/didClose"

	// Language Features
	MethodTextDocumentCompletion = "textDocument/completion"
	MethodCompletionItemResolve  = "completionItem/resolve"
	MethodTextDocumentCodeAction = "textDocument/codeAction"
	MethodCodeActionResolve      = "codeAction/resolve"

	// Workspace Features
	MethodWorkspaceExecuteCommand = "workspace/executeCommand"
	MethodWorkspaceApplyEdit      = "workspace/applyEdit"

	// Telemetry
	MethodTelemetryEvent = "telemetry/event"

	// General Lifecycle
	MethodInitialize    = "initialize"
	MethodInitialized   = "initialized"
	MethodShutdown      = "shutdown"
	MethodExit          = "exit"
	MethodCancelRequest = "$/cancelRequest"
)
