package protocol

import "encoding/json"

// CompletionParams parameters for textDocument/completion request. The
// trigger context is not used and not decoded.
type CompletionParams struct {
	TextDocumentPositionParams
}

// CompletionList represents a list of completion items.
type CompletionList struct {
	// This list it not complete. Further typing should result in recomputing
	// this list.
	IsIncomplete bool `json:"isIncomplete"`
	// The completion items.
	Items []CompletionItem `json:"items"`
}

// CompletionItem represents a single completion suggestion.
type CompletionItem struct {
	// The label of this completion item. By default
	// also the text that is inserted when selecting
	// this completion.
	Label string `json:"label"`
	// The kind of this completion item. Based of the kind
	// an icon is chosen by the editor.
	Kind *CompletionItemKind `json:"kind,omitempty"`
	// A human-readable string with additional information
	// about this item, like type or symbol information.
	Detail string `json:"detail,omitempty"`
	// A human-readable string that represents a doc-comment.
	Documentation *MarkupContent `json:"documentation,omitempty"`
	// A string that should be used when comparing this item
	// with other items.
	SortText string `json:"sortText,omitempty"`
	// A string that should be inserted into a document when selecting
	// this completion. When `falsy` the label is used.
	InsertText string `json:"insertText,omitempty"`
	// The format of the insert text.
	InsertTextFormat *InsertTextFormat `json:"insertTextFormat,omitempty"`
	// An edit which is applied to a document when selecting this completion.
	TextEdit *TextEdit `json:"textEdit,omitempty"`
	// An optional command that is executed *after* inserting this completion.
	Command *Command `json:"command,omitempty"`
	// A data entry field that is preserved on a completion item between
	// a completion and a completion resolve request.
	Data json.RawMessage `json:"data,omitempty"`
}

// CompletionItemKind specifies the kind of completion item.
type CompletionItemKind int

// Defined kinds (subset)
const (
	Text          CompletionItemKind = 1
	Method        CompletionItemKind = 2
	Function      CompletionItemKind = 3
	Constructor   CompletionItemKind = 4
	Field         CompletionItemKind = 5
	Variable      CompletionItemKind = 6
	Class         CompletionItemKind = 7
	Interface     CompletionItemKind = 8
	Module        CompletionItemKind = 9
	Property      CompletionItemKind = 10
	Unit          CompletionItemKind = 11
	Value         CompletionItemKind = 12
	Enum          CompletionItemKind = 13
	Keyword       CompletionItemKind = 14
	Snippet       CompletionItemKind = 15
	Color         CompletionItemKind = 16
	File          CompletionItemKind = 17
	Reference     CompletionItemKind = 18
	Folder        CompletionItemKind = 19
	EnumMember    CompletionItemKind = 20
	Constant      CompletionItemKind = 21
	Struct        CompletionItemKind = 22
	Event         CompletionItemKind = 23
	Operator      CompletionItemKind = 24
	TypeParameter CompletionItemKind = 25
)

// InsertTextFormat defines whether the insert text is plaintext or a snippet.
type InsertTextFormat int

const (
	// PlainTextFormat the insert text is treated as plain text.
	PlainTextFormat InsertTextFormat = 1
	// SnippetFormat the insert text is treated as a snippet.
	SnippetFormat InsertTextFormat = 2
)
