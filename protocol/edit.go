package protocol

// TextEdit is a textual edit applicable to a text document.
type TextEdit struct {
	// The range of the text document to be manipulated. To insert
	// text into a document create a range where start === end.
	Range Range `json:"range"`
	// The string to be inserted. For delete operations use an
	// empty string.
	NewText string `json:"newText"`
}

// TextDocumentEdit describes textual changes on a single versioned document.
type TextDocumentEdit struct {
	TextDocument VersionedTextDocumentIdentifier `json:"textDocument"`
	Edits        []TextEdit                      `json:"edits"`
}

// WorkspaceEdit represents changes to many resources managed in the workspace.
type WorkspaceEdit struct {
	Changes         map[DocumentURI][]TextEdit `json:"changes,omitempty"`
	DocumentChanges []TextDocumentEdit         `json:"documentChanges,omitempty"`
}

// NewWorkspaceEdit builds a WorkspaceEdit carrying edits for one versioned document.
func NewWorkspaceEdit(uri DocumentURI, version int, edits ...TextEdit) WorkspaceEdit {
	return WorkspaceEdit{
		DocumentChanges: []TextDocumentEdit{
			{
				TextDocument: VersionedTextDocumentIdentifier{
					TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
					Version:                version,
				},
				Edits: edits,
			},
		},
	}
}
