package completion

import (
	"github.com/akhenakh/biceplsp/syntax"
)

// Classify maps the enclosing construct and the cursor relation to a snippet
// context. It has no side effects; positions it does not recognise yield None.
func Classify(c syntax.Cursor) Context {
	frame := c.Innermost()

	switch c.Relation {
	case syntax.LineStart:
		switch frame.Kind {
		case syntax.FrameFile:
			return Context{Kind: TopLevelDeclaration}
		case syntax.FrameResourceBody:
			if frame.Decl != nil {
				return Context{Kind: NestedResourceDeclaration, Header: frame.Decl.Type}
			}
		case syntax.FrameArray:
			if frame.Decl == nil {
				return Context{Kind: ObjectBodyInArray}
			}
		}

	case syntax.AfterAssign:
		if c.Pending == nil {
			break
		}
		switch c.Pending.Keyword {
		case "resource":
			return Context{Kind: ResourceBody, Header: c.Pending.Type}
		case "module":
			return Context{Kind: ModuleBody, Header: c.Pending.Type}
		}

	case syntax.AfterColon:
		switch frame.Kind {
		case syntax.FrameObject, syntax.FrameResourceBody, syntax.FrameModuleBody:
			return Context{Kind: ObjectBody}
		}
	}
	return Context{Kind: None}
}

// ClassifyText scans text at the byte offset and classifies the result.
// It returns ErrClassificationAmbiguous when no snippet context applies.
func ClassifyText(text string, offset int) (Context, error) {
	cc := Classify(syntax.Scan(text, offset))
	if cc.Kind == None {
		return cc, ErrClassificationAmbiguous
	}
	return cc, nil
}
