// Package completion offers Bicep snippets at a cursor position and builds the
// deferred telemetry command attached to each accepted snippet.
package completion

import (
	"errors"
	"fmt"

	"github.com/akhenakh/biceplsp/telemetry"
)

var (
	// ErrClassificationAmbiguous is returned when no snippet context applies at a position.
	ErrClassificationAmbiguous = errors.New("no snippet context at position")

	// ErrUnknownSnippetLabel is returned when a resolve names a snippet the catalog does not hold.
	ErrUnknownSnippetLabel = errors.New("unknown snippet label")

	// ErrDuplicateDefinition is returned when two catalog entries share kind, label and type filters.
	ErrDuplicateDefinition = errors.New("duplicate snippet definition")
)

// Kind is the syntactic situation at a cursor position that decides which snippets apply.
type Kind int

const (
	None Kind = iota
	TopLevelDeclaration
	NestedResourceDeclaration
	ResourceBody
	ObjectBody
	ObjectBodyInArray
	ModuleBody
)

var kindNames = map[Kind]string{
	None:                      "None",
	TopLevelDeclaration:       "TopLevelDeclaration",
	NestedResourceDeclaration: "NestedResourceDeclaration",
	ResourceBody:              "ResourceBody",
	ObjectBody:                "ObjectBody",
	ObjectBodyInArray:         "ObjectBodyInArray",
	ModuleBody:                "ModuleBody",
}

// Kinds lists the snippet-bearing kinds in display order.
var Kinds = []Kind{
	TopLevelDeclaration,
	NestedResourceDeclaration,
	ResourceBody,
	ObjectBody,
	ObjectBodyInArray,
	ModuleBody,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("invalid context kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown context kind %q", text)
}

// EventName returns the telemetry event recorded when a snippet of this kind is accepted.
func (k Kind) EventName() (telemetry.EventName, bool) {
	switch k {
	case TopLevelDeclaration:
		return telemetry.TopLevelDeclarationSnippetInsertion, true
	case NestedResourceDeclaration:
		return telemetry.NestedResourceDeclarationSnippetInsertion, true
	case ResourceBody:
		return telemetry.ResourceBodySnippetInsertion, true
	case ObjectBody, ObjectBodyInArray:
		return telemetry.ObjectBodySnippetInsertion, true
	case ModuleBody:
		return telemetry.ModuleBodySnippetInsertion, true
	}
	return "", false
}

// Context is a classified cursor position. Header is the declaration text the
// snippets depend on: the resource type for ResourceBody, the parent resource
// type for NestedResourceDeclaration and the module path for ModuleBody.
type Context struct {
	Kind   Kind
	Header string
}
