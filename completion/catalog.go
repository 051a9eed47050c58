package completion

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/akhenakh/biceplsp/telemetry"
)

//go:embed snippets.yaml
var builtinSnippets []byte

// Definition is a snippet registered in the catalog. Definitions are read-only
// once the catalog is built.
type Definition struct {
	Label  string `yaml:"label"`
	Kind   Kind   `yaml:"kind"`
	Detail string `yaml:"detail,omitempty"`
	// ResourceType restricts a ResourceBody snippet to one resource type.
	ResourceType string `yaml:"resourceType,omitempty"`
	// ParentType restricts a NestedResourceDeclaration snippet to one parent resource type.
	ParentType string `yaml:"parentType,omitempty"`
	// Body is the snippet text. It is passed to the client untouched.
	Body string `yaml:"body"`

	order int
}

// Order is the registration index of the definition.
func (d Definition) Order() int { return d.order }

// Event builds the telemetry event recorded when d is accepted with the given
// declaration header. The name property always carries the label; ResourceBody
// snippets also carry the resource type exactly as declared.
func (d Definition) Event(header string) (telemetry.Event, error) {
	name, ok := d.Kind.EventName()
	if !ok {
		return telemetry.Event{}, fmt.Errorf("snippet %q has no telemetry for kind %s", d.Label, d.Kind)
	}
	ev := telemetry.NewEvent(name, telemetry.PropertyName, d.Label)
	if d.Kind == ResourceBody {
		ev.Properties.Set(telemetry.PropertyType, header)
	}
	return ev, nil
}

func (d Definition) applies(cc Context) bool {
	if d.Kind != cc.Kind {
		return false
	}
	switch {
	case d.ResourceType != "":
		return cc.Kind == ResourceBody && sameType(d.ResourceType, cc.Header)
	case d.ParentType != "":
		return cc.Kind == NestedResourceDeclaration && sameType(d.ParentType, cc.Header)
	}
	return true
}

type definitionKey struct {
	kind         Kind
	label        string
	resourceType string
	parentType   string
}

func (d Definition) key() definitionKey {
	return definitionKey{
		kind:         d.Kind,
		label:        d.Label,
		resourceType: normalizeType(d.ResourceType),
		parentType:   normalizeType(d.ParentType),
	}
}

// Catalog holds snippet definitions in registration order.
type Catalog struct {
	defs []Definition
	keys map[definitionKey]int
}

// NewCatalog registers defs in order. Definitions must have a label and a
// snippet-bearing kind, and no two may share kind, label and type filters.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{keys: make(map[definitionKey]int, len(defs))}
	for _, d := range defs {
		if err := c.register(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) register(d Definition) error {
	if d.Label == "" {
		return fmt.Errorf("snippet %d: missing label", len(c.defs))
	}
	if _, ok := d.Kind.EventName(); !ok {
		return fmt.Errorf("snippet %q: kind %s cannot hold snippets", d.Label, d.Kind)
	}
	if d.ResourceType != "" && d.Kind != ResourceBody {
		return fmt.Errorf("snippet %q: resourceType is only valid for %s", d.Label, ResourceBody)
	}
	if d.ParentType != "" && d.Kind != NestedResourceDeclaration {
		return fmt.Errorf("snippet %q: parentType is only valid for %s", d.Label, NestedResourceDeclaration)
	}

	k := d.key()
	if prev, ok := c.keys[k]; ok {
		return fmt.Errorf("%w: %q (%s) registered at %d and %d", ErrDuplicateDefinition, d.Label, d.Kind, prev, len(c.defs))
	}
	d.order = len(c.defs)
	c.keys[k] = d.order
	c.defs = append(c.defs, d)
	return nil
}

// LoadCatalog reads a YAML list of definitions.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var defs []Definition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode snippet catalog: %w", err)
	}
	return NewCatalog(defs...)
}

var builtin = sync.OnceValues(func() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(builtinSnippets))
})

// Builtin returns the catalog shipped with the server.
func Builtin() (*Catalog, error) { return builtin() }

// Lookup returns the definitions applicable to cc in registration order.
func (c *Catalog) Lookup(cc Context) []Definition {
	var out []Definition
	for _, d := range c.defs {
		if d.applies(cc) {
			out = append(out, d)
		}
	}
	return out
}

// Find returns the first definition applicable to cc with the given label.
func (c *Catalog) Find(cc Context, label string) (Definition, bool) {
	for _, d := range c.defs {
		if d.Label == label && d.applies(cc) {
			return d, true
		}
	}
	return Definition{}, false
}

// All returns every definition in registration order.
func (c *Catalog) All() []Definition {
	return append([]Definition(nil), c.defs...)
}

// Len returns the number of registered definitions.
func (c *Catalog) Len() int { return len(c.defs) }

// normalizeType drops the API version and case from a resource type.
func normalizeType(t string) string {
	t, _, _ = strings.Cut(t, "@")
	return strings.ToLower(strings.TrimSpace(t))
}

func sameType(a, b string) bool {
	return a != "" && normalizeType(a) == normalizeType(b)
}
