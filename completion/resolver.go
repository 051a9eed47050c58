package completion

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/akhenakh/biceplsp/command"
	"github.com/akhenakh/biceplsp/protocol"
)

// itemData is carried in CompletionItem.Data between completion and resolve.
// Field order is fixed so the encoding is stable.
type itemData struct {
	Kind   Kind   `json:"kind"`
	Label  string `json:"label"`
	Header string `json:"header,omitempty"`
}

// Resolver turns catalog definitions into completion items and materializes
// their telemetry command on resolve.
type Resolver struct {
	catalog *Catalog
	eager   bool
	logger  *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithEagerCommands attaches the telemetry command to every candidate instead of
// waiting for resolve. Some clients never send completionItem/resolve.
func WithEagerCommands(eager bool) ResolverOption {
	return func(r *Resolver) { r.eager = eager }
}

// WithLogger sets the resolver logger.
func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver over catalog.
func NewResolver(catalog *Catalog, opts ...ResolverOption) *Resolver {
	r := &Resolver{catalog: catalog, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the catalog backing the resolver.
func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Candidates returns one completion item per definition applicable to cc, in
// registration order. A None context yields no items.
func (r *Resolver) Candidates(cc Context) []protocol.CompletionItem {
	if cc.Kind == None {
		return nil
	}
	defs := r.catalog.Lookup(cc)
	items := make([]protocol.CompletionItem, 0, len(defs))
	for _, d := range defs {
		item, err := r.item(d, cc, r.eager)
		if err != nil {
			r.logger.Warn("skipping snippet", zap.String("label", d.Label), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	recordOffered(cc.Kind, len(items))
	return items
}

// Resolve rebuilds item from its resolve data and attaches the telemetry
// command. The result depends only on (kind, label, header), so resolving the
// same item again produces identical bytes.
func (r *Resolver) Resolve(item protocol.CompletionItem) (protocol.CompletionItem, error) {
	data, err := decodeItemData(item.Data)
	if err != nil {
		return protocol.CompletionItem{}, err
	}
	cc := Context{Kind: data.Kind, Header: data.Header}
	def, ok := r.catalog.Find(cc, data.Label)
	if !ok {
		return protocol.CompletionItem{}, fmt.Errorf("%w: %q for %s", ErrUnknownSnippetLabel, data.Label, data.Kind)
	}
	return r.item(def, cc, true)
}

func (r *Resolver) item(d Definition, cc Context, withCommand bool) (protocol.CompletionItem, error) {
	data, err := json.Marshal(itemData{Kind: d.Kind, Label: d.Label, Header: cc.Header})
	if err != nil {
		return protocol.CompletionItem{}, fmt.Errorf("encode resolve data: %w", err)
	}

	kind := protocol.Snippet
	format := protocol.SnippetFormat
	item := protocol.CompletionItem{
		Label:            d.Label,
		Kind:             &kind,
		Detail:           d.Detail,
		SortText:         fmt.Sprintf("%04d", d.Order()),
		InsertText:       d.Body,
		InsertTextFormat: &format,
		Data:             data,
	}

	if withCommand {
		item.Documentation = &protocol.MarkupContent{
			Kind:  protocol.Markdown,
			Value: "```bicep\n" + d.Body + "\n```",
		}
		ev, err := d.Event(cc.Header)
		if err != nil {
			return protocol.CompletionItem{}, err
		}
		cmd, err := command.NewTelemetry(ev)
		if err != nil {
			return protocol.CompletionItem{}, err
		}
		item.Command = &cmd
	}
	return item, nil
}

func decodeItemData(raw json.RawMessage) (itemData, error) {
	var data itemData
	if len(bytes.TrimSpace(raw)) == 0 {
		return data, fmt.Errorf("%w: completion item has no resolve data", ErrUnknownSnippetLabel)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("%w: invalid resolve data: %v", ErrUnknownSnippetLabel, err)
	}
	if data.Label == "" || data.Kind == None {
		return data, fmt.Errorf("%w: incomplete resolve data", ErrUnknownSnippetLabel)
	}
	return data, nil
}
