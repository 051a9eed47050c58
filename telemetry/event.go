// Package telemetry models usage telemetry events and delivers them to the
// client as out-of-band telemetry/event notifications.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload is returned when a command argument is not a valid Event.
	ErrMalformedPayload = errors.New("malformed telemetry payload")

	// ErrChannelClosed indicates the notification target went away before the send.
	ErrChannelClosed = errors.New("telemetry channel closed")

	// ErrBacklogFull indicates the emitter queue was full and the event was dropped.
	ErrBacklogFull = errors.New("telemetry backlog full")
)

// EventName identifies a telemetry event. Only the names declared below are valid.
type EventName string

const (
	TopLevelDeclarationSnippetInsertion       EventName = "TopLevelDeclarationSnippetInsertion"
	NestedResourceDeclarationSnippetInsertion EventName = "NestedResourceDeclarationSnippetInsertion"
	ResourceBodySnippetInsertion              EventName = "ResourceBodySnippetInsertion"
	ObjectBodySnippetInsertion                EventName = "ObjectBodySnippetInsertion"
	ModuleBodySnippetInsertion                EventName = "ModuleBodySnippetInsertion"
	DisableNextLineDiagnostics                EventName = "DisableNextLineDiagnostics"
)

var knownEventNames = map[EventName]struct{}{
	TopLevelDeclarationSnippetInsertion:       {},
	NestedResourceDeclarationSnippetInsertion: {},
	ResourceBodySnippetInsertion:              {},
	ObjectBodySnippetInsertion:                {},
	ModuleBodySnippetInsertion:                {},
	DisableNextLineDiagnostics:                {},
}

// Valid reports whether n is one of the recognized event names.
func (n EventName) Valid() bool {
	_, ok := knownEventNames[n]
	return ok
}

// Property keys used by the server's events.
const (
	PropertyName = "name"
	PropertyType = "type"
	PropertyCode = "code"
)

// Event is a named usage signal with string properties. It is the payload of
// the telemetry/event notification.
type Event struct {
	EventName  EventName  `json:"eventName"`
	Properties Properties `json:"properties"`
}

// NewEvent creates an event with properties given as alternating key/value pairs.
func NewEvent(name EventName, kv ...string) Event {
	return Event{EventName: name, Properties: NewProperties(kv...)}
}

// Validate checks the event name against the recognized set.
func (e Event) Validate() error {
	if e.EventName == "" {
		return fmt.Errorf("%w: missing event name", ErrMalformedPayload)
	}
	if !e.EventName.Valid() {
		return fmt.Errorf("%w: unknown event name %q", ErrMalformedPayload, e.EventName)
	}
	return nil
}

// Equal reports whether two events have the same name and ordered properties.
func (e Event) Equal(o Event) bool {
	return e.EventName == o.EventName && e.Properties.Equal(o.Properties)
}

// Encode returns the canonical JSON encoding of e.
func (e Event) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode telemetry event: %w", err)
	}
	return data, nil
}

// Decode parses and validates a serialized Event. Any failure wraps ErrMalformedPayload.
func Decode(raw json.RawMessage) (Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return Event{}, fmt.Errorf("%w: empty argument", ErrMalformedPayload)
	}

	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
