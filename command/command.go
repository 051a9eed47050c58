// Package command defines the commands the server executes on behalf of the
// client and dispatches them to the document store and the telemetry emitter.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/akhenakh/biceplsp/protocol"
	"github.com/akhenakh/biceplsp/telemetry"
)

// Command identifiers registered with the client.
const (
	Telemetry       = "bicep.Telemetry"
	DisableNextLine = "bicep.disableNextLine"
)

// Names lists the commands advertised in executeCommandProvider.
var Names = []string{Telemetry, DisableNextLine}

// ErrUnknownCommand is returned for commands this server does not execute.
var ErrUnknownCommand = errors.New("unknown command")

var ruleCodePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)

// ValidRuleCode reports whether code can be named in a #disable-next-line comment.
func ValidRuleCode(code string) bool {
	return ruleCodePattern.MatchString(code)
}

// Action is a decoded command. It is either SnippetTelemetry or SuppressDiagnostic.
type Action interface {
	// Event is the telemetry recorded once the action has run.
	Event() telemetry.Event
	isAction()
}

// SnippetTelemetry records the acceptance of a snippet completion.
type SnippetTelemetry struct {
	Telemetry telemetry.Event
}

func (a SnippetTelemetry) Event() telemetry.Event { return a.Telemetry }
func (SnippetTelemetry) isAction() {}

// SuppressDiagnostic inserts a #disable-next-line comment for a rule and
// records it. Edit is nil when the client applies the edit itself.
type SuppressDiagnostic struct {
	Code    string
	URI     protocol.DocumentURI
	Version int
	Edit    *protocol.TextEdit
}

func (a SuppressDiagnostic) Event() telemetry.Event {
	return telemetry.NewEvent(telemetry.DisableNextLineDiagnostics, telemetry.PropertyCode, a.Code)
}
func (SuppressDiagnostic) isAction() {}

// suppressArgs is the wire form of the first DisableNextLine argument.
type suppressArgs struct {
	Code    string               `json:"code"`
	URI     protocol.DocumentURI `json:"uri,omitempty"`
	Version int                  `json:"version,omitempty"`
	Edit    *protocol.TextEdit   `json:"edit,omitempty"`
}

// NewTelemetry builds the command attached to a snippet completion item.
func NewTelemetry(ev telemetry.Event) (protocol.Command, error) {
	if err := ev.Validate(); err != nil {
		return protocol.Command{}, err
	}
	arg, err := ev.Encode()
	if err != nil {
		return protocol.Command{}, err
	}
	return protocol.Command{
		Title:     "snippet telemetry",
		Command:   Telemetry,
		Arguments: []json.RawMessage{arg},
	}, nil
}

// NewSuppress builds the command attached to a resolved suppression code action.
func NewSuppress(a SuppressDiagnostic) (protocol.Command, error) {
	if !ValidRuleCode(a.Code) {
		return protocol.Command{}, fmt.Errorf("%w: invalid rule code %q", telemetry.ErrMalformedPayload, a.Code)
	}
	arg, err := json.Marshal(suppressArgs{Code: a.Code, URI: a.URI, Version: a.Version, Edit: a.Edit})
	if err != nil {
		return protocol.Command{}, fmt.Errorf("encode suppress arguments: %w", err)
	}
	return protocol.Command{
		Title:     "Disable " + a.Code,
		Command:   DisableNextLine,
		Arguments: []json.RawMessage{arg},
	}, nil
}

// Decode validates an executeCommand request and returns its Action. Argument
// problems wrap telemetry.ErrMalformedPayload.
func Decode(params protocol.ExecuteCommandParams) (Action, error) {
	switch params.Command {
	case Telemetry:
		arg, err := firstArgument(params)
		if err != nil {
			return nil, err
		}
		ev, err := telemetry.Decode(arg)
		if err != nil {
			return nil, err
		}
		return SnippetTelemetry{Telemetry: ev}, nil

	case DisableNextLine:
		arg, err := firstArgument(params)
		if err != nil {
			return nil, err
		}
		var args suppressArgs
		dec := json.NewDecoder(bytes.NewReader(arg))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&args); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", telemetry.ErrMalformedPayload, params.Command, err)
		}
		if !ValidRuleCode(args.Code) {
			return nil, fmt.Errorf("%w: %s: invalid rule code %q", telemetry.ErrMalformedPayload, params.Command, args.Code)
		}
		if args.Edit != nil && args.URI == "" {
			return nil, fmt.Errorf("%w: %s: edit without document uri", telemetry.ErrMalformedPayload, params.Command)
		}
		return SuppressDiagnostic{Code: args.Code, URI: args.URI, Version: args.Version, Edit: args.Edit}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, params.Command)
}

func firstArgument(params protocol.ExecuteCommandParams) (json.RawMessage, error) {
	if len(params.Arguments) == 0 {
		return nil, fmt.Errorf("%w: %s: missing argument", telemetry.ErrMalformedPayload, params.Command)
	}
	arg := bytes.TrimSpace(params.Arguments[0])
	if len(arg) == 0 || arg[0] != '{' {
		return nil, fmt.Errorf("%w: %s: argument must be an object", telemetry.ErrMalformedPayload, params.Command)
	}
	return arg, nil
}
