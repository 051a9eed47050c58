package server

import (
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/akhenakh/biceplsp/protocol"
)

// Option defines a function signature for configuring the Server.
type Option func(*options)

type options struct {
	stream   io.ReadWriter
	logger   *zap.Logger
	info     protocol.ServerInfo
	commands []string
	kinds    []protocol.CodeActionKind
	triggers []string
}

func defaultOptions() *options {
	return &options{
		stream: ReadWriter{os.Stdin, os.Stdout},
		logger: zap.NewNop(),
		info:   protocol.ServerInfo{Name: "bicep-lsp"},
	}
}

// WithStream sets the input/output stream for the server connection.
// Defaults to stdin/stdout.
func WithStream(rw io.ReadWriter) Option {
	return func(o *options) {
		o.stream = rw
	}
}

// WithLogger sets the logger used by the server.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithServerInfo sets the name and version reported in the initialize result.
func WithServerInfo(name, version string) Option {
	return func(o *options) {
		o.info = protocol.ServerInfo{Name: name, Version: version}
	}
}

// WithCommands lists the workspace/executeCommand identifiers advertised to the client.
func WithCommands(commands ...string) Option {
	return func(o *options) {
		o.commands = append(o.commands, commands...)
	}
}

// WithCodeActionKinds lists the code action kinds advertised to the client.
func WithCodeActionKinds(kinds ...protocol.CodeActionKind) Option {
	return func(o *options) {
		o.kinds = append(o.kinds, kinds...)
	}
}

// WithCompletionTriggers sets the characters that trigger completion.
func WithCompletionTriggers(chars ...string) Option {
	return func(o *options) {
		o.triggers = append(o.triggers, chars...)
	}
}

// ReadWriter combines an io.Reader and io.Writer into an io.ReadWriter.
type ReadWriter struct {
	io.Reader
	io.Writer
}

// Close closes the underlying streams that support it, each once.
func (rw ReadWriter) Close() error {
	var errR, errW error
	cR, okR := rw.Reader.(io.Closer)
	cW, okW := rw.Writer.(io.Closer)

	if okR {
		errR = cR.Close()
	}
	if okW && (!okR || cR != cW) {
		errW = cW.Close()
	}
	if errR != nil {
		return errR
	}
	return errW
}
