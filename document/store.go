// Package document keeps the text of open documents. Operations on one
// document are serialized; different documents proceed independently.
package document

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/akhenakh/biceplsp/protocol"
)

var (
	// ErrNotFound is returned for documents that are not open.
	ErrNotFound = errors.New("document not found")

	// ErrVersionMismatch is returned when an edit targets another version of the document.
	ErrVersionMismatch = errors.New("document version mismatch")

	// ErrPositionOutOfRange is returned for positions outside the document text.
	ErrPositionOutOfRange = errors.New("position out of range")
)

// Document is an immutable snapshot of an open document.
type Document struct {
	URI        protocol.DocumentURI
	LanguageID string
	Version    int
	Text       string
}

type entry struct {
	mu     sync.Mutex
	doc    Document
	closed bool
}

// Store holds open documents keyed by URI.
type Store struct {
	mu     sync.RWMutex
	docs   map[protocol.DocumentURI]*entry
	logger *zap.Logger
}

// NewStore creates an empty Store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		docs:   make(map[protocol.DocumentURI]*entry),
		logger: logger,
	}
}

func (s *Store) entry(uri protocol.DocumentURI) (*entry, error) {
	s.mu.RLock()
	e, ok := s.docs[uri]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return e, nil
}

// Open stores a document, replacing any previous content for the URI.
func (s *Store) Open(item protocol.TextDocumentItem) {
	e := &entry{doc: Document{
		URI:        item.URI,
		LanguageID: item.LanguageID,
		Version:    item.Version,
		Text:       item.Text,
	}}

	s.mu.Lock()
	prev := s.docs[item.URI]
	s.docs[item.URI] = e
	s.mu.Unlock()

	if prev != nil {
		prev.mu.Lock()
		prev.closed = true
		prev.mu.Unlock()
	}
	s.logger.Debug("document opened", zap.String("uri", string(item.URI)), zap.Int("version", item.Version))
}

// Change applies content changes reported by the client and returns the
// updated snapshot. The client owns the text: changes are applied even when
// their version is not newer than the stored one.
func (s *Store) Change(uri protocol.DocumentURI, version int, changes []protocol.TextDocumentContentChangeEvent) (Document, error) {
	e, err := s.entry(uri)
	if err != nil {
		return Document{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if version <= e.doc.Version {
		s.logger.Warn("change does not advance document version",
			zap.String("uri", string(uri)),
			zap.Int("version", version),
			zap.Int("current", e.doc.Version))
	}

	text := e.doc.Text
	for _, change := range changes {
		if change.Range == nil {
			text = change.Text
			continue
		}
		text = replaceRange(text, *change.Range, change.Text)
	}
	e.doc.Text = text
	e.doc.Version = version
	return e.doc, nil
}

// Close forgets a document. Holders of a snapshot keep it; pending edits fail
// with ErrNotFound.
func (s *Store) Close(uri protocol.DocumentURI) {
	s.mu.Lock()
	e, ok := s.docs[uri]
	delete(s.docs, uri)
	s.mu.Unlock()

	if ok {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
	}
	s.logger.Debug("document closed", zap.String("uri", string(uri)))
}

// Get returns a snapshot of the document.
func (s *Store) Get(uri protocol.DocumentURI) (Document, error) {
	e, err := s.entry(uri)
	if err != nil {
		return Document{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return e.doc, nil
}

// With runs fn with the document locked so no edit can interleave.
func (s *Store) With(uri protocol.DocumentURI, fn func(Document) error) error {
	e, err := s.entry(uri)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return fn(e.doc)
}

func replaceRange(text string, r protocol.Range, newText string) string {
	start := clampedOffset(text, r.Start)
	end := clampedOffset(text, r.End)
	if end < start {
		end = start
	}
	return text[:start] + newText + text[end:]
}
