// Package syntax is a small structural scanner for Bicep documents. It does not
// build a syntax tree; it only recovers the enclosing brackets, the declaration
// being assigned and the cursor's relation to the surrounding tokens, which is
// enough to decide which snippets apply at a position.
package syntax

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// FrameKind is the kind of construct enclosing a position.
type FrameKind int

const (
	FrameFile FrameKind = iota
	FrameResourceBody
	FrameModuleBody
	FrameObject
	FrameArray
	FrameParen
	FrameInterpolation
)

func (k FrameKind) String() string {
	switch k {
	case FrameFile:
		return "file"
	case FrameResourceBody:
		return "resource-body"
	case FrameModuleBody:
		return "module-body"
	case FrameObject:
		return "object"
	case FrameArray:
		return "array"
	case FrameParen:
		return "paren"
	case FrameInterpolation:
		return "interpolation"
	}
	return "unknown"
}

// Relation describes where the cursor sits relative to the tokens before it.
type Relation int

const (
	// Other covers every position the classifier does not act on.
	Other Relation = iota
	// LineStart means only whitespace, or an identifier-like prefix, precedes
	// the cursor on its line.
	LineStart
	// AfterAssign means the cursor awaits the body of a declaration: it follows
	// the '=' or the closing ')' of an if condition with the rest of the line
	// blank, or the ':' of a declaration loop with only the closing ']' after it.
	AfterAssign
	// AfterColon means the cursor follows an object property colon and the
	// rest of the line is blank.
	AfterColon
	// InsideToken means the cursor is inside a string or a comment.
	InsideToken
	// Invalid means the text up to the cursor could not be scanned.
	Invalid
)

func (r Relation) String() string {
	switch r {
	case LineStart:
		return "line-start"
	case AfterAssign:
		return "after-assign"
	case AfterColon:
		return "after-colon"
	case InsideToken:
		return "inside-token"
	case Invalid:
		return "invalid"
	}
	return "other"
}

// Declaration is a resource or module declaration header.
type Declaration struct {
	Keyword string // "resource" or "module"
	Name    string
	// Type is the declared type string without quotes, kept verbatim
	// (for resources it includes the @version suffix).
	Type string
}

// Frame is one enclosing bracket.
type Frame struct {
	Kind FrameKind
	// Decl is set for resource and module bodies, and for loop arrays whose
	// body will be a resource or module body.
	Decl *Declaration
}

// Cursor is the structural view of a position in a document.
type Cursor struct {
	// Frames holds the enclosing brackets, outermost (the file) first.
	Frames   []Frame
	Relation Relation
	// Prefix is the identifier-like text typed before the cursor when
	// Relation is LineStart.
	Prefix string
	// Pending is the declaration whose body the cursor awaits when
	// Relation is AfterAssign.
	Pending *Declaration
}

// Innermost returns the innermost enclosing frame.
func (c Cursor) Innermost() Frame {
	if len(c.Frames) == 0 {
		return Frame{Kind: FrameFile}
	}
	return c.Frames[len(c.Frames)-1]
}

// Scan returns the structural view of text at the byte offset. Positions that
// cannot be scanned, such as an offset past the end of the text or a closing
// bracket without an opener, report Relation Invalid.
func Scan(text string, offset int) Cursor {
	if offset < 0 || offset > len(text) {
		return Cursor{Relation: Invalid}
	}
	s := scanner{src: text[:offset]}
	s.frames = []Frame{{Kind: FrameFile}}
	s.lineStart = true
	s.run()

	c := Cursor{Frames: s.frames}
	switch {
	case s.err:
		c.Relation = Invalid
	case s.inString || s.inComment || s.inLineComment:
		c.Relation = InsideToken
	default:
		c.Relation, c.Prefix, c.Pending = s.relation(text, offset)
	}
	return c
}

type tokenKind int

const (
	tokIdent tokenKind = iota + 1
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

// declState tracks a `resource name 'type' [existing] =` header as its tokens arrive.
type declState struct {
	stage   int  // 0 idle, 1 keyword, 2 name, 3 type, 4 assigned, 5 condition
	depth   int  // frame depth of the header, used to find the end of an if condition
	guarded bool // the if condition has been closed
	keyword string
	name    string
	typ     string
}

func (d *declState) reset() { *d = declState{} }

func (d *declState) declaration() *Declaration {
	if d.stage < 4 {
		return nil
	}
	return &Declaration{Keyword: d.keyword, Name: d.name, Type: d.typ}
}

type scanner struct {
	src string
	pos int

	frames []Frame
	decl   declState

	last      token
	lineStart bool // no token seen yet on the current line

	inString      bool
	multiline     bool
	inComment     bool
	inLineComment bool
	err           bool
}

func (s *scanner) top() *Frame { return &s.frames[len(s.frames)-1] }

func (s *scanner) push(f Frame) { s.frames = append(s.frames, f) }

func (s *scanner) pop(want ...FrameKind) bool {
	if len(s.frames) <= 1 {
		return false
	}
	top := s.top().Kind
	for _, k := range want {
		if top == k {
			s.frames = s.frames[:len(s.frames)-1]
			return true
		}
	}
	return false
}

func (s *scanner) run() {
	for s.pos < len(s.src) && !s.err {
		switch {
		case s.inString:
			s.scanString()
		case s.inComment:
			s.scanBlockComment()
		case s.inLineComment:
			s.scanLineComment()
		default:
			s.scanToken()
		}
	}
}

func (s *scanner) scanString() {
	for s.pos < len(s.src) {
		if s.multiline {
			if strings.HasPrefix(s.src[s.pos:], "'''") {
				s.pos += 3
				s.inString = false
				return
			}
			s.pos++
			continue
		}
		switch c := s.src[s.pos]; {
		case c == '\\':
			s.pos += 2
		case c == '\'':
			s.pos++
			s.inString = false
			return
		case c == '\n':
			// Single-quoted strings cannot span lines.
			s.err = true
			return
		case strings.HasPrefix(s.src[s.pos:], "${"):
			s.pos += 2
			s.inString = false
			s.push(Frame{Kind: FrameInterpolation})
			return
		default:
			s.pos++
		}
	}
	if s.pos > len(s.src) {
		s.pos = len(s.src)
	}
}

func (s *scanner) scanBlockComment() {
	if i := strings.Index(s.src[s.pos:], "*/"); i >= 0 {
		s.pos += i + 2
		s.inComment = false
		return
	}
	s.pos = len(s.src)
}

func (s *scanner) scanLineComment() {
	if i := strings.IndexByte(s.src[s.pos:], '\n'); i >= 0 {
		s.pos += i
		s.inLineComment = false
		return
	}
	s.pos = len(s.src)
}

func (s *scanner) scanToken() {
	c := s.src[s.pos]
	switch {
	case c == '\n':
		s.pos++
		s.newline()
	case c == ' ' || c == '\t' || c == '\r':
		s.pos++
	case strings.HasPrefix(s.src[s.pos:], "//"):
		s.pos += 2
		s.inLineComment = true
	case strings.HasPrefix(s.src[s.pos:], "/*"):
		s.pos += 2
		s.inComment = true
	case strings.HasPrefix(s.src[s.pos:], "'''"):
		s.pos += 3
		s.inString, s.multiline = true, true
		s.emit(token{kind: tokString})
	case c == '\'':
		start := s.pos + 1
		s.pos++
		s.inString, s.multiline = true, false
		s.scanString()
		if !s.inString && !s.err && s.top().Kind != FrameInterpolation {
			s.emit(token{kind: tokString, text: s.src[start : s.pos-1]})
		} else {
			s.emit(token{kind: tokString})
		}
	case c >= utf8.RuneSelf:
		r, size := utf8.DecodeRuneInString(s.src[s.pos:])
		s.pos += size
		if isIdentStart(r) {
			s.scanIdent(s.pos - size)
		} else {
			s.emit(token{kind: tokPunct, text: string(r)})
		}
	case isIdentStart(rune(c)):
		s.pos++
		s.scanIdent(s.pos - 1)
	default:
		s.pos++
		s.punct(c)
	}
}

func (s *scanner) scanIdent(start int) {
	for s.pos < len(s.src) {
		r, size := utf8.DecodeRuneInString(s.src[s.pos:])
		if !isIdentPart(r) {
			break
		}
		s.pos += size
	}
	s.emit(token{kind: tokIdent, text: s.src[start:s.pos]})
}

func (s *scanner) newline() {
	s.lineStart = true
	// A declaration header must reach its '=' on one line.
	if s.decl.stage > 0 && s.decl.stage < 4 {
		s.decl.reset()
	}
}

func (s *scanner) punct(c byte) {
	switch c {
	case '{':
		s.openBrace()
	case '[':
		f := Frame{Kind: FrameArray}
		if s.decl.stage == 4 {
			// `= [for x in xs: {...}]` loops over resource or module bodies.
			f.Decl = s.decl.declaration()
			s.decl.reset()
		}
		s.push(f)
	case '(':
		s.push(Frame{Kind: FrameParen})
	case '}':
		if s.top().Kind == FrameInterpolation {
			s.pop(FrameInterpolation)
			s.inString, s.multiline = true, false
			s.last = token{kind: tokString}
			return
		}
		if !s.pop(FrameObject, FrameResourceBody, FrameModuleBody) {
			s.err = true
		}
	case ']':
		if !s.pop(FrameArray) {
			s.err = true
		}
	case ')':
		if !s.pop(FrameParen) {
			s.err = true
		}
	}
	s.emit(token{kind: tokPunct, text: string(c)})
}

func (s *scanner) openBrace() {
	f := Frame{Kind: FrameObject}
	var decl *Declaration
	switch {
	case s.decl.stage == 4:
		decl = s.decl.declaration()
		s.decl.reset()
	case s.top().Kind == FrameArray && s.top().Decl != nil && s.last.text == ":":
		decl = s.top().Decl
	}
	if decl != nil {
		f.Decl = decl
		f.Kind = FrameResourceBody
		if decl.Keyword == "module" {
			f.Kind = FrameModuleBody
		}
	}
	s.push(f)
}

// emit feeds a significant token to the declaration tracker.
func (s *scanner) emit(t token) {
	atLineStart := s.lineStart
	s.lineStart = false
	s.last = t

	if t.kind == tokPunct && (t.text == "{" || t.text == "[" || t.text == "(" || t.text == ")") {
		if t.text == ")" && s.decl.stage == 5 && len(s.frames) == s.decl.depth {
			s.decl.stage, s.decl.guarded = 4, true
		}
		return
	}

	d := &s.decl
	switch {
	case t.kind == tokIdent && (t.text == "resource" || t.text == "module") && atLineStart && s.declAllowed():
		d.reset()
		d.stage, d.keyword = 1, t.text
	case d.stage == 1 && t.kind == tokIdent:
		d.stage, d.name = 2, t.text
	case d.stage == 2 && t.kind == tokString:
		d.stage, d.typ = 3, t.text
	case d.stage == 3 && t.kind == tokIdent && t.text == "existing":
	case d.stage == 3 && t.kind == tokPunct && t.text == "=":
		d.stage = 4
	case d.stage == 4 && !d.guarded && t.kind == tokIdent && t.text == "if":
		d.stage, d.depth = 5, len(s.frames)
	case d.stage == 5:
	default:
		d.reset()
	}
}

// declAllowed reports whether a declaration may start in the current frame.
func (s *scanner) declAllowed() bool {
	switch s.top().Kind {
	case FrameFile, FrameResourceBody:
		return true
	}
	return false
}

// relation inspects the cursor line to decide how the cursor relates to the
// tokens before it. For AfterAssign it also returns the pending declaration.
func (s *scanner) relation(text string, offset int) (Relation, string, *Declaration) {
	lineBegin := strings.LastIndexByte(text[:offset], '\n') + 1
	before := text[lineBegin:offset]
	after := text[offset:]
	if i := strings.IndexByte(after, '\n'); i >= 0 {
		after = after[:i]
	}
	rest := strings.TrimSpace(after)
	if i := strings.Index(rest, "//"); i >= 0 {
		rest = strings.TrimSpace(rest[:i])
	}

	trimmed := strings.TrimSpace(before)
	if isPrefix(trimmed) {
		return LineStart, trimmed, nil
	}
	if s.last.kind != tokPunct {
		return Other, "", nil
	}

	top := s.top()
	switch {
	case rest == "" && s.decl.stage == 4 && (s.last.text == "=" || (s.last.text == ")" && s.decl.guarded)):
		return AfterAssign, "", s.decl.declaration()
	case s.last.text == ":" && top.Kind == FrameArray && top.Decl != nil && (rest == "" || strings.HasPrefix(rest, "]")):
		return AfterAssign, "", top.Decl
	case rest == "" && s.last.text == ":" && strings.HasSuffix(trimmed, ":"):
		switch top.Kind {
		case FrameObject, FrameResourceBody, FrameModuleBody:
			return AfterColon, "", nil
		}
	}
	return Other, "", nil
}

// isPrefix reports whether s could be the start of a snippet label.
func isPrefix(s string) bool {
	for _, r := range s {
		if r != '-' && r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
