package document

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/akhenakh/biceplsp/protocol"
)

// Offset converts an LSP position (UTF-16 code units) to a byte offset in text.
// Positions past the end of a line or of the document are errors.
func Offset(text string, pos protocol.Position) (int, error) {
	i, line := 0, uint(0)
	for line < pos.Line {
		nl := strings.IndexByte(text[i:], '\n')
		if nl < 0 {
			return 0, fmt.Errorf("%w: line %d beyond %d lines", ErrPositionOutOfRange, pos.Line, line+1)
		}
		i += nl + 1
		line++
	}

	units := uint(0)
	for units < pos.Character {
		if i >= len(text) || text[i] == '\n' {
			return 0, fmt.Errorf("%w: character %d beyond line %d", ErrPositionOutOfRange, pos.Character, pos.Line)
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		units += utf16Len(r)
		i += size
	}
	if units > pos.Character {
		return 0, fmt.Errorf("%w: character %d splits a surrogate pair", ErrPositionOutOfRange, pos.Character)
	}
	return i, nil
}

// clampedOffset is Offset for edits: positions past a line end or the document
// end are clamped, as clients are allowed to send them.
func clampedOffset(text string, pos protocol.Position) int {
	i, line := 0, uint(0)
	for line < pos.Line {
		nl := strings.IndexByte(text[i:], '\n')
		if nl < 0 {
			return len(text)
		}
		i += nl + 1
		line++
	}
	units := uint(0)
	for i < len(text) && text[i] != '\n' {
		r, size := utf8.DecodeRuneInString(text[i:])
		if units+utf16Len(r) > pos.Character {
			break
		}
		units += utf16Len(r)
		i += size
	}
	return i
}

// PositionAt converts a byte offset in text to an LSP position.
func PositionAt(text string, offset int) protocol.Position {
	offset = min(max(offset, 0), len(text))
	lineStart := strings.LastIndexByte(text[:offset], '\n') + 1
	line := strings.Count(text[:lineStart], "\n")
	var units uint
	for _, r := range text[lineStart:offset] {
		units += utf16Len(r)
	}
	return protocol.Position{Line: uint(line), Character: units}
}

// Line returns the text of the given zero-based line without its line break.
func Line(text string, line uint) (string, error) {
	lines := strings.Split(text, "\n")
	if int(line) >= len(lines) {
		return "", fmt.Errorf("%w: line %d beyond %d lines", ErrPositionOutOfRange, line, len(lines))
	}
	return strings.TrimSuffix(lines[line], "\r"), nil
}

// LineBreak returns the break that ends the given line. The last line has none
// of its own and takes the document's first break, "\n" when there is none.
func LineBreak(text string, line uint) string {
	lines := strings.Split(text, "\n")
	if int(line) < len(lines)-1 {
		if strings.HasSuffix(lines[line], "\r") {
			return "\r\n"
		}
		return "\n"
	}
	if i := strings.IndexByte(text, '\n'); i > 0 && text[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

// Indentation returns the leading whitespace of s.
func Indentation(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

func utf16Len(r rune) uint {
	if r >= 0x10000 && r <= utf8.MaxRune {
		return 2
	}
	return 1
}
