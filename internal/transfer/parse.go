package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"unicode/utf8"
)

// Parse decodes raw JSON into generic values (objects become map[string]any,
// numbers float64). Syntax errors are returned as *ParseError.
func Parse(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var v any
	if err := dec.Decode(&v); err != nil {
		var syn *json.SyntaxError
		switch {
		case errors.As(err, &syn):
			// Offset counts the offending byte, so it sits one before.
			return nil, newParseError(raw, syn.Offset-1, syn.Error())
		case errors.Is(err, io.EOF):
			return nil, newParseError(raw, int64(len(raw)), "empty document")
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, newParseError(raw, int64(len(raw)), "unexpected end of input")
		default:
			return nil, newParseError(raw, dec.InputOffset(), err.Error())
		}
	}

	off := dec.InputOffset()
	for off < int64(len(raw)) && isSpace(raw[off]) {
		off++
	}
	if off < int64(len(raw)) {
		return nil, newParseError(raw, off, "unexpected data after top-level value")
	}
	return v, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// newParseError resolves a byte offset into a 1-based line and a 1-based
// column counted in characters.
func newParseError(raw []byte, offset int64, msg string) *ParseError {
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(raw)) {
		offset = int64(len(raw))
	}
	prefix := raw[:offset]
	line := bytes.Count(prefix, []byte{'\n'}) + 1
	lineStart := bytes.LastIndexByte(prefix, '\n') + 1
	col := utf8.RuneCount(prefix[lineStart:]) + 1
	return &ParseError{Line: line, Column: col, Offset: offset, Message: msg}
}
