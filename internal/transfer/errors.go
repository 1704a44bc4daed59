package transfer

import (
	"fmt"
	"strings"

	"github.com/ignite/funnel-studio/internal/domain"
)

// ParseError is a JSON syntax error with its position in the raw input.
// Line and Column are 1-based; Offset is the 0-based byte offset.
type ParseError struct {
	Line    int
	Column  int
	Offset  int64
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// ValidationErrors is the full list of schema issues found in a document.
type ValidationErrors []domain.Issue

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "no validation issues"
	}
	parts := make([]string, len(v))
	for i, is := range v {
		parts[i] = is.Path + ": " + is.Message
	}
	return fmt.Sprintf("%d validation issue(s): %s", len(v), strings.Join(parts, "; "))
}

// Err returns v as an error, or nil when there are no issues.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
