package tour

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ParseError represents a detailed parsing error with context.
type ParseError struct {
	File    string // Source file path
	Line    int    // Line number (1-indexed)
	Column  int    // Column number (1-indexed, optional)
	Message string
	Hint    string // Helpful suggestion
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return e.Format()
}

// Format returns the error with surrounding source lines and the hint.
func (e *ParseError) Format() string {
	var b strings.Builder

	fmt.Fprintf(&b, "❌ Error in %s\n\n", e.File)
	fmt.Fprintf(&b, "Line %d: %s\n", e.Line, e.Message)
	b.WriteString(e.codeContext())

	if e.Hint != "" {
		fmt.Fprintf(&b, "\n💡 Tip: %s\n", e.Hint)
	}

	return b.String()
}

// codeContext shows two lines either side of the error line, with a caret
// under the column when one is known.
func (e *ParseError) codeContext() string {
	if e.File == "" {
		return ""
	}

	file, err := os.Open(e.File)
	if err != nil {
		return ""
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if e.Line < 1 || e.Line > len(lines) {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	for i := max(1, e.Line-2); i <= min(len(lines), e.Line+2); i++ {
		prefix := fmt.Sprintf("  %2d | ", i)
		b.WriteString(prefix + lines[i-1] + "\n")
		if i == e.Line && e.Column > 0 {
			b.WriteString(strings.Repeat(" ", len(prefix)+e.Column-1) + "^\n")
		}
	}
	return b.String()
}

// NewParseError creates a new ParseError.
func NewParseError(file string, line int, message string) *ParseError {
	return &ParseError{
		File:    file,
		Line:    line,
		Message: message,
	}
}

// WithColumn adds column information to the error.
func (e *ParseError) WithColumn(col int) *ParseError {
	e.Column = col
	return e
}

// WithHint adds a helpful hint to the error.
func (e *ParseError) WithHint(hint string) *ParseError {
	e.Hint = hint
	return e
}
