package extractor

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrNodeNotFound        = errors.New("unit node not found in parse tree")
	ErrParseFailed         = errors.New("parse failed")
	ErrMissingContext      = errors.New("unit does not parse without an enclosing unit")
)

// ErrorKind classifies extraction failures for run summaries.
type ErrorKind string

const (
	KindParseFailed         ErrorKind = "parse_failed"
	KindUnsupportedLanguage ErrorKind = "unsupported_language"
	KindNodeNotFound        ErrorKind = "node_not_found"
	KindUnsupportedNode     ErrorKind = "unsupported_node"
	KindMissingContext      ErrorKind = "missing_context"
)

// ExtractionError reports a unit that could not be extracted. It never
// aborts extraction of the remaining units.
type ExtractionError struct {
	UnitID   string
	FilePath string
	Kind     ErrorKind
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %s: %v", e.UnitID, e.FilePath, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
