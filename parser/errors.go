package parser

import (
	"errors"
	"fmt"
)

var errMissing = errors.New("missing")

// ParseError means a strategy found nothing usable on a page. It is never
// fatal: the chain moves on to the next strategy.
type ParseError struct {
	Strategy string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Strategy, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Strategy, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// FieldExtractionError reports a single field of a single item that could not
// be read. Skipped is set when the whole item was dropped because of it.
type FieldExtractionError struct {
	Field   string
	Index   int
	Skipped bool
	Err     error
}

func (e *FieldExtractionError) Error() string {
	action := "defaulted"
	if e.Skipped {
		action = "skipped"
	}
	return fmt.Sprintf("item %d field %s (%s): %v", e.Index, e.Field, action, e.Err)
}

func (e *FieldExtractionError) Unwrap() error {
	return e.Err
}
