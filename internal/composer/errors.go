package composer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a dist URL lookup missed at some level of the
	// provider document. Callers should treat it as "upstream does not have
	// this version", not as a transient failure.
	ErrNotFound = errors.New("not found")

	// ErrMalformedName indicates a package name that does not have exactly
	// one vendor/project separator.
	ErrMalformedName = errors.New("malformed package name")
)

// ParseError indicates a payload that is not well-formed JSON or whose root
// is not an object.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing document: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TypeError indicates a document field holding a different JSON shape than
// the one an accessor expected.
type TypeError struct {
	Key  string
	Want string
	Got  any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("field %q: expected %s, got %T", e.Key, e.Want, e.Got)
}

// ExtractionError indicates that the composer.json manifest could not be
// read out of an archive during provider synthesis.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting manifest: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
