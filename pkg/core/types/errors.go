package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds. Every typed error below matches exactly one of them
// through errors.Is.
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInvalidRange      = errors.New("invalid quantization range")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateSubject  = errors.New("duplicate subject")
	ErrInvalidK          = errors.New("k must be positive")
)

// ConfigError reports a malformed build parameter or descriptor field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// NewConfigError is a shorthand used by validators.
func NewConfigError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DimensionError reports a vector whose length differs from the index dimensionality.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// CheckDimension returns a *DimensionError when len(v) != expected.
func CheckDimension(expected int, v []float32) error {
	if len(v) != expected {
		return &DimensionError{Expected: expected, Actual: len(v)}
	}
	return nil
}

// RangeError reports quantization bounds with max <= min.
type RangeError struct {
	Min float32
	Max float32
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid quantization range: min=%g max=%g", e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrInvalidRange }

// NotFoundError reports a missing subject, entity, descriptor or index header.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateSubjectError reports an insert of a subject already present in the graph.
type DuplicateSubjectError struct {
	Subject string
}

func (e *DuplicateSubjectError) Error() string {
	return fmt.Sprintf("subject %q already indexed", e.Subject)
}

func (e *DuplicateSubjectError) Unwrap() error { return ErrDuplicateSubject }

// RecordError ties a bulk insert failure to the offending subject.
type RecordError struct {
	Subject string
	Err     error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %q: %v", e.Subject, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// BatchError aggregates the per-record failures of a bulk insert. Records not
// listed were inserted.
type BatchError struct {
	Total  int
	Failed []*RecordError
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d records failed", len(e.Failed), e.Total)
	for i, f := range e.Failed {
		if i == 3 {
			fmt.Fprintf(&b, "; ... (%d more)", len(e.Failed)-i)
			break
		}
		b.WriteString("; ")
		b.WriteString(f.Error())
	}
	return b.String()
}

// Unwrap exposes every record failure to errors.Is / errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}
