package crawler

import (
	"errors"
	"fmt"
)

// ConfigurationError reports that the entry asset could not be resolved.
type ConfigurationError struct {
	Entry string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("Source file not found: \"%s\"", e.Entry)
}

// EvaluationError wraps a failure raised while evaluating the bundle.
type EvaluationError struct {
	Entry string
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %q: %v", e.Entry, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// ExportShapeError reports that the evaluated module does not export a
// render function.
type ExportShapeError struct {
	Entry string
}

func (e *ExportShapeError) Error() string {
	return fmt.Sprintf("Export from \"%s\" must be a function that returns an HTML string. "+
		"Is output.libraryTarget in the configuration set to \"umd\"?", e.Entry)
}

// RenderError wraps a failed render of one logical path.
type RenderError struct {
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %q: %v", e.Path, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// WriteError wraps a failure to materialize an output slot.
type WriteError struct {
	Slot string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q: %v", e.Slot, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err aborts a whole pass rather than a single path.
func IsFatal(err error) bool {
	var (
		cfgErr   *ConfigurationError
		evalErr  *EvaluationError
		shapeErr *ExportShapeError
	)
	return errors.As(err, &cfgErr) || errors.As(err, &evalErr) || errors.As(err, &shapeErr)
}
