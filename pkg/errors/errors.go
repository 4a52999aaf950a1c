package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownFunction indicates that a configured function name is not registered
	ErrUnknownFunction = errors.New("unknown function")

	// ErrTemplateSyntax indicates that a template could not be compiled
	ErrTemplateSyntax = errors.New("template syntax error")

	// ErrEmptyCheckpoint indicates a checkpoint configured without content
	ErrEmptyCheckpoint = errors.New("checkpoint content is empty")

	// ErrInvalidProxy indicates that proxy settings are invalid
	ErrInvalidProxy = errors.New("invalid proxy settings")

	// ErrStopIteration is raised by pipeline functions to halt the current pipeline pass
	ErrStopIteration = errors.New("stop iteration")

	// ErrSplit indicates that a split task had nothing to fan out over
	ErrSplit = errors.New("split failed")

	// ErrNoCheckpointStore indicates a checkpoint configured without a store to keep it in
	ErrNoCheckpointStore = errors.New("no checkpoint store")

	// ErrEngineStopped indicates that the engine no longer accepts jobs
	ErrEngineStopped = errors.New("engine stopped")

	// ErrInvalidArguments indicates a function was called with the wrong number of arguments
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Error represents a structured error with a machine-readable code
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new coded error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Issue is a single problem found while loading a configuration
type Issue struct {
	// Path locates the offending field, e.g. "requests[0].options.url"
	Path string

	// Message describes the problem
	Message string

	// Err is the underlying error, if any
	Err error
}

func (i Issue) String() string {
	switch {
	case i.Err != nil && i.Message != "":
		return fmt.Sprintf("%s: %s: %v", i.Path, i.Message, i.Err)
	case i.Err != nil:
		return fmt.Sprintf("%s: %v", i.Path, i.Err)
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// ConfigError aggregates every issue found while loading a configuration
type ConfigError struct {
	Issues []Issue
}

// Add records an issue
func (e *ConfigError) Add(path, message string, err error) {
	e.Issues = append(e.Issues, Issue{Path: path, Message: message, Err: err})
}

// Empty reports whether no issues were recorded
func (e *ConfigError) Empty() bool {
	return e == nil || len(e.Issues) == 0
}

// ErrOrNil returns e when issues were recorded, nil otherwise
func (e *ConfigError) ErrOrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid configuration: " + e.Issues[0].String()
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("invalid configuration (%d issues): %s", len(e.Issues), strings.Join(parts, "; "))
}

// Unwrap exposes the underlying issue errors to errors.Is and errors.As
func (e *ConfigError) Unwrap() []error {
	var errs []error
	for _, issue := range e.Issues {
		if issue.Err != nil {
			errs = append(errs, issue.Err)
		}
	}
	return errs
}

// SplitError is raised when a split task resolves to an empty collection
type SplitError struct {
	// Task is the name of the split task
	Task string

	// Source is the template the collection was rendered from
	Source string

	// Reason describes why the collection was empty
	Reason string
}

// Error implements the error interface
func (e *SplitError) Error() string {
	return fmt.Sprintf("split %q over %q: %s", e.Task, e.Source, e.Reason)
}

// Is matches ErrSplit
func (e *SplitError) Is(target error) bool {
	return target == ErrSplit
}

// IsStopIteration checks if an error is a stop-iteration signal
func IsStopIteration(err error) bool {
	return errors.Is(err, ErrStopIteration)
}

// IsSplit checks if an error is a split error
func IsSplit(err error) bool {
	return errors.Is(err, ErrSplit)
}
