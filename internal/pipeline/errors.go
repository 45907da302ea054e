package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds. Every typed error below reports itself as its kind through
// errors.Is, so callers can match either the kind or the concrete type.
var (
	ErrConfiguration     = errors.New("pipeline is not configured")
	ErrNotFound          = errors.New("issue not found")
	ErrAlreadyProcessing = errors.New("issue is already being processed")
	ErrUpstream          = errors.New("source control request failed")
	ErrBranchExists      = errors.New("branch already exists")
	ErrGeneration        = errors.New("solution generation failed")
	ErrInvalidSolution   = errors.New("invalid solution")
	ErrVerification      = errors.New("verification failed")
)

// ConfigurationError reports configuration keys that must be set before any
// backend is contacted.
type ConfigurationError struct {
	Missing []string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrConfiguration, e.Err)
	}
	return fmt.Sprintf("%s: missing %s", ErrConfiguration, strings.Join(e.Missing, ", "))
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
func (e *ConfigurationError) Unwrap() error        { return e.Err }

// NotFoundError reports an issue with no result. Lookups by issue number
// set Number instead of IssueID.
type NotFoundError struct {
	IssueID int64
	Number  int
}

func (e *NotFoundError) Error() string {
	if e.Number != 0 {
		return fmt.Sprintf("%s: #%d", ErrNotFound, e.Number)
	}
	return fmt.Sprintf("%s: %d", ErrNotFound, e.IssueID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AlreadyProcessingError reports a second concurrent run for one issue.
type AlreadyProcessingError struct {
	IssueID int64
}

func (e *AlreadyProcessingError) Error() string {
	return fmt.Sprintf("%s: %d", ErrAlreadyProcessing, e.IssueID)
}

func (e *AlreadyProcessingError) Is(target error) bool { return target == ErrAlreadyProcessing }

// UpstreamError reports a failed source-control call. StatusCode and Body
// carry the backend response when there was one.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }
func (e *UpstreamError) Unwrap() error        { return e.Err }

// GenerationError reports a provider failure or an unparseable response.
// Raw holds the provider text when the response could not be parsed.
type GenerationError struct {
	Err error
	Raw string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrGeneration, e.Err)
}

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }
func (e *GenerationError) Unwrap() error        { return e.Err }

// InvalidSolutionError reports a parseable proposal that cannot be applied.
type InvalidSolutionError struct {
	Reason string
}

func (e *InvalidSolutionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidSolution, e.Reason)
}

func (e *InvalidSolutionError) Is(target error) bool { return target == ErrInvalidSolution }

// VerificationError reports a written file whose content on the work branch
// does not match what was written.
type VerificationError struct {
	Path string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: content of %s on the work branch does not match", ErrVerification, e.Path)
}

func (e *VerificationError) Is(target error) bool { return target == ErrVerification }
