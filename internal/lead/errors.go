package lead

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the service.
var (
	// ErrNotFound indicates an unknown lead, submission, or worker id.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyRunning indicates a duplicate worker id on start.
	ErrAlreadyRunning = errors.New("worker already running")
)

// EvaluationError wraps a classifier provider failure or timeout. The
// ingestion loop retries these with backoff; synchronous endpoints surface
// them immediately.
type EvaluationError struct {
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate relevance: %v", e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// PublishError wraps a platform posting failure.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish comment: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
