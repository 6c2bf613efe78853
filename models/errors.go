package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for admission decisions.
var (
	// ErrAdmissionBlocked means the risk guard refused the trade.
	ErrAdmissionBlocked = errors.New("admission blocked by risk guard")
	// ErrNoPosition means a sell arrived for a token we do not hold.
	ErrNoPosition = errors.New("no position held for token")
)

// SubmissionError wraps a failed order submission. Attempts with a
// SubmissionError count against the retry budget.
type SubmissionError struct {
	Attempt int
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("order submission failed (attempt %d): %v", e.Attempt, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// QueryError wraps a failed read against an external collaborator
// (order book, market metadata). The risk guard treats book query
// failures as a trip condition.
type QueryError struct {
	Resource string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s failed: %v", e.Resource, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ConfigError reports invalid or unparseable configuration. Startup
// aborts on ConfigError; hot reload keeps the previous config.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
