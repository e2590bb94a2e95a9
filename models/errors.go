package models

import (
	"fmt"
	"time"
)

// EnumerationError aborts the current enumeration batch.
type EnumerationError struct {
	Page int
	Err  error
}

func (e EnumerationError) Error() string {
	return fmt.Sprintf("enumeration failed at page %d: %v", e.Page, e.Err)
}

func (e EnumerationError) Unwrap() error { return e.Err }

// DispatchConfigError means backend connection parameters could not be resolved.
// The job is dropped; retrying cannot succeed without operator action.
type DispatchConfigError struct {
	Key string
	Err error
}

func (e DispatchConfigError) Error() string {
	return fmt.Sprintf("dispatch config %q: %v", e.Key, e.Err)
}

func (e DispatchConfigError) Unwrap() error { return e.Err }

// BackendCallError wraps a failed call to a search backend.
type BackendCallError struct {
	Backend   string
	Op        string
	Status    int
	Permanent bool
	Err       error
}

func (e BackendCallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Backend, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e BackendCallError) Unwrap() error { return e.Err }

// CorrelationTimeoutError records an orphaned search; it is logged, never returned to callers.
type CorrelationTimeoutError struct {
	CorrelationID string
	Query         string
	Age           time.Duration
	Results       int
}

func (e CorrelationTimeoutError) Error() string {
	return fmt.Sprintf("search %s (%q) orphaned after %s with %d results", e.CorrelationID, e.Query, e.Age.Round(time.Millisecond), e.Results)
}

// PublishError is returned once publishing a ranked result exhausted its retries.
type PublishError struct {
	Query    string
	Attempts int
	Err      error
}

func (e PublishError) Error() string {
	return fmt.Sprintf("publish result for %q failed after %d attempts: %v", e.Query, e.Attempts, e.Err)
}

func (e PublishError) Unwrap() error { return e.Err }
