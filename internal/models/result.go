package models

import "fmt"

// BatchError records a failed write of one batch. It is reported, never
// returned, so sibling batches still get written.
type BatchError struct {
	Batch int   `json:"batch"`
	Rows  int   `json:"rows"`
	Err   error `json:"-"`
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (%d rows): %v", e.Batch, e.Rows, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// WriteResult holds the cumulative outcome of a dedup-aware write.
type WriteResult struct {
	Written int
	Skipped int
	Errors  []*BatchError
}

// Add folds other into r.
func (r *WriteResult) Add(other WriteResult) {
	r.Written += other.Written
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

// RunStatus is the three-tier outcome reported to callers.
type RunStatus string

const (
	StatusOK      RunStatus = "ok"
	StatusPartial RunStatus = "partial"
	StatusError   RunStatus = "error"
)

// MaxErrorSample caps the number of errors carried in a RunSummary.
const MaxErrorSample = 10

// RunSummary is the JSON summary returned by trigger operations.
type RunSummary struct {
	Status      RunStatus `json:"status"`
	Pages       int       `json:"pages,omitempty"`
	Processed   int       `json:"processed,omitempty"`
	Inserted    int       `json:"inserted"`
	Skipped     int       `json:"skipped"`
	Published   int       `json:"published,omitempty"`
	ErrorsCount int       `json:"errors_count,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// AddError records err, keeping at most MaxErrorSample messages.
func (s *RunSummary) AddError(err error) {
	s.ErrorsCount++
	if len(s.Errors) < MaxErrorSample {
		s.Errors = append(s.Errors, err.Error())
	}
}

// Finish settles the status from what was recorded. A run that recorded
// errors is never reported as ok.
func (s *RunSummary) Finish() {
	switch {
	case s.Status == StatusError:
	case s.ErrorsCount > 0:
		s.Status = StatusPartial
	default:
		s.Status = StatusOK
	}
}

// Fail marks the run as failed with msg.
func (s *RunSummary) Fail(err error) {
	s.Status = StatusError
	s.Message = err.Error()
}
