// Package history provides the storage abstraction for completed run records.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/runtrace/runtrace/pkg/models"
)

// ErrRunNotFound indicates no run record exists for the given identifier.
var ErrRunNotFound = errors.New("run not found")

// IsRunNotFound checks if an error indicates a run record was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// RunError wraps run-record errors with operation context.
type RunError struct {
	Op    string // Operation being performed (e.g., "SaveRun", "RunByID")
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// ListOptions controls pagination of archived runs. Runs are always returned
// newest first.
type ListOptions struct {
	Limit  int
	Offset int
}

// ListResult is one page of archived runs.
type ListResult struct {
	Runs        []*models.RunRecord
	TotalCount  int64
	HasNextPage bool
}

// History stores and retrieves the records of finished runs.
type History interface {
	SaveRun(ctx context.Context, record *models.RunRecord) error
	Runs(ctx context.Context, opts ListOptions) (*ListResult, error)
	RunByID(ctx context.Context, id string) (*models.RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
