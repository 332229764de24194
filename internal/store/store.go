// Package store persists execution records and their log lines.
package store

import (
	"context"
	"errors"

	"github.com/seantiz/drafter/internal/model"
)

var (
	// ErrNotFound is returned when an execution is not found.
	ErrNotFound = errors.New("execution not found")

	// ErrInvalidTransition is returned when an execution status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ExecutionStats holds aggregate execution statistics.
type ExecutionStats struct {
	Total            int            `json:"total"`
	CountByStatus    map[string]int `json:"count_by_status"`
	CountByRuntime   map[string]int `json:"count_by_runtime"`
	CountByErrorKind map[string]int `json:"count_by_error_kind"`
	CountByStrategy  map[string]int `json:"count_by_strategy"`
	AvgDurationMS    float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for executions.
type Store interface {
	CreateExecution(ctx context.Context, e *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	ListExecutions(ctx context.Context, limit, offset int) ([]*model.Execution, int, error)
	UpdateExecutionStatus(ctx context.Context, id, status string) error
	UpdateExecution(ctx context.Context, e *model.Execution) error
	GetExecutionStats(ctx context.Context) (*ExecutionStats, error)
	InsertLogLine(ctx context.Context, executionID string, seq int, line string) error
	GetLogLines(ctx context.Context, executionID string) ([]model.LogLine, error)
	Close() error
}
