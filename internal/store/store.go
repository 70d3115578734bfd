package store

import (
	"context"

	"github.com/rendis/flowrun/internal/engine"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Definition library
	SaveWorkflow(ctx context.Context, wf *WorkflowRecord) error
	GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error)
	ListWorkflows(ctx context.Context, limit int) ([]*WorkflowRecord, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Execution records
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)

	// Tool usage (engine.UsageSink)
	LogUsage(ctx context.Context, rec engine.UsageRecord) error
	ListUsage(ctx context.Context, filter UsageFilter) ([]*engine.UsageRecord, error)

	// Event journal (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

var _ engine.UsageSink = (Store)(nil)
