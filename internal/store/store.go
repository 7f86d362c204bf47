package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
)

// ExecutionStore is the C1 adapter contract (spec §6 "Execution Store").
type ExecutionStore interface {
	CreateInstance(ctx context.Context, jobName string, identifyingParams map[string]any) (*Instance, error)
	CreateExecution(ctx context.Context, instance *Instance, triggerID string, allParams map[string]any) (*Execution, error)
	UpdateExecution(ctx context.Context, exec *Execution) error
	CreateStepExecution(ctx context.Context, executionID int64, stepName string, seq int) (*StepExecution, error)
	UpdateStepExecution(ctx context.Context, step *StepExecution) error
	FindExecution(ctx context.Context, executionID int64) (*Execution, error)
	FindRecentInstances(ctx context.Context, jobName string, page, size int) ([]*Instance, error)
	ListExecutions(ctx context.Context, instanceID string) ([]*Execution, error)
	FindExecutionByTriggerID(ctx context.Context, triggerID string) (*Execution, error)
	AbandonOrphaned(ctx context.Context) (int64, error)
	Ready(ctx context.Context) error
}

// AggregationStore is the C3 adapter contract (spec §6 "Aggregation Store").
type AggregationStore interface {
	UpsertBatch(ctx context.Context, executionID int64, deltas []AggregationDelta) error
	CountDistinctGroups(ctx context.Context, executionID int64, aggType string) (int64, error)
	TotalRecordCount(ctx context.Context, executionID int64, aggType string) (int64, error)
	DeleteByExecution(ctx context.Context, executionID int64) error
}

// SQLStore implements ExecutionStore and AggregationStore over a
// database/sql handle (modernc.org/sqlite in production, the same driver
// against ":memory:" in tests).
type SQLStore struct {
	db *sql.DB
}

// New wraps an already-opened, already-migrated database handle.
func New(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Ready implements health.ReadinessChecker.
func (s *SQLStore) Ready(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ ExecutionStore = (*SQLStore)(nil)
var _ AggregationStore = (*SQLStore)(nil)

// canonicalKey serializes a parameter map into a sorted-key JSON string so
// that equal multisets always produce an identical identity_key.
func canonicalKey(params map[string]any) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, params[k])
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
