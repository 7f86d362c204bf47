package store

import (
	"context"
	"testing"
)

func TestUpsertBatchMerge(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	inst, _ := s.CreateInstance(ctx, "J", map[string]any{"triggerId": "T1"})
	exec, _ := s.CreateExecution(ctx, inst, "T1", map[string]any{"triggerId": "T1"})

	first := []AggregationDelta{
		{AggregationType: "BY_DEPARTMENT", GroupKey: "eng", Count: 3, TotalSalary: 300, TotalHours: 30, TotalBonus: 3, MinSalary: 90, MaxSalary: 110},
	}
	if err := s.UpsertBatch(ctx, exec.ExecutionID, first); err != nil {
		t.Fatalf("upsert batch 1: %v", err)
	}

	second := []AggregationDelta{
		{AggregationType: "BY_DEPARTMENT", GroupKey: "eng", Count: 2, TotalSalary: 180, TotalHours: 20, TotalBonus: 2, MinSalary: 80, MaxSalary: 120},
	}
	if err := s.UpsertBatch(ctx, exec.ExecutionID, second); err != nil {
		t.Fatalf("upsert batch 2: %v", err)
	}

	count, err := s.CountDistinctGroups(ctx, exec.ExecutionID, "BY_DEPARTMENT")
	if err != nil {
		t.Fatalf("count distinct groups: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 distinct group, got %d", count)
	}

	total, err := s.TotalRecordCount(ctx, exec.ExecutionID, "BY_DEPARTMENT")
	if err != nil {
		t.Fatalf("total record count: %v", err)
	}
	if total != 5 {
		t.Errorf("expected recordCount=5 after merge, got %d", total)
	}
}

func TestUpsertBatchEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	inst, _ := s.CreateInstance(ctx, "J", map[string]any{"triggerId": "T2"})
	exec, _ := s.CreateExecution(ctx, inst, "T2", map[string]any{"triggerId": "T2"})

	if err := s.UpsertBatch(ctx, exec.ExecutionID, nil); err != nil {
		t.Fatalf("expected empty upsert batch to be a no-op, got %v", err)
	}

	count, err := s.CountDistinctGroups(ctx, exec.ExecutionID, "BY_DEPARTMENT")
	if err != nil {
		t.Fatalf("count distinct groups: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 groups for empty input, got %d", count)
	}
}

func TestDeleteByExecution(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	inst, _ := s.CreateInstance(ctx, "J", map[string]any{"triggerId": "T3"})
	exec, _ := s.CreateExecution(ctx, inst, "T3", map[string]any{"triggerId": "T3"})

	deltas := []AggregationDelta{
		{AggregationType: "BY_REGION", GroupKey: "west", Count: 1, TotalSalary: 100, MinSalary: 100, MaxSalary: 100},
	}
	if err := s.UpsertBatch(ctx, exec.ExecutionID, deltas); err != nil {
		t.Fatalf("upsert batch: %v", err)
	}

	if err := s.DeleteByExecution(ctx, exec.ExecutionID); err != nil {
		t.Fatalf("delete by execution: %v", err)
	}

	count, err := s.CountDistinctGroups(ctx, exec.ExecutionID, "BY_REGION")
	if err != nil {
		t.Fatalf("count distinct groups: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 groups after delete, got %d", count)
	}
}
