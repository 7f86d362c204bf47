package store

import (
	"context"
	"fmt"
	"time"
)

// UpsertBatch applies one flush's buffered deltas inside a single
// transaction (spec §4.3 "Flush protocol"). The merge is commutative and
// associative, so flush ordering across batches is irrelevant; callers must
// never submit the same delta twice.
func (s *SQLStore) UpsertBatch(ctx context.Context, executionID int64, deltas []AggregationDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO aggregation_rows (
			execution_id, aggregation_type, group_key,
			record_count, total_salary, total_hours, total_bonus,
			min_salary, max_salary, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, aggregation_type, group_key) DO UPDATE SET
			record_count = record_count + excluded.record_count,
			total_salary = total_salary + excluded.total_salary,
			total_hours = total_hours + excluded.total_hours,
			total_bonus = total_bonus + excluded.total_bonus,
			min_salary = MIN(min_salary, excluded.min_salary),
			max_salary = MAX(max_salary, excluded.max_salary),
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range deltas {
		if _, err := stmt.ExecContext(ctx,
			executionID, d.AggregationType, d.GroupKey,
			d.Count, d.TotalSalary, d.TotalHours, d.TotalBonus,
			d.MinSalary, d.MaxSalary, now, now,
		); err != nil {
			return fmt.Errorf("upsert aggregation row %s/%s: %w", d.AggregationType, d.GroupKey, err)
		}
	}

	return tx.Commit()
}

// CountDistinctGroups returns the number of distinct group keys for an
// execution and aggregation type.
func (s *SQLStore) CountDistinctGroups(ctx context.Context, executionID int64, aggType string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM aggregation_rows WHERE execution_id = ? AND aggregation_type = ?`,
		executionID, aggType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count distinct groups: %w", err)
	}
	return count, nil
}

// TotalRecordCount sums recordCount over a canonical aggregation type.
func (s *SQLStore) TotalRecordCount(ctx context.Context, executionID int64, aggType string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(record_count), 0) FROM aggregation_rows WHERE execution_id = ? AND aggregation_type = ?`,
		executionID, aggType,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total record count: %w", err)
	}
	return total, nil
}

// DeleteByExecution bulk-deletes all aggregation rows for an execution.
// Operations may schedule this; the core does not call it automatically.
func (s *SQLStore) DeleteByExecution(ctx context.Context, executionID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM aggregation_rows WHERE execution_id = ?`, executionID)
	if err != nil {
		return fmt.Errorf("delete by execution: %w", err)
	}
	return nil
}
