package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const timeLayout = time.RFC3339Nano

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalParams(params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalParams(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateInstance finds or creates the job instance for (jobName, identifyingParams).
func (s *SQLStore) CreateInstance(ctx context.Context, jobName string, identifyingParams map[string]any) (*Instance, error) {
	key, err := canonicalKey(identifyingParams)
	if err != nil {
		return nil, fmt.Errorf("canonical identity key: %w", err)
	}

	inst, err := s.findInstance(ctx, jobName, key)
	if err != nil {
		return nil, err
	}
	if inst != nil {
		return inst, nil
	}

	instanceID := uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_instances (instance_id, job_name, identity_key, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(job_name, identity_key) DO NOTHING`,
		instanceID, jobName, key, now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	inst, err = s.findInstance(ctx, jobName, key)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("create instance: row not found after insert")
	}
	return inst, nil
}

func (s *SQLStore) findInstance(ctx context.Context, jobName, key string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT instance_id, job_name, identity_key, created_at
		 FROM job_instances WHERE job_name = ? AND identity_key = ?`,
		jobName, key,
	)
	var inst Instance
	var createdAt string
	if err := row.Scan(&inst.InstanceID, &inst.JobName, &inst.IdentityKey, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find instance: %w", err)
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, err
	}
	inst.CreatedAt = t
	return &inst, nil
}

// CreateExecution inserts a new execution in STARTING status.
func (s *SQLStore) CreateExecution(ctx context.Context, instance *Instance, triggerID string, allParams map[string]any) (*Execution, error) {
	paramsJSON, err := marshalParams(allParams)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (instance_id, job_name, status, parameters_json, context_json, trigger_id)
		 VALUES (?, ?, ?, ?, '{}', ?)`,
		instance.InstanceID, instance.JobName, StatusStarting, paramsJSON, triggerID,
	)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	return &Execution{
		ExecutionID: id,
		InstanceID:  instance.InstanceID,
		JobName:     instance.JobName,
		Status:      StatusStarting,
		Parameters:  allParams,
		Context:     map[string]any{},
		TriggerID:   triggerID,
	}, nil
}

// UpdateExecution persists status, timestamps, exit status, and context.
func (s *SQLStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	ctxJSON, err := marshalParams(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE executions
		 SET status = ?, exit_code = ?, exit_description = ?, start_time = ?, end_time = ?, context_json = ?
		 WHERE execution_id = ?`,
		exec.Status, exec.ExitCode, exec.ExitDescription, formatTime(exec.StartTime), formatTime(exec.EndTime), ctxJSON, exec.ExecutionID,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

// CreateStepExecution inserts a step execution in STARTED status.
func (s *SQLStore) CreateStepExecution(ctx context.Context, executionID int64, stepName string, seq int) (*StepExecution, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_executions (execution_id, step_name, seq, status, start_time)
		 VALUES (?, ?, ?, ?, ?)`,
		executionID, stepName, seq, StepStatusStarted, now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("create step execution: %w", err)
	}
	return &StepExecution{
		ExecutionID: executionID,
		StepName:    stepName,
		Seq:         seq,
		Status:      StepStatusStarted,
		StartTime:   &now,
	}, nil
}

// UpdateStepExecution persists a step execution's terminal state and counters.
func (s *SQLStore) UpdateStepExecution(ctx context.Context, step *StepExecution) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE step_executions
		 SET status = ?, end_time = ?, read_count = ?, write_count = ?, skip_count = ?, exit_code = ?
		 WHERE execution_id = ? AND step_name = ?`,
		step.Status, formatTime(step.EndTime), step.ReadCount, step.WriteCount, step.SkipCount, step.ExitCode,
		step.ExecutionID, step.StepName,
	)
	if err != nil {
		return fmt.Errorf("update step execution: %w", err)
	}
	return nil
}

func (s *SQLStore) scanExecution(row interface{ Scan(...any) error }) (*Execution, error) {
	var exec Execution
	var exitCode, exitDescription sql.NullString
	var startTime, endTime sql.NullString
	var paramsJSON, contextJSON string

	err := row.Scan(
		&exec.ExecutionID, &exec.InstanceID, &exec.JobName, &exec.Status,
		&exitCode, &exitDescription, &startTime, &endTime,
		&paramsJSON, &contextJSON, &exec.TriggerID,
	)
	if err != nil {
		return nil, err
	}

	exec.ExitCode = exitCode.String
	exec.ExitDescription = exitDescription.String

	if exec.StartTime, err = parseTime(startTime); err != nil {
		return nil, err
	}
	if exec.EndTime, err = parseTime(endTime); err != nil {
		return nil, err
	}
	if exec.Parameters, err = unmarshalParams(paramsJSON); err != nil {
		return nil, err
	}
	if exec.Context, err = unmarshalParams(contextJSON); err != nil {
		return nil, err
	}
	return &exec, nil
}

const executionColumns = `execution_id, instance_id, job_name, status, exit_code, exit_description, start_time, end_time, parameters_json, context_json, trigger_id`

// FindExecution looks up one execution by id.
func (s *SQLStore) FindExecution(ctx context.Context, executionID int64) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE execution_id = ?`, executionID)
	exec, err := s.scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find execution: %w", err)
	}
	return exec, nil
}

// FindExecutionByTriggerID is the index-backed fast path for correlation
// lookups; trigger_id carries a UNIQUE constraint so this is a point lookup.
func (s *SQLStore) FindExecutionByTriggerID(ctx context.Context, triggerID string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE trigger_id = ?`, triggerID)
	exec, err := s.scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find execution by trigger id: %w", err)
	}
	return exec, nil
}

// FindRecentInstances returns a bounded page of instances for a job name,
// most recent first. Used by the bounded page-scan fallback of findByTriggerId.
func (s *SQLStore) FindRecentInstances(ctx context.Context, jobName string, page, size int) ([]*Instance, error) {
	if size <= 0 {
		size = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_id, job_name, identity_key, created_at
		 FROM job_instances WHERE job_name = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		jobName, size, page*size,
	)
	if err != nil {
		return nil, fmt.Errorf("find recent instances: %w", err)
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		var inst Instance
		var createdAt string
		if err := rows.Scan(&inst.InstanceID, &inst.JobName, &inst.IdentityKey, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, err
		}
		inst.CreatedAt = t
		out = append(out, &inst)
	}
	return out, rows.Err()
}

// ListExecutions returns all executions for an instance in creation order.
func (s *SQLStore) ListExecutions(ctx context.Context, instanceID string) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE instance_id = ? ORDER BY execution_id`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		exec, err := s.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// AbandonOrphaned transitions any execution left in STARTING or STARTED to
// ABANDONED. Called once at startup before serving traffic (spec §4.2 "Totality").
func (s *SQLStore) AbandonOrphaned(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, exit_code = ?, exit_description = ?, end_time = ?
		 WHERE status IN (?, ?)`,
		StatusAbandoned, StatusAbandoned, "orphaned on startup", now, StatusStarting, StatusStarted,
	)
	if err != nil {
		return 0, fmt.Errorf("abandon orphaned: %w", err)
	}
	return res.RowsAffected()
}
