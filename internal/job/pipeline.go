package job

import (
	"context"
	"log/slog"
	"time"

	"coordinator/internal/observability"
	"coordinator/internal/store"
)

// cancelToken adapts the execution store's STOPPING flag into the
// cooperative CancelToken a step body polls.
type cancelToken struct {
	ctx         context.Context
	store       store.ExecutionStore
	executionID int64
}

func (c *cancelToken) Stopped() bool {
	exec, err := c.store.FindExecution(c.ctx, c.executionID)
	if err != nil {
		return false
	}
	return exec.Status == store.StatusStopping
}

// Runner is the C5 Step Pipeline Runtime: it drives one execution through
// its job definition's steps to a terminal status, persisting progress to
// the execution store and publishing lifecycle events along the way.
type Runner struct {
	store     store.ExecutionStore
	publisher *EventPublisher
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewRunner builds a pipeline runtime over the given execution store, event
// publisher, and metrics recorder.
func NewRunner(s store.ExecutionStore, publisher *EventPublisher, metrics *observability.Metrics) *Runner {
	return &Runner{
		store:     s,
		publisher: publisher,
		metrics:   metrics,
		logger:    slog.With("component", "pipeline_runner"),
	}
}

// Run drives exec through def's steps to a terminal status. It never
// returns an error: all failures are captured as the execution's terminal
// status and surfaced through C1/C2, per §4.2's "Totality" requirement.
func (r *Runner) Run(ctx context.Context, exec *store.Execution, def *JobDefinition) {
	start := time.Now()
	exec.Status = store.StatusStarted
	exec.StartTime = &start
	if err := r.store.UpdateExecution(ctx, exec); err != nil {
		r.logger.ErrorContext(ctx, "failed to persist STARTED status", "executionId", exec.ExecutionID, "error", err)
	}
	r.metrics.RecordExecutionStarted(ctx, exec.JobName)

	r.publisher.Publish(ctx, r.lifecycleEvent(EventJobStarted, exec, len(def.Steps)))

	execCtx := NewExecutionContext(exec.Context)
	execCtx.SetLong("executionId", exec.ExecutionID)
	token := &cancelToken{ctx: ctx, store: r.store, executionID: exec.ExecutionID}
	params := parameterViewFromMap(exec.Parameters)

	var firstFailure error
	stopped := false
	completedSteps := 0
	var readTotal, writeTotal, skipTotal int64

	for i, stepDef := range def.Steps {
		if stopped {
			break
		}

		seq := i + 1
		stepExec, err := r.store.CreateStepExecution(ctx, exec.ExecutionID, stepDef.Name, seq)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to persist step start", "executionId", exec.ExecutionID, "step", stepDef.Name, "error", err)
			firstFailure = err
			break
		}

		outcome := stepDef.Body(execCtx, params, token)

		end := time.Now()
		stepExec.EndTime = &end
		stepExec.ReadCount = outcome.ReadCount
		stepExec.WriteCount = outcome.WriteCount
		stepExec.SkipCount = outcome.SkipCount
		readTotal += outcome.ReadCount
		writeTotal += outcome.WriteCount
		skipTotal += outcome.SkipCount

		switch {
		case outcome.Err != nil:
			stepExec.Status = store.StepStatusFailed
			stepExec.ExitCode = store.StepStatusFailed
			if firstFailure == nil {
				firstFailure = outcome.Err
			}
		case outcome.Processed:
			stepExec.Status = store.StepStatusProcessed
			stepExec.ExitCode = store.StepStatusProcessed
			completedSteps++
		default:
			stepExec.Status = store.StepStatusCompleted
			stepExec.ExitCode = store.StepStatusCompleted
			completedSteps++
		}
		if outcome.Err == nil {
			r.metrics.RecordStepCompleted(ctx, exec.JobName, stepDef.Name)
		}
		if err := r.store.UpdateStepExecution(ctx, stepExec); err != nil {
			r.logger.ErrorContext(ctx, "failed to persist step completion", "executionId", exec.ExecutionID, "step", stepDef.Name, "error", err)
		}

		if outcome.Err != nil {
			break
		}

		progress := int(float64(completedSteps) / float64(len(def.Steps)) * 100)
		r.publisher.Publish(ctx, r.stepEvent(exec, def, stepDef.Name, progress))

		// Between steps, re-read status; a STOPPING flag set by stop() must
		// abandon remaining steps before the terminal event publishes.
		current, err := r.store.FindExecution(ctx, exec.ExecutionID)
		if err == nil && current.Status == store.StatusStopping {
			stopped = true
			r.abandonRemaining(ctx, exec.ExecutionID, def.Steps[i+1:], i+2)
		}
	}

	exec.Context = execCtx.Snapshot()
	end := time.Now()
	exec.EndTime = &end

	var lifecycleType EventType
	switch {
	case stopped:
		exec.Status = store.StatusStopped
		exec.ExitCode = store.StatusStopped
		lifecycleType = EventJobStopped
	case firstFailure != nil:
		exec.Status = store.StatusFailed
		exec.ExitCode = store.StatusFailed
		exec.ExitDescription = firstFailure.Error()
		lifecycleType = EventJobFailed
	default:
		exec.Status = store.StatusCompleted
		exec.ExitCode = store.StatusCompleted
		lifecycleType = EventJobCompleted
	}

	if err := r.store.UpdateExecution(ctx, exec); err != nil {
		r.logger.ErrorContext(ctx, "failed to persist terminal status", "executionId", exec.ExecutionID, "error", err)
	}

	success := lifecycleType == EventJobCompleted
	r.metrics.RecordExecutionCompleted(ctx, exec.JobName, success, time.Since(start).Seconds())

	evt := r.lifecycleEvent(lifecycleType, exec, len(def.Steps))
	evt.ReadCount, evt.WriteCount, evt.SkipCount = readTotal, writeTotal, skipTotal
	r.publisher.Publish(ctx, evt)
}

func (r *Runner) abandonRemaining(ctx context.Context, executionID int64, remaining []StepDefinition, startSeq int) {
	for i, stepDef := range remaining {
		stepExec, err := r.store.CreateStepExecution(ctx, executionID, stepDef.Name, startSeq+i)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to persist abandoned step", "executionId", executionID, "step", stepDef.Name, "error", err)
			continue
		}
		end := time.Now()
		stepExec.Status = store.StepStatusAbandoned
		stepExec.ExitCode = store.StepStatusAbandoned
		stepExec.EndTime = &end
		if err := r.store.UpdateStepExecution(ctx, stepExec); err != nil {
			r.logger.ErrorContext(ctx, "failed to persist abandoned step", "executionId", executionID, "step", stepDef.Name, "error", err)
		}
	}
}

func (r *Runner) lifecycleEvent(t EventType, exec *store.Execution, stepCount int) *LifecycleEvent {
	return &LifecycleEvent{
		EventType:       t,
		Timestamp:       time.Now(),
		ExecutionID:     exec.ExecutionID,
		JobName:         exec.JobName,
		Status:          exec.Status,
		ExitCode:        exec.ExitCode,
		ExitDescription: exec.ExitDescription,
		StartTime:       exec.StartTime,
		EndTime:         exec.EndTime,
		TriggerID:       exec.TriggerID,
		StepCount:       stepCount,
	}
}

func (r *Runner) stepEvent(exec *store.Execution, def *JobDefinition, stepName string, progress int) *LifecycleEvent {
	evt := r.lifecycleEvent(EventStepCompleted, exec, len(def.Steps))
	evt.StepName = stepName
	evt.Progress = progress
	return evt
}

// parameterViewFromMap adapts a plain snapshot map (e.g. recovered from
// storage) into the ParameterView a step body receives, preserving the
// coerced Go types produced by BuildParameters at trigger time.
type mapParameterView struct {
	values map[string]any
}

func parameterViewFromMap(values map[string]any) ParameterView {
	return &mapParameterView{values: values}
}

func (m *mapParameterView) GetString(name string) (string, bool) {
	v, ok := m.values[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m *mapParameterView) GetLong(name string) (int64, bool) {
	v, ok := m.values[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func (m *mapParameterView) GetDouble(name string) (float64, bool) {
	v, ok := m.values[name]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func (m *mapParameterView) GetBool(name string) (bool, bool) {
	v, ok := m.values[name]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

var _ ParameterView = (*mapParameterView)(nil)
