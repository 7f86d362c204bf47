package store

import "time"

// Execution status values. Terminal statuses (everything but STARTING,
// STARTED, STOPPING) are immutable once reached.
const (
	StatusStarting  = "STARTING"
	StatusStarted   = "STARTED"
	StatusStopping  = "STOPPING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusStopped   = "STOPPED"
	StatusAbandoned = "ABANDONED"
)

// IsTerminal reports whether status is one an execution cannot leave.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusStopped, StatusAbandoned:
		return true
	default:
		return false
	}
}

// Step execution status values. PROCESSED is the supplemental terminal
// status for a step whose body completed but whose output an idempotency
// check identified as already handled.
const (
	StepStatusStarted   = "STARTED"
	StepStatusCompleted = "COMPLETED"
	StepStatusProcessed = "PROCESSED"
	StepStatusFailed    = "FAILED"
	StepStatusAbandoned = "ABANDONED"
)

// Instance is the equivalence class of executions sharing identifying
// parameters for a given job name.
type Instance struct {
	InstanceID  string
	JobName     string
	IdentityKey string
	CreatedAt   time.Time
}

// Execution is a single attempt to run a job with specific parameters.
type Execution struct {
	ExecutionID     int64
	InstanceID      string
	JobName         string
	Status          string
	ExitCode        string
	ExitDescription string
	StartTime       *time.Time
	EndTime         *time.Time
	Parameters      map[string]any
	Context         map[string]any
	TriggerID       string
}

// StepExecution records one step's run within an execution.
type StepExecution struct {
	ExecutionID int64
	StepName    string
	Seq         int
	Status      string
	StartTime   *time.Time
	EndTime     *time.Time
	ReadCount   int64
	WriteCount  int64
	SkipCount   int64
	ExitCode    string
}

// AggregationRow is the persisted state of one (executionId, aggregationType,
// groupKey) keyed aggregate.
type AggregationRow struct {
	ExecutionID     int64
	AggregationType string
	GroupKey        string
	RecordCount     int64
	TotalSalary     float64
	TotalHours      float64
	TotalBonus      float64
	MinSalary       float64
	MaxSalary       float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AggregationDelta carries one group's buffered deltas for a flush. Applying
// the same delta twice double-counts — callers must never re-flush a buffer.
type AggregationDelta struct {
	AggregationType string
	GroupKey        string
	Count           int64
	TotalSalary     float64
	TotalHours      float64
	TotalBonus      float64
	MinSalary       float64
	MaxSalary       float64
}
