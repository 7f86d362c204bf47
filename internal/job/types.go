// Package job implements the Job Registry (C7) and Step Pipeline Runtime (C5).
package job

// ParamType is the declared type of a recognized job parameter.
type ParamType int

const (
	TypeString ParamType = iota
	TypeLong
	TypeDouble
	TypeBool
)

// ParameterKey describes one recognized parameter a job accepts.
type ParameterKey struct {
	Name        string
	Type        ParamType
	Default     any
	Identifying bool
}

// StepOutcome is the result of a step body's invocation.
// A zero-value StepOutcome (Err == nil) means Finished.
type StepOutcome struct {
	Err        error
	Processed  bool // true marks the step PROCESSED instead of COMPLETED
	ReadCount  int64
	WriteCount int64
	SkipCount  int64
}

// Finished returns the outcome for a step that completed without error and
// without counters to report.
func Finished() StepOutcome { return StepOutcome{} }

// FinishedWithCounts returns the outcome for a step that completed and read,
// wrote, or skipped records worth reporting on the execution's lifecycle
// events.
func FinishedWithCounts(read, write, skip int64) StepOutcome {
	return StepOutcome{ReadCount: read, WriteCount: write, SkipCount: skip}
}

// ProcessedAlready returns the outcome for a step whose body found its
// output already handled by an idempotency check (spec supplemental status).
func ProcessedAlready() StepOutcome { return StepOutcome{Processed: true} }

// Failed returns the outcome for a step whose body returned an error.
func Failed(err error) StepOutcome { return StepOutcome{Err: err} }

// CancelToken lets a step body poll for a cooperative stop request.
type CancelToken interface {
	Stopped() bool
}

// ParameterView is the read-only view of an execution's coerced parameters
// a step body receives.
type ParameterView interface {
	GetString(name string) (string, bool)
	GetLong(name string) (int64, bool)
	GetDouble(name string) (float64, bool)
	GetBool(name string) (bool, bool)
}

// StepBody is the function a Step Definition wraps.
type StepBody func(ctx *ExecutionContext, params ParameterView, cancel CancelToken) StepOutcome

// StepDefinition names one step in a job's ordered pipeline.
type StepDefinition struct {
	Name string
	Body StepBody
}

// JobDefinition is an immutable, registered job: an ordered, non-empty step
// list plus the parameter keys it recognizes.
type JobDefinition struct {
	Name          string
	Steps         []StepDefinition
	ParameterKeys []ParameterKey
}
