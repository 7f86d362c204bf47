package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coordinator/internal/apperrors"
	"coordinator/internal/config"
	"coordinator/internal/dispatcher"
	"coordinator/internal/job"
	"coordinator/internal/observability"
	"coordinator/internal/store"
	"coordinator/internal/testutil"
)

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(event *dispatcher.Event) error { return nil }
func (noopDispatcher) Stats() dispatcher.Stats                { return dispatcher.Stats{} }
func (noopDispatcher) Close(ctx context.Context) error        { return nil }

var _ dispatcher.Dispatcher = noopDispatcher{}

func emptyChannels() config.ChannelConfig {
	return config.ChannelConfig{
		Started:   "http://channels/started",
		Progress:  "http://channels/progress",
		Completed: "http://channels/completed",
		Failed:    "http://channels/failed",
	}
}

// fakeStore is a minimal in-memory store.ExecutionStore for coordinator
// tests. CreateInstance finds-or-creates by (jobName, identifying params)
// like the real SQL store.
type fakeStore struct {
	mu         sync.Mutex
	instances  map[string]*store.Instance // keyed by jobName+"|"+identityKey
	execs      map[int64]*store.Execution
	seq        int64
	createErrs int // remaining induced CreateInstance failures, for retry tests
}

func newFakeStore() *fakeStore {
	return &fakeStore{instances: make(map[string]*store.Instance), execs: make(map[int64]*store.Execution)}
}

func (s *fakeStore) identityKeyFor(params map[string]any) string {
	// Deterministic enough for tests: just stringify the triggerId-free keys.
	key := ""
	for k := range params {
		if k == "triggerId" || k == "timestamp" {
			continue
		}
		key += k
	}
	return key
}

func (s *fakeStore) CreateInstance(ctx context.Context, jobName string, identifyingParams map[string]any) (*store.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErrs > 0 {
		s.createErrs--
		return nil, errors.New("transient storage error")
	}

	key := jobName + "|" + s.identityKeyFor(identifyingParams)
	if inst, ok := s.instances[key]; ok {
		return inst, nil
	}
	inst := &store.Instance{InstanceID: key, JobName: jobName}
	s.instances[key] = inst
	return inst, nil
}

func (s *fakeStore) CreateExecution(ctx context.Context, instance *store.Instance, triggerID string, allParams map[string]any) (*store.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	exec := &store.Execution{
		ExecutionID: s.seq,
		InstanceID:  instance.InstanceID,
		JobName:     instance.JobName,
		Status:      store.StatusStarting,
		Parameters:  allParams,
		TriggerID:   triggerID,
	}
	s.execs[exec.ExecutionID] = exec
	return exec, nil
}

func (s *fakeStore) UpdateExecution(ctx context.Context, exec *store.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *exec
	s.execs[exec.ExecutionID] = &copy
	return nil
}

func (s *fakeStore) CreateStepExecution(ctx context.Context, executionID int64, stepName string, seq int) (*store.StepExecution, error) {
	return &store.StepExecution{ExecutionID: executionID, StepName: stepName, Seq: seq, Status: store.StepStatusStarted}, nil
}

func (s *fakeStore) UpdateStepExecution(ctx context.Context, step *store.StepExecution) error { return nil }

func (s *fakeStore) FindExecution(ctx context.Context, executionID int64) (*store.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[executionID]
	if !ok {
		return nil, errors.New("not found")
	}
	copy := *exec
	return &copy, nil
}

func (s *fakeStore) FindRecentInstances(ctx context.Context, jobName string, page, size int) ([]*store.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Instance
	for _, inst := range s.instances {
		if inst.JobName == jobName {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (s *fakeStore) ListExecutions(ctx context.Context, instanceID string) ([]*store.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Execution
	for _, e := range s.execs {
		if e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) FindExecutionByTriggerID(ctx context.Context, triggerID string) (*store.Execution, error) {
	return nil, errors.New("not found")
}

func (s *fakeStore) AbandonOrphaned(ctx context.Context) (int64, error) { return 0, nil }
func (s *fakeStore) Ready(ctx context.Context) error                   { return nil }

var _ store.ExecutionStore = (*fakeStore)(nil)

func slowStepDef() *job.JobDefinition {
	return &job.JobDefinition{
		Name: "payroll-export",
		Steps: []job.StepDefinition{
			{Name: "extract", Body: func(*job.ExecutionContext, job.ParameterView, job.CancelToken) job.StepOutcome {
				time.Sleep(20 * time.Millisecond)
				return job.Finished()
			}},
		},
	}
}

func newTestCoordinator(t *testing.T, def *job.JobDefinition) (*Coordinator, *fakeStore) {
	t.Helper()
	registry := job.NewRegistry()
	if err := registry.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}
	fs := newFakeStore()
	metrics, _, err := observability.NewMetrics(context.Background())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	publisher := job.NewEventPublisher(noopDispatcher{}, emptyChannels(), "coordinator-test", "")
	runner := job.NewRunner(fs, publisher, metrics)
	c := New(registry, fs, runner, metrics, 4, time.Second)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Close(ctx)
	})
	return c, fs
}

func TestCoordinator_TriggerUnknownJob(t *testing.T) {
	t.Parallel()
	c, _ := newTestCoordinator(t, slowStepDef())

	_, err := c.Trigger(context.Background(), "no-such-job", "trigger-1", nil)
	if !errors.Is(err, apperrors.ErrUnknownJob) {
		t.Errorf("expected UnknownJob error, got %v", err)
	}
}

func TestCoordinator_TriggerReturnsImmediately(t *testing.T) {
	t.Parallel()
	c, _ := newTestCoordinator(t, slowStepDef())

	start := time.Now()
	exec, err := c.Trigger(context.Background(), "payroll-export", "trigger-1", nil)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if exec.ExecutionID == 0 {
		t.Error("expected a non-zero execution id")
	}
	if elapsed > 10*time.Millisecond {
		t.Errorf("expected Trigger to return before the 20ms step body finishes, took %v", elapsed)
	}
}

func TestCoordinator_ConcurrentTriggersAllSucceed(t *testing.T) {
	t.Parallel()
	c, fs := newTestCoordinator(t, slowStepDef())

	const n = 15
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := c.Trigger(context.Background(), "payroll-export", "trigger-"+string(rune('a'+idx)), nil)
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("trigger %d failed: %v", i, err)
		}
	}

	fs.mu.Lock()
	count := len(fs.execs)
	fs.mu.Unlock()
	if count != n {
		t.Errorf("expected %d executions created, got %d", n, count)
	}
}

func TestCoordinator_StopUnknownExecution(t *testing.T) {
	t.Parallel()
	c, _ := newTestCoordinator(t, slowStepDef())

	stopped, err := c.Stop(context.Background(), 9999)
	if err == nil {
		t.Fatal("expected error for unknown execution")
	}
	if stopped {
		t.Error("expected stopped=false")
	}
}

func TestCoordinator_StopIdempotentOnTerminalExecution(t *testing.T) {
	t.Parallel()
	c, fs := newTestCoordinator(t, slowStepDef())

	exec, err := fs.CreateExecution(context.Background(), &store.Instance{InstanceID: "inst-1", JobName: "payroll-export"}, "trigger-1", map[string]any{})
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	exec.Status = store.StatusCompleted
	if err := fs.UpdateExecution(context.Background(), exec); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	stopped, err := c.Stop(context.Background(), exec.ExecutionID)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped {
		t.Error("expected stop on a terminal execution to return false")
	}
}

func TestCoordinator_StopRunningExecution(t *testing.T) {
	t.Parallel()
	c, fs := newTestCoordinator(t, slowStepDef())

	exec, _ := fs.CreateExecution(context.Background(), &store.Instance{InstanceID: "inst-1", JobName: "payroll-export"}, "trigger-1", map[string]any{})
	exec.Status = store.StatusStarted
	_ = fs.UpdateExecution(context.Background(), exec)

	stopped, err := c.Stop(context.Background(), exec.ExecutionID)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stopped {
		t.Error("expected stop on a running execution to return true")
	}

	updated, _ := fs.FindExecution(context.Background(), exec.ExecutionID)
	if updated.Status != store.StatusStopping {
		t.Errorf("expected STOPPING, got %s", updated.Status)
	}
}

func TestCoordinator_RetriesTransientStorageErrors(t *testing.T) {
	t.Parallel()
	c, fs := newTestCoordinator(t, slowStepDef())
	fs.createErrs = 2 // fails twice, succeeds on the 3rd attempt

	exec, err := c.Trigger(context.Background(), "payroll-export", "trigger-1", nil)
	if err != nil {
		t.Fatalf("expected Trigger to succeed after retries, got %v", err)
	}
	if exec == nil {
		t.Fatal("expected a non-nil execution")
	}
}

func TestCoordinator_ExhaustsRetriesSurfacesStorageFailure(t *testing.T) {
	t.Parallel()
	c, fs := newTestCoordinator(t, slowStepDef())
	fs.createErrs = 10

	_, err := c.Trigger(context.Background(), "payroll-export", "trigger-1", nil)
	if !errors.Is(err, apperrors.ErrStorageFailure) {
		t.Errorf("expected StorageFailure error, got %v", err)
	}
}

func TestCoordinator_FindByTriggerIDScansRecentInstances(t *testing.T) {
	t.Parallel()
	c, fs := newTestCoordinator(t, slowStepDef())

	exec, err := c.Trigger(context.Background(), "payroll-export", "trigger-xyz", nil)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	testutil.MustWaitFor(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.execs) > 0
	}, testutil.WithTimeout(time.Second))

	found, err := c.FindByTriggerID(context.Background(), "trigger-xyz")
	if err != nil {
		t.Fatalf("FindByTriggerID: %v", err)
	}
	if found == nil || found.ExecutionID != exec.ExecutionID {
		t.Errorf("expected to find execution %d, got %v", exec.ExecutionID, found)
	}
}

func TestCoordinator_FindByTriggerIDNoMatch(t *testing.T) {
	t.Parallel()
	c, _ := newTestCoordinator(t, slowStepDef())

	found, err := c.FindByTriggerID(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("FindByTriggerID: %v", err)
	}
	if found != nil {
		t.Errorf("expected no match, got %v", found)
	}
}
