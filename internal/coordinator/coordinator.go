// Package coordinator implements the Trigger & Launch Coordinator (C6):
// metadata-lock-guarded execution creation plus the bounded worker pool that
// runs the step pipeline asynchronously.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"coordinator/internal/apperrors"
	"coordinator/internal/job"
	"coordinator/internal/observability"
	"coordinator/internal/store"
	"coordinator/pkg/backoff"
)

const (
	defaultPageSize       = 100
	metadataCreateRetries = 3
)

type submission struct {
	ctx  context.Context
	exec *store.Execution
	def  *job.JobDefinition
}

// Coordinator implements trigger(), stop(), and findByTriggerId() over C1
// and the C5 pipeline runtime, serializing only metadata creation behind
// MetadataLock (spec §4.1).
type Coordinator struct {
	registry     *job.Registry
	store        store.ExecutionStore
	runner       *job.Runner
	metrics      *observability.Metrics
	lock         *MetadataLock
	queueTimeout time.Duration

	queue    chan *submission
	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
	logger   *slog.Logger
}

// New builds a Coordinator with a fixed-size worker pool, mirroring the
// teacher's dispatcher design: a buffered channel feeding workerPoolSize
// goroutines, rather than an unbounded goroutine per trigger.
func New(registry *job.Registry, st store.ExecutionStore, runner *job.Runner, metrics *observability.Metrics, workerPoolSize int, queueTimeout time.Duration) *Coordinator {
	if workerPoolSize < 1 {
		workerPoolSize = 1
	}
	c := &Coordinator{
		registry:     registry,
		store:        st,
		runner:       runner,
		metrics:      metrics,
		lock:         NewMetadataLock(),
		queueTimeout: queueTimeout,
		queue:        make(chan *submission, workerPoolSize*4),
		shutdown:     make(chan struct{}),
		logger:       slog.With("component", "coordinator"),
	}

	c.wg.Add(workerPoolSize)
	for i := 0; i < workerPoolSize; i++ {
		go c.worker()
	}

	c.logger.Info("coordinator started", "workers", workerPoolSize)
	return c
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for sub := range c.queue {
		c.runner.Run(sub.ctx, sub.exec, sub.def)
	}
}

// Trigger implements §4.1's algorithm: resolve the job, build parameters,
// acquire the metadata lock with a bounded wait, create instance+execution
// under the lock, release, and submit the execution to the worker pool.
func (c *Coordinator) Trigger(ctx context.Context, jobName, triggerID string, rawParams map[string]string) (*store.Execution, error) {
	def, ok := c.registry.Lookup(jobName)
	if !ok {
		return nil, apperrors.UnknownJob(jobName)
	}

	params, err := job.BuildParameters(def, triggerID, time.Now().UnixMilli(), rawParams)
	if err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, c.queueTimeout)
	defer cancel()

	waitStart := time.Now()
	release, err := c.lock.Acquire(lockCtx)
	if err != nil {
		c.metrics.RecordLockTimeout(ctx)
		return nil, apperrors.LockTimeout(c.queueTimeout.String())
	}
	c.metrics.RecordLockWait(ctx, time.Since(waitStart).Seconds(), c.lock.QueueDepth())
	exec, err := c.createExecutionWithRetry(ctx, def, triggerID, params)
	release()
	if err != nil {
		return nil, err
	}

	sub := &submission{ctx: context.Background(), exec: exec, def: def}
	select {
	case c.queue <- sub:
	default:
		c.logger.Warn("worker queue saturated, submission will block", "executionId", exec.ExecutionID)
		c.queue <- sub
	}

	return exec, nil
}

// createExecutionWithRetry wraps the metadata-creation critical section in
// a bounded retry for transient storage errors (spec §4.1 "Retry").
func (c *Coordinator) createExecutionWithRetry(ctx context.Context, def *job.JobDefinition, triggerID string, params *job.Parameters) (*store.Execution, error) {
	var lastErr error
	for attempt := 1; attempt <= metadataCreateRetries; attempt++ {
		instance, err := c.store.CreateInstance(ctx, def.Name, params.IdentifyingMap())
		if err == nil {
			var exec *store.Execution
			exec, err = c.store.CreateExecution(ctx, instance, triggerID, params.AllMap())
			if err == nil {
				return exec, nil
			}
		}
		lastErr = err
		if attempt < metadataCreateRetries {
			time.Sleep(backoff.Exponential(attempt, nil))
		}
	}
	return nil, apperrors.StorageFailure("coordinator.createExecution", lastErr)
}

// Stop transitions a running execution to STOPPING, observed cooperatively
// by the pipeline runtime between steps (spec §4.1 "Stop").
func (c *Coordinator) Stop(ctx context.Context, executionID int64) (bool, error) {
	exec, err := c.store.FindExecution(ctx, executionID)
	if err != nil || exec == nil {
		return false, apperrors.NotFound("execution", fmt.Sprintf("%d", executionID))
	}
	if store.IsTerminal(exec.Status) {
		return false, nil
	}

	exec.Status = store.StatusStopping
	if err := c.store.UpdateExecution(ctx, exec); err != nil {
		return false, apperrors.StorageFailure("coordinator.stop", err)
	}
	return true, nil
}

// FindExecution resolves an execution by its internal id.
func (c *Coordinator) FindExecution(ctx context.Context, executionID int64) (*store.Execution, error) {
	exec, err := c.store.FindExecution(ctx, executionID)
	if err != nil {
		return nil, apperrors.StorageFailure("coordinator.findExecution", err)
	}
	return exec, nil
}

// FindByTriggerID resolves an execution by the external trigger id used to
// launch it. The fast path is a direct store lookup; when it errors or finds
// nothing it falls back to a bounded page scan across recent instances for
// every registered job (spec §4.1 "Lookup by external id").
func (c *Coordinator) FindByTriggerID(ctx context.Context, triggerID string) (*store.Execution, error) {
	exec, err := c.store.FindExecutionByTriggerID(ctx, triggerID)
	if err == nil && exec != nil {
		return exec, nil
	}

	for _, jobName := range c.registry.Names() {
		instances, err := c.store.FindRecentInstances(ctx, jobName, 0, defaultPageSize)
		if err != nil {
			continue
		}
		for _, instance := range instances {
			execs, err := c.store.ListExecutions(ctx, instance.InstanceID)
			if err != nil {
				continue
			}
			for _, e := range execs {
				if e.TriggerID == triggerID {
					return e, nil
				}
			}
		}
	}
	return nil, nil
}

// QueueDepth exposes the metadata lock's wait-queue depth for operators
// (spec §4.1 "Observability").
func (c *Coordinator) QueueDepth() int64 {
	return c.lock.QueueDepth()
}

// Close stops accepting new submissions, drains the queue, and waits for
// running pipeline invocations to finish or ctx to expire.
func (c *Coordinator) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.queue)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("coordinator: shutdown timed out waiting for running executions")
	}
}
