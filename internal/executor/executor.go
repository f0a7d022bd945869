// Package executor runs batches of heterogeneous tasks concurrently with
// per-kind circuit breaking and exponential-backoff retry.
package executor

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"docsense/internal/config"
	"docsense/internal/model"
)

// Handler performs the actual work of one task. Implementations must honor
// the context deadline; a timeout is treated like any other failure.
type Handler func(ctx context.Context, task model.Task) (*model.TaskOutcome, error)

// Executor dispatches task batches. All tasks in a batch start concurrently;
// ordering by priority is advisory and only affects logging.
type Executor struct {
	breakers   *BreakerRegistry
	cfg        config.ExecutorConfig
	onProgress func(model.TaskResult)
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates an executor. onProgress is invoked once per completed task
// (success or failure) and may be nil.
func New(breakers *BreakerRegistry, cfg config.ExecutorConfig, onProgress func(model.TaskResult)) *Executor {
	return &Executor{
		breakers:   breakers,
		cfg:        cfg,
		onProgress: onProgress,
		sleep:      sleepContext,
	}
}

// Breakers exposes the registry for callers that need breaker state.
func (e *Executor) Breakers() *BreakerRegistry {
	return e.breakers
}

// Run executes every task in the batch concurrently through the handler and
// returns exactly one TaskResult per submitted task id, in no particular
// order. Individual task failures never cancel sibling tasks. Cancelling ctx
// stops retry scheduling but still yields a result for every task.
func (e *Executor) Run(ctx context.Context, tasks []model.Task, handler Handler) []model.TaskResult {
	if len(tasks) == 0 {
		return nil
	}

	ordered := make([]model.Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	for _, task := range ordered {
		log.Debug().
			Str("taskId", task.ID).
			Str("kind", string(task.Kind)).
			Int("priority", task.Priority).
			Msg("Dispatching task")
	}

	resultCh := make(chan model.TaskResult, len(ordered))
	for _, task := range ordered {
		go func(task model.Task) {
			resultCh <- e.execute(ctx, task, handler)
		}(task)
	}

	results := make([]model.TaskResult, 0, len(ordered))
	for range ordered {
		result := <-resultCh
		if e.onProgress != nil {
			e.onProgress(result)
		}
		results = append(results, result)
	}

	return results
}

// execute attempts one task until success, exhausted retries, cancellation,
// or an open breaker.
func (e *Executor) execute(ctx context.Context, task model.Task, handler Handler) model.TaskResult {
	start := time.Now()
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return e.failed(task, model.ErrCancelled, err.Error(), start, attempts)
		}

		// An open breaker skips the task without counting a new failure.
		if !e.breakers.Allow(task.Kind) {
			return e.failed(task, model.ErrCircuitOpen, "circuit breaker open for task kind", start, attempts)
		}

		attempts++
		outcome, err := handler(ctx, task)
		if err == nil {
			e.breakers.RecordSuccess(task.Kind)

			confidence := 0.0
			if outcome != nil {
				confidence = outcome.Confidence
			}
			return model.TaskResult{
				TaskID:     task.ID,
				Kind:       task.Kind,
				Succeeded:  true,
				Value:      outcome,
				ElapsedMs:  time.Since(start).Milliseconds(),
				Confidence: confidence,
				Attempts:   attempts,
			}
		}

		e.breakers.RecordFailure(task.Kind)
		log.Warn().
			Err(err).
			Str("taskId", task.ID).
			Str("kind", string(task.Kind)).
			Int("retryCount", task.RetryCount).
			Msg("Task attempt failed")

		if task.RetryCount >= task.MaxRetries {
			return e.failed(task, model.ErrTaskFailed, err.Error(), start, attempts)
		}

		delay := backoffDelay(e.cfg.BaseDelay(), e.cfg.CapDelay(), task.RetryCount)
		if err := e.sleep(ctx, delay); err != nil {
			return e.failed(task, model.ErrCancelled, err.Error(), start, attempts)
		}
		task.RetryCount++
	}
}

func (e *Executor) failed(task model.Task, kind model.TaskErrorKind, message string, start time.Time, attempts int) model.TaskResult {
	return model.TaskResult{
		TaskID:    task.ID,
		Kind:      task.Kind,
		Succeeded: false,
		ErrorKind: kind,
		Error:     message,
		ElapsedMs: time.Since(start).Milliseconds(),
		Attempts:  attempts,
	}
}

// backoffDelay computes min(base * 2^retryCount, ceiling).
func backoffDelay(base, ceiling time.Duration, retryCount int) time.Duration {
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

// sleepContext waits for the delay or the context, whichever ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
