package periodic

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"pollrunner/internal/eventbus"
	logx "pollrunner/pkg/logx"
)

// Outcome is how a run cycle ended.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	// OutcomeAborted means a stop was requested mid-cycle. It is neither a
	// success nor a failure and never reaches the error callback.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Executor runs one cycle of up to MaxRetries attempts.
type Executor struct {
	cfg  Config
	task Task
	log  logx.Logger
}

func NewExecutor(task Task, cfg Config) (*Executor, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Executor{
		cfg:  cfg,
		task: task,
		log:  cfg.Logger.With(logx.String("comp", "periodic"), logx.String("tag", cfg.LogTag)),
	}, nil
}

// RunCycle runs the task until it succeeds, the attempt budget is spent, or
// ctx is cancelled. The task's context is derived from ctx, and cancellation
// is checked before every attempt, after a failed one and during every
// backoff wait; it is not an error.
//
// On terminal failure the returned error is a *TerminalError.
func (e *Executor) RunCycle(ctx context.Context) (Outcome, error) {
	res := e.run(ctx, uuid.NewString())
	return res.outcome, res.err
}

type cycleResult struct {
	outcome  Outcome
	attempts int
	err      error
}

func (e *Executor) run(ctx context.Context, id string) cycleResult {
	start := time.Now()
	log := e.log.With(logx.String("cycle", id))
	maxAttempts := e.cfg.MaxRetries

	e.publish(eventbus.CycleStarted, id, start, 0, nil)
	log.Debug("cycle started", logx.Int("max_retries", maxAttempts))

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			log.Info("cycle aborted: stop requested", logx.Int("attempt", attempt))
			e.publish(eventbus.CycleAborted, id, start, attempt-1, nil)
			return cycleResult{outcome: OutcomeAborted, attempts: attempt - 1}
		}

		if log.Enabled(logx.LevelTrace) {
			log.Trace("attempt started", logx.Int("attempt", attempt))
		}
		err := e.attempt(ctx)
		if err == nil {
			log.Info("task succeeded", logx.Int("attempt", attempt), logx.Duration("dur", time.Since(start)))
			e.publish(eventbus.CycleSucceeded, id, start, attempt, nil)
			return cycleResult{outcome: OutcomeSucceeded, attempts: attempt}
		}

		// A failure that coincides with a stop is the task unwinding, not a
		// verdict on the target.
		if ctx.Err() != nil {
			log.Info("cycle aborted: stop requested", logx.Int("attempt", attempt), logx.Err(err))
			e.publish(eventbus.CycleAborted, id, start, attempt, nil)
			return cycleResult{outcome: OutcomeAborted, attempts: attempt}
		}

		if attempt >= maxAttempts || IsNoRetry(err) {
			return e.fail(log, id, start, attempt, err)
		}

		e.publish(eventbus.AttemptFailed, id, start, attempt, err)

		delay := e.retryDelay(attempt, err)
		log.Warn("task attempt failed; retrying",
			logx.Int("attempt", attempt),
			logx.Int("max_retries", maxAttempts),
			logx.Duration("delay", delay),
			logx.String("err", unwrapMarkers(err).Error()),
		)
		if !sleepCtx(ctx, delay) {
			log.Info("cycle aborted during backoff", logx.Int("attempt", attempt))
			e.publish(eventbus.CycleAborted, id, start, attempt, nil)
			return cycleResult{outcome: OutcomeAborted, attempts: attempt}
		}
	}
	// MaxRetries >= 1 guarantees the loop returns.
	return cycleResult{outcome: OutcomeAborted}
}

func (e *Executor) fail(log logx.Logger, id string, start time.Time, attempts int, err error) cycleResult {
	original := unwrapMarkers(err)
	log.Error("task failed; giving up",
		logx.Int("attempts", attempts),
		logx.Int("max_retries", e.cfg.MaxRetries),
		logx.Bool("no_retry", IsNoRetry(err)),
		logx.Err(original),
	)
	terr := &TerminalError{Err: original, Attempts: attempts, MaxRetries: e.cfg.MaxRetries, LogTag: e.cfg.LogTag}
	e.notify(log, terr)
	e.publish(eventbus.CycleFailed, id, start, attempts, original)
	return cycleResult{outcome: OutcomeFailed, attempts: attempts, err: terr}
}

// notify runs the error callback; nothing it does may escape the cycle.
func (e *Executor) notify(log logx.Logger, terr *TerminalError) {
	if e.cfg.OnError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("error callback panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	fc := FailureContext{
		Attempts:      terr.Attempts,
		MaxRetries:    terr.MaxRetries,
		LogTag:        terr.LogTag,
		OriginalError: terr.Err,
	}
	if err := e.cfg.OnError(terr, fc); err != nil {
		log.Error("error callback failed", logx.Err(err))
	}
}

// attempt runs the task once under ctx, so a stop reaches a task that
// watches its context. With a timeout, the task races a timer; a task that
// ignores its context keeps running after the timer wins and its result is
// dropped.
func (e *Executor) attempt(ctx context.Context) error {
	timeout := e.cfg.TaskTimeout
	if timeout <= 0 {
		return e.call(ctx)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.call(runCtx) }()

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && runCtx.Err() != nil {
			return &TimeoutError{Timeout: timeout, Err: err}
		}
		return err
	case <-tmr.C:
		return &TimeoutError{Timeout: timeout}
	}
}

// call converts task panics into attempt failures.
func (e *Executor) call(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return e.task(ctx, e.cfg)
}

func (e *Executor) retryDelay(attempt int, err error) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return max(ra.RetryAfter(), 0)
	}
	return max(e.cfg.Backoff.Delay(attempt, e.cfg.BaseRetryDelay), 0)
}

func (e *Executor) publish(topic, id string, start time.Time, attempts int, err error) {
	if e.cfg.Bus == nil {
		return
	}
	ev := eventbus.CycleEvent{ID: id, Tag: e.cfg.LogTag, Started: start, Attempts: attempts}
	if topic != eventbus.CycleStarted {
		ev.Duration = time.Since(start)
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.cfg.Bus.Publish(eventbus.Event{Type: topic, Data: ev})
}

// sleepCtx waits d unless ctx is cancelled first. It reports whether the
// full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}
