package periodic

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "pollrunner/pkg/logx"
)

// State is the runner lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Runner fires the task every PollingPeriod and coordinates shutdown.
//
// Every scheduled firing owns a fresh Latch. Stop releases it at once when the
// firing has not started yet; otherwise the firing releases it after its cycle
// returns, so AwaitShutdown never returns while an attempt or a backoff wait
// is still in progress.
type Runner struct {
	cfg  Config
	exec *Executor
	log  logx.Logger

	// cycleMu serializes run cycles, including across a Stop/Start restart
	// that happens while the previous chain's cycle is still running.
	cycleMu sync.Mutex

	mu     sync.Mutex
	state  State
	stop   context.Context
	cancel context.CancelFunc
	gen    uint64
	timer  *time.Timer
	latch  *Latch
	// prev is the previous chain's latch when Start ran before its last
	// cycle finished.
	prev *Latch

	inFlight  bool
	cycles    uint64
	succeeded uint64
	failed    uint64
	aborted   uint64
	lastRun   time.Time
	lastOut   Outcome
	lastErr   string
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	State       State
	InFlight    bool
	Cycles      uint64
	Succeeded   uint64
	Failed      uint64
	Aborted     uint64
	LastRun     time.Time
	LastOutcome Outcome
	LastError   string
}

func New(task Task, cfg Config) (*Runner, error) {
	exec, err := NewExecutor(task, cfg)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:  exec.cfg,
		exec: exec,
		log:  exec.log,
	}, nil
}

// Config returns the effective configuration.
func (r *Runner) Config() Config { return r.cfg }

// Start begins the firing chain. Calling Start while running is a no-op.
// Calling it after Stop starts a fresh chain.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		r.log.Info("runner already running; start ignored")
		return
	}
	r.state = StateRunning
	if r.prev != nil && r.prev.Released() {
		r.prev = nil
	}
	if r.latch != nil && !r.latch.Released() {
		r.prev = r.latch
	}
	r.stop, r.cancel = context.WithCancel(context.Background())
	r.gen++
	r.log.Info("runner started",
		logx.Duration("polling_period", r.cfg.PollingPeriod),
		logx.Duration("initial_delay", r.cfg.InitialDelay),
		logx.Int("max_retries", r.cfg.MaxRetries),
		logx.String("backoff", string(r.cfg.Backoff)),
	)
	r.scheduleLocked(r.cfg.InitialDelay)
}

// Stop suppresses further firings and cancels a pending timer. An in-flight
// cycle sees its task context cancelled and aborts at its next check. It does not wait; see
// AwaitShutdown. Stop is idempotent.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return
	}
	r.state = StateStopping
	r.cancel()

	pending := r.timer != nil && r.timer.Stop()
	r.timer = nil
	if pending && r.latch != nil {
		// The firing never started; nothing to wait for.
		r.latch.Release()
	}
	fields := []logx.Field{logx.Bool("in_flight", !pending), logx.Uint64("cycles", r.cycles)}
	if !r.lastRun.IsZero() {
		fields = append(fields, logx.Time("last_run", r.lastRun))
	}
	r.log.Info("runner stopping", fields...)
}

// AwaitShutdown blocks until the current firing's latch is released. It
// returns immediately when there is no latch (never started) or it is
// already released.
func (r *Runner) AwaitShutdown(ctx context.Context) error {
	r.mu.Lock()
	prev, l := r.prev, r.latch
	r.mu.Unlock()
	if prev != nil {
		if err := prev.Wait(ctx); err != nil {
			return err
		}
	}
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// StopAndWait is Stop followed by AwaitShutdown.
func (r *Runner) StopAndWait(ctx context.Context) error {
	r.Stop()
	return r.AwaitShutdown(ctx)
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		State:       r.state,
		InFlight:    r.inFlight,
		Cycles:      r.cycles,
		Succeeded:   r.succeeded,
		Failed:      r.failed,
		Aborted:     r.aborted,
		LastRun:     r.lastRun,
		LastOutcome: r.lastOut,
		LastError:   r.lastErr,
	}
}

// scheduleLocked arms the next firing with its own latch. r.mu must be held.
func (r *Runner) scheduleLocked(delay time.Duration) {
	l := NewLatch()
	r.latch = l
	gen, stop := r.gen, r.stop
	r.timer = time.AfterFunc(max(delay, 0), func() { r.fire(gen, stop, l) })
}

func (r *Runner) fire(gen uint64, stop context.Context, l *Latch) {
	defer func() {
		l.Release()
		r.mu.Lock()
		if r.gen == gen && stop.Err() == nil {
			r.scheduleLocked(r.cfg.PollingPeriod)
		}
		r.mu.Unlock()
	}()
	r.runOnce(stop)
}

func (r *Runner) runOnce(stop context.Context) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	// Stop may have landed while waiting for a previous chain's cycle.
	if stop.Err() != nil {
		return
	}

	r.mu.Lock()
	r.inFlight = true
	r.mu.Unlock()

	res := cycleResult{outcome: OutcomeAborted}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("run cycle panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
		r.record(res)
	}()

	res = r.exec.run(stop, uuid.NewString())
	if res.err != nil {
		r.log.Error("unhandled task error", logx.Err(res.err))
	}
}

func (r *Runner) record(res cycleResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight = false
	r.cycles++
	r.lastRun = time.Now()
	r.lastOut = res.outcome
	r.lastErr = ""
	switch res.outcome {
	case OutcomeSucceeded:
		r.succeeded++
	case OutcomeFailed:
		r.failed++
		if res.err != nil {
			r.lastErr = res.err.Error()
		}
	case OutcomeAborted:
		r.aborted++
	}
}
