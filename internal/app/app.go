// Package app wires config, logging, metrics, the debug server and the
// periodic runner into one process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pollrunner/internal/config"
	"pollrunner/internal/eventbus"
	"pollrunner/internal/metrics"
	"pollrunner/internal/observability/debugserver"
	rtsup "pollrunner/internal/runtime/supervisor"
	"pollrunner/internal/tasks"
	logx "pollrunner/pkg/logx"
	"pollrunner/pkg/periodic"
)

var errAppStopping = errors.New("app stopping; reload discarded")

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	reg     *prometheus.Registry
	metrics *metrics.Collector
	debug   *debugserver.Service

	mu              sync.Mutex
	runner          *periodic.Runner
	shutdownTimeout time.Duration
	stopping        bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	shutdownTimeout, err := mapShutdownTimeout(cfg)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		cfgm:            cfgm,
		log:             log,
		logs:            logSvc,
		bus:             eventbus.New(),
		reg:             reg,
		metrics:         metrics.New(reg),
		shutdownTimeout: shutdownTimeout,
	}
	a.debug = debugserver.New(dcfg, debugserver.Deps{Gatherer: reg, Health: a.health}, logSvc.Logger())

	r, err := a.buildRunner(cfg)
	if err != nil {
		return nil, err
	}
	a.runner = r
	return a, nil
}

// Runner returns the active runner. It changes when a reload rebuilds it.
func (a *App) Runner() *periodic.Runner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runner
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Reject a reload that the runner or debug server could not apply.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapRunnerConfig(cfg); err != nil {
			return err
		}
		if _, err := tasks.Build(cfg.Task); err != nil {
			return err
		}
		if _, err := mapDebugConfig(cfg); err != nil {
			return err
		}
		_, err := mapShutdownTimeout(cfg)
		return err
	})

	a.sup.Go("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})
	a.debug.Start(a.sup.Context())

	a.Runner().Start()

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// applyConfig hot-applies a validated config. Runner or task changes
// rebuild the runner; the old one is drained before the new one starts so
// two cycles never overlap.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	if config.Has(sections, "logging") {
		a.logs.Apply(mapLogConfig(next))
	}
	if config.Has(sections, "shutdown_timeout") {
		if d, err := mapShutdownTimeout(next); err == nil {
			a.mu.Lock()
			a.shutdownTimeout = d
			a.mu.Unlock()
		}
	}
	if config.Has(sections, "debug") {
		if dcfg, err := mapDebugConfig(next); err != nil {
			a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
		} else {
			a.debug.Reconfigure(a.sup.Context(), dcfg)
		}
	}
	if config.Has(sections, "runner") || config.Has(sections, "task") {
		switch err := a.swapRunner(ctx, next); {
		case errors.Is(err, errAppStopping):
			a.log.Info("runner rebuild discarded; app is stopping")
			return
		case err != nil:
			a.log.Warn("runner rebuild failed; keeping previous", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) swapRunner(ctx context.Context, cfg *config.Config) error {
	next, err := a.buildRunner(cfg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	old := a.runner
	timeout := a.shutdownTimeout
	stopping := a.stopping
	a.mu.Unlock()
	if stopping {
		return errAppStopping
	}
	sdNotify(a.log, daemon.SdNotifyReloading)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	err = old.StopAndWait(waitCtx)
	cancel()
	if err != nil {
		// The old cycle keeps running detached; its runner has no further firings.
		a.log.Warn("previous runner did not drain in time", logx.Duration("timeout", timeout), logx.Err(err))
	}

	// Stop may have begun while the old runner drained. It then owns the
	// shutdown and the replacement must never start.
	a.mu.Lock()
	if a.stopping || ctx.Err() != nil {
		a.mu.Unlock()
		return errAppStopping
	}
	a.runner = next
	next.Start()
	a.mu.Unlock()
	sdNotify(a.log, daemon.SdNotifyReady)
	return nil
}

func (a *App) buildRunner(cfg *config.Config) (*periodic.Runner, error) {
	task, err := tasks.Build(cfg.Task)
	if err != nil {
		return nil, err
	}
	pc, err := mapRunnerConfig(cfg)
	if err != nil {
		return nil, err
	}
	pc.Logger = a.logs.Logger()
	pc.Bus = a.bus
	pc.OnError = a.onError
	r, err := periodic.New(task, pc)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	return r, nil
}

// onError is the runner's terminal-failure callback. It raises an alert-level
// line so the failure reaches the alert sink even when console output is off.
func (a *App) onError(err *periodic.TerminalError, fc periodic.FailureContext) error {
	a.log.Error("task gave up; waiting for next firing",
		logx.String("tag", fc.LogTag),
		logx.Int("attempts", fc.Attempts),
		logx.Int("max_retries", fc.MaxRetries),
		logx.Err(err),
	)
	return nil
}

func (a *App) health() (bool, any) {
	snap := a.Runner().Snapshot()
	detail := map[string]any{
		"runner":     snap.State.String(),
		"in_flight":  snap.InFlight,
		"cycles":     snap.Cycles,
		"succeeded":  snap.Succeeded,
		"failed":     snap.Failed,
		"aborted":    snap.Aborted,
		"last_error": snap.LastError,
	}
	if !snap.LastRun.IsZero() {
		detail["last_run"] = snap.LastRun
		detail["last_outcome"] = snap.LastOutcome.String()
	}
	if a.sup != nil {
		detail["goroutines"] = a.sup.Counters()
	}
	return a.Err() == nil && snap.State == periodic.StateRunning, detail
}

// Stop drains the runner within the shutdown timeout (never extending ctx),
// then stops the debug server and background loops.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	a.mu.Lock()
	a.stopping = true
	r, timeout := a.runner, a.shutdownTimeout
	a.mu.Unlock()

	var errs []error
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	if err := r.StopAndWait(waitCtx); err != nil {
		a.log.Warn("in-flight cycle did not finish before shutdown timeout", logx.Duration("timeout", timeout), logx.Err(err))
		errs = append(errs, fmt.Errorf("runner: %w", err))
	} else {
		a.log.Debug("runner drained", logx.Duration("took", time.Since(start)))
	}
	cancel()

	a.sup.Cancel()
	a.debug.Stop(ctx)
	if err := a.sup.Wait(ctx); err != nil {
		errs = append(errs, err)
	}

	a.log.Info("stopped")
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
