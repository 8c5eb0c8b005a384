package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Service owns the sinks behind every Logger it hands out and swaps them
// when the logging config is reloaded.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	closed bool

	root atomic.Value // stores zerolog.Logger

	file *fileSink

	// alert sink; guarded by mu
	alertOut io.Writer
	limiter  *rate.Limiter
	minLevel zerolog.Level
	dropped  uint64
}

// New creates the logging service, applies the initial config immediately,
// and returns both the Service and a root Logger.
func New(cfg Config) (*Service, Logger) {
	return newService(cfg, os.Stderr)
}

func newService(cfg Config, alertOut io.Writer) (*Service, Logger) {
	s := &Service{
		cfg:      cfg,
		alertOut: alertOut,
	}
	s.root.Store(newConsoleRoot(parseLevel(cfg.Level, LevelInfo)))
	s.Apply(cfg)
	return s, Logger{src: s}
}

func (s *Service) current() zerolog.Logger {
	zl, ok := s.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// AlertsDropped reports how many alert lines were suppressed by the rate limiter.
func (s *Service) AlertsDropped() uint64 { return atomic.LoadUint64(&s.dropped) }

// Close releases the log file. Loggers stay usable afterwards and discard
// everything; Apply after Close is a no-op.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.root.Store(zerolog.Nop())
	f := s.file
	s.file = nil
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps logger outputs and levels at runtime.
// It is safe to call concurrently.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.cfg = cfg
	s.minLevel = parseLevel(cfg.Alert.MinLevel, LevelWarn)
	rps := max(1, cfg.Alert.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	old := s.file
	s.file = nil

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./pollrunner.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: failed opening log file %q: %v\n", path, err)
		} else {
			s.file = &fileSink{f: f}
			writers = append(writers, s.file)
		}
	}
	if cfg.Alert.Enabled && s.alertOut != nil {
		writers = append(writers, &alertWriter{svc: s, out: zerolog.ConsoleWriter{Out: s.alertOut, NoColor: true, TimeFormat: consoleTimeFormat}})
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}

	lvl := parseLevel(cfg.Level, LevelInfo)
	s.root.Store(zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger())

	// Loggers that loaded the previous root may still be writing to it.
	if old != nil {
		_ = old.Close()
	}
}

func newConsoleRoot(lvl Level) zerolog.Logger {
	return zerolog.New(newConsoleWriter(os.Stdout)).Level(lvl).With().Timestamp().Logger()
}

func newConsoleWriter(w io.Writer) io.Writer {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	cw.FormatCaller = func(i interface{}) string {
		s, _ := i.(string)
		return s
	}
	return cw
}

// fileSink serializes writes to the log file and silently drops lines that
// arrive after Close.
type fileSink struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

func (w *fileSink) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	return w.f.Write(p)
}

func (w *fileSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}

type alertWriter struct {
	svc *Service
	out zerolog.ConsoleWriter
	mu  sync.Mutex
}

func (w *alertWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *alertWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	lim := s.limiter
	minLevel := s.minLevel
	s.mu.Unlock()

	if level < minLevel || lim == nil {
		return len(p), nil
	}
	if !lim.Allow() {
		atomic.AddUint64(&s.dropped, 1)
		return len(p), nil
	}

	// Never fail the fanout because the alert sink failed.
	w.mu.Lock()
	_, _ = w.out.Write(p)
	w.mu.Unlock()
	return len(p), nil
}
