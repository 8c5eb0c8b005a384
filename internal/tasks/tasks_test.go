package tasks

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pollrunner/internal/config"
	"pollrunner/pkg/periodic"
)

func TestHTTPProbeStatusHandling(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		expect    []int
		header    map[string]string
		wantErr   bool
		noRetry   bool
		retryWait time.Duration
	}{
		{name: "ok", status: http.StatusOK},
		{name: "no content", status: http.StatusNoContent},
		{name: "server error", status: http.StatusBadGateway, wantErr: true},
		{name: "not found", status: http.StatusNotFound, wantErr: true, noRetry: true},
		{name: "request timeout retries", status: http.StatusRequestTimeout, wantErr: true},
		{name: "throttled", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "7"}, wantErr: true, retryWait: 7 * time.Second},
		{name: "expected 404", status: http.StatusNotFound, expect: []int{404}},
		{name: "200 not expected", status: http.StatusOK, expect: []int{204}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))
			defer srv.Close()

			p, err := NewHTTPProbe(config.TaskConfig{Kind: KindHTTP, URL: srv.URL, ExpectStatus: tt.expect})
			if err != nil {
				t.Fatalf("NewHTTPProbe: %v", err)
			}
			err = p.Run(context.Background(), periodic.Config{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if got := periodic.IsNoRetry(err); got != tt.noRetry {
				t.Fatalf("IsNoRetry = %v, want %v (%v)", got, tt.noRetry, err)
			}
			var ra periodic.RetryAfterError
			if tt.retryWait > 0 {
				if !errors.As(err, &ra) || ra.RetryAfter() != tt.retryWait {
					t.Fatalf("Run() = %v, want retry-after %v", err, tt.retryWait)
				}
			}
		})
	}
}

func TestHTTPProbeSendsMethodAndHeaders(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead || r.Header.Get("X-Probe") != "yes" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		hits.Add(1)
	}))
	defer srv.Close()

	task, err := Build(config.TaskConfig{
		Kind:    "HTTP",
		URL:     srv.URL,
		Method:  "head",
		Headers: map[string]string{"X-Probe": "yes"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := task(context.Background(), periodic.Config{}); err != nil {
		t.Fatalf("task: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestHTTPProbeHonoursDeadline(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p, err := NewHTTPProbe(config.TaskConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPProbe: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx, periodic.Config{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want deadline exceeded", err)
	}
}

func TestNewHTTPProbeRejectsBadURL(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"ftp://example.com", "::nope", ""} {
		if _, err := NewHTTPProbe(config.TaskConfig{URL: raw}); err == nil {
			t.Fatalf("NewHTTPProbe(%q) succeeded", raw)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if d, ok := parseRetryAfter("3", now); !ok || d != 3*time.Second {
		t.Fatalf("seconds form = %v, %v", d, ok)
	}
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	if d, ok := parseRetryAfter(date, now); !ok || d != 90*time.Second {
		t.Fatalf("date form = %v, %v", d, ok)
	}
	if _, ok := parseRetryAfter("soon", now); ok {
		t.Fatal("garbage accepted")
	}
	if _, ok := parseRetryAfter("-1", now); ok {
		t.Fatal("negative accepted")
	}
	for _, huge := range []string{"9999999999999", "9223372036854775807", "99999999999999999999999"} {
		d, ok := parseRetryAfter(huge, now)
		if !ok || d <= 0 {
			t.Fatalf("parseRetryAfter(%q) = %v, %v; want a positive clamp", huge, d, ok)
		}
		if want := time.Duration(math.MaxInt64/int64(time.Second)) * time.Second; d != want {
			t.Fatalf("parseRetryAfter(%q) = %v, want %v", huge, d, want)
		}
	}
	if _, ok := parseRetryAfter("-99999999999999999999999", now); ok {
		t.Fatal("huge negative accepted")
	}
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandExitStatus(t *testing.T) {
	t.Parallel()
	requireSh(t)

	ok, err := Build(config.TaskConfig{Kind: KindExec, Command: "sh", Args: []string{"-c", "exit 0"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := ok(context.Background(), periodic.Config{}); err != nil {
		t.Fatalf("exit 0: %v", err)
	}

	bad, err := Build(config.TaskConfig{Kind: KindExec, Command: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	err = bad(context.Background(), periodic.Config{})
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("exit 3: %v", err)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Fatalf("error %q does not include output", err)
	}
}

func TestCommandEnvAndDir(t *testing.T) {
	t.Parallel()
	requireSh(t)
	dir := t.TempDir()
	c, err := NewCommand(config.TaskConfig{
		Command: "sh",
		Args:    []string{"-c", `[ "$PROBE" = on ] && [ "$POLLRUNNER_TAG" = nightly ] && [ "$(pwd -P)" = "$(cd "$WANT" && pwd -P)" ]`},
		Dir:     dir,
		Env:     []string{"PROBE=on", "WANT=" + dir},
	})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if err := c.Run(context.Background(), periodic.Config{LogTag: "nightly"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	if _, err := Build(config.TaskConfig{Kind: "grpc"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Build(config.TaskConfig{Kind: KindExec, Command: "definitely-not-a-real-binary-xyz"}); err == nil {
		t.Fatal("expected lookup error")
	}
}

func TestTail(t *testing.T) {
	t.Parallel()
	if got := string(tail([]byte("short"), 10)); got != "short" {
		t.Fatalf("tail = %q", got)
	}
	if got := string(tail([]byte("aaaa\nbbbb"), 6)); got != "bbbb" {
		t.Fatalf("tail = %q", got)
	}
}
