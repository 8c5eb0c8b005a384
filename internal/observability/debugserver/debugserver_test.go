package debugserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "pollrunner/pkg/logx"
)

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":              "/debug/pprof/",
		"  ":            "/debug/pprof/",
		"pprof":         "/pprof/",
		"/x/pprof":      "/x/pprof/",
		"/debug/pprof/": "/debug/pprof/",
	}
	for in, want := range tests {
		if got := normalizePrefix(in); got != want {
			t.Fatalf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{":6060", false},
		{"0.0.0.0:6060", false},
		{"10.1.2.3:6060", false},
		{"nonsense", false},
	}
	for _, tt := range tests {
		if got := isLoopbackAddr(tt.addr); got != tt.want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerAuth(t *testing.T) {
	t.Parallel()
	h := Handler(Config{Token: "s3cret"}, Deps{Gatherer: prometheus.NewRegistry()})

	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: code = %d", rec.Code)
	}
	if rec := get(t, h, "/healthz?token=wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: code = %d", rec.Code)
	}
	if rec := get(t, h, "/healthz?token=s3cret", nil); rec.Code != http.StatusOK {
		t.Fatalf("query token: code = %d", rec.Code)
	}
	if rec := get(t, h, "/metrics", map[string]string{"Authorization": "Bearer s3cret"}); rec.Code != http.StatusOK {
		t.Fatalf("bearer token: code = %d", rec.Code)
	}
}

func TestHealthzReportsDetail(t *testing.T) {
	t.Parallel()
	healthy := true
	h := Handler(Config{}, Deps{Health: func() (bool, any) {
		return healthy, map[string]string{"state": "running"}
	}})

	rec := get(t, h, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Detail map[string]string `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Detail["state"] != "running" {
		t.Fatalf("body = %+v", body)
	}

	healthy = false
	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy code = %d", rec.Code)
	}
}

func TestMetricsUsesGatherer(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "debugserver_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rec := get(t, Handler(Config{}, Deps{Gatherer: reg}), "/metrics", nil)
	if !strings.Contains(rec.Body.String(), "debugserver_test_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestPprofCustomPrefix(t *testing.T) {
	t.Parallel()
	h := Handler(Config{Prefix: "/ops/pprof"}, Deps{})
	if rec := get(t, h, "/ops/pprof/", nil); rec.Code != http.StatusOK {
		t.Fatalf("index code = %d", rec.Code)
	}
	if rec := get(t, h, "/ops/pprof", nil); rec.Code != http.StatusPermanentRedirect {
		t.Fatalf("redirect code = %d", rec.Code)
	}
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Gatherer: prometheus.NewRegistry()}, logx.Nop())
	s.Start(ctx)
	defer s.Stop(context.Background())

	var addr string
	for addr == "" {
		if ctx.Err() != nil {
			t.Fatal("server never bound")
		}
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code = %d", resp.StatusCode)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatal("disabled server still reports an address")
	}
	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Fatal("listener still accepting after disable")
	}
}
