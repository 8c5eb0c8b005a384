package debugserver

import (
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports liveness plus a JSON-encodable detail for /healthz.
type HealthFunc func() (ok bool, detail any)

// Deps are the process-side sources the server exposes.
type Deps struct {
	Gatherer prometheus.Gatherer
	Health   HealthFunc
}

// Handler builds the debug mux: /healthz, /metrics and pprof under Prefix.
// Every route is behind the bearer token when one is configured.
func Handler(cfg Config, deps Deps) http.Handler {
	prefix := normalizePrefix(cfg.Prefix)
	wrap := func(h http.Handler) http.Handler { return withAuth(cfg.Token, h) }

	mux := http.NewServeMux()
	mux.Handle("/healthz", wrap(healthHandler(deps.Health)))

	g := deps.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", wrap(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))

	base := strings.TrimSuffix(prefix, "/")
	mux.Handle(prefix, wrap(pprofIndexAt(prefix)))
	mux.Handle(base+"/cmdline", wrap(http.HandlerFunc(hpprof.Cmdline)))
	mux.Handle(base+"/profile", wrap(http.HandlerFunc(hpprof.Profile)))
	mux.Handle(base+"/symbol", wrap(http.HandlerFunc(hpprof.Symbol)))
	mux.Handle(base+"/trace", wrap(http.HandlerFunc(hpprof.Trace)))
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	return mux
}

func healthHandler(fn HealthFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, detail := true, any(nil)
		if fn != nil {
			ok, detail = fn()
		}
		status := "ok"
		code := http.StatusOK
		if !ok {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "detail": detail})
	})
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// pprof.Index assumes requests are rooted at /debug/pprof/, so custom
// prefixes are rewritten before delegating.
func pprofIndexAt(prefix string) http.Handler {
	canon := normalizePrefix(prefix)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = DefaultPrefix + strings.TrimPrefix(r.URL.Path, canon)
		hpprof.Index(w, r2)
	})
}
