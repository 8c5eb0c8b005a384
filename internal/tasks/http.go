package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"pollrunner/internal/config"
	"pollrunner/pkg/periodic"
)

// maxErrorBody caps how much of a failing response ends up in the error.
const maxErrorBody = 512

// HTTPProbe issues one request per attempt and checks the status code.
type HTTPProbe struct {
	client  *http.Client
	method  string
	url     string
	headers http.Header
	expect  []int
}

func NewHTTPProbe(cfg config.TaskConfig) (*HTTPProbe, error) {
	raw := strings.TrimSpace(cfg.URL)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("tasks: invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("tasks: url %q must be http or https", raw)
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}
	h := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		h.Set(k, v)
	}
	return &HTTPProbe{
		client:  cleanhttp.DefaultPooledClient(),
		method:  method,
		url:     u.String(),
		headers: h,
		expect:  slices.Clone(cfg.ExpectStatus),
	}, nil
}

// Run performs the request. Client errors other than 408 and 429 are marked
// non-retryable; a 429 or 503 with a Retry-After header overrides backoff.
func (p *HTTPProbe) Run(ctx context.Context, _ periodic.Config) error {
	req, err := http.NewRequestWithContext(ctx, p.method, p.url, nil)
	if err != nil {
		return periodic.NoRetry(err)
	}
	req.Header = p.headers.Clone()

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if p.accepts(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err = fmt.Errorf("%s %s: unexpected status %d: %s", p.method, p.url, resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			return periodic.RetryAfter(err, d)
		}
		return err
	case resp.StatusCode == http.StatusRequestTimeout:
		return err
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && len(p.expect) == 0:
		return periodic.NoRetry(err)
	default:
		return err
	}
}

func (p *HTTPProbe) accepts(code int) bool {
	if len(p.expect) == 0 {
		return code >= 200 && code < 300
	}
	return slices.Contains(p.expect, code)
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	// ParseInt saturates on ErrRange, so out-of-range values clamp below.
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(min(secs, math.MaxInt64/int64(time.Second))) * time.Second, true
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	return max(t.Sub(now), 0), true
}
