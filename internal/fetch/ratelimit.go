package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/jmgilman/go/imagecache/internal/telemetry"
)

const (
	minLimit  = 0.1
	backOffBy = 2.0
	recoverBy = 1.5
)

// ErrRateLimited is returned by the rate limited transport when a request
// cannot be admitted before its context deadline.
var ErrRateLimited = errors.New("rate limited")

// RateLimiters keeps track of per-host rate limiting for image hosts.
//
// The transport returned by RoundTripper reacts to `HTTP 429 Too Many
// Requests` by halving the limit of that host, once per request. Successful
// responses raise the limit back towards RPS.
type RateLimiters struct {
	RPS    float64
	Burst  int
	Logger *telemetry.Logger

	mu      sync.Mutex
	perHost map[string]*rate.Limiter
}

// NewRateLimiters creates limiters allowing rps requests per second per
// host with the given burst.
func NewRateLimiters(rps float64, burst int, logger *telemetry.Logger) *RateLimiters {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiters{RPS: rps, Burst: burst, Logger: logger}
}

func (l *RateLimiters) clip(limit float64) float64 {
	if limit < minLimit {
		return minLimit
	}
	if limit > l.RPS {
		return l.RPS
	}
	return limit
}

// limiter returns the limiter for host. Caller holds l.mu.
func (l *RateLimiters) limiter(host string) *rate.Limiter {
	if l.perHost == nil {
		l.perHost = map[string]*rate.Limiter{}
	}
	rl, ok := l.perHost[host]
	if !ok {
		rl = rate.NewLimiter(rate.Limit(l.RPS), l.Burst)
		l.perHost[host] = rl
	}
	return rl
}

// Limit returns the current limit for host.
func (l *RateLimiters) Limit(host string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(l.limiter(host).Limit())
}

// BackOff reduces the limit for host.
func (l *RateLimiters) BackOff(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter := l.limiter(host)
	oldLimit := float64(limiter.Limit())
	newLimit := l.clip(oldLimit / backOffBy)
	if oldLimit != newLimit {
		l.Logger.Info(context.Background(), "reducing rate limit",
			"host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
	}
	limiter.SetLimit(rate.Limit(newLimit))
}

// Recover raises the limit for host after a successful request.
func (l *RateLimiters) Recover(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.perHost[host]
	if !ok {
		return
	}
	oldLimit := float64(limiter.Limit())
	newLimit := l.clip(oldLimit * recoverBy)
	if newLimit != oldLimit {
		l.Logger.Debug(context.Background(), "increasing rate limit",
			"host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
	}
	limiter.SetLimit(rate.Limit(newLimit))
}

// RoundTripper wraps rt so each request waits for its host's limiter.
func (l *RateLimiters) RoundTripper(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &roundTripRateLimiter{limiters: l, tx: rt}
}

type roundTripRateLimiter struct {
	limiters *RateLimiters
	tx       http.RoundTripper
}

func (t *roundTripRateLimiter) RoundTrip(r *http.Request) (*http.Response, error) {
	host := r.URL.Host

	t.limiters.mu.Lock()
	rl := t.limiters.limiter(host)
	t.limiters.mu.Unlock()

	// Wait fails early when the request cannot be admitted before the
	// context deadline.
	if err := rl.Wait(r.Context()); err != nil {
		if ctxErr := r.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	resp, err := t.tx.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		t.limiters.BackOff(host)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		t.limiters.Recover(host)
	}
	return resp, nil
}
