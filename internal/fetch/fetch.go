// Package fetch downloads image bytes over HTTP and classifies every
// failure into the cache error codes.
package fetch

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jmgilman/go/imagecache/internal/cacheerr"
	"github.com/jmgilman/go/imagecache/internal/telemetry"
)

// Defaults applied by New.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 32 << 20
	DefaultUserAgent    = "imagecache/1"
)

// HTTPFetcher downloads image bytes. Responses outside 2xx fail with
// BAD_STATUS and intermediary caches are bypassed on every request.
type HTTPFetcher struct {
	client       *http.Client
	maxBodyBytes int64
	userAgent    string
	tracer       trace.Tracer
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithClient replaces the HTTP client. Its Timeout is left untouched.
func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithMaxBodyBytes caps the size of a downloaded body.
func WithMaxBodyBytes(n int64) Option {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBodyBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithRateLimiters routes requests through per-host rate limiters.
func WithRateLimiters(l *RateLimiters) Option {
	return func(f *HTTPFetcher) {
		if l == nil {
			return
		}
		client := *f.client
		client.Transport = l.RoundTripper(client.Transport)
		f.client = &client
	}
}

// WithTracerProvider sets the provider used for fetch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *HTTPFetcher) {
		f.tracer = telemetry.Tracer(tp)
	}
}

// New creates an HTTPFetcher. Options are applied in order, so
// WithRateLimiters should follow WithClient.
func New(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:       &http.Client{Timeout: DefaultTimeout},
		maxBodyBytes: DefaultMaxBodyBytes,
		userAgent:    DefaultUserAgent,
		tracer:       telemetry.Tracer(nil),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads locator and returns its body.
func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	ctx, span := f.tracer.Start(ctx, "imagecache.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", locator)))
	defer span.End()

	data, err := f.fetch(ctx, locator)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.GetCode(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.body.size", len(data)))
	return data, nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, locator string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, withLocator(cacheerr.Wrap(err, cacheerr.CodeInvalidLocator, "cannot build request"), locator)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "image/*")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, withLocator(classifyTransportError(ctx, err), locator)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, badStatus(resp.StatusCode, locator)
	}

	if resp.ContentLength > f.maxBodyBytes {
		return nil, tooLarge(resp.ContentLength, f.maxBodyBytes, locator)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, withLocator(classifyTransportError(ctx, err), locator)
	}
	if int64(len(data)) > f.maxBodyBytes {
		return nil, tooLarge(int64(len(data)), f.maxBodyBytes, locator)
	}
	return data, nil
}

// Sniff returns the content type of data and fails with DECODE_FAILURE when
// the bytes are not a recognised image format.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", cacheerr.New(cacheerr.CodeDecodeFailure, "empty image body")
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", errors.WithContext(
			cacheerr.New(cacheerr.CodeDecodeFailure, "content is not an image"),
			"content_type", contentType)
	}
	return contentType, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return cacheerr.FromContext(ctxErr, "request aborted")
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, ErrRateLimited) {
		return cacheerr.Wrap(err, cacheerr.CodeTimeout, "request timed out")
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return cacheerr.Wrap(err, cacheerr.CodeTimeout, "request timed out")
	}
	if stderrors.Is(err, context.Canceled) {
		return cacheerr.Wrap(err, cacheerr.CodeCancelled, "request cancelled")
	}
	return cacheerr.Wrap(err, cacheerr.CodeNetworkFailure, "request failed")
}

func badStatus(status int, locator string) error {
	err := errors.WithContext(
		cacheerr.New(cacheerr.CodeBadStatus, fmt.Sprintf("unexpected status %d", status)),
		"status", status)
	if status == http.StatusTooManyRequests || status >= 500 {
		err = errors.WithClassification(err, errors.ClassificationRetryable)
	}
	return withLocator(err, locator)
}

func tooLarge(size, limit int64, locator string) error {
	return withLocator(errors.WithContext(
		cacheerr.New(cacheerr.CodeDecodeFailure, fmt.Sprintf("body of %d bytes exceeds limit of %d", size, limit)),
		"limit", limit), locator)
}

func withLocator(err error, locator string) error {
	return errors.WithContext(err, "locator", locator)
}
