package imagecache

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jmgilman/go/fs/core"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Cache.
type Option func(*options)

type options struct {
	config         Config
	fs             core.FS
	fetcher        Fetcher
	httpClient     *http.Client
	decoder        Decoder
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	registerer     prometheus.Registerer
}

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
//
// Example:
//
//	cfg, _ := imagecache.LoadConfig("imagecache.yaml")
//	c, _ := imagecache.New(imagecache.WithConfig(cfg))
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithMemoryLimit sets how many images the memory tier holds.
func WithMemoryLimit(n int) Option {
	return func(o *options) {
		o.config.MemoryLimit = n
	}
}

// WithDirectory sets the directory of the disk tier.
func WithDirectory(dir string) Option {
	return func(o *options) {
		o.config.Directory = dir
	}
}

// WithFS sets the filesystem backing the disk tier. Defaults to the local
// filesystem.
//
// Example:
//
//	c, _ := imagecache.New(
//	    imagecache.WithFS(billy.NewMemory()),
//	    imagecache.WithDirectory("/cache"),
//	)
func WithFS(fsys core.FS) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithFetcher replaces the network boundary. The default downloads over
// HTTP.
func WithFetcher(f Fetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// WithHTTPClient sets the client used by the default fetcher.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithDecoder replaces the check applied to downloaded and loaded bytes.
// The default accepts any content sniffed as image/*.
func WithDecoder(d Decoder) Option {
	return func(o *options) {
		o.decoder = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTimeout bounds every network operation.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.config.Timeout = d
	}
}

// WithMaxConcurrentFetches caps how many downloads run at once.
func WithMaxConcurrentFetches(n int) Option {
	return func(o *options) {
		o.config.MaxConcurrentFetches = n
	}
}

// WithBaseURL resolves relative remote locators against base.
func WithBaseURL(base string) Option {
	return func(o *options) {
		o.config.BaseURL = base
	}
}

// WithRateLimit throttles downloads to rps requests per second per host.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.config.RateLimit = RateLimitConfig{RPS: rps, Burst: burst}
	}
}

// WithTracerProvider sets the provider for cache spans. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithRegisterer registers the cache's Prometheus collector with reg. Close
// unregisters it.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}
