package imagecache

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/go/imagecache/internal/cacheerr"
	"github.com/jmgilman/go/imagecache/internal/disk"
	"github.com/jmgilman/go/imagecache/internal/fetch"
	"github.com/jmgilman/go/imagecache/internal/flight"
	"github.com/jmgilman/go/imagecache/internal/memory"
	"github.com/jmgilman/go/imagecache/internal/telemetry"
	"github.com/jmgilman/go/imagecache/internal/validate"
)

// Image is image content ready for display. Each Image returned by a Cache
// owns its Data; modifying it never affects other callers.
type Image struct {
	Data        []byte
	ContentType string
}

// Size returns the number of bytes in the image.
func (i Image) Size() int64 {
	return int64(len(i.Data))
}

func (i Image) clone() Image {
	i.Data = bytes.Clone(i.Data)
	return i
}

// Fetcher downloads the raw bytes behind a resolved locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, locator string) ([]byte, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, locator string) ([]byte, error) {
	return f(ctx, locator)
}

// Decoder inspects raw bytes and returns their content type, or an error
// when they are not an acceptable image.
type Decoder func(data []byte) (contentType string, err error)

// Cache serves images from memory, disk or the network. It is safe for
// concurrent use; construct one with New and share it.
type Cache struct {
	memory   *memory.Cache[Image]
	flight   *flight.Group[Image]
	disk     *disk.Store
	resolver *validate.LocatorResolver
	loader   *loader
	decode   Decoder

	config     Config
	logger     *telemetry.Logger
	metrics    *telemetry.DetailedMetrics
	collector  *telemetry.Collector
	registerer prometheus.Registerer
	tracer     trace.Tracer
}

// New creates a Cache. Stale temporary files left in the disk tier by an
// interrupted write are removed.
func New(opts ...Option) (*Cache, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := telemetry.FromSlog(o.logger)
	if o.logger == nil && cfg.LogLevel != "" {
		lc := telemetry.DefaultLogConfig()
		lc.Level, _ = telemetry.ParseLogLevel(cfg.LogLevel)
		logger = telemetry.NewLogger(lc)
	}

	fsys := o.fs
	if fsys == nil {
		dir, err := localDirectory(cfg.Directory)
		if err != nil {
			return nil, err
		}
		cfg.Directory = dir
		fsys = billy.NewLocal()
	} else if cfg.Directory == "" {
		cfg.Directory = "/imagecache"
	}

	store, err := disk.New(fsys, cfg.Directory)
	if err != nil {
		return nil, err
	}

	resolver, err := validate.NewLocatorResolver(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid base URL")
	}

	metrics := telemetry.NewDetailedMetrics()
	tracer := telemetry.Tracer(o.tracerProvider)

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = newHTTPFetcher(cfg, o, logger)
	}

	decode := o.decoder
	if decode == nil {
		decode = fetch.Sniff
	}

	c := &Cache{
		disk:     store,
		resolver: resolver,
		decode:   decode,
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		flight: flight.New[Image](
			flight.WithTimeout(cfg.Timeout),
			flight.WithMaxConcurrent(cfg.MaxConcurrentFetches),
		),
	}
	c.memory = memory.New[Image](cfg.MemoryLimit, memory.WithEvictFunc[Image](func(key string, img Image) {
		metrics.RecordEviction()
		telemetry.LogEviction(context.Background(), logger, key, img.Size())
	}))
	c.collector = telemetry.NewCollector(metrics, c.state)
	c.loader = &loader{
		fetcher:   fetcher,
		decode:    decode,
		memory:    c.memory,
		metrics:   metrics,
		collector: c.collector,
		logger:    logger,
	}

	if o.registerer != nil {
		if err := o.registerer.Register(c.collector); err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to register metrics collector")
		}
		c.registerer = o.registerer
	}

	ctx := context.Background()
	start := time.Now()
	removed, err := store.CleanupTempFiles(ctx)
	if err != nil {
		logger.Warn(ctx, "failed to clean up temporary files", "error", err.Error())
	} else if removed > 0 {
		telemetry.LogCleanup(ctx, logger, removed, time.Since(start))
	}

	return c, nil
}

// Image returns the image behind ref.
//
// Remote references are served from memory when present and downloaded
// otherwise; a successful download is kept in memory. Local references are
// read from disk and never fall back to the network. None fails with
// CodeNoReference without touching any tier.
func (c *Cache) Image(ctx context.Context, ref Reference) (Image, error) {
	ctx, span := c.startSpan(ctx, "imagecache.Image", ref)
	defer span.End()

	var (
		img Image
		err error
	)
	switch ref.Kind() {
	case RefRemote:
		img, err = c.remote(ctx, ref.Value())
		img = img.clone()
	case RefLocal:
		img, err = c.local(ctx, ref.Value())
	case RefNone:
		err = noReference()
	default:
		err = errors.Newf(errors.CodeInternal, "unknown reference kind %v", ref.Kind())
	}

	endSpan(span, err)
	return img, err
}

// Peek returns the image behind ref without starting a download.
//
// A remote reference is answered from memory, or by waiting on a download
// that is already in flight; otherwise Peek fails with CodeNoResult. Local
// and None references behave as in Image.
func (c *Cache) Peek(ctx context.Context, ref Reference) (Image, error) {
	ctx, span := c.startSpan(ctx, "imagecache.Peek", ref)
	defer span.End()

	var (
		img Image
		err error
	)
	switch ref.Kind() {
	case RefRemote:
		img, err = c.peekRemote(ctx, ref.Value())
		img = img.clone()
	case RefLocal:
		img, err = c.local(ctx, ref.Value())
	case RefNone:
		err = noReference()
	default:
		err = errors.Newf(errors.CodeInternal, "unknown reference kind %v", ref.Kind())
	}

	endSpan(span, err)
	return img, err
}

// Store saves data on disk under the local identifier id, replacing any
// previous image, and returns the record location.
func (c *Cache) Store(ctx context.Context, id string, data []byte) (string, error) {
	logger := c.logger.WithOperation(telemetry.OpStore).WithKey(id)

	location, err := c.disk.Store(ctx, id, data)
	if err != nil {
		c.metrics.RecordError()
		logger.Warn(ctx, "failed to save image", "error", err.Error())
		return "", err
	}
	c.metrics.RecordDiskWrite()
	logger.WithSize(int64(len(data))).Debug(ctx, "image saved")
	return location, nil
}

// SaveRemote resolves locator through the remote path and saves the result
// under id. It is the save half of the saved-ad flow.
func (c *Cache) SaveRemote(ctx context.Context, locator, id string) (string, error) {
	img, err := c.Image(ctx, Remote(locator))
	if err != nil {
		return "", err
	}
	return c.Store(ctx, id, img.Data)
}

// Delete removes the image saved under id. Deleting an identifier that was
// never saved fails with CodeDiskNotFound.
func (c *Cache) Delete(ctx context.Context, id string) error {
	logger := c.logger.WithOperation(telemetry.OpDelete).WithKey(id)

	if err := c.disk.Delete(ctx, id); err != nil {
		if !cacheerr.Is(err, cacheerr.CodeDiskNotFound) {
			c.metrics.RecordError()
			logger.Warn(ctx, "failed to delete image", "error", err.Error())
		}
		return err
	}
	c.metrics.RecordDiskDelete()
	logger.Debug(ctx, "image deleted")
	return nil
}

// IsSaved reports whether an image is saved under id.
func (c *Cache) IsSaved(ctx context.Context, id string) (bool, error) {
	return c.disk.Exists(ctx, id)
}

// Saved lists the identifiers of every image on disk.
func (c *Cache) Saved(ctx context.Context) ([]string, error) {
	return c.disk.List(ctx)
}

// DiskUsage returns the bytes occupied by saved images.
func (c *Cache) DiskUsage(ctx context.Context) (int64, error) {
	return c.disk.Size(ctx)
}

// Cached returns the resolved locators held in memory, most recently used
// first.
func (c *Cache) Cached() []string {
	return c.memory.Keys()
}

// Forget drops the image for locator from memory so the next request
// downloads it again. It reports whether an image was held.
func (c *Cache) Forget(locator string) (bool, error) {
	key, err := c.resolveLocator(locator)
	if err != nil {
		return false, err
	}
	return c.memory.Remove(key), nil
}

// Purge empties the memory tier. Saved images are not affected.
func (c *Cache) Purge(ctx context.Context) {
	n := c.memory.Len()
	c.memory.Purge()
	c.logger.WithOperation(telemetry.OpEvict).Info(ctx, "memory purged", "entries_removed", n)
}

// Prefetch downloads locators concurrently into memory. Locators already in
// memory are skipped and keep their recency. It returns the first error
// encountered; the remaining downloads are abandoned.
func (c *Cache) Prefetch(ctx context.Context, locators ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrentFetches)
	for _, locator := range locators {
		g.Go(func() error {
			key, err := c.resolveLocator(locator)
			if err != nil {
				return err
			}
			if c.memory.Contains(key) {
				return nil
			}
			_, err = c.remote(ctx, locator)
			return err
		})
	}
	return g.Wait()
}

// Close releases resources held by the cache. Saved images stay on disk.
func (c *Cache) Close() error {
	if c.registerer != nil {
		c.registerer.Unregister(c.collector)
		c.registerer = nil
	}
	return nil
}

func (c *Cache) remote(ctx context.Context, locator string) (Image, error) {
	key, err := c.resolveLocator(locator)
	if err != nil {
		return Image{}, err
	}

	if img, ok := c.memory.Get(key); ok {
		c.metrics.RecordHit(img.Size())
		telemetry.LogCacheHit(ctx, c.logger, telemetry.OpImage, key, img.Size())
		return img, nil
	}
	c.metrics.RecordMiss()
	telemetry.LogCacheMiss(ctx, c.logger, telemetry.OpImage, key, "not in memory")

	l := c.loader
	img, shared, err := c.flight.Do(ctx, key, func(ctx context.Context) (Image, error) {
		return l.load(ctx, key)
	})
	if shared {
		c.metrics.RecordSharedFetch()
	}
	return img, err
}

func (c *Cache) peekRemote(ctx context.Context, locator string) (Image, error) {
	key, err := c.resolveLocator(locator)
	if err != nil {
		return Image{}, err
	}

	if img, ok := c.memory.Get(key); ok {
		c.metrics.RecordHit(img.Size())
		telemetry.LogCacheHit(ctx, c.logger, telemetry.OpPeek, key, img.Size())
		return img, nil
	}

	img, joined, err := c.flight.Join(ctx, key)
	if !joined {
		telemetry.LogCacheMiss(ctx, c.logger, telemetry.OpPeek, key, "nothing cached or in flight")
		return Image{}, noResult(key)
	}
	c.metrics.RecordSharedFetch()
	return img, err
}

func (c *Cache) local(ctx context.Context, id string) (Image, error) {
	data, err := c.disk.Retrieve(ctx, id)
	if err != nil {
		if cacheerr.Is(err, cacheerr.CodeDiskNotFound) {
			c.metrics.RecordDiskRead(false, 0)
			telemetry.LogCacheMiss(ctx, c.logger, telemetry.OpLoad, id, "not on disk")
		} else {
			c.metrics.RecordError()
		}
		return Image{}, err
	}

	contentType, err := c.decode(data)
	if err != nil {
		c.metrics.RecordError()
		return Image{}, asDecodeFailure(err, id)
	}

	img := Image{Data: data, ContentType: contentType}
	c.metrics.RecordDiskRead(true, img.Size())
	telemetry.LogCacheHit(ctx, c.logger, telemetry.OpLoad, id, img.Size())
	return img, nil
}

func (c *Cache) resolveLocator(locator string) (string, error) {
	key, err := c.resolver.Resolve(locator)
	if err != nil {
		return "", errors.WithContext(
			cacheerr.Wrap(err, cacheerr.CodeInvalidLocator, "invalid locator"), "locator", locator)
	}
	return key, nil
}

func (c *Cache) state() telemetry.State {
	return telemetry.State{
		InFlight:      c.flight.InFlight(),
		MemoryEntries: c.memory.Len(),
		MemoryLimit:   c.memory.Limit(),
	}
}

func (c *Cache) startSpan(ctx context.Context, name string, ref Reference) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("imagecache.reference.kind", ref.Kind().String()),
		attribute.String("imagecache.reference.value", ref.Value()),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.GetCode(err)))
	}
}

// loader runs a single download. It holds only what the download needs so
// an in-flight operation never references the Cache itself.
type loader struct {
	fetcher   Fetcher
	decode    Decoder
	memory    *memory.Cache[Image]
	metrics   *telemetry.DetailedMetrics
	collector *telemetry.Collector
	logger    *telemetry.Logger
}

// load downloads key, checks the bytes and stores the image in memory before
// the result is published to waiters.
func (l *loader) load(ctx context.Context, key string) (Image, error) {
	start := time.Now()
	img, err := l.download(ctx, key)
	elapsed := time.Since(start)

	l.metrics.RecordFetch(img.Size(), elapsed, err)
	l.collector.ObserveFetch(elapsed, err)
	telemetry.LogFetch(ctx, l.logger, key, elapsed, img.Size(), err)

	if err != nil {
		return Image{}, err
	}
	l.memory.Put(key, img)
	return img, nil
}

func (l *loader) download(ctx context.Context, key string) (Image, error) {
	data, err := l.fetcher.Fetch(ctx, key)
	if err != nil {
		if errors.GetCode(err) == errors.CodeUnknown {
			if ctxErr := cacheerr.FromContext(ctx.Err(), "fetch aborted"); ctxErr != nil {
				return Image{}, ctxErr
			}
			return Image{}, errors.WithContext(
				cacheerr.Wrap(err, cacheerr.CodeNetworkFailure, "fetch failed"), "locator", key)
		}
		return Image{}, err
	}

	contentType, err := l.decode(data)
	if err != nil {
		return Image{}, asDecodeFailure(err, key)
	}
	return Image{Data: data, ContentType: contentType}, nil
}

func asDecodeFailure(err error, key string) error {
	if cacheerr.Is(err, cacheerr.CodeDecodeFailure) {
		return errors.WithContext(err, "key", key)
	}
	return errors.WithContext(
		cacheerr.Wrap(err, cacheerr.CodeDecodeFailure, "cannot decode image"), "key", key)
}

func newHTTPFetcher(cfg Config, o options, logger *telemetry.Logger) *fetch.HTTPFetcher {
	client := o.httpClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []fetch.Option{
		fetch.WithClient(client),
		fetch.WithMaxBodyBytes(cfg.MaxBodyBytes),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithTracerProvider(o.tracerProvider),
	}
	if cfg.RateLimit.RPS > 0 {
		opts = append(opts, fetch.WithRateLimiters(
			fetch.NewRateLimiters(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger)))
	}
	return fetch.New(opts...)
}

func localDirectory(dir string) (string, error) {
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		dir = filepath.Join(base, "imagecache")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeInvalidConfig, "invalid cache directory %q", dir)
	}
	return abs, nil
}
