package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "imagecache"

	// LabelSuccess marks whether an observed operation succeeded.
	LabelSuccess = "success"
)

// State reports live gauges that are owned outside DetailedMetrics.
type State struct {
	InFlight      int
	MemoryEntries int
	MemoryLimit   int
}

// StateFunc returns the current State.
type StateFunc func() State

// Collector exports DetailedMetrics and live state to Prometheus.
type Collector struct {
	metrics *DetailedMetrics
	state   StateFunc

	fetchDuration *prometheus.HistogramVec

	hits          *prometheus.Desc
	misses        *prometheus.Desc
	evictions     *prometheus.Desc
	fetches       *prometheus.Desc
	sharedFetches *prometheus.Desc
	failures      *prometheus.Desc
	downloaded    *prometheus.Desc
	diskOps       *prometheus.Desc
	inFlight      *prometheus.Desc
	entries       *prometheus.Desc
	limit         *prometheus.Desc
}

// NewCollector creates a collector over metrics. state may be nil.
func NewCollector(metrics *DetailedMetrics, state StateFunc) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &Collector{
		metrics: metrics,
		state:   state,
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of remote image fetches, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{LabelSuccess}),
		hits:          desc("memory_hits_total", "Requests served from memory."),
		misses:        desc("memory_misses_total", "Requests not found in memory."),
		evictions:     desc("memory_evictions_total", "Entries evicted from memory for capacity."),
		fetches:       desc("network_fetches_total", "Network operations started."),
		sharedFetches: desc("network_shared_fetches_total", "Callers that joined an operation already in flight."),
		failures:      desc("network_fetch_failures_total", "Network operations that failed."),
		downloaded:    desc("network_downloaded_bytes_total", "Bytes downloaded from the network."),
		diskOps:       desc("disk_operations_total", "Disk store operations by kind.", "op"),
		inFlight:      desc("network_in_flight", "Keys with a network operation in flight."),
		entries:       desc("memory_entries", "Entries held in memory."),
		limit:         desc("memory_limit", "Configured memory entry limit."),
	}
}

// ObserveFetch records the duration of a network operation.
func (c *Collector) ObserveFetch(d time.Duration, err error) {
	c.fetchDuration.WithLabelValues(strconv.FormatBool(err == nil)).Observe(d.Seconds())
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.fetchDuration.Describe(ch)
	for _, d := range []*prometheus.Desc{
		c.hits, c.misses, c.evictions, c.fetches, c.sharedFetches,
		c.failures, c.downloaded, c.diskOps, c.inFlight, c.entries, c.limit,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.fetchDuration.Collect(ch)

	s := c.metrics.GetSnapshot()
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.hits, s.Hits)
	counter(c.misses, s.Misses)
	counter(c.evictions, s.Evictions)
	counter(c.fetches, s.Fetches)
	counter(c.sharedFetches, s.SharedFetches)
	counter(c.failures, s.FetchFailures)
	counter(c.downloaded, s.BytesDownloaded)
	counter(c.diskOps, s.DiskReads, "read")
	counter(c.diskOps, s.DiskWrites, "write")
	counter(c.diskOps, s.DiskDeletes, "delete")

	if c.state == nil {
		return
	}
	st := c.state()
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(st.InFlight))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.MemoryEntries))
	ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(st.MemoryLimit))
}
