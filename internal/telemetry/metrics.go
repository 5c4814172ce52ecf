package telemetry

import (
	"slices"
	"sync"
	"time"
)

const maxLatencySamples = 10000

// DetailedMetrics collects counters and latency samples for every tier of
// the cache.
type DetailedMetrics struct {
	mu sync.RWMutex

	// Memory tier
	hits      int64
	misses    int64
	evictions int64

	// Network tier
	fetches         int64
	sharedFetches   int64
	fetchFailures   int64
	bytesDownloaded int64
	bytesServed     int64

	// Disk tier
	diskReads   int64
	diskMisses  int64
	diskWrites  int64
	diskDeletes int64

	errors int64

	fetchLatencies []time.Duration
	startTime      time.Time
	lastErrorTime  time.Time
}

// MetricsSnapshot is a point-in-time copy of DetailedMetrics.
type MetricsSnapshot struct {
	Hits            int64         `json:"hits"`
	Misses          int64         `json:"misses"`
	HitRate         float64       `json:"hit_rate"`
	Evictions       int64         `json:"evictions"`
	Fetches         int64         `json:"fetches"`
	SharedFetches   int64         `json:"shared_fetches"`
	FetchFailures   int64         `json:"fetch_failures"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	BytesServed     int64         `json:"bytes_served"`
	DiskReads       int64         `json:"disk_reads"`
	DiskMisses      int64         `json:"disk_misses"`
	DiskWrites      int64         `json:"disk_writes"`
	DiskDeletes     int64         `json:"disk_deletes"`
	Errors          int64         `json:"errors"`
	AvgFetchLatency time.Duration `json:"avg_fetch_latency"`
	P95FetchLatency time.Duration `json:"p95_fetch_latency"`
	LastErrorTime   time.Time     `json:"last_error_time"`
	Uptime          time.Duration `json:"uptime"`
}

// NewDetailedMetrics creates a new DetailedMetrics instance.
func NewDetailedMetrics() *DetailedMetrics {
	return &DetailedMetrics{
		startTime:      time.Now(),
		fetchLatencies: make([]time.Duration, 0, 1000),
	}
}

// RecordHit records a memory hit serving size bytes.
func (m *DetailedMetrics) RecordHit(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
	m.bytesServed += size
}

// RecordMiss records a memory miss.
func (m *DetailedMetrics) RecordMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

// RecordEviction records a capacity eviction.
func (m *DetailedMetrics) RecordEviction() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions++
}

// RecordFetch records a completed network operation.
func (m *DetailedMetrics) RecordFetch(size int64, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches++
	if err != nil {
		m.fetchFailures++
		m.errors++
		m.lastErrorTime = time.Now()
	} else {
		m.bytesDownloaded += size
	}

	m.fetchLatencies = append(m.fetchLatencies, duration)
	if len(m.fetchLatencies) > maxLatencySamples {
		m.fetchLatencies = m.fetchLatencies[len(m.fetchLatencies)-maxLatencySamples/2:]
	}
}

// RecordSharedFetch records a caller that joined an operation already in
// flight.
func (m *DetailedMetrics) RecordSharedFetch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharedFetches++
}

// RecordDiskRead records a disk lookup; found is false for missing records.
func (m *DetailedMetrics) RecordDiskRead(found bool, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diskReads++
	if found {
		m.bytesServed += size
	} else {
		m.diskMisses++
	}
}

// RecordDiskWrite records a successful disk write.
func (m *DetailedMetrics) RecordDiskWrite() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diskWrites++
}

// RecordDiskDelete records a successful disk delete.
func (m *DetailedMetrics) RecordDiskDelete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diskDeletes++
}

// RecordError records an operation error outside the fetch path.
func (m *DetailedMetrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
	m.lastErrorTime = time.Now()
}

// GetSnapshot returns a thread-safe snapshot of current metrics.
func (m *DetailedMetrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := MetricsSnapshot{
		Hits:            m.hits,
		Misses:          m.misses,
		Evictions:       m.evictions,
		Fetches:         m.fetches,
		SharedFetches:   m.sharedFetches,
		FetchFailures:   m.fetchFailures,
		BytesDownloaded: m.bytesDownloaded,
		BytesServed:     m.bytesServed,
		DiskReads:       m.diskReads,
		DiskMisses:      m.diskMisses,
		DiskWrites:      m.diskWrites,
		DiskDeletes:     m.diskDeletes,
		Errors:          m.errors,
		LastErrorTime:   m.lastErrorTime,
		Uptime:          time.Since(m.startTime),
	}

	if total := m.hits + m.misses; total > 0 {
		s.HitRate = float64(m.hits) / float64(total)
	}

	if n := len(m.fetchLatencies); n > 0 {
		var sum time.Duration
		for _, d := range m.fetchLatencies {
			sum += d
		}
		s.AvgFetchLatency = sum / time.Duration(n)

		sorted := slices.Clone(m.fetchLatencies)
		slices.Sort(sorted)
		s.P95FetchLatency = sorted[(n*95-1)/100]
	}

	return s
}

// Reset clears all counters and samples.
func (m *DetailedMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits, m.misses, m.evictions = 0, 0, 0
	m.fetches, m.sharedFetches, m.fetchFailures = 0, 0, 0
	m.bytesDownloaded, m.bytesServed = 0, 0
	m.diskReads, m.diskMisses, m.diskWrites, m.diskDeletes = 0, 0, 0, 0
	m.errors = 0
	m.fetchLatencies = m.fetchLatencies[:0]
	m.startTime = time.Now()
	m.lastErrorTime = time.Time{}
}
