package imagecache

import "time"

// Stats is a point-in-time view of cache activity.
type Stats struct {
	MemoryEntries   int           `json:"memory_entries"`
	MemoryLimit     int           `json:"memory_limit"`
	InFlight        int           `json:"in_flight"`
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
	Directory       string        `json:"directory"`
	Uptime          time.Duration `json:"uptime"`
}

// Stats returns current statistics.
func (c *Cache) Stats() Stats {
	s := c.metrics.GetSnapshot()
	st := c.state()
	return Stats{
		MemoryEntries:   st.MemoryEntries,
		MemoryLimit:     st.MemoryLimit,
		InFlight:        st.InFlight,
		Hits:            s.Hits,
		Misses:          s.Misses,
		HitRate:         s.HitRate,
		Evictions:       s.Evictions,
		Fetches:         s.Fetches,
		SharedFetches:   s.SharedFetches,
		FetchFailures:   s.FetchFailures,
		BytesDownloaded: s.BytesDownloaded,
		BytesServed:     s.BytesServed,
		DiskReads:       s.DiskReads,
		DiskMisses:      s.DiskMisses,
		DiskWrites:      s.DiskWrites,
		DiskDeletes:     s.DiskDeletes,
		Errors:          s.Errors,
		AvgFetchLatency: s.AvgFetchLatency,
		P95FetchLatency: s.P95FetchLatency,
		Directory:       c.disk.Root(),
		Uptime:          s.Uptime,
	}
}
