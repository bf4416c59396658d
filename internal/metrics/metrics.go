// Package metrics keeps a rolling window of request outcomes feeding the
// adaptive concurrency controller.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// StatusTransportError is the synthetic status recorded for attempts that
// failed before an HTTP status was available (timeouts, connection resets).
const StatusTransportError = 599

type sample struct {
	latency time.Duration
	status  int
}

// Snapshot is an aggregate view over the current window.
type Snapshot struct {
	P95            time.Duration
	ErrRate        float64
	N              int
	Recent429or5xx int
}

// Collector is a fixed-capacity ring of (latency, status) samples. Record is
// O(1) and safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	samples  []sample
	next     int
	filled   bool
	recorded int64
}

func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = 200
	}
	return &Collector{samples: make([]sample, capacity)}
}

func (c *Collector) Record(latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[c.next] = sample{latency: latency, status: status}
	c.next++
	if c.next == len(c.samples) {
		c.next = 0
		c.filled = true
	}
	c.recorded++
}

// Recorded returns the lifetime number of samples seen, including evicted ones.
func (c *Collector) Recorded() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorded
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	n := c.next
	if c.filled {
		n = len(c.samples)
	}
	window := make([]sample, n)
	copy(window, c.samples[:n])
	c.mu.Unlock()

	if n == 0 {
		return Snapshot{}
	}

	latencies := make([]time.Duration, n)
	errors := 0
	spikes := 0
	for i, s := range window {
		latencies[i] = s.latency
		ok := s.status >= 200 && s.status < 300
		if !ok {
			errors++
			if s.status == 429 || (s.status >= 500 && s.status < 600) {
				spikes++
			}
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	return Snapshot{
		P95:            latencies[int(0.95*float64(n-1))],
		ErrRate:        float64(errors) / float64(n),
		N:              n,
		Recent429or5xx: spikes,
	}
}
