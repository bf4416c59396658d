// Package adaptive bounds worker pools with a ceiling that tracks observed
// latency and error rates: additive growth when healthy, multiplicative
// shrink under degradation.
package adaptive

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lucashm/pncp-harvester/internal/metrics"
)

type Config struct {
	Name       string
	Initial    int
	Min        int
	Max        int
	Interval   time.Duration
	MinSamples int
	P95Limit   time.Duration
	ErrLimit   float64
	SpikeLimit int
	Metrics    *metrics.Collector
	Logger     *log.Logger
}

// Limiter hands out permits up to a mutable ceiling. Acquire blocks while the
// ceiling is saturated; the background loop started by Start retunes the
// ceiling from metric snapshots.
type Limiter struct {
	name       string
	min        int
	max        int
	interval   time.Duration
	minSamples int
	p95Limit   time.Duration
	errLimit   float64
	spikeLimit int
	collector  *metrics.Collector
	logger     *log.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	limit int
	used  int
}

func New(config Config) *Limiter {
	if config.Min <= 0 {
		config.Min = 2
	}
	if config.Max < config.Min {
		config.Max = config.Min
	}
	if config.Initial <= 0 {
		config.Initial = config.Max
	}
	if config.Initial < config.Min {
		config.Initial = config.Min
	}
	if config.Initial > config.Max {
		config.Initial = config.Max
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 80
	}
	if config.P95Limit <= 0 {
		config.P95Limit = 8 * time.Second
	}
	if config.ErrLimit <= 0 {
		config.ErrLimit = 0.08
	}
	if config.SpikeLimit <= 0 {
		config.SpikeLimit = 5
	}

	limiter := &Limiter{
		name:       config.Name,
		min:        config.Min,
		max:        config.Max,
		interval:   config.Interval,
		minSamples: config.MinSamples,
		p95Limit:   config.P95Limit,
		errLimit:   config.ErrLimit,
		spikeLimit: config.SpikeLimit,
		collector:  config.Metrics,
		logger:     config.Logger,
		limit:      config.Initial,
	}
	limiter.cond = sync.NewCond(&limiter.mu)
	return limiter
}

// Acquire blocks until a permit is available or the context is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.used >= l.limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.used++
	return nil
}

func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used > 0 {
		l.used--
	}
	l.cond.Broadcast()
}

// Limit returns the current ceiling.
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// InUse returns the number of outstanding permits.
func (l *Limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used
}

// Start runs the adjustment loop until ctx is cancelled. Cancellation also
// wakes any goroutine blocked in Acquire.
func (l *Limiter) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		l.cond.Broadcast()
	}()
	go func() {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if l.collector != nil {
					l.apply(l.collector.Snapshot())
				}
			}
		}
	}()
}

// apply retunes the ceiling from one snapshot. Too few samples means no
// change; degradation shrinks multiplicatively, health grows by one.
func (l *Limiter) apply(snap metrics.Snapshot) {
	if snap.N < l.minSamples {
		return
	}

	l.mu.Lock()
	previous := l.limit
	degraded := snap.P95 > l.p95Limit || snap.ErrRate > l.errLimit || snap.Recent429or5xx >= l.spikeLimit
	if degraded {
		shrunk := l.limit * 6 / 10
		if stepped := l.limit - 2; stepped > shrunk {
			shrunk = stepped
		}
		if shrunk < l.min {
			shrunk = l.min
		}
		l.limit = shrunk
	} else if l.limit < l.max {
		l.limit++
	}
	changed := l.limit != previous
	current := l.limit
	if changed {
		l.cond.Broadcast()
	}
	l.mu.Unlock()

	if changed && l.logger != nil {
		l.logger.Printf("concurrency adjusted pool=%s limit=%d p95=%s err_rate=%.1f%% samples=%d",
			l.name, current, snap.P95, snap.ErrRate*100, snap.N)
	}
}
