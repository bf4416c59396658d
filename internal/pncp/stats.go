package pncp

import "sync/atomic"

// Stats counts fetch attempts across a run so the final summary can expose
// partial losses instead of hiding them.
type Stats struct {
	PagesAttempted       atomic.Int64
	PagesFailed          atomic.Int64
	WindowCacheHits      atomic.Int64
	ItemFetchesAttempted atomic.Int64
	ItemFetchesFailed    atomic.Int64
	ItemCacheHits        atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	PagesAttempted       int64
	PagesFailed          int64
	WindowCacheHits      int64
	ItemFetchesAttempted int64
	ItemFetchesFailed    int64
	ItemCacheHits        int64
}

func (c *Client) Stats() StatsSnapshot {
	return StatsSnapshot{
		PagesAttempted:       c.stats.PagesAttempted.Load(),
		PagesFailed:          c.stats.PagesFailed.Load(),
		WindowCacheHits:      c.stats.WindowCacheHits.Load(),
		ItemFetchesAttempted: c.stats.ItemFetchesAttempted.Load(),
		ItemFetchesFailed:    c.stats.ItemFetchesFailed.Load(),
		ItemCacheHits:        c.stats.ItemCacheHits.Load(),
	}
}
