// Package metrics exposes loader and cache counters.
//
// Components take a Recorder; Nop is used when metrics are disabled, and
// NewPrometheus records into a caller-provided registry.
package metrics

import "time"

// Cache tiers as reported in labels.
const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// Task outcomes as reported in labels.
const (
	OutcomeDelivered = "delivered"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomeBusy      = "busy"
)

// Recorder receives observations from the loading pipeline.
type Recorder interface {
	CacheHit(tier string)
	CacheMiss(tier string)
	// MemoryUsage reports the memory tier's current bytes and entries.
	MemoryUsage(bytes int64, entries int)
	Evicted(tier string)
	DownloadBytes(n int64)
	TaskFinished(outcome string, elapsed time.Duration)
	QueueDepth(n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) CacheHit(string)                    {}
func (Nop) CacheMiss(string)                   {}
func (Nop) MemoryUsage(int64, int)             {}
func (Nop) Evicted(string)                     {}
func (Nop) DownloadBytes(int64)                {}
func (Nop) TaskFinished(string, time.Duration) {}
func (Nop) QueueDepth(int)                     {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
