// Package ratecalc implements the per-stream rate smoothing and per-class
// burst budgets from spec.md §4.E (component E): a 1 Hz exponentially
// smoothed throughput estimate per transfer, and proportional recharge
// budgets shared across every transfer of a given class (hashing, upload,
// download).
package ratecalc

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Class identifies which shared burst budget a Counter draws from.
type Class int

const (
	ClassHash Class = iota
	ClassUpload
	ClassDownload
)

func (c Class) String() string {
	switch c {
	case ClassHash:
		return "hash"
	case ClassUpload:
		return "upload"
	case ClassDownload:
		return "download"
	default:
		return "unknown"
	}
}

// Counter tracks one stream's cumulative byte count and smoothed rate.
// Tick must be called roughly once per second; it is not safe for
// concurrent use without external synchronization (each Counter belongs to
// exactly one CC connection's event-loop goroutine).
type Counter struct {
	total int64
	rate  int64
}

// Add accumulates n freshly transferred bytes ahead of the next Tick.
func (c *Counter) Add(n int64) { c.total += n }

// Total returns the cumulative byte count observed so far.
func (c *Counter) Total() int64 { return c.total }

// Rate returns the most recent smoothed bytes/sec estimate.
func (c *Counter) Rate() int64 { return c.rate }

// Tick folds the bytes accumulated since the previous call into the
// smoothed rate: rate ← diff + (rate-diff)/2, per spec.md §4.E. diff is the
// number of bytes observed during this tick.
func (c *Counter) Tick(diff int64) {
	c.rate = diff + (c.rate-diff)/2
}

// Budget is a shared burst allowance for one Class: every Grant call spends
// from a pool that recharges proportionally to elapsed time, capped at a
// configured ceiling.
type Budget struct {
	mu        sync.Mutex
	class     Class
	ceiling   int64
	available int64
	perSecond int64
	lastTick  time.Time

	gauge prometheus.Gauge
}

// NewBudget creates a Budget that recharges at perSecond bytes/sec up to
// ceiling bytes, starting full. A nil registerer disables metrics.
func NewBudget(class Class, ceiling, perSecond int64, reg prometheus.Registerer) *Budget {
	b := &Budget{
		class:     class,
		ceiling:   ceiling,
		available: ceiling,
		perSecond: perSecond,
	}
	if reg != nil {
		b.gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ncdc",
			Subsystem: "ratecalc",
			Name:      "budget_available_bytes",
			ConstLabels: prometheus.Labels{
				"class": class.String(),
			},
		})
		reg.MustRegister(b.gauge)
	}
	return b
}

// recharge adds perSecond * elapsed bytes to the pool, clamped to ceiling.
// Caller must hold b.mu. now is a caller-supplied timestamp so the Budget
// itself never calls time.Now, keeping it deterministic to exercise in
// tests.
func (b *Budget) recharge(now time.Time) {
	if b.lastTick.IsZero() {
		b.lastTick = now
		return
	}
	elapsed := now.Sub(b.lastTick).Seconds()
	if elapsed <= 0 {
		return
	}
	b.available += int64(elapsed * float64(b.perSecond))
	if b.available > b.ceiling {
		b.available = b.ceiling
	}
	b.lastTick = now
}

// Grant requests n bytes of burst allowance at time now, returning how many
// bytes (0..n) may proceed immediately.
func (b *Budget) Grant(now time.Time, n int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recharge(now)

	granted := n
	if granted > b.available {
		granted = b.available
	}
	if granted < 0 {
		granted = 0
	}
	b.available -= granted
	if b.gauge != nil {
		b.gauge.Set(float64(b.available))
	}
	return granted
}

// Available reports the current burst allowance without consuming it.
func (b *Budget) Available(now time.Time) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recharge(now)
	return b.available
}
