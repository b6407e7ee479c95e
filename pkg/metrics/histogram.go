package metrics

import (
	"math"
	"slices"
	"sort"
	"sync"
)

// Histogram counts observations into fixed buckets with inclusive upper
// bounds, plus an overflow bucket. Safe for concurrent use.
type Histogram struct {
	mu     sync.RWMutex
	bounds []float64
	counts []uint64 // len(bounds)+1, last is +Inf
	sum    float64
	n      uint64
	lo, hi float64
}

// NewHistogram creates a histogram over a sorted copy of bounds.
func NewHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	h := &Histogram{
		bounds: b,
		counts: make([]uint64, len(b)+1),
	}
	h.clear()
	return h
}

func (h *Histogram) clear() {
	clear(h.counts)
	h.sum = 0
	h.n = 0
	h.lo = math.Inf(1)
	h.hi = math.Inf(-1)
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.counts[sort.SearchFloat64s(h.bounds, v)]++
	h.sum += v
	h.n++
	h.lo = min(h.lo, v)
	h.hi = max(h.hi, v)
}

// HistogramSummary is a histogram snapshot with cumulative bucket counts.
type HistogramSummary struct {
	Count       uint64              `json:"count"`
	Sum         float64             `json:"sum"`
	Min         float64             `json:"min"`
	Max         float64             `json:"max"`
	Mean        float64             `json:"mean"`
	Buckets     []BucketCount       `json:"buckets"`
	Percentiles map[float64]float64 `json:"percentiles,omitempty"`
}

// BucketCount is one cumulative bucket.
type BucketCount struct {
	UpperBound float64 `json:"le"`
	Count      uint64  `json:"count"`
}

// Summary returns the current state. An empty histogram has zero Min and
// Max and no buckets.
func (h *Histogram) Summary() HistogramSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.n == 0 {
		return HistogramSummary{Buckets: []BucketCount{}, Percentiles: map[float64]float64{}}
	}

	buckets := make([]BucketCount, len(h.counts))
	var cum uint64
	for i, c := range h.counts {
		cum += c
		bound := math.Inf(1)
		if i < len(h.bounds) {
			bound = h.bounds[i]
		}
		buckets[i] = BucketCount{UpperBound: bound, Count: cum}
	}

	pct := make(map[float64]float64, 4)
	for _, q := range []float64{0.5, 0.9, 0.95, 0.99} {
		pct[q] = h.quantile(q)
	}

	return HistogramSummary{
		Count:       h.n,
		Sum:         h.sum,
		Min:         h.lo,
		Max:         h.hi,
		Mean:        h.sum / float64(h.n),
		Buckets:     buckets,
		Percentiles: pct,
	}
}

// quantile interpolates linearly inside the bucket holding rank q*n. The
// result is clamped to the observed range.
func (h *Histogram) quantile(q float64) float64 {
	rank := q * float64(h.n)
	var cum uint64
	for i, c := range h.counts {
		prev := cum
		cum += c
		if float64(cum) < rank || c == 0 {
			continue
		}
		if i >= len(h.bounds) {
			return h.hi
		}
		lower := h.lo
		if i > 0 {
			lower = max(h.bounds[i-1], h.lo)
		}
		upper := min(h.bounds[i], h.hi)
		frac := (rank - float64(prev)) / float64(c)
		return lower + frac*(upper-lower)
	}
	return h.hi
}

// Reset discards all observations.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clear()
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

// Mean returns the mean observation, zero when empty.
func (h *Histogram) Mean() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n == 0 {
		return 0
	}
	return h.sum / float64(h.n)
}
