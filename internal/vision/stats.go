package vision

import (
	"sort"
	"sync"
	"time"
)

// StatsSnapshot is a point-in-time aggregate of generation call latencies.
type StatsSnapshot struct {
	Count int
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
	P50   time.Duration
	P95   time.Duration
}

// Stats accumulates generation call latencies over a run.
type Stats struct {
	mu      sync.Mutex
	samples []time.Duration
}

func NewStats() *Stats {
	return &Stats{samples: make([]time.Duration, 0, 64)}
}

func (s *Stats) Record(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, d)
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) == 0 {
		return StatsSnapshot{}
	}

	values := make([]time.Duration, len(s.samples))
	copy(values, s.samples)
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	var sum time.Duration
	for _, v := range values {
		sum += v
	}

	return StatsSnapshot{
		Count: len(values),
		Min:   values[0],
		Max:   values[len(values)-1],
		Avg:   sum / time.Duration(len(values)),
		P50:   percentile(values, 50),
		P95:   percentile(values, 95),
	}
}

func percentile(sortedValues []time.Duration, pct float64) time.Duration {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return sortedValues[0]
	}
	if pct >= 100 {
		return sortedValues[len(sortedValues)-1]
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return sortedValues[lower]
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return time.Duration(lo + ((hi - lo) * weight))
}
