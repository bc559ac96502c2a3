// Package metrics provides an in-process counters/histograms store. A
// Registry is injected into each pipeline stage; Snapshot backs the
// metrics endpoint.
package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Labels attach dimensions to a metric series, e.g. {"phase": "heuristic"}
type Labels map[string]string

// defaultBuckets cover sub-millisecond cache hits up to the inference
// timeout ceiling, in seconds.
var defaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Registry is a concurrency-safe store for counters and histograms
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]uint64
	histograms map[string]*histogram
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]uint64),
		histograms: make(map[string]*histogram),
	}
}

// IncCounter increments the counter identified by name and labels by one
func (r *Registry) IncCounter(name string, labels Labels) {
	r.AddCounter(name, labels, 1)
}

// AddCounter increments the counter identified by name and labels by delta
func (r *Registry) AddCounter(name string, labels Labels, delta uint64) {
	key := seriesKey(name, labels)
	r.mu.Lock()
	r.counters[key] += delta
	r.mu.Unlock()
}

// CounterValue returns the current value of a counter series, zero if the
// series has never been incremented
func (r *Registry) CounterValue(name string, labels Labels) uint64 {
	key := seriesKey(name, labels)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[key]
}

// Observe records a value into the histogram identified by name and labels
func (r *Registry) Observe(name string, labels Labels, value float64) {
	key := seriesKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.histograms[key]
	if !ok {
		h = &histogram{
			buckets: defaultBuckets,
			counts:  make([]uint64, len(defaultBuckets)),
		}
		r.histograms[key] = h
	}

	h.sum += value
	h.count++
	for i, upper := range h.buckets {
		if value <= upper {
			h.counts[i]++
		}
	}
}

// HistogramSnapshot is a point-in-time copy of one histogram series
type HistogramSnapshot struct {
	Count   uint64             `json:"count"`
	Sum     float64            `json:"sum"`
	Buckets map[float64]uint64 `json:"buckets"`
}

// Snapshot is a point-in-time copy of every series in the registry
type Snapshot struct {
	Counters   map[string]uint64            `json:"counters"`
	Histograms map[string]HistogramSnapshot `json:"histograms"`
}

// Snapshot copies out all current series. The copy is independent of the
// registry and safe to read while recording continues.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Counters:   make(map[string]uint64, len(r.counters)),
		Histograms: make(map[string]HistogramSnapshot, len(r.histograms)),
	}
	for k, v := range r.counters {
		snap.Counters[k] = v
	}
	for k, h := range r.histograms {
		hs := HistogramSnapshot{
			Count:   h.count,
			Sum:     h.sum,
			Buckets: make(map[float64]uint64, len(h.buckets)),
		}
		for i, upper := range h.buckets {
			hs.Buckets[upper] = h.counts[i]
		}
		snap.Histograms[k] = hs
	}
	return snap
}

// Reset clears every series. Intended for test isolation.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = make(map[string]uint64)
	r.histograms = make(map[string]*histogram)
}

// seriesKey builds a stable identifier from a metric name and its labels.
// Labels are sorted so insertion order never splits a series.
func seriesKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}
