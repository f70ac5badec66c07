// Package metrics keeps the gateway's traffic counters and exports
// them as JSON snapshots and Prometheus text. Counters take atomic
// adds on the hot path; snapshots take the coarse lock.
package metrics

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are the latency histogram bounds in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Store accumulates request totals, per-status counts and latency
// buckets.
type Store struct {
	totalRequests atomic.Int64
	totalBytesIn  atomic.Int64
	totalBytesOut atomic.Int64

	statusMu     sync.RWMutex
	statusCounts map[int]*atomic.Int64

	latMu      sync.Mutex
	latCount   int64
	latSum     float64
	latBuckets []int64 // cumulative, aligned with DefaultBuckets
}

// NewStore creates an empty metrics store.
func NewStore() *Store {
	return &Store{
		statusCounts: make(map[int]*atomic.Int64),
		latBuckets:   make([]int64, len(DefaultBuckets)),
	}
}

// Record adds one completed request.
func (s *Store) Record(statusCode int, bytesIn, bytesOut int64, latency time.Duration) {
	s.totalRequests.Add(1)
	s.totalBytesIn.Add(bytesIn)
	s.totalBytesOut.Add(bytesOut)
	s.statusCounter(statusCode).Add(1)

	secs := latency.Seconds()
	s.latMu.Lock()
	s.latCount++
	s.latSum += secs
	for i, bound := range DefaultBuckets {
		if secs <= bound {
			s.latBuckets[i]++
		}
	}
	s.latMu.Unlock()
}

func (s *Store) statusCounter(code int) *atomic.Int64 {
	s.statusMu.RLock()
	c, ok := s.statusCounts[code]
	s.statusMu.RUnlock()
	if ok {
		return c
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if c, ok := s.statusCounts[code]; ok {
		return c
	}
	c = &atomic.Int64{}
	s.statusCounts[code] = c
	return c
}

// Bucket is one cumulative latency bucket.
type Bucket struct {
	UpperBound float64 `json:"le"`
	Count      int64   `json:"count"`
}

// LatencySnapshot is the histogram state at snapshot time.
type LatencySnapshot struct {
	Count      int64    `json:"count"`
	SumSeconds float64  `json:"sum_seconds"`
	Buckets    []Bucket `json:"buckets"`
}

// Snapshot is the JSON shape served by the monitor endpoint and
// written by SaveToFile. Status keys are stringified so the document
// survives JSON round trips unchanged.
type Snapshot struct {
	TotalRequests int64            `json:"total_requests"`
	TotalBytesIn  int64            `json:"total_bytes_in"`
	TotalBytesOut int64            `json:"total_bytes_out"`
	StatusCounts  map[string]int64 `json:"status_counts"`
	Latency       LatencySnapshot  `json:"latency"`
}

// Snapshot copies the current counters.
func (s *Store) Snapshot() *Snapshot {
	snap := &Snapshot{
		TotalRequests: s.totalRequests.Load(),
		TotalBytesIn:  s.totalBytesIn.Load(),
		TotalBytesOut: s.totalBytesOut.Load(),
		StatusCounts:  make(map[string]int64),
	}

	s.statusMu.RLock()
	for code, c := range s.statusCounts {
		snap.StatusCounts[strconv.Itoa(code)] = c.Load()
	}
	s.statusMu.RUnlock()

	s.latMu.Lock()
	snap.Latency = LatencySnapshot{
		Count:      s.latCount,
		SumSeconds: s.latSum,
		Buckets:    make([]Bucket, len(DefaultBuckets)),
	}
	for i, bound := range DefaultBuckets {
		snap.Latency.Buckets[i] = Bucket{UpperBound: bound, Count: s.latBuckets[i]}
	}
	s.latMu.Unlock()
	return snap
}

// SaveToFile persists the snapshot as JSON.
func (s *Store) SaveToFile(path string) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadFromFile replaces the live counters with a saved snapshot.
// Status keys parse back from their string form; malformed keys are
// skipped, and bucket counts adopt only bounds the store knows.
func (s *Store) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.restore(&snap)
	return nil
}

func (s *Store) restore(snap *Snapshot) {
	s.totalRequests.Store(snap.TotalRequests)
	s.totalBytesIn.Store(snap.TotalBytesIn)
	s.totalBytesOut.Store(snap.TotalBytesOut)

	counts := make(map[int]*atomic.Int64, len(snap.StatusCounts))
	for key, v := range snap.StatusCounts {
		code, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		c := &atomic.Int64{}
		c.Store(v)
		counts[code] = c
	}
	s.statusMu.Lock()
	s.statusCounts = counts
	s.statusMu.Unlock()

	s.latMu.Lock()
	s.latCount = snap.Latency.Count
	s.latSum = snap.Latency.SumSeconds
	s.latBuckets = make([]int64, len(DefaultBuckets))
	for _, b := range snap.Latency.Buckets {
		for i, bound := range DefaultBuckets {
			if b.UpperBound == bound {
				s.latBuckets[i] = b.Count
			}
		}
	}
	s.latMu.Unlock()
}

// StatusCodes returns the recorded status codes sorted, for stable
// admin output.
func (s *Store) StatusCodes() []int {
	s.statusMu.RLock()
	codes := make([]int, 0, len(s.statusCounts))
	for code := range s.statusCounts {
		codes = append(codes, code)
	}
	s.statusMu.RUnlock()
	sort.Ints(codes)
	return codes
}
