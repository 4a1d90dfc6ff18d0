package history

import (
	"sort"
	"sync"
)

// Well-known metric names tracked by the refresh cycle. Disk series use
// MetricDiskPrefix plus the mount point.
const (
	MetricSystemCPU    = "system.cpu"
	MetricSystemMemory = "system.memory"
	MetricDiskPrefix   = "disk."
)

// Store groups rings by metric name. Rings are created lazily on first
// append and live for the whole process; Reset is the only way to clear one.
type Store struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*Ring
}

func NewStore(capacity int) *Store {
	return &Store{capacity: capacity, rings: make(map[string]*Ring)}
}

// Append records a point on the named metric, creating the ring on first use.
func (s *Store) Append(metric string, p Point) {
	s.ring(metric).Append(p)
}

func (s *Store) ring(metric string) *Ring {
	s.mu.RLock()
	r, ok := s.rings[metric]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.rings[metric]; ok {
		return r
	}
	r = NewRing(s.capacity)
	s.rings[metric] = r
	return r
}

// Series returns the stored points for a metric, oldest-first, or nil when
// the metric has never been appended to.
func (s *Store) Series(metric string) []Point {
	s.mu.RLock()
	r, ok := s.rings[metric]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.Series()
}

// Metrics lists the tracked metric names, sorted.
func (s *Store) Metrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rings))
	for name := range s.rings {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
