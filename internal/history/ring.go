package history

import (
	"sync"
	"time"
)

// Point is one sampled value of a named metric.
type Point struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// Ring is a fixed-capacity time series. Appending beyond capacity overwrites
// the oldest point. One writer (the refresh cycle) and any number of readers
// may use it concurrently; readers always get a copy.
type Ring struct {
	mu       sync.RWMutex
	points   []Point
	startIdx int
	count    int
}

// NewRing creates a ring holding at most capacity points. capacity must be
// positive; the config layer rejects anything else before a ring is built.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{points: make([]Point, capacity)}
}

// Append records one point, evicting the oldest when full. O(1).
func (r *Ring) Append(p Point) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.points) {
		r.points[(r.startIdx+r.count)%len(r.points)] = p
		r.count++
		return
	}
	r.points[r.startIdx] = p
	r.startIdx = (r.startIdx + 1) % len(r.points)
}

// Series returns the stored points oldest-first. The slice is a copy, so an
// in-progress read is never corrupted by a concurrent append.
func (r *Ring) Series() []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Point, r.count)
	if r.count < len(r.points) {
		copy(out, r.points[:r.count])
		return out
	}
	n := copy(out, r.points[r.startIdx:])
	copy(out[n:], r.points[:r.startIdx])
	return out
}

// Len returns the number of stored points.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the configured capacity.
func (r *Ring) Cap() int { return len(r.points) }

// Reset discards all points.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startIdx = 0
	r.count = 0
}
