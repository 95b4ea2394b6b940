package md

import (
	"sync"
	"time"
)

type RingBuffer struct {
	values []Point
	size   int
	index  int
	filled bool
}

func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		values: make([]Point, size),
		size:   size,
	}
}

func (r *RingBuffer) Add(value Point) {
	r.values[r.index] = value
	r.index = (r.index + 1) % r.size
	if r.index == 0 {
		r.filled = true
	}
}

func (r *RingBuffer) Len() int {
	if r.filled {
		return r.size
	}
	return r.index
}

// Values returns the buffered points oldest first.
func (r *RingBuffer) Values() []Point {
	length := r.Len()
	result := make([]Point, 0, length)
	if length == 0 {
		return result
	}
	if r.filled {
		result = append(result, r.values[r.index:]...)
	}
	result = append(result, r.values[:r.index]...)
	return result
}

// BarStore keeps a bounded ring of recent closes per symbol. It is written by
// the stream goroutine and read by the trading loop.
type BarStore struct {
	mu      sync.RWMutex
	size    int
	buffers map[string]*RingBuffer
}

func NewBarStore(size int) *BarStore {
	return &BarStore{
		size:    size,
		buffers: make(map[string]*RingBuffer),
	}
}

func (s *BarStore) Add(symbol string, point Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buffer, ok := s.buffers[symbol]
	if !ok {
		buffer = NewRingBuffer(s.size)
		s.buffers[symbol] = buffer
	}
	buffer.Add(point)
}

func (s *BarStore) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buffer, ok := s.buffers[symbol]
	if !ok {
		return 0
	}
	return buffer.Len()
}

// Series returns the symbol's points with a timestamp at or after since.
func (s *BarStore) Series(symbol string, since time.Time) PriceSeries {
	s.mu.RLock()
	buffer, ok := s.buffers[symbol]
	var values []Point
	if ok {
		values = buffer.Values()
	}
	s.mu.RUnlock()

	points := make([]Point, 0, len(values))
	for _, p := range values {
		if !p.Time.Before(since) {
			points = append(points, p)
		}
	}
	return NewPriceSeries(symbol, points)
}
