package journal

import "sync"

// Spool is a thread-safe ring buffer that doubles its capacity when it
// reaches 70% full, so a slow flush never drops events on the floor.
type Spool[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	totalIn     int64
	totalOut    int64
	resizeCount int
}

// NewSpool creates a spool with the given initial capacity.
func NewSpool[T any](initialCapacity int) *Spool[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Spool[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
}

// Put adds an item, growing the spool if it is at 70% capacity.
// Returns false if the spool is closed.
func (s *Spool[T]) Put(item T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	threshold := (s.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if s.count+1 >= threshold {
		s.grow()
	}

	s.buf[s.tail] = item
	s.tail = (s.tail + 1) % s.capacity
	s.count++
	s.totalIn++
	return true
}

// Drain removes up to max items (all items when max <= 0) and returns them
// in arrival order. Returns nil when empty.
func (s *Spool[T]) Drain(max int) []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return nil
	}

	n := s.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = s.buf[s.head]
		var zero T
		s.buf[s.head] = zero // clear reference for GC
		s.head = (s.head + 1) % s.capacity
		s.count--
		s.totalOut++
	}
	return out
}

// Close marks the spool closed. After closing, Put returns false; Drain
// still returns whatever remains.
func (s *Spool[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Len returns the current number of buffered items.
func (s *Spool[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Cap returns the current capacity.
func (s *Spool[T]) Cap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// Stats returns spool counters.
func (s *Spool[T]) Stats() SpoolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SpoolStats{
		Count:       s.count,
		Capacity:    s.capacity,
		TotalIn:     s.totalIn,
		TotalOut:    s.totalOut,
		ResizeCount: s.resizeCount,
	}
}

// SpoolStats contains spool counters.
type SpoolStats struct {
	Count       int
	Capacity    int
	TotalIn     int64
	TotalOut    int64
	ResizeCount int
}

// grow doubles the capacity. Must be called with the lock held.
func (s *Spool[T]) grow() {
	newCapacity := s.capacity * 2
	newBuf := make([]T, newCapacity)

	if s.count > 0 {
		if s.head < s.tail {
			copy(newBuf, s.buf[s.head:s.tail])
		} else {
			n := copy(newBuf, s.buf[s.head:])
			copy(newBuf[n:], s.buf[:s.tail])
		}
	}

	s.buf = newBuf
	s.head = 0
	s.tail = s.count
	s.capacity = newCapacity
	s.resizeCount++
}
