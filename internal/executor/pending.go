package executor

import "sync"

// PendingSet guards against duplicate in-flight execution attempts for the
// same order id within one process. Acquire before submitting, release on
// every exit path; the caller defers Release immediately after a successful
// TryAcquire so the set cannot leak an entry on a panic or early return.
type PendingSet struct {
	mu  sync.Mutex
	ids map[uint64]struct{}
}

func NewPendingSet() *PendingSet {
	return &PendingSet{ids: make(map[uint64]struct{})}
}

// TryAcquire marks id as in flight. Returns false if it already is.
func (s *PendingSet) TryAcquire(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Release clears id. Releasing an id that is not held is a no-op.
func (s *PendingSet) Release(id uint64) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

// Contains reports whether id is currently in flight.
func (s *PendingSet) Contains(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of in-flight ids.
func (s *PendingSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
