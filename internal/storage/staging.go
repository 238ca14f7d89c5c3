package storage

import "sync"

// stagedOp is a write or a delete waiting for the next flush.
type stagedOp struct {
	payload  []byte
	deleted  bool
	reserved int64
}

// staging holds the operations accepted since the last drain. The pending
// set is swapped out whole when a flush starts; the drained set stays
// visible to readers until the flush has committed or been abandoned.
//
// Besides the reservations of its operations each set holds one directory
// reservation, covering a rewrite of the whole directory.
type staging struct {
	mu       sync.Mutex
	pending  map[uint64]stagedOp
	inflight map[uint64]stagedOp

	pendingDir  int64
	inflightDir int64
}

func newStaging() *staging {
	return &staging{pending: make(map[uint64]stagedOp)}
}

// stage records op for id, adds dir to the directory reservation of the
// pending set and returns the reservation held by the pending operation it
// supersedes, if any.
func (s *staging) stage(id uint64, op stagedOp, dir int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingDir += dir
	prev, ok := s.pending[id]
	s.pending[id] = op
	if ok {
		return prev.reserved
	}
	return 0
}

// lookup returns the newest staged operation for id.
func (s *staging) lookup(id uint64) (stagedOp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op, ok := s.pending[id]; ok {
		return op, true
	}
	op, ok := s.inflight[id]
	return op, ok
}

// drain moves the pending set in flight and returns it with its directory
// reservation.
func (s *staging) drain() (map[uint64]stagedOp, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight, s.inflightDir = s.pending, s.pendingDir
	s.pending, s.pendingDir = make(map[uint64]stagedOp), 0
	return s.inflight, s.inflightDir
}

// finish forgets the in-flight set after a successful commit.
func (s *staging) finish() {
	s.mu.Lock()
	s.inflight, s.inflightDir = nil, 0
	s.mu.Unlock()
}

// restore puts the in-flight set back underneath whatever was staged since
// the drain. The directory reservations of both sets are kept. It returns
// the reservations of in-flight operations that a newer operation
// superseded.
func (s *staging) restore() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var superseded int64
	for id, op := range s.inflight {
		if _, newer := s.pending[id]; newer {
			superseded += op.reserved
			continue
		}
		s.pending[id] = op
	}
	s.pendingDir += s.inflightDir
	s.inflight, s.inflightDir = nil, 0
	return superseded
}

// charges returns the sizes of both sets and the directory reservation the
// pending set holds.
func (s *staging) charges() (pending, inflight int, dir int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), len(s.inflight), s.pendingDir
}

// counts returns the sizes of the pending and in-flight sets.
func (s *staging) counts() (pending, inflight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), len(s.inflight)
}
