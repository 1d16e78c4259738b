package hashstore

import (
	"sync"
)

// DefaultThreshold is the distance below which two hashes are duplicates
const DefaultThreshold = 10

// Store is the in-memory set of admitted hashes shared by all workers.
//
// Admission is a single exclusive section: the scan over committed hashes and
// in-flight reservations and the recording of the new reservation happen
// under one lock, so two near-duplicate candidates can never both pass.
type Store struct {
	threshold int

	mu        sync.RWMutex
	committed []Hash
	pending   map[*Reservation]struct{}
}

// Reservation is a hash that passed the admission scan and is waiting for
// its output to be made durable.
type Reservation struct {
	store *Store
	hash  Hash
	done  chan struct{}
	once  sync.Once
}

// NewStore creates an empty store. A threshold below 1 falls back to
// DefaultThreshold.
func NewStore(threshold int) *Store {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Store{
		threshold: threshold,
		pending:   make(map[*Reservation]struct{}),
	}
}

// Threshold returns the duplicate distance threshold
func (s *Store) Threshold() int {
	return s.threshold
}

// Load adds previously persisted hashes. They are trusted as-is: duplicates
// among them are kept.
func (s *Store) Load(hashes []Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.committed = append(s.committed, hashes...)
}

// Len returns the number of committed hashes
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.committed)
}

// Snapshot returns a copy of the committed hashes
func (s *Store) Snapshot() []Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Hash, len(s.committed))
	copy(out, s.committed)
	return out
}

// IsDuplicate reports whether h is within threshold of a committed hash.
// It does not reserve anything and is meant for read-only queries.
func (s *Store) IsDuplicate(h Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.matchCommitted(h)
}

// Admit decides whether h is new. It returns a reservation and true when h is
// admitted, or nil and false when a committed hash is within threshold.
//
// When h is only close to an in-flight reservation, Admit waits for that
// reservation to be committed or aborted and scans again.
func (s *Store) Admit(h Hash) (*Reservation, bool) {
	for {
		s.mu.Lock()
		if s.matchCommitted(h) {
			s.mu.Unlock()
			return nil, false
		}

		var wait chan struct{}
		for r := range s.pending {
			if Distance(h, r.hash) < s.threshold {
				wait = r.done
				break
			}
		}
		if wait == nil {
			r := &Reservation{store: s, hash: h, done: make(chan struct{})}
			s.pending[r] = struct{}{}
			s.mu.Unlock()
			return r, true
		}
		s.mu.Unlock()

		<-wait
	}
}

func (s *Store) matchCommitted(h Hash) bool {
	for _, stored := range s.committed {
		if Distance(h, stored) < s.threshold {
			return true
		}
	}
	return false
}

// Hash returns the reserved hash
func (r *Reservation) Hash() Hash {
	return r.hash
}

// Commit moves the reserved hash into the committed set
func (r *Reservation) Commit() {
	r.resolve(true)
}

// Abort drops the reservation without touching the committed set
func (r *Reservation) Abort() {
	r.resolve(false)
}

func (r *Reservation) resolve(commit bool) {
	r.once.Do(func() {
		s := r.store
		s.mu.Lock()
		delete(s.pending, r)
		if commit {
			s.committed = append(s.committed, r.hash)
		}
		s.mu.Unlock()
		close(r.done)
	})
}
