package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrOutOfOrder rejects an entry whose timestamp is not after the latest one.
	ErrOutOfOrder = errors.New("ledger entry out of order")
	// ErrUnbalanced rejects an entry whose balance was not fully disposed of.
	ErrUnbalanced = errors.New("ledger entry does not net to zero")
	// ErrRecordFailed wraps a failure of a durable recorder. The in-memory append still happened.
	ErrRecordFailed = errors.New("ledger recorder failed")
)

// Recorder receives every appended entry, e.g. to keep a durable copy.
type Recorder interface {
	Record(nodeID string, e Entry) error
	Close() error
}

// Store is the authoritative time series of one node.
// Only the owning node's tick loop appends; readers (status API, plotting) may run concurrently.
type Store struct {
	nodeID string

	mu      sync.RWMutex
	entries []Entry
	byTS    map[int64]int
	totals  Totals

	recorders []Recorder
}

func NewStore(nodeID string, recorders ...Recorder) *Store {
	return &Store{
		nodeID:    nodeID,
		byTS:      make(map[int64]int),
		recorders: recorders,
	}
}

func (s *Store) NodeID() string { return s.nodeID }

// Append adds the entry for a new timestamp. Entries are never altered afterwards.
func (s *Store) Append(e Entry) error {
	if !e.Balanced() {
		return fmt.Errorf("%w: tick %d residual %.9f", ErrUnbalanced, e.Index, e.Residual())
	}

	s.mu.Lock()
	if n := len(s.entries); n > 0 && !e.Timestamp.After(s.entries[n-1].Timestamp) {
		last := s.entries[n-1].Timestamp
		s.mu.Unlock()
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, e.Timestamp.Format(time.RFC3339), last.Format(time.RFC3339))
	}
	s.byTS[e.Timestamp.UnixNano()] = len(s.entries)
	s.entries = append(s.entries, e)
	s.totals.add(e)
	s.mu.Unlock()

	var errs []error
	for _, r := range s.recorders {
		if err := r.Record(s.nodeID, e); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrRecordFailed, errors.Join(errs...))
	}
	return nil
}

func (s *Store) Latest() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

func (s *Store) Get(ts time.Time) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byTS[ts.UnixNano()]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of the whole ledger.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Tail returns a copy of the last n entries (all when n <= 0).
func (s *Store) Tail(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && n < len(s.entries) {
		start = len(s.entries) - n
	}
	out := make([]Entry, len(s.entries)-start)
	copy(out, s.entries[start:])
	return out
}

func (s *Store) Totals() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals
}

// Close closes all recorders.
func (s *Store) Close() error {
	var errs []error
	for _, r := range s.recorders {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
