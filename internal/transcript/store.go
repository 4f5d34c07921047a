package transcript

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no transcript exists for a key.
var ErrNotFound = errors.New("transcript not found")

// MergeFunc receives the current record (nil when absent) and returns the
// record to persist.
type MergeFunc func(current *Transcript) *Transcript

// Store persists transcripts. Merge must be atomic per key: no other Merge
// for the same key may observe or write the row while fn runs.
type Store interface {
	Merge(ctx context.Context, key Key, fn MergeFunc) (*Transcript, error)
	Get(ctx context.Context, key Key) (*Transcript, error)
	ListBySession(ctx context.Context, sessionID string) ([]*Transcript, error)
	HealthCheck(ctx context.Context) error
}

// MergeMessage is the merge rule for one validated message: create on first
// observation, apply on every later one.
func MergeMessage(msg StreamMessage, now func() time.Time) MergeFunc {
	return func(current *Transcript) *Transcript {
		if current == nil {
			return New(msg, now())
		}
		current.Apply(msg, now())
		return current
	}
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[Key]*Transcript
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[Key]*Transcript)}
}

func (s *MemoryStore) Merge(ctx context.Context, key Key, fn MergeFunc) (*Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Transcript
	if t, ok := s.rows[key]; ok {
		current = t.Clone()
	}
	next := fn(current)
	if next == nil {
		return nil, errors.New("merge produced no record")
	}
	s.rows[key] = next.Clone()
	return next, nil
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[key]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) ListBySession(_ context.Context, sessionID string) ([]*Transcript, error) {
	s.mu.Lock()
	var out []*Transcript
	for k, t := range s.rows {
		if k.SessionID == sessionID {
			out = append(out, t.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Len reports the number of stored transcripts.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// PurgeOlderThan removes transcripts last updated before cutoff.
func (s *MemoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.rows {
		if t.UpdatedAt.Before(cutoff) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}
