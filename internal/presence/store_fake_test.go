package presence

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/bidli/backend/internal/models"
)

var errStoreDown = errors.New("store down")

type countRecord struct {
	viewers int
	total   int
	seq     int64
	ended   bool
}

// fakeStore applies the sequence, total and ended guards the way the Postgres store does.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*countRecord
	failSet error
	failGet error
	sets    int
}

func newFakeStore(ids ...uuid.UUID) *fakeStore {
	s := &fakeStore{rows: make(map[uuid.UUID]*countRecord)}
	for _, id := range ids {
		s.rows[id] = &countRecord{}
	}
	return s
}

func (s *fakeStore) SetViewerCount(_ context.Context, id uuid.UUID, viewers, total int, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.failSet != nil {
		return s.failSet
	}
	row, ok := s.rows[id]
	if !ok {
		return models.ErrNotFound
	}
	if row.ended && viewers > 0 {
		return models.ErrBroadcastEnded
	}
	if seq <= row.seq {
		return nil
	}
	row.viewers, row.total, row.seq = viewers, max(row.total, total), seq
	return nil
}

func (s *fakeStore) GetViewerCount(_ context.Context, id uuid.UUID) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return 0, 0, s.failGet
	}
	row, ok := s.rows[id]
	if !ok {
		return 0, 0, models.ErrNotFound
	}
	return row.viewers, row.total, nil
}

func (s *fakeStore) viewers(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		return row.viewers
	}
	return -1
}

func (s *fakeStore) total(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		return row.total
	}
	return -1
}

// end marks the record ended, as the status endpoint does before presence is closed.
func (s *fakeStore) end(id uuid.UUID) {
	s.mu.Lock()
	s.rows[id].ended = true
	s.mu.Unlock()
}

func (s *fakeStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func (s *fakeStore) fail(set, get error) {
	s.mu.Lock()
	s.failSet, s.failGet = set, get
	s.mu.Unlock()
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (f *fakeRefresher) RefreshLiveStream(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return f.err
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
