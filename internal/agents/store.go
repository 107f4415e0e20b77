package agents

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrStoreNotFound = errors.New("result not found in store")

// Store archives settled node records so results survive the node leaving the
// live tree (and, with Postgres, the process).
type Store interface {
	SaveResult(ctx context.Context, rec Record) error
	GetResult(ctx context.Context, id string) (Record, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// NewStore picks the backend from the database URL: Postgres when set, an
// in-memory archive otherwise. The returned mode is for startup logging.
func NewStore(ctx context.Context, databaseURL string) (Store, string, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), "in-memory", nil
	}
	st, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, "", err
	}
	return st, "postgres", nil
}

// MemoryStore keeps settled records in process memory, capped to the most
// recent entries.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	order   []string
	max     int
}

const defaultMemoryStoreLimit = 4096

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		max:     defaultMemoryStoreLimit,
	}
}

func (s *MemoryStore) SaveResult(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
	for s.max > 0 && len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.records, oldest)
	}
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrStoreNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SettledAt.After(out[j].SettledAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
