package store

import (
	"context"
	"sync"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/model"
)

// MemoryStore keeps encoded records in a map. Callers always receive decoded
// copies, so no record is shared between goroutines.
type MemoryStore[T model.Record] struct {
	kind    string
	mu      sync.Mutex
	records map[string][]byte
}

func NewMemoryStore[T model.Record](kind string) *MemoryStore[T] {
	return &MemoryStore[T]{
		kind:    kind,
		records: make(map[string][]byte),
	}
}

func (s *MemoryStore[T]) Create(ctx context.Context, rec T) error {
	stamp(rec, 1)
	data, err := encode(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.RecordID()]; ok {
		return apperr.Conflict(s.kind + " " + rec.RecordID() + " already exists")
	}
	s.records[rec.RecordID()] = data
	return nil
}

func (s *MemoryStore[T]) Get(ctx context.Context, id string) (T, error) {
	s.mu.Lock()
	data, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		var zero T
		return zero, apperr.NotFound(s.kind, id)
	}
	return decode[T](data)
}

// Update holds the lock for the whole read-modify-write.
func (s *MemoryStore[T]) Update(ctx context.Context, id string, fn UpdateFunc[T]) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.records[id]
	if !ok {
		return zero, apperr.NotFound(s.kind, id)
	}
	rec, err := decode[T](data)
	if err != nil {
		return zero, err
	}
	if err := fn(rec); err != nil {
		return zero, err
	}
	stamp(rec, rec.RecordVersion()+1)
	updated, err := encode(rec)
	if err != nil {
		return zero, err
	}
	s.records[id] = updated
	return rec, nil
}

func (s *MemoryStore[T]) List(ctx context.Context, owner string) ([]T, error) {
	s.mu.Lock()
	snapshot := make([][]byte, 0, len(s.records))
	for _, data := range s.records {
		snapshot = append(snapshot, data)
	}
	s.mu.Unlock()

	var out []T
	for _, data := range snapshot {
		rec, err := decode[T](data)
		if err != nil {
			return nil, err
		}
		if owner == "" || rec.RecordOwner() == owner {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}
