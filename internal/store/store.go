// Package store persists job records. Every backend offers the same atomic
// per-job update so executors and the orchestrator never race on a record.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/model"
)

// maxUpdateAttempts bounds optimistic retries when a concurrent writer wins.
const maxUpdateAttempts = 10

// UpdateFunc mutates a decoded copy of the record. Returning an error aborts
// the update and leaves the stored record untouched.
type UpdateFunc[T model.Record] func(T) error

// Store is a keyed collection of job records of one kind.
type Store[T model.Record] interface {
	// Create inserts a new record. It fails with a conflict if the id exists.
	Create(ctx context.Context, rec T) error
	// Get returns a private copy of the record.
	Get(ctx context.Context, id string) (T, error)
	// Update applies fn atomically and returns the stored result.
	Update(ctx context.Context, id string, fn UpdateFunc[T]) (T, error)
	// List returns the owner's records, newest first.
	List(ctx context.Context, owner string) ([]T, error)
}

func encode[T model.Record](rec T) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s record: %w", rec.RecordID(), err)
	}
	return data, nil
}

func decode[T model.Record](data []byte) (T, error) {
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

// stamp sets the version of a record about to be written and its write time.
func stamp[T model.Record](rec T, version int64) {
	rec.SetRecordVersion(version)
	rec.Touch(time.Now().UTC())
}

func sortNewestFirst[T model.Record](recs []T) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].RecordCreatedAt().After(recs[j].RecordCreatedAt())
	})
}

func conflictErr(kind, id string) error {
	return apperr.Conflict(fmt.Sprintf("%s %s was modified concurrently", kind, id))
}
