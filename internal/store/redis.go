package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/model"
)

// RedisStore keeps each record as JSON under job:<kind>:<id> and updates it
// with WATCH/MULTI so concurrent writers retry instead of overwriting.
type RedisStore[T model.Record] struct {
	client *redis.Client
	kind   string
	ttl    time.Duration
}

func NewRedisStore[T model.Record](client *redis.Client, kind string, ttl time.Duration) *RedisStore[T] {
	return &RedisStore[T]{client: client, kind: kind, ttl: ttl}
}

func (s *RedisStore[T]) key(id string) string {
	return fmt.Sprintf("job:%s:%s", s.kind, id)
}

func (s *RedisStore[T]) ownerKey(owner string) string {
	return fmt.Sprintf("jobs:%s:owner:%s", s.kind, owner)
}

func (s *RedisStore[T]) Create(ctx context.Context, rec T) error {
	stamp(rec, 1)
	data, err := encode(rec)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.key(rec.RecordID()), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if !ok {
		return apperr.Conflict(s.kind + " " + rec.RecordID() + " already exists")
	}

	idx := s.ownerKey(rec.RecordOwner())
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, idx, redis.Z{Score: float64(rec.RecordCreatedAt().UnixNano()), Member: rec.RecordID()})
	pipe.Expire(ctx, idx, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index job: %w", err)
	}
	return nil
}

func (s *RedisStore[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, apperr.NotFound(s.kind, id)
		}
		return zero, err
	}
	return decode[T](data)
}

func (s *RedisStore[T]) Update(ctx context.Context, id string, fn UpdateFunc[T]) (T, error) {
	var zero T
	key := s.key(id)

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var result T
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return apperr.NotFound(s.kind, id)
				}
				return err
			}
			rec, err := decode[T](data)
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
			stamp(rec, rec.RecordVersion()+1)
			updated, err := encode(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, s.ttl)
				return nil
			})
			result = rec
			return err
		}, key)

		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return zero, err
	}
	return zero, conflictErr(s.kind, id)
}

func (s *RedisStore[T]) List(ctx context.Context, owner string) ([]T, error) {
	ids, err := s.client.ZRevRange(ctx, s.ownerKey(owner), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired since it was indexed
			continue
		}
		rec, err := decode[T]([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
