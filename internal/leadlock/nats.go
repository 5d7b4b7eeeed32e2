package leadlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const maxCASAttempts = 5

// KeyValue is the subset of jetstream.KeyValue used by the lock store.
type KeyValue interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// NATSRepository keeps locks in a JetStream key-value bucket. Each key is
// acquired with a revision check, so acquisition is atomic per key but not
// per batch. If a batch fails part way, keys it already took are released to
// the error state, which leaves them retryable.
type NATSRepository struct {
	kv KeyValue
}

// OpenNATSBucket connects to url and opens (or creates) the lock bucket.
func OpenNATSBucket(ctx context.Context, url, bucket string) (jetstream.KeyValue, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("mission-service-leadlock"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "lead locks",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create kv bucket: %w", err)
	}
	return kv, nc, nil
}

func NewNATSRepository(kv KeyValue) *NATSRepository {
	return &NATSRepository{kv: kv}
}

func (r *NATSRepository) TryLock(ctx context.Context, locks []Lock) (map[string]bool, error) {
	acquired := make(map[string]bool, len(locks))
	var taken []Lock
	for _, l := range locks {
		ok, err := r.tryLockKey(ctx, l)
		if err != nil {
			return nil, rollback(ctx, r, taken, err)
		}
		if ok {
			acquired[l.Key] = true
			taken = append(taken, l)
		}
	}
	return acquired, nil
}

func (r *NATSRepository) tryLockKey(ctx context.Context, l Lock) (bool, error) {
	l.Status = StatusQueued
	val, err := json.Marshal(l)
	if err != nil {
		return false, fmt.Errorf("marshal lead lock: %w", err)
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		entry, err := r.kv.Get(ctx, l.Key)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			_, err = r.kv.Create(ctx, l.Key, val)
			if err == nil {
				return true, nil
			}
			if errors.Is(err, jetstream.ErrKeyExists) {
				continue
			}
			return false, fmt.Errorf("create lead lock: %w", err)
		case err != nil:
			return false, fmt.Errorf("read lead lock: %w", err)
		}

		var cur Lock
		if err := json.Unmarshal(entry.Value(), &cur); err != nil {
			return false, fmt.Errorf("decode lead lock %s: %w", l.Key, err)
		}
		if cur.Status.Suppresses() {
			return false, nil
		}
		_, err = r.kv.Update(ctx, l.Key, val, entry.Revision())
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return false, fmt.Errorf("update lead lock: %w", err)
		}
		// Lost the race on this revision; re-read.
	}
	return false, fmt.Errorf("lead lock %s: too much contention", l.Key)
}

func (r *NATSRepository) SetStatus(ctx context.Context, locks []Lock, status Status) error {
	for _, l := range locks {
		l.Status = status
		if l.UpdatedAt.IsZero() {
			l.UpdatedAt = time.Now().UTC()
		}
		val, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("marshal lead lock: %w", err)
		}
		if _, err := r.kv.Put(ctx, l.Key, val); err != nil {
			return fmt.Errorf("put lead lock: %w", err)
		}
	}
	return nil
}

func (r *NATSRepository) Clear(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := r.kv.Delete(ctx, k); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("delete lead lock: %w", err)
		}
	}
	return nil
}

func (r *NATSRepository) Get(ctx context.Context, key string) (*Lock, error) {
	entry, err := r.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead lock: %w", err)
	}
	var l Lock
	if err := json.Unmarshal(entry.Value(), &l); err != nil {
		return nil, fmt.Errorf("decode lead lock: %w", err)
	}
	return &l, nil
}
