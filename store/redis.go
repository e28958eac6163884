package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix   = "geoquiz:"
	maxPatchRetries = 8
)

// RedisStore keeps values as JSON strings and announces every write on a
// pub/sub channel named after the path.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	cleanups
}

// NewRedisStore uses prefix for keys and channels. A zero ttl keeps keys
// until they are deleted.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(path string) string {
	return r.prefix + path
}

func (r *RedisStore) channel(path string) string {
	return r.prefix + "changes:" + path
}

func (r *RedisStore) pathFromChannel(ch string) string {
	return strings.TrimPrefix(ch, r.prefix+"changes:")
}

func unavailable(op, path string, err error) error {
	return fmt.Errorf("redis %s %s: %w: %w", op, path, ErrUnavailable, err)
}

func (r *RedisStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := r.client.Get(ctx, r.key(path)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get", path, err)
	}
	return data, nil
}

func (r *RedisStore) Set(ctx context.Context, path string, value json.RawMessage) error {
	if err := r.client.Set(ctx, r.key(path), []byte(value), r.ttl).Err(); err != nil {
		return unavailable("set", path, err)
	}
	return r.publish(ctx, Change{Path: path, Value: value})
}

// Patch merges inside a WATCH transaction and retries when another writer
// touched the key in between.
func (r *RedisStore) Patch(ctx context.Context, path string, fields map[string]any) error {
	key := r.key(path)
	var merged json.RawMessage
	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		merged, err = mergeFields(existing, fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, []byte(merged), redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxPatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return r.publish(ctx, Change{Path: path, Value: merged})
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		if errors.Is(err, ErrNotObject) {
			return err
		}
		return unavailable("patch", path, err)
	}
	return unavailable("patch", path, redis.TxFailedErr)
}

func (r *RedisStore) Delete(ctx context.Context, path string) error {
	n, err := r.client.Del(ctx, r.key(path)).Result()
	if err != nil {
		return unavailable("del", path, err)
	}
	if n == 0 {
		return nil
	}
	return r.publish(ctx, Change{Path: path, Deleted: true})
}

// DeleteIf checks the field and deletes inside one WATCH transaction.
func (r *RedisStore) DeleteIf(ctx context.Context, path, field string, value any) (bool, error) {
	key := r.key(path)
	var deleted bool
	txf := func(tx *redis.Tx) error {
		deleted = false
		existing, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		match, err := fieldEquals(existing, field, value)
		if err != nil || !match {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}

	for i := 0; i < maxPatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			if !deleted {
				return false, nil
			}
			return true, r.publish(ctx, Change{Path: path, Deleted: true})
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotObject) {
			return false, err
		}
		return false, unavailable("delete", path, err)
	}
	return false, unavailable("delete", path, redis.TxFailedErr)
}

func (r *RedisStore) publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode change for %s: %w", c.Path, err)
	}
	if err := r.client.Publish(ctx, r.channel(c.Path), payload).Err(); err != nil {
		return unavailable("publish", c.Path, err)
	}
	return nil
}

// Subscribe listens on the channel of path and on every channel beneath it.
func (r *RedisStore) Subscribe(ctx context.Context, path string, fn func(Change)) (func(), error) {
	ch := r.channel(path)
	pubsub := r.client.PSubscribe(ctx, ch, ch+"/*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, unavailable("psubscribe", path, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				continue
			}
			if c.Path == "" {
				c.Path = r.pathFromChannel(msg.Channel)
			}
			fn(c)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { pubsub.Close() })
	}, nil
}

func (r *RedisStore) OnDisconnect(ctx context.Context, ownerID, path string, m Mutation) error {
	r.register(ownerID, path, m)
	return nil
}

func (r *RedisStore) CancelOnDisconnect(ctx context.Context, ownerID, path string) error {
	r.cancel(ownerID, path)
	return nil
}

func (r *RedisStore) Disconnect(ctx context.Context, ownerID string) error {
	return r.run(ctx, r, ownerID)
}

// Ping reports whether the server answers.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}
