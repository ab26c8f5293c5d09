package draftcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// RedisCache shares draft sessions across instances. The TTL is enforced by
// redis itself; the form version is part of the key so a layout change
// invalidates naturally.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a redis-backed cache
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func draftKey(patientID types.ID, formVersion string) string {
	return "draft:" + patientID.String() + ":" + formVersion
}

// Put stores the snapshot under the patient and form version
func (c *RedisCache) Put(ctx context.Context, snap Snapshot) error {
	if snap.PatientID.IsZero() {
		return errors.BadRequest("patient id is required")
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "failed to marshal draft snapshot")
	}

	if err := c.client.Set(ctx, draftKey(snap.PatientID, snap.FormVersion), data, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to cache draft")
	}
	return nil
}

// Get returns the fresh snapshot for the patient and form version
func (c *RedisCache) Get(ctx context.Context, patientID types.ID, formVersion string) (*Snapshot, error) {
	data, err := c.client.Get(ctx, draftKey(patientID, formVersion)).Bytes()
	if err == redis.Nil {
		return nil, errors.NotFound("draft", patientID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cached draft")
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal draft snapshot")
	}
	return &snap, nil
}

// Invalidate drops every cached session for the patient
func (c *RedisCache) Invalidate(ctx context.Context, patientID types.ID) error {
	iter := c.client.Scan(ctx, 0, "draft:"+patientID.String()+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return errors.Wrap(err, "failed to invalidate draft")
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "failed to scan drafts")
	}
	return nil
}

// Close releases the redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
