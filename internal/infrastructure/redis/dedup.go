package redis

import (
	"context"
	"fmt"
	"time"

	"distributor/internal/domain/event"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "distributor:event:"

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Deduplicator remembers delivered event ids for ttl using SETNX.
type Deduplicator struct {
	client setNXer
	ttl    time.Duration
}

func NewDeduplicator(client *redis.Client, ttl time.Duration) *Deduplicator {
	return &Deduplicator{client: client, ttl: ttl}
}

// FirstSeen claims the event id. Events without an id are always new.
func (d *Deduplicator) FirstSeen(ctx context.Context, env event.Envelope) (bool, error) {
	if env.EventID == uuid.Nil {
		return true, nil
	}
	acquired, err := d.client.SetNX(ctx, keyPrefix+env.EventID.String(), env.EventType, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return acquired, nil
}
