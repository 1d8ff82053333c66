package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"distributor/internal/domain/event"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	keys map[string]time.Duration
	err  error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func TestDeduplicatorFirstSeen(t *testing.T) {
	store := &fakeRedis{keys: map[string]time.Duration{}}
	d := &Deduplicator{client: store, ttl: time.Hour}
	env := event.Envelope{EventID: uuid.MustParse("5f0c2b8e-3c1a-4c9a-9a55-0c7f0a1f2d11"), EventType: event.TaskCreated}

	first, err := d.FirstSeen(context.Background(), env)
	if err != nil || !first {
		t.Fatalf("first call = %v, %v", first, err)
	}
	again, err := d.FirstSeen(context.Background(), env)
	if err != nil || again {
		t.Fatalf("second call = %v, %v", again, err)
	}
	if ttl := store.keys["distributor:event:5f0c2b8e-3c1a-4c9a-9a55-0c7f0a1f2d11"]; ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}
}

func TestDeduplicatorWithoutEventID(t *testing.T) {
	d := &Deduplicator{client: &fakeRedis{err: errors.New("unused")}, ttl: time.Hour}
	for i := 0; i < 2; i++ {
		if first, err := d.FirstSeen(context.Background(), event.Envelope{EventType: event.TaskCreated}); err != nil || !first {
			t.Fatalf("call %d = %v, %v", i, first, err)
		}
	}
}

func TestDeduplicatorError(t *testing.T) {
	cause := errors.New("connection refused")
	d := &Deduplicator{client: &fakeRedis{err: cause}, ttl: time.Hour}
	env := event.Envelope{EventID: uuid.New()}
	if _, err := d.FirstSeen(context.Background(), env); !errors.Is(err, cause) {
		t.Fatalf("err = %v", err)
	}
}
