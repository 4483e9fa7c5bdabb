package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func encode(value interface{}) string {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		panic("unexpected value type")
	}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = encode(value)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = encode(value)
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	store := NewRedisStore(client, WithKeyPrefix("test:"))

	res, err := store.Reserve(ctx, "account:1|k", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v (%v)", res, err)
	}
	if ttl := client.ttls["test:"+recordID("account:1|k")]; ttl != time.Hour {
		t.Fatalf("expected native ttl, got %s", ttl)
	}

	res, err = store.Reserve(ctx, "account:1|k", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending, got %+v (%v)", res, err)
	}

	resp := Response{Status: 201, Headers: map[string][]string{"Content-Type": {"application/json"}, "Date": {"x"}}, Body: []byte(`{"id":"ord_1"}`)}
	if err := store.SaveResponse(ctx, "account:1|k", "fp", resp, fixedTime, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	res, err = store.Reserve(ctx, "account:1|k", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed, got %+v (%v)", res, err)
	}
	if res.Record.ResponseStatus != 201 || string(res.Record.ResponseBody) != `{"id":"ord_1"}` {
		t.Fatalf("unexpected record %+v", res.Record)
	}
	if _, ok := res.Record.ResponseHeaders["Date"]; ok {
		t.Fatal("expected hop headers to be dropped")
	}

	if _, err := store.Reserve(ctx, "account:1|k", "other", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	if err := store.Release(ctx, "account:1|k", "fp"); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err = store.Reserve(ctx, "account:1|k", "other", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation after release, got %+v (%v)", res, err)
	}
}

func TestRedisStorePropagatesClientErrors(t *testing.T) {
	client := newFakeRedis()
	client.values[defaultRedisPrefix+recordID("k")] = `{"fingerprint":"fp"}`
	client.getErr = errors.New("connection reset")
	store := NewRedisStore(client)

	if _, err := store.Reserve(context.Background(), "k", "fp", fixedTime, time.Hour); err == nil {
		t.Fatal("expected error from redis")
	}
	if removed, err := store.CleanupExpired(context.Background(), fixedTime, 10); removed != 0 || err != nil {
		t.Fatalf("expected no-op cleanup, got %d %v", removed, err)
	}
}
