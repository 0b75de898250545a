package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wafkaw/book-digger/pkg/common"
)

func setupRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(NewRedisParams{Client: client, Prefix: "test:", TTL: ttl}), mr
}

func TestRedisStore(t *testing.T) {
	r, mr := setupRedis(t, 0)
	exerciseStore(t, r)

	key := "test:" + string(common.FingerprintOf("What does not kill me makes me stronger."))
	if !mr.Exists(key) {
		t.Fatalf("expected key %s in redis", key)
	}
	if ttl := mr.TTL(key); ttl != 0 {
		t.Fatalf("expected no expiry, got %s", ttl)
	}
}

func TestRedisStore_TTL(t *testing.T) {
	r, mr := setupRedis(t, time.Hour)
	ctx := context.Background()
	fp := common.FingerprintOf("ttl")
	if err := r.Store(ctx, fp, sampleResult()); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if ttl := mr.TTL("test:" + string(fp)); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, err := r.Lookup(ctx, fp); err != nil || ok {
		t.Fatalf("expected expired entry to miss, ok=%v err=%v", ok, err)
	}
}

func TestRedisStore_CorruptValue(t *testing.T) {
	r, mr := setupRedis(t, 0)
	fp := common.FingerprintOf("corrupt")
	if err := mr.Set("test:"+string(fp), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := r.Lookup(context.Background(), fp); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, ok, err := Resilient(r).Lookup(context.Background(), fp); err != nil || ok {
		t.Fatalf("expected resilient miss, ok=%v err=%v", ok, err)
	}
}

func TestRedisStore_ServerDown(t *testing.T) {
	r, mr := setupRedis(t, 0)
	mr.Close()
	if _, _, err := r.Lookup(context.Background(), "fp"); err == nil {
		t.Fatalf("expected error with server down")
	}
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0", "", 0)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	exerciseStore(t, r)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
