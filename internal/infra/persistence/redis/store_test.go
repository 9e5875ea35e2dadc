package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"casegrid/pkg/domain"
)

type fakeClient struct {
	data    map[string]string
	ttls    map[string]time.Duration
	failSet bool
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, ttl time.Duration) *goredis.StatusCmd {
	if f.failSet {
		return goredis.NewStatusResult("", errors.New("OOM"))
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestStorePrefixesKeysAndAppliesTTL(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	s := newStore(fc, Options{Prefix: "cg:", TTL: time.Hour})

	if err := s.Set(ctx, "snap", []byte("payload")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := fc.data["cg:snap"]; !ok {
		t.Fatalf("expected prefixed key, got %v", fc.data)
	}
	if fc.ttls["cg:snap"] != time.Hour {
		t.Fatalf("expected ttl applied, got %v", fc.ttls["cg:snap"])
	}
	got, err := s.Get(ctx, "snap")
	if err != nil || string(got) != "payload" {
		t.Fatalf("Get: %q %v", got, err)
	}
	if err := s.Remove(ctx, "snap"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(ctx, "snap"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := s.Close(); err != nil || !fc.closed {
		t.Fatalf("expected client closed")
	}
}

func TestStoreWrapsSetFailure(t *testing.T) {
	fc := newFakeClient()
	fc.failSet = true
	s := newStore(fc, Options{})
	if err := s.Set(context.Background(), "k", []byte("v")); err == nil {
		t.Fatalf("expected set failure")
	}
}

func TestNewStoreRequiresAddress(t *testing.T) {
	if _, err := NewStore(context.Background(), Options{}); err == nil {
		t.Fatalf("expected missing address error")
	}
}
