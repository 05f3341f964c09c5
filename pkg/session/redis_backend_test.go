package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	backend := NewRedisBackendFromClient(client, "test:")

	t.Cleanup(func() {
		_ = backend.Close()
	})

	return mr, backend
}

func TestRedisBackend_Keys(t *testing.T) {
	mr, backend := setupMiniredis(t)
	ctx := context.Background()

	s := testSession("20260314_092653", time.Second)
	if err := backend.Create(ctx, s); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if !mr.Exists("test:record:20260314_092653") {
		t.Error("record key not written")
	}
	score, err := mr.ZScore("test:updated", "20260314_092653")
	if err != nil {
		t.Fatalf("ZScore failed: %v", err)
	}
	if int64(score) != s.UpdatedAt.UnixMicro() {
		t.Errorf("score = %d, want %d", int64(score), s.UpdatedAt.UnixMicro())
	}
	if got := mr.HGet("test:summaries", "20260314_092653"); got == "" {
		t.Error("summary not written")
	}
}

func TestRedisBackend_CreateExisting(t *testing.T) {
	mr, backend := setupMiniredis(t)
	ctx := context.Background()

	first := testSession("20260314_092653", time.Second)
	if err := backend.Create(ctx, first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	record, _ := mr.Get("test:record:20260314_092653")
	summary := mr.HGet("test:summaries", "20260314_092653")

	second := testSession("20260314_092653", time.Hour)
	second.Topic = "other topic"
	if err := backend.Create(ctx, second); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("second Create error = %v, want ErrSessionExists", err)
	}

	if got, _ := mr.Get("test:record:20260314_092653"); got != record {
		t.Error("record overwritten by a rejected Create")
	}
	if got := mr.HGet("test:summaries", "20260314_092653"); got != summary {
		t.Errorf("summary = %s, want %s", got, summary)
	}
	score, err := mr.ZScore("test:updated", "20260314_092653")
	if err != nil {
		t.Fatalf("ZScore failed: %v", err)
	}
	if int64(score) != first.UpdatedAt.UnixMicro() {
		t.Errorf("score = %d, want %d", int64(score), first.UpdatedAt.UnixMicro())
	}
}

func TestRedisBackend_DefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backend := NewRedisBackendFromClient(client, "")
	defer func() { _ = backend.Close() }()

	if err := backend.Create(context.Background(), testSession("20260314_092653", 0)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !mr.Exists(defaultRedisPrefix + "record:20260314_092653") {
		t.Errorf("expected key under %q", defaultRedisPrefix)
	}
}

func TestRedisBackend_CorruptRecord(t *testing.T) {
	mr, backend := setupMiniredis(t)

	if err := mr.Set("test:record:20260314_092653", "{not json"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	_, err := backend.Load(context.Background(), "20260314_092653")
	var cerr *CorruptError
	if !errors.As(err, &cerr) {
		t.Fatalf("Load error = %v, want *CorruptError", err)
	}
	if cerr.Location != "redis key test:record:20260314_092653" {
		t.Errorf("Location = %q", cerr.Location)
	}
}

func TestRedisBackend_ConnectionRefused(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisBackend(RedisConfig{Addr: addr}); err == nil {
		t.Error("NewRedisBackend should fail when the server is down")
	}
	if _, err := NewRedisBackend(RedisConfig{}); err == nil {
		t.Error("NewRedisBackend should require an address")
	}
}

func TestRedisBackend_NewRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	backend, err := NewRedisBackend(RedisConfig{Addr: mr.Addr(), Prefix: "cfg:"})
	if err != nil {
		t.Fatalf("NewRedisBackend failed: %v", err)
	}
	defer func() { _ = backend.Close() }()

	if err := backend.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
