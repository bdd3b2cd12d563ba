package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := NewRedis(context.Background(), mr.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return c, mr
}

func TestURIKey(t *testing.T) {
	a := URIKey("https://twitter.com/alice/status/1")
	b := URIKey("https://twitter.com/alice/status/1")
	c := URIKey("https://twitter.com/alice/status/2")

	if a != b {
		t.Errorf("Expected same key for same URI, got %s != %s", a, b)
	}
	if a == c {
		t.Errorf("Expected different keys for different URIs, got %s", a)
	}
	if !strings.HasPrefix(a, "uri:") {
		t.Errorf("Expected key to start with uri:, got %s", a)
	}
}

func TestRedisSetAndGet(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)
	uri := "https://twitter.com/alice/status/1"

	if _, ok, err := c.GetNoticeID(ctx, uri); err != nil || ok {
		t.Fatalf("Expected miss on empty cache, got ok=%v err=%v", ok, err)
	}

	if err := c.SetNoticeID(ctx, uri, 42); err != nil {
		t.Fatalf("Failed to set notice id: %v", err)
	}

	id, ok, err := c.GetNoticeID(ctx, uri)
	if err != nil || !ok || id != 42 {
		t.Errorf("Expected hit with id 42, got id=%d ok=%v err=%v", id, ok, err)
	}

	if ttl := mr.TTL(URIKey(uri)); ttl != time.Hour {
		t.Errorf("Expected TTL 1h, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, _ := c.GetNoticeID(ctx, uri); ok {
		t.Error("Expected entry to expire")
	}
}

func TestRedisInvalidValueIsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)
	uri := "https://twitter.com/alice/status/1"

	mr.Set(URIKey(uri), "not-a-number")

	if _, ok, err := c.GetNoticeID(ctx, uri); err != nil || ok {
		t.Errorf("Expected miss for invalid value, got ok=%v err=%v", ok, err)
	}
	if mr.Exists(URIKey(uri)) {
		t.Error("Expected invalid entry to be deleted")
	}
}

func TestRedisDeleteNoticeID(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)
	uri := "https://twitter.com/alice/status/9"

	if err := c.SetNoticeID(ctx, uri, 9); err != nil {
		t.Fatalf("Failed to set notice id: %v", err)
	}
	if err := c.DeleteNoticeID(ctx, uri); err != nil {
		t.Fatalf("Failed to delete notice id: %v", err)
	}
	if mr.Exists(URIKey(uri)) {
		t.Error("Expected key to be removed")
	}
	if _, ok, _ := c.GetNoticeID(ctx, uri); ok {
		t.Error("Expected miss after delete")
	}
	if err := c.DeleteNoticeID(ctx, uri); err != nil {
		t.Errorf("Expected deleting a missing key to succeed, got %v", err)
	}
}

func TestRedisHealth(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	if health := c.Health(ctx); health["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", health)
	}

	mr.Close()
	if health := c.Health(ctx); health["status"] != "unhealthy" {
		t.Errorf("Expected unhealthy status after shutdown, got %v", health)
	}
}

func TestNoop(t *testing.T) {
	var c URICache = Noop{}
	ctx := context.Background()

	if err := c.SetNoticeID(ctx, "u", 1); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if _, ok, _ := c.GetNoticeID(ctx, "u"); ok {
		t.Error("Expected noop cache to always miss")
	}
}
