package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newMini(t *testing.T) (*TileCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	c, err := New(ctx, mr.Addr(), "", time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestSetGet_RoundTripAndTTL(t *testing.T) {
	c, mr := newMini(t)
	ctx := context.Background()
	key := c.Key(7, "all", 3, 4, 5)
	if key != "tile:7:all:3:4:5" {
		t.Fatalf("key = %q", key)
	}

	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, key, []byte{0x1a, 0x02}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || string(got) != "\x1a\x02" {
		t.Fatalf("Get = %x,%v,%v", got, ok, err)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatal("key survived its ttl")
	}
}

func TestSet_EmptyTileIsAHit(t *testing.T) {
	c, _ := newMini(t)
	ctx := context.Background()
	key := c.Key(1, "blue", 0, 0, 0)
	if err := c.Set(ctx, key, nil); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || len(got) != 0 {
		t.Fatalf("Get = %x,%v,%v", got, ok, err)
	}
}

func TestContextCanceled(t *testing.T) {
	c, _ := newMini(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Set(ctx, "k", []byte("v")); err == nil {
		t.Fatal("expected error on Set with canceled context")
	}
	if _, _, err := c.Get(ctx, "k"); err == nil {
		t.Fatal("expected error on Get with canceled context")
	}
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := New(ctx, "127.0.0.1:1", "", time.Minute, WithDialTimeout(100*time.Millisecond)); err == nil {
		t.Fatal("expected ping error")
	}
	if _, err := New(ctx, "", "", time.Minute); err == nil {
		t.Fatal("expected address error")
	}
}

func TestGeneration(t *testing.T) {
	a := Generation("roads", "places")
	if a != Generation("roads", "places") {
		t.Fatal("generation not stable")
	}
	if a == Generation("roadsplaces") || a == Generation("places", "roads") {
		t.Fatal("generation ignores part boundaries or order")
	}
}
