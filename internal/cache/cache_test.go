package cache

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/model"
)

// fakeClock is a controllable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemoryCache() (*MemoryCache, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(Options{})
	c.now = clk.now
	return c, clk
}

// --- Key ---

func TestKey_canonicalizesMapOrder(t *testing.T) {
	a := map[string]any{"path": "/ping", "query": map[string]any{"b": 2, "a": 1}}
	b := map[string]any{"query": map[string]any{"a": 1, "b": 2}, "path": "/ping"}

	if Key("c", "get", a) != Key("c", "get", b) {
		t.Error("logically equal params produced different keys")
	}
}

func TestKey_distinguishesInputs(t *testing.T) {
	p := map[string]any{"path": "/ping"}
	base := Key("c", "get", p)

	if base == Key("c", "post", p) {
		t.Error("action not part of key")
	}
	if base == Key("d", "get", p) {
		t.Error("connector id not part of key")
	}
	if base == Key("c", "get", map[string]any{"path": "/pong"}) {
		t.Error("params not part of key")
	}
}

func TestKey_separatorInIDsDoesNotCollide(t *testing.T) {
	p := map[string]any{"path": "/ping"}
	if Key("a:b", "c", p) == Key("a", "b:c", p) {
		t.Error("connector id and action boundaries must be part of the key")
	}
}

func TestKey_nilAndEmptyParamsMatch(t *testing.T) {
	if Key("c", "get", nil) != Key("c", "get", map[string]any{}) {
		t.Error("nil and empty params should share a key")
	}
}

// --- MemoryCache ---

func TestMemoryCache_roundTrip(t *testing.T) {
	c, _ := newTestMemoryCache()
	ctx := context.Background()

	orig := model.OK(map[string]any{"pong": true})
	orig.Duration = 42
	if err := c.Put(ctx, "k", orig); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v), want hit", ok, err)
	}
	if !got.Cached {
		t.Error("Cached should be true on hit")
	}
	if got.Duration != 42 {
		t.Errorf("Duration = %d, want original 42", got.Duration)
	}
	if got.Data.(map[string]any)["pong"] != true || got.Error != "" {
		t.Errorf("data/error changed: %+v", got)
	}
}

func TestMemoryCache_skipsFailures(t *testing.T) {
	c, _ := newTestMemoryCache()
	ctx := context.Background()

	_ = c.Put(ctx, "k", model.Fail(model.ErrTimeout, "slow"))
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("failed response was cached")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestMemoryCache_expiresAfterTTL(t *testing.T) {
	c, clk := newTestMemoryCache()
	ctx := context.Background()
	_ = c.Put(ctx, "k", model.OK("v"))

	clk.advance(59 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Error("entry should be served before TTL")
	}

	clk.advance(time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("entry served at TTL")
	}
	if c.Len() != 1 {
		t.Error("entry younger than max age should be retained until the sweep")
	}
}

func TestMemoryCache_sweepEvictsOldEntriesWithoutReads(t *testing.T) {
	c, clk := newTestMemoryCache()
	ctx := context.Background()
	_ = c.Put(ctx, "old", model.OK("v"))

	clk.advance(4 * time.Minute)
	_ = c.Put(ctx, "young", model.OK("v"))

	clk.advance(61 * time.Second)
	n, err := c.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestMemoryCache_hitDoesNotShareMetadata(t *testing.T) {
	c, _ := newTestMemoryCache()
	ctx := context.Background()
	_ = c.Put(ctx, "k", model.OK("v").WithMetadata("status", 200))

	first, _, _ := c.Get(ctx, "k")
	first.Metadata["status"] = 500

	second, _, _ := c.Get(ctx, "k")
	if second.Metadata["status"] != 200 {
		t.Error("mutating a hit changed the stored entry")
	}
}

func TestRunSweeper_stopsOnCancel(t *testing.T) {
	c, _ := newTestMemoryCache()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, c, time.Millisecond, zap.NewNop(), nil)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}

// --- RedisCache ---

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisCache_roundTrip(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewRedisCache(client, Options{})
	ctx := context.Background()

	orig := model.OK(map[string]any{"pong": true})
	orig.Duration = 7
	if err := c.Put(ctx, "k", orig); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v), want hit", ok, err)
	}
	if !got.Cached || got.Duration != 7 {
		t.Errorf("got %+v", got)
	}
	if got.Data.(map[string]any)["pong"] != true {
		t.Errorf("Data = %v", got.Data)
	}
}

func TestRedisCache_roundTripKeepsNumbers(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewRedisCache(client, Options{})
	ctx := context.Background()

	orig := model.OK(map[string]any{
		"rows": []any{
			map[string]any{"id": int64(9007199254740993), "ratio": 0.25},
		},
		"rowCount": int64(2),
		"exitCode": int64(-1),
		"tables":   []any{"runs", "tickets"},
	}).WithMetadata("attempts", int64(3))
	if err := c.Put(ctx, "k", orig); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v), want hit", ok, err)
	}
	if !reflect.DeepEqual(got.Data, orig.Data) {
		t.Errorf("Data = %#v, want %#v", got.Data, orig.Data)
	}
	if got.Metadata["attempts"] != int64(3) {
		t.Errorf("Metadata = %#v", got.Metadata)
	}
}

func TestRedisCache_normalisesTypedValues(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewRedisCache(client, Options{})
	ctx := context.Background()

	_ = c.Put(ctx, "k", model.OK(map[string]any{"size": 3, "tables": []string{"a"}}))

	got, _, _ := c.Get(ctx, "k")
	want := map[string]any{"size": int64(3), "tables": []any{"a"}}
	if !reflect.DeepEqual(got.Data, want) {
		t.Errorf("Data = %#v, want %#v", got.Data, want)
	}
}

func TestRedisCache_servesOnlyWithinTTL(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewRedisCache(client, Options{})
	clk := &fakeClock{t: time.Now()}
	c.now = clk.now
	ctx := context.Background()

	_ = c.Put(ctx, "k", model.OK("v"))
	clk.advance(61 * time.Second)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("entry served after TTL")
	}
}

func TestRedisCache_expiresAtMaxAge(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewRedisCache(client, Options{})
	ctx := context.Background()

	_ = c.Put(ctx, "k", model.OK("v"))
	if !mr.Exists(KeyPrefix + "k") {
		t.Fatal("entry not stored")
	}

	mr.FastForward(5*time.Minute + time.Second)
	if mr.Exists(KeyPrefix + "k") {
		t.Error("entry should expire at max age")
	}
}

func TestRedisCache_skipsFailures(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewRedisCache(client, Options{})

	_ = c.Put(context.Background(), "k", model.Fail(model.ErrDispatchFailure, "boom"))
	if mr.Exists(KeyPrefix + "k") {
		t.Error("failed response was stored")
	}
}
