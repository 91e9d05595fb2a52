package ttlcache

import (
	"sync"
	"testing"
	"time"
)

func TestCache_Get_ExpiredReturnsMissAndFiresOnExpireOnce(t *testing.T) {
	var mu sync.Mutex
	expireCount := 0

	c := New[string](Options{
		DefaultTTL:      time.Minute,
		CleanupInterval: 500 * time.Millisecond, // sweeper won't race the test
		OnExpire: func(key string, value any) {
			mu.Lock()
			expireCount++
			mu.Unlock()
		},
	})
	defer c.Close()

	c.Set("k1", "v1", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k1"); ok {
		t.Fatalf("Get on expired key returned a hit")
	}
	if _, ok := c.Get("k1"); ok {
		t.Fatalf("second Get on expired key returned a hit")
	}

	mu.Lock()
	defer mu.Unlock()
	if expireCount != 1 {
		t.Fatalf("expected OnExpire fired exactly once, got %d", expireCount)
	}
}

func TestCache_Set_EvictsOldestWhenAtMaxSize(t *testing.T) {
	var evicted []string
	c := New[int](Options{
		MaxSize:    2,
		DefaultTTL: time.Minute,
		OnEvict: func(key string, value any) {
			evicted = append(evicted, key)
		},
	})
	defer c.Close()

	c.Set("a", 1, 0)
	time.Sleep(time.Millisecond)
	c.Set("b", 2, 0)
	time.Sleep(time.Millisecond)
	c.Set("c", 3, 0)

	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("expected eviction of oldest key 'a', got %v", evicted)
	}
	if c.Size() != 2 {
		t.Fatalf("expected size 2 after eviction, got %d", c.Size())
	}
}

func TestCache_Refresh_ExtendsExpiry(t *testing.T) {
	c := New[string](Options{DefaultTTL: 30 * time.Millisecond})
	defer c.Close()

	c.Set("k", "v", 15*time.Millisecond)
	if !c.Refresh("k", 200*time.Millisecond) {
		t.Fatalf("Refresh on live key should succeed")
	}
	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected key to survive past its original TTL after refresh")
	}
}

func TestCache_GetExpiringEntries_FiltersByWindow(t *testing.T) {
	c := New[string](Options{DefaultTTL: time.Minute})
	defer c.Close()

	c.Set("soon", "v", 5*time.Millisecond)
	c.Set("later", "v", time.Hour)

	expiring := c.GetExpiringEntries(50 * time.Millisecond)
	if len(expiring) != 1 || expiring[0] != "soon" {
		t.Fatalf("expected only 'soon' in expiring window, got %v", expiring)
	}
}

func TestCache_Stats_HitRate(t *testing.T) {
	c := New[string](Options{DefaultTTL: time.Minute})
	defer c.Close()

	c.Set("k", "v", 0)
	c.Get("k")
	c.Get("missing")

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.HitRate() != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %f", stats.HitRate())
	}
}
