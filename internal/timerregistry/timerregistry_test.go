package timerregistry

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistry_SetInterval_FiresRepeatedlyUntilCleared(t *testing.T) {
	r := New()
	var count atomic.Int32

	id := r.SetInterval(func() { count.Add(1) }, 5*time.Millisecond, "")
	time.Sleep(30 * time.Millisecond)
	r.Clear(id)
	seen := count.Load()
	if seen < 2 {
		t.Fatalf("expected interval to fire multiple times, got %d", seen)
	}

	time.Sleep(20 * time.Millisecond)
	if count.Load() != seen {
		t.Fatalf("interval kept firing after Clear: before=%d after=%d", seen, count.Load())
	}
}

func TestRegistry_SetTimeout_FiresOnceAndRemovesItself(t *testing.T) {
	r := New()
	var count atomic.Int32

	r.SetTimeout(func() { count.Add(1) }, 5*time.Millisecond, "once")
	time.Sleep(30 * time.Millisecond)

	if count.Load() != 1 {
		t.Fatalf("expected timeout to fire exactly once, got %d", count.Load())
	}
	stats := r.GetStats()
	if stats.ActiveTimers != 0 {
		t.Fatalf("expected registry to self-clean after timeout fires, got %+v", stats)
	}
}

func TestRegistry_ClearAll_StopsEveryUnclearedTimer(t *testing.T) {
	r := New()
	var count atomic.Int32

	r.SetInterval(func() { count.Add(1) }, 5*time.Millisecond, "a")
	r.SetInterval(func() { count.Add(1) }, 5*time.Millisecond, "b")
	id := r.SetInterval(func() { count.Add(1) }, 5*time.Millisecond, "c")
	r.Clear(id)

	r.ClearAll()
	stats := r.GetStats()
	if stats.ActiveTimers != 0 {
		t.Fatalf("expected 0 active timers after ClearAll, got %+v", stats)
	}

	seen := count.Load()
	time.Sleep(20 * time.Millisecond)
	if count.Load() != seen {
		t.Fatalf("timer fired after ClearAll: before=%d after=%d", seen, count.Load())
	}
}

func TestRegistry_GetStats_MatchesLiveHandleCountAfterMixedOps(t *testing.T) {
	r := New()

	r.SetInterval(func() {}, time.Minute, "i1")
	r.SetInterval(func() {}, time.Minute, "i2")
	r.SetTimeout(func() {}, time.Minute, "t1")

	stats := r.GetStats()
	if stats.ActiveTimers != 3 || stats.Intervals != 2 || stats.Timeouts != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	r.Clear("i1")
	stats = r.GetStats()
	if stats.ActiveTimers != 2 || stats.Intervals != 1 {
		t.Fatalf("unexpected stats after clear: %+v", stats)
	}

	if len(r.ListActive()) != 2 {
		t.Fatalf("expected 2 active ids, got %v", r.ListActive())
	}
}

func TestRegistry_SetInterval_ReusingIDReplacesPriorTimer(t *testing.T) {
	r := New()
	var firstCount, secondCount atomic.Int32

	r.SetInterval(func() { firstCount.Add(1) }, 5*time.Millisecond, "dup")
	time.Sleep(12 * time.Millisecond)
	r.SetInterval(func() { secondCount.Add(1) }, 5*time.Millisecond, "dup")
	time.Sleep(20 * time.Millisecond)
	r.ClearAll()

	if secondCount.Load() == 0 {
		t.Fatalf("expected replacement timer to fire")
	}
	if r.GetStats().ActiveTimers != 0 {
		t.Fatalf("expected no leaked handle from the replaced timer")
	}
}

func TestRegistry_Clear_UnknownIDReturnsFalse(t *testing.T) {
	r := New()
	if r.Clear("nonexistent") {
		t.Fatalf("expected Clear on unknown id to return false")
	}
}
