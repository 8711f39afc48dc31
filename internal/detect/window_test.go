package detect

import (
	"testing"
	"time"
)

func TestDeque_EvictOlderThan(t *testing.T) {
	var d Deque[int]
	base := time.Unix(1000, 0)

	d.Push(base, 1)
	d.Push(base.Add(30*time.Second), 2)
	d.Push(base.Add(90*time.Second), 3)

	// At t=100s, a 60s window should evict entries older than t=40s.
	d.EvictOlderThan(base.Add(100*time.Second), 60*time.Second)

	if got := d.Len(); got != 1 {
		t.Fatalf("expected 1 live entry after eviction, got %d", got)
	}
	vals := d.Within(base.Add(100*time.Second), 60*time.Second)
	if len(vals) != 1 || vals[0] != 3 {
		t.Errorf("expected only the most recent entry to survive, got %v", vals)
	}
}

func TestDeque_CountWithinRespectsWindowBoundary(t *testing.T) {
	var d Deque[struct{}]
	base := time.Unix(2000, 0)

	for i := 0; i < 5; i++ {
		d.Push(base.Add(time.Duration(i)*time.Minute), struct{}{})
	}

	// A 5-minute window evaluated at the 5th event (t=4min) should see all 5.
	if n := d.CountWithin(base.Add(4*time.Minute), 5*time.Minute); n != 5 {
		t.Errorf("expected all 5 entries within a 5-minute window, got %d", n)
	}

	// A 2-minute window at the same instant should only see the last 3
	// (t=2,3,4 minutes; t=0,1 fall outside).
	if n := d.CountWithin(base.Add(4*time.Minute), 2*time.Minute); n != 3 {
		t.Errorf("expected 3 entries within a 2-minute window, got %d", n)
	}
}

func TestDeque_EmptyAndLen(t *testing.T) {
	var d Deque[int]
	if !d.Empty() {
		t.Error("a fresh Deque must be empty")
	}
	d.Push(time.Now(), 1)
	if d.Empty() {
		t.Error("Deque with one live entry must not be empty")
	}
}

func TestDeque_WindowingNeverCountsStaleEntries(t *testing.T) {
	// An entry older than the window at evaluation time must never
	// contribute to a counter.
	var d Deque[int]
	base := time.Unix(3000, 0)
	d.Push(base, 99)

	now := base.Add(10 * time.Minute)
	d.EvictOlderThan(now, 5*time.Minute)

	if n := d.CountWithin(now, 5*time.Minute); n != 0 {
		t.Errorf("expected a stale entry to contribute nothing, got count %d", n)
	}
}

func TestUniqueStringsPreservesFirstOccurrenceOrder(t *testing.T) {
	got := uniqueStrings([]string{"b", "a", "b", "c", "a"})
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUniqueIntsDeduplicates(t *testing.T) {
	got := uniqueInts([]int{22, 80, 22, 443, 80})
	if len(got) != 3 {
		t.Errorf("expected 3 distinct ints, got %d (%v)", len(got), got)
	}
}
