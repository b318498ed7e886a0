package internal

import (
	"sync"
	"testing"
	"time"
)

func TestClaimTableExclusive(t *testing.T) {
	table := NewClaimTable(time.Minute)

	if !table.TryAcquire("a1") {
		t.Fatal("first claim should succeed")
	}
	if table.TryAcquire("a1") {
		t.Fatal("second claim on same action must fail")
	}
	if !table.TryAcquire("a2") {
		t.Fatal("claim on a different action should succeed")
	}

	table.Release("a1")
	if !table.TryAcquire("a1") {
		t.Fatal("claim after release should succeed")
	}
}

func TestClaimTableConcurrentSingleWinner(t *testing.T) {
	table := NewClaimTable(time.Minute)

	const goroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if table.TryAcquire("contested") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	stats := table.Stats()
	if stats.Acquired != 1 {
		t.Fatalf("expected 1 acquired, got %d", stats.Acquired)
	}
	if stats.Conflicts != goroutines-1 {
		t.Fatalf("expected %d conflicts, got %d", goroutines-1, stats.Conflicts)
	}
}

func TestClaimTableStaleRelease(t *testing.T) {
	table := NewClaimTable(5 * time.Millisecond)

	table.TryAcquire("stale-1")
	table.TryAcquire("stale-2")
	time.Sleep(10 * time.Millisecond)
	table.TryAcquire("fresh")

	released := table.ForceReleaseStale()
	if len(released) != 2 {
		t.Fatalf("expected 2 stale claims released, got %v", released)
	}
	if !table.Held("fresh") {
		t.Fatal("fresh claim must survive the sweep")
	}
	if table.Held("stale-1") || table.Held("stale-2") {
		t.Fatal("stale claims must be gone")
	}

	// Released actions can be claimed again.
	if !table.TryAcquire("stale-1") {
		t.Fatal("released action should be claimable")
	}
}

func TestClaimTableReleaseIsIdempotent(t *testing.T) {
	table := NewClaimTable(time.Minute)

	table.TryAcquire("a1")
	table.Release("a1")
	table.Release("a1")
	table.Release("never-claimed")

	stats := table.Stats()
	if stats.Released != 1 {
		t.Fatalf("expected 1 release counted, got %d", stats.Released)
	}
	if stats.Active != 0 {
		t.Fatalf("expected no active claims, got %d", stats.Active)
	}
}

func TestClaimTableFailedReleaseCountedSeparately(t *testing.T) {
	table := NewClaimTable(time.Minute)

	table.TryAcquire("ok")
	table.TryAcquire("broken")
	table.Release("ok")
	table.ReleaseFailed("broken")

	stats := table.Stats()
	if stats.Released != 1 || stats.Failed != 1 {
		t.Fatalf("expected 1 completed and 1 failed, got %d/%d", stats.Released, stats.Failed)
	}
	if table.Held("broken") {
		t.Fatal("failed release must free the claim")
	}
}
