package popularity

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/civisearch/civisearch/pkg/db"
)

func newTestTracker(t *testing.T) *SQLTracker {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	if err := db.InitializeDatabase(conn); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	return NewSQLTracker(conn)
}

func TestRecordAndCountIncrements(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	for want := 1; want <= 5; want++ {
		got, err := tracker.RecordAndCount(ctx, "velo|", "velo")
		if err != nil {
			t.Fatalf("RecordAndCount: %v", err)
		}
		if got != want {
			t.Errorf("count = %d, want %d", got, want)
		}
	}

	count, err := tracker.Count(ctx, "velo|")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 5 {
		t.Errorf("Count = %d, want 5", count)
	}
}

func TestCountUnknownKeyIsZero(t *testing.T) {
	tracker := newTestTracker(t)

	count, err := tracker.Count(context.Background(), "never seen")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("Count = %d, want 0", count)
	}
}

func TestRecordAndCountKeysAreIndependent(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	if _, err := tracker.RecordAndCount(ctx, "a", "a"); err != nil {
		t.Fatal(err)
	}
	got, err := tracker.RecordAndCount(ctx, "b", "b")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("count for fresh key = %d, want 1", got)
	}
}

func TestRecordAndCountConcurrent(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	const workers = 10
	counts := make([]int, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counts[i], errs[i] = tracker.RecordAndCount(ctx, "hot", "hot")
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if seen[counts[i]] {
			t.Errorf("two workers observed the same post-increment value %d", counts[i])
		}
		seen[counts[i]] = true
	}

	final, err := tracker.Count(ctx, "hot")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if final != workers {
		t.Errorf("final count = %d, want %d", final, workers)
	}
}

func TestTopQueries(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	for key, times := range map[string]int{"velo": 3, "ecole": 7, "parc": 1} {
		for i := 0; i < times; i++ {
			if _, err := tracker.RecordAndCount(ctx, key, key); err != nil {
				t.Fatal(err)
			}
		}
	}

	top, err := tracker.TopQueries(ctx, 2)
	if err != nil {
		t.Fatalf("TopQueries: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("len = %d, want 2", len(top))
	}
	if top[0].QueryText != "ecole" || top[0].Count != 7 {
		t.Errorf("top[0] = %+v", top[0])
	}
	if top[1].QueryText != "velo" || top[1].Count != 3 {
		t.Errorf("top[1] = %+v", top[1])
	}
}
