package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	cacheErrors "github.com/campuskit/offlinecache/errors"
)

func TestDrainEmptyQueue(t *testing.T) {
	store := newMemStore()
	drainer := NewDrainer(store, newScriptedReplayer())

	result, err := drainer.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.Replayed != 0 || result.Remaining != 0 {
		t.Errorf("Drain = %+v, want nothing replayed", result)
	}
}

func TestDrainReplaysInInsertionOrder(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	// Dependent writes: the enrollment must exist before the academic record.
	urls := []string{"/api/enrollments", "/api/academics", "/api/tasks/1/complete"}
	for _, u := range urls {
		if _, err := store.Enqueue(ctx, u, "POST", json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	replayer := newScriptedReplayer()
	drainer := NewDrainer(store, replayer)

	result, err := drainer.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.Replayed != 3 || result.Remaining != 0 {
		t.Errorf("Drain = %+v, want 3 replayed", result)
	}

	got := replayer.order()
	for i, u := range urls {
		if got[i] != u {
			t.Errorf("replay order[%d] = %s, want %s", i, got[i], u)
		}
	}
}

func TestDrainHaltsOnFailure(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	urls := []string{"/api/a", "/api/b", "/api/c"}
	for _, u := range urls {
		if _, err := store.Enqueue(ctx, u, "POST", nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	replayer := newScriptedReplayer()
	serverErr := cacheErrors.NewReplayError(cacheErrors.OpReplay, errors.New("server returned 500"), true)
	replayer.failOn("/api/b", serverErr)

	drainer := NewDrainer(store, replayer)
	result, err := drainer.Drain(ctx)
	if err == nil {
		t.Fatal("expected drain to report the halt")
	}
	if !errors.Is(err, serverErr) {
		t.Errorf("drain error should wrap the replay failure, got: %v", err)
	}

	// The first entry is gone, the failing entry and everything after it
	// remain queued, in original order.
	if result.Replayed != 1 {
		t.Errorf("Replayed = %d, want 1", result.Replayed)
	}
	if result.Halted == nil || result.Halted.URL != "/api/b" {
		t.Errorf("Halted = %+v, want /api/b", result.Halted)
	}
	pending, _ := store.ListPending(ctx)
	if len(pending) != 2 || pending[0].URL != "/api/b" || pending[1].URL != "/api/c" {
		t.Errorf("remaining queue = %+v, want [/api/b /api/c]", pending)
	}

	// A later drain picks up where the failed one halted.
	replayer.clearFail("/api/b")
	result, err = drainer.Drain(ctx)
	if err != nil {
		t.Fatalf("retry drain failed: %v", err)
	}
	if result.Replayed != 2 || result.Remaining != 0 {
		t.Errorf("retry drain = %+v, want queue emptied", result)
	}
}

func TestDrainReportsLiveCountdown(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Enqueue(ctx, "/api/x", "POST", nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	var counts []int
	drainer := NewDrainer(store, newScriptedReplayer(),
		WithProgress(func(pending int) { counts = append(counts, pending) }))

	if _, err := drainer.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	want := []int{2, 1, 0}
	if len(counts) != len(want) {
		t.Fatalf("progress calls = %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("progress[%d] = %d, want %d", i, counts[i], want[i])
		}
	}
}

func TestDrainRespectsContext(t *testing.T) {
	store := newMemStore()
	if _, err := store.Enqueue(context.Background(), "/api/x", "POST", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	drainer := NewDrainer(store, newScriptedReplayer())
	_, err := drainer.Drain(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}
