package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cacheErrors "github.com/campuskit/offlinecache/errors"
)

// waitStatus reads snapshots until one satisfies pred or the deadline passes.
func waitStatus(t *testing.T, updates <-chan Status, what string, pred func(Status) bool) Status {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-updates:
			if pred(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status: %s", what)
		}
	}
}

func startMonitor(t *testing.T, m *Monitor) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMonitorInitialState(t *testing.T) {
	store := newMemStore()
	source := NewSignalSource(true)
	m := NewMonitor(store, newScriptedReplayer(), source)
	startMonitor(t, m)

	s := waitStatus(t, m.Updates(), "initial online snapshot", func(s Status) bool {
		return s.Online
	})
	if s.Pending != 0 || s.Syncing {
		t.Errorf("initial status = %+v, want idle online", s)
	}
}

func TestMonitorOfflineWriteScenario(t *testing.T) {
	store := newMemStore()
	source := NewSignalSource(true)
	replayer := newScriptedReplayer()
	m := NewMonitor(store, replayer, source)
	startMonitor(t, m)

	waitStatus(t, m.Updates(), "startup", func(s Status) bool { return s.Online })

	// Connectivity drops.
	source.Set(false)
	waitStatus(t, m.Updates(), "offline transition", func(s Status) bool { return !s.Online })

	// The domain layer submits a task completion while offline; the write is
	// captured instead of lost.
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, "/api/tasks/5/complete", "PATCH", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	m.Refresh(ctx)

	waitStatus(t, m.Updates(), "pending count after offline write", func(s Status) bool {
		return s.Pending == 1
	})
	pending, _ := store.ListPending(ctx)
	if len(pending) != 1 {
		t.Fatalf("queue length = %d, want 1", len(pending))
	}

	// Connectivity returns and the server accepts the replay.
	source.Set(true)
	s := waitStatus(t, m.Updates(), "drain completion", func(s Status) bool {
		return s.Online && !s.Syncing && s.Pending == 0
	})
	if s.LastError != nil {
		t.Errorf("LastError = %v, want nil", s.LastError)
	}

	pending, _ = store.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("queue not drained: %+v", pending)
	}
	if got := replayer.order(); len(got) != 1 || got[0] != "/api/tasks/5/complete" {
		t.Errorf("replayed = %v, want the queued task completion", got)
	}
}

func TestMonitorHaltedDrainKeepsPendingVisible(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	for _, u := range []string{"/api/a", "/api/b", "/api/c"} {
		if _, err := store.Enqueue(ctx, u, "POST", nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	replayer := newScriptedReplayer()
	replayer.failOn("/api/b",
		cacheErrors.NewReplayError(cacheErrors.OpReplay, errors.New("server returned 502"), true))

	source := NewSignalSource(false)
	m := NewMonitor(store, replayer, source)
	startMonitor(t, m)

	waitStatus(t, m.Updates(), "startup offline", func(s Status) bool { return !s.Online })

	source.Set(true)
	s := waitStatus(t, m.Updates(), "halted drain", func(s Status) bool {
		return s.Online && !s.Syncing && s.LastError != nil
	})

	// Sync incomplete: a stuck replay surfaces as a persistent non-zero count.
	if s.Pending != 2 {
		t.Errorf("Pending after halted drain = %d, want 2", s.Pending)
	}
	pending, _ := store.ListPending(ctx)
	if len(pending) != 2 || pending[0].URL != "/api/b" {
		t.Errorf("queue after halt = %+v, want [/api/b /api/c]", pending)
	}

	// The next reconnection retries the drain; this time the server accepts.
	replayer.clearFail("/api/b")
	source.Set(false)
	waitStatus(t, m.Updates(), "offline again", func(s Status) bool { return !s.Online })
	source.Set(true)
	waitStatus(t, m.Updates(), "drain retry", func(s Status) bool {
		return s.Online && !s.Syncing && s.Pending == 0 && s.LastError == nil
	})
}

func TestMonitorDrainsBacklogAtStartup(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, "/api/left-over", "POST", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	replayer := newScriptedReplayer()
	m := NewMonitor(store, replayer, NewSignalSource(true))
	startMonitor(t, m)

	waitStatus(t, m.Updates(), "startup drain", func(s Status) bool {
		return s.Online && !s.Syncing && s.Pending == 0
	})
	if got := replayer.order(); len(got) != 1 || got[0] != "/api/left-over" {
		t.Errorf("replayed = %v, want the backlog entry", got)
	}
}

func TestMonitorFirstOfflineNoticeShownOncePerDevice(t *testing.T) {
	store := newMemStore()
	source := NewSignalSource(true)
	m := NewMonitor(store, newScriptedReplayer(), source)
	startMonitor(t, m)
	waitStatus(t, m.Updates(), "startup", func(s Status) bool { return s.Online })

	// Fresh device: the explainer shows on the first offline transition.
	source.Set(false)
	s := waitStatus(t, m.Updates(), "first offline", func(s Status) bool { return !s.Online })
	if !s.ShowOfflineNotice {
		t.Error("first ever offline transition should show the notice")
	}

	// Second transition in the same session: abbreviated banner only.
	source.Set(true)
	waitStatus(t, m.Updates(), "back online", func(s Status) bool { return s.Online })
	source.Set(false)
	s = waitStatus(t, m.Updates(), "second offline", func(s Status) bool { return !s.Online })
	if s.ShowOfflineNotice {
		t.Error("second offline transition should not show the notice")
	}

	// A later session on the same device: the persisted flag still holds.
	m.Close()
	source2 := NewSignalSource(true)
	m2 := NewMonitor(store, newScriptedReplayer(), source2)
	startMonitor(t, m2)
	waitStatus(t, m2.Updates(), "later session startup", func(s Status) bool { return s.Online })

	source2.Set(false)
	s = waitStatus(t, m2.Updates(), "offline in later session", func(s Status) bool { return !s.Online })
	if s.ShowOfflineNotice {
		t.Error("notice must not reappear in a later session on the same device")
	}
}

func TestMonitorIgnoresNonTransitions(t *testing.T) {
	store := newMemStore()
	source := NewSignalSource(true)
	m := NewMonitor(store, newScriptedReplayer(), source)
	startMonitor(t, m)
	waitStatus(t, m.Updates(), "startup", func(s Status) bool { return s.Online })

	// Duplicate online events must not trigger drains or snapshots that
	// flip state.
	source.Set(true)
	source.Set(false)
	s := waitStatus(t, m.Updates(), "offline", func(s Status) bool { return !s.Online })
	if s.Syncing {
		t.Errorf("unexpected syncing state: %+v", s)
	}
}

func TestMonitorRunTwice(t *testing.T) {
	m := NewMonitor(newMemStore(), newScriptedReplayer(), NewSignalSource(true))
	startMonitor(t, m)
	waitStatus(t, m.Updates(), "startup", func(s Status) bool { return s.Online })

	if err := m.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
}

func TestMonitorClose(t *testing.T) {
	m := NewMonitor(newMemStore(), newScriptedReplayer(), NewSignalSource(true))
	startMonitor(t, m)
	waitStatus(t, m.Updates(), "startup", func(s Status) bool { return s.Online })

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
