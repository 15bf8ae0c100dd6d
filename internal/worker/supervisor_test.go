package worker

import (
	"context"
	"testing"
	"time"

	"cycleforge/internal/store"
)

func newTestSupervisor(t *testing.T, launch LaunchSpec) (*Supervisor, *store.Store) {
	t.Helper()
	st, err := store.Init(t.TempDir(), "f", "b", "c", 5, 3)
	if err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	cfg := DefaultConfig()
	cfg.WindDownGrace = 2 * time.Second
	return NewSupervisor(st, cfg, launch), st
}

func shellLaunch(script string) LaunchSpec {
	return func(projectDir, coordinationAddr, sessionID string, role Role) (string, []string, map[string]string) {
		return "sh", []string{"-c", script}, nil
	}
}

func TestSpawnWorkerSucceedsAndMarksDone(t *testing.T) {
	sup, st := newTestSupervisor(t, shellLaunch(`echo '{"type":"result","message":"ok"}'`))

	id, err := sup.SpawnWorker(context.Background(), t.TempDir(), "local", RoleWorker)
	if err != nil {
		t.Fatalf("SpawnWorker: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		status, err := st.GetSessionStatus(id)
		if err != nil {
			t.Fatalf("GetSessionStatus: %v", err)
		}
		if status.State == store.SessionDone {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("session never reached done, last status: %+v", status)
		case <-time.After(20 * time.Millisecond):
		}
	}
	if sup.ActiveCount() != 0 {
		t.Fatalf("expected no active sessions once drained, got %d", sup.ActiveCount())
	}
}

func TestSpawnWorkerMarksFailedOnErrorEvent(t *testing.T) {
	sup, st := newTestSupervisor(t, shellLaunch(`echo '{"type":"error","message":"boom"}'`))

	id, err := sup.SpawnWorker(context.Background(), t.TempDir(), "local", RoleWorker)
	if err != nil {
		t.Fatalf("SpawnWorker: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		status, err := st.GetSessionStatus(id)
		if err != nil {
			t.Fatalf("GetSessionStatus: %v", err)
		}
		if status.State == store.SessionFailed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("session never reached failed, last status: %+v", status)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWaitForDrainTimesOutWithStillActiveSessions(t *testing.T) {
	sup, _ := newTestSupervisor(t, shellLaunch(`sleep 10`))
	sup.cfg.WindDownGrace = 200 * time.Millisecond

	id, err := sup.SpawnWorker(context.Background(), t.TempDir(), "local", RoleWorker)
	if err != nil {
		t.Fatalf("SpawnWorker: %v", err)
	}

	remaining := sup.WaitForDrain(context.Background())
	if len(remaining) != 1 || remaining[0] != id {
		t.Fatalf("remaining = %v, want [%s]", remaining, id)
	}
	sup.Stop()
}

func TestBroadcastWindDownPostsMessage(t *testing.T) {
	sup, st := newTestSupervisor(t, shellLaunch(`true`))
	if err := sup.BroadcastWindDown(store.WindDownUsageLimit, nil); err != nil {
		t.Fatalf("BroadcastWindDown: %v", err)
	}

	msgs, err := st.ReadMessages(0)
	if err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != store.MessageWindDown {
		t.Fatalf("msgs = %+v, want one wind_down message", msgs)
	}
}

func TestAllocateSessionIDIsMonotoneAndUnique(t *testing.T) {
	sup, _ := newTestSupervisor(t, shellLaunch(`true`))
	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		id := sup.AllocateSessionID()
		if seen[id] {
			t.Fatalf("duplicate session id %s", id)
		}
		seen[id] = true
	}
}
