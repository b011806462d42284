package reasoning

import (
	"regexp"
	"testing"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"go.uber.org/zap"
)

func TestSessionCreate(t *testing.T) {
	store := NewMemorySessionStore(time.Hour, zap.NewNop())

	session := store.Create(domain.SessionThink)

	idPattern := regexp.MustCompile(`^think-\d+-[0-9a-f]{6}$`)
	if !idPattern.MatchString(session.ID) {
		t.Errorf("session id = %q, want think-<ms>-<hex6>", session.ID)
	}
	if session.Status != domain.SessionProcessing {
		t.Errorf("status = %s, want processing", session.Status)
	}
	if session.Stage != "created" {
		t.Errorf("stage = %q", session.Stage)
	}
	for _, cp := range []int{25, 50, 75} {
		done, ok := session.SyncCheckpoints[cp]
		if !ok || done {
			t.Errorf("checkpoint %d = %v/%v, want present and false", cp, done, ok)
		}
	}

	got, ok := store.Get(session.ID)
	if !ok {
		t.Fatal("created session not retrievable")
	}
	if got.ID != session.ID {
		t.Errorf("retrieved id = %q", got.ID)
	}
}

func TestSessionGet_Unknown(t *testing.T) {
	store := NewMemorySessionStore(time.Hour, zap.NewNop())

	if _, ok := store.Get("reasoning-123-abc"); ok {
		t.Error("unknown session reported present")
	}
}

func TestSessionUpdate_CopyOnWrite(t *testing.T) {
	store := NewMemorySessionStore(time.Hour, zap.NewNop())
	session := store.Create(domain.SessionParallel)

	before, _ := store.Get(session.ID)

	if !store.Update(session.ID, func(s *domain.Session) {
		s.Progress = 0.5
		s.SyncCheckpoints[50] = true
	}) {
		t.Fatal("update of existing session returned false")
	}

	if before.Progress != 0 || before.SyncCheckpoints[50] {
		t.Error("earlier snapshot mutated by update")
	}

	after, _ := store.Get(session.ID)
	if after.Progress != 0.5 || !after.SyncCheckpoints[50] {
		t.Errorf("update not applied: %+v", after)
	}

	if store.Update("missing", func(s *domain.Session) {}) {
		t.Error("update of unknown session returned true")
	}
}

func TestSessionGet_SnapshotIsolation(t *testing.T) {
	store := NewMemorySessionStore(time.Hour, zap.NewNop())
	session := store.Create(domain.SessionThink)

	snap, _ := store.Get(session.ID)
	snap.SyncCheckpoints[25] = true
	snap.Status = domain.SessionComplete

	fresh, _ := store.Get(session.ID)
	if fresh.SyncCheckpoints[25] || fresh.Status != domain.SessionProcessing {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestSessionDelete(t *testing.T) {
	store := NewMemorySessionStore(time.Hour, zap.NewNop())
	session := store.Create(domain.SessionThink)

	store.Delete(session.ID)
	if _, ok := store.Get(session.ID); ok {
		t.Error("deleted session still present")
	}
}

func TestSessionSweep(t *testing.T) {
	store := NewMemorySessionStore(30*time.Minute, zap.NewNop())

	base := time.Now()
	store.SetClock(func() time.Time { return base.Add(-time.Hour) })
	stale := store.Create(domain.SessionParallel)

	store.SetClock(func() time.Time { return base })
	fresh := store.Create(domain.SessionThink)

	if removed := store.Sweep(); removed != 1 {
		t.Errorf("swept = %d, want 1", removed)
	}
	if _, ok := store.Get(stale.ID); ok {
		t.Error("expired session survived the sweep")
	}
	if _, ok := store.Get(fresh.ID); !ok {
		t.Error("live session swept")
	}
}
