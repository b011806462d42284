package reasoning

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"go.uber.org/zap"
)

const sessionSweepInterval = time.Minute

// SessionStore keeps reasoning session state. The in-process implementation
// is a mutex-protected map; a distributed one can slot in behind the same
// interface.
type SessionStore interface {
	Create(kind domain.SessionKind) *domain.Session
	Get(id string) (*domain.Session, bool)
	Update(id string, mutate func(*domain.Session)) bool
	Delete(id string)
}

// MemorySessionStore is the in-process SessionStore with a TTL sweep.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	ttl      time.Duration
	logger   *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewMemorySessionStore(ttl time.Duration, logger *zap.Logger) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*domain.Session),
		ttl:      ttl,
		logger:   logger,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

func (s *MemorySessionStore) SetClock(now func() time.Time) {
	s.now = now
}

// newSessionID formats "<kind>-<timestampMs>-<short-random>".
func (s *MemorySessionStore) newSessionID(kind domain.SessionKind) string {
	return fmt.Sprintf("%s-%d-%06x", kind, s.now().UnixMilli(), rand.Intn(1<<24))
}

// Create allocates a fresh processing session.
func (s *MemorySessionStore) Create(kind domain.SessionKind) *domain.Session {
	session := &domain.Session{
		ID:        s.newSessionID(kind),
		Kind:      kind,
		Status:    domain.SessionProcessing,
		Stage:     "created",
		StartedAt: s.now(),
		SyncCheckpoints: map[int]bool{
			25: false,
			50: false,
			75: false,
		},
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	copied := *session
	return &copied
}

// Get returns a copy of the session, so callers never see later mutations.
func (s *MemorySessionStore) Get(id string) (*domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	copied := *session
	copied.SyncCheckpoints = copyCheckpoints(session.SyncCheckpoints)
	return &copied, true
}

// Update applies the mutation copy-on-write: readers holding a previous copy
// are unaffected. Returns false for an unknown id.
func (s *MemorySessionStore) Update(id string, mutate func(*domain.Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok {
		return false
	}
	next := *current
	next.SyncCheckpoints = copyCheckpoints(current.SyncCheckpoints)
	mutate(&next)
	s.sessions[id] = &next
	return true
}

func (s *MemorySessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func copyCheckpoints(in map[int]bool) map[int]bool {
	out := make(map[int]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// StartSweeper launches the periodic expiry sweep.
func (s *MemorySessionStore) StartSweeper() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

func (s *MemorySessionStore) StopSweeper() {
	close(s.stopCh)
	s.wg.Wait()
}

// Sweep removes sessions older than the TTL and returns how many it removed.
func (s *MemorySessionStore) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		if session.StartedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("swept expired sessions", zap.Int("removed", removed))
	}
	return removed
}
