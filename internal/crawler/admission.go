package crawler

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/policycheck/crawler/internal/metrics"
)

// Admission caps the number of sessions running at once. It is a single
// small shared structure; contention is bounded by the ceiling.
type Admission struct {
	ceiling int
	clock   Clock
	logger  *zap.Logger

	mu     sync.Mutex
	active map[string]time.Time
}

// NewAdmission builds a controller with the configured concurrency ceiling.
func NewAdmission(ceiling int, clock Clock, logger *zap.Logger) *Admission {
	return &Admission{
		ceiling: ceiling,
		clock:   clock,
		logger:  logger,
		active:  make(map[string]time.Time),
	}
}

// TryAdmit registers sessionID as active, or refuses with a reason naming
// the oldest active session so an operator can see what is holding a slot.
func (a *Admission) TryAdmit(sessionID string) (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.active) >= a.ceiling {
		oldestID := ""
		var oldestStart time.Time
		for id, started := range a.active {
			if oldestID == "" || started.Before(oldestStart) {
				oldestID = id
				oldestStart = started
			}
		}
		return false, fmt.Sprintf(
			"maximum concurrent crawls (%d) reached; oldest active crawl: %s",
			a.ceiling, oldestID)
	}

	a.active[sessionID] = a.clock.Now()
	metrics.SetActiveSessions(len(a.active))
	a.logger.Info("registered active crawl",
		zap.String("session_id", sessionID),
		zap.Int("active", len(a.active)),
		zap.Int("ceiling", a.ceiling))
	return true, ""
}

// Release removes sessionID from the active set. Releasing an absent id is
// a no-op, so the guaranteed-cleanup path around a session run can always
// call it.
func (a *Admission) Release(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.active[sessionID]; !ok {
		return
	}
	delete(a.active, sessionID)
	metrics.SetActiveSessions(len(a.active))
	a.logger.Info("unregistered active crawl",
		zap.String("session_id", sessionID),
		zap.Int("active", len(a.active)),
		zap.Int("ceiling", a.ceiling))
}

// Active returns the number of currently admitted sessions.
func (a *Admission) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}
