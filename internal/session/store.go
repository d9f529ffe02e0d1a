package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get when no session exists for a trace ID.
var ErrNotFound = errors.New("session not found")

// Store is a bounded, concurrency-safe registry of sessions. All
// structural changes (insert, evict, delete) happen under one mutex;
// individual sessions guard their own substructures, so holding a
// *Session after Get does not require the store lock.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	maxSessions int
	idleTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewStore creates a session store. maxSessions caps how many sessions
// are kept in memory (default 100); idleTimeout is how long a session
// may sit untouched before it is eligible for eviction (default 1h).
// The now function is the store's clock; pass nil for wall-clock time.
func NewStore(maxSessions int, idleTimeout time.Duration, now func() time.Time, logger *slog.Logger) *Store {
	if maxSessions <= 0 {
		maxSessions = 100
	}
	if idleTimeout <= 0 {
		idleTimeout = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		idleTimeout: idleTimeout,
		now:         now,
		logger:      logger,
	}
}

// Create allocates and registers a new session, generating a trace ID
// when none is supplied. Expired sessions are swept first; if the store
// is still full, the least-recently-active idle sessions are evicted
// until a slot opens. Sessions currently executing a round (busy) are
// never evicted. Returns an error only when the store is at capacity
// and every resident session is busy.
func (st *Store) Create(principal, errorDescription string, context map[string]any, traceID string) (*Session, error) {
	if traceID == "" {
		traceID = uuid.NewString()
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.evictExpiredLocked()
	if len(st.sessions) >= st.maxSessions {
		if err := st.evictOldestLocked(); err != nil {
			return nil, err
		}
	}

	s := New(traceID, principal, errorDescription, context, st.now)
	st.sessions[traceID] = s

	st.logger.Info("session created", "trace_id", traceID, "principal", principal)
	return s, nil
}

// Get returns the session for a trace ID and refreshes its
// last-activity timestamp. Returns ErrNotFound when absent.
func (st *Store) Get(traceID string) (*Session, error) {
	st.mu.Lock()
	s, ok := st.sessions[traceID]
	st.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, traceID)
	}
	s.Touch()
	return s, nil
}

// Delete removes a session. Returns whether one existed; deleting a
// missing session is not an error.
func (st *Store) Delete(traceID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[traceID]; !ok {
		return false
	}
	delete(st.sessions, traceID)
	st.logger.Info("session deleted", "trace_id", traceID)
	return true
}

// List returns summaries of all sessions, optionally filtered by
// principal (empty string means no filter). The snapshot is taken
// under the store lock; session summaries take each session's lock
// briefly.
func (st *Store) List(principal string) []Summary {
	st.mu.Lock()
	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.Unlock()

	summaries := make([]Summary, 0, len(all))
	for _, s := range all {
		if principal != "" && s.Principal != principal {
			continue
		}
		summaries = append(summaries, s.Summarize())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Stats describes the store for monitoring.
type Stats struct {
	Total             int     `json:"total_sessions"`
	Active            int     `json:"active_sessions"`
	Expired           int     `json:"expired_sessions"`
	MaxSessions       int     `json:"max_sessions"`
	CapacityUsage     string  `json:"capacity_usage"`
	EstimatedMemoryMB float64 `json:"estimated_memory_mb"`
}

// Stats returns current store statistics.
func (st *Store) Stats() Stats {
	st.mu.Lock()
	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.Unlock()

	stats := Stats{
		Total:         len(all),
		MaxSessions:   st.maxSessions,
		CapacityUsage: fmt.Sprintf("%d/%d", len(all), st.maxSessions),
	}
	for _, s := range all {
		stats.EstimatedMemoryMB += s.MemoryEstimateMB()
		if s.Expired(st.idleTimeout) {
			stats.Expired++
		} else {
			stats.Active++
		}
	}
	return stats
}

// evictExpiredLocked removes idle-expired, non-busy sessions. Caller
// holds st.mu.
func (st *Store) evictExpiredLocked() {
	var expired []string
	for id, s := range st.sessions {
		if s.Expired(st.idleTimeout) && !s.Busy() {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(st.sessions, id)
	}
	if len(expired) > 0 {
		st.logger.Info("evicted expired sessions", "count", len(expired))
	}
}

// evictOldestLocked removes the least-recently-active non-busy sessions
// until one slot is free. Caller holds st.mu.
func (st *Store) evictOldestLocked() error {
	type candidate struct {
		id   string
		last time.Time
	}
	var candidates []candidate
	for id, s := range st.sessions {
		if s.Busy() {
			continue
		}
		candidates = append(candidates, candidate{id: id, last: s.LastActivity()})
	}
	if len(candidates) == 0 {
		return errors.New("session store at capacity and all sessions are in flight")
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].last.Before(candidates[j].last)
	})

	toRemove := len(st.sessions) - st.maxSessions + 1
	if toRemove > len(candidates) {
		toRemove = len(candidates)
	}
	for _, c := range candidates[:toRemove] {
		delete(st.sessions, c.id)
	}
	st.logger.Info("evicted oldest sessions to stay under capacity", "count", toRemove)
	return nil
}
