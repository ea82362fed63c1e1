package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store is the exclusive-ownership mapping from session id to Session.
// Creation is lazy on the first frame bearing an id; Remove is the only way
// a session is destroyed. The store also keeps a connection index so binary
// frames, which carry no id, can be routed via their sending connection.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byConn   map[Sender]*Session
	closed   map[string]time.Time

	logger  *slog.Logger
	timeout time.Duration
	onEvict func(*Session)

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewStore creates a session store. Sessions idle past timeout are handed to
// onEvict (the implicit-close path) by a background cleanup routine; a zero
// timeout disables eviction.
func NewStore(logger *slog.Logger, timeout time.Duration, onEvict func(*Session)) *Store {
	ctx, cancel := context.WithCancel(context.Background())

	st := &Store{
		sessions: make(map[string]*Session),
		byConn:   make(map[Sender]*Session),
		closed:   make(map[string]time.Time),
		logger:   logger,
		timeout:  timeout,
		onEvict:  onEvict,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go st.cleanupRoutine()

	return st
}

// GetOrCreate returns the session for id, creating it on first use. The call
// is idempotent: a second call with the same id returns the existing session
// without resetting its counters, so a late or duplicate open never spawns a
// second session. An id that already reached a terminal state returns nil:
// closed sessions are never resurrected with fresh counters.
func (st *Store) GetOrCreate(id string, conn Sender) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if existing, ok := st.sessions[id]; ok {
		return existing, false
	}

	if _, ok := st.closed[id]; ok {
		return nil, false
	}

	sess := newSession(id, conn)
	st.sessions[id] = sess
	if conn != nil {
		st.byConn[conn] = sess
	}

	st.logger.Info("Session created",
		slog.String("session_id", id),
		slog.Int("active_sessions", len(st.sessions)),
	)

	return sess, true
}

// Get returns the session for id, if any.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sess, ok := st.sessions[id]
	return sess, ok
}

// ByConn resolves the session owning a connection. Binary frames are
// associated to a session solely via the connection they arrive on.
func (st *Store) ByConn(conn Sender) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sess, ok := st.byConn[conn]
	return sess, ok
}

// Remove destroys the session for id. It is idempotent: removing an already
// removed id returns false and has no side effects.
func (st *Store) Remove(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return false
	}

	delete(st.sessions, id)
	st.closed[id] = time.Now()
	if sess.Conn != nil && st.byConn[sess.Conn] == sess {
		delete(st.byConn, sess.Conn)
	}

	st.logger.Info("Session removed",
		slog.String("session_id", id),
		slog.Duration("duration", time.Since(sess.StartTime)),
		slog.Int("active_sessions", len(st.sessions)),
	)

	return true
}

// Len returns the number of active sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// All returns a snapshot of all active sessions for monitoring.
func (st *Store) All() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sessions := make([]*Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		sessions = append(sessions, sess)
	}

	return sessions
}

// Stop shuts down the cleanup routine and waits for it to finish.
func (st *Store) Stop() {
	st.cancel()
	<-st.cleanup
}

// cleanupRoutine periodically evicts sessions idle past the timeout.
func (st *Store) cleanupRoutine() {
	defer close(st.cleanup)

	if st.timeout <= 0 {
		<-st.ctx.Done()
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-st.ctx.Done():
			return
		case <-ticker.C:
			st.evictExpired()
			st.pruneTombstones()
		}
	}
}

// pruneTombstones drops closed-id markers older than an hour so the set does
// not grow without bound. An hour is far past any plausible frame reordering.
func (st *Store) pruneTombstones() {
	cutoff := time.Now().Add(-time.Hour)

	st.mu.Lock()
	defer st.mu.Unlock()
	for id, at := range st.closed {
		if at.Before(cutoff) {
			delete(st.closed, id)
		}
	}
}

// evictExpired hands idle sessions to the eviction callback.
func (st *Store) evictExpired() {
	now := time.Now()

	st.mu.RLock()
	var expired []*Session
	for _, sess := range st.sessions {
		if now.Sub(sess.LastActivity()) > st.timeout {
			expired = append(expired, sess)
		}
	}
	st.mu.RUnlock()

	for _, sess := range expired {
		st.logger.Warn("Evicting idle session",
			slog.String("session_id", sess.ID),
			slog.Duration("idle", now.Sub(sess.LastActivity())),
		)
		if st.onEvict != nil {
			st.onEvict(sess)
		} else {
			st.Remove(sess.ID)
		}
	}
}
