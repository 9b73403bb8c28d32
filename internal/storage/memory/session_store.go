package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/storefinder/internal/clock/system"
	"github.com/JakeFAU/storefinder/internal/crawler"
)

type session struct {
	queries    []crawler.QueryGroup
	messages   []string
	cursor     int
	stop       bool
	finished   bool
	finishedAt time.Time
	result     crawler.ResultSet
	hasResult  bool
	expiresAt  time.Time
}

// SessionStore keeps crawl sessions in process memory for development/testing.
type SessionStore struct {
	mu       sync.RWMutex
	clock    crawler.Clock
	sessions map[string]*session
}

// NewSessionStore constructs a SessionStore. A nil clock uses wall time.
func NewSessionStore(clock crawler.Clock) *SessionStore {
	if clock == nil {
		clock = system.New()
	}
	return &SessionStore{
		clock:    clock,
		sessions: make(map[string]*session),
	}
}

// Create registers an empty session for ref.
func (s *SessionStore) Create(_ context.Context, ref crawler.SearchRef, groups []crawler.QueryGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(ref); ok {
		return errors.New("session already exists")
	}
	queries := make([]crawler.QueryGroup, len(groups))
	for i, group := range groups {
		queries[i] = append(crawler.QueryGroup(nil), group...)
	}
	s.sessions[ref.String()] = &session{queries: queries}
	return nil
}

// Exists reports whether ref has a live session.
func (s *SessionStore) Exists(_ context.Context, ref crawler.SearchRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(ref)
	return ok, nil
}

// Append adds one progress message.
func (s *SessionStore) Append(_ context.Context, ref crawler.SearchRef, message string) error {
	return s.update(ref, func(sess *session) {
		sess.messages = append(sess.messages, message)
	})
}

// RequestStop raises the stop flag.
func (s *SessionStore) RequestStop(_ context.Context, ref crawler.SearchRef) error {
	return s.update(ref, func(sess *session) {
		sess.stop = true
	})
}

// StopRequested reads the stop flag.
func (s *SessionStore) StopRequested(_ context.Context, ref crawler.SearchRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.live(ref)
	if !ok {
		return false, crawler.ErrNotFound
	}
	return sess.stop, nil
}

// SaveResult stores a copy of result.
func (s *SessionStore) SaveResult(_ context.Context, ref crawler.SearchRef, result crawler.ResultSet) error {
	return s.update(ref, func(sess *session) {
		sess.result = copyResult(result)
		sess.hasResult = true
	})
}

// MarkFinished flags the session as finished at the given time.
func (s *SessionStore) MarkFinished(_ context.Context, ref crawler.SearchRef, at time.Time) error {
	return s.update(ref, func(sess *session) {
		sess.finished = true
		sess.finishedAt = at
	})
}

// Poll returns the unread messages and advances the cursor under one lock.
func (s *SessionStore) Poll(_ context.Context, ref crawler.SearchRef) (crawler.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.live(ref)
	if !ok {
		return crawler.Snapshot{}, crawler.ErrNotFound
	}
	snap := crawler.Snapshot{
		Messages: append([]string{}, sess.messages[sess.cursor:]...),
		Finished: sess.finished,
	}
	sess.cursor = len(sess.messages)
	if sess.finished && sess.hasResult {
		snap.Result = copyResult(sess.result)
	}
	return snap, nil
}

// Result returns the stored result set once the search has finished.
func (s *SessionStore) Result(_ context.Context, ref crawler.SearchRef) (crawler.ResultSet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.live(ref)
	if !ok {
		return nil, false, crawler.ErrNotFound
	}
	if !sess.finished || !sess.hasResult {
		return nil, false, nil
	}
	return copyResult(sess.result), true, nil
}

// Release expires the session after grace.
func (s *SessionStore) Release(_ context.Context, ref crawler.SearchRef, grace time.Duration) error {
	expiry := s.clock.Now().Add(grace)
	return s.update(ref, func(sess *session) {
		if sess.expiresAt.IsZero() || expiry.Before(sess.expiresAt) {
			sess.expiresAt = expiry
		}
	})
}

// Sweep removes expired sessions and finished sessions older than cutoff.
func (s *SessionStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	removed := 0
	for key, sess := range s.sessions {
		expired := !sess.expiresAt.IsZero() && !now.Before(sess.expiresAt)
		stale := sess.finished && sess.finishedAt.Before(cutoff)
		if expired || stale {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds.
func (s *SessionStore) Ping(context.Context) error {
	return nil
}

// Queries returns the query groups a session was created with.
func (s *SessionStore) Queries(_ context.Context, ref crawler.SearchRef) ([]crawler.QueryGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.live(ref)
	if !ok {
		return nil, crawler.ErrNotFound
	}
	return append([]crawler.QueryGroup(nil), sess.queries...), nil
}

func (s *SessionStore) update(ref crawler.SearchRef, fn func(*session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.live(ref)
	if !ok {
		return crawler.ErrNotFound
	}
	fn(sess)
	return nil
}

// live returns the session for ref, dropping it when its grace period ended.
// Callers must hold the write lock.
func (s *SessionStore) live(ref crawler.SearchRef) (*session, bool) {
	key := ref.String()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	if !sess.expiresAt.IsZero() && !s.clock.Now().Before(sess.expiresAt) {
		delete(s.sessions, key)
		return nil, false
	}
	return sess, true
}

func copyResult(in crawler.ResultSet) crawler.ResultSet {
	out := make(crawler.ResultSet, len(in))
	for store, products := range in {
		cp := make(crawler.ProductSet, len(products))
		for id, p := range products {
			cp[id] = p
		}
		out[store] = cp
	}
	return out
}
