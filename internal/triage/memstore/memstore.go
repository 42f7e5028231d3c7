// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/pawcketvet/internal/triage"
)

// Store holds triage sessions in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*triage.Session // session ID -> session
	byOwner  map[string][]string        // owner ID -> session IDs
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*triage.Session),
		byOwner:  make(map[string][]string),
	}
}

// Get retrieves a session by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return sess.Clone(), true, nil
}

// Put stores a copy of the session if its version matches the stored one.
func (s *Store) Put(_ context.Context, sess *triage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.sessions[sess.ID]
	var version int64
	if exists {
		version = cur.Version
	}
	if sess.Version != version {
		return triage.ErrConflict
	}

	if !exists {
		s.byOwner[sess.OwnerID] = append(s.byOwner[sess.OwnerID], sess.ID)
	}
	sess.Version++
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Aggregate computes dashboard stats over every stored session.
func (s *Store) Aggregate(_ context.Context, since time.Time) (*triage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := triage.ListFilter{Since: since}
	st := triage.NewStats(since)
	for _, sess := range s.sessions {
		if f.Match(sess) {
			st.Add(sess)
		}
	}
	return st, nil
}

// List returns copies of the sessions matching f, newest first.
func (s *Store) List(_ context.Context, f triage.ListFilter) ([]*triage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*triage.Session
	if f.OwnerID != "" {
		for _, id := range s.byOwner[f.OwnerID] {
			if sess := s.sessions[id]; f.Match(sess) {
				out = append(out, sess.Clone())
			}
		}
	} else {
		for _, sess := range s.sessions {
			if f.Match(sess) {
				out = append(out, sess.Clone())
			}
		}
	}

	triage.SortNewestFirst(out)
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
