package triage

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrConflict is returned by Store.Put when the stored session changed since
// it was read.
var ErrConflict = errors.New("session modified concurrently")

// ListFilter narrows a session listing. Zero values mean no constraint.
type ListFilter struct {
	OwnerID string
	Since   time.Time
	Limit   int
}

// DefaultListLimit caps listings when the caller sets no limit.
const DefaultListLimit = 100

// Match reports whether a session passes the owner and time constraints.
func (f ListFilter) Match(s *Session) bool {
	if f.OwnerID != "" && s.OwnerID != f.OwnerID {
		return false
	}
	if !f.Since.IsZero() && s.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// EffectiveLimit returns the limit to apply.
func (f ListFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Store is the persistence interface for triage sessions.
//
// Put is a compare-and-set on Session.Version: it writes only when the stored
// version equals s.Version (a missing session counts as version 0), then
// advances s.Version by one. A mismatch returns ErrConflict and writes nothing.
// List returns sessions newest first.
type Store interface {
	Get(ctx context.Context, id string) (*Session, bool, error)
	Put(ctx context.Context, s *Session) error
	List(ctx context.Context, f ListFilter) ([]*Session, error)
}

// Aggregator is implemented by stores that can compute dashboard stats over
// every session without listing them.
type Aggregator interface {
	Aggregate(ctx context.Context, since time.Time) (*Stats, error)
}

// SortNewestFirst orders sessions by creation time, newest first. Ties fall
// back to descending ID, which for ULIDs is also creation order.
func SortNewestFirst(ss []*Session) {
	sort.Slice(ss, func(i, j int) bool {
		if !ss[i].CreatedAt.Equal(ss[j].CreatedAt) {
			return ss[i].CreatedAt.After(ss[j].CreatedAt)
		}
		return ss[i].ID > ss[j].ID
	})
}
