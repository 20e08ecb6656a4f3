// Package presence tracks the set of connected collaborators per project and
// their live cursor positions. Presence is ephemeral: a record is appended on
// join, removed on leave, and evicted by a staleness timeout when a client
// never reaches the leave transition (crash, dropped connection).
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"designboard/core"
	"designboard/docstore"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle position of one session.
type State int

const (
	StateAbsent State = iota
	StateJoining
	StateActive
	StateLeaving
)

// ErrNotActive is returned for cursor moves outside the ACTIVE state.
var ErrNotActive = errors.New("presence session is not active")

// Options tune the tracker.
type Options struct {
	// CursorBroadcastInterval throttles cursor writes: at most one backend
	// write per interval per session. Pointer-move events inside the window
	// are dropped; the next write carries the latest position.
	CursorBroadcastInterval time.Duration

	// StaleAfter is the age past which a presence record is evicted.
	StaleAfter time.Duration
}

// DefaultOptions returns the tracker defaults.
func DefaultOptions() Options {
	return Options{
		CursorBroadcastInterval: 50 * time.Millisecond,
		StaleAfter:              60 * time.Second,
	}
}

// Tracker manages presence sessions over the document store adapter.
type Tracker struct {
	adapter *docstore.Adapter
	opts    Options
}

// NewTracker creates a tracker. Zero option fields fall back to defaults.
func NewTracker(adapter *docstore.Adapter, opts Options) *Tracker {
	if opts.CursorBroadcastInterval <= 0 {
		opts.CursorBroadcastInterval = DefaultOptions().CursorBroadcastInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultOptions().StaleAfter
	}
	return &Tracker{adapter: adapter, opts: opts}
}

// Session is one user's presence in one project.
type Session struct {
	ID        string
	ProjectID string
	UserID    string

	tracker *Tracker

	mu       sync.Mutex
	state    State
	lastSent time.Time
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Join appends a presence record for the user and returns an active session.
func (t *Tracker) Join(ctx context.Context, projectID, userID, email, name string) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		tracker:   t,
		state:     StateJoining,
	}

	record := core.Presence{
		UserID:     userID,
		Email:      email,
		Name:       name,
		LastActive: time.Now(),
	}
	if err := t.adapter.AppendToSet(ctx, projectID, "activeUsers", record); err != nil {
		s.state = StateAbsent
		return nil, fmt.Errorf("join project %s: %w", projectID, err)
	}
	s.state = StateActive

	logrus.WithFields(logrus.Fields{
		"project_id": projectID,
		"user_id":    userID,
		"session_id": s.ID,
	}).Info("User joined project")
	return s, nil
}

// MoveCursor overwrites this user's cursor position. Calls inside the
// broadcast interval are dropped without a backend write.
func (s *Session) MoveCursor(ctx context.Context, p core.Point) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	now := time.Now()
	if now.Sub(s.lastSent) < s.tracker.opts.CursorBroadcastInterval {
		s.mu.Unlock()
		return nil
	}
	s.lastSent = now
	s.mu.Unlock()

	return s.tracker.adapter.WriteField(ctx, s.ProjectID, "cursors."+s.UserID, p)
}

// Leave removes this user's presence record via a filtered rewrite of the
// active-user set and clears the cursor entry.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLeaving
	s.mu.Unlock()

	err := s.tracker.remove(ctx, s.ProjectID, []string{s.UserID})

	s.mu.Lock()
	s.state = StateAbsent
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("leave project %s: %w", s.ProjectID, err)
	}
	logrus.WithFields(logrus.Fields{
		"project_id": s.ProjectID,
		"user_id":    s.UserID,
		"session_id": s.ID,
	}).Info("User left project")
	return nil
}

// EvictStale removes presence records whose last-active timestamp exceeds the
// staleness timeout and returns how many were evicted.
func (t *Tracker) EvictStale(ctx context.Context, projectID string) (int, error) {
	snap, err := t.adapter.Get(ctx, projectID)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-t.opts.StaleAfter)
	stale := []string{}
	for _, p := range snap.ActiveUsers {
		if p.LastActive.Before(cutoff) {
			stale = append(stale, p.UserID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := t.remove(ctx, projectID, stale); err != nil {
		return 0, err
	}
	logrus.WithFields(logrus.Fields{
		"project_id": projectID,
		"evicted":    len(stale),
	}).Info("Evicted stale presence records")
	return len(stale), nil
}

// remove rewrites the active-user set without the given users and drops their
// cursor entries.
func (t *Tracker) remove(ctx context.Context, projectID string, userIDs []string) error {
	gone := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		gone[id] = true
	}

	snap, err := t.adapter.Get(ctx, projectID)
	if err != nil {
		return err
	}

	remaining := make([]core.Presence, 0, len(snap.ActiveUsers))
	for _, p := range snap.ActiveUsers {
		if !gone[p.UserID] {
			remaining = append(remaining, p)
		}
	}
	if err := t.adapter.WriteField(ctx, projectID, "activeUsers", remaining); err != nil {
		return err
	}

	cursors := make(map[string]core.Point, len(snap.Cursors))
	for id, p := range snap.Cursors {
		if !gone[id] {
			cursors[id] = p
		}
	}
	return t.adapter.WriteField(ctx, projectID, "cursors", cursors)
}
