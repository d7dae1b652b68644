package pipeline

import (
	"sync"
	"time"
)

// BoardSession is one user's view of an organisation's board: the last snapshot plus the
// filter, selection and drag gesture layered on top of it.
type BoardSession struct {
	sync.Mutex

	OrganizationID string
	UserID         string

	Filter    Filter
	Selection *Selection
	Drag      DragController

	board    *Board
	loadedAt time.Time
	stale    bool
	lastSeen time.Time
}

// NewBoardSession returns an empty session that needs a snapshot before use.
func NewBoardSession(orgID, userID string, now time.Time) *BoardSession {
	return &BoardSession{
		OrganizationID: orgID,
		UserID:         userID,
		Selection:      NewSelection(),
		stale:          true,
		lastSeen:       now,
	}
}

// Board returns the current snapshot, never nil.
func (s *BoardSession) Board() *Board {
	if s.board == nil {
		return NewBoard(nil)
	}
	return s.board
}

// LoadedAt is when the snapshot was fetched.
func (s *BoardSession) LoadedAt() time.Time {
	return s.loadedAt
}

// NeedsRefresh is true when the snapshot is missing, invalidated, or older than maxAge.
func (s *BoardSession) NeedsRefresh(now time.Time, maxAge time.Duration) bool {
	if s.board == nil || s.stale {
		return true
	}
	return maxAge > 0 && now.Sub(s.loadedAt) >= maxAge
}

// Replace installs a fresh snapshot and prunes selection ids that no longer exist.
// It returns the number of pruned ids.
func (s *BoardSession) Replace(board *Board, now time.Time) int {
	s.board = board
	s.loadedAt = now
	s.stale = false

	if id, ok := s.Drag.Dragging(); ok {
		if _, exists := board.Find(id); !exists {
			s.Drag.Cancel()
		}
	}
	return s.Selection.Prune(board.IDs())
}

// Invalidate forces the next read to re-fetch.
func (s *BoardSession) Invalidate() {
	s.stale = true
}

// Stale reports whether the snapshot was invalidated.
func (s *BoardSession) Stale() bool {
	return s.stale
}

func (s *BoardSession) touch(now time.Time) {
	s.lastSeen = now
}

type sessionKey struct {
	org  string
	user string
}

// Sessions is the registry of board sessions keyed by organisation and user.
type Sessions struct {
	mu    sync.Mutex
	items map[sessionKey]*BoardSession
}

// NewSessions returns an empty registry.
func NewSessions() *Sessions {
	return &Sessions{items: make(map[sessionKey]*BoardSession)}
}

// Get returns the session for org and user, creating it on first use.
func (r *Sessions) Get(orgID, userID string, now time.Time) *BoardSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{org: orgID, user: userID}
	s, ok := r.items[key]
	if !ok {
		s = NewBoardSession(orgID, userID, now)
		r.items[key] = s
	}
	s.touch(now)
	return s
}

// InvalidateOrganization marks every session of orgID stale.
func (r *Sessions) InvalidateOrganization(orgID string) {
	r.mu.Lock()
	targets := make([]*BoardSession, 0)
	for key, s := range r.items {
		if key.org == orgID {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.Lock()
		s.Invalidate()
		s.Unlock()
	}
}

// Evict drops sessions not seen for ttl and returns how many were removed.
func (r *Sessions) Evict(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, s := range r.items {
		if now.Sub(s.lastSeen) >= ttl {
			delete(r.items, key)
			removed++
		}
	}
	return removed
}

// Len is the number of live sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
