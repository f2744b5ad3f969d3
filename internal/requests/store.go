package requests

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Timer is the cancellation side of a scheduled auto-approval. Cancel reports
// whether it stopped the timer before it fired.
type Timer interface {
	Cancel() bool
}

type entry struct {
	mu      sync.Mutex
	req     JoinRequest
	timer   Timer
	removed bool
}

// Store keeps active join requests in memory. Admission and removal take the
// table lock; status transitions only take the entry lock, so requests never
// contend with each other.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	recent   map[string]JoinRequest
	cooldown time.Duration
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithReadmitCooldown sets how long a resolved request blocks re-admission of
// the same group/requester pair. Zero admits re-deliveries as fresh requests
// as soon as the previous one is removed.
func WithReadmitCooldown(d time.Duration) Option {
	return func(s *Store) {
		if d < 0 {
			d = 0
		}
		s.cooldown = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		recent:  make(map[string]JoinRequest),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Admit inserts candidate as a new pending request unless one with the same
// id is already tracked or was resolved within the cooldown window. The
// boolean reports whether a new request was created; when false the returned
// request is the one already known.
func (s *Store) Admit(candidate JoinRequest) (JoinRequest, bool) {
	if candidate.ID == "" {
		candidate.ID = MakeID(candidate.GroupID, candidate.RequesterID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[candidate.ID]; ok {
		e.mu.Lock()
		existing := e.req.clone()
		e.mu.Unlock()
		return existing, false
	}

	now := s.now()
	if prev, ok := s.recent[candidate.ID]; ok {
		if s.cooldown > 0 && now.Sub(prev.ResolvedAt) < s.cooldown {
			return prev.clone(), false
		}
		delete(s.recent, candidate.ID)
	}

	req := candidate.clone()
	req.Status = StatusPending
	req.AdmittedAt = now
	req.ResolvedAt = time.Time{}
	req.ResolvedBy = ""
	req.RejectReason = ""
	if req.DisplayName == "" {
		req.DisplayName = req.RequesterID
	}
	s.entries[req.ID] = &entry{req: req}
	return req.clone(), true
}

// AttachTimer binds the auto-approval timer to a request. If the request is
// gone or already resolved the timer is cancelled on the spot and false is
// returned.
func (s *Store) AttachTimer(id string, t Timer) bool {
	if t == nil {
		return false
	}
	e := s.lookupEntry(id)
	if e == nil {
		t.Cancel()
		return false
	}
	e.mu.Lock()
	if e.removed || e.req.Status != StatusPending {
		e.mu.Unlock()
		t.Cancel()
		return false
	}
	e.timer = t
	e.mu.Unlock()
	return true
}

// TryTransition moves a pending request to a terminal status and cancels its
// timer in the same critical section. Under concurrent calls for one id
// exactly one caller succeeds; the others get ErrAlreadyResolved (or
// ErrNotFound once the request has been removed). The returned request is the
// state after the call; on ErrAlreadyResolved it shows who won.
func (s *Store) TryTransition(id string, status Status, actor, reason string) (JoinRequest, error) {
	if !status.Terminal() {
		return JoinRequest{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	e := s.lookupEntry(id)
	if e == nil {
		return JoinRequest{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return JoinRequest{}, ErrNotFound
	}
	if e.req.Status != StatusPending {
		return e.req.clone(), ErrAlreadyResolved
	}

	e.req.Status = status
	e.req.ResolvedAt = s.now()
	e.req.ResolvedBy = actor
	if status == StatusRejected {
		e.req.RejectReason = reason
	}
	if e.timer != nil {
		e.timer.Cancel()
		e.timer = nil
	}
	return e.req.clone(), nil
}

// Reopen returns a request that was transitioned to from back to pending.
// It is used when the external decision never took effect, so a reviewer can
// try again. The auto-approval timer is not re-armed.
func (s *Store) Reopen(id string, from Status) (JoinRequest, error) {
	e := s.lookupEntry(id)
	if e == nil {
		return JoinRequest{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return JoinRequest{}, ErrNotFound
	}
	if e.req.Status != from {
		return e.req.clone(), fmt.Errorf("reopen %s: status is %s, expected %s", id, e.req.Status, from)
	}
	e.req.Status = StatusPending
	e.req.ResolvedAt = time.Time{}
	e.req.ResolvedBy = ""
	e.req.RejectReason = ""
	return e.req.clone(), nil
}

// Get returns a snapshot of an active request.
func (s *Store) Get(id string) (JoinRequest, bool) {
	e := s.lookupEntry(id)
	if e == nil {
		return JoinRequest{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return JoinRequest{}, false
	}
	return e.req.clone(), true
}

// Lookup resolves a reviewer-supplied reference: an exact request id, or the
// requester id of exactly one pending request.
func (s *Store) Lookup(ref string) (JoinRequest, error) {
	if req, ok := s.Get(ref); ok {
		return req, nil
	}

	var matches []JoinRequest
	for _, req := range s.ListPending() {
		if req.RequesterID == ref {
			matches = append(matches, req)
		}
	}
	switch len(matches) {
	case 0:
		return JoinRequest{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return JoinRequest{}, fmt.Errorf("%w: %q", ErrAmbiguous, ref)
	}
}

// ListPending returns a snapshot of pending requests, oldest first.
func (s *Store) ListPending() []JoinRequest {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	result := make([]JoinRequest, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed && e.req.Status == StatusPending {
			result = append(result, e.req.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AdmittedAt.Equal(result[j].AdmittedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].AdmittedAt.Before(result[j].AdmittedAt)
	})
	return result
}

// Len returns the number of tracked requests, resolved-but-not-removed included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Remove drops a request from the active table. Removing an unknown id is a
// no-op. A pending request's timer is cancelled; a terminal request is kept
// for the re-admission cooldown.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return
	}
	delete(s.entries, id)

	e.mu.Lock()
	e.removed = true
	if e.timer != nil {
		e.timer.Cancel()
		e.timer = nil
	}
	req := e.req.clone()
	e.mu.Unlock()

	s.pruneRecentLocked()
	if req.Status.Terminal() && s.cooldown > 0 {
		s.recent[id] = req
	}
}

func (s *Store) lookupEntry(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

func (s *Store) pruneRecentLocked() {
	if len(s.recent) == 0 {
		return
	}
	cutoff := s.now().Add(-s.cooldown)
	for id, req := range s.recent {
		if req.ResolvedAt.Before(cutoff) {
			delete(s.recent, id)
		}
	}
}
