package review

import (
	"sort"
	"strings"
	"sync/atomic"
)

// ReviewerSet is the set of user ids allowed to issue review commands. It
// can be replaced at runtime when the configuration is reloaded. An empty or
// nil set allows nobody.
type ReviewerSet struct {
	ids atomic.Pointer[map[string]struct{}]
}

// NewReviewerSet creates a set from ids.
func NewReviewerSet(ids []string) *ReviewerSet {
	s := &ReviewerSet{}
	s.Replace(ids)
	return s
}

// Replace swaps the allowed ids.
func (s *ReviewerSet) Replace(ids []string) {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = struct{}{}
		}
	}
	s.ids.Store(&m)
}

// Allowed reports whether id may review.
func (s *ReviewerSet) Allowed(id string) bool {
	if s == nil {
		return false
	}
	m := s.ids.Load()
	if m == nil {
		return false
	}
	_, ok := (*m)[id]
	return ok
}

// List returns the configured ids, sorted.
func (s *ReviewerSet) List() []string {
	if s == nil {
		return nil
	}
	m := s.ids.Load()
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(*m))
	for id := range *m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
