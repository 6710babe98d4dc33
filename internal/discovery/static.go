package discovery

import (
	"context"
	"sync"

	"github.com/oriys/quasar/internal/group"
)

// Static serves a fixed member list from configuration. Announce refreshes
// the stored entry (so LastSeen moves) and Forget removes it, but nothing
// expires: a static membership is exactly what the operator wrote down.
type Static struct {
	mu      sync.RWMutex
	members map[group.MemberID]group.Member
}

// NewStatic creates a backend pre-populated with members.
func NewStatic(members ...group.Member) *Static {
	s := &Static{members: make(map[group.MemberID]group.Member, len(members))}
	for _, m := range members {
		s.members[m.ID] = m
	}
	return s
}

func (s *Static) Announce(_ context.Context, m group.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.ID] = m
	return nil
}

func (s *Static) Members(_ context.Context) ([]group.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]group.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sortMembers(out)
	return out, nil
}

func (s *Static) Forget(_ context.Context, id group.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, id)
	return nil
}

func (s *Static) Close() error { return nil }
