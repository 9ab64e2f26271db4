// Package server tracks authenticated sessions through the Registry type.
package server

import (
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

var (
	// ErrNotAuthenticated is returned when adding a session without a username.
	ErrNotAuthenticated = errors.New("registry: session is not authenticated")
	// ErrAlreadyRegistered is returned when a session is added twice.
	ErrAlreadyRegistered = errors.New("registry: session already registered")
)

// Registry is the set of authenticated, live sessions. Membership changes and
// snapshots are mutually exclusive, and members are kept in join order.
type Registry struct {
	mutex   sync.RWMutex
	members []*Session
	metrics *Metrics
}

// NewRegistry creates an empty Registry. metrics may be nil.
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{metrics: metrics}
}

// Add admits an authenticated session exactly once.
func (r *Registry) Add(s *Session) error {
	if s == nil || !s.Authenticated() {
		return ErrNotAuthenticated
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if slices.Contains(r.members, s) {
		return ErrAlreadyRegistered
	}
	r.members = append(r.members, s)
	r.setGauge()
	return nil
}

// Remove drops s and reports whether it was a member. Removing a session that
// is not present is a no-op.
func (r *Registry) Remove(s *Session) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	idx := slices.Index(r.members, s)
	if idx < 0 {
		return false
	}
	r.members = slices.Delete(r.members, idx, idx+1)
	r.setGauge()
	return true
}

func (r *Registry) setGauge() {
	if r.metrics != nil {
		r.metrics.SessionsOnline.Set(float64(len(r.members)))
	}
}

// Snapshot returns the current members in join order. Callers may iterate
// the result while membership keeps changing.
func (r *Registry) Snapshot() []*Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return slices.Clone(r.members)
}

// FindByName returns the first member whose username matches name, ignoring case.
func (r *Registry) FindByName(name string) (*Session, bool) {
	return lo.Find(r.Snapshot(), func(s *Session) bool {
		username, _ := s.Username()
		return strings.EqualFold(username, name)
	})
}

// Contains reports whether s is a member.
func (r *Registry) Contains(s *Session) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return slices.Contains(r.members, s)
}

// Names lists the usernames of all members in join order.
func (r *Registry) Names() []string {
	return lo.Map(r.Snapshot(), func(s *Session, _ int) string {
		username, _ := s.Username()
		return username
	})
}

// Len returns the number of members.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.members)
}
