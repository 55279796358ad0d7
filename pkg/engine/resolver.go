package engine

import "github.com/rs/zerolog"

// Resolver derives the desired group membership of a user from the system of record.
type Resolver struct {
	groupAttribute string
	logger         zerolog.Logger
}

// NewResolver creates a resolver reading group names from groupAttribute.
func NewResolver(groupAttribute string, logger zerolog.Logger) *Resolver {
	return &Resolver{
		groupAttribute: groupAttribute,
		logger:         logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve computes the active and remove sets for memberships.
//
// A group is active when it comes from a membership that is Active on an Active
// allocation with at least one available resource. A group is removed when it comes
// from any other membership, unless the allocation is pending (New, Renewal Requested)
// or the group is already active. An allocation whose resources are all unavailable
// contributes nothing to the active set. Resource availability is not consulted for
// the remove set.
//
// When groupFilter is not empty each set is narrowed to at most that group.
func (r *Resolver) Resolve(memberships []Membership, groupFilter string) DesiredState {
	active := newOrderedSet()
	for _, m := range memberships {
		if !m.Status.IsActive() {
			r.logger.Debug().Int64("allocation", m.Allocation.ID).Msg("skipping inactive membership")
			continue
		}
		if !m.Allocation.Status.IsActive() {
			r.logger.Debug().Int64("allocation", m.Allocation.ID).Msg("skipping inactive allocation")
			continue
		}
		if !m.Allocation.HasAvailableResource() {
			r.logger.Debug().Int64("allocation", m.Allocation.ID).Msg("skipping allocation, all resources unavailable")
			continue
		}
		active.add(m.Allocation.AttributeList(r.groupAttribute)...)
	}

	remove := newOrderedSet()
	for _, m := range memberships {
		if m.IsActive() {
			continue
		}
		if m.Allocation.Status.IsPending() {
			continue
		}
		for _, g := range m.Allocation.AttributeList(r.groupAttribute) {
			if !active.has(g) {
				remove.add(g)
			}
		}
	}

	desired := DesiredState{Active: active.items, Remove: remove.items}
	if groupFilter != "" {
		desired.Active = narrow(active, groupFilter)
		desired.Remove = narrow(remove, groupFilter)
	}
	return desired
}

func narrow(s *orderedSet, name string) []string {
	if s.has(name) {
		return []string{name}
	}
	return nil
}

// orderedSet keeps insertion order and drops duplicates.
type orderedSet struct {
	items []string
	index map[string]struct{}
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]struct{})}
}

func (s *orderedSet) add(values ...string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := s.index[v]; ok {
			continue
		}
		s.index[v] = struct{}{}
		s.items = append(s.items, v)
	}
}

func (s *orderedSet) has(v string) bool {
	_, ok := s.index[v]
	return ok
}
