// Package workflow holds closed status sets with explicit transition tables.
package workflow

import (
	"github.com/lims/lims/internal/platform/apperr"
)

// Machine is a status domain. Order lists the forward progression used by
// Advance; statuses missing from Order (alternate terminals such as
// REJECTED) are never reached by Advance.
type Machine[S ~string] struct {
	Entity string
	Order  []S
	Edges  map[S][]S
}

// Known reports whether s belongs to the domain.
func (m Machine[S]) Known(s S) bool {
	_, ok := m.Edges[s]
	return ok
}

// Allowed reports whether from -> to is a single edge of the table.
func (m Machine[S]) Allowed(from, to S) bool {
	for _, s := range m.Edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing edges.
func (m Machine[S]) Terminal(s S) bool {
	return m.Known(s) && len(m.Edges[s]) == 0
}

// Validate checks a client-requested change. Unknown values are a
// validation error, edges missing from the table an invalid state, and
// from == to a no-op.
func (m Machine[S]) Validate(from, to S) error {
	if !m.Known(to) {
		return apperr.Validation("unknown %s status %q", m.Entity, string(to))
	}
	if from == to {
		return nil
	}
	if !m.Allowed(from, to) {
		return apperr.InvalidState("cannot change %s status from %s to %s", m.Entity, string(from), string(to))
	}
	return nil
}

func (m Machine[S]) rank(s S) int {
	for i, o := range m.Order {
		if o == s {
			return i
		}
	}
	return -1
}

// Reachable reports whether to can be reached from from by following edges.
func (m Machine[S]) Reachable(from, to S) bool {
	seen := map[S]bool{from: true}
	queue := []S{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range m.Edges[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Advance moves *cur forward to target when target is later in Order and
// reachable through the table. It never regresses and never fails; the
// return value tells whether *cur changed.
func (m Machine[S]) Advance(cur *S, target S) bool {
	if m.rank(target) <= m.rank(*cur) || !m.Reachable(*cur, target) {
		return false
	}
	*cur = target
	return true
}
