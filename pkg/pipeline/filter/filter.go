// Package filter implements the predicates that gate events entering the
// pipeline. Each filter has a stable id, a priority the pipeline sorts on
// descending, and an Apply that gates a CanonicalEvent. A filter that
// errors is treated as a rejection by the pipeline, never as a crash.
package filter

import "github.com/certen-io/chain-listener/pkg/model"

// Filter is one named, prioritized predicate over a canonical event.
type Filter interface {
	ID() string
	Name() string
	Enabled() bool
	Priority() int
	Apply(event model.CanonicalEvent) (bool, error)
}

// ByPriorityDescending sorts a slice of Filter by descending Priority, the
// order the pipeline evaluates them in.
func ByPriorityDescending(filters []Filter) {
	// insertion sort: filter sets are small (single digits), and this
	// keeps equal-priority filters in registration order.
	for i := 1; i < len(filters); i++ {
		for j := i; j > 0 && filters[j].Priority() > filters[j-1].Priority(); j-- {
			filters[j], filters[j-1] = filters[j-1], filters[j]
		}
	}
}
