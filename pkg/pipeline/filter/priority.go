package filter

import (
	"github.com/certen-io/chain-listener/pkg/model"
	"github.com/certen-io/chain-listener/pkg/resolver"
)

// PriorityFilter requires the event's resolved target priority to be at
// least MinPriority; an event with no resolvable target passes.
type PriorityFilter struct {
	OnEnabled   bool
	MinPriority model.Priority
	Resolver    *resolver.Resolver
}

func (f *PriorityFilter) ID() string    { return "priority_filter" }
func (f *PriorityFilter) Name() string  { return "Priority Filter" }
func (f *PriorityFilter) Enabled() bool { return f.OnEnabled }
func (f *PriorityFilter) Priority() int { return 2 }

func (f *PriorityFilter) Apply(event model.CanonicalEvent) (bool, error) {
	contract := event.Data.ContractAddress
	if contract == "" {
		contract = event.Data.TokenAddress
	}
	if contract == "" {
		return true, nil
	}
	resolved := f.Resolver.Resolve(contract, event.Chain)
	if !resolved.Found {
		return true, nil
	}
	minPriority := f.MinPriority
	if resolved.MinPriority != "" {
		minPriority = resolved.MinPriority
	}
	return resolved.TargetPriority.AtLeast(minPriority), nil
}
