// Package resolver resolves per-target filter configuration: given a
// (contract address, chain), it overlays the target's overrides onto the
// global defaults, field by field. The Resolver is process-scoped state
// but is passed explicitly into the filters that consult it rather than
// fetched through a package-level singleton accessor.
package resolver

import (
	"strings"
	"sync"

	"github.com/certen-io/chain-listener/pkg/model"
)

// Defaults is the global filter configuration a Resolver falls back to
// when a target has no override for a given field.
type Defaults struct {
	MinAmount          string
	MaxAmount          string
	RequiredConfirms   int
	MinPriority        model.Priority
	RejectSelfTransfer bool
}

// Resolved is the field-by-field overlay of a target's overrides on top
// of the global defaults.
type Resolved struct {
	MinAmount          string
	MaxAmount          string
	RequiredConfirms   int
	MinPriority        model.Priority
	RejectSelfTransfer bool
	CustomRules        []model.CustomRule
	TargetPriority     model.Priority
	Found              bool
}

// Resolver is the process-scoped registry: initialized once from
// configuration, mutated only through the methods below (which the
// Listener Facade calls on behalf of its public add/remove/update
// surface).
type Resolver struct {
	mu       sync.RWMutex
	defaults Defaults
	// targets is keyed by lowercased address for case-insensitive EVM
	// lookups; exact-case chains store their address lowercased too, so
	// lookups are case-insensitive on every chain, unlike the address
	// filter, which compares non-EVM addresses exact-case.
	targets map[string]model.MonitoringTarget
}

// New builds a Resolver seeded with the given global defaults.
func New(defaults Defaults) *Resolver {
	return &Resolver{
		defaults: defaults,
		targets:  make(map[string]model.MonitoringTarget),
	}
}

func key(address string) string { return strings.ToLower(address) }

// Put registers or replaces the resolvable view for target.
func (r *Resolver) Put(target model.MonitoringTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[key(target.Address)] = target
}

// Remove deletes any resolvable view for address.
func (r *Resolver) Remove(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, key(address))
}

// SetDefaults replaces the global fallback defaults.
func (r *Resolver) SetDefaults(defaults Defaults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = defaults
}

// Resolve returns the overlaid view for (address, chain). If the target
// restricts chains and chain is not among them, the global defaults are
// returned unmodified.
func (r *Resolver) Resolve(address string, chain model.ChainKind) Resolved {
	r.mu.RLock()
	defer r.mu.RUnlock()

	base := Resolved{
		MinAmount:          r.defaults.MinAmount,
		MaxAmount:          r.defaults.MaxAmount,
		RequiredConfirms:   r.defaults.RequiredConfirms,
		MinPriority:        r.defaults.MinPriority,
		RejectSelfTransfer: r.defaults.RejectSelfTransfer,
	}

	target, ok := r.targets[key(address)]
	if !ok {
		return base
	}
	if target.RestrictsChain(chain) {
		return base
	}

	base.Found = true
	base.TargetPriority = target.Priority

	ov := target.Filters
	if ov == nil {
		return base
	}
	if ov.MinAmount != nil {
		base.MinAmount = *ov.MinAmount
	}
	if ov.MaxAmount != nil {
		base.MaxAmount = *ov.MaxAmount
	}
	if ov.RequiredConfirms != nil {
		base.RequiredConfirms = *ov.RequiredConfirms
	}
	if ov.MinPriority != nil {
		base.MinPriority = *ov.MinPriority
	}
	if ov.RejectSelfTransfer != nil {
		base.RejectSelfTransfer = *ov.RejectSelfTransfer
	}
	base.CustomRules = ov.CustomRules
	return base
}
