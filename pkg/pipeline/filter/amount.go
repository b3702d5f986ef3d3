package filter

import (
	"math/big"

	"github.com/certen-io/chain-listener/pkg/model"
	"github.com/certen-io/chain-listener/pkg/resolver"
)

// AmountFilter passes an event whose decimal amount falls within
// [min, max]. An absent or unparsable amount is neutral (passes).
// Min/Max of "" mean unbounded on that side.
type AmountFilter struct {
	OnEnabled bool
	Min, Max  string

	// Resolver, when non-nil, makes this the "target-aware variant" that
	// resolves (min, max) through C9 keyed by the event's contract
	// address instead of using the static Min/Max above.
	Resolver *resolver.Resolver
}

func (f *AmountFilter) ID() string {
	if f.Resolver != nil {
		return "amount_filter_target_aware"
	}
	return "amount_filter"
}
func (f *AmountFilter) Name() string  { return "Amount Filter" }
func (f *AmountFilter) Enabled() bool { return f.OnEnabled }
func (f *AmountFilter) Priority() int { return 8 }

func (f *AmountFilter) Apply(event model.CanonicalEvent) (bool, error) {
	amount, ok := new(big.Rat).SetString(event.Data.Amount)
	if !ok {
		return true, nil // absent/unparsable is neutral
	}

	minStr, maxStr := f.Min, f.Max
	if f.Resolver != nil {
		contract := event.Data.TokenAddress
		if contract == "" {
			contract = event.Data.ContractAddress
		}
		resolved := f.Resolver.Resolve(contract, event.Chain)
		minStr, maxStr = resolved.MinAmount, resolved.MaxAmount
	}

	if minStr != "" {
		min, ok := new(big.Rat).SetString(minStr)
		if ok && amount.Cmp(min) < 0 {
			return false, nil
		}
	}
	if maxStr != "" {
		max, ok := new(big.Rat).SetString(maxStr)
		if ok && amount.Cmp(max) > 0 {
			return false, nil
		}
	}
	return true, nil
}
