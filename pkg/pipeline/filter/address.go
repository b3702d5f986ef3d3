package filter

import (
	"strings"

	"github.com/certen-io/chain-listener/pkg/model"
)

// AddressFilter passes an event whose from or to is present in the
// configured address set. EVM addresses compare case-insensitively;
// every other chain compares exact-case.
type AddressFilter struct {
	OnEnabled bool
	Addresses map[string]struct{} // exact-case, as configured
	lower     map[string]struct{} // lowercased copies, for EVM lookups
	isEVM     func(model.ChainKind) bool
}

// NewAddressFilter builds an AddressFilter over addresses, keeping each
// address as given for exact-case chains and a lowercased copy so EVM
// comparisons are case-insensitive.
func NewAddressFilter(addresses []string, isEVM func(model.ChainKind) bool) *AddressFilter {
	set := make(map[string]struct{}, len(addresses))
	lower := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		set[a] = struct{}{}
		lower[strings.ToLower(a)] = struct{}{}
	}
	return &AddressFilter{OnEnabled: true, Addresses: set, lower: lower, isEVM: isEVM}
}

func (f *AddressFilter) ID() string    { return "address_filter" }
func (f *AddressFilter) Name() string  { return "Address Filter" }
func (f *AddressFilter) Enabled() bool { return f.OnEnabled }
func (f *AddressFilter) Priority() int { return 10 }

func (f *AddressFilter) Apply(event model.CanonicalEvent) (bool, error) {
	from, to := event.Data.From, event.Data.To
	set := f.Addresses
	if f.isEVM(event.Chain) {
		from, to = strings.ToLower(from), strings.ToLower(to)
		set = f.lower
	}
	if from != "" {
		if _, ok := set[from]; ok {
			return true, nil
		}
	}
	if to != "" {
		if _, ok := set[to]; ok {
			return true, nil
		}
	}
	return false, nil
}
