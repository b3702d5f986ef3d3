package filter

import (
	"strings"

	"github.com/certen-io/chain-listener/pkg/model"
)

// ContractFilter passes an event whose token_address or contract_address
// is present in either the configured ERC-20 or ERC-721 set.
// Comparisons are lowercased to match the EVM-only case policy these
// two sets are populated from.
type ContractFilter struct {
	OnEnabled bool
	Contracts map[string]struct{}
}

// NewContractFilter builds a ContractFilter over the union of erc20 and
// erc721 contract addresses.
func NewContractFilter(erc20, erc721 []string) *ContractFilter {
	set := make(map[string]struct{}, len(erc20)+len(erc721))
	for _, a := range erc20 {
		set[strings.ToLower(a)] = struct{}{}
	}
	for _, a := range erc721 {
		set[strings.ToLower(a)] = struct{}{}
	}
	return &ContractFilter{OnEnabled: true, Contracts: set}
}

func (f *ContractFilter) ID() string    { return "contract_filter" }
func (f *ContractFilter) Name() string  { return "Contract Filter" }
func (f *ContractFilter) Enabled() bool { return f.OnEnabled }
func (f *ContractFilter) Priority() int { return 9 }

func (f *ContractFilter) Apply(event model.CanonicalEvent) (bool, error) {
	for _, addr := range []string{event.Data.TokenAddress, event.Data.ContractAddress} {
		if addr == "" {
			continue
		}
		if _, ok := f.Contracts[strings.ToLower(addr)]; ok {
			return true, nil
		}
	}
	return false, nil
}
