package filter

import (
	"strings"

	"github.com/certen-io/chain-listener/pkg/model"
)

// SelfTransferFilter rejects an event whose from and to are both present
// and equal (case-insensitive for EVM chains), when enabled.
type SelfTransferFilter struct {
	OnEnabled bool
	isEVM     func(model.ChainKind) bool
}

// NewSelfTransferFilter builds a SelfTransferFilter.
func NewSelfTransferFilter(isEVM func(model.ChainKind) bool) *SelfTransferFilter {
	return &SelfTransferFilter{OnEnabled: true, isEVM: isEVM}
}

func (f *SelfTransferFilter) ID() string    { return "self_transfer_filter" }
func (f *SelfTransferFilter) Name() string  { return "Self-Transfer Filter" }
func (f *SelfTransferFilter) Enabled() bool { return f.OnEnabled }
func (f *SelfTransferFilter) Priority() int { return 6 }

func (f *SelfTransferFilter) Apply(event model.CanonicalEvent) (bool, error) {
	from, to := event.Data.From, event.Data.To
	if from == "" || to == "" {
		return true, nil
	}
	if f.isEVM(event.Chain) {
		from, to = strings.ToLower(from), strings.ToLower(to)
	}
	return from != to, nil
}
