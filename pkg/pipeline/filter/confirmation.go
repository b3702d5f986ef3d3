package filter

import "github.com/certen-io/chain-listener/pkg/model"

// ConfirmationFilter requires confirmation_count >= Required.
type ConfirmationFilter struct {
	OnEnabled bool
	Required  uint64
}

func (f *ConfirmationFilter) ID() string    { return "confirmation_filter" }
func (f *ConfirmationFilter) Name() string  { return "Confirmation Filter" }
func (f *ConfirmationFilter) Enabled() bool { return f.OnEnabled }
func (f *ConfirmationFilter) Priority() int { return 5 }

func (f *ConfirmationFilter) Apply(event model.CanonicalEvent) (bool, error) {
	return event.ConfirmationCount >= f.Required, nil
}
