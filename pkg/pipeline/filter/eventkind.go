package filter

import "github.com/certen-io/chain-listener/pkg/model"

// EventKindFilter passes an event whose Kind is in the allowed set.
type EventKindFilter struct {
	OnEnabled bool
	Allowed   map[model.EventKind]struct{}
}

// NewEventKindFilter builds an EventKindFilter over the allowed kinds.
func NewEventKindFilter(kinds []model.EventKind) *EventKindFilter {
	set := make(map[model.EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return &EventKindFilter{OnEnabled: true, Allowed: set}
}

func (f *EventKindFilter) ID() string    { return "event_kind_filter" }
func (f *EventKindFilter) Name() string  { return "Event Kind Filter" }
func (f *EventKindFilter) Enabled() bool { return f.OnEnabled }
func (f *EventKindFilter) Priority() int { return 7 }

func (f *EventKindFilter) Apply(event model.CanonicalEvent) (bool, error) {
	_, ok := f.Allowed[event.Kind]
	return ok, nil
}
