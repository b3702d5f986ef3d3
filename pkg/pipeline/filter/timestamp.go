package filter

import "github.com/certen-io/chain-listener/pkg/model"

// TimestampRangeFilter bounds an event's timestamp to an optional
// [Min, Max] window in unix milliseconds; a zero bound is unbounded on
// that side.
type TimestampRangeFilter struct {
	OnEnabled bool
	MinMs     int64
	MaxMs     int64
}

func (f *TimestampRangeFilter) ID() string    { return "timestamp_range_filter" }
func (f *TimestampRangeFilter) Name() string  { return "Timestamp Range Filter" }
func (f *TimestampRangeFilter) Enabled() bool { return f.OnEnabled }
func (f *TimestampRangeFilter) Priority() int { return 4 }

func (f *TimestampRangeFilter) Apply(event model.CanonicalEvent) (bool, error) {
	if f.MinMs != 0 && event.TimestampMs < f.MinMs {
		return false, nil
	}
	if f.MaxMs != 0 && event.TimestampMs > f.MaxMs {
		return false, nil
	}
	return true, nil
}
