// Package repository holds the in-memory per-session rating state.
package repository

// Default history bounds.
const (
	DefaultHistoryCap    = 10_000
	DefaultHistoryRetain = 5_000
)

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithHistoryLimits sets the length that triggers truncation and how many
// of the newest entries survive it. Invalid pairs are ignored.
func WithHistoryLimits(capacity, retain int) Option {
	return func(r *Registry) {
		if retain > 0 && capacity >= retain {
			r.historyCap = capacity
			r.historyRetain = retain
		}
	}
}
