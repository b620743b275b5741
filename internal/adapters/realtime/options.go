package realtime

import (
	"time"

	"github.com/okian/perception/internal/adapters/repository"
	"github.com/okian/perception/internal/domain/model"
	"github.com/okian/perception/pkg/logger"
)

const defaultInboxSize = 4096

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithRegistry injects the session registry. The hub becomes its only user.
func WithRegistry(r *repository.Registry) Option {
	return func(h *Hub) {
		if r != nil {
			h.registry = r
		}
	}
}

// WithBroadcaster replaces the in-memory room set.
func WithBroadcaster(b Broadcaster) Option {
	return func(h *Hub) {
		if b != nil {
			h.rooms = b
		}
	}
}

// WithBounds sets the accepted rating range.
func WithBounds(lo, hi float64) Option {
	return func(h *Hub) {
		if lo < hi {
			h.bounds = model.Bounds{Min: lo, Max: hi}
		}
	}
}

// WithArchive hands accepted ratings and control marks to a after they have
// been broadcast.
func WithArchive(a Archiver) Option {
	return func(h *Hub) {
		h.archive = a
	}
}

// WithInboxSize sets the hub inbox buffer.
func WithInboxSize(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.inboxSize = size
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock overrides the time source used for server-side stamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}
