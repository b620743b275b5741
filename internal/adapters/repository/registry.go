package repository

import (
	"github.com/okian/perception/internal/domain/model"
)

// Registry maps session ids to their live state. It is not safe for
// concurrent use; one goroutine (the hub loop) owns it.
type Registry struct {
	sessions      map[string]*Session
	historyCap    int
	historyRetain int
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:      make(map[string]*Session),
		historyCap:    DefaultHistoryCap,
		historyRetain: DefaultHistoryRetain,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the session for id, creating an empty one on first use.
func (r *Registry) GetOrCreate(id string) *Session {
	s, ok := r.sessions[id]
	if !ok {
		s = newSession(id)
		r.sessions[id] = s
	}
	return s
}

// Lookup returns the session for id without creating it.
func (r *Registry) Lookup(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// RecordRating stores the rating as its participant's latest value and
// appends it to the history. When the history grows past the cap only the
// newest retained entries are kept; truncated reports whether that happened.
func (r *Registry) RecordRating(id string, rating model.Rating) (s *Session, truncated bool) {
	s = r.GetOrCreate(id)
	s.participants[rating.ParticipantID] = rating.Value
	s.history = append(s.history, rating)

	if len(s.history) > r.historyCap {
		kept := make([]model.Rating, r.historyRetain, r.historyCap+1)
		copy(kept, s.history[len(s.history)-r.historyRetain:])
		s.history = kept
		truncated = true
	}
	return s, truncated
}

// RemoveParticipant deletes a participant's latest value. History is kept.
// It reports whether the participant was present.
func (r *Registry) RemoveParticipant(id, participantID string) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	if _, ok := s.participants[participantID]; !ok {
		return false
	}
	delete(s.participants, participantID)
	return true
}

// ClearSession drops the whole session. It reports whether it existed.
func (r *Registry) ClearSession(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Count returns the number of tracked sessions.
func (r *Registry) Count() int { return len(r.sessions) }
