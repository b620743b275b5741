package repository

import (
	"maps"
	"slices"

	"github.com/okian/perception/internal/domain/model"
)

// Session is the live state of one session channel: each participant's
// latest value plus a bounded, insertion-ordered rating history.
type Session struct {
	id           string
	participants map[string]float64
	history      []model.Rating
}

func newSession(id string) *Session {
	return &Session{
		id:           id,
		participants: make(map[string]float64),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Values returns a copy of the participant -> latest value map.
func (s *Session) Values() map[string]float64 {
	return maps.Clone(s.participants)
}

// Value returns the latest value of one participant.
func (s *Session) Value(participantID string) (float64, bool) {
	v, ok := s.participants[participantID]
	return v, ok
}

// ParticipantCount returns how many participants currently hold a value.
func (s *Session) ParticipantCount() int { return len(s.participants) }

// History returns a copy of the retained rating history, oldest first.
func (s *Session) History() []model.Rating {
	return slices.Clone(s.history)
}

// HistoryLen returns the number of retained history entries.
func (s *Session) HistoryLen() int { return len(s.history) }
