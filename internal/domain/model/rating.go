// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Rating is one perception value submitted by a participant.
// Fields mirror the perception:update wire payload.
type Rating struct {
	ParticipantID  string   `json:"participantId"`
	SessionID      string   `json:"sessionId"`
	Timestamp      int64    `json:"timestamp"`                // client clock, ms since epoch
	Value          float64  `json:"value"`                    // expected 0-100
	MediaTimestamp *float64 `json:"mediaTimestamp,omitempty"` // playback position, if media is running
}

// ratingWire is the lenient inbound shape. Pointers distinguish "absent"
// from zero; userId is the older name for participantId.
type ratingWire struct {
	ParticipantID  string   `json:"participantId"`
	UserID         string   `json:"userId"`
	SessionID      string   `json:"sessionId"`
	Timestamp      *float64 `json:"timestamp"`
	Value          *float64 `json:"value"`
	MediaTimestamp *float64 `json:"mediaTimestamp"`
}

// DecodeRating parses a perception:update payload. It fails on malformed JSON
// or a missing value; range checks are left to Bounds.Check.
func DecodeRating(data []byte) (Rating, error) {
	var w ratingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Rating{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if w.Value == nil {
		return Rating{}, fmt.Errorf("%w: missing value", ErrMalformed)
	}

	r := Rating{
		ParticipantID:  w.ParticipantID,
		SessionID:      w.SessionID,
		Value:          *w.Value,
		MediaTimestamp: w.MediaTimestamp,
	}
	if r.ParticipantID == "" {
		r.ParticipantID = w.UserID
	}
	if w.Timestamp != nil {
		// float64(math.MaxInt64) rounds up to 2^63, which no longer fits.
		if !isFinite(*w.Timestamp) || *w.Timestamp < 0 || *w.Timestamp >= math.MaxInt64 {
			return Rating{}, fmt.Errorf("%w: bad timestamp", ErrMalformed)
		}
		r.Timestamp = int64(*w.Timestamp)
	}
	if r.MediaTimestamp != nil && !isFinite(*r.MediaTimestamp) {
		return Rating{}, fmt.Errorf("%w: bad mediaTimestamp", ErrMalformed)
	}
	return r, nil
}

// Bounds is the accepted rating value domain, inclusive on both ends.
type Bounds struct {
	Min float64
	Max float64
}

// DefaultBounds is the 0-100 perception scale.
var DefaultBounds = Bounds{Min: 0, Max: 100}

// Check rejects non-finite values and values outside the bounds.
func (b Bounds) Check(v float64) error {
	if !isFinite(v) {
		return fmt.Errorf("%w: value is not finite", ErrOutOfRange)
	}
	if v < b.Min || v > b.Max {
		return fmt.Errorf("%w: %g not in [%g, %g]", ErrOutOfRange, v, b.Min, b.Max)
	}
	return nil
}

// DecodeMediaTimestamp parses the session:play-media payload, a bare number.
func DecodeMediaTimestamp(data []byte) (float64, error) {
	var ts float64
	if err := json.Unmarshal(data, &ts); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if !isFinite(ts) {
		return 0, fmt.Errorf("%w: media timestamp is not finite", ErrMalformed)
	}
	return ts, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
