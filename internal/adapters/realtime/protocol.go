// Package realtime routes rating and session-control events between the
// clients of a session room.
package realtime

import (
	"encoding/json"
	"fmt"
)

// Inbound events.
const (
	EventPerceptionUpdate = "perception:update"
	EventStartRecording   = "session:start-recording"
	EventStopRecording    = "session:stop-recording"
	EventPlayMedia        = "session:play-media"
)

// Outbound events.
const (
	EventParticipantJoined     = "participant:joined"
	EventParticipantLeft       = "participant:left"
	EventPerceptionParticipant = "perception:participant"
	EventPerceptionAggregate   = "perception:aggregate"
	EventRecordingStarted      = "session:recording-started"
	EventRecordingStopped      = "session:recording-stopped"
	EventMediaSync             = "session:media-sync"
)

// Envelope is one text frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds the frame for event. A nil payload omits data.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses an inbound frame.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	}
	return env, nil
}
