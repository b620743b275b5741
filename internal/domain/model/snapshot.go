package model

import "time"

// Snapshot is the perception:aggregate payload: statistics over every
// participant's latest value at the time of one rating.
type Snapshot struct {
	Timestamp    int64              `json:"timestamp"`
	Mean         float64            `json:"mean"`
	Median       float64            `json:"median"`
	StdDev       float64            `json:"stdDev"`
	Participants map[string]float64 `json:"participants"`
}

// Presence is the participant:joined / participant:left payload.
type Presence struct {
	ParticipantID string `json:"participantId"`
}

// RecordKind tags archived records.
type RecordKind string

// Archived record kinds.
const (
	KindRating           RecordKind = "rating"
	KindRecordingStarted RecordKind = "recording-started"
	KindRecordingStopped RecordKind = "recording-stopped"
	KindMediaSync        RecordKind = "media-sync"
)

// ArchiveRecord is what the hub hands to the optional archive pipeline.
type ArchiveRecord struct {
	Kind           RecordKind
	SessionID      string
	Rating         Rating   // set for KindRating
	MediaTimestamp *float64 // set for KindMediaSync
	ReceivedAt     time.Time
}

// Mark is an archived session control event.
type Mark struct {
	Kind           RecordKind `json:"kind"`
	MediaTimestamp *float64   `json:"mediaTimestamp,omitempty"`
	ReceivedAt     int64      `json:"receivedAt"`
}

// ArchiveExport is the archived data of one session.
type ArchiveExport struct {
	SessionID string   `json:"sessionId"`
	Ratings   []Rating `json:"ratings"`
	Marks     []Mark   `json:"marks"`
}
