package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/perception/internal/adapters/repository"
	"github.com/okian/perception/internal/domain/model"
	"github.com/okian/perception/internal/domain/stats"
	"github.com/okian/perception/pkg/logger"
	"github.com/okian/perception/pkg/metrics"
)

// Archiver receives records after their broadcast. Enqueue must not block.
type Archiver interface {
	Enqueue(ctx context.Context, r model.ArchiveRecord) bool
}

// SessionView is a read-side copy of one session.
type SessionView struct {
	SessionID     string         `json:"sessionId"`
	Aggregate     model.Snapshot `json:"aggregate"`
	HistoryLength int            `json:"historyLength"`
	Connections   int            `json:"connections"`
}

// Stats summarises the hub.
type Stats struct {
	Sessions      int `json:"sessions"`
	Connections   int `json:"connections"`
	InboxSize     int `json:"inboxSize"`
	InboxCapacity int `json:"inboxCapacity"`
}

type membership struct {
	sessionID     string
	participantID string
}

type command func(ctx context.Context)

// Hub owns the session registry and the rooms. Every mutation runs on the
// goroutine executing Run, in the order commands were submitted.
type Hub struct {
	registry  *repository.Registry
	rooms     Broadcaster
	bounds    model.Bounds
	archive   Archiver
	inboxSize int
	now       func() time.Time
	logger    logger.Logger

	inbox   chan command
	members map[Client]membership
	running chan struct{}
	done    chan struct{}
}

// NewHub creates a hub. It does nothing until Run is called.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		bounds:    model.DefaultBounds,
		inboxSize: defaultInboxSize,
		now:       time.Now,
		members:   make(map[Client]membership),
		running:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.registry == nil {
		h.registry = repository.NewRegistry()
	}
	if h.rooms == nil {
		h.rooms = NewRooms()
	}
	if h.logger == nil {
		h.logger = logger.Get().Named("hub")
	}
	h.inbox = make(chan command, h.inboxSize)

	return h
}

// Run processes commands until ctx is cancelled. On exit every client is
// closed and later calls fail with ErrStopped.
func (h *Hub) Run(ctx context.Context) error {
	select {
	case h.running <- struct{}{}:
	default:
		return ErrAlreadyRunning
	}
	defer close(h.done)
	defer h.closeAll(ctx)

	h.logger.Info(ctx, "hub started", logger.Int("inbox", h.inboxSize))
	for {
		select {
		case <-ctx.Done():
			h.logger.Info(ctx, "hub stopping", logger.Int("connections", len(h.members)))
			return nil
		case cmd := <-h.inbox:
			h.exec(ctx, cmd)
			metrics.UpdateHubInboxSize(len(h.inbox))
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) exec(ctx context.Context, cmd command) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordHandlerPanic()
			h.logger.Error(ctx, "hub handler panic", logger.Any("panic", r))
		}
	}()
	cmd(ctx)
}

func (h *Hub) submit(ctx context.Context, cmd command) error {
	select {
	case <-h.done:
		return ErrStopped
	default:
	}
	select {
	case h.inbox <- cmd:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call submits cmd and waits for it to finish.
func (h *Hub) call(ctx context.Context, cmd command) error {
	finished := make(chan struct{})
	err := h.submit(ctx, func(ctx context.Context) {
		defer close(finished)
		cmd(ctx)
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect joins c to the room of sessionID, creating the session on first
// use, and tells the other members. It returns once the join is applied.
func (h *Hub) Connect(ctx context.Context, c Client, sessionID, participantID string) error {
	return h.call(ctx, func(ctx context.Context) {
		if _, ok := h.members[c]; ok {
			return
		}
		h.registry.GetOrCreate(sessionID)
		h.rooms.Join(sessionID, c)
		h.members[c] = membership{sessionID: sessionID, participantID: participantID}
		h.updateGauges()

		h.logger.Debug(ctx, "participant joined",
			logger.String("session", sessionID),
			logger.String("participant", participantID),
			logger.String("client", c.ID()),
		)
		h.emit(ctx, sessionID, EventParticipantJoined, model.Presence{ParticipantID: participantID}, c)
	})
}

// Disconnect removes c, drops its participant's latest value and tells the
// rest of the room.
func (h *Hub) Disconnect(ctx context.Context, c Client) error {
	return h.submit(ctx, func(ctx context.Context) {
		h.leave(ctx, c)
	})
}

// Dispatch decodes one inbound frame from c and queues its effect. Frames
// that fail validation are dropped and the reason is returned.
func (h *Hub) Dispatch(ctx context.Context, c Client, frame []byte) error {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		h.reject(ctx, c, "malformed_frame", err)
		return err
	}

	switch env.Event {
	case EventPerceptionUpdate:
		r, err := model.DecodeRating(env.Data)
		if err == nil {
			err = h.bounds.Check(r.Value)
		}
		if err != nil {
			reason := "malformed_rating"
			if errors.Is(err, model.ErrOutOfRange) {
				reason = "out_of_range"
			}
			h.reject(ctx, c, reason, err)
			return err
		}
		if r.Timestamp == 0 {
			r.Timestamp = h.now().UnixMilli()
		}
		return h.submit(ctx, func(ctx context.Context) {
			h.applyRating(ctx, c, r)
		})

	case EventStartRecording, EventStopRecording:
		event := env.Event
		return h.submit(ctx, func(ctx context.Context) {
			if m, ok := h.members[c]; ok {
				h.control(ctx, m.sessionID, event, nil)
			}
		})

	case EventPlayMedia:
		ts, err := model.DecodeMediaTimestamp(env.Data)
		if err != nil {
			h.reject(ctx, c, "malformed_media", err)
			return err
		}
		return h.submit(ctx, func(ctx context.Context) {
			if m, ok := h.members[c]; ok {
				h.control(ctx, m.sessionID, EventPlayMedia, &ts)
			}
		})

	default:
		err := fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
		metrics.RecordRatingRejected("unknown_event")
		h.logger.Debug(ctx, "dropping frame", logger.String("client", c.ID()), logger.Error(err))
		return err
	}
}

// StartRecording broadcasts session:recording-started to the room.
func (h *Hub) StartRecording(ctx context.Context, sessionID string) error {
	return h.call(ctx, func(ctx context.Context) {
		h.control(ctx, sessionID, EventStartRecording, nil)
	})
}

// StopRecording broadcasts session:recording-stopped to the room.
func (h *Hub) StopRecording(ctx context.Context, sessionID string) error {
	return h.call(ctx, func(ctx context.Context) {
		h.control(ctx, sessionID, EventStopRecording, nil)
	})
}

// PlayMedia broadcasts session:media-sync with ts to the room.
func (h *Hub) PlayMedia(ctx context.Context, sessionID string, ts float64) error {
	return h.call(ctx, func(ctx context.Context) {
		h.control(ctx, sessionID, EventPlayMedia, &ts)
	})
}

// SessionCount returns the number of tracked sessions.
func (h *Hub) SessionCount(ctx context.Context) (int, error) {
	var n int
	err := h.call(ctx, func(context.Context) {
		n = h.registry.Count()
	})
	return n, err
}

// Session returns a view of a tracked session.
func (h *Hub) Session(ctx context.Context, sessionID string) (SessionView, error) {
	var (
		view  SessionView
		found bool
	)
	err := h.call(ctx, func(context.Context) {
		s, ok := h.registry.Lookup(sessionID)
		if !ok {
			return
		}
		found = true
		values := s.Values()
		agg := stats.FromParticipants(values)
		view = SessionView{
			SessionID: sessionID,
			Aggregate: model.Snapshot{
				Timestamp:    h.now().UnixMilli(),
				Mean:         agg.Mean,
				Median:       agg.Median,
				StdDev:       agg.StdDev,
				Participants: values,
			},
			HistoryLength: s.HistoryLen(),
			Connections:   h.roomSize(sessionID),
		}
	})
	if err != nil {
		return SessionView{}, err
	}
	if !found {
		return SessionView{}, fmt.Errorf("%w: %s", repository.ErrSessionNotFound, sessionID)
	}
	return view, nil
}

// History returns a copy of a tracked session's retained history.
func (h *Hub) History(ctx context.Context, sessionID string) ([]model.Rating, error) {
	var history []model.Rating
	found := false
	err := h.call(ctx, func(context.Context) {
		if s, ok := h.registry.Lookup(sessionID); ok {
			found = true
			history = s.History()
		}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", repository.ErrSessionNotFound, sessionID)
	}
	if history == nil {
		history = []model.Rating{}
	}
	return history, nil
}

// ClearSession drops a session's state. Connected clients stay in the room;
// their next rating recreates the session.
func (h *Hub) ClearSession(ctx context.Context, sessionID string) error {
	var cleared bool
	err := h.call(ctx, func(ctx context.Context) {
		cleared = h.registry.ClearSession(sessionID)
		h.updateGauges()
		if cleared {
			h.logger.Info(ctx, "session cleared", logger.String("session", sessionID))
		}
	})
	if err != nil {
		return err
	}
	if !cleared {
		return fmt.Errorf("%w: %s", repository.ErrSessionNotFound, sessionID)
	}
	return nil
}

// Stats returns hub counters.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.call(ctx, func(context.Context) {
		s = Stats{
			Sessions:      h.registry.Count(),
			Connections:   len(h.members),
			InboxSize:     len(h.inbox),
			InboxCapacity: cap(h.inbox),
		}
	})
	return s, err
}

func (h *Hub) applyRating(ctx context.Context, c Client, r model.Rating) { //nolint:gocritic // hugeParam: rating is copied into history
	m, ok := h.members[c]
	if !ok {
		// Disconnected while the frame was queued.
		return
	}
	switch {
	case r.SessionID == "":
		r.SessionID = m.sessionID
	case r.SessionID != m.sessionID:
		h.reject(ctx, c, "session_mismatch", fmt.Errorf("%w: session %q", ErrMismatch, r.SessionID))
		return
	}
	switch {
	case r.ParticipantID == "":
		r.ParticipantID = m.participantID
	case r.ParticipantID != m.participantID:
		h.reject(ctx, c, "participant_mismatch", fmt.Errorf("%w: participant %q", ErrMismatch, r.ParticipantID))
		return
	}

	start := time.Now()
	s, truncated := h.registry.RecordRating(m.sessionID, r)
	if truncated {
		metrics.RecordHistoryTruncation()
		h.logger.Debug(ctx, "history truncated",
			logger.String("session", m.sessionID),
			logger.Int("retained", s.HistoryLen()),
		)
	}

	values := s.Values()
	agg := stats.FromParticipants(values)
	snapshot := model.Snapshot{
		Timestamp:    r.Timestamp,
		Mean:         agg.Mean,
		Median:       agg.Median,
		StdDev:       agg.StdDev,
		Participants: values,
	}
	metrics.RecordRatingAccepted()
	metrics.RecordAggregateLatency(float64(time.Since(start).Microseconds()) / 1000)

	h.emit(ctx, m.sessionID, EventPerceptionParticipant, r, c)
	h.emit(ctx, m.sessionID, EventPerceptionAggregate, snapshot, nil)

	h.archiveRecord(ctx, model.ArchiveRecord{
		Kind:       model.KindRating,
		SessionID:  m.sessionID,
		Rating:     r,
		ReceivedAt: h.now(),
	})
}

// control relays a session-control event. Untracked sessions are not
// created; an empty room simply receives nothing.
func (h *Hub) control(ctx context.Context, sessionID, event string, mediaTS *float64) {
	metrics.RecordControlEvent(event)

	var (
		out  string
		kind model.RecordKind
	)
	switch event {
	case EventStartRecording:
		out, kind = EventRecordingStarted, model.KindRecordingStarted
	case EventStopRecording:
		out, kind = EventRecordingStopped, model.KindRecordingStopped
	case EventPlayMedia:
		out, kind = EventMediaSync, model.KindMediaSync
	default:
		return
	}

	if mediaTS != nil {
		h.emit(ctx, sessionID, out, *mediaTS, nil)
	} else {
		h.emit(ctx, sessionID, out, nil, nil)
	}

	if _, ok := h.registry.Lookup(sessionID); ok {
		h.archiveRecord(ctx, model.ArchiveRecord{
			Kind:           kind,
			SessionID:      sessionID,
			MediaTimestamp: mediaTS,
			ReceivedAt:     h.now(),
		})
	}
}

func (h *Hub) leave(ctx context.Context, c Client) {
	m, ok := h.members[c]
	if !ok {
		return
	}
	delete(h.members, c)
	h.rooms.Leave(m.sessionID, c)
	h.registry.RemoveParticipant(m.sessionID, m.participantID)
	h.updateGauges()

	h.logger.Debug(ctx, "participant left",
		logger.String("session", m.sessionID),
		logger.String("participant", m.participantID),
		logger.String("client", c.ID()),
	)
	h.emit(ctx, m.sessionID, EventParticipantLeft, model.Presence{ParticipantID: m.participantID}, nil)
}

// emit broadcasts and evicts members whose send buffer is full.
func (h *Hub) emit(ctx context.Context, room, event string, payload any, except Client) {
	d, err := h.rooms.Emit(room, event, payload, except)
	if err != nil {
		h.logger.Error(ctx, "broadcast failed",
			logger.String("session", room),
			logger.String("event", event),
			logger.Error(err),
		)
		return
	}
	metrics.RecordBroadcast(event, d.Sent)

	for _, slow := range d.Dropped {
		if _, ok := h.members[slow]; !ok {
			continue
		}
		metrics.RecordSlowClientEvicted()
		h.logger.Warn(ctx, "evicting slow client",
			logger.String("session", room),
			logger.String("client", slow.ID()),
		)
		slow.Close()
		h.leave(ctx, slow)
	}
}

func (h *Hub) archiveRecord(ctx context.Context, r model.ArchiveRecord) { //nolint:gocritic // hugeParam: record is queued by value
	if h.archive == nil {
		return
	}
	if !h.archive.Enqueue(ctx, r) {
		h.logger.Debug(ctx, "archive record dropped",
			logger.String("session", r.SessionID),
			logger.String("kind", string(r.Kind)),
		)
	}
}

func (h *Hub) reject(ctx context.Context, c Client, reason string, err error) {
	metrics.RecordRatingRejected(reason)
	h.logger.Warn(ctx, "dropping inbound frame",
		logger.String("client", c.ID()),
		logger.String("reason", reason),
		logger.Error(err),
	)
}

func (h *Hub) roomSize(sessionID string) int {
	n := 0
	for _, m := range h.members {
		if m.sessionID == sessionID {
			n++
		}
	}
	return n
}

func (h *Hub) updateGauges() {
	metrics.UpdateActiveSessions(h.registry.Count())
	metrics.UpdateActiveConnections(len(h.members))
}

func (h *Hub) closeAll(ctx context.Context) {
	for c, m := range h.members {
		h.rooms.Leave(m.sessionID, c)
		c.Close()
		delete(h.members, c)
	}
	h.updateGauges()
	h.logger.Info(ctx, "hub stopped")
}
