package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/perception/internal/adapters/realtime"
	"github.com/okian/perception/internal/adapters/repository"
	"github.com/okian/perception/internal/domain/model"
	logging "github.com/okian/perception/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestHubRatings(t *testing.T) {
	Convey("Given a running hub", t, func() {
		ctx := context.Background()
		h := startHub(t)

		Convey("Scenario A: a participant replaces its own value", func() {
			p1 := newFakeClient("c1")
			So(h.Connect(ctx, p1, "S1", "p1"), ShouldBeNil)

			So(h.Dispatch(ctx, p1, ratingFrame(t, map[string]any{"participantId": "p1", "sessionId": "S1", "timestamp": 1, "value": 80})), ShouldBeNil)
			p1.next(t, realtime.EventPerceptionAggregate)
			So(h.Dispatch(ctx, p1, ratingFrame(t, map[string]any{"participantId": "p1", "sessionId": "S1", "timestamp": 2, "value": 20})), ShouldBeNil)
			snap := decodeSnapshot(t, p1.next(t, realtime.EventPerceptionAggregate))

			So(snap.Mean, ShouldEqual, 20)
			So(snap.Median, ShouldEqual, 20)
			So(snap.StdDev, ShouldEqual, 0)
			So(snap.Participants, ShouldResemble, map[string]float64{"p1": 20})
			So(snap.Timestamp, ShouldEqual, int64(2))
		})

		Convey("Scenario B: two participants in sequence", func() {
			p1 := newFakeClient("c1")
			p2 := newFakeClient("c2")
			So(h.Connect(ctx, p1, "S2", "p1"), ShouldBeNil)
			So(h.Connect(ctx, p2, "S2", "p2"), ShouldBeNil)

			So(h.Dispatch(ctx, p1, ratingFrame(t, map[string]any{"participantId": "p1", "sessionId": "S2", "timestamp": 1, "value": 40})), ShouldBeNil)
			p2.next(t, realtime.EventPerceptionAggregate)
			So(h.Dispatch(ctx, p2, ratingFrame(t, map[string]any{"participantId": "p2", "sessionId": "S2", "timestamp": 2, "value": 60})), ShouldBeNil)

			for _, c := range []*fakeClient{p1, p2} {
				var snap model.Snapshot
				for len(snap.Participants) < 2 {
					snap = decodeSnapshot(t, c.next(t, realtime.EventPerceptionAggregate))
				}
				So(snap.Mean, ShouldEqual, 50)
				So(snap.Median, ShouldEqual, 50)
				So(snap.StdDev, ShouldEqual, 10)
			}
		})

		Convey("When a participant rates", func() {
			sender := newFakeClient("c1")
			other := newFakeClient("c2")
			So(h.Connect(ctx, sender, "S1", "alice"), ShouldBeNil)
			So(h.Connect(ctx, other, "S1", "bob"), ShouldBeNil)

			So(h.Dispatch(ctx, sender, ratingFrame(t, map[string]any{"participantId": "alice", "sessionId": "S1", "timestamp": 10, "value": 75})), ShouldBeNil)

			Convey("Then the sender gets the aggregate but not its own delta", func() {
				_, skipped := sender.nextCollect(t, realtime.EventPerceptionAggregate)
				So(skipped, ShouldNotContain, realtime.EventPerceptionParticipant)
			})

			Convey("Then other members get the delta followed by the aggregate", func() {
				env := other.next(t, realtime.EventPerceptionParticipant)
				var r model.Rating
				So(json.Unmarshal(env.Data, &r), ShouldBeNil)
				So(r.ParticipantID, ShouldEqual, "alice")
				So(r.Value, ShouldEqual, 75)

				snap := decodeSnapshot(t, other.next(t, realtime.EventPerceptionAggregate))
				So(snap.Participants, ShouldResemble, map[string]float64{"alice": 75})
			})
		})

		Convey("When the rating omits ids and timestamp", func() {
			c := newFakeClient("c1")
			So(h.Connect(ctx, c, "S9", "zed"), ShouldBeNil)
			So(h.Dispatch(ctx, c, ratingFrame(t, map[string]any{"value": 33})), ShouldBeNil)

			Convey("Then they are stamped from the connection and the clock", func() {
				snap := decodeSnapshot(t, c.next(t, realtime.EventPerceptionAggregate))
				So(snap.Participants, ShouldResemble, map[string]float64{"zed": 33})
				So(snap.Timestamp, ShouldBeGreaterThan, 0)

				history, err := h.History(ctx, "S9")
				So(err, ShouldBeNil)
				So(history, ShouldHaveLength, 1)
				So(history[0].SessionID, ShouldEqual, "S9")
				So(history[0].ParticipantID, ShouldEqual, "zed")
			})
		})

		Convey("When the rating uses the userId alias", func() {
			c := newFakeClient("c1")
			So(h.Connect(ctx, c, "S1", "u1"), ShouldBeNil)
			So(h.Dispatch(ctx, c, ratingFrame(t, map[string]any{"userId": "u1", "sessionId": "S1", "timestamp": 5, "value": 90})), ShouldBeNil)

			snap := decodeSnapshot(t, c.next(t, realtime.EventPerceptionAggregate))
			So(snap.Participants, ShouldResemble, map[string]float64{"u1": 90})
		})
	})
}

func TestHubValidation(t *testing.T) {
	Convey("Given a hub with one connected participant", t, func() {
		ctx := context.Background()
		h := startHub(t)
		c := newFakeClient("c1")
		So(h.Connect(ctx, c, "S1", "p1"), ShouldBeNil)

		Convey("When invalid frames arrive they are dropped", func() {
			So(errors.Is(h.Dispatch(ctx, c, []byte(`not json`)), realtime.ErrMalformedFrame), ShouldBeTrue)
			So(errors.Is(h.Dispatch(ctx, c, []byte(`{"data":1}`)), realtime.ErrMalformedFrame), ShouldBeTrue)
			So(errors.Is(h.Dispatch(ctx, c, ratingFrame(t, map[string]any{"value": 101})), model.ErrOutOfRange), ShouldBeTrue)
			So(errors.Is(h.Dispatch(ctx, c, ratingFrame(t, map[string]any{"value": -1})), model.ErrOutOfRange), ShouldBeTrue)
			So(errors.Is(h.Dispatch(ctx, c, ratingFrame(t, map[string]any{"value": "high"})), model.ErrMalformed), ShouldBeTrue)
			So(errors.Is(h.Dispatch(ctx, c, ratingFrame(t, map[string]any{"participantId": "p1"})), model.ErrMalformed), ShouldBeTrue)
			So(errors.Is(h.Dispatch(ctx, c, []byte(`{"event":"session:play-media","data":"soon"}`)), model.ErrMalformed), ShouldBeTrue)
			So(errors.Is(h.Dispatch(ctx, c, []byte(`{"event":"chat:message","data":{}}`)), realtime.ErrUnknownEvent), ShouldBeTrue)

			Convey("And payloads for another session or participant are ignored", func() {
				So(h.Dispatch(ctx, c, ratingFrame(t, map[string]any{"sessionId": "OTHER", "value": 10})), ShouldBeNil)
				So(h.Dispatch(ctx, c, ratingFrame(t, map[string]any{"participantId": "mallory", "value": 10})), ShouldBeNil)

				view, err := h.Session(ctx, "S1")
				So(err, ShouldBeNil)
				So(view.HistoryLength, ShouldEqual, 0)
				So(view.Aggregate.Participants, ShouldBeEmpty)
				So(c.drain(), ShouldBeEmpty)

				n, err := h.SessionCount(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})

		Convey("When a custom range is configured", func() {
			narrow := startHub(t, realtime.WithBounds(1, 5))
			nc := newFakeClient("n1")
			So(narrow.Connect(ctx, nc, "S1", "p1"), ShouldBeNil)

			So(errors.Is(narrow.Dispatch(ctx, nc, ratingFrame(t, map[string]any{"value": 6})), model.ErrOutOfRange), ShouldBeTrue)
			So(narrow.Dispatch(ctx, nc, ratingFrame(t, map[string]any{"value": 5})), ShouldBeNil)
			snap := decodeSnapshot(t, nc.next(t, realtime.EventPerceptionAggregate))
			So(snap.Mean, ShouldEqual, 5)
		})
	})
}

func TestHubPresence(t *testing.T) {
	Convey("Given a hub", t, func() {
		ctx := context.Background()
		h := startHub(t)
		first := newFakeClient("c1")
		So(h.Connect(ctx, first, "S1", "p1"), ShouldBeNil)

		Convey("When a second participant joins", func() {
			second := newFakeClient("c2")
			So(h.Connect(ctx, second, "S1", "p2"), ShouldBeNil)

			Convey("Then existing members are told but the joiner is not", func() {
				env := first.next(t, realtime.EventParticipantJoined)
				var p model.Presence
				So(json.Unmarshal(env.Data, &p), ShouldBeNil)
				So(p.ParticipantID, ShouldEqual, "p2")
				So(second.drain(), ShouldNotContain, realtime.EventParticipantJoined)
			})
		})

		Convey("When a participant with a value disconnects", func() {
			second := newFakeClient("c2")
			So(h.Connect(ctx, second, "S1", "p2"), ShouldBeNil)
			So(h.Dispatch(ctx, second, ratingFrame(t, map[string]any{"value": 90})), ShouldBeNil)
			first.next(t, realtime.EventPerceptionAggregate)

			So(h.Disconnect(ctx, second), ShouldBeNil)

			Convey("Then the room hears participant:left", func() {
				env := first.next(t, realtime.EventParticipantLeft)
				var p model.Presence
				So(json.Unmarshal(env.Data, &p), ShouldBeNil)
				So(p.ParticipantID, ShouldEqual, "p2")
			})

			Convey("Then the next aggregate no longer carries it", func() {
				So(h.Dispatch(ctx, first, ratingFrame(t, map[string]any{"value": 10})), ShouldBeNil)
				snap := decodeSnapshot(t, first.next(t, realtime.EventPerceptionAggregate))
				So(snap.Participants, ShouldResemble, map[string]float64{"p1": 10})
				So(snap.Mean, ShouldEqual, 10)
			})

			Convey("Then the session and its history survive", func() {
				view, err := h.Session(ctx, "S1")
				So(err, ShouldBeNil)
				So(view.HistoryLength, ShouldEqual, 1)
				So(view.Connections, ShouldEqual, 1)
			})
		})

		Convey("When the last member disconnects", func() {
			So(h.Disconnect(ctx, first), ShouldBeNil)

			Convey("Then the session is still tracked", func() {
				n, err := h.SessionCount(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})

		Convey("When a frame arrives from a client that already left", func() {
			So(h.Disconnect(ctx, first), ShouldBeNil)
			So(h.Dispatch(ctx, first, ratingFrame(t, map[string]any{"value": 10})), ShouldBeNil)

			Convey("Then it has no effect", func() {
				view, err := h.Session(ctx, "S1")
				So(err, ShouldBeNil)
				So(view.HistoryLength, ShouldEqual, 0)
			})
		})
	})
}

func TestHubControlEvents(t *testing.T) {
	Convey("Given a room with two members", t, func() {
		ctx := context.Background()
		archive := &fakeArchive{}
		h := startHub(t, realtime.WithArchive(archive))
		mod := newFakeClient("moderator")
		viewer := newFakeClient("viewer")
		So(h.Connect(ctx, mod, "S1", "mod"), ShouldBeNil)
		So(h.Connect(ctx, viewer, "S1", "viewer"), ShouldBeNil)

		Convey("When recording starts and stops", func() {
			So(h.Dispatch(ctx, mod, []byte(`{"event":"session:start-recording"}`)), ShouldBeNil)
			So(h.Dispatch(ctx, mod, []byte(`{"event":"session:stop-recording"}`)), ShouldBeNil)

			Convey("Then everyone, sender included, is told", func() {
				for _, c := range []*fakeClient{mod, viewer} {
					env := c.next(t, realtime.EventRecordingStarted)
					So(env.Data, ShouldBeEmpty)
					c.next(t, realtime.EventRecordingStopped)
				}
				_, err := h.SessionCount(ctx)
				So(err, ShouldBeNil)
				So(archive.kinds(), ShouldResemble, []model.RecordKind{model.KindRecordingStarted, model.KindRecordingStopped})
			})
		})

		Convey("When media playback is synced", func() {
			So(h.Dispatch(ctx, mod, []byte(`{"event":"session:play-media","data":12.5}`)), ShouldBeNil)

			Convey("Then everyone gets the timestamp", func() {
				for _, c := range []*fakeClient{mod, viewer} {
					env := c.next(t, realtime.EventMediaSync)
					var ts float64
					So(json.Unmarshal(env.Data, &ts), ShouldBeNil)
					So(ts, ShouldEqual, 12.5)
				}
			})
		})

		Convey("When a rating is accepted", func() {
			So(h.Dispatch(ctx, viewer, ratingFrame(t, map[string]any{"value": 64, "mediaTimestamp": 3.5})), ShouldBeNil)
			viewer.next(t, realtime.EventPerceptionAggregate)

			Convey("Then it is archived after the broadcast", func() {
				_, err := h.SessionCount(ctx)
				So(err, ShouldBeNil)
				So(archive.kinds(), ShouldResemble, []model.RecordKind{model.KindRating})
				archive.mu.Lock()
				rec := archive.records[0]
				archive.mu.Unlock()
				So(rec.SessionID, ShouldEqual, "S1")
				So(rec.Rating.ParticipantID, ShouldEqual, "viewer")
				So(*rec.Rating.MediaTimestamp, ShouldEqual, 3.5)
			})
		})

		Convey("When the archive refuses records", func() {
			archive.mu.Lock()
			archive.refuse = true
			archive.mu.Unlock()
			So(h.Dispatch(ctx, viewer, ratingFrame(t, map[string]any{"value": 64})), ShouldBeNil)

			Convey("Then the broadcast still happens", func() {
				snap := decodeSnapshot(t, mod.next(t, realtime.EventPerceptionAggregate))
				So(snap.Participants, ShouldResemble, map[string]float64{"viewer": 64})
			})
		})
	})

	Convey("Scenario C: media sync for a session with no connections", t, func() {
		ctx := context.Background()
		archive := &fakeArchive{}
		h := startHub(t, realtime.WithArchive(archive))
		bystander := newFakeClient("elsewhere")
		So(h.Connect(ctx, bystander, "S-other", "b"), ShouldBeNil)

		So(h.PlayMedia(ctx, "S3", 12345), ShouldBeNil)
		So(h.StartRecording(ctx, "S3"), ShouldBeNil)
		So(h.StopRecording(ctx, "S3"), ShouldBeNil)

		Convey("Then nothing is delivered and no session is created", func() {
			So(bystander.drain(), ShouldBeEmpty)
			n, err := h.SessionCount(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			_, err = h.Session(ctx, "S3")
			So(errors.Is(err, repository.ErrSessionNotFound), ShouldBeTrue)
			So(archive.kinds(), ShouldBeEmpty)
		})
	})
}

func TestHubSlowConsumer(t *testing.T) {
	Convey("Given a room where one client stops draining", t, func() {
		ctx := context.Background()
		h := startHub(t)
		fast := newFakeClient("fast")
		slow := newFakeClient("slow")
		So(h.Connect(ctx, fast, "S1", "fast"), ShouldBeNil)
		So(h.Connect(ctx, slow, "S1", "slow"), ShouldBeNil)
		So(h.Dispatch(ctx, slow, ratingFrame(t, map[string]any{"value": 99})), ShouldBeNil)
		fast.next(t, realtime.EventPerceptionAggregate)
		slow.stuck.Store(true)

		Convey("When the next broadcast finds its buffer full", func() {
			So(h.Dispatch(ctx, fast, ratingFrame(t, map[string]any{"value": 10})), ShouldBeNil)

			Convey("Then it is closed and cleaned up like a disconnect", func() {
				fast.next(t, realtime.EventParticipantLeft)
				So(slow.closed.Load(), ShouldBeTrue)

				So(h.Dispatch(ctx, fast, ratingFrame(t, map[string]any{"value": 20})), ShouldBeNil)
				var snap model.Snapshot
				for snap.Mean != 20 {
					snap = decodeSnapshot(t, fast.next(t, realtime.EventPerceptionAggregate))
				}
				So(snap.Participants, ShouldResemble, map[string]float64{"fast": 20})

				stats, err := h.Stats(ctx)
				So(err, ShouldBeNil)
				So(stats.Connections, ShouldEqual, 1)
			})
		})
	})
}

type panickyClient struct{ *fakeClient }

func (p panickyClient) Send([]byte) bool { panic("boom") }

func TestHubLifecycle(t *testing.T) {
	Convey("Given a hub whose handler panics", t, func() {
		ctx := context.Background()
		h := startHub(t)
		bad := panickyClient{newFakeClient("bad")}
		good := newFakeClient("good")
		So(h.Connect(ctx, bad, "S1", "bad"), ShouldBeNil)
		// Announcing good to bad panics inside the loop.
		So(h.Connect(ctx, good, "S1", "good"), ShouldBeNil)

		Convey("Then the loop keeps serving", func() {
			n, err := h.SessionCount(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})
	})

	Convey("Given a hub that is stopped", t, func() {
		_ = logging.Init()
		ctx := context.Background()
		hub := realtime.NewHub(realtime.WithRegistry(repository.NewRegistry()))
		runCtx, cancel := context.WithCancel(ctx)
		go func() { _ = hub.Run(runCtx) }()

		c := newFakeClient("c1")
		So(hub.Connect(ctx, c, "S1", "p1"), ShouldBeNil)
		So(errors.Is(hub.Run(runCtx), realtime.ErrAlreadyRunning), ShouldBeTrue)
		cancel()

		select {
		case <-hub.Done():
		case <-time.After(waitTimeout):
		}

		Convey("Then clients are closed and calls fail", func() {
			So(c.closed.Load(), ShouldBeTrue)
			So(errors.Is(hub.Connect(ctx, newFakeClient("c2"), "S1", "p2"), realtime.ErrStopped), ShouldBeTrue)
			_, err := hub.SessionCount(ctx)
			So(errors.Is(err, realtime.ErrStopped), ShouldBeTrue)
			So(errors.Is(hub.Dispatch(ctx, c, ratingFrame(t, map[string]any{"value": 1})), realtime.ErrStopped), ShouldBeTrue)
		})
	})
}

func TestHubAdministration(t *testing.T) {
	Convey("Given a session with ratings", t, func() {
		ctx := context.Background()
		reg := repository.NewRegistry(repository.WithHistoryLimits(4, 2))
		h := startHub(t, realtime.WithRegistry(reg))
		c := newFakeClient("c1")
		So(h.Connect(ctx, c, "S1", "p1"), ShouldBeNil)
		for i := 1; i <= 5; i++ {
			So(h.Dispatch(ctx, c, ratingFrame(t, map[string]any{"value": i * 10, "timestamp": i})), ShouldBeNil)
		}
		var snap model.Snapshot
		for snap.Mean != 50 {
			snap = decodeSnapshot(t, c.next(t, realtime.EventPerceptionAggregate))
		}

		Convey("Then the injected registry limits apply", func() {
			history, err := h.History(ctx, "S1")
			So(err, ShouldBeNil)
			So(history, ShouldHaveLength, 2)
			So(history[0].Timestamp, ShouldEqual, int64(4))
		})

		Convey("Then the view reports the current aggregate", func() {
			view, err := h.Session(ctx, "S1")
			So(err, ShouldBeNil)
			So(view.SessionID, ShouldEqual, "S1")
			So(view.Aggregate.Mean, ShouldEqual, 50)
			So(view.Connections, ShouldEqual, 1)
		})

		Convey("When the session is cleared", func() {
			So(h.ClearSession(ctx, "S1"), ShouldBeNil)

			Convey("Then it is gone until the next rating", func() {
				_, err := h.History(ctx, "S1")
				So(errors.Is(err, repository.ErrSessionNotFound), ShouldBeTrue)
				So(errors.Is(h.ClearSession(ctx, "S1"), repository.ErrSessionNotFound), ShouldBeTrue)

				So(h.Dispatch(ctx, c, ratingFrame(t, map[string]any{"value": 70})), ShouldBeNil)
				snap := decodeSnapshot(t, c.next(t, realtime.EventPerceptionAggregate))
				So(snap.Participants, ShouldResemble, map[string]float64{"p1": 70})
			})
		})
	})
}
