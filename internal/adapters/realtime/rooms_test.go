package realtime_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/okian/perception/internal/adapters/realtime"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRooms(t *testing.T) {
	Convey("Given a room with three members", t, func() {
		rooms := realtime.NewRooms()
		a, b, c := newFakeClient("a"), newFakeClient("b"), newFakeClient("c")
		for _, cl := range []*fakeClient{a, b, c} {
			rooms.Join("S1", cl)
		}
		rooms.Join("S2", newFakeClient("elsewhere"))

		Convey("When emitting with an exclusion", func() {
			d, err := rooms.Emit("S1", realtime.EventPerceptionParticipant, map[string]any{"value": 1}, a)

			Convey("Then everyone else receives one frame", func() {
				So(err, ShouldBeNil)
				So(d.Sent, ShouldEqual, 2)
				So(d.Dropped, ShouldBeEmpty)
				So(a.drain(), ShouldBeEmpty)
				So(b.drain(), ShouldResemble, []string{realtime.EventPerceptionParticipant})
				So(c.drain(), ShouldResemble, []string{realtime.EventPerceptionParticipant})
			})
		})

		Convey("When a member cannot accept the frame", func() {
			c.stuck.Store(true)
			d, err := rooms.Emit("S1", realtime.EventRecordingStarted, nil, nil)

			Convey("Then it is reported as dropped", func() {
				So(err, ShouldBeNil)
				So(d.Sent, ShouldEqual, 2)
				So(d.Dropped, ShouldHaveLength, 1)
				So(d.Dropped[0].ID(), ShouldEqual, "c")
			})
		})

		Convey("When members leave", func() {
			rooms.Leave("S1", a)
			rooms.Leave("S1", a)
			rooms.Leave("missing", a)

			Convey("Then the room shrinks and empty rooms vanish", func() {
				So(rooms.Size("S1"), ShouldEqual, 2)
				rooms.Leave("S1", b)
				rooms.Leave("S1", c)
				So(rooms.Size("S1"), ShouldEqual, 0)
				d, err := rooms.Emit("S1", realtime.EventMediaSync, 1.0, nil)
				So(err, ShouldBeNil)
				So(d.Sent, ShouldEqual, 0)
			})
		})

		Convey("When the payload cannot be encoded", func() {
			_, err := rooms.Emit("S1", realtime.EventMediaSync, math.NaN(), nil)

			Convey("Then nothing is sent", func() {
				So(err, ShouldNotBeNil)
				So(a.drain(), ShouldBeEmpty)
			})
		})
	})
}

func TestEnvelope(t *testing.T) {
	Convey("Given outbound events", t, func() {
		Convey("A payload-less event omits data", func() {
			frame, err := realtime.Encode(realtime.EventRecordingStopped, nil)
			So(err, ShouldBeNil)
			So(string(frame), ShouldEqual, `{"event":"session:recording-stopped"}`)
		})

		Convey("A numeric payload is carried as-is", func() {
			frame, err := realtime.Encode(realtime.EventMediaSync, 12345.0)
			So(err, ShouldBeNil)
			So(string(frame), ShouldEqual, `{"event":"session:media-sync","data":12345}`)

			env, err := realtime.DecodeEnvelope(frame)
			So(err, ShouldBeNil)
			var ts float64
			So(json.Unmarshal(env.Data, &ts), ShouldBeNil)
			So(ts, ShouldEqual, 12345)
		})
	})
}
