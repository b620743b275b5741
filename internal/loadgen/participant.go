package loadgen

import (
	"context"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/perception/internal/adapters/realtime"
	"github.com/okian/perception/pkg/logger"
)

// Rating walk constants.
const (
	ratingMin  = 0.0
	ratingMax  = 100.0
	walkStdDev = 6.0
	closeWait  = 2 * time.Second
)

// participant is one simulated client.
type participant struct {
	id      string
	session string
	cfg     *Config
	stats   *Stats
	sent    *atomic.Int64 // per-session counter
	rng     *rand.Rand
	value   float64
}

func newParticipant(id, session string, cfg *Config, stats *Stats, sent *atomic.Int64, seed uint64) *participant {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return &participant{
		id:      id,
		session: session,
		cfg:     cfg,
		stats:   stats,
		sent:    sent,
		rng:     rng,
		value:   ratingMin + rng.Float64()*(ratingMax-ratingMin),
	}
}

// next advances the rating by a clamped random walk step.
func (p *participant) next() float64 {
	v := p.value + p.rng.NormFloat64()*walkStdDev
	p.value = math.Round(math.Max(ratingMin, math.Min(ratingMax, v))*100) / 100
	return p.value
}

// run connects, rates until ctx ends and closes the connection. Connection
// and write failures are counted, not returned, so one bad socket does not
// end the run.
func (p *participant) run(ctx context.Context) error {
	url, err := p.cfg.wsURL(p.session, p.id)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: p.cfg.Timeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		p.stats.ConnectFailed.Add(1)
		logger.Get().Warn(ctx, "participant failed to connect",
			logger.String("session", p.session),
			logger.String("participant", p.id),
			logger.Error(err))
		return nil
	}
	p.stats.Connected.Add(1)

	readDone := make(chan struct{})
	go p.readLoop(conn, readDone)

	p.writeLoop(ctx, conn)

	deadline := time.Now().Add(closeWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	select {
	case <-readDone:
	case <-time.After(closeWait):
	}
	_ = conn.Close()
	return nil
}

func (p *participant) writeLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(p.cfg.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := realtime.Encode(realtime.EventPerceptionUpdate, map[string]any{
				"participantId": p.id,
				"sessionId":     p.session,
				"timestamp":     time.Now().UnixMilli(),
				"value":         p.next(),
			})
			if err != nil {
				p.stats.SendErrors.Add(1)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(p.cfg.Timeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				p.stats.SendErrors.Add(1)
				logger.Get().Debug(ctx, "participant write failed",
					logger.String("participant", p.id),
					logger.Error(err))
				return
			}
			p.stats.RatingsSent.Add(1)
			p.sent.Add(1)
		}
	}
}

func (p *participant) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := realtime.DecodeEnvelope(raw)
		if err != nil {
			continue
		}
		switch env.Event {
		case realtime.EventPerceptionAggregate:
			p.stats.AggregatesReceived.Add(1)
		case realtime.EventPerceptionParticipant:
			p.stats.DeltasReceived.Add(1)
		case realtime.EventParticipantJoined:
			p.stats.Joins.Add(1)
		case realtime.EventParticipantLeft:
			p.stats.Leaves.Add(1)
		}
	}
}
