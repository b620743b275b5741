package realtime_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/perception/internal/adapters/realtime"
	"github.com/okian/perception/internal/domain/model"
	logging "github.com/okian/perception/pkg/logger"
)

const waitTimeout = 2 * time.Second

type fakeClient struct {
	id     string
	frames chan []byte
	closed atomic.Bool
	stuck  atomic.Bool
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{id: id, frames: make(chan []byte, 64)}
}

func (f *fakeClient) ID() string { return f.id }

func (f *fakeClient) Send(frame []byte) bool {
	if f.stuck.Load() {
		return false
	}
	select {
	case f.frames <- frame:
		return true
	default:
		return false
	}
}

func (f *fakeClient) Close() { f.closed.Store(true) }

// next returns the first frame carrying event, discarding others.
func (f *fakeClient) next(t *testing.T, event string) realtime.Envelope {
	t.Helper()
	env, _ := f.nextCollect(t, event)
	return env
}

// nextCollect is next, also returning the events skipped on the way.
func (f *fakeClient) nextCollect(t *testing.T, event string) (realtime.Envelope, []string) {
	t.Helper()
	var skipped []string
	deadline := time.After(waitTimeout)
	for {
		select {
		case raw := <-f.frames:
			var env realtime.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("client %s got invalid frame %q: %v", f.id, raw, err)
			}
			if env.Event == event {
				return env, skipped
			}
			skipped = append(skipped, env.Event)
		case <-deadline:
			t.Fatalf("client %s: timed out waiting for %s (skipped %v)", f.id, event, skipped)
			return realtime.Envelope{}, nil
		}
	}
}

// drain returns the events currently buffered.
func (f *fakeClient) drain() []string {
	var events []string
	for {
		select {
		case raw := <-f.frames:
			var env realtime.Envelope
			_ = json.Unmarshal(raw, &env)
			events = append(events, env.Event)
		default:
			return events
		}
	}
}

type fakeArchive struct {
	mu      sync.Mutex
	records []model.ArchiveRecord
	refuse  bool
}

func (a *fakeArchive) Enqueue(_ context.Context, r model.ArchiveRecord) bool { //nolint:gocritic // hugeParam: matches Archiver
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refuse {
		return false
	}
	a.records = append(a.records, r)
	return true
}

func (a *fakeArchive) kinds() []model.RecordKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.RecordKind, len(a.records))
	for i, r := range a.records {
		out[i] = r.Kind
	}
	return out
}

// startHub runs a hub until the test ends.
func startHub(t *testing.T, opts ...realtime.Option) *realtime.Hub {
	t.Helper()
	_ = logging.Init()
	h := realtime.NewHub(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func ratingFrame(t *testing.T, payload map[string]any) []byte {
	t.Helper()
	frame, err := realtime.Encode(realtime.EventPerceptionUpdate, payload)
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func decodeSnapshot(t *testing.T, env realtime.Envelope) model.Snapshot {
	t.Helper()
	var s model.Snapshot
	if err := json.Unmarshal(env.Data, &s); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return s
}
