package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/perception/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0o750
	reportPermission    = 0o600
)

// Run executes a complete load run: health check, rating phase, verification.
func Run(ctx context.Context, cfg *Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("loadgen")
	client := newHTTPClient(cfg.Timeout)

	log.Info(ctx, "starting perception load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("sessions", cfg.Sessions),
		logger.Int("participants", cfg.Participants),
		logger.Float64("rate", cfg.Rate),
		logger.Duration("duration", cfg.Duration))

	// Step 1: Check service health
	if _, err := checkHealth(ctx, client, cfg); err != nil {
		return nil, err
	}

	// Step 2: Rate until the duration elapses
	sessions := sessionIDs(cfg)
	sent := make(map[string]*atomic.Int64, len(sessions))
	for _, id := range sessions {
		sent[id] = new(atomic.Int64)
	}

	stats := &Stats{}
	report := &Report{StartTime: time.Now()}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	seed := uint64(report.StartTime.UnixNano())
	for _, session := range sessions {
		for i := 0; i < cfg.Participants; i++ {
			seed++
			p := newParticipant(uuid.NewString(), session, cfg, stats, sent[session], seed)
			g.Go(func() error { return p.run(gctx) })
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rating phase: %w", err)
	}
	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime)

	// Step 3: Verify every session that received ratings is tracked
	if err := verifySessions(ctx, client, cfg, sessions, sent, report); err != nil {
		return nil, err
	}

	fillReport(report, stats)
	displayFinalStats(ctx, log, report)

	if cfg.OutputFile != "" {
		if err := saveReport(cfg.OutputFile, report); err != nil {
			log.Warn(ctx, "failed to save report", logger.Error(err))
		}
	}

	if report.RatingsSent > 0 && report.TrackedSessions == 0 {
		return report, fmt.Errorf("%w: no session is tracked", ErrVerification)
	}
	for _, s := range report.Sessions {
		if s.RatingsSent > 0 && !s.Tracked {
			return report, fmt.Errorf("%w: session %s received %d ratings but is not tracked",
				ErrVerification, s.SessionID, s.RatingsSent)
		}
	}

	log.Info(ctx, "load run completed successfully")
	return report, nil
}

func sessionIDs(cfg *Config) []string {
	run := uuid.NewString()[:8]
	ids := make([]string, cfg.Sessions)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%s-%d", cfg.SessionPrefix, run, i)
	}
	return ids
}

// verifySessions reads /health and each session's view.
func verifySessions(ctx context.Context, client *httpClient, cfg *Config, sessions []string, sent map[string]*atomic.Int64, report *Report) error {
	health, err := checkHealth(ctx, client, cfg)
	if err != nil {
		return err
	}
	logger.Get().Info(ctx, "service is healthy after the run", logger.Int("sessions", health.Sessions))

	for _, id := range sessions {
		sr := SessionReport{SessionID: id, RatingsSent: sent[id].Load()}

		var view sessionResponse
		status, err := client.getJSON(ctx, cfg.httpURL("/sessions/"+url.PathEscape(id)), &view)
		switch {
		case err == nil:
			sr.Tracked = true
			sr.HistoryLength = view.HistoryLength
			sr.Mean = view.Aggregate.Mean
			report.TrackedSessions++
		case status == http.StatusNotFound:
		default:
			return fmt.Errorf("%w: %w", ErrVerification, err)
		}
		report.Sessions = append(report.Sessions, sr)
	}
	return nil
}

func fillReport(r *Report, s *Stats) {
	r.Connected = s.Connected.Load()
	r.ConnectFailed = s.ConnectFailed.Load()
	r.RatingsSent = s.RatingsSent.Load()
	r.SendErrors = s.SendErrors.Load()
	r.AggregatesReceived = s.AggregatesReceived.Load()
	r.DeltasReceived = s.DeltasReceived.Load()
	r.Joins = s.Joins.Load()
	r.Leaves = s.Leaves.Load()
	if r.Duration > 0 {
		r.RatingsPerSecond = float64(r.RatingsSent) / r.Duration.Seconds()
	}
}

// saveReport writes the report as indented JSON.
func saveReport(filename string, r *Report) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, data, reportPermission); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, r *Report) {
	log.Info(ctx, "final statistics",
		logger.Int64("connected", r.Connected),
		logger.Int64("connectFailed", r.ConnectFailed),
		logger.Int64("ratingsSent", r.RatingsSent),
		logger.Int64("sendErrors", r.SendErrors),
		logger.Int64("aggregatesReceived", r.AggregatesReceived),
		logger.Int64("deltasReceived", r.DeltasReceived),
		logger.Int64("joins", r.Joins),
		logger.Int64("leaves", r.Leaves),
		logger.Int("trackedSessions", r.TrackedSessions),
		logger.Duration("duration", r.Duration),
		logger.Float64("ratingsPerSecond", r.RatingsPerSecond))
}
