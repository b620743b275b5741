// Package archive persists accepted ratings and session control marks so a
// session can be exported after it ends.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/okian/perception/internal/domain/model"
)

// SQLiteStore writes archive records to SQLite.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLiteStore opens dsn and applies migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ratings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			value REAL NOT NULL,
			media_ts REAL,
			received_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ratings_session ON ratings(session_id, id)`,
		`CREATE TABLE IF NOT EXISTS session_marks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			media_ts REAL,
			received_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_marks_session ON session_marks(session_id, id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// Write stores one record.
func (s *SQLiteStore) Write(ctx context.Context, r model.ArchiveRecord) error { //nolint:gocritic // hugeParam: matches worker.Writer
	if s.closed.Load() {
		return ErrClosed
	}
	received := r.ReceivedAt.UnixMilli()

	switch r.Kind {
	case model.KindRating:
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO ratings (session_id, participant_id, ts, value, media_ts, received_at) VALUES (?, ?, ?, ?, ?, ?)`,
			r.SessionID, r.Rating.ParticipantID, r.Rating.Timestamp, r.Rating.Value, nullFloat(r.Rating.MediaTimestamp), received)
		if err != nil {
			return fmt.Errorf("insert rating: %w", err)
		}
	case model.KindRecordingStarted, model.KindRecordingStopped, model.KindMediaSync:
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO session_marks (session_id, kind, media_ts, received_at) VALUES (?, ?, ?, ?)`,
			r.SessionID, string(r.Kind), nullFloat(r.MediaTimestamp), received)
		if err != nil {
			return fmt.Errorf("insert mark: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
	return nil
}

// List returns the archived data of a session. limit caps the number of
// ratings (the most recent ones are kept); zero or less means no cap.
// Both lists are oldest first.
func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) (*model.ArchiveExport, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}

	out := &model.ArchiveExport{
		SessionID: sessionID,
		Ratings:   []model.Rating{},
		Marks:     []model.Mark{},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT participant_id, ts, value, media_ts FROM ratings WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.Rating
		var media sql.NullFloat64
		if err := rows.Scan(&r.ParticipantID, &r.Timestamp, &r.Value, &media); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		r.SessionID = sessionID
		if media.Valid {
			v := media.Float64
			r.MediaTimestamp = &v
		}
		out.Ratings = append(out.Ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ratings: %w", err)
	}
	slices.Reverse(out.Ratings)

	markRows, err := s.db.QueryContext(ctx,
		`SELECT kind, media_ts, received_at FROM session_marks WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query marks: %w", err)
	}
	defer markRows.Close()

	for markRows.Next() {
		var m model.Mark
		var kind string
		var media sql.NullFloat64
		if err := markRows.Scan(&kind, &media, &m.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan mark: %w", err)
		}
		m.Kind = model.RecordKind(kind)
		if media.Valid {
			v := media.Float64
			m.MediaTimestamp = &v
		}
		out.Marks = append(out.Marks, m)
	}
	if err := markRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate marks: %w", err)
	}

	return out, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
