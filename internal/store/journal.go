// Package store keeps a SQLite journal of capture sessions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"speech-capture-service/internal/models"
)

var ErrNotFound = errors.New("session not found")

// Config holds journal settings.
type Config struct {
	Path        string
	MaxSessions int // rows kept by Prune; zero keeps everything
}

// Journal is a SQLite-backed session history.
type Journal struct {
	db    *sql.DB
	cfg   Config
	log   zerolog.Logger
	clock func() time.Time
}

// Open creates the database file and schema if needed.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Journal, error) {
	if cfg.Path == "" {
		return nil, errors.New("journal path is empty")
	}
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	j := &Journal{
		db:    db,
		cfg:   cfg,
		log:   log.With().Str("component", "journal").Logger(),
		clock: time.Now,
	}
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	if err := j.Prune(ctx); err != nil {
		j.log.Warn().Err(err).Msg("Journal prune on start failed")
	}
	j.log.Info().Str("path", cfg.Path).Msg("Session journal opened")
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,
    audio_path TEXT NOT NULL,
    state TEXT NOT NULL,
    partials INTEGER NOT NULL DEFAULT 0,
    transcript TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    audio_bytes INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,
    ended_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`
	_, err := j.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Ping checks the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// BeginSession records a session that has started recording.
func (j *Journal) BeginSession(ctx context.Context, rec models.SessionRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = j.clock()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, request_id, audio_path, state, partials, transcript, error, audio_bytes, started_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		rec.ID, rec.RequestID, rec.AudioPath, rec.State, boolInt(rec.Partials),
		rec.Transcript, rec.Error, rec.AudioBytes, rec.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("begin session %s: %w", rec.ID, err)
	}
	return nil
}

// EndSession records a session's outcome. A session that was never begun
// is inserted.
func (j *Journal) EndSession(ctx context.Context, rec models.SessionRecord) error {
	ended := j.clock()
	if rec.EndedAt != nil {
		ended = *rec.EndedAt
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = ended
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, request_id, audio_path, state, partials, transcript, error, audio_bytes, started_at, ended_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   state=excluded.state,
		   transcript=excluded.transcript,
		   error=excluded.error,
		   audio_bytes=excluded.audio_bytes,
		   ended_at=excluded.ended_at`,
		rec.ID, rec.RequestID, rec.AudioPath, rec.State, boolInt(rec.Partials),
		rec.Transcript, rec.Error, rec.AudioBytes, rec.StartedAt.UnixMilli(), ended.UnixMilli())
	if err != nil {
		return fmt.Errorf("end session %s: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `SELECT session_id, request_id, audio_path, state, partials, transcript, error, audio_bytes, started_at, ended_at FROM sessions`

// GetSession returns one session or ErrNotFound.
func (j *Journal) GetSession(ctx context.Context, id string) (models.SessionRecord, error) {
	row := j.db.QueryRowContext(ctx, selectColumns+` WHERE session_id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// ListSessions returns up to limit sessions, newest first.
func (j *Journal) ListSessions(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, selectColumns+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SessionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune drops the oldest rows beyond MaxSessions. Recordings on disk are
// left alone.
func (j *Journal) Prune(ctx context.Context) error {
	if j.cfg.MaxSessions <= 0 {
		return nil
	}
	res, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
		SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
	)`, j.cfg.MaxSessions)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		j.log.Debug().Int64("rows", n).Msg("Pruned session journal")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (models.SessionRecord, error) {
	var (
		rec      models.SessionRecord
		partials int
		started  int64
		ended    sql.NullInt64
	)
	if err := s.Scan(&rec.ID, &rec.RequestID, &rec.AudioPath, &rec.State, &partials,
		&rec.Transcript, &rec.Error, &rec.AudioBytes, &started, &ended); err != nil {
		return models.SessionRecord{}, err
	}
	rec.Partials = partials != 0
	rec.StartedAt = time.UnixMilli(started).UTC()
	if ended.Valid {
		t := time.UnixMilli(ended.Int64).UTC()
		rec.EndedAt = &t
	}
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
