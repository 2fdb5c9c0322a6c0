package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"speech-capture-service/internal/models"
)

func openJournal(t *testing.T, cfg Config) *Journal {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "data", "sessions.db")
	}
	j, err := Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func record(id string, started time.Time) models.SessionRecord {
	return models.SessionRecord{
		ID:        id,
		RequestID: id + "-req-1",
		AudioPath: "/tmp/" + id + ".m4a",
		State:     "recording",
		Partials:  true,
		StartedAt: started,
	}
}

func TestJournalBeginEnd(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, Config{})
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := j.BeginSession(ctx, record("s1", started)); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}
	got, err := j.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.State != "recording" || got.EndedAt != nil || !got.Partials || !got.StartedAt.Equal(started) {
		t.Errorf("after begin: %+v", got)
	}

	ended := started.Add(3 * time.Second)
	rec := record("s1", started)
	rec.State = "stopped"
	rec.Transcript = "hello world"
	rec.AudioBytes = 96000
	rec.EndedAt = &ended
	if err := j.EndSession(ctx, rec); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	got, err = j.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.State != "stopped" || got.Transcript != "hello world" || got.AudioBytes != 96000 {
		t.Errorf("after end: %+v", got)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
	}
}

func TestJournalEndWithoutBegin(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, Config{})

	rec := record("orphan", time.Time{})
	rec.State = "failed"
	rec.Error = "audio_engine: microphone access denied"
	if err := j.EndSession(ctx, rec); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	got, err := j.GetSession(ctx, "orphan")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.State != "failed" || got.Error == "" || got.EndedAt == nil {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestJournalGetMissing(t *testing.T) {
	j := openJournal(t, Config{})
	if _, err := j.GetSession(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSession = %v, want ErrNotFound", err)
	}
}

func TestJournalListAndPrune(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, Config{MaxSessions: 2})
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := j.BeginSession(ctx, record(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("BeginSession(%s): %v", id, err)
		}
	}

	list, err := j.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 3 || list[0].ID != "c" || list[2].ID != "a" {
		t.Fatalf("list order: %+v", list)
	}

	if err := j.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	list, err = j.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 || list[1].ID != "b" {
		t.Errorf("after prune: %+v", list)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty path")
	}
	var j *Journal
	if err := j.Close(); err != nil {
		t.Errorf("nil Close = %v", err)
	}
}
