package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/open-transcribe/internal/config"
	"github.com/loqalabs/open-transcribe/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEphemeralStoreKeepsRecordsInMemory(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.HistoryConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	rec := Record{ID: "a", Source: "http", SampleRate: 16000, Channels: 1, BitDepth: 16, Text: "hi",
		Segments: []protocol.Segment{{Start: 0, End: 1000, Text: "hi", Confidence: 0.9}}}
	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != "hi" || len(got.Segments) != 1 || got.Segments[0].End != 1000 {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	store, err := Open(context.Background(), config.HistoryConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPersistentSurvivesReopenAndSessionResets(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(ctx, config.HistoryConfig{Path: path, RetentionMode: "persistent"}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Append(ctx, Record{ID: "keep", Source: "bus", Text: "kept"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = store.Close()

	store, err = Open(ctx, config.HistoryConfig{Path: path, RetentionMode: "persistent"}, newLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := store.Get(ctx, "keep"); err != nil {
		t.Fatalf("expected record after reopen: %v", err)
	}
	_ = store.Close()

	store, err = Open(ctx, config.HistoryConfig{Path: path, RetentionMode: "session"}, newLogger())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.Get(ctx, "keep"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session mode to start empty, got %v", err)
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	ctx := context.Background()
	cfg := config.HistoryConfig{RetentionMode: "ephemeral", RetentionDays: 1, MaxRecords: 2}
	store, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	if err := store.Append(ctx, Record{ID: "old", Source: "http", CreatedAt: base.Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	for i := 0; i < 3; i++ {
		rec := Record{ID: fmt.Sprintf("new-%d", i), Source: "http", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	store.clock = func() time.Time { return base.Add(time.Hour) }
	if err := store.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after prune, got %d", len(records))
	}
	if records[0].ID != "new-2" || records[1].ID != "new-1" {
		t.Fatalf("expected newest records kept, got %s %s", records[0].ID, records[1].ID)
	}
}
