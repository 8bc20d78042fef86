package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/auralabs/aura-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "transcripts.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open transcript store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	sessionID := "session-123"
	if err := es.AppendSession(context.Background(), sessionID, "gateway", "en-US"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendTranscript(context.Background(), Transcript{
		SessionID:  sessionID,
		Text:       "hello world",
		Language:   "en-US",
		Confidence: 0.87,
	}); err != nil {
		t.Fatalf("append transcript: %v", err)
	}
	transcripts, err := es.ListSessionTranscripts(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(transcripts) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(transcripts))
	}
	if transcripts[0].Text != "hello world" || transcripts[0].Confidence != 0.87 {
		t.Fatalf("unexpected transcript: %+v", transcripts[0])
	}
	if transcripts[0].Partial {
		t.Fatal("expected final transcript")
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "transcripts.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open transcript store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "old-session", "gateway", "en-US"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendTranscript(context.Background(), Transcript{SessionID: "old-session", Text: "stale"}); err != nil {
		t.Fatalf("append transcript: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "new-session", "gateway", "en-US"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	transcripts, err := es.ListSessionTranscripts(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(transcripts) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
