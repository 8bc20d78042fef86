package stt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/auralabs/aura-core/internal/bus"
	"github.com/auralabs/aura-core/internal/config"
	"github.com/auralabs/aura-core/internal/natsserver"
	"github.com/auralabs/aura-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// stubRecognizer blocks interim passes on release so tests can hold a
// transcription in flight; final passes return immediately.
type stubRecognizer struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (r *stubRecognizer) Transcribe(ctx context.Context, _ []byte, _, _ int, final bool) (TranscriptResult, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if final {
		return TranscriptResult{Text: "final hypothesis", Confidence: 0.9}, nil
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return TranscriptResult{}, ctx.Err()
		}
	}
	return TranscriptResult{Text: "partial hypothesis", Confidence: 0.4}, nil
}

func (r *stubRecognizer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startTestBus(t *testing.T) *bus.Client {
	t.Helper()
	cfg := config.BusConfig{
		Embedded:       true,
		Port:           -1,
		StoreDir:       t.TempDir(),
		ConnectTimeout: 2000,
	}
	embedded, err := natsserver.Start(cfg, testLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(embedded.Shutdown)

	cfg.Servers = []string{embedded.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func publishFrame(t *testing.T, busClient *bus.Client, sessionID string, seq int, pcm []byte, final bool) {
	t.Helper()
	data, err := json.Marshal(protocol.AudioFrame{
		SessionID:  sessionID,
		Sequence:   seq,
		SampleRate: 16000,
		Channels:   1,
		PCM:        pcm,
		Final:      final,
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := busClient.Conn().Publish(protocol.SubjectAudioFramePrefix+".node-1", data); err != nil {
		t.Fatalf("publish frame: %v", err)
	}
}

func subscribeTranscripts(t *testing.T, busClient *bus.Client, subject string) <-chan protocol.Transcript {
	t.Helper()
	out := make(chan protocol.Transcript, 8)
	sub, err := busClient.Conn().Subscribe(subject, func(msg *nats.Msg) {
		var transcript protocol.Transcript
		if json.Unmarshal(msg.Data, &transcript) == nil {
			out <- transcript
		}
	})
	if err != nil {
		t.Fatalf("subscribe %s: %v", subject, err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServicePublishesFinalAndDropsSession(t *testing.T) {
	busClient := startTestBus(t)
	rec := &stubRecognizer{}
	cfg := config.ASRConfig{Enabled: true, Mode: "mock", Language: "en-US", SampleRate: 16000, Channels: 1}

	svc := NewService(context.Background(), cfg, busClient, rec, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	finals := subscribeTranscripts(t, busClient, protocol.SubjectTranscriptFinal)

	publishFrame(t, busClient, "session-final", 0, []byte{1, 2, 3, 4}, true)

	select {
	case transcript := <-finals:
		if transcript.Partial || transcript.Text != "final hypothesis" {
			t.Fatalf("unexpected final transcript: %+v", transcript)
		}
		if transcript.Language != "en-US" {
			t.Fatalf("expected language from config, got %q", transcript.Language)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no final transcript published")
	}

	waitFor(t, "session removal", func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		_, ok := svc.sessions["session-final"]
		return !ok
	})
}

func TestServiceCoalescesFinalDuringInflight(t *testing.T) {
	busClient := startTestBus(t)
	rec := &stubRecognizer{release: make(chan struct{})}
	cfg := config.ASRConfig{
		Enabled:        true,
		Mode:           "mock",
		Language:       "en-US",
		SampleRate:     16000,
		Channels:       1,
		PublishInterim: true,
		PartialEveryMS: 10,
	}

	svc := NewService(context.Background(), cfg, busClient, rec, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	finals := subscribeTranscripts(t, busClient, protocol.SubjectTranscriptFinal)

	// First interim frame starts a partial pass that blocks inside the
	// recognizer until release is closed.
	publishFrame(t, busClient, "session-1", 0, []byte{1, 2}, false)
	waitFor(t, "partial pass to start", func() bool { return rec.callCount() == 1 })

	// More interim audio and then the final frame arrive mid-flight:
	// both must only be recorded, not start a second transcription.
	publishFrame(t, busClient, "session-1", 1, []byte{3, 4}, false)
	publishFrame(t, busClient, "session-1", 2, []byte{5, 6}, true)
	waitFor(t, "pending final to be recorded", func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		state := svc.sessions["session-1"]
		return state != nil && state.PendingFinal
	})
	if got := rec.callCount(); got != 1 {
		t.Fatalf("expected a single in-flight transcription, got %d", got)
	}

	close(rec.release)

	select {
	case transcript := <-finals:
		if transcript.Partial || transcript.Text != "final hypothesis" {
			t.Fatalf("unexpected final transcript: %+v", transcript)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending final was never published")
	}

	// Exactly one final per session.
	select {
	case transcript := <-finals:
		t.Fatalf("unexpected second final transcript: %+v", transcript)
	case <-time.After(200 * time.Millisecond):
	}

	waitFor(t, "session removal after final", func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		_, ok := svc.sessions["session-1"]
		return !ok
	})
}
