package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/auralabs/aura-core/internal/config"
	"github.com/auralabs/aura-core/internal/eventstore"
	"github.com/auralabs/aura-core/internal/speech"
	"github.com/auralabs/aura-core/internal/stt"
)

type fakeRecognizer struct {
	result stt.TranscriptResult
	err    error
	gotPCM []byte
}

func (f *fakeRecognizer) Transcribe(_ context.Context, pcm []byte, _ int, _ int, _ bool) (stt.TranscriptResult, error) {
	f.gotPCM = pcm
	return f.result, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRuntime(t *testing.T, rec stt.Recognizer) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.ASR.Mode = "mock"

	storeCfg := config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "transcripts.db"),
		RetentionMode: "session",
	}
	store, err := eventstore.Open(context.Background(), storeCfg, discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	client, err := speech.NewClient()
	if err != nil {
		t.Fatalf("new speech client: %v", err)
	}

	return &Runtime{
		cfg:          cfg,
		logger:       discardLogger(),
		recognizer:   rec,
		store:        store,
		speechClient: client,
	}
}

func recognizeRequest(t *testing.T, cfg speech.RecognitionConfig, audio speech.Audio) *http.Request {
	t.Helper()
	body, err := speech.EncodeRequestBody(cfg, audio)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	return httptest.NewRequest(http.MethodPost, "/v1/speech:syncrecognize", bytes.NewReader(body))
}

func TestSyncRecognizeLocal(t *testing.T) {
	rec := &fakeRecognizer{result: stt.TranscriptResult{
		Text:       "open the garage",
		Confidence: 0.88,
		Alternatives: []stt.Alternative{
			{Text: "open the garage", Confidence: 0.88},
			{Text: "open the garbage", Confidence: 0.32},
		},
	}}
	rt := newTestRuntime(t, rec)

	req := recognizeRequest(t,
		speech.RecognitionConfig{Encoding: speech.EncodingLinear16, SampleRate: 16000, MaxAlternatives: 2},
		speech.Audio{Content: []byte{1, 2, 3, 4}})
	req.Header.Set("X-Session-ID", "session-http")
	w := httptest.NewRecorder()
	rt.handleSyncRecognize(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp speech.RecognizeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected exactly one result, got %d", len(resp.Results))
	}
	alts := resp.Results[0].Alternatives
	if len(alts) != 2 || alts[0].Transcript != "open the garage" {
		t.Fatalf("unexpected alternatives: %v", alts)
	}
	if !bytes.Equal(rec.gotPCM, []byte{1, 2, 3, 4}) {
		t.Fatalf("recognizer did not receive decoded content: %v", rec.gotPCM)
	}

	// The recognition must be archived under the provided session.
	stored, err := rt.store.ListSessionTranscripts(context.Background(), "session-http", 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(stored) != 1 || stored[0].Text != "open the garage" {
		t.Fatalf("expected archived transcript, got %v", stored)
	}
}

func TestSyncRecognizeTrimsAlternatives(t *testing.T) {
	rec := &fakeRecognizer{result: stt.TranscriptResult{
		Text:       "one",
		Confidence: 0.9,
		Alternatives: []stt.Alternative{
			{Text: "one", Confidence: 0.9},
			{Text: "won", Confidence: 0.5},
			{Text: "wan", Confidence: 0.1},
		},
	}}
	rt := newTestRuntime(t, rec)

	req := recognizeRequest(t,
		speech.RecognitionConfig{Encoding: speech.EncodingLinear16, SampleRate: 16000},
		speech.Audio{Content: []byte{0, 0}})
	w := httptest.NewRecorder()
	rt.handleSyncRecognize(w, req)

	var resp speech.RecognizeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results[0].Alternatives) != 1 {
		t.Fatalf("maxAlternatives<=1 must yield one hypothesis, got %v", resp.Results[0].Alternatives)
	}
}

func TestSyncRecognizeValidation(t *testing.T) {
	rt := newTestRuntime(t, &fakeRecognizer{})

	req := recognizeRequest(t,
		speech.RecognitionConfig{Encoding: speech.EncodingLinear16, SampleRate: 4000},
		speech.Audio{Content: []byte{0, 0}})
	w := httptest.NewRecorder()
	rt.handleSyncRecognize(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var body apiErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Status != "INVALID_ARGUMENT" {
		t.Fatalf("unexpected error status: %+v", body.Error)
	}
}

func TestSyncRecognizeLocalRequiresLinear16(t *testing.T) {
	rt := newTestRuntime(t, &fakeRecognizer{})

	req := recognizeRequest(t,
		speech.RecognitionConfig{Encoding: speech.EncodingFLAC, SampleRate: 44100},
		speech.Audio{Content: []byte{0, 0}})
	w := httptest.NewRecorder()
	rt.handleSyncRecognize(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-LINEAR16 local content, got %d", w.Code)
	}
}

func TestSyncRecognizeProxiesURIAudio(t *testing.T) {
	var upstreamBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&upstreamBody)
		json.NewEncoder(w).Encode(speech.RecognizeResponse{Results: []speech.Result{{
			Alternatives: []speech.Alternative{{Transcript: "from upstream", Confidence: 0.7}},
		}}})
	}))
	defer upstream.Close()

	rt := newTestRuntime(t, &fakeRecognizer{})
	client, err := speech.NewClient(speech.WithEndpoint(upstream.URL), speech.WithHTTPClient(upstream.Client()))
	if err != nil {
		t.Fatalf("new speech client: %v", err)
	}
	rt.speechClient = client

	req := recognizeRequest(t,
		speech.RecognitionConfig{Encoding: speech.EncodingFLAC, SampleRate: 44100},
		speech.Audio{URI: "gs://bucket/a.flac"})
	w := httptest.NewRecorder()
	rt.handleSyncRecognize(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	audio := upstreamBody["audio"].(map[string]any)
	if audio["uri"] != "gs://bucket/a.flac" {
		t.Fatalf("expected uri forwarded upstream, got %v", audio)
	}
	var resp speech.RecognizeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Results[0].Alternatives[0].Transcript != "from upstream" {
		t.Fatalf("unexpected proxied response: %v", resp)
	}
}

func TestSyncRecognizeUpstreamErrorPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"API key invalid.","status":"PERMISSION_DENIED"}}`))
	}))
	defer upstream.Close()

	rt := newTestRuntime(t, &fakeRecognizer{})
	client, err := speech.NewClient(speech.WithEndpoint(upstream.URL), speech.WithHTTPClient(upstream.Client()))
	if err != nil {
		t.Fatalf("new speech client: %v", err)
	}
	rt.speechClient = client

	req := recognizeRequest(t,
		speech.RecognitionConfig{Encoding: speech.EncodingFLAC, SampleRate: 44100},
		speech.Audio{URI: "gs://bucket/a.flac"})
	w := httptest.NewRecorder()
	rt.handleSyncRecognize(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected upstream status passthrough, got %d", w.Code)
	}
	var body apiErrorBody
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Error.Status != "PERMISSION_DENIED" || body.Error.Message != "API key invalid." {
		t.Fatalf("unexpected error body: %+v", body.Error)
	}
}

func TestSyncRecognizeMethodNotAllowed(t *testing.T) {
	rt := newTestRuntime(t, &fakeRecognizer{})
	req := httptest.NewRequest(http.MethodGet, "/v1/speech:syncrecognize", nil)
	w := httptest.NewRecorder()
	rt.handleSyncRecognize(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
