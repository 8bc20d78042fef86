package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/auralabs/aura-core/internal/eventstore"
	"github.com/auralabs/aura-core/internal/speech"
	"github.com/google/uuid"
)

// maxRecognizeBody bounds the JSON body; inline base64 audio for the
// sync API tops out well below this.
const maxRecognizeBody = 32 << 20

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// handleSyncRecognize serves the same wire surface the upstream cloud
// API exposes. Requests with a storage URI, or any request when the
// gateway runs in cloud mode, are proxied upstream; otherwise inline
// LINEAR16 content is recognized locally.
func (r *Runtime) handleSyncRecognize(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "FAILED_PRECONDITION", "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxRecognizeBody))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "failed to read request body")
		return
	}

	cfg, audio, err := speech.DecodeRequestBody(body)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	if err := audio.Validate(); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	sessionID := req.Header.Get("X-Session-ID")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var alternatives []speech.Alternative
	if r.cfg.ASR.Mode == "cloud" || audio.URI != "" {
		alternatives, err = r.speechClient.Recognize(req.Context(), cfg, audio)
	} else {
		alternatives, err = r.recognizeLocal(req.Context(), cfg, audio)
	}
	if err != nil {
		writeRecognizeError(w, err)
		return
	}

	r.archiveRecognition(sessionID, cfg, alternatives)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(speech.RecognizeResponse{
		Results: []speech.Result{{Alternatives: alternatives}},
	})
}

func (r *Runtime) recognizeLocal(ctx context.Context, cfg speech.RecognitionConfig, audio speech.Audio) ([]speech.Alternative, error) {
	if cfg.Encoding != speech.EncodingLinear16 {
		return nil, errLocalEncoding
	}

	result, err := r.recognizer.Transcribe(ctx, audio.Content, cfg.SampleRate, 1, true)
	if err != nil {
		return nil, err
	}

	limit := cfg.MaxAlternatives
	if limit <= 1 {
		limit = 1
	}
	var alternatives []speech.Alternative
	for _, alt := range result.Alternatives {
		alternatives = append(alternatives, speech.Alternative{
			Transcript: alt.Text,
			Confidence: alt.Confidence,
		})
		if len(alternatives) >= limit {
			break
		}
	}
	if len(alternatives) == 0 && result.Text != "" {
		alternatives = []speech.Alternative{{Transcript: result.Text, Confidence: result.Confidence}}
	}
	return alternatives, nil
}

func (r *Runtime) archiveRecognition(sessionID string, cfg speech.RecognitionConfig, alternatives []speech.Alternative) {
	if r.store == nil || len(alternatives) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.store.AppendSession(ctx, sessionID, "http", cfg.LanguageCode); err != nil {
		r.logger.Warn("failed to upsert session", slog.String("error", err.Error()))
		return
	}
	err := r.store.AppendTranscript(ctx, eventstore.Transcript{
		SessionID:  sessionID,
		Text:       alternatives[0].Transcript,
		Language:   cfg.LanguageCode,
		Confidence: alternatives[0].Confidence,
	})
	if err != nil {
		r.logger.Warn("failed to append transcript", slog.String("error", err.Error()))
	}
}

var errLocalEncoding = errors.New("local recognizer accepts LINEAR16 content only")

func writeRecognizeError(w http.ResponseWriter, err error) {
	var apiErr *speech.APIError
	switch {
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status == "" {
			status = "UPSTREAM_ERROR"
		}
		writeAPIError(w, apiErr.StatusCode, status, apiErr.Message)
	case errors.Is(err, speech.ErrResultCount):
		writeAPIError(w, http.StatusBadGateway, "UPSTREAM_CONTRACT", err.Error())
	case errors.Is(err, errLocalEncoding),
		errors.Is(err, speech.ErrNoAudioSource),
		errors.Is(err, speech.ErrAmbiguousAudioSource),
		errors.Is(err, speech.ErrMissingEncoding),
		errors.Is(err, speech.ErrSampleRateRange),
		errors.Is(err, speech.ErrTooManyAlternatives),
		errors.Is(err, speech.ErrTooManyPhrases),
		errors.Is(err, speech.ErrUnknownEncoding):
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	default:
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func writeAPIError(w http.ResponseWriter, code int, status, message string) {
	var body apiErrorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Status = status
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
