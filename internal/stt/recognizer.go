package stt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/auralabs/aura-core/internal/config"
	"github.com/auralabs/aura-core/internal/speech"
)

// Alternative is one recognition hypothesis from a backend.
type Alternative struct {
	Text       string
	Confidence float64
}

// TranscriptResult captures recognizer output. Text and Confidence
// carry the best hypothesis; Alternatives holds the full ranked list
// when the backend provides one.
type TranscriptResult struct {
	Text         string
	Confidence   float64
	Alternatives []Alternative
}

// Recognizer abstracts speech recognition backends.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error)
}

// NewRecognizer builds the backend selected by asr.mode.
func NewRecognizer(cfg config.ASRConfig, cloud config.CloudConfig, log *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "cloud":
		client, err := speech.FromConfig(cloud, log)
		if err != nil {
			return nil, fmt.Errorf("build speech client: %w", err)
		}
		return NewCloudRecognizer(client, cfg, cloud), nil
	default:
		return nil, fmt.Errorf("unknown asr mode %q", cfg.Mode)
	}
}
