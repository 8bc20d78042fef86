package stt

import (
	"context"
	"errors"

	"github.com/auralabs/aura-core/internal/config"
	"github.com/auralabs/aura-core/internal/speech"
)

// cloudRecognizer delegates recognition to the upstream speech API,
// sending buffered PCM as inline LINEAR16 content.
type cloudRecognizer struct {
	client *speech.Client
	cfg    config.ASRConfig
	cloud  config.CloudConfig
}

func NewCloudRecognizer(client *speech.Client, cfg config.ASRConfig, cloud config.CloudConfig) Recognizer {
	return &cloudRecognizer{client: client, cfg: cfg, cloud: cloud}
}

func (r *cloudRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, _ int, _ bool) (TranscriptResult, error) {
	if len(pcm) == 0 {
		return TranscriptResult{}, errors.New("empty audio buffer")
	}

	reqCfg := speech.RecognitionConfig{
		Encoding:        speech.EncodingLinear16,
		SampleRate:      sampleRate,
		LanguageCode:    r.cfg.Language,
		MaxAlternatives: r.cloud.MaxAlternatives,
		ProfanityFilter: r.cloud.ProfanityFilter,
		SpeechContext:   r.cloud.SpeechContext,
	}
	alts, err := r.client.Recognize(ctx, reqCfg, speech.Audio{Content: pcm})
	if err != nil {
		return TranscriptResult{}, err
	}
	return fromAlternatives(alts), nil
}

// fromAlternatives picks the highest-confidence hypothesis as the
// primary text and keeps the full list.
func fromAlternatives(alts []speech.Alternative) TranscriptResult {
	var result TranscriptResult
	for _, alt := range alts {
		if alt.Transcript == "" {
			continue
		}
		result.Alternatives = append(result.Alternatives, Alternative{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
		})
		if result.Text == "" || alt.Confidence > result.Confidence {
			result.Text = alt.Transcript
			result.Confidence = alt.Confidence
		}
	}
	return result
}
