// Package speech implements a synchronous client for a Google-style
// cloud speech recognition REST API, plus the request/response wire
// types shared with the gateway endpoint that serves the same surface.
package speech

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Encoding identifies the codec of submitted audio.
type Encoding string

const (
	EncodingLinear16 Encoding = "LINEAR16"
	EncodingFLAC     Encoding = "FLAC"
	EncodingMULAW    Encoding = "MULAW"
	EncodingAMR      Encoding = "AMR"
	EncodingAMRWB    Encoding = "AMR_WB"
)

const (
	// MinSampleRate and MaxSampleRate bound the accepted sample rates in Hz.
	MinSampleRate = 8000
	MaxSampleRate = 48000
	// MaxAlternatives is the largest hypothesis count the service accepts.
	MaxAlternatives = 30
	// MaxSpeechContextPhrases caps the number of phrase hints per request.
	MaxSpeechContextPhrases = 50
)

var (
	ErrNoAudioSource        = errors.New("speech: audio content and uri cannot both be empty")
	ErrAmbiguousAudioSource = errors.New("speech: audio content and uri cannot both be set")
	ErrMissingEncoding      = errors.New("speech: encoding must be set")
	ErrSampleRateRange      = errors.New("speech: sample rate must be between 8000 and 48000")
	ErrTooManyAlternatives  = errors.New("speech: max alternatives must be between 0 and 30")
	ErrTooManyPhrases       = errors.New("speech: speech context must not exceed 50 phrases")
	ErrUnknownEncoding      = errors.New("speech: unknown encoding")
	ErrResultCount          = errors.New("speech: response must contain exactly one result")
)

// RecognitionConfig describes how the service should decode and
// transcribe the audio payload.
type RecognitionConfig struct {
	Encoding        Encoding
	SampleRate      int
	LanguageCode    string // BCP-47 tag; service defaults to en-US when empty
	MaxAlternatives int    // 0 or 1 yields at most one hypothesis
	ProfanityFilter bool
	SpeechContext   []string
}

// Validate checks the config against service limits before any network call.
func (c RecognitionConfig) Validate() error {
	if c.Encoding == "" {
		return ErrMissingEncoding
	}
	switch c.Encoding {
	case EncodingLinear16, EncodingFLAC, EncodingMULAW, EncodingAMR, EncodingAMRWB:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEncoding, c.Encoding)
	}
	if c.SampleRate < MinSampleRate || c.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: got %d", ErrSampleRateRange, c.SampleRate)
	}
	if c.MaxAlternatives < 0 || c.MaxAlternatives > MaxAlternatives {
		return fmt.Errorf("%w: got %d", ErrTooManyAlternatives, c.MaxAlternatives)
	}
	if len(c.SpeechContext) > MaxSpeechContextPhrases {
		return fmt.Errorf("%w: got %d", ErrTooManyPhrases, len(c.SpeechContext))
	}
	return nil
}

// Audio carries the payload: inline bytes or a storage URI, never both.
type Audio struct {
	Content []byte
	URI     string // e.g. gs://bucket/object
}

func (a Audio) Validate() error {
	if len(a.Content) == 0 && a.URI == "" {
		return ErrNoAudioSource
	}
	if len(a.Content) > 0 && a.URI != "" {
		return ErrAmbiguousAudioSource
	}
	return nil
}

// Alternative is one recognition hypothesis returned by the service.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
}

// APIError reports a non-2xx response from the speech service.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("speech: api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("speech: api error %d", e.StatusCode)
}

type wireConfig struct {
	Encoding        string             `json:"encoding"`
	SampleRate      int                `json:"sampleRate"`
	LanguageCode    string             `json:"languageCode,omitempty"`
	MaxAlternatives int                `json:"maxAlternatives,omitempty"`
	ProfanityFilter bool               `json:"profanityFilter,omitempty"`
	SpeechContext   *wireSpeechContext `json:"speechContext,omitempty"`
}

type wireSpeechContext struct {
	Phrases []string `json:"phrases"`
}

type wireAudio struct {
	Content string `json:"content,omitempty"`
	URI     string `json:"uri,omitempty"`
}

type wireRequest struct {
	Config wireConfig `json:"config"`
	Audio  wireAudio  `json:"audio"`
}

// Result is one recognized segment; the sync API returns exactly one.
type Result struct {
	Alternatives []Alternative `json:"alternatives"`
}

// RecognizeResponse is the service response envelope.
type RecognizeResponse struct {
	Results []Result `json:"results"`
}

type wireError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// EncodeRequestBody serializes config and audio into the API wire format.
// Inline content is base64-encoded per the REST contract.
func EncodeRequestBody(cfg RecognitionConfig, audio Audio) ([]byte, error) {
	wc := wireConfig{
		Encoding:        string(cfg.Encoding),
		SampleRate:      cfg.SampleRate,
		LanguageCode:    cfg.LanguageCode,
		MaxAlternatives: cfg.MaxAlternatives,
		ProfanityFilter: cfg.ProfanityFilter,
	}
	if len(cfg.SpeechContext) > 0 {
		wc.SpeechContext = &wireSpeechContext{Phrases: cfg.SpeechContext}
	}
	wa := wireAudio{URI: audio.URI}
	if len(audio.Content) > 0 {
		wa.Content = base64.StdEncoding.EncodeToString(audio.Content)
	}
	return json.Marshal(wireRequest{Config: wc, Audio: wa})
}

// DecodeRequestBody parses an API wire request back into native types.
// Used by the gateway endpoint to accept the same surface it proxies.
func DecodeRequestBody(data []byte) (RecognitionConfig, Audio, error) {
	var req wireRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return RecognitionConfig{}, Audio{}, fmt.Errorf("speech: decode request: %w", err)
	}
	cfg := RecognitionConfig{
		Encoding:        Encoding(req.Config.Encoding),
		SampleRate:      req.Config.SampleRate,
		LanguageCode:    req.Config.LanguageCode,
		MaxAlternatives: req.Config.MaxAlternatives,
		ProfanityFilter: req.Config.ProfanityFilter,
	}
	if req.Config.SpeechContext != nil {
		cfg.SpeechContext = req.Config.SpeechContext.Phrases
	}
	audio := Audio{URI: req.Audio.URI}
	if req.Audio.Content != "" {
		content, err := base64.StdEncoding.DecodeString(req.Audio.Content)
		if err != nil {
			return RecognitionConfig{}, Audio{}, fmt.Errorf("speech: decode audio content: %w", err)
		}
		audio.Content = content
	}
	return cfg, audio, nil
}
