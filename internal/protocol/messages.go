package protocol

import "time"

// AudioFrame represents PCM audio data streamed from edge devices.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Alternative is a single recognition hypothesis.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcript represents recognizer output broadcast on the bus.
type Transcript struct {
	SessionID    string        `json:"session_id"`
	Text         string        `json:"text"`
	Language     string        `json:"language,omitempty"`
	Partial      bool          `json:"partial"`
	Timestamp    time.Time     `json:"timestamp"`
	Confidence   float64       `json:"confidence,omitempty"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "asr.text.partial"
	SubjectTranscriptFinal   = "asr.text.final"
)
