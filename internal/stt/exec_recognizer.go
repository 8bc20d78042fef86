package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/auralabs/aura-core/internal/config"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
)

// execRecognizer shells out to a local engine (whisper-style CLI) that
// reads a WAV file and prints a JSON result on stdout.
type execRecognizer struct {
	cmd []string
	cfg config.ASRConfig
	mu  sync.Mutex
}

type execResult struct {
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
	Alternatives []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"alternatives"`
}

func NewExecRecognizer(cfg config.ASRConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse asr command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("asr command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "aura_asr_*.wav")
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, sampleRate, channels); err != nil {
		return TranscriptResult{}, err
	}

	command := exec.CommandContext(ctx, r.cmd[0], r.buildArgs(file.Name(), final)...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return TranscriptResult{}, fmt.Errorf("asr command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode asr response: %w", err)
	}

	result := TranscriptResult{Text: resp.Text, Confidence: resp.Confidence}
	for _, alt := range resp.Alternatives {
		result.Alternatives = append(result.Alternatives, Alternative{Text: alt.Text, Confidence: alt.Confidence})
	}
	if len(result.Alternatives) == 0 && result.Text != "" {
		result.Alternatives = []Alternative{{Text: result.Text, Confidence: result.Confidence}}
	}
	return result, nil
}

func (r *execRecognizer) buildArgs(wavPath string, final bool) []string {
	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", wavPath)
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		args = append(args, "--language", r.cfg.Language)
	}
	if r.cfg.PublishInterim && !final {
		args = append(args, "--partial")
	}
	return args
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   samples,
	}

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
