// Command aura-transcribe sends a single audio file (or storage URI)
// through the speech API and prints the recognition hypotheses.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/auralabs/aura-core/internal/speech"
	"github.com/go-audio/wav"
)

var version = "0.1.0-dev"

func main() {
	var (
		filePath        string
		sourceURI       string
		endpoint        string
		apiVersion      string
		apiKey          string
		bearerToken     string
		encoding        string
		sampleRate      int
		language        string
		maxAlternatives int
		profanityFilter bool
		hints           string
		timeout         time.Duration
		asJSON          bool
		showVersion     bool
	)

	flag.StringVar(&filePath, "file", "", "Path to local audio file (WAV is decoded; other formats need -encoding and -rate)")
	flag.StringVar(&sourceURI, "uri", "", "Storage URI of the audio, e.g. gs://bucket/object")
	flag.StringVar(&endpoint, "endpoint", speech.DefaultEndpoint, "Speech API endpoint")
	flag.StringVar(&apiVersion, "api-version", speech.DefaultAPIVersion, "Speech API version")
	flag.StringVar(&apiKey, "api-key", os.Getenv("AURA_CLOUD_API_KEY"), "API key")
	flag.StringVar(&bearerToken, "token", os.Getenv("AURA_CLOUD_BEARER_TOKEN"), "Bearer token")
	flag.StringVar(&encoding, "encoding", "", "Audio encoding (LINEAR16, FLAC, MULAW, AMR, AMR_WB); inferred for WAV files")
	flag.IntVar(&sampleRate, "rate", 0, "Sample rate in Hz; inferred for WAV files")
	flag.StringVar(&language, "language", "", "BCP-47 language tag, e.g. en-GB")
	flag.IntVar(&maxAlternatives, "max-alternatives", 1, "Maximum recognition hypotheses (0-30)")
	flag.BoolVar(&profanityFilter, "profanity-filter", false, "Mask profanities in transcripts")
	flag.StringVar(&hints, "hints", "", "Comma-separated phrase hints")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	flag.BoolVar(&asJSON, "json", false, "Print raw JSON alternatives")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if err := run(filePath, sourceURI, endpoint, apiVersion, apiKey, bearerToken,
		encoding, sampleRate, language, maxAlternatives, profanityFilter, hints, timeout, asJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(filePath, sourceURI, endpoint, apiVersion, apiKey, bearerToken,
	encoding string, sampleRate int, language string, maxAlternatives int,
	profanityFilter bool, hints string, timeout time.Duration, asJSON bool) error {

	if filePath == "" && sourceURI == "" {
		return fmt.Errorf("one of -file or -uri is required")
	}
	if filePath != "" && sourceURI != "" {
		return fmt.Errorf("-file and -uri are mutually exclusive")
	}

	audio := speech.Audio{URI: sourceURI}
	if filePath != "" {
		content, enc, rate, err := loadAudioFile(filePath, encoding, sampleRate)
		if err != nil {
			return err
		}
		audio = speech.Audio{Content: content}
		encoding = enc
		sampleRate = rate
	}
	if encoding == "" {
		return fmt.Errorf("-encoding is required for this input")
	}
	if sampleRate == 0 {
		return fmt.Errorf("-rate is required for this input")
	}

	client, err := speech.NewClient(
		speech.WithEndpoint(endpoint),
		speech.WithAPIVersion(apiVersion),
		speech.WithAPIKey(apiKey),
		speech.WithBearerToken(bearerToken),
		speech.WithTimeout(timeout),
	)
	if err != nil {
		return err
	}

	cfg := speech.RecognitionConfig{
		Encoding:        speech.Encoding(encoding),
		SampleRate:      sampleRate,
		LanguageCode:    language,
		MaxAlternatives: maxAlternatives,
		ProfanityFilter: profanityFilter,
	}
	if hints != "" {
		for _, phrase := range strings.Split(hints, ",") {
			if p := strings.TrimSpace(phrase); p != "" {
				cfg.SpeechContext = append(cfg.SpeechContext, p)
			}
		}
	}

	alternatives, err := client.Recognize(context.Background(), cfg, audio)
	if err != nil {
		return err
	}

	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(alternatives)
	}
	for i, alt := range alternatives {
		fmt.Printf("%d. %s (confidence %.2f)\n", i+1, alt.Transcript, alt.Confidence)
	}
	return nil
}

// loadAudioFile reads the file; WAV input is decoded to LINEAR16 PCM
// with the container stripped, anything else is passed through as-is.
func loadAudioFile(path, encoding string, sampleRate int) ([]byte, string, int, error) {
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", 0, fmt.Errorf("read audio file: %w", err)
		}
		return data, encoding, sampleRate, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, "", 0, fmt.Errorf("open wav file: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, "", 0, fmt.Errorf("decode wav: %w", err)
	}
	if dec.BitDepth != 16 {
		return nil, "", 0, fmt.Errorf("only 16-bit wav input is supported, got %d-bit", dec.BitDepth)
	}

	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample)))
	}
	return pcm, string(speech.EncodingLinear16), buf.Format.SampleRate, nil
}
