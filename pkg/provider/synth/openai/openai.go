// Package openai provides a synthesis provider backed by the OpenAI speech
// API. Audio is requested in the raw pcm response format and decoded into
// float samples, so the rest of the pipeline treats this backend exactly
// like a local model.
package openai

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/sibyl/pkg/audio"
	"github.com/MrWong99/sibyl/pkg/provider/synth"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = oai.SpeechModelTTS1

// DefaultVoice is used when a request names no speaker.
const DefaultVoice = "alloy"

// pcmSampleRate is fixed by the API: the pcm response format is 24 kHz mono
// signed 16-bit little-endian without a header.
const pcmSampleRate = 24000

// Ensure Provider implements the synth.Provider interface.
var _ synth.Provider = (*Provider)(nil)

// knownVoices lists the voices the speech endpoint documents. ListVoices
// reports these; Synthesize passes unknown names through and lets the API
// reject them.
var knownVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo",
	"fable", "nova", "onyx", "sage", "shimmer", "verse",
}

// Provider implements synth.Provider using the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  string
	speed  float64
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
	speed   float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// API-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithSpeed sets the playback speed passed to the API. The endpoint accepts
// 0.25 to 4.0; zero leaves the parameter unset.
func WithSpeed(speed float64) Option {
	return func(c *config) {
		c.speed = speed
	}
}

// New constructs a new OpenAI speech Provider.
// If model is empty, DefaultModel (tts-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai synth: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, speed: cfg.speed}, nil
}

// Synthesize implements synth.Provider. The speech endpoint has no markup
// support, so requests carrying markup are rejected.
func (p *Provider) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	input, isMarkup, err := req.Input()
	if err != nil {
		return nil, err
	}
	if isMarkup {
		return nil, errors.New("openai synth: markup input is not supported")
	}

	voice := req.Speaker
	if voice == "" {
		voice = DefaultVoice
	}

	params := oai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          input,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if p.speed > 0 {
		params.Speed = param.NewOpt(p.speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai synth: synthesize: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai synth: read audio stream: %w", err)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("openai synth: odd PCM payload length %d", len(data))
	}

	samples := pcmToSamples(data)
	rate := pcmSampleRate
	if req.SampleRate > 0 && req.SampleRate != pcmSampleRate {
		samples = audio.ResampleLinear(samples, pcmSampleRate, req.SampleRate)
		rate = req.SampleRate
	}
	return &synth.Result{Samples: samples, SampleRate: rate}, nil
}

// ListVoices implements synth.Provider with the static catalogue the API
// documents.
func (p *Provider) ListVoices(ctx context.Context) ([]synth.Voice, error) {
	voices := make([]synth.Voice, 0, len(knownVoices))
	for _, name := range knownVoices {
		voices = append(voices, synth.Voice{
			ID:       name,
			Name:     name,
			Model:    p.model,
			Language: "en",
			Provider: "openai",
		})
	}
	return voices, nil
}

// ModelID returns the configured speech model.
func (p *Provider) ModelID() string {
	return p.model
}

// pcmToSamples decodes little-endian 16-bit PCM into float samples.
func pcmToSamples(data []byte) []float64 {
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return audio.S16ToFloat(pcm)
}
