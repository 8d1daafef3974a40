// Package silero provides a synthesis provider backed by a locally-running
// Silero TTS REST server. It implements the synth.Provider interface.
//
// Synthesis is performed via POST /tts with a JSON body naming the model,
// speaker and sample rate; the server answers with a complete WAV file. The
// voice catalogue is retrieved from GET /speakers, which maps each loaded
// model to its speaker names. Servers that expose the optional /tts/stream
// WebSocket endpoint can additionally deliver PCM chunks while synthesis is
// still running; see SynthesizeStream.
//
// Typical usage:
//
//	p, err := silero.New("http://localhost:8980",
//	    silero.WithTimeout(60*time.Second),
//	)
//	res, err := p.Synthesize(ctx, synth.Request{
//	    Text:       "Привет, мир!",
//	    Model:      "v5_ru",
//	    Speaker:    "aidar",
//	    SampleRate: 48000,
//	})
package silero

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/sibyl/pkg/audio"
	"github.com/MrWong99/sibyl/pkg/provider/synth"
	"github.com/MrWong99/sibyl/pkg/voice"
	"github.com/coder/websocket"
)

// Compile-time interface assertions.
var (
	_ synth.Provider = (*Provider)(nil)
	_ synth.Streamer = (*Provider)(nil)
)

// ---- constants ----

const (
	defaultTimeout    = 30 * time.Second
	defaultSampleRate = 48000

	ttsEndpoint      = "/tts"
	speakersEndpoint = "/speakers"
	streamEndpoint   = "/tts/stream"

	// audioChanBuf is the buffer depth of the channel returned by
	// SynthesizeStream.
	audioChanBuf = 256
)

// ---- options ----

// Option is a functional option for configuring a Silero Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set. Synthesis of long texts on CPU-only servers
// can exceed the default; raise it in that case.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithOutputSampleRate configures the provider to resample synthesised audio
// to the given rate when the server answers at a different one. When set to 0
// (default), audio is returned at the rate the server produced.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// WithAccentMarks controls automatic stress-mark placement for Russian text.
// Enabled by default.
func WithAccentMarks(enabled bool) Option {
	return func(p *Provider) {
		p.putAccent = enabled
	}
}

// WithYoRestoration controls automatic restoration of the Cyrillic letter ё
// in Russian text. Enabled by default.
func WithYoRestoration(enabled bool) Option {
	return func(p *Provider) {
		p.putYo = enabled
	}
}

// ---- Provider ----

// Provider implements synth.Provider backed by a Silero TTS REST server.
// It is safe for concurrent use; multiple Synthesize calls may run in parallel.
type Provider struct {
	serverURL  string
	httpClient *http.Client
	outputRate int // target sample rate; 0 = no resampling
	putAccent  bool
	putYo      bool
}

// New creates a new Silero Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:8980"). serverURL must be non-empty. Functional
// options may override the per-request timeout, output sample rate and the
// Russian text markers.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("silero: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		putAccent: true,
		putYo:     true,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- internal request/response types ----

// ttsRequest is the JSON body sent to POST /tts and over /tts/stream.
type ttsRequest struct {
	Text       string `json:"text,omitempty"`
	SSML       string `json:"ssml,omitempty"`
	Model      string `json:"model,omitempty"`
	Speaker    string `json:"speaker"`
	SampleRate int    `json:"sample_rate"`
	PutAccent  bool   `json:"put_accent"`
	PutYo      bool   `json:"put_yo"`
}

// speakersResponse is the JSON body returned by GET /speakers: a map from
// model name to the speakers it serves.
type speakersResponse map[string][]string

// buildRequest converts a synth.Request into the wire form, applying the
// provider defaults.
func (p *Provider) buildRequest(req synth.Request) (ttsRequest, error) {
	input, isMarkup, err := req.Input()
	if err != nil {
		return ttsRequest{}, err
	}
	if req.Speaker == "" {
		return ttsRequest{}, errors.New("silero: request speaker must not be empty")
	}

	body := ttsRequest{
		Model:      req.Model,
		Speaker:    req.Speaker,
		SampleRate: req.SampleRate,
		PutAccent:  p.putAccent,
		PutYo:      p.putYo,
	}
	if body.SampleRate == 0 {
		body.SampleRate = defaultSampleRate
	}
	if isMarkup {
		body.SSML = input
	} else {
		body.Text = input
	}
	return body, nil
}

// ---- Synthesize ----

// Synthesize performs a single POST /tts call and returns the decoded
// waveform. Stereo responses are downmixed to mono; the result reports the
// rate the audio actually has after any configured resampling.
func (p *Provider) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("silero: marshal tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("silero: create tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("silero: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("silero: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("silero: read WAV response: %w", err)
	}

	info, pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("silero: decode response: %w", err)
	}
	if info.Channels > 2 {
		return nil, fmt.Errorf("silero: unsupported channel count %d in response", info.Channels)
	}

	samples := audio.S16ToFloat(pcm)
	if info.Channels == 2 {
		samples = audio.StereoToMono(samples)
	}
	rate := info.SampleRate
	if p.outputRate > 0 && rate != p.outputRate {
		samples = audio.ResampleLinear(samples, rate, p.outputRate)
		rate = p.outputRate
	}
	return &synth.Result{Samples: samples, SampleRate: rate}, nil
}

// ---- SynthesizeStream ----

// SynthesizeStream opens a WebSocket to the server's /tts/stream endpoint,
// sends the synthesis request, and returns a channel emitting raw PCM chunks
// as the server produces them. Chunks are little-endian 16-bit mono PCM at
// the requested sample rate.
//
// The returned channel is closed when the server finishes or ctx is
// cancelled. The caller must drain the channel to prevent goroutine leaks.
func (p *Provider) SynthesizeStream(ctx context.Context, req synth.Request) (<-chan []byte, error) {
	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("silero: marshal stream request: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, p.serverURL+streamEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("silero: dial %s: %w", streamEndpoint, err)
	}

	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send request")
		return nil, fmt.Errorf("silero: send stream request: %w", err)
	}

	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				// A normal closure is the end-of-stream signal; anything
				// else ends the stream early and the caller checks ctx.Err().
				return
			}
			if typ != websocket.MessageBinary || len(data) == 0 {
				continue
			}
			select {
			case audioCh <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// ---- ListVoices ----

// ListVoices retrieves the speaker catalogue from GET /speakers and flattens
// it into one Voice per model/speaker pair, sorted by model then speaker for
// deterministic output. The language is derived from the model name; models
// with an unrecognizable language get an empty Language field.
func (p *Provider) ListVoices(ctx context.Context) ([]synth.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+speakersEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("silero: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("silero: GET %s: %w", speakersEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("silero: GET %s returned status %d", speakersEndpoint, resp.StatusCode)
	}

	var raw speakersResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("silero: decode speakers response: %w", err)
	}

	// Sort model names for deterministic output.
	models := make([]string, 0, len(raw))
	for model := range raw {
		models = append(models, model)
	}
	sort.Strings(models)

	var voices []synth.Voice
	for _, model := range models {
		speakers := make([]string, len(raw[model]))
		copy(speakers, raw[model])
		sort.Strings(speakers)

		lang, _ := voice.Language(model)
		for _, spk := range speakers {
			voices = append(voices, synth.Voice{
				ID:       spk,
				Name:     spk,
				Model:    model,
				Language: lang,
				Provider: "silero",
			})
		}
	}
	return voices, nil
}
