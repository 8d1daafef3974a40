// Package pipeline runs synthesis jobs end to end.
//
// A job travels through a fixed sequence of stages:
//
//  1. Resolve the "<model_id>/<speaker_name>" path into model, speaker and
//     language.
//  2. Parse the rate string and decide between a plain-text and a
//     prosody-markup request.
//  3. Invoke the synthesis backend.
//  4. Resample when the backend rendered at a different rate, then apply the
//     optional time-stretch.
//  5. Quantize to 16-bit PCM and encode a mono WAV container.
//
// The pipeline is deliberately linear with no retries. Failover across
// backends is layered underneath by internal/resilience when configured, and
// never changes the per-job control flow here. A Pipeline value is safe for
// concurrent use; batch mode and the HTTP service run many jobs against one
// instance.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/sibyl/internal/observe"
	"github.com/MrWong99/sibyl/pkg/audio"
	"github.com/MrWong99/sibyl/pkg/prosody"
	"github.com/MrWong99/sibyl/pkg/provider/synth"
	"github.com/MrWong99/sibyl/pkg/voice"
)

// DefaultSampleRate is the output sample rate used when a job does not name
// one.
const DefaultSampleRate = 48000

// ErrInvalidJob marks job validation failures, as opposed to backend or I/O
// errors. The HTTP service maps it to a 400 response.
var ErrInvalidJob = errors.New("pipeline: invalid job")

// Job describes one text-to-WAV conversion.
type Job struct {
	// Text is the utterance to synthesise. Required.
	Text string `yaml:"text" json:"text"`

	// Speaker selects the voice as "<model_id>/<speaker_name>". Required.
	Speaker string `yaml:"speaker" json:"speaker"`

	// Output is the WAV file path. Required for [Pipeline.Run]; ignored by
	// [Pipeline.Render]. Parent directories are created as needed.
	Output string `yaml:"output" json:"output,omitempty"`

	// SampleRate is the output rate in Hz. Zero means DefaultSampleRate.
	SampleRate int `yaml:"sample_rate" json:"sample_rate,omitempty"`

	// Rate adjusts speaking rate, either as a signed percentage delta
	// ("+50%", "-25%") or a bare multiplier ("1.2"). Empty or malformed
	// input means no adjustment.
	Rate string `yaml:"rate" json:"rate,omitempty"`

	// Pitch is a pitch multiplier. Zero means 1.0 (no adjustment).
	Pitch float64 `yaml:"pitch" json:"pitch,omitempty"`

	// TimeStretch is a post-synthesis duration factor. Values above 1 speed
	// the audio up and shift pitch upward with it. Zero means 1.0.
	TimeStretch float64 `yaml:"time_stretch" json:"time_stretch,omitempty"`
}

// withDefaults returns a copy of the job with zero values replaced by their
// documented defaults.
func (j Job) withDefaults() Job {
	if j.SampleRate == 0 {
		j.SampleRate = DefaultSampleRate
	}
	if j.Pitch == 0 {
		j.Pitch = 1.0
	}
	if j.TimeStretch == 0 {
		j.TimeStretch = 1.0
	}
	return j
}

// Rendered is the in-memory product of a synthesis job.
type Rendered struct {
	// WAV is the complete encoded WAV file.
	WAV []byte

	// SampleRate is the rate the audio was encoded at.
	SampleRate int

	// Samples is the number of mono samples in the waveform.
	Samples int

	// Seconds is the audio duration.
	Seconds float64
}

// Pipeline executes jobs against a synthesis backend.
type Pipeline struct {
	provider synth.Provider
	metrics  *observe.Metrics
	backend  string
	mode     string
}

// Option is a functional option for configuring a Pipeline during
// construction.
type Option func(*Pipeline)

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithBackendName sets the provider label attached to backend metrics.
// Defaults to "synth".
func WithBackendName(name string) Option {
	return func(p *Pipeline) { p.backend = name }
}

// WithMode sets the job mode label ("cli", "batch", "serve", "mcp") attached
// to job metrics. A process runs in exactly one mode, so this is fixed at
// construction. Defaults to "cli".
func WithMode(mode string) Option {
	return func(p *Pipeline) { p.mode = mode }
}

// New constructs a Pipeline backed by the given provider. Options are applied
// after defaults are set.
func New(provider synth.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		provider: provider,
		backend:  "synth",
		mode:     "cli",
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// BuildRequest resolves a job's speaker path and builds the provider request,
// wrapping the text in prosody markup when rate or pitch deviate from
// identity. Defaults are applied first, so a zero SampleRate comes back as
// DefaultSampleRate. Validation failures carry ErrInvalidJob.
func BuildRequest(job Job) (synth.Request, error) {
	job = job.withDefaults()
	if job.Text == "" {
		return synth.Request{}, fmt.Errorf("%w: text must not be empty", ErrInvalidJob)
	}

	v, err := voice.Resolve(job.Speaker)
	if err != nil {
		return synth.Request{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	rate := prosody.ParseRate(job.Rate)
	req := synth.Request{
		Model:      v.Model,
		Speaker:    v.Speaker,
		SampleRate: job.SampleRate,
	}
	if prosody.NeedsMarkup(rate, job.Pitch) {
		req.Markup = prosody.BuildMarkup(job.Text, rate, job.Pitch)
	} else {
		req.Text = job.Text
	}
	return req, nil
}

// Render executes all stages of a job except the file write and returns the
// encoded WAV bytes. The HTTP service uses this directly; CLI and batch modes
// go through [Pipeline.Run].
func (p *Pipeline) Render(ctx context.Context, job Job) (*Rendered, error) {
	job = job.withDefaults()

	req, err := BuildRequest(job)
	if err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "pipeline.render",
		trace.WithAttributes(
			observe.Attr("model", req.Model),
			observe.Attr("speaker", req.Speaker),
		),
	)
	defer span.End()

	log := observe.Logger(ctx)
	log.Info("synthesizing",
		"model", req.Model,
		"speaker", req.Speaker,
		"chars", len(job.Text),
		"markup", req.Markup != "")

	start := time.Now()
	res, err := p.provider.Synthesize(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, p.backend, "error")
		p.metrics.RecordProviderError(ctx, p.backend)
		return nil, fmt.Errorf("pipeline: synthesize: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, p.backend, "ok")
	p.metrics.SynthDuration.Record(ctx, elapsed,
		metric.WithAttributes(observe.Attr("provider", p.backend)))

	samples := res.Samples
	if res.SampleRate > 0 && res.SampleRate != job.SampleRate {
		log.Info("resampling", "from", res.SampleRate, "to", job.SampleRate)
		samples = audio.ResampleLinear(samples, res.SampleRate, job.SampleRate)
	}

	if job.TimeStretch != 1.0 {
		log.Info("applying time stretch", "factor", job.TimeStretch)
		start = time.Now()
		samples = audio.TimeStretch(samples, job.TimeStretch)
		p.metrics.StretchDuration.Record(ctx, time.Since(start).Seconds())
	}

	pcm := audio.QuantizeS16(samples)
	wav, err := audio.EncodeWAV(pcm, job.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode wav: %w", err)
	}

	seconds := float64(len(samples)) / float64(job.SampleRate)
	p.metrics.AudioSeconds.Add(ctx, seconds)

	return &Rendered{
		WAV:        wav,
		SampleRate: job.SampleRate,
		Samples:    len(samples),
		Seconds:    seconds,
	}, nil
}

// Run renders a job and writes the WAV file to job.Output, creating parent
// directories as needed. The returned Rendered describes what was written.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Rendered, error) {
	start := time.Now()
	r, err := p.run(ctx, job)
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordJob(ctx, p.mode, status, time.Since(start).Seconds())
	return r, err
}

func (p *Pipeline) run(ctx context.Context, job Job) (*Rendered, error) {
	if job.Output == "" {
		return nil, fmt.Errorf("%w: output path must not be empty", ErrInvalidJob)
	}

	r, err := p.Render(ctx, job)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(job.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("pipeline: create output dir: %w", err)
		}
	}
	if err := os.WriteFile(job.Output, r.WAV, 0o644); err != nil {
		return nil, fmt.Errorf("pipeline: write %s: %w", job.Output, err)
	}

	observe.Logger(ctx).Info("audio written",
		"path", job.Output,
		"seconds", r.Seconds,
		"sample_rate", r.SampleRate)
	return r, nil
}

// ListVoices returns the backend's voice catalogue.
func (p *Pipeline) ListVoices(ctx context.Context) ([]synth.Voice, error) {
	voices, err := p.provider.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list voices: %w", err)
	}
	return voices, nil
}
