package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/sibyl/pkg/provider/synth"
)

// ErrStreamingUnsupported is returned by [SynthFallback.SynthesizeStream] when
// no backend in the group implements [synth.Streamer]. Callers typically fall
// back to one-shot synthesis.
var ErrStreamingUnsupported = errors.New("resilience: no backend supports streaming")

// SynthFallback implements [synth.Provider] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
type SynthFallback struct {
	group *FallbackGroup[synth.Provider]
}

// Compile-time interface assertions.
var (
	_ synth.Provider = (*SynthFallback)(nil)
	_ synth.Streamer = (*SynthFallback)(nil)
)

// NewSynthFallback creates a [SynthFallback] with primary as the preferred
// backend.
func NewSynthFallback(primary synth.Provider, primaryName string, cfg FallbackConfig) *SynthFallback {
	return &SynthFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesis backend as a fallback.
func (f *SynthFallback) AddFallback(name string, provider synth.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend, primary first.
func (f *SynthFallback) Status() []BackendStatus {
	return f.group.Status()
}

// Synthesize renders the request using the first healthy backend.
func (f *SynthFallback) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	return ExecuteWithResult(f.group, func(p synth.Provider) (*synth.Result, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices returns available voices from the first healthy backend.
func (f *SynthFallback) ListVoices(ctx context.Context) ([]synth.Voice, error) {
	return ExecuteWithResult(f.group, func(p synth.Provider) ([]synth.Voice, error) {
		return p.ListVoices(ctx)
	})
}

// SynthesizeStream opens a streaming synthesis against the first healthy
// backend that implements [synth.Streamer]. Backends without streaming
// support are skipped without touching their breakers, since the failure is
// a capability mismatch, not an outage. Only the initial stream setup is
// covered by failover; mid-stream errors are the caller's responsibility.
func (f *SynthFallback) SynthesizeStream(ctx context.Context, req synth.Request) (<-chan []byte, error) {
	var lastErr error
	supported := false
	for i := range f.group.entries {
		entry := &f.group.entries[i]
		streamer, ok := entry.value.(synth.Streamer)
		if !ok {
			continue
		}
		supported = true

		var stream <-chan []byte
		err := entry.breaker.Execute(func() error {
			var innerErr error
			stream, innerErr = streamer.SynthesizeStream(ctx, req)
			return innerErr
		})
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	if !supported {
		return nil, ErrStreamingUnsupported
	}
	return nil, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
