// Package mock provides a test double for the synth.Provider interface.
//
// Use Provider to feed a controlled waveform to consumers and to verify the
// Request values passed to the backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeResult: &synth.Result{Samples: []float64{0, 0.5}, SampleRate: 48000},
//	    ListVoicesResult: []synth.Voice{{ID: "aidar", Model: "v5_ru"}},
//	}
//	res, _ := p.Synthesize(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sibyl/pkg/provider/synth"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req synth.Request
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Provider is a mock implementation of synth.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeResult is returned by Synthesize. The Samples slice is
	// returned as-is; tests that mutate it should set a fresh value.
	SynthesizeResult *synth.Result

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeFunc, if non-nil, overrides SynthesizeResult/SynthesizeErr
	// entirely. The call is still recorded.
	SynthesizeFunc func(ctx context.Context, req synth.Request) (*synth.Result, error)

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []synth.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall
}

// Synthesize records the call and returns the configured result or error.
func (p *Provider) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	fn := p.SynthesizeFunc
	result, err := p.SynthesizeResult, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]synth.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = nil
}

// Ensure Provider implements synth.Provider at compile time.
var _ synth.Provider = (*Provider)(nil)

// StreamProvider is a mock implementation of both synth.Provider and
// synth.Streamer. The plain [Provider] deliberately does not implement
// Streamer, so tests can cover the capability-probing paths with either type.
type StreamProvider struct {
	Provider

	// StreamChunks are sent on the channel returned by SynthesizeStream,
	// in order, before the channel is closed.
	StreamChunks [][]byte

	// StreamErr, if non-nil, is returned as the error from SynthesizeStream.
	StreamErr error

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []SynthesizeCall
}

// SynthesizeStream records the call and streams StreamChunks on the returned
// channel.
func (p *StreamProvider) SynthesizeStream(ctx context.Context, req synth.Request) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeCall{Ctx: ctx, Req: req})
	chunks := p.StreamChunks
	err := p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// Ensure StreamProvider implements synth.Streamer at compile time.
var _ synth.Streamer = (*StreamProvider)(nil)
