// Package synth defines the Provider interface for speech synthesis backends.
//
// A synthesis provider wraps a pretrained TTS model (a local Silero server, a
// helper process, or a cloud speech API) behind a one-shot request/response
// call: the pipeline hands over plain text or markup plus a speaker selection
// and receives the complete waveform back. Chunked delivery to clients is
// layered on top by the HTTP service, not by providers.
//
// Implementations must be safe for concurrent use.
package synth

import "context"

// Provider is the abstraction over any synthesis backend.
//
// Implementations must be safe for concurrent use; batch mode runs several
// synthesis requests in parallel against one Provider value.
type Provider interface {
	// Synthesize renders a single utterance and returns the full waveform.
	// Exactly one of req.Text and req.Markup must be set; providers reject
	// requests carrying both or neither.
	//
	// The returned Result reports the sample rate the waveform actually has,
	// which may differ from req.SampleRate when the backend cannot honor the
	// requested rate. Callers resample if they need the exact rate.
	//
	// Synthesize blocks until the waveform is complete or ctx is cancelled.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// ListVoices returns all voices available from this provider. The list
	// reflects the backend's current catalogue and may change between calls.
	//
	// Returns an error if the backend cannot be reached or if ctx is
	// cancelled before the list is retrieved.
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Streamer is an optional interface for providers that can deliver audio
// incrementally while synthesis is still running. Chunks are raw little-endian
// 16-bit PCM at the requested sample rate.
//
// The returned channel is closed when synthesis completes or ctx is
// cancelled; callers must drain it. Errors during streaming are signalled by
// closing the channel early, callers check ctx.Err() to distinguish
// cancellation from backend failure.
type Streamer interface {
	SynthesizeStream(ctx context.Context, req Request) (<-chan []byte, error)
}
