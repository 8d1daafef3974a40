package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/sibyl/pkg/provider/synth"
	synthmock "github.com/MrWong99/sibyl/pkg/provider/synth/mock"
)

func TestSynthFallback_PrimarySuccess(t *testing.T) {
	primary := &synthmock.Provider{
		SynthesizeResult: &synth.Result{Samples: []float64{0, 0.5}, SampleRate: 48000},
	}
	secondary := &synthmock.Provider{
		SynthesizeResult: &synth.Result{Samples: []float64{1}, SampleRate: 24000},
	}

	fb := NewSynthFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	result, err := fb.Synthesize(context.Background(), synth.Request{Text: "hello", Speaker: "aidar"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SampleRate != 48000 {
		t.Fatalf("result.SampleRate = %d, want 48000", result.SampleRate)
	}
	if len(primary.SynthesizeCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.SynthesizeCalls))
	}
	if len(secondary.SynthesizeCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.SynthesizeCalls))
	}
}

func TestSynthFallback_Failover(t *testing.T) {
	primary := &synthmock.Provider{
		SynthesizeErr: errors.New("primary down"),
	}
	secondary := &synthmock.Provider{
		SynthesizeResult: &synth.Result{Samples: []float64{0.25}, SampleRate: 24000},
	}

	fb := NewSynthFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	result, err := fb.Synthesize(context.Background(), synth.Request{Text: "hello", Speaker: "aidar"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Samples) != 1 || result.Samples[0] != 0.25 {
		t.Fatalf("result.Samples = %v, want [0.25]", result.Samples)
	}
	if len(primary.SynthesizeCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.SynthesizeCalls))
	}
	if len(secondary.SynthesizeCalls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.SynthesizeCalls))
	}
}

func TestSynthFallback_AllFail(t *testing.T) {
	primary := &synthmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &synthmock.Provider{SynthesizeErr: errors.New("secondary down")}

	fb := NewSynthFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Synthesize(context.Background(), synth.Request{Text: "hello", Speaker: "aidar"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSynthFallback_ListVoices_Failover(t *testing.T) {
	primary := &synthmock.Provider{
		ListVoicesErr: errors.New("primary down"),
	}
	secondary := &synthmock.Provider{
		ListVoicesResult: []synth.Voice{
			{ID: "aidar", Model: "v5_ru"},
			{ID: "baya", Model: "v5_ru"},
		},
	}

	fb := NewSynthFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].ID != "aidar" {
		t.Fatalf("voices[0].ID = %q, want aidar", voices[0].ID)
	}
}

func TestSynthFallback_SynthesizeStream_SkipsNonStreamers(t *testing.T) {
	// Primary cannot stream; the streaming-capable secondary should be used
	// without the primary's breaker being touched.
	primary := &synthmock.Provider{
		SynthesizeResult: &synth.Result{SampleRate: 48000},
	}
	secondary := &synthmock.StreamProvider{
		StreamChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
	}

	fb := NewSynthFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	stream, err := fb.SynthesizeStream(context.Background(), synth.Request{Text: "hello", Speaker: "aidar"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var chunks [][]byte
	for chunk := range stream {
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if string(chunks[0]) != "audio1" {
		t.Fatalf("chunk[0] = %q, want audio1", string(chunks[0]))
	}
	if len(secondary.SynthesizeStreamCalls) != 1 {
		t.Fatalf("secondary stream called %d times, want 1", len(secondary.SynthesizeStreamCalls))
	}
	if got := fb.Status()[0].State; got != StateClosed {
		t.Fatalf("primary breaker state = %v, want closed", got)
	}
}

func TestSynthFallback_SynthesizeStream_NoCapableBackend(t *testing.T) {
	primary := &synthmock.Provider{}
	fb := NewSynthFallback(primary, "primary", FallbackConfig{})

	_, err := fb.SynthesizeStream(context.Background(), synth.Request{Text: "hello", Speaker: "aidar"})
	if !errors.Is(err, ErrStreamingUnsupported) {
		t.Fatalf("err = %v, want ErrStreamingUnsupported", err)
	}
}

func TestSynthFallback_SynthesizeStream_AllStreamersFail(t *testing.T) {
	primary := &synthmock.StreamProvider{StreamErr: errors.New("primary down")}
	secondary := &synthmock.StreamProvider{StreamErr: errors.New("secondary down")}

	fb := NewSynthFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.SynthesizeStream(context.Background(), synth.Request{Text: "hello", Speaker: "aidar"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSynthFallback_Status(t *testing.T) {
	primary := &synthmock.Provider{SynthesizeErr: errors.New("down")}
	fb := NewSynthFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("secondary", &synthmock.Provider{
		SynthesizeResult: &synth.Result{SampleRate: 48000},
	})

	// One failure trips the primary's breaker (MaxFailures=1).
	if _, err := fb.Synthesize(context.Background(), synth.Request{Text: "x", Speaker: "s"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status := fb.Status()
	if len(status) != 2 {
		t.Fatalf("got %d statuses, want 2", len(status))
	}
	if status[0].Name != "primary" || status[0].State != StateOpen {
		t.Errorf("status[0] = %+v, want primary/open", status[0])
	}
	if status[1].Name != "secondary" || status[1].State != StateClosed {
		t.Errorf("status[1] = %+v, want secondary/closed", status[1])
	}
}
