package server_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/sibyl/internal/config"
	"github.com/MrWong99/sibyl/internal/health"
	"github.com/MrWong99/sibyl/internal/pipeline"
	"github.com/MrWong99/sibyl/internal/resilience"
	"github.com/MrWong99/sibyl/internal/server"
	"github.com/MrWong99/sibyl/pkg/audio"
	"github.com/MrWong99/sibyl/pkg/provider/synth"
	synthmock "github.com/MrWong99/sibyl/pkg/provider/synth/mock"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// newTestServer serves the full route set backed by the given provider and
// returns the httptest server.
func newTestServer(t *testing.T, provider synth.Provider, opts ...server.Option) *httptest.Server {
	t.Helper()

	s := server.New(config.ServerConfig{}, pipeline.New(provider), provider, opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// makeSamples returns n samples of the constant amplitude v.
func makeSamples(n int, v float64) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = v
	}
	return samples
}

// wsURL rewrites an httptest server URL to the ws scheme for path.
func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// dialStream opens the streaming endpoint and sends job as the handshake
// message.
func dialStream(t *testing.T, ctx context.Context, srv *httptest.Server, job pipeline.Job) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/api/synthesize/stream"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })

	payload, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("Write job: %v", err)
	}
	return conn
}

// readFrames drains binary frames until the server closes the connection and
// returns the frames along with the close status.
func readFrames(t *testing.T, ctx context.Context, conn *websocket.Conn) ([][]byte, websocket.StatusCode) {
	t.Helper()

	var frames [][]byte
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return frames, websocket.CloseStatus(err)
		}
		if typ != websocket.MessageBinary {
			t.Fatalf("frame type = %v, want MessageBinary", typ)
		}
		frames = append(frames, data)
	}
}

// ─── POST /api/synthesize ────────────────────────────────────────────────────

// TestSynthesize_ReturnsWAV verifies that a valid job yields a decodable mono
// 16-bit WAV response.
func TestSynthesize_ReturnsWAV(t *testing.T) {
	t.Parallel()

	backend := &synthmock.Provider{
		SynthesizeResult: &synth.Result{Samples: makeSamples(480, 0.25), SampleRate: 48000},
	}
	srv := newTestServer(t, backend)

	resp, err := http.Post(srv.URL+"/api/synthesize", "application/json",
		strings.NewReader(`{"text": "hello", "speaker": "v5_ru/aidar"}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	info, samples, err := audio.DecodeWAV(body)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if info.SampleRate != 48000 || info.Channels != 1 || info.Bits != 16 {
		t.Errorf("info = %+v, want 48000 Hz mono 16-bit", info)
	}
	if len(samples) != 480 {
		t.Errorf("samples = %d, want 480", len(samples))
	}
}

// TestSynthesize_IgnoresOutputPath verifies that a job carrying an output
// path still renders to the response body and touches no files.
func TestSynthesize_IgnoresOutputPath(t *testing.T) {
	t.Parallel()

	backend := &synthmock.Provider{
		SynthesizeResult: &synth.Result{Samples: makeSamples(100, 0), SampleRate: 48000},
	}
	srv := newTestServer(t, backend)

	resp, err := http.Post(srv.URL+"/api/synthesize", "application/json",
		strings.NewReader(`{"text": "hi", "speaker": "v5_ru/aidar", "output": "/nonexistent/dir/out.wav"}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

// TestSynthesize_InvalidBody verifies that malformed JSON is rejected with
// 400 before reaching the backend.
func TestSynthesize_InvalidBody(t *testing.T) {
	t.Parallel()

	backend := &synthmock.Provider{}
	srv := newTestServer(t, backend)

	resp, err := http.Post(srv.URL+"/api/synthesize", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if n := len(backend.SynthesizeCalls); n != 0 {
		t.Errorf("Synthesize calls = %d, want 0", n)
	}
}

// TestSynthesize_InvalidSpeaker verifies that job validation failures map to
// 400 rather than 502.
func TestSynthesize_InvalidSpeaker(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &synthmock.Provider{})

	resp, err := http.Post(srv.URL+"/api/synthesize", "application/json",
		strings.NewReader(`{"text": "hello", "speaker": "no-slash-here"}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "invalid job") {
		t.Errorf("body = %q, want a validation message", body)
	}
}

// TestSynthesize_BackendError verifies that provider failures map to 502.
func TestSynthesize_BackendError(t *testing.T) {
	t.Parallel()

	backend := &synthmock.Provider{SynthesizeErr: errors.New("model exploded")}
	srv := newTestServer(t, backend)

	resp, err := http.Post(srv.URL+"/api/synthesize", "application/json",
		strings.NewReader(`{"text": "hello", "speaker": "v5_ru/aidar"}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

// ─── GET /api/voices ─────────────────────────────────────────────────────────

// TestVoices_ReturnsCatalogue verifies the JSON shape of the voices endpoint.
func TestVoices_ReturnsCatalogue(t *testing.T) {
	t.Parallel()

	backend := &synthmock.Provider{
		ListVoicesResult: []synth.Voice{
			{ID: "aidar", Model: "v5_ru", Language: "ru", Provider: "silero"},
			{ID: "baya", Model: "v5_ru", Language: "ru", Provider: "silero"},
		},
	}
	srv := newTestServer(t, backend)

	resp, err := http.Get(srv.URL + "/api/voices")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var payload struct {
		Voices []synth.Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(payload.Voices) != 2 {
		t.Fatalf("voices = %d, want 2", len(payload.Voices))
	}
	if payload.Voices[0].ID != "aidar" || payload.Voices[0].Model != "v5_ru" {
		t.Errorf("voices[0] = %+v, want aidar/v5_ru", payload.Voices[0])
	}
}

// TestVoices_BackendError verifies that catalogue failures map to 502.
func TestVoices_BackendError(t *testing.T) {
	t.Parallel()

	backend := &synthmock.Provider{ListVoicesErr: errors.New("backend down")}
	srv := newTestServer(t, backend)

	resp, err := http.Get(srv.URL + "/api/voices")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

// ─── operational endpoints ───────────────────────────────────────────────────

// TestHealthEndpoints verifies that liveness and readiness both report ok
// when no checkers are registered.
func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &synthmock.Provider{})

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("Get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

// TestReadyz_FailingChecker verifies that WithCheckers wires readiness
// checks into the route set.
func TestReadyz_FailingChecker(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &synthmock.Provider{}, server.WithCheckers(health.Checker{
		Name:  "backend",
		Check: func(context.Context) error { return errors.New("all breakers open") },
	}))

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

// TestMetricsEndpoint verifies that the Prometheus scrape target is mounted.
func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &synthmock.Provider{})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

// ─── GET /api/synthesize/stream ──────────────────────────────────────────────

// TestStream_ChunkedFallback verifies that a provider without streaming
// support still serves the endpoint: the waveform is rendered in one shot
// and split into frames of at most streamChunkBytes.
func TestStream_ChunkedFallback(t *testing.T) {
	t.Parallel()

	backend := &synthmock.Provider{
		SynthesizeResult: &synth.Result{Samples: makeSamples(10000, 0.25), SampleRate: 8000},
	}
	srv := newTestServer(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialStream(t, ctx, srv, pipeline.Job{
		Text:       "hello",
		Speaker:    "v5_ru/aidar",
		SampleRate: 8000,
	})
	frames, status := readFrames(t, ctx, conn)

	if status != websocket.StatusNormalClosure {
		t.Fatalf("close status = %v, want StatusNormalClosure", status)
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}
	if len(frames[0]) != 8192 || len(frames[1]) != 8192 || len(frames[2]) != 3616 {
		t.Errorf("frame sizes = %d/%d/%d, want 8192/8192/3616",
			len(frames[0]), len(frames[1]), len(frames[2]))
	}

	// 0.25 quantises to 8191; spot-check the first sample of the payload.
	got := int16(binary.LittleEndian.Uint16(frames[0][:2]))
	if got != 8191 {
		t.Errorf("first sample = %d, want 8191", got)
	}
	if n := len(backend.SynthesizeCalls); n != 1 {
		t.Errorf("Synthesize calls = %d, want 1", n)
	}
}

// TestStream_NativeStreamer verifies that providers implementing the
// streaming interface deliver their frames untouched.
func TestStream_NativeStreamer(t *testing.T) {
	t.Parallel()

	backend := &synthmock.StreamProvider{
		StreamChunks: [][]byte{{1, 2}, {3, 4, 5}},
	}
	srv := newTestServer(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialStream(t, ctx, srv, pipeline.Job{
		Text:       "hello",
		Speaker:    "v5_ru/aidar",
		SampleRate: 8000,
	})
	frames, status := readFrames(t, ctx, conn)

	if status != websocket.StatusNormalClosure {
		t.Fatalf("close status = %v, want StatusNormalClosure", status)
	}
	if got := bytes.Join(frames, nil); !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("payload = %v, want 1..5", got)
	}

	if n := len(backend.SynthesizeStreamCalls); n != 1 {
		t.Fatalf("SynthesizeStream calls = %d, want 1", n)
	}
	req := backend.SynthesizeStreamCalls[0].Req
	if req.Model != "v5_ru" || req.Speaker != "aidar" || req.SampleRate != 8000 {
		t.Errorf("request = %+v, want v5_ru/aidar at 8000 Hz", req)
	}
	if n := len(backend.SynthesizeCalls); n != 0 {
		t.Errorf("one-shot Synthesize calls = %d, want 0", n)
	}
}

// TestStream_FallsBackWhenStreamingUnsupported verifies that a streaming
// group with no capable backend falls through to the one-shot path instead
// of failing the request.
func TestStream_FallsBackWhenStreamingUnsupported(t *testing.T) {
	t.Parallel()

	backend := &synthmock.StreamProvider{
		StreamErr: resilience.ErrStreamingUnsupported,
	}
	backend.SynthesizeResult = &synth.Result{Samples: makeSamples(100, 0.5), SampleRate: 8000}
	srv := newTestServer(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialStream(t, ctx, srv, pipeline.Job{
		Text:       "hello",
		Speaker:    "v5_ru/aidar",
		SampleRate: 8000,
	})
	frames, status := readFrames(t, ctx, conn)

	if status != websocket.StatusNormalClosure {
		t.Fatalf("close status = %v, want StatusNormalClosure", status)
	}
	var total int
	for _, f := range frames {
		total += len(f)
	}
	if total != 200 {
		t.Errorf("payload bytes = %d, want 200", total)
	}
	if n := len(backend.SynthesizeCalls); n != 1 {
		t.Errorf("one-shot Synthesize calls = %d, want 1", n)
	}
}

// TestStream_InvalidJob verifies that validation failures close the socket
// with StatusUnsupportedData before any synthesis happens.
func TestStream_InvalidJob(t *testing.T) {
	t.Parallel()

	backend := &synthmock.Provider{}
	srv := newTestServer(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialStream(t, ctx, srv, pipeline.Job{
		Text:    "hello",
		Speaker: "no-slash-here",
	})
	_, status := readFrames(t, ctx, conn)

	if status != websocket.StatusUnsupportedData {
		t.Errorf("close status = %v, want StatusUnsupportedData", status)
	}
	if n := len(backend.SynthesizeCalls); n != 0 {
		t.Errorf("Synthesize calls = %d, want 0", n)
	}
}

// TestStream_BackendError verifies that synthesis failures close the socket
// with StatusInternalError.
func TestStream_BackendError(t *testing.T) {
	t.Parallel()

	backend := &synthmock.Provider{SynthesizeErr: errors.New("model exploded")}
	srv := newTestServer(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialStream(t, ctx, srv, pipeline.Job{
		Text:    "hello",
		Speaker: "v5_ru/aidar",
	})
	_, status := readFrames(t, ctx, conn)

	if status != websocket.StatusInternalError {
		t.Errorf("close status = %v, want StatusInternalError", status)
	}
}

// ─── lifecycle ───────────────────────────────────────────────────────────────

// TestRun_StopsOnContextCancel verifies that Run returns once its context is
// cancelled and that Shutdown afterwards completes cleanly.
func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	backend := &synthmock.Provider{}
	s := server.New(config.ServerConfig{ListenAddr: "127.0.0.1:0"}, pipeline.New(backend), backend)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
