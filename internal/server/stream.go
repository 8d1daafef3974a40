package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/sibyl/internal/observe"
	"github.com/MrWong99/sibyl/internal/pipeline"
	"github.com/MrWong99/sibyl/internal/resilience"
	"github.com/MrWong99/sibyl/pkg/audio"
	"github.com/MrWong99/sibyl/pkg/provider/synth"
)

const (
	// streamChunkBytes is the payload size of one binary frame when the
	// backend cannot stream and the server chunks a completed waveform
	// itself.
	streamChunkBytes = 8192

	// jobReadTimeout bounds how long a client may take to send its job
	// after the WebSocket handshake.
	jobReadTimeout = 30 * time.Second
)

// handleStream handles GET /api/synthesize/stream.
//
// The client upgrades to a WebSocket and sends one [pipeline.Job] as a text
// message. The server answers with binary frames of raw little-endian 16-bit
// mono PCM at the job's sample rate and closes with StatusNormalClosure after
// the final frame. Job validation failures close with StatusUnsupportedData,
// backend failures with StatusInternalError.
//
// Providers implementing [synth.Streamer] deliver frames while synthesis is
// still running; for the rest the waveform is rendered in one shot and
// chunked. Time stretching needs the complete signal up front and is not
// applied on this endpoint.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	readCtx, cancel := context.WithTimeout(ctx, jobReadTimeout)
	_, data, err := conn.Read(readCtx)
	cancel()
	if err != nil {
		return
	}

	var job pipeline.Job
	if err := json.Unmarshal(data, &job); err != nil {
		conn.Close(websocket.StatusUnsupportedData, closeReason("invalid job: "+err.Error()))
		return
	}

	req, err := pipeline.BuildRequest(job)
	if err != nil {
		conn.Close(websocket.StatusUnsupportedData, closeReason(err.Error()))
		return
	}

	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(ctx, -1)

	log := observe.Logger(ctx)
	log.Info("streaming synthesis",
		"model", req.Model,
		"speaker", req.Speaker,
		"sample_rate", req.SampleRate)

	chunks, err := s.streamChunks(ctx, req)
	if err != nil {
		log.Error("streaming synthesis failed", "error", err)
		conn.Close(websocket.StatusInternalError, closeReason(err.Error()))
		return
	}

	var sent int
	for chunk := range chunks {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			log.Warn("stream write failed", "error", err)
			return
		}
		sent += len(chunk)
	}
	if ctx.Err() != nil {
		conn.Close(websocket.StatusGoingAway, "cancelled")
		return
	}

	log.Info("stream complete", "bytes", sent)
	conn.Close(websocket.StatusNormalClosure, "")
}

// streamChunks returns a channel of PCM frames for req. It prefers the
// provider's native streaming path and falls back to chunking a one-shot
// result when the provider cannot stream.
func (s *Server) streamChunks(ctx context.Context, req synth.Request) (<-chan []byte, error) {
	if streamer, ok := s.provider.(synth.Streamer); ok {
		ch, err := streamer.SynthesizeStream(ctx, req)
		if err == nil {
			return ch, nil
		}
		if !errors.Is(err, resilience.ErrStreamingUnsupported) {
			return nil, err
		}
	}

	res, err := s.provider.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	samples := res.Samples
	if res.SampleRate > 0 && res.SampleRate != req.SampleRate {
		samples = audio.ResampleLinear(samples, res.SampleRate, req.SampleRate)
	}
	raw := audio.EncodePCM(audio.QuantizeS16(samples))

	ch := make(chan []byte, (len(raw)+streamChunkBytes-1)/streamChunkBytes)
	for len(raw) > 0 {
		n := min(len(raw), streamChunkBytes)
		ch <- raw[:n]
		raw = raw[n:]
	}
	close(ch)
	return ch, nil
}

// closeReason trims s to fit a WebSocket close frame, whose reason field is
// capped at 123 bytes.
func closeReason(s string) string {
	const maxLen = 123
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
