// Package mcptool exposes the synthesis pipeline as an MCP server over stdio.
//
// Two tools are registered:
//   - "synthesize"  — render text to a WAV file on disk.
//   - "list_voices" — list the provider's voice catalogue.
//
// The tools drive the same [pipeline.Pipeline] the CLI and the HTTP service
// use, so speaker resolution, prosody markup, and time stretching behave
// identically no matter which surface a job arrives on.
package mcptool

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/sibyl/internal/pipeline"
)

// Server wires pipeline-backed tools into an MCP server speaking stdio.
type Server struct {
	pipe *pipeline.Pipeline
	mcp  *mcpsdk.Server
}

// New creates a Server exposing the pipeline's tools under the given
// implementation name and version.
func New(name, version string, pipe *pipeline.Pipeline) *Server {
	s := &Server{
		pipe: pipe,
		mcp: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    name,
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "synthesize",
		Description: "Synthesize speech from text and write a WAV file to the given path",
	}, s.handleSynthesize)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "list_voices",
		Description: "List the voices available for synthesis",
	}, s.handleListVoices)
}

// synthesizeArgs is the typed input of the "synthesize" tool. The input
// schema is inferred from this struct; fields without omitempty are required.
type synthesizeArgs struct {
	Text        string  `json:"text" jsonschema:"text to speak"`
	Speaker     string  `json:"speaker" jsonschema:"voice as <model_id>/<speaker_name> like v5_ru/aidar"`
	OutputPath  string  `json:"output_path" jsonschema:"path of the WAV file to write"`
	SampleRate  int     `json:"sample_rate,omitempty" jsonschema:"output sample rate in Hz; default 48000"`
	Rate        string  `json:"rate,omitempty" jsonschema:"speaking rate as a signed percentage like +50% or a bare multiplier like 1.2"`
	Pitch       float64 `json:"pitch,omitempty" jsonschema:"pitch multiplier; default 1.0"`
	TimeStretch float64 `json:"time_stretch,omitempty" jsonschema:"duration factor; values above 1 speed the audio up; default 1.0"`
}

// listVoicesArgs is the (empty) typed input of the "list_voices" tool.
type listVoicesArgs struct{}

func (s *Server) handleSynthesize(ctx context.Context, req *mcpsdk.CallToolRequest, args synthesizeArgs) (*mcpsdk.CallToolResult, any, error) {
	r, err := s.pipe.Run(ctx, pipeline.Job{
		Text:        args.Text,
		Speaker:     args.Speaker,
		Output:      args.OutputPath,
		SampleRate:  args.SampleRate,
		Rate:        args.Rate,
		Pitch:       args.Pitch,
		TimeStretch: args.TimeStretch,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("synthesis failed: %w", err)
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: fmt.Sprintf("Wrote %.2f s of audio at %d Hz to %s",
				r.Seconds, r.SampleRate, args.OutputPath)},
		},
	}, nil, nil
}

func (s *Server) handleListVoices(ctx context.Context, req *mcpsdk.CallToolRequest, args listVoicesArgs) (*mcpsdk.CallToolResult, any, error) {
	voices, err := s.pipe.ListVoices(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list voices: %w", err)
	}

	content := []mcpsdk.Content{
		&mcpsdk.TextContent{Text: fmt.Sprintf("Available voices (%d):", len(voices))},
	}
	for _, v := range voices {
		line := fmt.Sprintf("- %s/%s", v.Model, v.ID)
		if v.Language != "" {
			line += " (" + v.Language + ")"
		}
		content = append(content, &mcpsdk.TextContent{Text: line})
	}
	return &mcpsdk.CallToolResult{Content: content}, nil, nil
}
