// Package script provides a synthesis provider that delegates to a local
// helper process, typically the bundled scripts/silero_infer.py driving the
// official Silero PyTorch package. The helper receives the utterance on its
// argument list and prints a complete WAV file on stdout; diagnostics go to
// stderr and are folded into returned errors.
//
// The interpreter is an optional runtime dependency: callers should run
// Preflight at startup and refuse to start work when it fails, rather than
// discovering a missing interpreter mid-synthesis.
//
// Typical usage:
//
//	p, err := script.New("scripts/silero_infer.py",
//	    script.WithInterpreter("python3"),
//	    script.WithTimeout(2*time.Minute),
//	)
//	if err := p.Preflight(); err != nil {
//	    // report and exit before any work
//	}
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/sibyl/pkg/audio"
	"github.com/MrWong99/sibyl/pkg/provider/synth"
	"github.com/MrWong99/sibyl/pkg/voice"
)

// Compile-time interface assertion.
var _ synth.Provider = (*Provider)(nil)

const (
	defaultInterpreter = "python3"
	defaultTimeout     = 2 * time.Minute
	defaultSampleRate  = 48000
)

// ---- options ----

// Option is a functional option for configuring a script Provider.
type Option func(*Provider)

// WithInterpreter sets the interpreter binary used to run the helper script.
// Defaults to "python3"; resolution happens via PATH lookup unless an
// absolute path is given.
func WithInterpreter(interpreter string) Option {
	return func(p *Provider) {
		p.interpreter = interpreter
	}
}

// WithTimeout caps the runtime of a single helper invocation when the caller
// context carries no deadline of its own. Defaults to 2 min; the first run
// downloads the model and can take most of that.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// ---- Provider ----

// Provider implements synth.Provider by spawning a helper process per
// request. It is safe for concurrent use; each call runs its own process.
type Provider struct {
	interpreter string
	scriptPath  string
	timeout     time.Duration
}

// New creates a new script Provider running the helper at scriptPath.
// scriptPath must be non-empty; it is not checked for existence until
// Preflight or the first synthesis.
func New(scriptPath string, opts ...Option) (*Provider, error) {
	if scriptPath == "" {
		return nil, errors.New("script: scriptPath must not be empty")
	}
	p := &Provider{
		interpreter: defaultInterpreter,
		scriptPath:  scriptPath,
		timeout:     defaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Preflight verifies that the interpreter is resolvable and the helper script
// exists, without running a synthesis. Callers run this once at startup so a
// missing runtime dependency surfaces before any work is attempted.
func (p *Provider) Preflight() error {
	if _, err := exec.LookPath(p.interpreter); err != nil {
		return fmt.Errorf("script: interpreter %q not found: %w", p.interpreter, err)
	}
	if _, err := os.Stat(p.scriptPath); err != nil {
		return fmt.Errorf("script: helper script %q: %w", p.scriptPath, err)
	}
	return nil
}

// ---- Synthesize ----

// Synthesize runs one helper invocation and decodes the WAV it prints on
// stdout. The helper's stderr is included in the returned error on failure.
func (p *Provider) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	input, isMarkup, err := req.Input()
	if err != nil {
		return nil, err
	}
	if req.Speaker == "" {
		return nil, errors.New("script: request speaker must not be empty")
	}

	rate := req.SampleRate
	if rate == 0 {
		rate = defaultSampleRate
	}

	args := []string{
		p.scriptPath,
		"--speaker", req.Model + "/" + req.Speaker,
		"--sample-rate", strconv.Itoa(rate),
		"--output", "-",
	}
	if isMarkup {
		args = append(args, "--ssml", input)
	} else {
		args = append(args, "--text", input)
	}

	stdout, err := p.run(ctx, args)
	if err != nil {
		return nil, err
	}

	info, pcm, err := audio.DecodeWAV(stdout)
	if err != nil {
		return nil, fmt.Errorf("script: decode helper output: %w", err)
	}
	samples := audio.S16ToFloat(pcm)
	if info.Channels == 2 {
		samples = audio.StereoToMono(samples)
	}
	return &synth.Result{Samples: samples, SampleRate: info.SampleRate}, nil
}

// ---- ListVoices ----

// ListVoices asks the helper for its speaker catalogue (--list-speakers,
// printed as a JSON map from model to speaker names) and flattens it into
// one Voice per model/speaker pair, sorted for deterministic output.
func (p *Provider) ListVoices(ctx context.Context) ([]synth.Voice, error) {
	stdout, err := p.run(ctx, []string{p.scriptPath, "--list-speakers"})
	if err != nil {
		return nil, err
	}

	var raw map[string][]string
	if err := json.Unmarshal(stdout, &raw); err != nil {
		return nil, fmt.Errorf("script: decode speaker catalogue: %w", err)
	}

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
				Provider: "script",
			})
		}
	}
	return voices, nil
}

// ---- process handling ----

// run executes one helper invocation and returns its stdout. When ctx has no
// deadline the provider timeout applies.
func (p *Provider) run(ctx context.Context, args []string) ([]byte, error) {
	ownDeadline := false
	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
		ownDeadline = true
	}

	cmd := exec.CommandContext(ctx, p.interpreter, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		name := filepath.Base(p.scriptPath)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			if ownDeadline {
				return nil, fmt.Errorf("script: %s timed out after %s", name, p.timeout)
			}
			return nil, fmt.Errorf("script: %s: %w", name, context.DeadlineExceeded)
		}
		if msg := lastLine(stderr.String()); msg != "" {
			return nil, fmt.Errorf("script: run %s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("script: run %s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// lastLine returns the final non-empty line of s. For Python helpers that is
// the exception message at the bottom of the traceback.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
