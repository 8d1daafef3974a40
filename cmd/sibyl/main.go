// Command sibyl is the main entry point for the Sibyl speech synthesis tool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/sibyl/internal/config"
	"github.com/MrWong99/sibyl/internal/health"
	"github.com/MrWong99/sibyl/internal/mcptool"
	"github.com/MrWong99/sibyl/internal/observe"
	"github.com/MrWong99/sibyl/internal/pipeline"
	"github.com/MrWong99/sibyl/internal/resilience"
	"github.com/MrWong99/sibyl/internal/server"
	"github.com/MrWong99/sibyl/pkg/provider/synth"
	oaisynth "github.com/MrWong99/sibyl/pkg/provider/synth/openai"
	"github.com/MrWong99/sibyl/pkg/provider/synth/script"
	"github.com/MrWong99/sibyl/pkg/provider/synth/silero"
)

// version is reported by --version and to MCP clients.
const version = "0.1.0"

// defaultScriptPath is where the bundled helper lives relative to the
// working directory when the script backend is selected without options.
const defaultScriptPath = "scripts/silero_infer.py"

// Operating modes, selected by flags. The mode string also labels job
// metrics.
const (
	modeCLI    = "cli"
	modeBatch  = "batch"
	modeServe  = "serve"
	modeMCP    = "mcp"
	modeVoices = "voices"
)

// levelVar carries the active log level so serve mode can adjust it when the
// config file changes.
var levelVar = new(slog.LevelVar)

func main() {
	os.Exit(run())
}

func run() (code int) {
	// The original tool printed a traceback on unexpected failures; keep
	// that behaviour but exit 1 like every other error path.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "sibyl: panic: %v\n%s", r, debug.Stack())
			code = 1
		}
	}()

	// ── CLI flags ──────────────────────────────────────────────────────────────
	text := flag.String("text", "", "text to synthesise")
	speaker := flag.String("speaker", "", `voice as "<model_id>/<speaker_name>", e.g. v5_ru/aidar`)
	output := flag.String("output", "", "path of the WAV file to write")
	sampleRate := flag.Int("sample-rate", 0, "output sample rate in Hz (default 48000)")
	rate := flag.String("rate", "", `speaking rate: signed percentage ("+50%") or multiplier ("1.2")`)
	pitch := flag.Float64("pitch", 0, "pitch multiplier (default 1.0)")
	timeStretch := flag.Float64("time-stretch", 0, "duration factor; values above 1 speed the audio up (default 1.0)")
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	providerName := flag.String("provider", "", "override the configured synthesis backend (silero, script, openai)")
	listVoices := flag.Bool("list-voices", false, "list available voices and exit")
	batchPath := flag.String("batch", "", "path to a YAML manifest of jobs to run")
	serve := flag.Bool("serve", false, "run the HTTP synthesis service")
	mcpMode := flag.Bool("mcp", false, "run an MCP stdio server exposing synthesis tools")
	logLevel := flag.String("log-level", "", "log verbosity: debug, info, warn or error")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("sibyl " + version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfgPath := *configPath
	cfg, err := config.Load(*configPath)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist) && !flagWasSet("config"):
			// No config file at the default location: flags carry the whole
			// invocation.
			cfg = &config.Config{}
			cfgPath = ""
		case errors.Is(err, os.ErrNotExist):
			fmt.Fprintf(os.Stderr, "sibyl: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
			return 1
		default:
			fmt.Fprintf(os.Stderr, "sibyl: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	if *logLevel != "" {
		lvl := config.LogLevel(*logLevel)
		if !lvl.IsValid() {
			fmt.Fprintf(os.Stderr, "sibyl: invalid --log-level %q; valid values: debug, info, warn, error\n", *logLevel)
			return 1
		}
		cfg.Server.LogLevel = lvl
	}
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Mode selection ────────────────────────────────────────────────────────
	mode := modeCLI
	switch {
	case *mcpMode:
		mode = modeMCP
	case *serve:
		mode = modeServe
	case *listVoices:
		mode = modeVoices
	case *batchPath != "":
		mode = modeBatch
	}

	slog.Info("sibyl starting",
		"config", *configPath,
		"mode", mode,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability (serve mode only; one-shot runs stay no-op) ─────────────
	if mode == modeServe {
		obsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    "sibyl",
			ServiceVersion: version,
		})
		if err != nil {
			slog.Error("failed to initialise observability", "err", err)
			return 1
		}
		defer func() {
			sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := obsShutdown(sdCtx); err != nil {
				slog.Warn("observability shutdown error", "err", err)
			}
		}()
	}
	met := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate the backend (plus fallbacks) ──────────────────────────────
	entry := selectBackendEntry(cfg, *providerName)
	if entry.Name == "" {
		fmt.Fprintln(os.Stderr, "sibyl: no synthesis backend configured; set providers.synth.name in the config file or pass --provider")
		return 1
	}

	provider, statusFn, err := buildBackend(cfg, reg, entry, met)
	if err != nil {
		slog.Error("failed to build synthesis backend", "err", err)
		return 1
	}

	// ── Dispatch ──────────────────────────────────────────────────────────────
	switch mode {
	case modeMCP:
		return runMCP(ctx, provider, entry.Name)
	case modeServe:
		return runServe(ctx, cfgPath, cfg, provider, statusFn, met, entry)
	case modeVoices:
		return runListVoices(ctx, provider, entry.Name)
	case modeBatch:
		return runBatch(ctx, provider, entry.Name, *batchPath, cfg.Batch.Concurrency)
	}

	job := pipeline.Job{
		Text:        *text,
		Speaker:     *speaker,
		Output:      *output,
		SampleRate:  *sampleRate,
		Rate:        *rate,
		Pitch:       *pitch,
		TimeStretch: *timeStretch,
	}
	applyDefaults(&job, cfg.Defaults)
	return runOneShot(ctx, provider, entry.Name, job)
}

// ── Modes ─────────────────────────────────────────────────────────────────────

// runOneShot executes a single flag-described job and prints the result path.
func runOneShot(ctx context.Context, provider synth.Provider, backendName string, job pipeline.Job) int {
	switch {
	case job.Text == "":
		fmt.Fprintln(os.Stderr, "sibyl: --text is required")
		return 1
	case job.Speaker == "":
		fmt.Fprintln(os.Stderr, "sibyl: --speaker is required (or set defaults.speaker in the config file)")
		return 1
	case job.Output == "":
		fmt.Fprintln(os.Stderr, "sibyl: --output is required")
		return 1
	}

	pipe := pipeline.New(provider,
		pipeline.WithBackendName(backendName),
		pipeline.WithMode(modeCLI),
	)

	r, err := pipe.Run(ctx, job)
	if err != nil {
		slog.Error("synthesis failed", "err", err)
		return 1
	}
	fmt.Printf("audio saved to %s (%.2f s at %d Hz)\n", job.Output, r.Seconds, r.SampleRate)
	return 0
}

// runBatch renders every job in the manifest at path with bounded
// concurrency.
func runBatch(ctx context.Context, provider synth.Provider, backendName, path string, concurrency int) int {
	m, err := pipeline.LoadManifest(path)
	if err != nil {
		slog.Error("failed to load manifest", "path", path, "err", err)
		return 1
	}

	pipe := pipeline.New(provider,
		pipeline.WithBackendName(backendName),
		pipeline.WithMode(modeBatch),
	)

	if err := pipe.RunBatch(ctx, m, concurrency); err != nil {
		slog.Error("batch failed", "err", err)
		return 1
	}
	return 0
}

// runListVoices prints the backend's voice catalogue, one voice per line.
func runListVoices(ctx context.Context, provider synth.Provider, backendName string) int {
	pipe := pipeline.New(provider,
		pipeline.WithBackendName(backendName),
		pipeline.WithMode(modeVoices),
	)

	voices, err := pipe.ListVoices(ctx)
	if err != nil {
		slog.Error("failed to list voices", "err", err)
		return 1
	}

	slices.SortFunc(voices, func(a, b synth.Voice) int {
		if c := strings.Compare(a.Model, b.Model); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	for _, v := range voices {
		line := v.Model + "/" + v.ID
		if v.Language != "" {
			line += "  (" + v.Language + ")"
		}
		fmt.Println(line)
	}
	return 0
}

// runServe starts the HTTP service and blocks until a shutdown signal.
func runServe(ctx context.Context, cfgPath string, cfg *config.Config, provider synth.Provider, statusFn func() []resilience.BackendStatus, met *observe.Metrics, entry config.ProviderEntry) int {
	pipe := pipeline.New(provider,
		pipeline.WithMetrics(met),
		pipeline.WithBackendName(entry.Name),
		pipeline.WithMode(modeServe),
	)

	// Readiness probes the backend's voice endpoint; with fallbacks
	// configured the breaker states are reported as well.
	checkers := []health.Checker{{
		Name: "voices",
		Check: func(ctx context.Context) error {
			_, err := provider.ListVoices(ctx)
			return err
		},
	}}
	if statusFn != nil {
		checkers = append(checkers, health.Backends(statusFn))
	}

	srv := server.New(cfg.Server, pipe, provider,
		server.WithMetrics(met),
		server.WithCheckers(checkers...),
	)

	// Watch the config file: the log level applies live, anything else needs
	// a restart.
	if cfgPath != "" {
		w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				levelVar.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if d.ProvidersChanged {
				slog.Warn("provider configuration changed — restart to apply")
			}
		})
		if err != nil {
			slog.Warn("config watcher not started", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(cfg, entry)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runMCP serves synthesis tools over stdio until the client disconnects.
func runMCP(ctx context.Context, provider synth.Provider, backendName string) int {
	pipe := pipeline.New(provider,
		pipeline.WithBackendName(backendName),
		pipeline.WithMode(modeMCP),
	)

	srv := mcptool.New("sibyl", version, pipe)
	slog.Info("mcp server listening on stdio")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp server error", "err", err)
		return 1
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in synthesis backend factories
// into reg. Each factory receives a config.ProviderEntry and constructs the
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSynth("silero", func(entry config.ProviderEntry) (synth.Provider, error) {
		if entry.BaseURL == "" {
			return nil, errors.New("silero: base_url is required (the TTS server address)")
		}
		var opts []silero.Option
		if secs, ok := entry.OptionInt("timeout_seconds"); ok {
			opts = append(opts, silero.WithTimeout(time.Duration(secs)*time.Second))
		}
		if v, ok := entry.OptionBool("put_accent"); ok {
			opts = append(opts, silero.WithAccentMarks(v))
		}
		if v, ok := entry.OptionBool("put_yo"); ok {
			opts = append(opts, silero.WithYoRestoration(v))
		}
		return silero.New(entry.BaseURL, opts...)
	})

	reg.RegisterSynth("script", func(entry config.ProviderEntry) (synth.Provider, error) {
		path, _ := entry.OptionString("script_path")
		if path == "" {
			path = defaultScriptPath
		}
		var opts []script.Option
		if interp, ok := entry.OptionString("interpreter"); ok && interp != "" {
			opts = append(opts, script.WithInterpreter(interp))
		}
		if secs, ok := entry.OptionInt("timeout_seconds"); ok {
			opts = append(opts, script.WithTimeout(time.Duration(secs)*time.Second))
		}
		return script.New(path, opts...)
	})

	reg.RegisterSynth("openai", func(entry config.ProviderEntry) (synth.Provider, error) {
		var opts []oaisynth.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaisynth.WithBaseURL(entry.BaseURL))
		}
		if speed, ok := entry.OptionFloat("speed"); ok {
			opts = append(opts, oaisynth.WithSpeed(speed))
		}
		if secs, ok := entry.OptionInt("timeout_seconds"); ok {
			opts = append(opts, oaisynth.WithTimeout(time.Duration(secs)*time.Second))
		}
		return oaisynth.New(entry.APIKey, entry.Model, opts...)
	})

	// Debug log of all registered providers.
	for _, name := range reg.SynthNames() {
		slog.Debug("registered provider", "kind", "synth", "name", name)
	}
}

// selectBackendEntry returns the provider entry to use as the primary
// backend. A --provider override first matches configured entries by name so
// their settings apply, and otherwise selects a registered provider with
// default settings.
func selectBackendEntry(cfg *config.Config, override string) config.ProviderEntry {
	if override == "" || cfg.Providers.Synth.Name == override {
		return cfg.Providers.Synth
	}
	for _, fb := range cfg.Providers.Fallbacks {
		if fb.Name == override {
			return fb
		}
	}
	return config.ProviderEntry{Name: override}
}

// preflighter is implemented by backends with startup checks for optional
// runtime dependencies (the script backend's interpreter, for one).
type preflighter interface {
	Preflight() error
}

// preflight runs the provider's startup check when it has one, so a missing
// runtime dependency surfaces before any work is attempted.
func preflight(p synth.Provider) error {
	pf, ok := p.(preflighter)
	if !ok {
		return nil
	}
	return pf.Preflight()
}

// buildBackend instantiates the selected backend plus any configured
// fallbacks. With fallbacks present the returned provider routes through
// per-backend circuit breakers and the second return value reports breaker
// status for readiness checks; without them the primary is returned bare so
// one-shot errors keep their original wording.
func buildBackend(cfg *config.Config, reg *config.Registry, entry config.ProviderEntry, met *observe.Metrics) (synth.Provider, func() []resilience.BackendStatus, error) {
	primary, err := reg.CreateSynth(entry)
	if err != nil {
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return nil, nil, fmt.Errorf("unknown provider %q; built in: %s", entry.Name, strings.Join(reg.SynthNames(), ", "))
		}
		return nil, nil, fmt.Errorf("create synth provider %q: %w", entry.Name, err)
	}
	if err := preflight(primary); err != nil {
		return nil, nil, err
	}
	slog.Info("provider created", "kind", "synth", "name", entry.Name)

	fallbacks := cfg.Providers.Fallbacks
	if len(fallbacks) == 0 || entry.Name != cfg.Providers.Synth.Name {
		// No failover group when nothing is configured, or when --provider
		// pinned a specific backend.
		return primary, nil, nil
	}

	fb := resilience.NewSynthFallback(primary, entry.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				met.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	})
	for _, fbEntry := range fallbacks {
		p, err := reg.CreateSynth(fbEntry)
		if err != nil {
			return nil, nil, fmt.Errorf("create fallback provider %q: %w", fbEntry.Name, err)
		}
		if err := preflight(p); err != nil {
			slog.Warn("fallback preflight failed — keeping it registered", "name", fbEntry.Name, "err", err)
		}
		fb.AddFallback(fbEntry.Name, p)
		slog.Info("provider created", "kind", "synth-fallback", "name", fbEntry.Name)
	}
	return fb, fb.Status, nil
}

// applyDefaults fills unset job fields from the config's defaults block.
// Remaining zero values are resolved by the pipeline itself.
func applyDefaults(job *pipeline.Job, d config.DefaultsConfig) {
	if job.Speaker == "" {
		job.Speaker = d.Speaker
	}
	if job.SampleRate == 0 {
		job.SampleRate = d.SampleRate
	}
	if job.Rate == "" {
		job.Rate = d.Rate
	}
	if job.Pitch == 0 {
		job.Pitch = d.Pitch
	}
	if job.TimeStretch == 0 {
		job.TimeStretch = d.TimeStretch
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, entry config.ProviderEntry) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║        Sibyl — startup summary         ║")
	fmt.Println("╠════════════════════════════════════════╣")
	backend := entry.Name
	if entry.Model != "" {
		backend += " / " + entry.Model
	}
	printField("Backend", backend)
	fmt.Printf("║  %-15s : %-19d ║\n", "Fallbacks", len(cfg.Providers.Fallbacks))
	printField("Default speaker", cfg.Defaults.Speaker)
	sampleRate := cfg.Defaults.SampleRate
	if sampleRate == 0 {
		sampleRate = pipeline.DefaultSampleRate
	}
	fmt.Printf("║  %-15s : %-19d ║\n", "Sample rate", sampleRate)
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	printField("Listen addr", addr)
	if cfg.Server.TLS != nil {
		printField("TLS", "enabled")
	} else {
		printField("TLS", "(plain http)")
	}
	fmt.Println("╚════════════════════════════════════════╝")
}

func printField(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	levelVar.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// flagWasSet reports whether the named flag was provided on the command line.
func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
