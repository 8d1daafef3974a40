package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/MrWong99/sibyl/pkg/voice"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"synth": {"silero", "script", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("synth", cfg.Providers.Synth.Name)
	for _, fb := range cfg.Providers.Fallbacks {
		validateProviderName("synth", fb.Name)
	}

	if len(cfg.Providers.Fallbacks) > 0 && cfg.Providers.Synth.Name == "" {
		slog.Warn("providers.fallbacks is set but providers.synth is not; fallbacks only apply after the primary backend")
	}

	// Fallback entries need a name, and repeating a backend is a config
	// mistake (it would be retried against the same failure).
	seen := make(map[string]int, len(cfg.Providers.Fallbacks)+1)
	if cfg.Providers.Synth.Name != "" {
		seen[cfg.Providers.Synth.Name] = -1
	}
	for i, fb := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[fb.Name]; ok {
			if prev == -1 {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.synth", prefix, fb.Name))
			} else {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.fallbacks[%d]", prefix, fb.Name, prev))
			}
		} else {
			seen[fb.Name] = i
		}
	}

	// Defaults
	if cfg.Defaults.Speaker != "" {
		if _, _, err := voice.ParseSpeakerPath(cfg.Defaults.Speaker); err != nil {
			errs = append(errs, fmt.Errorf("defaults.speaker: %w", err))
		}
	}
	if cfg.Defaults.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("defaults.sample_rate %d must not be negative", cfg.Defaults.SampleRate))
	}
	if cfg.Defaults.Pitch < 0 {
		errs = append(errs, fmt.Errorf("defaults.pitch %.2f must not be negative", cfg.Defaults.Pitch))
	}
	if cfg.Defaults.TimeStretch < 0 {
		errs = append(errs, fmt.Errorf("defaults.time_stretch %.2f must not be negative", cfg.Defaults.TimeStretch))
	}

	// Batch
	if cfg.Batch.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("batch.concurrency %d must not be negative", cfg.Batch.Concurrency))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
