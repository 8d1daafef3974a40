// Package config provides the configuration schema, loader, and provider registry
// for the Sibyl speech synthesis tool.
package config

import "fmt"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Sibyl.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
// Flags override any value set here.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Batch     BatchConfig     `yaml:"batch"`
}

// ServerConfig holds network and logging settings for serve mode.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the synthesis backend and its fallbacks. Each
// entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// Synth is the primary synthesis backend.
	Synth ProviderEntry `yaml:"synth"`

	// Fallbacks are tried in order when the primary backend fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "silero", "script").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "v3_en", "tts-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns the string value stored under key in Options.
func (e ProviderEntry) OptionString(key string) (string, bool) {
	v, ok := e.Options[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// OptionBool returns the boolean value stored under key in Options.
func (e ProviderEntry) OptionBool(key string) (bool, bool) {
	v, ok := e.Options[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// OptionInt returns the integer value stored under key in Options. YAML
// decodes whole numbers as int and everything else as float64; both are
// accepted here.
func (e ProviderEntry) OptionInt(key string) (int, bool) {
	v, ok := e.Options[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// OptionFloat returns the float value stored under key in Options,
// accepting ints as well.
func (e ProviderEntry) OptionFloat(key string) (float64, bool) {
	v, ok := e.Options[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// DefaultsConfig holds synthesis parameters applied when the corresponding
// flag is not set.
type DefaultsConfig struct {
	// Speaker is the default voice in "<model_id>/<speaker_name>" form.
	Speaker string `yaml:"speaker"`

	// SampleRate is the default output sample rate in Hz. 0 means 48000.
	SampleRate int `yaml:"sample_rate"`

	// Rate is the default speaking-rate string (e.g., "+20%", "0.8").
	Rate string `yaml:"rate"`

	// Pitch is the default pitch factor. 0 means 1.0.
	Pitch float64 `yaml:"pitch"`

	// TimeStretch is the default post-synthesis stretch factor. 0 means 1.0.
	TimeStretch float64 `yaml:"time_stretch"`
}

// BatchConfig holds settings for batch mode.
type BatchConfig struct {
	// Concurrency caps how many jobs run at once. 0 means 2.
	Concurrency int `yaml:"concurrency"`
}

// String implements fmt.Stringer without leaking API keys into logs.
func (e ProviderEntry) String() string {
	key := ""
	if e.APIKey != "" {
		key = " api_key=<redacted>"
	}
	return fmt.Sprintf("%s model=%q base_url=%q%s", e.Name, e.Model, e.BaseURL, key)
}
