package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider changes
// require a restart and are reported so the caller can warn about them.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DefaultsChanged is true when any synthesis default (speaker, rates,
	// stretch) changed. Defaults apply per request, so they reload safely.
	DefaultsChanged bool

	// ProvidersChanged is true when the backend selection or any provider
	// entry changed. Providers are constructed at startup and are not
	// hot-reloaded.
	ProvidersChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Defaults != new.Defaults {
		d.DefaultsChanged = true
	}

	if !providersEqual(&old.Providers, &new.Providers) {
		d.ProvidersChanged = true
	}

	return d
}

// providersEqual compares provider configs field by field. ProviderEntry
// holds an Options map, so == is not available.
func providersEqual(old, new *ProvidersConfig) bool {
	if !entryEqual(&old.Synth, &new.Synth) {
		return false
	}
	if len(old.Fallbacks) != len(new.Fallbacks) {
		return false
	}
	for i := range old.Fallbacks {
		if !entryEqual(&old.Fallbacks[i], &new.Fallbacks[i]) {
			return false
		}
	}
	return true
}

func entryEqual(old, new *ProviderEntry) bool {
	if old.Name != new.Name || old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL || old.Model != new.Model {
		return false
	}
	// Options may hold nested maps from YAML, so == is off the table.
	return reflect.DeepEqual(old.Options, new.Options)
}
