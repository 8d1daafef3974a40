// Package prosody maps speaking-rate and pitch adjustments between the three
// forms the synthesis pipeline works with: percentage-delta strings from the
// CLI ("+50%", "-25%"), continuous multipliers, and the discrete SSML keywords
// understood by the model ("slow", "x-high", ...).
//
// Parsing is deliberately lenient: malformed input means "no adjustment", not
// an error. Validation of user input belongs to the caller; this package only
// performs the mapping. All functions are pure and safe for concurrent use.
package prosody

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ---- Level ----

// Level is a discrete prosody keyword as used in SSML prosody attributes.
// Rate levels range from LevelXSlow to LevelXFast, pitch levels from LevelXLow
// to LevelXHigh; LevelMedium is shared by both scales and means "no adjustment".
type Level string

const (
	LevelXSlow  Level = "x-slow"
	LevelSlow   Level = "slow"
	LevelMedium Level = "medium"
	LevelFast   Level = "fast"
	LevelXFast  Level = "x-fast"

	LevelXLow  Level = "x-low"
	LevelLow   Level = "low"
	LevelHigh  Level = "high"
	LevelXHigh Level = "x-high"
)

// rateLevels and pitchLevels order the keyword ladders from lowest to highest
// multiplier bucket.
var (
	rateLevels  = [5]Level{LevelXSlow, LevelSlow, LevelMedium, LevelFast, LevelXFast}
	pitchLevels = [5]Level{LevelXLow, LevelLow, LevelMedium, LevelHigh, LevelXHigh}
)

// ---- rate parsing ----

// ratePattern matches signed percentage-delta strings such as "+50%" or "-25%".
var ratePattern = regexp.MustCompile(`^([+-])(\d+)%$`)

// ParseRate converts a rate string into a multiplier.
//
// Two input forms are accepted: a signed percentage delta ("+N%" yields
// 1 + N/100, "-N%" yields 1 - N/100) or a bare positive number ("1.5" yields
// 1.5). Empty or malformed input yields the identity multiplier 1.0 without
// error; a missing or broken rate flag must never abort a synthesis run.
func ParseRate(s string) float64 {
	if s == "" {
		return 1.0
	}
	if m := ratePattern.FindStringSubmatch(s); m != nil {
		percent, err := strconv.Atoi(m[2])
		if err != nil {
			// Atoi only fails on overflow here; treat as malformed.
			return 1.0
		}
		if m[1] == "+" {
			return 1.0 + float64(percent)/100
		}
		return 1.0 - float64(percent)/100
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
		return v
	}
	return 1.0
}

// ---- keyword mapping ----

// RateKeyword buckets a rate multiplier into one of the five discrete rate
// levels. The advertised domain is [0.5, 2.0]; values outside it are not
// clamped and simply land in the extreme buckets. A multiplier of exactly 1.0
// always yields LevelMedium.
func RateKeyword(m float64) Level {
	return bucket(m, rateLevels)
}

// PitchKeyword buckets a pitch multiplier into one of the five discrete pitch
// levels using the same thresholds as RateKeyword.
func PitchKeyword(m float64) Level {
	return bucket(m, pitchLevels)
}

// bucket classifies a multiplier by the fixed thresholds shared by both
// keyword scales. Boundaries are inclusive on the lower side of each step.
func bucket(m float64, levels [5]Level) Level {
	switch {
	case m <= 0.6:
		return levels[0]
	case m <= 0.8:
		return levels[1]
	case m <= 1.2:
		return levels[2]
	case m <= 1.5:
		return levels[3]
	default:
		return levels[4]
	}
}

// ---- markup ----

// markupEscaper escapes the five XML special characters in text interpolated
// into a markup request.
var markupEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// NeedsMarkup reports whether the given rate and pitch multipliers require a
// markup-wrapped synthesis request. Both mapping to LevelMedium means the
// model receives plain text instead.
func NeedsMarkup(rate, pitch float64) bool {
	return RateKeyword(rate) != LevelMedium || PitchKeyword(pitch) != LevelMedium
}

// BuildMarkup wraps text in an SSML speak/prosody envelope carrying the
// keyword forms of the given rate and pitch multipliers. Attributes at
// LevelMedium are omitted; when both are medium the prosody element is left
// out entirely and only the speak envelope remains. Callers that want plain
// text in that case should test NeedsMarkup first.
//
// The text is XML-escaped before wrapping.
func BuildMarkup(text string, rate, pitch float64) string {
	var attrs []string
	if k := RateKeyword(rate); k != LevelMedium {
		attrs = append(attrs, fmt.Sprintf("rate=%q", string(k)))
	}
	if k := PitchKeyword(pitch); k != LevelMedium {
		attrs = append(attrs, fmt.Sprintf("pitch=%q", string(k)))
	}

	escaped := markupEscaper.Replace(text)
	if len(attrs) == 0 {
		return "<speak>" + escaped + "</speak>"
	}
	return "<speak><prosody " + strings.Join(attrs, " ") + ">" + escaped + "</prosody></speak>"
}
