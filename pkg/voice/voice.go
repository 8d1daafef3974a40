// Package voice resolves speaker paths of the form "<model_id>/<speaker_name>"
// into the model, speaker and language a synthesis backend needs, and offers
// fuzzy suggestions for misspelled speaker names.
package voice

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
)

// Canonical model names per language, as published by the model hub.
const (
	ModelRussian = "v5_ru"
	ModelEnglish = "v3_en"
)

// suggestThreshold is the minimum Jaro-Winkler similarity required before a
// speaker name is offered as a suggestion.
const suggestThreshold = 0.72

// Voice is a fully resolved speaker selection.
type Voice struct {
	ModelID  string // model segment of the speaker path, e.g. "v5_ru"
	Model    string // canonical model name for the language, e.g. "v5_ru"
	Speaker  string // speaker segment of the speaker path, e.g. "aidar"
	Language string // "ru" or "en"
}

// ParseSpeakerPath splits a speaker path into its model and speaker segments.
// The path must consist of exactly two slash-separated segments; anything else
// is an error. The segments themselves are not validated, unknown speakers are
// left for the backend to reject.
func ParseSpeakerPath(path string) (modelID, speaker string, err error) {
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("voice: invalid speaker path %q, want \"<model_id>/<speaker_name>\"", path)
	}
	return parts[0], parts[1], nil
}

// Language derives the language from a model id by substring match: an id
// containing "ru" is Russian, one containing "en" is English, anything else is
// an error. "ru" wins when both substrings occur.
func Language(modelID string) (string, error) {
	switch {
	case strings.Contains(modelID, "ru"):
		return "ru", nil
	case strings.Contains(modelID, "en"):
		return "en", nil
	default:
		return "", fmt.Errorf("voice: unknown language in model id %q", modelID)
	}
}

// CanonicalModel returns the canonical model name for a language code, or the
// empty string for an unknown language.
func CanonicalModel(language string) string {
	switch language {
	case "ru":
		return ModelRussian
	case "en":
		return ModelEnglish
	default:
		return ""
	}
}

// Resolve parses a speaker path and derives language and canonical model in
// one step.
func Resolve(path string) (Voice, error) {
	modelID, speaker, err := ParseSpeakerPath(path)
	if err != nil {
		return Voice{}, err
	}
	lang, err := Language(modelID)
	if err != nil {
		return Voice{}, err
	}
	return Voice{
		ModelID:  modelID,
		Model:    CanonicalModel(lang),
		Speaker:  speaker,
		Language: lang,
	}, nil
}

// Suggest returns the known speaker name most similar to name, if any clears
// the similarity threshold. Comparison is case-insensitive Jaro-Winkler. The
// second return value reports whether a suggestion was found.
func Suggest(name string, known []string) (string, bool) {
	var (
		best      string
		bestScore float64
	)
	lower := strings.ToLower(name)
	for _, k := range known {
		score := matchr.JaroWinkler(lower, strings.ToLower(k), false)
		if score > bestScore {
			best, bestScore = k, score
		}
	}
	if bestScore >= suggestThreshold {
		return best, true
	}
	return "", false
}
