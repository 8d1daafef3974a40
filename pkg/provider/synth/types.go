package synth

import "errors"

// ErrNoInput is returned by providers when a Request carries neither plain
// text nor markup.
var ErrNoInput = errors.New("synth: request carries no text or markup")

// ErrAmbiguousInput is returned by providers when a Request carries both
// plain text and markup.
var ErrAmbiguousInput = errors.New("synth: request carries both text and markup")

// Request describes a single synthesis job handed to a provider.
type Request struct {
	// Text is the plain utterance to synthesise. Exactly one of Text and
	// Markup must be set.
	Text string

	// Markup is an SSML speak document to synthesise instead of plain text.
	// Used when rate or pitch deviate from identity.
	Markup string

	// Model identifies the model to synthesise with, e.g. "v5_ru".
	Model string

	// Speaker selects the voice within the model, e.g. "aidar" or "en_0".
	Speaker string

	// SampleRate is the requested output rate in Hz.
	SampleRate int
}

// Input returns the synthesis payload and whether it is markup. The error
// reports requests that carry both or neither form.
func (r Request) Input() (string, bool, error) {
	switch {
	case r.Text != "" && r.Markup != "":
		return "", false, ErrAmbiguousInput
	case r.Markup != "":
		return r.Markup, true, nil
	case r.Text != "":
		return r.Text, false, nil
	default:
		return "", false, ErrNoInput
	}
}

// Result carries a synthesised waveform.
type Result struct {
	// Samples is the mono waveform with values nominally in [-1, 1].
	Samples []float64

	// SampleRate is the rate Samples were rendered at. May differ from the
	// requested rate when the backend cannot honor it.
	SampleRate int
}

// Voice describes one selectable speaker of a provider's catalogue.
type Voice struct {
	// ID is the provider-specific speaker identifier, e.g. "aidar".
	ID string `json:"id"`

	// Name is the human-readable speaker name.
	Name string `json:"name,omitempty"`

	// Model is the model the speaker belongs to, e.g. "v5_ru".
	Model string `json:"model,omitempty"`

	// Language is the BCP-47 language code of the speaker, e.g. "ru".
	Language string `json:"language,omitempty"`

	// Provider identifies which backend this voice belongs to.
	Provider string `json:"provider,omitempty"`
}
