package interfaces

import (
	"context"
)

// Translator converts text between languages. Implementations live outside
// the core; call latency is folded into the orchestrator's latency trace.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// SpeechResult is the outcome of one synthesis call. Either Audio holds
// encoded audio bytes, or UseClientSpeech marks that the provider delegates
// synthesis to the listener's device.
type SpeechResult struct {
	Audio           []byte
	UseClientSpeech bool
}

// SpeechSynthesizer produces audio (or a client-speech marker) for a text
// segment in a given language.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, languageCode, voice string) (*SpeechResult, error)
}
