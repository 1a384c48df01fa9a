// Package provider holds the built-in translation and synthesis providers.
// Production deployments swap in real provider implementations through the
// interfaces in pkg/interfaces; the static provider keeps the relay fully
// functional without external credentials.
package provider

import (
	"context"
	"fmt"
	"strings"

	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

// Static is a development provider. Translation annotates the text with the
// target language instead of calling an external service, and synthesis
// always defers audio production to the client.
type Static struct{}

// NewStatic creates the development provider.
func NewStatic() *Static {
	return &Static{}
}

// Translate returns the original text when source and target match, and an
// annotated passthrough otherwise.
func (s *Static) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if types.IsBlank(text) {
		return "", types.ErrEmptyText
	}
	if strings.EqualFold(sourceLang, targetLang) {
		return text, nil
	}
	return fmt.Sprintf("[%s] %s", targetLang, text), nil
}

// Synthesize produces no server-side audio; listeners use client speech.
func (s *Static) Synthesize(ctx context.Context, text, languageCode, voice string) (*interfaces.SpeechResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if types.IsBlank(text) {
		return nil, types.ErrEmptyText
	}
	return &interfaces.SpeechResult{UseClientSpeech: true}, nil
}
