package provider

import (
	"context"
	"errors"
	"testing"

	"lectern/pkg/types"
)

func TestStaticTranslate(t *testing.T) {
	p := NewStatic()
	ctx := context.Background()

	got, err := p.Translate(ctx, "hello", "en", "es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "[es] hello" {
		t.Errorf("unexpected translation %q", got)
	}

	// Same language passes through unchanged.
	got, err = p.Translate(ctx, "hello", "en", "EN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("expected passthrough, got %q", got)
	}

	if _, err := p.Translate(ctx, "  ", "en", "es"); !errors.Is(err, types.ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

func TestStaticTranslateCancelled(t *testing.T) {
	p := NewStatic()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Translate(ctx, "hello", "en", "es"); err == nil {
		t.Error("cancelled context should fail the call")
	}
}

func TestStaticSynthesize(t *testing.T) {
	p := NewStatic()

	result, err := p.Synthesize(context.Background(), "hola", "es", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.UseClientSpeech {
		t.Error("static provider should defer to client speech")
	}
	if len(result.Audio) != 0 {
		t.Error("static provider should produce no audio")
	}

	if _, err := p.Synthesize(context.Background(), "", "es", ""); !errors.Is(err, types.ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}
