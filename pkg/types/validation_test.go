package types

import (
	"errors"
	"testing"
)

func TestIsBlank(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"\t\n", true},
		{"en", false},
		{" hello ", false},
	}
	for _, tt := range tests {
		if got := IsBlank(tt.in); got != tt.want {
			t.Errorf("IsBlank(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidateText(t *testing.T) {
	if err := ValidateText("good morning"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateText("   "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

func TestValidateLanguageCode(t *testing.T) {
	if err := ValidateLanguageCode("es-MX"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateLanguageCode(""); !errors.Is(err, ErrInvalidLanguageCode) {
		t.Errorf("expected ErrInvalidLanguageCode, got %v", err)
	}
}

func TestLatencyTraceWire(t *testing.T) {
	trace := LatencyTrace{
		PreparationMs: 2,
		TranslationMs: 120,
		SynthesisMs:   80,
		ProcessingMs:  3,
	}
	wire := trace.Wire()
	if wire.Total != 205 {
		t.Errorf("expected total 205, got %d", wire.Total)
	}
	sum := wire.Components.Preparation + wire.Components.Translation +
		wire.Components.Synthesis + wire.Components.Processing
	if sum != wire.Total {
		t.Errorf("components sum %d does not equal total %d", sum, wire.Total)
	}
}
