package broadcast

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lectern/internal/metrics"
	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

// Sender is the slice of a connection the orchestrator needs. The WebSocket
// connection wrapper satisfies it; tests substitute fakes.
type Sender interface {
	ID() string
	WriteJSON(v interface{}) error
}

// Listener is one fan-out target with its resolved language and delivery
// preferences.
type Listener struct {
	Conn         Sender
	LanguageCode string
	Settings     types.DeliverySettings
}

// Broadcast is one transcription fan-out request.
type Broadcast struct {
	SessionID      string
	Text           string
	SourceLanguage string
	Translations   map[string]string
	Listeners      []Listener

	// Trace carries the preparation and translation components measured
	// upstream; the orchestrator adds synthesis and processing per
	// listener.
	Trace types.LatencyTrace
}

// Config tunes the orchestrator.
type Config struct {
	// MaxDeliveryAttempts bounds the per-listener send loop (attempts
	// total, including the first).
	MaxDeliveryAttempts int

	// AuditEnabled persists per-delivery translation records off the
	// critical path.
	AuditEnabled bool
}

// Orchestrator parallelizes per-language translation and per-listener
// delivery. Failures degrade: a failed translation falls back to the
// original text, a failed synthesis degrades to an audio-less payload, and
// a failed send is retried a bounded number of times before being recorded
// as a terminal per-listener failure. The broadcast as a whole never aborts.
type Orchestrator struct {
	translator  interfaces.Translator
	synthesizer interfaces.SpeechSynthesizer
	repo        interfaces.SessionRepository
	metrics     *metrics.Metrics
	cfg         Config
}

// NewOrchestrator creates an orchestrator. repo may be nil when auditing is
// disabled.
func NewOrchestrator(translator interfaces.Translator, synthesizer interfaces.SpeechSynthesizer, repo interfaces.SessionRepository, m *metrics.Metrics, cfg Config) *Orchestrator {
	if cfg.MaxDeliveryAttempts <= 0 {
		cfg.MaxDeliveryAttempts = 3
	}
	return &Orchestrator{
		translator:  translator,
		synthesizer: synthesizer,
		repo:        repo,
		metrics:     m,
		cfg:         cfg,
	}
}

// ValidateRequest rejects empty or whitespace-only text and blank language
// codes before any provider call is made.
func (o *Orchestrator) ValidateRequest(text, languageCode string) error {
	if err := types.ValidateText(text); err != nil {
		return err
	}
	return types.ValidateLanguageCode(languageCode)
}

// TranslateToMultipleLanguages issues one translation call per distinct
// target language concurrently. An individual failure falls back to the
// original text for that language only; the batch never aborts. The second
// return value is the parallel phase's wall-clock duration in milliseconds.
func (o *Orchestrator) TranslateToMultipleLanguages(ctx context.Context, text, sourceLanguage string, targetLanguages []string) (map[string]string, int64) {
	distinct := make([]string, 0, len(targetLanguages))
	seen := make(map[string]bool)
	for _, lang := range targetLanguages {
		if types.IsBlank(lang) || seen[lang] {
			continue
		}
		seen[lang] = true
		distinct = append(distinct, lang)
	}

	results := make(map[string]string, len(distinct))
	if len(distinct) == 0 {
		return results, 0
	}

	start := time.Now()
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, lang := range distinct {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()

			translated, err := o.translator.Translate(ctx, text, sourceLanguage, target)
			o.metrics.RecordTranslation(err != nil)
			if err != nil {
				log.Warn().Err(err).Str("module", "broadcast").
					Str("source", sourceLanguage).Str("target", target).
					Msg("translation failed, falling back to original text")
				translated = text
			}

			mu.Lock()
			results[target] = translated
			mu.Unlock()
		}(lang)
	}
	wg.Wait()

	elapsed := time.Since(start)
	o.metrics.RecordTranslationPhase(elapsed.Seconds())
	return results, elapsed.Milliseconds()
}

// SendToListeners delivers the broadcast to every listener concurrently and
// returns once every attempt sequence, including retries, has settled.
// Callers can therefore do post-broadcast bookkeeping without racing
// in-flight sends.
func (o *Orchestrator) SendToListeners(ctx context.Context, b Broadcast) []types.DeliveryOutcome {
	start := time.Now()

	var mu sync.Mutex
	var wg sync.WaitGroup
	outcomes := make([]types.DeliveryOutcome, 0, len(b.Listeners))

	for _, listener := range b.Listeners {
		wg.Add(1)
		go func(l Listener) {
			defer wg.Done()

			outcome := o.deliver(ctx, b, l)
			if outcome == nil {
				return // skipped, never attempted
			}

			mu.Lock()
			outcomes = append(outcomes, *outcome)
			mu.Unlock()
		}(listener)
	}
	wg.Wait()

	delivered, failed := 0, 0
	for _, out := range outcomes {
		if out.Delivered {
			delivered++
		} else {
			failed++
		}
		o.metrics.RecordDelivery(out.Delivered, out.Attempts)
	}
	o.metrics.RecordBroadcast(time.Since(start).Seconds())

	log.Info().Str("module", "broadcast").Str("session", b.SessionID).
		Int("delivered", delivered).Int("failed", failed).
		Int("skipped", len(b.Listeners)-len(outcomes)).
		Msg("broadcast settled")

	return outcomes
}

// deliver runs one listener's full attempt sequence. A nil return means the
// listener was skipped before any attempt.
func (o *Orchestrator) deliver(ctx context.Context, b Broadcast, l Listener) *types.DeliveryOutcome {
	// A listener with an unresolved language is never attempted.
	if types.IsBlank(l.LanguageCode) {
		log.Warn().Str("module", "broadcast").Str("conn", l.Conn.ID()).
			Str("session", b.SessionID).Msg("listener has no resolvable language, skipping delivery")
		return nil
	}

	translated, ok := b.Translations[l.LanguageCode]
	if !ok || translated == "" {
		translated = b.Text
	}

	payload, synthesisMs := o.buildPayload(ctx, b, l, translated)

	outcome := &types.DeliveryOutcome{
		ListenerID:       l.Conn.ID(),
		ListenerLanguage: l.LanguageCode,
	}

	// Bounded retry: the same payload, up to MaxDeliveryAttempts sends.
	for attempt := 1; attempt <= o.cfg.MaxDeliveryAttempts; attempt++ {
		outcome.Attempts = attempt
		err := l.Conn.WriteJSON(payload)
		if err == nil {
			outcome.Delivered = true
			outcome.Err = nil
			break
		}
		outcome.Err = err
		log.Warn().Err(err).Str("module", "broadcast").Str("conn", l.Conn.ID()).
			Int("attempt", attempt).Msg("delivery attempt failed")
	}

	if !outcome.Delivered {
		log.Error().Str("module", "broadcast").Str("conn", l.Conn.ID()).
			Str("session", b.SessionID).Int("attempts", outcome.Attempts).
			Msg("delivery failed after final attempt")
	}

	o.audit(ctx, b, l.LanguageCode, translated, synthesisMs)

	return outcome
}

// buildPayload resolves the delivery mode and assembles the translation
// message, returning the synthesis latency component.
func (o *Orchestrator) buildPayload(ctx context.Context, b Broadcast, l Listener, translated string) (*types.TranslationMessage, int64) {
	msg := &types.TranslationMessage{
		Type:           types.MessageTypeTranslation,
		Text:           translated,
		OriginalText:   b.Text,
		SourceLanguage: b.SourceLanguage,
		TargetLanguage: l.LanguageCode,
		TTSServiceType: l.Settings.TTSServiceType,
	}

	var synthesisMs int64
	switch {
	case l.Settings.UseClientSpeech:
		msg.UseClientSpeech = true
		msg.SpeechParams = o.speechParams(translated, l)

	default:
		synthStart := time.Now()
		result, err := o.synthesizer.Synthesize(ctx, translated, l.LanguageCode, l.Settings.Voice)
		synthesisMs = time.Since(synthStart).Milliseconds()
		o.metrics.RecordSynthesis(err != nil, time.Since(synthStart).Seconds())

		switch {
		case err != nil:
			// Synthesis failure degrades to text-only delivery.
			log.Warn().Err(err).Str("module", "broadcast").
				Str("language", l.LanguageCode).Msg("synthesis failed, delivering without audio")
		case result.UseClientSpeech:
			msg.UseClientSpeech = true
			msg.SpeechParams = o.speechParams(translated, l)
		case len(result.Audio) > 0:
			msg.AudioData = base64.StdEncoding.EncodeToString(result.Audio)
		}
	}

	trace := b.Trace
	trace.SynthesisMs = synthesisMs
	trace.ProcessingMs = time.Since(trace.Start).Milliseconds() - trace.PreparationMs - trace.TranslationMs - synthesisMs
	if trace.ProcessingMs < 0 {
		trace.ProcessingMs = 0
	}
	msg.Latency = trace.Wire()

	return msg, synthesisMs
}

func (o *Orchestrator) speechParams(text string, l Listener) *types.SpeechParams {
	return &types.SpeechParams{
		Type:         "browser-speech",
		Text:         text,
		LanguageCode: l.LanguageCode,
		Voice:        l.Settings.Voice,
		Rate:         l.Settings.SpeechRate,
		AutoPlay:     true,
	}
}

// audit persists one translation record when enabled. Both languages must be
// non-blank; invalid values skip persistence without affecting delivery, and
// repository failures are logged only.
func (o *Orchestrator) audit(ctx context.Context, b Broadcast, targetLanguage, translated string, latencyMs int64) {
	if !o.cfg.AuditEnabled || o.repo == nil {
		return
	}
	if types.IsBlank(b.SourceLanguage) || types.IsBlank(targetLanguage) {
		log.Warn().Str("module", "broadcast").Str("session", b.SessionID).
			Msg("invalid language pair, skipping translation audit")
		return
	}

	record := &types.TranslationRecord{
		SessionID:      b.SessionID,
		SourceLanguage: b.SourceLanguage,
		TargetLanguage: targetLanguage,
		SourceText:     b.Text,
		TargetText:     translated,
		LatencyMs:      latencyMs,
		CreatedAt:      time.Now(),
	}
	if err := o.repo.AddTranslation(ctx, record); err != nil {
		log.Warn().Err(err).Str("module", "broadcast").Str("session", b.SessionID).
			Msg("failed to persist translation audit record")
	}
}

// SynthesizeSpeech services a one-off tts_request through the synthesis
// provider, after validating the request.
func (o *Orchestrator) SynthesizeSpeech(ctx context.Context, text, languageCode, voice string) (*interfaces.SpeechResult, error) {
	if err := o.ValidateRequest(text, languageCode); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := o.synthesizer.Synthesize(ctx, text, languageCode, voice)
	o.metrics.RecordSynthesis(err != nil, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return result, nil
}
