package types

import (
	"time"
)

// Connection roles. A connection starts unset and acquires a role on its
// first register message.
const (
	RolePresenter = "presenter"
	RoleListener  = "listener"
	RoleUnset     = ""
)

// Session quality classifications written by the lifecycle reaper.
const (
	QualityNoListeners = "no_listeners"
	QualityNoActivity  = "no_activity"
	QualityUnknown     = "unknown"
)

// Session is the durable record of one presenter's broadcast session.
// Listener-join handling and the broadcast orchestrator mutate
// ListenerCount/TotalDeliveries/LastActivityAt; the reaper mutates
// IsActive/Quality/QualityReason/EndTime. IsActive=false is terminal unless
// the session is explicitly reactivated.
type Session struct {
	ID                string     `json:"id" db:"id"`
	PresenterID       string     `json:"presenter_id" db:"presenter_id"`
	PresenterLanguage string     `json:"presenter_language" db:"presenter_language"`
	ListenerLanguage  string     `json:"listener_language" db:"listener_language"`
	ClassCode         string     `json:"class_code" db:"class_code"`
	ListenerCount     int        `json:"listener_count" db:"listener_count"`
	TotalDeliveries   int        `json:"total_deliveries" db:"total_deliveries"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	Quality           string     `json:"quality" db:"quality"`
	QualityReason     string     `json:"quality_reason" db:"quality_reason"`
	LastActivityAt    time.Time  `json:"last_activity_at" db:"last_activity_at"`
	StartTime         time.Time  `json:"start_time" db:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty" db:"end_time"`
}

// SessionUpdate carries a partial update for a session record. Nil fields are
// left untouched. ClearEndTime resets EndTime to NULL (reactivation).
type SessionUpdate struct {
	ListenerCount   *int
	TotalDeliveries *int
	IsActive        *bool
	Quality         *string
	QualityReason   *string
	LastActivityAt  *time.Time
	EndTime         *time.Time
	ClearEndTime    bool
}

// DeliverySettings are a listener's per-connection delivery preferences.
// UseClientSpeech selects client-side synthesis (the server sends structured
// speech parameters instead of audio bytes).
type DeliverySettings struct {
	TTSServiceType  string  `json:"ttsServiceType,omitempty"`
	UseClientSpeech bool    `json:"useClientSpeech,omitempty"`
	Voice           string  `json:"voice,omitempty"`
	SpeechRate      float64 `json:"speechRate,omitempty"`
}

// SpeechParams describe a client-side synthesis request embedded in a
// delivery payload when the listener prefers browser speech.
type SpeechParams struct {
	Type         string  `json:"type"`
	Text         string  `json:"text"`
	LanguageCode string  `json:"languageCode"`
	Voice        string  `json:"voice,omitempty"`
	Rate         float64 `json:"rate,omitempty"`
	AutoPlay     bool    `json:"autoPlay"`
}

// DeliveryOutcome is the per-listener result of one broadcast, including the
// number of send attempts consumed (at most MaxDeliveryAttempts).
type DeliveryOutcome struct {
	ListenerID       string
	ListenerLanguage string
	Delivered        bool
	Attempts         int
	Err              error
}

// LatencyTrace accumulates the per-stage wall-clock components of one
// broadcast, in milliseconds.
type LatencyTrace struct {
	Start         time.Time
	PreparationMs int64
	TranslationMs int64
	SynthesisMs   int64
	ProcessingMs  int64
}

// Total returns the sum of the recorded components.
func (t LatencyTrace) Total() int64 {
	return t.PreparationMs + t.TranslationMs + t.SynthesisMs + t.ProcessingMs
}

// Latency is the wire representation of a LatencyTrace on translation
// payloads.
type Latency struct {
	Total      int64             `json:"total"`
	Components LatencyComponents `json:"components"`
}

// LatencyComponents breaks the total down by pipeline stage.
type LatencyComponents struct {
	Preparation int64 `json:"preparation"`
	Translation int64 `json:"translation"`
	Synthesis   int64 `json:"synthesis"`
	Processing  int64 `json:"processing"`
}

// Wire returns the outbound representation of the trace.
func (t LatencyTrace) Wire() Latency {
	return Latency{
		Total: t.Total(),
		Components: LatencyComponents{
			Preparation: t.PreparationMs,
			Translation: t.TranslationMs,
			Synthesis:   t.SynthesisMs,
			Processing:  t.ProcessingMs,
		},
	}
}

// TranscriptRecord is an audit row for one transcription received from a
// presenter.
type TranscriptRecord struct {
	SessionID string    `json:"session_id" db:"session_id"`
	Language  string    `json:"language" db:"language"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TranslationRecord is an audit row for one delivered translation.
type TranslationRecord struct {
	SessionID      string    `json:"session_id" db:"session_id"`
	SourceLanguage string    `json:"source_language" db:"source_language"`
	TargetLanguage string    `json:"target_language" db:"target_language"`
	SourceText     string    `json:"source_text" db:"source_text"`
	TargetText     string    `json:"target_text" db:"target_text"`
	LatencyMs      int64     `json:"latency_ms" db:"latency_ms"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
