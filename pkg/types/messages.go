package types

import (
	"encoding/json"
	"fmt"
)

// Inbound message type discriminants.
const (
	MessageTypeRegister      = "register"
	MessageTypeTranscription = "transcription"
	MessageTypeTTSRequest    = "tts_request"
	MessageTypeAudio         = "audio"
	MessageTypeSettings      = "settings"
	MessageTypePing          = "ping"
)

// Outbound message type discriminants.
const (
	MessageTypeClassroomCode = "classroom_code"
	MessageTypeStudentJoined = "student_joined"
	MessageTypeTranslation   = "translation"
	MessageTypeTTSResponse   = "tts_response"
	MessageTypePong          = "pong"
	MessageTypeError         = "error"
)

// Inbound is the decoded form of a client message. Each variant carries
// precisely typed fields; unknown types and malformed variants are rejected
// at decode time, before any handler runs.
type Inbound interface {
	MessageType() string
}

// RegisterMessage declares a connection's role, language, and (for
// listeners) the classroom code to join.
type RegisterMessage struct {
	Role          string            `json:"role"`
	LanguageCode  string            `json:"languageCode"`
	Name          string            `json:"name,omitempty"`
	ClassroomCode string            `json:"classroomCode,omitempty"`
	Settings      *DeliverySettings `json:"settings,omitempty"`
}

func (RegisterMessage) MessageType() string { return MessageTypeRegister }

// TranscriptionMessage carries one segment of the presenter's speech as text.
type TranscriptionMessage struct {
	Text string `json:"text"`
}

func (TranscriptionMessage) MessageType() string { return MessageTypeTranscription }

// TTSRequestMessage asks the server to synthesize a one-off utterance.
type TTSRequestMessage struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode"`
	Voice        string `json:"voice,omitempty"`
}

func (TTSRequestMessage) MessageType() string { return MessageTypeTTSRequest }

// AudioMessage carries an opaque audio chunk from the presenter. The payload
// is not interpreted by this server; it only refreshes session activity.
type AudioMessage struct {
	Data string `json:"data"`
}

func (AudioMessage) MessageType() string { return MessageTypeAudio }

// SettingsMessage replaces the connection's delivery preferences.
type SettingsMessage struct {
	Settings DeliverySettings `json:"settings"`
}

func (SettingsMessage) MessageType() string { return MessageTypeSettings }

// PingMessage is an application-level liveness probe carrying the client's
// clock reading in milliseconds.
type PingMessage struct {
	Timestamp int64 `json:"timestamp"`
}

func (PingMessage) MessageType() string { return MessageTypePing }

// envelope peeks the discriminant before variant decoding.
type envelope struct {
	Type string `json:"type"`
}

// DecodeInbound parses a raw text frame into its typed variant. The
// discriminant must name a known type and the variant's required fields must
// validate; everything else is rejected here so handlers only ever see
// well-formed messages.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case MessageTypeRegister:
		var msg RegisterMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if msg.Role != RolePresenter && msg.Role != RoleListener {
			return nil, ErrInvalidRole
		}
		return msg, nil

	case MessageTypeTranscription:
		var msg TranscriptionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return msg, nil

	case MessageTypeTTSRequest:
		var msg TTSRequestMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return msg, nil

	case MessageTypeAudio:
		var msg AudioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return msg, nil

	case MessageTypeSettings:
		var msg SettingsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return msg, nil

	case "":
		return nil, ErrMissingMessageType

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

// RegisterAck echoes the accepted registration state back to the client.
type RegisterAck struct {
	Type         string           `json:"type"`
	Status       string           `json:"status"`
	Role         string           `json:"role"`
	LanguageCode string           `json:"languageCode"`
	Settings     DeliverySettings `json:"settings"`
}

// ClassroomCodeMessage delivers a freshly minted or renewed classroom code
// to a presenter.
type ClassroomCodeMessage struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	SessionID string `json:"sessionId"`
	ExpiresAt int64  `json:"expiresAt"`
}

// StudentJoinedMessage notifies presenter connections that a listener has
// joined their session.
type StudentJoinedMessage struct {
	Type         string `json:"type"`
	StudentID    string `json:"studentId"`
	Name         string `json:"name,omitempty"`
	LanguageCode string `json:"languageCode"`
}

// TranslationMessage is the per-listener delivery payload. Exactly one of
// AudioData or SpeechParams is populated when speech output is requested;
// both are absent when synthesis degraded or the listener is silent.
type TranslationMessage struct {
	Type            string        `json:"type"`
	Text            string        `json:"text"`
	OriginalText    string        `json:"originalText"`
	SourceLanguage  string        `json:"sourceLanguage"`
	TargetLanguage  string        `json:"targetLanguage"`
	TTSServiceType  string        `json:"ttsServiceType,omitempty"`
	AudioData       string        `json:"audioData,omitempty"`
	UseClientSpeech bool          `json:"useClientSpeech"`
	SpeechParams    *SpeechParams `json:"speechParams,omitempty"`
	Latency         Latency       `json:"latency"`
}

// TTSResponseMessage answers a tts_request.
type TTSResponseMessage struct {
	Type         string        `json:"type"`
	Status       string        `json:"status"`
	AudioData    string        `json:"audioData,omitempty"`
	SpeechParams *SpeechParams `json:"speechParams,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// PongMessage answers an application-level ping.
type PongMessage struct {
	Type              string `json:"type"`
	OriginalTimestamp int64  `json:"originalTimestamp"`
	Timestamp         int64  `json:"timestamp"`
}

// ErrorMessage is the user-visible error payload. Code is a stable
// machine-readable identifier.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Stable error codes surfaced to clients.
const (
	ErrorCodeInvalidClassroom = "INVALID_CLASSROOM"
	ErrorCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrorCodeInvalidRequest   = "INVALID_REQUEST"
	ErrorCodeNotRegistered    = "NOT_REGISTERED"
)
