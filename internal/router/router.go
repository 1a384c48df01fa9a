package router

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"lectern/internal/broadcast"
	"lectern/internal/classroom"
	"lectern/internal/lifecycle"
	"lectern/internal/metrics"
	"lectern/internal/websocket"
	"lectern/pkg/types"
)

// Env is the per-connection view a handler operates on: the sending
// connection plus the shared components. Handlers delegate all translation,
// synthesis, and persistence work to these components and hold no business
// logic of their own.
type Env struct {
	Conn         *websocket.Connection
	Registry     *websocket.Registry
	Directory    *classroom.Directory
	Sessions     *lifecycle.Manager
	Orchestrator *broadcast.Orchestrator
}

// HandlerFunc processes one decoded inbound message for side effects.
type HandlerFunc func(ctx context.Context, env *Env, msg types.Inbound) error

// Config tunes the router.
type Config struct {
	// CloseGrace is how long an invalid-classroom error payload gets to
	// flush before the connection is closed.
	CloseGrace time.Duration

	// RejoinWindow bounds presenter-reconnect session reuse.
	RejoinWindow time.Duration

	// AuditTranscripts persists presenter transcription texts.
	AuditTranscripts bool
}

// Router decodes typed inbound messages and delegates them to handlers.
type Router struct {
	registry     *websocket.Registry
	directory    *classroom.Directory
	sessions     *lifecycle.Manager
	orchestrator *broadcast.Orchestrator
	metrics      *metrics.Metrics
	cfg          Config
	handlers     map[string]HandlerFunc
}

// NewRouter creates a router with the standard handler set registered.
func NewRouter(registry *websocket.Registry, directory *classroom.Directory, sessions *lifecycle.Manager, orchestrator *broadcast.Orchestrator, m *metrics.Metrics, cfg Config) *Router {
	r := &Router{
		registry:     registry,
		directory:    directory,
		sessions:     sessions,
		orchestrator: orchestrator,
		metrics:      m,
		cfg:          cfg,
	}
	r.handlers = map[string]HandlerFunc{
		types.MessageTypeRegister:      r.handleRegister,
		types.MessageTypeTranscription: r.handleTranscription,
		types.MessageTypeTTSRequest:    r.handleTTSRequest,
		types.MessageTypeAudio:         r.handleAudio,
		types.MessageTypeSettings:      r.handleSettings,
		types.MessageTypePing:          r.handlePing,
	}
	return r
}

// Dispatch decodes one raw frame and runs its handler. Decode failures are
// answered with an error payload; handler failures are logged and, where
// user-visible, already answered by the handler itself.
func (r *Router) Dispatch(ctx context.Context, conn *websocket.Connection, data []byte) {
	msg, err := types.DecodeInbound(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "router").Str("conn", conn.ID()).Msg("rejected inbound message")
		r.sendError(conn, types.ErrorCodeInvalidMessage, err.Error())
		return
	}

	env := &Env{
		Conn:         conn,
		Registry:     r.registry,
		Directory:    r.directory,
		Sessions:     r.sessions,
		Orchestrator: r.orchestrator,
	}

	handler, ok := r.handlers[msg.MessageType()]
	if !ok {
		// DecodeInbound only returns known types; this is a wiring bug.
		log.Error().Str("module", "router").Str("type", msg.MessageType()).Msg("no handler registered")
		return
	}

	if err := handler(ctx, env, msg); err != nil {
		log.Warn().Err(err).Str("module", "router").Str("conn", conn.ID()).
			Str("type", msg.MessageType()).Msg("handler failed")
	}
}

// HandleDisconnect clears the connection's registry state and updates
// session bookkeeping: the last listener leaving starts the abandoned-grace
// countdown, and a departing presenter is flagged on the directory.
func (r *Router) HandleDisconnect(ctx context.Context, conn *websocket.Connection) {
	connID := conn.ID()
	role := r.registry.Role(connID)
	sessionID := r.registry.SessionID(connID)

	r.registry.Remove(conn)

	if sessionID == "" {
		return
	}

	switch role {
	case types.RoleListener:
		if r.registry.ListenerCount(sessionID) == 0 {
			if err := r.sessions.MarkAllListenersLeft(ctx, sessionID); err != nil {
				log.Warn().Err(err).Str("module", "router").Str("session", sessionID).
					Msg("failed to start abandoned-grace countdown")
			}
		}
		r.metrics.SetListeners(r.registry.Stats()["listeners"])

	case types.RolePresenter:
		r.directory.SetPresenterConnected(sessionID, false)
	}
}

func (r *Router) sendError(conn *websocket.Connection, code, message string) {
	payload := types.ErrorMessage{
		Type:    types.MessageTypeError,
		Message: message,
		Code:    code,
	}
	if err := conn.WriteJSON(payload); err != nil {
		log.Warn().Err(err).Str("module", "router").Str("conn", conn.ID()).Msg("failed to send error payload")
	}
}
