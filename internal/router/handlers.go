package router

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"lectern/internal/broadcast"
	"lectern/pkg/types"
)

// handleRegister assigns the connection's role and wires it into a session.
func (r *Router) handleRegister(ctx context.Context, env *Env, msg types.Inbound) error {
	m := msg.(types.RegisterMessage)

	switch m.Role {
	case types.RolePresenter:
		return r.registerPresenter(ctx, env, m)
	case types.RoleListener:
		return r.registerListener(ctx, env, m)
	default:
		// Unreachable: decode validates the role.
		return types.ErrInvalidRole
	}
}

// registerPresenter obtains or renews a classroom code for the presenter.
// No durable session is created here; that is deferred to the first
// listener join so empty sessions never reach the repository.
func (r *Router) registerPresenter(ctx context.Context, env *Env, m types.RegisterMessage) error {
	connID := env.Conn.ID()

	if types.IsBlank(m.LanguageCode) {
		r.sendError(env.Conn, types.ErrorCodeInvalidRequest, "presenter registration requires a language code")
		return types.ErrInvalidLanguageCode
	}

	presenterID := strings.TrimSpace(m.Name)
	if presenterID == "" {
		presenterID = connID
	}

	sessionID := r.resolvePresenterSession(ctx, connID, presenterID)

	env.Registry.SetRole(connID, types.RolePresenter)
	env.Registry.SetLanguage(connID, m.LanguageCode)
	env.Registry.SetName(connID, presenterID)
	env.Registry.SetSessionID(connID, sessionID)
	if m.Settings != nil {
		env.Registry.SetSettings(connID, *m.Settings)
	}

	entry, err := env.Directory.GenerateCode(sessionID)
	if err != nil {
		r.sendError(env.Conn, types.ErrorCodeInvalidRequest, "could not issue a classroom code")
		return err
	}
	env.Directory.SetPresenterConnected(sessionID, true)

	if _, err := env.Sessions.EndDuplicatePresenterSessions(ctx, sessionID, m.LanguageCode); err != nil {
		log.Warn().Err(err).Str("module", "router").Str("session", sessionID).
			Msg("duplicate session cleanup failed")
	}

	r.sendAck(env, connID, types.MessageTypeRegister)
	return env.Conn.WriteJSON(types.ClassroomCodeMessage{
		Type:      types.MessageTypeClassroomCode,
		Code:      entry.Code,
		SessionID: sessionID,
		ExpiresAt: entry.ExpiresAt.UnixMilli(),
	})
}

// resolvePresenterSession reuses the connection's session across repeated
// register messages, deduplicates against the presenter's active session,
// reactivates a recent one inside the rejoin window, and otherwise mints a
// fresh session id.
func (r *Router) resolvePresenterSession(ctx context.Context, connID, presenterID string) string {
	if sessionID := r.registry.SessionID(connID); sessionID != "" {
		return sessionID
	}

	if s, err := r.sessions.FindActiveSessionByPresenter(ctx, presenterID); err == nil && s != nil {
		log.Info().Str("module", "router").Str("session", s.ID).
			Str("presenter", presenterID).Msg("presenter reconnected to active session")
		return s.ID
	}

	if s, err := r.sessions.FindRecentSessionByPresenter(ctx, presenterID, r.cfg.RejoinWindow); err == nil && s != nil {
		if _, err := r.sessions.ReactivateSession(ctx, s.ID); err != nil {
			log.Warn().Err(err).Str("module", "router").Str("session", s.ID).
				Msg("failed to reactivate recent session")
		} else {
			// Known gap: listeners orphaned on the old connection are not
			// migrated to the new one automatically.
			log.Info().Str("module", "router").Str("session", s.ID).
				Str("presenter", presenterID).Msg("recent session reactivated; orphaned listeners not migrated")
			return s.ID
		}
	}

	return uuid.NewString()
}

// registerListener joins the listener to the session behind its classroom
// code, creating the durable session record on the first join.
func (r *Router) registerListener(ctx context.Context, env *Env, m types.RegisterMessage) error {
	connID := env.Conn.ID()

	code := strings.ToUpper(strings.TrimSpace(m.ClassroomCode))
	entry, ok := env.Directory.GetByCode(code)
	if !ok {
		log.Warn().Str("module", "router").Str("conn", connID).Str("code", code).
			Msg("listener presented invalid or expired classroom code")
		r.sendError(env.Conn, types.ErrorCodeInvalidClassroom, "classroom code is invalid or expired")
		// The error payload gets a moment to flush before the close.
		env.Conn.CloseAfter(r.cfg.CloseGrace)
		return nil
	}
	sessionID := entry.SessionID

	env.Registry.SetRole(connID, types.RoleListener)
	env.Registry.SetLanguage(connID, m.LanguageCode)
	env.Registry.SetName(connID, m.Name)
	env.Registry.SetSessionID(connID, sessionID)
	if m.Settings != nil {
		env.Registry.SetSettings(connID, *m.Settings)
	}

	if err := r.joinDurableSession(ctx, env, m, sessionID, code); err != nil {
		log.Warn().Err(err).Str("module", "router").Str("session", sessionID).
			Msg("durable session bookkeeping failed")
	}

	r.notifyPresenters(env, sessionID, connID, m)
	r.metrics.SetListeners(r.registry.Stats()["listeners"])
	r.sendAck(env, connID, types.MessageTypeRegister)
	return nil
}

// joinDurableSession creates the session record on first join, otherwise
// counts the listener in (at most once per connection lifetime, enforced by
// the registry's counted flag).
func (r *Router) joinDurableSession(ctx context.Context, env *Env, m types.RegisterMessage, sessionID, code string) error {
	exists, err := env.Sessions.SessionExists(ctx, sessionID)
	if err != nil {
		return err
	}

	if !exists {
		session := &types.Session{
			ID:                sessionID,
			PresenterID:       r.presenterIDForSession(sessionID),
			PresenterLanguage: r.presenterLanguageForSession(sessionID),
			ListenerLanguage:  m.LanguageCode,
			ClassCode:         code,
			ListenerCount:     1,
		}
		if err := env.Sessions.CreateSession(ctx, session); err != nil {
			return err
		}
		env.Registry.MarkCounted(env.Conn.ID())
		return nil
	}

	if !env.Registry.IsCounted(env.Conn.ID()) {
		if err := env.Sessions.CountListenerJoin(ctx, sessionID); err != nil {
			return err
		}
		env.Registry.MarkCounted(env.Conn.ID())
	}
	return env.Sessions.MarkListenersRejoined(ctx, sessionID)
}

func (r *Router) presenterIDForSession(sessionID string) string {
	for _, conn := range r.registry.SessionPresenters(sessionID) {
		if name := r.registry.Name(conn.ID()); name != "" {
			return name
		}
		return conn.ID()
	}
	return ""
}

func (r *Router) presenterLanguageForSession(sessionID string) string {
	for _, conn := range r.registry.SessionPresenters(sessionID) {
		if lang := r.registry.Language(conn.ID()); lang != "" {
			return lang
		}
	}
	return ""
}

func (r *Router) notifyPresenters(env *Env, sessionID, studentID string, m types.RegisterMessage) {
	notice := types.StudentJoinedMessage{
		Type:         types.MessageTypeStudentJoined,
		StudentID:    studentID,
		Name:         m.Name,
		LanguageCode: m.LanguageCode,
	}
	for _, presenter := range env.Registry.SessionPresenters(sessionID) {
		if err := presenter.WriteJSON(notice); err != nil {
			log.Warn().Err(err).Str("module", "router").Str("conn", presenter.ID()).
				Msg("failed to notify presenter of listener join")
		}
	}
}

func (r *Router) sendAck(env *Env, connID, ackType string) {
	ack := types.RegisterAck{
		Type:         ackType,
		Status:       "ok",
		Role:         env.Registry.Role(connID),
		LanguageCode: env.Registry.Language(connID),
		Settings:     env.Registry.Settings(connID),
	}
	if err := env.Conn.WriteJSON(ack); err != nil {
		log.Warn().Err(err).Str("module", "router").Str("conn", connID).Msg("failed to send ack")
	}
}

// handleTranscription fans one presenter utterance out to every listener in
// the session: parallel per-language translation, then parallel per-listener
// delivery, then session bookkeeping once everything has settled.
func (r *Router) handleTranscription(ctx context.Context, env *Env, msg types.Inbound) error {
	m := msg.(types.TranscriptionMessage)
	connID := env.Conn.ID()

	if env.Registry.Role(connID) != types.RolePresenter {
		r.sendError(env.Conn, types.ErrorCodeNotRegistered, "only a registered presenter can broadcast transcriptions")
		return nil
	}
	sessionID := env.Registry.SessionID(connID)
	sourceLanguage := env.Registry.Language(connID)

	if err := env.Orchestrator.ValidateRequest(m.Text, sourceLanguage); err != nil {
		r.sendError(env.Conn, types.ErrorCodeInvalidRequest, err.Error())
		return nil
	}

	trace := types.LatencyTrace{Start: time.Now()}
	listeners, languages := env.Registry.SessionListeners(sessionID)
	trace.PreparationMs = time.Since(trace.Start).Milliseconds()

	if len(listeners) == 0 {
		log.Debug().Str("module", "router").Str("session", sessionID).Msg("transcription with no listeners")
		return nil
	}

	translations, translationMs := env.Orchestrator.TranslateToMultipleLanguages(ctx, m.Text, sourceLanguage, languages)
	trace.TranslationMs = translationMs

	targets := make([]broadcast.Listener, 0, len(listeners))
	for i, conn := range listeners {
		targets = append(targets, broadcast.Listener{
			Conn:         conn,
			LanguageCode: languages[i],
			Settings:     env.Registry.Settings(conn.ID()),
		})
	}

	outcomes := env.Orchestrator.SendToListeners(ctx, broadcast.Broadcast{
		SessionID:      sessionID,
		Text:           m.Text,
		SourceLanguage: sourceLanguage,
		Translations:   translations,
		Listeners:      targets,
		Trace:          trace,
	})

	delivered := 0
	for _, out := range outcomes {
		if out.Delivered {
			delivered++
		}
	}
	env.Sessions.RecordDeliveries(ctx, sessionID, delivered)
	if r.cfg.AuditTranscripts {
		env.Sessions.RecordTranscript(ctx, sessionID, sourceLanguage, m.Text)
	}
	return nil
}

// handleTTSRequest answers a one-off synthesis request in-band.
func (r *Router) handleTTSRequest(ctx context.Context, env *Env, msg types.Inbound) error {
	m := msg.(types.TTSRequestMessage)

	result, err := env.Orchestrator.SynthesizeSpeech(ctx, m.Text, m.LanguageCode, m.Voice)
	if err != nil {
		return env.Conn.WriteJSON(types.TTSResponseMessage{
			Type:   types.MessageTypeTTSResponse,
			Status: "error",
			Error:  err.Error(),
		})
	}

	response := types.TTSResponseMessage{
		Type:   types.MessageTypeTTSResponse,
		Status: "ok",
	}
	if result.UseClientSpeech {
		response.SpeechParams = &types.SpeechParams{
			Type:         "browser-speech",
			Text:         m.Text,
			LanguageCode: m.LanguageCode,
			Voice:        m.Voice,
			AutoPlay:     true,
		}
	} else {
		response.AudioData = base64.StdEncoding.EncodeToString(result.Audio)
	}
	return env.Conn.WriteJSON(response)
}

// handleAudio refreshes session activity. The audio payload itself is
// opaque here; codec and isolation work belong to external processors.
func (r *Router) handleAudio(ctx context.Context, env *Env, msg types.Inbound) error {
	connID := env.Conn.ID()
	if env.Registry.Role(connID) != types.RolePresenter {
		return nil
	}
	if sessionID := env.Registry.SessionID(connID); sessionID != "" {
		if err := env.Sessions.TouchActivity(ctx, sessionID); err != nil {
			log.Debug().Err(err).Str("module", "router").Str("session", sessionID).
				Msg("activity refresh failed")
		}
	}
	return nil
}

// handleSettings replaces the connection's delivery preferences.
func (r *Router) handleSettings(_ context.Context, env *Env, msg types.Inbound) error {
	m := msg.(types.SettingsMessage)
	connID := env.Conn.ID()
	env.Registry.SetSettings(connID, m.Settings)
	r.sendAck(env, connID, types.MessageTypeSettings)
	return nil
}

// handlePing answers the client's application-level liveness probe.
func (r *Router) handlePing(_ context.Context, env *Env, msg types.Inbound) error {
	m := msg.(types.PingMessage)
	return env.Conn.WriteJSON(types.PongMessage{
		Type:              types.MessageTypePong,
		OriginalTimestamp: m.Timestamp,
		Timestamp:         time.Now().UnixMilli(),
	})
}
