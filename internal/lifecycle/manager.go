package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

// Manager wraps the session repository with the lifecycle transitions the
// router and reaper share. The only isActive state machine is:
// active → [sweep rule or EndSession] → inactive → [ReactivateSession] → active.
type Manager struct {
	repo interfaces.SessionRepository
}

// NewManager creates a lifecycle manager.
func NewManager(repo interfaces.SessionRepository) *Manager {
	return &Manager{repo: repo}
}

// Repository exposes the underlying store for read paths that need it.
func (m *Manager) Repository() interfaces.SessionRepository {
	return m.repo
}

// CreateSession persists a new active session record.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	now := time.Now()
	if session.StartTime.IsZero() {
		session.StartTime = now
	}
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = now
	}
	session.IsActive = true
	if session.Quality == "" {
		session.Quality = types.QualityUnknown
	}

	if err := m.repo.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().Str("module", "lifecycle").Str("session", session.ID).
		Str("code", session.ClassCode).Msg("session created")
	return nil
}

// TouchActivity refreshes the session's last-activity timestamp.
func (m *Manager) TouchActivity(ctx context.Context, sessionID string) error {
	now := time.Now()
	return m.repo.UpdateSession(ctx, sessionID, types.SessionUpdate{LastActivityAt: &now})
}

// MarkAllListenersLeft resets the activity clock so the abandoned-session
// grace countdown starts now.
func (m *Manager) MarkAllListenersLeft(ctx context.Context, sessionID string) error {
	now := time.Now()
	if err := m.repo.UpdateSession(ctx, sessionID, types.SessionUpdate{LastActivityAt: &now}); err != nil {
		return err
	}
	log.Info().Str("module", "lifecycle").Str("session", sessionID).Msg("all listeners left, grace countdown started")
	return nil
}

// MarkListenersRejoined clears the grace countdown without touching
// isActive.
func (m *Manager) MarkListenersRejoined(ctx context.Context, sessionID string) error {
	now := time.Now()
	if err := m.repo.UpdateSession(ctx, sessionID, types.SessionUpdate{LastActivityAt: &now}); err != nil {
		return err
	}
	log.Info().Str("module", "lifecycle").Str("session", sessionID).Msg("listeners rejoined, grace countdown cleared")
	return nil
}

// EndSession is the explicit terminal transition.
func (m *Manager) EndSession(ctx context.Context, sessionID, reason string) error {
	now := time.Now()
	inactive := false
	update := types.SessionUpdate{
		IsActive:      &inactive,
		QualityReason: &reason,
		EndTime:       &now,
	}
	if err := m.repo.UpdateSession(ctx, sessionID, update); err != nil {
		return fmt.Errorf("failed to end session %s: %w", sessionID, err)
	}
	log.Info().Str("module", "lifecycle").Str("session", sessionID).Str("reason", reason).Msg("session ended")
	return nil
}

// ReactivateSession flips an inactive session back to active and clears its
// end time. Calling it on an already-active session returns (nil, nil),
// signalling nothing to do.
func (m *Manager) ReactivateSession(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := m.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsActive {
		return nil, nil
	}

	now := time.Now()
	active := true
	update := types.SessionUpdate{
		IsActive:       &active,
		LastActivityAt: &now,
		ClearEndTime:   true,
	}
	if err := m.repo.UpdateSession(ctx, sessionID, update); err != nil {
		return nil, fmt.Errorf("failed to reactivate session %s: %w", sessionID, err)
	}

	session.IsActive = true
	session.EndTime = nil
	session.LastActivityAt = now
	log.Info().Str("module", "lifecycle").Str("session", sessionID).Msg("session reactivated")
	return session, nil
}

// FindActiveSessionByPresenter supports presenter-reconnect deduplication.
func (m *Manager) FindActiveSessionByPresenter(ctx context.Context, presenterID string) (*types.Session, error) {
	return m.repo.FindActiveSessionByPresenter(ctx, presenterID)
}

// FindRecentSessionByPresenter returns the presenter's most recent session
// started within the window.
func (m *Manager) FindRecentSessionByPresenter(ctx context.Context, presenterID string, within time.Duration) (*types.Session, error) {
	return m.repo.FindRecentSessionByPresenter(ctx, presenterID, within)
}

// EndDuplicatePresenterSessions ends every other active session with the
// same presenter language, so reconnect storms cannot leave duplicate live
// rooms. Returns the number of sessions ended.
func (m *Manager) EndDuplicatePresenterSessions(ctx context.Context, currentSessionID, presenterLanguage string) (int, error) {
	sessions, err := m.repo.ListActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active sessions: %w", err)
	}

	ended := 0
	for _, s := range sessions {
		if s.ID == currentSessionID || s.PresenterLanguage != presenterLanguage {
			continue
		}
		if err := m.EndSession(ctx, s.ID, "duplicate presenter session"); err != nil {
			log.Warn().Err(err).Str("module", "lifecycle").Str("session", s.ID).Msg("failed to end duplicate session")
			continue
		}
		ended++
	}

	if ended > 0 {
		log.Info().Str("module", "lifecycle").Str("session", currentSessionID).
			Int("ended", ended).Msg("duplicate presenter sessions ended")
	}
	return ended, nil
}

// CountListenerJoin increments the durable listener count and refreshes
// activity. The caller guarantees at-most-once per connection via the
// registry's counted flag.
func (m *Manager) CountListenerJoin(ctx context.Context, sessionID string) error {
	if err := m.repo.IncrementListenerCount(ctx, sessionID, 1); err != nil {
		return err
	}
	return m.TouchActivity(ctx, sessionID)
}

// RecordDeliveries adds delivered counts to the session's ledger and
// refreshes activity. Failures are logged only; this is bookkeeping, not
// the delivery path.
func (m *Manager) RecordDeliveries(ctx context.Context, sessionID string, delivered int) {
	if delivered > 0 {
		if err := m.repo.AddDeliveries(ctx, sessionID, delivered); err != nil {
			log.Warn().Err(err).Str("module", "lifecycle").Str("session", sessionID).Msg("failed to record deliveries")
		}
	}
	if err := m.TouchActivity(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("module", "lifecycle").Str("session", sessionID).Msg("failed to refresh activity")
	}
}

// RecordTranscript persists a transcript audit row. Logged-only on failure.
func (m *Manager) RecordTranscript(ctx context.Context, sessionID, language, text string) {
	record := &types.TranscriptRecord{
		SessionID: sessionID,
		Language:  language,
		Text:      text,
		CreatedAt: time.Now(),
	}
	if err := m.repo.AddTranscript(ctx, record); err != nil {
		log.Warn().Err(err).Str("module", "lifecycle").Str("session", sessionID).Msg("failed to persist transcript")
	}
}

// SessionExists reports whether a durable record exists for the id.
func (m *Manager) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	_, err := m.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
