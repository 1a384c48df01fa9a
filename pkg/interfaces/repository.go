package interfaces

import (
	"context"
	"time"

	"lectern/pkg/types"
)

// SessionRepository is the durable store for session records and audit rows.
// All calls are opaque asynchronous operations from the core's point of
// view; failures on the audit paths are logged-only and never block
// delivery.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *types.Session) error
	UpdateSession(ctx context.Context, sessionID string, update types.SessionUpdate) error
	GetSessionByID(ctx context.Context, sessionID string) (*types.Session, error)
	GetActiveSession(ctx context.Context, sessionID string) (*types.Session, error)
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// FindActiveSessionByPresenter returns the most recent active session
	// owned by the presenter, or ErrSessionNotFound.
	FindActiveSessionByPresenter(ctx context.Context, presenterID string) (*types.Session, error)

	// FindRecentSessionByPresenter returns the presenter's most recent
	// session (active or ended) started within the window, or
	// ErrSessionNotFound.
	FindRecentSessionByPresenter(ctx context.Context, presenterID string, within time.Duration) (*types.Session, error)

	// IncrementListenerCount atomically adjusts listener_count by delta.
	IncrementListenerCount(ctx context.Context, sessionID string, delta int) error

	// AddDeliveries atomically adds n to total_deliveries.
	AddDeliveries(ctx context.Context, sessionID string, n int) error

	AddTranscript(ctx context.Context, record *types.TranscriptRecord) error
	AddTranslation(ctx context.Context, record *types.TranslationRecord) error

	HealthCheck(ctx context.Context) error
	Close() error
}
