package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"lectern/internal/metrics"
	"lectern/pkg/types"
)

// ReaperConfig holds the sweep cadence and thresholds.
type ReaperConfig struct {
	Interval              time.Duration
	EmptyPresenterTimeout time.Duration
	AbandonedGrace        time.Duration
	StaleThreshold        time.Duration
}

// Reaper periodically sweeps active session records and ends the ones
// nobody is using. Three independent, idempotent rules run each cycle:
//
//  1. empty-presenter timeout: no listener ever joined and the session is
//     older than the threshold → quality "no_listeners"
//  2. abandoned grace: listeners joined but inactivity sits strictly between
//     the grace window and the stale threshold → quality "no_activity"
//  3. general staleness: inactivity beyond the stale threshold →
//     quality "no_activity"
//
// Rules 2 and 3 can both match an old session in one cycle; whichever runs
// first wins and the other is a no-op, so the session converges to inactive
// regardless of order.
//
// Cancellation is checked immediately before and after every repository
// call, so a sweep in flight at shutdown never mutates state after the
// context is cancelled.
type Reaper struct {
	manager *Manager
	metrics *metrics.Metrics
	cfg     ReaperConfig

	// now is swappable for threshold tests.
	now func() time.Time
}

// NewReaper creates a reaper over the lifecycle manager.
func NewReaper(manager *Manager, m *metrics.Metrics, cfg ReaperConfig) *Reaper {
	return &Reaper{
		manager: manager,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run sweeps on the configured interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	log.Info().Str("module", "reaper").Dur("interval", r.cfg.Interval).Msg("session reaper started")

	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			log.Info().Str("module", "reaper").Msg("session reaper stopped")
			return
		}
	}
}

// Sweep applies every rule to the current active set and returns the number
// of sessions ended. A cancelled context aborts silently mid-sweep.
func (r *Reaper) Sweep(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	sessions, err := r.manager.Repository().ListActiveSessions(ctx)
	if ctx.Err() != nil {
		return 0
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "reaper").Msg("failed to list active sessions")
		return 0
	}

	now := r.now()
	reaped := 0
	for _, s := range sessions {
		quality, reason, match := r.evaluate(s, now)
		if !match {
			continue
		}
		if !r.end(ctx, s.ID, quality, reason) {
			continue
		}
		reaped++
	}

	if reaped > 0 {
		log.Info().Str("module", "reaper").Int("reaped", reaped).
			Int("scanned", len(sessions)).Msg("sweep complete")
	}
	return reaped
}

// evaluate applies the rules in a fixed order; each rule re-derives its
// inputs so overlapping matches stay idempotent.
func (r *Reaper) evaluate(s *types.Session, now time.Time) (quality, reason string, match bool) {
	age := now.Sub(s.StartTime)
	inactivity := now.Sub(s.LastActivityAt)

	// Rule 1: active with no listeners past the empty-presenter threshold.
	if s.ListenerCount == 0 && age > r.cfg.EmptyPresenterTimeout {
		return types.QualityNoListeners, "no listeners joined before timeout", true
	}

	// Rule 2: listeners existed, inactivity strictly inside the grace
	// window's upper half (past grace, not yet broadly stale).
	if s.ListenerCount > 0 && inactivity > r.cfg.AbandonedGrace && inactivity < r.cfg.StaleThreshold {
		return types.QualityNoActivity, "abandoned after all listeners left", true
	}

	// Rule 3: any session inactive beyond the broad stale threshold.
	if inactivity > r.cfg.StaleThreshold {
		return types.QualityNoActivity, "stale session", true
	}

	return "", "", false
}

// end marks a session inactive, bracketing the repository call with
// cancellation checks.
func (r *Reaper) end(ctx context.Context, sessionID, quality, reason string) bool {
	if ctx.Err() != nil {
		return false
	}

	now := r.now()
	inactive := false
	update := types.SessionUpdate{
		IsActive:      &inactive,
		Quality:       &quality,
		QualityReason: &reason,
		EndTime:       &now,
	}
	err := r.manager.Repository().UpdateSession(ctx, sessionID, update)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "reaper").Str("session", sessionID).Msg("failed to end session")
		return false
	}

	log.Info().Str("module", "reaper").Str("session", sessionID).
		Str("quality", quality).Str("reason", reason).Msg("session reaped")
	r.metrics.RecordReap(quality)
	return true
}
