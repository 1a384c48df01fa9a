package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func testSession(id string) *types.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.Session{
		ID:                id,
		PresenterID:       "prof",
		PresenterLanguage: "en-US",
		ListenerLanguage:  "es",
		ClassCode:         "AB12CD",
		ListenerCount:     1,
		IsActive:          true,
		Quality:           types.QualityUnknown,
		LastActivityAt:    now,
		StartTime:         now,
	}
}

func TestCreateAndGetSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateSession(ctx, testSession("s1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := m.GetSessionByID(ctx, "s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ClassCode != "AB12CD" || got.PresenterLanguage != "en-US" {
		t.Errorf("unexpected session %+v", got)
	}
	if !got.IsActive {
		t.Error("session should be active")
	}
	if got.EndTime != nil {
		t.Error("new session should have no end time")
	}

	if err := m.CreateSession(ctx, testSession("s1")); !errors.Is(err, interfaces.ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetSessionByID(context.Background(), "missing")
	if !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestUpdateSessionPartial(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateSession(ctx, testSession("s1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	inactive := false
	quality := types.QualityNoActivity
	reason := "stale session"
	endTime := time.Now().UTC().Truncate(time.Second)
	err := m.UpdateSession(ctx, "s1", types.SessionUpdate{
		IsActive:      &inactive,
		Quality:       &quality,
		QualityReason: &reason,
		EndTime:       &endTime,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := m.GetSessionByID(ctx, "s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.IsActive {
		t.Error("session should be inactive")
	}
	if got.Quality != types.QualityNoActivity || got.QualityReason != "stale session" {
		t.Errorf("quality not persisted: %+v", got)
	}
	if got.EndTime == nil {
		t.Error("end time should be set")
	}
	// Untouched fields survive.
	if got.ClassCode != "AB12CD" {
		t.Errorf("untouched field changed: %q", got.ClassCode)
	}
}

func TestUpdateSessionClearEndTime(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateSession(ctx, testSession("s1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	endTime := time.Now().UTC()
	if err := m.UpdateSession(ctx, "s1", types.SessionUpdate{EndTime: &endTime}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := m.UpdateSession(ctx, "s1", types.SessionUpdate{ClearEndTime: true}); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	got, err := m.GetSessionByID(ctx, "s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.EndTime != nil {
		t.Error("end time should be cleared")
	}
}

func TestUpdateMissingSessionIsNoop(t *testing.T) {
	m := newTestManager(t)

	now := time.Now()
	err := m.UpdateSession(context.Background(), "missing", types.SessionUpdate{LastActivityAt: &now})
	if err != nil {
		t.Errorf("updating a missing session must be harmless, got %v", err)
	}
}

func TestIncrementListenerCountAndDeliveries(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateSession(ctx, testSession("s1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := m.IncrementListenerCount(ctx, "s1", 1); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if err := m.AddDeliveries(ctx, "s1", 5); err != nil {
		t.Fatalf("add deliveries failed: %v", err)
	}

	got, err := m.GetSessionByID(ctx, "s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ListenerCount != 2 {
		t.Errorf("expected listener count 2, got %d", got.ListenerCount)
	}
	if got.TotalDeliveries != 5 {
		t.Errorf("expected 5 deliveries, got %d", got.TotalDeliveries)
	}
}

func TestListActiveSessions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateSession(ctx, testSession("active")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	ended := testSession("ended")
	ended.IsActive = false
	if err := m.CreateSession(ctx, ended); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	sessions, err := m.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "active" {
		t.Errorf("expected only the active session, got %d", len(sessions))
	}
}

func TestFindSessionsByPresenter(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	old := testSession("old")
	old.StartTime = time.Now().Add(-time.Hour).UTC()
	old.IsActive = false
	if err := m.CreateSession(ctx, old); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := m.CreateSession(ctx, testSession("current")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	active, err := m.FindActiveSessionByPresenter(ctx, "prof")
	if err != nil {
		t.Fatalf("find active failed: %v", err)
	}
	if active.ID != "current" {
		t.Errorf("expected the active session, got %q", active.ID)
	}

	recent, err := m.FindRecentSessionByPresenter(ctx, "prof", 10*time.Minute)
	if err != nil {
		t.Fatalf("find recent failed: %v", err)
	}
	if recent.ID != "current" {
		t.Errorf("expected the recent session, got %q", recent.ID)
	}

	if _, err := m.FindRecentSessionByPresenter(ctx, "nobody", 10*time.Minute); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAuditRows(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateSession(ctx, testSession("s1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err := m.AddTranscript(ctx, &types.TranscriptRecord{
		SessionID: "s1",
		Language:  "en-US",
		Text:      "good morning",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Errorf("transcript insert failed: %v", err)
	}

	err = m.AddTranslation(ctx, &types.TranslationRecord{
		SessionID:      "s1",
		SourceLanguage: "en-US",
		TargetLanguage: "es",
		SourceText:     "good morning",
		TargetText:     "buenos dias",
		LatencyMs:      42,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Errorf("translation insert failed: %v", err)
	}
}

func TestHealthCheckAndClose(t *testing.T) {
	m := newTestManager(t)

	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	// Closing twice is a no-op.
	if err := m.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	now := time.Now()
	err := m.UpdateSession(context.Background(), "s1", types.SessionUpdate{LastActivityAt: &now})
	if err == nil {
		t.Error("writes after close must fail")
	}
}
