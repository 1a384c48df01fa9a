package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lectern/internal/classroom"
	ws "lectern/internal/websocket"
	"lectern/pkg/types"
)

// stubRepo answers health checks with a canned error.
type stubRepo struct {
	healthErr error
}

func (s *stubRepo) CreateSession(context.Context, *types.Session) error { return nil }
func (s *stubRepo) UpdateSession(context.Context, string, types.SessionUpdate) error {
	return nil
}
func (s *stubRepo) GetSessionByID(context.Context, string) (*types.Session, error) {
	return nil, nil
}
func (s *stubRepo) GetActiveSession(context.Context, string) (*types.Session, error) {
	return nil, nil
}
func (s *stubRepo) ListActiveSessions(context.Context) ([]*types.Session, error) { return nil, nil }
func (s *stubRepo) FindActiveSessionByPresenter(context.Context, string) (*types.Session, error) {
	return nil, nil
}
func (s *stubRepo) FindRecentSessionByPresenter(context.Context, string, time.Duration) (*types.Session, error) {
	return nil, nil
}
func (s *stubRepo) IncrementListenerCount(context.Context, string, int) error  { return nil }
func (s *stubRepo) AddDeliveries(context.Context, string, int) error           { return nil }
func (s *stubRepo) AddTranscript(context.Context, *types.TranscriptRecord) error {
	return nil
}
func (s *stubRepo) AddTranslation(context.Context, *types.TranslationRecord) error {
	return nil
}
func (s *stubRepo) HealthCheck(context.Context) error { return s.healthErr }
func (s *stubRepo) Close() error                      { return nil }

func newTestServer(repo *stubRepo) *Server {
	registry := ws.NewRegistry("en")
	directory := classroom.NewDirectory(time.Hour, time.Minute, nil)
	handler := ws.NewHandler(registry, nil, nil, ws.HandlerConfig{})
	return NewServer(context.Background(), "test", handler, registry, directory, repo)
}

func TestHealthzOK(t *testing.T) {
	s := newTestServer(&stubRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestHealthzUnavailable(t *testing.T) {
	s := newTestServer(&stubRepo{healthErr: errors.New("database locked")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestStats(t *testing.T) {
	s := newTestServer(&stubRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	s.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad stats body: %v", err)
	}
	if _, ok := body["connections"]; !ok {
		t.Error("stats should include connection counters")
	}
	if _, ok := body["classrooms"]; !ok {
		t.Error("stats should include classroom counters")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&stubRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
