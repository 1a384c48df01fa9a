package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"lectern/internal/broadcast"
	"lectern/internal/classroom"
	"lectern/internal/lifecycle"
	"lectern/internal/provider"
	ws "lectern/internal/websocket"
	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

// memRepo is an in-memory SessionRepository for router tests.
type memRepo struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: make(map[string]*types.Session)}
}

func (r *memRepo) CreateSession(_ context.Context, s *types.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return interfaces.ErrSessionExists
	}
	clone := *s
	r.sessions[s.ID] = &clone
	return nil
}

func (r *memRepo) UpdateSession(_ context.Context, id string, update types.SessionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	if update.IsActive != nil {
		s.IsActive = *update.IsActive
	}
	if update.Quality != nil {
		s.Quality = *update.Quality
	}
	if update.QualityReason != nil {
		s.QualityReason = *update.QualityReason
	}
	if update.LastActivityAt != nil {
		s.LastActivityAt = *update.LastActivityAt
	}
	if update.ClearEndTime {
		s.EndTime = nil
	} else if update.EndTime != nil {
		s.EndTime = update.EndTime
	}
	return nil
}

func (r *memRepo) GetSessionByID(_ context.Context, id string) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	clone := *s
	return &clone, nil
}

func (r *memRepo) GetActiveSession(ctx context.Context, id string) (*types.Session, error) {
	s, err := r.GetSessionByID(ctx, id)
	if err != nil || !s.IsActive {
		return nil, interfaces.ErrSessionNotFound
	}
	return s, nil
}

func (r *memRepo) ListActiveSessions(_ context.Context) ([]*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Session
	for _, s := range r.sessions {
		if s.IsActive {
			clone := *s
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memRepo) FindActiveSessionByPresenter(_ context.Context, presenterID string) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.PresenterID == presenterID && s.IsActive {
			clone := *s
			return &clone, nil
		}
	}
	return nil, interfaces.ErrSessionNotFound
}

func (r *memRepo) FindRecentSessionByPresenter(_ context.Context, presenterID string, within time.Duration) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-within)
	for _, s := range r.sessions {
		if s.PresenterID == presenterID && s.StartTime.After(cutoff) {
			clone := *s
			return &clone, nil
		}
	}
	return nil, interfaces.ErrSessionNotFound
}

func (r *memRepo) IncrementListenerCount(_ context.Context, id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.ListenerCount += delta
	}
	return nil
}

func (r *memRepo) AddDeliveries(_ context.Context, id string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.TotalDeliveries += n
	}
	return nil
}

func (r *memRepo) AddTranscript(_ context.Context, _ *types.TranscriptRecord) error   { return nil }
func (r *memRepo) AddTranslation(_ context.Context, _ *types.TranslationRecord) error { return nil }
func (r *memRepo) HealthCheck(_ context.Context) error                                { return nil }
func (r *memRepo) Close() error                                                       { return nil }

func (r *memRepo) get(id string) *types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		clone := *s
		return &clone
	}
	return nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// fixture bundles a router with its components and live connection pairs.
type fixture struct {
	t         *testing.T
	router    *Router
	registry  *ws.Registry
	directory *classroom.Directory
	repo      *memRepo
	server    *httptest.Server
	serverCh  chan *gws.Conn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	registry := ws.NewRegistry("en")
	directory := classroom.NewDirectory(2*time.Hour, time.Minute, nil)
	sessions := lifecycle.NewManager(repo)
	static := provider.NewStatic()
	orchestrator := broadcast.NewOrchestrator(static, static, repo, nil, broadcast.Config{MaxDeliveryAttempts: 3})

	f := &fixture{
		t:         t,
		registry:  registry,
		directory: directory,
		repo:      repo,
		serverCh:  make(chan *gws.Conn, 8),
	}
	f.router = NewRouter(registry, directory, sessions, orchestrator, nil, Config{
		CloseGrace:   10 * time.Millisecond,
		RejoinWindow: 10 * time.Minute,
	})

	upgrader := gws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		f.serverCh <- conn
	}))
	t.Cleanup(f.server.Close)

	return f
}

// connect dials the test server and returns the registered server-side
// wrapper plus the client socket for reading responses.
func (f *fixture) connect() (*ws.Connection, *gws.Conn) {
	f.t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	client, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		f.t.Fatalf("dial failed: %v", err)
	}
	f.t.Cleanup(func() { _ = client.Close() })

	var serverSide *gws.Conn
	select {
	case serverSide = <-f.serverCh:
	case <-time.After(time.Second):
		f.t.Fatal("server side connection never arrived")
	}

	conn := ws.NewConnection(serverSide, 16, time.Second)
	f.registry.Add(conn)
	f.t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}

func (f *fixture) dispatch(conn *ws.Connection, payload string) {
	f.t.Helper()
	f.router.Dispatch(context.Background(), conn, []byte(payload))
}

// readMessage reads one JSON frame from the client side.
func readMessage(t *testing.T, client *gws.Conn) map[string]interface{} {
	t.Helper()
	if err := client.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	var msg map[string]interface{}
	if err := client.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, client *gws.Conn, msgType string) map[string]interface{} {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readMessage(t, client)
		if msg["type"] == msgType {
			return msg
		}
	}
	t.Fatalf("never received message of type %q", msgType)
	return nil
}

func (f *fixture) registerPresenter(conn *ws.Connection, client *gws.Conn, lang string) (code, sessionID string) {
	f.t.Helper()
	f.dispatch(conn, `{"type":"register","role":"presenter","languageCode":"`+lang+`","name":"prof"}`)
	msg := readUntil(f.t, client, types.MessageTypeClassroomCode)
	return msg["code"].(string), msg["sessionId"].(string)
}

func TestRegisterPresenterIssuesCode(t *testing.T) {
	f := newFixture(t)
	conn, client := f.connect()

	code, sessionID := f.registerPresenter(conn, client, "en-US")

	if len(code) != 6 {
		t.Errorf("expected 6-character code, got %q", code)
	}
	if !f.directory.IsValidCode(code) {
		t.Error("issued code should validate in the directory")
	}
	if f.registry.Role(conn.ID()) != types.RolePresenter {
		t.Error("presenter role not recorded")
	}
	if f.registry.SessionID(conn.ID()) != sessionID {
		t.Error("session id not recorded on the connection")
	}
	// Durable session creation is deferred to the first listener join.
	if f.repo.count() != 0 {
		t.Errorf("no durable session should exist yet, found %d", f.repo.count())
	}
}

func TestRegisterPresenterIdempotentCode(t *testing.T) {
	f := newFixture(t)
	conn, client := f.connect()

	code1, session1 := f.registerPresenter(conn, client, "en-US")
	code2, session2 := f.registerPresenter(conn, client, "en-US")

	if code1 != code2 {
		t.Errorf("repeated registration should renew the same code, got %q then %q", code1, code2)
	}
	if session1 != session2 {
		t.Errorf("repeated registration should keep the session, got %q then %q", session1, session2)
	}
}

func TestRegisterPresenterRequiresLanguage(t *testing.T) {
	f := newFixture(t)
	conn, client := f.connect()

	f.dispatch(conn, `{"type":"register","role":"presenter","languageCode":"  "}`)
	msg := readMessage(t, client)
	if msg["type"] != types.MessageTypeError {
		t.Fatalf("expected error payload, got %v", msg)
	}
	if msg["code"] != types.ErrorCodeInvalidRequest {
		t.Errorf("expected %s, got %v", types.ErrorCodeInvalidRequest, msg["code"])
	}
}

func TestListenerInvalidCodeRejectedAndClosed(t *testing.T) {
	f := newFixture(t)
	conn, client := f.connect()

	f.dispatch(conn, `{"type":"register","role":"listener","languageCode":"es","classroomCode":"ZZZZZZ"}`)

	msg := readMessage(t, client)
	if msg["type"] != types.MessageTypeError {
		t.Fatalf("expected error payload, got %v", msg)
	}
	if msg["code"] != types.ErrorCodeInvalidClassroom {
		t.Errorf("expected %s, got %v", types.ErrorCodeInvalidClassroom, msg["code"])
	}

	// The connection closes shortly after the error payload flushes.
	if err := client.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed after the grace period")
	}

	if f.registry.Role(conn.ID()) != types.RoleUnset {
		t.Error("rejected listener must not acquire a role")
	}
}

func TestListenerJoinCreatesDurableSession(t *testing.T) {
	f := newFixture(t)
	pConn, pClient := f.connect()
	code, sessionID := f.registerPresenter(pConn, pClient, "en-US")

	lConn, lClient := f.connect()
	f.dispatch(lConn, `{"type":"register","role":"listener","languageCode":"es","classroomCode":"`+code+`","name":"maria"}`)
	readUntil(t, lClient, types.MessageTypeRegister)

	s := f.repo.get(sessionID)
	if s == nil {
		t.Fatal("first listener join should create the durable session")
	}
	if s.ListenerCount != 1 {
		t.Errorf("expected listener count 1, got %d", s.ListenerCount)
	}
	if s.ClassCode != code {
		t.Errorf("expected class code %q, got %q", code, s.ClassCode)
	}
	if s.PresenterLanguage != "en-US" {
		t.Errorf("expected presenter language recorded, got %q", s.PresenterLanguage)
	}

	// The presenter hears about the join.
	joined := readUntil(t, pClient, types.MessageTypeStudentJoined)
	if joined["name"] != "maria" {
		t.Errorf("unexpected student name %v", joined["name"])
	}
	if joined["languageCode"] != "es" {
		t.Errorf("join notice should carry the listener language, got %v", joined["languageCode"])
	}
}

func TestListenerCountedOncePerConnection(t *testing.T) {
	f := newFixture(t)
	pConn, pClient := f.connect()
	code, sessionID := f.registerPresenter(pConn, pClient, "en-US")

	lConn, lClient := f.connect()
	join := `{"type":"register","role":"listener","languageCode":"es","classroomCode":"` + code + `"}`
	f.dispatch(lConn, join)
	readUntil(t, lClient, types.MessageTypeRegister)

	// Re-registering on the same connection must not inflate the count.
	f.dispatch(lConn, join)
	readUntil(t, lClient, types.MessageTypeRegister)

	if got := f.repo.get(sessionID).ListenerCount; got != 1 {
		t.Errorf("expected listener count 1 after re-registration, got %d", got)
	}

	// A second connection is a genuine join.
	l2Conn, l2Client := f.connect()
	f.dispatch(l2Conn, join)
	readUntil(t, l2Client, types.MessageTypeRegister)

	if got := f.repo.get(sessionID).ListenerCount; got != 2 {
		t.Errorf("expected listener count 2, got %d", got)
	}
}

func TestTranscriptionFanout(t *testing.T) {
	f := newFixture(t)
	pConn, pClient := f.connect()
	code, sessionID := f.registerPresenter(pConn, pClient, "en")

	esConn, esClient := f.connect()
	f.dispatch(esConn, `{"type":"register","role":"listener","languageCode":"es","classroomCode":"`+code+`","settings":{"useClientSpeech":true}}`)
	readUntil(t, esClient, types.MessageTypeRegister)

	frConn, frClient := f.connect()
	f.dispatch(frConn, `{"type":"register","role":"listener","languageCode":"fr","classroomCode":"`+code+`","settings":{"useClientSpeech":true}}`)
	readUntil(t, frClient, types.MessageTypeRegister)

	f.dispatch(pConn, `{"type":"transcription","text":"good morning everyone"}`)

	esMsg := readUntil(t, esClient, types.MessageTypeTranslation)
	if esMsg["targetLanguage"] != "es" {
		t.Errorf("expected es delivery, got %v", esMsg["targetLanguage"])
	}
	if esMsg["originalText"] != "good morning everyone" {
		t.Errorf("unexpected original text %v", esMsg["originalText"])
	}

	frMsg := readUntil(t, frClient, types.MessageTypeTranslation)
	if frMsg["targetLanguage"] != "fr" {
		t.Errorf("expected fr delivery, got %v", frMsg["targetLanguage"])
	}
	if esMsg["text"] == frMsg["text"] {
		t.Error("different languages should receive different translations")
	}

	if got := f.repo.get(sessionID).TotalDeliveries; got != 2 {
		t.Errorf("expected 2 deliveries recorded, got %d", got)
	}
}

func TestTranscriptionFromNonPresenterRejected(t *testing.T) {
	f := newFixture(t)
	conn, client := f.connect()

	f.dispatch(conn, `{"type":"transcription","text":"hello"}`)
	msg := readMessage(t, client)
	if msg["code"] != types.ErrorCodeNotRegistered {
		t.Errorf("expected %s, got %v", types.ErrorCodeNotRegistered, msg["code"])
	}
}

func TestTranscriptionEmptyTextRejected(t *testing.T) {
	f := newFixture(t)
	conn, client := f.connect()
	f.registerPresenter(conn, client, "en")

	f.dispatch(conn, `{"type":"transcription","text":"   "}`)
	msg := readMessage(t, client)
	if msg["code"] != types.ErrorCodeInvalidRequest {
		t.Errorf("expected %s, got %v", types.ErrorCodeInvalidRequest, msg["code"])
	}
}

func TestDispatchRejectsMalformed(t *testing.T) {
	f := newFixture(t)
	conn, client := f.connect()

	tests := []string{
		`not json at all`,
		`{"text":"no type"}`,
		`{"type":"teleport"}`,
		`{"type":"register","role":"wizard"}`,
	}
	for _, payload := range tests {
		f.dispatch(conn, payload)
		msg := readMessage(t, client)
		if msg["type"] != types.MessageTypeError {
			t.Errorf("payload %q: expected error, got %v", payload, msg)
		}
		if msg["code"] != types.ErrorCodeInvalidMessage {
			t.Errorf("payload %q: expected %s, got %v", payload, types.ErrorCodeInvalidMessage, msg["code"])
		}
	}
}

func TestPingPong(t *testing.T) {
	f := newFixture(t)
	conn, client := f.connect()

	f.dispatch(conn, `{"type":"ping","timestamp":1700000000123}`)
	msg := readMessage(t, client)
	if msg["type"] != types.MessageTypePong {
		t.Fatalf("expected pong, got %v", msg)
	}
	if int64(msg["originalTimestamp"].(float64)) != 1700000000123 {
		t.Errorf("pong must echo the original timestamp, got %v", msg["originalTimestamp"])
	}
}

func TestDisconnectLastListenerStartsGrace(t *testing.T) {
	f := newFixture(t)
	pConn, pClient := f.connect()
	code, sessionID := f.registerPresenter(pConn, pClient, "en")

	lConn, lClient := f.connect()
	f.dispatch(lConn, `{"type":"register","role":"listener","languageCode":"es","classroomCode":"`+code+`"}`)
	readUntil(t, lClient, types.MessageTypeRegister)

	before := f.repo.get(sessionID).LastActivityAt
	time.Sleep(2 * time.Millisecond)

	f.router.HandleDisconnect(context.Background(), lConn)

	s := f.repo.get(sessionID)
	if !s.LastActivityAt.After(before) {
		t.Error("last listener leaving should reset the activity clock")
	}
	if !s.IsActive {
		t.Error("session must stay active during the grace window")
	}
	if f.registry.ListenerCount(sessionID) != 0 {
		t.Error("registry should no longer track the listener")
	}
}

func TestSettingsUpdate(t *testing.T) {
	f := newFixture(t)
	conn, client := f.connect()

	f.dispatch(conn, `{"type":"settings","settings":{"useClientSpeech":true,"voice":"nova"}}`)
	msg := readUntil(t, client, types.MessageTypeSettings)
	if msg["status"] != "ok" {
		t.Errorf("expected ok ack, got %v", msg)
	}

	got := f.registry.Settings(conn.ID())
	if !got.UseClientSpeech || got.Voice != "nova" {
		t.Errorf("settings not recorded: %+v", got)
	}
}

func TestTTSRequest(t *testing.T) {
	f := newFixture(t)
	conn, client := f.connect()

	f.dispatch(conn, `{"type":"tts_request","text":"hola","languageCode":"es"}`)
	msg := readMessage(t, client)
	if msg["type"] != types.MessageTypeTTSResponse {
		t.Fatalf("expected tts_response, got %v", msg)
	}
	if msg["status"] != "ok" {
		t.Errorf("expected ok status, got %v", msg["status"])
	}

	f.dispatch(conn, `{"type":"tts_request","text":"","languageCode":"es"}`)
	msg = readMessage(t, client)
	if msg["status"] != "error" {
		t.Errorf("empty text should produce an error response, got %v", msg["status"])
	}
}
