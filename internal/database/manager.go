package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

// Manager implements interfaces.SessionRepository on SQLite. Writes funnel
// through a single goroutine because SQLite serializes writers anyway;
// queueing them avoids busy-lock churn. Reads run concurrently against the
// connection pool.
type Manager struct {
	db           *sql.DB
	writeChannel chan writeOperation
	writeTimeout time.Duration
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies the schema, and starts the write
// loop.
func NewManager(path string, writeTimeout time.Duration) (*Manager, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	m := &Manager{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		writeTimeout: writeTimeout,
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop serializes all writes, retrying each failed operation once.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Warn().Err(err).Str("module", "database").Msg("write failed, retrying once")
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(m.writeTimeout):
		return fmt.Errorf("write operation timed out")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// CreateSession inserts a new session record.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO sessions (
				id, presenter_id, presenter_language, listener_language, class_code,
				listener_count, total_deliveries, is_active, quality, quality_reason,
				last_activity_at, start_time, end_time
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			session.ID,
			session.PresenterID,
			session.PresenterLanguage,
			session.ListenerLanguage,
			session.ClassCode,
			session.ListenerCount,
			session.TotalDeliveries,
			session.IsActive,
			session.Quality,
			session.QualityReason,
			session.LastActivityAt,
			session.StartTime,
			session.EndTime,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return interfaces.ErrSessionExists
			}
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// UpdateSession applies a partial update. Updating a missing session is a
// no-op, which keeps activity refreshes on not-yet-durable sessions
// harmless.
func (m *Manager) UpdateSession(ctx context.Context, sessionID string, update types.SessionUpdate) error {
	var sets []string
	var args []interface{}

	if update.ListenerCount != nil {
		sets = append(sets, "listener_count = ?")
		args = append(args, *update.ListenerCount)
	}
	if update.TotalDeliveries != nil {
		sets = append(sets, "total_deliveries = ?")
		args = append(args, *update.TotalDeliveries)
	}
	if update.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *update.IsActive)
	}
	if update.Quality != nil {
		sets = append(sets, "quality = ?")
		args = append(args, *update.Quality)
	}
	if update.QualityReason != nil {
		sets = append(sets, "quality_reason = ?")
		args = append(args, *update.QualityReason)
	}
	if update.LastActivityAt != nil {
		sets = append(sets, "last_activity_at = ?")
		args = append(args, *update.LastActivityAt)
	}
	if update.ClearEndTime {
		sets = append(sets, "end_time = NULL")
	} else if update.EndTime != nil {
		sets = append(sets, "end_time = ?")
		args = append(args, *update.EndTime)
	}

	if len(sets) == 0 {
		return nil
	}
	args = append(args, sessionID)

	return m.executeWrite(func(db *sql.DB) error {
		query := "UPDATE sessions SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
}

// IncrementListenerCount atomically adjusts listener_count.
func (m *Manager) IncrementListenerCount(ctx context.Context, sessionID string, delta int) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := "UPDATE sessions SET listener_count = listener_count + ? WHERE id = ?"
		if _, err := db.ExecContext(ctx, query, delta, sessionID); err != nil {
			return fmt.Errorf("failed to adjust listener count: %w", err)
		}
		return nil
	})
}

// AddDeliveries atomically adds to total_deliveries.
func (m *Manager) AddDeliveries(ctx context.Context, sessionID string, n int) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := "UPDATE sessions SET total_deliveries = total_deliveries + ? WHERE id = ?"
		if _, err := db.ExecContext(ctx, query, n, sessionID); err != nil {
			return fmt.Errorf("failed to record deliveries: %w", err)
		}
		return nil
	})
}

const sessionColumns = `
	id, presenter_id, presenter_language, listener_language, class_code,
	listener_count, total_deliveries, is_active, quality, quality_reason,
	last_activity_at, start_time, end_time
`

// GetSessionByID retrieves a session regardless of its active state.
func (m *Manager) GetSessionByID(ctx context.Context, sessionID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", sessionID)
	return scanSession(row)
}

// GetActiveSession retrieves a session only while it is active.
func (m *Manager) GetActiveSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ? AND is_active = 1", sessionID)
	return scanSession(row)
}

// ListActiveSessions returns every active session.
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE is_active = 1")
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// FindActiveSessionByPresenter returns the presenter's most recent active
// session.
func (m *Manager) FindActiveSessionByPresenter(ctx context.Context, presenterID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE presenter_id = ? AND is_active = 1 ORDER BY start_time DESC LIMIT 1",
		presenterID)
	return scanSession(row)
}

// FindRecentSessionByPresenter returns the presenter's most recent session
// started within the window, active or not.
func (m *Manager) FindRecentSessionByPresenter(ctx context.Context, presenterID string, within time.Duration) (*types.Session, error) {
	cutoff := time.Now().Add(-within)
	row := m.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE presenter_id = ? AND start_time >= ? ORDER BY start_time DESC LIMIT 1",
		presenterID, cutoff)
	return scanSession(row)
}

// AddTranscript appends a transcript audit row.
func (m *Manager) AddTranscript(ctx context.Context, record *types.TranscriptRecord) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := "INSERT INTO transcripts (session_id, language, text, created_at) VALUES (?, ?, ?, ?)"
		if _, err := db.ExecContext(ctx, query, record.SessionID, record.Language, record.Text, record.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert transcript: %w", err)
		}
		return nil
	})
}

// AddTranslation appends a translation audit row.
func (m *Manager) AddTranslation(ctx context.Context, record *types.TranslationRecord) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO translations (session_id, source_language, target_language, source_text, target_text, latency_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			record.SessionID,
			record.SourceLanguage,
			record.TargetLanguage,
			record.SourceText,
			record.TargetText,
			record.LatencyMs,
			record.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert translation: %w", err)
		}
		return nil
	})
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close drains the write loop and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	return m.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var endTime sql.NullTime

	err := row.Scan(
		&session.ID,
		&session.PresenterID,
		&session.PresenterLanguage,
		&session.ListenerLanguage,
		&session.ClassCode,
		&session.ListenerCount,
		&session.TotalDeliveries,
		&session.IsActive,
		&session.Quality,
		&session.QualityReason,
		&session.LastActivityAt,
		&session.StartTime,
		&endTime,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if endTime.Valid {
		session.EndTime = &endTime.Time
	}
	return &session, nil
}
