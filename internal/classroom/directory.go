package classroom

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lectern/internal/metrics"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// maxMintAttempts bounds collision retries. 36^6 codes make exhaustion
	// a configuration problem, not a runtime one.
	maxMintAttempts = 20
)

// Entry is one live classroom code.
type Entry struct {
	Code               string
	SessionID          string
	CreatedAt          time.Time
	LastActivity       time.Time
	ExpiresAt          time.Time
	PresenterConnected bool
}

// Directory maps short human-shareable classroom codes to session ids with a
// fixed TTL. It is ephemeral and independent of the connection registry;
// expired codes linger until eviction but never match a lookup.
//
// bySession tracks only the latest code per session. Older codes orphaned by
// presenter reconnects stay in the code table and are reclaimed by expiry,
// not immediately.
type Directory struct {
	mu        sync.RWMutex
	ttl       time.Duration
	sweep     time.Duration
	metrics   *metrics.Metrics
	codes     map[string]*Entry
	bySession map[string]string

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewDirectory creates a directory with the given code TTL and cleanup
// cadence.
func NewDirectory(ttl, sweep time.Duration, m *metrics.Metrics) *Directory {
	return &Directory{
		ttl:       ttl,
		sweep:     sweep,
		metrics:   m,
		codes:     make(map[string]*Entry),
		bySession: make(map[string]string),
		now:       time.Now,
	}
}

// GenerateCode returns the session's classroom code. While the session holds
// an unexpired code the same code is renewed and returned (idempotent);
// otherwise a fresh unique code is minted with a full TTL.
func (d *Directory) GenerateCode(sessionID string) (*Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	if code, ok := d.bySession[sessionID]; ok {
		if entry, ok := d.codes[code]; ok && now.Before(entry.ExpiresAt) {
			entry.LastActivity = now
			entry.ExpiresAt = now.Add(d.ttl)
			snapshot := *entry
			return &snapshot, nil
		}
	}

	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return nil, err
		}
		if existing, ok := d.codes[code]; ok && now.Before(existing.ExpiresAt) {
			continue // live collision, try again
		}
		entry := &Entry{
			Code:               code,
			SessionID:          sessionID,
			CreatedAt:          now,
			LastActivity:       now,
			ExpiresAt:          now.Add(d.ttl),
			PresenterConnected: true,
		}
		d.codes[code] = entry
		d.bySession[sessionID] = code
		log.Info().Str("module", "classroom").Str("code", code).
			Str("session", sessionID).Time("expires", entry.ExpiresAt).Msg("classroom code issued")
		snapshot := *entry
		return &snapshot, nil
	}

	return nil, ErrCodeSpaceExhausted
}

// IsValidCode reports whether the code exists and has not expired. Lookup
// never renews the TTL.
func (d *Directory) IsValidCode(code string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.codes[code]
	return ok && d.now().Before(entry.ExpiresAt)
}

// GetByCode returns a copy of the entry for a valid code.
func (d *Directory) GetByCode(code string) (*Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.codes[code]
	if !ok || !d.now().Before(entry.ExpiresAt) {
		return nil, false
	}
	snapshot := *entry
	return &snapshot, true
}

// CodeForSession returns the session's current code if it is still valid.
func (d *Directory) CodeForSession(sessionID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	code, ok := d.bySession[sessionID]
	if !ok {
		return "", false
	}
	entry, ok := d.codes[code]
	if !ok || !d.now().Before(entry.ExpiresAt) {
		return "", false
	}
	return code, true
}

// SetPresenterConnected flags presenter presence on the session's current
// code, used by the stats surface.
func (d *Directory) SetPresenterConnected(sessionID string, connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if code, ok := d.bySession[sessionID]; ok {
		if entry, ok := d.codes[code]; ok {
			entry.PresenterConnected = connected
		}
	}
}

// Cleanup evicts every expired entry and returns the evicted count. It runs
// on the directory's own cadence and may also be called opportunistically.
func (d *Directory) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	evicted := 0
	for code, entry := range d.codes {
		if now.Before(entry.ExpiresAt) {
			continue
		}
		delete(d.codes, code)
		if d.bySession[entry.SessionID] == code {
			delete(d.bySession, entry.SessionID)
		}
		evicted++
	}

	if evicted > 0 {
		log.Info().Str("module", "classroom").Int("evicted", evicted).Msg("expired classroom codes evicted")
		d.metrics.RecordCodesEvicted(evicted)
	}
	return evicted
}

// Run evicts expired codes on the configured cadence until ctx is done.
func (d *Directory) Run(ctx context.Context) {
	ticker := time.NewTicker(d.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// Stats returns directory counters for the stats endpoint.
func (d *Directory) Stats() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	live := 0
	now := d.now()
	for _, entry := range d.codes {
		if now.Before(entry.ExpiresAt) {
			live++
		}
	}
	return map[string]int{
		"codes_total": len(d.codes),
		"codes_live":  live,
	}
}

func randomCode() (string, error) {
	buf := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
