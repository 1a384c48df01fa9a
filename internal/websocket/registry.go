package websocket

import (
	"sync"

	"lectern/pkg/types"
)

// Registry tracks per-connection ephemeral state: role, language, delivery
// settings, session membership, and the listener-counted flag. It holds no
// business logic; components query it and act on the results.
//
// State is scoped to one process. Scaling to multiple processes requires
// migrating these maps to a shared store with explicit concurrency control;
// that is an acknowledged limitation, not solved here.
type Registry struct {
	mu               sync.RWMutex
	fallbackLanguage string

	connections map[string]*Connection
	roles       map[string]string
	languages   map[string]string
	sessions    map[string]string
	settings    map[string]types.DeliverySettings
	names       map[string]string
	counted     map[string]bool
}

// NewRegistry creates a registry. fallbackLanguage substitutes for listeners
// that never declared a language, so they are included in fan-out rather
// than silently dropped.
func NewRegistry(fallbackLanguage string) *Registry {
	if fallbackLanguage == "" {
		fallbackLanguage = "en"
	}
	return &Registry{
		fallbackLanguage: fallbackLanguage,
		connections:      make(map[string]*Connection),
		roles:            make(map[string]string),
		languages:        make(map[string]string),
		sessions:         make(map[string]string),
		settings:         make(map[string]types.DeliverySettings),
		names:            make(map[string]string),
		counted:          make(map[string]bool),
	}
}

// Add registers a newly opened connection with unset role and language.
func (r *Registry) Add(conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID()] = conn
}

// Remove clears every per-connection map entry. Idempotent; safe to call
// from deferred cleanup paths.
func (r *Registry) Remove(conn *Connection) {
	if conn == nil {
		return
	}
	id := conn.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, id)
	delete(r.roles, id)
	delete(r.languages, id)
	delete(r.sessions, id)
	delete(r.settings, id)
	delete(r.names, id)
	delete(r.counted, id)
}

// Get returns the connection for an id.
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connID]
	return conn, ok
}

// SetRole records the connection's role.
func (r *Registry) SetRole(connID, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[connID] = role
}

// Role returns the connection's role, RoleUnset if never registered.
func (r *Registry) Role(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[connID]
}

// SetLanguage records the connection's language code.
func (r *Registry) SetLanguage(connID, languageCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.languages[connID] = languageCode
}

// Language returns the connection's declared language, which may be empty.
func (r *Registry) Language(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.languages[connID]
}

// SetSettings replaces the connection's delivery preferences.
func (r *Registry) SetSettings(connID string, settings types.DeliverySettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[connID] = settings
}

// Settings returns the connection's delivery preferences, zero-valued when
// never set.
func (r *Registry) Settings(connID string) types.DeliverySettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings[connID]
}

// SetName records the connection's display name.
func (r *Registry) SetName(connID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[connID] = name
}

// Name returns the connection's display name, which may be empty.
func (r *Registry) Name(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[connID]
}

// SetSessionID associates the connection with a session.
func (r *Registry) SetSessionID(connID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[connID] = sessionID
}

// SessionID returns the connection's session, empty if unassociated.
func (r *Registry) SessionID(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[connID]
}

// MarkCounted flags that the connection has been counted into its session's
// listener count. The flag survives repeated register messages on the same
// connection, which is what keeps the count at most once per connection.
func (r *Registry) MarkCounted(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counted[connID] = true
}

// IsCounted reports whether the connection was already counted.
func (r *Registry) IsCounted(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counted[connID]
}

// SessionListeners returns the listener connections of a session along with
// their languages, index-aligned. A listener with no declared language gets
// the fallback language rather than being omitted. Both slices are fresh
// copies; callers may not mutate registry state through them.
func (r *Registry) SessionListeners(sessionID string) ([]*Connection, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	var langs []string
	for id, sid := range r.sessions {
		if sid != sessionID || r.roles[id] != types.RoleListener {
			continue
		}
		conn, ok := r.connections[id]
		if !ok {
			continue
		}
		lang := r.languages[id]
		if lang == "" {
			lang = r.fallbackLanguage
		}
		conns = append(conns, conn)
		langs = append(langs, lang)
	}
	return conns, langs
}

// SessionPresenters returns the presenter connections of a session.
func (r *Registry) SessionPresenters(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for id, sid := range r.sessions {
		if sid != sessionID || r.roles[id] != types.RolePresenter {
			continue
		}
		if conn, ok := r.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

// ListenerCount returns the number of listener connections in a session.
func (r *Registry) ListenerCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for id, sid := range r.sessions {
		if sid == sessionID && r.roles[id] == types.RoleListener {
			n++
		}
	}
	return n
}

// Stats returns registry counters for the stats endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	listeners, presenters := 0, 0
	sessions := make(map[string]bool)
	for id, role := range r.roles {
		switch role {
		case types.RoleListener:
			listeners++
		case types.RolePresenter:
			presenters++
		}
		if sid := r.sessions[id]; sid != "" {
			sessions[sid] = true
		}
	}

	return map[string]int{
		"connections": len(r.connections),
		"presenters":  presenters,
		"listeners":   listeners,
		"sessions":    len(sessions),
	}
}
