// Package registry implements the process-wide roster of logged-in chat
// sessions: a name-keyed map guarded by a reader/writer lock, supporting
// unique-insert, sender-excluded fan-out, and removal.
//
// Unlike the original_source Rust implementation (a lazily-initialized
// mutable global), a Registry here is an explicit value: the accept driver
// constructs exactly one at startup and passes a shared reference into every
// session. This avoids unsynchronized lazy initialization and lets tests
// create as many independent registries as they like in one process.
package registry

import (
	"strings"
	"sync"

	"chatrelay/internal/protocol"
)

// Sender is the minimal capability a registered session exposes to the
// registry: writing a frame to its own socket. Sends to a session always
// come from whichever goroutine is fanning a message out; implementations
// must serialize their own writes (see session.Client's outbound mutex).
type Sender interface {
	Send(h *protocol.Header, body []byte) error
}

// Registry is the shared roster. The zero value is not usable; use New.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Sender
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{clients: make(map[string]Sender)}
}

// Add inserts client under username if no session is already registered
// under that name. On success it returns true. On a name collision it
// returns false and does not modify the registry; the caller is expected to
// reject the connecting client itself (duplicate-login handling lives in
// the accept driver, not here).
func (r *Registry) Add(username string, client Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[username]; exists {
		return false
	}
	r.clients[username] = client
	return true
}

// Remove drops username from the roster, if present.
func (r *Registry) Remove(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, username)
}

// SendTo writes a frame to the session registered under dest. It reports
// false if dest is not present, or if the write failed; the registry is not
// modified in either case — a client whose socket has gone bad is left in
// the roster for its own receive loop to discover and remove.
func (r *Registry) SendTo(dest string, h *protocol.Header, body []byte) bool {
	r.mu.RLock()
	client, ok := r.clients[dest]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return client.Send(h, body) == nil
}

// SendToAll writes a frame to every registered session except the one whose
// username equals source. Best-effort: a failure delivering to one
// recipient does not stop delivery to the rest. Reports whether every
// attempted send succeeded.
func (r *Registry) SendToAll(source string, h *protocol.Header, body []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ok := true
	for username, client := range r.clients {
		if username == source {
			continue
		}
		if err := client.Send(h, body); err != nil {
			ok = false
		}
	}
	return ok
}

// LoggedInUsers returns a CSV of every registered username, each entry
// followed by ", "; order is unspecified (Go map iteration order).
func (r *Registry) LoggedInUsers() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	for username := range r.clients {
		b.WriteString(username)
		b.WriteString(", ")
	}
	return b.String()
}

// Len reports the number of registered sessions. Intended for tests and
// metrics, not for any protocol decision.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
