package session

import "sync"

// Registry maps each IMEI to at most one live session. The TCP listener
// installs a session once the device's IMEI is learned and removes it on
// disconnect; nothing else reaches a session except through here.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register installs the session for its IMEI. A device reconnecting under
// the same IMEI replaces its prior entry; the prior session is closed, which
// settles its outstanding requests as disconnected. The replaced session, if
// any, is returned.
func (r *Registry) Register(s *Session) *Session {
	r.mu.Lock()
	old := r.sessions[s.IMEI]
	r.sessions[s.IMEI] = s
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return old
}

func (r *Registry) Lookup(imei string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[imei]
	return s, ok
}

// Unregister removes the session if it is still the current entry for its
// IMEI, then closes it. A session that was already replaced by a reconnect
// is closed without disturbing the new entry.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	if r.sessions[s.IMEI] == s {
		delete(r.sessions, s.IMEI)
	}
	r.mu.Unlock()

	s.Close()
}

// Len reports the number of connected devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
