// Package session tracks live device connections and the commands
// outstanding against them.
package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one live transport connection to a device, identified once its
// IMEI is known. Exactly one reader consumes its inbound byte stream; the
// pending table is shared with command senders and guarded here.
type Session struct {
	ID   string
	IMEI string

	conn net.Conn
	wmu  sync.Mutex // serializes whole frames onto the transport

	mu           sync.Mutex
	pending      map[uint32]*Request
	lastActivity time.Time
	closed       bool
}

func New(imei string, conn net.Conn) *Session {
	return &Session{
		ID:           uuid.NewString(),
		IMEI:         imei,
		conn:         conn,
		pending:      make(map[uint32]*Request),
		lastActivity: time.Now(),
	}
}

func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Track adds an in-flight request to the outstanding table. Fails with
// ErrDisconnected once the session is closed so no request can dangle.
func (s *Session) Track(r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisconnected
	}
	s.pending[r.Correlation] = r
	return nil
}

// Match removes and returns the request waiting on the given correlation
// number, if any.
func (s *Session) Match(correlation uint32) (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.pending[correlation]
	if ok {
		delete(s.pending, correlation)
	}
	return r, ok
}

// Drop removes a request from the outstanding table without settling it.
// Used by the timeout and cancel paths after they win the settlement race.
func (s *Session) Drop(correlation uint32) {
	s.mu.Lock()
	delete(s.pending, correlation)
	s.mu.Unlock()
}

// Outstanding reports how many requests are currently in flight.
func (s *Session) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Touch refreshes the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Write sends one encoded frame to the device.
func (s *Session) Write(frame []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("session %s write: %w", s.IMEI, err)
	}
	return nil
}

// Close terminates the session and settles every outstanding request as
// disconnected. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[uint32]*Request)
	s.mu.Unlock()

	_ = s.conn.Close()
	for _, r := range pending {
		r.Fail(ErrDisconnected)
	}
}
