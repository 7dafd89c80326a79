package session

import (
	"errors"
	"sync"
	"time"
)

// Command outcomes. These are ordinary control flow for callers, never
// process failures.
var (
	ErrTimeout      = errors.New("command timed out")
	ErrDisconnected = errors.New("device disconnected")
	ErrCancelled    = errors.New("command cancelled")
)

// Reply carries the text and optional opaque payload of a matched reply.
type Reply struct {
	Text string
	Data []byte
}

// Request is one in-flight command awaiting its correlated reply. It settles
// exactly once: matching reply, timeout, cancel, or session teardown —
// whichever happens first wins and the losers are no-ops.
type Request struct {
	Correlation uint32
	Created     time.Time

	mu      sync.Mutex
	settled bool
	reply   Reply
	err     error
	timer   *time.Timer
	release func()

	done chan struct{}
}

// NewRequest builds a request for an already-allocated correlation number.
// release runs once, after settlement, and is where the allocator reclaims
// the number.
func NewRequest(correlation uint32, release func()) *Request {
	return &Request{
		Correlation: correlation,
		Created:     time.Now(),
		release:     release,
		done:        make(chan struct{}),
	}
}

// Done is closed once the request has settled either way.
func (r *Request) Done() <-chan struct{} { return r.done }

// Outcome is valid only after Done is closed.
func (r *Request) Outcome() (Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reply, r.err
}

// SetTimer attaches the timeout timer so a settlement can stop it. If the
// request already settled the timer is stopped immediately.
func (r *Request) SetTimer(t *time.Timer) {
	r.mu.Lock()
	if r.settled {
		r.mu.Unlock()
		t.Stop()
		return
	}
	r.timer = t
	r.mu.Unlock()
}

// Succeed settles the request with the device's reply. Returns false if it
// had already settled.
func (r *Request) Succeed(reply Reply) bool {
	return r.settle(func() { r.reply = reply })
}

// Fail settles the request with a timeout/disconnect/cancel outcome. Returns
// false if it had already settled.
func (r *Request) Fail(err error) bool {
	return r.settle(func() { r.err = err })
}

func (r *Request) settle(apply func()) bool {
	r.mu.Lock()
	if r.settled {
		r.mu.Unlock()
		return false
	}
	r.settled = true
	apply()
	if r.timer != nil {
		r.timer.Stop()
	}
	release := r.release
	r.mu.Unlock()

	close(r.done)
	if release != nil {
		release()
	}
	return true
}
