package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleetlink/internal/codec"
	"fleetlink/internal/observability"
	"fleetlink/internal/session"
)

// Engine makes a fire-and-wait-for-reply command behave as one logical
// operation over the multiplexed device link. It allocates correlation
// numbers, records requests against the owning session, and arms the
// per-request timeout. Reply matching happens in HandleReply, driven by the
// session's reader.
type Engine struct {
	log *slog.Logger

	mu   sync.Mutex
	next uint32
	live map[uint32]struct{}
}

func NewEngine(log *slog.Logger) *Engine {
	return &Engine{
		log:  log.With("component", "engine"),
		live: make(map[uint32]struct{}),
	}
}

// allocate hands out a correlation number not held by any outstanding
// request, for any device. Zero is never handed out so an absent field stays
// distinguishable from a real number.
func (e *Engine) allocate() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		e.next++
		if e.next == 0 {
			e.next = 1
		}
		if _, taken := e.live[e.next]; !taken {
			e.live[e.next] = struct{}{}
			return e.next
		}
	}
}

func (e *Engine) releaseFunc(corr uint32) func() {
	return func() {
		e.mu.Lock()
		delete(e.live, corr)
		e.mu.Unlock()
	}
}

// Send encodes the command, records it in the session's outstanding table,
// writes it to the device and waits for the correlated reply, the timeout,
// or ctx cancellation. The session's reader is never blocked by a waiting
// sender.
func (e *Engine) Send(ctx context.Context, s *session.Session, deviceNumber uint16, text string, timeout time.Duration) (session.Reply, error) {
	corr := e.allocate()
	req := session.NewRequest(corr, e.releaseFunc(corr))

	frame, err := codec.Encode(codec.Header, []codec.Field{
		codec.IMEIField(s.IMEI),
		codec.DeviceNumberField(deviceNumber),
		codec.CorrelationField(corr),
		codec.TextField(text),
	})
	if err != nil {
		req.Fail(err)
		return session.Reply{}, err
	}

	if err := s.Track(req); err != nil {
		req.Fail(err)
		return session.Reply{}, err
	}
	if err := s.Write(frame); err != nil {
		s.Drop(corr)
		req.Fail(session.ErrDisconnected)
		e.log.Warn("command write failed", "imei", s.IMEI, "correlation", corr, "err", err)
		return session.Reply{}, session.ErrDisconnected
	}
	observability.CommandsSent.Inc()
	start := time.Now()
	e.log.Debug("command sent", "imei", s.IMEI, "correlation", corr, "text", text)

	req.SetTimer(time.AfterFunc(timeout, func() {
		if req.Fail(session.ErrTimeout) {
			s.Drop(corr)
			observability.CommandTimeouts.Inc()
			e.log.Warn("command timed out", "imei", s.IMEI, "correlation", corr, "text", text)
		}
	}))

	select {
	case <-req.Done():
	case <-ctx.Done():
		if req.Fail(session.ErrCancelled) {
			s.Drop(corr)
		}
		<-req.Done()
	}

	reply, err := req.Outcome()
	if err == nil {
		observability.ObserveCommandLatency(start)
	}
	return reply, err
}

// HandleReply matches a decoded reply to the session's outstanding table.
// Late, duplicate and foreign correlation numbers are discarded and counted,
// never fatal.
func (e *Engine) HandleReply(s *session.Session, pkt *codec.Packet, corr uint32) {
	req, ok := s.Match(corr)
	if !ok {
		observability.RepliesUnmatched.Inc()
		e.log.Warn("unmatched reply discarded", "imei", s.IMEI, "correlation", corr)
		return
	}

	text, _ := pkt.Text()
	data, _ := pkt.ExtraData()
	if req.Succeed(session.Reply{Text: text, Data: data}) {
		observability.RepliesMatched.Inc()
		return
	}
	// Lost the race against timeout or cancel.
	observability.RepliesUnmatched.Inc()
	e.log.Warn("reply arrived after settlement", "imei", s.IMEI, "correlation", corr)
}
