// Package dispatcher routes inbound device frames and exposes the single
// operation the outer layers consume: send a command to a device by IMEI and
// wait for its correlated reply.
package dispatcher

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fleetlink/internal/codec"
	"fleetlink/internal/grpcclient"
	"fleetlink/internal/link"
	"fleetlink/internal/observability"
	"fleetlink/internal/session"
	"fleetlink/internal/store"
)

// Statuses of a command outcome, the contract consumed by the web layer.
const (
	StatusOK                 = "ok"
	StatusDeviceNotConnected = "device-not-connected"
	StatusTimeout            = "timeout"
	StatusDisconnected       = "disconnected"
)

// Result is the settled outcome of SendCommand.
type Result struct {
	Status         string `json:"status"`
	ReplyText      string `json:"reply_text,omitempty"`
	AdditionalData []byte `json:"additional_data,omitempty"`
}

type Dispatcher struct {
	log      *slog.Logger
	registry *session.Registry
	engine   *Engine
	forward  *grpcclient.GRPCClient // nil when no forwarder is configured
	timeout  time.Duration          // default for provisioning commands

	stateMu  sync.Mutex
	cmdState map[string]map[string]*perCmdState
}

func New(registry *session.Registry, engine *Engine, forward *grpcclient.GRPCClient, timeout time.Duration, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		log:      log.With("component", "dispatcher"),
		registry: registry,
		engine:   engine,
		forward:  forward,
		timeout:  timeout,
		cmdState: make(map[string]map[string]*perCmdState),
	}
}

// SendCommand sends commandText to the device currently connected with the
// given IMEI and waits for its reply. The returned Result covers the four
// ordinary outcomes; the error is non-nil only for caller mistakes (a field
// that cannot be encoded) or ctx cancellation.
func (d *Dispatcher) SendCommand(ctx context.Context, imei string, deviceNumber uint16, commandText string, timeout time.Duration) (Result, error) {
	s, ok := d.registry.Lookup(imei)
	if !ok {
		return Result{Status: StatusDeviceNotConnected}, nil
	}

	reply, err := d.engine.Send(ctx, s, deviceNumber, commandText, timeout)
	var res Result
	switch {
	case err == nil:
		res = Result{Status: StatusOK, ReplyText: reply.Text, AdditionalData: reply.Data}
	case errors.Is(err, session.ErrTimeout):
		res = Result{Status: StatusTimeout}
	case errors.Is(err, session.ErrDisconnected):
		res = Result{Status: StatusDisconnected}
	default:
		return Result{}, err
	}

	link.SendCommandResult(imei, commandText, res.Status, res.ReplyText)
	return res, nil
}

// ProcessIncoming handles one framed message pulled off a session's stream.
// It is called by the single reader owning that stream. Malformed frames are
// counted and dropped without touching the session.
func (d *Dispatcher) ProcessIncoming(s *session.Session, frame []byte) {
	observability.PacketsRecv.Inc()

	pkt, err := codec.Decode(frame)
	if err != nil {
		observability.DecodeErrors.Inc()
		d.log.Warn("frame dropped", "imei", s.IMEI, "len", len(frame), "err", err)
		return
	}
	s.Touch()

	if corr, ok := pkt.Correlation(); ok {
		d.engine.HandleReply(s, pkt, corr)
		return
	}
	d.handleTelemetry(s, frame, pkt)
}

// handleTelemetry takes any valid frame that is not a command reply: refresh
// the device's last-seen mark and hand the raw frame to the forwarder.
func (d *Dispatcher) handleTelemetry(s *session.Session, frame []byte, pkt *codec.Packet) {
	observability.Telemetry.Inc()
	store.SaveLastSeen(s.IMEI)

	if data, ok := pkt.ExtraData(); ok {
		store.SaveStringSafe("dev:"+s.IMEI+":last_payload", hex.EncodeToString(data))
	}

	if d.forward != nil {
		if err := d.forward.SendData(s.IMEI, hex.EncodeToString(frame)); err != nil {
			observability.ForwardErrors.Inc()
			d.log.Warn("telemetry forward failed", "imei", s.IMEI, "err", err)
		}
	}
}

// OnDeviceConnected runs post-handshake work for a freshly registered
// session: announce it downstream and schedule provisioning queries.
func (d *Dispatcher) OnDeviceConnected(s *session.Session) {
	d.resetCmdState(s.IMEI)

	link.SendDeviceConnect(link.DeviceInfo{
		IMEI:      s.IMEI,
		SessionID: s.ID,
		FWVer:     store.GetStringSafe("dev:" + s.IMEI + ":fw"),
		Model:     store.GetStringSafe("dev:" + s.IMEI + ":model"),
		Remote:    s.RemoteAddr().String(),
	})

	d.TrySchedule(s.IMEI, CmdStatus)
}
