package server

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"fleetlink/internal/codec"
	"fleetlink/internal/dispatcher"
	"fleetlink/internal/observability"
	"fleetlink/internal/session"
	"fleetlink/internal/utilities"
)

type TcpServer struct {
	log      *slog.Logger
	registry *session.Registry
	dispatch *dispatcher.Dispatcher
}

func New(registry *session.Registry, dispatch *dispatcher.Dispatcher, log *slog.Logger) *TcpServer {
	return &TcpServer{
		log:      log.With("component", "server"),
		registry: registry,
		dispatch: dispatch,
	}
}

func Start(addr string, registry *session.Registry, dispatch *dispatcher.Dispatcher, log *slog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error starting TCP server: %w", err)
	}
	defer listener.Close()

	srv := New(registry, dispatch, log)
	srv.log.Info("TCP server listening", "addr", addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			srv.log.Error("accept error", "err", err)
			continue
		}
		observability.TCPConnections.Inc()
		go srv.HandleConnection(conn)
	}
}

// HandleConnection is the single reader for one device connection. The IMEI
// is learned from the first valid packet carrying tag 0x03; until then
// nothing is registered and frames are dropped. One connection, one reader:
// all decoding for this session happens on this goroutine.
func (srv *TcpServer) HandleConnection(conn net.Conn) {
	defer conn.Close()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetLinger(0)
		_ = tcpConn.SetNoDelay(false)
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(60 * time.Second)
	}

	var sess *session.Session
	defer func() {
		if sess != nil {
			srv.registry.Unregister(sess)
			observability.ConnectedDevices.Set(float64(srv.registry.Len()))
			srv.log.Info("device disconnected", "imei", sess.IMEI, "session", sess.ID)
		}
	}()

	br := bufio.NewReader(conn)
	for {
		frame, err := readFrame(br)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrUnexpectedEOF) {
				srv.log.Error("read error", "remote", conn.RemoteAddr().String(), "err", err)
			}
			return
		}

		utilities.CreateLog("RAWFRAMES", hex.EncodeToString(frame))

		if sess == nil {
			sess = srv.handshake(conn, frame)
			continue
		}
		srv.dispatch.ProcessIncoming(sess, frame)
	}
}

// handshake inspects a pre-registration frame. It returns the new session
// when the frame is valid and carries the device's IMEI, nil otherwise.
func (srv *TcpServer) handshake(conn net.Conn, frame []byte) *session.Session {
	pkt, err := codec.Decode(frame)
	if err != nil {
		observability.DecodeErrors.Inc()
		srv.log.Warn("frame before handshake dropped", "remote", conn.RemoteAddr().String(), "err", err)
		return nil
	}
	imei, ok := pkt.IMEI()
	if !ok {
		srv.log.Warn("packet received before IMEI registration", "remote", conn.RemoteAddr().String(), "len", len(frame))
		return nil
	}

	sess := session.New(imei, conn)
	srv.registry.Register(sess)
	observability.HandshakeOK.Inc()
	observability.ConnectedDevices.Set(float64(srv.registry.Len()))
	srv.log.Info("device connected", "imei", imei, "session", sess.ID, "remote", conn.RemoteAddr().String())

	go srv.dispatch.OnDeviceConnected(sess)

	// The handshake frame may itself carry telemetry.
	srv.dispatch.ProcessIncoming(sess, frame)
	return sess
}

// readFrame pulls one length-delimited frame off the stream: header byte,
// the little-endian field-section length, then the fields and trailing
// checksum.
func readFrame(br *bufio.Reader) ([]byte, error) {
	head := make([]byte, 3)
	if _, err := io.ReadFull(br, head); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(head[1:3]))
	frame := make([]byte, 3+n+2)
	copy(frame, head)
	if _, err := io.ReadFull(br, frame[3:]); err != nil {
		return nil, err
	}
	return frame, nil
}
