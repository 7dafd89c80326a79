package dispatcher

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetlink/internal/codec"
	"fleetlink/internal/observability"
	"fleetlink/internal/session"
)

const testIMEI = "861774058687730"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testRig struct {
	d   *Dispatcher
	reg *session.Registry
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	reg := session.NewRegistry()
	return &testRig{
		d:   New(reg, NewEngine(testLogger()), nil, time.Second, testLogger()),
		reg: reg,
	}
}

// connect wires a fake device into the rig: the returned conn is the device
// side of the pipe, and a pump goroutine plays the TCP server's read loop,
// feeding server-side frames into the dispatcher.
func (r *testRig) connect(t *testing.T, imei string) (net.Conn, *session.Session) {
	t.Helper()
	srvSide, devSide := net.Pipe()
	s := session.New(imei, srvSide)
	r.reg.Register(s)

	go func() {
		br := bufio.NewReader(srvSide)
		for {
			frame, err := readTestFrame(br)
			if err != nil {
				return
			}
			r.d.ProcessIncoming(s, frame)
		}
	}()
	t.Cleanup(func() {
		s.Close()
		_ = devSide.Close()
	})
	return devSide, s
}

func readTestFrame(br *bufio.Reader) ([]byte, error) {
	head := make([]byte, 3)
	if _, err := io.ReadFull(br, head); err != nil {
		return nil, err
	}
	rest := make([]byte, int(binary.LittleEndian.Uint16(head[1:3]))+2)
	if _, err := io.ReadFull(br, rest); err != nil {
		return nil, err
	}
	return append(head, rest...), nil
}

// fakeDevice reads command frames off the device side of the pipe and
// answers them per the reply script.
type fakeDevice struct {
	conn  net.Conn
	seen  chan *codec.Packet
	reply func(pkt *codec.Packet) []codec.Field // nil fields -> stay silent
	delay time.Duration
}

func startFakeDevice(conn net.Conn, delay time.Duration, reply func(*codec.Packet) []codec.Field) *fakeDevice {
	f := &fakeDevice{
		conn:  conn,
		seen:  make(chan *codec.Packet, 32),
		reply: reply,
		delay: delay,
	}
	go f.run()
	return f
}

func (f *fakeDevice) run() {
	br := bufio.NewReader(f.conn)
	for {
		frame, err := readTestFrame(br)
		if err != nil {
			return
		}
		pkt, err := codec.Decode(frame)
		if err != nil {
			return
		}
		f.seen <- pkt
		if f.reply == nil {
			continue
		}
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		fields := f.reply(pkt)
		if fields == nil {
			continue
		}
		out, err := codec.Encode(codec.Header, fields)
		if err != nil {
			return
		}
		if _, err := f.conn.Write(out); err != nil {
			return
		}
	}
}

func echoReply(pkt *codec.Packet) []codec.Field {
	corr, _ := pkt.Correlation()
	text, _ := pkt.Text()
	return []codec.Field{
		codec.CorrelationField(corr),
		codec.TextField("OK:" + text),
		codec.ExtraDataField([]byte{0x01, 0x02}),
	}
}

func TestSendCommandOK(t *testing.T) {
	rig := newRig(t)
	devConn, _ := rig.connect(t, testIMEI)
	startFakeDevice(devConn, 0, echoReply)

	res, err := rig.d.SendCommand(context.Background(), testIMEI, 0, CmdStatus, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "OK:status", res.ReplyText)
	assert.Equal(t, []byte{0x01, 0x02}, res.AdditionalData)
}

func TestSendCommandDeviceNotConnected(t *testing.T) {
	rig := newRig(t)
	res, err := rig.d.SendCommand(context.Background(), "000000000000000", 0, CmdReset, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusDeviceNotConnected, res.Status)
}

func TestSendCommandTimeoutDiscardsLateReply(t *testing.T) {
	rig := newRig(t)
	devConn, s := rig.connect(t, testIMEI)
	startFakeDevice(devConn, 150*time.Millisecond, echoReply)

	unmatchedBefore := testutil.ToFloat64(observability.RepliesUnmatched)

	res, err := rig.d.SendCommand(context.Background(), testIMEI, 0, CmdStatus, 40*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Equal(t, 0, s.Outstanding(), "timed-out request must leave the table")

	// The late reply must be discarded as unmatched, not settle anything.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(observability.RepliesUnmatched) >= unmatchedBefore+1
	}, time.Second, 10*time.Millisecond)

	// The session is still healthy afterwards.
	res, err = rig.d.SendCommand(context.Background(), testIMEI, 0, CmdStatus, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
}

func TestCorrelationUniqueness(t *testing.T) {
	rig := newRig(t)
	devConn, _ := rig.connect(t, testIMEI)
	dev := startFakeDevice(devConn, 0, echoReply)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := rig.d.SendCommand(context.Background(), testIMEI, 0, CmdStatus, 2*time.Second)
			assert.NoError(t, err)
			assert.Equal(t, StatusOK, res.Status)
		}()
	}
	wg.Wait()

	corrs := make(map[uint32]bool)
	for i := 0; i < n; i++ {
		pkt := <-dev.seen
		corr, ok := pkt.Correlation()
		require.True(t, ok)
		require.False(t, corrs[corr], "correlation %d handed out twice", corr)
		corrs[corr] = true
	}
}

func TestRepliesMatchedByCorrelationNotOrder(t *testing.T) {
	rig := newRig(t)
	devConn, _ := rig.connect(t, testIMEI)

	// Device that answers the second command first.
	go func() {
		br := bufio.NewReader(devConn)
		var pkts []*codec.Packet
		for len(pkts) < 2 {
			frame, err := readTestFrame(br)
			if err != nil {
				return
			}
			pkt, err := codec.Decode(frame)
			if err != nil {
				return
			}
			pkts = append(pkts, pkt)
		}
		for i := len(pkts) - 1; i >= 0; i-- {
			out, err := codec.Encode(codec.Header, echoReply(pkts[i]))
			if err != nil {
				return
			}
			if _, err := devConn.Write(out); err != nil {
				return
			}
		}
	}()

	type outcome struct {
		text string
		res  Result
		err  error
	}
	results := make(chan outcome, 2)
	send := func(text string) {
		res, err := rig.d.SendCommand(context.Background(), testIMEI, 0, text, 2*time.Second)
		results <- outcome{text: text, res: res, err: err}
	}
	go send("slow")
	time.Sleep(20 * time.Millisecond) // keep the send order deterministic
	go send("quick")

	for i := 0; i < 2; i++ {
		out := <-results
		require.NoError(t, out.err)
		require.Equal(t, StatusOK, out.res.Status)
		assert.Equal(t, "OK:"+out.text, out.res.ReplyText)
	}
}

func TestDisconnectionCascade(t *testing.T) {
	rig := newRig(t)
	devA, sA := rig.connect(t, testIMEI)
	devB, sB := rig.connect(t, "356307042441013")
	startFakeDevice(devA, 0, nil) // consumes commands, never replies
	startFakeDevice(devB, 0, nil)

	results := make(chan Result, 3)
	for i := 0; i < 3; i++ {
		go func() {
			res, err := rig.d.SendCommand(context.Background(), testIMEI, 0, CmdStatus, 5*time.Second)
			assert.NoError(t, err)
			results <- res
		}()
	}
	require.Eventually(t, func() bool { return sA.Outstanding() == 3 }, time.Second, 5*time.Millisecond)

	resB := make(chan Result, 1)
	go func() {
		res, err := rig.d.SendCommand(context.Background(), sB.IMEI, 0, CmdStatus, 400*time.Millisecond)
		assert.NoError(t, err)
		resB <- res
	}()
	require.Eventually(t, func() bool { return sB.Outstanding() == 1 }, time.Second, 5*time.Millisecond)

	rig.reg.Unregister(sA)
	for i := 0; i < 3; i++ {
		select {
		case res := <-results:
			assert.Equal(t, StatusDisconnected, res.Status)
		case <-time.After(time.Second):
			t.Fatal("request not settled by disconnect")
		}
	}

	// The other device's request is untouched by the cascade; it runs into
	// its own timeout instead.
	assert.Equal(t, 1, sB.Outstanding())
	select {
	case res := <-resB:
		assert.Equal(t, StatusTimeout, res.Status)
	case <-time.After(time.Second):
		t.Fatal("unrelated request never settled")
	}
}

func TestSendCommandCancelled(t *testing.T) {
	rig := newRig(t)
	devConn, s := rig.connect(t, testIMEI)
	startFakeDevice(devConn, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := rig.d.SendCommand(ctx, testIMEI, 0, CmdStatus, 5*time.Second)
	require.ErrorIs(t, err, session.ErrCancelled)
	assert.Equal(t, 0, s.Outstanding())
}

func TestSendCommandEncodingRejectedBeforeIO(t *testing.T) {
	rig := newRig(t)
	devConn, _ := rig.connect(t, "not-an-imei-015") // 15 bytes but not digits
	dev := startFakeDevice(devConn, 0, echoReply)

	_, err := rig.d.SendCommand(context.Background(), "not-an-imei-015", 0, CmdStatus, time.Second)
	var encErr *codec.EncodingError
	require.ErrorAs(t, err, &encErr)

	select {
	case <-dev.seen:
		t.Fatal("nothing may reach the transport on an encoding error")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMalformedInboundFrameIsIgnored(t *testing.T) {
	rig := newRig(t)
	devConn, s := rig.connect(t, testIMEI)

	decodeErrsBefore := testutil.ToFloat64(observability.DecodeErrors)

	go func() {
		br := bufio.NewReader(devConn)
		frame, err := readTestFrame(br)
		if err != nil {
			return
		}
		pkt, err := codec.Decode(frame)
		if err != nil {
			return
		}
		// First a corrupted frame, then the real reply.
		bad, err := codec.Encode(codec.Header, echoReply(pkt))
		if err != nil {
			return
		}
		bad[len(bad)-1] ^= 0xFF
		if _, err := devConn.Write(bad); err != nil {
			return
		}
		good, err := codec.Encode(codec.Header, echoReply(pkt))
		if err != nil {
			return
		}
		_, _ = devConn.Write(good)
	}()

	res, err := rig.d.SendCommand(context.Background(), testIMEI, 0, CmdStatus, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.False(t, s.Closed(), "a decode failure never terminates the session")
	assert.GreaterOrEqual(t, testutil.ToFloat64(observability.DecodeErrors), decodeErrsBefore+1)
}

func TestAllocateSkipsOutstandingAndZero(t *testing.T) {
	e := NewEngine(testLogger())
	a := e.allocate()
	b := e.allocate()
	require.NotEqual(t, a, b)

	// Force the counter to walk straight into both live numbers.
	e.mu.Lock()
	e.next = a - 1
	e.mu.Unlock()
	c := e.allocate()
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)

	// Wraparound never yields zero.
	e2 := NewEngine(testLogger())
	e2.mu.Lock()
	e2.next = ^uint32(0)
	e2.mu.Unlock()
	assert.Equal(t, uint32(1), e2.allocate())
}
