// Package link feeds device lifecycle and command events to an optional
// downstream proxy as newline-delimited JSON.
package link

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

var (
	proxyAddr string
	logger    *slog.Logger

	mu   sync.Mutex
	conn net.Conn
)

// Init starts the client towards the event proxy. An empty addr leaves the
// link disabled and every Send* becomes a no-op.
func Init(addr string, lg *slog.Logger) {
	proxyAddr = addr
	if proxyAddr == "" {
		lg.Info("link: disabled (no proxy address configured)")
		return
	}
	logger = lg.With("component", "link")

	go connectLoop()
}

func connectLoop() {
	for {
		c, err := net.Dial("tcp", proxyAddr)
		if err != nil {
			if logger != nil {
				logger.Error("link: dial failed", "addr", proxyAddr, "err", err)
			}
			time.Sleep(5 * time.Second)
			continue
		}

		setConn(c)
		if logger != nil {
			logger.Info("link: connected", "remote", c.RemoteAddr().String())
		}

		readLoop(c)

		clearConn(c)
		if logger != nil {
			logger.Warn("link: connection closed, reconnecting...")
		}
		time.Sleep(2 * time.Second)
	}
}

func setConn(c net.Conn) {
	mu.Lock()
	defer mu.Unlock()
	conn = c
}

func clearConn(c net.Conn) {
	mu.Lock()
	defer mu.Unlock()
	if conn == c {
		_ = conn.Close()
		conn = nil
	}
}

func getConn() net.Conn {
	mu.Lock()
	defer mu.Unlock()
	return conn
}

// The proxy only acknowledges for now; log whatever it says.
func readLoop(c net.Conn) {
	r := bufio.NewScanner(c)
	for r.Scan() {
		if logger != nil {
			logger.Debug("link: incoming line", "line", r.Text())
		}
	}
	if err := r.Err(); err != nil && err != io.EOF {
		if logger != nil {
			logger.Warn("link: read error", "err", err)
		}
	}
}

func sendNDJSON(v interface{}) error {
	c := getConn()
	if c == nil {
		return fmt.Errorf("link: not connected")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.Write(append(b, '\n'))
	return err
}

// device_connect
type deviceConnectPayload struct {
	DeviceConnect bool   `json:"device_connect"`
	IMEI          string `json:"imei"`
	SessionID     string `json:"session_id,omitempty"`
	FWVer         string `json:"fw_ver,omitempty"`
	Model         string `json:"model,omitempty"`
	Remote        string `json:"remote,omitempty"`
}

// device_update
type deviceUpdatePayload struct {
	DeviceUpdate bool   `json:"device_update"`
	IMEI         string `json:"imei"`
	FWVer        string `json:"fw_ver,omitempty"`
	Model        string `json:"model,omitempty"`
}

// command_result
type commandResultPayload struct {
	CommandResult bool   `json:"command_result"`
	IMEI          string `json:"imei"`
	Command       string `json:"command"`
	Status        string `json:"status"`
	Reply         string `json:"reply,omitempty"`
}

// SendDeviceConnect announces a freshly registered session.
func SendDeviceConnect(info DeviceInfo) {
	if proxyAddr == "" {
		return
	}
	pl := deviceConnectPayload{
		DeviceConnect: true,
		IMEI:          info.IMEI,
		SessionID:     info.SessionID,
		FWVer:         info.FWVer,
		Model:         info.Model,
		Remote:        info.Remote,
	}
	if err := sendNDJSON(pl); err != nil && logger != nil {
		logger.Warn("link: send device_connect failed", "imei", info.IMEI, "err", err)
	}
}

// SendDeviceUpdate announces changed fw/model attributes.
func SendDeviceUpdate(info DeviceInfo) {
	if proxyAddr == "" {
		return
	}
	pl := deviceUpdatePayload{
		DeviceUpdate: true,
		IMEI:         info.IMEI,
		FWVer:        info.FWVer,
		Model:        info.Model,
	}
	if err := sendNDJSON(pl); err != nil && logger != nil {
		logger.Warn("link: send device_update failed", "imei", info.IMEI, "err", err)
	}
}

// SendCommandResult reports a settled command for auditing.
func SendCommandResult(imei, command, status, reply string) {
	if proxyAddr == "" {
		return
	}
	pl := commandResultPayload{
		CommandResult: true,
		IMEI:          imei,
		Command:       command,
		Status:        status,
		Reply:         reply,
	}
	if err := sendNDJSON(pl); err != nil && logger != nil {
		logger.Warn("link: send command_result failed", "imei", imei, "err", err)
	}
}
