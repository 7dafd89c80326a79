package dispatcher

import (
	"context"
	"sync"
	"time"

	"fleetlink/internal/store"
)

// Well-known operator command texts understood by the tracker firmware.
const (
	CmdStatus      = "status"
	CmdReset       = "reset"
	CmdSetOutput   = "setoutput"   // "setoutput <n> <on|off>"
	CmdSetInterval = "setinterval" // "setinterval <seconds>"
)

/* =======================================================================
                        COMMAND DEFINITION
======================================================================= */

// Command describes a query the server may issue on its own, with the limits
// that keep it from hammering a device.
type Command struct {
	Name             string
	Text             string
	DeviceNumber     uint16
	Handler          func(d *Dispatcher, imei, reply string)
	DailyLimit       int
	SessionLimit     int
	MinRetryInterval time.Duration
	Condition        func(imei string) bool
}

var (
	cmdMu   sync.RWMutex
	catalog = map[string]Command{}
)

func RegisterCommand(c Command) {
	cmdMu.Lock()
	defer cmdMu.Unlock()
	catalog[c.Name] = c
}

func getCmd(name string) (Command, bool) {
	cmdMu.RLock()
	defer cmdMu.RUnlock()
	c, ok := catalog[name]
	return c, ok
}

func init() {
	RegisterCommand(Command{
		Name:             CmdStatus,
		Text:             CmdStatus,
		Handler:          (*Dispatcher).handleStatusReply,
		DailyLimit:       10,
		SessionLimit:     2,
		MinRetryInterval: 30 * time.Second,
	})
}

/* =======================================================================
                     PER-IMEI COMMAND SESSION STATE
======================================================================= */

type perCmdState struct {
	SessionCount int
	LastAttempt  time.Time
}

func (d *Dispatcher) getState(imei, cmd string) *perCmdState {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	if d.cmdState[imei] == nil {
		d.cmdState[imei] = make(map[string]*perCmdState)
	}
	st, ok := d.cmdState[imei][cmd]
	if !ok {
		st = &perCmdState{}
		d.cmdState[imei][cmd] = st
	}
	return st
}

// resetCmdState clears per-connection counters when a device reconnects.
func (d *Dispatcher) resetCmdState(imei string) {
	d.stateMu.Lock()
	delete(d.cmdState, imei)
	d.stateMu.Unlock()
}

/* =======================================================================
                     REQUIRED DATA CHECK
======================================================================= */

func needsToRun(imei, cmd string) bool {
	switch cmd {
	case CmdStatus:
		fw := store.GetStringSafe("dev:" + imei + ":fw")
		model := store.GetStringSafe("dev:" + imei + ":model")
		return fw == "" || model == ""
	}
	return false
}

/* =======================================================================
                  UNIVERSAL COMMAND SCHEDULE FUNCTION
======================================================================= */

// TrySchedule issues a cataloged command to the device if its limits allow
// it and the data it would fetch is still missing.
func (d *Dispatcher) TrySchedule(imei, cmdName string) {
	cmd, ok := getCmd(cmdName)
	if !ok {
		d.log.Warn("unknown command", "cmd", cmdName)
		return
	}

	if cmd.Condition != nil && !cmd.Condition(imei) {
		return
	}
	if !needsToRun(imei, cmdName) {
		return
	}

	st := d.getState(imei, cmdName)
	now := time.Now()

	if cmd.SessionLimit > 0 && st.SessionCount >= cmd.SessionLimit {
		return
	}
	if !st.LastAttempt.IsZero() && now.Sub(st.LastAttempt) < cmd.MinRetryInterval {
		return
	}

	allowed, dailyCount, err := store.IncDailyCmdCounter(imei, cmdName, cmd.DailyLimit)
	if err != nil || !allowed {
		return
	}

	st.SessionCount++
	st.LastAttempt = now

	res, err := d.SendCommand(context.Background(), imei, cmd.DeviceNumber, cmd.Text, d.timeout)
	if err != nil {
		d.log.Error("command send failed", "cmd", cmdName, "imei", imei, "err", err)
		return
	}
	d.log.Info("command finished",
		"cmd", cmdName,
		"imei", imei,
		"status", res.Status,
		"session", st.SessionCount,
		"daily", dailyCount,
	)

	if res.Status == StatusOK && cmd.Handler != nil {
		cmd.Handler(d, imei, res.ReplyText)
	}
}
