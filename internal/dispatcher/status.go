package dispatcher

import (
	"regexp"
	"strings"

	"fleetlink/internal/link"
	"fleetlink/internal/store"
)

// Status replies look like "Ver:03.29.01 Rev:04 Hw:FLK90 Out:1 Int:30".
var (
	reVer = regexp.MustCompile(`(?i)\bver:([^\s]+(?:\s+Rev:?\s*\d+)?)`)
	reHw  = regexp.MustCompile(`(?i)\bhw:([A-Za-z0-9_-]+)`)
)

func parseStatus(text string) (fw, model string) {
	if m := reVer.FindStringSubmatch(text); len(m) > 1 {
		fw = strings.TrimSpace(m[1])
	}
	if m := reHw.FindStringSubmatch(text); len(m) > 1 {
		model = strings.TrimSpace(m[1])
	}
	return fw, model
}

// handleStatusReply extracts firmware and hardware identifiers out of a
// status reply and keeps them for the session announcements.
func (d *Dispatcher) handleStatusReply(imei, text string) {
	fw, model := parseStatus(text)
	d.log.Info("status reply", "imei", imei, "model", model, "fw", fw, "raw", text)

	if fw != "" {
		store.SaveStringSafe("dev:"+imei+":fw", fw)
	}
	if model != "" {
		store.SaveStringSafe("dev:"+imei+":model", model)
	}
	store.SaveStringSafe("dev:"+imei+":status_raw", text)

	if fw != "" || model != "" {
		link.SendDeviceUpdate(link.DeviceInfo{IMEI: imei, FWVer: fw, Model: model})
	}
}
