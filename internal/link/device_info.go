package link

// DeviceInfo is the static view of a device pushed to the event proxy.
type DeviceInfo struct {
	IMEI      string
	SessionID string
	FWVer     string
	Model     string
	Remote    string
}
