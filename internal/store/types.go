package store

// RegisterParams is the input of RegisterSubscription.
type RegisterParams struct {
	UserID     int64
	Endpoint   string
	P256DH     string
	Auth       string
	DeviceType string
	DeviceName string
}

const (
	defaultDeviceType = "unknown"
	defaultDeviceName = "Unknown Device"
)

func (p RegisterParams) normalized() RegisterParams {
	if p.DeviceType == "" {
		p.DeviceType = defaultDeviceType
	}
	if p.DeviceName == "" {
		p.DeviceName = defaultDeviceName
	}
	return p
}
