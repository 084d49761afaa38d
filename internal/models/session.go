package models

// ConnectionStatus mirrors the transport adapter's view of the broker
// link, written through to session state verbatim.
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionError        ConnectionStatus = "error"
)

// FirmwareStatus is the device firmware gate verdict, compared against
// the configured minimum version.
type FirmwareStatus string

const (
	FirmwareUnknown  FirmwareStatus = "unknown"
	FirmwareOK       FirmwareStatus = "ok"
	FirmwareOutdated FirmwareStatus = "outdated"
)

// SessionState is the externally observable record of the active
// session. Consumers read snapshots of it; they never see the event
// streams underneath.
type SessionState struct {
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	BrokerHealth     BrokerHealth     `json:"broker_health"`
	FirmwareStatus   FirmwareStatus   `json:"firmware_status"`
	LastError        string           `json:"last_error,omitempty"`
}

// InitialSessionState is the state every session starts from and
// returns to after stop.
func InitialSessionState() SessionState {
	return SessionState{
		ConnectionStatus: ConnectionDisconnected,
		BrokerHealth:     BrokerHealth{Status: HealthUnknown},
		FirmwareStatus:   FirmwareUnknown,
	}
}
