package constants

import "time"

// Command names the bus accepts. A request whose name is outside this
// set is rejected before anything reaches the broker.
const (
	CommandReboot            = "reboot"
	CommandRestartMonitoring = "restart_monitoring"
	CommandRefreshPoints     = "refresh_points"
	CommandSetLogLevel       = "set_log_level"
	CommandUpdateFirmware    = "update_firmware"
)

// Command response statuses reported by devices.
const (
	CommandStatusSuccess = "success"
	CommandStatusFailed  = "failed"
)

// DefaultCommandTimeout bounds a command round trip when the caller's
// context carries no deadline of its own.
const DefaultCommandTimeout = 10 * time.Second

// CommandNames returns every accepted command name.
func CommandNames() []string {
	return []string{
		CommandReboot,
		CommandRestartMonitoring,
		CommandRefreshPoints,
		CommandSetLogLevel,
		CommandUpdateFirmware,
	}
}
