package simulator

import (
	"sync"
	"time"

	"github.com/openbms/devicebus/internal/models"
)

// DeviceState is the mutable state a simulated device reports in its
// heartbeats and that commands act upon.
type DeviceState struct {
	mu               sync.Mutex
	bootTime         time.Time
	monitoringStatus string
	bacnetStatus     string
	connectedDevices int
	monitoredPoints  int
	firmwareVersion  string
}

// NewDeviceState creates a device that just booted with monitoring
// running.
func NewDeviceState(firmwareVersion string, connectedDevices, monitoredPoints int) *DeviceState {
	return &DeviceState{
		bootTime:         time.Now(),
		monitoringStatus: "running",
		bacnetStatus:     "connected",
		connectedDevices: connectedDevices,
		monitoredPoints:  monitoredPoints,
		firmwareVersion:  firmwareVersion,
	}
}

// Fill writes the device-owned heartbeat fields into payload.
func (d *DeviceState) Fill(payload *models.HeartbeatPayload) {
	d.mu.Lock()
	defer d.mu.Unlock()

	uptime := uint64(time.Since(d.bootTime).Seconds())
	devices := d.connectedDevices
	points := d.monitoredPoints

	payload.UptimeSeconds = &uptime
	payload.MonitoringStatus = d.monitoringStatus
	payload.BacnetStatus = d.bacnetStatus
	payload.ConnectedDevices = &devices
	payload.MonitoredPoints = &points
	payload.FirmwareVersion = d.firmwareVersion
}

// Reboot resets the uptime clock.
func (d *DeviceState) Reboot() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bootTime = time.Now()
	d.monitoringStatus = "running"
}

// RestartMonitoring brings the monitoring process back to running.
func (d *DeviceState) RestartMonitoring() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.monitoringStatus = "running"
}

// RefreshPoints rescans the point list and returns the monitored
// count.
func (d *DeviceState) RefreshPoints() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.monitoredPoints
}

// SetFirmwareVersion records a completed firmware update.
func (d *DeviceState) SetFirmwareVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.firmwareVersion = version
}

// FirmwareVersion returns the currently reported firmware version.
func (d *DeviceState) FirmwareVersion() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firmwareVersion
}
