package models

// HeartbeatPayload is the telemetry snapshot a device publishes at its
// own cadence. Arrival of the payload is the liveness signal; every
// metric inside it is optional and nil simply means the device did not
// report it.
type HeartbeatPayload struct {
	OrganizationID   string   `json:"organization_id"`
	SiteID           string   `json:"site_id"`
	IoTDeviceID      string   `json:"iot_device_id"`
	Timestamp        int64    `json:"timestamp"`
	CPUUsage         *float64 `json:"cpu_usage,omitempty"`
	MemoryUsage      *float64 `json:"memory_usage,omitempty"`
	DiskUsage        *float64 `json:"disk_usage,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	UptimeSeconds    *uint64  `json:"uptime_seconds,omitempty"`
	LoadAverage      *float64 `json:"load_average,omitempty"`
	MonitoringStatus string   `json:"monitoring_status,omitempty"`
	BacnetStatus     string   `json:"bacnet_status,omitempty"`
	ConnectedDevices *int     `json:"connected_devices,omitempty"`
	MonitoredPoints  *int     `json:"monitored_points,omitempty"`
	FirmwareVersion  string   `json:"firmware_version,omitempty"`
}
