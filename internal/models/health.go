package models

import "time"

// HealthStatus is the watchdog's verdict on the broker link.
type HealthStatus string

const (
	// HealthUnknown means no heartbeat has been observed yet in the
	// current session.
	HealthUnknown HealthStatus = "unknown"
	// HealthHealthy means a heartbeat arrived within the staleness
	// window.
	HealthHealthy HealthStatus = "healthy"
	// HealthUnhealthy means the device has been silent for longer
	// than the staleness window, or the heartbeat stream failed.
	HealthUnhealthy HealthStatus = "unhealthy"
)

// BrokerHealth is liveness derived from heartbeat timing. It is kept
// separate from raw connection status: a TCP session to the broker can
// be up while the device behind it has gone quiet.
type BrokerHealth struct {
	Status          HealthStatus      `json:"status"`
	LastHeartbeat   *HeartbeatPayload `json:"last_heartbeat,omitempty"`
	LastHeartbeatAt time.Time         `json:"last_heartbeat_at"`
}
