package constants

import "time"

const (
	// HeartbeatStaleAfter is how long the bus tolerates heartbeat
	// silence before it marks the broker link unhealthy. Devices
	// publish roughly every 30 seconds, so one missed beat is fine
	// and two are not.
	HeartbeatStaleAfter = 60 * time.Second

	// HealthCheckInterval is the watchdog re-evaluation period.
	// Detection latency for a silent device is bounded by
	// HeartbeatStaleAfter plus one interval.
	HealthCheckInterval = 5 * time.Second
)
