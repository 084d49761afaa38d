package transport

import (
	"fmt"

	"github.com/openbms/devicebus/internal/models"
)

// topicRoot is the leading segment of every bus topic.
const topicRoot = "bms"

// HeartbeatTopic is where a device publishes its telemetry snapshots.
func HeartbeatTopic(identity models.SessionIdentity) string {
	return fmt.Sprintf("%s/%s/%s/devices/%s/heartbeat",
		topicRoot, identity.OrganizationID, identity.SiteID, identity.IoTDeviceID)
}

// CommandRequestTopic is where the bus publishes command requests for
// a device.
func CommandRequestTopic(identity models.SessionIdentity) string {
	return fmt.Sprintf("%s/%s/%s/devices/%s/commands/request",
		topicRoot, identity.OrganizationID, identity.SiteID, identity.IoTDeviceID)
}

// CommandResponseTopic is where a device publishes command outcomes.
func CommandResponseTopic(identity models.SessionIdentity) string {
	return fmt.Sprintf("%s/%s/%s/devices/%s/commands/response",
		topicRoot, identity.OrganizationID, identity.SiteID, identity.IoTDeviceID)
}
