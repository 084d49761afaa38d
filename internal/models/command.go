package models

import "encoding/json"

// CommandRequest is the wire envelope published to a device's command
// request topic. CorrelationID ties the eventual response back to the
// waiting caller.
type CommandRequest struct {
	Command        string          `json:"command"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CorrelationID  string          `json:"correlation_id"`
	OrganizationID string          `json:"organization_id"`
	SiteID         string          `json:"site_id"`
	IoTDeviceID    string          `json:"iot_device_id"`
	Timestamp      int64           `json:"timestamp"`
}

// CommandResponse is the wire envelope a device publishes on its
// command response topic after executing a request.
type CommandResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Status        string          `json:"status"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
}
