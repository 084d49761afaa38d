package models

import "errors"

// SessionIdentity pins a session to a single IoT device acting on
// behalf of an organization and site. It is fixed for the lifetime of
// the session and echoed on every message the device publishes.
type SessionIdentity struct {
	OrganizationID string `json:"organization_id" yaml:"organization_id"`
	SiteID         string `json:"site_id" yaml:"site_id"`
	IoTDeviceID    string `json:"iot_device_id" yaml:"iot_device_id"`
}

// Validate reports whether the identity is complete enough to scope a
// session. All three fields are required.
func (s SessionIdentity) Validate() error {
	if s.OrganizationID == "" {
		return errors.New("organization id is required")
	}
	if s.SiteID == "" {
		return errors.New("site id is required")
	}
	if s.IoTDeviceID == "" {
		return errors.New("iot device id is required")
	}
	return nil
}
