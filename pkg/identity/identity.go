package identity

import (
	"fmt"

	"github.com/openbms/devicebus/pkg/file"
)

// Identity holds the organization, site and device identifiers a
// device presents on every message it publishes.
type Identity struct {
	OrganizationID string `json:"organization_id"`
	SiteID         string `json:"site_id"`
	IoTDeviceID    string `json:"iot_device_id"`
}

// DeviceInfoInterface defines methods for loading device identity.
type DeviceInfoInterface interface {
	LoadDeviceInfo() error
	GetDeviceIdentity() Identity
}

// DeviceInfo manages the device identity and its associated file operations.
type DeviceInfo struct {
	DeviceInfoFile string
	Identity       Identity
	fileOps        file.FileOperations
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(filePath string, fileOps file.FileOperations) DeviceInfoInterface {
	return &DeviceInfo{
		DeviceInfoFile: filePath,
		fileOps:        fileOps,
		Identity:       Identity{},
	}
}

// LoadDeviceInfo reads the device information from the file and
// populates the Identity field. Unlike config, the identity file is
// mandatory and must be complete.
func (d *DeviceInfo) LoadDeviceInfo() error {
	if err := d.fileOps.ReadJsonFile(d.DeviceInfoFile, &d.Identity); err != nil {
		return fmt.Errorf("failed to read device identity file %s: %w", d.DeviceInfoFile, err)
	}

	if d.Identity.OrganizationID == "" || d.Identity.SiteID == "" || d.Identity.IoTDeviceID == "" {
		return fmt.Errorf("device identity file %s is incomplete", d.DeviceInfoFile)
	}

	return nil
}

// GetDeviceIdentity returns the current device Identity.
func (d *DeviceInfo) GetDeviceIdentity() Identity {
	return d.Identity
}
