package utils_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbms/devicebus/internal/utils"
	"github.com/openbms/devicebus/pkg/file"
)

// writeConfig writes content to a temporary YAML file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoadBridgeConfig_AppliesDefaults tests that optional settings get
// their defaults when the file only carries the required fields.
func TestLoadBridgeConfig_AppliesDefaults(t *testing.T) {
	// Setup
	path := writeConfig(t, `
mqtt:
  broker: tcp://localhost:1883
server:
  listen_address: ":8080"
  jwt_secret_file: /etc/bms/jwt_secret
`)

	// Execute
	config, err := utils.LoadBridgeConfig(path, file.NewFileService())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "bms-bridge", config.MQTT.ClientIDPrefix)
	assert.Equal(t, 10*time.Second, config.MQTT.ConnectTimeout.Std())
	assert.Equal(t, time.Duration(0), config.MQTT.RequestTimeout.Std())
	assert.Equal(t, 5*time.Minute, config.Redis.TTL.Std())
	assert.Equal(t, "info", config.Log.Level)
}

// TestLoadBridgeConfig_ParsesDurations tests that timeouts accept both
// duration strings and bare seconds.
func TestLoadBridgeConfig_ParsesDurations(t *testing.T) {
	// Setup
	path := writeConfig(t, `
mqtt:
  broker: tcp://localhost:1883
  connect_timeout: 45s
  request_timeout: 250ms
server:
  listen_address: ":8080"
  jwt_secret_file: /etc/bms/jwt_secret
redis:
  enabled: true
  addr: localhost:6379
  ttl: 120
`)

	// Execute
	config, err := utils.LoadBridgeConfig(path, file.NewFileService())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, config.MQTT.ConnectTimeout.Std())
	assert.Equal(t, 250*time.Millisecond, config.MQTT.RequestTimeout.Std())
	assert.Equal(t, 120*time.Second, config.Redis.TTL.Std())
}

// TestLoadBridgeConfig_RequiredFields tests each missing-field error.
func TestLoadBridgeConfig_RequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing broker",
			content: `
server:
  listen_address: ":8080"
  jwt_secret_file: /etc/bms/jwt_secret
`,
			wantErr: "mqtt.broker is required",
		},
		{
			name: "missing listen address",
			content: `
mqtt:
  broker: tcp://localhost:1883
server:
  jwt_secret_file: /etc/bms/jwt_secret
`,
			wantErr: "server.listen_address is required",
		},
		{
			name: "missing jwt secret file",
			content: `
mqtt:
  broker: tcp://localhost:1883
server:
  listen_address: ":8080"
`,
			wantErr: "server.jwt_secret_file is required",
		},
		{
			name: "history enabled without dsn",
			content: `
mqtt:
  broker: tcp://localhost:1883
server:
  listen_address: ":8080"
  jwt_secret_file: /etc/bms/jwt_secret
history:
  enabled: true
`,
			wantErr: "history.dsn is required when history is enabled",
		},
		{
			name: "redis enabled without addr",
			content: `
mqtt:
  broker: tcp://localhost:1883
server:
  listen_address: ":8080"
  jwt_secret_file: /etc/bms/jwt_secret
redis:
  enabled: true
`,
			wantErr: "redis.addr is required when redis is enabled",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Setup
			path := writeConfig(t, tc.content)

			// Execute
			config, err := utils.LoadBridgeConfig(path, file.NewFileService())

			// Assert
			assert.Nil(t, config)
			assert.Error(t, err)
			assert.Equal(t, tc.wantErr, err.Error())
		})
	}
}

// TestLoadBridgeConfig_MissingFile tests the passthrough of read errors.
func TestLoadBridgeConfig_MissingFile(t *testing.T) {
	// Execute
	config, err := utils.LoadBridgeConfig(filepath.Join(t.TempDir(), "absent.yaml"), file.NewFileService())

	// Assert
	assert.Nil(t, config)
	assert.Error(t, err)
}

// TestLoadSimulatorConfig_AppliesDefaults tests the simulator defaults.
func TestLoadSimulatorConfig_AppliesDefaults(t *testing.T) {
	// Setup
	path := writeConfig(t, `
mqtt:
  broker: tcp://localhost:1883
identity:
  device_file: /etc/bms/device.json
`)

	// Execute
	config, err := utils.LoadSimulatorConfig(path, file.NewFileService())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "bms-simulator", config.MQTT.ClientID)
	assert.Equal(t, 10*time.Second, config.MQTT.ConnectTimeout.Std())
	assert.Equal(t, 30*time.Second, config.Heartbeat.Interval.Std())
	assert.Equal(t, 5*time.Second, config.Heartbeat.CollectTimeout.Std())
	assert.Equal(t, "info", config.Log.Level)
}

// TestLoadSimulatorConfig_RequiredFields tests each missing-field error.
func TestLoadSimulatorConfig_RequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing broker",
			content: `
identity:
  device_file: /etc/bms/device.json
`,
			wantErr: "mqtt.broker is required",
		},
		{
			name: "missing device file",
			content: `
mqtt:
  broker: tcp://localhost:1883
`,
			wantErr: "identity.device_file is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Setup
			path := writeConfig(t, tc.content)

			// Execute
			config, err := utils.LoadSimulatorConfig(path, file.NewFileService())

			// Assert
			assert.Nil(t, config)
			assert.Error(t, err)
			assert.Equal(t, tc.wantErr, err.Error())
		})
	}
}
