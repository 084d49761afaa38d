package utils

import (
	"errors"
	"time"

	"github.com/openbms/devicebus/pkg/file"
)

// BridgeConfig represents the structure of the bridge configuration file.
type BridgeConfig struct {
	MQTT struct {
		Broker         string   `yaml:"broker"`           // MQTT broker address
		ClientIDPrefix string   `yaml:"client_id_prefix"` // Prefix for per-session client IDs
		Username       string   `yaml:"username"`         // Broker username (optional)
		Password       string   `yaml:"password"`         // Broker password (optional)
		CACertificate  string   `yaml:"ca_certificate"`   // Path to the CA certificate (optional)
		QOS            int      `yaml:"qos"`              // MQTT QoS level for bus messages
		ConnectTimeout Duration `yaml:"connect_timeout"`  // Timeout for the initial broker connection
		RequestTimeout Duration `yaml:"request_timeout"`  // Default timeout for command round trips
	} `yaml:"mqtt"`

	Session struct {
		MinFirmwareVersion string `yaml:"min_firmware_version"` // Minimum acceptable device firmware (optional)
	} `yaml:"session"`

	Server struct {
		ListenAddress string `yaml:"listen_address"`  // Address for the WebSocket and HTTP endpoints
		JWTSecretFile string `yaml:"jwt_secret_file"` // Path to the editor JWT secret
	} `yaml:"server"`

	History struct {
		Enabled bool   `yaml:"enabled"` // Enable/disable heartbeat history persistence
		DSN     string `yaml:"dsn"`     // Postgres connection string
	} `yaml:"history"`

	Redis struct {
		Enabled  bool     `yaml:"enabled"`  // Enable/disable the session state mirror
		Addr     string   `yaml:"addr"`     // Redis address
		Password string   `yaml:"password"` // Redis password (optional)
		DB       int      `yaml:"db"`       // Redis database number
		TTL      Duration `yaml:"ttl"`      // Mirror key expiry
	} `yaml:"redis"`

	Log struct {
		Level string `yaml:"level"` // Log level: debug, info, warn, error
	} `yaml:"log"`
}

// SimulatorConfig represents the structure of the simulator configuration file.
type SimulatorConfig struct {
	MQTT struct {
		Broker         string   `yaml:"broker"`          // MQTT broker address
		ClientID       string   `yaml:"client_id"`       // MQTT client ID
		Username       string   `yaml:"username"`        // Broker username (optional)
		Password       string   `yaml:"password"`        // Broker password (optional)
		CACertificate  string   `yaml:"ca_certificate"`  // Path to the CA certificate (optional)
		QOS            int      `yaml:"qos"`             // MQTT QoS level
		ConnectTimeout Duration `yaml:"connect_timeout"` // Timeout for the broker connection
	} `yaml:"mqtt"`

	Identity struct {
		DeviceFile string `yaml:"device_file"` // Path to the device identity file
	} `yaml:"identity"`

	Heartbeat struct {
		Interval       Duration `yaml:"interval"`        // Interval between heartbeats
		CollectTimeout Duration `yaml:"collect_timeout"` // Timeout for sampling host vitals
	} `yaml:"heartbeat"`

	Device struct {
		FirmwareVersion  string `yaml:"firmware_version"`  // Version reported in heartbeats
		ConnectedDevices int    `yaml:"connected_devices"` // Simulated BACnet device count
		MonitoredPoints  int    `yaml:"monitored_points"`  // Simulated monitored point count
	} `yaml:"device"`

	Log struct {
		Level string `yaml:"level"` // Log level: debug, info, warn, error
	} `yaml:"log"`
}

// LoadBridgeConfig loads the YAML configuration from the specified file
// and fills in defaults for everything optional.
func LoadBridgeConfig(filename string, fileClient file.FileOperations) (*BridgeConfig, error) {
	var config BridgeConfig
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	if config.MQTT.Broker == "" {
		return nil, errors.New("mqtt.broker is required")
	}
	if config.Server.ListenAddress == "" {
		return nil, errors.New("server.listen_address is required")
	}
	if config.Server.JWTSecretFile == "" {
		return nil, errors.New("server.jwt_secret_file is required")
	}
	if config.History.Enabled && config.History.DSN == "" {
		return nil, errors.New("history.dsn is required when history is enabled")
	}
	if config.Redis.Enabled && config.Redis.Addr == "" {
		return nil, errors.New("redis.addr is required when redis is enabled")
	}

	if config.MQTT.ClientIDPrefix == "" {
		config.MQTT.ClientIDPrefix = "bms-bridge"
	}
	if config.MQTT.ConnectTimeout == 0 {
		config.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if config.Redis.TTL == 0 {
		config.Redis.TTL = Duration(5 * time.Minute)
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}

	return &config, nil
}

// LoadSimulatorConfig loads the YAML configuration from the specified
// file and fills in defaults for everything optional.
func LoadSimulatorConfig(filename string, fileClient file.FileOperations) (*SimulatorConfig, error) {
	var config SimulatorConfig
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	if config.MQTT.Broker == "" {
		return nil, errors.New("mqtt.broker is required")
	}
	if config.Identity.DeviceFile == "" {
		return nil, errors.New("identity.device_file is required")
	}

	if config.MQTT.ClientID == "" {
		config.MQTT.ClientID = "bms-simulator"
	}
	if config.MQTT.ConnectTimeout == 0 {
		config.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if config.Heartbeat.Interval == 0 {
		config.Heartbeat.Interval = Duration(30 * time.Second)
	}
	if config.Heartbeat.CollectTimeout == 0 {
		config.Heartbeat.CollectTimeout = Duration(5 * time.Second)
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}

	return &config, nil
}
