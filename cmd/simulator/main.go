package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/internal/models"
	"github.com/openbms/devicebus/internal/registry"
	"github.com/openbms/devicebus/internal/simulator"
	"github.com/openbms/devicebus/internal/utils"
	"github.com/openbms/devicebus/pkg/file"
	"github.com/openbms/devicebus/pkg/identity"
	"github.com/openbms/devicebus/pkg/mqtt"
)

func main() {
	// Set up structured logging with JSON output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	configPath := flag.String("config", "configs/simulator.yaml", "path to the simulator configuration file")
	flag.Parse()

	// Load configuration from file
	fileClient := file.NewFileService()
	config, err := utils.LoadSimulatorConfig(*configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(config.Log.Level)
	if err != nil {
		logger.Fatal().Err(err).Str("level", config.Log.Level).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	// Initialize DeviceInfo
	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceFile, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load device information")
	}

	deviceIdentity := deviceInfo.GetDeviceIdentity()
	sessionIdentity := models.SessionIdentity{
		OrganizationID: deviceIdentity.OrganizationID,
		SiteID:         deviceIdentity.SiteID,
		IoTDeviceID:    deviceIdentity.IoTDeviceID,
	}

	// Initialize the shared MQTT connection with a unique client ID
	mqttClient := mqtt.NewMqttService(fileClient, logger)
	err = mqttClient.Initialize(mqtt.Config{
		Broker:         config.MQTT.Broker,
		ClientID:       config.MQTT.ClientID + "-" + uuid.New().String(),
		Username:       config.MQTT.Username,
		Password:       config.MQTT.Password,
		CACertFile:     config.MQTT.CACertificate,
		ConnectTimeout: config.MQTT.ConnectTimeout.Std(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}

	deviceState := simulator.NewDeviceState(config.Device.FirmwareVersion,
		config.Device.ConnectedDevices, config.Device.MonitoredPoints)

	publisher := simulator.NewHeartbeatPublisher(sessionIdentity,
		config.Heartbeat.Interval.Std(), config.Heartbeat.CollectTimeout.Std(),
		byte(config.MQTT.QOS), mqttClient, deviceState, logger)

	responder := simulator.NewCommandResponder(sessionIdentity,
		byte(config.MQTT.QOS), mqttClient, deviceState, logger)

	// The responder must be listening before the first heartbeat goes
	// out, so the bridge never sees a device that beats but ignores
	// commands.
	serviceRegistry := registry.NewRegistry(logger)
	serviceRegistry.RegisterService("command-responder", responder)
	serviceRegistry.RegisterService("heartbeat", publisher)

	if err := serviceRegistry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}

	logger.Info().
		Str("organization", sessionIdentity.OrganizationID).
		Str("site", sessionIdentity.SiteID).
		Str("device", sessionIdentity.IoTDeviceID).
		Msg("Simulator running")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		logger.Warn().Err(err).Msg("Services did not stop cleanly")
	}
	mqttClient.Disconnect(250)
}
