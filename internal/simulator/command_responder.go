package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/internal/constants"
	"github.com/openbms/devicebus/internal/models"
	"github.com/openbms/devicebus/internal/transport"
	"github.com/openbms/devicebus/pkg/mqtt"
)

// CommandResponder listens for command requests addressed to the
// device, acts on them against the device state and publishes
// correlated responses.
type CommandResponder struct {
	Identity   models.SessionIdentity
	QOS        byte
	MqttClient mqtt.MQTTClient
	State      *DeviceState
	Logger     zerolog.Logger

	// Internal state management
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCommandResponder initializes a new CommandResponder.
func NewCommandResponder(identity models.SessionIdentity, qos byte, mqttClient mqtt.MQTTClient,
	state *DeviceState, logger zerolog.Logger) *CommandResponder {

	ctx, cancel := context.WithCancel(context.Background())

	return &CommandResponder{
		Identity:   identity,
		QOS:        qos,
		MqttClient: mqttClient,
		State:      state,
		Logger:     logger,
		stopChan:   make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the device's command request topic.
func (r *CommandResponder) Start() error {
	topic := transport.CommandRequestTopic(r.Identity)
	r.Logger.Info().Str("topic", topic).Msg("Starting CommandResponder and subscribing to MQTT topic")

	token := r.MqttClient.Subscribe(topic, r.QOS, r.HandleCommand)
	token.Wait()
	if err := token.Error(); err != nil {
		r.Logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		return err
	}

	r.Logger.Info().Str("topic", topic).Msg("Successfully subscribed to MQTT topic")
	return nil
}

// Stop gracefully shuts the responder down, waiting for in-flight
// commands to finish before unsubscribing.
func (r *CommandResponder) Stop() error {
	r.cancel()
	close(r.stopChan)
	r.wg.Wait()

	topic := transport.CommandRequestTopic(r.Identity)
	token := r.MqttClient.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		r.Logger.Error().Err(err).Str("topic", topic).Msg("Failed to unsubscribe from MQTT topic")
		return err
	}

	r.Logger.Info().Msg("CommandResponder stopped successfully")
	return nil
}

// HandleCommand processes one incoming command request and publishes
// its response.
func (r *CommandResponder) HandleCommand(client MQTT.Client, msg MQTT.Message) {
	r.mu.Lock()

	select {
	case <-r.stopChan:
		r.mu.Unlock()
		r.Logger.Warn().Msg("Received command but responder is stopping, ignoring command")
		return
	default:
		r.wg.Add(1)
		r.mu.Unlock()
	}

	defer r.wg.Done()

	var request models.CommandRequest
	if err := json.Unmarshal(msg.Payload(), &request); err != nil {
		r.Logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Discarding undecodable command request")
		return
	}

	r.Logger.Info().
		Str("command", request.Command).
		Str("correlation_id", request.CorrelationID).
		Msg("Received command request")

	response := models.CommandResponse{CorrelationID: request.CorrelationID}

	result, err := r.executeCommand(request)
	if err != nil {
		response.Status = constants.CommandStatusFailed
		response.Error = err.Error()
	} else {
		response.Status = constants.CommandStatusSuccess
		response.Payload = result
	}

	if err := r.publishResponse(r.ctx, response); err != nil {
		r.Logger.Error().Err(err).Msg("Failed to publish command response")
	}
}

// executeCommand applies one command to the device state and returns
// the result payload.
func (r *CommandResponder) executeCommand(request models.CommandRequest) (json.RawMessage, error) {
	switch request.Command {
	case constants.CommandReboot:
		r.State.Reboot()
		return json.Marshal(map[string]string{"message": "reboot scheduled"})

	case constants.CommandRestartMonitoring:
		r.State.RestartMonitoring()
		return json.Marshal(map[string]string{"monitoring_status": "running"})

	case constants.CommandRefreshPoints:
		points := r.State.RefreshPoints()
		return json.Marshal(map[string]int{"monitored_points": points})

	case constants.CommandSetLogLevel:
		var params struct {
			Level string `json:"level"`
		}
		if err := json.Unmarshal(request.Payload, &params); err != nil {
			return nil, fmt.Errorf("invalid set_log_level payload: %w", err)
		}

		level, err := zerolog.ParseLevel(params.Level)
		if err != nil || params.Level == "" {
			return nil, fmt.Errorf("unknown log level %q", params.Level)
		}

		zerolog.SetGlobalLevel(level)
		return json.Marshal(map[string]string{"level": level.String()})

	case constants.CommandUpdateFirmware:
		var params struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(request.Payload, &params); err != nil {
			return nil, fmt.Errorf("invalid update_firmware payload: %w", err)
		}

		if _, err := semver.NewVersion(params.Version); err != nil {
			return nil, fmt.Errorf("invalid firmware version %q: %w", params.Version, err)
		}

		r.State.SetFirmwareVersion(params.Version)
		return json.Marshal(map[string]string{"firmware_version": params.Version})

	default:
		return nil, fmt.Errorf("unsupported command %q", request.Command)
	}
}

// publishResponse sends one response to the device's response topic.
func (r *CommandResponder) publishResponse(ctx context.Context, response models.CommandResponse) error {
	body, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode command response: %w", err)
	}

	topic := transport.CommandResponseTopic(r.Identity)
	token := r.MqttClient.Publish(topic, r.QOS, false, body)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return err
		}
	case <-ctx.Done():
		r.Logger.Warn().Str("topic", topic).Msg("Publish operation cancelled")
		return ctx.Err()
	}

	r.Logger.Debug().
		Str("correlation_id", response.CorrelationID).
		Str("status", response.Status).
		Msg("Command response published")
	return nil
}
