package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/internal/constants"
	"github.com/openbms/devicebus/internal/models"
	"github.com/openbms/devicebus/pkg/file"
	"github.com/openbms/devicebus/pkg/mqtt"
)

var jsonFast = jsoniter.ConfigFastest

// ErrRequestAbandoned is returned to callers whose command was still
// in flight when the session stopped.
var ErrRequestAbandoned = errors.New("command request abandoned: session stopped")

// disconnectQuiesceMs is how long paho may spend flushing outbound
// messages on disconnect.
const disconnectQuiesceMs = 250

// ClientFactory builds a connected MQTT client for one session.
// Injected so tests can substitute a mock client.
type ClientFactory func(cfg mqtt.Config) (mqtt.MQTTClient, error)

// DefaultClientFactory returns a factory producing real paho-backed
// clients via MqttService.
func DefaultClientFactory(fileClient file.FileOperations, logger zerolog.Logger) ClientFactory {
	return func(cfg mqtt.Config) (mqtt.MQTTClient, error) {
		service := mqtt.NewMqttService(fileClient, logger)
		if err := service.Initialize(cfg); err != nil {
			return nil, err
		}
		return service, nil
	}
}

// MQTTAdapterConfig carries the broker settings shared by every
// session the adapter opens.
type MQTTAdapterConfig struct {
	Broker         string
	ClientIDPrefix string
	Username       string
	Password       string
	CACertFile     string
	QOS            byte
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// MQTTAdapter implements Adapter over an MQTT broker. Each Start opens
// a fresh client with a fresh pair of event channels, so events from a
// stopped session can never bleed into the next one.
type MQTTAdapter struct {
	config  MQTTAdapterConfig
	factory ClientFactory
	logger  zerolog.Logger

	// pending maps correlation IDs to the channel their waiting
	// Request call is blocked on.
	pending cmap.ConcurrentMap[string, chan models.CommandResponse]

	mu          sync.Mutex
	client      mqtt.MQTTClient
	identity    models.SessionIdentity
	statusCh    chan models.ConnectionStatus
	heartbeatCh chan HeartbeatEvent
	started     bool
}

// NewMQTTAdapter creates a new MQTTAdapter instance.
func NewMQTTAdapter(config MQTTAdapterConfig, factory ClientFactory, logger zerolog.Logger) *MQTTAdapter {
	return &MQTTAdapter{
		config:  config,
		factory: factory,
		logger:  logger,
		pending: cmap.New[chan models.CommandResponse](),
	}
}

// Start connects a new client scoped to identity and subscribes to its
// heartbeat and command response topics.
func (a *MQTTAdapter) Start(identity models.SessionIdentity) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.New("mqtt adapter is already started")
	}

	statusCh := make(chan models.ConnectionStatus, 8)
	heartbeatCh := make(chan HeartbeatEvent, 16)

	cfg := mqtt.Config{
		Broker:         a.config.Broker,
		ClientID:       fmt.Sprintf("%s-%s", a.config.ClientIDPrefix, uuid.NewString()),
		Username:       a.config.Username,
		Password:       a.config.Password,
		CACertFile:     a.config.CACertFile,
		ConnectTimeout: a.config.ConnectTimeout,
		OnConnect: func() {
			a.pushStatus(statusCh, models.ConnectionConnected)
		},
		OnConnectionLost: func(err error) {
			a.logger.Warn().Err(err).Msg("MQTT connection lost")
			a.pushStatus(statusCh, models.ConnectionError)
		},
		OnReconnecting: func() {
			a.pushStatus(statusCh, models.ConnectionConnecting)
		},
	}

	a.pushStatus(statusCh, models.ConnectionConnecting)

	client, err := a.factory(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	token := client.Subscribe(HeartbeatTopic(identity), a.config.QOS, a.heartbeatHandler(heartbeatCh))
	if token.Wait() && token.Error() != nil {
		client.Disconnect(disconnectQuiesceMs)
		return fmt.Errorf("failed to subscribe to heartbeat topic: %w", token.Error())
	}

	token = client.Subscribe(CommandResponseTopic(identity), a.config.QOS, a.handleCommandResponse)
	if token.Wait() && token.Error() != nil {
		client.Disconnect(disconnectQuiesceMs)
		return fmt.Errorf("failed to subscribe to command response topic: %w", token.Error())
	}

	a.client = client
	a.identity = identity
	a.statusCh = statusCh
	a.heartbeatCh = heartbeatCh
	a.started = true

	a.logger.Info().
		Str("device", identity.IoTDeviceID).
		Str("heartbeat_topic", HeartbeatTopic(identity)).
		Msg("MQTT adapter started")
	return nil
}

// Stop unsubscribes, abandons in-flight requests and disconnects the
// session's client.
func (a *MQTTAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return errors.New("mqtt adapter is not started")
	}

	token := a.client.Unsubscribe(HeartbeatTopic(a.identity), CommandResponseTopic(a.identity))
	if token.Wait() && token.Error() != nil {
		a.logger.Warn().Err(token.Error()).Msg("Failed to unsubscribe cleanly, disconnecting anyway")
	}

	for _, id := range a.pending.Keys() {
		if ch, ok := a.pending.Pop(id); ok {
			close(ch)
		}
	}

	a.client.Disconnect(disconnectQuiesceMs)
	a.pushStatus(a.statusCh, models.ConnectionDisconnected)

	a.client = nil
	a.identity = models.SessionIdentity{}
	a.statusCh = nil
	a.heartbeatCh = nil
	a.started = false

	a.logger.Info().Msg("MQTT adapter stopped")
	return nil
}

// ConnectionStatus returns the current session's status stream. Only
// valid between a successful Start and the matching Stop.
func (a *MQTTAdapter) ConnectionStatus() <-chan models.ConnectionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusCh
}

// Heartbeats returns the current session's heartbeat stream. Only
// valid between a successful Start and the matching Stop.
func (a *MQTTAdapter) Heartbeats() <-chan HeartbeatEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heartbeatCh
}

// Request publishes a correlated command request and waits for the
// device's response. When ctx carries no deadline the configured
// request timeout is applied.
func (a *MQTTAdapter) Request(ctx context.Context, command string, payload json.RawMessage) (json.RawMessage, error) {
	a.mu.Lock()
	client := a.client
	identity := a.identity
	started := a.started
	a.mu.Unlock()

	if !started {
		return nil, errors.New("mqtt adapter is not started")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := a.config.RequestTimeout
		if timeout <= 0 {
			timeout = constants.DefaultCommandTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	request := models.CommandRequest{
		Command:        command,
		Payload:        payload,
		CorrelationID:  uuid.NewString(),
		OrganizationID: identity.OrganizationID,
		SiteID:         identity.SiteID,
		IoTDeviceID:    identity.IoTDeviceID,
		Timestamp:      time.Now().UnixMilli(),
	}

	body, err := jsonFast.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command request: %w", err)
	}

	respCh := make(chan models.CommandResponse, 1)
	a.pending.Set(request.CorrelationID, respCh)
	defer a.pending.Remove(request.CorrelationID)

	token := client.Publish(CommandRequestTopic(identity), a.config.QOS, false, body)
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to publish command %s: %w", command, token.Error())
	}

	a.logger.Debug().
		Str("command", command).
		Str("correlation_id", request.CorrelationID).
		Msg("Command published, awaiting response")

	select {
	case response, ok := <-respCh:
		if !ok {
			return nil, ErrRequestAbandoned
		}
		if response.Status != constants.CommandStatusSuccess {
			if response.Error != "" {
				return nil, fmt.Errorf("device rejected command %s: %s", command, response.Error)
			}
			return nil, fmt.Errorf("device rejected command %s", command)
		}
		return response.Payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no response for command %s: %w", command, ctx.Err())
	}
}

// heartbeatHandler decodes heartbeat messages onto the given stream.
// The stream is captured per session so a handler from a dead session
// can never feed a live one.
func (a *MQTTAdapter) heartbeatHandler(events chan<- HeartbeatEvent) MQTT.MessageHandler {
	return func(_ MQTT.Client, msg MQTT.Message) {
		var payload models.HeartbeatPayload
		if err := jsonFast.Unmarshal(msg.Payload(), &payload); err != nil {
			a.pushHeartbeat(events, HeartbeatEvent{Err: fmt.Errorf("failed to decode heartbeat: %w", err)})
			return
		}
		a.pushHeartbeat(events, HeartbeatEvent{Payload: &payload})
	}
}

// handleCommandResponse routes a response to the Request call waiting
// on its correlation ID. Responses nobody is waiting for are dropped.
func (a *MQTTAdapter) handleCommandResponse(_ MQTT.Client, msg MQTT.Message) {
	var response models.CommandResponse
	if err := jsonFast.Unmarshal(msg.Payload(), &response); err != nil {
		a.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Discarding undecodable command response")
		return
	}

	ch, ok := a.pending.Pop(response.CorrelationID)
	if !ok {
		a.logger.Debug().
			Str("correlation_id", response.CorrelationID).
			Msg("Dropping command response with no waiting request")
		return
	}

	ch <- response
}

// pushStatus delivers a status event without ever blocking a paho
// callback goroutine.
func (a *MQTTAdapter) pushStatus(ch chan models.ConnectionStatus, status models.ConnectionStatus) {
	select {
	case ch <- status:
	default:
		a.logger.Warn().Str("status", string(status)).Msg("Connection status event dropped, stream full")
	}
}

// pushHeartbeat delivers a heartbeat event without ever blocking a
// paho callback goroutine.
func (a *MQTTAdapter) pushHeartbeat(ch chan<- HeartbeatEvent, event HeartbeatEvent) {
	select {
	case ch <- event:
	default:
		a.logger.Warn().Msg("Heartbeat event dropped, stream full")
	}
}
