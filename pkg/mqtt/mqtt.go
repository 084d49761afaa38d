package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/pkg/file"
)

// MQTTClient defines the interface for an MQTT client.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Config carries everything needed to build a broker connection.
// CACertFile is optional; when empty the connection is plain TCP.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	CACertFile     string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration

	// Connection lifecycle hooks, all optional. They run on paho's
	// internal goroutines and must not block.
	OnConnect        func()
	OnConnectionLost func(error)
	OnReconnecting   func()
}

// MqttService provides methods for MQTT operations.
type MqttService struct {
	client     MQTTClient
	fileClient file.FileOperations
	logger     zerolog.Logger
}

// NewMqttService creates a new MqttService instance.
func NewMqttService(fileClient file.FileOperations, logger zerolog.Logger) *MqttService {
	return &MqttService{
		fileClient: fileClient,
		logger:     logger,
	}
}

// Initialize builds the MQTT client from cfg and connects to the
// broker, blocking until the connection attempt resolves.
func (s *MqttService) Initialize(cfg Config) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}

	if cfg.CACertFile != "" {
		tlsConfig, err := s.buildTLSConfig(cfg.CACertFile)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	if cfg.OnConnect != nil {
		onConnect := cfg.OnConnect
		opts.SetOnConnectHandler(func(mqtt.Client) {
			onConnect()
		})
	}
	if cfg.OnConnectionLost != nil {
		onLost := cfg.OnConnectionLost
		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			onLost(err)
		})
	}
	if cfg.OnReconnecting != nil {
		onReconnecting := cfg.OnReconnecting
		opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			onReconnecting()
		})
	}

	s.client = mqtt.NewClient(opts)

	s.logger.Debug().
		Str("broker", cfg.Broker).
		Str("client_id", cfg.ClientID).
		Msg("Connecting to MQTT broker")

	token := s.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}

	return nil
}

// buildTLSConfig loads the CA certificate and returns a TLS config
// that verifies the broker against it.
func (s *MqttService) buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := s.fileClient.ReadFileRaw(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate")
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Connect connects to the MQTT broker.
func (s *MqttService) Connect() mqtt.Token {
	return s.client.Connect()
}

// Publish sends a message to the specified topic.
func (s *MqttService) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return s.client.Publish(topic, qos, retained, payload)
}

// Subscribe subscribes to the specified topic with a message handler.
func (s *MqttService) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return s.client.Subscribe(topic, qos, callback)
}

// Unsubscribe unsubscribes from the specified topics.
func (s *MqttService) Unsubscribe(topics ...string) mqtt.Token {
	return s.client.Unsubscribe(topics...)
}

// Disconnect gracefully disconnects the MQTT client.
func (s *MqttService) Disconnect(quiesce uint) {
	s.client.Disconnect(quiesce)
}

// IsConnected reports whether the underlying client currently holds a
// broker connection.
func (s *MqttService) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}
