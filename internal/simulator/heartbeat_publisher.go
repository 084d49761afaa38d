package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/internal/models"
	"github.com/openbms/devicebus/internal/transport"
	"github.com/openbms/devicebus/internal/utils"
	"github.com/openbms/devicebus/pkg/mqtt"
)

// HeartbeatPublisher publishes periodic telemetry snapshots for one
// simulated device. Host vitals are sampled concurrently through a
// worker pool on every beat.
type HeartbeatPublisher struct {
	Identity       models.SessionIdentity
	Interval       time.Duration
	CollectTimeout time.Duration
	QOS            byte
	MqttClient     mqtt.MQTTClient
	State          *DeviceState
	Logger         zerolog.Logger

	collectors []VitalCollector
	workerPool *utils.WorkerPool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeatPublisher initializes a new HeartbeatPublisher with the
// default vital collectors.
func NewHeartbeatPublisher(identity models.SessionIdentity, interval, collectTimeout time.Duration,
	qos byte, mqttClient mqtt.MQTTClient, state *DeviceState, logger zerolog.Logger) *HeartbeatPublisher {

	return &HeartbeatPublisher{
		Identity:       identity,
		Interval:       interval,
		CollectTimeout: collectTimeout,
		QOS:            qos,
		MqttClient:     mqttClient,
		State:          state,
		Logger:         logger,
		collectors: []VitalCollector{
			&CPUVital{Logger: logger},
			&MemoryVital{Logger: logger},
			&DiskVital{Logger: logger},
			&LoadVital{Logger: logger},
			&TemperatureVital{Logger: logger},
		},
		workerPool: utils.NewWorkerPool(4),
	}
}

// Start launches the heartbeat loop in a separate goroutine.
func (h *HeartbeatPublisher) Start() error {
	if h.ctx != nil {
		h.Logger.Warn().Msg("HeartbeatPublisher is already running")
		return errors.New("heartbeat publisher is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runHeartbeatLoop()
	}()

	h.Logger.Info().
		Str("topic", transport.HeartbeatTopic(h.Identity)).
		Dur("interval", h.Interval).
		Msg("HeartbeatPublisher started successfully")
	return nil
}

// Stop gracefully stops the heartbeat publisher.
func (h *HeartbeatPublisher) Stop() error {
	if h.ctx == nil {
		h.Logger.Warn().Msg("HeartbeatPublisher is not running")
		return errors.New("heartbeat publisher is not running")
	}

	h.cancel()
	h.wg.Wait()
	h.workerPool.Shutdown()

	h.ctx = nil
	h.cancel = nil

	h.Logger.Info().Msg("HeartbeatPublisher stopped successfully")
	return nil
}

// runHeartbeatLoop publishes once at boot and then on every tick.
func (h *HeartbeatPublisher) runHeartbeatLoop() {
	h.publishHeartbeat()

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.publishHeartbeat()
		case <-h.ctx.Done():
			h.Logger.Info().Msg("HeartbeatPublisher stopping gracefully")
			return
		}
	}
}

// publishHeartbeat samples, encodes and publishes one snapshot.
func (h *HeartbeatPublisher) publishHeartbeat() {
	payload := h.BuildPayload()

	body, err := json.Marshal(payload)
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to serialize heartbeat message")
		return
	}

	token := h.MqttClient.Publish(transport.HeartbeatTopic(h.Identity), h.QOS, false, body)
	token.Wait()

	if err := token.Error(); err != nil {
		h.Logger.Error().Err(err).Msg("Failed to publish heartbeat message")
	} else {
		h.Logger.Debug().Msg("Heartbeat published successfully")
	}
}

// BuildPayload assembles a full heartbeat: identity echo, device state
// and freshly sampled host vitals.
func (h *HeartbeatPublisher) BuildPayload() *models.HeartbeatPayload {
	payload := &models.HeartbeatPayload{
		OrganizationID: h.Identity.OrganizationID,
		SiteID:         h.Identity.SiteID,
		IoTDeviceID:    h.Identity.IoTDeviceID,
		Timestamp:      time.Now().UnixMilli(),
	}

	h.State.Fill(payload)
	h.collectVitals(payload)
	return payload
}

// collectVitals fans the collectors out over the worker pool and
// merges their samples under a single lock.
func (h *HeartbeatPublisher) collectVitals(payload *models.HeartbeatPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), h.CollectTimeout)
	defer cancel()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, collector := range h.collectors {
		collector := collector
		wg.Add(1)
		submitted := h.workerPool.Submit(func() {
			defer wg.Done()

			apply := collector.Collect(ctx)
			if apply == nil {
				return
			}

			mu.Lock()
			apply(payload)
			mu.Unlock()
		})
		if !submitted {
			wg.Done()
		}
	}

	wg.Wait()
}
