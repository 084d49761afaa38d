package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openbms/devicebus/internal/models"
)

// Bus metrics, exported on the bridge's /metrics endpoint.
var (
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devicebus_sessions_started_total",
			Help: "Total number of sessions started.",
		},
	)
	HeartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devicebus_heartbeats_received_total",
			Help: "Total number of heartbeats received from devices.",
		},
	)
	HeartbeatFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devicebus_heartbeat_failures_total",
			Help: "Total number of heartbeat stream failures.",
		},
	)
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devicebus_commands_total",
			Help: "Total number of command requests by outcome.",
		},
		[]string{"command", "outcome"},
	)
	HealthTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devicebus_health_transitions_total",
			Help: "Total number of broker health transitions.",
		},
		[]string{"to"},
	)
	BrokerHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devicebus_broker_healthy",
			Help: "Whether the broker link is currently healthy (1) or not (0).",
		},
	)
	BrokerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devicebus_broker_connected",
			Help: "Whether the broker connection is currently up (1) or not (0).",
		},
	)
	EditorClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devicebus_editor_clients",
			Help: "Number of editor clients currently connected over WebSocket.",
		},
	)
)

func init() {
	prometheus.MustRegister(SessionsStarted)
	prometheus.MustRegister(HeartbeatsReceived)
	prometheus.MustRegister(HeartbeatFailures)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(HealthTransitions)
	prometheus.MustRegister(BrokerHealthy)
	prometheus.MustRegister(BrokerConnected)
	prometheus.MustRegister(EditorClients)
}

// WatchState keeps the gauges and transition counters in step with a
// stream of session state snapshots. Run it as its own goroutine with
// a store subscription.
func WatchState(ctx context.Context, states <-chan models.SessionState) {
	var previous models.HealthStatus

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}

			if st.ConnectionStatus == models.ConnectionConnected {
				BrokerConnected.Set(1)
			} else {
				BrokerConnected.Set(0)
			}

			if st.BrokerHealth.Status == models.HealthHealthy {
				BrokerHealthy.Set(1)
			} else {
				BrokerHealthy.Set(0)
			}

			if st.BrokerHealth.Status != previous {
				HealthTransitions.WithLabelValues(string(st.BrokerHealth.Status)).Inc()
				previous = st.BrokerHealth.Status
			}
		}
	}
}
