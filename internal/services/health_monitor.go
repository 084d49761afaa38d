package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/internal/models"
	"github.com/openbms/devicebus/internal/state"
)

// HealthMonitor is the watchdog that re-evaluates broker health from
// the age of the last heartbeat. Heartbeat arrival events alone cannot
// detect silence, so the monitor ticks on a fixed interval for the
// lifetime of its session.
type HealthMonitor struct {
	Store      *state.Store
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     zerolog.Logger
}

// NewHealthMonitor initializes a new HealthMonitor.
func NewHealthMonitor(store *state.Store, interval, staleAfter time.Duration, logger zerolog.Logger) *HealthMonitor {
	return &HealthMonitor{
		Store:      store,
		Interval:   interval,
		StaleAfter: staleAfter,
		Logger:     logger,
	}
}

// Run ticks until ctx is cancelled. The session controller owns both
// the goroutine and the context, so exactly one monitor runs per
// session.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evaluate(time.Now())
		case <-ctx.Done():
			m.Logger.Debug().Msg("Health watchdog stopping")
			return
		}
	}
}

// evaluate recomputes health from fresh time. The heartbeat listener
// races with this writer; both derive the status from current time, so
// whichever lands last still writes a correct value.
func (m *HealthMonitor) evaluate(now time.Time) {
	snapshot := m.Store.Snapshot()

	// No heartbeat yet this session: health stays unknown.
	lastAt := snapshot.BrokerHealth.LastHeartbeatAt
	if lastAt.IsZero() {
		return
	}

	silentFor := now.Sub(lastAt)
	if silentFor > m.StaleAfter {
		if snapshot.BrokerHealth.Status != models.HealthUnhealthy {
			m.Logger.Warn().
				Dur("silent_for", silentFor).
				Msg("Device went silent, marking broker unhealthy")
			m.Store.SetHealthStatus(models.HealthUnhealthy)
		}
		return
	}

	if snapshot.BrokerHealth.Status != models.HealthHealthy {
		m.Store.SetHealthStatus(models.HealthHealthy)
	}
}
