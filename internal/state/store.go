package state

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/internal/models"
)

// subscriberBuffer bounds how far a slow subscriber may lag before
// updates are dropped for it.
const subscriberBuffer = 16

// Store holds the session state read model. All writers funnel through
// it and every consumer reads immutable snapshots; nobody outside this
// package touches the struct directly.
type Store struct {
	logger zerolog.Logger

	mu          sync.RWMutex
	state       models.SessionState
	subscribers map[int]chan models.SessionState
	nextID      int
}

// NewStore creates a store holding the initial session state.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		logger:      logger,
		state:       models.InitialSessionState(),
		subscribers: make(map[int]chan models.SessionState),
	}
}

// Snapshot returns a copy of the current session state.
func (s *Store) Snapshot() models.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Reset returns the state to its initial value. Called on session stop
// and before a new session attaches.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = models.InitialSessionState()
	s.notifyLocked()
}

// SetConnectionStatus writes the adapter's link status through
// verbatim.
func (s *Store) SetConnectionStatus(status models.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.ConnectionStatus == status {
		return
	}
	s.state.ConnectionStatus = status
	s.notifyLocked()
}

// SetLastError records a failure message without touching the rest of
// the state.
func (s *Store) SetLastError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.LastError == message {
		return
	}
	s.state.LastError = message
	s.notifyLocked()
}

// RecordHeartbeat marks the broker healthy and retains the payload as
// the latest telemetry snapshot. The payload is treated as immutable
// from here on.
func (s *Store) RecordHeartbeat(payload *models.HeartbeatPayload, receivedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.BrokerHealth.Status = models.HealthHealthy
	s.state.BrokerHealth.LastHeartbeat = payload
	s.state.BrokerHealth.LastHeartbeatAt = receivedAt
	s.notifyLocked()
}

// RecordHeartbeatFailure marks the broker unhealthy after a heartbeat
// stream error. The last good telemetry snapshot is kept.
func (s *Store) RecordHeartbeatFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.BrokerHealth.Status = models.HealthUnhealthy
	s.state.LastError = err.Error()
	s.notifyLocked()
}

// SetHealthStatus is the watchdog's write path. Writing the status the
// state already holds is a no-op.
func (s *Store) SetHealthStatus(status models.HealthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.BrokerHealth.Status == status {
		return
	}
	s.state.BrokerHealth.Status = status
	s.notifyLocked()
}

// SetFirmwareStatus records the firmware gate verdict.
func (s *Store) SetFirmwareStatus(status models.FirmwareStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.FirmwareStatus == status {
		return
	}
	s.state.FirmwareStatus = status
	s.notifyLocked()
}

// Subscribe registers a new consumer of state updates. The returned
// channel receives a snapshot after every effective change, starting
// with the current state.
func (s *Store) Subscribe() (int, <-chan models.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	ch := make(chan models.SessionState, subscriberBuffer)
	ch <- s.state
	s.subscribers[id] = ch

	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.subscribers[id]
	if !ok {
		return
	}
	delete(s.subscribers, id)
	close(ch)
}

// notifyLocked fans the current state out to every subscriber without
// blocking a writer on a slow consumer.
func (s *Store) notifyLocked() {
	for id, ch := range s.subscribers {
		select {
		case ch <- s.state:
		default:
			s.logger.Warn().Int("subscriber", id).Msg("State update dropped for slow subscriber")
		}
	}
}
