package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/internal/metrics"
	"github.com/openbms/devicebus/internal/models"
	"github.com/openbms/devicebus/internal/state"
	"github.com/openbms/devicebus/internal/transport"
)

// HeartbeatObserver receives every accepted heartbeat after session
// state has been updated. Observers must not block; anything slow gets
// its own queue.
type HeartbeatObserver func(identity models.SessionIdentity, payload *models.HeartbeatPayload, receivedAt time.Time)

// SessionService owns the lifecycle of the single active session: it
// starts the transport adapter, attaches the stream listeners and the
// health watchdog, and tears all of it down again. At most one session
// exists at a time, and teardown of session n completes before session
// n+1 attaches anything.
type SessionService struct {
	Adapter             transport.Adapter
	Store               *state.Store
	HealthCheckInterval time.Duration
	HeartbeatStaleAfter time.Duration
	Logger              zerolog.Logger

	minFirmware        *semver.Version
	heartbeatObservers []HeartbeatObserver

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	identity models.SessionIdentity
	active   bool
}

// NewSessionService initializes a new SessionService. An empty
// minFirmwareVersion disables the firmware gate.
func NewSessionService(adapter transport.Adapter, store *state.Store, healthCheckInterval, heartbeatStaleAfter time.Duration,
	minFirmwareVersion string, logger zerolog.Logger) (*SessionService, error) {

	var minFirmware *semver.Version
	if minFirmwareVersion != "" {
		version, err := semver.NewVersion(minFirmwareVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid minimum firmware version %q: %w", minFirmwareVersion, err)
		}
		minFirmware = version
	}

	return &SessionService{
		Adapter:             adapter,
		Store:               store,
		HealthCheckInterval: healthCheckInterval,
		HeartbeatStaleAfter: heartbeatStaleAfter,
		Logger:              logger,
		minFirmware:         minFirmware,
	}, nil
}

// AddHeartbeatObserver registers fn to run on every accepted
// heartbeat. Must be called before the first Start.
func (s *SessionService) AddHeartbeatObserver(fn HeartbeatObserver) {
	s.heartbeatObservers = append(s.heartbeatObservers, fn)
}

// Start opens a session for the given identity. Any existing session
// is torn down completely first, so a heartbeat from the old session
// can never be applied to the new one.
func (s *SessionService) Start(identity models.SessionIdentity) error {
	if err := identity.Validate(); err != nil {
		return fmt.Errorf("invalid session identity: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	if err := s.Adapter.Start(identity); err != nil {
		s.Store.SetLastError(err.Error())
		return fmt.Errorf("failed to start session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.identity = identity
	s.active = true

	statusCh := s.Adapter.ConnectionStatus()
	heartbeatCh := s.Adapter.Heartbeats()
	watchdog := NewHealthMonitor(s.Store, s.HealthCheckInterval, s.HeartbeatStaleAfter, s.Logger)

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.watchConnectionStatus(ctx, statusCh)
	}()
	go func() {
		defer s.wg.Done()
		s.watchHeartbeats(ctx, identity, heartbeatCh)
	}()
	go func() {
		defer s.wg.Done()
		watchdog.Run(ctx)
	}()

	metrics.SessionsStarted.Inc()
	s.Logger.Info().
		Str("organization", identity.OrganizationID).
		Str("site", identity.SiteID).
		Str("device", identity.IoTDeviceID).
		Msg("Session started")
	return nil
}

// Stop terminates the active session. Safe to call when none is
// active; session state still resets to its initial value.
func (s *SessionService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

// Active reports whether a session currently exists.
func (s *SessionService) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ActiveIdentity returns the identity of the current session, if any.
func (s *SessionService) ActiveIdentity() (models.SessionIdentity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.active
}

// stopLocked tears the current session down completely before
// returning. Callers hold s.mu, which is what serializes teardown of
// session n ahead of session n+1.
func (s *SessionService) stopLocked() {
	if s.active {
		s.cancel()
		s.wg.Wait()

		if err := s.Adapter.Stop(); err != nil {
			s.Logger.Warn().Err(err).Msg("Adapter did not stop cleanly")
		}

		s.cancel = nil
		s.identity = models.SessionIdentity{}
		s.active = false
		s.Logger.Info().Msg("Session stopped")
	}

	s.Store.Reset()
}

// watchConnectionStatus mirrors adapter link status into session state
// verbatim.
func (s *SessionService) watchConnectionStatus(ctx context.Context, statuses <-chan models.ConnectionStatus) {
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-statuses:
			if !ok {
				return
			}
			s.Logger.Debug().Str("status", string(status)).Msg("Connection status changed")
			s.Store.SetConnectionStatus(status)
		}
	}
}

// watchHeartbeats applies heartbeat events to session state and fans
// accepted payloads out to the registered observers.
func (s *SessionService) watchHeartbeats(ctx context.Context, identity models.SessionIdentity, events <-chan transport.HeartbeatEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}

			if event.Err != nil {
				s.Logger.Error().Err(event.Err).Msg("Heartbeat stream failure")
				s.Store.RecordHeartbeatFailure(event.Err)
				metrics.HeartbeatFailures.Inc()
				continue
			}

			receivedAt := time.Now()
			s.Store.RecordHeartbeat(event.Payload, receivedAt)
			s.applyFirmwareGate(event.Payload)
			metrics.HeartbeatsReceived.Inc()

			for _, observe := range s.heartbeatObservers {
				observe(identity, event.Payload, receivedAt)
			}
		}
	}
}

// applyFirmwareGate compares the reported firmware version against the
// configured minimum. Missing or unparseable versions read as unknown,
// never as outdated.
func (s *SessionService) applyFirmwareGate(payload *models.HeartbeatPayload) {
	if s.minFirmware == nil {
		return
	}

	if payload.FirmwareVersion == "" {
		s.Store.SetFirmwareStatus(models.FirmwareUnknown)
		return
	}

	version, err := semver.NewVersion(payload.FirmwareVersion)
	if err != nil {
		s.Logger.Debug().
			Str("firmware", payload.FirmwareVersion).
			Msg("Unparseable firmware version in heartbeat")
		s.Store.SetFirmwareStatus(models.FirmwareUnknown)
		return
	}

	if version.LessThan(s.minFirmware) {
		s.Store.SetFirmwareStatus(models.FirmwareOutdated)
		return
	}
	s.Store.SetFirmwareStatus(models.FirmwareOK)
}
