package registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Service is the lifecycle contract for the long-running pieces of the
// simulator. Start must not block beyond initial setup; Stop must not
// return until the service's goroutines have drained.
type Service interface {
	Start() error
	Stop() error
}

// Registry starts services in registration order and stops them in
// reverse, so a service never outlives something it depends on.
type Registry struct {
	services    map[string]Service
	serviceKeys []string
	logger      zerolog.Logger
}

// NewRegistry initializes an empty service registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		services: make(map[string]Service),
		logger:   logger,
	}
}

// RegisterService adds a service under a unique name. Duplicate names
// are ignored with a warning.
func (r *Registry) RegisterService(name string, svc Service) {
	if _, exists := r.services[name]; exists {
		r.logger.Warn().Str("service", name).Msg("Service is already registered")
		return
	}
	r.services[name] = svc
	r.serviceKeys = append(r.serviceKeys, name)
	r.logger.Info().Str("service", name).Msg("Registered service")
}

// StartServices starts every registered service in order. If one fails
// to start, the services started before it are stopped again and the
// failure is returned.
func (r *Registry) StartServices() error {
	var started []string

	for _, name := range r.serviceKeys {
		r.logger.Info().Str("service", name).Msg("Starting service")
		if err := r.services[name].Start(); err != nil {
			r.logger.Error().Err(err).Str("service", name).Msg("Failed to start service")
			for i := len(started) - 1; i >= 0; i-- {
				_ = r.services[started[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		started = append(started, name)
	}

	return nil
}

// StopServices stops all services in reverse registration order and
// joins any stop failures.
func (r *Registry) StopServices() error {
	var stopErrors []error
	for i := len(r.serviceKeys) - 1; i >= 0; i-- {
		name := r.serviceKeys[i]
		r.logger.Info().Str("service", name).Msg("Stopping service")
		if err := r.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	return errors.Join(stopErrors...)
}
