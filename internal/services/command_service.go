package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/internal/constants"
	"github.com/openbms/devicebus/internal/metrics"
	"github.com/openbms/devicebus/internal/transport"
	"github.com/openbms/devicebus/internal/utils"
)

var (
	// ErrInvalidCommand is returned for a command name outside the
	// accepted set. Nothing is published in that case.
	ErrInvalidCommand = errors.New("invalid command name")

	// ErrNoActiveSession is returned when a command is sent while no
	// session exists.
	ErrNoActiveSession = errors.New("no active session")
)

// SessionInfo is the slice of the session controller the command
// gateway needs.
type SessionInfo interface {
	Active() bool
}

// CommandService validates commands and forwards them to the device
// behind the active session. Validation failures are fail-fast;
// adapter results and errors pass through unchanged.
type CommandService struct {
	Adapter  transport.Adapter
	Sessions SessionInfo
	Logger   zerolog.Logger

	validCommands map[string]struct{}
}

// NewCommandService initializes a new CommandService.
func NewCommandService(adapter transport.Adapter, sessions SessionInfo, logger zerolog.Logger) *CommandService {
	return &CommandService{
		Adapter:       adapter,
		Sessions:      sessions,
		Logger:        logger,
		validCommands: utils.SliceToSet(constants.CommandNames()),
	}
}

// Send dispatches one command and blocks until its response arrives or
// ctx expires.
func (c *CommandService) Send(ctx context.Context, command string, payload json.RawMessage) (json.RawMessage, error) {
	if _, ok := c.validCommands[command]; !ok {
		metrics.CommandsTotal.WithLabelValues("unknown", "invalid").Inc()
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommand, command)
	}

	if !c.Sessions.Active() {
		metrics.CommandsTotal.WithLabelValues(command, "no_session").Inc()
		return nil, ErrNoActiveSession
	}

	c.Logger.Info().Str("command", command).Msg("Dispatching command")

	result, err := c.Adapter.Request(ctx, command, payload)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(command, "error").Inc()
		return nil, err
	}

	metrics.CommandsTotal.WithLabelValues(command, "success").Inc()
	return result, nil
}
