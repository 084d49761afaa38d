package transport

import (
	"context"
	"encoding/json"

	"github.com/openbms/devicebus/internal/models"
)

// HeartbeatEvent is one item on the heartbeat stream. Exactly one of
// Payload or Err is set; an Err item reports a transport-level failure
// of the stream itself, not a missing heartbeat.
type HeartbeatEvent struct {
	Payload *models.HeartbeatPayload
	Err     error
}

// Adapter is the session-scoped pipe to the broker. Start and Stop
// bracket one session; the channels returned by ConnectionStatus and
// Heartbeats belong to that session only and are replaced on the next
// Start.
type Adapter interface {
	// Start connects to the broker scoped to the given identity and
	// attaches the event streams.
	Start(identity models.SessionIdentity) error

	// Stop tears the connection down and abandons any in-flight
	// requests. Buffered events from the stopped session are never
	// replayed into a later one.
	Stop() error

	// ConnectionStatus returns the stream of link status changes for
	// the current session.
	ConnectionStatus() <-chan models.ConnectionStatus

	// Heartbeats returns the stream of device heartbeats for the
	// current session.
	Heartbeats() <-chan HeartbeatEvent

	// Request publishes a command and blocks until the correlated
	// response arrives or ctx expires.
	Request(ctx context.Context, command string, payload json.RawMessage) (json.RawMessage, error)
}
