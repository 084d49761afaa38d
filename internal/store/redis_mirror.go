package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/internal/models"
)

var jsonFast = jsoniter.ConfigFastest

// IdentitySource tells the sinks which device the current session
// belongs to, if any.
type IdentitySource interface {
	ActiveIdentity() (models.SessionIdentity, bool)
}

// RedisMirror mirrors session state snapshots into redis so dashboards
// and other services can read them without speaking the bus protocol.
// It is an observer only: a redis outage degrades the mirror, never
// the bus.
type RedisMirror struct {
	Client *redis.Client
	TTL    time.Duration
	Logger zerolog.Logger
}

// NewRedisMirror creates a mirror writing through the given client.
func NewRedisMirror(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisMirror {
	return &RedisMirror{
		Client: client,
		TTL:    ttl,
		Logger: logger,
	}
}

// MirrorKey is where the current session state for a device lives.
func MirrorKey(identity models.SessionIdentity) string {
	return fmt.Sprintf("bms:session:%s:%s:%s",
		identity.OrganizationID, identity.SiteID, identity.IoTDeviceID)
}

// Run consumes state snapshots until ctx is cancelled. Updates that
// arrive while no session is active are skipped; the TTL expires the
// key of a stopped session on its own.
func (m *RedisMirror) Run(ctx context.Context, sessions IdentitySource, states <-chan models.SessionState) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}

			identity, active := sessions.ActiveIdentity()
			if !active {
				continue
			}
			m.write(ctx, identity, st)
		}
	}
}

func (m *RedisMirror) write(ctx context.Context, identity models.SessionIdentity, st models.SessionState) {
	payload, err := jsonFast.Marshal(st)
	if err != nil {
		m.Logger.Error().Err(err).Msg("Failed to encode session state for redis")
		return
	}

	key := MirrorKey(identity)
	if err := m.Client.Set(ctx, key, payload, m.TTL).Err(); err != nil {
		m.Logger.Warn().Err(err).Str("key", key).Msg("Failed to mirror session state")
	}
}
