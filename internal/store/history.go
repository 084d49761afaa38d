package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/internal/models"
)

// heartbeatQueueSize bounds the insert backlog before heartbeats are
// dropped from history.
const heartbeatQueueSize = 64

// HeartbeatRecord is one heartbeat queued for persistence.
type HeartbeatRecord struct {
	Identity   models.SessionIdentity
	Payload    *models.HeartbeatPayload
	ReceivedAt time.Time
}

// HeartbeatRow is one heartbeat as read back from history.
type HeartbeatRow struct {
	ReceivedAt time.Time               `json:"received_at"`
	Payload    models.HeartbeatPayload `json:"payload"`
}

// HeartbeatHistory persists heartbeats to Postgres and serves the
// recent-history query. Writes go through an internal queue so the bus
// never blocks on the database.
type HeartbeatHistory struct {
	db     *sql.DB
	logger zerolog.Logger
	queue  chan HeartbeatRecord
}

// NewHeartbeatHistory creates a new heartbeat history repository.
func NewHeartbeatHistory(db *sql.DB, logger zerolog.Logger) *HeartbeatHistory {
	return &HeartbeatHistory{
		db:     db,
		logger: logger,
		queue:  make(chan HeartbeatRecord, heartbeatQueueSize),
	}
}

// EnsureSchema creates the heartbeats table if it does not exist yet.
func (h *HeartbeatHistory) EnsureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS heartbeats (
			id                BIGSERIAL PRIMARY KEY,
			organization_id   TEXT NOT NULL,
			site_id           TEXT NOT NULL,
			iot_device_id     TEXT NOT NULL,
			received_at       TIMESTAMPTZ NOT NULL,
			produced_at       BIGINT NOT NULL,
			cpu_usage         DOUBLE PRECISION,
			memory_usage      DOUBLE PRECISION,
			disk_usage        DOUBLE PRECISION,
			temperature       DOUBLE PRECISION,
			uptime_seconds    BIGINT,
			load_average      DOUBLE PRECISION,
			monitoring_status TEXT,
			bacnet_status     TEXT,
			connected_devices INT,
			monitored_points  INT,
			firmware_version  TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_heartbeats_device_received
			ON heartbeats (organization_id, site_id, iot_device_id, received_at DESC);
	`

	if _, err := h.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure heartbeats schema: %w", err)
	}
	return nil
}

// Enqueue queues one heartbeat for persistence without blocking the
// caller.
func (h *HeartbeatHistory) Enqueue(identity models.SessionIdentity, payload *models.HeartbeatPayload, receivedAt time.Time) {
	record := HeartbeatRecord{
		Identity:   identity,
		Payload:    payload,
		ReceivedAt: receivedAt,
	}

	select {
	case h.queue <- record:
	default:
		h.logger.Warn().Msg("Heartbeat history queue full, dropping record")
	}
}

// Run drains the queue until ctx is cancelled.
func (h *HeartbeatHistory) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case record := <-h.queue:
			if err := h.Insert(ctx, record); err != nil {
				h.logger.Error().Err(err).Msg("Failed to persist heartbeat")
			}
		}
	}
}

// Insert writes one heartbeat record.
func (h *HeartbeatHistory) Insert(ctx context.Context, record HeartbeatRecord) error {
	query := `
		INSERT INTO heartbeats (
			organization_id, site_id, iot_device_id, received_at, produced_at,
			cpu_usage, memory_usage, disk_usage, temperature, uptime_seconds,
			load_average, monitoring_status, bacnet_status, connected_devices,
			monitored_points, firmware_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	p := record.Payload
	_, err := h.db.ExecContext(ctx, query,
		record.Identity.OrganizationID,
		record.Identity.SiteID,
		record.Identity.IoTDeviceID,
		record.ReceivedAt,
		p.Timestamp,
		p.CPUUsage,
		p.MemoryUsage,
		p.DiskUsage,
		p.Temperature,
		p.UptimeSeconds,
		p.LoadAverage,
		nullableString(p.MonitoringStatus),
		nullableString(p.BacnetStatus),
		p.ConnectedDevices,
		p.MonitoredPoints,
		nullableString(p.FirmwareVersion),
	)
	if err != nil {
		return fmt.Errorf("failed to insert heartbeat: %w", err)
	}
	return nil
}

// RecentHeartbeats returns the newest heartbeats for a device, most
// recent first.
func (h *HeartbeatHistory) RecentHeartbeats(ctx context.Context, identity models.SessionIdentity, limit int) ([]HeartbeatRow, error) {
	query := `
		SELECT received_at, produced_at, cpu_usage, memory_usage, disk_usage,
			temperature, uptime_seconds, load_average, monitoring_status,
			bacnet_status, connected_devices, monitored_points, firmware_version
		FROM heartbeats
		WHERE organization_id = $1 AND site_id = $2 AND iot_device_id = $3
		ORDER BY received_at DESC
		LIMIT $4
	`

	rows, err := h.db.QueryContext(ctx, query,
		identity.OrganizationID, identity.SiteID, identity.IoTDeviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query heartbeats: %w", err)
	}
	defer rows.Close()

	var results []HeartbeatRow
	for rows.Next() {
		var (
			row         HeartbeatRow
			cpu         sql.NullFloat64
			memory      sql.NullFloat64
			diskUsage   sql.NullFloat64
			temperature sql.NullFloat64
			uptime      sql.NullInt64
			loadAvg     sql.NullFloat64
			monitoring  sql.NullString
			bacnet      sql.NullString
			devices     sql.NullInt64
			points      sql.NullInt64
			firmware    sql.NullString
		)

		if err := rows.Scan(
			&row.ReceivedAt,
			&row.Payload.Timestamp,
			&cpu,
			&memory,
			&diskUsage,
			&temperature,
			&uptime,
			&loadAvg,
			&monitoring,
			&bacnet,
			&devices,
			&points,
			&firmware,
		); err != nil {
			return nil, fmt.Errorf("failed to scan heartbeat: %w", err)
		}

		row.Payload.OrganizationID = identity.OrganizationID
		row.Payload.SiteID = identity.SiteID
		row.Payload.IoTDeviceID = identity.IoTDeviceID

		if cpu.Valid {
			row.Payload.CPUUsage = &cpu.Float64
		}
		if memory.Valid {
			row.Payload.MemoryUsage = &memory.Float64
		}
		if diskUsage.Valid {
			row.Payload.DiskUsage = &diskUsage.Float64
		}
		if temperature.Valid {
			row.Payload.Temperature = &temperature.Float64
		}
		if uptime.Valid {
			seconds := uint64(uptime.Int64)
			row.Payload.UptimeSeconds = &seconds
		}
		if loadAvg.Valid {
			row.Payload.LoadAverage = &loadAvg.Float64
		}
		if monitoring.Valid {
			row.Payload.MonitoringStatus = monitoring.String
		}
		if bacnet.Valid {
			row.Payload.BacnetStatus = bacnet.String
		}
		if devices.Valid {
			count := int(devices.Int64)
			row.Payload.ConnectedDevices = &count
		}
		if points.Valid {
			count := int(points.Int64)
			row.Payload.MonitoredPoints = &count
		}
		if firmware.Valid {
			row.Payload.FirmwareVersion = firmware.String
		}

		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read heartbeats: %w", err)
	}
	return results, nil
}

// nullableString maps "" to NULL so absent payload fields stay absent
// in history.
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
