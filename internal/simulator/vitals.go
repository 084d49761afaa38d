package simulator

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"

	"github.com/openbms/devicebus/internal/models"
)

// VitalCollector samples one host metric. Collect returns an applier
// that writes the sample into a heartbeat payload, or nil when the
// sample is unavailable.
type VitalCollector interface {
	Name() string
	Collect(ctx context.Context) func(*models.HeartbeatPayload)
}

// CPUVital samples total CPU utilization.
type CPUVital struct {
	Logger zerolog.Logger
}

func (c *CPUVital) Name() string {
	return "cpu"
}

func (c *CPUVital) Collect(ctx context.Context) func(*models.HeartbeatPayload) {
	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		c.Logger.Warn().Err(err).Msg("Failed to sample CPU usage")
		return nil
	}
	if len(percentages) == 0 {
		return nil
	}

	usage := percentages[0]
	return func(p *models.HeartbeatPayload) { p.CPUUsage = &usage }
}

// MemoryVital samples used memory percentage.
type MemoryVital struct {
	Logger zerolog.Logger
}

func (m *MemoryVital) Name() string {
	return "memory"
}

func (m *MemoryVital) Collect(ctx context.Context) func(*models.HeartbeatPayload) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		m.Logger.Warn().Err(err).Msg("Failed to sample memory usage")
		return nil
	}

	usage := vm.UsedPercent
	return func(p *models.HeartbeatPayload) { p.MemoryUsage = &usage }
}

// DiskVital samples used disk percentage for one mount point.
type DiskVital struct {
	Path   string
	Logger zerolog.Logger
}

func (d *DiskVital) Name() string {
	return "disk"
}

func (d *DiskVital) Collect(ctx context.Context) func(*models.HeartbeatPayload) {
	path := d.Path
	if path == "" {
		path = "/"
	}

	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		d.Logger.Warn().Err(err).Str("path", path).Msg("Failed to sample disk usage")
		return nil
	}

	percent := usage.UsedPercent
	return func(p *models.HeartbeatPayload) { p.DiskUsage = &percent }
}

// LoadVital samples the one-minute load average.
type LoadVital struct {
	Logger zerolog.Logger
}

func (l *LoadVital) Name() string {
	return "load"
}

func (l *LoadVital) Collect(ctx context.Context) func(*models.HeartbeatPayload) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		l.Logger.Warn().Err(err).Msg("Failed to sample load average")
		return nil
	}

	load1 := avg.Load1
	return func(p *models.HeartbeatPayload) { p.LoadAverage = &load1 }
}

// TemperatureVital samples the hottest temperature sensor.
type TemperatureVital struct {
	Logger zerolog.Logger
}

func (t *TemperatureVital) Name() string {
	return "temperature"
}

func (t *TemperatureVital) Collect(ctx context.Context) func(*models.HeartbeatPayload) {
	sensors, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		t.Logger.Debug().Err(err).Msg("Temperature sensors unavailable")
		return nil
	}

	var hottest float64
	found := false
	for _, sensor := range sensors {
		if sensor.Temperature > hottest {
			hottest = sensor.Temperature
			found = true
		}
	}
	if !found {
		return nil
	}

	return func(p *models.HeartbeatPayload) { p.Temperature = &hottest }
}
