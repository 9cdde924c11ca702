package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/isdelr/access-panel-be/internal/docker"
	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/isdelr/access-panel-be/internal/services"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

const diskAlertCooldown = 15 * time.Minute

// HostStatus is the latest resource sample of the provisioning host.
type HostStatus struct {
	SampledAt     time.Time                `json:"sampledAt"`
	DiskPath      string                   `json:"diskPath"`
	DiskUsedPct   float64                  `json:"diskUsedPercent"`
	DiskFreeBytes uint64                   `json:"diskFreeBytes"`
	MemUsedPct    float64                  `json:"memUsedPercent"`
	Load1         float64                  `json:"load1"`
	Load5         float64                  `json:"load5"`
	Load15        float64                  `json:"load15"`
	Containers    []docker.ContainerStatus `json:"containers,omitempty"`
	Errors        []string                 `json:"errors,omitempty"`
}

// ContainerInspector reports the state of a proxy container.
type ContainerInspector interface {
	Status(ctx context.Context, name string) docker.ContainerStatus
}

// samplers are the gopsutil calls, swappable in tests.
type samplers struct {
	disk func(ctx context.Context, path string) (*disk.UsageStat, error)
	load func(ctx context.Context) (*load.AvgStat, error)
	mem  func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

var defaultSamplers = samplers{
	disk: disk.UsageWithContext,
	load: load.AvgWithContext,
	mem:  mem.VirtualMemoryWithContext,
}

// HostMonitor periodically samples host resources for the health endpoint
// and raises an event when the disk fills up.
type HostMonitor struct {
	eventSvc      services.EventServiceProvider
	inspector     ContainerInspector
	containers    []string
	diskPath      string
	diskThreshold float64
	interval      time.Duration
	samplers      samplers
	now           func() time.Time

	mu        sync.RWMutex
	status    HostStatus
	lastAlert time.Time

	done chan struct{}
	stop sync.Once
}

// HostMonitorOptions configures a HostMonitor. Inspector may be nil.
type HostMonitorOptions struct {
	Events        services.EventServiceProvider
	Inspector     ContainerInspector
	Containers    []string
	DiskPath      string
	DiskThreshold float64
	Interval      time.Duration
}

// NewHostMonitor creates a new HostMonitor.
func NewHostMonitor(opts HostMonitorOptions) *HostMonitor {
	if opts.DiskPath == "" {
		opts.DiskPath = "/"
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	return &HostMonitor{
		eventSvc:      opts.Events,
		inspector:     opts.Inspector,
		containers:    opts.Containers,
		diskPath:      opts.DiskPath,
		diskThreshold: opts.DiskThreshold,
		interval:      opts.Interval,
		samplers:      defaultSamplers,
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

// Run starts the periodic sampling.
func (m *HostMonitor) Run() {
	log.Info().Dur("interval", m.interval).Msg("Starting host monitor")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Sample(context.Background())
	for {
		select {
		case <-m.done:
			log.Info().Msg("Stopping host monitor")
			return
		case <-ticker.C:
			m.Sample(context.Background())
		}
	}
}

// Stop halts the periodic sampling.
func (m *HostMonitor) Stop() {
	m.stop.Do(func() { close(m.done) })
}

// Status returns the most recent sample.
func (m *HostMonitor) Status() HostStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Sample takes a fresh reading, stores it and returns it. Individual sampler
// failures are collected in Errors.
func (m *HostMonitor) Sample(ctx context.Context) HostStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st := HostStatus{SampledAt: m.now().UTC(), DiskPath: m.diskPath}
	if usage, err := m.samplers.disk(ctx, m.diskPath); err != nil {
		st.Errors = append(st.Errors, fmt.Sprintf("disk: %v", err))
	} else {
		st.DiskUsedPct = usage.UsedPercent
		st.DiskFreeBytes = usage.Free
	}
	if avg, err := m.samplers.load(ctx); err != nil {
		st.Errors = append(st.Errors, fmt.Sprintf("load: %v", err))
	} else {
		st.Load1, st.Load5, st.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	if vm, err := m.samplers.mem(ctx); err != nil {
		st.Errors = append(st.Errors, fmt.Sprintf("mem: %v", err))
	} else {
		st.MemUsedPct = vm.UsedPercent
	}
	if m.inspector != nil {
		for _, name := range m.containers {
			st.Containers = append(st.Containers, m.inspector.Status(ctx, name))
		}
	}
	for _, e := range st.Errors {
		log.Warn().Str("sample_error", e).Msg("HostMonitor: sample failed")
	}

	m.mu.Lock()
	m.status = st
	m.mu.Unlock()

	m.checkAndAlertForDisk(st)
	return st
}

func (m *HostMonitor) checkAndAlertForDisk(st HostStatus) {
	if m.diskThreshold <= 0 || st.DiskUsedPct <= m.diskThreshold {
		return
	}
	m.mu.Lock()
	if !m.lastAlert.IsZero() && st.SampledAt.Sub(m.lastAlert) < diskAlertCooldown {
		m.mu.Unlock()
		return
	}
	m.lastAlert = st.SampledAt
	m.mu.Unlock()

	msg := fmt.Sprintf("Disk usage on %s is %.1f%%; account creation may start failing.", st.DiskPath, st.DiskUsedPct)
	log.Warn().Str("path", st.DiskPath).Float64("used_percent", st.DiskUsedPct).Msg("HostMonitor: disk usage high")
	if m.eventSvc == nil {
		return
	}
	if err := m.eventSvc.CreateEvent(models.EventDiskAlert, "warn", msg, nil); err != nil {
		log.Error().Err(err).Msg("HostMonitor: failed to record disk alert")
	}
}
