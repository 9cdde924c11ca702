package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/isdelr/access-panel-be/internal/docker"
	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	Type, Level, Message string
}

type fakeEvents struct {
	mu       sync.Mutex
	created  []recordedEvent
	cutoffs  []time.Time
	pruned   int64
	pruneErr error
}

func (f *fakeEvents) CreateEvent(eventType, level, message string, _ *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, recordedEvent{eventType, level, message})
	return nil
}

func (f *fakeEvents) GetRecentEvents(string, int) ([]models.Event, error) { return nil, nil }

func (f *fakeEvents) PruneEvents(before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return f.pruned, f.pruneErr
}

func TestNewSchedulerValidates(t *testing.T) {
	_, err := NewScheduler(&fakeEvents{}, 0, "@daily")
	assert.Error(t, err)
	_, err = NewScheduler(&fakeEvents{}, time.Hour, "not a schedule")
	assert.Error(t, err)
}

func TestSchedulerPrunesWhenDue(t *testing.T) {
	events := &fakeEvents{pruned: 3}
	s, err := NewScheduler(events, 48*time.Hour, "@daily")
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	s.now = func() time.Time { return now }

	s.tick()
	assert.Empty(t, events.cutoffs, "first tick only arms the schedule")

	now = now.Add(6 * time.Hour)
	s.tick()
	assert.Empty(t, events.cutoffs)

	now = time.Date(2024, 3, 2, 0, 0, 30, 0, time.Local)
	s.tick()
	require.Len(t, events.cutoffs, 1)
	assert.Equal(t, now.Add(-48*time.Hour), events.cutoffs[0])
	require.Len(t, events.created, 1)
	assert.Equal(t, models.EventRetentionPruned, events.created[0].Type)
	assert.Contains(t, events.created[0].Message, "Removed 3 events")

	now = now.Add(time.Minute)
	s.tick()
	assert.Len(t, events.cutoffs, 1, "not due again until the next midnight")
}

func TestSchedulerQuietWhenNothingPruned(t *testing.T) {
	events := &fakeEvents{}
	s, err := NewScheduler(events, time.Hour, "@hourly")
	require.NoError(t, err)

	s.prune(time.Now())
	assert.Len(t, events.cutoffs, 1)
	assert.Empty(t, events.created)

	events.pruneErr = errors.New("locked")
	s.prune(time.Now())
	assert.Empty(t, events.created)
}

func TestSchedulerStop(t *testing.T) {
	s, err := NewScheduler(&fakeEvents{}, time.Hour, "@daily")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()
	s.Stop()
	s.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type fakeInspector map[string]docker.ContainerStatus

func (f fakeInspector) Status(_ context.Context, name string) docker.ContainerStatus { return f[name] }

func stubSamplers(diskPct float64, loadErr error) samplers {
	return samplers{
		disk: func(_ context.Context, path string) (*disk.UsageStat, error) {
			return &disk.UsageStat{Path: path, UsedPercent: diskPct, Free: 1024}, nil
		},
		load: func(context.Context) (*load.AvgStat, error) {
			if loadErr != nil {
				return nil, loadErr
			}
			return &load.AvgStat{Load1: 0.5, Load5: 0.25, Load15: 0.125}, nil
		},
		mem: func(context.Context) (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{UsedPercent: 42}, nil
		},
	}
}

func TestHostMonitorSample(t *testing.T) {
	m := NewHostMonitor(HostMonitorOptions{
		Inspector:  fakeInspector{"v2ray": {Name: "v2ray", Status: "running", Running: true}},
		Containers: []string{"v2ray"},
		DiskPath:   "/srv",
	})
	m.samplers = stubSamplers(50, errors.New("no /proc/loadavg"))

	st := m.Sample(context.Background())
	assert.Equal(t, "/srv", st.DiskPath)
	assert.Equal(t, 50.0, st.DiskUsedPct)
	assert.Equal(t, uint64(1024), st.DiskFreeBytes)
	assert.Equal(t, 42.0, st.MemUsedPct)
	assert.Zero(t, st.Load1)
	require.Len(t, st.Errors, 1)
	assert.Contains(t, st.Errors[0], "load")
	require.Len(t, st.Containers, 1)
	assert.True(t, st.Containers[0].Running)

	assert.Equal(t, st, m.Status())
}

func TestHostMonitorDiskAlertCooldown(t *testing.T) {
	events := &fakeEvents{}
	m := NewHostMonitor(HostMonitorOptions{Events: events, DiskThreshold: 90})
	m.samplers = stubSamplers(95.5, nil)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Sample(context.Background())
	now = now.Add(5 * time.Minute)
	m.Sample(context.Background())
	require.Len(t, events.created, 1)
	assert.Equal(t, models.EventDiskAlert, events.created[0].Type)
	assert.Contains(t, events.created[0].Message, "95.5%")

	now = now.Add(diskAlertCooldown)
	m.Sample(context.Background())
	assert.Len(t, events.created, 2)

	m.samplers = stubSamplers(10, nil)
	now = now.Add(time.Hour)
	m.Sample(context.Background())
	assert.Len(t, events.created, 2)
}
