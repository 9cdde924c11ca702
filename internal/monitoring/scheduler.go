package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/isdelr/access-panel-be/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler prunes audit events older than the retention window on a cron schedule.
type Scheduler struct {
	eventSvc  services.EventServiceProvider
	retention time.Duration
	schedule  cron.Schedule
	next      time.Time
	now       func() time.Time
	ticker    *time.Ticker
	done      chan struct{}
	stop      sync.Once
}

// NewScheduler creates a new scheduler. expr is a standard cron expression
// or descriptor such as "@daily".
func NewScheduler(eventSvc services.EventServiceProvider, retention time.Duration, expr string) (*Scheduler, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("scheduler: retention must be positive, got %s", retention)
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid prune schedule %q: %w", expr, err)
	}
	return &Scheduler{
		eventSvc:  eventSvc,
		retention: retention,
		schedule:  schedule,
		now:       time.Now,
		done:      make(chan struct{}),
	}, nil
}

// Run starts the scheduler's ticking loop.
func (s *Scheduler) Run() {
	log.Info().Dur("retention", s.retention).Msg("Starting event retention scheduler")
	s.ticker = time.NewTicker(1 * time.Minute)
	defer s.ticker.Stop()

	s.tick()
	for {
		select {
		case <-s.done:
			log.Info().Msg("Stopping event retention scheduler")
			return
		case <-s.ticker.C:
			s.tick()
		}
	}
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	s.stop.Do(func() { close(s.done) })
}

// tick prunes when the next scheduled run is due. The first call only arms
// the schedule.
func (s *Scheduler) tick() {
	now := s.now()
	if s.next.IsZero() {
		s.next = s.schedule.Next(now)
		return
	}
	if now.Before(s.next) {
		return
	}
	s.next = s.schedule.Next(now)
	s.prune(now)
}

func (s *Scheduler) prune(now time.Time) {
	cutoff := now.Add(-s.retention)
	n, err := s.eventSvc.PruneEvents(cutoff)
	if err != nil {
		log.Error().Err(err).Time("cutoff", cutoff).Msg("Scheduler: failed to prune events")
		return
	}
	log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("Scheduler: pruned events")
	if n == 0 {
		return
	}
	msg := fmt.Sprintf("Removed %d events older than %s.", n, cutoff.UTC().Format(time.RFC3339))
	if err := s.eventSvc.CreateEvent(models.EventRetentionPruned, "info", msg, nil); err != nil {
		log.Error().Err(err).Msg("Scheduler: failed to record prune event")
	}
}
