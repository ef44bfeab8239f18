package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valorwatch/valorwatch/internal/logging"
	"github.com/valorwatch/valorwatch/internal/riot"
)

// Config holds the daily maintenance schedule. Times are "HH:MM" wall
// clock in Timezone.
type Config struct {
	Timezone          string
	FlushTime         string
	VersionCheckTimes []string
}

// Scheduler runs the recurring maintenance jobs: refreshing the client
// version fingerprint at fixed times of day and flushing the response
// cache once a day. The cache is also flushed on shutdown so a restart
// never serves stale entries.
type Scheduler struct {
	loc     *time.Location
	cfg     Config
	version *riot.ClientVersion
	flushFn func()
	logger  *logging.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewScheduler creates the maintenance scheduler. flushFn clears the
// response cache and must be safe to call repeatedly.
func NewScheduler(cfg Config, version *riot.ClientVersion, flushFn func(), logger *logging.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}

	if cfg.FlushTime == "" {
		cfg.FlushTime = "04:00"
	}
	if len(cfg.VersionCheckTimes) == 0 {
		cfg.VersionCheckTimes = []string{"05:30", "17:30"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		loc:     loc,
		cfg:     cfg,
		version: version,
		flushFn: flushFn,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches one daily loop per scheduled job. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	for _, at := range s.cfg.VersionCheckTimes {
		s.wg.Add(1)
		go s.runDaily(at, s.checkVersion)
	}
	s.wg.Add(1)
	go s.runDaily(s.cfg.FlushTime, s.flushCache)

	if s.logger != nil {
		s.logger.Info("maintenance scheduler started",
			"version_checks", fmt.Sprintf("%v", s.cfg.VersionCheckTimes),
			"cache_flush", s.cfg.FlushTime,
			"timezone", s.loc.String())
	}
}

// Stop halts the loops and performs the shutdown cache flush. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false

	s.flushCache()
	if s.logger != nil {
		s.logger.Info("maintenance scheduler stopped")
	}
}

// IsRunning reports whether the scheduler loops are active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runDaily(at string, job func()) {
	defer s.wg.Done()

	timer := time.NewTimer(s.nextDelay(at, time.Now()))
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
			job()
			timer.Reset(24 * time.Hour)
		}
	}
}

// nextDelay returns the wait until the next occurrence of the "HH:MM"
// wall-clock time, in the scheduler's timezone.
func (s *Scheduler) nextDelay(at string, now time.Time) time.Duration {
	now = now.In(s.loc)

	var hour, minute int
	if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil {
		hour, minute = 0, 0
	}

	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.loc)
	if !target.After(now) {
		target = target.Add(24 * time.Hour)
	}
	return target.Sub(now)
}

func (s *Scheduler) checkVersion() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	changed, err := s.version.Refresh(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("scheduled version check failed", "error", err.Error())
		}
		return
	}
	if changed && s.logger != nil {
		s.logger.Info("client version fingerprint updated",
			"version", s.version.Version(), "build", s.version.Build())
	}
}

func (s *Scheduler) flushCache() {
	if s.flushFn == nil {
		return
	}
	s.flushFn()
	if s.logger != nil {
		s.logger.Info("daily cache flush completed")
	}
}
