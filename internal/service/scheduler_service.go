package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SchedulerService wraps cron-based jobs.
type SchedulerService struct {
	cron *cron.Cron
	now  func() time.Time
}

func NewSchedulerService(loc *time.Location) *SchedulerService {
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))),
		),
		now: time.Now,
	}
}

// ScheduleDaily registers a daily job at the given HH:MM time string.
func (s *SchedulerService) ScheduleDaily(timeStr string, job func()) (cron.EntryID, error) {
	spec, err := buildDailySpec(timeStr)
	if err != nil {
		return 0, err
	}
	return s.cron.AddFunc(spec, job)
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ScheduleInterval registers a periodic job every given duration.
func (s *SchedulerService) ScheduleInterval(interval time.Duration, job func()) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	seconds := int(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	spec := fmt.Sprintf("@every %ds", seconds)
	return s.cron.AddFunc(spec, job)
}

// SweepJob adapts a sweep to a cron job: each tick reads the clock once,
// runs the sweep under timeout and logs its report. The timeout stops new
// items from starting; an item already running finishes. The next tick
// starts fresh.
func (s *SchedulerService) SweepJob(name string, timeout time.Duration, fn SweepFunc) func() {
	return func() {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		report, err := fn(ctx, s.now().UTC())
		if sweepStopped(err) {
			log.Printf("[scheduler] sweep=%s stopped: %v", name, err)
			return
		}
		if err != nil {
			log.Printf("[scheduler][err] sweep=%s: %v", name, err)
			return
		}
		if report.Processed > 0 || report.Skipped {
			log.Printf("[scheduler] %s", report)
		}
	}
}

// sweepStopped reports whether err means the sweep was cut off by its
// context rather than failing.
func sweepStopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Cadence is how often each sweep fires.
type Cadence struct {
	Escalation  time.Duration
	Reminders   time.Duration
	Recurrence  time.Duration
	Maintenance time.Duration
	StreakTime  string // HH:MM, once a day
	Timeout     time.Duration
}

// RegisterSweeps schedules every known sweep on its cadence.
func (s *SchedulerService) RegisterSweeps(sweeps Sweeps, cadence Cadence) error {
	intervals := map[string]time.Duration{
		SweepEscalation:  cadence.Escalation,
		SweepReminders:   cadence.Reminders,
		SweepRecurrence:  cadence.Recurrence,
		SweepMaintenance: cadence.Maintenance,
	}
	for _, name := range sweeps.Names() {
		fn := sweeps[name]
		job := s.SweepJob(name, cadence.Timeout, fn)
		if name == SweepStreaks {
			if _, err := s.ScheduleDaily(cadence.StreakTime, job); err != nil {
				return fmt.Errorf("schedule %s: %w", name, err)
			}
			log.Printf("[scheduler] %s daily at %s", name, cadence.StreakTime)
			continue
		}
		interval, ok := intervals[name]
		if !ok || interval <= 0 {
			log.Printf("[scheduler] %s disabled", name)
			continue
		}
		if _, err := s.ScheduleInterval(interval, job); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		log.Printf("[scheduler] %s every %s", name, interval)
	}
	return nil
}

func buildDailySpec(timeStr string) (string, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", timeStr)
	}
	// cron format: second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
