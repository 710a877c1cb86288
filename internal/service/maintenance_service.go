package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"coach-planner/internal/repository"
)

const maintenanceLock = "maintenance"

// MaintenanceService runs housekeeping under a named lock so only one
// scheduler replica does it at a time.
type MaintenanceService struct {
	taskRepo       *repository.TaskRepository
	escalationRepo *repository.EscalationRepository
	lockRepo       *repository.LockRepository
	lockTTL        time.Duration
	retention      time.Duration
}

func NewMaintenanceService(taskRepo *repository.TaskRepository, escalationRepo *repository.EscalationRepository, lockRepo *repository.LockRepository, lockTTL time.Duration, retentionDays int) *MaintenanceService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &MaintenanceService{
		taskRepo:       taskRepo,
		escalationRepo: escalationRepo,
		lockRepo:       lockRepo,
		lockTTL:        lockTTL,
		retention:      time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Run purges orphan escalations, long-deleted tasks and expired locks. When
// another replica holds the lock the run is skipped; if this process dies
// the lock expires after its TTL.
func (s *MaintenanceService) Run(ctx context.Context, now time.Time) (SweepReport, error) {
	started := time.Now()
	report := SweepReport{Name: SweepMaintenance, At: now}
	owner := uuid.NewString()

	acquired, err := s.lockRepo.Acquire(ctx, maintenanceLock, owner, s.lockTTL, now)
	if err != nil {
		return report, err
	}
	if !acquired {
		log.Printf("[maintenance] lock held elsewhere, skipping")
		report.Skipped = true
		return report, nil
	}
	defer func() {
		if err := s.lockRepo.Release(context.Background(), maintenanceLock, owner); err != nil {
			log.Printf("[maintenance][err] %v", err)
		}
	}()

	steps := []struct {
		name string
		run  func() (int64, error)
	}{
		{"orphan_escalations", func() (int64, error) { return s.escalationRepo.DeleteOrphans(ctx) }},
		{"deleted_tasks", func() (int64, error) { return s.taskRepo.PurgeDeletedBefore(ctx, now.Add(-s.retention)) }},
		{"expired_locks", func() (int64, error) { return s.lockRepo.DeleteExpired(ctx, now) }},
	}
	for _, step := range steps {
		n, err := step.run()
		report.Processed++
		if err != nil {
			report.Failed++
			log.Printf("[maintenance][err] step=%s: %v", step.name, err)
			continue
		}
		if n > 0 {
			report.Changed += int(n)
			log.Printf("[maintenance] step=%s removed=%d", step.name, n)
		}
	}
	report.Duration = time.Since(started)
	return report, nil
}
