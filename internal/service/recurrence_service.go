package service

import (
	"context"
	"errors"
	"log"
	"time"

	"coach-planner/internal/model"
	"coach-planner/internal/repository"
)

// RecurrenceService materializes instances of recurring templates.
type RecurrenceService struct {
	taskRepo *repository.TaskRepository
	userRepo *repository.UserRepository
	notifier Notifier
	horizon  time.Duration
	workers  int
}

func NewRecurrenceService(taskRepo *repository.TaskRepository, userRepo *repository.UserRepository, notifier Notifier, horizonDays, workers int) *RecurrenceService {
	if horizonDays <= 0 {
		horizonDays = 7
	}
	return &RecurrenceService{
		taskRepo: taskRepo,
		userRepo: userRepo,
		notifier: notifier,
		horizon:  time.Duration(horizonDays) * 24 * time.Hour,
		workers:  workers,
	}
}

// Sweep fills the look-ahead horizon of every template.
func (s *RecurrenceService) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	templates, err := s.taskRepo.ListTemplates(ctx)
	if err != nil {
		return SweepReport{Name: SweepRecurrence, At: now}, err
	}
	report := runEach(ctx, SweepRecurrence, s.workers, templates, taskID, func(ctx context.Context, tmpl model.Task) (bool, error) {
		created, err := s.GenerateForTemplate(ctx, tmpl, now)
		return created > 0, err
	})
	report.At = now
	return report, nil
}

// GenerateForTemplate creates the instances of tmpl that fall between now and
// the horizon and do not exist yet. It returns how many were created.
func (s *RecurrenceService) GenerateForTemplate(ctx context.Context, tmpl model.Task, now time.Time) (int, error) {
	if !tmpl.IsTemplate {
		return 0, nil
	}
	loc := s.ownerLocation(ctx, tmpl.OwnerID)

	candidate := firstOccurrence(tmpl, loc)
	latest, err := s.taskRepo.LatestInstance(ctx, tmpl.ID)
	switch {
	case err == nil:
		candidate = nextOccurrence(tmpl, latest.DueAt.In(loc))
	case !errors.Is(err, repository.ErrNotFound):
		return 0, err
	}

	candidate = catchUp(tmpl, candidate, now)

	horizon := now.Add(s.horizon)
	created := 0
	for step := 0; step < maxRecurrenceSteps && !candidate.After(horizon); step++ {
		if pastEnd(tmpl, candidate) {
			break
		}
		if !candidate.Before(now) {
			instance, err := s.createInstance(ctx, tmpl, candidate)
			if err != nil {
				return created, err
			}
			if instance != nil {
				created++
			}
		}
		candidate = nextOccurrence(tmpl, candidate)
	}
	if created > 0 {
		log.Printf("[recurrence] template=%d created=%d", tmpl.ID, created)
	}
	return created, nil
}

// GenerateNext creates the single occurrence that follows after, skipping
// occurrences already in the past at now. It returns nil when nothing was
// created (template gone, series ended, or instance already present).
func (s *RecurrenceService) GenerateNext(ctx context.Context, templateID uint, after, now time.Time) (*model.Task, error) {
	tmpl, err := s.taskRepo.FindByID(ctx, templateID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !tmpl.IsTemplate || tmpl.DeletedAt != nil || tmpl.Status == model.StatusDeleted {
		return nil, nil
	}
	loc := s.ownerLocation(ctx, tmpl.OwnerID)

	candidate := catchUp(*tmpl, nextOccurrence(*tmpl, after.In(loc)), now)
	for step := 0; step < maxRecurrenceSteps && candidate.Before(now); step++ {
		candidate = nextOccurrence(*tmpl, candidate)
	}
	if pastEnd(*tmpl, candidate) {
		return nil, nil
	}
	return s.createInstance(ctx, *tmpl, candidate)
}

// createInstance copies tmpl onto due, deduplicated by template and calendar date.
func (s *RecurrenceService) createInstance(ctx context.Context, tmpl model.Task, due time.Time) (*model.Task, error) {
	date := due.Format(model.InstanceDateLayout)
	exists, err := s.taskRepo.InstanceExists(ctx, tmpl.ID, date)
	if err != nil || exists {
		return nil, err
	}

	templateID := tmpl.ID
	instance := model.Task{
		ListID:                      tmpl.ListID,
		OwnerID:                     tmpl.OwnerID,
		CreatorID:                   tmpl.CreatorID,
		Title:                       tmpl.Title,
		Description:                 tmpl.Description,
		Note:                        tmpl.Note,
		DueAt:                       due,
		Status:                      model.StatusPending,
		Priority:                    tmpl.Priority,
		CanBeSnoozed:                tmpl.CanBeSnoozed,
		NotificationIntervalMinutes: tmpl.NotificationIntervalMinutes,
		RequiresExplanationIfMissed: tmpl.RequiresExplanationIfMissed,
		RecurringTemplateID:         &templateID,
		InstanceDate:                &date,
		LocationName:                tmpl.LocationName,
		Latitude:                    tmpl.Latitude,
		Longitude:                   tmpl.Longitude,
		LocationRadiusMeters:        tmpl.LocationRadiusMeters,
		NotifyOnArrival:             tmpl.NotifyOnArrival,
		NotifyOnDeparture:           tmpl.NotifyOnDeparture,
	}
	created, err := s.taskRepo.CreateInstance(ctx, &instance)
	if err != nil || !created {
		return nil, err
	}

	if err := s.notifier.RecurringTaskGenerated(ctx, instance); err != nil {
		log.Printf("[recurrence][err] notify instance=%d: %v", instance.ID, err)
	}
	return &instance, nil
}

func (s *RecurrenceService) ownerLocation(ctx context.Context, ownerID uint) *time.Location {
	owner, err := s.userRepo.FindByID(ctx, ownerID)
	if err != nil {
		return time.UTC
	}
	return owner.Location()
}
