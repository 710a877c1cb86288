package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"coach-planner/internal/model"
	"coach-planner/internal/repository"
)

// neverNotified stands in for minutes since the last notification when there was none.
const neverNotified = 1 << 30

// EscalationService raises and maintains escalation state for overdue,
// non-snoozable tasks.
type EscalationService struct {
	taskRepo       *repository.TaskRepository
	escalationRepo *repository.EscalationRepository
	notifier       Notifier
	workers        int
}

func NewEscalationService(taskRepo *repository.TaskRepository, escalationRepo *repository.EscalationRepository, notifier Notifier, workers int) *EscalationService {
	return &EscalationService{taskRepo: taskRepo, escalationRepo: escalationRepo, notifier: notifier, workers: workers}
}

// Sweep processes every overdue, non-snoozable, open task at now.
func (s *EscalationService) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	tasks, err := s.taskRepo.ListOverdueEscalatable(ctx, now)
	if err != nil {
		return SweepReport{Name: SweepEscalation, At: now}, err
	}
	report := runEach(ctx, SweepEscalation, s.workers, tasks, taskID, func(ctx context.Context, task model.Task) (bool, error) {
		return s.ProcessTask(ctx, task, now)
	})
	report.At = now
	return report, nil
}

// ProcessTask applies one escalation step to task. The task is re-read so a
// completion or delete that landed after the sweep listed it wins. It
// reports whether a notification round fired.
func (s *EscalationService) ProcessTask(ctx context.Context, listed model.Task, now time.Time) (bool, error) {
	fresh, err := s.taskRepo.FindByID(ctx, listed.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	task := *fresh
	if !task.IsOverdue(now) || task.CanBeSnoozed || task.IsTemplate {
		return false, nil
	}

	esc, err := s.escalationRepo.GetOrCreate(ctx, task.ID)
	if err != nil {
		return false, err
	}

	sinceLast := float64(neverNotified)
	if esc.LastNotificationAt != nil {
		sinceLast = now.Sub(*esc.LastNotificationAt).Minutes()
	}
	if sinceLast < float64(task.NotificationIntervalMinutes) {
		return false, nil
	}

	claimed, err := s.escalationRepo.ClaimNotification(ctx, esc.ID, esc.NotificationCount, now)
	if err != nil {
		return false, err
	}
	if !claimed {
		// An overlapping sweep already handled this round.
		return false, nil
	}

	if esc.BecameOverdueAt == nil {
		if err := s.escalationRepo.MarkBecameOverdue(ctx, esc.ID, now); err != nil {
			return true, err
		}
	}

	level, err := s.raise(ctx, esc, LevelFor(task.Priority, minutesOverdue(task, now)))
	if err != nil {
		return true, err
	}

	var dispatchErrs []error
	if err := s.notifier.SendReminder(ctx, task, level); err != nil {
		dispatchErrs = append(dispatchErrs, fmt.Errorf("send reminder: %w", err))
		if err := s.escalationRepo.ReleaseNotification(context.WithoutCancel(ctx), esc.ID, esc.NotificationCount, esc.LastNotificationAt); err != nil {
			log.Printf("[escalation][err] task=%d release claim: %v", task.ID, err)
		}
	}

	coachesNotified := esc.CoachesNotified
	if (level == model.LevelCritical || level == model.LevelBlocking) && !coachesNotified {
		flipped, err := s.escalationRepo.MarkCoachesNotified(ctx, esc.ID, now)
		if err != nil {
			return true, errors.Join(append(dispatchErrs, err)...)
		}
		coachesNotified = true
		if flipped {
			log.Printf("[escalation] task=%d level=%s alerting coaches", task.ID, level)
			if err := s.notifier.AlertCoachesOfOverdue(ctx, task); err != nil {
				dispatchErrs = append(dispatchErrs, fmt.Errorf("alert coaches: %w", err))
			}
		}
	}

	if level == model.LevelBlocking && !esc.BlockingApp && coachesNotified {
		flipped, err := s.escalationRepo.MarkBlocking(ctx, esc.ID, now)
		if err != nil {
			return true, errors.Join(append(dispatchErrs, err)...)
		}
		if flipped {
			log.Printf("[escalation] task=%d app blocking started", task.ID)
			if err := s.notifier.AppBlockingStarted(ctx, task); err != nil {
				dispatchErrs = append(dispatchErrs, fmt.Errorf("app blocking started: %w", err))
			}
		}
	}

	return true, errors.Join(dispatchErrs...)
}

// raise moves the stored level up to target and returns the level now in effect.
func (s *EscalationService) raise(ctx context.Context, esc *model.Escalation, target model.EscalationLevel) (model.EscalationLevel, error) {
	current := esc.Level
	if current == "" {
		current = model.LevelNormal
	}
	if target.Rank() <= current.Rank() {
		return current, nil
	}
	raised, err := s.escalationRepo.RaiseLevel(ctx, esc.ID, current, target)
	if err != nil {
		return current, err
	}
	if raised {
		log.Printf("[escalation] task=%d level %s -> %s", esc.TaskID, current, target)
		return target, nil
	}
	fresh, err := s.escalationRepo.FindByTaskID(ctx, esc.TaskID)
	if err != nil {
		return current, err
	}
	if fresh.Level.Rank() < target.Rank() {
		if _, err := s.escalationRepo.RaiseLevel(ctx, esc.ID, fresh.Level, target); err != nil {
			return fresh.Level, err
		}
		return target, nil
	}
	return fresh.Level, nil
}

func taskID(t model.Task) uint { return t.ID }
