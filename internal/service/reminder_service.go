package service

import (
	"context"
	"fmt"
	"time"

	"coach-planner/internal/model"
	"coach-planner/internal/repository"
)

// ReminderService selects tasks whose due time has entered their own
// notification window and delivers one reminder per due time.
type ReminderService struct {
	taskRepo *repository.TaskRepository
	notifier Notifier
	workers  int
}

func NewReminderService(taskRepo *repository.TaskRepository, notifier Notifier, workers int) *ReminderService {
	return &ReminderService{taskRepo: taskRepo, notifier: notifier, workers: workers}
}

// NeedsReminder reports whether 0 <= due_at - now <= notification_interval_minutes.
func NeedsReminder(task model.Task, now time.Time) bool {
	if !task.IsOpen() || task.IsTemplate {
		return false
	}
	until := task.DueAt.Sub(now)
	return until >= 0 && until <= time.Duration(task.NotificationIntervalMinutes)*time.Minute
}

// TasksNeedingReminder reads live task state and returns every task inside its window at now.
func (s *ReminderService) TasksNeedingReminder(ctx context.Context, now time.Time) ([]model.Task, error) {
	widest, err := s.taskRepo.MaxNotificationInterval(ctx)
	if err != nil {
		return nil, err
	}
	candidates, err := s.taskRepo.ListDueFrom(ctx, now, now.Add(time.Duration(widest)*time.Minute))
	if err != nil {
		return nil, err
	}
	out := make([]model.Task, 0, len(candidates))
	for _, task := range candidates {
		if NeedsReminder(task, now) {
			out = append(out, task)
		}
	}
	return out, nil
}

// Sweep sends a reminder for every task in its window that has not had one
// for its current due time.
func (s *ReminderService) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	tasks, err := s.TasksNeedingReminder(ctx, now)
	if err != nil {
		return SweepReport{Name: SweepReminders, At: now}, err
	}
	report := runEach(ctx, SweepReminders, s.workers, tasks, taskID, func(ctx context.Context, task model.Task) (bool, error) {
		return s.remind(ctx, task, now)
	})
	report.At = now
	return report, nil
}

// remind claims the reminder for task's current due time and delivers it.
// The claim only succeeds while the task is still pending.
func (s *ReminderService) remind(ctx context.Context, task model.Task, now time.Time) (bool, error) {
	if task.ReminderSentAt != nil {
		return false, nil
	}
	claimed, err := s.taskRepo.MarkReminderSent(ctx, task.ID, now)
	if err != nil || !claimed {
		return false, err
	}
	if err := s.notifier.SendReminder(ctx, task, model.LevelNormal); err != nil {
		if clearErr := s.taskRepo.ClearReminderSent(context.WithoutCancel(ctx), task.ID); clearErr != nil {
			return false, fmt.Errorf("send reminder: %w (release: %v)", err, clearErr)
		}
		return false, fmt.Errorf("send reminder: %w", err)
	}
	return true, nil
}
