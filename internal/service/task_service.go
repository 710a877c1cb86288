package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"coach-planner/internal/model"
	"coach-planner/internal/repository"
)

// CompleteInput carries the optional explanation for a missed task.
type CompleteInput struct {
	MissedReason string
}

// RescheduleInput moves a task to a new due time. Reason is required.
type RescheduleInput struct {
	NewDueAt time.Time
	Reason   string
}

// TaskService owns the completion and reschedule gates and the effects that
// follow a completion.
type TaskService struct {
	taskRepo       *repository.TaskRepository
	escalationRepo *repository.EscalationRepository
	userRepo       *repository.UserRepository
	recurrence     *RecurrenceService
	notifier       Notifier
}

func NewTaskService(taskRepo *repository.TaskRepository, escalationRepo *repository.EscalationRepository, userRepo *repository.UserRepository, recurrence *RecurrenceService, notifier Notifier) *TaskService {
	return &TaskService{
		taskRepo:       taskRepo,
		escalationRepo: escalationRepo,
		userRepo:       userRepo,
		recurrence:     recurrence,
		notifier:       notifier,
	}
}

func (s *TaskService) GetTask(ctx context.Context, taskID uint) (*model.Task, error) {
	return s.taskRepo.FindByID(ctx, taskID)
}

func (s *TaskService) ListPending(ctx context.Context, ownerID uint) ([]model.Task, error) {
	return s.taskRepo.ListPendingByOwner(ctx, ownerID)
}

func (s *TaskService) ListReschedules(ctx context.Context, taskID uint) ([]model.RescheduleEvent, error) {
	if _, err := s.taskRepo.FindByID(ctx, taskID); err != nil {
		return nil, err
	}
	return s.taskRepo.ListRescheduleEvents(ctx, taskID)
}

// DeleteTask soft-deletes a task and drops its escalation. Sweeps stop
// acting on it immediately; maintenance purges it after retention.
func (s *TaskService) DeleteTask(ctx context.Context, taskID uint, now time.Time) error {
	if err := s.taskRepo.SoftDelete(ctx, taskID, now); err != nil {
		return err
	}
	log.Printf("[info] task deleted id=%d", taskID)
	return nil
}

// CompleteTask marks a task done. An overdue task that requires an
// explanation is rejected with missing_reason unless one is supplied.
// Completing an already completed task returns it unchanged.
func (s *TaskService) CompleteTask(ctx context.Context, taskID uint, input CompleteInput, now time.Time) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	switch {
	case task.DeletedAt != nil || task.Status == model.StatusDeleted:
		return nil, repository.ErrNotFound
	case task.IsTemplate:
		return nil, newValidationError(CodeInvalidStatus, "recurring templates cannot be completed")
	case task.Status == model.StatusDone:
		return task, nil
	}

	reason := strings.TrimSpace(input.MissedReason)
	if task.RequiresExplanationIfMissed && task.DueAt.Before(now) && reason == "" {
		return nil, newValidationError(CodeMissingReason, "an explanation is required for a missed task")
	}
	var missed *string
	if reason != "" {
		missed = &reason
	}

	done, err := s.taskRepo.MarkDone(ctx, task.ID, now, missed)
	if err != nil {
		return nil, err
	}
	completed, err := s.taskRepo.FindByID(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if !done {
		// Someone else completed or deleted it first; their effects already ran.
		return completed, nil
	}

	log.Printf("[info] task completed id=%d owner=%d", completed.ID, completed.OwnerID)
	s.runCompletionEffects(ctx, *completed, now, true)
	return completed, nil
}

// RescheduleTask moves an open task to a new due time and logs the reason.
func (s *TaskService) RescheduleTask(ctx context.Context, taskID uint, input RescheduleInput, now time.Time) (*model.RescheduleEvent, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, newValidationError(CodeMissingReason, "a reason is required to reschedule")
	}
	if input.NewDueAt.IsZero() {
		return nil, newValidationError(CodeInvalidDueAt, "new due time is required")
	}

	task, err := s.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.DeletedAt != nil || task.Status == model.StatusDeleted {
		return nil, repository.ErrNotFound
	}
	if task.Status != model.StatusPending || task.IsTemplate {
		return nil, newValidationError(CodeInvalidStatus, "only pending tasks can be rescheduled")
	}

	event, err := s.taskRepo.Reschedule(ctx, task.ID, input.NewDueAt, reason, now)
	if err != nil {
		return nil, err
	}
	log.Printf("[info] task rescheduled id=%d due=%s reason=%q", task.ID, event.NewDueAt.Format(time.RFC3339), reason)
	return event, nil
}

type completionEffect struct {
	name string
	run  func(ctx context.Context, task model.Task, now time.Time) error
}

// completionEffects lists what follows a completion, in order. The parent
// cascade only applies to the task the user completed, not to the parent it
// completes in turn.
func (s *TaskService) completionEffects(cascade bool) []completionEffect {
	effects := []completionEffect{
		{name: "clear_escalation", run: s.clearEscalation},
		{name: "notify_coach", run: s.notifyCoachCreator},
		{name: "next_recurrence", run: s.spawnNextRecurrence},
	}
	if cascade {
		effects = append(effects, completionEffect{name: "complete_parent", run: s.completeParent})
	}
	return effects
}

func (s *TaskService) runCompletionEffects(ctx context.Context, task model.Task, now time.Time, cascade bool) {
	for _, effect := range s.completionEffects(cascade) {
		if err := effect.run(ctx, task, now); err != nil {
			log.Printf("[completion][err] task=%d effect=%s: %v", task.ID, effect.name, err)
		}
	}
}

func (s *TaskService) clearEscalation(ctx context.Context, task model.Task, _ time.Time) error {
	return s.escalationRepo.Clear(ctx, task.ID)
}

func (s *TaskService) notifyCoachCreator(ctx context.Context, task model.Task, _ time.Time) error {
	if task.CreatorID == 0 {
		return nil
	}
	creator, err := s.userRepo.FindByID(ctx, task.CreatorID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !creator.IsCoach {
		return nil
	}
	return s.notifier.TaskCompleted(ctx, task)
}

func (s *TaskService) spawnNextRecurrence(ctx context.Context, task model.Task, now time.Time) error {
	if task.RecurringTemplateID == nil || s.recurrence == nil {
		return nil
	}
	instance, err := s.recurrence.GenerateNext(ctx, *task.RecurringTemplateID, task.DueAt, now)
	if err != nil {
		return err
	}
	if instance != nil {
		log.Printf("[recurrence] template=%d next instance=%d due=%s", *task.RecurringTemplateID, instance.ID, instance.DueAt.Format(time.RFC3339))
	}
	return nil
}

func (s *TaskService) completeParent(ctx context.Context, task model.Task, now time.Time) error {
	if task.ParentTaskID == nil {
		return nil
	}
	parentID := *task.ParentTaskID
	siblings, err := s.taskRepo.ListSubtasks(ctx, parentID)
	if err != nil {
		return err
	}
	for _, sibling := range siblings {
		if sibling.Status != model.StatusDone {
			return nil
		}
	}

	done, err := s.taskRepo.MarkDone(ctx, parentID, now, nil)
	if err != nil {
		return fmt.Errorf("complete parent %d: %w", parentID, err)
	}
	if !done {
		return nil
	}
	parent, err := s.taskRepo.FindByID(ctx, parentID)
	if err != nil {
		return err
	}
	log.Printf("[info] parent task completed id=%d after last subtask %d", parentID, task.ID)
	s.runCompletionEffects(ctx, *parent, now, false)
	return nil
}
