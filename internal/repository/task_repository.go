package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coach-planner/internal/model"
)

// TaskRepository handles reads and conditional writes of tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// open restricts a query to live, non-template tasks.
func open(db *gorm.DB) *gorm.DB {
	return db.Where("status = ? AND deleted_at IS NULL AND is_template = ?", model.StatusPending, false)
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if task.Status == "" {
		task.Status = model.StatusPending
	}
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}
	task.DueAt = task.DueAt.UTC()
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, id uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).First(&task, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

// ListOverdueEscalatable returns open, non-snoozable tasks due before now.
func (r *TaskRepository) ListOverdueEscalatable(ctx context.Context, now time.Time) ([]model.Task, error) {
	var tasks []model.Task
	err := open(r.db.WithContext(ctx)).
		Where("can_be_snoozed = ? AND due_at < ?", false, now.UTC()).
		Order("due_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list overdue tasks: %w", err)
	}
	return tasks, nil
}

// ListDueFrom returns open tasks due in [from, until].
func (r *TaskRepository) ListDueFrom(ctx context.Context, from, until time.Time) ([]model.Task, error) {
	var tasks []model.Task
	err := open(r.db.WithContext(ctx)).
		Where("due_at >= ? AND due_at <= ?", from.UTC(), until.UTC()).
		Order("due_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	return tasks, nil
}

// MaxNotificationInterval returns the widest per-task reminder window among open tasks.
func (r *TaskRepository) MaxNotificationInterval(ctx context.Context) (int, error) {
	var widest sql.NullInt64
	row := open(r.db.WithContext(ctx).Model(&model.Task{})).
		Select("MAX(notification_interval_minutes)").
		Row()
	if err := row.Scan(&widest); err != nil {
		return 0, fmt.Errorf("max notification interval: %w", err)
	}
	if !widest.Valid {
		return 0, nil
	}
	return int(widest.Int64), nil
}

// ListPendingByOwner returns the owner's open tasks ordered by due time.
func (r *TaskRepository) ListPendingByOwner(ctx context.Context, ownerID uint) ([]model.Task, error) {
	var tasks []model.Task
	err := open(r.db.WithContext(ctx)).
		Where("owner_id = ?", ownerID).
		Order("due_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list owner tasks: %w", err)
	}
	return tasks, nil
}

// ListDueBetweenForOwner returns every non-deleted, non-template task of the
// owner with due_at in [start, end), whatever its status.
func (r *TaskRepository) ListDueBetweenForOwner(ctx context.Context, ownerID uint, start, end time.Time) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND is_template = ? AND deleted_at IS NULL AND status <> ?", ownerID, false, model.StatusDeleted).
		Where("due_at >= ? AND due_at < ?", start.UTC(), end.UTC()).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list tasks of day: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) ListTemplates(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("is_template = ? AND deleted_at IS NULL AND status <> ?", true, model.StatusDeleted).
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return tasks, nil
}

// LatestInstance returns the generated instance of templateID with the latest due time.
func (r *TaskRepository) LatestInstance(ctx context.Context, templateID uint) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Where("recurring_template_id = ?", templateID).
		Order("due_at DESC").
		First(&task).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (r *TaskRepository) InstanceExists(ctx context.Context, templateID uint, date string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("recurring_template_id = ? AND instance_date = ?", templateID, date).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check instance: %w", err)
	}
	return count > 0, nil
}

// CreateInstance inserts a generated instance unless one already exists for
// the same template and date. It reports whether a row was created.
func (r *TaskRepository) CreateInstance(ctx context.Context, task *model.Task) (bool, error) {
	task.DueAt = task.DueAt.UTC()
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(task)
	if res.Error != nil {
		return false, fmt.Errorf("create instance: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkDone transitions a pending task to done. It reports false when the task
// was no longer pending.
func (r *TaskRepository) MarkDone(ctx context.Context, id uint, completedAt time.Time, missedReason *string) (bool, error) {
	updates := map[string]interface{}{
		"status":       model.StatusDone,
		"completed_at": completedAt.UTC(),
	}
	if missedReason != nil {
		updates["missed_reason"] = *missedReason
		updates["missed_reason_submitted_at"] = completedAt.UTC()
	}
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ? AND deleted_at IS NULL", id, model.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("complete task: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListSubtasks returns the non-deleted children of parentID.
func (r *TaskRepository) ListSubtasks(ctx context.Context, parentID uint) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("parent_task_id = ? AND deleted_at IS NULL AND status <> ?", parentID, model.StatusDeleted).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	return tasks, nil
}

// Reschedule moves the due time of an open task and appends the event in one transaction.
func (r *TaskRepository) Reschedule(ctx context.Context, id uint, newDueAt time.Time, reason string, now time.Time) (*model.RescheduleEvent, error) {
	var event *model.RescheduleEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := tx.Where("id = ? AND deleted_at IS NULL AND status <> ?", id, model.StatusDeleted).First(&task).Error; err != nil {
			return notFound(err)
		}
		res := tx.Model(&model.Task{}).Where("id = ?", id).Updates(map[string]interface{}{
			"due_at":           newDueAt.UTC(),
			"reminder_sent_at": nil,
		})
		if res.Error != nil {
			return fmt.Errorf("update due date: %w", res.Error)
		}
		event = &model.RescheduleEvent{
			TaskID:        id,
			Reason:        reason,
			PreviousDueAt: task.DueAt,
			NewDueAt:      newDueAt.UTC(),
			CreatedAt:     now.UTC(),
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("create reschedule event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (r *TaskRepository) ListRescheduleEvents(ctx context.Context, taskID uint) ([]model.RescheduleEvent, error) {
	var events []model.RescheduleEvent
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("id ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list reschedule events: %w", err)
	}
	return events, nil
}

// MarkReminderSent claims the reminder for the task's current due time.
func (r *TaskRepository) MarkReminderSent(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND reminder_sent_at IS NULL AND status = ?", id, model.StatusPending).
		Update("reminder_sent_at", at.UTC())
	if res.Error != nil {
		return false, fmt.Errorf("mark reminder sent: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ClearReminderSent releases a reminder claim after a failed delivery.
func (r *TaskRepository) ClearReminderSent(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", id).
		Update("reminder_sent_at", nil).Error; err != nil {
		return fmt.Errorf("clear reminder sent: %w", err)
	}
	return nil
}

// SoftDelete marks the task deleted and destroys its escalation.
func (r *TaskRepository) SoftDelete(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Task{}).Where("id = ? AND deleted_at IS NULL", id).Updates(map[string]interface{}{
			"status":     model.StatusDeleted,
			"deleted_at": at.UTC(),
		})
		if res.Error != nil {
			return fmt.Errorf("delete task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("task_id = ?", id).Delete(&model.Escalation{}).Error; err != nil {
			return fmt.Errorf("delete escalation: %w", err)
		}
		return nil
	})
}

// PurgeDeletedBefore hard-deletes tasks soft-deleted before cutoff.
func (r *TaskRepository) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff.UTC()).
		Delete(&model.Task{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge deleted tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}
