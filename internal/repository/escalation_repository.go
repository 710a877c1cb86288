package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coach-planner/internal/model"
)

// EscalationRepository owns the per-task escalation rows. Every write is a
// conditional update so overlapping sweeps converge on the same state.
type EscalationRepository struct {
	db *gorm.DB
}

func NewEscalationRepository(db *gorm.DB) *EscalationRepository {
	return &EscalationRepository{db: db}
}

// GetOrCreate returns the task's escalation, creating a normal one if absent.
func (r *EscalationRepository) GetOrCreate(ctx context.Context, taskID uint) (*model.Escalation, error) {
	db := r.db.WithContext(ctx)
	fresh := model.Escalation{TaskID: taskID, Level: model.LevelNormal}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
		return nil, fmt.Errorf("create escalation: %w", err)
	}
	var esc model.Escalation
	if err := db.Where("task_id = ?", taskID).First(&esc).Error; err != nil {
		return nil, fmt.Errorf("find escalation: %w", notFound(err))
	}
	return &esc, nil
}

func (r *EscalationRepository) FindByTaskID(ctx context.Context, taskID uint) (*model.Escalation, error) {
	var esc model.Escalation
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&esc).Error; err != nil {
		return nil, notFound(err)
	}
	return &esc, nil
}

// ClaimNotification bumps notification_count from prevCount and stamps
// last_notification_at. It reports false if another sweep got there first or
// the task is no longer pending.
func (r *EscalationRepository) ClaimNotification(ctx context.Context, id uint, prevCount int, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Escalation{}).
		Where("id = ? AND notification_count = ?", id, prevCount).
		Where("task_id IN (?)", r.liveTasks()).
		Updates(map[string]interface{}{
			"notification_count":   prevCount + 1,
			"last_notification_at": now.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim notification: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseNotification undoes a claim whose delivery failed.
func (r *EscalationRepository) ReleaseNotification(ctx context.Context, id uint, prevCount int, prevAt *time.Time) error {
	var at interface{}
	if prevAt != nil {
		at = prevAt.UTC()
	}
	err := r.db.WithContext(ctx).Model(&model.Escalation{}).
		Where("id = ? AND notification_count = ?", id, prevCount+1).
		Updates(map[string]interface{}{
			"notification_count":   prevCount,
			"last_notification_at": at,
		}).Error
	if err != nil {
		return fmt.Errorf("release notification: %w", err)
	}
	return nil
}

// MarkBecameOverdue sets became_overdue_at once.
func (r *EscalationRepository) MarkBecameOverdue(ctx context.Context, id uint, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&model.Escalation{}).
		Where("id = ? AND became_overdue_at IS NULL", id).
		Update("became_overdue_at", now.UTC()).Error
	if err != nil {
		return fmt.Errorf("mark became overdue: %w", err)
	}
	return nil
}

// RaiseLevel moves the level from one value to a higher one.
func (r *EscalationRepository) RaiseLevel(ctx context.Context, id uint, from, to model.EscalationLevel) (bool, error) {
	if to.Rank() <= from.Rank() {
		return false, nil
	}
	res := r.db.WithContext(ctx).Model(&model.Escalation{}).
		Where("id = ? AND escalation_level = ?", id, from).
		Update("escalation_level", to)
	if res.Error != nil {
		return false, fmt.Errorf("raise level: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkCoachesNotified flips coaches_notified once and reports whether this call did it.
func (r *EscalationRepository) MarkCoachesNotified(ctx context.Context, id uint, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Escalation{}).
		Where("id = ? AND coaches_notified = ?", id, false).
		Updates(map[string]interface{}{
			"coaches_notified":    true,
			"coaches_notified_at": now.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark coaches notified: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkBlocking flips blocking_app once. It only applies to rows at the
// blocking level whose coaches were already alerted.
func (r *EscalationRepository) MarkBlocking(ctx context.Context, id uint, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Escalation{}).
		Where("id = ? AND blocking_app = ? AND coaches_notified = ? AND escalation_level = ?", id, false, true, model.LevelBlocking).
		Updates(map[string]interface{}{
			"blocking_app":        true,
			"blocking_started_at": now.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark blocking: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Clear resets the task's escalation to its initial state. Missing rows are not an error.
func (r *EscalationRepository) Clear(ctx context.Context, taskID uint) error {
	err := r.db.WithContext(ctx).Model(&model.Escalation{}).
		Where("task_id = ?", taskID).
		Updates(map[string]interface{}{
			"escalation_level":     model.LevelNormal,
			"notification_count":   0,
			"last_notification_at": nil,
			"became_overdue_at":    nil,
			"coaches_notified":     false,
			"coaches_notified_at":  nil,
			"blocking_app":         false,
			"blocking_started_at":  nil,
		}).Error
	if err != nil {
		return fmt.Errorf("clear escalation: %w", err)
	}
	return nil
}

// DeleteOrphans removes escalations whose task is gone or deleted.
func (r *EscalationRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	sub := r.db.Model(&model.Task{}).Select("id").Where("deleted_at IS NULL AND status <> ?", model.StatusDeleted)
	res := r.db.WithContext(ctx).Where("task_id NOT IN (?)", sub).Delete(&model.Escalation{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete orphan escalations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// liveTasks selects the ids of tasks an escalation may still act on.
func (r *EscalationRepository) liveTasks() *gorm.DB {
	return r.db.Model(&model.Task{}).Select("id").Where("status = ? AND deleted_at IS NULL", model.StatusPending)
}
