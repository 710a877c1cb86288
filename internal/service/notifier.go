package service

import (
	"context"

	"coach-planner/internal/model"
)

// Notifier delivers user and coach notifications. Callers log and swallow
// its errors; nothing is retried within the same sweep.
type Notifier interface {
	SendReminder(ctx context.Context, task model.Task, level model.EscalationLevel) error
	AlertCoachesOfOverdue(ctx context.Context, task model.Task) error
	AppBlockingStarted(ctx context.Context, task model.Task) error
	RecurringTaskGenerated(ctx context.Context, instance model.Task) error
	TaskCompleted(ctx context.Context, task model.Task) error
}
