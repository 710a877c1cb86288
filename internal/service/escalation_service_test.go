package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"coach-planner/internal/model"
	"coach-planner/internal/repository"
)

func TestLevelForTable(t *testing.T) {
	cases := []struct {
		priority model.TaskPriority
		minutes  float64
		want     model.EscalationLevel
	}{
		{model.PriorityUrgent, 10, model.LevelNormal},
		{model.PriorityUrgent, 30, model.LevelNormal},
		{model.PriorityUrgent, 31, model.LevelWarning},
		{model.PriorityUrgent, 61, model.LevelCritical},
		{model.PriorityUrgent, 121, model.LevelBlocking},
		{model.PriorityUrgent, 500, model.LevelBlocking},
		{model.PriorityHigh, 45, model.LevelNormal},
		{model.PriorityHigh, 61, model.LevelWarning},
		{model.PriorityHigh, 120, model.LevelWarning},
		{model.PriorityHigh, 121, model.LevelCritical},
		{model.PriorityHigh, 241, model.LevelBlocking},
		{model.PriorityMedium, 100, model.LevelNormal},
		{model.PriorityMedium, 121, model.LevelWarning},
		{model.PriorityMedium, 241, model.LevelCritical},
		{model.PriorityMedium, 10000, model.LevelCritical},
		{model.PriorityLow, 241, model.LevelCritical},
		{model.TaskPriority("bogus"), 10000, model.LevelNormal},
	}
	for _, tc := range cases {
		got := LevelFor(tc.priority, tc.minutes)
		if got != tc.want {
			t.Errorf("LevelFor(%s, %v) = %s, want %s", tc.priority, tc.minutes, got, tc.want)
		}
		if again := LevelFor(tc.priority, tc.minutes); again != got {
			t.Errorf("LevelFor(%s, %v) not deterministic: %s then %s", tc.priority, tc.minutes, got, again)
		}
	}
}

func TestEscalationUrgentOverdueGoesStraightToBlocking(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, model.Task{
		Title:                       "Submit report",
		Priority:                    model.PriorityUrgent,
		DueAt:                       sweepTime.Add(-130 * time.Minute),
		NotificationIntervalMinutes: 15,
	})

	report, err := env.escalation.Sweep(context.Background(), sweepTime)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Processed != 1 || report.Changed != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %s", report)
	}

	esc := env.escalationOf(t, task.ID)
	if esc.Level != model.LevelBlocking {
		t.Fatalf("expected blocking, got %s", esc.Level)
	}
	if esc.NotificationCount != 1 {
		t.Fatalf("expected 1 notification, got %d", esc.NotificationCount)
	}
	if !esc.CoachesNotified || esc.CoachesNotifiedAt == nil {
		t.Fatalf("expected coaches to be notified")
	}
	if !esc.BlockingApp || esc.BlockingStartedAt == nil {
		t.Fatalf("expected app blocking to start")
	}
	if esc.BecameOverdueAt == nil || !esc.BecameOverdueAt.Equal(sweepTime) {
		t.Fatalf("expected became_overdue_at %v, got %v", sweepTime, esc.BecameOverdueAt)
	}

	if n := env.notifier.count("reminder", task.ID); n != 1 {
		t.Fatalf("expected 1 reminder, got %d", n)
	}
	if last, _ := env.notifier.last("reminder"); last.level != model.LevelBlocking {
		t.Fatalf("expected reminder at blocking level, got %s", last.level)
	}
	if n := env.notifier.count("coach_alert", task.ID); n != 1 {
		t.Fatalf("expected 1 coach alert, got %d", n)
	}
	if n := env.notifier.count("blocking", task.ID); n != 1 {
		t.Fatalf("expected 1 blocking notice, got %d", n)
	}
}

func TestEscalationRespectsNotificationInterval(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, model.Task{
		Title:                       "Water plants",
		Priority:                    model.PriorityHigh,
		DueAt:                       sweepTime.Add(-90 * time.Minute),
		NotificationIntervalMinutes: 30,
	})
	ctx := context.Background()

	for _, at := range []time.Time{sweepTime, sweepTime, sweepTime.Add(10 * time.Minute)} {
		if _, err := env.escalation.Sweep(ctx, at); err != nil {
			t.Fatalf("sweep: %v", err)
		}
	}
	esc := env.escalationOf(t, task.ID)
	if esc.NotificationCount != 1 {
		t.Fatalf("expected repeated sweeps inside the interval to be no-ops, got count %d", esc.NotificationCount)
	}
	if esc.Level != model.LevelWarning {
		t.Fatalf("expected warning, got %s", esc.Level)
	}

	later := sweepTime.Add(35 * time.Minute)
	if _, err := env.escalation.Sweep(ctx, later); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	esc = env.escalationOf(t, task.ID)
	if esc.NotificationCount != 2 {
		t.Fatalf("expected second notification after the interval, got %d", esc.NotificationCount)
	}
	if esc.Level != model.LevelCritical {
		t.Fatalf("expected critical at 125 minutes overdue, got %s", esc.Level)
	}
	if !esc.CoachesNotified || esc.BlockingApp {
		t.Fatalf("expected coaches notified without blocking, got coaches=%t blocking=%t", esc.CoachesNotified, esc.BlockingApp)
	}
	if !esc.BecameOverdueAt.Equal(sweepTime) {
		t.Fatalf("expected became_overdue_at to stay %v, got %v", sweepTime, esc.BecameOverdueAt)
	}
}

func TestEscalationSkipsSnoozableDoneAndFutureTasks(t *testing.T) {
	env := newTestEnv(t)
	completed := sweepTime.Add(-time.Hour)
	snoozable := env.createTask(t, model.Task{Title: "Snooze me", Priority: model.PriorityUrgent, DueAt: sweepTime.Add(-3 * time.Hour), CanBeSnoozed: true})
	done := env.createTask(t, model.Task{Title: "Done", Priority: model.PriorityUrgent, DueAt: sweepTime.Add(-3 * time.Hour), Status: model.StatusDone, CompletedAt: &completed})
	future := env.createTask(t, model.Task{Title: "Later", Priority: model.PriorityUrgent, DueAt: sweepTime.Add(time.Hour)})

	report, err := env.escalation.Sweep(context.Background(), sweepTime)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Processed != 0 {
		t.Fatalf("expected no eligible tasks, got %s", report)
	}
	for _, id := range []uint{snoozable.ID, done.ID, future.ID} {
		if _, err := env.escalations.FindByTaskID(context.Background(), id); err == nil {
			t.Fatalf("expected no escalation for task %d", id)
		}
	}
}

func TestEscalationLevelNeverDecreases(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, model.Task{Title: "Pay bill", Priority: model.PriorityMedium, DueAt: sweepTime.Add(-5 * time.Hour)})
	ctx := context.Background()

	if _, err := env.escalation.Sweep(ctx, sweepTime); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if esc := env.escalationOf(t, task.ID); esc.Level != model.LevelCritical {
		t.Fatalf("expected critical, got %s", esc.Level)
	}

	// Moving the due date forward makes the table say "warning", but the stored level stays.
	if _, err := env.tasks.Reschedule(ctx, task.ID, sweepTime.Add(-150*time.Minute), model.ReasonOther, sweepTime); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if _, err := env.escalation.Sweep(ctx, sweepTime.Add(time.Minute)); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	esc := env.escalationOf(t, task.ID)
	if esc.Level != model.LevelCritical {
		t.Fatalf("expected level to stay critical, got %s", esc.Level)
	}
	if n := env.notifier.count("coach_alert", task.ID); n != 1 {
		t.Fatalf("expected a single coach alert, got %d", n)
	}
}

func TestEscalationDispatchFailureIsIsolatedAndRetried(t *testing.T) {
	env := newTestEnv(t)
	failing := env.createTask(t, model.Task{Title: "Flaky", Priority: model.PriorityHigh, DueAt: sweepTime.Add(-70 * time.Minute), NotificationIntervalMinutes: 60})
	healthy := env.createTask(t, model.Task{Title: "Fine", Priority: model.PriorityHigh, DueAt: sweepTime.Add(-70 * time.Minute), NotificationIntervalMinutes: 60})
	env.notifier.failTasks[failing.ID] = true
	ctx := context.Background()

	report, err := env.escalation.Sweep(ctx, sweepTime)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Processed != 2 || report.Failed != 1 {
		t.Fatalf("expected one failure out of two, got %s", report)
	}
	if esc := env.escalationOf(t, healthy.ID); esc.NotificationCount != 1 {
		t.Fatalf("expected healthy task to be notified, got count %d", esc.NotificationCount)
	}
	esc := env.escalationOf(t, failing.ID)
	if esc.NotificationCount != 0 || esc.LastNotificationAt != nil {
		t.Fatalf("expected failed reminder to release its claim, got count=%d last=%v", esc.NotificationCount, esc.LastNotificationAt)
	}
	if esc.Level != model.LevelWarning {
		t.Fatalf("expected level to be raised regardless, got %s", esc.Level)
	}

	delete(env.notifier.failTasks, failing.ID)
	if _, err := env.escalation.Sweep(ctx, sweepTime.Add(time.Minute)); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if esc := env.escalationOf(t, failing.ID); esc.NotificationCount != 1 {
		t.Fatalf("expected retry on the next sweep, got count %d", esc.NotificationCount)
	}
}

func TestEscalationOverlappingSweepsDoNotDoubleFire(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, model.Task{Title: "Race", Priority: model.PriorityUrgent, DueAt: sweepTime.Add(-3 * time.Hour), NotificationIntervalMinutes: 10})
	ctx := context.Background()

	stale := env.reload(t, task.ID)
	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := env.escalation.ProcessTask(ctx, stale, sweepTime)
			done <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	esc := env.escalationOf(t, task.ID)
	if esc.NotificationCount != 1 {
		t.Fatalf("expected a single notification round, got %d", esc.NotificationCount)
	}
	if n := env.notifier.count("blocking", task.ID); n != 1 {
		t.Fatalf("expected a single blocking notice, got %d", n)
	}
}

func TestEscalationCompletionDuringSweepWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.createTask(t, model.Task{Title: "Raced", Priority: model.PriorityUrgent, DueAt: sweepTime.Add(-3 * time.Hour), NotificationIntervalMinutes: 10})

	listed, err := env.tasks.ListOverdueEscalatable(ctx, sweepTime)
	if err != nil || len(listed) != 1 {
		t.Fatalf("list overdue: n=%d err=%v", len(listed), err)
	}
	if _, err := env.taskSvc.CompleteTask(ctx, task.ID, CompleteInput{}, sweepTime); err != nil {
		t.Fatalf("complete: %v", err)
	}

	fired, err := env.escalation.ProcessTask(ctx, listed[0], sweepTime)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if fired {
		t.Fatalf("expected no notification round for a completed task")
	}
	for _, kind := range []string{"reminder", "coach_alert", "blocking"} {
		if n := env.notifier.count(kind, task.ID); n != 0 {
			t.Fatalf("expected no %s for a completed task, got %d", kind, n)
		}
	}
	if esc, err := env.escalations.FindByTaskID(ctx, task.ID); err == nil && esc.Level != model.LevelNormal {
		t.Fatalf("expected level to stay normal, got %s", esc.Level)
	}
}

func TestEscalationDeleteDuringSweepDoesNotRecreateRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.createTask(t, model.Task{Title: "Dropped", Priority: model.PriorityHigh, DueAt: sweepTime.Add(-5 * time.Hour)})

	listed, err := env.tasks.ListOverdueEscalatable(ctx, sweepTime)
	if err != nil || len(listed) != 1 {
		t.Fatalf("list overdue: n=%d err=%v", len(listed), err)
	}
	if err := env.tasks.SoftDelete(ctx, task.ID, sweepTime); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if fired, err := env.escalation.ProcessTask(ctx, listed[0], sweepTime); err != nil || fired {
		t.Fatalf("expected a quiet no-op, fired=%v err=%v", fired, err)
	}
	if _, err := env.escalations.FindByTaskID(ctx, task.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no escalation row for a deleted task, got %v", err)
	}
	if n := env.notifier.count("reminder", task.ID); n != 0 {
		t.Fatalf("expected no reminder for a deleted task, got %d", n)
	}
}

func TestEscalationCancelledDeliveryReleasesRound(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, model.Task{Title: "Slow", Priority: model.PriorityHigh, DueAt: sweepTime.Add(-70 * time.Minute), NotificationIntervalMinutes: 60})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.notifier.onReminder = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	if _, err := env.escalation.ProcessTask(ctx, env.reload(t, task.ID), sweepTime); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled delivery to surface, got %v", err)
	}
	esc := env.escalationOf(t, task.ID)
	if esc.NotificationCount != 0 || esc.LastNotificationAt != nil {
		t.Fatalf("expected the round to be released, got count=%d last=%v", esc.NotificationCount, esc.LastNotificationAt)
	}
}

func TestEscalationSweepDeadlineDoesNotCutItemShort(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, model.Task{Title: "Long send", Priority: model.PriorityHigh, DueAt: sweepTime.Add(-70 * time.Minute), NotificationIntervalMinutes: 60})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var itemErr error
	env.notifier.onReminder = func(itemCtx context.Context) error {
		cancel()
		itemErr = itemCtx.Err()
		return nil
	}

	report, err := env.escalation.Sweep(ctx, sweepTime)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if itemErr != nil {
		t.Fatalf("expected the running item to keep a live context, got %v", itemErr)
	}
	if report.Changed != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %s", report)
	}
	if esc := env.escalationOf(t, task.ID); esc.NotificationCount != 1 {
		t.Fatalf("expected the delivered round to stay recorded, got %d", esc.NotificationCount)
	}
}
