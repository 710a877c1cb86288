package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"coach-planner/internal/model"
	"coach-planner/internal/repository"
)

var errDispatch = errors.New("dispatch failed")

type notification struct {
	kind   string
	taskID uint
	level  model.EscalationLevel
}

type fakeNotifier struct {
	mu        sync.Mutex
	sent      []notification
	failTasks map[uint]bool
	failKinds map[string]bool

	// onReminder runs inside SendReminder; a non-nil result is returned as the delivery error.
	onReminder func(ctx context.Context) error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failTasks: map[uint]bool{}, failKinds: map[string]bool{}}
}

func (f *fakeNotifier) record(kind string, task model.Task, level model.EscalationLevel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{kind: kind, taskID: task.ID, level: level})
	if f.failTasks[task.ID] || f.failKinds[kind] {
		return errDispatch
	}
	return nil
}

func (f *fakeNotifier) SendReminder(ctx context.Context, task model.Task, level model.EscalationLevel) error {
	err := f.record("reminder", task, level)
	if f.onReminder != nil {
		if hookErr := f.onReminder(ctx); hookErr != nil {
			return hookErr
		}
	}
	return err
}

func (f *fakeNotifier) AlertCoachesOfOverdue(_ context.Context, task model.Task) error {
	return f.record("coach_alert", task, "")
}

func (f *fakeNotifier) AppBlockingStarted(_ context.Context, task model.Task) error {
	return f.record("blocking", task, "")
}

func (f *fakeNotifier) RecurringTaskGenerated(_ context.Context, instance model.Task) error {
	return f.record("generated", instance, "")
}

func (f *fakeNotifier) TaskCompleted(_ context.Context, task model.Task) error {
	return f.record("completed", task, "")
}

func (f *fakeNotifier) count(kind string, taskID uint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.kind == kind && (taskID == 0 || s.taskID == taskID) {
			n++
		}
	}
	return n
}

func (f *fakeNotifier) last(kind string) (notification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].kind == kind {
			return f.sent[i], true
		}
	}
	return notification{}, false
}

type testEnv struct {
	db          *gorm.DB
	tasks       *repository.TaskRepository
	escalations *repository.EscalationRepository
	users       *repository.UserRepository
	locks       *repository.LockRepository
	notifier    *fakeNotifier

	escalation  *EscalationService
	reminders   *ReminderService
	recurrence  *RecurrenceService
	streaks     *StreakService
	taskSvc     *TaskService
	maintenance *MaintenanceService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := repository.NewDB("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	env := &testEnv{
		db:          db,
		tasks:       repository.NewTaskRepository(db),
		escalations: repository.NewEscalationRepository(db),
		users:       repository.NewUserRepository(db),
		locks:       repository.NewLockRepository(db),
		notifier:    newFakeNotifier(),
	}
	const workers = 4
	env.escalation = NewEscalationService(env.tasks, env.escalations, env.notifier, workers)
	env.reminders = NewReminderService(env.tasks, env.notifier, workers)
	env.recurrence = NewRecurrenceService(env.tasks, env.users, env.notifier, 7, workers)
	env.streaks = NewStreakService(env.tasks, env.users, workers)
	env.taskSvc = NewTaskService(env.tasks, env.escalations, env.users, env.recurrence, env.notifier)
	env.maintenance = NewMaintenanceService(env.tasks, env.escalations, env.locks, time.Minute, 30)
	return env
}

func (e *testEnv) createTask(t *testing.T, task model.Task) model.Task {
	t.Helper()
	if err := e.tasks.Create(context.Background(), &task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (e *testEnv) createUser(t *testing.T, user model.User) model.User {
	t.Helper()
	if err := e.users.Create(context.Background(), &user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (e *testEnv) reload(t *testing.T, id uint) model.Task {
	t.Helper()
	task, err := e.tasks.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload task %d: %v", id, err)
	}
	return *task
}

func (e *testEnv) escalationOf(t *testing.T, taskID uint) model.Escalation {
	t.Helper()
	esc, err := e.escalations.FindByTaskID(context.Background(), taskID)
	if err != nil {
		t.Fatalf("find escalation of %d: %v", taskID, err)
	}
	return *esc
}

// sweepTime is a fixed sweep instant used across tests.
var sweepTime = time.Date(2026, 5, 12, 15, 0, 0, 0, time.UTC)
