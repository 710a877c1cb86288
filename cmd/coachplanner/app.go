package main

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"

	"coach-planner/internal/bot"
	"coach-planner/internal/config"
	"coach-planner/internal/notify"
	"coach-planner/internal/repository"
	"coach-planner/internal/service"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg    config.Config
	db     *gorm.DB
	tgAPI  *tgbotapi.BotAPI
	users  *repository.UserRepository
	tasks  *service.TaskService
	remind *service.ReminderService
	sweeps service.Sweeps
}

func newApp(cfg config.Config, withTelegram bool) (*app, error) {
	db, err := repository.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	taskRepo := repository.NewTaskRepository(db)
	escRepo := repository.NewEscalationRepository(db)
	userRepo := repository.NewUserRepository(db)
	lockRepo := repository.NewLockRepository(db)

	a := &app{cfg: cfg, db: db, users: userRepo}

	var sender notify.MessageSender
	if withTelegram && cfg.TelegramToken != "" {
		api, err := bot.NewAPI(cfg.TelegramToken)
		if err != nil {
			a.close()
			return nil, err
		}
		a.tgAPI = api
		sender = api
	} else {
		log.Println("[info] telegram disabled, notifications are logged only")
	}
	mailer := notify.NewMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password)
	notifier := notify.NewDispatcher(userRepo, sender, mailer, cfg.SMTP.From)

	workers := cfg.SweepWorkers
	escalation := service.NewEscalationService(taskRepo, escRepo, notifier, workers)
	reminders := service.NewReminderService(taskRepo, notifier, workers)
	recurrence := service.NewRecurrenceService(taskRepo, userRepo, notifier, cfg.RecurrenceHorizonDays, workers)
	streaks := service.NewStreakService(taskRepo, userRepo, workers)
	maintenance := service.NewMaintenanceService(taskRepo, escRepo, lockRepo, cfg.MaintenanceLockTTL, cfg.DeletedRetentionDays)

	a.tasks = service.NewTaskService(taskRepo, escRepo, userRepo, recurrence, notifier)
	a.remind = reminders
	a.sweeps = service.NewSweeps(escalation, reminders, recurrence, streaks, maintenance)
	return a, nil
}

func (a *app) cadence() service.Cadence {
	return service.Cadence{
		Escalation:  a.cfg.EscalationInterval,
		Reminders:   a.cfg.ReminderInterval,
		Recurrence:  a.cfg.RecurrenceInterval,
		Maintenance: a.cfg.MaintenanceInterval,
		StreakTime:  a.cfg.StreakTime,
		Timeout:     a.cfg.SweepTimeout,
	}
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
