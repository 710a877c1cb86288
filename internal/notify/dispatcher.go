package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gopkg.in/gomail.v2"

	"coach-planner/internal/model"
	"coach-planner/internal/repository"
)

// MessageSender is the part of tgbotapi.BotAPI the dispatcher needs.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Mailer is satisfied by *gomail.Dialer.
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Dispatcher delivers notifications over Telegram and, for coaches with an
// email address, over SMTP. A nil sender or mailer turns that channel into
// a log line.
type Dispatcher struct {
	users    *repository.UserRepository
	telegram MessageSender
	mailer   Mailer
	from     string
}

func NewDispatcher(users *repository.UserRepository, telegram MessageSender, mailer Mailer, from string) *Dispatcher {
	return &Dispatcher{users: users, telegram: telegram, mailer: mailer, from: from}
}

// NewMailer builds an SMTP dialer, or returns nil when host is empty.
func NewMailer(host string, port int, user, password string) Mailer {
	if strings.TrimSpace(host) == "" {
		return nil
	}
	return gomail.NewDialer(host, port, user, password)
}

func (d *Dispatcher) SendReminder(ctx context.Context, task model.Task, level model.EscalationLevel) error {
	owner, err := d.users.FindByID(ctx, task.OwnerID)
	if err != nil {
		return fmt.Errorf("resolve owner of task %d: %w", task.ID, err)
	}
	return d.sendTelegram(owner, reminderText(task, level, time.Now().In(owner.Location())))
}

func (d *Dispatcher) AlertCoachesOfOverdue(ctx context.Context, task model.Task) error {
	owner, err := d.users.FindByID(ctx, task.OwnerID)
	if err != nil {
		return fmt.Errorf("resolve owner of task %d: %w", task.ID, err)
	}
	coaches, err := d.users.ListCoaches(ctx, task.OwnerID)
	if err != nil {
		return err
	}
	if len(coaches) == 0 {
		log.Printf("[notify] task=%d owner=%d has no coaches to alert", task.ID, task.OwnerID)
		return nil
	}

	text := fmt.Sprintf("🚨 <b>%s</b> is overdue on <b>#%d</b> %s\n   ⏰ Due: %s",
		escape(displayName(*owner)), task.ID, escape(task.Title), formatDue(task.DueAt, owner.Location()))
	var errs []error
	for _, coach := range coaches {
		if err := d.sendTelegram(&coach, text); err != nil {
			errs = append(errs, fmt.Errorf("coach %d telegram: %w", coach.ID, err))
		}
		if err := d.sendEmail(coach, fmt.Sprintf("Overdue task: %s", task.Title), text); err != nil {
			errs = append(errs, fmt.Errorf("coach %d email: %w", coach.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) AppBlockingStarted(ctx context.Context, task model.Task) error {
	owner, err := d.users.FindByID(ctx, task.OwnerID)
	if err != nil {
		return fmt.Errorf("resolve owner of task %d: %w", task.ID, err)
	}
	text := fmt.Sprintf("⛔ <b>App blocked</b> until you finish <b>#%d</b> %s.\nComplete it with /done %d, or /reschedule it with a reason.",
		task.ID, escape(task.Title), task.ID)
	return d.sendTelegram(owner, text)
}

func (d *Dispatcher) RecurringTaskGenerated(ctx context.Context, instance model.Task) error {
	owner, err := d.users.FindByID(ctx, instance.OwnerID)
	if err != nil {
		return fmt.Errorf("resolve owner of task %d: %w", instance.ID, err)
	}
	text := fmt.Sprintf("♻️ New occurrence <b>#%d</b> %s\n   ⏰ Due: %s",
		instance.ID, escape(instance.Title), formatDue(instance.DueAt, owner.Location()))
	return d.sendTelegram(owner, text)
}

func (d *Dispatcher) TaskCompleted(ctx context.Context, task model.Task) error {
	creator, err := d.users.FindByID(ctx, task.CreatorID)
	if err != nil {
		return fmt.Errorf("resolve creator of task %d: %w", task.ID, err)
	}
	text := fmt.Sprintf("✅ <b>#%d</b> %s was completed", task.ID, escape(task.Title))
	if task.MissedReason != nil {
		text += fmt.Sprintf(" late.\n   📝 Reason: %s", escape(*task.MissedReason))
	} else {
		text += "."
	}
	if err := d.sendTelegram(creator, text); err != nil {
		return err
	}
	return d.sendEmail(*creator, fmt.Sprintf("Task completed: %s", task.Title), text)
}

func (d *Dispatcher) sendTelegram(user *model.User, text string) error {
	if user.TelegramID == 0 {
		return nil
	}
	if d.telegram == nil {
		log.Printf("[notify] telegram disabled, user=%d: %s", user.ID, text)
		return nil
	}
	msg := tgbotapi.NewMessage(user.TelegramID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := d.telegram.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func (d *Dispatcher) sendEmail(user model.User, subject, body string) error {
	if user.Email == "" || d.mailer == nil {
		return nil
	}
	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", user.Email)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", "<p>"+strings.ReplaceAll(body, "\n", "<br>")+"</p>")
	if err := d.mailer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func reminderText(task model.Task, level model.EscalationLevel, now time.Time) string {
	icon := levelIcons[level]
	if icon == "" {
		icon = "⏳"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", icon, task.ID, escape(task.Title)))
	due := formatDue(task.DueAt, now.Location())
	if task.DueAt.Before(now) {
		b.WriteString(fmt.Sprintf("   ⏰ Due: %s · <b>overdue</b>", due))
	} else {
		b.WriteString(fmt.Sprintf("   ⏰ Due: %s", due))
	}
	if level != model.LevelNormal && level != "" {
		b.WriteString(fmt.Sprintf("\n   Escalation: <b>%s</b>", level))
	}
	return b.String()
}

var levelIcons = map[model.EscalationLevel]string{
	model.LevelNormal:   "⏳",
	model.LevelWarning:  "⚠️",
	model.LevelCritical: "🔥",
	model.LevelBlocking: "⛔",
}

func formatDue(due time.Time, loc *time.Location) string {
	return due.In(loc).Format("2006-01-02 15:04")
}

func displayName(u model.User) string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	return fmt.Sprintf("user %d", u.ID)
}

func escape(s string) string {
	return html.EscapeString(s)
}
