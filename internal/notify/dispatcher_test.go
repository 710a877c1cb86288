package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gopkg.in/gomail.v2"

	"coach-planner/internal/model"
	"coach-planner/internal/repository"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

type fakeMailer struct {
	sent []*gomail.Message
}

func (f *fakeMailer) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return nil
}

func setup(t *testing.T) (*repository.UserRepository, *fakeSender, *fakeMailer, *Dispatcher) {
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
	users := repository.NewUserRepository(db)
	sender := &fakeSender{}
	mailer := &fakeMailer{}
	return users, sender, mailer, NewDispatcher(users, sender, mailer, "planner@example.com")
}

func mustCreateUser(t *testing.T, users *repository.UserRepository, u model.User) model.User {
	t.Helper()
	if err := users.Create(context.Background(), &u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestSendReminderGoesToOwner(t *testing.T) {
	users, sender, _, d := setup(t)
	owner := mustCreateUser(t, users, model.User{Name: "Ann", TelegramID: 1001})
	task := model.Task{ID: 7, OwnerID: owner.ID, Title: "Read <ch. 3>", DueAt: time.Now().Add(-time.Hour)}

	if err := d.SendReminder(context.Background(), task, model.LevelCritical); err != nil {
		t.Fatalf("send reminder: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.ChatID != 1001 || msg.ParseMode != tgbotapi.ModeHTML {
		t.Fatalf("unexpected message target %+v", msg)
	}
	if !strings.Contains(msg.Text, "Read &lt;ch. 3&gt;") || !strings.Contains(msg.Text, "critical") {
		t.Fatalf("unexpected text %q", msg.Text)
	}
}

func TestAlertCoachesReachesEveryLinkedCoach(t *testing.T) {
	users, sender, mailer, d := setup(t)
	ctx := context.Background()
	owner := mustCreateUser(t, users, model.User{Name: "Ann", TelegramID: 1001})
	coachA := mustCreateUser(t, users, model.User{Name: "Coach A", TelegramID: 2001, IsCoach: true, Email: "a@example.com"})
	coachB := mustCreateUser(t, users, model.User{Name: "Coach B", TelegramID: 2002, IsCoach: true})
	for _, c := range []model.User{coachA, coachB} {
		if err := users.LinkCoach(ctx, c.ID, owner.ID); err != nil {
			t.Fatalf("link coach: %v", err)
		}
	}

	task := model.Task{ID: 3, OwnerID: owner.ID, Title: "Essay", DueAt: time.Now().Add(-5 * time.Hour)}
	if err := d.AlertCoachesOfOverdue(ctx, task); err != nil {
		t.Fatalf("alert coaches: %v", err)
	}
	chats := map[int64]bool{}
	for _, m := range sender.sent {
		chats[m.ChatID] = true
	}
	if len(sender.sent) != 2 || !chats[2001] || !chats[2002] {
		t.Fatalf("expected both coaches messaged, got %v", chats)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one email for the coach with an address, got %d", len(mailer.sent))
	}
	if to := mailer.sent[0].GetHeader("To"); len(to) != 1 || to[0] != "a@example.com" {
		t.Fatalf("unexpected recipient %v", to)
	}
}

func TestAlertCoachesWithoutCoachesIsNoop(t *testing.T) {
	users, sender, _, d := setup(t)
	owner := mustCreateUser(t, users, model.User{Name: "Solo", TelegramID: 1})
	if err := d.AlertCoachesOfOverdue(context.Background(), model.Task{ID: 1, OwnerID: owner.ID}); err != nil {
		t.Fatalf("alert: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no messages, got %d", len(sender.sent))
	}
}

func TestSendFailureIsReturned(t *testing.T) {
	users, sender, _, d := setup(t)
	owner := mustCreateUser(t, users, model.User{TelegramID: 5})
	sender.err = errors.New("telegram down")
	if err := d.AppBlockingStarted(context.Background(), model.Task{ID: 9, OwnerID: owner.ID}); err == nil {
		t.Fatalf("expected delivery error")
	}
}

func TestMissingOwnerIsAnError(t *testing.T) {
	_, _, _, d := setup(t)
	err := d.RecurringTaskGenerated(context.Background(), model.Task{ID: 1, OwnerID: 404})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDisabledTelegramOnlyLogs(t *testing.T) {
	users, _, _, _ := setup(t)
	owner := mustCreateUser(t, users, model.User{TelegramID: 5})
	d := NewDispatcher(users, nil, nil, "")
	if err := d.SendReminder(context.Background(), model.Task{ID: 1, OwnerID: owner.ID, DueAt: time.Now()}, model.LevelNormal); err != nil {
		t.Fatalf("expected log-only delivery, got %v", err)
	}
}

func TestNewMailerDisabledWithoutHost(t *testing.T) {
	if m := NewMailer("", 587, "", ""); m != nil {
		t.Fatalf("expected nil mailer without host")
	}
}
