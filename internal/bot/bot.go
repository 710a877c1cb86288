package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"coach-planner/internal/model"
	"coach-planner/internal/repository"
	"coach-planner/internal/service"
)

const (
	cbDonePrefix = "done:"

	iconDefault   = "🟢"
	iconDue       = "⏳"
	iconOverdue   = "⚠️"
	iconRecurring = "♻️"

	dueLayout = "2006-01-02 15:04"
)

// Bot is the chat command surface over the task service.
type Bot struct {
	api      *tgbotapi.BotAPI
	userRepo *repository.UserRepository
	taskSvc  *service.TaskService
	now      func() time.Time
}

func New(api *tgbotapi.BotAPI, userRepo *repository.UserRepository, taskSvc *service.TaskService) *Bot {
	return &Bot{api: api, userRepo: userRepo, taskSvc: taskSvc, now: time.Now}
}

// NewAPI authorizes a Telegram client for the token.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Printf("[info] bot authorized on account %s", api.Self.UserName)
	return api, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}
	if !msg.IsCommand() {
		return b.sendText(msg.Chat.ID, "I did not get that. Try /tasks or /help.")
	}

	log.Printf("[info] command from %d: /%s %s", msg.From.ID, msg.Command(), msg.CommandArguments())
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.sendText(msg.Chat.ID, helpText)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "done":
		return b.handleDone(ctx, msg)
	case "reschedule":
		return b.handleReschedule(ctx, msg)
	case "reasons":
		return b.sendText(msg.Chat.ID, reasonsText())
	case "streak":
		return b.handleStreak(ctx, msg)
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

const helpText = "ℹ️ <b>Commands</b>\n" +
	"• /tasks — open tasks\n" +
	"• /done &lt;id&gt; [reason] — complete a task, with a reason if it is late\n" +
	"• /reschedule &lt;id&gt; &lt;YYYY-MM-DD HH:MM&gt; &lt;reason&gt; — move a task\n" +
	"• /reasons — suggested reschedule reasons\n" +
	"• /streak — your completion streak"

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(user.Name)
	if name == "" {
		name = "there"
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("👋 Hi, %s!\n<b>I keep you and your coach on track.</b>\n\n%s", escape(name), helpText))
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	log.Printf("[info] list tasks for user=%d", user.ID)
	return b.sendTaskList(ctx, msg.Chat.ID, user)
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64, user *model.User) error {
	tasks, err := b.taskSvc.ListPending(ctx, user.ID)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not load tasks: %s", escape(err.Error())))
	}
	if len(tasks) == 0 {
		return b.sendText(chatID, "No open tasks. Nice work.")
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].DueAt.Equal(tasks[j].DueAt) {
			return tasks[i].DueAt.Before(tasks[j].DueAt)
		}
		return tasks[i].ID < tasks[j].ID
	})

	now := b.now().In(user.Location())
	var builder strings.Builder
	builder.WriteString("📋 <b>Open tasks</b>\n\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, task := range tasks {
		builder.WriteString(formatTask(task, now))
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ #%d · %s", task.ID, shortTitle(task.Title, 24)), fmt.Sprintf("%s%d", cbDonePrefix, task.ID)),
		))
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleDone(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, reason, err := parseDoneArgs(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(err.Error()))
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.complete(ctx, msg.Chat.ID, user, taskID, reason)
}

func (b *Bot) complete(ctx context.Context, chatID int64, user *model.User, taskID uint, reason string) error {
	if _, err := b.ownedTask(ctx, user, taskID); err != nil {
		return b.replyError(chatID, err)
	}
	task, err := b.taskSvc.CompleteTask(ctx, taskID, service.CompleteInput{MissedReason: reason}, b.now().UTC())
	if err != nil {
		return b.replyError(chatID, err)
	}
	log.Printf("[info] task completed via bot id=%d user=%d", task.ID, user.ID)
	return b.sendText(chatID, fmt.Sprintf("✅ Task «%s» is done.", escape(normalizeTitle(task.Title))))
}

func (b *Bot) handleReschedule(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	args, err := parseRescheduleArgs(msg.CommandArguments(), user.Location())
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(err.Error()))
	}
	if _, err := b.ownedTask(ctx, user, args.taskID); err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	event, err := b.taskSvc.RescheduleTask(ctx, args.taskID, service.RescheduleInput{NewDueAt: args.due, Reason: args.reason}, b.now().UTC())
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("📅 Task #%d moved to %s.\n   📝 %s",
		event.TaskID, event.NewDueAt.In(user.Location()).Format(dueLayout), escape(event.Reason)))
}

func (b *Bot) handleStreak(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("🔥 Current streak: <b>%d</b> day(s).", user.CurrentStreak)
	if user.LastStreakDate != nil {
		text += fmt.Sprintf("\nLast counted day: %s", *user.LastStreakDate)
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("callback ack: %v", err)
	}
	if !strings.HasPrefix(cb.Data, cbDonePrefix) {
		return nil
	}
	taskID, err := parseTaskID(cb.Data, cbDonePrefix)
	if err != nil {
		return nil
	}
	log.Printf("[info] callback complete user=%d task=%d", cb.From.ID, taskID)
	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return err
	}
	return b.complete(ctx, cb.Message.Chat.ID, user, taskID, "")
}

// ownedTask hides tasks of other users behind not found.
func (b *Bot) ownedTask(ctx context.Context, user *model.User, taskID uint) (*model.Task, error) {
	task, err := b.taskSvc.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.OwnerID != user.ID {
		return nil, repository.ErrNotFound
	}
	return task, nil
}

func (b *Bot) replyError(chatID int64, err error) error {
	return b.sendText(chatID, errorText(err))
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	user, err := b.userRepo.FindByTelegramID(ctx, from.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	user = &model.User{
		TelegramID: from.ID,
		Name:       strings.TrimSpace(from.FirstName + " " + from.LastName),
	}
	if err := b.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	log.Printf("[info] registered telegram user=%d id=%d", from.ID, user.ID)
	return user, nil
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func errorText(err error) string {
	if errors.Is(err, repository.ErrNotFound) {
		return "Task not found."
	}
	if ve, ok := service.AsValidation(err); ok {
		switch ve.Code {
		case service.CodeMissingReason:
			return "✏️ A reason is required. Add it after the command, e.g. <code>/done 12 missed the bus</code> or <code>/reschedule 12 2026-05-14 09:00 unwell</code>. See /reasons."
		case service.CodeInvalidDueAt:
			return "The new due time is not valid."
		case service.CodeInvalidStatus:
			return "This task can no longer be changed."
		}
		return escape(ve.Message)
	}
	return fmt.Sprintf("Error: %s", escape(err.Error()))
}

func reasonsText() string {
	var b strings.Builder
	b.WriteString("📝 <b>Reschedule reasons</b>\n")
	for _, r := range model.RescheduleReasons {
		b.WriteString(fmt.Sprintf("• <code>%s</code>\n", r))
	}
	b.WriteString("Any other text works too.")
	return b.String()
}

func parseDoneArgs(raw string) (uint, string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, "", errors.New("Give the task ID: /done 12")
	}
	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil || id == 0 {
		return 0, "", errors.New("The task ID must be a number.")
	}
	return uint(id), strings.Join(fields[1:], " "), nil
}

type rescheduleArgs struct {
	taskID uint
	due    time.Time
	reason string
}

// parseRescheduleArgs reads "<id> <YYYY-MM-DD HH:MM> <reason...>" with the
// time taken in loc. A missing reason is left for the service to reject.
func parseRescheduleArgs(raw string, loc *time.Location) (rescheduleArgs, error) {
	usage := errors.New("Usage: /reschedule 12 2026-05-14 09:00 reason")
	fields := strings.Fields(raw)
	if len(fields) < 3 {
		return rescheduleArgs{}, usage
	}
	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil || id == 0 {
		return rescheduleArgs{}, errors.New("The task ID must be a number.")
	}
	due, err := time.ParseInLocation(dueLayout, fields[1]+" "+fields[2], loc)
	if err != nil {
		return rescheduleArgs{}, usage
	}
	return rescheduleArgs{taskID: uint(id), due: due.UTC(), reason: strings.Join(fields[3:], " ")}, nil
}

func parseTaskID(data, prefix string) (uint, error) {
	raw := strings.TrimPrefix(data, prefix)
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

func formatTask(task model.Task, now time.Time) string {
	var b strings.Builder
	due := task.DueAt.In(now.Location())
	icon := iconDefault
	switch {
	case now.After(due):
		icon = iconOverdue
	case due.Sub(now) <= 24*time.Hour:
		icon = iconDue
	}
	if task.RecurringTemplateID != nil {
		icon += iconRecurring
	}
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", icon, task.ID, escape(normalizeTitle(task.Title))))
	if now.After(due) {
		b.WriteString(fmt.Sprintf("   ⏰ Due: %s · <b>overdue</b>\n", due.Format(dueLayout)))
	} else {
		b.WriteString(fmt.Sprintf("   ⏰ Due: %s\n", due.Format(dueLayout)))
	}
	if task.Description != "" {
		b.WriteString(fmt.Sprintf("   📝 %s\n", escape(task.Description)))
	}
	b.WriteByte('\n')
	return b.String()
}

func shortTitle(title string, maxLen int) string {
	title = normalizeTitle(title)
	runes := []rune(title)
	if len(runes) <= maxLen {
		return title
	}
	return string(runes[:maxLen-1]) + "…"
}

func escape(s string) string {
	return html.EscapeString(s)
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
