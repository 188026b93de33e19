package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"

	"planner/internal/export"
	"planner/internal/model"
	"planner/internal/service"
)

const (
	cbCompletePrefix = "complete:"
	cbDeletePrefix   = "delete:"
	cbConfirmPrefix  = "confirm:"
	cbCancelPrefix   = "cancel:"
)

type confirmationAction int

const (
	actionComplete confirmationAction = iota
	actionDelete
)

type confirmationRequest struct {
	taskID uint
	action confirmationAction
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendTaskList(ctx, msg.Chat.ID, user)
}

// commandTask resolves "/cmd <id>" to one of the user's tasks. A nil task
// means the user has already been answered.
func (b *Bot) commandTask(ctx context.Context, msg *tgbotapi.Message) (*model.User, *model.Task, error) {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return nil, nil, b.sendText(msg.Chat.ID, fmt.Sprintf("Укажи ID задачи: /%s 12", msg.Command()))
	}
	taskID, err := parseTaskID(args, "")
	if err != nil {
		return nil, nil, b.sendText(msg.Chat.ID, "ID задачи должен быть числом.")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return nil, nil, err
	}
	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, b.sendText(msg.Chat.ID, "Задача не найдена.")
		}
		return nil, nil, b.sendText(msg.Chat.ID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}
	return user, task, nil
}

func (b *Bot) handleComplete(ctx context.Context, msg *tgbotapi.Message) error {
	user, task, err := b.commandTask(ctx, msg)
	if task == nil {
		return err
	}
	if task.IsDone {
		return b.sendText(msg.Chat.ID, alreadyDoneText(*task))
	}

	task, err = b.taskSvc.CompleteTask(ctx, user, task.ID, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}
	b.log.Info().Uint("task_id", task.ID).Uint("user_id", user.ID).Bool("recurring", task.IsRecurring()).Msg("task completed")
	return b.sendText(msg.Chat.ID, completedText(*task))
}

// handleDelete удаляет задачу полностью (включая повторяющиеся).
func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message) error {
	user, task, err := b.commandTask(ctx, msg)
	if task == nil {
		return err
	}
	if err := b.taskSvc.DeleteTask(ctx, user, task.ID); err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось удалить задачу: %s", escape(err.Error())))
	}
	b.log.Info().Uint("task_id", task.ID).Uint("user_id", user.ID).Msg("task deleted")
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🗑 Задача \"%s\" удалена.", escape(normalizeTitle(task.Title))))
}

// handleNoRepeat turns a recurring task into a one-off task.
func (b *Bot) handleNoRepeat(ctx context.Context, msg *tgbotapi.Message) error {
	user, task, err := b.commandTask(ctx, msg)
	if task == nil {
		return err
	}
	if _, err := b.taskSvc.CancelRecurrence(ctx, user, task.ID); err != nil {
		if errors.Is(err, service.ErrNotRecurring) {
			return b.sendText(msg.Chat.ID, "Задача и так не повторяется.")
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}
	b.log.Info().Uint("task_id", task.ID).Msg("recurrence cancelled")
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🚫 Задача «%s» больше не повторяется.", escape(normalizeTitle(task.Title))))
}

// handleICS sends the task as an .ics file for calendar apps.
func (b *Bot) handleICS(ctx context.Context, msg *tgbotapi.Message) error {
	_, task, err := b.commandTask(ctx, msg)
	if task == nil {
		return err
	}
	data, err := export.Task(*task, b.location, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось выгрузить задачу: %s", escape(err.Error())))
	}

	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("task-%d.ics", task.ID),
		Bytes: data,
	})
	doc.Caption = fmt.Sprintf("📅 %s", normalizeTitle(task.Title))
	_, err = b.api.Send(doc)
	return err
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64, user *model.User) error {
	tasks, err := b.taskSvc.ListActive(ctx, user)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Не удалось получить задачи: %s", escape(err.Error())))
	}

	catNames := b.categoryNames(ctx, user)

	now := time.Now().In(b.location)
	type categoryGroup struct {
		Name  string
		Tasks []model.Task
	}

	groups := make(map[string]*categoryGroup)
	order := make([]string, 0, len(tasks))

	for _, task := range tasks {
		if !task.IsRecurring() && task.IsDone {
			continue
		}
		key, display := normalizedCategory(task.CategoryID, catNames)
		group, ok := groups[key]
		if !ok {
			group = &categoryGroup{Name: display}
			groups[key] = group
			order = append(order, key)
		}
		group.Tasks = append(group.Tasks, task)
	}

	if len(groups) == 0 {
		return b.sendText(chatID, "У тебя нет активных задач. Добавь новую через /newtask.")
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i] == noCategoryKey {
			return false
		}
		if order[j] == noCategoryKey {
			return true
		}
		return strings.Compare(groups[order[i]].Name, groups[order[j]].Name) < 0
	})

	var builder strings.Builder
	builder.WriteString("📋 <b>Текущие задачи</b>\n")
	builder.WriteString("Нажми на кнопку, чтобы отметить задачу выполненной или удалить её.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, key := range order {
		section := groups[key]
		sort.SliceStable(section.Tasks, func(i, j int) bool {
			a, b := section.Tasks[i].Due(), section.Tasks[j].Due()
			switch {
			case a != nil && b != nil && !a.Equal(*b):
				return a.Before(*b)
			case a != nil && b == nil:
				return true
			case a == nil && b != nil:
				return false
			}
			return section.Tasks[i].ID < section.Tasks[j].ID
		})

		builder.WriteString(fmt.Sprintf("<b>%s</b>\n", section.Name))
		for _, task := range section.Tasks {
			var row []tgbotapi.InlineKeyboardButton
			if task.IsRecurring() {
				builder.WriteString(formatRecurringTask(task, now))
			} else {
				builder.WriteString(formatTask(task, now))
			}
			if !task.IsDone {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(
					fmt.Sprintf("✅ #%d · %s", task.ID, shortTitle(task.Title, 20)),
					fmt.Sprintf("%s%d", cbCompletePrefix, task.ID)))
			}
			if task.IsRecurring() {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(
					fmt.Sprintf("\U0001F5D1 #%d", task.ID),
					fmt.Sprintf("%s%d", cbDeletePrefix, task.ID)))
			}
			if len(row) > 0 {
				buttons = append(buttons, row)
			}
		}
		builder.WriteByte('\n')
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	if len(buttons) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	}
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

// categoryNames maps category ids to names. On a lookup failure the map is
// empty and tasks are listed under "no category".
func (b *Bot) categoryNames(ctx context.Context, user *model.User) map[uint]string {
	names := make(map[uint]string)
	categories, err := b.categorySvc.List(ctx, user)
	if err != nil {
		b.log.Warn().Err(err).Uint("user_id", user.ID).Msg("list categories")
		return names
	}
	for _, cat := range categories {
		names[cat.ID] = cat.Name
	}
	return names
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn().Err(err).Msg("callback ack")
	}

	data := cb.Data
	b.log.Info().Int64("tg_user", cb.From.ID).Str("data", data).Msg("callback")

	switch {
	case strings.HasPrefix(data, cbCompletePrefix):
		taskID, err := parseTaskID(data, cbCompletePrefix)
		if err != nil {
			return nil
		}
		return b.askConfirmation(ctx, cb.Message.Chat.ID, cb.From, taskID, actionComplete)
	case strings.HasPrefix(data, cbDeletePrefix):
		taskID, err := parseTaskID(data, cbDeletePrefix)
		if err != nil {
			return nil
		}
		return b.askConfirmation(ctx, cb.Message.Chat.ID, cb.From, taskID, actionDelete)
	case strings.HasPrefix(data, cbConfirmPrefix):
		taskID, err := parseTaskID(data, cbConfirmPrefix)
		if err != nil {
			return nil
		}
		return b.completeTaskAndRefresh(ctx, cb.Message.Chat.ID, cb.From, taskID)
	default:
		// cancel: and unknown data need nothing beyond the ack.
		return nil
	}
}

func (b *Bot) askConfirmation(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint, action confirmationAction) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(chatID, "Задача не найдена.")
		}
		return err
	}

	var text string
	if action == actionDelete {
		text = fmt.Sprintf("Удалить задачу \"%s\" (#%d)?", escape(normalizeTitle(task.Title)), task.ID)
	} else {
		if task.IsDone {
			return b.sendText(chatID, alreadyDoneText(*task))
		}
		text = fmt.Sprintf("Отметить задачу «%s» (#%d) как выполненную?", escape(normalizeTitle(task.Title)), task.ID)
	}
	b.setConfirmation(from.ID, confirmationRequest{taskID: task.ID, action: action})
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, req confirmationRequest) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.From.ID)
		if req.action == actionDelete {
			return b.deleteTaskAndRefresh(ctx, msg.Chat.ID, msg.From, req.taskID)
		}
		return b.completeTaskAndRefresh(ctx, msg.Chat.ID, msg.From, req.taskID)
	case isCancelInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.sendMenuPlaceholder(msg.Chat.ID)
	default:
		prompt := "Подтверди или отмени выполнение задачи."
		if req.action == actionDelete {
			prompt = "Подтверди или отмени удаление задачи."
		}
		return b.sendWithReplyMarkup(msg.Chat.ID, prompt, confirmKeyboard())
	}
}

func (b *Bot) completeTaskAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendTextWithRemove(chatID, "Задача не найдена или уже удалена.")
		}
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}
	if task.IsDone {
		return b.sendTextWithRemove(chatID, alreadyDoneText(*task))
	}

	task, err = b.taskSvc.CompleteTask(ctx, user, taskID, time.Now())
	if err != nil {
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}

	b.log.Info().Uint("task_id", task.ID).Uint("user_id", user.ID).Bool("recurring", task.IsRecurring()).Msg("task completed")
	if err := b.sendTextWithRemove(chatID, completedText(*task)); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) deleteTaskAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendTextWithRemove(chatID, "Задача не найдена или уже удалена.")
		}
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}

	if err := b.taskSvc.DeleteTask(ctx, user, taskID); err != nil {
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}

	b.log.Info().Uint("task_id", task.ID).Uint("user_id", user.ID).Msg("task deleted")
	if err := b.sendTextWithRemove(chatID, fmt.Sprintf("\U0001F5D1 Задача \"%s\" удалена.", escape(normalizeTitle(task.Title)))); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func alreadyDoneText(task model.Task) string {
	if task.IsRecurring() {
		return "Эта повторяющаяся задача уже закрыта до следующего раза."
	}
	return "Задача уже выполнена."
}

func completedText(task model.Task) string {
	if task.IsRecurring() {
		return fmt.Sprintf("♻️ Задача «%s» выполнена. Она вернётся в следующий раз по расписанию.", escape(normalizeTitle(task.Title)))
	}
	return fmt.Sprintf("✅ Задача «%s» выполнена.", escape(normalizeTitle(task.Title)))
}
