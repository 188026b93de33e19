package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"

	"planner/internal/recurrence"
	"planner/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTitle
	stageDescription
	stageCategory
	stageDeadline
	stageFrequency
	stageEvery
	stageWeekday
	stageMonth
	stageMonthDay
	stageSeriesEnd
)

// conversationState collects a new task, or only a new rule when editTaskID
// is set.
type conversationState struct {
	stage      conversationStage
	input      service.TaskInput
	editTaskID uint
}

// reply is what the bot answers to one conversation step.
type reply struct {
	text   string
	markup interface{}
	done   bool
}

const (
	promptFrequency = "🔁 Как часто повторять задачу?"
	promptEvery     = "🔢 Повторять каждые сколько периодов?\n" +
		"<b>1</b> — каждый, <b>2</b> — через один и т.д.\n" +
		"<b>0</b> — с начала каждого нового периода."
	promptWeekday   = "📅 В какой день недели?"
	promptMonth     = "🗓 Какой месяц? (1–12)"
	promptMonthDay  = "📆 Какого числа? (1–31). Если числа нет в месяце, возьмём последний день."
	promptSeriesEnd = "🏁 До какой даты повторять? Формат <code>2025-12-31</code> (или «Пропустить»)."
)

func newTaskConversation() *conversationState {
	return &conversationState{stage: stageTitle}
}

func editRuleConversation(taskID uint) *conversationState {
	return &conversationState{stage: stageFrequency, editTaskID: taskID}
}

// step consumes one user message. Dates are read in loc.
func (s *conversationState) step(text string, loc *time.Location) reply {
	text = strings.TrimSpace(text)
	switch s.stage {
	case stageTitle:
		if text == "" {
			return reply{text: "Название не может быть пустым.", markup: cancelKeyboard()}
		}
		s.input.Title = text
		s.stage = stageDescription
		return reply{text: "✏️ Добавь короткое описание (или нажми «Пропустить»).", markup: skipKeyboard()}
	case stageDescription:
		if !isSkipInput(text) {
			s.input.Description = text
		}
		s.stage = stageCategory
		return reply{text: "🏷 Выбери категорию или отправь свою (можно «Пропустить»).", markup: categoryKeyboard()}
	case stageCategory:
		if !isSkipInput(text) {
			s.input.Category = text
		}
		s.stage = stageDeadline
		return reply{text: "⏰ Укажи дедлайн в формате <code>2025-11-30</code> (или «Пропустить»).\nДля повторяющейся задачи это дата первого раза.", markup: skipKeyboard()}
	case stageDeadline:
		if !isSkipInput(text) {
			parsed, err := time.ParseInLocation(dateLayout, text, loc)
			if err != nil {
				return reply{text: "Не могу распознать дату. Используй формат <code>2025-11-30</code> или «Пропустить».", markup: skipKeyboard()}
			}
			s.input.Deadline = &parsed
		}
		s.stage = stageFrequency
		return reply{text: promptFrequency, markup: frequencyKeyboard()}
	case stageFrequency:
		freq, ok := parseFrequencyInput(text)
		if !ok {
			return reply{text: "Выбери вариант на клавиатуре.", markup: frequencyKeyboard()}
		}
		s.input.Frequency = freq
		if freq == recurrence.FrequencyNone {
			return reply{done: true}
		}
		s.stage = stageEvery
		return reply{text: promptEvery, markup: everyKeyboard()}
	case stageEvery:
		every, ok := parseIntRange(text, 0, 366)
		if !ok {
			return reply{text: "Нужно число от 0 до 366.", markup: everyKeyboard()}
		}
		s.input.Every = every
		switch s.input.Frequency {
		case recurrence.FrequencyWeekly:
			s.stage = stageWeekday
			return reply{text: promptWeekday, markup: weekdayKeyboard()}
		case recurrence.FrequencyMonthly:
			s.stage = stageMonthDay
			return reply{text: promptMonthDay, markup: cancelKeyboard()}
		case recurrence.FrequencyYearly:
			s.stage = stageMonth
			return reply{text: promptMonth, markup: cancelKeyboard()}
		default:
			s.stage = stageSeriesEnd
			return reply{text: promptSeriesEnd, markup: skipKeyboard()}
		}
	case stageWeekday:
		dow, ok := parseWeekday(text)
		if !ok {
			return reply{text: "Выбери день недели на клавиатуре.", markup: weekdayKeyboard()}
		}
		s.input.DayOfWeek = dow
		s.stage = stageSeriesEnd
		return reply{text: promptSeriesEnd, markup: skipKeyboard()}
	case stageMonth:
		month, ok := parseIntRange(text, 1, 12)
		if !ok {
			return reply{text: "Месяц должен быть числом от 1 до 12.", markup: cancelKeyboard()}
		}
		s.input.Month = month
		s.stage = stageMonthDay
		return reply{text: promptMonthDay, markup: cancelKeyboard()}
	case stageMonthDay:
		day, ok := parseIntRange(text, 1, 31)
		if !ok {
			return reply{text: "День должен быть числом от 1 до 31.", markup: cancelKeyboard()}
		}
		s.input.DayOfMonth = day
		s.stage = stageSeriesEnd
		return reply{text: promptSeriesEnd, markup: skipKeyboard()}
	case stageSeriesEnd:
		if !isSkipInput(text) {
			parsed, err := time.ParseInLocation(dateLayout, text, loc)
			if err != nil {
				return reply{text: "Не могу распознать дату. Используй формат <code>2025-12-31</code> или «Пропустить».", markup: skipKeyboard()}
			}
			// The whole last day belongs to the series.
			end := parsed.AddDate(0, 0, 1).Add(-time.Second)
			s.input.SeriesEnd = &end
		}
		return reply{done: true}
	default:
		s.stage = stageNone
		return reply{text: "Диалог сброшен. Попробуй ещё раз через /newtask.", done: true}
	}
}

func (b *Bot) startNewTaskConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.log.Info().Int64("tg_user", msg.From.ID).Msg("start new task conversation")
	b.setConversation(msg.From.ID, newTaskConversation())
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 Создаём новую задачу.\n<b>Шаг 1:</b> как её назвать?", cancelKeyboard())
}

// handleRepeat starts a rule edit for an existing task: /repeat <id>.
func (b *Bot) handleRepeat(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, err := parseTaskID(msg.CommandArguments(), "")
	if err != nil {
		return b.sendText(msg.Chat.ID, "Укажи ID задачи: /repeat 12")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(msg.Chat.ID, "Задача не найдена.")
		}
		return err
	}

	b.setConversation(msg.From.ID, editRuleConversation(task.ID))
	text := fmt.Sprintf("🔁 Новое правило повтора для «%s» (#%d).\nСейчас: %s.\n\n%s",
		escape(normalizeTitle(task.Title)), task.ID, describeRule(task.Rule(), b.location), promptFrequency)
	return b.sendWithReplyMarkup(msg.Chat.ID, text, frequencyKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}
	b.log.Debug().Int64("tg_user", msg.From.ID).Int("stage", int(state.stage)).Msg("conversation step")

	r := state.step(msg.Text, b.location)
	if !r.done {
		return b.sendWithReplyMarkup(msg.Chat.ID, r.text, r.markup)
	}
	b.clearConversation(msg.From.ID)
	if r.text != "" {
		return b.sendText(msg.Chat.ID, r.text)
	}
	if state.editTaskID != 0 {
		return b.finishRuleEdit(ctx, msg.From, state.editTaskID, state.input.Rule(), msg.Chat.ID)
	}
	return b.finishTaskCreation(ctx, msg.From, state.input, msg.Chat.ID)
}

func (b *Bot) finishTaskCreation(ctx context.Context, from *tgbotapi.User, input service.TaskInput, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.CreateTask(ctx, user, input)
	if err != nil {
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Не удалось сохранить задачу: %s", escape(err.Error())))
	}

	b.log.Info().Uint("task_id", task.ID).Uint("user_id", user.ID).
		Str("frequency", string(task.Frequency)).Msg("task created")

	var summary strings.Builder
	summary.WriteString("✅ <b>Задача сохранена</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>ID:</b> %d\n", task.ID))
	summary.WriteString(fmt.Sprintf("• <b>Название:</b> %s\n", escape(normalizeTitle(task.Title))))
	if task.Description != "" {
		summary.WriteString(fmt.Sprintf("• <b>Описание:</b> %s\n", escape(task.Description)))
	}
	if task.Deadline != nil {
		summary.WriteString(fmt.Sprintf("• <b>Дедлайн:</b> %s\n", task.Deadline.In(b.location).Format(dateLayout)))
	}
	if task.IsRecurring() {
		summary.WriteString(fmt.Sprintf("• <b>Повтор:</b> %s\n", describeRule(task.Rule(), b.location)))
		summary.WriteString(fmt.Sprintf("• <b>Первый раз:</b> %s\n", task.NextOccurrence.In(b.location).Format(dateLayout)))
	}

	if err := b.sendTextWithRemove(chatID, strings.TrimSpace(summary.String())); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) finishRuleEdit(ctx context.Context, from *tgbotapi.User, taskID uint, rule recurrence.Rule, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.UpdateRule(ctx, user, taskID, rule)
	switch {
	case errors.Is(err, service.ErrNotRecurring):
		return b.sendTextWithRemove(chatID, "Задача и так не повторяется.")
	case errors.Is(err, gorm.ErrRecordNotFound):
		return b.sendTextWithRemove(chatID, "Задача не найдена или уже удалена.")
	case err != nil:
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Не удалось изменить правило: %s", escape(err.Error())))
	}

	b.log.Info().Uint("task_id", task.ID).Str("frequency", string(task.Frequency)).Msg("recurrence rule updated")
	if !task.IsRecurring() {
		return b.sendTextWithRemove(chatID, fmt.Sprintf("🚫 Задача «%s» больше не повторяется.", escape(normalizeTitle(task.Title))))
	}
	return b.sendTextWithRemove(chatID, fmt.Sprintf("🔁 «%s»: %s.\nСледующий раз: %s.",
		escape(normalizeTitle(task.Title)), describeRule(task.Rule(), b.location), task.NextOccurrence.In(b.location).Format(dateLayout)))
}
