package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"planner/internal/model"
	"planner/internal/recurrence"
	"planner/internal/repository"
)

// upcomingHorizon is how far ahead the summary lists upcoming occurrences.
const upcomingHorizon = 7 * 24 * time.Hour

// ReminderService builds human-readable summaries for daily notifications.
type ReminderService struct {
	taskRepo     *repository.TaskRepository
	categoryRepo *repository.CategoryRepository
	loc          *time.Location
}

func NewReminderService(taskRepo *repository.TaskRepository, categoryRepo *repository.CategoryRepository, evaluator recurrence.Evaluator) *ReminderService {
	return &ReminderService{taskRepo: taskRepo, categoryRepo: categoryRepo, loc: evaluator.Location}
}

// Summary splits a user's tasks into the report sections.
type Summary struct {
	Pending  []model.Task // open one-off tasks
	Current  []model.Task // recurring tasks whose occurrence has fired and is not done
	Upcoming []model.Task // recurring tasks with an occurrence inside the horizon
}

// Collect groups the user's tasks as of now.
func (s *ReminderService) Collect(ctx context.Context, user model.User, now time.Time) (Summary, error) {
	tasks, err := s.taskRepo.ListActiveOrRecurring(ctx, user.ID)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, task := range tasks {
		if !task.IsRecurring() {
			if !task.IsDone {
				sum.Pending = append(sum.Pending, task)
			}
			continue
		}
		if task.LastOccurrence != nil && !task.IsDone {
			sum.Current = append(sum.Current, task)
		}
		if task.NextOccurrence != nil && task.NextOccurrence.Before(now.Add(upcomingHorizon)) {
			sum.Upcoming = append(sum.Upcoming, task)
		}
	}

	sort.SliceStable(sum.Pending, func(i, j int) bool {
		return byDeadline(sum.Pending[i], sum.Pending[j])
	})
	sort.SliceStable(sum.Upcoming, func(i, j int) bool {
		return sum.Upcoming[i].NextOccurrence.Before(*sum.Upcoming[j].NextOccurrence)
	})
	return sum, nil
}

func (s *ReminderService) DailySummary(ctx context.Context, user model.User, now time.Time) (string, error) {
	now = now.In(s.loc)
	sum, err := s.Collect(ctx, user, now)
	if err != nil {
		return "", err
	}

	catNames, err := s.categoryRepo.NamesByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Ежедневный отчёт</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("02.01.2006")))

	builder.WriteString("🔥 <b>Текущие задачи</b>\n")
	if len(sum.Pending) == 0 {
		builder.WriteString("— нет открытых задач\n")
	} else {
		for _, task := range sum.Pending {
			builder.WriteString(formatTask(task, catNames, now))
		}
	}

	builder.WriteString("\n♻️ <b>Регулярные задачи</b>\n")
	if len(sum.Current) == 0 {
		builder.WriteString("— всё выполнено\n")
	} else {
		for _, task := range sum.Current {
			builder.WriteString(formatRecurring(task, catNames, now))
		}
	}

	builder.WriteString("\n📆 <b>Ближайшие 7 дней</b>\n")
	if len(sum.Upcoming) == 0 {
		builder.WriteString("— ничего не запланировано\n")
	} else {
		for _, task := range sum.Upcoming {
			next := task.NextOccurrence.In(now.Location())
			builder.WriteString(fmt.Sprintf("• %s %s%s\n",
				next.Format("02.01 Mon"),
				html.EscapeString(strings.TrimSpace(task.Title)),
				categorySuffix(task.CategoryID, catNames)))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

func byDeadline(a, b model.Task) bool {
	switch {
	case a.Deadline == nil && b.Deadline == nil:
		return a.CreatedAt.After(b.CreatedAt)
	case a.Deadline == nil:
		return false
	case b.Deadline == nil:
		return true
	default:
		return a.Deadline.Before(*b.Deadline)
	}
}

func categorySuffix(categoryID *uint, catNames map[uint]string) string {
	if categoryID == nil {
		return ""
	}
	name := strings.TrimSpace(catNames[*categoryID])
	if name == "" {
		return ""
	}
	return fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(name))
}

func formatTask(task model.Task, catNames map[uint]string, now time.Time) string {
	var sb strings.Builder

	icon := "🟢"
	if task.Deadline != nil {
		d := task.Deadline.In(now.Location())
		switch {
		case now.After(d):
			icon = "⚠️"
		case d.Sub(now) <= 48*time.Hour:
			icon = "⏳"
		}
	}

	sb.WriteString(fmt.Sprintf("%s %s%s", icon, html.EscapeString(strings.TrimSpace(task.Title)), categorySuffix(task.CategoryID, catNames)))

	if task.Deadline != nil {
		d := task.Deadline.In(now.Location())
		if now.After(d) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ до %s, <b>просрочено</b>", d.Format("2006-01-02")))
		} else {
			daysLeft := int(d.Sub(now).Hours()/24) + 1
			sb.WriteString(fmt.Sprintf("\n   ⏰ до %s · осталось ≈%d дн.", d.Format("2006-01-02"), daysLeft))
		}
	}

	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(strings.TrimSpace(task.Description))))
	}

	sb.WriteByte('\n')
	return sb.String()
}

func formatRecurring(task model.Task, catNames map[uint]string, now time.Time) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("♻️ %s%s", html.EscapeString(strings.TrimSpace(task.Title)), categorySuffix(task.CategoryID, catNames)))
	sb.WriteString(fmt.Sprintf("\n   📌 Текущая дата: %s", task.LastOccurrence.In(now.Location()).Format("2006-01-02")))
	if task.NextOccurrence != nil {
		sb.WriteString(fmt.Sprintf("\n   📆 Следующая: %s", task.NextOccurrence.In(now.Location()).Format("2006-01-02")))
	} else {
		sb.WriteString("\n   🏁 Серия завершена")
	}
	if task.LastCompletedAt != nil {
		sb.WriteString(fmt.Sprintf("\n   ✅ Последнее выполнение: %s", task.LastCompletedAt.In(now.Location()).Format("2006-01-02")))
	} else {
		sb.WriteString("\n   ✅ Пока не выполнялась")
	}

	sb.WriteByte('\n')
	return sb.String()
}
