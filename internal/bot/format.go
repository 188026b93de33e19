package bot

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode"

	"planner/internal/model"
	"planner/internal/recurrence"
)

const (
	noCategory    = "Без категории"
	noCategoryKey = "__no_category__"
	iconDefault   = "🟢"
	iconDue       = "⏳"
	iconOverdue   = "⚠️"
	iconRecurring = "♻️"
	iconEnded     = "🏁"
	dateLayout    = "2006-01-02"
)

var frequencyLabels = []struct {
	label string
	freq  recurrence.Frequency
}{
	{"🚫 Не повторять", recurrence.FrequencyNone},
	{"📅 Ежедневно", recurrence.FrequencyDaily},
	{"🗓 Еженедельно", recurrence.FrequencyWeekly},
	{"📆 Ежемесячно", recurrence.FrequencyMonthly},
	{"🎉 Ежегодно", recurrence.FrequencyYearly},
}

var weekdayShort = [7]string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}

var weekdayPlural = [7]string{"воскресеньям", "понедельникам", "вторникам", "средам", "четвергам", "пятницам", "субботам"}

var monthGenitive = [13]string{"", "января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря"}

// parseFrequencyInput accepts a keyboard label or a plain frequency name.
func parseFrequencyInput(text string) (recurrence.Frequency, bool) {
	value := strings.TrimSpace(strings.ToLower(text))
	if value == "" {
		return "", false
	}
	for _, item := range frequencyLabels {
		if value == strings.ToLower(item.label) {
			return item.freq, true
		}
	}
	switch value {
	case "нет", "no", "-":
		return recurrence.FrequencyNone, true
	case "день", "ежедневно":
		return recurrence.FrequencyDaily, true
	case "неделя", "еженедельно":
		return recurrence.FrequencyWeekly, true
	case "месяц", "ежемесячно":
		return recurrence.FrequencyMonthly, true
	case "год", "ежегодно":
		return recurrence.FrequencyYearly, true
	}
	freq, err := recurrence.ParseFrequency(value)
	if err != nil {
		return "", false
	}
	return freq, true
}

// parseWeekday accepts a short Russian name or 0..6 with 0 = Sunday.
func parseWeekday(text string) (int, bool) {
	value := strings.TrimSpace(strings.ToLower(text))
	for i, name := range weekdayShort {
		if value == strings.ToLower(name) {
			return i, true
		}
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || n > 6 {
		return 0, false
	}
	return n, true
}

func parseIntRange(text string, lo, hi int) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}

func parseTaskID(data, prefix string) (uint, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(data, prefix))
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

// describeRule renders a rule in Russian, e.g. "каждые 2 нед. по понедельникам".
func describeRule(rule recurrence.Rule, loc *time.Location) string {
	var text string
	switch rule.Frequency {
	case recurrence.FrequencyDaily:
		switch rule.Every {
		case 0:
			text = "каждый день с начала суток"
		case 1:
			text = "каждый день"
		default:
			text = fmt.Sprintf("каждые %d дн.", rule.Every)
		}
	case recurrence.FrequencyWeekly:
		dow := weekdayPlural[rule.DayOfWeek%7]
		if rule.Every <= 1 {
			text = "каждую неделю по " + dow
		} else {
			text = fmt.Sprintf("каждые %d нед. по %s", rule.Every, dow)
		}
	case recurrence.FrequencyMonthly:
		switch rule.Every {
		case 0:
			text = "в начале каждого месяца"
		case 1:
			text = fmt.Sprintf("каждый месяц %d числа", rule.DayOfMonth)
		default:
			text = fmt.Sprintf("каждые %d мес. %d числа", rule.Every, rule.DayOfMonth)
		}
	case recurrence.FrequencyYearly:
		date := fmt.Sprintf("%d %s", rule.DayOfMonth, monthGenitive[rule.Month%13])
		if rule.Every <= 1 {
			text = "каждый год " + date
		} else {
			text = fmt.Sprintf("каждые %d г. %s", rule.Every, date)
		}
	default:
		return "без повтора"
	}
	if rule.SeriesEnd != nil {
		text += " до " + rule.SeriesEnd.In(loc).Format(dateLayout)
	}
	return text
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

func shortTitle(title string, maxLen int) string {
	clean := normalizeTitle(strings.ReplaceAll(title, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func normalizedCategory(categoryID *uint, catNames map[uint]string) (string, string) {
	if categoryID == nil {
		return noCategoryKey, categoryLabel(noCategory)
	}
	trimmed := strings.TrimSpace(catNames[*categoryID])
	if trimmed == "" {
		return noCategoryKey, categoryLabel(noCategory)
	}
	return strings.ToLower(trimmed), categoryLabel(trimmed)
}

func categoryLabel(name string) string {
	base := strings.TrimSpace(name)
	var icon string
	switch strings.ToLower(base) {
	case "учеба":
		icon = "🎓"
	case "работа":
		icon = "💼"
	case "покупки":
		icon = "🛒"
	case "здоровье":
		icon = "🩺"
	case "личное":
		icon = "🧩"
	case strings.ToLower(noCategory):
		icon = "📁"
	default:
		icon = "🏷️"
	}
	return fmt.Sprintf("%s %s", icon, escape(normalizeTitle(base)))
}

func formatTask(task model.Task, now time.Time) string {
	var b strings.Builder
	icon := iconDefault
	if task.Deadline != nil {
		d := task.Deadline.In(now.Location())
		if now.After(d) {
			icon = iconOverdue
		} else if d.Sub(now) <= 48*time.Hour {
			icon = iconDue
		}
	}
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", icon, task.ID, escape(normalizeTitle(task.Title))))
	if task.Deadline != nil {
		d := task.Deadline.In(now.Location())
		if now.After(d) {
			b.WriteString(fmt.Sprintf("   ⏰ Дедлайн: %s, <b>просрочено</b>\n", d.Format(dateLayout)))
		} else {
			daysLeft := int(d.Sub(now).Hours()/24) + 1
			b.WriteString(fmt.Sprintf("   ⏰ Дедлайн: %s · осталось ≈%d дн.\n", d.Format(dateLayout), daysLeft))
		}
	}
	if task.Description != "" {
		b.WriteString(fmt.Sprintf("   📝 %s\n", escape(task.Description)))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatRecurringTask(task model.Task, now time.Time) string {
	var b strings.Builder
	icon := iconRecurring
	if task.RecurrenceState().Ended() {
		icon = iconEnded
	}
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", icon, task.ID, escape(normalizeTitle(task.Title))))
	b.WriteString(fmt.Sprintf("   🔄 %s\n", describeRule(task.Rule(), now.Location())))

	switch {
	case task.NextOccurrence == nil:
		b.WriteString("   🏁 Серия завершена\n")
	case task.IsDone:
		b.WriteString(fmt.Sprintf("   ✅ Выполнено, следующий раз: %s\n", task.NextOccurrence.In(now.Location()).Format(dateLayout)))
	default:
		if task.LastOccurrence != nil {
			b.WriteString(fmt.Sprintf("   📌 Текущий срок: %s\n", task.LastOccurrence.In(now.Location()).Format(dateLayout)))
		}
		b.WriteString(fmt.Sprintf("   📆 Следующий: %s\n", task.NextOccurrence.In(now.Location()).Format(dateLayout)))
	}
	if task.LastCompletedAt != nil {
		b.WriteString(fmt.Sprintf("   ✔️ Последнее выполнение: %s\n", task.LastCompletedAt.In(now.Location()).Format(dateLayout)))
	}
	b.WriteByte('\n')
	return b.String()
}
