package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planner/internal/recurrence"
)

func feed(t *testing.T, s *conversationState, loc *time.Location, inputs ...string) reply {
	t.Helper()
	var r reply
	for i, in := range inputs {
		r = s.step(in, loc)
		if i < len(inputs)-1 {
			require.False(t, r.done, "conversation finished early at %q", in)
		}
	}
	return r
}

func TestConversationWeeklyTask(t *testing.T) {
	t.Parallel()
	moscow, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	s := newTaskConversation()
	r := feed(t, s, moscow,
		"  Зарядка ",
		btnSkip,
		"Здоровье",
		"2025-03-03",
		"🗓 Еженедельно",
		"2",
		"Пн",
		"2025-06-30",
	)
	require.True(t, r.done)
	assert.Empty(t, r.text)

	in := s.input
	assert.Equal(t, "Зарядка", in.Title)
	assert.Empty(t, in.Description)
	assert.Equal(t, "Здоровье", in.Category)
	require.NotNil(t, in.Deadline)
	assert.True(t, in.Deadline.Equal(time.Date(2025, 3, 3, 0, 0, 0, 0, moscow)))

	rule := in.Rule()
	assert.Equal(t, recurrence.FrequencyWeekly, rule.Frequency)
	assert.Equal(t, 2, rule.Every)
	assert.Equal(t, 1, rule.DayOfWeek)
	require.NotNil(t, rule.SeriesEnd)
	assert.True(t, rule.SeriesEnd.Equal(time.Date(2025, 6, 30, 23, 59, 59, 0, moscow)))
	assert.NoError(t, rule.Validate())
}

func TestConversationOneOffTask(t *testing.T) {
	t.Parallel()
	s := newTaskConversation()
	r := feed(t, s, time.UTC, "купить хлеб", "бородинский", "-", "пропустить", "🚫 Не повторять")
	require.True(t, r.done)

	assert.Equal(t, "бородинский", s.input.Description)
	assert.Empty(t, s.input.Category)
	assert.Nil(t, s.input.Deadline)
	assert.False(t, s.input.Rule().Repeats())
}

func TestConversationBranches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		inputs []string
		check  func(t *testing.T, rule recurrence.Rule)
	}{
		{
			name:   "monthly asks only for the day",
			inputs: []string{"месяц", "1", "31", btnSkip},
			check: func(t *testing.T, rule recurrence.Rule) {
				assert.Equal(t, recurrence.FrequencyMonthly, rule.Frequency)
				assert.Equal(t, 31, rule.DayOfMonth)
				assert.Nil(t, rule.SeriesEnd)
			},
		},
		{
			name:   "yearly asks month then day",
			inputs: []string{"🎉 Ежегодно", "1", "2", "29", btnSkip},
			check: func(t *testing.T, rule recurrence.Rule) {
				assert.Equal(t, recurrence.FrequencyYearly, rule.Frequency)
				assert.Equal(t, 2, rule.Month)
				assert.Equal(t, 29, rule.DayOfMonth)
			},
		},
		{
			name:   "daily period mode",
			inputs: []string{"daily", "0", btnSkip},
			check: func(t *testing.T, rule recurrence.Rule) {
				assert.Equal(t, recurrence.FrequencyDaily, rule.Frequency)
				assert.Zero(t, rule.Every)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := editRuleConversation(7)
			r := feed(t, s, time.UTC, tt.inputs...)
			require.True(t, r.done)
			assert.Equal(t, uint(7), s.editTaskID)
			rule := s.input.Rule()
			require.NoError(t, rule.Validate())
			tt.check(t, rule)
		})
	}
}

func TestConversationRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := newTaskConversation()

	r := s.step("   ", time.UTC)
	assert.False(t, r.done)
	assert.Equal(t, stageTitle, s.stage)

	feed(t, s, time.UTC, "отчёт", btnSkip, btnSkip)
	r = s.step("завтра", time.UTC)
	assert.False(t, r.done)
	assert.Contains(t, r.text, "Не могу распознать дату")
	assert.Equal(t, stageDeadline, s.stage)

	s.step(btnSkip, time.UTC)
	r = s.step("каждый час", time.UTC)
	assert.False(t, r.done)
	assert.Equal(t, stageFrequency, s.stage)
	r = s.step("", time.UTC)
	assert.False(t, r.done)

	s.step("неделя", time.UTC)
	r = s.step("-1", time.UTC)
	assert.False(t, r.done)
	assert.Equal(t, stageEvery, s.stage)

	s.step("1", time.UTC)
	r = s.step("7", time.UTC)
	assert.False(t, r.done)
	assert.Equal(t, stageWeekday, s.stage)

	s.step("0", time.UTC)
	r = s.step("31.12.2025", time.UTC)
	assert.False(t, r.done)
	assert.Equal(t, stageSeriesEnd, s.stage)

	r = s.step("2025-12-31", time.UTC)
	assert.True(t, r.done)
	assert.Equal(t, 0, s.input.DayOfWeek)
}

func TestConversationResetsUnknownStage(t *testing.T) {
	t.Parallel()
	s := &conversationState{}
	r := s.step("что-нибудь", time.UTC)
	assert.True(t, r.done)
	assert.NotEmpty(t, r.text)
}
