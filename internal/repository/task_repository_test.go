package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"planner/internal/model"
	"planner/internal/recurrence"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "nested", "planner.db"), zerolog.Nop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func at(y int, m time.Month, d int) *time.Time {
	v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &v
}

func recurringTask(userID uint, title string, next *time.Time) model.Task {
	return model.Task{
		UserID:         userID,
		Title:          title,
		Status:         recurrence.StatusActive,
		Frequency:      recurrence.FrequencyDaily,
		Every:          1,
		NextOccurrence: next,
	}
}

func TestFindDueRecurringTasks(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(newTestDB(t))
	now := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)

	due := recurringTask(1, "due", at(2024, 1, 1))
	dueExact := recurringTask(1, "due exactly now", at(2024, 1, 4))
	future := recurringTask(1, "future", at(2024, 1, 5))
	ended := recurringTask(1, "series over", at(2024, 1, 1))
	ended.SeriesEnd = at(2024, 1, 4)
	stillOpen := recurringTask(1, "series open", at(2024, 1, 2))
	stillOpen.SeriesEnd = at(2024, 2, 1)
	terminated := recurringTask(1, "terminated", nil)
	oneOff := model.Task{UserID: 1, Title: "one-off", Deadline: at(2024, 1, 1)}

	for _, task := range []*model.Task{&due, &dueExact, &future, &ended, &stillOpen, &terminated, &oneOff} {
		require.NoError(t, repo.Create(ctx, task))
	}

	// A non-UTC "now" must compare the same as its UTC instant.
	msk := time.FixedZone("MSK", 3*60*60)
	tasks, err := repo.FindDueRecurringTasks(ctx, now.In(msk))
	require.NoError(t, err)

	var titles []string
	for _, task := range tasks {
		titles = append(titles, task.Title)
	}
	assert.Equal(t, []string{"due", "due exactly now", "series open"}, titles)

	lapsed, err := repo.FindLapsedSeries(ctx, now.In(msk))
	require.NoError(t, err)
	require.Len(t, lapsed, 1)
	assert.Equal(t, "series over", lapsed[0].Title)
}

func TestUpdateRecurrenceStateCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(newTestDB(t))

	task := recurringTask(1, "water plants", at(2024, 1, 1))
	require.NoError(t, repo.Create(ctx, &task))

	rolled := recurrence.State{
		LastOccurrence: at(2024, 1, 4),
		NextOccurrence: at(2024, 1, 5),
		Status:         recurrence.StatusActive,
	}
	require.NoError(t, repo.UpdateRecurrenceState(ctx, task.ID, *at(2024, 1, 1), rolled))

	// A second writer holding the old value loses.
	err := repo.UpdateRecurrenceState(ctx, task.ID, *at(2024, 1, 1), rolled)
	assert.True(t, errors.Is(err, ErrStaleState))

	stored, err := repo.FindByID(ctx, 1, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextOccurrence)
	assert.True(t, stored.NextOccurrence.Equal(*at(2024, 1, 5)))
	assert.True(t, stored.LastOccurrence.Equal(*at(2024, 1, 4)))

	ended := recurrence.State{
		LastOccurrence: at(2024, 1, 5),
		Status:         recurrence.StatusDone,
		IsDone:         true,
	}
	require.NoError(t, repo.UpdateRecurrenceState(ctx, task.ID, *stored.NextOccurrence, ended))

	stored, err = repo.FindByID(ctx, 1, task.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.NextOccurrence)
	assert.Equal(t, recurrence.StatusDone, stored.Status)
	assert.True(t, stored.IsDone)
}

func TestMarkRecurringDoneKeepsPreviousStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(newTestDB(t))

	task := recurringTask(1, "pay rent", at(2024, 2, 1))
	task.Status = recurrence.StatusPending
	require.NoError(t, repo.Create(ctx, &task))

	require.NoError(t, repo.MarkRecurringDone(ctx, &task, time.Now()))
	// Completing twice must not overwrite the snapshot with "done".
	require.NoError(t, repo.MarkRecurringDone(ctx, &task, time.Now()))

	stored, err := repo.FindByID(ctx, 1, task.ID)
	require.NoError(t, err)
	assert.Equal(t, recurrence.StatusDone, stored.Status)
	assert.True(t, stored.IsDone)
	require.NotNil(t, stored.PreviousStatus)
	assert.Equal(t, recurrence.StatusPending, *stored.PreviousStatus)
}

func TestMarkRecurringDoneKeepsRolledOccurrences(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(newTestDB(t))

	task := recurringTask(1, "water plants", at(2024, 1, 1))
	require.NoError(t, repo.Create(ctx, &task))

	loaded, err := repo.FindByID(ctx, 1, task.ID)
	require.NoError(t, err)

	// The sweep rolls the row after the user's copy was read.
	rolled := recurrence.State{
		LastOccurrence: at(2024, 1, 4),
		NextOccurrence: at(2024, 1, 5),
		Status:         recurrence.StatusActive,
	}
	require.NoError(t, repo.UpdateRecurrenceState(ctx, task.ID, *at(2024, 1, 1), rolled))

	completedAt := time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkRecurringDone(ctx, loaded, completedAt))

	stored, err := repo.FindByID(ctx, 1, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextOccurrence)
	require.NotNil(t, stored.LastOccurrence)
	assert.True(t, stored.NextOccurrence.Equal(*at(2024, 1, 5)))
	assert.True(t, stored.LastOccurrence.Equal(*at(2024, 1, 4)))
	assert.Equal(t, recurrence.StatusDone, stored.Status)
	assert.True(t, stored.IsDone)
	require.NotNil(t, stored.LastCompletedAt)
	assert.True(t, stored.LastCompletedAt.Equal(completedAt))
}

func TestMarkCompletedWritesOnlyCompletion(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(newTestDB(t))

	task := model.Task{UserID: 1, Title: "buy bread", Status: recurrence.StatusPending, Frequency: recurrence.FrequencyNone, Deadline: at(2024, 1, 1)}
	require.NoError(t, repo.Create(ctx, &task))

	stale := task
	stale.Title = "edited in memory only"
	stale.Deadline = at(2030, 1, 1)
	require.NoError(t, repo.MarkCompleted(ctx, &stale, time.Now()))

	stored, err := repo.FindByID(ctx, 1, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "buy bread", stored.Title)
	require.NotNil(t, stored.Deadline)
	assert.True(t, stored.Deadline.Equal(*at(2024, 1, 1)))
	assert.True(t, stored.IsDone)
	assert.Equal(t, recurrence.StatusDone, stored.Status)
}

func TestSaveRecurrenceClearsColumns(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(newTestDB(t))

	task := recurringTask(1, "standup", at(2024, 2, 1))
	task.LastOccurrence = at(2024, 1, 31)
	task.SeriesEnd = at(2024, 12, 31)
	require.NoError(t, repo.Create(ctx, &task))

	task.SetRule(recurrence.Rule{Frequency: recurrence.FrequencyNone})
	task.NextOccurrence = nil
	task.LastOccurrence = nil
	require.NoError(t, repo.SaveRecurrence(ctx, &task))

	stored, err := repo.FindByID(ctx, 1, task.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsRecurring())
	assert.Nil(t, stored.NextOccurrence)
	assert.Nil(t, stored.LastOccurrence)
	assert.Nil(t, stored.SeriesEnd)
	assert.Equal(t, 0, stored.Every)
}

func TestListActiveOrRecurring(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(newTestDB(t))

	open := model.Task{UserID: 1, Title: "open"}
	closed := model.Task{UserID: 1, Title: "closed"}
	repeating := recurringTask(1, "repeating", at(2024, 1, 1))
	other := model.Task{UserID: 2, Title: "someone else"}
	for _, task := range []*model.Task{&open, &closed, &repeating, &other} {
		require.NoError(t, repo.Create(ctx, task))
	}
	require.NoError(t, repo.MarkCompleted(ctx, &closed, time.Now()))
	require.NoError(t, repo.MarkRecurringDone(ctx, &repeating, time.Now()))

	tasks, err := repo.ListActiveOrRecurring(ctx, 1)
	require.NoError(t, err)
	var titles []string
	for _, task := range tasks {
		titles = append(titles, task.Title)
	}
	assert.ElementsMatch(t, []string{"open", "repeating"}, titles)
}

func TestCategoryGetOrCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewCategoryRepository(newTestDB(t))

	first, err := repo.GetOrCreate(ctx, 1, " Работа ")
	require.NoError(t, err)
	second, err := repo.GetOrCreate(ctx, 1, "Работа")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	none, err := repo.GetOrCreate(ctx, 1, "  ")
	require.NoError(t, err)
	assert.Nil(t, none)

	names, err := repo.NamesByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, map[uint]string{first.ID: "Работа"}, names)
}
