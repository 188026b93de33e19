package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"planner/internal/model"
	"planner/internal/recurrence"
)

// TaskRepository handles CRUD for tasks and is the store the roll-forward
// sweep reads due tasks from.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	normalizeTimes(task)
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// ListActiveOrRecurring returns open one-off tasks and every recurring task.
func (r *TaskRepository) ListActiveOrRecurring(ctx context.Context, userID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND (is_done = ? OR frequency <> ?)", userID, false, recurrence.FrequencyNone).
		Order("deadline NULLS LAST, created_at DESC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// FindDueRecurringTasks returns recurring tasks whose next occurrence is at
// or before now and whose series has not ended.
func (r *TaskRepository) FindDueRecurringTasks(ctx context.Context, now time.Time) ([]model.Task, error) {
	at := now.UTC()
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("frequency <> ? AND next_occurrence IS NOT NULL AND next_occurrence <= ?", recurrence.FrequencyNone, at).
		Where("series_end IS NULL OR series_end > ?", at).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("find due recurring tasks: %w", err)
	}
	return tasks, nil
}

// FindLapsedSeries returns recurring tasks that still have a next occurrence
// although their series end is already behind now. Rolling them terminates
// the series.
func (r *TaskRepository) FindLapsedSeries(ctx context.Context, now time.Time) ([]model.Task, error) {
	at := now.UTC()
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("frequency <> ? AND next_occurrence IS NOT NULL AND next_occurrence <= ?", recurrence.FrequencyNone, at).
		Where("series_end IS NOT NULL AND series_end <= ?", at).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("find lapsed series: %w", err)
	}
	return tasks, nil
}

// UpdateRecurrenceState writes one rolled state in a single statement. The
// row is only touched if next_occurrence still equals expectedNext, otherwise
// ErrStaleState is returned.
func (r *TaskRepository) UpdateRecurrenceState(ctx context.Context, taskID uint, expectedNext time.Time, st recurrence.State) error {
	var row model.Task
	row.ApplyRecurrenceState(st)
	normalizeTimes(&row)
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND next_occurrence = ?", taskID, expectedNext.UTC()).
		Select("last_occurrence", "next_occurrence", "status", "is_done").
		Updates(&row)
	if res.Error != nil {
		return &PersistenceError{TaskID: taskID, Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

// MarkCompleted closes a one-off task.
func (r *TaskRepository) MarkCompleted(ctx context.Context, task *model.Task, completedAt time.Time) error {
	task.Status = recurrence.StatusDone
	task.IsDone = true
	task.LastCompletedAt = &completedAt
	if err := r.saveCompletion(ctx, task); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// MarkRecurringDone closes the current occurrence of a recurring task. The
// status before completion is kept so the next roll can restore it.
func (r *TaskRepository) MarkRecurringDone(ctx context.Context, task *model.Task, completedAt time.Time) error {
	if task.Status != recurrence.StatusDone {
		prev := task.Status
		task.PreviousStatus = &prev
	}
	task.Status = recurrence.StatusDone
	task.IsDone = true
	task.LastCompletedAt = &completedAt
	if err := r.saveCompletion(ctx, task); err != nil {
		return fmt.Errorf("mark recurring done: %w", err)
	}
	return nil
}

// saveCompletion writes only the completion columns. The occurrence columns
// belong to the sweep and may have moved since task was read.
func (r *TaskRepository) saveCompletion(ctx context.Context, task *model.Task) error {
	normalizeTimes(task)
	return r.db.WithContext(ctx).Model(task).
		Select("status", "previous_status", "is_done", "last_completed_at").
		Updates(task).Error
}

// SaveRecurrence persists a user edit of the rule and the state it reseeds,
// including cleared (NULL) columns.
func (r *TaskRepository) SaveRecurrence(ctx context.Context, task *model.Task) error {
	normalizeTimes(task)
	if err := r.db.WithContext(ctx).Model(task).
		Select("frequency", "every", "day_of_week", "day_of_month", "month", "series_end",
			"last_occurrence", "next_occurrence", "status", "previous_status", "is_done").
		Updates(task).Error; err != nil {
		return fmt.Errorf("save recurrence: %w", err)
	}
	return nil
}

// Delete removes a task for the given user, regardless of it being recurring or not.
func (r *TaskRepository) Delete(ctx context.Context, userID, taskID uint) error {
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).
		Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// SQLite compares timestamps as text, so everything is stored in UTC.
func normalizeTimes(task *model.Task) {
	task.Deadline = utc(task.Deadline)
	task.SeriesEnd = utc(task.SeriesEnd)
	task.LastOccurrence = utc(task.LastOccurrence)
	task.NextOccurrence = utc(task.NextOccurrence)
	task.LastCompletedAt = utc(task.LastCompletedAt)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
