package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"planner/internal/model"
	"planner/internal/recurrence"
	"planner/internal/repository"
)

// ErrNotRecurring is returned when a recurrence edit targets a one-off task.
var ErrNotRecurring = errors.New("task is not recurring")

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title       string     `validate:"required,max=256"`
	Description string     `validate:"max=2048"`
	Category    string     `validate:"max=64"`
	Deadline    *time.Time // also the first occurrence of a recurring task

	Frequency  recurrence.Frequency `validate:"omitempty,oneof=none daily weekly monthly yearly"`
	Every      int                  `validate:"gte=0,lte=366"`
	DayOfWeek  int                  `validate:"gte=0,lte=6"`
	DayOfMonth int                  `validate:"gte=0,lte=31"`
	Month      int                  `validate:"gte=0,lte=12"`
	SeriesEnd  *time.Time
}

// Rule extracts the recurrence rule from the input.
func (in TaskInput) Rule() recurrence.Rule {
	freq := in.Frequency
	if freq == "" {
		freq = recurrence.FrequencyNone
	}
	return recurrence.Rule{
		Frequency:  freq,
		Every:      in.Every,
		DayOfWeek:  in.DayOfWeek,
		DayOfMonth: in.DayOfMonth,
		Month:      in.Month,
		SeriesEnd:  in.SeriesEnd,
	}
}

// TaskService wraps task-related business logic.
type TaskService struct {
	taskRepo     *repository.TaskRepository
	categoryRepo *repository.CategoryRepository
	evaluator    recurrence.Evaluator
	validate     *validator.Validate
	now          func() time.Time
}

func NewTaskService(taskRepo *repository.TaskRepository, categoryRepo *repository.CategoryRepository, evaluator recurrence.Evaluator) *TaskService {
	return &TaskService{
		taskRepo:     taskRepo,
		categoryRepo: categoryRepo,
		evaluator:    evaluator,
		validate:     validator.New(),
		now:          time.Now,
	}
}

func (s *TaskService) CreateTask(ctx context.Context, user *model.User, input TaskInput) (*model.Task, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	var categoryID *uint
	if input.Category != "" {
		category, err := s.categoryRepo.GetOrCreate(ctx, user.ID, input.Category)
		if err != nil {
			return nil, err
		}
		if category != nil {
			categoryID = &category.ID
		}
	}

	task := model.Task{
		UserID:      user.ID,
		CategoryID:  categoryID,
		Title:       input.Title,
		Description: input.Description,
		Deadline:    input.Deadline,
		Status:      recurrence.StatusPending,
		Frequency:   recurrence.FrequencyNone,
	}

	if rule := input.Rule(); rule.Repeats() {
		if err := s.seedSeries(&task, rule, input.Deadline, nil); err != nil {
			return nil, err
		}
	}

	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}

	return &task, nil
}

func (s *TaskService) ListActive(ctx context.Context, user *model.User) ([]model.Task, error) {
	return s.taskRepo.ListActiveOrRecurring(ctx, user.ID)
}

func (s *TaskService) GetTask(ctx context.Context, user *model.User, taskID uint) (*model.Task, error) {
	return s.taskRepo.FindByID(ctx, user.ID, taskID)
}

// CompleteTask marks a task as done. A recurring task is only closed for its
// current occurrence; the next roll-forward reopens it.
func (s *TaskService) CompleteTask(ctx context.Context, user *model.User, taskID uint, completedAt time.Time) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, err
	}

	if task.IsRecurring() {
		if err := s.taskRepo.MarkRecurringDone(ctx, task, completedAt); err != nil {
			return nil, err
		}
		return task, nil
	}

	if err := s.taskRepo.MarkCompleted(ctx, task, completedAt); err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateRule replaces the recurrence rule of a task and reseeds its next
// occurrence. A series that had ended is revived. A rule with frequency none
// cancels recurrence.
func (s *TaskService) UpdateRule(ctx context.Context, user *model.User, taskID uint, rule recurrence.Rule) (*model.Task, error) {
	if !rule.Repeats() {
		return s.CancelRecurrence(ctx, user, taskID)
	}
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, err
	}

	ended := task.IsRecurring() && task.NextOccurrence == nil
	if err := s.seedSeries(task, rule, nil, task.LastOccurrence); err != nil {
		return nil, err
	}
	if ended || task.Status == "" {
		task.Status = recurrence.StatusActive
		task.IsDone = false
		task.PreviousStatus = nil
	}

	if err := s.taskRepo.SaveRecurrence(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// CancelRecurrence turns a recurring task into a one-off task.
func (s *TaskService) CancelRecurrence(ctx context.Context, user *model.User, taskID uint) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsRecurring() {
		return nil, ErrNotRecurring
	}

	task.SetRule(recurrence.Rule{Frequency: recurrence.FrequencyNone})
	task.LastOccurrence = nil
	task.NextOccurrence = nil
	task.PreviousStatus = nil

	if err := s.taskRepo.SaveRecurrence(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task completely (for both one-time and recurring tasks).
func (s *TaskService) DeleteTask(ctx context.Context, user *model.User, taskID uint) error {
	return s.taskRepo.Delete(ctx, user.ID, taskID)
}

// seedSeries validates rule and sets the task's first occurrence: the
// explicit anchor when given, otherwise the first matching day from today
// that lies after the last fired occurrence.
func (s *TaskService) seedSeries(task *model.Task, rule recurrence.Rule, anchor, last *time.Time) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	var first time.Time
	if anchor != nil {
		first = *anchor
	} else {
		var err error
		first, err = s.evaluator.FirstOnOrAfter(s.now(), rule)
		if err != nil {
			return err
		}
		if last != nil && !first.After(*last) {
			first, err = s.evaluator.FirstOnOrAfter(recurrence.StartOfDay(last.In(s.evaluator.Location)).AddDate(0, 0, 1), rule)
			if err != nil {
				return err
			}
		}
	}
	if rule.SeriesEnd != nil && first.After(*rule.SeriesEnd) {
		return fmt.Errorf("series ends %s, before its first occurrence %s",
			rule.SeriesEnd.Format("2006-01-02"), first.Format("2006-01-02"))
	}

	task.SetRule(rule)
	task.NextOccurrence = &first
	return nil
}
