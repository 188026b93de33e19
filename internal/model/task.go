package model

import (
	"time"

	"planner/internal/recurrence"
)

// Task represents a single item in the planner.
//
// Deadline doubles as the recurrence anchor. The recurrence columns are owned
// by the roll-forward sweep and by explicit user edits.
type Task struct {
	ID          uint  `gorm:"primaryKey"`
	UserID      uint  `gorm:"index"`
	CategoryID  *uint `gorm:"index"`
	Title       string
	Description string
	Deadline    *time.Time

	Status         recurrence.Status  `gorm:"size:16;default:pending;index"`
	PreviousStatus *recurrence.Status `gorm:"size:16"`
	IsDone         bool               `gorm:"default:false;index"`

	Frequency      recurrence.Frequency `gorm:"size:16;default:none;index"`
	Every          int
	DayOfWeek      int
	DayOfMonth     int
	Month          int
	SeriesEnd      *time.Time
	LastOccurrence *time.Time
	NextOccurrence *time.Time `gorm:"index"`

	LastCompletedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsRecurring reports whether the task has an active recurrence rule.
func (t Task) IsRecurring() bool {
	return t.Frequency != "" && t.Frequency != recurrence.FrequencyNone
}

// Due is the date the task is next due: the next occurrence of a recurring
// task, the deadline otherwise.
func (t Task) Due() *time.Time {
	if t.IsRecurring() {
		return t.NextOccurrence
	}
	return t.Deadline
}

// Rule returns the task's recurrence rule.
func (t Task) Rule() recurrence.Rule {
	return recurrence.Rule{
		Frequency:  t.Frequency,
		Every:      t.Every,
		DayOfWeek:  t.DayOfWeek,
		DayOfMonth: t.DayOfMonth,
		Month:      t.Month,
		SeriesEnd:  t.SeriesEnd,
	}
}

// SetRule copies rule onto the task columns.
func (t *Task) SetRule(rule recurrence.Rule) {
	t.Frequency = rule.Frequency
	t.Every = rule.Every
	t.DayOfWeek = rule.DayOfWeek
	t.DayOfMonth = rule.DayOfMonth
	t.Month = rule.Month
	t.SeriesEnd = rule.SeriesEnd
}

// RecurrenceState returns the mutable recurrence state of the task.
func (t Task) RecurrenceState() recurrence.State {
	st := recurrence.State{
		LastOccurrence: t.LastOccurrence,
		NextOccurrence: t.NextOccurrence,
		Status:         t.Status,
		PreviousStatus: t.PreviousStatus,
		IsDone:         t.IsDone,
	}
	if t.Deadline != nil {
		st.Anchor = *t.Deadline
	}
	return st
}

// ApplyRecurrenceState copies the fields the sweep writes back onto the task.
func (t *Task) ApplyRecurrenceState(st recurrence.State) {
	t.LastOccurrence = st.LastOccurrence
	t.NextOccurrence = st.NextOccurrence
	t.Status = st.Status
	t.IsDone = st.IsDone
}
