// Package recurrence decides when a repeating task is due next and rolls a
// task's occurrence pointer forward through every period it missed.
//
// Everything here is pure: callers pass the rule, the current state and the
// current time, and persist the returned state themselves.
package recurrence

import (
	"fmt"
	"time"
)

// Frequency is the calendar unit a rule repeats in.
type Frequency string

const (
	FrequencyNone    Frequency = "none"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// ParseFrequency accepts the lower-case names used in storage.
func ParseFrequency(raw string) (Frequency, error) {
	switch f := Frequency(raw); f {
	case FrequencyNone, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return f, nil
	case "":
		return FrequencyNone, nil
	default:
		return "", fmt.Errorf("unknown frequency %q", raw)
	}
}

// Status is the task status the engine reads and writes.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusDone    Status = "done"
)

// Rule describes how a task repeats.
//
// Every == 0 is period-boundary mode: occurrences land on the start of each
// calendar period and the anchor is ignored.
type Rule struct {
	Frequency  Frequency
	Every      int
	DayOfWeek  int // 0 = Sunday, weekly only
	DayOfMonth int // 1..31, monthly and yearly
	Month      int // 1..12, yearly only
	SeriesEnd  *time.Time
}

// Repeats reports whether the rule produces occurrences at all.
func (r Rule) Repeats() bool {
	return r.Frequency != "" && r.Frequency != FrequencyNone
}

// Validate checks every field the frequency makes meaningful.
func (r Rule) Validate() error {
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
	default:
		return &InvalidRuleError{Field: "frequency", Value: string(r.Frequency)}
	}
	if r.Every < 0 {
		return &InvalidRuleError{Field: "every", Value: fmt.Sprint(r.Every)}
	}
	switch r.Frequency {
	case FrequencyWeekly:
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			return &InvalidRuleError{Field: "day_of_week", Value: fmt.Sprint(r.DayOfWeek)}
		}
	case FrequencyMonthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return &InvalidRuleError{Field: "day_of_month", Value: fmt.Sprint(r.DayOfMonth)}
		}
	case FrequencyYearly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return &InvalidRuleError{Field: "day_of_month", Value: fmt.Sprint(r.DayOfMonth)}
		}
		if r.Month < 1 || r.Month > 12 {
			return &InvalidRuleError{Field: "month", Value: fmt.Sprint(r.Month)}
		}
	}
	return nil
}

// State is the mutable half of a recurring task.
type State struct {
	Anchor         time.Time
	LastOccurrence *time.Time
	NextOccurrence *time.Time
	Status         Status
	PreviousStatus *Status
	IsDone         bool
}

// Ended reports whether the series has terminated.
func (s State) Ended() bool {
	return s.NextOccurrence == nil && s.Status == StatusDone
}
