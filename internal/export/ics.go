// Package export renders tasks as iCalendar (RFC 5545) documents so a series
// can be imported into a calendar client.
package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"planner/internal/model"
	"planner/internal/recurrence"
)

const productID = "-//planner//Recurring Tasks//RU"

var taskNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("planner:task"))

var weekdays = []rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

var frequencies = map[recurrence.Frequency]rrule.Frequency{
	recurrence.FrequencyDaily:   rrule.DAILY,
	recurrence.FrequencyWeekly:  rrule.WEEKLY,
	recurrence.FrequencyMonthly: rrule.MONTHLY,
	recurrence.FrequencyYearly:  rrule.YEARLY,
}

// UID is stable for a task across exports.
func UID(taskID uint) string {
	return uuid.NewSHA1(taskNamespace, []byte(strconv.FormatUint(uint64(taskID), 10))).String()
}

// RuleOption translates a rule into an RRULE. Day-of-month clamping becomes
// BYMONTHDAY=28..d with BYSETPOS=-1, which selects the last existing day.
// Period-boundary rules (Every == 0) recur every period, on the 1st for
// monthly series.
func RuleOption(rule recurrence.Rule) (*rrule.ROption, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	opt := &rrule.ROption{
		Freq:     frequencies[rule.Frequency],
		Interval: max(rule.Every, 1),
		Wkst:     rrule.SU,
	}
	switch rule.Frequency {
	case recurrence.FrequencyWeekly:
		opt.Byweekday = []rrule.Weekday{weekdays[rule.DayOfWeek]}
	case recurrence.FrequencyMonthly:
		if rule.Every == 0 {
			opt.Bymonthday = []int{1}
		} else {
			setMonthDay(opt, rule.DayOfMonth)
		}
	case recurrence.FrequencyYearly:
		opt.Bymonth = []int{rule.Month}
		setMonthDay(opt, rule.DayOfMonth)
	}
	if rule.SeriesEnd != nil {
		opt.Until = rule.SeriesEnd.UTC()
	}
	return opt, nil
}

func setMonthDay(opt *rrule.ROption, day int) {
	if day <= 28 {
		opt.Bymonthday = []int{day}
		return
	}
	for d := 28; d <= day; d++ {
		opt.Bymonthday = append(opt.Bymonthday, d)
	}
	opt.Bysetpos = []int{-1}
}

func todoStatus(status recurrence.Status) string {
	switch status {
	case recurrence.StatusDone:
		return "COMPLETED"
	case recurrence.StatusActive:
		return "IN-PROCESS"
	default:
		return "NEEDS-ACTION"
	}
}

// Task renders one task as a VCALENDAR holding a single VTODO. Times are
// written in loc.
func Task(task model.Task, loc *time.Location, now time.Time) ([]byte, error) {
	todo := ical.NewComponent(ical.CompToDo)
	todo.Props.SetText(ical.PropUID, UID(task.ID))
	todo.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	todo.Props.SetText(ical.PropSummary, task.Title)
	if task.Description != "" {
		todo.Props.SetText(ical.PropDescription, task.Description)
	}
	todo.Props.SetText(ical.PropStatus, todoStatus(task.Status))
	if task.LastCompletedAt != nil && task.IsDone {
		todo.Props.SetDateTime("COMPLETED", task.LastCompletedAt.UTC())
	}

	switch {
	case task.IsRecurring() && task.NextOccurrence != nil:
		todo.Props.SetDateTime(ical.PropDateTimeStart, task.NextOccurrence.In(loc))
		opt, err := RuleOption(task.Rule())
		if err != nil {
			return nil, fmt.Errorf("export task %d: %w", task.ID, err)
		}
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = opt.RRuleString()
		todo.Props.Set(prop)
	case task.IsRecurring() && task.LastOccurrence != nil:
		// Ended series: only the final occurrence is left.
		todo.Props.SetDateTime(ical.PropDateTimeStart, task.LastOccurrence.In(loc))
	case task.Deadline != nil:
		todo.Props.SetDateTime(ical.PropDue, task.Deadline.In(loc))
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, todo)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode task %d: %w", task.ID, err)
	}
	return buf.Bytes(), nil
}
