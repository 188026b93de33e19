package recurrence

import "time"

// Evaluator computes occurrences in a single configured time zone.
type Evaluator struct {
	Location *time.Location
}

// NewEvaluator returns an evaluator pinned to loc (UTC when nil).
func NewEvaluator(loc *time.Location) Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return Evaluator{Location: loc}
}

func (e Evaluator) location() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

// NextAfter returns the occurrence that follows anchor under rule.
//
// With Every >= 1 the result is anchor plus Every periods, snapped onto the
// rule's weekday or (clamped) day of month. With Every == 0 the anchor is
// ignored and the result is the start of the next calendar period after now.
func (e Evaluator) NextAfter(anchor time.Time, rule Rule, now time.Time) (time.Time, error) {
	if err := rule.Validate(); err != nil {
		return time.Time{}, err
	}
	loc := e.location()
	if rule.Every == 0 {
		return nextPeriodStart(now.In(loc), rule), nil
	}
	return addPeriods(anchor.In(loc), rule), nil
}

func addPeriods(anchor time.Time, rule Rule) time.Time {
	switch rule.Frequency {
	case FrequencyDaily:
		return anchor.AddDate(0, 0, rule.Every)
	case FrequencyWeekly:
		shifted := anchor.AddDate(0, 0, 7*rule.Every)
		// Snap inside the Sunday-started week that contains the shifted date.
		weekStart := shifted.AddDate(0, 0, -int(shifted.Weekday()))
		return weekStart.AddDate(0, 0, rule.DayOfWeek)
	case FrequencyMonthly:
		year, month := addMonths(anchor.Year(), anchor.Month(), rule.Every)
		return onDay(year, month, rule.DayOfMonth, anchor)
	default: // yearly
		return onDay(anchor.Year()+rule.Every, time.Month(rule.Month), rule.DayOfMonth, anchor)
	}
}

func nextPeriodStart(now time.Time, rule Rule) time.Time {
	today := StartOfDay(now)
	switch rule.Frequency {
	case FrequencyDaily:
		return today.AddDate(0, 0, 1)
	case FrequencyWeekly:
		days := (rule.DayOfWeek - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return today.AddDate(0, 0, days)
	case FrequencyMonthly:
		year, month := addMonths(now.Year(), now.Month(), 1)
		return time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
	default: // yearly
		return onDay(now.Year()+1, time.Month(rule.Month), rule.DayOfMonth, today)
	}
}

// FirstOnOrAfter returns the first day on or after from (at 00:00) that the
// rule's weekday, day-of-month and month fields select. It seeds a series
// that has no explicit anchor. In period-boundary mode monthly series start
// on the 1st.
func (e Evaluator) FirstOnOrAfter(from time.Time, rule Rule) (time.Time, error) {
	if err := rule.Validate(); err != nil {
		return time.Time{}, err
	}
	d := StartOfDay(from.In(e.location()))
	switch rule.Frequency {
	case FrequencyDaily:
		return d, nil
	case FrequencyWeekly:
		return d.AddDate(0, 0, (rule.DayOfWeek-int(d.Weekday())+7)%7), nil
	case FrequencyMonthly:
		dom := rule.DayOfMonth
		if rule.Every == 0 {
			dom = 1
		}
		if c := onDay(d.Year(), d.Month(), dom, d); !c.Before(d) {
			return c, nil
		}
		year, month := addMonths(d.Year(), d.Month(), 1)
		return onDay(year, month, dom, d), nil
	default: // yearly
		if c := onDay(d.Year(), time.Month(rule.Month), rule.DayOfMonth, d); !c.Before(d) {
			return c, nil
		}
		return onDay(d.Year()+1, time.Month(rule.Month), rule.DayOfMonth, d), nil
	}
}
