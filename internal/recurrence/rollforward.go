package recurrence

import "time"

// Stepper yields the occurrence that follows a cursor. Evaluator is the
// production implementation.
type Stepper interface {
	NextAfter(anchor time.Time, rule Rule, now time.Time) (time.Time, error)
}

// Outcome summarizes one roll of a single task.
type Outcome struct {
	Fired      int
	Terminated bool
}

// Changed reports whether the roll produced a state worth persisting.
func (o Outcome) Changed() bool {
	return o.Fired > 0 || o.Terminated
}

// RollForward advances st through every period that is due at now.
//
// The returned state has NextOccurrence strictly after now, or no next
// occurrence at all when the series passed SeriesEnd. SeriesEnd is inclusive:
// a candidate equal to it survives. On error the input state is returned
// unchanged so callers never persist a partial roll.
func RollForward(ev Stepper, rule Rule, st State, now time.Time) (State, Outcome, error) {
	if !rule.Repeats() || st.NextOccurrence == nil || st.NextOccurrence.After(now) {
		return st, Outcome{}, nil
	}

	out := st
	cursor := *st.NextOccurrence
	fired := 0
	for {
		candidate, err := ev.NextAfter(cursor, rule, now)
		if err != nil {
			return st, Outcome{}, err
		}
		if !candidate.After(cursor) {
			return st, Outcome{}, &NonAdvancingOccurrenceError{Cursor: cursor, Candidate: candidate, Rule: rule}
		}
		fired++
		last := cursor
		out.LastOccurrence = &last

		if rule.SeriesEnd != nil && candidate.After(*rule.SeriesEnd) {
			out.NextOccurrence = nil
			out.Status = StatusDone
			out.IsDone = true
			return out, Outcome{Fired: fired, Terminated: true}, nil
		}

		cursor = candidate
		if cursor.After(now) {
			break
		}
	}

	next := cursor
	out.NextOccurrence = &next
	if st.Status == StatusDone {
		out.Status = StatusActive
		if st.PreviousStatus != nil && *st.PreviousStatus != StatusDone {
			out.Status = *st.PreviousStatus
		}
	}
	out.IsDone = out.Status == StatusDone
	return out, Outcome{Fired: fired}, nil
}
