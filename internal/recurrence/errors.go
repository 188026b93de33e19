package recurrence

import (
	"fmt"
	"time"
)

// InvalidRuleError reports a rule field outside its valid range.
type InvalidRuleError struct {
	Field string
	Value string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid recurrence rule: %s=%s", e.Field, e.Value)
}

// NonAdvancingOccurrenceError means the evaluator returned a candidate that is
// not strictly after the cursor. It is a bug in the evaluator, never retried.
type NonAdvancingOccurrenceError struct {
	Cursor    time.Time
	Candidate time.Time
	Rule      Rule
}

func (e *NonAdvancingOccurrenceError) Error() string {
	return fmt.Sprintf("recurrence did not advance: cursor=%s candidate=%s frequency=%s every=%d",
		e.Cursor.Format(time.RFC3339), e.Candidate.Format(time.RFC3339), e.Rule.Frequency, e.Rule.Every)
}
