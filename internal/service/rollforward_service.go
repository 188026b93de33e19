package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"planner/internal/model"
	"planner/internal/recurrence"
	"planner/internal/repository"
)

// ErrSweepInProgress is returned when a sweep is requested while another one
// is still running in this process.
var ErrSweepInProgress = errors.New("roll-forward sweep already running")

// TaskStore is the storage the sweep reads due tasks from and writes rolled
// state back to. *repository.TaskRepository implements it.
type TaskStore interface {
	FindDueRecurringTasks(ctx context.Context, now time.Time) ([]model.Task, error)
	FindLapsedSeries(ctx context.Context, now time.Time) ([]model.Task, error)
	UpdateRecurrenceState(ctx context.Context, taskID uint, expectedNext time.Time, st recurrence.State) error
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	RunID         string
	Due           int
	Lapsed        int
	Advanced      int
	Terminated    int
	Skipped       int
	InvalidRule   int
	NonAdvancing  int
	PersistFailed int
	Duration      time.Duration
}

// Failed is the number of tasks left untouched because of an error.
func (r SweepReport) Failed() int {
	return r.InvalidRule + r.NonAdvancing + r.PersistFailed
}

// RollForwardService advances every due recurring task to its next
// occurrence. Tasks are independent: one failing task never stops the sweep.
type RollForwardService struct {
	store     TaskStore
	evaluator recurrence.Evaluator
	stepper   recurrence.Stepper
	log       zerolog.Logger
	now       func() time.Time

	mu           sync.Mutex
	invalidTotal atomic.Int64
}

func NewRollForwardService(store TaskStore, evaluator recurrence.Evaluator, log zerolog.Logger) *RollForwardService {
	return &RollForwardService{
		store:     store,
		evaluator: evaluator,
		stepper:   evaluator,
		log:       log.With().Str("component", "rollforward").Logger(),
		now:       time.Now,
	}
}

// InvalidRuleTotal is the number of invalid-rule failures seen since start.
// A task with a broken rule is counted again on every sweep it stays due.
func (s *RollForwardService) InvalidRuleTotal() int64 {
	return s.invalidTotal.Load()
}

// Run sweeps at the current time in the evaluator's zone.
func (s *RollForwardService) Run(ctx context.Context) (SweepReport, error) {
	return s.Sweep(ctx, s.now().In(s.evaluator.Location))
}

// Sweep rolls every task due at now. Only a failure to load the batch, a
// cancelled context or a concurrent sweep is returned as an error; per-task
// failures are logged and counted in the report.
func (s *RollForwardService) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	if !s.mu.TryLock() {
		return SweepReport{}, ErrSweepInProgress
	}
	defer s.mu.Unlock()

	started := time.Now()
	report := SweepReport{RunID: uuid.NewString()}
	log := s.log.With().Str("run_id", report.RunID).Time("now", now).Logger()

	tasks, err := s.store.FindDueRecurringTasks(ctx, now)
	if err != nil {
		return report, err
	}
	report.Due = len(tasks)

	// Series whose end passed before their pending occurrence was rolled are
	// not due any more, but still need to be closed.
	lapsed, err := s.store.FindLapsedSeries(ctx, now)
	if err != nil {
		return report, err
	}
	report.Lapsed = len(lapsed)
	tasks = append(tasks, lapsed...)

	for _, task := range tasks {
		select {
		case <-ctx.Done():
			report.Duration = time.Since(started)
			return report, ctx.Err()
		default:
		}
		s.rollTask(ctx, log, task, now, &report)
	}

	report.Duration = time.Since(started)
	level := zerolog.InfoLevel
	if report.Failed() > 0 {
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).Int("due", report.Due).
		Int("lapsed", report.Lapsed).
		Int("advanced", report.Advanced).
		Int("terminated", report.Terminated).
		Int("skipped", report.Skipped).
		Int("invalid_rule", report.InvalidRule).
		Int("non_advancing", report.NonAdvancing).
		Int("persist_failed", report.PersistFailed).
		Int64("invalid_rule_total", s.invalidTotal.Load()).
		Dur("took", report.Duration).
		Msg("roll-forward sweep finished")
	return report, nil
}

func (s *RollForwardService) rollTask(ctx context.Context, log zerolog.Logger, task model.Task, now time.Time, report *SweepReport) {
	if task.NextOccurrence == nil {
		return
	}
	rule := task.Rule()
	tlog := log.With().Uint("task_id", task.ID).Logger()

	rolled, outcome, err := recurrence.RollForward(s.stepper, rule, task.RecurrenceState(), now)
	if err != nil {
		var invalid *recurrence.InvalidRuleError
		if errors.As(err, &invalid) {
			report.InvalidRule++
			s.invalidTotal.Add(1)
		} else {
			report.NonAdvancing++
		}
		ruleEvent(tlog.Error().Err(err), rule).Msg("recurrence roll failed, task left unchanged")
		return
	}
	if !outcome.Changed() {
		return
	}

	if err := s.store.UpdateRecurrenceState(ctx, task.ID, *task.NextOccurrence, rolled); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			report.Skipped++
			tlog.Info().Msg("task advanced by another sweep, skipped")
			return
		}
		report.PersistFailed++
		tlog.Error().Err(err).Msg("persist rolled recurrence state")
		return
	}

	if outcome.Terminated {
		report.Terminated++
		tlog.Info().Int("fired", outcome.Fired).Msg("recurring series ended")
		return
	}
	report.Advanced++
	tlog.Debug().Int("fired", outcome.Fired).Time("next", *rolled.NextOccurrence).Msg("task rolled forward")
}

func ruleEvent(e *zerolog.Event, rule recurrence.Rule) *zerolog.Event {
	e = e.Str("frequency", string(rule.Frequency)).
		Int("every", rule.Every).
		Int("day_of_week", rule.DayOfWeek).
		Int("day_of_month", rule.DayOfMonth).
		Int("month", rule.Month)
	if rule.SeriesEnd != nil {
		e = e.Time("series_end", *rule.SeriesEnd)
	}
	return e
}
