package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"planner/internal/bot"
	"planner/internal/config"
	"planner/internal/logging"
	"planner/internal/recurrence"
	"planner/internal/repository"
	"planner/internal/service"
)

const (
	reportTimeout = 30 * time.Second
	sweepTimeout  = 5 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "console")
		bootLog.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := repository.NewDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	taskRepo := repository.NewTaskRepository(db)

	evaluator := recurrence.NewEvaluator(cfg.Location)

	categorySvc := service.NewCategoryService(categoryRepo)
	taskSvc := service.NewTaskService(taskRepo, categoryRepo, evaluator)
	reminderSvc := service.NewReminderService(taskRepo, categoryRepo, evaluator)
	rollSvc := service.NewRollForwardService(taskRepo, evaluator, log)

	telegramBot, err := bot.New(cfg.TelegramToken, userRepo, categorySvc, taskSvc, reminderSvc, &cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("bot")
	}

	scheduler := service.NewSchedulerService(cfg.Location, log)

	sweep := func() {
		jobCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
		defer cancel()
		if _, err := rollSvc.Run(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("roll-forward sweep")
		}
	}
	if _, err := scheduler.ScheduleDaily(cfg.RollForwardAt, sweep); err != nil {
		log.Fatal().Err(err).Str("at", cfg.RollForwardAt).Msg("schedule roll-forward")
	}

	report := func() {
		jobCtx, cancel := context.WithTimeout(ctx, reportTimeout)
		defer cancel()
		if err := telegramBot.SendDailyReports(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("report")
		}
	}

	var (
		reportMu sync.Mutex
		reportID cron.EntryID
	)
	if cfg.ReportInterval > 0 {
		if reportID, err = scheduler.ScheduleInterval(cfg.ReportInterval, report); err != nil {
			log.Fatal().Err(err).Msg("schedule reports")
		}
	}
	telegramBot.OnIntervalChange(func(interval time.Duration) error {
		reportMu.Lock()
		defer reportMu.Unlock()
		id, err := scheduler.Reschedule(reportID, interval, report)
		if err != nil {
			return err
		}
		reportID = id
		log.Info().Time("next", scheduler.Next(id)).Msg("reports rescheduled")
		return nil
	})

	// Catch up on occurrences that passed while the process was down.
	sweep()

	scheduler.Start()
	defer scheduler.Stop()

	log.Info().Str("timezone", cfg.Location.String()).Str("roll_forward_at", cfg.RollForwardAt).Msg("planner bot started")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("bot stopped with error")
	}
	log.Info().Msg("shutdown complete")
}
