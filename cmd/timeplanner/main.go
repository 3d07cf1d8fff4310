package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"time-planner/internal/bot"
	"time-planner/internal/config"
	"time-planner/internal/repository"
	"time-planner/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)

	categorySvc := service.NewCategoryService(categoryRepo)
	plannerSvc := service.NewPlannerService(taskRepo, categoryRepo, scheduleRepo)
	templateSvc := service.NewTemplateService(db, templateRepo, taskRepo, categoryRepo)
	statusSvc := service.NewStatusService(taskRepo, scheduleRepo, service.SystemClock(), cfg.PollInterval)
	reminderSvc := service.NewReminderService(taskRepo, categoryRepo)
	exportSvc := service.NewExportService(taskRepo, categoryRepo)

	telegramBot, err := bot.New(cfg.TelegramToken, userRepo, categorySvc, plannerSvc, templateSvc,
		statusSvc, reminderSvc, exportSvc, &cfg)
	if err != nil {
		log.Fatalf("bot: %v", err)
	}

	scheduler := service.NewSchedulerService(cfg.Timezone)

	// Populate tomorrow's schedules from enabled templates once a day.
	if _, err := scheduler.ScheduleDaily(cfg.MaterializeTime, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		tomorrow := time.Now().In(cfg.Timezone).AddDate(0, 0, 1)
		if err := templateSvc.MaterializeDate(jobCtx, tomorrow); err != nil {
			log.Printf("materialize: %v", err)
		}
	}); err != nil {
		log.Fatalf("schedule materialization: %v", err)
	}

	// Keep persisted statuses and day headers current even when nobody is
	// watching a day interactively.
	if _, err := scheduler.ScheduleInterval(cfg.PollInterval, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		users, err := userRepo.ListAll(jobCtx)
		if err != nil {
			log.Printf("status refresh: %v", err)
			return
		}
		now := time.Now().In(cfg.Timezone)
		for _, user := range users {
			if _, err := statusSvc.RefreshDay(jobCtx, user.ID, now); err != nil {
				log.Printf("status refresh for user %d: %v", user.ID, err)
			}
		}
	}); err != nil {
		log.Fatalf("schedule status refresh: %v", err)
	}

	if cfg.ReportInterval > 0 {
		if _, err := scheduler.ScheduleInterval(cfg.ReportInterval, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := telegramBot.SendDailyReports(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("report: %v", err)
			}
		}); err != nil {
			log.Fatalf("schedule reports: %v", err)
		}
	}

	scheduler.Start()
	defer scheduler.Stop()

	log.Println("Time planner bot started.")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bot stopped with error: %v", err)
	}
	log.Println("Shutdown complete.")
}
