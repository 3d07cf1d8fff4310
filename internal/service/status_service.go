package service

import (
	"context"
	"log"
	"time"

	"time-planner/internal/model"
	"time-planner/internal/planner"
	"time-planner/internal/repository"
	"time-planner/internal/schedule"
)

// Clock abstracts wall-clock access so tests can step time instead of
// waiting on real delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }

// StatusService keeps persisted task status fields in sync with wall-clock
// time. Watch is a cooperative poll: it re-projects a day's tasks, sleeps,
// and repeats until every task is time-completed or the context is
// cancelled. Cancellation is checked between iterations, never mid-write.
type StatusService struct {
	taskRepo     *repository.TaskRepository
	scheduleRepo *repository.ScheduleRepository
	clock        Clock
	pollInterval time.Duration
}

func NewStatusService(taskRepo *repository.TaskRepository, scheduleRepo *repository.ScheduleRepository, clock Clock, pollInterval time.Duration) *StatusService {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &StatusService{taskRepo: taskRepo, scheduleRepo: scheduleRepo, clock: clock, pollInterval: pollInterval}
}

// RefreshDay projects every task of the day at now, persists the rows whose
// derived fields changed, and returns how many tasks are not yet
// time-completed.
func (s *StatusService) RefreshDay(ctx context.Context, userID uint, date time.Time) (int, error) {
	day := schedule.Midnight(date)
	now := s.clock.Now()

	tasks, err := s.taskRepo.ListByDate(ctx, userID, day)
	if err != nil {
		return 0, planner.MapStorage("list day", err)
	}

	pending := 0
	for i := range tasks {
		task := &tasks[i]
		proj := schedule.Project(schedule.Interval{From: task.StartAt, To: task.EndAt}, now)
		if proj.Status != schedule.StatusCompleted {
			pending++
		}
		if updateDerived(task, proj) {
			if err := s.taskRepo.SaveDerived(ctx, task); err != nil {
				return pending, err
			}
		}
	}

	if err := s.scheduleRepo.UpsertStatus(ctx, userID, day, schedule.DayStatus(day, now)); err != nil {
		return pending, err
	}
	return pending, nil
}

// Watch polls RefreshDay until the whole day is time-completed or ctx is
// cancelled.
func (s *StatusService) Watch(ctx context.Context, userID uint, date time.Time) error {
	for {
		pending, err := s.RefreshDay(ctx, userID, date)
		if err != nil {
			return err
		}
		if pending == 0 {
			log.Printf("[info] day %s fully completed for user %d", schedule.Midnight(date).Format("2006-01-02"), userID)
			return nil
		}
		if err := s.clock.Sleep(ctx, s.pollInterval); err != nil {
			return err
		}
	}
}

func updateDerived(task *model.Task, proj schedule.Projection) bool {
	status := proj.Status.String()
	if task.Status == status && task.Progress == proj.Progress {
		return false
	}
	task.Status = status
	task.Progress = proj.Progress
	return true
}
