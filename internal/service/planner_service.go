package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"time-planner/internal/model"
	"time-planner/internal/planner"
	"time-planner/internal/repository"
	"time-planner/internal/schedule"
)

// TaskInput represents data required to place a task on a day.
type TaskInput struct {
	Title     string
	Date      time.Time // any time within the target day
	StartAt   time.Time
	EndAt     time.Time
	Category  string
	Important bool
	Notify    bool
}

// TaskView pairs a stored task with its live projection.
type TaskView struct {
	Task       model.Task
	Projection schedule.Projection
}

// DayView is one day's assembled schedule.
type DayView struct {
	Date   time.Time
	Status string
	Items  []TaskView
}

// PlannerService wraps day-schedule business logic. Every placement mutation
// passes through the overlap detector before anything is written, which is
// what keeps the per-day non-overlap invariant.
type PlannerService struct {
	taskRepo     *repository.TaskRepository
	categoryRepo *repository.CategoryRepository
	scheduleRepo *repository.ScheduleRepository
}

func NewPlannerService(taskRepo *repository.TaskRepository, categoryRepo *repository.CategoryRepository, scheduleRepo *repository.ScheduleRepository) *PlannerService {
	return &PlannerService{taskRepo: taskRepo, categoryRepo: categoryRepo, scheduleRepo: scheduleRepo}
}

func (s *PlannerService) CreateTask(ctx context.Context, user *model.User, input TaskInput) (*model.Task, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	iv, ok := schedule.NewInterval(input.StartAt, input.EndAt)
	if !ok {
		return nil, fmt.Errorf("start must be before end")
	}

	day := schedule.Midnight(input.Date)
	if err := s.checkOverlap(ctx, user.ID, day, iv, ""); err != nil {
		return nil, err
	}

	var categoryID *uint
	if input.Category != "" {
		category, err := s.categoryRepo.GetOrCreate(ctx, user.ID, input.Category)
		if err != nil {
			return nil, err
		}
		if category != nil {
			categoryID = &category.ID
		}
	}

	task := model.Task{
		Key:        uuid.NewString(),
		UserID:     user.ID,
		Date:       day,
		StartAt:    iv.From,
		EndAt:      iv.To,
		Title:      input.Title,
		CategoryID: categoryID,
		Important:  input.Important,
		Notify:     input.Notify,
	}
	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTaskTime moves a task to a new interval on the same day. Editing a
// template-sourced instance detaches it from reconciliation.
func (s *PlannerService) UpdateTaskTime(ctx context.Context, user *model.User, key string, startAt, endAt time.Time) (*model.Task, error) {
	task, err := s.taskRepo.FindByKey(ctx, user.ID, key)
	if err != nil {
		return nil, planner.MapStorage("find task", err)
	}
	iv, ok := schedule.NewInterval(startAt, endAt)
	if !ok {
		return nil, fmt.Errorf("start must be before end")
	}
	if !schedule.SameDay(iv.From, task.Date) || iv.To.After(task.Date.AddDate(0, 0, 1)) {
		return nil, fmt.Errorf("the task must stay within its day")
	}
	if err := s.checkOverlap(ctx, user.ID, task.Date, iv, task.Key); err != nil {
		return nil, err
	}

	task.StartAt = iv.From
	task.EndAt = iv.To
	if task.TemplateID != nil {
		task.Detached = true
	}
	if err := s.taskRepo.Save(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ShiftTask moves both task boundaries by delta, gated like any other
// placement.
func (s *PlannerService) ShiftTask(ctx context.Context, user *model.User, key string, delta time.Duration) (*model.Task, error) {
	task, err := s.taskRepo.FindByKey(ctx, user.ID, key)
	if err != nil {
		return nil, planner.MapStorage("find task", err)
	}
	iv := schedule.Interval{From: task.StartAt, To: task.EndAt}.Shift(delta)
	return s.UpdateTaskTime(ctx, user, key, iv.From, iv.To)
}

// ToggleDone flips the user-set done checkbox, independent of time-derived
// completion.
func (s *PlannerService) ToggleDone(ctx context.Context, user *model.User, key string) (*model.Task, error) {
	task, err := s.taskRepo.FindByKey(ctx, user.ID, key)
	if err != nil {
		return nil, planner.MapStorage("find task", err)
	}
	task.Done = !task.Done
	if err := s.taskRepo.Save(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *PlannerService) DeleteTask(ctx context.Context, user *model.User, key string) error {
	if err := s.taskRepo.DeleteByKey(ctx, user.ID, key); err != nil {
		return planner.MapStorage("delete task", err)
	}
	return nil
}

// ClearDay removes every task of one calendar day.
func (s *PlannerService) ClearDay(ctx context.Context, user *model.User, date time.Time) error {
	return s.taskRepo.DeleteByDate(ctx, user.ID, schedule.Midnight(date))
}

// DayView assembles one day's tasks with projections and the derived day
// status, persisting the status row as a side effect.
func (s *PlannerService) DayView(ctx context.Context, user *model.User, date, now time.Time) (*DayView, error) {
	day := schedule.Midnight(date)
	tasks, err := s.taskRepo.ListByDate(ctx, user.ID, day)
	if err != nil {
		return nil, planner.MapStorage("list day", err)
	}

	view := &DayView{Date: day, Status: schedule.DayStatus(day, now)}
	for _, t := range tasks {
		proj := schedule.Project(schedule.Interval{From: t.StartAt, To: t.EndAt}, now)
		view.Items = append(view.Items, TaskView{Task: t, Projection: proj})
	}

	if err := s.scheduleRepo.UpsertStatus(ctx, user.ID, day, view.Status); err != nil {
		return nil, err
	}
	return view, nil
}

// checkOverlap runs the overlap detector against the day's other tasks and
// converts a collision into a planner.OverlapError.
func (s *PlannerService) checkOverlap(ctx context.Context, userID uint, day time.Time, candidate schedule.Interval, excludeKey string) error {
	tasks, err := s.taskRepo.ListByDate(ctx, userID, day)
	if err != nil {
		return planner.MapStorage("list day", err)
	}
	existing := make([]schedule.Interval, 0, len(tasks))
	for _, t := range tasks {
		if t.Key == excludeKey {
			continue
		}
		existing = append(existing, schedule.Interval{From: t.StartAt, To: t.EndAt})
	}
	if res := schedule.DetectOverlap(candidate, existing); res.Overlaps {
		return &planner.OverlapError{StartViolation: res.StartViolation, EndViolation: res.EndViolation}
	}
	return nil
}
