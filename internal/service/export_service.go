package service

import (
	"context"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"

	"time-planner/internal/model"
	"time-planner/internal/repository"
	"time-planner/internal/schedule"
)

// ExportService renders a date range of a user's schedule as an ICS
// calendar, one VEVENT per task instance.
type ExportService struct {
	taskRepo     *repository.TaskRepository
	categoryRepo *repository.CategoryRepository
}

func NewExportService(taskRepo *repository.TaskRepository, categoryRepo *repository.CategoryRepository) *ExportService {
	return &ExportService{taskRepo: taskRepo, categoryRepo: categoryRepo}
}

// Export serializes tasks dated in [from, to) into ICS. Task keys double as
// event UIDs so repeated exports stay stable.
func (s *ExportService) Export(ctx context.Context, user *model.User, from, to time.Time) (string, error) {
	tasks, err := s.taskRepo.ListRange(ctx, user.ID, schedule.Midnight(from), schedule.Midnight(to))
	if err != nil {
		return "", fmt.Errorf("list range: %w", err)
	}
	if len(tasks) == 0 {
		return "", fmt.Errorf("no tasks in range")
	}

	categories, err := s.categoryRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	catNames := make(map[uint]string)
	for _, cat := range categories {
		catNames[cat.ID] = cat.Name
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//time-planner//EN")

	for _, task := range tasks {
		ev := cal.AddEvent(task.Key)
		ev.SetCreatedTime(task.CreatedAt)
		ev.SetModifiedAt(task.UpdatedAt)
		ev.SetStartAt(task.StartAt)
		ev.SetEndAt(task.EndAt)
		ev.SetSummary(task.Title)
		if task.CategoryID != nil {
			if name, ok := catNames[*task.CategoryID]; ok {
				ev.SetDescription(name)
			}
		}
		if task.Done {
			ev.SetStatus(ics.ObjectStatusCompleted)
		} else {
			ev.SetStatus(ics.ObjectStatusConfirmed)
		}
	}

	return cal.Serialize(), nil
}
