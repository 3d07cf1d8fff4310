package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"time-planner/internal/model"
	"time-planner/internal/repository"
	"time-planner/internal/schedule"
)

// ReminderService builds human-readable day summaries for notifications and
// the day view.
type ReminderService struct {
	taskRepo     *repository.TaskRepository
	categoryRepo *repository.CategoryRepository
}

func NewReminderService(taskRepo *repository.TaskRepository, categoryRepo *repository.CategoryRepository) *ReminderService {
	return &ReminderService{taskRepo: taskRepo, categoryRepo: categoryRepo}
}

// DailySummary renders the user's schedule for now's day as Telegram HTML.
func (s *ReminderService) DailySummary(ctx context.Context, user model.User, now time.Time) (string, error) {
	day := schedule.Midnight(now)
	tasks, err := s.taskRepo.ListByDate(ctx, user.ID, day)
	if err != nil {
		return "", err
	}

	categories, err := s.categoryRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	catNames := make(map[uint]string)
	for _, cat := range categories {
		catNames[cat.ID] = cat.Name
	}

	var running, upcoming, unexecuted, done []model.Task
	for _, task := range tasks {
		proj := schedule.Project(schedule.Interval{From: task.StartAt, To: task.EndAt}, now)
		switch {
		case proj.Status == schedule.StatusRunning:
			running = append(running, task)
		case proj.Status == schedule.StatusPlanned:
			upcoming = append(upcoming, task)
		case task.Done:
			done = append(done, task)
		default:
			// Time has elapsed but the checkbox was never ticked.
			unexecuted = append(unexecuted, task)
		}
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Daily schedule</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s · %s\n\n", day.Format("02.01.2006"), dayStatusLabel(schedule.DayStatus(day, now))))

	builder.WriteString("▶️ <b>In progress</b>\n")
	if len(running) == 0 {
		builder.WriteString("— nothing right now\n")
	} else {
		for _, task := range running {
			builder.WriteString(formatTimedTask(task, catNames, now))
		}
	}

	builder.WriteString("\n🕐 <b>Up next</b>\n")
	if len(upcoming) == 0 {
		builder.WriteString("— nothing planned\n")
	} else {
		for _, task := range upcoming {
			builder.WriteString(formatTimedTask(task, catNames, now))
		}
	}

	if len(unexecuted) > 0 {
		builder.WriteString("\n⚠️ <b>Unexecuted</b>\n")
		for _, task := range unexecuted {
			builder.WriteString(formatTimedTask(task, catNames, now))
		}
	}

	if len(done) > 0 {
		builder.WriteString("\n✅ <b>Done</b>\n")
		for _, task := range done {
			builder.WriteString(formatTimedTask(task, catNames, now))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

func dayStatusLabel(status string) string {
	switch status {
	case model.DayPlanned:
		return "planned"
	case model.DayRealized:
		return "realized"
	default:
		return "in progress"
	}
}

func formatTimedTask(task model.Task, catNames map[uint]string, now time.Time) string {
	var sb strings.Builder

	proj := schedule.Project(schedule.Interval{From: task.StartAt, To: task.EndAt}, now)

	icon := "🟢"
	switch {
	case task.Done:
		icon = "✅"
	case proj.Status == schedule.StatusRunning:
		icon = "▶️"
	case proj.Status == schedule.StatusCompleted:
		icon = "⚠️"
	case task.Important:
		icon = "❗"
	}

	title := html.EscapeString(strings.TrimSpace(task.Title))
	sb.WriteString(fmt.Sprintf("%s %s–%s %s", icon,
		task.StartAt.In(now.Location()).Format("15:04"),
		task.EndAt.In(now.Location()).Format("15:04"),
		title))

	if task.CategoryID != nil {
		if name, ok := catNames[*task.CategoryID]; ok {
			trimmed := strings.TrimSpace(name)
			if trimmed != "" {
				sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(trimmed)))
			}
		}
	}

	if proj.Status == schedule.StatusRunning {
		sb.WriteString(fmt.Sprintf("\n   %s %d%% · %s left", progressBar(proj.Progress),
			int(proj.Progress*100), formatRemaining(proj.Remaining)))
	}

	sb.WriteByte('\n')
	return sb.String()
}

func progressBar(progress float64) string {
	const width = 10
	filled := int(progress*width + 0.5)
	if filled > width {
		filled = width
	}
	return strings.Repeat("▰", filled) + strings.Repeat("▱", width-filled)
}

func formatRemaining(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %02dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
