package schedule

import (
	"time"

	"time-planner/internal/model"
)

// Status is the wall-clock lifecycle of a task interval. It is derived from
// time alone and is distinct from the user-set done flag: a task can be
// time-completed yet still unchecked, which the surface shows as unexecuted.
type Status int

const (
	StatusPlanned Status = iota
	StatusRunning
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusCompleted:
		return "COMPLETED"
	default:
		return "PLANNED"
	}
}

// StatusFromString parses the persisted form; unknown input maps to PLANNED.
func StatusFromString(s string) Status {
	switch s {
	case "RUNNING":
		return StatusRunning
	case "COMPLETED":
		return StatusCompleted
	default:
		return StatusPlanned
	}
}

// RemainingNotApplicable is the Remaining value for tasks that have not
// started yet.
const RemainingNotApplicable = time.Duration(-1)

// Projection is the live view of one interval at a given instant.
type Projection struct {
	Status    Status
	Progress  float64 // 0..1, non-decreasing while running
	Remaining time.Duration
}

// Project classifies an interval against now. Transitions are monotone in
// now: PLANNED -> RUNNING -> COMPLETED, never backward.
func Project(iv Interval, now time.Time) Projection {
	switch {
	case now.Before(iv.From):
		return Projection{Status: StatusPlanned, Progress: 0, Remaining: RemainingNotApplicable}
	case now.Before(iv.To):
		total := iv.To.Sub(iv.From)
		progress := float64(now.Sub(iv.From)) / float64(total)
		if progress < 0 {
			progress = 0
		}
		if progress > 1 {
			progress = 1
		}
		return Projection{Status: StatusRunning, Progress: progress, Remaining: iv.To.Sub(now)}
	default:
		return Projection{Status: StatusCompleted, Progress: 1, Remaining: 0}
	}
}

// DayStatus classifies an entire day relative to now's calendar day.
func DayStatus(date, now time.Time) string {
	day := Midnight(date)
	today := Midnight(now)
	switch {
	case day.After(today):
		return model.DayPlanned
	case day.Equal(today):
		return model.DayAccomplishment
	default:
		return model.DayRealized
	}
}
