package model

import "time"

// Day statuses relative to "today".
const (
	DayPlanned        = "PLANNED"        // strictly in the future
	DayAccomplishment = "ACCOMPLISHMENT" // today, possibly in progress
	DayRealized       = "REALIZED"       // already past
)

// DaySchedule is the per-user per-date header row. Days without a row are
// synthesized on read; the row mainly persists the derived day status so
// listings do not recompute it.
type DaySchedule struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index:idx_user_day,unique"`
	Date      time.Time `gorm:"index:idx_user_day,unique"` // local midnight
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
