package model

import "time"

// Task is one concrete entry on a day's timeline. Instances created by the
// recurrence engine carry their template and rule of origin; instances the
// user has edited by hand afterwards are marked Detached so template
// reconciliation leaves them alone.
type Task struct {
	ID             uint      `gorm:"primaryKey"`
	Key            string    `gorm:"uniqueIndex"`
	UserID         uint      `gorm:"index:idx_user_date"`
	Date           time.Time `gorm:"index:idx_user_date"` // local midnight of the owning day
	StartAt        time.Time
	EndAt          time.Time
	Title          string
	CategoryID     *uint `gorm:"index"`
	Important      bool  `gorm:"default:false"`
	Notify         bool  `gorm:"default:false"`
	Done           bool  `gorm:"default:false"`
	TemplateID     *uint `gorm:"index"`
	TemplateRuleID *uint `gorm:"index"`
	Detached       bool  `gorm:"default:false"`
	Status         string
	Progress       float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
