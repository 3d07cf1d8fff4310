package model

import "time"

// Recurrence rule kinds stored on TemplateRule.Kind.
const (
	RuleKindWeekday        = "weekday"          // every week on Weekday
	RuleKindWeekdayInMonth = "weekday_in_month" // nth Weekday of each month
	RuleKindMonthDay       = "month_day"        // fixed day of each month, clamped
	RuleKindYearDay        = "year_day"         // fixed month+day each year
)

// Template is a reusable task blueprint. Its time range is date-independent
// (minutes since local midnight); recurrence rules decide which dates get a
// materialized instance.
type Template struct {
	ID          uint `gorm:"primaryKey"`
	UserID      uint `gorm:"index"`
	Title       string
	StartMinute int // minutes since midnight
	EndMinute   int // exclusive; 1440 means end of day
	CategoryID  *uint `gorm:"index"`
	Important   bool  `gorm:"default:false"`
	Notify      bool  `gorm:"default:false"`
	Enabled     bool  `gorm:"default:true"`
	Rules       []TemplateRule `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TemplateRule is one recurrence rule attached to a template. Field use
// depends on Kind: Weekday for weekday/weekday_in_month, WeekOfMonth for
// weekday_in_month (1-based), MonthDay for month_day/year_day, Month for
// year_day.
type TemplateRule struct {
	ID          uint `gorm:"primaryKey"`
	TemplateID  uint `gorm:"index"`
	Kind        string
	Weekday     int // time.Weekday numbering, Sunday = 0
	WeekOfMonth int
	MonthDay    int
	Month       int // time.Month numbering, January = 1
	CreatedAt   time.Time
}
