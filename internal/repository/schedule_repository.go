package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"time-planner/internal/model"
)

// ScheduleRepository manages per-day header rows. Days with no stored row
// are synthesized on read so absent dates look like empty schedules.
type ScheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// GetOrSynthesize returns the stored day row or an unsaved zero-status row
// for the date.
func (r *ScheduleRepository) GetOrSynthesize(ctx context.Context, userID uint, date time.Time) (*model.DaySchedule, error) {
	var day model.DaySchedule
	err := r.db.WithContext(ctx).Where("user_id = ? AND date = ?", userID, date).First(&day).Error
	switch {
	case err == nil:
		return &day, nil
	case err == gorm.ErrRecordNotFound:
		return &model.DaySchedule{UserID: userID, Date: date}, nil
	default:
		return nil, fmt.Errorf("find day: %w", err)
	}
}

// UpsertStatus persists the derived day status, creating the row on first
// write.
func (r *ScheduleRepository) UpsertStatus(ctx context.Context, userID uint, date time.Time, status string) error {
	var day model.DaySchedule
	db := r.db.WithContext(ctx)
	err := db.Where("user_id = ? AND date = ?", userID, date).First(&day).Error
	switch {
	case err == nil:
		if day.Status == status {
			return nil
		}
		if err := db.Model(&day).Update("status", status).Error; err != nil {
			return fmt.Errorf("update day status: %w", err)
		}
		return nil
	case err == gorm.ErrRecordNotFound:
		day = model.DaySchedule{UserID: userID, Date: date, Status: status}
		if err := db.Create(&day).Error; err != nil {
			return fmt.Errorf("create day: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("find day: %w", err)
	}
}
