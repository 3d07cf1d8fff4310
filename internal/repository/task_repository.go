package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"time-planner/internal/model"
)

// TaskRepository handles CRUD for task instances.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *TaskRepository) WithTx(tx *gorm.DB) *TaskRepository {
	return &TaskRepository{db: tx}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) Save(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByKey(ctx context.Context, userID uint, key string) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND key = ?", userID, key).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// ListByDate returns a user's tasks for one calendar day, ordered by start.
func (r *TaskRepository) ListByDate(ctx context.Context, userID uint, date time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND date = ?", userID, date).
		Order("start_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListRange returns tasks with date in [from, to), ordered by date then start.
func (r *TaskRepository) ListRange(ctx context.Context, userID uint, from, to time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND date >= ? AND date < ?", userID, from, to).
		Order("date ASC, start_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListAfter returns tasks dated strictly after the given day, across which
// template reconciliation operates.
func (r *TaskRepository) ListAfter(ctx context.Context, userID uint, day time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND date > ?", userID, day).
		Order("date ASC, start_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *TaskRepository) DeleteByKey(ctx context.Context, userID uint, key string) error {
	res := r.db.WithContext(ctx).Where("user_id = ? AND key = ?", userID, key).Delete(&model.Task{})
	if res.Error != nil {
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteByDate clears a whole day's schedule.
func (r *TaskRepository) DeleteByDate(ctx context.Context, userID uint, date time.Time) error {
	if err := r.db.WithContext(ctx).Where("user_id = ? AND date = ?", userID, date).
		Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("clear day: %w", err)
	}
	return nil
}

// ApplyPlan commits a reconciliation batch atomically: all deletions and
// insertions succeed together or the transaction rolls back.
func (r *TaskRepository) ApplyPlan(ctx context.Context, userID uint, deleteKeys []string, create []model.Task) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(deleteKeys) > 0 {
			if err := tx.Where("user_id = ? AND key IN ?", userID, deleteKeys).
				Delete(&model.Task{}).Error; err != nil {
				return err
			}
		}
		if len(create) > 0 {
			if err := tx.Create(&create).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply plan: %w", err)
	}
	return nil
}

// SaveDerived persists the projected status fields without touching the rest
// of the row.
func (r *TaskRepository) SaveDerived(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Model(task).
		Updates(map[string]interface{}{"status": task.Status, "progress": task.Progress}).Error; err != nil {
		return fmt.Errorf("save derived status: %w", err)
	}
	return nil
}
