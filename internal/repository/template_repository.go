package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"time-planner/internal/model"
)

// TemplateRepository manages task templates and their recurrence rules.
type TemplateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *TemplateRepository) WithTx(tx *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: tx}
}

func (r *TemplateRepository) Create(ctx context.Context, tpl *model.Template) error {
	if err := r.db.WithContext(ctx).Create(tpl).Error; err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (r *TemplateRepository) FindByID(ctx context.Context, userID, templateID uint) (*model.Template, error) {
	var tpl model.Template
	if err := r.db.WithContext(ctx).Preload("Rules").
		Where("user_id = ? AND id = ?", userID, templateID).First(&tpl).Error; err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (r *TemplateRepository) ListByUser(ctx context.Context, userID uint) ([]model.Template, error) {
	var templates []model.Template
	if err := r.db.WithContext(ctx).Preload("Rules").
		Where("user_id = ?", userID).Order("title ASC").Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

// ListEnabled returns every enabled template across all users, used by the
// daily materialization job.
func (r *TemplateRepository) ListEnabled(ctx context.Context) ([]model.Template, error) {
	var templates []model.Template
	if err := r.db.WithContext(ctx).Preload("Rules").
		Where("enabled = ?", true).Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

// Save updates the template header fields only; rules have their own
// lifecycle via AddRule / DeleteRule.
func (r *TemplateRepository) Save(ctx context.Context, tpl *model.Template) error {
	if err := r.db.WithContext(ctx).Omit("Rules").Save(tpl).Error; err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

func (r *TemplateRepository) AddRule(ctx context.Context, rule *model.TemplateRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("add rule: %w", err)
	}
	return nil
}

func (r *TemplateRepository) DeleteRule(ctx context.Context, templateID, ruleID uint) error {
	res := r.db.WithContext(ctx).Where("template_id = ? AND id = ?", templateID, ruleID).
		Delete(&model.TemplateRule{})
	if res.Error != nil {
		return fmt.Errorf("delete rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *TemplateRepository) Delete(ctx context.Context, userID, templateID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND id = ?", userID, templateID).Delete(&model.Template{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("template_id = ?", templateID).Delete(&model.TemplateRule{}).Error
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return err
		}
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}
