package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"time-planner/internal/model"
	"time-planner/internal/planner"
	"time-planner/internal/repository"
	"time-planner/internal/schedule"
)

// TemplateInput carries the editable fields of a template. RRule holds
// RFC 5545 text that expands into one or more recurrence rules.
type TemplateInput struct {
	Title       string
	StartMinute int
	EndMinute   int
	Category    string
	Important   bool
	Notify      bool
	RRule       string
}

// TemplateService owns template CRUD and keeps future materialized instances
// consistent with their templates. All reconciliation work is prepared in
// memory by the schedule package and committed together with the template
// write in one transaction; past and in-progress days are never rewritten.
type TemplateService struct {
	db           *gorm.DB
	templateRepo *repository.TemplateRepository
	taskRepo     *repository.TaskRepository
	categoryRepo *repository.CategoryRepository
}

func NewTemplateService(db *gorm.DB, templateRepo *repository.TemplateRepository, taskRepo *repository.TaskRepository, categoryRepo *repository.CategoryRepository) *TemplateService {
	return &TemplateService{db: db, templateRepo: templateRepo, taskRepo: taskRepo, categoryRepo: categoryRepo}
}

func (s *TemplateService) CreateTemplate(ctx context.Context, user *model.User, input TemplateInput) (*model.Template, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if input.StartMinute < 0 || input.EndMinute > 24*60 || input.StartMinute >= input.EndMinute {
		return nil, fmt.Errorf("invalid time range")
	}
	rules, err := schedule.ParseRRule(input.RRule)
	if err != nil {
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

	tpl := model.Template{
		UserID:      user.ID,
		Title:       input.Title,
		StartMinute: input.StartMinute,
		EndMinute:   input.EndMinute,
		CategoryID:  categoryID,
		Important:   input.Important,
		Notify:      input.Notify,
		Enabled:     true,
	}
	for _, r := range rules {
		tpl.Rules = append(tpl.Rules, schedule.RuleToModel(r))
	}
	if err := s.templateRepo.Create(ctx, &tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (s *TemplateService) ListTemplates(ctx context.Context, user *model.User) ([]model.Template, error) {
	return s.templateRepo.ListByUser(ctx, user.ID)
}

func (s *TemplateService) GetTemplate(ctx context.Context, user *model.User, templateID uint) (*model.Template, error) {
	tpl, err := s.templateRepo.FindByID(ctx, user.ID, templateID)
	if err != nil {
		return nil, planner.MapStorage("find template", err)
	}
	return tpl, nil
}

// EditTemplate applies header edits (title, time range, flags) and
// reconciles every strictly future schedule against the edited rules.
func (s *TemplateService) EditTemplate(ctx context.Context, user *model.User, templateID uint, input TemplateInput, now time.Time) (*model.Template, error) {
	oldTpl, err := s.GetTemplate(ctx, user, templateID)
	if err != nil {
		return nil, err
	}
	if input.StartMinute < 0 || input.EndMinute > 24*60 || input.StartMinute >= input.EndMinute {
		return nil, fmt.Errorf("invalid time range")
	}

	newTpl := *oldTpl
	if input.Title != "" {
		newTpl.Title = input.Title
	}
	newTpl.StartMinute = input.StartMinute
	newTpl.EndMinute = input.EndMinute
	newTpl.Important = input.Important
	newTpl.Notify = input.Notify

	days, err := s.futureDays(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}
	plan := schedule.ReconcileTemplateEdit(oldTpl, &newTpl, days)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.templateRepo.WithTx(tx).Save(ctx, &newTpl); err != nil {
			return err
		}
		return s.taskRepo.WithTx(tx).ApplyPlan(ctx, user.ID, plan.DeleteKeys, plan.Create)
	})
	if err != nil {
		return nil, err
	}
	return &newTpl, nil
}

// AddRule attaches the parsed rules to the template and materializes them
// across future days, leaving other rules' output untouched. Rule rows and
// new instances land in one transaction.
func (s *TemplateService) AddRule(ctx context.Context, user *model.User, templateID uint, rruleText string, now time.Time) error {
	tpl, err := s.GetTemplate(ctx, user, templateID)
	if err != nil {
		return err
	}
	rules, err := schedule.ParseRRule(rruleText)
	if err != nil {
		return err
	}

	days, err := s.futureDays(ctx, user.ID, now)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		templateRepo := s.templateRepo.WithTx(tx)
		for i, r := range rules {
			row := schedule.RuleToModel(r)
			row.TemplateID = tpl.ID
			if err := templateRepo.AddRule(ctx, &row); err != nil {
				return err
			}
			rules[i].ID = row.ID
		}
		plan := schedule.AddRulesPlan(tpl, rules, days)
		return s.taskRepo.WithTx(tx).ApplyPlan(ctx, user.ID, nil, plan.Create)
	})
}

// RemoveRule detaches a rule and deletes exactly the future instances it
// produced, skipping ones the user has edited by hand.
func (s *TemplateService) RemoveRule(ctx context.Context, user *model.User, templateID, ruleID uint, now time.Time) error {
	if _, err := s.GetTemplate(ctx, user, templateID); err != nil {
		return err
	}
	days, err := s.futureDays(ctx, user.ID, now)
	if err != nil {
		return err
	}
	plan := schedule.RemoveRulePlan(ruleID, days)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.templateRepo.WithTx(tx).DeleteRule(ctx, templateID, ruleID); err != nil {
			return planner.MapStorage("delete rule", err)
		}
		return s.taskRepo.WithTx(tx).ApplyPlan(ctx, user.ID, plan.DeleteKeys, nil)
	})
}

// SetEnabled toggles a template. Disabling deletes its future non-detached
// instances; enabling re-materializes across future days that still hold a
// schedule. Days emptied in between are picked up again by the nightly
// materialization job.
func (s *TemplateService) SetEnabled(ctx context.Context, user *model.User, templateID uint, enabled bool, now time.Time) (*model.Template, error) {
	tpl, err := s.GetTemplate(ctx, user, templateID)
	if err != nil {
		return nil, err
	}
	if tpl.Enabled == enabled {
		return tpl, nil
	}

	days, err := s.futureDays(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}

	tpl.Enabled = enabled

	var plan schedule.ReconcilePlan
	if enabled {
		rules := make([]schedule.Rule, 0, len(tpl.Rules))
		for _, tr := range tpl.Rules {
			rules = append(rules, schedule.RuleFromModel(tr))
		}
		plan = schedule.AddRulesPlan(tpl, rules, days)
	} else {
		for _, tr := range tpl.Rules {
			p := schedule.RemoveRulePlan(tr.ID, days)
			plan.DeleteKeys = append(plan.DeleteKeys, p.DeleteKeys...)
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.templateRepo.WithTx(tx).Save(ctx, tpl); err != nil {
			return err
		}
		return s.taskRepo.WithTx(tx).ApplyPlan(ctx, user.ID, plan.DeleteKeys, plan.Create)
	})
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

// DeleteTemplate removes the template and its future non-detached output.
func (s *TemplateService) DeleteTemplate(ctx context.Context, user *model.User, templateID uint, now time.Time) error {
	tpl, err := s.GetTemplate(ctx, user, templateID)
	if err != nil {
		return err
	}
	days, err := s.futureDays(ctx, user.ID, now)
	if err != nil {
		return err
	}
	var deleteKeys []string
	for _, tr := range tpl.Rules {
		p := schedule.RemoveRulePlan(tr.ID, days)
		deleteKeys = append(deleteKeys, p.DeleteKeys...)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.templateRepo.WithTx(tx).Delete(ctx, user.ID, templateID); err != nil {
			return planner.MapStorage("delete template", err)
		}
		return s.taskRepo.WithTx(tx).ApplyPlan(ctx, user.ID, deleteKeys, nil)
	})
}

// MaterializeDate creates instances for every enabled template active on the
// given date, across all users. Collisions are dropped silently; templates
// are applied in creation order so earlier templates win contested slots.
func (s *TemplateService) MaterializeDate(ctx context.Context, date time.Time) error {
	templates, err := s.templateRepo.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	day := schedule.Midnight(date)

	byUser := make(map[uint][]model.Template)
	for _, tpl := range templates {
		byUser[tpl.UserID] = append(byUser[tpl.UserID], tpl)
	}

	for userID, userTemplates := range byUser {
		existing, err := s.taskRepo.ListByDate(ctx, userID, day)
		if err != nil {
			return planner.MapStorage("list day", err)
		}
		for i := range userTemplates {
			tpl := userTemplates[i]

			// Skip templates that already produced an instance for this day.
			already := false
			for _, t := range existing {
				if t.TemplateID != nil && *t.TemplateID == tpl.ID {
					already = true
					break
				}
			}
			if already {
				continue
			}

			inst := schedule.MaterializeForDate(&tpl, day, existing)
			if inst == nil {
				continue
			}
			if err := s.taskRepo.Create(ctx, inst); err != nil {
				return err
			}
			existing = append(existing, *inst)
			log.Printf("[info] materialized %q for %s", inst.Title, day.Format("2006-01-02"))
		}
	}
	return nil
}

// futureDays loads every task dated strictly after now's day, grouped per
// date, the working set for reconciliation.
func (s *TemplateService) futureDays(ctx context.Context, userID uint, now time.Time) ([]schedule.DayTasks, error) {
	today := schedule.Midnight(now)
	tasks, err := s.taskRepo.ListAfter(ctx, userID, today)
	if err != nil {
		return nil, planner.MapStorage("list future", err)
	}

	var days []schedule.DayTasks
	index := make(map[time.Time]int)
	for _, t := range tasks {
		day := schedule.Midnight(t.Date)
		i, ok := index[day]
		if !ok {
			i = len(days)
			index[day] = i
			days = append(days, schedule.DayTasks{Date: day})
		}
		days[i].Tasks = append(days[i].Tasks, t)
	}
	return days, nil
}
