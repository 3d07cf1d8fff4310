package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"time-planner/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "planner_test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db
}

func testTask(key string, userID uint, day time.Time, startHour, endHour int) model.Task {
	return model.Task{
		Key:     key,
		UserID:  userID,
		Date:    day,
		StartAt: day.Add(time.Duration(startHour) * time.Hour),
		EndAt:   day.Add(time.Duration(endHour) * time.Hour),
		Title:   "task " + key,
	}
}

func TestTaskRepositoryCreateAndListByDate(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()
	day := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)

	late := testTask("late", 1, day, 14, 15)
	early := testTask("early", 1, day, 9, 10)
	other := testTask("other-day", 1, day.AddDate(0, 0, 1), 9, 10)
	for _, task := range []model.Task{late, early, other} {
		task := task
		if err := repo.Create(ctx, &task); err != nil {
			t.Fatalf("create %s: %v", task.Key, err)
		}
	}

	tasks, err := repo.ListByDate(ctx, 1, day)
	if err != nil {
		t.Fatalf("list by date: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Key != "early" || tasks[1].Key != "late" {
		t.Fatalf("expected start-time order [early late], got [%s %s]", tasks[0].Key, tasks[1].Key)
	}
}

func TestTaskRepositoryListAfterExcludesToday(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()
	today := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)

	for i, key := range []string{"today", "tomorrow", "later"} {
		task := testTask(key, 1, today.AddDate(0, 0, i), 9, 10)
		if err := repo.Create(ctx, &task); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}

	tasks, err := repo.ListAfter(ctx, 1, today)
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 future tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if !task.Date.After(today) {
			t.Fatalf("task %s dated %s is not strictly after today", task.Key, task.Date)
		}
	}
}

func TestTaskRepositoryDeleteByKeyNotFound(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))

	err := repo.DeleteByKey(context.Background(), 1, "missing")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record-not-found, got %v", err)
	}
}

func TestTaskRepositoryApplyPlanAtomicSwap(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()
	day := time.Date(2026, time.September, 2, 0, 0, 0, 0, time.UTC)

	old := testTask("stable-key", 1, day, 7, 8)
	if err := repo.Create(ctx, &old); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Reuse the same key at a new time, delete-then-insert in one batch.
	replacement := testTask("stable-key", 1, day, 8, 9)
	if err := repo.ApplyPlan(ctx, 1, []string{"stable-key"}, []model.Task{replacement}); err != nil {
		t.Fatalf("apply plan: %v", err)
	}

	got, err := repo.FindByKey(ctx, 1, "stable-key")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !got.StartAt.Equal(day.Add(8 * time.Hour)) {
		t.Fatalf("expected replacement at 08:00, got %s", got.StartAt)
	}

	tasks, err := repo.ListByDate(ctx, 1, day)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected exactly one task after swap, got %d", len(tasks))
	}
}

func TestTaskRepositorySaveDerived(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()
	day := time.Date(2026, time.September, 3, 0, 0, 0, 0, time.UTC)

	task := testTask("derive", 1, day, 10, 11)
	if err := repo.Create(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}

	task.Status = "RUNNING"
	task.Progress = 0.5
	if err := repo.SaveDerived(ctx, &task); err != nil {
		t.Fatalf("save derived: %v", err)
	}

	got, err := repo.FindByKey(ctx, 1, "derive")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != "RUNNING" || got.Progress != 0.5 {
		t.Fatalf("derived fields not persisted: status=%q progress=%v", got.Status, got.Progress)
	}
}

func TestTemplateRepositoryLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewTemplateRepository(db)
	ctx := context.Background()

	tpl := model.Template{
		UserID:      1,
		Title:       "Standup",
		StartMinute: 9 * 60,
		EndMinute:   9*60 + 15,
		Enabled:     true,
		Rules: []model.TemplateRule{
			{Kind: model.RuleKindWeekday, Weekday: int(time.Monday)},
		},
	}
	if err := repo.Create(ctx, &tpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	if tpl.ID == 0 {
		t.Fatalf("expected template ID to be set")
	}
	if len(tpl.Rules) != 1 || tpl.Rules[0].ID == 0 {
		t.Fatalf("expected the rule to be persisted with an ID")
	}

	got, err := repo.FindByID(ctx, 1, tpl.ID)
	if err != nil {
		t.Fatalf("find template: %v", err)
	}
	if len(got.Rules) != 1 {
		t.Fatalf("expected rules to be preloaded, got %d", len(got.Rules))
	}

	rule := model.TemplateRule{TemplateID: tpl.ID, Kind: model.RuleKindMonthDay, MonthDay: 15}
	if err := repo.AddRule(ctx, &rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	if err := repo.DeleteRule(ctx, tpl.ID, rule.ID); err != nil {
		t.Fatalf("delete rule: %v", err)
	}

	if err := repo.Delete(ctx, 1, tpl.ID); err != nil {
		t.Fatalf("delete template: %v", err)
	}
	if _, err := repo.FindByID(ctx, 1, tpl.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record-not-found after delete, got %v", err)
	}
}

func TestWithTxRollsBackTemplateAndPlanTogether(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	templateRepo := NewTemplateRepository(db)
	taskRepo := NewTaskRepository(db)

	tpl := model.Template{UserID: 1, Title: "Standup", StartMinute: 9 * 60, EndMinute: 9*60 + 30, Enabled: true}
	if err := templateRepo.Create(ctx, &tpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	day := time.Date(2026, time.September, 5, 0, 0, 0, 0, time.UTC)
	task := testTask("victim", 1, day, 9, 10)
	if err := taskRepo.Create(ctx, &task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	// A failure after both writes must undo the header edit and the plan.
	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		tpl.Title = "Renamed"
		if err := templateRepo.WithTx(tx).Save(ctx, &tpl); err != nil {
			return err
		}
		if err := taskRepo.WithTx(tx).ApplyPlan(ctx, 1, []string{"victim"}, nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the injected error, got %v", err)
	}

	stored, err := templateRepo.FindByID(ctx, 1, tpl.ID)
	if err != nil {
		t.Fatalf("find template: %v", err)
	}
	if stored.Title != "Standup" {
		t.Fatalf("template edit survived the rollback: %q", stored.Title)
	}
	if _, err := taskRepo.FindByKey(ctx, 1, "victim"); err != nil {
		t.Fatalf("deleted task did not come back on rollback: %v", err)
	}
}

func TestScheduleRepositorySynthesizesAbsentDays(t *testing.T) {
	repo := NewScheduleRepository(newTestDB(t))
	ctx := context.Background()
	day := time.Date(2026, time.September, 4, 0, 0, 0, 0, time.UTC)

	synth, err := repo.GetOrSynthesize(ctx, 1, day)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if synth.ID != 0 {
		t.Fatalf("expected an unsaved synthesized row, got ID %d", synth.ID)
	}

	if err := repo.UpsertStatus(ctx, 1, day, model.DayPlanned); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.UpsertStatus(ctx, 1, day, model.DayAccomplishment); err != nil {
		t.Fatalf("upsert update: %v", err)
	}

	stored, err := repo.GetOrSynthesize(ctx, 1, day)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.ID == 0 || stored.Status != model.DayAccomplishment {
		t.Fatalf("expected stored row with updated status, got %+v", stored)
	}
}
