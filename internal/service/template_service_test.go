package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// June 1 2026 is a Monday, June 2 a Tuesday.
var (
	monday  = time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	tuesday = monday.AddDate(0, 0, 1)
)

func weeklyStandup(t *testing.T, env *testEnv) uint {
	t.Helper()
	tpl, err := env.template.CreateTemplate(context.Background(), env.user, TemplateInput{
		Title:       "Standup",
		StartMinute: 9 * 60,
		EndMinute:   9*60 + 30,
		RRule:       "FREQ=WEEKLY;BYDAY=TU",
	})
	require.NoError(t, err)
	require.Len(t, tpl.Rules, 1)
	return tpl.ID
}

func TestMaterializeDateCreatesInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	weeklyStandup(t, env)

	require.NoError(t, env.template.MaterializeDate(ctx, tuesday))

	tasks, err := env.planner.taskRepo.ListByDate(ctx, env.user.ID, tuesday)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Standup", tasks[0].Title)
	assert.True(t, tasks[0].StartAt.Equal(tuesday.Add(9*time.Hour)))
	assert.True(t, tasks[0].EndAt.Equal(tuesday.Add(9*time.Hour+30*time.Minute)))
	assert.NotNil(t, tasks[0].TemplateID)
	assert.NotEmpty(t, tasks[0].Key)

	// Running again for the same day must not duplicate.
	require.NoError(t, env.template.MaterializeDate(ctx, tuesday))
	tasks, err = env.planner.taskRepo.ListByDate(ctx, env.user.ID, tuesday)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestMaterializeDateDropsCollidingInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	weeklyStandup(t, env)

	// A manual task already holds the slot.
	_, err := env.planner.CreateTask(ctx, env.user, TaskInput{
		Title:   "Doctor",
		Date:    tuesday,
		StartAt: tuesday.Add(9 * time.Hour),
		EndAt:   tuesday.Add(10 * time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, env.template.MaterializeDate(ctx, tuesday))

	tasks, err := env.planner.taskRepo.ListByDate(ctx, env.user.ID, tuesday)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "colliding instance is dropped, the manual task stays")
	assert.Equal(t, "Doctor", tasks[0].Title)
}

func TestMaterializeDateSkipsNonMatchingDay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	weeklyStandup(t, env)

	require.NoError(t, env.template.MaterializeDate(ctx, monday))

	tasks, err := env.planner.taskRepo.ListByDate(ctx, env.user.ID, monday)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestEditTemplateMovesFutureInstanceKeepingKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tplID := weeklyStandup(t, env)

	require.NoError(t, env.template.MaterializeDate(ctx, tuesday))
	before, err := env.planner.taskRepo.ListByDate(ctx, env.user.ID, tuesday)
	require.NoError(t, err)
	require.Len(t, before, 1)

	// Edit as of Monday: Tuesday is strictly future and gets rewritten.
	_, err = env.template.EditTemplate(ctx, env.user, tplID, TemplateInput{
		StartMinute: 10 * 60,
		EndMinute:   10*60 + 30,
	}, monday.Add(12*time.Hour))
	require.NoError(t, err)

	after, err := env.planner.taskRepo.ListByDate(ctx, env.user.ID, tuesday)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].Key, after[0].Key, "same rule on the same date keeps its key")
	assert.True(t, after[0].StartAt.Equal(tuesday.Add(10*time.Hour)))
}

func TestEditTemplateLeavesDetachedInstanceAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tplID := weeklyStandup(t, env)

	require.NoError(t, env.template.MaterializeDate(ctx, tuesday))
	before, err := env.planner.taskRepo.ListByDate(ctx, env.user.ID, tuesday)
	require.NoError(t, err)
	require.Len(t, before, 1)

	// Hand-edit the instance so it detaches.
	_, err = env.planner.UpdateTaskTime(ctx, env.user, before[0].Key,
		tuesday.Add(14*time.Hour), tuesday.Add(15*time.Hour))
	require.NoError(t, err)

	_, err = env.template.EditTemplate(ctx, env.user, tplID, TemplateInput{
		StartMinute: 10 * 60,
		EndMinute:   10*60 + 30,
	}, monday.Add(12*time.Hour))
	require.NoError(t, err)

	after, err := env.planner.taskRepo.FindByKey(ctx, env.user.ID, before[0].Key)
	require.NoError(t, err)
	assert.True(t, after.StartAt.Equal(tuesday.Add(14*time.Hour)), "detached instance keeps its hand-set time")
}

func TestSetEnabledRemovesAndRestoresFutureInstances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tplID := weeklyStandup(t, env)

	require.NoError(t, env.template.MaterializeDate(ctx, tuesday))
	now := monday.Add(12 * time.Hour)

	// An unrelated task keeps Tuesday's schedule alive once the instance goes.
	_, err := env.planner.CreateTask(ctx, env.user, TaskInput{
		Title:   "Lunch",
		Date:    tuesday,
		StartAt: tuesday.Add(13 * time.Hour),
		EndAt:   tuesday.Add(14 * time.Hour),
	})
	require.NoError(t, err)

	_, err = env.template.SetEnabled(ctx, env.user, tplID, false, now)
	require.NoError(t, err)
	tasks, err := env.planner.taskRepo.ListByDate(ctx, env.user.ID, tuesday)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "disabling removes the template's instance")
	assert.Equal(t, "Lunch", tasks[0].Title)

	_, err = env.template.SetEnabled(ctx, env.user, tplID, true, now)
	require.NoError(t, err)
	tasks, err = env.planner.taskRepo.ListByDate(ctx, env.user.ID, tuesday)
	require.NoError(t, err)
	require.Len(t, tasks, 2, "re-enabling materializes the matching future day again")
}

func TestSetEnabledCoincidingRulesYieldOneInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tplID := weeklyStandup(t, env)

	// June 2 is both a Tuesday and the 2nd, so both rules fire on it.
	require.NoError(t, env.template.AddRule(ctx, env.user, tplID, "FREQ=MONTHLY;BYMONTHDAY=2", monday))
	require.NoError(t, env.template.MaterializeDate(ctx, tuesday))

	// An unrelated task keeps Tuesday's schedule alive while the template is off.
	_, err := env.planner.CreateTask(ctx, env.user, TaskInput{
		Title:   "Lunch",
		Date:    tuesday,
		StartAt: tuesday.Add(13 * time.Hour),
		EndAt:   tuesday.Add(14 * time.Hour),
	})
	require.NoError(t, err)

	now := monday.Add(12 * time.Hour)
	_, err = env.template.SetEnabled(ctx, env.user, tplID, false, now)
	require.NoError(t, err)
	_, err = env.template.SetEnabled(ctx, env.user, tplID, true, now)
	require.NoError(t, err)

	tasks, err := env.planner.taskRepo.ListByDate(ctx, env.user.ID, tuesday)
	require.NoError(t, err)
	standups := 0
	for _, task := range tasks {
		if task.Title == "Standup" {
			standups++
		}
	}
	assert.Equal(t, 1, standups, "coinciding rules must not stack instances")
	assert.Len(t, tasks, 2)
}

func TestEditTemplateCoincidingRulesYieldOneInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tplID := weeklyStandup(t, env)

	require.NoError(t, env.template.AddRule(ctx, env.user, tplID, "FREQ=MONTHLY;BYMONTHDAY=2", monday))
	require.NoError(t, env.template.MaterializeDate(ctx, tuesday))

	_, err := env.template.EditTemplate(ctx, env.user, tplID, TemplateInput{
		StartMinute: 10 * 60,
		EndMinute:   10*60 + 30,
	}, monday.Add(12*time.Hour))
	require.NoError(t, err)

	tasks, err := env.planner.taskRepo.ListByDate(ctx, env.user.ID, tuesday)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "both rules fire on June 2, yet one instance survives the edit")
	assert.True(t, tasks[0].StartAt.Equal(tuesday.Add(10*time.Hour)))
}

func TestRemoveRuleDeletesOnlyItsOutput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tplID := weeklyStandup(t, env)

	// Second rule on the same template, matching Wednesdays.
	require.NoError(t, env.template.AddRule(ctx, env.user, tplID, "FREQ=WEEKLY;BYDAY=WE", monday))

	wednesday := monday.AddDate(0, 0, 2)
	require.NoError(t, env.template.MaterializeDate(ctx, tuesday))
	require.NoError(t, env.template.MaterializeDate(ctx, wednesday))

	wedTasks, err := env.planner.taskRepo.ListByDate(ctx, env.user.ID, wednesday)
	require.NoError(t, err)
	require.Len(t, wedTasks, 1)

	tpl, err := env.template.GetTemplate(ctx, env.user, tplID)
	require.NoError(t, err)
	require.Len(t, tpl.Rules, 2)

	var wedRuleID uint
	for _, r := range tpl.Rules {
		if r.Weekday == int(time.Wednesday) {
			wedRuleID = r.ID
		}
	}
	require.NotZero(t, wedRuleID)

	require.NoError(t, env.template.RemoveRule(ctx, env.user, tplID, wedRuleID, monday))

	tueTasks, err := env.planner.taskRepo.ListByDate(ctx, env.user.ID, tuesday)
	require.NoError(t, err)
	assert.Len(t, tueTasks, 1, "the Tuesday rule's instance survives")

	wedTasks, err = env.planner.taskRepo.ListByDate(ctx, env.user.ID, wednesday)
	require.NoError(t, err)
	assert.Empty(t, wedTasks)
}
