package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"time-planner/internal/model"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestRuleWeekdayMatches(t *testing.T) {
	rule := Rule{Kind: RuleWeekday, Weekday: time.Tuesday}

	// June 2026: the 2nd is a Tuesday.
	assert.True(t, rule.Matches(date(2026, time.June, 2)))
	assert.True(t, rule.Matches(date(2026, time.June, 9)))
	assert.False(t, rule.Matches(date(2026, time.June, 3)))
}

func TestRuleWeekdayInMonthSecondTuesday(t *testing.T) {
	rule := Rule{Kind: RuleWeekdayInMonth, Weekday: time.Tuesday, WeekOfMonth: 2}

	// June 2026: Tuesdays fall on the 2nd, 9th, 16th, 23rd, 30th.
	assert.True(t, rule.Matches(date(2026, time.June, 9)))
	assert.False(t, rule.Matches(date(2026, time.June, 2)), "1st Tuesday")
	assert.False(t, rule.Matches(date(2026, time.June, 16)), "3rd Tuesday")
	assert.False(t, rule.Matches(date(2026, time.June, 10)), "2nd Wednesday")
}

func TestRuleMonthDayClampsToShortMonths(t *testing.T) {
	rule := Rule{Kind: RuleMonthDay, MonthDay: 31}

	assert.True(t, rule.Matches(date(2026, time.January, 31)))
	assert.True(t, rule.Matches(date(2026, time.April, 30)), "April has 30 days, rule degrades to the 30th")
	assert.True(t, rule.Matches(date(2026, time.February, 28)), "non-leap February")
	assert.True(t, rule.Matches(date(2024, time.February, 29)), "leap February")
	assert.False(t, rule.Matches(date(2026, time.April, 29)))
}

func TestRuleYearDayIgnoresYear(t *testing.T) {
	rule := Rule{Kind: RuleYearDay, Month: time.March, MonthDay: 14}

	assert.True(t, rule.Matches(date(2026, time.March, 14)))
	assert.True(t, rule.Matches(date(2030, time.March, 14)))
	assert.False(t, rule.Matches(date(2026, time.March, 15)))
	assert.False(t, rule.Matches(date(2026, time.April, 14)))
}

func testTemplate() *model.Template {
	return &model.Template{
		ID:          7,
		UserID:      1,
		Title:       "Morning run",
		StartMinute: 7 * 60,
		EndMinute:   7*60 + 30,
		Enabled:     true,
		Rules: []model.TemplateRule{
			{ID: 11, TemplateID: 7, Kind: model.RuleKindWeekday, Weekday: int(time.Monday)},
		},
	}
}

func TestMaterializeForDateCreatesInstance(t *testing.T) {
	tpl := testTemplate()
	monday := date(2026, time.June, 1)

	inst := MaterializeForDate(tpl, monday, nil)
	require.NotNil(t, inst)
	assert.Equal(t, "Morning run", inst.Title)
	assert.Equal(t, monday, inst.Date)
	assert.Equal(t, monday.Add(7*time.Hour), inst.StartAt)
	assert.Equal(t, monday.Add(7*time.Hour+30*time.Minute), inst.EndAt)
	require.NotNil(t, inst.TemplateID)
	assert.Equal(t, uint(7), *inst.TemplateID)
	require.NotNil(t, inst.TemplateRuleID)
	assert.Equal(t, uint(11), *inst.TemplateRuleID)
	assert.NotEmpty(t, inst.Key)
}

func TestMaterializeForDateInactiveDay(t *testing.T) {
	tpl := testTemplate()
	assert.Nil(t, MaterializeForDate(tpl, date(2026, time.June, 2), nil), "Tuesday, rule is for Monday")
}

func TestMaterializeForDateDisabledTemplate(t *testing.T) {
	tpl := testTemplate()
	tpl.Enabled = false
	assert.Nil(t, MaterializeForDate(tpl, date(2026, time.June, 1), nil))
}

func TestMaterializeForDateDropsOnCollision(t *testing.T) {
	tpl := testTemplate()
	monday := date(2026, time.June, 1)
	existing := []model.Task{{
		Key:     "manual",
		Date:    monday,
		StartAt: monday.Add(7 * time.Hour),
		EndAt:   monday.Add(8 * time.Hour),
	}}

	assert.Nil(t, MaterializeForDate(tpl, monday, existing), "occupied slot is never overridden")
}

func TestMaterializeForDateIgnoresOwnRuleOutput(t *testing.T) {
	tpl := testTemplate()
	monday := date(2026, time.June, 1)
	ruleID := uint(11)
	existing := []model.Task{{
		Key:            "prior",
		Date:           monday,
		StartAt:        monday.Add(7 * time.Hour),
		EndAt:          monday.Add(7*time.Hour + 30*time.Minute),
		TemplateRuleID: &ruleID,
	}}

	inst := MaterializeForDate(tpl, monday, existing, ruleID)
	require.NotNil(t, inst, "a rule may replace its own prior instance")
}

func TestMaterializeForDateIdempotentDecision(t *testing.T) {
	tpl := testTemplate()
	monday := date(2026, time.June, 1)

	first := MaterializeForDate(tpl, monday, nil)
	second := MaterializeForDate(tpl, monday, nil)
	require.NotNil(t, first)
	require.NotNil(t, second)

	assert.NotEqual(t, first.Key, second.Key, "keys are always fresh")
	first.Key, second.Key = "", ""
	assert.Equal(t, *first, *second, "same decision and instance shape")
}

func TestReconcileTemplateEditMovesFutureInstances(t *testing.T) {
	oldTpl := testTemplate()
	newTpl := testTemplate()
	newTpl.StartMinute = 8 * 60
	newTpl.EndMinute = 8*60 + 30

	monday := date(2026, time.June, 1)
	ruleID := uint(11)
	tplID := uint(7)
	prior := model.Task{
		Key: "stable-key", UserID: 1, Date: monday,
		StartAt: monday.Add(7 * time.Hour), EndAt: monday.Add(7*time.Hour + 30*time.Minute),
		Title: "Morning run", TemplateID: &tplID, TemplateRuleID: &ruleID,
	}
	days := []DayTasks{{Date: monday, Tasks: []model.Task{prior}}}

	plan := ReconcileTemplateEdit(oldTpl, newTpl, days)

	assert.Equal(t, []string{"stable-key"}, plan.DeleteKeys)
	require.Len(t, plan.Create, 1)
	assert.Equal(t, "stable-key", plan.Create[0].Key, "key reused when dates coincide")
	assert.Equal(t, monday.Add(8*time.Hour), plan.Create[0].StartAt)
}

func TestReconcileTemplateEditSkipsDetached(t *testing.T) {
	oldTpl := testTemplate()
	newTpl := testTemplate()
	newTpl.StartMinute = 8 * 60
	newTpl.EndMinute = 8*60 + 30

	monday := date(2026, time.June, 1)
	ruleID := uint(11)
	// Hand-moved to 08:00, exactly where the edited template now wants to go.
	detached := model.Task{
		Key: "edited-by-hand", Date: monday,
		StartAt: monday.Add(8 * time.Hour), EndAt: monday.Add(8*time.Hour + 30*time.Minute),
		TemplateRuleID: &ruleID, Detached: true,
	}
	days := []DayTasks{{Date: monday, Tasks: []model.Task{detached}}}

	plan := ReconcileTemplateEdit(oldTpl, newTpl, days)

	assert.Empty(t, plan.DeleteKeys, "detached instances are never deleted")
	assert.Empty(t, plan.Create, "the detached instance still occupies the slot")
}

func TestReconcileTemplateEditCoincidingRulesYieldOneInstance(t *testing.T) {
	// June 9 2026 is both a Tuesday and the 9th, so both rules fire.
	oldTpl := testTemplate()
	oldTpl.Rules = []model.TemplateRule{
		{ID: 11, TemplateID: 7, Kind: model.RuleKindWeekday, Weekday: int(time.Tuesday)},
		{ID: 12, TemplateID: 7, Kind: model.RuleKindMonthDay, MonthDay: 9},
	}
	newTpl := testTemplate()
	newTpl.Rules = oldTpl.Rules
	newTpl.StartMinute = 8 * 60
	newTpl.EndMinute = 8*60 + 30

	day := date(2026, time.June, 9)
	ruleID := uint(11)
	tplID := uint(7)
	prior := model.Task{
		Key: "stable-key", UserID: 1, Date: day,
		StartAt: day.Add(7 * time.Hour), EndAt: day.Add(7*time.Hour + 30*time.Minute),
		Title: "Morning run", TemplateID: &tplID, TemplateRuleID: &ruleID,
	}
	days := []DayTasks{{Date: day, Tasks: []model.Task{prior}}}

	plan := ReconcileTemplateEdit(oldTpl, newTpl, days)

	assert.Equal(t, []string{"stable-key"}, plan.DeleteKeys)
	require.Len(t, plan.Create, 1, "one template never stacks two instances on a day")
	assert.Equal(t, "stable-key", plan.Create[0].Key)
	require.NotNil(t, plan.Create[0].TemplateRuleID)
	assert.Equal(t, uint(11), *plan.Create[0].TemplateRuleID, "the first rule in template order wins")
	assert.Equal(t, day.Add(8*time.Hour), plan.Create[0].StartAt)
}

func TestAddRulesPlanCoincidingRulesYieldOneInstance(t *testing.T) {
	tpl := testTemplate()
	tpl.Rules = nil
	rules := []Rule{
		{ID: 11, Kind: RuleWeekday, Weekday: time.Tuesday},
		{ID: 12, Kind: RuleMonthDay, MonthDay: 9},
	}

	days := []DayTasks{{Date: date(2026, time.June, 9)}}
	plan := AddRulesPlan(tpl, rules, days)

	require.Len(t, plan.Create, 1)
	require.NotNil(t, plan.Create[0].TemplateRuleID)
	assert.Equal(t, uint(11), *plan.Create[0].TemplateRuleID)
}

func TestAddRulePlanOnlyTouchesMatchingDays(t *testing.T) {
	tpl := testTemplate()
	rule := Rule{ID: 12, Kind: RuleWeekday, Weekday: time.Wednesday}
	tpl.Rules = append(tpl.Rules, RuleToModel(rule))

	monday := date(2026, time.June, 1)
	wednesday := date(2026, time.June, 3)
	days := []DayTasks{{Date: monday}, {Date: wednesday}}

	plan := AddRulePlan(tpl, rule, days)

	require.Len(t, plan.Create, 1)
	assert.Equal(t, wednesday, plan.Create[0].Date)
	require.NotNil(t, plan.Create[0].TemplateRuleID)
	assert.Equal(t, uint(12), *plan.Create[0].TemplateRuleID)
	assert.Empty(t, plan.DeleteKeys)
}

func TestRemoveRulePlanDeletesOnlyItsInstances(t *testing.T) {
	monday := date(2026, time.June, 1)
	rule11, rule12 := uint(11), uint(12)
	days := []DayTasks{{Date: monday, Tasks: []model.Task{
		{Key: "mine", TemplateRuleID: &rule11},
		{Key: "other-rule", TemplateRuleID: &rule12},
		{Key: "manual"},
		{Key: "detached", TemplateRuleID: &rule11, Detached: true},
	}}}

	plan := RemoveRulePlan(rule11, days)

	assert.Equal(t, []string{"mine"}, plan.DeleteKeys)
	assert.Empty(t, plan.Create)
}

func TestRuleModelRoundTrip(t *testing.T) {
	rules := []Rule{
		{ID: 1, Kind: RuleWeekday, Weekday: time.Friday},
		{ID: 2, Kind: RuleWeekdayInMonth, Weekday: time.Tuesday, WeekOfMonth: 2},
		{ID: 3, Kind: RuleMonthDay, MonthDay: 31},
		{ID: 4, Kind: RuleYearDay, Month: time.March, MonthDay: 14},
	}
	for _, r := range rules {
		assert.Equal(t, r, RuleFromModel(RuleToModel(r)))
	}
}
