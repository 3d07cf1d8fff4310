package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"time-planner/internal/model"
)

// RuleKind selects one of the four recurrence variants.
type RuleKind int

const (
	RuleWeekday        RuleKind = iota // every week on Weekday
	RuleWeekdayInMonth                 // nth Weekday of each month
	RuleMonthDay                       // fixed day of each month, clamped to month length
	RuleYearDay                        // fixed month+day, every year
)

// Rule answers "is this recurrence active on date D" with no side state.
// ID ties a rule back to its TemplateRule row so materialized instances can
// be attributed to the exact rule that produced them.
type Rule struct {
	ID          uint
	Kind        RuleKind
	Weekday     time.Weekday
	WeekOfMonth int        // 1-based occurrence within the month
	MonthDay    int        // 1..31
	Month       time.Month // for RuleYearDay
}

// Matches reports whether the rule is active on the given date. Only the
// calendar day matters; the time-of-day part of date is ignored.
func (r Rule) Matches(date time.Time) bool {
	switch r.Kind {
	case RuleWeekday:
		return date.Weekday() == r.Weekday
	case RuleWeekdayInMonth:
		return date.Weekday() == r.Weekday && (date.Day()-1)/7+1 == r.WeekOfMonth
	case RuleMonthDay:
		day := r.MonthDay
		if max := DaysInMonth(date.Month(), date.Year()); day > max {
			day = max
		}
		return date.Day() == day
	case RuleYearDay:
		return date.Month() == r.Month && date.Day() == r.MonthDay
	default:
		return false
	}
}

func (r Rule) String() string {
	switch r.Kind {
	case RuleWeekday:
		return fmt.Sprintf("every %s", r.Weekday)
	case RuleWeekdayInMonth:
		return fmt.Sprintf("%s %s of the month", ordinal(r.WeekOfMonth), r.Weekday)
	case RuleMonthDay:
		return fmt.Sprintf("day %d of the month", r.MonthDay)
	case RuleYearDay:
		return fmt.Sprintf("every %d %s", r.MonthDay, r.Month)
	default:
		return "unknown rule"
	}
}

func ordinal(n int) string {
	switch n {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	default:
		return fmt.Sprintf("%dth", n)
	}
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(month time.Month, year int) int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1).Day()
}

// RuleFromModel converts a stored TemplateRule row into a matcher.
func RuleFromModel(tr model.TemplateRule) Rule {
	r := Rule{ID: tr.ID, Weekday: time.Weekday(tr.Weekday), WeekOfMonth: tr.WeekOfMonth,
		MonthDay: tr.MonthDay, Month: time.Month(tr.Month)}
	switch tr.Kind {
	case model.RuleKindWeekdayInMonth:
		r.Kind = RuleWeekdayInMonth
	case model.RuleKindMonthDay:
		r.Kind = RuleMonthDay
	case model.RuleKindYearDay:
		r.Kind = RuleYearDay
	default:
		r.Kind = RuleWeekday
	}
	return r
}

// RuleToModel converts a matcher back into a row shape (ID preserved).
func RuleToModel(r Rule) model.TemplateRule {
	tr := model.TemplateRule{ID: r.ID, Weekday: int(r.Weekday), WeekOfMonth: r.WeekOfMonth,
		MonthDay: r.MonthDay, Month: int(r.Month)}
	switch r.Kind {
	case RuleWeekdayInMonth:
		tr.Kind = model.RuleKindWeekdayInMonth
	case RuleMonthDay:
		tr.Kind = model.RuleKindMonthDay
	case RuleYearDay:
		tr.Kind = model.RuleKindYearDay
	default:
		tr.Kind = model.RuleKindWeekday
	}
	return tr
}

// ActiveRule returns the first rule of the template active on date, or false.
func ActiveRule(tpl *model.Template, date time.Time) (Rule, bool) {
	if !tpl.Enabled {
		return Rule{}, false
	}
	for _, tr := range tpl.Rules {
		r := RuleFromModel(tr)
		if r.Matches(date) {
			return r, true
		}
	}
	return Rule{}, false
}

// MaterializeForDate builds the template's concrete instance for date, or nil
// when the template is inactive on that date or its slot is already occupied.
// Collisions are a policy outcome, not an error: recurring auto-placement
// never overrides occupied time. existing is the full day list; instances
// whose TemplateRuleID is in ignoreRules are excluded from the collision
// check so a rule being reconciled can replace its own prior output.
func MaterializeForDate(tpl *model.Template, date time.Time, existing []model.Task, ignoreRules ...uint) *model.Task {
	rule, ok := ActiveRule(tpl, date)
	if !ok {
		return nil
	}
	return materializeRule(tpl, rule, date, existing, ignoreRules)
}

func materializeRule(tpl *model.Template, rule Rule, date time.Time, existing []model.Task, ignoreRules []uint) *model.Task {
	day := Midnight(date)
	iv := OnDate(day, tpl.StartMinute, tpl.EndMinute)

	ignored := make(map[uint]bool, len(ignoreRules))
	for _, id := range ignoreRules {
		ignored[id] = true
	}
	occupied := make([]Interval, 0, len(existing))
	for _, t := range existing {
		if t.TemplateRuleID != nil && ignored[*t.TemplateRuleID] && !t.Detached {
			continue
		}
		occupied = append(occupied, Interval{From: t.StartAt, To: t.EndAt})
	}
	if DetectOverlap(iv, occupied).Overlaps {
		return nil
	}

	templateID := tpl.ID
	ruleID := rule.ID
	return &model.Task{
		Key:            uuid.NewString(),
		UserID:         tpl.UserID,
		Date:           day,
		StartAt:        iv.From,
		EndAt:          iv.To,
		Title:          tpl.Title,
		CategoryID:     tpl.CategoryID,
		Important:      tpl.Important,
		Notify:         tpl.Notify,
		TemplateID:     &templateID,
		TemplateRuleID: &ruleID,
	}
}

// DayTasks is one future day's materialized list, input to reconciliation.
type DayTasks struct {
	Date  time.Time // local midnight
	Tasks []model.Task
}

// ReconcilePlan is the prepared outcome of a template edit: instance keys to
// delete and instances to insert. The whole plan commits in one transaction
// or not at all.
type ReconcilePlan struct {
	DeleteKeys []string
	Create     []model.Task
}

// ReconcileTemplateEdit recomputes a template's footprint across strictly
// future day schedules after an edit. Rules present on both the old and new
// template (matched by row ID) have their non-detached prior output deleted,
// and every future date where a rule is active gets a fresh materialization.
// When a rule was already active on a date its old instance's key is reused
// so notification identity survives the edit. Rules are applied per day in
// template order and each accepted instance occupies its slot for the rules
// after it, so a template whose rules coincide on one date still yields a
// single instance. Rules present only on the old template are handled by
// RemoveRulePlan, rules only on the new one by AddRulesPlan.
func ReconcileTemplateEdit(oldTpl, newTpl *model.Template, days []DayTasks) ReconcilePlan {
	var plan ReconcilePlan

	oldRuleIDs := make(map[uint]bool, len(oldTpl.Rules))
	for _, tr := range oldTpl.Rules {
		oldRuleIDs[tr.ID] = true
	}
	var reconciled []model.TemplateRule
	var reconciledIDs []uint
	for _, tr := range newTpl.Rules {
		if oldRuleIDs[tr.ID] {
			reconciled = append(reconciled, tr)
			reconciledIDs = append(reconciledIDs, tr.ID)
		}
	}

	// Prior output of the reconciled rules, keyed by rule and date for key
	// reuse. All of it is deleted and re-derived below.
	prior := make(map[uint]map[time.Time]model.Task, len(reconciled))
	for _, day := range days {
		for _, t := range day.Tasks {
			if t.TemplateRuleID == nil || t.Detached {
				continue
			}
			for _, id := range reconciledIDs {
				if *t.TemplateRuleID != id {
					continue
				}
				if prior[id] == nil {
					prior[id] = make(map[time.Time]model.Task)
				}
				prior[id][Midnight(t.Date)] = t
				plan.DeleteKeys = append(plan.DeleteKeys, t.Key)
				break
			}
		}
	}

	for _, day := range days {
		var claimed []Interval
		for _, tr := range reconciled {
			rule := RuleFromModel(tr)
			if !rule.Matches(day.Date) {
				continue
			}
			inst := materializeRule(newTpl, rule, day.Date, day.Tasks, reconciledIDs)
			if inst == nil {
				continue
			}
			iv := Interval{From: inst.StartAt, To: inst.EndAt}
			if DetectOverlap(iv, claimed).Overlaps {
				continue
			}
			if p, ok := prior[tr.ID][Midnight(day.Date)]; ok {
				inst.Key = p.Key
				inst.Done = p.Done
			}
			claimed = append(claimed, iv)
			plan.Create = append(plan.Create, *inst)
		}
	}
	return plan
}

// AddRulesPlan materializes newly attached rules across the given future
// days, leaving instances from other rules untouched. Rules are applied per
// day in order; a slot claimed by an earlier rule silently drops later
// same-date candidates.
func AddRulesPlan(tpl *model.Template, rules []Rule, days []DayTasks) ReconcilePlan {
	var plan ReconcilePlan
	for _, day := range days {
		var claimed []Interval
		for _, rule := range rules {
			if !rule.Matches(day.Date) {
				continue
			}
			inst := materializeRule(tpl, rule, day.Date, day.Tasks, nil)
			if inst == nil {
				continue
			}
			iv := Interval{From: inst.StartAt, To: inst.EndAt}
			if DetectOverlap(iv, claimed).Overlaps {
				continue
			}
			claimed = append(claimed, iv)
			plan.Create = append(plan.Create, *inst)
		}
	}
	return plan
}

// AddRulePlan is AddRulesPlan for a single rule.
func AddRulePlan(tpl *model.Template, rule Rule, days []DayTasks) ReconcilePlan {
	return AddRulesPlan(tpl, []Rule{rule}, days)
}

// RemoveRulePlan deletes exactly the instances attributable to ruleID that
// have not been manually detached.
func RemoveRulePlan(ruleID uint, days []DayTasks) ReconcilePlan {
	var plan ReconcilePlan
	for _, day := range days {
		for _, t := range day.Tasks {
			if t.TemplateRuleID != nil && *t.TemplateRuleID == ruleID && !t.Detached {
				plan.DeleteKeys = append(plan.DeleteKeys, t.Key)
			}
		}
	}
	return plan
}
