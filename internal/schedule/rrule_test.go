package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRRuleWeekly(t *testing.T) {
	rules, err := ParseRRule("FREQ=WEEKLY;BYDAY=MO,WE,FR")
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, Rule{Kind: RuleWeekday, Weekday: time.Monday}, rules[0])
	assert.Equal(t, Rule{Kind: RuleWeekday, Weekday: time.Wednesday}, rules[1])
	assert.Equal(t, Rule{Kind: RuleWeekday, Weekday: time.Friday}, rules[2])
}

func TestParseRRuleMonthlyNthWeekday(t *testing.T) {
	rules, err := ParseRRule("FREQ=MONTHLY;BYDAY=2TU")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, Rule{Kind: RuleWeekdayInMonth, Weekday: time.Tuesday, WeekOfMonth: 2}, rules[0])
}

func TestParseRRuleMonthDay(t *testing.T) {
	rules, err := ParseRRule("FREQ=MONTHLY;BYMONTHDAY=15")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, Rule{Kind: RuleMonthDay, MonthDay: 15}, rules[0])
}

func TestParseRRuleYearDay(t *testing.T) {
	rules, err := ParseRRule("FREQ=YEARLY;BYMONTH=3;BYMONTHDAY=14")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, Rule{Kind: RuleYearDay, Month: time.March, MonthDay: 14}, rules[0])
}

func TestParseRRuleStripsPrefix(t *testing.T) {
	rules, err := ParseRRule("RRULE:FREQ=WEEKLY;BYDAY=SA")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, time.Saturday, rules[0].Weekday)
}

func TestParseRRuleRejectsUnsupported(t *testing.T) {
	cases := []string{
		"FREQ=WEEKLY;BYDAY=MO;INTERVAL=2",
		"FREQ=WEEKLY;BYDAY=MO;COUNT=10",
		"FREQ=WEEKLY;BYDAY=MO;UNTIL=20270101T000000Z",
		"FREQ=DAILY",
		"FREQ=WEEKLY",
		"FREQ=MONTHLY",
		"FREQ=MONTHLY;BYDAY=TU",
		"FREQ=YEARLY;BYMONTHDAY=14",
		"not an rrule at all",
	}
	for _, text := range cases {
		_, err := ParseRRule(text)
		assert.Error(t, err, "expected rejection of %q", text)
	}
}

func TestRRuleStringRendering(t *testing.T) {
	cases := map[string]Rule{
		"FREQ=WEEKLY;BYDAY=MO":                {Kind: RuleWeekday, Weekday: time.Monday},
		"FREQ=MONTHLY;BYDAY=2TU":              {Kind: RuleWeekdayInMonth, Weekday: time.Tuesday, WeekOfMonth: 2},
		"FREQ=MONTHLY;BYMONTHDAY=15":          {Kind: RuleMonthDay, MonthDay: 15},
		"FREQ=YEARLY;BYMONTH=3;BYMONTHDAY=14": {Kind: RuleYearDay, Month: time.March, MonthDay: 14},
	}
	for want, rule := range cases {
		assert.Equal(t, want, rule.RRuleString())
	}
}

func TestRRuleRoundTripThroughParser(t *testing.T) {
	original := Rule{Kind: RuleWeekdayInMonth, Weekday: time.Tuesday, WeekOfMonth: 2}

	parsed, err := ParseRRule(original.RRuleString())
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, original, parsed[0])
}
