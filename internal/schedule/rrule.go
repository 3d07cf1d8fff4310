package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ParseRRule maps a subset of RFC 5545 RRULE text onto recurrence rules.
// Supported shapes:
//
//	FREQ=WEEKLY;BYDAY=MO,FR              one weekday rule per BYDAY entry
//	FREQ=MONTHLY;BYDAY=2TU               nth weekday of the month
//	FREQ=MONTHLY;BYMONTHDAY=15           day of month (clamped when matching)
//	FREQ=YEARLY;BYMONTH=3;BYMONTHDAY=14  fixed month+day each year
//
// INTERVAL>1, COUNT, UNTIL, BYSETPOS and time-of-day parts are rejected:
// templates carry their own time range and never expire.
func ParseRRule(text string) ([]Rule, error) {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "RRULE:"))
	opt, err := rrule.StrToROption(text)
	if err != nil {
		return nil, fmt.Errorf("parse rrule: %w", err)
	}

	if opt.Interval > 1 {
		return nil, fmt.Errorf("INTERVAL is not supported")
	}
	if opt.Count > 0 || !opt.Until.IsZero() {
		return nil, fmt.Errorf("COUNT and UNTIL are not supported")
	}
	if len(opt.Bysetpos) > 0 || len(opt.Byhour) > 0 || len(opt.Byminute) > 0 {
		return nil, fmt.Errorf("BYSETPOS and time-of-day parts are not supported")
	}

	switch opt.Freq {
	case rrule.WEEKLY:
		if len(opt.Byweekday) == 0 {
			return nil, fmt.Errorf("FREQ=WEEKLY needs BYDAY")
		}
		rules := make([]Rule, 0, len(opt.Byweekday))
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return nil, fmt.Errorf("ordinal BYDAY only makes sense with FREQ=MONTHLY")
			}
			rules = append(rules, Rule{Kind: RuleWeekday, Weekday: weekdayFromRRule(wd)})
		}
		return rules, nil

	case rrule.MONTHLY:
		if len(opt.Byweekday) > 0 {
			rules := make([]Rule, 0, len(opt.Byweekday))
			for _, wd := range opt.Byweekday {
				n := wd.N()
				if n < 1 || n > 5 {
					return nil, fmt.Errorf("monthly BYDAY needs an ordinal between 1 and 5 (e.g. 2TU)")
				}
				rules = append(rules, Rule{Kind: RuleWeekdayInMonth, Weekday: weekdayFromRRule(wd), WeekOfMonth: n})
			}
			return rules, nil
		}
		if len(opt.Bymonthday) > 0 {
			rules := make([]Rule, 0, len(opt.Bymonthday))
			for _, d := range opt.Bymonthday {
				if d < 1 || d > 31 {
					return nil, fmt.Errorf("BYMONTHDAY %d is out of range", d)
				}
				rules = append(rules, Rule{Kind: RuleMonthDay, MonthDay: d})
			}
			return rules, nil
		}
		return nil, fmt.Errorf("FREQ=MONTHLY needs BYDAY or BYMONTHDAY")

	case rrule.YEARLY:
		if len(opt.Bymonth) != 1 || len(opt.Bymonthday) != 1 {
			return nil, fmt.Errorf("FREQ=YEARLY needs exactly one BYMONTH and one BYMONTHDAY")
		}
		month := opt.Bymonth[0]
		day := opt.Bymonthday[0]
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return nil, fmt.Errorf("invalid BYMONTH/BYMONTHDAY %d/%d", month, day)
		}
		return []Rule{{Kind: RuleYearDay, Month: time.Month(month), MonthDay: day}}, nil

	default:
		return nil, fmt.Errorf("only FREQ=WEEKLY, MONTHLY and YEARLY are supported")
	}
}

// RRuleString renders the rule back into RFC 5545 text.
func (r Rule) RRuleString() string {
	switch r.Kind {
	case RuleWeekday:
		return fmt.Sprintf("FREQ=WEEKLY;BYDAY=%s", rfcDay(r.Weekday))
	case RuleWeekdayInMonth:
		return fmt.Sprintf("FREQ=MONTHLY;BYDAY=%d%s", r.WeekOfMonth, rfcDay(r.Weekday))
	case RuleMonthDay:
		return fmt.Sprintf("FREQ=MONTHLY;BYMONTHDAY=%d", r.MonthDay)
	case RuleYearDay:
		return fmt.Sprintf("FREQ=YEARLY;BYMONTH=%d;BYMONTHDAY=%d", int(r.Month), r.MonthDay)
	default:
		return ""
	}
}

// weekdayFromRRule converts rrule numbering (MO=0..SU=6) to time.Weekday
// (Sunday=0..Saturday=6).
func weekdayFromRRule(wd rrule.Weekday) time.Weekday {
	return time.Weekday((wd.Day() + 1) % 7)
}

func rfcDay(wd time.Weekday) string {
	return [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}[wd]
}
