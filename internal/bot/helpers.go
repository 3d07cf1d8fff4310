package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"time-planner/internal/model"
	"time-planner/internal/schedule"
	"time-planner/internal/service"
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelToday),
			tgbotapi.NewKeyboardButton(menuLabelNewTask),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelTpls),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func yesNoKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnYes),
			tgbotapi.NewKeyboardButton(btnNo),
		),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func isSkipInput(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t == "" || t == "-" || t == "skip" || strings.EqualFold(text, btnSkip)
}

func parseYesNo(text string) (value, valid bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "да":
		return true, true
	case "no", "n", "-", "нет":
		return false, true
	default:
		return false, false
	}
}

// parseDayArg resolves "", "+n", "-n" or "YYYY-MM-DD" to a concrete day.
func parseDayArg(arg string, now time.Time) (time.Time, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return now, nil
	}
	if strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-") {
		offset, err := strconv.Atoi(arg)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day offset %q", arg)
		}
		return now.AddDate(0, 0, offset), nil
	}
	parsed, err := time.ParseInLocation("2006-01-02", arg, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", arg)
	}
	return parsed, nil
}

// parseTimeRange reads "HH:MM-HH:MM" with an optional leading "YYYY-MM-DD"
// and places the range onto the resolved day. An end of 24:00 or 00:00 means
// end-of-day.
func parseTimeRange(text string, defaultDay time.Time, loc *time.Location) (day, from, to time.Time, err error) {
	fields := strings.Fields(strings.TrimSpace(text))
	day = defaultDay.In(loc)

	rangePart := ""
	switch len(fields) {
	case 1:
		rangePart = fields[0]
	case 2:
		day, err = time.ParseInLocation("2006-01-02", fields[0], loc)
		if err != nil {
			return time.Time{}, time.Time{}, time.Time{}, fmt.Errorf("invalid date %q", fields[0])
		}
		rangePart = fields[1]
	default:
		return time.Time{}, time.Time{}, time.Time{}, fmt.Errorf("expected a time range")
	}

	startMin, endMin, err := parseClockRange(rangePart)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, err
	}
	iv := schedule.OnDate(day, startMin, endMin)
	return schedule.Midnight(day), iv.From, iv.To, nil
}

// parseClockRange reads "HH:MM-HH:MM" into minutes since midnight. The end
// may be 24:00; 00:00 as an end also means end-of-day.
func parseClockRange(text string) (startMin, endMin int, err error) {
	parts := strings.SplitN(strings.TrimSpace(text), "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM-HH:MM")
	}
	startMin, err = parseClock(parts[0])
	if err != nil {
		return 0, 0, err
	}
	endMin, err = parseClock(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if endMin == 0 {
		endMin = 24 * 60
	}
	if startMin >= endMin {
		return 0, 0, fmt.Errorf("start must be before end")
	}
	return startMin, endMin, nil
}

func parseClock(text string) (int, error) {
	parts := strings.Split(strings.TrimSpace(text), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", text)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("invalid hour in %q", text)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", text)
	}
	total := hour*60 + minute
	if total > 24*60 {
		return 0, fmt.Errorf("time %q is past midnight", text)
	}
	return total, nil
}

func minuteClock(minute int) string {
	if minute == 24*60 {
		return "24:00"
	}
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

func describeRule(tr model.TemplateRule) string {
	return schedule.RuleFromModel(tr).String()
}

func formatDayItem(index int, item service.TaskView, now time.Time) string {
	task := item.Task
	proj := item.Projection

	icon := "🕐"
	switch {
	case task.Done:
		icon = "✅"
	case proj.Status == schedule.StatusRunning:
		icon = "▶️"
	case proj.Status == schedule.StatusCompleted:
		icon = "⚠️"
	case task.Important:
		icon = "❗"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s <b>%d.</b> %s–%s %s", icon, index,
		task.StartAt.In(now.Location()).Format("15:04"),
		task.EndAt.In(now.Location()).Format("15:04"),
		escape(strings.TrimSpace(task.Title))))
	if task.TemplateID != nil && !task.Detached {
		sb.WriteString(" ♻️")
	}
	if proj.Status == schedule.StatusRunning {
		remaining := proj.Remaining.Round(time.Minute)
		sb.WriteString(fmt.Sprintf("\n   %d%% · %s left", int(proj.Progress*100), remaining))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func shortTitle(title string, limit int) string {
	title = strings.TrimSpace(title)
	runes := []rune(title)
	if len(runes) <= limit {
		return title
	}
	return string(runes[:limit-1]) + "…"
}
