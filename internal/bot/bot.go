package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"time-planner/internal/config"
	"time-planner/internal/model"
	"time-planner/internal/planner"
	"time-planner/internal/repository"
	"time-planner/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTitle
	stageTime
	stageCategory
	stageImportant
	stageNotify
	stageTplTitle
	stageTplTime
	stageTplRule
	stageTplCategory
)

const (
	cbDonePrefix      = "done:"
	cbDeletePrefix    = "delete:"
	cbConfirmPrefix   = "confirm:"
	cbCancelPrefix    = "cancel:"
	cbFixStartPrefix  = "fixstart:"
	cbFixEndPrefix    = "fixend:"
	cbTplTogglePrefix = "tpltoggle:"
	cbTplDeletePrefix = "tpldelete:"
)

const (
	btnSkip          = "⏭️ Skip"
	btnYes           = "Yes"
	btnNo            = "No"
	btnCancelDialog  = "⏪ Cancel input"
	noCategory       = "No category"
	menuLabelToday   = "📅 Today"
	menuLabelNewTask = "➕ New task"
	menuLabelTpls    = "📑 Templates"
	menuLabelHelp    = "ℹ️ Help"
)

// conversationState tracks a multi-step dialog. taskInput/tplInput are built
// up stage by stage; when an add dialog hits an overlap, the pending input is
// kept so fix-up callbacks can snap a boundary and retry.
type conversationState struct {
	stage    conversationStage
	input    service.TaskInput
	tplInput service.TemplateInput
}

// Bot aggregates the Telegram API with planner services.
type Bot struct {
	api           *tgbotapi.BotAPI
	userRepo      *repository.UserRepository
	categorySvc   *service.CategoryService
	plannerSvc    *service.PlannerService
	templateSvc   *service.TemplateService
	statusSvc     *service.StatusService
	reminderSvc   *service.ReminderService
	exportSvc     *service.ExportService
	config        *config.Config
	conversations map[int64]*conversationState
	pendingAdds   map[int64]service.TaskInput
	watchCancels  map[int64]context.CancelFunc
	lastListed    map[uint][]string
	mu            sync.Mutex
}

func New(token string, userRepo *repository.UserRepository, categorySvc *service.CategoryService,
	plannerSvc *service.PlannerService, templateSvc *service.TemplateService, statusSvc *service.StatusService,
	reminderSvc *service.ReminderService, exportSvc *service.ExportService, cfg *config.Config) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Printf("[info] bot authorized on account %s", api.Self.UserName)

	return &Bot{
		api:           api,
		userRepo:      userRepo,
		categorySvc:   categorySvc,
		plannerSvc:    plannerSvc,
		templateSvc:   templateSvc,
		statusSvc:     statusSvc,
		reminderSvc:   reminderSvc,
		exportSvc:     exportSvc,
		config:        cfg,
		conversations: make(map[int64]*conversationState),
		pendingAdds:   make(map[int64]service.TaskInput),
		watchCancels:  make(map[int64]context.CancelFunc),
		lastListed:    make(map[uint][]string),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && strings.EqualFold(strings.TrimSpace(msg.Text), btnCancelDialog) {
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Dialog cancelled.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s %s", msg.From.ID, msg.Command(), msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if b.hasConversation(msg.From.ID) {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "I did not catch that. Use /add to place a task or /help for the command list.")
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	switch strings.TrimSpace(msg.Text) {
	case menuLabelToday:
		return true, b.handleDay(ctx, msg, "")
	case menuLabelNewTask:
		return true, b.startAddConversation(ctx, msg)
	case menuLabelTpls:
		return true, b.handleTemplates(ctx, msg)
	case menuLabelHelp:
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "day":
		return b.handleDay(ctx, msg, strings.TrimSpace(msg.CommandArguments()))
	case "add":
		return b.startAddConversation(ctx, msg)
	case "shift":
		return b.handleShift(ctx, msg)
	case "clear":
		return b.handleClear(ctx, msg)
	case "watch":
		return b.handleWatch(ctx, msg)
	case "unwatch":
		return b.handleUnwatch(msg)
	case "templates":
		return b.handleTemplates(ctx, msg)
	case "newtemplate":
		return b.startTemplateConversation(ctx, msg)
	case "addrule":
		return b.handleAddRule(ctx, msg)
	case "delrule":
		return b.handleDelRule(ctx, msg)
	case "export":
		return b.handleExport(ctx, msg)
	case "report":
		return b.handleReport(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Dialog cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}

	text := fmt.Sprintf(
		"👋 Hi, %s!\n<b>I plan your day as a timeline of non-overlapping tasks.</b>\n\nCommands:\n"+
			"• /day [+n|-n|YYYY-MM-DD] — show a day's schedule\n"+
			"• /add — place a new task\n"+
			"• /shift &lt;n&gt; &lt;+30m|-1h&gt; — move task n of the last shown day\n"+
			"• /watch — live status updates for today\n"+
			"• /templates — recurring task templates\n"+
			"• /newtemplate — create a template (RRULE supported)\n"+
			"• /export [days] — download upcoming tasks as .ics\n"+
			"• /help — all commands",
		escape(name),
	)

	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Commands</b>\n" +
		"• /day — today's schedule; /day +1 — tomorrow; /day 2026-09-15 — a date\n" +
		"• /add — place a task step by step; overlaps offer a one-tap fix\n" +
		"• /shift &lt;n&gt; &lt;delta&gt; — move task n, e.g. /shift 2 +30m\n" +
		"• /clear [+n|date] — remove every task of a day\n" +
		"• /watch — poll today's statuses until all tasks complete\n" +
		"• /unwatch — stop the live updates\n" +
		"• /templates — list templates with toggle/delete buttons\n" +
		"• /newtemplate — create a recurring template\n" +
		"• /addrule &lt;id&gt; &lt;RRULE&gt; — attach a rule, e.g. /addrule 3 FREQ=WEEKLY;BYDAY=MO\n" +
		"• /delrule &lt;id&gt; &lt;ruleId&gt; — detach a rule and its future tasks\n" +
		"• /export [days] — .ics of the next days (default 7)\n" +
		"• /report — today's summary\n" +
		"• /cancel — abort the current dialog"
	return b.sendText(msg.Chat.ID, text)
}

// handleDay renders one day's timeline with done/delete buttons per task.
func (b *Bot) handleDay(ctx context.Context, msg *tgbotapi.Message, arg string) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	now := time.Now().In(b.config.Timezone)
	date, err := parseDayArg(arg, now)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Use /day, /day +1, /day -2 or /day 2026-09-15.")
	}

	return b.sendDayView(ctx, msg.Chat.ID, user, date, now)
}

func (b *Bot) sendDayView(ctx context.Context, chatID int64, user *model.User, date, now time.Time) error {
	view, err := b.plannerSvc.DayView(ctx, user, date, now)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not load the day: %s", escape(err.Error())))
	}

	if len(view.Items) == 0 {
		return b.sendText(chatID, fmt.Sprintf("🗓 %s — nothing planned. Use /add to place a task.", view.Date.Format("Mon, 02 Jan")))
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("🗓 <b>%s</b>\n\n", view.Date.Format("Mon, 02 Jan 2006")))

	var buttons [][]tgbotapi.InlineKeyboardButton
	for i, item := range view.Items {
		builder.WriteString(formatDayItem(i+1, item, now))
		label := fmt.Sprintf("✅ %d · %s", i+1, shortTitle(item.Task.Title, 20))
		if item.Task.Done {
			label = fmt.Sprintf("↩️ %d · %s", i+1, shortTitle(item.Task.Title, 20))
		}
		buttons = append(buttons, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(label, cbDonePrefix+item.Task.Key),
			tgbotapi.NewInlineKeyboardButtonData("🗑", cbDeletePrefix+item.Task.Key),
		})
	}

	out := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	out.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(out); err != nil {
		return err
	}

	b.rememberDayKeys(user.ID, view)
	return nil
}

// rememberDayKeys stores the last listed order so /shift can address tasks
// by their list number.
func (b *Bot) rememberDayKeys(userID uint, view *service.DayView) {
	keys := make([]string, 0, len(view.Items))
	for _, item := range view.Items {
		keys = append(keys, item.Task.Key)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastListed[userID] = keys
}

func (b *Bot) listedKey(userID uint, index int) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := b.lastListed[userID]
	if index < 1 || index > len(keys) {
		return "", false
	}
	return keys[index-1], true
}

func (b *Bot) handleShift(ctx context.Context, msg *tgbotapi.Message) error {
	parts := strings.Fields(msg.CommandArguments())
	if len(parts) != 2 {
		return b.sendText(msg.Chat.ID, "Use /shift <n> <delta>, e.g. /shift 2 +30m (list a day first).")
	}
	index, err := strconv.Atoi(parts[0])
	if err != nil {
		return b.sendText(msg.Chat.ID, "The task number must be an integer.")
	}
	delta, err := time.ParseDuration(strings.TrimPrefix(parts[1], "+"))
	if err != nil || delta == 0 {
		return b.sendText(msg.Chat.ID, "The delta must be a duration like +30m or -1h.")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	key, ok := b.listedKey(user.ID, index)
	if !ok {
		return b.sendText(msg.Chat.ID, "No such task number. Show a day with /day first.")
	}

	task, err := b.plannerSvc.ShiftTask(ctx, user, key, delta)
	if err != nil {
		if oe, ok := planner.AsOverlap(err); ok {
			return b.sendText(msg.Chat.ID, fmt.Sprintf("🚫 %s.", escape(oe.Error())))
		}
		if errors.Is(err, planner.ErrNotFound) {
			return b.sendText(msg.Chat.ID, "The task is gone. Refresh with /day.")
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not shift: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("↔️ Moved «%s» to %s–%s.",
		escape(task.Title), task.StartAt.Format("15:04"), task.EndAt.Format("15:04")))
}

func (b *Bot) handleClear(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	now := time.Now().In(b.config.Timezone)
	date, err := parseDayArg(strings.TrimSpace(msg.CommandArguments()), now)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Use /clear, /clear +1 or /clear 2026-09-15.")
	}
	if err := b.plannerSvc.ClearDay(ctx, user, date); err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not clear the day: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🧹 Cleared %s.", date.Format("Mon, 02 Jan")))
}

// handleWatch starts the cooperative status poll for today. A previous watch
// for the same user is cancelled first.
func (b *Bot) handleWatch(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if cancel, ok := b.watchCancels[msg.From.ID]; ok {
		cancel()
	}
	watchCtx, cancel := context.WithCancel(ctx)
	b.watchCancels[msg.From.ID] = cancel
	b.mu.Unlock()

	chatID := msg.Chat.ID
	today := time.Now().In(b.config.Timezone)
	go func() {
		err := b.statusSvc.Watch(watchCtx, user.ID, today)
		switch {
		case err == nil:
			if sendErr := b.sendText(chatID, "🏁 All of today's tasks are time-completed."); sendErr != nil {
				log.Printf("send watch done: %v", sendErr)
			}
		case errors.Is(err, context.Canceled):
			// stopped by /unwatch or shutdown
		default:
			log.Printf("watch for user %d: %v", user.ID, err)
		}
	}()

	return b.sendText(chatID, "👀 Watching today's schedule. Statuses refresh until every task completes. Stop with /unwatch.")
}

func (b *Bot) handleUnwatch(msg *tgbotapi.Message) error {
	b.mu.Lock()
	cancel, ok := b.watchCancels[msg.From.ID]
	if ok {
		delete(b.watchCancels, msg.From.ID)
	}
	b.mu.Unlock()
	if !ok {
		return b.sendText(msg.Chat.ID, "Nothing is being watched.")
	}
	cancel()
	return b.sendText(msg.Chat.ID, "🛑 Stopped watching.")
}

func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.reminderSvc.DailySummary(ctx, *user, time.Now().In(b.config.Timezone))
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not build the summary: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleExport(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	days := b.config.HorizonDays
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > 365 {
			return b.sendText(msg.Chat.ID, "Use /export or /export <days> with days between 1 and 365.")
		}
		days = n
	}

	now := time.Now().In(b.config.Timezone)
	payload, err := b.exportSvc.Export(ctx, user, now, now.AddDate(0, 0, days))
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Export failed: %s", escape(err.Error())))
	}

	file := tgbotapi.FileBytes{Name: "schedule.ics", Bytes: []byte(payload)}
	doc := tgbotapi.NewDocument(msg.Chat.ID, file)
	doc.Caption = fmt.Sprintf("Your schedule for the next %d days", days)
	_, err = b.api.Send(doc)
	return err
}

// --- add-task dialog ---

func (b *Bot) startAddConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	state := &conversationState{stage: stageTitle}
	state.input.Date = time.Now().In(b.config.Timezone)
	b.setConversation(msg.From.ID, state)
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 New task.\n<b>Step 1:</b> what is it called?", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "The title cannot be empty.", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageTime
		return b.sendWithReplyMarkup(msg.Chat.ID,
			"⏰ <b>Step 2:</b> time range as <code>HH:MM-HH:MM</code>, today by default.\nPrefix a date for another day: <code>2026-09-15 09:00-10:30</code>.",
			cancelKeyboard())
	case stageTime:
		date, from, to, err := parseTimeRange(text, state.input.Date, b.config.Timezone)
		if err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Could not parse that. Example: <code>09:00-10:30</code>.", cancelKeyboard())
		}
		state.input.Date = date
		state.input.StartAt = from
		state.input.EndAt = to
		state.stage = stageCategory
		return b.sendWithReplyMarkup(msg.Chat.ID, "🏷 Category name (or «Skip»).", skipKeyboard())
	case stageCategory:
		if !isSkipInput(text) {
			state.input.Category = text
		}
		state.stage = stageImportant
		return b.sendWithReplyMarkup(msg.Chat.ID, "❗ Mark as important?", yesNoKeyboard())
	case stageImportant:
		yes, valid := parseYesNo(text)
		if !valid {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Tap «Yes» or «No».", yesNoKeyboard())
		}
		state.input.Important = yes
		state.stage = stageNotify
		return b.sendWithReplyMarkup(msg.Chat.ID, "🔔 Send a notification when it starts?", yesNoKeyboard())
	case stageNotify:
		yes, valid := parseYesNo(text)
		if !valid {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Tap «Yes» or «No».", yesNoKeyboard())
		}
		state.input.Notify = yes
		err := b.finishTaskCreation(ctx, msg.From, state.input, msg.Chat.ID)
		b.clearConversation(msg.From.ID)
		return err
	case stageTplTitle, stageTplTime, stageTplRule, stageTplCategory:
		return b.handleTemplateConversation(ctx, msg, state)
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Dialog reset. Start again with /add.")
	}
}

// finishTaskCreation attempts the placement. On overlap the pending input is
// remembered and the reply offers snapping the violated boundary to the
// nearest free one.
func (b *Bot) finishTaskCreation(ctx context.Context, from *tgbotapi.User, input service.TaskInput, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.plannerSvc.CreateTask(ctx, user, input)
	if err != nil {
		if oe, ok := planner.AsOverlap(err); ok {
			return b.offerOverlapFix(chatID, from.ID, input, oe)
		}
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Could not save the task: %s", escape(err.Error())))
	}

	log.Printf("[info] task created key=%s user=%d", task.Key, user.ID)

	var summary strings.Builder
	summary.WriteString("✅ <b>Task placed</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>Title:</b> %s\n", escape(task.Title)))
	summary.WriteString(fmt.Sprintf("• <b>When:</b> %s, %s–%s\n", task.Date.Format("Mon, 02 Jan"),
		task.StartAt.Format("15:04"), task.EndAt.Format("15:04")))
	if input.Category != "" {
		summary.WriteString(fmt.Sprintf("• <b>Category:</b> %s\n", escape(input.Category)))
	}

	out := tgbotapi.NewMessage(chatID, strings.TrimSpace(summary.String()))
	out.ReplyMarkup = mainMenuKeyboard()
	out.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(out)
	return err
}

func (b *Bot) offerOverlapFix(chatID, userID int64, input service.TaskInput, oe *planner.OverlapError) error {
	b.mu.Lock()
	b.pendingAdds[userID] = input
	b.mu.Unlock()

	var buttons []tgbotapi.InlineKeyboardButton
	text := "🚫 <b>That slot is occupied.</b>\n"
	if oe.StartViolation != nil {
		text += fmt.Sprintf("• the start runs into a task ending at <b>%s</b>\n", oe.StartViolation.Format("15:04"))
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("Start at %s", oe.StartViolation.Format("15:04")),
			cbFixStartPrefix+oe.StartViolation.Format(time.RFC3339)))
	}
	if oe.EndViolation != nil {
		text += fmt.Sprintf("• the end runs into a task starting at <b>%s</b>\n", oe.EndViolation.Format("15:04"))
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("End at %s", oe.EndViolation.Format("15:04")),
			cbFixEndPrefix+oe.EndViolation.Format(time.RFC3339)))
	}
	text += "Tap a fix below or /add to start over."

	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons)
	out.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(out)
	return err
}

func (b *Bot) applyOverlapFix(ctx context.Context, cb *tgbotapi.CallbackQuery, data string) error {
	b.mu.Lock()
	input, ok := b.pendingAdds[cb.From.ID]
	if ok {
		delete(b.pendingAdds, cb.From.ID)
	}
	b.mu.Unlock()
	if !ok {
		return b.sendText(cb.Message.Chat.ID, "Nothing left to fix. Start with /add.")
	}

	switch {
	case strings.HasPrefix(data, cbFixStartPrefix):
		at, err := time.Parse(time.RFC3339, strings.TrimPrefix(data, cbFixStartPrefix))
		if err != nil {
			return nil
		}
		input.StartAt = at.In(b.config.Timezone)
	case strings.HasPrefix(data, cbFixEndPrefix):
		at, err := time.Parse(time.RFC3339, strings.TrimPrefix(data, cbFixEndPrefix))
		if err != nil {
			return nil
		}
		input.EndAt = at.In(b.config.Timezone)
	}

	return b.finishTaskCreation(ctx, cb.From, input, cb.Message.Chat.ID)
}

// --- templates ---

func (b *Bot) handleTemplates(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	templates, err := b.templateSvc.ListTemplates(ctx, user)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not load templates: %s", escape(err.Error())))
	}
	if len(templates) == 0 {
		return b.sendText(msg.Chat.ID, "No templates yet. Create one with /newtemplate.")
	}

	var builder strings.Builder
	builder.WriteString("📑 <b>Templates</b>\n\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, tpl := range templates {
		state := "▶️ on"
		if !tpl.Enabled {
			state = "⏸ off"
		}
		builder.WriteString(fmt.Sprintf("<b>#%d %s</b> · %s–%s · %s\n", tpl.ID, escape(tpl.Title),
			minuteClock(tpl.StartMinute), minuteClock(tpl.EndMinute), state))
		for _, tr := range tpl.Rules {
			builder.WriteString(fmt.Sprintf("   • rule %d: %s\n", tr.ID, describeRule(tr)))
		}
		toggleLabel := "⏸ Disable"
		if !tpl.Enabled {
			toggleLabel = "▶️ Enable"
		}
		buttons = append(buttons, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s #%d", toggleLabel, tpl.ID), fmt.Sprintf("%s%d", cbTplTogglePrefix, tpl.ID)),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🗑 #%d", tpl.ID), fmt.Sprintf("%s%d", cbTplDeletePrefix, tpl.ID)),
		})
	}
	builder.WriteString("\nAttach rules with /addrule, detach with /delrule.")

	out := tgbotapi.NewMessage(msg.Chat.ID, strings.TrimSpace(builder.String()))
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	out.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(out)
	return err
}

func (b *Bot) startTemplateConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.setConversation(msg.From.ID, &conversationState{stage: stageTplTitle})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 New template.\n<b>Step 1:</b> what is it called?", cancelKeyboard())
}

func (b *Bot) handleTemplateConversation(ctx context.Context, msg *tgbotapi.Message, state *conversationState) error {
	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageTplTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "The title cannot be empty.", cancelKeyboard())
		}
		state.tplInput.Title = text
		state.stage = stageTplTime
		return b.sendWithReplyMarkup(msg.Chat.ID, "⏰ <b>Step 2:</b> daily time range as <code>HH:MM-HH:MM</code>.", cancelKeyboard())
	case stageTplTime:
		start, end, err := parseClockRange(text)
		if err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Could not parse that. Example: <code>07:00-07:30</code>.", cancelKeyboard())
		}
		state.tplInput.StartMinute = start
		state.tplInput.EndMinute = end
		state.stage = stageTplRule
		return b.sendWithReplyMarkup(msg.Chat.ID,
			"🔁 <b>Step 3:</b> recurrence as RRULE, e.g.\n"+
				"<code>FREQ=WEEKLY;BYDAY=MO,WE,FR</code>\n"+
				"<code>FREQ=MONTHLY;BYDAY=2TU</code>\n"+
				"<code>FREQ=MONTHLY;BYMONTHDAY=15</code>\n"+
				"<code>FREQ=YEARLY;BYMONTH=3;BYMONTHDAY=14</code>",
			cancelKeyboard())
	case stageTplRule:
		state.tplInput.RRule = text
		state.stage = stageTplCategory
		return b.sendWithReplyMarkup(msg.Chat.ID, "🏷 Category name (or «Skip»).", skipKeyboard())
	case stageTplCategory:
		if !isSkipInput(text) {
			state.tplInput.Category = text
		}
		err := b.finishTemplateCreation(ctx, msg.From, state.tplInput, msg.Chat.ID)
		b.clearConversation(msg.From.ID)
		return err
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Dialog reset. Start again with /newtemplate.")
	}
}

func (b *Bot) finishTemplateCreation(ctx context.Context, from *tgbotapi.User, input service.TemplateInput, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	tpl, err := b.templateSvc.CreateTemplate(ctx, user, input)
	if err != nil {
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Could not save the template: %s", escape(err.Error())))
	}
	log.Printf("[info] template created id=%d user=%d rules=%d", tpl.ID, user.ID, len(tpl.Rules))
	return b.sendTextWithRemove(chatID, fmt.Sprintf(
		"✅ Template <b>#%d %s</b> saved (%s–%s). Instances appear as days are materialized.",
		tpl.ID, escape(tpl.Title), minuteClock(tpl.StartMinute), minuteClock(tpl.EndMinute)))
}

func (b *Bot) handleAddRule(ctx context.Context, msg *tgbotapi.Message) error {
	parts := strings.SplitN(strings.TrimSpace(msg.CommandArguments()), " ", 2)
	if len(parts) != 2 {
		return b.sendText(msg.Chat.ID, "Use /addrule <templateId> <RRULE>, e.g. /addrule 3 FREQ=WEEKLY;BYDAY=SA")
	}
	templateID, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return b.sendText(msg.Chat.ID, "The template id must be a number.")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	now := time.Now().In(b.config.Timezone)
	if err := b.templateSvc.AddRule(ctx, user, uint(templateID), parts[1], now); err != nil {
		if errors.Is(err, planner.ErrNotFound) {
			return b.sendText(msg.Chat.ID, "Template not found.")
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not add the rule: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, "✅ Rule attached; future days were materialized where free.")
}

func (b *Bot) handleDelRule(ctx context.Context, msg *tgbotapi.Message) error {
	parts := strings.Fields(msg.CommandArguments())
	if len(parts) != 2 {
		return b.sendText(msg.Chat.ID, "Use /delrule <templateId> <ruleId>.")
	}
	templateID, err1 := strconv.ParseUint(parts[0], 10, 32)
	ruleID, err2 := strconv.ParseUint(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return b.sendText(msg.Chat.ID, "Both ids must be numbers.")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	now := time.Now().In(b.config.Timezone)
	if err := b.templateSvc.RemoveRule(ctx, user, uint(templateID), uint(ruleID), now); err != nil {
		if errors.Is(err, planner.ErrNotFound) {
			return b.sendText(msg.Chat.ID, "Template or rule not found.")
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not remove the rule: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, "🗑 Rule removed along with its future instances.")
}

// --- callbacks ---

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("callback ack: %v", err)
	}

	data := cb.Data
	switch {
	case strings.HasPrefix(data, cbDonePrefix):
		return b.toggleDoneAndRefresh(ctx, cb, strings.TrimPrefix(data, cbDonePrefix))
	case strings.HasPrefix(data, cbDeletePrefix):
		key := strings.TrimPrefix(data, cbDeletePrefix)
		return b.askDeleteConfirmation(cb.Message.Chat.ID, key)
	case strings.HasPrefix(data, cbConfirmPrefix):
		return b.deleteTaskAndRefresh(ctx, cb, strings.TrimPrefix(data, cbConfirmPrefix))
	case strings.HasPrefix(data, cbCancelPrefix):
		return nil
	case strings.HasPrefix(data, cbFixStartPrefix), strings.HasPrefix(data, cbFixEndPrefix):
		return b.applyOverlapFix(ctx, cb, data)
	case strings.HasPrefix(data, cbTplTogglePrefix):
		return b.toggleTemplate(ctx, cb, strings.TrimPrefix(data, cbTplTogglePrefix))
	case strings.HasPrefix(data, cbTplDeletePrefix):
		return b.deleteTemplate(ctx, cb, strings.TrimPrefix(data, cbTplDeletePrefix))
	default:
		return nil
	}
}

func (b *Bot) toggleDoneAndRefresh(ctx context.Context, cb *tgbotapi.CallbackQuery, key string) error {
	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return err
	}
	task, err := b.plannerSvc.ToggleDone(ctx, user, key)
	if err != nil {
		if errors.Is(err, planner.ErrNotFound) {
			return b.sendText(cb.Message.Chat.ID, "The task is gone. Refresh with /day.")
		}
		return err
	}
	now := time.Now().In(b.config.Timezone)
	if task.Done {
		if err := b.sendText(cb.Message.Chat.ID, fmt.Sprintf("✅ «%s» checked off.", escape(task.Title))); err != nil {
			return err
		}
	} else {
		if err := b.sendText(cb.Message.Chat.ID, fmt.Sprintf("↩️ «%s» unchecked.", escape(task.Title))); err != nil {
			return err
		}
	}
	return b.sendDayView(ctx, cb.Message.Chat.ID, user, task.Date, now)
}

func (b *Bot) askDeleteConfirmation(chatID int64, key string) error {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", cbConfirmPrefix+key),
			tgbotapi.NewInlineKeyboardButtonData("↩️ Keep", cbCancelPrefix+key),
		},
	)
	out := tgbotapi.NewMessage(chatID, "Delete this task?")
	out.ReplyMarkup = markup
	_, err := b.api.Send(out)
	return err
}

func (b *Bot) deleteTaskAndRefresh(ctx context.Context, cb *tgbotapi.CallbackQuery, key string) error {
	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return err
	}
	if err := b.plannerSvc.DeleteTask(ctx, user, key); err != nil {
		if errors.Is(err, planner.ErrNotFound) {
			return b.sendText(cb.Message.Chat.ID, "Already gone. Refresh with /day.")
		}
		return b.sendText(cb.Message.Chat.ID, fmt.Sprintf("Could not delete: %s", escape(err.Error())))
	}
	now := time.Now().In(b.config.Timezone)
	return b.sendDayView(ctx, cb.Message.Chat.ID, user, now, now)
}

func (b *Bot) toggleTemplate(ctx context.Context, cb *tgbotapi.CallbackQuery, arg string) error {
	templateID, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return nil
	}
	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return err
	}
	tpl, err := b.templateSvc.GetTemplate(ctx, user, uint(templateID))
	if err != nil {
		if errors.Is(err, planner.ErrNotFound) {
			return b.sendText(cb.Message.Chat.ID, "Template not found.")
		}
		return err
	}
	now := time.Now().In(b.config.Timezone)
	tpl, err = b.templateSvc.SetEnabled(ctx, user, tpl.ID, !tpl.Enabled, now)
	if err != nil {
		return b.sendText(cb.Message.Chat.ID, fmt.Sprintf("Could not toggle: %s", escape(err.Error())))
	}
	if tpl.Enabled {
		return b.sendText(cb.Message.Chat.ID, fmt.Sprintf("▶️ Template «%s» enabled; future free days were filled.", escape(tpl.Title)))
	}
	return b.sendText(cb.Message.Chat.ID, fmt.Sprintf("⏸ Template «%s» disabled; its future instances were removed.", escape(tpl.Title)))
}

func (b *Bot) deleteTemplate(ctx context.Context, cb *tgbotapi.CallbackQuery, arg string) error {
	templateID, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return nil
	}
	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return err
	}
	now := time.Now().In(b.config.Timezone)
	if err := b.templateSvc.DeleteTemplate(ctx, user, uint(templateID), now); err != nil {
		if errors.Is(err, planner.ErrNotFound) {
			return b.sendText(cb.Message.Chat.ID, "Template not found.")
		}
		return b.sendText(cb.Message.Chat.ID, fmt.Sprintf("Could not delete: %s", escape(err.Error())))
	}
	return b.sendText(cb.Message.Chat.ID, "🗑 Template deleted along with its future instances.")
}

// SendDailyReports sends a summary to every known user.
func (b *Bot) SendDailyReports(ctx context.Context) error {
	users, err := b.userRepo.ListAll(ctx)
	if err != nil {
		return err
	}
	now := time.Now().In(b.config.Timezone)
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		text, err := b.reminderSvc.DailySummary(ctx, user, now)
		if err != nil {
			log.Printf("build summary for user %d: %v", user.TelegramID, err)
			continue
		}
		if err := b.sendText(user.TelegramID, text); err != nil {
			log.Printf("send summary to %d: %v", user.TelegramID, err)
		}
	}
	return nil
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendTextWithRemove(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

func escape(s string) string {
	return html.EscapeString(s)
}
