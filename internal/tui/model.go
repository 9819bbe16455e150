package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lachiem1/budgetbell/internal/app"
	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/lachiem1/budgetbell/internal/reminder"
	"github.com/lachiem1/budgetbell/internal/workflow"
)

// Service is what the dashboard needs from the application layer.
type Service interface {
	Items(ctx context.Context) ([]ledger.Item, error)
	Month(ctx context.Context, month recurrence.Month) (app.MonthView, error)
	AddItem(ctx context.Context, input ledger.ItemInput) (ledger.Item, error)
	RemoveItem(ctx context.Context, id string) error
	Reschedule(ctx context.Context) (reminder.Summary, error)
	NotificationSettings(ctx context.Context) (ledger.NotificationSettings, error)
	SetNotificationSettings(ctx context.Context, next ledger.NotificationSettings) (reminder.Summary, error)
	Prompts() <-chan *workflow.Prompt
	Confirm(ctx context.Context, p *workflow.Prompt) (workflow.Result, error)
	Defer(ctx context.Context, p *workflow.Prompt) (reminder.Scheduled, error)
	Skip(p *workflow.Prompt) error
}

const callTimeout = 10 * time.Second

type loadDashboardMsg struct {
	items    []ledger.Item
	view     app.MonthView
	settings ledger.NotificationSettings
	err      error
}

type promptMsg struct {
	prompt *workflow.Prompt
}

type resolvePromptMsg struct {
	prompt *workflow.Prompt
	text   string
	err    error
}

type commandDoneMsg struct {
	text   string
	err    error
	reload bool
}

type clearCommandTextMsg struct {
	id int
}

type model struct {
	svc Service
	now func() time.Time

	width  int
	height int

	cmd           textinput.Model
	commandText   string
	commandTextID int

	month    recurrence.Month
	items    []ledger.Item
	view     app.MonthView
	settings ledger.NotificationSettings
	loadErr  string
	loading  bool
	cursor   int

	prompts []*workflow.Prompt
	busy    bool

	showHelpOverlay bool
	quitting        bool
}

func New(svc Service) tea.Model {
	return newModel(svc, time.Now)
}

func newModel(svc Service, now func() time.Time) model {
	cmd := textinput.New()
	cmd.Prompt = "> "
	cmd.Placeholder = "/help"
	cmd.Width = 72
	cmd.Focus()

	return model{
		svc:     svc,
		now:     now,
		cmd:     cmd,
		month:   recurrence.MonthOf(now()),
		loading: true,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.loadDashboardCmd(), waitForPrompt(m.svc.Prompts()))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.cmd.Width = max(40, msg.Width-36)
		return m, nil

	case loadDashboardMsg:
		m.loading = false
		if msg.err != nil && len(msg.items) == 0 {
			m.loadErr = msg.err.Error()
			return m, nil
		}
		m.loadErr = ""
		if msg.err != nil {
			m.loadErr = msg.err.Error()
		}
		m.items = msg.items
		m.view = msg.view
		m.settings = msg.settings
		if m.cursor >= len(m.items) {
			m.cursor = max(0, len(m.items)-1)
		}
		return m, nil

	case promptMsg:
		if msg.prompt == nil {
			return m, nil
		}
		m.prompts = append(m.prompts, msg.prompt)
		return m, waitForPrompt(m.svc.Prompts())

	case resolvePromptMsg:
		m.busy = false
		if msg.err != nil {
			if !retryable(msg.prompt, msg.err) {
				m.dropPrompt(msg.prompt)
			}
			return m.withCommandFeedback(msg.text + ": " + msg.err.Error())
		}
		m.dropPrompt(msg.prompt)
		next, cmd := m.withCommandFeedback(msg.text)
		return next, tea.Batch(cmd, m.loadDashboardCmd())

	case commandDoneMsg:
		text := msg.text
		if msg.err != nil {
			text = text + ": " + msg.err.Error()
		}
		next, cmd := m.withCommandFeedback(text)
		if msg.reload {
			return next, tea.Batch(cmd, next.(model).loadDashboardCmd())
		}
		return next, cmd

	case clearCommandTextMsg:
		if msg.id == m.commandTextID {
			m.commandText = ""
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.cmd, cmd = m.cmd.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "esc":
		if m.showHelpOverlay {
			m.showHelpOverlay = false
			return m, nil
		}
		m.cmd.SetValue("")
		return m, nil
	}

	if m.showHelpOverlay {
		m.showHelpOverlay = false
		return m, nil
	}

	// An open prompt takes the single-letter answers while the command line
	// is empty.
	if p := m.activePrompt(); p != nil && strings.TrimSpace(m.cmd.Value()) == "" && !m.busy {
		switch msg.String() {
		case "c", "y":
			m.busy = true
			return m, m.confirmCmd(p)
		case "d", "l":
			m.busy = true
			return m, m.deferCmd(p)
		case "s", "n":
			m.busy = true
			return m, m.skipCmd(p)
		}
	}

	switch msg.String() {
	case "up":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
		return m, nil
	case "pgup":
		m.month = m.month.Prev()
		return m, m.loadDashboardCmd()
	case "pgdown":
		m.month = m.month.Next()
		return m, m.loadDashboardCmd()
	case "enter":
		return m.runCommand(m.cmd.Value())
	}

	var cmd tea.Cmd
	m.cmd, cmd = m.cmd.Update(msg)
	return m, cmd
}

func (m model) runCommand(raw string) (tea.Model, tea.Cmd) {
	c, err := parseCommand(raw)
	if err != nil {
		return m.withCommandFeedback(err.Error())
	}
	m.cmd.SetValue("")

	switch c.name {
	case "":
		return m, nil
	case "help":
		m.showHelpOverlay = true
		return m, nil
	case "quit":
		m.quitting = true
		return m, tea.Quit
	case "next":
		m.month = m.month.Next()
		return m, m.loadDashboardCmd()
	case "prev":
		m.month = m.month.Prev()
		return m, m.loadDashboardCmd()
	case "today":
		m.month = recurrence.MonthOf(m.now())
		return m, m.loadDashboardCmd()
	case "add":
		return m, m.addItemCmd(c.input)
	case "remove":
		idx := c.index
		if c.index < 0 {
			idx = m.cursor
		}
		if idx < 0 || idx >= len(m.items) {
			return m.withCommandFeedback(fmt.Sprintf("no item #%d", idx+1))
		}
		return m, m.removeItemCmd(m.items[idx])
	case "reschedule":
		return m, m.rescheduleCmd()
	case "payday":
		next := m.settings
		next.PaydayReminders = c.toggle
		return m, m.settingsCmd(next)
	case "bills":
		next := m.settings
		next.BillReminders = c.toggle
		return m, m.settingsCmd(next)
	}
	return m.withCommandFeedback("unknown command: /" + c.name)
}

func (m model) withCommandFeedback(text string) (tea.Model, tea.Cmd) {
	m.commandText = text
	m.commandTextID++
	id := m.commandTextID
	return m, tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return clearCommandTextMsg{id: id}
	})
}

func (m model) activePrompt() *workflow.Prompt {
	if len(m.prompts) == 0 {
		return nil
	}
	return m.prompts[0]
}

func (m *model) dropPrompt(p *workflow.Prompt) {
	out := make([]*workflow.Prompt, 0, len(m.prompts))
	for _, q := range m.prompts {
		if q != p {
			out = append(out, q)
		}
	}
	m.prompts = out
}

// retryable reports whether a failed answer leaves the prompt open for
// another try.
func retryable(p *workflow.Prompt, err error) bool {
	if p.State() != workflow.StatePending {
		return false
	}
	return !errors.Is(err, workflow.ErrStaleOccurrence) && !errors.Is(err, ledger.ErrItemNotFound)
}

func waitForPrompt(ch <-chan *workflow.Prompt) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return promptMsg{}
		}
		return promptMsg{prompt: p}
	}
}

func (m model) loadDashboardCmd() tea.Cmd {
	svc := m.svc
	month := m.month
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		items, err := svc.Items(ctx)
		if err != nil {
			return loadDashboardMsg{err: err}
		}
		settings, err := svc.NotificationSettings(ctx)
		if err != nil {
			return loadDashboardMsg{err: err}
		}
		view, viewErr := svc.Month(ctx, month)
		return loadDashboardMsg{items: items, view: view, settings: settings, err: viewErr}
	}
}

func (m model) confirmCmd(p *workflow.Prompt) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		res, err := svc.Confirm(ctx, p)
		if err != nil {
			return resolvePromptMsg{prompt: p, text: "confirm failed", err: err}
		}
		text := fmt.Sprintf("confirmed %s; next on %s", res.Item.Label, recurrence.FormatDate(res.Item.AnchorDate))
		if follow := errors.Join(res.ReminderErr, res.PublishErr); follow != nil {
			text += " (" + follow.Error() + ")"
		}
		return resolvePromptMsg{prompt: p, text: text}
	}
}

func (m model) deferCmd(p *workflow.Prompt) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		sc, err := svc.Defer(ctx, p)
		if err != nil {
			return resolvePromptMsg{prompt: p, text: "defer failed", err: err}
		}
		return resolvePromptMsg{prompt: p, text: "reminding again " + sc.TriggerAt.Format("Mon 2 Jan 15:04")}
	}
}

func (m model) skipCmd(p *workflow.Prompt) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		if err := svc.Skip(p); err != nil {
			return resolvePromptMsg{prompt: p, text: "skip failed", err: err}
		}
		return resolvePromptMsg{prompt: p, text: "skipped; occurrence stays unconfirmed"}
	}
}

func (m model) addItemCmd(input ledger.ItemInput) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		it, err := svc.AddItem(ctx, input)
		if it.ID == "" {
			return commandDoneMsg{text: "add failed", err: err}
		}
		return commandDoneMsg{text: "added " + it.Label, err: err, reload: true}
	}
}

func (m model) removeItemCmd(it ledger.Item) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := svc.RemoveItem(ctx, it.ID); err != nil {
			return commandDoneMsg{text: "remove failed", err: err}
		}
		return commandDoneMsg{text: "removed " + it.Label, reload: true}
	}
}

func (m model) rescheduleCmd() tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		summary, err := svc.Reschedule(ctx)
		if err != nil {
			return commandDoneMsg{text: "reschedule failed", err: err}
		}
		return commandDoneMsg{text: describeSummary(summary), err: summary.Err(), reload: true}
	}
}

func (m model) settingsCmd(next ledger.NotificationSettings) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		summary, err := svc.SetNotificationSettings(ctx, next)
		if err != nil {
			return commandDoneMsg{text: "settings not saved", err: err}
		}
		return commandDoneMsg{text: "settings saved; " + describeSummary(summary), err: summary.Err(), reload: true}
	}
}

func describeSummary(s reminder.Summary) string {
	text := fmt.Sprintf("%d scheduled, %d overdue, %d cancelled", s.Scheduled, s.Overdue, s.Cancelled)
	if s.PermissionDenied {
		text += "; reminder permission denied"
	}
	return text
}
