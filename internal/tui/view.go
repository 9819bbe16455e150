package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/lachiem1/budgetbell/internal/workflow"
)

var (
	accentColor  = lipgloss.Color("#F47A60")
	yellowColor  = lipgloss.Color("#FFD54A")
	blueColor    = lipgloss.Color("#6CBFE6")
	mutedColor   = lipgloss.Color("#8D88A8")
	textColor    = lipgloss.Color("#D4CDE9")
	goodColor    = lipgloss.Color("#5CCB76")
	warningColor = lipgloss.Color("#F15B5B")
)

func (m model) View() string {
	if m.quitting {
		return ""
	}

	frame := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accentColor).
		Padding(1, 1)
	contentStyle := lipgloss.NewStyle().Padding(1, 1, 0, 1)
	if m.width > 0 {
		frame = frame.Width(max(1, m.width-frame.GetHorizontalBorderSize()))
	}
	if m.height > 0 {
		frame = frame.Height(max(1, m.height-frame.GetVerticalBorderSize()))
	}
	layoutWidth := max(60, m.width-frame.GetHorizontalFrameSize()-contentStyle.GetHorizontalFrameSize())
	layoutHeight := max(1, m.height-frame.GetVerticalFrameSize()-contentStyle.GetVerticalFrameSize())

	if m.showHelpOverlay {
		centered := lipgloss.Place(layoutWidth, layoutHeight, lipgloss.Center, lipgloss.Center, renderHelpOverlay(layoutWidth))
		return frame.Render(contentStyle.Render(centered))
	}
	if p := m.activePrompt(); p != nil {
		overlay := m.renderPrompt(p, layoutWidth)
		centered := lipgloss.Place(layoutWidth, layoutHeight, lipgloss.Center, lipgloss.Center, overlay)
		return frame.Render(contentStyle.Render(centered))
	}

	title := lipgloss.NewStyle().Foreground(yellowColor).Bold(true).Render("budgetbell")
	monthLabel := lipgloss.NewStyle().Foreground(blueColor).Bold(true).Render(m.month.Start().Format("January 2006"))
	header := lipgloss.PlaceHorizontal(layoutWidth, lipgloss.Center, title+"  "+monthLabel)
	header = lipgloss.NewStyle().PaddingBottom(1).Render(header)

	panelWidth := max(28, (layoutWidth-4)/2)
	summaryBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(yellowColor).
		Padding(0, 1).
		Width(panelWidth).
		Render(m.renderSummary())
	itemsBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accentColor).
		Padding(0, 1).
		Width(panelWidth).
		Render(m.renderItems(panelWidth - 4))
	panels := lipgloss.JoinHorizontal(lipgloss.Top, summaryBox, "  ", itemsBox)
	panels = lipgloss.PlaceHorizontal(layoutWidth, lipgloss.Center, panels)

	sections := []string{header, panels}
	if strings.TrimSpace(m.commandText) != "" {
		message := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(blueColor).
			Padding(0, 1).
			Foreground(textColor).
			Width(max(8, lipgloss.Width(panels)-4)).
			Render(m.commandText)
		sections = append(sections, lipgloss.PlaceHorizontal(layoutWidth, lipgloss.Center, message))
	}

	cmdInput := m.cmd
	cmdInput.Width = max(6, lipgloss.Width(panels)-6)
	cmdBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(blueColor).
		Padding(0, 1).
		Render(cmdInput.View())
	sections = append(sections, lipgloss.PlaceHorizontal(layoutWidth, lipgloss.Center, cmdBox))

	hints := lipgloss.NewStyle().Foreground(mutedColor).
		Render("↑/↓ select · pgup/pgdn month · /help commands · ctrl+c quit")
	sections = append(sections, lipgloss.PlaceHorizontal(layoutWidth, lipgloss.Center, hints))

	return frame.Render(contentStyle.Render(strings.Join(sections, "\n")))
}

func (m model) renderSummary() string {
	label := lipgloss.NewStyle().Foreground(blueColor).Bold(true)
	value := lipgloss.NewStyle().Foreground(textColor)
	warn := lipgloss.NewStyle().Foreground(warningColor).Bold(true)

	if m.loading {
		return value.Render("loading...")
	}
	v := m.view
	lines := []string{
		label.Render("Income"),
		value.Render(fmt.Sprintf("  received   $%s", v.Income.Received.StringFixed(2))),
		value.Render(fmt.Sprintf("  projected  $%s", v.Income.Projected.StringFixed(2))),
		value.Render(fmt.Sprintf("  confirmed  $%s", v.ConfirmedIncome.StringFixed(2))),
		"",
		label.Render("Bills"),
		value.Render(fmt.Sprintf("  paid       $%s", v.Expense.Received.StringFixed(2))),
		value.Render(fmt.Sprintf("  projected  $%s", v.Expense.Projected.StringFixed(2))),
	}
	if overdue := v.Income.Overdue + v.Expense.Overdue; overdue > 0 {
		lines = append(lines, "", warn.Render(fmt.Sprintf("%d unconfirmed past due", overdue)))
	}
	lines = append(lines,
		"",
		label.Render("Monthly budget"),
		value.Render(fmt.Sprintf("  savings $%s  needs $%s  wants $%s",
			v.Budget.Savings.StringFixed(2), v.Budget.Needs.StringFixed(2), v.Budget.Wants.StringFixed(2))),
		"",
		label.Render("Reminders ")+renderToggle("payday", m.settings.PaydayReminders)+" "+renderToggle("bills", m.settings.BillReminders),
	)
	if m.loadErr != "" {
		lines = append(lines, "", warn.Render(m.loadErr))
	}
	return strings.Join(lines, "\n")
}

func renderToggle(name string, on bool) string {
	if on {
		return lipgloss.NewStyle().Foreground(goodColor).Render(name + " on")
	}
	return lipgloss.NewStyle().Foreground(mutedColor).Render(name + " off")
}

func (m model) renderItems(width int) string {
	if len(m.items) == 0 {
		return lipgloss.NewStyle().Foreground(mutedColor).Render("no items yet; try /add")
	}
	itemStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true).Underline(true)
	prefixStyle := lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	metaStyle := lipgloss.NewStyle().Foreground(mutedColor)

	rows := make([]string, 0, len(m.items))
	for i, it := range m.items {
		prefix := "  "
		style := itemStyle
		if i == m.cursor {
			prefix = prefixStyle.Render("> ")
			style = selectedStyle
		}
		sign := "+"
		if it.Kind == ledger.KindExpense {
			sign = "-"
		}
		line := fmt.Sprintf("%d. %s %s$%s", i+1, truncate(it.Label, max(8, width-24)), sign, it.Amount.StringFixed(2))
		meta := fmt.Sprintf("   %s, next %s", it.Frequency, recurrence.FormatDate(it.AnchorDate))
		if it.Category != "" {
			meta += " · " + it.Category
		}
		rows = append(rows, prefix+style.Render(line), metaStyle.Render(meta))
	}
	return strings.Join(rows, "\n")
}

func (m model) renderPrompt(p *workflow.Prompt, maxWidth int) string {
	panelWidth := max(44, min(maxWidth-6, 64))
	title := lipgloss.NewStyle().Foreground(yellowColor).Bold(true)
	body := lipgloss.NewStyle().Foreground(textColor)

	label := p.ItemID
	amount := ""
	for _, it := range m.items {
		if it.ID == p.ItemID {
			label = it.Label
			amount = "$" + it.Amount.StringFixed(2)
			break
		}
	}

	question := fmt.Sprintf("Did you receive %s from %s?", amount, label)
	heading := "Payday"
	if p.Kind == ledger.KindExpense {
		heading = "Bill due"
		question = fmt.Sprintf("Did you pay %s (%s)?", label, amount)
	}
	lines := []string{
		title.Render(heading + " · " + recurrence.FormatDate(p.OccurrenceDate)),
		"",
		body.Render(question),
		"",
		lipgloss.NewStyle().Foreground(goodColor).Bold(true).Render("[c] confirm") + "  " +
			lipgloss.NewStyle().Foreground(blueColor).Bold(true).Render("[d] remind me tomorrow") + "  " +
			lipgloss.NewStyle().Foreground(mutedColor).Bold(true).Render("[s] skip"),
	}
	if m.busy {
		lines = append(lines, "", body.Render("working..."))
	}
	if len(m.prompts) > 1 {
		lines = append(lines, "", lipgloss.NewStyle().Foreground(mutedColor).Render(fmt.Sprintf("%d more waiting", len(m.prompts)-1)))
	}
	if strings.TrimSpace(m.commandText) != "" {
		lines = append(lines, "", body.Render(m.commandText))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(blueColor).
		Padding(1, 2).
		Width(panelWidth).
		Render(strings.Join(lines, "\n"))
}

func renderHelpOverlay(maxWidth int) string {
	title := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#5FA8FF")).
		Bold(true).
		Render("Command Help")

	catalog := commandCatalog()
	commands := make([]string, 0, len(catalog))
	for _, cmd := range catalog {
		commands = append(commands, fmt.Sprintf("%-12s %s", cmd.name, cmd.description))
	}
	footer := lipgloss.NewStyle().
		Foreground(yellowColor).
		Bold(true).
		Render("Esc to close")

	content := strings.Join([]string{title, "", strings.Join(commands, "\n"), "", footer}, "\n")
	panelWidth := max(36, min(maxWidth-6, 76))

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(blueColor).
		Padding(1, 2).
		Width(panelWidth).
		Render(content)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
