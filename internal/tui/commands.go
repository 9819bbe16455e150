package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/shopspring/decimal"
)

type commandSpec struct {
	name        string
	description string
}

func commandCatalog() []commandSpec {
	return []commandSpec{
		{name: "/add", description: "add <income|expense> <amount> <freq> <YYYY-MM-DD> <label> [cat=x]"},
		{name: "/remove", description: "remove [n] (selected item by default)"},
		{name: "/next", description: "show next month"},
		{name: "/prev", description: "show previous month"},
		{name: "/today", description: "show current month"},
		{name: "/reschedule", description: "rebuild reminders for every item"},
		{name: "/payday", description: "payday <on|off> reminders"},
		{name: "/bills", description: "bills <on|off> reminders"},
		{name: "/help", description: "show this help"},
		{name: "/quit", description: "exit"},
	}
}

type command struct {
	name   string
	input  ledger.ItemInput
	index  int
	toggle bool
}

func parseCommand(raw string) (command, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return command{}, nil
	}
	if !strings.HasPrefix(raw, "/") {
		return command{}, fmt.Errorf("commands start with '/'; try /help")
	}
	fields := strings.Fields(strings.TrimPrefix(raw, "/"))
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command; try /help")
	}
	c := command{name: strings.ToLower(fields[0]), index: -1}
	args := fields[1:]

	switch c.name {
	case "add":
		input, err := parseAddArgs(args)
		if err != nil {
			return command{}, err
		}
		c.input = input
	case "remove", "rm":
		c.name = "remove"
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return command{}, fmt.Errorf("remove takes an item number, got %q", args[0])
			}
			c.index = n - 1
		}
	case "payday", "bills":
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: /%s <on|off>", c.name)
		}
		switch strings.ToLower(args[0]) {
		case "on":
			c.toggle = true
		case "off":
			c.toggle = false
		default:
			return command{}, fmt.Errorf("usage: /%s <on|off>", c.name)
		}
	case "q", "exit":
		c.name = "quit"
	}
	return c, nil
}

func parseAddArgs(args []string) (ledger.ItemInput, error) {
	const usage = "usage: /add <income|expense> <amount> <freq> <YYYY-MM-DD> <label> [cat=x]"
	if len(args) < 5 {
		return ledger.ItemInput{}, fmt.Errorf(usage)
	}
	kind, err := ledger.ParseKind(args[0])
	if err != nil {
		return ledger.ItemInput{}, err
	}
	amount, err := decimal.NewFromString(strings.TrimPrefix(args[1], "$"))
	if err != nil {
		return ledger.ItemInput{}, fmt.Errorf("amount %q is not a number", args[1])
	}
	anchor, err := recurrence.ParseDate(args[3])
	if err != nil {
		return ledger.ItemInput{}, err
	}

	input := ledger.ItemInput{
		Kind:       kind,
		Amount:     amount,
		Frequency:  args[2],
		AnchorDate: anchor,
	}
	var label []string
	for _, a := range args[4:] {
		if cat, ok := strings.CutPrefix(a, "cat="); ok {
			input.Category = cat
			continue
		}
		label = append(label, a)
	}
	input.Label = strings.Join(label, " ")
	if input.Label == "" {
		return ledger.ItemInput{}, fmt.Errorf(usage)
	}
	return input, nil
}
