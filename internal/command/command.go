// Package command parses chat messages into ledger commands.
//
// The grammar is whitespace-delimited:
//
//	/expense AMOUNT CATEGORY NOTE...
//	/income  AMOUNT CATEGORY NOTE...
//	/help
//	/myid
//
// Parse never fails: every line maps to exactly one Command.
package command

import (
	"strings"
	"unicode"

	"jizhang/internal/core"
)

// Command is one of AddExpense, AddIncome, Help, WhoAmI, Unrecognized or *ParseError.
type Command interface {
	command()
}

// Entry is a command that records a transaction.
type Entry interface {
	Command
	Kind() core.Kind
	Draft(day core.Date) core.TransactionDraft
}

type AddExpense struct {
	Amount   core.Money
	Category string
	Note     string
}

type AddIncome struct {
	Amount   core.Money
	Category string
	Note     string
}

// Help asks for usage text.
type Help struct{}

// WhoAmI asks for the sender's chat id.
type WhoAmI struct{}

// Unrecognized is any input that is not a known command.
type Unrecognized struct {
	Text string
}

// ParseError is a known command with malformed arguments.
type ParseError struct {
	Command string
	Reason  string
}

func (AddExpense) command()   {}
func (AddIncome) command()    {}
func (Help) command()         {}
func (WhoAmI) command()       {}
func (Unrecognized) command() {}
func (*ParseError) command()  {}

func (e *ParseError) Error() string {
	return "parse " + e.Command + ": " + e.Reason
}

const (
	ReasonInvalidAmount   = "invalid amount"
	ReasonMissingAmount   = "missing amount"
	ReasonMissingCategory = "missing category"
	ReasonUnknownKind     = "unknown kind"
)

func (c AddExpense) Kind() core.Kind { return core.Expense }
func (c AddIncome) Kind() core.Kind  { return core.Income }

func (c AddExpense) Draft(day core.Date) core.TransactionDraft {
	return core.TransactionDraft{Kind: core.Expense, Amount: c.Amount, Category: c.Category, Note: c.Note, OccurredOn: day}
}

func (c AddIncome) Draft(day core.Date) core.TransactionDraft {
	return core.TransactionDraft{Kind: core.Income, Amount: c.Amount, Category: c.Category, Note: c.Note, OccurredOn: day}
}

var kindCommands = map[string]core.Kind{
	"expense":     core.Expense,
	"income":      core.Income,
	"add_expense": core.Expense,
	"add_income":  core.Income,
}

// Name returns the lowercased command name of line without its leading
// slash, or "" when line does not start with a command. It reads only the
// first token.
func Name(line string) string {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	if !strings.HasPrefix(line, "/") {
		return ""
	}
	token := line[1:]
	if end := strings.IndexFunc(token, unicode.IsSpace); end >= 0 {
		token = token[:end]
	}
	// Group chats address commands as /cmd@botname.
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}
	return strings.ToLower(token)
}

// Parse turns a single line of chat text into a Command.
func Parse(line string) Command {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Unrecognized{Text: line}
	}

	name := Name(line)
	args := fields[1:]

	switch name {
	case "help", "start":
		return Help{}
	case "myid":
		return WhoAmI{}
	case "add":
		if len(args) == 0 {
			return &ParseError{Command: name, Reason: ReasonUnknownKind}
		}
		kind, err := core.ParseKind(args[0])
		if err != nil {
			return &ParseError{Command: name, Reason: ReasonUnknownKind}
		}
		return entry(name, kind, args[1:])
	}

	if kind, ok := kindCommands[name]; ok {
		return entry(name, kind, args)
	}
	return Unrecognized{Text: line}
}

func entry(name string, kind core.Kind, args []string) Command {
	if len(args) == 0 {
		return &ParseError{Command: name, Reason: ReasonMissingAmount}
	}
	amount, err := core.ParseAmount(args[0])
	if err != nil {
		return &ParseError{Command: name, Reason: ReasonInvalidAmount}
	}
	if len(args) < 2 {
		return &ParseError{Command: name, Reason: ReasonMissingCategory}
	}
	category := args[1]
	note := strings.Join(args[2:], " ")

	if kind == core.Income {
		return AddIncome{Amount: amount, Category: category, Note: note}
	}
	return AddExpense{Amount: amount, Category: category, Note: note}
}
