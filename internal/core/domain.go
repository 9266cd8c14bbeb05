package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

// DateLayout is the wire and storage layout of a calendar date.
const DateLayout = "2006-01-02"

type (
	Kind string

	// Date is a calendar date without time-of-day significance.
	Date struct {
		time.Time
	}

	Transaction struct {
		ID         int64
		Kind       Kind
		Amount     Money
		Category   string
		Note       string
		OccurredOn Date
		CreatedAt  time.Time
	}

	// TransactionDraft is a transaction that has not been persisted yet.
	TransactionDraft struct {
		Kind       Kind
		Amount     Money
		Category   string
		Note       string
		OccurredOn Date
	}

	// TransactionPatch carries the fields of an update. Nil fields are left unchanged.
	TransactionPatch struct {
		Kind       *Kind
		Amount     *Money
		Category   *string
		Note       *string
		OccurredOn *Date
	}

	// Totals is the all-time aggregate of the ledger.
	Totals struct {
		Income  Money
		Expense Money
		Balance Money
	}
)

// Kinds returns every transaction kind in display order.
func Kinds() []Kind {
	return []Kind{Income, Expense}
}

func (k Kind) IsValid() bool {
	return k == Income || k == Expense
}

// ParseKind accepts the canonical names and the Chinese labels used in chat.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income", "收入":
		return Income, nil
	case "expense", "支出":
		return Expense, nil
	}
	return "", &ValidationError{Field: "kind", Err: ErrInvalidKind}
}

// Label is the human readable name used in chat replies.
func (k Kind) Label() string {
	if k == Income {
		return "收入"
	}
	return "支出"
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, &ValidationError{Field: "occurred_on", Err: ErrInvalidDate}
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// MonthKey returns the YYYY-MM bucket the date belongs to.
func (d Date) MonthKey() string {
	return d.Format("2006-01")
}

func (d Date) Validate() error {
	if d.IsZero() {
		return &ValidationError{Field: "occurred_on", Err: ErrInvalidDate}
	}
	return nil
}

// Validate checks everything except category membership, which needs a Registry.
func (d TransactionDraft) Validate() error {
	if !d.Kind.IsValid() {
		return &ValidationError{Field: "kind", Err: ErrInvalidKind}
	}
	if err := d.Amount.Validate(); err != nil {
		return &ValidationError{Field: "amount", Err: err}
	}
	if strings.TrimSpace(d.Category) == "" {
		return &ValidationError{Field: "category", Err: ErrEmptyCategory}
	}
	return d.OccurredOn.Validate()
}

// Apply returns t with every non-nil field of p copied over.
func (p TransactionPatch) Apply(t Transaction) Transaction {
	if p.Kind != nil {
		t.Kind = *p.Kind
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Category != nil {
		t.Category = strings.TrimSpace(*p.Category)
	}
	if p.Note != nil {
		t.Note = strings.TrimSpace(*p.Note)
	}
	if p.OccurredOn != nil {
		t.OccurredOn = *p.OccurredOn
	}
	return t
}

// IsEmpty reports whether the patch changes nothing.
func (p TransactionPatch) IsEmpty() bool {
	return p.Kind == nil && p.Amount == nil && p.Category == nil && p.Note == nil && p.OccurredOn == nil
}

// Draft returns the mutable part of t.
func (t Transaction) Draft() TransactionDraft {
	return TransactionDraft{
		Kind:       t.Kind,
		Amount:     t.Amount,
		Category:   t.Category,
		Note:       t.Note,
		OccurredOn: t.OccurredOn,
	}
}

// MonthRange returns the first day of the month and the first day of the next one.
func MonthRange(year, month int) (Date, Date, error) {
	if month < 1 || month > 12 {
		return Date{}, Date{}, &ValidationError{Field: "month", Err: fmt.Errorf("%w: %d", ErrInvalidMonth, month)}
	}
	if year < 1 || year > 9999 {
		return Date{}, Date{}, &ValidationError{Field: "year", Err: fmt.Errorf("%w: %d", ErrInvalidMonth, year)}
	}
	from := NewDate(year, month, 1)
	return from, Date{Time: from.AddDate(0, 1, 0)}, nil
}

// ParseMonth parses a YYYY-MM month key.
func ParseMonth(s string) (year, month int, err error) {
	t, perr := time.Parse("2006-01", strings.TrimSpace(s))
	if perr != nil {
		return 0, 0, &ValidationError{Field: "month", Err: ErrInvalidMonth}
	}
	return t.Year(), int(t.Month()), nil
}
