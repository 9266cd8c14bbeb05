package core

import (
	"errors"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-09")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "2025-03-09" || d.MonthKey() != "2025-03" {
		t.Fatalf("unexpected date %s / %s", d, d.MonthKey())
	}
	if _, err := ParseDate("2025-13-01"); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDateOfKeepsLocalCalendarDay(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	ts := time.Date(2025, 1, 31, 23, 30, 0, 0, loc)
	if got := DateOf(ts).String(); got != "2025-01-31" {
		t.Fatalf("DateOf = %s", got)
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{"income": Income, "EXPENSE": Expense, "收入": Income, "支出": Expense}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseKind("transfer"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestTransactionDraftValidate(t *testing.T) {
	good := TransactionDraft{
		Kind:       Expense,
		Amount:     Money{Cents: 3250},
		Category:   "餐饮",
		OccurredOn: NewDate(2025, 1, 1),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*TransactionDraft)
		want   error
	}{
		{"zero amount", func(d *TransactionDraft) { d.Amount = Money{} }, ErrInvalidAmount},
		{"negative amount", func(d *TransactionDraft) { d.Amount = Money{Cents: -1} }, ErrInvalidAmount},
		{"bad kind", func(d *TransactionDraft) { d.Kind = "transfer" }, ErrInvalidKind},
		{"blank category", func(d *TransactionDraft) { d.Category = "  " }, ErrEmptyCategory},
		{"zero date", func(d *TransactionDraft) { d.OccurredOn = Date{} }, ErrInvalidDate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := good
			tc.mutate(&d)
			err := d.Validate()
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !IsValidation(err) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestTransactionPatchApply(t *testing.T) {
	orig := Transaction{ID: 7, Kind: Expense, Amount: Money{Cents: 100}, Category: "餐饮", Note: "a", OccurredOn: NewDate(2025, 1, 1)}
	if !(TransactionPatch{}).IsEmpty() {
		t.Fatal("zero patch should be empty")
	}

	amount := Money{Cents: 999}
	note := "  dinner "
	got := TransactionPatch{Amount: &amount, Note: &note}.Apply(orig)
	if got.Amount.Cents != 999 || got.Note != "dinner" {
		t.Fatalf("patch not applied: %+v", got)
	}
	if got.ID != 7 || got.Category != "餐饮" || got.Kind != Expense {
		t.Fatalf("untouched fields changed: %+v", got)
	}
}

func TestMonthRange(t *testing.T) {
	from, to, err := MonthRange(2024, 12)
	if err != nil {
		t.Fatal(err)
	}
	if from.String() != "2024-12-01" || to.String() != "2025-01-01" {
		t.Fatalf("range = %s..%s", from, to)
	}
	if _, _, err := MonthRange(2024, 13); !errors.Is(err, ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
	y, m, err := ParseMonth("2025-02")
	if err != nil || y != 2025 || m != 2 {
		t.Fatalf("ParseMonth = %d %d %v", y, m, err)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &NotFoundError{ID: 3}
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("NotFoundError should match ErrNotFound")
	}
	err = &AuthorizationError{ChatID: 42}
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatal("AuthorizationError should match ErrUnauthorized")
	}
	err = &PersistenceError{Op: "create", Attempts: 3, Err: ErrTransient}
	if !errors.Is(err, ErrTransient) {
		t.Fatal("PersistenceError should unwrap")
	}
	if err.Error() != "persist create after 3 attempts: transient i/o error" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
