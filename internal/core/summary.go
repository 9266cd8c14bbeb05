package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CategoryShare is one row of a per-kind category breakdown.
type CategoryShare struct {
	Category   string
	Total      Money
	Proportion float64 // Total / kind total, 0 when the kind total is 0
}

// Percent returns the proportion as a percentage rounded half-even to one decimal place.
func (s CategoryShare) Percent() float64 {
	p, _ := decimal.NewFromFloat(s.Proportion * 100).RoundBank(1).Float64()
	return p
}

// MonthlySummary is the derived report for one calendar month.
type MonthlySummary struct {
	Year     int
	Month    int // 1-12
	Income   Money
	Expense  Money
	Balance  Money
	Incomes  []CategoryShare
	Expenses []CategoryShare

	Transactions []Transaction
}

// Key returns the YYYY-MM key of the summary.
func (s MonthlySummary) Key() string {
	return NewDate(s.Year, s.Month, 1).MonthKey()
}

// Breakdown returns the category shares for kind.
func (s MonthlySummary) Breakdown(kind Kind) []CategoryShare {
	if kind == Income {
		return s.Incomes
	}
	return s.Expenses
}

// TransactionsOf returns the month's transactions of the given kind, keeping their order.
func (s MonthlySummary) TransactionsOf(kind Kind) []Transaction {
	out := make([]Transaction, 0, len(s.Transactions))
	for _, t := range s.Transactions {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Summarize builds the monthly summary from the month's transactions.
// Transactions outside year/month are the caller's responsibility; they are not filtered.
func Summarize(year, month int, txns []Transaction) MonthlySummary {
	s := MonthlySummary{
		Year:         year,
		Month:        month,
		Transactions: txns,
	}
	if s.Transactions == nil {
		s.Transactions = []Transaction{}
	}

	byKind := map[Kind]map[string]int64{
		Income:  {},
		Expense: {},
	}
	for _, t := range txns {
		cats, ok := byKind[t.Kind]
		if !ok {
			continue
		}
		cats[t.Category] += t.Amount.Cents
		switch t.Kind {
		case Income:
			s.Income.Cents += t.Amount.Cents
		case Expense:
			s.Expense.Cents += t.Amount.Cents
		}
	}
	s.Balance = s.Income.Sub(s.Expense)
	s.Incomes = breakdown(byKind[Income], s.Income)
	s.Expenses = breakdown(byKind[Expense], s.Expense)
	return s
}

func breakdown(cats map[string]int64, total Money) []CategoryShare {
	out := make([]CategoryShare, 0, len(cats))
	for name, cents := range cats {
		share := CategoryShare{Category: name, Total: Money{Cents: cents}}
		if total.Cents != 0 {
			share.Proportion = float64(cents) / float64(total.Cents)
		}
		out = append(out, share)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total.Cents != out[j].Total.Cents {
			return out[i].Total.Cents > out[j].Total.Cents
		}
		return out[i].Category < out[j].Category
	})
	return out
}
