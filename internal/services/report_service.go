package services

import (
	"context"
	"fmt"

	"jizhang/internal/core"
)

// MonthReader is the read side the reports need.
type MonthReader interface {
	QueryMonth(ctx context.Context, year, month int) ([]core.Transaction, error)
	Months(ctx context.Context) ([]string, error)
}

// ReportService computes summaries fresh from the store on every call.
type ReportService struct {
	store MonthReader
}

func NewReportService(store MonthReader) *ReportService {
	return &ReportService{store: store}
}

// MonthlySummary returns totals, per-category proportions and the transactions of one month.
func (s *ReportService) MonthlySummary(ctx context.Context, year, month int) (core.MonthlySummary, error) {
	txns, err := s.store.QueryMonth(ctx, year, month)
	if err != nil {
		return core.MonthlySummary{}, fmt.Errorf("query month %04d-%02d: %w", year, month, err)
	}
	return core.Summarize(year, month, txns), nil
}

// Months lists the months that have data, newest first. current is always
// included so an empty month can still be selected.
func (s *ReportService) Months(ctx context.Context, current string) ([]string, error) {
	months, err := s.store.Months(ctx)
	if err != nil {
		return nil, fmt.Errorf("list months: %w", err)
	}
	if current == "" {
		return months, nil
	}
	for _, m := range months {
		if m == current {
			return months, nil
		}
	}
	return append([]string{current}, months...), nil
}
