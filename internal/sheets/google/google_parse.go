package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"jizhang/internal/core"
)

// Sheet layout, one transaction per row.
var header = []any{"ID", "Date", "Kind", "Category", "Amount", "Note", "Created At"}

const lastColumn = "G"

func toRow(t core.Transaction) []any {
	return []any{
		t.ID,
		t.OccurredOn.String(),
		t.Kind.Label(),
		t.Category,
		t.Amount.String(),
		t.Note,
		t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// parseRow converts a sheet row back into a transaction. Header, blank and
// hand-edited rows that cannot be read are reported with ok=false.
func parseRow(row []any) (core.Transaction, bool) {
	cols := toStrings(row)
	if len(cols) < 5 {
		return core.Transaction{}, false
	}

	id, err := strconv.ParseInt(cols[0], 10, 64)
	if err != nil || id <= 0 {
		return core.Transaction{}, false
	}
	day, err := core.ParseDate(cols[1])
	if err != nil {
		return core.Transaction{}, false
	}
	kind, err := core.ParseKind(cols[2])
	if err != nil {
		return core.Transaction{}, false
	}
	amount, ok := parseAmount(cols[4])
	if !ok {
		return core.Transaction{}, false
	}

	t := core.Transaction{
		ID:         id,
		Kind:       kind,
		Amount:     amount,
		Category:   cols[3],
		Note:       safeGet(cols, 5),
		OccurredOn: day,
	}
	if created, err := time.Parse(time.RFC3339, safeGet(cols, 6)); err == nil {
		t.CreatedAt = created
	}
	return t, true
}

// rowIndex maps transaction ids to 1-based sheet row numbers, given the
// values of column A starting at row 1.
func rowIndex(values [][]any) map[int64]int {
	idx := make(map[int64]int, len(values))
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(fmt.Sprint(row[0])), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		idx[id] = i + 1
	}
	return idx
}

// parseAmount reads amounts the way Sheets renders them: "32.50", "32,5" or "¥32.50".
func parseAmount(s string) (core.Money, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "¥")
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return core.Money{}, false
	}
	m, err := core.FromDecimal(d)
	if err != nil {
		return core.Money{}, false
	}
	return m, true
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
