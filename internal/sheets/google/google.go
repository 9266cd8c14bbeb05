package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"jizhang/internal/core"
	ports "jizhang/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const defaultCacheValidDuration = 5 * time.Minute

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string

	// Row index cache: transaction id -> 1-based row number.
	mu                 sync.Mutex
	rows               map[int64]int
	rowCount           int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
	sheetID            *int64
}

// Ensure interface conformance
var (
	_ ports.TransactionMirror = (*Client)(nil)
	_ ports.TransactionLister = (*Client)(nil)
)

// New creates a client for one sheet of a spreadsheet. opts are passed to the
// Sheets service and must carry credentials.
func New(ctx context.Context, spreadsheetID, sheetName string, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheetName = strings.TrimSpace(sheetName)
	if sheetName == "" {
		sheetName = "Ledger"
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		sheetName:          sheetName,
		cacheValidDuration: defaultCacheValidDuration,
	}, nil
}

// NewFromEnv creates a client authenticated with a service account.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context, spreadsheetID, sheetName string) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	credentialsJSON, err := serviceAccountCredentials(ctx)
	if err != nil {
		return nil, err
	}

	return New(ctx, spreadsheetID, sheetName,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
}

func serviceAccountCredentials(ctx context.Context) ([]byte, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))

	// Also check the standard Google Cloud environment variable
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case serviceAccountJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		return []byte(serviceAccountJSON), nil
	case serviceAccountFile != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		data, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// Upsert writes t to its row, appending a new row when the id is not in the sheet yet.
func (c *Client) Upsert(ctx context.Context, t core.Transaction) (string, error) {
	if t.ID <= 0 {
		return "", fmt.Errorf("invalid transaction id %d", t.ID)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	rows, count, err := c.rowIndex(ctx)
	if err != nil {
		return "", err
	}

	row, exists := rows[t.ID]
	if !exists {
		if count == 0 {
			if err := c.writeRow(ctx, 1, header); err != nil {
				return "", fmt.Errorf("write header: %w", err)
			}
			count = 1
		}
		row = count + 1
	}

	if err := c.writeRow(ctx, row, toRow(t)); err != nil {
		c.invalidateRowCache()
		return "", err
	}

	c.mu.Lock()
	if c.rows != nil {
		c.rows[t.ID] = row
		c.rowCount = max(c.rowCount, row)
	}
	c.mu.Unlock()

	return fmt.Sprintf("%s!A%d:%s%d", c.sheetName, row, lastColumn, row), nil
}

// Remove deletes the row of transaction id, if present.
func (c *Client) Remove(ctx context.Context, id int64) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	// Rows shift on delete, so always work from a fresh index.
	c.invalidateRowCache()
	rows, _, err := c.rowIndex(ctx)
	if err != nil {
		return err
	}
	row, ok := rows[id]
	if !ok {
		slog.InfoContext(ctx, "Transaction not in sheet, nothing to remove", "id", id)
		return nil
	}

	sheetID, err := c.lookupSheetID(ctx)
	if err != nil {
		return err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(row - 1),
					EndIndex:   int64(row),
					// The first sheet's id is 0.
					ForceSendFields: []string{"SheetId"},
				},
			},
		}},
	}
	_, err = c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
	c.invalidateRowCache()
	if err != nil {
		return fmt.Errorf("delete row %d in sheet %s: %w", row, c.sheetName, err)
	}
	return nil
}

// ListTransactions reads every readable row of the sheet.
func (c *Client) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:%s", c.sheetName, lastColumn)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	out := make([]core.Transaction, 0, len(resp.Values))
	for _, row := range resp.Values {
		if t, ok := parseRow(row); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *Client) writeRow(ctx context.Context, row int, values []any) error {
	rng := fmt.Sprintf("%s!A%d:%s%d", c.sheetName, row, lastColumn, row)
	vr := &gsheet.ValueRange{Values: [][]any{values}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", rng, err)
	}
	return nil
}

// rowIndex returns the id -> row map and the number of used rows, reading
// column A when the cache has expired.
func (c *Client) rowIndex(ctx context.Context) (map[int64]int, int, error) {
	c.mu.Lock()
	if c.rows != nil && time.Now().Before(c.cacheExpiresAt) {
		rows, count := c.rows, c.rowCount
		c.mu.Unlock()
		return rows, count, nil
	}
	c.mu.Unlock()

	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read ids from %s: %w", c.sheetName, err)
	}

	rows := rowIndex(resp.Values)
	count := len(resp.Values)

	c.mu.Lock()
	c.rows = rows
	c.rowCount = count
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	c.mu.Unlock()

	return rows, count, nil
}

func (c *Client) invalidateRowCache() {
	c.mu.Lock()
	c.rows = nil
	c.rowCount = 0
	c.cacheExpiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *Client) lookupSheetID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	if c.sheetID != nil {
		id := *c.sheetID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read spreadsheet %s: %w", c.spreadsheetID, err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == c.sheetName {
			id := s.Properties.SheetId
			c.mu.Lock()
			c.sheetID = &id
			c.mu.Unlock()
			return id, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found in spreadsheet %s", c.sheetName, c.spreadsheetID)
}
