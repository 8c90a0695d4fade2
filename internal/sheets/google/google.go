// Package google exports group reports to a Google Sheets spreadsheet, one
// tab per group.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"settleup/internal/core"
	"settleup/internal/log"
	ports "settleup/internal/sheets"
)

var _ ports.ReportExporter = (*Client)(nil)

type Config struct {
	SpreadsheetID string
	// SheetPrefix names the tabs: "<prefix> <group id>".
	SheetPrefix string
	// Service account credentials, inline JSON or a file path. JSON wins.
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetPrefix   string
	logger        *log.Logger
	now           func() time.Time
}

// New creates a Sheets client authenticated with a service account. Extra
// options are appended after the credentials.
func New(ctx context.Context, cfg Config, logger *log.Logger, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if logger == nil {
		logger = log.FromContext(ctx)
	}
	logger = logger.WithComponent(log.ComponentSheets)

	creds, err := credentials(cfg)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(creds),
		"scope", gsheet.SpreadsheetsScope)

	all := append([]goption.ClientOption{
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}, opts...)
	svc, err := gsheet.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg, logger), nil
}

// NewWithService wraps an existing service.
func NewWithService(svc *gsheet.Service, cfg Config, logger *log.Logger) *Client {
	prefix := strings.TrimSpace(cfg.SheetPrefix)
	if prefix == "" {
		prefix = "Group"
	}
	if logger == nil {
		logger = log.FromContext(context.Background()).WithComponent(log.ComponentSheets)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetPrefix:   prefix,
		logger:        logger,
		now:           time.Now,
	}
}

func credentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// SheetName is the tab a group's report is written to.
func (c *Client) SheetName(groupID int64) string {
	return fmt.Sprintf("%s %d", c.sheetPrefix, groupID)
}

// ExportReport replaces the group's tab with r. The tab is created on first
// export.
func (c *Client) ExportReport(ctx context.Context, r core.GroupReport) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	sheet := c.SheetName(r.GroupID)

	if err := c.ensureSheet(ctx, sheet); err != nil {
		return "", err
	}

	_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, a1(sheet, "A:Z"), &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("clear %s: %w", sheet, err)
	}

	rows := reportRows(r, c.now().UTC())
	vr := &gsheet.ValueRange{Values: rows}
	rng := a1(sheet, "A1")
	resp, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("write %s: %w", sheet, err)
	}

	ref := rng
	if resp != nil && resp.UpdatedRange != "" {
		ref = resp.UpdatedRange
	}
	c.logger.InfoContext(ctx, "Exported group report",
		log.FieldGroupID, r.GroupID,
		log.FieldVersion, r.Version,
		"sheet_range", ref,
		"rows", len(rows))
	return ref, nil
}

func (c *Client) ensureSheet(ctx context.Context, title string) error {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == title {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	c.logger.InfoContext(ctx, "Created sheet", "sheet", title)
	return nil
}

// a1 builds an A1 range with the sheet title quoted.
func a1(sheet, cells string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(sheet, "'", "''"), cells)
}

// reportRows lays a report out as a small table per section, separated by
// blank rows. Amounts are written in major units.
func reportRows(r core.GroupReport, exportedAt time.Time) [][]any {
	rows := [][]any{
		{"Group", r.Name},
		{"Group ID", r.GroupID},
		{"Version", r.Version},
		{"Exported at", exportedAt.Format(time.RFC3339)},
		{},
		{"Member", "Balance"},
	}
	for _, b := range r.Balances {
		rows = append(rows, []any{b.Username, b.Amount.Float()})
	}

	rows = append(rows, []any{}, []any{"Debtor", "Creditor", "Amount"})
	for _, s := range r.Settlements {
		rows = append(rows, []any{s.Debtor, s.Creditor, s.Amount.Float()})
	}
	rows = append(rows, []any{"Outstanding", "", r.Outstanding.Float()})

	rows = append(rows, []any{}, []any{"Member", "Expenditure"})
	for _, e := range r.Expenditure {
		rows = append(rows, []any{e.Username, e.Amount.Float()})
	}
	rows = append(rows, []any{"Total", r.TotalExpenditure.Float()})
	return rows
}
