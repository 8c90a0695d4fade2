package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"settleup/internal/core"
)

func sampleReport() core.GroupReport {
	return core.GroupReport{
		GroupID: 7,
		Name:    "Trip",
		Version: 3,
		Balances: []core.UserAmount{
			{Username: "alice", Amount: core.Cents(2000)},
			{Username: "bob", Amount: core.Cents(-2000)},
		},
		Settlements:      []core.Settlement{{Creditor: "alice", Debtor: "bob", Amount: core.Cents(2000)}},
		Expenditure:      []core.UserAmount{{Username: "alice", Amount: core.Cents(1000)}, {Username: "bob", Amount: core.Cents(2000)}},
		TotalExpenditure: core.Cents(3000),
		Outstanding:      core.Cents(2000),
	}
}

func TestReportRows(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := reportRows(sampleReport(), at)

	want := [][]any{
		{"Group", "Trip"},
		{"Group ID", int64(7)},
		{"Version", int64(3)},
		{"Exported at", "2024-05-01T12:00:00Z"},
		{},
		{"Member", "Balance"},
		{"alice", 20.0},
		{"bob", -20.0},
		{},
		{"Debtor", "Creditor", "Amount"},
		{"bob", "alice", 20.0},
		{"Outstanding", "", 20.0},
		{},
		{"Member", "Expenditure"},
		{"alice", 10.0},
		{"bob", 20.0},
		{"Total", 30.0},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %v", len(rows), len(want), rows)
	}
	for i := range want {
		if len(rows[i]) != len(want[i]) {
			t.Fatalf("row %d = %v, want %v", i, rows[i], want[i])
		}
		for j := range want[i] {
			if rows[i][j] != want[i][j] {
				t.Errorf("row %d col %d = %#v, want %#v", i, j, rows[i][j], want[i][j])
			}
		}
	}
}

func TestA1QuotesSheetTitle(t *testing.T) {
	if got := a1("Group 1", "A1"); got != "'Group 1'!A1" {
		t.Errorf("a1() = %q", got)
	}
	if got := a1("Bob's", "A:Z"); got != "'Bob''s'!A:Z" {
		t.Errorf("a1() = %q", got)
	}
}

// fakeSheets answers the handful of Sheets API calls the exporter makes.
type fakeSheets struct {
	mu       sync.Mutex
	titles   []string
	calls    []string
	lastBody gsheet.ValueRange
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	f.calls = append(f.calls, r.Method+" "+path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/sheet-id"):
		var sheets []map[string]any
		for _, t := range f.titles {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": t}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-id", "sheets": sheets})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			if rq.AddSheet != nil {
				f.titles = append(f.titles, rq.AddSheet.Properties.Title)
			}
		}
		_, _ = io.WriteString(w, `{"spreadsheetId":"sheet-id"}`)
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		_, _ = io.WriteString(w, `{}`)
	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		_, _ = io.WriteString(w, `{"updatedRange":"'Group 7'!A1:C17"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
	}
}

func (f *fakeSheets) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func newFakeClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return NewWithService(svc, Config{SpreadsheetID: "sheet-id"}, nil)
}

func TestExportReport_CreatesSheetOnce(t *testing.T) {
	fake := &fakeSheets{titles: []string{"Summary"}}
	c := newFakeClient(t, fake)
	ctx := context.Background()

	ref, err := c.ExportReport(ctx, sampleReport())
	if err != nil {
		t.Fatalf("ExportReport() error = %v", err)
	}
	if ref != "'Group 7'!A1:C17" {
		t.Errorf("ref = %q", ref)
	}
	if _, err := c.ExportReport(ctx, sampleReport()); err != nil {
		t.Fatalf("second ExportReport() error = %v", err)
	}

	if n := fake.count("POST"); n != 3 {
		// one batchUpdate plus two clears
		t.Errorf("POST calls = %d, want 3: %v", n, fake.calls)
	}
	if n := fake.count("PUT"); n != 2 {
		t.Errorf("PUT calls = %d, want 2", n)
	}
	if len(fake.titles) != 2 || fake.titles[1] != "Group 7" {
		t.Errorf("titles = %v", fake.titles)
	}
	if len(fake.lastBody.Values) == 0 || fake.lastBody.Values[0][1] != "Trip" {
		t.Errorf("unexpected body %+v", fake.lastBody.Values)
	}
}

func TestExportReport_NoService(t *testing.T) {
	c := &Client{}
	if _, err := c.ExportReport(context.Background(), sampleReport()); err == nil {
		t.Error("expected error without a service")
	}
}

func TestNew_ConfigErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Config{}, nil); err == nil || !strings.Contains(err.Error(), "spreadsheet id") {
		t.Errorf("expected missing spreadsheet id error, got %v", err)
	}
	if _, err := New(ctx, Config{SpreadsheetID: "x"}, nil); err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Errorf("expected missing credentials error, got %v", err)
	}
	missing := filepath.Join(t.TempDir(), "nope.json")
	if _, err := New(ctx, Config{SpreadsheetID: "x", CredentialsFile: missing}, nil); err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Errorf("expected file read error, got %v", err)
	}
}

func TestCredentials_JSONWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(path, []byte(`{"from":"file"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	b, err := credentials(Config{CredentialsJSON: `{"from":"env"}`, CredentialsFile: path})
	if err != nil || string(b) != `{"from":"env"}` {
		t.Errorf("credentials() = %s, %v", b, err)
	}
	b, err = credentials(Config{CredentialsFile: path})
	if err != nil || string(b) != `{"from":"file"}` {
		t.Errorf("credentials() = %s, %v", b, err)
	}
}
