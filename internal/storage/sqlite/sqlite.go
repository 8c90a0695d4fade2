// Package sqlite is the embedded SQL backend. Amounts are stored in integer
// cents; share lists, member lists and balances are JSON text columns.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"settleup/internal/core"
	"settleup/internal/storage"

	_ "modernc.org/sqlite"
)

// Fixed-width UTC layout so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var _ storage.Store = (*Store)(nil)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
}

// DSN builds a connection string for path. Write transactions start with
// BEGIN IMMEDIATE so concurrent mutations of the same database queue on the
// write lock instead of failing on upgrade.
func DSN(path string) string {
	return "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)"
}

// Open creates the database directory if needed, connects and migrates.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := DSN(path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, err
	}

	slog.InfoContext(ctx, "SQLite store ready", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreateGroup(ctx context.Context, g core.Group) (core.Group, error) {
	members, err := storage.EncodeMembers(g.Members)
	if err != nil {
		return core.Group{}, err
	}
	balances, err := storage.EncodeBalances(g.Balances)
	if err != nil {
		return core.Group{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (name, members, balances, version) VALUES (?, ?, ?, ?)`,
		g.Name, string(members), string(balances), g.Version)
	if err != nil {
		return core.Group{}, fmt.Errorf("insert group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Group{}, fmt.Errorf("group id: %w", err)
	}
	g.ID = id
	return g, nil
}

func (s *Store) GetGroup(ctx context.Context, id int64) (core.Group, error) {
	return getGroup(ctx, s.db, id)
}

func (s *Store) ListGroupIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetExpense(ctx context.Context, groupID, id int64) (core.Expense, error) {
	return getExpense(ctx, s.db, groupID, id)
}

func (s *Store) ListExpenses(ctx context.Context, groupID int64, f storage.ExpenseFilter) ([]core.Expense, error) {
	if _, err := getGroup(ctx, s.db, groupID); err != nil {
		return nil, err
	}
	return listExpenses(ctx, s.db, groupID, f)
}

func (s *Store) GetPayment(ctx context.Context, groupID, id int64) (core.Payment, error) {
	return getPayment(ctx, s.db, groupID, id)
}

func (s *Store) ListPayments(ctx context.Context, groupID int64) ([]core.Payment, error) {
	if _, err := getGroup(ctx, s.db, groupID); err != nil {
		return nil, err
	}
	return listPayments(ctx, s.db, groupID)
}

func (s *Store) WithGroup(ctx context.Context, groupID int64, fn func(ctx context.Context, tx storage.GroupTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	g, err := getGroup(ctx, sqlTx, groupID)
	if err != nil {
		return err
	}
	if err := fn(ctx, &tx{q: sqlTx, group: g}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type tx struct {
	q     querier
	group core.Group
}

func (t *tx) Group() core.Group {
	g := t.group
	g.Members = append([]core.Member(nil), t.group.Members...)
	g.Balances = t.group.Balances.Clone()
	return g
}

func (t *tx) SaveGroup(ctx context.Context, g core.Group) error {
	members, err := storage.EncodeMembers(g.Members)
	if err != nil {
		return err
	}
	balances, err := storage.EncodeBalances(g.Balances)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx,
		`UPDATE groups SET name = ?, members = ?, balances = ?, version = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		g.Name, string(members), string(balances), g.Version, t.group.ID)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	g.ID = t.group.ID
	t.group = g
	return nil
}

func (t *tx) InsertExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	cols, err := encodeExpense(e)
	if err != nil {
		return core.Expense{}, err
	}
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO expenses (group_id, description, amount_cents, paid_by, split_mode, paid_for, share_details, occurred_at, is_saved)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.group.ID, e.Description, e.Amount.Cents, cols.paidBy, e.Mode, cols.paidFor, cols.shareDetails, formatTime(e.Date), e.Saved)
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense id: %w", err)
	}
	e.ID = id
	e.GroupID = t.group.ID
	return e, nil
}

func (t *tx) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	return getExpense(ctx, t.q, t.group.ID, id)
}

func (t *tx) UpdateExpense(ctx context.Context, e core.Expense) error {
	cols, err := encodeExpense(e)
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE expenses SET description = ?, amount_cents = ?, paid_by = ?, split_mode = ?, paid_for = ?, share_details = ?, occurred_at = ?, is_saved = ?
		 WHERE id = ? AND group_id = ?`,
		e.Description, e.Amount.Cents, cols.paidBy, e.Mode, cols.paidFor, cols.shareDetails, formatTime(e.Date), e.Saved, e.ID, t.group.ID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return requireRow(res, "expense", e.ID)
}

func (t *tx) DeleteExpense(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM expenses WHERE id = ? AND group_id = ?`, id, t.group.ID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return requireRow(res, "expense", id)
}

func (t *tx) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	return listExpenses(ctx, t.q, t.group.ID, storage.ExpenseFilter{})
}

func (t *tx) InsertPayment(ctx context.Context, p core.Payment) (core.Payment, error) {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO payments (group_id, amount_cents, paid_from, paid_to, paid_at) VALUES (?, ?, ?, ?, ?)`,
		t.group.ID, p.Amount.Cents, p.PaidFrom, p.PaidTo, formatTime(p.Date))
	if err != nil {
		return core.Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Payment{}, fmt.Errorf("payment id: %w", err)
	}
	p.ID = id
	p.GroupID = t.group.ID
	return p, nil
}

func (t *tx) GetPayment(ctx context.Context, id int64) (core.Payment, error) {
	return getPayment(ctx, t.q, t.group.ID, id)
}

func (t *tx) UpdatePayment(ctx context.Context, p core.Payment) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE payments SET amount_cents = ?, paid_from = ?, paid_to = ?, paid_at = ? WHERE id = ? AND group_id = ?`,
		p.Amount.Cents, p.PaidFrom, p.PaidTo, formatTime(p.Date), p.ID, t.group.ID)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return requireRow(res, "payment", p.ID)
}

func (t *tx) DeletePayment(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM payments WHERE id = ? AND group_id = ?`, id, t.group.ID)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	return requireRow(res, "payment", id)
}

func (t *tx) ListPayments(ctx context.Context) ([]core.Payment, error) {
	return listPayments(ctx, t.q, t.group.ID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getGroup(ctx context.Context, q querier, id int64) (core.Group, error) {
	var (
		g                 core.Group
		members, balances string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, name, members, balances, version FROM groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &members, &balances, &g.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Group{}, fmt.Errorf("group %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("get group: %w", err)
	}
	if g.Members, err = storage.DecodeMembers([]byte(members)); err != nil {
		return core.Group{}, err
	}
	if g.Balances, err = storage.DecodeBalances([]byte(balances)); err != nil {
		return core.Group{}, err
	}
	return g, nil
}

const expenseColumns = `id, group_id, description, amount_cents, paid_by, split_mode, paid_for, share_details, occurred_at, is_saved`

func getExpense(ctx context.Context, q querier, groupID, id int64) (core.Expense, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ? AND group_id = ?`, id, groupID)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense %d: %w", id, storage.ErrNotFound)
	}
	return e, err
}

func listExpenses(ctx context.Context, q querier, groupID int64, f storage.ExpenseFilter) ([]core.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE group_id = ?`
	if f.SavedOnly {
		query += ` AND is_saved = 1`
	}
	query += ` ORDER BY occurred_at DESC, id DESC`

	rows, err := q.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	out := []core.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExpense(r rowScanner) (core.Expense, error) {
	var (
		e                              core.Expense
		amount                         int64
		paidBy, paidFor, shares, stamp string
	)
	if err := r.Scan(&e.ID, &e.GroupID, &e.Description, &amount, &paidBy, &e.Mode, &paidFor, &shares, &stamp, &e.Saved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Expense{}, err
		}
		return core.Expense{}, fmt.Errorf("scan expense: %w", err)
	}
	e.Amount = core.Cents(amount)

	var err error
	if e.PaidBy, err = storage.DecodeShares([]byte(paidBy)); err != nil {
		return core.Expense{}, err
	}
	if e.PaidFor, err = storage.DecodeStrings([]byte(paidFor)); err != nil {
		return core.Expense{}, err
	}
	if e.ShareDetails, err = storage.DecodeShares([]byte(shares)); err != nil {
		return core.Expense{}, err
	}
	if e.Date, err = parseTime(stamp); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func getPayment(ctx context.Context, q querier, groupID, id int64) (core.Payment, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, group_id, amount_cents, paid_from, paid_to, paid_at FROM payments WHERE id = ? AND group_id = ?`, id, groupID)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Payment{}, fmt.Errorf("payment %d: %w", id, storage.ErrNotFound)
	}
	return p, err
}

func listPayments(ctx context.Context, q querier, groupID int64) ([]core.Payment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, group_id, amount_cents, paid_from, paid_to, paid_at FROM payments WHERE group_id = ? ORDER BY paid_at DESC, id DESC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	out := []core.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(r rowScanner) (core.Payment, error) {
	var (
		p      core.Payment
		amount int64
		stamp  string
	)
	if err := r.Scan(&p.ID, &p.GroupID, &amount, &p.PaidFrom, &p.PaidTo, &stamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Payment{}, err
		}
		return core.Payment{}, fmt.Errorf("scan payment: %w", err)
	}
	p.Amount = core.Cents(amount)
	var err error
	if p.Date, err = parseTime(stamp); err != nil {
		return core.Payment{}, err
	}
	return p, nil
}

type expenseCols struct {
	paidBy, paidFor, shareDetails string
}

func encodeExpense(e core.Expense) (expenseCols, error) {
	paidBy, err := storage.EncodeShares(e.PaidBy)
	if err != nil {
		return expenseCols{}, err
	}
	paidFor, err := storage.EncodeStrings(e.PaidFor)
	if err != nil {
		return expenseCols{}, err
	}
	shares, err := storage.EncodeShares(e.ShareDetails)
	if err != nil {
		return expenseCols{}, err
	}
	return expenseCols{paidBy: string(paidBy), paidFor: string(paidFor), shareDetails: string(shares)}, nil
}

func requireRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", kind, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
