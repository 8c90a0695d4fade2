// Package postgres is the networked SQL backend built on a pgx pool. Group
// mutations lock the group row with SELECT ... FOR UPDATE, which serializes
// writers across every process sharing the database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"settleup/internal/core"
	"settleup/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and applies pending migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.InfoContext(ctx, "Postgres store ready", "max_conns", pool.Config().MaxConns)
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
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
	err = s.pool.QueryRow(ctx,
		`INSERT INTO groups (name, members, balances, version) VALUES ($1, $2, $3, $4) RETURNING id`,
		g.Name, members, balances, g.Version,
	).Scan(&g.ID)
	if err != nil {
		return core.Group{}, fmt.Errorf("insert group: %w", err)
	}
	return g, nil
}

func (s *Store) GetGroup(ctx context.Context, id int64) (core.Group, error) {
	return getGroup(ctx, s.pool, id, false)
}

func (s *Store) ListGroupIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan group ids: %w", err)
	}
	return ids, nil
}

func (s *Store) GetExpense(ctx context.Context, groupID, id int64) (core.Expense, error) {
	return getExpense(ctx, s.pool, groupID, id)
}

func (s *Store) ListExpenses(ctx context.Context, groupID int64, f storage.ExpenseFilter) ([]core.Expense, error) {
	if _, err := getGroup(ctx, s.pool, groupID, false); err != nil {
		return nil, err
	}
	return listExpenses(ctx, s.pool, groupID, f)
}

func (s *Store) GetPayment(ctx context.Context, groupID, id int64) (core.Payment, error) {
	return getPayment(ctx, s.pool, groupID, id)
}

func (s *Store) ListPayments(ctx context.Context, groupID int64) ([]core.Payment, error) {
	if _, err := getGroup(ctx, s.pool, groupID, false); err != nil {
		return nil, err
	}
	return listPayments(ctx, s.pool, groupID)
}

func (s *Store) WithGroup(ctx context.Context, groupID int64, fn func(ctx context.Context, tx storage.GroupTx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	g, err := getGroup(ctx, pgTx, groupID, true)
	if err != nil {
		return err
	}
	if err := fn(ctx, &tx{q: pgTx, group: g}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
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
	_, err = t.q.Exec(ctx,
		`UPDATE groups SET name = $1, members = $2, balances = $3, version = $4, updated_at = now() WHERE id = $5`,
		g.Name, members, balances, g.Version, t.group.ID)
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
	err = t.q.QueryRow(ctx,
		`INSERT INTO expenses (group_id, description, amount_cents, paid_by, split_mode, paid_for, share_details, occurred_at, is_saved)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		t.group.ID, e.Description, e.Amount.Cents, cols.paidBy, e.Mode, cols.paidFor, cols.shareDetails, e.Date, e.Saved,
	).Scan(&e.ID)
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
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
	tag, err := t.q.Exec(ctx,
		`UPDATE expenses
		 SET description = $1, amount_cents = $2, paid_by = $3, split_mode = $4, paid_for = $5, share_details = $6, occurred_at = $7, is_saved = $8
		 WHERE id = $9 AND group_id = $10`,
		e.Description, e.Amount.Cents, cols.paidBy, e.Mode, cols.paidFor, cols.shareDetails, e.Date, e.Saved, e.ID, t.group.ID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return requireRow(tag, "expense", e.ID)
}

func (t *tx) DeleteExpense(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM expenses WHERE id = $1 AND group_id = $2`, id, t.group.ID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return requireRow(tag, "expense", id)
}

func (t *tx) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	return listExpenses(ctx, t.q, t.group.ID, storage.ExpenseFilter{})
}

func (t *tx) InsertPayment(ctx context.Context, p core.Payment) (core.Payment, error) {
	err := t.q.QueryRow(ctx,
		`INSERT INTO payments (group_id, amount_cents, paid_from, paid_to, paid_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		t.group.ID, p.Amount.Cents, p.PaidFrom, p.PaidTo, p.Date,
	).Scan(&p.ID)
	if err != nil {
		return core.Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	p.GroupID = t.group.ID
	return p, nil
}

func (t *tx) GetPayment(ctx context.Context, id int64) (core.Payment, error) {
	return getPayment(ctx, t.q, t.group.ID, id)
}

func (t *tx) UpdatePayment(ctx context.Context, p core.Payment) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE payments SET amount_cents = $1, paid_from = $2, paid_to = $3, paid_at = $4 WHERE id = $5 AND group_id = $6`,
		p.Amount.Cents, p.PaidFrom, p.PaidTo, p.Date, p.ID, t.group.ID)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return requireRow(tag, "payment", p.ID)
}

func (t *tx) DeletePayment(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM payments WHERE id = $1 AND group_id = $2`, id, t.group.ID)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	return requireRow(tag, "payment", id)
}

func (t *tx) ListPayments(ctx context.Context) ([]core.Payment, error) {
	return listPayments(ctx, t.q, t.group.ID)
}

func getGroup(ctx context.Context, q querier, id int64, forUpdate bool) (core.Group, error) {
	query := `SELECT id, name, members, balances, version FROM groups WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		g                 core.Group
		members, balances []byte
	)
	err := q.QueryRow(ctx, query, id).Scan(&g.ID, &g.Name, &members, &balances, &g.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Group{}, fmt.Errorf("group %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("get group: %w", err)
	}
	if g.Members, err = storage.DecodeMembers(members); err != nil {
		return core.Group{}, err
	}
	if g.Balances, err = storage.DecodeBalances(balances); err != nil {
		return core.Group{}, err
	}
	return g, nil
}

const expenseColumns = `id, group_id, description, amount_cents, paid_by, split_mode, paid_for, share_details, occurred_at, is_saved`

func getExpense(ctx context.Context, q querier, groupID, id int64) (core.Expense, error) {
	e, err := scanExpense(q.QueryRow(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = $1 AND group_id = $2`, id, groupID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense %d: %w", id, storage.ErrNotFound)
	}
	return e, err
}

func listExpenses(ctx context.Context, q querier, groupID int64, f storage.ExpenseFilter) ([]core.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE group_id = $1`
	if f.SavedOnly {
		query += ` AND is_saved`
	}
	query += ` ORDER BY occurred_at DESC, id DESC`

	rows, err := q.Query(ctx, query, groupID)
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

func scanExpense(r pgx.Row) (core.Expense, error) {
	var (
		e                       core.Expense
		amount                  int64
		paidBy, paidFor, shares []byte
	)
	if err := r.Scan(&e.ID, &e.GroupID, &e.Description, &amount, &paidBy, &e.Mode, &paidFor, &shares, &e.Date, &e.Saved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Expense{}, err
		}
		return core.Expense{}, fmt.Errorf("scan expense: %w", err)
	}
	e.Amount = core.Cents(amount)

	var err error
	if e.PaidBy, err = storage.DecodeShares(paidBy); err != nil {
		return core.Expense{}, err
	}
	if e.PaidFor, err = storage.DecodeStrings(paidFor); err != nil {
		return core.Expense{}, err
	}
	if e.ShareDetails, err = storage.DecodeShares(shares); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func getPayment(ctx context.Context, q querier, groupID, id int64) (core.Payment, error) {
	p, err := scanPayment(q.QueryRow(ctx,
		`SELECT id, group_id, amount_cents, paid_from, paid_to, paid_at FROM payments WHERE id = $1 AND group_id = $2`, id, groupID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Payment{}, fmt.Errorf("payment %d: %w", id, storage.ErrNotFound)
	}
	return p, err
}

func listPayments(ctx context.Context, q querier, groupID int64) ([]core.Payment, error) {
	rows, err := q.Query(ctx,
		`SELECT id, group_id, amount_cents, paid_from, paid_to, paid_at FROM payments WHERE group_id = $1 ORDER BY paid_at DESC, id DESC`, groupID)
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

func scanPayment(r pgx.Row) (core.Payment, error) {
	var (
		p      core.Payment
		amount int64
	)
	if err := r.Scan(&p.ID, &p.GroupID, &amount, &p.PaidFrom, &p.PaidTo, &p.Date); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Payment{}, err
		}
		return core.Payment{}, fmt.Errorf("scan payment: %w", err)
	}
	p.Amount = core.Cents(amount)
	return p, nil
}

type expenseCols struct {
	paidBy, paidFor, shareDetails []byte
}

func encodeExpense(e core.Expense) (expenseCols, error) {
	var (
		cols expenseCols
		err  error
	)
	if cols.paidBy, err = storage.EncodeShares(e.PaidBy); err != nil {
		return expenseCols{}, err
	}
	if cols.paidFor, err = storage.EncodeStrings(e.PaidFor); err != nil {
		return expenseCols{}, err
	}
	if cols.shareDetails, err = storage.EncodeShares(e.ShareDetails); err != nil {
		return expenseCols{}, err
	}
	return cols, nil
}

func requireRow(tag pgconn.CommandTag, kind string, id int64) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}
