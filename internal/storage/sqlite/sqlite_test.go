package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settleup/internal/core"
	"settleup/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "settleup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createGroup(t *testing.T, s *Store) core.Group {
	t.Helper()
	upi := "a@upi"
	g, err := s.CreateGroup(context.Background(), core.Group{
		Name:     "Flat",
		Members:  []core.Member{{Username: "A", UPIID: &upi}, {Username: "B"}},
		Balances: core.NewBalances("A", "B"),
	})
	require.NoError(t, err)
	return g
}

func TestGroupRoundTrip(t *testing.T) {
	s := openTestStore(t)
	g := createGroup(t, s)

	got, err := s.GetGroup(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Flat", got.Name)
	require.Len(t, got.Members, 2)
	require.NotNil(t, got.Members[0].UPIID)
	assert.Equal(t, "a@upi", *got.Members[0].UPIID)
	assert.True(t, got.Balances.Equal(core.NewBalances("A", "B")))

	_, err = s.GetGroup(context.Background(), g.ID+100)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	ids, err := s.ListGroupIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{g.ID}, ids)
}

func TestExpenseLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	g := createGroup(t, s)
	when := time.Date(2024, 3, 10, 19, 30, 0, 0, time.UTC)

	var id int64
	err := s.WithGroup(ctx, g.ID, func(ctx context.Context, tx storage.GroupTx) error {
		e, err := tx.InsertExpense(ctx, core.Expense{
			Description:  "Groceries",
			Amount:       core.Cents(2500),
			PaidBy:       []core.Share{{Username: "A", Amount: core.Cents(2500)}},
			Mode:         "equal",
			PaidFor:      []string{"A", "B"},
			ShareDetails: []core.Share{{Username: "A", Amount: core.Cents(1250)}, {Username: "B", Amount: core.Cents(1250)}},
			Date:         when,
		})
		if err != nil {
			return err
		}
		id = e.ID
		grp := tx.Group()
		grp.Balances = core.Balances{"A": core.Cents(1250), "B": core.Cents(-1250)}
		grp.Version++
		return tx.SaveGroup(ctx, grp)
	})
	require.NoError(t, err)

	e, err := s.GetExpense(ctx, g.ID, id)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", e.Description)
	assert.Equal(t, core.Cents(2500), e.Amount)
	assert.Equal(t, []string{"A", "B"}, e.PaidFor)
	assert.Equal(t, core.Cents(1250), e.ShareDetails[1].Amount)
	assert.True(t, when.Equal(e.Date))

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, core.Cents(-1250), got.Balances.Get("B"))

	err = s.WithGroup(ctx, g.ID, func(ctx context.Context, tx storage.GroupTx) error {
		e, err := tx.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		e.Saved = true
		e.Description = "Weekly groceries"
		return tx.UpdateExpense(ctx, e)
	})
	require.NoError(t, err)

	saved, err := s.ListExpenses(ctx, g.ID, storage.ExpenseFilter{SavedOnly: true})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "Weekly groceries", saved[0].Description)

	err = s.WithGroup(ctx, g.ID, func(ctx context.Context, tx storage.GroupTx) error {
		return tx.DeleteExpense(ctx, id)
	})
	require.NoError(t, err)
	_, err = s.GetExpense(ctx, g.ID, id)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestPaymentsOrderedNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	g := createGroup(t, s)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := s.WithGroup(ctx, g.ID, func(ctx context.Context, tx storage.GroupTx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.InsertPayment(ctx, core.Payment{
				Amount:   core.Cents(int64(100 * (i + 1))),
				PaidFrom: "B",
				PaidTo:   "A",
				Date:     base.Add(time.Duration(i) * 24 * time.Hour),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	payments, err := s.ListPayments(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, core.Cents(300), payments[0].Amount)
	assert.Equal(t, core.Cents(100), payments[2].Amount)
}

func TestWithGroupRollback(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	g := createGroup(t, s)
	boom := errors.New("boom")

	err := s.WithGroup(ctx, g.ID, func(ctx context.Context, tx storage.GroupTx) error {
		if _, err := tx.InsertPayment(ctx, core.Payment{Amount: core.Cents(100), PaidFrom: "A", PaidTo: "B", Date: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	payments, err := s.ListPayments(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	err = s.WithGroup(ctx, g.ID, func(ctx context.Context, tx storage.GroupTx) error {
		return tx.DeletePayment(ctx, 12345)
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	g := createGroup(t, s)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.WithGroup(ctx, g.ID, func(ctx context.Context, tx storage.GroupTx) error {
				grp := tx.Group()
				grp.Balances["A"] = grp.Balances.Get("A").Add(core.Cents(1))
				grp.Balances["B"] = grp.Balances.Get("B").Sub(core.Cents(1))
				grp.Version++
				return tx.SaveGroup(ctx, grp)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.Version)
	assert.Equal(t, core.Cents(n), got.Balances.Get("A"))
	assert.True(t, got.Balances.Total().IsZero())
}
