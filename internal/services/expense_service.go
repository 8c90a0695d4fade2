package services

import (
	"context"
	"strings"
	"time"

	"settleup/internal/amqp"
	"settleup/internal/core"
	"settleup/internal/ledger"
	"settleup/internal/log"
	"settleup/internal/storage"
)

// ExpensePatch is a partial expense edit. Nil fields keep the stored value.
type ExpensePatch struct {
	Description  *string
	Amount       *core.Money
	PaidBy       []core.Share
	Mode         *string
	PaidFor      []string
	ShareDetails []core.Share
	Date         *time.Time
	Saved        *bool
}

// MetadataOnly reports whether the patch leaves the money side untouched,
// in which case balances are not recomputed.
func (p ExpensePatch) MetadataOnly() bool {
	return p.Amount == nil && p.PaidBy == nil && p.Mode == nil && p.PaidFor == nil && p.ShareDetails == nil
}

// Apply returns a copy of e with the patch applied.
func (p ExpensePatch) Apply(e core.Expense) core.Expense {
	out := e.Clone()
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Amount != nil {
		out.Amount = *p.Amount
	}
	if p.PaidBy != nil {
		out.PaidBy = append([]core.Share(nil), p.PaidBy...)
	}
	if p.Mode != nil {
		out.Mode = *p.Mode
	}
	if p.PaidFor != nil {
		out.PaidFor = append([]string(nil), p.PaidFor...)
	}
	if p.ShareDetails != nil {
		out.ShareDetails = append([]core.Share(nil), p.ShareDetails...)
	}
	if p.Date != nil {
		out.Date = *p.Date
	}
	if p.Saved != nil {
		out.Saved = *p.Saved
	}
	return out
}

func normalizeExpense(e *core.Expense) {
	e.Description = strings.TrimSpace(e.Description)
	if e.Description == "" {
		e.Description = core.DefaultDescription
	}
	if e.Date.IsZero() {
		e.Date = time.Now().UTC()
	}
	for i := range e.PaidBy {
		e.PaidBy[i].Username = core.NormalizeUsername(e.PaidBy[i].Username)
	}
	for i := range e.ShareDetails {
		e.ShareDetails[i].Username = core.NormalizeUsername(e.ShareDetails[i].Username)
	}
	for i := range e.PaidFor {
		e.PaidFor[i] = core.NormalizeUsername(e.PaidFor[i])
	}
}

// AddExpense records an expense and credits payers / debits beneficiaries.
func (s *GroupService) AddExpense(ctx context.Context, groupID int64, e core.Expense) (core.Expense, error) {
	e = e.Clone()
	normalizeExpense(&e)

	var (
		out core.Expense
		g   core.Group
	)
	err := s.store.WithGroup(ctx, groupID, func(ctx context.Context, tx storage.GroupTx) error {
		g = tx.Group()
		if err := core.ValidateExpense(g, e); err != nil {
			return err
		}
		inserted, err := tx.InsertExpense(ctx, e)
		if err != nil {
			return err
		}
		g.Balances = ledger.ApplyExpense(g.Balances, ledger.OpAdd, inserted, nil)
		g.Version++
		if err := tx.SaveGroup(ctx, g); err != nil {
			return err
		}
		out = inserted
		return nil
	})
	if err != nil {
		return core.Expense{}, err
	}

	s.events.LogLedgerEvent(ctx, log.OpCreate, g.ID, g.Version, log.NewFields().WithExpense(out.ID, out.Amount.Cents))
	s.publish(ctx, g, amqp.ReasonExpenseAdded)
	return out, nil
}

// UpdateExpense edits an expense. The stored record is read under the group
// lock and used as the previous state, so concurrent edits cannot reverse a
// stale version.
func (s *GroupService) UpdateExpense(ctx context.Context, groupID, id int64, patch ExpensePatch) (core.Expense, error) {
	var (
		out      core.Expense
		g        core.Group
		balanced bool
	)
	err := s.store.WithGroup(ctx, groupID, func(ctx context.Context, tx storage.GroupTx) error {
		prev, err := tx.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		next := patch.Apply(prev)
		normalizeExpense(&next)
		if len(next.Description) > core.MaxDescriptionLen {
			return core.ErrDescriptionTooLong
		}

		if patch.MetadataOnly() {
			if err := tx.UpdateExpense(ctx, next); err != nil {
				return err
			}
			out = next
			return nil
		}

		g = tx.Group()
		if err := core.ValidateExpense(g, next); err != nil {
			return err
		}
		if err := tx.UpdateExpense(ctx, next); err != nil {
			return err
		}
		g.Balances = ledger.ApplyExpense(g.Balances, ledger.OpUpdate, next, &prev)
		g.Version++
		if err := tx.SaveGroup(ctx, g); err != nil {
			return err
		}
		out = next
		balanced = true
		return nil
	})
	if err != nil {
		return core.Expense{}, err
	}

	if balanced {
		s.events.LogLedgerEvent(ctx, log.OpUpdate, g.ID, g.Version, log.NewFields().WithExpense(out.ID, out.Amount.Cents))
		s.publish(ctx, g, amqp.ReasonExpenseUpdated)
	}
	return out, nil
}

// DeleteExpense removes an expense and reverses its effect.
func (s *GroupService) DeleteExpense(ctx context.Context, groupID, id int64) error {
	var (
		g    core.Group
		prev core.Expense
	)
	err := s.store.WithGroup(ctx, groupID, func(ctx context.Context, tx storage.GroupTx) error {
		var err error
		prev, err = tx.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteExpense(ctx, id); err != nil {
			return err
		}
		g = tx.Group()
		g.Balances = ledger.ApplyExpense(g.Balances, ledger.OpDelete, prev, nil)
		g.Version++
		return tx.SaveGroup(ctx, g)
	})
	if err != nil {
		return err
	}

	s.events.LogLedgerEvent(ctx, log.OpDelete, g.ID, g.Version, log.NewFields().WithExpense(prev.ID, prev.Amount.Cents))
	s.publish(ctx, g, amqp.ReasonExpenseDeleted)
	return nil
}

func (s *GroupService) GetExpense(ctx context.Context, groupID, id int64) (core.Expense, error) {
	return s.store.GetExpense(ctx, groupID, id)
}

func (s *GroupService) ListExpenses(ctx context.Context, groupID int64, savedOnly bool) ([]core.Expense, error) {
	return s.store.ListExpenses(ctx, groupID, storage.ExpenseFilter{SavedOnly: savedOnly})
}
