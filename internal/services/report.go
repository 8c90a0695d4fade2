package services

import (
	"context"
	"sort"

	"settleup/internal/amqp"
	"settleup/internal/core"
	"settleup/internal/ledger"
	"settleup/internal/log"
	"settleup/internal/settlement"
	"settleup/internal/storage"
)

// Settlements returns the transfers that settle g's current balances.
func (s *GroupService) Settlements(ctx context.Context, groupID int64) ([]core.Settlement, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return settlement.Settle(g.Balances), nil
}

// Expenditure returns each participant's total share across the group's
// expenses.
func (s *GroupService) Expenditure(ctx context.Context, groupID int64) (map[string]core.Money, error) {
	expenses, err := s.store.ListExpenses(ctx, groupID, storage.ExpenseFilter{})
	if err != nil {
		return nil, err
	}
	return ledger.Expenditures(expenses), nil
}

func (s *GroupService) TotalExpenditure(ctx context.Context, groupID int64) (core.Money, error) {
	expenses, err := s.store.ListExpenses(ctx, groupID, storage.ExpenseFilter{})
	if err != nil {
		return core.Money{}, err
	}
	return ledger.TotalExpenditure(expenses), nil
}

// Report builds the full read model for g's group from one locked
// snapshot, so balances and expenditure describe the same version. Only
// g.ID is used; the report carries the version it was built from, which is
// newer than g.Version if a write committed after g was loaded.
func (s *GroupService) Report(ctx context.Context, g core.Group) (core.GroupReport, error) {
	var rep core.GroupReport
	err := s.store.WithGroup(ctx, g.ID, func(ctx context.Context, tx storage.GroupTx) error {
		expenses, err := tx.ListExpenses(ctx)
		if err != nil {
			return err
		}
		rep = BuildReport(tx.Group(), expenses)
		return nil
	})
	if err != nil {
		return core.GroupReport{}, err
	}
	return rep, nil
}

// BuildReport assembles a report from a group and its expenses. Lists are
// sorted by username.
func BuildReport(g core.Group, expenses []core.Expense) core.GroupReport {
	return core.GroupReport{
		GroupID:          g.ID,
		Name:             g.Name,
		Version:          g.Version,
		Balances:         sortedAmounts(g.Balances),
		Settlements:      settlement.Settle(g.Balances),
		Expenditure:      sortedAmounts(ledger.Expenditures(expenses)),
		TotalExpenditure: ledger.TotalExpenditure(expenses),
		Outstanding:      settlement.Outstanding(g.Balances),
	}
}

func sortedAmounts(m map[string]core.Money) []core.UserAmount {
	out := make([]core.UserAmount, 0, len(m))
	for u, a := range m {
		out = append(out, core.UserAmount{Username: u, Amount: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Reconcile replays every stored expense and payment and overwrites the
// balances when they disagree with the stored mapping. It reports whether a
// repair happened.
func (s *GroupService) Reconcile(ctx context.Context, groupID int64) (bool, error) {
	var (
		g        core.Group
		repaired bool
	)
	err := s.store.WithGroup(ctx, groupID, func(ctx context.Context, tx storage.GroupTx) error {
		expenses, err := tx.ListExpenses(ctx)
		if err != nil {
			return err
		}
		payments, err := tx.ListPayments(ctx)
		if err != nil {
			return err
		}

		g = tx.Group()
		replayed := ledger.Replay(g.Usernames(), expenses, payments)
		if replayed.Equal(g.Balances) {
			return nil
		}

		s.logger.WarnContext(ctx, "Stored balances drifted from history, repairing",
			log.FieldGroupID, g.ID,
			log.FieldVersion, g.Version,
			"stored_total", g.Balances.Total(),
			"replayed_total", replayed.Total())

		// Records of removed members net to zero; keep the mapping to members.
		for u, v := range replayed {
			if v.IsZero() && !g.HasMember(u) {
				delete(replayed, u)
			}
		}
		g.Balances = replayed
		g.Version++
		repaired = true
		return tx.SaveGroup(ctx, g)
	})
	if err != nil {
		return false, err
	}
	if repaired {
		s.events.LogLedgerEvent(ctx, log.OpReconcile, g.ID, g.Version, nil)
		s.publish(ctx, g, amqp.ReasonReconciled)
	}
	return repaired, nil
}

// GroupIDs lists every group, for batch jobs.
func (s *GroupService) GroupIDs(ctx context.Context) ([]int64, error) {
	return s.store.ListGroupIDs(ctx)
}

// Ping checks the underlying store.
func (s *GroupService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
