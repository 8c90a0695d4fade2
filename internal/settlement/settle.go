// Package settlement reduces a balance mapping to a list of transfers that
// brings every balance to zero.
package settlement

import (
	"sort"

	"settleup/internal/core"
)

type entry struct {
	username string
	amount   core.Money
}

// Settle returns transfers that zero out balances, debtor paying creditor.
//
// Creditors and debtors are each sorted by (identity, amount) and matched
// greedily from the front; whichever side has a remainder goes back to the
// front of its queue and is matched again first. The result is
// deterministic, every amount is positive and there are at most
// creditors+debtors-1 instructions. If balances does not sum to zero the
// residual is left unmatched.
func Settle(balances core.Balances) []core.Settlement {
	var creditors, debtors []entry
	for u, b := range balances {
		switch {
		case b.IsPositive():
			creditors = append(creditors, entry{u, b})
		case b.IsNegative():
			debtors = append(debtors, entry{u, b.Neg()})
		}
	}
	sortEntries(creditors)
	sortEntries(debtors)

	settlements := make([]core.Settlement, 0, len(creditors)+len(debtors))
	for len(creditors) > 0 && len(debtors) > 0 {
		c, d := &creditors[0], &debtors[0]
		amt := core.Min(c.amount, d.amount)
		settlements = append(settlements, core.Settlement{
			Creditor: c.username,
			Debtor:   d.username,
			Amount:   amt,
		})
		// Reducing in place keeps the remainder at the front.
		c.amount = c.amount.Sub(amt)
		d.amount = d.amount.Sub(amt)
		if c.amount.IsZero() {
			creditors = creditors[1:]
		}
		if d.amount.IsZero() {
			debtors = debtors[1:]
		}
	}
	return settlements
}

// Outstanding is the total that still has to change hands: the sum of all
// positive balances.
func Outstanding(balances core.Balances) core.Money {
	var total core.Money
	for _, b := range balances {
		if b.IsPositive() {
			total = total.Add(b)
		}
	}
	return total
}

// Apply plays settlements against balances (debtor += amount, creditor -=
// amount) and returns the result.
func Apply(balances core.Balances, settlements []core.Settlement) core.Balances {
	out := balances.Clone()
	for _, s := range settlements {
		out[s.Debtor] = out.Get(s.Debtor).Add(s.Amount)
		out[s.Creditor] = out.Get(s.Creditor).Sub(s.Amount)
	}
	return out
}

func sortEntries(es []entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].username != es[j].username {
			return es[i].username < es[j].username
		}
		return es[i].amount.Cents < es[j].amount.Cents
	})
}
