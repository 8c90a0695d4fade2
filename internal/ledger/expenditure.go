package ledger

import "settleup/internal/core"

// Expenditures sums, per participant, what they were a beneficiary of across
// the given expenses. Payments are not expenditure and are not considered.
func Expenditures(expenses []core.Expense) map[string]core.Money {
	out := make(map[string]core.Money)
	for _, e := range expenses {
		for _, s := range e.ShareDetails {
			out[s.Username] = out[s.Username].Add(s.Amount)
		}
	}
	return out
}

// TotalExpenditure is the sum of all expense amounts.
func TotalExpenditure(expenses []core.Expense) core.Money {
	var total core.Money
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total
}
