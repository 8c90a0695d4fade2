// Package ledger applies expense and payment events to a group's balance
// mapping.
//
// Every function here is pure: the input mapping is never modified and a new
// mapping is returned for the caller to persist. Inputs are assumed to be
// validated (see core.ValidateExpense and core.ValidatePayment); an invalid
// event produces an inconsistent mapping rather than an error.
package ledger

import (
	"fmt"

	"settleup/internal/core"
)

// Op selects how an event affects the mapping.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

func (op Op) String() string { return string(op) }

// ApplyExpense returns balances after adding, updating or deleting an expense.
//
// For OpUpdate, prev must be the expense as it was before the edit. The
// previous effect is fully reversed before next is applied, which keeps the
// mapping consistent when payers or beneficiaries change across the edit.
func ApplyExpense(balances core.Balances, op Op, next core.Expense, prev *core.Expense) core.Balances {
	out := balances.Clone()
	switch op {
	case OpAdd:
		addExpense(out, next, 1)
	case OpDelete:
		addExpense(out, next, -1)
	case OpUpdate:
		if prev == nil {
			panic("ledger: expense update without previous state")
		}
		addExpense(out, *prev, -1)
		addExpense(out, next, 1)
	default:
		panic(fmt.Sprintf("ledger: unknown op %q", op))
	}
	return out
}

// ApplyPayment returns balances after adding, updating or deleting a payment.
//
// Adding a payment credits the payer and debits the payee: the payer is owed
// back what they fronted, the payee's debt shrinks. Updates always reverse
// prev in full, even when only the amount changed.
func ApplyPayment(balances core.Balances, op Op, next core.Payment, prev *core.Payment) core.Balances {
	out := balances.Clone()
	switch op {
	case OpAdd:
		addPayment(out, next, 1)
	case OpDelete:
		addPayment(out, next, -1)
	case OpUpdate:
		if prev == nil {
			panic("ledger: payment update without previous state")
		}
		addPayment(out, *prev, -1)
		addPayment(out, next, 1)
	default:
		panic(fmt.Sprintf("ledger: unknown op %q", op))
	}
	return out
}

// Replay rebuilds a mapping from scratch: every member starts at zero and
// each expense and payment is added once. A stored mapping that differs from
// the replayed one has been corrupted, e.g. by an unserialized write.
func Replay(usernames []string, expenses []core.Expense, payments []core.Payment) core.Balances {
	b := core.NewBalances(usernames...)
	for _, e := range expenses {
		addExpense(b, e, 1)
	}
	for _, p := range payments {
		addPayment(b, p, 1)
	}
	return b
}

func addExpense(b core.Balances, e core.Expense, sign int64) {
	for _, s := range e.PaidBy {
		credit(b, s.Username, s.Amount, sign)
	}
	for _, s := range e.ShareDetails {
		credit(b, s.Username, s.Amount, -sign)
	}
}

func addPayment(b core.Balances, p core.Payment, sign int64) {
	credit(b, p.PaidFrom, p.Amount, sign)
	credit(b, p.PaidTo, p.Amount, -sign)
}

func credit(b core.Balances, username string, amount core.Money, sign int64) {
	b[username] = b.Get(username).Add(core.Cents(sign * amount.Cents))
}
