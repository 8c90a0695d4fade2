package ledger

import (
	"math/rand"
	"reflect"
	"testing"

	"settleup/internal/core"
)

func share(u string, cents int64) core.Share {
	return core.Share{Username: u, Amount: core.Cents(cents)}
}

func bal(kv ...any) core.Balances {
	b := core.Balances{}
	for i := 0; i < len(kv); i += 2 {
		b[kv[i].(string)] = core.Cents(int64(kv[i+1].(int)))
	}
	return b
}

var dinner = core.Expense{
	Amount:       core.Cents(3000),
	PaidBy:       []core.Share{share("A", 3000)},
	ShareDetails: []core.Share{share("A", 1000), share("B", 1000), share("C", 1000)},
}

func TestApplyExpense_Add(t *testing.T) {
	got := ApplyExpense(bal("A", 0), OpAdd, dinner, nil)
	if !bal("A", 2000, "B", -1000, "C", -1000).Equal(got) {
		t.Errorf("unexpected balances %v", got)
	}
	if len(got) != 3 {
		t.Errorf("missing identities must be materialised, got %v", got)
	}
}

func TestApplyExpense_DeleteIsStrictInverse(t *testing.T) {
	start := bal("A", 2000, "B", -1000, "C", -1000)
	got := ApplyExpense(start, OpDelete, dinner, nil)
	if !bal("A", 0, "B", 0, "C", 0).Equal(got) {
		t.Errorf("unexpected balances %v", got)
	}
}

func TestApplyExpense_DoesNotMutateInput(t *testing.T) {
	start := bal("A", 0)
	_ = ApplyExpense(start, OpAdd, dinner, nil)
	if !reflect.DeepEqual(bal("A", 0), start) {
		t.Errorf("input mutated: %v", start)
	}
}

func TestApplyExpense_UpdateChangesMembership(t *testing.T) {
	start := ApplyExpense(core.Balances{}, OpAdd, dinner, nil)

	next := core.Expense{
		Amount:       core.Cents(4000),
		PaidBy:       []core.Share{share("B", 1500), share("D", 2500)},
		ShareDetails: []core.Share{share("C", 2000), share("D", 2000)},
	}
	got := ApplyExpense(start, OpUpdate, next, &dinner)

	if !bal("A", 0, "B", 1500, "C", -2000, "D", 500).Equal(got) {
		t.Errorf("unexpected balances %v", got)
	}
	if !got.Total().IsZero() {
		t.Errorf("total %v, want zero", got.Total())
	}
}

func TestApplyExpense_UpdateEqualsDeleteThenAdd(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	users := []string{"ann", "bob", "cid", "dee", "eve"}
	for i := 0; i < 200; i++ {
		start := core.Balances{}
		old := randomExpense(rng, users)
		start = ApplyExpense(start, OpAdd, old, nil)
		next := randomExpense(rng, users)

		viaUpdate := ApplyExpense(start, OpUpdate, next, &old)
		viaSteps := ApplyExpense(ApplyExpense(start, OpDelete, old, nil), OpAdd, next, nil)
		if !viaUpdate.Equal(viaSteps) {
			t.Fatalf("iteration %d: %v != %v", i, viaUpdate, viaSteps)
		}
	}
}

// The previous state must be captured before the record is edited in place,
// otherwise the reversal uses the new values and the mapping drifts.
func TestApplyExpense_UpdateNeedsSnapshotTakenBeforeEdit(t *testing.T) {
	stored := dinner.Clone()
	balances := ApplyExpense(core.Balances{}, OpAdd, stored, nil)

	snapshot := stored.Clone()
	stored.Amount = core.Cents(6000)
	stored.PaidBy[0].Amount = core.Cents(6000)
	stored.ShareDetails = []core.Share{share("B", 3000), share("C", 3000)}

	good := ApplyExpense(balances, OpUpdate, stored, &snapshot)
	if !bal("A", 6000, "B", -3000, "C", -3000).Equal(good) {
		t.Errorf("unexpected balances %v", good)
	}

	// Aliasing the already-edited record as "previous" is a no-op update.
	aliased := stored
	bad := ApplyExpense(balances, OpUpdate, stored, &aliased)
	if !balances.Equal(bad) {
		t.Errorf("aliased update should change nothing, got %v", bad)
	}
	if good.Equal(bad) {
		t.Error("aliased update should differ from the snapshot update")
	}
}

func TestApplyExpense_UpdateWithoutPreviousPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	ApplyExpense(core.Balances{}, OpUpdate, dinner, nil)
}

func TestApplyPayment(t *testing.T) {
	start := bal("A", 2000, "B", -1000, "C", -1000)
	pay := core.Payment{Amount: core.Cents(500), PaidFrom: "B", PaidTo: "A"}

	added := ApplyPayment(start, OpAdd, pay, nil)
	if !bal("A", 1500, "B", -500, "C", -1000).Equal(added) {
		t.Errorf("unexpected balances after add %v", added)
	}

	deleted := ApplyPayment(added, OpDelete, pay, nil)
	if !start.Equal(deleted) {
		t.Errorf("unexpected balances after delete %v", deleted)
	}
}

func TestApplyPayment_UpdateChangesIdentities(t *testing.T) {
	start := bal("A", 2000, "B", -1000, "C", -1000)
	old := core.Payment{Amount: core.Cents(500), PaidFrom: "B", PaidTo: "A"}
	next := core.Payment{Amount: core.Cents(1000), PaidFrom: "C", PaidTo: "A"}

	got := ApplyPayment(ApplyPayment(start, OpAdd, old, nil), OpUpdate, next, &old)
	if !bal("A", 1000, "B", -1000, "C", 0).Equal(got) {
		t.Errorf("unexpected balances %v", got)
	}
}

func TestApplyPayment_UpdateAmountOnly(t *testing.T) {
	old := core.Payment{Amount: core.Cents(500), PaidFrom: "B", PaidTo: "A"}
	next := old
	next.Amount = core.Cents(800)

	start := ApplyPayment(bal("A", 2000, "B", -2000), OpAdd, old, nil)
	got := ApplyPayment(start, OpUpdate, next, &old)
	if !bal("A", 1200, "B", -1200).Equal(got) {
		t.Errorf("unexpected balances %v", got)
	}
}

func TestZeroSumAcrossRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	users := []string{"ann", "bob", "cid", "dee"}

	b := core.NewBalances(users...)
	var expenses []core.Expense
	var payments []core.Payment

	for i := 0; i < 500; i++ {
		switch k := rng.Intn(6); {
		case k == 0 || len(expenses) == 0:
			e := randomExpense(rng, users)
			b = ApplyExpense(b, OpAdd, e, nil)
			expenses = append(expenses, e)
		case k == 1:
			j := rng.Intn(len(expenses))
			next := randomExpense(rng, users)
			b = ApplyExpense(b, OpUpdate, next, &expenses[j])
			expenses[j] = next
		case k == 2:
			j := rng.Intn(len(expenses))
			b = ApplyExpense(b, OpDelete, expenses[j], nil)
			expenses = append(expenses[:j], expenses[j+1:]...)
		case k == 3 || len(payments) == 0:
			p := randomPayment(rng, users)
			b = ApplyPayment(b, OpAdd, p, nil)
			payments = append(payments, p)
		case k == 4:
			j := rng.Intn(len(payments))
			next := randomPayment(rng, users)
			b = ApplyPayment(b, OpUpdate, next, &payments[j])
			payments[j] = next
		default:
			j := rng.Intn(len(payments))
			b = ApplyPayment(b, OpDelete, payments[j], nil)
			payments = append(payments[:j], payments[j+1:]...)
		}
		if !b.Total().IsZero() {
			t.Fatalf("step %d: total %v", i, b.Total())
		}
	}

	if replayed := Replay(users, expenses, payments); !replayed.Equal(b) {
		t.Errorf("incremental balances diverged from replay: %v != %v", b, replayed)
	}
}

func TestExpenditures(t *testing.T) {
	second := core.Expense{
		Amount:       core.Cents(1000),
		PaidBy:       []core.Share{share("B", 1000)},
		ShareDetails: []core.Share{share("B", 250), share("C", 750)},
	}
	got := Expenditures([]core.Expense{dinner, second})
	want := map[string]core.Money{
		"A": core.Cents(1000),
		"B": core.Cents(1250),
		"C": core.Cents(1750),
	}
	if !reflect.DeepEqual(want, got) {
		t.Errorf("Expenditures() = %v, want %v", got, want)
	}
	if total := TotalExpenditure([]core.Expense{dinner, second}); total != core.Cents(4000) {
		t.Errorf("TotalExpenditure() = %v, want 40.00", total)
	}
	if got := Expenditures(nil); len(got) != 0 {
		t.Errorf("Expenditures(nil) = %v, want empty", got)
	}
}

func randomExpense(rng *rand.Rand, users []string) core.Expense {
	amount := int64(rng.Intn(100000) + 1)
	return core.Expense{
		Amount:       core.Cents(amount),
		PaidBy:       randomSplit(rng, users, amount),
		ShareDetails: randomSplit(rng, users, amount),
	}
}

func randomSplit(rng *rand.Rand, users []string, amount int64) []core.Share {
	n := rng.Intn(len(users)) + 1
	perm := rng.Perm(len(users))[:n]
	out := make([]core.Share, 0, n)
	left := amount
	for i, idx := range perm {
		part := left
		if i < n-1 {
			part = rng.Int63n(left + 1)
		}
		out = append(out, share(users[idx], part))
		left -= part
	}
	return out
}

func randomPayment(rng *rand.Rand, users []string) core.Payment {
	i := rng.Intn(len(users))
	j := (i + 1 + rng.Intn(len(users)-1)) % len(users)
	return core.Payment{
		Amount:   core.Cents(int64(rng.Intn(50000) + 1)),
		PaidFrom: users[i],
		PaidTo:   users[j],
	}
}
