// Package storage defines the persistence ports for groups, expenses and
// payments. Implementations live in the memory, sqlite and postgres
// subpackages.
package storage

import (
	"context"
	"errors"

	"settleup/internal/core"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// ExpenseFilter narrows expense listings.
type ExpenseFilter struct {
	SavedOnly bool
}

// Store is the read side plus the entry point for serialized mutations.
// Listings are ordered by date, newest first.
type Store interface {
	CreateGroup(ctx context.Context, g core.Group) (core.Group, error)
	GetGroup(ctx context.Context, id int64) (core.Group, error)
	ListGroupIDs(ctx context.Context) ([]int64, error)

	GetExpense(ctx context.Context, groupID, id int64) (core.Expense, error)
	ListExpenses(ctx context.Context, groupID int64, f ExpenseFilter) ([]core.Expense, error)
	GetPayment(ctx context.Context, groupID, id int64) (core.Payment, error)
	ListPayments(ctx context.Context, groupID int64) ([]core.Payment, error)

	// WithGroup runs fn while holding the group's write lock, inside one
	// transaction. At most one WithGroup callback runs per group at a time,
	// so balances read through tx cannot go stale before they are written.
	// Returning an error rolls everything back. fn must only use tx; calling
	// back into the Store from fn may deadlock.
	WithGroup(ctx context.Context, groupID int64, fn func(ctx context.Context, tx GroupTx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// GroupTx is the view of one locked group inside WithGroup.
type GroupTx interface {
	// Group returns the group as loaded when the lock was taken.
	Group() core.Group
	// SaveGroup persists name, members, balances and version.
	SaveGroup(ctx context.Context, g core.Group) error

	InsertExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	UpdateExpense(ctx context.Context, e core.Expense) error
	DeleteExpense(ctx context.Context, id int64) error
	ListExpenses(ctx context.Context) ([]core.Expense, error)

	InsertPayment(ctx context.Context, p core.Payment) (core.Payment, error)
	GetPayment(ctx context.Context, id int64) (core.Payment, error)
	UpdatePayment(ctx context.Context, p core.Payment) error
	DeletePayment(ctx context.Context, id int64) error
	ListPayments(ctx context.Context) ([]core.Payment, error)
}
