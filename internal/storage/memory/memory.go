// Package memory is an in-process storage backend, used for local runs and
// tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"settleup/internal/core"
	"settleup/internal/storage"
)

var _ storage.Store = (*Store)(nil)

type groupState struct {
	group    core.Group
	expenses map[int64]core.Expense
	payments map[int64]core.Payment
}

func (s *groupState) clone() *groupState {
	c := &groupState{
		group:    cloneGroup(s.group),
		expenses: make(map[int64]core.Expense, len(s.expenses)),
		payments: make(map[int64]core.Payment, len(s.payments)),
	}
	for id, e := range s.expenses {
		c.expenses[id] = e.Clone()
	}
	for id, p := range s.payments {
		c.payments[id] = p
	}
	return c
}

type groupRecord struct {
	// writer serializes WithGroup callbacks for this group.
	writer sync.Mutex
	state  *groupState
}

type Store struct {
	mu     sync.RWMutex
	groups map[int64]*groupRecord
	nextID int64
}

func New() *Store {
	return &Store{groups: make(map[int64]*groupRecord)}
}

func (s *Store) newID() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateGroup(_ context.Context, g core.Group) (core.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g = cloneGroup(g)
	g.ID = s.newID()
	s.groups[g.ID] = &groupRecord{state: &groupState{
		group:    g,
		expenses: make(map[int64]core.Expense),
		payments: make(map[int64]core.Payment),
	}}
	return cloneGroup(g), nil
}

func (s *Store) record(id int64) (*groupRecord, error) {
	rec, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %d: %w", id, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) GetGroup(_ context.Context, id int64) (core.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.record(id)
	if err != nil {
		return core.Group{}, err
	}
	return cloneGroup(rec.state.group), nil
}

func (s *Store) ListGroupIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) GetExpense(_ context.Context, groupID, id int64) (core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.record(groupID)
	if err != nil {
		return core.Expense{}, err
	}
	return getExpense(rec.state, id)
}

func (s *Store) ListExpenses(_ context.Context, groupID int64, f storage.ExpenseFilter) ([]core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.record(groupID)
	if err != nil {
		return nil, err
	}
	return listExpenses(rec.state, f), nil
}

func (s *Store) GetPayment(_ context.Context, groupID, id int64) (core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.record(groupID)
	if err != nil {
		return core.Payment{}, err
	}
	return getPayment(rec.state, id)
}

func (s *Store) ListPayments(_ context.Context, groupID int64) ([]core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.record(groupID)
	if err != nil {
		return nil, err
	}
	return listPayments(rec.state), nil
}

// WithGroup runs fn against a private copy of the group's state and
// publishes the copy only if fn succeeds.
func (s *Store) WithGroup(ctx context.Context, groupID int64, fn func(ctx context.Context, tx storage.GroupTx) error) error {
	s.mu.RLock()
	rec, err := s.record(groupID)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	rec.writer.Lock()
	defer rec.writer.Unlock()

	s.mu.RLock()
	work := rec.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{store: s, state: work}); err != nil {
		return err
	}

	s.mu.Lock()
	rec.state = work
	s.mu.Unlock()
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

type tx struct {
	store *Store
	state *groupState
}

func (t *tx) Group() core.Group { return cloneGroup(t.state.group) }

func (t *tx) SaveGroup(_ context.Context, g core.Group) error {
	g.ID = t.state.group.ID
	t.state.group = cloneGroup(g)
	return nil
}

func (t *tx) id() int64 {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.newID()
}

func (t *tx) InsertExpense(_ context.Context, e core.Expense) (core.Expense, error) {
	e = e.Clone()
	e.ID = t.id()
	e.GroupID = t.state.group.ID
	t.state.expenses[e.ID] = e
	return e.Clone(), nil
}

func (t *tx) GetExpense(_ context.Context, id int64) (core.Expense, error) {
	return getExpense(t.state, id)
}

func (t *tx) UpdateExpense(_ context.Context, e core.Expense) error {
	if _, ok := t.state.expenses[e.ID]; !ok {
		return fmt.Errorf("expense %d: %w", e.ID, storage.ErrNotFound)
	}
	e.GroupID = t.state.group.ID
	t.state.expenses[e.ID] = e.Clone()
	return nil
}

func (t *tx) DeleteExpense(_ context.Context, id int64) error {
	if _, ok := t.state.expenses[id]; !ok {
		return fmt.Errorf("expense %d: %w", id, storage.ErrNotFound)
	}
	delete(t.state.expenses, id)
	return nil
}

func (t *tx) ListExpenses(context.Context) ([]core.Expense, error) {
	return listExpenses(t.state, storage.ExpenseFilter{}), nil
}

func (t *tx) InsertPayment(_ context.Context, p core.Payment) (core.Payment, error) {
	p.ID = t.id()
	p.GroupID = t.state.group.ID
	t.state.payments[p.ID] = p
	return p, nil
}

func (t *tx) GetPayment(_ context.Context, id int64) (core.Payment, error) {
	return getPayment(t.state, id)
}

func (t *tx) UpdatePayment(_ context.Context, p core.Payment) error {
	if _, ok := t.state.payments[p.ID]; !ok {
		return fmt.Errorf("payment %d: %w", p.ID, storage.ErrNotFound)
	}
	p.GroupID = t.state.group.ID
	t.state.payments[p.ID] = p
	return nil
}

func (t *tx) DeletePayment(_ context.Context, id int64) error {
	if _, ok := t.state.payments[id]; !ok {
		return fmt.Errorf("payment %d: %w", id, storage.ErrNotFound)
	}
	delete(t.state.payments, id)
	return nil
}

func (t *tx) ListPayments(context.Context) ([]core.Payment, error) {
	return listPayments(t.state), nil
}

func getExpense(st *groupState, id int64) (core.Expense, error) {
	e, ok := st.expenses[id]
	if !ok {
		return core.Expense{}, fmt.Errorf("expense %d: %w", id, storage.ErrNotFound)
	}
	return e.Clone(), nil
}

func listExpenses(st *groupState, f storage.ExpenseFilter) []core.Expense {
	out := make([]core.Expense, 0, len(st.expenses))
	for _, e := range st.expenses {
		if f.SavedOnly && !e.Saved {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func getPayment(st *groupState, id int64) (core.Payment, error) {
	p, ok := st.payments[id]
	if !ok {
		return core.Payment{}, fmt.Errorf("payment %d: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func listPayments(st *groupState) []core.Payment {
	out := make([]core.Payment, 0, len(st.payments))
	for _, p := range st.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func cloneGroup(g core.Group) core.Group {
	c := g
	c.Members = append([]core.Member(nil), g.Members...)
	c.Balances = g.Balances.Clone()
	return c
}
