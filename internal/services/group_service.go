// Package services orchestrates ledger mutations: validate against the
// group, lock the group, apply the ledger, persist, then announce the new
// version.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"settleup/internal/amqp"
	"settleup/internal/core"
	"settleup/internal/log"
	"settleup/internal/storage"
)

var (
	ErrMemberExists     = errors.New("username already exists")
	ErrMemberNotFound   = errors.New("username not found")
	ErrMemberHasBalance = errors.New("member can only be removed once their balance is settled")
	ErrEmptyUpdate      = errors.New("nothing to update")
)

// Publisher announces committed group changes. Implemented by *amqp.Client.
type Publisher interface {
	PublishGroupChanged(ctx context.Context, groupID, version int64, reason string) error
}

type GroupService struct {
	store     storage.Store
	publisher Publisher
	logger    *log.Logger
	events    *log.StructuredLogger
}

// NewGroupService wires a service over store. publisher and logger may be
// nil.
func NewGroupService(store storage.Store, publisher Publisher, logger *log.Logger) *GroupService {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	logger = logger.WithComponent(log.ComponentLedger)
	return &GroupService{
		store:     store,
		publisher: publisher,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
	}
}

func (s *GroupService) CreateGroup(ctx context.Context, name string, members []core.Member) (core.Group, error) {
	g := core.Group{Name: strings.TrimSpace(name)}
	for _, m := range members {
		m.Username = core.NormalizeUsername(m.Username)
		g.Members = append(g.Members, m)
	}
	if err := core.ValidateGroup(g); err != nil {
		return core.Group{}, err
	}
	g.Balances = core.NewBalances(g.Usernames()...)

	created, err := s.store.CreateGroup(ctx, g)
	if err != nil {
		return core.Group{}, fmt.Errorf("create group: %w", err)
	}
	s.events.LogLedgerEvent(ctx, log.OpCreate, created.ID, created.Version, nil)
	return created, nil
}

func (s *GroupService) GetGroup(ctx context.Context, id int64) (core.Group, error) {
	return s.store.GetGroup(ctx, id)
}

func (s *GroupService) RenameGroup(ctx context.Context, id int64, name string) (core.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Group{}, core.ErrEmptyGroupName
	}
	var out core.Group
	err := s.store.WithGroup(ctx, id, func(ctx context.Context, tx storage.GroupTx) error {
		g := tx.Group()
		g.Name = name
		g.Version++
		if err := tx.SaveGroup(ctx, g); err != nil {
			return err
		}
		out = g
		return nil
	})
	if err != nil {
		return core.Group{}, err
	}
	s.events.LogLedgerEvent(ctx, log.OpUpdate, out.ID, out.Version, nil)
	s.publish(ctx, out, amqp.ReasonGroupRenamed)
	return out, nil
}

// AddMember appends a member with a zero balance.
func (s *GroupService) AddMember(ctx context.Context, id int64, m core.Member) (core.Group, error) {
	m.Username = core.NormalizeUsername(m.Username)
	if m.Username == "" {
		return core.Group{}, core.ErrEmptyUsername
	}

	var out core.Group
	err := s.store.WithGroup(ctx, id, func(ctx context.Context, tx storage.GroupTx) error {
		g := tx.Group()
		if g.HasMember(m.Username) {
			return fmt.Errorf("%q: %w", m.Username, ErrMemberExists)
		}
		g.Members = append(g.Members, m)
		g.Balances[m.Username] = core.Money{}
		g.Version++
		if err := tx.SaveGroup(ctx, g); err != nil {
			return err
		}
		out = g
		return nil
	})
	if err != nil {
		return core.Group{}, err
	}
	s.publish(ctx, out, amqp.ReasonMembersChanged)
	return out, nil
}

// MemberUpdate carries the optional fields of a member edit.
type MemberUpdate struct {
	NewUsername *string
	UPIID       *string
}

// UpdateMember renames a member and/or sets their payment handle. A rename
// moves the balance to the new key and rewrites every expense and payment
// that mentions the old name.
func (s *GroupService) UpdateMember(ctx context.Context, id int64, username string, upd MemberUpdate) (core.Group, error) {
	var newName string
	if upd.NewUsername != nil {
		newName = core.NormalizeUsername(*upd.NewUsername)
	}
	if newName == "" && upd.UPIID == nil {
		return core.Group{}, ErrEmptyUpdate
	}

	var out core.Group
	err := s.store.WithGroup(ctx, id, func(ctx context.Context, tx storage.GroupTx) error {
		g := tx.Group()
		idx := memberIndex(g, username)
		if idx < 0 {
			return fmt.Errorf("%q: %w", username, ErrMemberNotFound)
		}
		if upd.UPIID != nil {
			upi := *upd.UPIID
			g.Members[idx].UPIID = &upi
		}

		if newName != "" && newName != username {
			if g.HasMember(newName) {
				return fmt.Errorf("%q: %w", newName, ErrMemberExists)
			}
			g.Members[idx].Username = newName
			g.Balances[newName] = g.Balances.Get(username)
			delete(g.Balances, username)
			if err := rewriteHistory(ctx, tx, username, newName); err != nil {
				return err
			}
			g.Version++
		}

		if err := tx.SaveGroup(ctx, g); err != nil {
			return err
		}
		out = g
		return nil
	})
	if err != nil {
		return core.Group{}, err
	}
	s.publish(ctx, out, amqp.ReasonMembersChanged)
	return out, nil
}

// DeleteMember removes a member whose balance is zero. Their name in past
// records is replaced with core.DeletedMemberName.
func (s *GroupService) DeleteMember(ctx context.Context, id int64, username string) (core.Group, error) {
	var out core.Group
	err := s.store.WithGroup(ctx, id, func(ctx context.Context, tx storage.GroupTx) error {
		g := tx.Group()
		idx := memberIndex(g, username)
		if idx < 0 {
			return fmt.Errorf("%q: %w", username, ErrMemberNotFound)
		}
		if !g.Balances.Get(username).IsZero() {
			return fmt.Errorf("%q owes or is owed %s: %w", username, g.Balances.Get(username), ErrMemberHasBalance)
		}

		g.Members = append(g.Members[:idx], g.Members[idx+1:]...)
		delete(g.Balances, username)
		if err := rewriteHistory(ctx, tx, username, core.DeletedMemberName(username)); err != nil {
			return err
		}
		g.Version++
		if err := tx.SaveGroup(ctx, g); err != nil {
			return err
		}
		out = g
		return nil
	})
	if err != nil {
		return core.Group{}, err
	}
	s.publish(ctx, out, amqp.ReasonMembersChanged)
	return out, nil
}

func rewriteHistory(ctx context.Context, tx storage.GroupTx, from, to string) error {
	expenses, err := tx.ListExpenses(ctx)
	if err != nil {
		return err
	}
	for _, e := range expenses {
		if e.RenameMember(from, to) {
			if err := tx.UpdateExpense(ctx, e); err != nil {
				return err
			}
		}
	}

	payments, err := tx.ListPayments(ctx)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if p.RenameMember(from, to) {
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func memberIndex(g core.Group, username string) int {
	for i, m := range g.Members {
		if m.Username == username {
			return i
		}
	}
	return -1
}

// publish is best effort: the mutation is already committed.
func (s *GroupService) publish(ctx context.Context, g core.Group, reason string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishGroupChanged(ctx, g.ID, g.Version, reason); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish group change",
			log.FieldGroupID, g.ID,
			log.FieldVersion, g.Version,
			log.FieldError, err)
	}
}

// Close releases the store and the publisher when it holds resources.
func (s *GroupService) Close() error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if c, ok := s.publisher.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	return errors.Join(errs...)
}
