package services

import (
	"context"
	"time"

	"settleup/internal/amqp"
	"settleup/internal/core"
	"settleup/internal/ledger"
	"settleup/internal/log"
	"settleup/internal/storage"
)

// PaymentPatch is a partial payment edit. Nil fields keep the stored value.
type PaymentPatch struct {
	Amount   *core.Money
	PaidFrom *string
	PaidTo   *string
	Date     *time.Time
}

func (p PaymentPatch) Apply(pay core.Payment) core.Payment {
	if p.Amount != nil {
		pay.Amount = *p.Amount
	}
	if p.PaidFrom != nil {
		pay.PaidFrom = core.NormalizeUsername(*p.PaidFrom)
	}
	if p.PaidTo != nil {
		pay.PaidTo = core.NormalizeUsername(*p.PaidTo)
	}
	if p.Date != nil {
		pay.Date = *p.Date
	}
	return pay
}

// AddPayment records a direct transfer from PaidFrom to PaidTo.
func (s *GroupService) AddPayment(ctx context.Context, groupID int64, p core.Payment) (core.Payment, error) {
	p.PaidFrom = core.NormalizeUsername(p.PaidFrom)
	p.PaidTo = core.NormalizeUsername(p.PaidTo)
	if p.Date.IsZero() {
		p.Date = time.Now().UTC()
	}

	var (
		out core.Payment
		g   core.Group
	)
	err := s.store.WithGroup(ctx, groupID, func(ctx context.Context, tx storage.GroupTx) error {
		g = tx.Group()
		if err := core.ValidatePayment(g, p); err != nil {
			return err
		}
		inserted, err := tx.InsertPayment(ctx, p)
		if err != nil {
			return err
		}
		g.Balances = ledger.ApplyPayment(g.Balances, ledger.OpAdd, inserted, nil)
		g.Version++
		if err := tx.SaveGroup(ctx, g); err != nil {
			return err
		}
		out = inserted
		return nil
	})
	if err != nil {
		return core.Payment{}, err
	}

	s.events.LogLedgerEvent(ctx, log.OpCreate, g.ID, g.Version, log.NewFields().WithPayment(out.ID, out.Amount.Cents))
	s.publish(ctx, g, amqp.ReasonPaymentAdded)
	return out, nil
}

// UpdatePayment edits a payment, fully reversing the stored version first.
func (s *GroupService) UpdatePayment(ctx context.Context, groupID, id int64, patch PaymentPatch) (core.Payment, error) {
	var (
		out core.Payment
		g   core.Group
	)
	err := s.store.WithGroup(ctx, groupID, func(ctx context.Context, tx storage.GroupTx) error {
		prev, err := tx.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		next := patch.Apply(prev)

		g = tx.Group()
		if err := core.ValidatePayment(g, next); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, next); err != nil {
			return err
		}
		g.Balances = ledger.ApplyPayment(g.Balances, ledger.OpUpdate, next, &prev)
		g.Version++
		if err := tx.SaveGroup(ctx, g); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return core.Payment{}, err
	}

	s.events.LogLedgerEvent(ctx, log.OpUpdate, g.ID, g.Version, log.NewFields().WithPayment(out.ID, out.Amount.Cents))
	s.publish(ctx, g, amqp.ReasonPaymentUpdated)
	return out, nil
}

// DeletePayment removes a payment and reverses its effect.
func (s *GroupService) DeletePayment(ctx context.Context, groupID, id int64) error {
	var (
		g    core.Group
		prev core.Payment
	)
	err := s.store.WithGroup(ctx, groupID, func(ctx context.Context, tx storage.GroupTx) error {
		var err error
		prev, err = tx.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeletePayment(ctx, id); err != nil {
			return err
		}
		g = tx.Group()
		g.Balances = ledger.ApplyPayment(g.Balances, ledger.OpDelete, prev, nil)
		g.Version++
		return tx.SaveGroup(ctx, g)
	})
	if err != nil {
		return err
	}

	s.events.LogLedgerEvent(ctx, log.OpDelete, g.ID, g.Version, log.NewFields().WithPayment(prev.ID, prev.Amount.Cents))
	s.publish(ctx, g, amqp.ReasonPaymentDeleted)
	return nil
}

func (s *GroupService) GetPayment(ctx context.Context, groupID, id int64) (core.Payment, error) {
	return s.store.GetPayment(ctx, groupID, id)
}

func (s *GroupService) ListPayments(ctx context.Context, groupID int64) ([]core.Payment, error) {
	return s.store.ListPayments(ctx, groupID)
}
