package core

import (
	"fmt"
	"strings"
)

// ValidateMembers checks a member list for empty and duplicate usernames.
func ValidateMembers(members []Member) error {
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if strings.TrimSpace(m.Username) == "" {
			return ErrEmptyUsername
		}
		if _, ok := seen[m.Username]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateUsername, m.Username)
		}
		seen[m.Username] = struct{}{}
	}
	return nil
}

// ValidateGroup checks a group before creation.
func ValidateGroup(g Group) error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyGroupName
	}
	return ValidateMembers(g.Members)
}

// ValidateExpense enforces the contract the ledger relies on: every
// identity belongs to the group, the amount is positive and
// sum(paid_by) == sum(share_details) == amount, exact in cents.
func ValidateExpense(g Group, e Expense) error {
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if len(e.PaidBy) == 0 || len(e.ShareDetails) == 0 {
		return ErrEmptyShares
	}
	for _, u := range e.Participants() {
		if !g.HasMember(u) {
			return fmt.Errorf("%w: %s", ErrUnknownMember, u)
		}
	}
	var paid, owed Money
	for _, s := range e.PaidBy {
		if s.Amount.IsNegative() || s.Amount.Cents > MaxAmountCents {
			return fmt.Errorf("paid_by %s: %w", s.Username, ErrInvalidAmount)
		}
		paid = paid.Add(s.Amount)
	}
	for _, s := range e.ShareDetails {
		if s.Amount.IsNegative() || s.Amount.Cents > MaxAmountCents {
			return fmt.Errorf("share_details %s: %w", s.Username, ErrInvalidAmount)
		}
		owed = owed.Add(s.Amount)
	}
	if paid != e.Amount || owed != e.Amount {
		return fmt.Errorf("%w (amount=%s paid=%s shared=%s)", ErrAmountMismatch, e.Amount, paid, owed)
	}
	if len(e.Description) > MaxDescriptionLen {
		return ErrDescriptionTooLong
	}
	return nil
}

// ValidatePayment checks a direct transfer between two group members.
func ValidatePayment(g Group, p Payment) error {
	if err := p.Amount.Validate(); err != nil {
		return err
	}
	for _, u := range []string{p.PaidFrom, p.PaidTo} {
		if !g.HasMember(u) {
			return fmt.Errorf("%w: %s", ErrUnknownMember, u)
		}
	}
	if p.PaidFrom == p.PaidTo {
		return ErrSelfPayment
	}
	return nil
}
