package core

import (
	"errors"
	"strings"
	"time"
)

type (
	// Member is a participant of a group.
	Member struct {
		Username string  `json:"username"`
		UPIID    *string `json:"upi_id"`
	}

	// Share is one participant's part of an expense, either as payer or as
	// beneficiary.
	Share struct {
		Username string `json:"username"`
		Amount   Money  `json:"amount"`
	}

	Group struct {
		ID       int64    `json:"id"`
		Name     string   `json:"name"`
		Members  []Member `json:"usernames"`
		Balances Balances `json:"balances"`
		// Version is bumped on every committed change to balances, members or name.
		Version int64 `json:"version"`
	}

	Expense struct {
		ID           int64     `json:"id"`
		GroupID      int64     `json:"group_id"`
		Description  string    `json:"description"`
		Amount       Money     `json:"amount"`
		PaidBy       []Share   `json:"paid_by"`
		Mode         string    `json:"mode,omitempty"`
		PaidFor      []string  `json:"paid_for"`
		ShareDetails []Share   `json:"share_details"`
		Date         time.Time `json:"datetime_transaction"`
		Saved        bool      `json:"is_saved"`
	}

	Payment struct {
		ID       int64     `json:"id"`
		GroupID  int64     `json:"group_id"`
		Amount   Money     `json:"amount"`
		PaidFrom string    `json:"paid_from"`
		PaidTo   string    `json:"paid_to"`
		Date     time.Time `json:"datetime_payment"`
	}

	// Settlement is a suggested transfer: Debtor pays Creditor Amount.
	Settlement struct {
		Creditor string `json:"creditor"`
		Debtor   string `json:"debtor"`
		Amount   Money  `json:"amount"`
	}
)

// DefaultDescription is used for expenses created without a description.
const DefaultDescription = "Unnamed"

// MaxDescriptionLen bounds expense descriptions, in bytes.
const MaxDescriptionLen = 200

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyGroupName     = errors.New("empty group name")
	ErrEmptyUsername      = errors.New("empty username")
	ErrDuplicateUsername  = errors.New("duplicate username")
	ErrUnknownMember      = errors.New("unknown member")
	ErrAmountMismatch     = errors.New("total amount paid or shared does not match the expense amount")
	ErrEmptyShares        = errors.New("paid_by and share_details must not be empty")
	ErrSelfPayment        = errors.New("paid_from and paid_to must differ")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
)

// HasMember reports whether username belongs to the group.
func (g Group) HasMember(username string) bool {
	for _, m := range g.Members {
		if m.Username == username {
			return true
		}
	}
	return false
}

// Usernames returns member identities in membership order.
func (g Group) Usernames() []string {
	out := make([]string, len(g.Members))
	for i, m := range g.Members {
		out[i] = m.Username
	}
	return out
}

// Participants returns every identity an expense touches, payers first.
func (e Expense) Participants() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, s := range e.PaidBy {
		add(s.Username)
	}
	for _, s := range e.ShareDetails {
		add(s.Username)
	}
	for _, u := range e.PaidFor {
		add(u)
	}
	return out
}

// Clone returns a deep copy, so a snapshot survives later edits of the
// original's slices.
func (e Expense) Clone() Expense {
	c := e
	c.PaidBy = append([]Share(nil), e.PaidBy...)
	c.ShareDetails = append([]Share(nil), e.ShareDetails...)
	c.PaidFor = append([]string(nil), e.PaidFor...)
	return c
}

// RenameMember rewrites every reference to from as to.
func (e *Expense) RenameMember(from, to string) bool {
	changed := false
	for i := range e.PaidBy {
		if e.PaidBy[i].Username == from {
			e.PaidBy[i].Username = to
			changed = true
		}
	}
	for i := range e.ShareDetails {
		if e.ShareDetails[i].Username == from {
			e.ShareDetails[i].Username = to
			changed = true
		}
	}
	for i := range e.PaidFor {
		if e.PaidFor[i] == from {
			e.PaidFor[i] = to
			changed = true
		}
	}
	return changed
}

// RenameMember rewrites every reference to from as to.
func (p *Payment) RenameMember(from, to string) bool {
	changed := false
	if p.PaidFrom == from {
		p.PaidFrom = to
		changed = true
	}
	if p.PaidTo == from {
		p.PaidTo = to
		changed = true
	}
	return changed
}

// DeletedMemberName is the placeholder identity historical records get once a
// member leaves the group.
func DeletedMemberName(username string) string {
	return username + " (deleted user)"
}

// NormalizeUsername trims surrounding whitespace.
func NormalizeUsername(s string) string {
	return strings.TrimSpace(s)
}
