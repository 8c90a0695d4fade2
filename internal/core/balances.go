package core

import "sort"

// Balances maps a participant to a signed amount: positive means the
// participant is owed money, negative means they owe. A missing key is a zero
// balance.
type Balances map[string]Money

// NewBalances returns an all-zero mapping for the given identities.
func NewBalances(usernames ...string) Balances {
	b := make(Balances, len(usernames))
	for _, u := range usernames {
		b[u] = Money{}
	}
	return b
}

// Get reads a balance, defaulting to zero for unknown identities.
func (b Balances) Get(username string) Money {
	return b[username]
}

// Clone returns an independent copy. Cloning a nil mapping yields an empty,
// writable one.
func (b Balances) Clone() Balances {
	c := make(Balances, len(b))
	for k, v := range b {
		c[k] = v
	}
	return c
}

// Total returns the sum of all balances; zero for a consistent group.
func (b Balances) Total() Money {
	var t Money
	for _, v := range b {
		t = t.Add(v)
	}
	return t
}

// Usernames returns the keys in lexicographic order.
func (b Balances) Usernames() []string {
	out := make([]string, 0, len(b))
	for k := range b {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both mappings hold the same balances, treating
// missing keys as zero.
func (b Balances) Equal(o Balances) bool {
	for k, v := range b {
		if o.Get(k) != v {
			return false
		}
	}
	for k, v := range o {
		if b.Get(k) != v {
			return false
		}
	}
	return true
}
