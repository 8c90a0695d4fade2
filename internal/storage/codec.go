package storage

import (
	"encoding/json"
	"fmt"

	"settleup/internal/core"
)

// Column encodings shared by the SQL backends. Amounts are stored as integer
// cents so that no decimal rounding happens between the database and the
// ledger.

type shareRow struct {
	Username    string `json:"username"`
	AmountCents int64  `json:"amount_cents"`
}

type memberRow struct {
	Username string  `json:"username"`
	UPIID    *string `json:"upi_id,omitempty"`
}

func EncodeShares(shares []core.Share) ([]byte, error) {
	rows := make([]shareRow, len(shares))
	for i, s := range shares {
		rows[i] = shareRow{Username: s.Username, AmountCents: s.Amount.Cents}
	}
	return json.Marshal(rows)
}

func DecodeShares(data []byte) ([]core.Share, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rows []shareRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode shares: %w", err)
	}
	out := make([]core.Share, len(rows))
	for i, r := range rows {
		out[i] = core.Share{Username: r.Username, Amount: core.Cents(r.AmountCents)}
	}
	return out, nil
}

func EncodeBalances(b core.Balances) ([]byte, error) {
	rows := make(map[string]int64, len(b))
	for k, v := range b {
		rows[k] = v.Cents
	}
	return json.Marshal(rows)
}

func DecodeBalances(data []byte) (core.Balances, error) {
	b := core.Balances{}
	if len(data) == 0 {
		return b, nil
	}
	var rows map[string]int64
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}
	for k, v := range rows {
		b[k] = core.Cents(v)
	}
	return b, nil
}

func EncodeMembers(members []core.Member) ([]byte, error) {
	rows := make([]memberRow, len(members))
	for i, m := range members {
		rows[i] = memberRow{Username: m.Username, UPIID: m.UPIID}
	}
	return json.Marshal(rows)
}

func DecodeMembers(data []byte) ([]core.Member, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rows []memberRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	out := make([]core.Member, len(rows))
	for i, r := range rows {
		out[i] = core.Member{Username: r.Username, UPIID: r.UPIID}
	}
	return out, nil
}

func EncodeStrings(ss []string) ([]byte, error) {
	if ss == nil {
		ss = []string{}
	}
	return json.Marshal(ss)
}

func DecodeStrings(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode strings: %w", err)
	}
	return out, nil
}
