// Package http provides HTTP server and handler implementations.
//
// This file implements request decoding: JSON bodies, path parameters and
// the request shapes accepted by the API.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"settleup/internal/core"
	"settleup/internal/services"
)

const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads a single JSON value from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

// pathID parses a numeric path variable.
func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// pathIDs parses the group id and, when name is set, a second record id.
func pathIDs(r *http.Request, name string) (groupID, id int64, err error) {
	if groupID, err = pathID(r, "id"); err != nil {
		return 0, 0, err
	}
	if name == "" {
		return groupID, 0, nil
	}
	id, err = pathID(r, name)
	return groupID, id, err
}

// parseSavedFilter reads the optional ?saved= query flag.
func parseSavedFilter(r *http.Request) (bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get("saved"))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid saved filter %q", v)
	}
	return b, nil
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp accepts RFC 3339 and the zone-less ISO forms clients commonly
// send. Zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func (t *Timestamp) ptr() *time.Time {
	if t == nil {
		return nil
	}
	v := t.Time
	return &v
}

type memberRequest struct {
	Username string  `json:"username"`
	UPIID    *string `json:"upi_id"`
}

func (m memberRequest) member() core.Member {
	return core.Member{Username: sanitizeInput(m.Username), UPIID: m.UPIID}
}

type createGroupRequest struct {
	Name      string          `json:"name"`
	Usernames []memberRequest `json:"usernames"`
}

func (req createGroupRequest) members() []core.Member {
	out := make([]core.Member, 0, len(req.Usernames))
	for _, m := range req.Usernames {
		out = append(out, m.member())
	}
	return out
}

type renameGroupRequest struct {
	Name string `json:"name"`
}

type updateMemberRequest struct {
	NewUsername *string `json:"new_username"`
	NewUPIID    *string `json:"new_upi_id"`
}

func (req updateMemberRequest) update() services.MemberUpdate {
	upd := services.MemberUpdate{UPIID: req.NewUPIID}
	if req.NewUsername != nil {
		name := sanitizeInput(*req.NewUsername)
		upd.NewUsername = &name
	}
	return upd
}

// expenseRequest is the body of expense creation and edits. On edits, absent
// fields keep the stored value.
type expenseRequest struct {
	Description  *string      `json:"description"`
	Amount       *core.Money  `json:"amount"`
	PaidBy       []core.Share `json:"paid_by"`
	Mode         *string      `json:"mode"`
	PaidFor      []string     `json:"paid_for"`
	ShareDetails []core.Share `json:"share_details"`
	Date         *Timestamp   `json:"datetime_transaction"`
	Saved        *bool        `json:"is_saved"`
}

func (req expenseRequest) expense() core.Expense {
	e := core.Expense{
		PaidBy:       req.PaidBy,
		PaidFor:      req.PaidFor,
		ShareDetails: req.ShareDetails,
	}
	if req.Description != nil {
		e.Description = sanitizeInput(*req.Description)
	}
	if req.Amount != nil {
		e.Amount = *req.Amount
	}
	if req.Mode != nil {
		e.Mode = sanitizeInput(*req.Mode)
	}
	if req.Date != nil {
		e.Date = req.Date.Time
	}
	if req.Saved != nil {
		e.Saved = *req.Saved
	}
	return e
}

func (req expenseRequest) patch() services.ExpensePatch {
	p := services.ExpensePatch{
		Amount:       req.Amount,
		PaidBy:       req.PaidBy,
		PaidFor:      req.PaidFor,
		ShareDetails: req.ShareDetails,
		Date:         req.Date.ptr(),
		Saved:        req.Saved,
	}
	if req.Description != nil {
		d := sanitizeInput(*req.Description)
		p.Description = &d
	}
	if req.Mode != nil {
		m := sanitizeInput(*req.Mode)
		p.Mode = &m
	}
	return p
}

type paymentRequest struct {
	Amount   *core.Money `json:"amount"`
	PaidFrom *string     `json:"paid_from"`
	PaidTo   *string     `json:"paid_to"`
	Date     *Timestamp  `json:"datetime_payment"`
}

func (req paymentRequest) payment() core.Payment {
	var p core.Payment
	if req.Amount != nil {
		p.Amount = *req.Amount
	}
	if req.PaidFrom != nil {
		p.PaidFrom = sanitizeInput(*req.PaidFrom)
	}
	if req.PaidTo != nil {
		p.PaidTo = sanitizeInput(*req.PaidTo)
	}
	if req.Date != nil {
		p.Date = req.Date.Time
	}
	return p
}

func (req paymentRequest) patch() services.PaymentPatch {
	return services.PaymentPatch{
		Amount:   req.Amount,
		PaidFrom: req.PaidFrom,
		PaidTo:   req.PaidTo,
		Date:     req.Date.ptr(),
	}
}
