package http

import (
	"net/http"

	"settleup/internal/core"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	groupID, _, err := pathIDs(r, "")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	savedOnly, err := parseSavedFilter(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	// Listing an unknown group is a 404, not an empty list.
	if _, err := s.svc.GetGroup(r.Context(), groupID); err != nil {
		s.fail(w, r, "list_expenses", err)
		return
	}
	expenses, err := s.svc.ListExpenses(r.Context(), groupID, savedOnly)
	if err != nil {
		s.fail(w, r, "list_expenses", err)
		return
	}
	if expenses == nil {
		expenses = []core.Expense{}
	}
	NewJSONResponse().Body(expenses).Write(w)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	groupID, _, err := pathIDs(r, "")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	e, err := s.svc.AddExpense(r.Context(), groupID, req.expense())
	if err != nil {
		s.fail(w, r, "create_expense", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(e).Write(w)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	groupID, id, err := pathIDs(r, "expenseID")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	e, err := s.svc.GetExpense(r.Context(), groupID, id)
	if err != nil {
		s.fail(w, r, "get_expense", err)
		return
	}
	NewJSONResponse().Body(e).Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	groupID, id, err := pathIDs(r, "expenseID")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	e, err := s.svc.UpdateExpense(r.Context(), groupID, id, req.patch())
	if err != nil {
		s.fail(w, r, "update_expense", err)
		return
	}
	NewJSONResponse().Body(e).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	groupID, id, err := pathIDs(r, "expenseID")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.svc.DeleteExpense(r.Context(), groupID, id); err != nil {
		s.fail(w, r, "delete_expense", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
