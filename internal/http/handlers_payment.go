package http

import (
	"net/http"

	"settleup/internal/core"
)

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	groupID, _, err := pathIDs(r, "")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if _, err := s.svc.GetGroup(r.Context(), groupID); err != nil {
		s.fail(w, r, "list_payments", err)
		return
	}
	payments, err := s.svc.ListPayments(r.Context(), groupID)
	if err != nil {
		s.fail(w, r, "list_payments", err)
		return
	}
	if payments == nil {
		payments = []core.Payment{}
	}
	NewJSONResponse().Body(payments).Write(w)
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	groupID, _, err := pathIDs(r, "")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	p, err := s.svc.AddPayment(r.Context(), groupID, req.payment())
	if err != nil {
		s.fail(w, r, "create_payment", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(p).Write(w)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	groupID, id, err := pathIDs(r, "paymentID")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	p, err := s.svc.GetPayment(r.Context(), groupID, id)
	if err != nil {
		s.fail(w, r, "get_payment", err)
		return
	}
	NewJSONResponse().Body(p).Write(w)
}

func (s *Server) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	groupID, id, err := pathIDs(r, "paymentID")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	p, err := s.svc.UpdatePayment(r.Context(), groupID, id, req.patch())
	if err != nil {
		s.fail(w, r, "update_payment", err)
		return
	}
	NewJSONResponse().Body(p).Write(w)
}

func (s *Server) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	groupID, id, err := pathIDs(r, "paymentID")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.svc.DeletePayment(r.Context(), groupID, id); err != nil {
		s.fail(w, r, "delete_payment", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
