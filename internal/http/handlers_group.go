package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"settleup/internal/core"
)

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	g, err := s.svc.CreateGroup(r.Context(), sanitizeInput(req.Name), req.members())
	if err != nil {
		s.fail(w, r, "create_group", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(g).Write(w)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	g, err := s.svc.GetGroup(r.Context(), id)
	if err != nil {
		s.fail(w, r, "get_group", err)
		return
	}
	NewJSONResponse().Body(g).Write(w)
}

func (s *Server) handleRenameGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	var req renameGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	g, err := s.svc.RenameGroup(r.Context(), id, sanitizeInput(req.Name))
	if err != nil {
		s.fail(w, r, "rename_group", err)
		return
	}
	NewJSONResponse().Body(g).Write(w)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	var req memberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	g, err := s.svc.AddMember(r.Context(), id, req.member())
	if err != nil {
		s.fail(w, r, "add_member", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(g).Write(w)
}

func (s *Server) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	var req updateMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	username := core.NormalizeUsername(mux.Vars(r)["username"])
	g, err := s.svc.UpdateMember(r.Context(), id, username, req.update())
	if err != nil {
		s.fail(w, r, "update_member", err)
		return
	}
	NewJSONResponse().Body(g).Write(w)
}

func (s *Server) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	username := core.NormalizeUsername(mux.Vars(r)["username"])
	g, err := s.svc.DeleteMember(r.Context(), id, username)
	if err != nil {
		s.fail(w, r, "delete_member", err)
		return
	}
	NewJSONResponse().Body(g).Write(w)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	g, err := s.svc.GetGroup(r.Context(), id)
	if err != nil {
		s.fail(w, r, "balances", err)
		return
	}
	NewJSONResponse().Body(g.Balances).Write(w)
}

// report loads the group and serves its report from the cache, keyed by
// the group version it was built from.
func (s *Server) report(w http.ResponseWriter, r *http.Request, op string) (core.GroupReport, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return core.GroupReport{}, false
	}
	g, err := s.svc.GetGroup(r.Context(), id)
	if err != nil {
		s.fail(w, r, op, err)
		return core.GroupReport{}, false
	}
	rep, err := s.reports.Get(r.Context(), g, s.svc.Report)
	if err != nil {
		s.fail(w, r, op, err)
		return core.GroupReport{}, false
	}
	return rep, true
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r, "settlements")
	if !ok {
		return
	}
	out := rep.Settlements
	if out == nil {
		out = []core.Settlement{}
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleExpenditure(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r, "expenditure")
	if !ok {
		return
	}
	out := make(map[string]core.Money, len(rep.Expenditure))
	for _, e := range rep.Expenditure {
		out[e.Username] = e.Amount
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleTotalExpenditure(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r, "total_expenditure")
	if !ok {
		return
	}
	NewJSONResponse().Body(map[string]core.Money{"total_expenditure": rep.TotalExpenditure}).Write(w)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r, "report")
	if !ok {
		return
	}
	NewJSONResponse().Body(rep).Write(w)
}
