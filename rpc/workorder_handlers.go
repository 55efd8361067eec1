package rpc

import (
	"math/big"
	"net/http"

	"gavel/native/workorder"
)

type milestoneParam struct {
	Title  string `json:"title"`
	Amount string `json:"amount"`
	DueAt  int64  `json:"dueAt"`
}

func parseMilestones(params []milestoneParam) ([]*workorder.Milestone, error) {
	out := make([]*workorder.Milestone, 0, len(params))
	for _, p := range params {
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, &workorder.Milestone{Title: p.Title, Amount: amount, DueAt: p.DueAt})
	}
	return out, nil
}

type workOrderCreateParams struct {
	Requester  string           `json:"requester"`
	Token      string           `json:"token"`
	Total      string           `json:"total"`
	Deadline   int64            `json:"deadline"`
	Milestones []milestoneParam `json:"milestones"`
	Nonce      string           `json:"nonce"`
}

func (s *Server) handleWorkOrderCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params workOrderCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	requester, err := parseAddress(params.Requester)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	total, err := parseAmount(params.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	milestones, err := parseMilestones(params.Milestones)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	nonce, err := parseHash(params.Nonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	order, err := s.svc.WorkOrders.Create(requester, params.Token, total, params.Deadline, milestones, nonce)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, workOrderToJSON(order))
}

type workOrderAmendParams struct {
	ID         string           `json:"id"`
	Caller     string           `json:"caller"`
	Total      string           `json:"total"`
	Deadline   int64            `json:"deadline"`
	Milestones []milestoneParam `json:"milestones"`
}

func (s *Server) handleWorkOrderAmend(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params workOrderAmendParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseHash(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var total *big.Int
	if params.Total != "" {
		if total, err = parseAmount(params.Total); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	milestones, err := parseMilestones(params.Milestones)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	order, err := s.svc.WorkOrders.Amend(id, caller, total, params.Deadline, milestones)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, workOrderToJSON(order))
}

type workOrderAssignParams struct {
	ID       string `json:"id"`
	Caller   string `json:"caller"`
	Provider string `json:"provider"`
}

func (s *Server) handleWorkOrderAssign(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params workOrderAssignParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseHash(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	provider, err := parseAddress(params.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.svc.WorkOrders.Assign(id, caller, provider); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type workOrderActionParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

func (s *Server) workOrderAction(w http.ResponseWriter, req *RPCRequest, action func(id [32]byte, caller [20]byte) error) {
	var params workOrderActionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseHash(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := action(id, caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleWorkOrderStart(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.workOrderAction(w, req, s.svc.WorkOrders.Start)
}

func (s *Server) handleWorkOrderSubmit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.workOrderAction(w, req, s.svc.WorkOrders.SubmitForReview)
}

func (s *Server) handleWorkOrderCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.workOrderAction(w, req, s.svc.WorkOrders.Cancel)
}

type getParams struct {
	ID string `json:"id"`
}

func (s *Server) handleWorkOrderGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params getParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseHash(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	order, err := s.svc.WorkOrders.Get(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, workOrderToJSON(order))
}

type listParams struct {
	Party string `json:"party,omitempty"`
	Owner string `json:"owner,omitempty"`
}

func (s *Server) handleWorkOrderList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params listParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	var (
		ids [][32]byte
		err error
	)
	if params.Party != "" {
		var party [20]byte
		if party, err = parseAddress(params.Party); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		ids, err = s.svc.State.WorkOrderIDsByParty(party)
	} else {
		ids, err = s.svc.State.WorkOrderIDs()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	out := make([]*workOrderJSON, 0, len(ids))
	for _, id := range ids {
		if order, ok := s.svc.State.WorkOrderGet(id); ok {
			out = append(out, workOrderToJSON(order))
		}
	}
	writeResult(w, req.ID, out)
}
