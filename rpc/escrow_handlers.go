package rpc

import (
	"net/http"
	"time"
)

type escrowCreateParams struct {
	WorkOrderID string           `json:"workOrderId"`
	Depositor   string           `json:"depositor"`
	Recipient   string           `json:"recipient"`
	Token       string           `json:"token"`
	Total       string           `json:"total"`
	Milestones  []milestoneParam `json:"milestones"`
	Expiry      int64            `json:"expiry"`
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	workOrderID, err := parseHash(params.WorkOrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	depositor, err := parseAddress(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	recipient, err := parseAddress(params.Recipient)
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
	esc, err := s.svc.Escrows.Create(workOrderID, depositor, recipient, params.Token, total, milestones, params.Expiry)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(esc))
}

type escrowFundParams struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	Amount string `json:"amount"`
}

func (s *Server) handleEscrowFund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowFundParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseHash(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	from, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.svc.Escrows.Fund(id, from, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeEscrow(w, req, id)
}

type escrowMilestoneParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Index  int    `json:"index"`
	Proof  string `json:"proof,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) escrowMilestoneCall(w http.ResponseWriter, req *RPCRequest, call func(p escrowMilestoneParams, id [32]byte, caller [20]byte) error) {
	var params escrowMilestoneParams
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
	if err := call(params, id, caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeEscrow(w, req, id)
}

func (s *Server) handleEscrowSubmitMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.escrowMilestoneCall(w, req, func(p escrowMilestoneParams, id [32]byte, caller [20]byte) error {
		return s.svc.Escrows.SubmitMilestone(id, caller, p.Index, p.Proof)
	})
}

func (s *Server) handleEscrowApproveMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.escrowMilestoneCall(w, req, func(p escrowMilestoneParams, id [32]byte, caller [20]byte) error {
		return s.svc.Escrows.ApproveMilestone(id, caller, p.Index)
	})
}

func (s *Server) handleEscrowRejectMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.escrowMilestoneCall(w, req, func(p escrowMilestoneParams, id [32]byte, caller [20]byte) error {
		return s.svc.Escrows.RejectMilestone(id, caller, p.Index, p.Reason)
	})
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.escrowMilestoneCall(w, req, func(p escrowMilestoneParams, id [32]byte, caller [20]byte) error {
		return s.svc.Escrows.Cancel(id, caller)
	})
}

func (s *Server) handleEscrowTouch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
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
	if err := s.svc.Escrows.Touch(id, time.Now().Unix()); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeEscrow(w, req, id)
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
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
	s.writeEscrow(w, req, id)
}

func (s *Server) writeEscrow(w http.ResponseWriter, req *RPCRequest, id [32]byte) {
	esc, err := s.svc.Escrows.Get(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(esc))
}

func (s *Server) handleEscrowList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
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
		ids, err = s.svc.State.EscrowIDsByParty(party)
	} else {
		ids, err = s.svc.State.EscrowIDs()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	out := make([]*escrowJSON, 0, len(ids))
	for _, id := range ids {
		if esc, ok := s.svc.State.EscrowGet(id); ok {
			out = append(out, escrowToJSON(esc))
		}
	}
	writeResult(w, req.ID, out)
}
