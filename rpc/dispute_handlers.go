package rpc

import (
	"math/big"
	"net/http"
	"time"
)

type disputeOpenParams struct {
	EscrowID string   `json:"escrowId"`
	Filer    string   `json:"filer"`
	Reason   string   `json:"reason"`
	Evidence []string `json:"evidence,omitempty"`
}

func (s *Server) handleDisputeOpen(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params disputeOpenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	escrowID, err := parseHash(params.EscrowID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	filer, err := parseAddress(params.Filer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	d, err := s.svc.Disputes.Open(escrowID, filer, params.Reason, params.Evidence)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, disputeToJSON(d))
}

type disputeRespondParams struct {
	ID              string   `json:"id"`
	Caller          string   `json:"caller"`
	Statement       string   `json:"statement"`
	CounterEvidence []string `json:"counterEvidence,omitempty"`
}

func (s *Server) handleDisputeRespond(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params disputeRespondParams
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
	if err := s.svc.Disputes.Respond(id, caller, params.Statement, params.CounterEvidence); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeDispute(w, req, id)
}

type disputeSplitParams struct {
	ID          string `json:"id"`
	Caller      string `json:"caller"`
	ToRecipient string `json:"toRecipient"`
	ToDepositor string `json:"toDepositor"`
}

func (s *Server) disputeSplitCall(w http.ResponseWriter, req *RPCRequest, call func(id [32]byte, caller [20]byte, toRecipient, toDepositor *big.Int) error) {
	var params disputeSplitParams
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
	toRecipient, err := parseAmount(params.ToRecipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	toDepositor, err := parseAmount(params.ToDepositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := call(id, caller, toRecipient, toDepositor); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeDispute(w, req, id)
}

func (s *Server) handleDisputePropose(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.disputeSplitCall(w, req, s.svc.Disputes.ProposeResolution)
}

func (s *Server) handleDisputeResolve(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.disputeSplitCall(w, req, s.svc.Disputes.Resolve)
}

func (s *Server) handleDisputeTryTimeout(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
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
	if err := s.svc.Disputes.TryTimeout(id, time.Now().Unix()); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeDispute(w, req, id)
}

func (s *Server) handleDisputeGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
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
	s.writeDispute(w, req, id)
}

func (s *Server) writeDispute(w http.ResponseWriter, req *RPCRequest, id [32]byte) {
	d, err := s.svc.Disputes.Get(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, disputeToJSON(d))
}

func (s *Server) handleDisputeList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
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
		ids, err = s.svc.State.DisputeIDsByParty(party)
	} else {
		ids, err = s.svc.State.DisputeIDs()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	out := make([]*disputeJSON, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.svc.State.DisputeGet(id); ok {
			out = append(out, disputeToJSON(d))
		}
	}
	writeResult(w, req.ID, out)
}
