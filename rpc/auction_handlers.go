package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"gavel/native/auction"
)

func parseMechanism(value string) (auction.Mechanism, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ascending":
		return auction.MechanismAscending, nil
	case "descending":
		return auction.MechanismDescending, nil
	case "sealed_bid", "sealed":
		return auction.MechanismSealedBid, nil
	default:
		return 0, fmt.Errorf("unknown mechanism %q", value)
	}
}

type auctionCreateParams struct {
	WorkOrderID    string `json:"workOrderId"`
	Owner          string `json:"owner"`
	Token          string `json:"token"`
	Mechanism      string `json:"mechanism"`
	StartPrice     string `json:"startPrice"`
	ReservePrice   string `json:"reservePrice"`
	MinStep        string `json:"minStep,omitempty"`
	InstantBuy     string `json:"instantBuy,omitempty"`
	StartTime      int64  `json:"startTime"`
	EndTime        int64  `json:"endTime"`
	RevealWindow   int64  `json:"revealWindow,omitempty"`
	SnipeWindow    int64  `json:"snipeWindow,omitempty"`
	SnipeExtension int64  `json:"snipeExtension,omitempty"`
	MaxExtensions  uint32 `json:"maxExtensions,omitempty"`
	Nonce          string `json:"nonce"`
}

func (s *Server) handleAuctionCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params auctionCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	workOrderID, err := parseHash(params.WorkOrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	mechanism, err := parseMechanism(params.Mechanism)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	startPrice, err := parseAmount(params.StartPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	reservePrice, err := parseAmount(params.ReservePrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var minStep, instantBuy *big.Int
	if params.MinStep != "" {
		if minStep, err = parseAmount(params.MinStep); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	if params.InstantBuy != "" {
		if instantBuy, err = parseAmount(params.InstantBuy); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	nonce, err := parseHash(params.Nonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	def := &auction.Auction{
		WorkOrderID:    workOrderID,
		Owner:          owner,
		Token:          params.Token,
		Mechanism:      mechanism,
		StartPrice:     startPrice,
		ReservePrice:   reservePrice,
		MinStep:        minStep,
		InstantBuy:     instantBuy,
		StartTime:      params.StartTime,
		EndTime:        params.EndTime,
		RevealWindow:   params.RevealWindow,
		SnipeWindow:    params.SnipeWindow,
		SnipeExtension: params.SnipeExtension,
		MaxExtensions:  params.MaxExtensions,
	}
	created, err := s.svc.Auctions.Create(def, nonce)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, auctionToJSON(created))
}

type auctionBidParams struct {
	ID     string `json:"id"`
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
}

func (s *Server) handleAuctionBid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params auctionBidParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseHash(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	bidder, err := parseAddress(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.svc.Auctions.PlaceBid(id, bidder, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeAuction(w, req, id)
}

type auctionCommitParams struct {
	ID     string `json:"id"`
	Bidder string `json:"bidder"`
	Hash   string `json:"hash"`
}

func (s *Server) handleAuctionCommit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params auctionCommitParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseHash(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	bidder, err := parseAddress(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	hash, err := parseHash(params.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.svc.Auctions.CommitBid(id, bidder, hash); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeAuction(w, req, id)
}

type auctionRevealParams struct {
	ID     string `json:"id"`
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
	Nonce  string `json:"nonce"`
}

func (s *Server) handleAuctionReveal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params auctionRevealParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseHash(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	bidder, err := parseAddress(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	nonce, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(params.Nonce), "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("invalid nonce: %v", err), nil)
		return
	}
	if err := s.svc.Auctions.RevealBid(id, bidder, amount, nonce); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeAuction(w, req, id)
}

func (s *Server) handleAuctionClose(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.auctionMaintenance(w, req, s.svc.Auctions.Close)
}

func (s *Server) handleAuctionTouch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.auctionMaintenance(w, req, s.svc.Auctions.Touch)
}

func (s *Server) auctionMaintenance(w http.ResponseWriter, req *RPCRequest, call func(id [32]byte, now int64) error) {
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
	if err := call(id, time.Now().Unix()); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeAuction(w, req, id)
}

type auctionCancelParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

func (s *Server) handleAuctionCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params auctionCancelParams
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
	if err := s.svc.Auctions.Cancel(id, caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeAuction(w, req, id)
}

func (s *Server) handleAuctionGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
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
	s.writeAuction(w, req, id)
}

func (s *Server) writeAuction(w http.ResponseWriter, req *RPCRequest, id [32]byte) {
	a, err := s.svc.Auctions.Get(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, auctionToJSON(a))
}

func (s *Server) handleAuctionList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
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
	if params.Owner != "" {
		var owner [20]byte
		if owner, err = parseAddress(params.Owner); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		ids, err = s.svc.State.AuctionIDsByOwner(owner)
	} else {
		ids, err = s.svc.State.AuctionIDs()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	out := make([]*auctionJSON, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.svc.State.AuctionGet(id); ok {
			out = append(out, auctionToJSON(a))
		}
	}
	writeResult(w, req.ID, out)
}
