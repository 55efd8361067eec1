package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"gavel/native/auction"
	"gavel/native/dispute"
	"gavel/native/escrow"
	"gavel/native/reputation"
	"gavel/native/workorder"
)

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	cleaned := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", value, err)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("invalid address %q: want 20 bytes, got %d", value, len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseHash(value string) ([32]byte, error) {
	var hash [32]byte
	cleaned := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return hash, fmt.Errorf("invalid identifier %q: %w", value, err)
	}
	if len(raw) != 32 {
		return hash, fmt.Errorf("invalid identifier %q: want 32 bytes, got %d", value, len(raw))
	}
	copy(hash[:], raw)
	return hash, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func hexAddr(addr [20]byte) string { return "0x" + hex.EncodeToString(addr[:]) }
func hexHash(hash [32]byte) string { return "0x" + hex.EncodeToString(hash[:]) }
func optHash(hash [32]byte) string {
	if hash == ([32]byte{}) {
		return ""
	}
	return hexHash(hash)
}

type milestoneJSON struct {
	Title        string `json:"title"`
	Amount       string `json:"amount"`
	DueAt        int64  `json:"dueAt"`
	Status       string `json:"status,omitempty"`
	Proof        string `json:"proof,omitempty"`
	RejectReason string `json:"rejectReason,omitempty"`
	Rejections   uint32 `json:"rejections,omitempty"`
}

type workOrderJSON struct {
	ID         string          `json:"id"`
	Requester  string          `json:"requester"`
	Provider   string          `json:"provider,omitempty"`
	Token      string          `json:"token"`
	Total      string          `json:"total"`
	Deadline   int64           `json:"deadline"`
	Status     string          `json:"status"`
	Milestones []milestoneJSON `json:"milestones"`
	EscrowID   string          `json:"escrowId,omitempty"`
	AuctionID  string          `json:"auctionId,omitempty"`
	CreatedAt  int64           `json:"createdAt"`
	UpdatedAt  int64           `json:"updatedAt"`
}

func workOrderToJSON(o *workorder.WorkOrder) *workOrderJSON {
	out := &workOrderJSON{
		ID:        hexHash(o.ID),
		Requester: hexAddr(o.Requester),
		Token:     o.Token,
		Total:     o.Total.String(),
		Deadline:  o.Deadline,
		Status:    o.Status.String(),
		EscrowID:  optHash(o.EscrowID),
		AuctionID: optHash(o.AuctionID),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	if o.Provider != ([20]byte{}) {
		out.Provider = hexAddr(o.Provider)
	}
	for _, m := range o.Milestones {
		out.Milestones = append(out.Milestones, milestoneJSON{
			Title:  m.Title,
			Amount: m.Amount.String(),
			DueAt:  m.DueAt,
		})
	}
	return out
}

type escrowJSON struct {
	ID          string          `json:"id"`
	WorkOrderID string          `json:"workOrderId,omitempty"`
	Depositor   string          `json:"depositor"`
	Recipient   string          `json:"recipient"`
	Token       string          `json:"token"`
	Total       string          `json:"total"`
	Deposited   string          `json:"deposited"`
	Released    string          `json:"released"`
	Refunded    string          `json:"refunded"`
	Held        string          `json:"held"`
	Expiry      int64           `json:"expiry"`
	GraceUntil  int64           `json:"graceUntil,omitempty"`
	Status      string          `json:"status"`
	Milestones  []milestoneJSON `json:"milestones"`
	DisputeID   string          `json:"disputeId,omitempty"`
	CreatedAt   int64           `json:"createdAt"`
}

func escrowToJSON(e *escrow.Escrow) *escrowJSON {
	out := &escrowJSON{
		ID:          hexHash(e.ID),
		WorkOrderID: optHash(e.WorkOrderID),
		Depositor:   hexAddr(e.Depositor),
		Recipient:   hexAddr(e.Recipient),
		Token:       e.Token,
		Total:       e.Total.String(),
		Deposited:   e.Deposited.String(),
		Released:    e.Released.String(),
		Refunded:    e.Refunded.String(),
		Held:        e.Held().String(),
		Expiry:      e.Expiry,
		GraceUntil:  e.GraceUntil,
		Status:      e.Status.String(),
		DisputeID:   optHash(e.DisputeID),
		CreatedAt:   e.CreatedAt,
	}
	for _, m := range e.Milestones {
		out.Milestones = append(out.Milestones, milestoneJSON{
			Title:        m.Title,
			Amount:       m.Amount.String(),
			DueAt:        m.DueAt,
			Status:       m.Status.String(),
			Proof:        m.Proof,
			RejectReason: m.RejectReason,
			Rejections:   m.Rejections,
		})
	}
	return out
}

type bidJSON struct {
	Bidder   string `json:"bidder"`
	Amount   string `json:"amount"`
	PlacedAt int64  `json:"placedAt"`
}

type commitmentJSON struct {
	Bidder     string `json:"bidder"`
	Hash       string `json:"hash"`
	Revealed   bool   `json:"revealed"`
	Amount     string `json:"amount,omitempty"`
	RevealedAt int64  `json:"revealedAt,omitempty"`
}

type auctionJSON struct {
	ID            string           `json:"id"`
	WorkOrderID   string           `json:"workOrderId,omitempty"`
	Owner         string           `json:"owner"`
	Token         string           `json:"token"`
	Mechanism     string           `json:"mechanism"`
	StartPrice    string           `json:"startPrice"`
	ReservePrice  string           `json:"reservePrice"`
	MinStep       string           `json:"minStep,omitempty"`
	InstantBuy    string           `json:"instantBuy,omitempty"`
	StartTime     int64            `json:"startTime"`
	EndTime       int64            `json:"endTime"`
	RevealWindow  int64            `json:"revealWindow,omitempty"`
	Extensions    uint32           `json:"extensions,omitempty"`
	Status        string           `json:"status"`
	Bids          []bidJSON        `json:"bids,omitempty"`
	Commitments   []commitmentJSON `json:"commitments,omitempty"`
	Winner        string           `json:"winner,omitempty"`
	ClearingPrice string           `json:"clearingPrice,omitempty"`
	EscrowID      string           `json:"escrowId,omitempty"`
}

func auctionToJSON(a *auction.Auction) *auctionJSON {
	out := &auctionJSON{
		ID:           hexHash(a.ID),
		WorkOrderID:  optHash(a.WorkOrderID),
		Owner:        hexAddr(a.Owner),
		Token:        a.Token,
		Mechanism:    a.Mechanism.String(),
		StartPrice:   a.StartPrice.String(),
		ReservePrice: a.ReservePrice.String(),
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
		RevealWindow: a.RevealWindow,
		Extensions:   a.Extensions,
		Status:       a.Status.String(),
		EscrowID:     optHash(a.EscrowID),
	}
	if a.MinStep != nil && a.MinStep.Sign() > 0 {
		out.MinStep = a.MinStep.String()
	}
	if a.InstantBuy != nil {
		out.InstantBuy = a.InstantBuy.String()
	}
	for _, b := range a.Bids {
		out.Bids = append(out.Bids, bidJSON{Bidder: hexAddr(b.Bidder), Amount: b.Amount.String(), PlacedAt: b.PlacedAt})
	}
	for _, c := range a.Commitments {
		view := commitmentJSON{Bidder: hexAddr(c.Bidder), Hash: hexHash(c.Hash), Revealed: c.Revealed, RevealedAt: c.RevealedAt}
		if c.Revealed && c.Amount != nil {
			view.Amount = c.Amount.String()
		}
		out.Commitments = append(out.Commitments, view)
	}
	if a.Status == auction.StatusClosed {
		out.Winner = hexAddr(a.Winner)
		if a.ClearingPrice != nil {
			out.ClearingPrice = a.ClearingPrice.String()
		}
	}
	return out
}

type proposalJSON struct {
	ToRecipient string `json:"toRecipient"`
	ToDepositor string `json:"toDepositor"`
	ProposedAt  int64  `json:"proposedAt"`
}

type disputeJSON struct {
	ID                 string        `json:"id"`
	EscrowID           string        `json:"escrowId"`
	WorkOrderID        string        `json:"workOrderId,omitempty"`
	Filer              string        `json:"filer"`
	Respondent         string        `json:"respondent"`
	Reason             string        `json:"reason"`
	Evidence           []string      `json:"evidence,omitempty"`
	Response           string        `json:"response,omitempty"`
	CounterEvidence    []string      `json:"counterEvidence,omitempty"`
	FilerProposal      *proposalJSON `json:"filerProposal,omitempty"`
	RespondentProposal *proposalJSON `json:"respondentProposal,omitempty"`
	OpenedAt           int64         `json:"openedAt"`
	AgreementUntil     int64         `json:"agreementUntil"`
	Deadline           int64         `json:"deadline"`
	Status             string        `json:"status"`
	Outcome            string        `json:"outcome"`
	AwardRecipient     string        `json:"awardRecipient,omitempty"`
	AwardDepositor     string        `json:"awardDepositor,omitempty"`
	ResolvedAt         int64         `json:"resolvedAt,omitempty"`
}

func proposalToJSON(p *dispute.Proposal) *proposalJSON {
	if p == nil {
		return nil
	}
	return &proposalJSON{
		ToRecipient: p.ToRecipient.String(),
		ToDepositor: p.ToDepositor.String(),
		ProposedAt:  p.ProposedAt,
	}
}

func disputeToJSON(d *dispute.Dispute) *disputeJSON {
	out := &disputeJSON{
		ID:                 hexHash(d.ID),
		EscrowID:           hexHash(d.EscrowID),
		WorkOrderID:        optHash(d.WorkOrderID),
		Filer:              hexAddr(d.Filer),
		Respondent:         hexAddr(d.Respondent),
		Reason:             d.Reason,
		Evidence:           d.Evidence,
		Response:           d.Response,
		CounterEvidence:    d.CounterEvidence,
		FilerProposal:      proposalToJSON(d.FilerProposal),
		RespondentProposal: proposalToJSON(d.RespondentProposal),
		OpenedAt:           d.OpenedAt,
		AgreementUntil:     d.AgreementUntil,
		Deadline:           d.Deadline,
		Status:             d.Status.String(),
		Outcome:            d.Outcome.String(),
		ResolvedAt:         d.ResolvedAt,
	}
	if d.AwardRecipient != nil {
		out.AwardRecipient = d.AwardRecipient.String()
	}
	if d.AwardDepositor != nil {
		out.AwardDepositor = d.AwardDepositor.String()
	}
	return out
}

type scoreJSON struct {
	Subject   string `json:"subject"`
	Value     int64  `json:"value"`
	Samples   uint64 `json:"samples"`
	UpdatedAt int64  `json:"updatedAt"`
}

func scoreToJSON(s *reputation.Score) *scoreJSON {
	return &scoreJSON{
		Subject:   hexAddr(s.Subject),
		Value:     s.Value,
		Samples:   s.Samples,
		UpdatedAt: s.UpdatedAt,
	}
}
