package state

import (
	"math/big"

	"gavel/native/auction"
	"gavel/native/dispute"
	"gavel/native/escrow"
	"gavel/native/reputation"
	"gavel/native/workorder"
)

// The stored* mirrors exist because the RLP codec has no signed integer
// support. Timestamps travel as uint64 and signed scores as big.Int; the
// conversion helpers keep the live types untouched.

type storedWorkOrderMilestone struct {
	Title  string
	Amount *big.Int
	DueAt  uint64
}

type storedWorkOrder struct {
	ID            [32]byte
	SchemaVersion uint32
	Requester     [20]byte
	Provider      [20]byte
	Token         string
	Total         *big.Int
	Deadline      uint64
	Milestones    []storedWorkOrderMilestone
	Status        uint8
	EscrowID      [32]byte
	AuctionID     [32]byte
	CreatedAt     uint64
	UpdatedAt     uint64
}

func toStoredWorkOrder(o *workorder.WorkOrder) *storedWorkOrder {
	stored := &storedWorkOrder{
		ID:            o.ID,
		SchemaVersion: o.SchemaVersion,
		Requester:     o.Requester,
		Provider:      o.Provider,
		Token:         o.Token,
		Total:         bigOrZero(o.Total),
		Deadline:      uint64(o.Deadline),
		Status:        uint8(o.Status),
		EscrowID:      o.EscrowID,
		AuctionID:     o.AuctionID,
		CreatedAt:     uint64(o.CreatedAt),
		UpdatedAt:     uint64(o.UpdatedAt),
	}
	for _, m := range o.Milestones {
		if m == nil {
			continue
		}
		stored.Milestones = append(stored.Milestones, storedWorkOrderMilestone{
			Title:  m.Title,
			Amount: bigOrZero(m.Amount),
			DueAt:  uint64(m.DueAt),
		})
	}
	return stored
}

func (s *storedWorkOrder) toWorkOrder() *workorder.WorkOrder {
	order := &workorder.WorkOrder{
		ID:            s.ID,
		SchemaVersion: s.SchemaVersion,
		Requester:     s.Requester,
		Provider:      s.Provider,
		Token:         s.Token,
		Total:         bigOrZero(s.Total),
		Deadline:      int64(s.Deadline),
		Status:        workorder.Status(s.Status),
		EscrowID:      s.EscrowID,
		AuctionID:     s.AuctionID,
		CreatedAt:     int64(s.CreatedAt),
		UpdatedAt:     int64(s.UpdatedAt),
	}
	for _, m := range s.Milestones {
		order.Milestones = append(order.Milestones, &workorder.Milestone{
			Title:  m.Title,
			Amount: bigOrZero(m.Amount),
			DueAt:  int64(m.DueAt),
		})
	}
	return order
}

type storedEscrowMilestone struct {
	Title        string
	Amount       *big.Int
	DueAt        uint64
	Status       uint8
	Proof        string
	RejectReason string
	Rejections   uint32
	SubmittedAt  uint64
	FinalizedAt  uint64
}

type storedEscrow struct {
	ID            [32]byte
	SchemaVersion uint32
	WorkOrderID   [32]byte
	Depositor     [20]byte
	Recipient     [20]byte
	Token         string
	Total         *big.Int
	Deposited     *big.Int
	Released      *big.Int
	Refunded      *big.Int
	Expiry        uint64
	GraceUntil    uint64
	CreatedAt     uint64
	Status        uint8
	Milestones    []storedEscrowMilestone
	DisputeID     [32]byte
}

func toStoredEscrow(e *escrow.Escrow) *storedEscrow {
	stored := &storedEscrow{
		ID:            e.ID,
		SchemaVersion: e.SchemaVersion,
		WorkOrderID:   e.WorkOrderID,
		Depositor:     e.Depositor,
		Recipient:     e.Recipient,
		Token:         e.Token,
		Total:         bigOrZero(e.Total),
		Deposited:     bigOrZero(e.Deposited),
		Released:      bigOrZero(e.Released),
		Refunded:      bigOrZero(e.Refunded),
		Expiry:        uint64(e.Expiry),
		GraceUntil:    uint64(e.GraceUntil),
		CreatedAt:     uint64(e.CreatedAt),
		Status:        uint8(e.Status),
		DisputeID:     e.DisputeID,
	}
	for _, m := range e.Milestones {
		if m == nil {
			continue
		}
		stored.Milestones = append(stored.Milestones, storedEscrowMilestone{
			Title:        m.Title,
			Amount:       bigOrZero(m.Amount),
			DueAt:        uint64(m.DueAt),
			Status:       uint8(m.Status),
			Proof:        m.Proof,
			RejectReason: m.RejectReason,
			Rejections:   m.Rejections,
			SubmittedAt:  uint64(m.SubmittedAt),
			FinalizedAt:  uint64(m.FinalizedAt),
		})
	}
	return stored
}

func (s *storedEscrow) toEscrow() *escrow.Escrow {
	esc := &escrow.Escrow{
		ID:            s.ID,
		SchemaVersion: s.SchemaVersion,
		WorkOrderID:   s.WorkOrderID,
		Depositor:     s.Depositor,
		Recipient:     s.Recipient,
		Token:         s.Token,
		Total:         bigOrZero(s.Total),
		Deposited:     bigOrZero(s.Deposited),
		Released:      bigOrZero(s.Released),
		Refunded:      bigOrZero(s.Refunded),
		Expiry:        int64(s.Expiry),
		GraceUntil:    int64(s.GraceUntil),
		CreatedAt:     int64(s.CreatedAt),
		Status:        escrow.Status(s.Status),
		DisputeID:     s.DisputeID,
	}
	for _, m := range s.Milestones {
		esc.Milestones = append(esc.Milestones, &escrow.Milestone{
			Title:        m.Title,
			Amount:       bigOrZero(m.Amount),
			DueAt:        int64(m.DueAt),
			Status:       escrow.MilestoneStatus(m.Status),
			Proof:        m.Proof,
			RejectReason: m.RejectReason,
			Rejections:   m.Rejections,
			SubmittedAt:  int64(m.SubmittedAt),
			FinalizedAt:  int64(m.FinalizedAt),
		})
	}
	return esc
}

type storedBid struct {
	Bidder   [20]byte
	Amount   *big.Int
	PlacedAt uint64
	Sequence uint64
}

type storedCommitment struct {
	Bidder      [20]byte
	Hash        [32]byte
	Sequence    uint64
	CommittedAt uint64
	Revealed    bool
	Amount      *big.Int
	RevealedAt  uint64
}

type storedAuction struct {
	ID             [32]byte
	SchemaVersion  uint32
	WorkOrderID    [32]byte
	Owner          [20]byte
	Token          string
	Mechanism      uint8
	StartPrice     *big.Int
	ReservePrice   *big.Int
	MinStep        *big.Int
	HasInstantBuy  bool
	InstantBuy     *big.Int
	StartTime      uint64
	EndTime        uint64
	RevealWindow   uint64
	SnipeWindow    uint64
	SnipeExtension uint64
	MaxExtensions  uint32
	Extensions     uint32
	Status         uint8
	Bids           []storedBid
	Commitments    []storedCommitment
	HasBestBid     bool
	BestBid        storedBid
	Winner         [20]byte
	ClearingPrice  *big.Int
	EscrowID       [32]byte
	CreatedAt      uint64
	ClosedAt       uint64
}

func toStoredAuction(a *auction.Auction) *storedAuction {
	stored := &storedAuction{
		ID:             a.ID,
		SchemaVersion:  a.SchemaVersion,
		WorkOrderID:    a.WorkOrderID,
		Owner:          a.Owner,
		Token:          a.Token,
		Mechanism:      uint8(a.Mechanism),
		StartPrice:     bigOrZero(a.StartPrice),
		ReservePrice:   bigOrZero(a.ReservePrice),
		MinStep:        bigOrZero(a.MinStep),
		HasInstantBuy:  a.InstantBuy != nil,
		InstantBuy:     bigOrZero(a.InstantBuy),
		StartTime:      uint64(a.StartTime),
		EndTime:        uint64(a.EndTime),
		RevealWindow:   uint64(a.RevealWindow),
		SnipeWindow:    uint64(a.SnipeWindow),
		SnipeExtension: uint64(a.SnipeExtension),
		MaxExtensions:  a.MaxExtensions,
		Extensions:     a.Extensions,
		Status:         uint8(a.Status),
		Winner:         a.Winner,
		ClearingPrice:  bigOrZero(a.ClearingPrice),
		EscrowID:       a.EscrowID,
		CreatedAt:      uint64(a.CreatedAt),
		ClosedAt:       uint64(a.ClosedAt),
	}
	for _, b := range a.Bids {
		if b == nil {
			continue
		}
		stored.Bids = append(stored.Bids, storedBid{
			Bidder:   b.Bidder,
			Amount:   bigOrZero(b.Amount),
			PlacedAt: uint64(b.PlacedAt),
			Sequence: b.Sequence,
		})
	}
	for _, c := range a.Commitments {
		if c == nil {
			continue
		}
		stored.Commitments = append(stored.Commitments, storedCommitment{
			Bidder:      c.Bidder,
			Hash:        c.Hash,
			Sequence:    c.Sequence,
			CommittedAt: uint64(c.CommittedAt),
			Revealed:    c.Revealed,
			Amount:      bigOrZero(c.Amount),
			RevealedAt:  uint64(c.RevealedAt),
		})
	}
	if a.BestBid != nil {
		stored.HasBestBid = true
		stored.BestBid = storedBid{
			Bidder:   a.BestBid.Bidder,
			Amount:   bigOrZero(a.BestBid.Amount),
			PlacedAt: uint64(a.BestBid.PlacedAt),
			Sequence: a.BestBid.Sequence,
		}
	}
	return stored
}

func (s *storedAuction) toAuction() *auction.Auction {
	a := &auction.Auction{
		ID:             s.ID,
		SchemaVersion:  s.SchemaVersion,
		WorkOrderID:    s.WorkOrderID,
		Owner:          s.Owner,
		Token:          s.Token,
		Mechanism:      auction.Mechanism(s.Mechanism),
		StartPrice:     bigOrZero(s.StartPrice),
		ReservePrice:   bigOrZero(s.ReservePrice),
		MinStep:        bigOrZero(s.MinStep),
		StartTime:      int64(s.StartTime),
		EndTime:        int64(s.EndTime),
		RevealWindow:   int64(s.RevealWindow),
		SnipeWindow:    int64(s.SnipeWindow),
		SnipeExtension: int64(s.SnipeExtension),
		MaxExtensions:  s.MaxExtensions,
		Extensions:     s.Extensions,
		Status:         auction.Status(s.Status),
		Winner:         s.Winner,
		ClearingPrice:  bigOrZero(s.ClearingPrice),
		EscrowID:       s.EscrowID,
		CreatedAt:      int64(s.CreatedAt),
		ClosedAt:       int64(s.ClosedAt),
	}
	if s.HasInstantBuy {
		a.InstantBuy = bigOrZero(s.InstantBuy)
	}
	for _, b := range s.Bids {
		a.Bids = append(a.Bids, &auction.Bid{
			Bidder:   b.Bidder,
			Amount:   bigOrZero(b.Amount),
			PlacedAt: int64(b.PlacedAt),
			Sequence: b.Sequence,
		})
	}
	for _, c := range s.Commitments {
		commitment := &auction.Commitment{
			Bidder:      c.Bidder,
			Hash:        c.Hash,
			Sequence:    c.Sequence,
			CommittedAt: int64(c.CommittedAt),
			Revealed:    c.Revealed,
			RevealedAt:  int64(c.RevealedAt),
		}
		if c.Revealed {
			commitment.Amount = bigOrZero(c.Amount)
		}
		a.Commitments = append(a.Commitments, commitment)
	}
	if s.HasBestBid {
		a.BestBid = &auction.Bid{
			Bidder:   s.BestBid.Bidder,
			Amount:   bigOrZero(s.BestBid.Amount),
			PlacedAt: int64(s.BestBid.PlacedAt),
			Sequence: s.BestBid.Sequence,
		}
	}
	return a
}

type storedProposal struct {
	Present     bool
	ToRecipient *big.Int
	ToDepositor *big.Int
	ProposedAt  uint64
}

type storedDispute struct {
	ID                 [32]byte
	SchemaVersion      uint32
	EscrowID           [32]byte
	WorkOrderID        [32]byte
	Filer              [20]byte
	Respondent         [20]byte
	Reason             string
	Evidence           []string
	Response           string
	CounterEvidence    []string
	Responded          bool
	FilerProposal      storedProposal
	RespondentProposal storedProposal
	OpenedAt           uint64
	AgreementUntil     uint64
	Deadline           uint64
	Status             uint8
	Outcome            uint8
	ResolvedAt         uint64
	HasAward           bool
	AwardRecipient     *big.Int
	AwardDepositor     *big.Int
}

func toStoredProposal(p *dispute.Proposal) storedProposal {
	if p == nil {
		return storedProposal{ToRecipient: big.NewInt(0), ToDepositor: big.NewInt(0)}
	}
	return storedProposal{
		Present:     true,
		ToRecipient: bigOrZero(p.ToRecipient),
		ToDepositor: bigOrZero(p.ToDepositor),
		ProposedAt:  uint64(p.ProposedAt),
	}
}

func (s storedProposal) toProposal() *dispute.Proposal {
	if !s.Present {
		return nil
	}
	return &dispute.Proposal{
		ToRecipient: bigOrZero(s.ToRecipient),
		ToDepositor: bigOrZero(s.ToDepositor),
		ProposedAt:  int64(s.ProposedAt),
	}
}

func toStoredDispute(d *dispute.Dispute) *storedDispute {
	return &storedDispute{
		ID:                 d.ID,
		SchemaVersion:      d.SchemaVersion,
		EscrowID:           d.EscrowID,
		WorkOrderID:        d.WorkOrderID,
		Filer:              d.Filer,
		Respondent:         d.Respondent,
		Reason:             d.Reason,
		Evidence:           d.Evidence,
		Response:           d.Response,
		CounterEvidence:    d.CounterEvidence,
		Responded:          d.Responded,
		FilerProposal:      toStoredProposal(d.FilerProposal),
		RespondentProposal: toStoredProposal(d.RespondentProposal),
		OpenedAt:           uint64(d.OpenedAt),
		AgreementUntil:     uint64(d.AgreementUntil),
		Deadline:           uint64(d.Deadline),
		Status:             uint8(d.Status),
		Outcome:            uint8(d.Outcome),
		ResolvedAt:         uint64(d.ResolvedAt),
		HasAward:           d.AwardRecipient != nil || d.AwardDepositor != nil,
		AwardRecipient:     bigOrZero(d.AwardRecipient),
		AwardDepositor:     bigOrZero(d.AwardDepositor),
	}
}

func (s *storedDispute) toDispute() *dispute.Dispute {
	d := &dispute.Dispute{
		ID:                 s.ID,
		SchemaVersion:      s.SchemaVersion,
		EscrowID:           s.EscrowID,
		WorkOrderID:        s.WorkOrderID,
		Filer:              s.Filer,
		Respondent:         s.Respondent,
		Reason:             s.Reason,
		Evidence:           s.Evidence,
		Response:           s.Response,
		CounterEvidence:    s.CounterEvidence,
		Responded:          s.Responded,
		FilerProposal:      s.FilerProposal.toProposal(),
		RespondentProposal: s.RespondentProposal.toProposal(),
		OpenedAt:           int64(s.OpenedAt),
		AgreementUntil:     int64(s.AgreementUntil),
		Deadline:           int64(s.Deadline),
		Status:             dispute.Status(s.Status),
		Outcome:            dispute.Outcome(s.Outcome),
		ResolvedAt:         int64(s.ResolvedAt),
	}
	if s.HasAward {
		d.AwardRecipient = bigOrZero(s.AwardRecipient)
		d.AwardDepositor = bigOrZero(s.AwardDepositor)
	}
	return d
}

type storedScore struct {
	Subject   [20]byte
	Negative  bool
	Magnitude uint64
	Samples   uint64
	UpdatedAt uint64
}

func toStoredScore(s *reputation.Score) *storedScore {
	stored := &storedScore{
		Subject:   s.Subject,
		Samples:   s.Samples,
		UpdatedAt: uint64(s.UpdatedAt),
	}
	if s.Value < 0 {
		stored.Negative = true
		stored.Magnitude = uint64(-s.Value)
	} else {
		stored.Magnitude = uint64(s.Value)
	}
	return stored
}

func (s *storedScore) toScore() *reputation.Score {
	value := int64(s.Magnitude)
	if s.Negative {
		value = -value
	}
	return &reputation.Score{
		Subject:   s.Subject,
		Value:     value,
		Samples:   s.Samples,
		UpdatedAt: int64(s.UpdatedAt),
	}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
