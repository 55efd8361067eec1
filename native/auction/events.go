package auction

import (
	"encoding/hex"
	"strconv"

	"gavel/core/types"
)

const (
	// EventTypeOpened is emitted when a listing is persisted.
	EventTypeOpened = "auction.opened"
	// EventTypeBid is emitted when an open bid is accepted.
	EventTypeBid = "auction.bid"
	// EventTypeCommit is emitted when a sealed commitment is recorded.
	EventTypeCommit = "auction.commit"
	// EventTypeReveal is emitted when a sealed commitment is opened.
	EventTypeReveal = "auction.reveal"
	// EventTypeRevealPhase is emitted when a sealed auction starts taking
	// reveals.
	EventTypeRevealPhase = "auction.reveal_phase"
	// EventTypeExtended is emitted when anti sniping pushes the end time.
	EventTypeExtended = "auction.extended"
	// EventTypeClosed is emitted on settlement, with or without a winner.
	EventTypeClosed = "auction.closed"
)

func baseAttributes(a *Auction) map[string]string {
	return map[string]string{
		"id":        hex.EncodeToString(a.ID[:]),
		"owner":     hex.EncodeToString(a.Owner[:]),
		"token":     a.Token,
		"mechanism": a.Mechanism.String(),
		"status":    a.Status.String(),
	}
}

// NewOpenedEvent builds the payload announcing a new listing.
func NewOpenedEvent(a *Auction) *types.Event {
	attrs := baseAttributes(a)
	attrs["startPrice"] = a.StartPrice.String()
	attrs["reservePrice"] = a.ReservePrice.String()
	attrs["startTime"] = strconv.FormatInt(a.StartTime, 10)
	attrs["endTime"] = strconv.FormatInt(a.EndTime, 10)
	if a.WorkOrderID != ([32]byte{}) {
		attrs["workOrderId"] = hex.EncodeToString(a.WorkOrderID[:])
	}
	return &types.Event{Type: EventTypeOpened, Attributes: attrs}
}

// NewBidEvent builds the payload for an accepted open bid.
func NewBidEvent(a *Auction, b *Bid) *types.Event {
	attrs := baseAttributes(a)
	attrs["bidder"] = hex.EncodeToString(b.Bidder[:])
	attrs["amount"] = b.Amount.String()
	attrs["sequence"] = strconv.FormatUint(b.Sequence, 10)
	return &types.Event{Type: EventTypeBid, Attributes: attrs}
}

// NewCommitEvent builds the payload for a sealed commitment. The amount is
// not part of the payload; only the hash is public during bidding.
func NewCommitEvent(a *Auction, c *Commitment) *types.Event {
	attrs := baseAttributes(a)
	attrs["bidder"] = hex.EncodeToString(c.Bidder[:])
	attrs["hash"] = hex.EncodeToString(c.Hash[:])
	attrs["sequence"] = strconv.FormatUint(c.Sequence, 10)
	return &types.Event{Type: EventTypeCommit, Attributes: attrs}
}

// NewRevealEvent builds the payload for an opened commitment.
func NewRevealEvent(a *Auction, c *Commitment) *types.Event {
	attrs := baseAttributes(a)
	attrs["bidder"] = hex.EncodeToString(c.Bidder[:])
	attrs["amount"] = c.Amount.String()
	attrs["sequence"] = strconv.FormatUint(c.Sequence, 10)
	return &types.Event{Type: EventTypeReveal, Attributes: attrs}
}

// NewRevealPhaseEvent builds the payload marking the start of reveals.
func NewRevealPhaseEvent(a *Auction) *types.Event {
	attrs := baseAttributes(a)
	attrs["revealDeadline"] = strconv.FormatInt(a.RevealDeadline(), 10)
	return &types.Event{Type: EventTypeRevealPhase, Attributes: attrs}
}

// NewExtendedEvent builds the payload for an anti sniping extension.
func NewExtendedEvent(a *Auction) *types.Event {
	attrs := baseAttributes(a)
	attrs["endTime"] = strconv.FormatInt(a.EndTime, 10)
	attrs["extensions"] = strconv.FormatUint(uint64(a.Extensions), 10)
	return &types.Event{Type: EventTypeExtended, Attributes: attrs}
}

// NewClosedEvent builds the payload for a settlement, with or without a
// winner.
func NewClosedEvent(a *Auction, prior Status) *types.Event {
	attrs := baseAttributes(a)
	attrs["priorStatus"] = prior.String()
	if a.Status == StatusClosed {
		attrs["winner"] = hex.EncodeToString(a.Winner[:])
		attrs["clearingPrice"] = a.ClearingPrice.String()
		if a.EscrowID != ([32]byte{}) {
			attrs["escrowId"] = hex.EncodeToString(a.EscrowID[:])
		}
	}
	return &types.Event{Type: EventTypeClosed, Attributes: attrs}
}
