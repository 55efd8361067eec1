package dispute

import (
	"encoding/hex"
	"strconv"

	"gavel/core/types"
)

const (
	// EventTypeOpened is emitted when a dispute is filed.
	EventTypeOpened = "dispute.opened"
	// EventTypeResponded is emitted when the respondent's statement lands.
	EventTypeResponded = "dispute.responded"
	// EventTypeProposal is emitted when a party proposes a split.
	EventTypeProposal = "dispute.proposal"
	// EventTypeResolved is emitted on settlement by any path.
	EventTypeResolved = "dispute.resolved"
)

func baseAttributes(d *Dispute) map[string]string {
	return map[string]string{
		"id":         hex.EncodeToString(d.ID[:]),
		"escrowId":   hex.EncodeToString(d.EscrowID[:]),
		"filer":      hex.EncodeToString(d.Filer[:]),
		"respondent": hex.EncodeToString(d.Respondent[:]),
		"status":     d.Status.String(),
	}
}

// NewOpenedEvent builds the payload announcing a filed dispute.
func NewOpenedEvent(d *Dispute) *types.Event {
	attrs := baseAttributes(d)
	attrs["reason"] = d.Reason
	attrs["agreementUntil"] = strconv.FormatInt(d.AgreementUntil, 10)
	attrs["deadline"] = strconv.FormatInt(d.Deadline, 10)
	return &types.Event{Type: EventTypeOpened, Attributes: attrs}
}

// NewRespondedEvent builds the payload for the respondent's statement.
func NewRespondedEvent(d *Dispute) *types.Event {
	attrs := baseAttributes(d)
	attrs["response"] = d.Response
	return &types.Event{Type: EventTypeResponded, Attributes: attrs}
}

// NewProposalEvent builds the payload for a recorded split proposal.
func NewProposalEvent(d *Dispute, proposer [20]byte, p *Proposal) *types.Event {
	attrs := baseAttributes(d)
	attrs["proposer"] = hex.EncodeToString(proposer[:])
	attrs["toRecipient"] = p.ToRecipient.String()
	attrs["toDepositor"] = p.ToDepositor.String()
	return &types.Event{Type: EventTypeProposal, Attributes: attrs}
}

// NewResolvedEvent builds the payload for a settled dispute.
func NewResolvedEvent(d *Dispute) *types.Event {
	attrs := baseAttributes(d)
	attrs["outcome"] = d.Outcome.String()
	attrs["toRecipient"] = d.AwardRecipient.String()
	attrs["toDepositor"] = d.AwardDepositor.String()
	attrs["resolvedAt"] = strconv.FormatInt(d.ResolvedAt, 10)
	return &types.Event{Type: EventTypeResolved, Attributes: attrs}
}
