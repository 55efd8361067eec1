package escrow

import (
	"encoding/hex"
	"strconv"

	"gavel/core/types"
)

const (
	// EventTypeCreated is emitted when a new escrow record is persisted.
	EventTypeCreated = "escrow.created"
	// EventTypeFunded is emitted when the deposit reaches the declared total.
	EventTypeFunded = "escrow.funded"
	// EventTypePartialFunded is emitted for deposits below the total.
	EventTypePartialFunded = "escrow.partial_funded"
	// EventTypeMilestoneSubmitted is emitted when work is submitted on a leg.
	EventTypeMilestoneSubmitted = "escrow.milestone_submitted"
	// EventTypeMilestoneApproved is emitted when a leg's value is released.
	EventTypeMilestoneApproved = "escrow.milestone_approved"
	// EventTypeMilestoneRejected is emitted when a submission is turned down.
	EventTypeMilestoneRejected = "escrow.milestone_rejected"
	// EventTypeStatusChanged is emitted on escrow level transitions.
	EventTypeStatusChanged = "escrow.status_changed"
	// EventTypeExpired is emitted when the time-based transition fires.
	EventTypeExpired = "escrow.expired"
)

func baseAttributes(e *Escrow) map[string]string {
	return map[string]string{
		"id":        hex.EncodeToString(e.ID[:]),
		"depositor": hex.EncodeToString(e.Depositor[:]),
		"recipient": hex.EncodeToString(e.Recipient[:]),
		"token":     e.Token,
		"status":    e.Status.String(),
	}
}

// NewCreatedEvent builds the payload announcing a freshly created escrow.
func NewCreatedEvent(e *Escrow) *types.Event {
	attrs := baseAttributes(e)
	attrs["total"] = e.Total.String()
	attrs["expiry"] = strconv.FormatInt(e.Expiry, 10)
	attrs["milestones"] = strconv.Itoa(len(e.Milestones))
	if e.WorkOrderID != ([32]byte{}) {
		attrs["workOrderId"] = hex.EncodeToString(e.WorkOrderID[:])
	}
	return &types.Event{Type: EventTypeCreated, Attributes: attrs}
}

// NewFundedEvent builds the payload for a fully funded escrow.
func NewFundedEvent(e *Escrow, prior Status) *types.Event {
	attrs := baseAttributes(e)
	attrs["deposited"] = e.Deposited.String()
	attrs["priorStatus"] = prior.String()
	return &types.Event{Type: EventTypeFunded, Attributes: attrs}
}

// NewPartialFundedEvent builds the payload for a deposit below the total.
func NewPartialFundedEvent(e *Escrow) *types.Event {
	attrs := baseAttributes(e)
	attrs["deposited"] = e.Deposited.String()
	attrs["total"] = e.Total.String()
	return &types.Event{Type: EventTypePartialFunded, Attributes: attrs}
}

// NewMilestoneEvent builds the payload for a leg level transition. The event
// type distinguishes submission, approval and rejection.
func NewMilestoneEvent(eventType string, e *Escrow, index int) *types.Event {
	attrs := baseAttributes(e)
	attrs["milestoneIndex"] = strconv.Itoa(index)
	if index >= 0 && index < len(e.Milestones) && e.Milestones[index] != nil {
		leg := e.Milestones[index]
		attrs["milestoneStatus"] = leg.Status.String()
		attrs["amount"] = leg.Amount.String()
		if leg.Proof != "" {
			attrs["proof"] = leg.Proof
		}
		if leg.RejectReason != "" {
			attrs["reason"] = leg.RejectReason
		}
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewStatusEvent builds the payload for an escrow level status change.
func NewStatusEvent(e *Escrow, prior Status) *types.Event {
	attrs := baseAttributes(e)
	attrs["priorStatus"] = prior.String()
	attrs["released"] = e.Released.String()
	attrs["refunded"] = e.Refunded.String()
	return &types.Event{Type: EventTypeStatusChanged, Attributes: attrs}
}

// NewExpiredEvent builds the payload emitted when the expiry transition runs.
func NewExpiredEvent(e *Escrow, prior Status) *types.Event {
	attrs := baseAttributes(e)
	attrs["priorStatus"] = prior.String()
	attrs["refunded"] = e.Refunded.String()
	if e.GraceUntil > 0 {
		attrs["graceUntil"] = strconv.FormatInt(e.GraceUntil, 10)
	}
	return &types.Event{Type: EventTypeExpired, Attributes: attrs}
}
