package workorder

import (
	"encoding/hex"
	"strconv"

	"gavel/core/types"
)

const (
	EventTypeCreated       = "workorder.created"
	EventTypeAmended       = "workorder.amended"
	EventTypeStatusChanged = "workorder.status_changed"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// work order.
func NewCreatedEvent(w *WorkOrder) *types.Event {
	attrs := baseAttrs(w)
	return &types.Event{Type: EventTypeCreated, Attributes: attrs}
}

// NewAmendedEvent returns the canonical event payload emitted when an Open
// order's terms are amended by the requester.
func NewAmendedEvent(w *WorkOrder) *types.Event {
	attrs := baseAttrs(w)
	return &types.Event{Type: EventTypeAmended, Attributes: attrs}
}

// NewStatusEvent reports a lifecycle transition with prior and new status.
func NewStatusEvent(w *WorkOrder, prior Status) *types.Event {
	attrs := baseAttrs(w)
	attrs["priorStatus"] = prior.String()
	return &types.Event{Type: EventTypeStatusChanged, Attributes: attrs}
}

func baseAttrs(w *WorkOrder) map[string]string {
	attrs := make(map[string]string)
	if w == nil {
		return attrs
	}
	attrs["id"] = hex.EncodeToString(w.ID[:])
	attrs["requester"] = hex.EncodeToString(w.Requester[:])
	if w.Assigned() {
		attrs["provider"] = hex.EncodeToString(w.Provider[:])
	}
	attrs["token"] = w.Token
	if w.Total != nil {
		attrs["total"] = w.Total.String()
	}
	attrs["status"] = w.Status.String()
	attrs["deadline"] = strconv.FormatInt(w.Deadline, 10)
	attrs["updatedAt"] = strconv.FormatInt(w.UpdatedAt, 10)
	attrs["milestones"] = strconv.Itoa(len(w.Milestones))
	return attrs
}
