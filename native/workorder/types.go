package workorder

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"gavel/native/common"
)

// SchemaVersion is stamped on every persisted work order so future field
// additions can be detected by older readers.
const SchemaVersion uint32 = 1

// Status represents the lifecycle states of a work order.
type Status uint8

const (
	// StatusOpen marks orders that have been published but not yet assigned
	// to a provider. The requester holds the active turn and may amend terms.
	StatusOpen Status = iota
	// StatusAssigned marks orders with a committed provider awaiting kickoff.
	StatusAssigned
	// StatusInProgress marks orders the provider is actively delivering.
	StatusInProgress
	// StatusUnderReview marks orders whose final milestone awaits approval.
	StatusUnderReview
	// StatusCompleted is terminal: all value released.
	StatusCompleted
	// StatusDisputed marks orders frozen behind an open dispute.
	StatusDisputed
	// StatusCancelled is terminal: the order was abandoned before completion.
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusInProgress, StatusUnderReview,
		StatusCompleted, StatusDisputed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusAssigned:
		return "assigned"
	case StatusInProgress:
		return "in_progress"
	case StatusUnderReview:
		return "under_review"
	case StatusCompleted:
		return "completed"
	case StatusDisputed:
		return "disputed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ErrInvalidMilestone describes malformed milestone definitions.
var ErrInvalidMilestone = errors.New("workorder: invalid milestone")

// Milestone is a named, value-weighted sub-deliverable of a work order.
// Amounts are absolute and must sum to the order total.
type Milestone struct {
	Title  string
	Amount *big.Int
	DueAt  int64
}

// Clone returns a deep copy of the milestone definition.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Amount != nil {
		clone.Amount = new(big.Int).Set(m.Amount)
	}
	return &clone
}

// Validate ensures the milestone fields are sane prior to persistence.
func (m *Milestone) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: milestone must not be nil", ErrInvalidMilestone)
	}
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidMilestone)
	}
	if m.Amount == nil || m.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidMilestone)
	}
	if m.DueAt <= 0 {
		return fmt.Errorf("%w: due time must be > 0", ErrInvalidMilestone)
	}
	return nil
}

// WorkOrder is the contractual statement of what is to be delivered. The
// provider field is the zero address until a provider is assigned, either
// directly by the requester or through auction settlement.
type WorkOrder struct {
	ID            [32]byte
	SchemaVersion uint32
	Requester     [20]byte
	Provider      [20]byte
	Token         string
	Total         *big.Int
	Deadline      int64
	Milestones    []*Milestone
	Status        Status
	EscrowID      [32]byte
	AuctionID     [32]byte
	CreatedAt     int64
	UpdatedAt     int64
}

// Clone returns a deep copy of the work order so callers can safely mutate the
// copy without affecting the stored instance.
func (w *WorkOrder) Clone() *WorkOrder {
	if w == nil {
		return nil
	}
	clone := *w
	if w.Total != nil {
		clone.Total = new(big.Int).Set(w.Total)
	} else {
		clone.Total = big.NewInt(0)
	}
	if len(w.Milestones) > 0 {
		clone.Milestones = make([]*Milestone, len(w.Milestones))
		for i, m := range w.Milestones {
			clone.Milestones[i] = m.Clone()
		}
	}
	return &clone
}

// Assigned reports whether a provider has been committed to the order.
func (w *WorkOrder) Assigned() bool {
	return w != nil && w.Provider != ([20]byte{})
}

// MilestoneSum returns the total of all milestone amounts.
func (w *WorkOrder) MilestoneSum() *big.Int {
	sum := big.NewInt(0)
	if w == nil {
		return sum
	}
	for _, m := range w.Milestones {
		if m != nil && m.Amount != nil {
			sum.Add(sum, m.Amount)
		}
	}
	return sum
}

// SanitizeWorkOrder validates and normalises the supplied definition,
// returning a cloned instance with canonical token casing and non-nil amount
// fields. The function does not mutate the original value.
func SanitizeWorkOrder(w *WorkOrder) (*WorkOrder, error) {
	if w == nil {
		return nil, fmt.Errorf("workorder: nil work order")
	}
	clone := w.Clone()
	token, err := common.NormalizeAsset(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Total == nil || clone.Total.Sign() <= 0 {
		return nil, fmt.Errorf("workorder: total must be positive")
	}
	if len(clone.Milestones) == 0 {
		return nil, fmt.Errorf("workorder: at least one milestone required")
	}
	for _, m := range clone.Milestones {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	if clone.MilestoneSum().Cmp(clone.Total) != 0 {
		return nil, ErrInvalidMilestoneSum
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("workorder: invalid status: %d", clone.Status)
	}
	if clone.SchemaVersion == 0 {
		clone.SchemaVersion = SchemaVersion
	}
	return clone, nil
}
