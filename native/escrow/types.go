package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"gavel/native/common"
)

// SchemaVersion is stamped on every persisted escrow record.
const SchemaVersion uint32 = 1

// Status represents the lifecycle states supported by the escrow engine.
type Status uint8

const (
	// StatusPendingFunding marks escrows awaiting the full deposit.
	StatusPendingFunding Status = iota
	// StatusActive marks fully funded escrows with work in flight.
	StatusActive
	// StatusDisputed marks escrows frozen behind an open dispute.
	StatusDisputed
	// StatusGrace marks expired escrows holding submitted-but-unapproved
	// value through the dispute grace window.
	StatusGrace
	// StatusClosed is terminal: all held value has been released or split.
	StatusClosed
	// StatusCancelled is terminal: the deposit was returned before any
	// release occurred.
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingFunding, StatusActive, StatusDisputed, StatusGrace, StatusClosed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the escrow accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

func (s Status) String() string {
	switch s {
	case StatusPendingFunding:
		return "pending_funding"
	case StatusActive:
		return "active"
	case StatusDisputed:
		return "disputed"
	case StatusGrace:
		return "grace"
	case StatusClosed:
		return "closed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MilestoneStatus represents the state of an individual milestone leg.
type MilestoneStatus uint8

const (
	// MilestonePending indicates work has not been submitted for the leg.
	MilestonePending MilestoneStatus = iota
	// MilestoneSubmitted indicates the recipient delivered proof and awaits
	// the depositor's verdict.
	MilestoneSubmitted
	// MilestoneApproved is terminal: the leg's value was released.
	MilestoneApproved
	// MilestoneRejected indicates the last submission was turned down; the
	// recipient may resubmit.
	MilestoneRejected
	// MilestoneDisputed indicates the leg is frozen behind an open dispute.
	MilestoneDisputed
	// MilestoneExpired is terminal: the leg's value was refunded after the
	// escrow expired without resolution.
	MilestoneExpired
	// MilestoneResolved is terminal: the leg was settled by a binding
	// dispute resolution.
	MilestoneResolved
)

// Valid reports whether the milestone status is within the supported range.
func (s MilestoneStatus) Valid() bool {
	switch s {
	case MilestonePending, MilestoneSubmitted, MilestoneApproved,
		MilestoneRejected, MilestoneDisputed, MilestoneExpired, MilestoneResolved:
		return true
	default:
		return false
	}
}

// Final reports whether the milestone accepts no further submissions.
func (s MilestoneStatus) Final() bool {
	return s == MilestoneApproved || s == MilestoneExpired || s == MilestoneResolved
}

func (s MilestoneStatus) String() string {
	switch s {
	case MilestonePending:
		return "pending"
	case MilestoneSubmitted:
		return "submitted"
	case MilestoneApproved:
		return "approved"
	case MilestoneRejected:
		return "rejected"
	case MilestoneDisputed:
		return "disputed"
	case MilestoneExpired:
		return "expired"
	case MilestoneResolved:
		return "resolved"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ErrInvalidMilestone describes malformed milestone legs.
var ErrInvalidMilestone = errors.New("escrow: invalid milestone")

// Milestone mirrors one work order milestone with release progress. The proof
// is an opaque content pointer supplied by the recipient; the engine stores
// and compares it but never interprets it.
type Milestone struct {
	Title        string
	Amount       *big.Int
	DueAt        int64
	Status       MilestoneStatus
	Proof        string
	RejectReason string
	Rejections   uint32
	SubmittedAt  int64
	FinalizedAt  int64
}

// Clone returns a deep copy of the milestone leg.
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

// Validate ensures the leg fields are sane prior to persistence.
func (m *Milestone) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: leg must not be nil", ErrInvalidMilestone)
	}
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidMilestone)
	}
	if m.Amount == nil || m.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidMilestone)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("%w: invalid status %d", ErrInvalidMilestone, m.Status)
	}
	return nil
}

// Escrow captures the custodial holding tied 1:1 to a work order. The holding
// lives at a vault address exclusively owned by the engine; neither party can
// assign value into or out of it directly.
type Escrow struct {
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
	Expiry        int64
	GraceUntil    int64
	CreatedAt     int64
	Status        Status
	Milestones    []*Milestone
	DisputeID     [32]byte
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Total = cloneOrZero(e.Total)
	clone.Deposited = cloneOrZero(e.Deposited)
	clone.Released = cloneOrZero(e.Released)
	clone.Refunded = cloneOrZero(e.Refunded)
	if len(e.Milestones) > 0 {
		clone.Milestones = make([]*Milestone, len(e.Milestones))
		for i, m := range e.Milestones {
			clone.Milestones[i] = m.Clone()
		}
	}
	return &clone
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Held returns the value currently in custody: deposited minus everything
// released or refunded.
func (e *Escrow) Held() *big.Int {
	if e == nil {
		return big.NewInt(0)
	}
	held := cloneOrZero(e.Deposited)
	held.Sub(held, cloneOrZero(e.Released))
	held.Sub(held, cloneOrZero(e.Refunded))
	return held
}

// FullyFunded reports whether the deposit matches the declared total.
func (e *Escrow) FullyFunded() bool {
	if e == nil || e.Total == nil {
		return false
	}
	return cloneOrZero(e.Deposited).Cmp(e.Total) == 0
}

// MilestoneSum returns the total of all milestone leg amounts.
func (e *Escrow) MilestoneSum() *big.Int {
	sum := big.NewInt(0)
	if e == nil {
		return sum
	}
	for _, m := range e.Milestones {
		if m != nil && m.Amount != nil {
			sum.Add(sum, m.Amount)
		}
	}
	return sum
}

// HasOpenLegs reports whether any milestone can still move (Pending,
// Submitted, Rejected or Disputed).
func (e *Escrow) HasOpenLegs() bool {
	if e == nil {
		return false
	}
	for _, m := range e.Milestones {
		if m != nil && !m.Status.Final() {
			return true
		}
	}
	return false
}

// checkConservation verifies that released plus refunded never exceeds the
// deposit. A violation is an integrity fault, not a caller error.
func (e *Escrow) checkConservation() error {
	if e == nil {
		return fmt.Errorf("escrow: nil escrow")
	}
	if e.Held().Sign() < 0 {
		return fmt.Errorf("%w: released %s + refunded %s exceeds deposit %s for %x",
			ErrIntegrity, cloneOrZero(e.Released), cloneOrZero(e.Refunded), cloneOrZero(e.Deposited), e.ID)
	}
	return nil
}

// SanitizeEscrow validates and normalises the supplied escrow definition,
// returning a cloned instance with canonical token casing and non-nil amount
// fields. The function does not mutate the original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil escrow")
	}
	clone := e.Clone()
	token, err := common.NormalizeAsset(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Total.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: total must be positive")
	}
	if clone.Deposited.Sign() < 0 || clone.Released.Sign() < 0 || clone.Refunded.Sign() < 0 {
		return nil, fmt.Errorf("escrow: negative accounting field")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status: %d", clone.Status)
	}
	if len(clone.Milestones) == 0 {
		return nil, fmt.Errorf("escrow: at least one milestone required")
	}
	for _, m := range clone.Milestones {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	if clone.MilestoneSum().Cmp(clone.Total) != 0 {
		return nil, ErrInvalidMilestoneSum
	}
	if err := clone.checkConservation(); err != nil {
		return nil, err
	}
	if clone.SchemaVersion == 0 {
		clone.SchemaVersion = SchemaVersion
	}
	return clone, nil
}
