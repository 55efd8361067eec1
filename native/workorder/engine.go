package workorder

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"gavel/core/events"
	"gavel/core/types"
	nativecommon "gavel/native/common"
)

const moduleName = "workorder"

var (
	errNilState       = errors.New("workorder engine: state not configured")
	ErrNotFound       = errors.New("workorder engine: work order not found")
	ErrNotRequester   = errors.New("workorder: caller is not the requester")
	ErrNotProvider    = errors.New("workorder: caller is not the provider")
	ErrWrongTurn      = errors.New("workorder: caller does not hold the active turn")
	ErrTerminalStatus = errors.New("workorder: order is terminal")

	// ErrInvalidMilestoneSum is raised when milestone amounts do not sum to
	// the declared total.
	ErrInvalidMilestoneSum = errors.New("workorder: milestone amounts do not sum to total")
	// ErrPastDeadline is raised when a deadline does not lie strictly in the
	// future at creation time.
	ErrPastDeadline = errors.New("workorder: deadline not in the future")
)

type engineState interface {
	WorkOrderPut(*WorkOrder) error
	WorkOrderGet(id [32]byte) (*WorkOrder, bool)
}

type workOrderEvent struct {
	evt *types.Event
}

func (e workOrderEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e workOrderEvent) Event() *types.Event { return e.evt }

// Engine owns the work order lifecycle. Requesters mutate orders while Open;
// once a provider is assigned the provider drives progress. Settlement-driven
// transitions (escrow close, dispute outcomes) arrive through the Mark hooks.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
	pauses  nativecommon.PauseView
}

// NewEngine creates a work order engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses configures the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(workOrderEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) load(id [32]byte) (*WorkOrder, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	order, ok := e.state.WorkOrderGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return order, nil
}

func (e *Engine) store(order *WorkOrder) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.WorkOrderPut(order)
}

// Create initialises and persists a new work order. The identifier is derived
// from the requester, token and caller-supplied nonce so resubmissions of the
// same definition are idempotent.
func (e *Engine) Create(requester [20]byte, token string, total *big.Int, deadline int64, milestones []*Milestone, nonce [32]byte) (*WorkOrder, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	now := e.now()
	if deadline <= now {
		return nil, ErrPastDeadline
	}
	draft := &WorkOrder{
		SchemaVersion: SchemaVersion,
		Requester:     requester,
		Token:         token,
		Total:         total,
		Deadline:      deadline,
		Milestones:    milestones,
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	sanitized, err := SanitizeWorkOrder(draft)
	if err != nil {
		return nil, err
	}
	id := ethcrypto.Keccak256Hash(requester[:], []byte(sanitized.Token), nonce[:])
	if existing, ok := e.state.WorkOrderGet(id); ok {
		if existing.Requester != requester || existing.Token != sanitized.Token ||
			existing.Total.Cmp(sanitized.Total) != 0 || existing.Deadline != deadline {
			return nil, fmt.Errorf("workorder: identifier already exists with different definition")
		}
		return existing, nil
	}
	sanitized.ID = id
	if err := e.store(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(sanitized))
	return sanitized.Clone(), nil
}

// Amend replaces the milestone schedule and deadline of an Open order. Only
// the requester holds the active turn before assignment.
func (e *Engine) Amend(id [32]byte, caller [20]byte, total *big.Int, deadline int64, milestones []*Milestone) (*WorkOrder, error) {
	order, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if order.Requester != caller {
		return nil, ErrNotRequester
	}
	if order.Status != StatusOpen {
		return nil, ErrWrongTurn
	}
	now := e.now()
	if deadline <= now {
		return nil, ErrPastDeadline
	}
	draft := order.Clone()
	draft.Total = total
	draft.Deadline = deadline
	draft.Milestones = milestones
	draft.UpdatedAt = now
	sanitized, err := SanitizeWorkOrder(draft)
	if err != nil {
		return nil, err
	}
	if err := e.store(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewAmendedEvent(sanitized))
	return sanitized.Clone(), nil
}

// Assign commits a provider to an Open order. Only the requester may assign.
func (e *Engine) Assign(id [32]byte, caller, provider [20]byte) error {
	order, err := e.load(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if order.Requester != caller {
		return ErrNotRequester
	}
	if order.Status != StatusOpen {
		return fmt.Errorf("workorder: cannot assign in status %s", order.Status)
	}
	if provider == ([20]byte{}) {
		return fmt.Errorf("workorder: provider must not be the zero address")
	}
	if provider == order.Requester {
		return fmt.Errorf("workorder: requester cannot be its own provider")
	}
	prior := order.Status
	order.Provider = provider
	order.Status = StatusAssigned
	order.UpdatedAt = e.now()
	if err := e.store(order); err != nil {
		return err
	}
	e.emit(NewStatusEvent(order, prior))
	return nil
}

// Start moves an Assigned order into InProgress. Only the provider may start.
func (e *Engine) Start(id [32]byte, caller [20]byte) error {
	return e.advance(id, caller, StatusAssigned, StatusInProgress, false)
}

// SubmitForReview moves an InProgress order into UnderReview once the provider
// considers the remaining deliverables complete.
func (e *Engine) SubmitForReview(id [32]byte, caller [20]byte) error {
	return e.advance(id, caller, StatusInProgress, StatusUnderReview, false)
}

func (e *Engine) advance(id [32]byte, caller [20]byte, from, to Status, requester bool) error {
	order, err := e.load(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if requester {
		if order.Requester != caller {
			return ErrNotRequester
		}
	} else if order.Provider != caller {
		return ErrNotProvider
	}
	if order.Status != from {
		return fmt.Errorf("workorder: cannot transition from status %s", order.Status)
	}
	prior := order.Status
	order.Status = to
	order.UpdatedAt = e.now()
	if err := e.store(order); err != nil {
		return err
	}
	e.emit(NewStatusEvent(order, prior))
	return nil
}

// Cancel abandons an order that has not yet been assigned.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	order, err := e.load(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if order.Requester != caller {
		return ErrNotRequester
	}
	if order.Status != StatusOpen {
		return fmt.Errorf("workorder: cannot cancel in status %s", order.Status)
	}
	prior := order.Status
	order.Status = StatusCancelled
	order.UpdatedAt = e.now()
	if err := e.store(order); err != nil {
		return err
	}
	e.emit(NewStatusEvent(order, prior))
	return nil
}

// LinkEscrow records the escrow opened against the order. Invoked by the
// escrow engine inside the same state transaction that creates the escrow.
func (e *Engine) LinkEscrow(id [32]byte, escrowID [32]byte) error {
	order, err := e.load(id)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		return ErrTerminalStatus
	}
	order.EscrowID = escrowID
	order.UpdatedAt = e.now()
	return e.store(order)
}

// LinkAuction records the auction running price discovery for the order.
func (e *Engine) LinkAuction(id [32]byte, auctionID [32]byte) error {
	order, err := e.load(id)
	if err != nil {
		return err
	}
	if order.Status != StatusOpen {
		return fmt.Errorf("workorder: cannot attach auction in status %s", order.Status)
	}
	order.AuctionID = auctionID
	order.UpdatedAt = e.now()
	return e.store(order)
}

// ApplyAuctionTerms commits the winning provider and discovered price to the
// order. Milestone amounts are rescaled pro rata against the winning total.
// Reapplying the same provider and total to an already assigned order is a
// no-op, so an auction close interrupted downstream can run again.
func (e *Engine) ApplyAuctionTerms(id [32]byte, provider [20]byte, total *big.Int) (*WorkOrder, error) {
	order, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if order.Status == StatusAssigned && order.Provider == provider &&
		total != nil && order.Total != nil && order.Total.Cmp(total) == 0 {
		return order.Clone(), nil
	}
	if order.Status != StatusOpen {
		return nil, fmt.Errorf("workorder: cannot apply auction terms in status %s", order.Status)
	}
	if provider == ([20]byte{}) || provider == order.Requester {
		return nil, fmt.Errorf("workorder: invalid winning provider")
	}
	if total == nil || total.Sign() <= 0 {
		return nil, fmt.Errorf("workorder: winning total must be positive")
	}
	rescaled, err := RescaleMilestones(order.Milestones, order.Total, total)
	if err != nil {
		return nil, err
	}
	prior := order.Status
	order.Provider = provider
	order.Total = new(big.Int).Set(total)
	order.Milestones = rescaled
	order.Status = StatusAssigned
	order.UpdatedAt = e.now()
	sanitized, err := SanitizeWorkOrder(order)
	if err != nil {
		return nil, err
	}
	if err := e.store(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewStatusEvent(sanitized, prior))
	return sanitized.Clone(), nil
}

// MarkDisputed freezes the order behind an open dispute.
func (e *Engine) MarkDisputed(id [32]byte) error {
	return e.mark(id, StatusDisputed)
}

// MarkCompleted finalises the order after full escrow release.
func (e *Engine) MarkCompleted(id [32]byte) error {
	return e.mark(id, StatusCompleted)
}

// MarkCancelled finalises the order after escrow cancellation or a full
// refund resolution.
func (e *Engine) MarkCancelled(id [32]byte) error {
	return e.mark(id, StatusCancelled)
}

func (e *Engine) mark(id [32]byte, to Status) error {
	order, err := e.load(id)
	if err != nil {
		return err
	}
	if order.Status == to {
		return nil
	}
	if order.Status.Terminal() {
		return ErrTerminalStatus
	}
	prior := order.Status
	order.Status = to
	order.UpdatedAt = e.now()
	if err := e.store(order); err != nil {
		return err
	}
	e.emit(NewStatusEvent(order, prior))
	return nil
}

// Get returns a defensive copy of the stored work order.
func (e *Engine) Get(id [32]byte) (*WorkOrder, error) {
	order, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return order.Clone(), nil
}

// RescaleMilestones redistributes milestone amounts proportionally against a
// new total, assigning any integer remainder to the final milestone so the sum
// matches exactly.
func RescaleMilestones(milestones []*Milestone, oldTotal, newTotal *big.Int) ([]*Milestone, error) {
	if len(milestones) == 0 {
		return nil, fmt.Errorf("workorder: no milestones to rescale")
	}
	if oldTotal == nil || oldTotal.Sign() <= 0 || newTotal == nil || newTotal.Sign() <= 0 {
		return nil, fmt.Errorf("workorder: totals must be positive")
	}
	out := make([]*Milestone, len(milestones))
	assigned := big.NewInt(0)
	for i, m := range milestones {
		if m == nil || m.Amount == nil {
			return nil, fmt.Errorf("%w: milestone %d missing amount", ErrInvalidMilestone, i)
		}
		clone := m.Clone()
		if i == len(milestones)-1 {
			clone.Amount = new(big.Int).Sub(newTotal, assigned)
		} else {
			scaled := new(big.Int).Mul(m.Amount, newTotal)
			scaled.Div(scaled, oldTotal)
			clone.Amount = scaled
			assigned.Add(assigned, scaled)
		}
		if clone.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: milestone %d rescales to zero", ErrInvalidMilestone, i)
		}
		out[i] = clone
	}
	return out, nil
}
