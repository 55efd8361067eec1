package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"gavel/core/events"
	"gavel/core/types"
	nativecommon "gavel/native/common"
	"gavel/native/workorder"
)

const moduleName = "escrow"

var (
	errNilState = errors.New("escrow engine: state not configured")
	// ErrNotFound is returned when the escrow identifier is unknown.
	ErrNotFound = errors.New("escrow engine: escrow not found")

	// ErrInvalidMilestoneSum is raised when milestone amounts do not sum to
	// the declared escrow total.
	ErrInvalidMilestoneSum = errors.New("escrow: milestone amounts do not sum to total")
	// ErrPastDeadline is raised when the expiry does not lie strictly in the
	// future at creation time.
	ErrPastDeadline = errors.New("escrow: expiry not in the future")
	// ErrAmountMismatch is raised when a deposit would push the funded
	// amount past the declared total.
	ErrAmountMismatch = errors.New("escrow: deposit exceeds declared total")
	// ErrNotRecipient guards recipient-only operations.
	ErrNotRecipient = errors.New("escrow: caller is not the recipient")
	// ErrNotDepositor guards depositor-only operations.
	ErrNotDepositor = errors.New("escrow: caller is not the depositor")
	// ErrMilestoneAlreadyFinal is raised when a leg has already been
	// approved or refunded and accepts no further submissions.
	ErrMilestoneAlreadyFinal = errors.New("escrow: milestone already final")
	// ErrMilestoneAlreadySubmitted is raised when a leg is awaiting review.
	ErrMilestoneAlreadySubmitted = errors.New("escrow: milestone already submitted")
	// ErrMilestoneNotSubmitted is raised when approval or rejection targets
	// a leg with nothing under review.
	ErrMilestoneNotSubmitted = errors.New("escrow: milestone not submitted")
	// ErrEmptyRejectReason is raised when a rejection carries no reason.
	ErrEmptyRejectReason = errors.New("escrow: rejection requires a reason")
	// ErrAlreadyReleased is raised when cancellation is attempted after some
	// value has been released.
	ErrAlreadyReleased = errors.New("escrow: value already released")

	// ErrIntegrity marks conditions the invariants make unreachable. The
	// operation aborts entirely and the record is left untouched; surface
	// for out-of-band investigation.
	ErrIntegrity = errors.New("escrow: integrity fault")
)

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	EscrowCredit(id [32]byte, token string, amt *big.Int) error
	EscrowDebit(id [32]byte, token string, amt *big.Int) error
	EscrowVaultAddress(token string) ([20]byte, error)
	Balance(addr [20]byte, token string) (*big.Int, error)
	SetBalance(addr [20]byte, token string, amount *big.Int) error
}

// ReputationRecorder receives reputation deltas on milestone approvals and
// dispute resolutions. Calls are fire-and-forget: the engine's own consistency
// never depends on the recorder succeeding.
type ReputationRecorder interface {
	Record(subject [20]byte, delta int64, reason string)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow business logic with external state and event
// emitters. Every operation re-reads the current record, validates its
// preconditions against that exact snapshot and either commits fully or leaves
// the record untouched.
type Engine struct {
	state       engineState
	emitter     events.Emitter
	workOrders  *workorder.Engine
	reputation  ReputationRecorder
	gracePeriod int64
	nowFn       func() int64
	pauses      nativecommon.PauseView
}

const defaultGracePeriodSecs int64 = 72 * 3600

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:     events.NoopEmitter{},
		gracePeriod: defaultGracePeriodSecs,
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetWorkOrders wires the work order engine so lifecycle transitions follow
// escrow settlement inside the same state transaction.
func (e *Engine) SetWorkOrders(w *workorder.Engine) { e.workOrders = w }

// SetReputation configures the fire-and-forget reputation sink.
func (e *Engine) SetReputation(r ReputationRecorder) { e.reputation = r }

// SetPauses configures the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetGracePeriod overrides the post-expiry dispute window in seconds.
func (e *Engine) SetGracePeriod(secs int64) {
	if secs > 0 {
		e.gracePeriod = secs
	}
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

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) record(subject [20]byte, delta int64, reason string) {
	if e == nil || e.reputation == nil {
		return
	}
	e.reputation.Record(subject, delta, reason)
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

// transferToken moves value between ledger balances. The vault address backing
// each escrow is only ever a source or destination here; no other component
// touches it.
func (e *Engine) transferToken(from, to [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneOrZero(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	normalized, err := nativecommon.NormalizeAsset(token)
	if err != nil {
		return err
	}
	fromBal, err := e.state.Balance(from, normalized)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return fmt.Errorf("escrow: insufficient balance")
	}
	toBal, err := e.state.Balance(to, normalized)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(from, normalized, new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	return e.state.SetBalance(to, normalized, new(big.Int).Add(toBal, amt))
}

// CanCreate reports whether a new escrow expiring at the given instant could
// be opened right now. Callers that stage escrow creation behind other state
// changes check it first so a doomed creation fails before anything mutates.
func (e *Engine) CanCreate(expiry int64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if expiry <= e.now() {
		return ErrPastDeadline
	}
	return nil
}

// Create initialises and persists a new escrow for the supplied work order
// terms. The identifier is derived from the work order, depositor and
// recipient so resubmissions are idempotent.
func (e *Engine) Create(workOrderID [32]byte, depositor, recipient [20]byte, token string, total *big.Int, milestones []*workorder.Milestone, expiry int64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	normalized, err := nativecommon.NormalizeAsset(token)
	if err != nil {
		return nil, err
	}
	if total == nil || total.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: total must be positive")
	}
	if depositor == ([20]byte{}) || recipient == ([20]byte{}) {
		return nil, fmt.Errorf("escrow: parties must not be the zero address")
	}
	if depositor == recipient {
		return nil, fmt.Errorf("escrow: depositor and recipient must differ")
	}
	now := e.now()
	if expiry <= now {
		return nil, ErrPastDeadline
	}
	if len(milestones) == 0 {
		return nil, fmt.Errorf("escrow: at least one milestone required")
	}
	legs := make([]*Milestone, len(milestones))
	sum := big.NewInt(0)
	for i, def := range milestones {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		legs[i] = &Milestone{
			Title:  def.Title,
			Amount: new(big.Int).Set(def.Amount),
			DueAt:  def.DueAt,
			Status: MilestonePending,
		}
		sum.Add(sum, def.Amount)
	}
	if sum.Cmp(total) != 0 {
		return nil, ErrInvalidMilestoneSum
	}
	id := ethcrypto.Keccak256Hash(workOrderID[:], depositor[:], recipient[:])
	if existing, ok := e.state.EscrowGet(id); ok {
		if existing.WorkOrderID != workOrderID || existing.Depositor != depositor ||
			existing.Recipient != recipient || existing.Token != normalized ||
			existing.Total.Cmp(total) != 0 || existing.Expiry != expiry {
			return nil, fmt.Errorf("escrow: identifier already exists with different definition")
		}
		return existing, nil
	}
	esc := &Escrow{
		ID:            id,
		SchemaVersion: SchemaVersion,
		WorkOrderID:   workOrderID,
		Depositor:     depositor,
		Recipient:     recipient,
		Token:         normalized,
		Total:         new(big.Int).Set(total),
		Deposited:     big.NewInt(0),
		Released:      big.NewInt(0),
		Refunded:      big.NewInt(0),
		Expiry:        expiry,
		CreatedAt:     now,
		Status:        StatusPendingFunding,
		Milestones:    legs,
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	if e.workOrders != nil && workOrderID != ([32]byte{}) {
		if err := e.workOrders.LinkEscrow(workOrderID, id); err != nil {
			return nil, err
		}
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// Fund moves part or all of the declared total from the depositor to the
// escrow vault. Partial deposits are held but do not unlock work; the escrow
// activates once the deposit matches the declared total.
func (e *Engine) Fund(id [32]byte, from [20]byte, amount *big.Int) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if esc.Status != StatusPendingFunding {
		return fmt.Errorf("escrow: cannot fund in status %s", esc.Status)
	}
	if esc.Depositor != from {
		return ErrNotDepositor
	}
	amt := cloneOrZero(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("escrow: deposit must be positive")
	}
	next := new(big.Int).Add(esc.Deposited, amt)
	if next.Cmp(esc.Total) > 0 {
		return ErrAmountMismatch
	}
	vault, err := e.state.EscrowVaultAddress(esc.Token)
	if err != nil {
		return err
	}
	if err := e.transferToken(esc.Depositor, vault, esc.Token, amt); err != nil {
		return err
	}
	if err := e.state.EscrowCredit(id, esc.Token, amt); err != nil {
		return err
	}
	prior := esc.Status
	esc.Deposited = next
	if esc.FullyFunded() {
		esc.Status = StatusActive
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	if esc.Status == StatusActive {
		e.emit(NewFundedEvent(esc, prior))
	} else {
		e.emit(NewPartialFundedEvent(esc))
	}
	return nil
}

// SubmitMilestone records delivered work for a leg. Only the recipient may
// submit; the proof reference must be non-empty.
func (e *Engine) SubmitMilestone(id [32]byte, caller [20]byte, index int, proof string) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if esc.Status != StatusActive {
		return fmt.Errorf("escrow: cannot submit in status %s", esc.Status)
	}
	if esc.Recipient != caller {
		return ErrNotRecipient
	}
	leg, err := esc.leg(index)
	if err != nil {
		return err
	}
	switch leg.Status {
	case MilestonePending, MilestoneRejected:
	case MilestoneSubmitted:
		return ErrMilestoneAlreadySubmitted
	default:
		return ErrMilestoneAlreadyFinal
	}
	if strings.TrimSpace(proof) == "" {
		return fmt.Errorf("escrow: proof reference required")
	}
	leg.Status = MilestoneSubmitted
	leg.Proof = strings.TrimSpace(proof)
	leg.SubmittedAt = e.now()
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewMilestoneEvent(EventTypeMilestoneSubmitted, esc, index))
	return nil
}

// ApproveMilestone releases a submitted leg's value to the recipient. Only the
// depositor may approve. Approvals remain possible during the post-expiry
// grace window.
func (e *Engine) ApproveMilestone(id [32]byte, caller [20]byte, index int) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if esc.Status != StatusActive && esc.Status != StatusGrace {
		return fmt.Errorf("escrow: cannot approve in status %s", esc.Status)
	}
	if esc.Depositor != caller {
		return ErrNotDepositor
	}
	leg, err := esc.leg(index)
	if err != nil {
		return err
	}
	if leg.Status != MilestoneSubmitted {
		return ErrMilestoneNotSubmitted
	}
	if err := e.releaseLeg(esc, leg); err != nil {
		return err
	}
	if err := e.finalizeIfSettled(esc); err != nil {
		return err
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewMilestoneEvent(EventTypeMilestoneApproved, esc, index))
	e.record(esc.Recipient, 1, "milestone_approved")
	return nil
}

// releaseLeg pays out one submitted leg and marks it approved. The
// conservation check runs against the post-release accounting before any
// value moves; a violation aborts the operation entirely.
func (e *Engine) releaseLeg(esc *Escrow, leg *Milestone) error {
	amt := cloneOrZero(leg.Amount)
	projected := esc.Clone()
	projected.Released = new(big.Int).Add(projected.Released, amt)
	if err := projected.checkConservation(); err != nil {
		return err
	}
	vault, err := e.state.EscrowVaultAddress(esc.Token)
	if err != nil {
		return err
	}
	if err := e.transferToken(vault, esc.Recipient, esc.Token, amt); err != nil {
		return err
	}
	if err := e.state.EscrowDebit(esc.ID, esc.Token, amt); err != nil {
		return err
	}
	esc.Released = new(big.Int).Add(esc.Released, amt)
	leg.Status = MilestoneApproved
	leg.FinalizedAt = e.now()
	return nil
}

// refundValue returns held value to the depositor and books it as refunded.
func (e *Engine) refundValue(esc *Escrow, amount *big.Int) error {
	amt := cloneOrZero(amount)
	if amt.Sign() == 0 {
		return nil
	}
	projected := esc.Clone()
	projected.Refunded = new(big.Int).Add(projected.Refunded, amt)
	if err := projected.checkConservation(); err != nil {
		return err
	}
	vault, err := e.state.EscrowVaultAddress(esc.Token)
	if err != nil {
		return err
	}
	if err := e.transferToken(vault, esc.Depositor, esc.Token, amt); err != nil {
		return err
	}
	if err := e.state.EscrowDebit(esc.ID, esc.Token, amt); err != nil {
		return err
	}
	esc.Refunded = new(big.Int).Add(esc.Refunded, amt)
	return nil
}

// finalizeIfSettled closes the escrow once no leg can move and nothing is
// held, and propagates completion to the work order.
func (e *Engine) finalizeIfSettled(esc *Escrow) error {
	if esc.HasOpenLegs() || esc.Held().Sign() != 0 {
		return nil
	}
	prior := esc.Status
	if esc.Released.Sign() > 0 {
		esc.Status = StatusClosed
	} else {
		esc.Status = StatusCancelled
	}
	if prior == esc.Status {
		return nil
	}
	e.emit(NewStatusEvent(esc, prior))
	if e.workOrders == nil || esc.WorkOrderID == ([32]byte{}) {
		return nil
	}
	if esc.Status == StatusClosed {
		return e.workOrders.MarkCompleted(esc.WorkOrderID)
	}
	return e.workOrders.MarkCancelled(esc.WorkOrderID)
}

// RejectMilestone turns down a submitted leg with a mandatory reason. The
// recipient may resubmit; repeated rejection is allowed.
func (e *Engine) RejectMilestone(id [32]byte, caller [20]byte, index int, reason string) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if esc.Status != StatusActive && esc.Status != StatusGrace {
		return fmt.Errorf("escrow: cannot reject in status %s", esc.Status)
	}
	if esc.Depositor != caller {
		return ErrNotDepositor
	}
	leg, err := esc.leg(index)
	if err != nil {
		return err
	}
	if leg.Status != MilestoneSubmitted {
		return ErrMilestoneNotSubmitted
	}
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return ErrEmptyRejectReason
	}
	leg.Status = MilestoneRejected
	leg.RejectReason = trimmed
	leg.Rejections++
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewMilestoneEvent(EventTypeMilestoneRejected, esc, index))
	return nil
}

// Cancel refunds the full deposit to the depositor. Permitted only while no
// value has been released.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if esc.Status != StatusPendingFunding && esc.Status != StatusActive {
		return fmt.Errorf("escrow: cannot cancel in status %s", esc.Status)
	}
	if esc.Depositor != caller {
		return ErrNotDepositor
	}
	if esc.Released.Sign() != 0 {
		return ErrAlreadyReleased
	}
	prior := esc.Status
	if err := e.refundValue(esc, esc.Held()); err != nil {
		return err
	}
	for _, leg := range esc.Milestones {
		if !leg.Status.Final() {
			leg.Status = MilestoneExpired
			leg.FinalizedAt = e.now()
		}
	}
	esc.Status = StatusCancelled
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewStatusEvent(esc, prior))
	if e.workOrders != nil && esc.WorkOrderID != ([32]byte{}) {
		return e.workOrders.MarkCancelled(esc.WorkOrderID)
	}
	return nil
}

// Expire runs the time-based transition once the expiry passes with
// unresolved milestones. Unresolved value is refunded to the depositor;
// submitted-but-unapproved value is held through a grace-period dispute
// window. Anyone may invoke the transition.
func (e *Engine) Expire(id [32]byte, now int64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if esc.Status.Terminal() || esc.Status == StatusDisputed || esc.Status == StatusGrace {
		return nil
	}
	if now < esc.Expiry {
		return fmt.Errorf("escrow: expiry not reached")
	}
	prior := esc.Status
	if esc.Status == StatusPendingFunding {
		// Nothing unlocked yet: return any partial deposit and cancel.
		if err := e.refundValue(esc, esc.Held()); err != nil {
			return err
		}
		for _, leg := range esc.Milestones {
			leg.Status = MilestoneExpired
			leg.FinalizedAt = now
		}
		esc.Status = StatusCancelled
		if err := e.storeEscrow(esc); err != nil {
			return err
		}
		e.emit(NewExpiredEvent(esc, prior))
		if e.workOrders != nil && esc.WorkOrderID != ([32]byte{}) {
			return e.workOrders.MarkCancelled(esc.WorkOrderID)
		}
		return nil
	}
	refund := big.NewInt(0)
	submitted := false
	for _, leg := range esc.Milestones {
		switch leg.Status {
		case MilestonePending, MilestoneRejected:
			refund.Add(refund, leg.Amount)
			leg.Status = MilestoneExpired
			leg.FinalizedAt = now
		case MilestoneSubmitted:
			submitted = true
		}
	}
	if err := e.refundValue(esc, refund); err != nil {
		return err
	}
	if submitted {
		esc.Status = StatusGrace
		esc.GraceUntil = now + e.gracePeriod
		if err := e.storeEscrow(esc); err != nil {
			return err
		}
		e.emit(NewExpiredEvent(esc, prior))
		return nil
	}
	if err := e.finalizeIfSettled(esc); err != nil {
		return err
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewExpiredEvent(esc, prior))
	return nil
}

// SettleGrace releases submitted-but-unapproved legs to the recipient once the
// grace window passes without a dispute. The depositor had the window to
// contest; silence settles in favour of the delivered work.
func (e *Engine) SettleGrace(id [32]byte, now int64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if esc.Status != StatusGrace {
		return nil
	}
	if now < esc.GraceUntil {
		return fmt.Errorf("escrow: grace window still open")
	}
	prior := esc.Status
	for i, leg := range esc.Milestones {
		if leg.Status != MilestoneSubmitted {
			continue
		}
		if err := e.releaseLeg(esc, leg); err != nil {
			return err
		}
		e.emit(NewMilestoneEvent(EventTypeMilestoneApproved, esc, i))
		e.record(esc.Recipient, 1, "grace_settled")
	}
	esc.Status = StatusActive // settled below by finalize
	if err := e.finalizeIfSettled(esc); err != nil {
		return err
	}
	if !esc.Status.Terminal() {
		esc.Status = prior
		return fmt.Errorf("%w: grace settlement left value in custody for %x", ErrIntegrity, esc.ID)
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	return nil
}

// Touch performs all due lazy maintenance for the escrow: expiry first, then
// grace settlement. External schedulers call it periodically; there is no
// background task inside the engine.
func (e *Engine) Touch(id [32]byte, now int64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status == StatusGrace {
		if now < esc.GraceUntil {
			return nil
		}
		return e.SettleGrace(id, now)
	}
	if esc.Status.Terminal() || esc.Status == StatusDisputed {
		return nil
	}
	if now < esc.Expiry {
		return nil
	}
	if err := e.Expire(id, now); err != nil {
		return err
	}
	esc, err = e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status == StatusGrace && now >= esc.GraceUntil {
		return e.SettleGrace(id, now)
	}
	return nil
}

// BeginDispute freezes the escrow behind an open dispute. Only callable via
// the dispute resolver; a dispute may be opened only while work is in flight
// with at least one pending or submitted leg.
func (e *Engine) BeginDispute(id [32]byte, disputeID [32]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if esc.Status != StatusActive && esc.Status != StatusGrace {
		return fmt.Errorf("escrow: cannot dispute in status %s", esc.Status)
	}
	eligible := false
	for _, leg := range esc.Milestones {
		if leg.Status == MilestonePending || leg.Status == MilestoneSubmitted || leg.Status == MilestoneRejected {
			eligible = true
			break
		}
	}
	if !eligible {
		return fmt.Errorf("escrow: no contestable milestones")
	}
	prior := esc.Status
	for _, leg := range esc.Milestones {
		if !leg.Status.Final() {
			leg.Status = MilestoneDisputed
		}
	}
	esc.Status = StatusDisputed
	esc.DisputeID = disputeID
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewStatusEvent(esc, prior))
	if e.workOrders != nil && esc.WorkOrderID != ([32]byte{}) {
		return e.workOrders.MarkDisputed(esc.WorkOrderID)
	}
	return nil
}

// ResolveDispute applies a binding split of the held value and closes the
// escrow. The split must cover the held amount exactly; the caller (the
// dispute resolver) has already validated authority over the dispute.
func (e *Engine) ResolveDispute(id [32]byte, disputeID [32]byte, toRecipient, toDepositor *big.Int) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if esc.Status != StatusDisputed {
		return fmt.Errorf("escrow: cannot resolve in status %s", esc.Status)
	}
	if esc.DisputeID != disputeID {
		return fmt.Errorf("escrow: dispute identifier mismatch")
	}
	release := cloneOrZero(toRecipient)
	refund := cloneOrZero(toDepositor)
	if release.Sign() < 0 || refund.Sign() < 0 {
		return fmt.Errorf("escrow: split amounts must be non-negative")
	}
	total := new(big.Int).Add(release, refund)
	if total.Cmp(esc.Held()) != 0 {
		return fmt.Errorf("%w: split %s does not match held %s", ErrIntegrity, total, esc.Held())
	}
	vault, err := e.state.EscrowVaultAddress(esc.Token)
	if err != nil {
		return err
	}
	if release.Sign() > 0 {
		if err := e.transferToken(vault, esc.Recipient, esc.Token, release); err != nil {
			return err
		}
	}
	if refund.Sign() > 0 {
		if err := e.transferToken(vault, esc.Depositor, esc.Token, refund); err != nil {
			return err
		}
	}
	if err := e.state.EscrowDebit(esc.ID, esc.Token, total); err != nil {
		return err
	}
	prior := esc.Status
	esc.Released = new(big.Int).Add(esc.Released, release)
	esc.Refunded = new(big.Int).Add(esc.Refunded, refund)
	if err := esc.checkConservation(); err != nil {
		return err
	}
	now := e.now()
	for _, leg := range esc.Milestones {
		if !leg.Status.Final() {
			leg.Status = MilestoneResolved
			leg.FinalizedAt = now
		}
	}
	if esc.Released.Sign() > 0 {
		esc.Status = StatusClosed
	} else {
		esc.Status = StatusCancelled
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewStatusEvent(esc, prior))
	if e.workOrders != nil && esc.WorkOrderID != ([32]byte{}) {
		if esc.Status == StatusClosed {
			return e.workOrders.MarkCompleted(esc.WorkOrderID)
		}
		return e.workOrders.MarkCancelled(esc.WorkOrderID)
	}
	return nil
}

// Get returns a defensive copy of the stored escrow.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

func (esc *Escrow) leg(index int) (*Milestone, error) {
	if index < 0 || index >= len(esc.Milestones) {
		return nil, fmt.Errorf("escrow: milestone index %d out of range", index)
	}
	leg := esc.Milestones[index]
	if leg == nil {
		return nil, fmt.Errorf("%w: nil leg at index %d", ErrInvalidMilestone, index)
	}
	return leg, nil
}
