package dispute

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
	"gavel/native/escrow"
)

const moduleName = "dispute"

var (
	errNilState = errors.New("dispute engine: state not configured")
	// ErrNotFound is returned when the dispute identifier is unknown.
	ErrNotFound = errors.New("dispute engine: dispute not found")

	// ErrNotParty guards operations reserved for the filer or respondent.
	ErrNotParty = errors.New("dispute: caller is not a party")
	// ErrNotArbitrator guards the binding ruling.
	ErrNotArbitrator = errors.New("dispute: caller is not the arbitrator")
	// ErrNoArbitrator is raised when no arbitrator is configured.
	ErrNoArbitrator = errors.New("dispute: no arbitrator configured")
	// ErrAlreadyResolved is raised when an operation targets a settled
	// dispute.
	ErrAlreadyResolved = errors.New("dispute: already resolved")
	// ErrAlreadyResponded is raised on a second response.
	ErrAlreadyResponded = errors.New("dispute: response already recorded")
	// ErrInvalidSplit is raised when a proposal or ruling does not cover the
	// escrow's held value exactly.
	ErrInvalidSplit = errors.New("dispute: split does not cover held value")
	// ErrAgreementWindowOpen is raised when the arbitrator rules before the
	// parties' agreement window has elapsed.
	ErrAgreementWindowOpen = errors.New("dispute: agreement window still open")
	// ErrDeadlineNotReached is raised when the timeout fallback runs early.
	ErrDeadlineNotReached = errors.New("dispute: deadline not reached")
)

type engineState interface {
	DisputePut(*Dispute) error
	DisputeGet(id [32]byte) (*Dispute, bool)
}

// ReputationRecorder mirrors the escrow engine's fire-and-forget sink.
type ReputationRecorder interface {
	Record(subject [20]byte, delta int64, reason string)
}

// SplitPolicy computes the fallback split of the held value when a dispute
// times out without agreement or ruling.
type SplitPolicy func(esc *escrow.Escrow) (toRecipient, toDepositor *big.Int)

// ProRataSplit is the default timeout policy: the recipient receives the held
// value scaled by the share of milestone value already approved, rounded
// down, and the depositor receives the rest. With nothing approved the whole
// held value returns to the depositor.
func ProRataSplit(esc *escrow.Escrow) (*big.Int, *big.Int) {
	held := esc.Held()
	approved := big.NewInt(0)
	for _, leg := range esc.Milestones {
		if leg != nil && leg.Status == escrow.MilestoneApproved && leg.Amount != nil {
			approved.Add(approved, leg.Amount)
		}
	}
	total := esc.MilestoneSum()
	if total.Sign() == 0 || approved.Sign() == 0 {
		return big.NewInt(0), held
	}
	toRecipient := new(big.Int).Mul(held, approved)
	toRecipient.Quo(toRecipient, total)
	toDepositor := new(big.Int).Sub(held, toRecipient)
	return toRecipient, toDepositor
}

type disputeEvent struct {
	evt *types.Event
}

func (e disputeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e disputeEvent) Event() *types.Event { return e.evt }

const (
	defaultAgreementWindowSecs int64 = 48 * 3600
	defaultMaxDurationSecs     int64 = 7 * 24 * 3600
)

// Engine resolves contested escrows. Settlement has three paths, tried in
// order of preference: matching proposals from both parties, a binding
// arbitrator ruling after the agreement window, and a policy driven fallback
// split at the deadline.
type Engine struct {
	state           engineState
	emitter         events.Emitter
	escrows         *escrow.Engine
	reputation      ReputationRecorder
	arbitrator      [20]byte
	agreementWindow int64
	maxDuration     int64
	splitPolicy     SplitPolicy
	nowFn           func() int64
	pauses          nativecommon.PauseView
}

// NewEngine creates a dispute engine with default windows and the pro rata
// timeout policy.
func NewEngine() *Engine {
	return &Engine{
		emitter:         events.NoopEmitter{},
		agreementWindow: defaultAgreementWindowSecs,
		maxDuration:     defaultMaxDurationSecs,
		splitPolicy:     ProRataSplit,
		nowFn:           func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEscrows wires the escrow engine holding the contested value.
func (e *Engine) SetEscrows(esc *escrow.Engine) { e.escrows = esc }

// SetReputation configures the fire-and-forget reputation sink.
func (e *Engine) SetReputation(r ReputationRecorder) { e.reputation = r }

// SetArbitrator configures the address empowered to issue binding rulings.
func (e *Engine) SetArbitrator(addr [20]byte) { e.arbitrator = addr }

// SetWindows overrides the agreement window and the overall deadline, both in
// seconds. Non-positive values keep the current setting.
func (e *Engine) SetWindows(agreementSecs, maxDurationSecs int64) {
	if agreementSecs > 0 {
		e.agreementWindow = agreementSecs
	}
	if maxDurationSecs > 0 {
		e.maxDuration = maxDurationSecs
	}
}

// SetSplitPolicy overrides the timeout fallback policy. Passing nil restores
// the pro rata default.
func (e *Engine) SetSplitPolicy(p SplitPolicy) {
	if p == nil {
		e.splitPolicy = ProRataSplit
		return
	}
	e.splitPolicy = p
}

// SetPauses configures the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine.
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
	e.emitter.Emit(disputeEvent{evt: event})
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

func (e *Engine) load(id [32]byte) (*Dispute, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	d, ok := e.state.DisputeGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (e *Engine) store(d *Dispute) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.DisputePut(d)
}

// DisputeID derives the identifier for a dispute over the given escrow. One
// escrow carries at most one dispute.
func DisputeID(escrowID [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash([]byte("dispute"), escrowID[:])
}

// normalizeEvidence trims the supplied content references and drops blanks.
// References are stored verbatim beyond that; the engine never dereferences
// them.
func normalizeEvidence(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if trimmed := strings.TrimSpace(ref); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Open files a dispute over an escrow. Only the depositor or the recipient
// may file; the other party becomes the respondent. The escrow and its
// in-flight milestones freeze until the dispute settles.
func (e *Engine) Open(escrowID [32]byte, filer [20]byte, reason string, evidence []string) (*Dispute, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.escrows == nil {
		return nil, errors.New("dispute engine: escrow engine not configured")
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return nil, fmt.Errorf("dispute: reason required")
	}
	esc, err := e.escrows.Get(escrowID)
	if err != nil {
		return nil, err
	}
	var respondent [20]byte
	switch filer {
	case esc.Depositor:
		respondent = esc.Recipient
	case esc.Recipient:
		respondent = esc.Depositor
	default:
		return nil, ErrNotParty
	}
	id := DisputeID(escrowID)
	if existing, ok := e.state.DisputeGet(id); ok {
		if existing.Status == StatusOpen && existing.Filer == filer {
			return existing, nil
		}
		return nil, fmt.Errorf("dispute: escrow already disputed")
	}
	now := e.now()
	d := &Dispute{
		ID:             id,
		SchemaVersion:  SchemaVersion,
		EscrowID:       escrowID,
		WorkOrderID:    esc.WorkOrderID,
		Filer:          filer,
		Respondent:     respondent,
		Reason:         trimmed,
		Evidence:       normalizeEvidence(evidence),
		OpenedAt:       now,
		AgreementUntil: now + e.agreementWindow,
		Deadline:       now + e.maxDuration,
		Status:         StatusOpen,
		Outcome:        OutcomeNone,
	}
	if err := e.escrows.BeginDispute(escrowID, id); err != nil {
		return nil, err
	}
	if err := e.store(d); err != nil {
		return nil, err
	}
	e.emit(NewOpenedEvent(d))
	return d.Clone(), nil
}

// Respond records the respondent's statement. One statement per dispute.
func (e *Engine) Respond(id [32]byte, caller [20]byte, statement string, counterEvidence []string) error {
	d, err := e.load(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if d.Status != StatusOpen {
		return ErrAlreadyResolved
	}
	if caller != d.Respondent {
		return ErrNotParty
	}
	if d.Responded {
		return ErrAlreadyResponded
	}
	trimmed := strings.TrimSpace(statement)
	if trimmed == "" {
		return fmt.Errorf("dispute: statement required")
	}
	d.Response = trimmed
	d.CounterEvidence = normalizeEvidence(counterEvidence)
	d.Responded = true
	if err := e.store(d); err != nil {
		return err
	}
	e.emit(NewRespondedEvent(d))
	return nil
}

func (e *Engine) heldValue(d *Dispute) (*big.Int, error) {
	esc, err := e.escrows.Get(d.EscrowID)
	if err != nil {
		return nil, err
	}
	return esc.Held(), nil
}

func checkSplit(held, toRecipient, toDepositor *big.Int) error {
	if toRecipient == nil || toDepositor == nil ||
		toRecipient.Sign() < 0 || toDepositor.Sign() < 0 {
		return fmt.Errorf("%w: amounts must be non-negative", ErrInvalidSplit)
	}
	sum := new(big.Int).Add(toRecipient, toDepositor)
	if sum.Cmp(held) != 0 {
		return fmt.Errorf("%w: proposed %s, held %s", ErrInvalidSplit, sum, held)
	}
	return nil
}

// ProposeResolution records a party's suggested split of the held value. A
// later proposal from the same party replaces the earlier one. When both
// parties' latest proposals match, the dispute settles immediately by mutual
// agreement; no arbitrator involvement is needed.
func (e *Engine) ProposeResolution(id [32]byte, caller [20]byte, toRecipient, toDepositor *big.Int) error {
	d, err := e.load(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if d.Status != StatusOpen {
		return ErrAlreadyResolved
	}
	if !d.Party(caller) {
		return ErrNotParty
	}
	held, err := e.heldValue(d)
	if err != nil {
		return err
	}
	if err := checkSplit(held, toRecipient, toDepositor); err != nil {
		return err
	}
	proposal := &Proposal{
		ToRecipient: new(big.Int).Set(toRecipient),
		ToDepositor: new(big.Int).Set(toDepositor),
		ProposedAt:  e.now(),
	}
	if caller == d.Filer {
		d.FilerProposal = proposal
	} else {
		d.RespondentProposal = proposal
	}
	if d.FilerProposal.Equal(d.RespondentProposal) {
		if err := e.settle(d, OutcomeAgreement, proposal.ToRecipient, proposal.ToDepositor); err != nil {
			return err
		}
		e.record(d.Filer, 1, "dispute_agreed")
		e.record(d.Respondent, 1, "dispute_agreed")
		return nil
	}
	if err := e.store(d); err != nil {
		return err
	}
	e.emit(NewProposalEvent(d, caller, proposal))
	return nil
}

// Resolve applies a binding arbitrator ruling. The arbitrator must wait out
// the agreement window; the parties keep the first chance to settle.
func (e *Engine) Resolve(id [32]byte, caller [20]byte, toRecipient, toDepositor *big.Int) error {
	d, err := e.load(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if d.Status != StatusOpen {
		return ErrAlreadyResolved
	}
	if e.arbitrator == ([20]byte{}) {
		return ErrNoArbitrator
	}
	if caller != e.arbitrator {
		return ErrNotArbitrator
	}
	if e.now() < d.AgreementUntil {
		return ErrAgreementWindowOpen
	}
	held, err := e.heldValue(d)
	if err != nil {
		return err
	}
	if err := checkSplit(held, toRecipient, toDepositor); err != nil {
		return err
	}
	return e.settle(d, OutcomeArbitration, new(big.Int).Set(toRecipient), new(big.Int).Set(toDepositor))
}

// TryTimeout applies the fallback policy once the deadline passes with the
// dispute still open. Anyone may invoke the transition.
func (e *Engine) TryTimeout(id [32]byte, now int64) error {
	d, err := e.load(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if d.Status != StatusOpen {
		return nil
	}
	if now < d.Deadline {
		return ErrDeadlineNotReached
	}
	esc, err := e.escrows.Get(d.EscrowID)
	if err != nil {
		return err
	}
	toRecipient, toDepositor := e.splitPolicy(esc)
	if err := checkSplit(esc.Held(), toRecipient, toDepositor); err != nil {
		return err
	}
	if err := e.settle(d, OutcomeTimeout, toRecipient, toDepositor); err != nil {
		return err
	}
	e.record(d.Filer, -1, "dispute_timeout")
	return nil
}

// settle applies the split to the escrow, then persists the resolved dispute.
// The escrow moves first so a partial failure leaves the dispute open and the
// settlement retryable.
func (e *Engine) settle(d *Dispute, outcome Outcome, toRecipient, toDepositor *big.Int) error {
	if err := e.escrows.ResolveDispute(d.EscrowID, d.ID, toRecipient, toDepositor); err != nil {
		return err
	}
	d.Status = StatusResolved
	d.Outcome = outcome
	d.ResolvedAt = e.now()
	d.AwardRecipient = toRecipient
	d.AwardDepositor = toDepositor
	if err := e.store(d); err != nil {
		return err
	}
	e.emit(NewResolvedEvent(d))
	return nil
}

// Get returns a defensive copy of the stored dispute.
func (e *Engine) Get(id [32]byte) (*Dispute, error) {
	d, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}
