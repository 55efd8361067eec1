package auction

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"gavel/core/events"
	"gavel/core/types"
	nativecommon "gavel/native/common"
	"gavel/native/escrow"
	"gavel/native/workorder"
)

const moduleName = "auction"

var (
	errNilState = errors.New("auction engine: state not configured")
	// ErrNotFound is returned when the auction identifier is unknown.
	ErrNotFound = errors.New("auction engine: auction not found")

	// ErrNotOpen is raised when a bid arrives on a closed or revealing
	// auction.
	ErrNotOpen = errors.New("auction: not open for bids")
	// ErrNotStarted is raised when a bid arrives before the start time.
	ErrNotStarted = errors.New("auction: bidding has not started")
	// ErrEnded is raised when a bid arrives after the end time.
	ErrEnded = errors.New("auction: bidding has ended")
	// ErrNotEnded is raised when close is attempted too early.
	ErrNotEnded = errors.New("auction: bidding still open")
	// ErrBidTooLow is raised when a bid fails the price rules of the
	// mechanism.
	ErrBidTooLow = errors.New("auction: bid below required price")
	// ErrOwnerBid is raised when the listing owner bids on their own
	// auction.
	ErrOwnerBid = errors.New("auction: owner cannot bid")
	// ErrNotOwner guards owner-only operations.
	ErrNotOwner = errors.New("auction: caller is not the owner")
	// ErrWrongMechanism is raised when an operation does not apply to the
	// auction's mechanism.
	ErrWrongMechanism = errors.New("auction: operation not valid for mechanism")
	// ErrHasBids is raised when cancellation is attempted after bids were
	// accepted.
	ErrHasBids = errors.New("auction: bids already accepted")
	// ErrNoCommitment is raised when a reveal has no matching commitment.
	ErrNoCommitment = errors.New("auction: no matching commitment")
	// ErrRevealMismatch is raised when the revealed values do not hash to
	// the commitment. The commitment stays sealed and cannot win.
	ErrRevealMismatch = errors.New("auction: reveal does not match commitment")
	// ErrRevealClosed is raised when a reveal arrives outside the reveal
	// window.
	ErrRevealClosed = errors.New("auction: reveal window closed")
)

type engineState interface {
	AuctionPut(*Auction) error
	AuctionGet(id [32]byte) (*Auction, bool)
}

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

// Engine drives auction listings for open work orders. Closing a winning
// auction assigns the winner as provider on the work order and opens the
// matching escrow in the same operation.
type Engine struct {
	state      engineState
	emitter    events.Emitter
	workOrders *workorder.Engine
	escrows    *escrow.Engine
	quota      nativecommon.Quota
	nowFn      func() int64
	pauses     nativecommon.PauseView
}

// NewEngine creates an auction engine with a no-op emitter and no bid quota.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetWorkOrders wires the work order engine consulted at creation and close.
func (e *Engine) SetWorkOrders(w *workorder.Engine) { e.workOrders = w }

// SetEscrows wires the escrow engine used to settle a winning close.
func (e *Engine) SetEscrows(esc *escrow.Engine) { e.escrows = esc }

// SetQuota configures the per bidder bid quota. A zero quota disables the
// check.
func (e *Engine) SetQuota(q nativecommon.Quota) { e.quota = q }

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
	e.emitter.Emit(auctionEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) load(id [32]byte) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	a, ok := e.state.AuctionGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (e *Engine) store(a *Auction) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.AuctionPut(a)
}

// Create lists a new auction for an open work order. The definition carries
// mechanism, prices and timing; the identifier is derived from the work
// order, the owner and the caller supplied nonce so resubmissions are
// idempotent.
func (e *Engine) Create(def *Auction, nonce [32]byte) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	sanitized, err := SanitizeAuction(def)
	if err != nil {
		return nil, err
	}
	if e.workOrders != nil {
		order, err := e.workOrders.Get(sanitized.WorkOrderID)
		if err != nil {
			return nil, err
		}
		if order.Status != workorder.StatusOpen {
			return nil, fmt.Errorf("auction: work order is not open")
		}
		if order.Requester != sanitized.Owner {
			return nil, fmt.Errorf("auction: owner is not the work order requester")
		}
		if order.Token != sanitized.Token {
			return nil, fmt.Errorf("auction: token does not match work order")
		}
	}
	id := ethcrypto.Keccak256Hash(sanitized.WorkOrderID[:], sanitized.Owner[:], nonce[:])
	if existing, ok := e.state.AuctionGet(id); ok {
		if existing.WorkOrderID != sanitized.WorkOrderID || existing.Owner != sanitized.Owner ||
			existing.Mechanism != sanitized.Mechanism || existing.Token != sanitized.Token ||
			existing.StartPrice.Cmp(sanitized.StartPrice) != 0 ||
			existing.StartTime != sanitized.StartTime || existing.EndTime != sanitized.EndTime {
			return nil, fmt.Errorf("auction: identifier already exists with different definition")
		}
		return existing, nil
	}
	sanitized.ID = id
	sanitized.SchemaVersion = SchemaVersion
	sanitized.Status = StatusOpen
	sanitized.CreatedAt = e.now()
	sanitized.Extensions = 0
	sanitized.Bids = nil
	sanitized.Commitments = nil
	sanitized.BestBid = nil
	if err := e.store(sanitized); err != nil {
		return nil, err
	}
	if e.workOrders != nil && sanitized.WorkOrderID != ([32]byte{}) {
		if err := e.workOrders.LinkAuction(sanitized.WorkOrderID, id); err != nil {
			return nil, err
		}
	}
	e.emit(NewOpenedEvent(sanitized))
	return sanitized.Clone(), nil
}

func (e *Engine) checkBidWindow(a *Auction, bidder [20]byte, now int64) error {
	if a.Status != StatusOpen {
		if a.Status.Terminal() || a.Status == StatusRevealing {
			return ErrNotOpen
		}
		return ErrNotOpen
	}
	if bidder == a.Owner {
		return ErrOwnerBid
	}
	if now < a.StartTime {
		return ErrNotStarted
	}
	if now >= a.EndTime {
		return ErrEnded
	}
	return e.checkQuota(a, bidder)
}

func (e *Engine) checkQuota(a *Auction, bidder [20]byte) error {
	if e.quota.MaxRequestsPerEpoch == 0 {
		return nil
	}
	prev := nativecommon.QuotaNow{ReqCount: a.BidCount(bidder)}
	_, err := nativecommon.CheckQuota(e.quota, 0, prev, 1, 0)
	return err
}

// extendOnSnipe pushes the end time out when a bid lands inside the anti
// sniping window, bounded by the configured extension cap.
func (e *Engine) extendOnSnipe(a *Auction, now int64) bool {
	if a.SnipeWindow <= 0 || a.SnipeExtension <= 0 {
		return false
	}
	if a.EndTime-now > a.SnipeWindow {
		return false
	}
	if a.Extensions >= a.MaxExtensions {
		return false
	}
	a.EndTime += a.SnipeExtension
	a.Extensions++
	return true
}

// PlaceBid records an open bid under the auction's mechanism rules. Sealed
// bid auctions reject open bids; use CommitBid instead.
func (e *Engine) PlaceBid(id [32]byte, bidder [20]byte, amount *big.Int) error {
	a, err := e.load(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if a.Mechanism == MechanismSealedBid {
		return fmt.Errorf("%w: sealed bids are committed, not placed", ErrWrongMechanism)
	}
	now := e.now()
	if err := e.checkBidWindow(a, bidder, now); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("auction: bid must be positive")
	}
	switch a.Mechanism {
	case MechanismAscending:
		return e.placeAscending(a, bidder, amount, now)
	case MechanismDescending:
		return e.placeDescending(a, bidder, amount, now)
	default:
		return ErrWrongMechanism
	}
}

func (e *Engine) placeAscending(a *Auction, bidder [20]byte, amount *big.Int, now int64) error {
	floor := new(big.Int).Set(a.StartPrice)
	if a.BestBid != nil {
		floor = new(big.Int).Add(a.BestBid.Amount, a.MinStep)
	}
	if amount.Cmp(floor) < 0 {
		return fmt.Errorf("%w: need at least %s", ErrBidTooLow, floor)
	}
	bid := &Bid{
		Bidder:   bidder,
		Amount:   new(big.Int).Set(amount),
		PlacedAt: now,
		Sequence: uint64(len(a.Bids) + len(a.Commitments) + 1),
	}
	a.Bids = append(a.Bids, bid)
	a.BestBid = bid
	extended := e.extendOnSnipe(a, now)
	if a.InstantBuy != nil && amount.Cmp(a.InstantBuy) >= 0 {
		// Instant buy settles immediately at the posted price.
		return e.settle(a, bidder, new(big.Int).Set(a.InstantBuy), now)
	}
	if err := e.store(a); err != nil {
		return err
	}
	e.emit(NewBidEvent(a, bid))
	if extended {
		e.emit(NewExtendedEvent(a))
	}
	return nil
}

func (e *Engine) placeDescending(a *Auction, bidder [20]byte, amount *big.Int, now int64) error {
	price := a.PriceAt(now)
	if amount.Cmp(price) > 0 {
		return fmt.Errorf("%w: posted price is %s", ErrBidTooLow, price)
	}
	if amount.Cmp(a.ReservePrice) < 0 {
		return fmt.Errorf("%w: reserve is %s", ErrBidTooLow, a.ReservePrice)
	}
	bid := &Bid{
		Bidder:   bidder,
		Amount:   new(big.Int).Set(amount),
		PlacedAt: now,
		Sequence: uint64(len(a.Bids) + 1),
	}
	a.Bids = append(a.Bids, bid)
	a.BestBid = bid
	e.emit(NewBidEvent(a, bid))
	// First acceptable bid wins the clock auction outright.
	return e.settle(a, bidder, new(big.Int).Set(amount), now)
}

// PriceAt returns the posted clock price for a descending auction at the
// given instant: a linear walk from the start price down to the reserve over
// the auction window.
func (a *Auction) PriceAt(now int64) *big.Int {
	if a == nil || a.StartPrice == nil {
		return big.NewInt(0)
	}
	if now <= a.StartTime {
		return new(big.Int).Set(a.StartPrice)
	}
	reserve := a.ReservePrice
	if reserve == nil {
		reserve = big.NewInt(0)
	}
	if now >= a.EndTime {
		return new(big.Int).Set(reserve)
	}
	span := new(big.Int).SetInt64(a.EndTime - a.StartTime)
	elapsed := new(big.Int).SetInt64(now - a.StartTime)
	drop := new(big.Int).Sub(a.StartPrice, reserve)
	drop.Mul(drop, elapsed)
	drop.Quo(drop, span)
	return new(big.Int).Sub(a.StartPrice, drop)
}

// CommitBid records a sealed bid commitment. The hash binds the bidder, the
// amount and a nonce; the amount stays hidden until the reveal phase.
func (e *Engine) CommitBid(id [32]byte, bidder [20]byte, hash [32]byte) error {
	a, err := e.load(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if a.Mechanism != MechanismSealedBid {
		return fmt.Errorf("%w: open auctions take bids, not commitments", ErrWrongMechanism)
	}
	now := e.now()
	if err := e.checkBidWindow(a, bidder, now); err != nil {
		return err
	}
	commitment := &Commitment{
		Bidder:      bidder,
		Hash:        hash,
		Sequence:    uint64(len(a.Commitments) + 1),
		CommittedAt: now,
	}
	a.Commitments = append(a.Commitments, commitment)
	if err := e.store(a); err != nil {
		return err
	}
	e.emit(NewCommitEvent(a, commitment))
	return nil
}

// SealedBidHash computes the commitment hash for a sealed bid. Bidders call
// this off auction before committing.
func SealedBidHash(bidder [20]byte, amount *big.Int, nonce []byte) [32]byte {
	amt := amount
	if amt == nil {
		amt = big.NewInt(0)
	}
	return ethcrypto.Keccak256Hash(bidder[:], amt.Bytes(), nonce)
}

// RevealBid opens a sealed commitment after the bidding phase ends. Reveals
// are accepted until the reveal deadline; a commitment that never reveals, or
// whose reveal does not match, cannot win.
func (e *Engine) RevealBid(id [32]byte, bidder [20]byte, amount *big.Int, nonce []byte) error {
	a, err := e.load(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if a.Mechanism != MechanismSealedBid {
		return ErrWrongMechanism
	}
	now := e.now()
	if a.Status.Terminal() {
		return ErrRevealClosed
	}
	if now < a.EndTime {
		return fmt.Errorf("auction: bidding still open, reveals start at %d", a.EndTime)
	}
	if now > a.RevealDeadline() {
		return ErrRevealClosed
	}
	if a.Status == StatusOpen {
		a.Status = StatusRevealing
	}
	want := SealedBidHash(bidder, amount, nonce)
	var match *Commitment
	for _, c := range a.Commitments {
		if c == nil || c.Bidder != bidder || c.Revealed {
			continue
		}
		if bytes.Equal(c.Hash[:], want[:]) {
			match = c
			break
		}
	}
	if match == nil {
		for _, c := range a.Commitments {
			if c != nil && c.Bidder == bidder && !c.Revealed {
				return ErrRevealMismatch
			}
		}
		return ErrNoCommitment
	}
	match.Revealed = true
	match.Amount = new(big.Int).Set(amount)
	match.RevealedAt = now
	if err := e.store(a); err != nil {
		return err
	}
	e.emit(NewRevealEvent(a, match))
	return nil
}

func (a *Auction) allRevealed() bool {
	for _, c := range a.Commitments {
		if c != nil && !c.Revealed {
			return false
		}
	}
	return true
}

// bestReveal selects the winning sealed commitment: the highest revealed
// amount at or above the reserve, earliest commitment winning ties.
func (a *Auction) bestReveal() *Commitment {
	var best *Commitment
	for _, c := range a.Commitments {
		if c == nil || !c.Revealed || c.Amount == nil {
			continue
		}
		if c.Amount.Cmp(a.ReservePrice) < 0 {
			continue
		}
		if best == nil || c.Amount.Cmp(best.Amount) > 0 {
			best = c
		}
	}
	return best
}

// Close settles the auction once its bidding (and for sealed bids, reveal)
// phase has ended. Anyone may invoke the transition. A winning close assigns
// the provider on the work order and opens the escrow before the auction
// record itself is marked closed, so a failure partway leaves the auction
// closable again.
func (e *Engine) Close(id [32]byte, now int64) error {
	a, err := e.load(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if a.Status.Terminal() {
		return nil
	}
	switch a.Mechanism {
	case MechanismAscending:
		if now < a.EndTime {
			return ErrNotEnded
		}
		if a.BestBid == nil || a.BestBid.Amount.Cmp(a.ReservePrice) < 0 {
			return e.cancelUnsold(a, now)
		}
		return e.settle(a, a.BestBid.Bidder, new(big.Int).Set(a.BestBid.Amount), now)
	case MechanismDescending:
		// A clock auction that reaches its end time had no taker.
		if now < a.EndTime {
			return ErrNotEnded
		}
		return e.cancelUnsold(a, now)
	case MechanismSealedBid:
		if now < a.EndTime {
			return ErrNotEnded
		}
		if now <= a.RevealDeadline() && !a.allRevealed() {
			return fmt.Errorf("auction: reveal window open until %d", a.RevealDeadline())
		}
		best := a.bestReveal()
		if best == nil {
			return e.cancelUnsold(a, now)
		}
		return e.settle(a, best.Bidder, new(big.Int).Set(best.Amount), now)
	default:
		return ErrWrongMechanism
	}
}

func (e *Engine) cancelUnsold(a *Auction, now int64) error {
	prior := a.Status
	a.Status = StatusCancelled
	a.ClosedAt = now
	if err := e.store(a); err != nil {
		return err
	}
	e.emit(NewClosedEvent(a, prior))
	return nil
}

// settle commits the winner across all three records. The escrow preflight
// runs before the work order mutates so a transient failure (escrow module
// paused) leaves everything untouched and the close retryable; a work order
// whose delivery deadline already passed settles as unsold instead.
func (e *Engine) settle(a *Auction, winner [20]byte, price *big.Int, now int64) error {
	if e.workOrders != nil && a.WorkOrderID != ([32]byte{}) {
		current, err := e.workOrders.Get(a.WorkOrderID)
		if err != nil {
			return err
		}
		if e.escrows != nil {
			if err := e.escrows.CanCreate(current.Deadline); err != nil {
				if errors.Is(err, escrow.ErrPastDeadline) {
					return e.cancelUnsold(a, now)
				}
				return err
			}
		}
		order, err := e.workOrders.ApplyAuctionTerms(a.WorkOrderID, winner, price)
		if err != nil {
			return err
		}
		if e.escrows != nil {
			esc, err := e.escrows.Create(order.ID, order.Requester, winner, a.Token, price, order.Milestones, order.Deadline)
			if err != nil {
				return err
			}
			a.EscrowID = esc.ID
		}
	}
	prior := a.Status
	a.Winner = winner
	a.ClearingPrice = price
	a.Status = StatusClosed
	a.ClosedAt = now
	if err := e.store(a); err != nil {
		return err
	}
	e.emit(NewClosedEvent(a, prior))
	return nil
}

// Cancel withdraws a listing that has not attracted any bids or commitments.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	a, err := e.load(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if a.Status.Terminal() {
		return ErrNotOpen
	}
	if a.Owner != caller {
		return ErrNotOwner
	}
	if len(a.Bids) > 0 || len(a.Commitments) > 0 {
		return ErrHasBids
	}
	return e.cancelUnsold(a, e.now())
}

// Touch performs due lazy maintenance: sealed auctions move into the reveal
// phase at end time, and any auction whose settlement instant has passed is
// closed.
func (e *Engine) Touch(id [32]byte, now int64) error {
	a, err := e.load(id)
	if err != nil {
		return err
	}
	if a.Status.Terminal() {
		return nil
	}
	switch a.Mechanism {
	case MechanismSealedBid:
		if a.Status == StatusOpen && now >= a.EndTime && now <= a.RevealDeadline() {
			a.Status = StatusRevealing
			if err := e.store(a); err != nil {
				return err
			}
			e.emit(NewRevealPhaseEvent(a))
			return nil
		}
		if now > a.RevealDeadline() || (a.Status == StatusRevealing && a.allRevealed()) {
			return e.Close(id, now)
		}
		return nil
	default:
		if now >= a.EndTime {
			return e.Close(id, now)
		}
		return nil
	}
}

// Get returns a defensive copy of the stored auction.
func (e *Engine) Get(id [32]byte) (*Auction, error) {
	a, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}
