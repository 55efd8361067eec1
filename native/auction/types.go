package auction

import (
	"errors"
	"fmt"
	"math/big"

	"gavel/native/common"
)

// SchemaVersion is persisted with every auction record.
const SchemaVersion uint32 = 1

// Mechanism selects the price discovery rules for an auction.
type Mechanism uint8

const (
	// MechanismAscending runs an open outcry auction: each bid must beat the
	// current best by at least the minimum step, the highest bid wins.
	MechanismAscending Mechanism = iota
	// MechanismDescending runs a clock auction: the posted price falls from
	// the start price toward the reserve, the first acceptable bid wins.
	MechanismDescending
	// MechanismSealedBid collects hash commitments while the auction is
	// open; amounts are revealed after close and the best reveal wins.
	MechanismSealedBid
)

func (m Mechanism) Valid() bool {
	switch m {
	case MechanismAscending, MechanismDescending, MechanismSealedBid:
		return true
	default:
		return false
	}
}

func (m Mechanism) String() string {
	switch m {
	case MechanismAscending:
		return "ascending"
	case MechanismDescending:
		return "descending"
	case MechanismSealedBid:
		return "sealed_bid"
	default:
		return fmt.Sprintf("mechanism(%d)", uint8(m))
	}
}

// Status tracks the auction lifecycle.
type Status uint8

const (
	// StatusOpen accepts bids or commitments.
	StatusOpen Status = iota
	// StatusRevealing accepts sealed bid reveals; no new commitments.
	StatusRevealing
	// StatusClosed is terminal with a settled outcome.
	StatusClosed
	// StatusCancelled is terminal without a winner.
	StatusCancelled
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusRevealing, StatusClosed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusRevealing:
		return "revealing"
	case StatusClosed:
		return "closed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Bid is one accepted open bid. Sequence preserves arrival order for
// deterministic tie breaking.
type Bid struct {
	Bidder   [20]byte
	Amount   *big.Int
	PlacedAt int64
	Sequence uint64
}

func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	clone := *b
	if b.Amount != nil {
		clone.Amount = new(big.Int).Set(b.Amount)
	}
	return &clone
}

// Commitment is one sealed bid hash, optionally carrying the revealed amount
// once the bidder opens it.
type Commitment struct {
	Bidder      [20]byte
	Hash        [32]byte
	Sequence    uint64
	CommittedAt int64
	Revealed    bool
	Amount      *big.Int
	RevealedAt  int64
}

func (c *Commitment) Clone() *Commitment {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Amount != nil {
		clone.Amount = new(big.Int).Set(c.Amount)
	}
	return &clone
}

// Auction is the persistent record of one listing tied to a work order. Prices
// are denominated in the work order's token.
type Auction struct {
	ID            [32]byte
	SchemaVersion uint32
	WorkOrderID   [32]byte
	Owner         [20]byte
	Token         string
	Mechanism     Mechanism

	StartPrice   *big.Int
	ReservePrice *big.Int
	MinStep      *big.Int
	InstantBuy   *big.Int

	StartTime    int64
	EndTime      int64
	RevealWindow int64

	// Anti sniping: bids landing inside the window push the end time out by
	// the extension, bounded by the extension cap.
	SnipeWindow    int64
	SnipeExtension int64
	MaxExtensions  uint32
	Extensions     uint32

	Status      Status
	Bids        []*Bid
	Commitments []*Commitment
	BestBid     *Bid

	Winner        [20]byte
	ClearingPrice *big.Int
	EscrowID      [32]byte

	CreatedAt int64
	ClosedAt  int64
}

func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.StartPrice = cloneBig(a.StartPrice)
	clone.ReservePrice = cloneBig(a.ReservePrice)
	clone.MinStep = cloneBig(a.MinStep)
	clone.InstantBuy = cloneBig(a.InstantBuy)
	clone.ClearingPrice = cloneBig(a.ClearingPrice)
	clone.BestBid = a.BestBid.Clone()
	if a.Bids != nil {
		clone.Bids = make([]*Bid, len(a.Bids))
		for i, b := range a.Bids {
			clone.Bids[i] = b.Clone()
		}
	}
	if a.Commitments != nil {
		clone.Commitments = make([]*Commitment, len(a.Commitments))
		for i, c := range a.Commitments {
			clone.Commitments[i] = c.Clone()
		}
	}
	return &clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// RevealDeadline is the last instant a sealed bid may be opened.
func (a *Auction) RevealDeadline() int64 {
	if a == nil {
		return 0
	}
	return a.EndTime + a.RevealWindow
}

// BidCount returns the number of bids or commitments already recorded for the
// bidder, feeding the per auction bid quota.
func (a *Auction) BidCount(bidder [20]byte) uint32 {
	if a == nil {
		return 0
	}
	var n uint32
	for _, b := range a.Bids {
		if b != nil && b.Bidder == bidder {
			n++
		}
	}
	for _, c := range a.Commitments {
		if c != nil && c.Bidder == bidder {
			n++
		}
	}
	return n
}

// ErrInvalidDefinition is returned when an auction definition fails
// validation at creation.
var ErrInvalidDefinition = errors.New("auction: invalid definition")

// SanitizeAuction validates and normalises the supplied definition, returning
// a cloned instance. The original value is not mutated.
func SanitizeAuction(a *Auction) (*Auction, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil auction", ErrInvalidDefinition)
	}
	clone := a.Clone()
	token, err := common.NormalizeAsset(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if !clone.Mechanism.Valid() {
		return nil, fmt.Errorf("%w: unknown mechanism", ErrInvalidDefinition)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status", ErrInvalidDefinition)
	}
	if clone.StartPrice == nil || clone.StartPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: start price must be positive", ErrInvalidDefinition)
	}
	if clone.ReservePrice == nil {
		clone.ReservePrice = big.NewInt(0)
	}
	if clone.ReservePrice.Sign() < 0 {
		return nil, fmt.Errorf("%w: reserve price must not be negative", ErrInvalidDefinition)
	}
	switch clone.Mechanism {
	case MechanismAscending:
		if clone.MinStep == nil || clone.MinStep.Sign() <= 0 {
			return nil, fmt.Errorf("%w: minimum step must be positive", ErrInvalidDefinition)
		}
		if clone.ReservePrice.Cmp(clone.StartPrice) > 0 {
			return nil, fmt.Errorf("%w: reserve above start price", ErrInvalidDefinition)
		}
		if clone.InstantBuy != nil && clone.InstantBuy.Cmp(clone.StartPrice) < 0 {
			return nil, fmt.Errorf("%w: instant buy below start price", ErrInvalidDefinition)
		}
	case MechanismDescending:
		if clone.ReservePrice.Cmp(clone.StartPrice) > 0 {
			return nil, fmt.Errorf("%w: reserve above start price", ErrInvalidDefinition)
		}
	case MechanismSealedBid:
		if clone.RevealWindow <= 0 {
			return nil, fmt.Errorf("%w: reveal window must be positive", ErrInvalidDefinition)
		}
	}
	if clone.EndTime <= clone.StartTime {
		return nil, fmt.Errorf("%w: end time must follow start time", ErrInvalidDefinition)
	}
	if clone.SnipeWindow < 0 || clone.SnipeExtension < 0 {
		return nil, fmt.Errorf("%w: negative anti sniping parameters", ErrInvalidDefinition)
	}
	if clone.SnipeWindow > 0 && clone.SnipeExtension == 0 {
		return nil, fmt.Errorf("%w: anti sniping window without extension", ErrInvalidDefinition)
	}
	return clone, nil
}
