package auction

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"gavel/native/common"
	"gavel/native/escrow"
	"gavel/native/workorder"
)

type mockState struct {
	auctions map[[32]byte]*Auction
}

func newMockState() *mockState {
	return &mockState{auctions: make(map[[32]byte]*Auction)}
}

func (m *mockState) AuctionPut(a *Auction) error {
	m.auctions[a.ID] = a.Clone()
	return nil
}

func (m *mockState) AuctionGet(id [32]byte) (*Auction, bool) {
	a, ok := m.auctions[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

type workOrderState struct {
	orders map[[32]byte]*workorder.WorkOrder
}

func (m *workOrderState) WorkOrderPut(o *workorder.WorkOrder) error {
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *workOrderState) WorkOrderGet(id [32]byte) (*workorder.WorkOrder, bool) {
	o, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

type escrowState struct {
	escrows  map[[32]byte]*escrow.Escrow
	balances map[string]*big.Int
	vault    map[string]*big.Int
}

func (m *escrowState) EscrowPut(e *escrow.Escrow) error {
	m.escrows[e.ID] = e.Clone()
	return nil
}

func (m *escrowState) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	e, ok := m.escrows[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (m *escrowState) EscrowCredit(id [32]byte, token string, amt *big.Int) error {
	key := fmt.Sprintf("%x/%s", id, token)
	cur, ok := m.vault[key]
	if !ok {
		cur = big.NewInt(0)
	}
	m.vault[key] = new(big.Int).Add(cur, amt)
	return nil
}

func (m *escrowState) EscrowDebit(id [32]byte, token string, amt *big.Int) error {
	key := fmt.Sprintf("%x/%s", id, token)
	cur, ok := m.vault[key]
	if !ok || cur.Cmp(amt) < 0 {
		return fmt.Errorf("mock: vault underflow")
	}
	m.vault[key] = new(big.Int).Sub(cur, amt)
	return nil
}

func (m *escrowState) EscrowVaultAddress(token string) ([20]byte, error) {
	var addr [20]byte
	copy(addr[:], []byte("vault:"+token))
	return addr, nil
}

func (m *escrowState) Balance(addr [20]byte, token string) (*big.Int, error) {
	bal, ok := m.balances[fmt.Sprintf("%x/%s", addr, token)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (m *escrowState) SetBalance(addr [20]byte, token string, amount *big.Int) error {
	m.balances[fmt.Sprintf("%x/%s", addr, token)] = new(big.Int).Set(amount)
	return nil
}

var (
	owner   = [20]byte{0x01}
	bidderA = [20]byte{0x02}
	bidderB = [20]byte{0x03}
	bidderC = [20]byte{0x04}
)

type fixture struct {
	engine      *Engine
	workOrders  *workorder.Engine
	escrows     *escrow.Engine
	now         int64
	workOrderID [32]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: 1_000}
	nowFn := func() int64 { return f.now }

	f.workOrders = workorder.NewEngine()
	f.workOrders.SetState(&workOrderState{orders: make(map[[32]byte]*workorder.WorkOrder)})
	f.workOrders.SetNowFunc(nowFn)

	f.escrows = escrow.NewEngine()
	f.escrows.SetState(&escrowState{
		escrows:  make(map[[32]byte]*escrow.Escrow),
		balances: make(map[string]*big.Int),
		vault:    make(map[string]*big.Int),
	})
	f.escrows.SetNowFunc(nowFn)
	f.escrows.SetWorkOrders(f.workOrders)

	f.engine = NewEngine()
	f.engine.SetState(newMockState())
	f.engine.SetWorkOrders(f.workOrders)
	f.engine.SetEscrows(f.escrows)
	f.engine.SetNowFunc(nowFn)

	order, err := f.workOrders.Create(owner, "GVT", big.NewInt(100), 50_000, []*workorder.Milestone{
		{Title: "design", Amount: big.NewInt(40), DueAt: 20_000},
		{Title: "build", Amount: big.NewInt(60), DueAt: 40_000},
	}, [32]byte{0x11})
	if err != nil {
		t.Fatalf("create work order: %v", err)
	}
	f.workOrderID = order.ID
	return f
}

func (f *fixture) definition(mechanism Mechanism) *Auction {
	def := &Auction{
		WorkOrderID:  f.workOrderID,
		Owner:        owner,
		Token:        "GVT",
		Mechanism:    mechanism,
		StartPrice:   big.NewInt(10),
		ReservePrice: big.NewInt(2),
		MinStep:      big.NewInt(1),
		StartTime:    1_000,
		EndTime:      10_000,
	}
	if mechanism == MechanismSealedBid {
		def.RevealWindow = 1_000
	}
	return def
}

func (f *fixture) open(t *testing.T, mechanism Mechanism) *Auction {
	t.Helper()
	a, err := f.engine.Create(f.definition(mechanism), [32]byte{0x22})
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	return a
}

func TestCreateValidatesDefinition(t *testing.T) {
	f := newFixture(t)
	def := f.definition(MechanismAscending)
	def.MinStep = nil
	if _, err := f.engine.Create(def, [32]byte{0x22}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}
	def = f.definition(MechanismDescending)
	def.ReservePrice = big.NewInt(11)
	if _, err := f.engine.Create(def, [32]byte{0x22}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition for reserve above start, got %v", err)
	}
	def = f.definition(MechanismAscending)
	def.ReservePrice = big.NewInt(11)
	if _, err := f.engine.Create(def, [32]byte{0x22}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition for ascending reserve above start, got %v", err)
	}
	def = f.definition(MechanismSealedBid)
	def.RevealWindow = 0
	if _, err := f.engine.Create(def, [32]byte{0x22}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition for missing reveal window, got %v", err)
	}
	def = f.definition(MechanismAscending)
	def.Owner = bidderA
	if _, err := f.engine.Create(def, [32]byte{0x22}); err == nil {
		t.Fatal("expected error for owner that is not the requester")
	}
}

func TestCreateIdempotent(t *testing.T) {
	f := newFixture(t)
	first := f.open(t, MechanismAscending)
	second, err := f.engine.Create(f.definition(MechanismAscending), [32]byte{0x22})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected stable identifier, got %x and %x", first.ID, second.ID)
	}
	def := f.definition(MechanismAscending)
	def.StartPrice = big.NewInt(20)
	if _, err := f.engine.Create(def, [32]byte{0x22}); err == nil {
		t.Fatal("expected conflict for differing definition under the same identifier")
	}
	order, err := f.workOrders.Get(f.workOrderID)
	if err != nil {
		t.Fatalf("get work order: %v", err)
	}
	if order.AuctionID != first.ID {
		t.Fatalf("auction not linked to work order")
	}
}

func TestAscendingBidRules(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, MechanismAscending)
	if err := f.engine.PlaceBid(a.ID, owner, big.NewInt(11)); !errors.Is(err, ErrOwnerBid) {
		t.Fatalf("expected ErrOwnerBid, got %v", err)
	}
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(9)); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("expected ErrBidTooLow below start, got %v", err)
	}
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(11)); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if err := f.engine.PlaceBid(a.ID, bidderB, big.NewInt(11)); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("expected ErrBidTooLow for matching bid, got %v", err)
	}
	if err := f.engine.PlaceBid(a.ID, bidderB, big.NewInt(12)); err != nil {
		t.Fatalf("second bid: %v", err)
	}
	stored, _ := f.engine.Get(a.ID)
	if stored.BestBid == nil || stored.BestBid.Bidder != bidderB || stored.BestBid.Amount.Cmp(big.NewInt(12)) != 0 {
		t.Fatalf("unexpected best bid %+v", stored.BestBid)
	}
	f.now = 10_000
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(13)); !errors.Is(err, ErrEnded) {
		t.Fatalf("expected ErrEnded, got %v", err)
	}
}

func TestAscendingAntiSnipe(t *testing.T) {
	f := newFixture(t)
	def := f.definition(MechanismAscending)
	def.SnipeWindow = 100
	def.SnipeExtension = 200
	def.MaxExtensions = 2
	a, err := f.engine.Create(def, [32]byte{0x22})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.now = 9_950
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(10)); err != nil {
		t.Fatalf("snipe bid: %v", err)
	}
	stored, _ := f.engine.Get(a.ID)
	if stored.EndTime != 10_200 || stored.Extensions != 1 {
		t.Fatalf("expected extension to 10200, got end %d extensions %d", stored.EndTime, stored.Extensions)
	}
	f.now = 10_150
	if err := f.engine.PlaceBid(a.ID, bidderB, big.NewInt(11)); err != nil {
		t.Fatalf("second snipe bid: %v", err)
	}
	stored, _ = f.engine.Get(a.ID)
	if stored.EndTime != 10_400 || stored.Extensions != 2 {
		t.Fatalf("expected extension to 10400, got end %d extensions %d", stored.EndTime, stored.Extensions)
	}
	// The extension cap holds the end time fixed from here on.
	f.now = 10_350
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(12)); err != nil {
		t.Fatalf("capped snipe bid: %v", err)
	}
	stored, _ = f.engine.Get(a.ID)
	if stored.EndTime != 10_400 || stored.Extensions != 2 {
		t.Fatalf("cap violated: end %d extensions %d", stored.EndTime, stored.Extensions)
	}
}

func TestInstantBuyClosesImmediately(t *testing.T) {
	f := newFixture(t)
	def := f.definition(MechanismAscending)
	def.InstantBuy = big.NewInt(50)
	a, err := f.engine.Create(def, [32]byte{0x22})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(55)); err != nil {
		t.Fatalf("instant buy bid: %v", err)
	}
	stored, _ := f.engine.Get(a.ID)
	if stored.Status != StatusClosed {
		t.Fatalf("expected closed, got %s", stored.Status)
	}
	if stored.Winner != bidderA || stored.ClearingPrice.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected winner at posted instant price, got %x at %s", stored.Winner, stored.ClearingPrice)
	}
}

func TestAscendingCloseWithoutBidsCancels(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, MechanismAscending)
	if err := f.engine.Close(a.ID, 9_000); !errors.Is(err, ErrNotEnded) {
		t.Fatalf("expected ErrNotEnded, got %v", err)
	}
	if err := f.engine.Close(a.ID, 10_000); err != nil {
		t.Fatalf("close: %v", err)
	}
	stored, _ := f.engine.Get(a.ID)
	if stored.Status != StatusCancelled {
		t.Fatalf("expected cancelled without bids, got %s", stored.Status)
	}
}

func TestDescendingClock(t *testing.T) {
	f := newFixture(t)
	def := f.definition(MechanismDescending)
	def.StartPrice = big.NewInt(100)
	def.ReservePrice = big.NewInt(10)
	def.StartTime = 0
	def.EndTime = 9_000
	a, err := f.engine.Create(def, [32]byte{0x22})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Halfway through the window the posted price is halfway down.
	if got := a.PriceAt(4_500); got.Cmp(big.NewInt(55)) != 0 {
		t.Fatalf("expected posted price 55, got %s", got)
	}
	f.now = 4_500
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(60)); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("expected rejection above posted price, got %v", err)
	}
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(5)); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("expected rejection below reserve, got %v", err)
	}
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(50)); err != nil {
		t.Fatalf("clock bid: %v", err)
	}
	stored, _ := f.engine.Get(a.ID)
	if stored.Status != StatusClosed || stored.Winner != bidderA || stored.ClearingPrice.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected settlement: %s winner %x price %s", stored.Status, stored.Winner, stored.ClearingPrice)
	}
}

func TestDescendingNoTakerCancels(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, MechanismDescending)
	if err := f.engine.Touch(a.ID, 10_000); err != nil {
		t.Fatalf("touch: %v", err)
	}
	stored, _ := f.engine.Get(a.ID)
	if stored.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}
}

func TestSealedBidFlow(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, MechanismSealedBid)

	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(20)); !errors.Is(err, ErrWrongMechanism) {
		t.Fatalf("expected ErrWrongMechanism for open bid, got %v", err)
	}
	hashA := SealedBidHash(bidderA, big.NewInt(20), []byte("salt-a"))
	hashB := SealedBidHash(bidderB, big.NewInt(30), []byte("salt-b"))
	hashC := SealedBidHash(bidderC, big.NewInt(1), []byte("salt-c"))
	if err := f.engine.CommitBid(a.ID, bidderA, hashA); err != nil {
		t.Fatalf("commit a: %v", err)
	}
	if err := f.engine.CommitBid(a.ID, bidderB, hashB); err != nil {
		t.Fatalf("commit b: %v", err)
	}
	if err := f.engine.CommitBid(a.ID, bidderC, hashC); err != nil {
		t.Fatalf("commit c: %v", err)
	}
	if err := f.engine.RevealBid(a.ID, bidderA, big.NewInt(20), []byte("salt-a")); err == nil {
		t.Fatal("expected rejection of reveal before end time")
	}
	f.now = 10_000
	if err := f.engine.CommitBid(a.ID, bidderA, hashA); !errors.Is(err, ErrEnded) {
		t.Fatalf("expected ErrEnded for late commitment, got %v", err)
	}
	if err := f.engine.RevealBid(a.ID, bidderA, big.NewInt(25), []byte("salt-a")); !errors.Is(err, ErrRevealMismatch) {
		t.Fatalf("expected ErrRevealMismatch, got %v", err)
	}
	if err := f.engine.RevealBid(a.ID, bidderA, big.NewInt(20), []byte("salt-a")); err != nil {
		t.Fatalf("reveal a: %v", err)
	}
	if err := f.engine.RevealBid(a.ID, bidderB, big.NewInt(30), []byte("salt-b")); err != nil {
		t.Fatalf("reveal b: %v", err)
	}
	// The reserve of 2 filters bidder C even after an honest reveal.
	if err := f.engine.RevealBid(a.ID, bidderC, big.NewInt(1), []byte("salt-c")); err != nil {
		t.Fatalf("reveal c: %v", err)
	}
	if err := f.engine.Close(a.ID, 10_000); err != nil {
		t.Fatalf("close after all reveals: %v", err)
	}
	stored, _ := f.engine.Get(a.ID)
	if stored.Status != StatusClosed || stored.Winner != bidderB || stored.ClearingPrice.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("unexpected settlement: %s winner %x price %s", stored.Status, stored.Winner, stored.ClearingPrice)
	}
	f.now = 11_001
	if err := f.engine.RevealBid(a.ID, bidderA, big.NewInt(20), []byte("salt-a")); !errors.Is(err, ErrRevealClosed) {
		t.Fatalf("expected ErrRevealClosed, got %v", err)
	}
}

func TestSealedBidUnrevealedCannotWin(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, MechanismSealedBid)
	hashA := SealedBidHash(bidderA, big.NewInt(500), []byte("salt-a"))
	hashB := SealedBidHash(bidderB, big.NewInt(30), []byte("salt-b"))
	if err := f.engine.CommitBid(a.ID, bidderA, hashA); err != nil {
		t.Fatalf("commit a: %v", err)
	}
	if err := f.engine.CommitBid(a.ID, bidderB, hashB); err != nil {
		t.Fatalf("commit b: %v", err)
	}
	f.now = 10_500
	if err := f.engine.RevealBid(a.ID, bidderB, big.NewInt(30), []byte("salt-b")); err != nil {
		t.Fatalf("reveal b: %v", err)
	}
	// Bidder A never reveals; the close waits for the deadline, then the
	// revealed bid wins even though the sealed one was higher.
	if err := f.engine.Close(a.ID, 10_600); err == nil {
		t.Fatal("expected close to wait for reveal deadline")
	}
	if err := f.engine.Touch(a.ID, 11_001); err != nil {
		t.Fatalf("touch after deadline: %v", err)
	}
	stored, _ := f.engine.Get(a.ID)
	if stored.Status != StatusClosed || stored.Winner != bidderB {
		t.Fatalf("unexpected settlement: %s winner %x", stored.Status, stored.Winner)
	}
}

func TestBidQuota(t *testing.T) {
	f := newFixture(t)
	f.engine.SetQuota(common.Quota{MaxRequestsPerEpoch: 2})
	a := f.open(t, MechanismAscending)
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(10)); err != nil {
		t.Fatalf("bid 1: %v", err)
	}
	if err := f.engine.PlaceBid(a.ID, bidderB, big.NewInt(11)); err != nil {
		t.Fatalf("bid 2: %v", err)
	}
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(12)); err != nil {
		t.Fatalf("bid 3: %v", err)
	}
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(13)); !errors.Is(err, common.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected quota rejection, got %v", err)
	}
	if err := f.engine.PlaceBid(a.ID, bidderB, big.NewInt(13)); err != nil {
		t.Fatalf("other bidder unaffected: %v", err)
	}
}

func TestCloseSettlesWorkOrderAndEscrow(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, MechanismAscending)
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(13)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := f.engine.Close(a.ID, 10_000); err != nil {
		t.Fatalf("close: %v", err)
	}
	stored, _ := f.engine.Get(a.ID)
	if stored.Status != StatusClosed || stored.Winner != bidderA {
		t.Fatalf("unexpected settlement: %s winner %x", stored.Status, stored.Winner)
	}
	order, err := f.workOrders.Get(f.workOrderID)
	if err != nil {
		t.Fatalf("get work order: %v", err)
	}
	if order.Status != workorder.StatusAssigned || order.Provider != bidderA {
		t.Fatalf("work order not assigned to winner: %s %x", order.Status, order.Provider)
	}
	if order.Total.Cmp(big.NewInt(13)) != 0 {
		t.Fatalf("work order total not rescaled to clearing price: %s", order.Total)
	}
	if order.MilestoneSum().Cmp(order.Total) != 0 {
		t.Fatalf("rescaled milestones do not cover total: %s vs %s", order.MilestoneSum(), order.Total)
	}
	if stored.EscrowID == ([32]byte{}) {
		t.Fatal("expected escrow to be created on close")
	}
	esc, err := f.escrows.Get(stored.EscrowID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if esc.Status != escrow.StatusPendingFunding {
		t.Fatalf("expected escrow awaiting funding, got %s", esc.Status)
	}
	if esc.Depositor != owner || esc.Recipient != bidderA {
		t.Fatalf("unexpected escrow parties %x / %x", esc.Depositor, esc.Recipient)
	}
	if esc.Total.Cmp(big.NewInt(13)) != 0 {
		t.Fatalf("unexpected escrow total %s", esc.Total)
	}
	if order.EscrowID != esc.ID {
		t.Fatal("escrow not linked back to work order")
	}
}

func TestCancelOnlyWithoutBids(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, MechanismAscending)
	if err := f.engine.Cancel(a.ID, bidderA); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(10)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := f.engine.Cancel(a.ID, owner); !errors.Is(err, ErrHasBids) {
		t.Fatalf("expected ErrHasBids, got %v", err)
	}
}

type pauseSwitch map[string]bool

func (p pauseSwitch) IsPaused(module string) bool { return p[module] }

func TestCloseRetriesAfterEscrowPause(t *testing.T) {
	f := newFixture(t)
	pauses := pauseSwitch{"escrow": true}
	f.escrows.SetPauses(pauses)

	a := f.open(t, MechanismAscending)
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(13)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := f.engine.Close(a.ID, 10_000); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected paused escrow to fail the close, got %v", err)
	}
	// The failed close must not have committed the work order.
	order, err := f.workOrders.Get(f.workOrderID)
	if err != nil {
		t.Fatalf("get work order: %v", err)
	}
	if order.Status != workorder.StatusOpen {
		t.Fatalf("work order mutated by failed close: %s", order.Status)
	}
	stored, _ := f.engine.Get(a.ID)
	if stored.Status != StatusOpen {
		t.Fatalf("auction no longer closable: %s", stored.Status)
	}

	pauses["escrow"] = false
	if err := f.engine.Close(a.ID, 10_000); err != nil {
		t.Fatalf("retry close: %v", err)
	}
	stored, _ = f.engine.Get(a.ID)
	if stored.Status != StatusClosed || stored.EscrowID == ([32]byte{}) {
		t.Fatalf("retry did not settle: %s escrow %x", stored.Status, stored.EscrowID)
	}
	order, _ = f.workOrders.Get(f.workOrderID)
	if order.Status != workorder.StatusAssigned || order.Provider != bidderA {
		t.Fatalf("work order not assigned on retry: %s %x", order.Status, order.Provider)
	}
}

func TestClosePastWorkOrderDeadlineCancels(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, MechanismAscending)
	if err := f.engine.PlaceBid(a.ID, bidderA, big.NewInt(13)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	// The delivery deadline (50_000) passes before anyone closes; there is
	// nothing left to escrow, so the close winds down unsold.
	f.now = 60_000
	if err := f.engine.Close(a.ID, 60_000); err != nil {
		t.Fatalf("close: %v", err)
	}
	stored, _ := f.engine.Get(a.ID)
	if stored.Status != StatusCancelled {
		t.Fatalf("expected cancelled past deadline, got %s", stored.Status)
	}
	order, _ := f.workOrders.Get(f.workOrderID)
	if order.Status != workorder.StatusOpen {
		t.Fatalf("work order mutated: %s", order.Status)
	}
}
