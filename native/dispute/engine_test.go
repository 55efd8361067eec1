package dispute

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"gavel/native/escrow"
	"gavel/native/workorder"
)

type mockState struct {
	disputes map[[32]byte]*Dispute
}

func (m *mockState) DisputePut(d *Dispute) error {
	m.disputes[d.ID] = d.Clone()
	return nil
}

func (m *mockState) DisputeGet(id [32]byte) (*Dispute, bool) {
	d, ok := m.disputes[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
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
	depositor  = [20]byte{0x01}
	recipient  = [20]byte{0x02}
	arbitrator = [20]byte{0x03}
	stranger   = [20]byte{0x04}
)

type fixture struct {
	engine   *Engine
	escrows  *escrow.Engine
	state    *escrowState
	now      int64
	escrowID [32]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: 1_000}
	nowFn := func() int64 { return f.now }

	f.state = &escrowState{
		escrows:  make(map[[32]byte]*escrow.Escrow),
		balances: make(map[string]*big.Int),
		vault:    make(map[string]*big.Int),
	}
	f.escrows = escrow.NewEngine()
	f.escrows.SetState(f.state)
	f.escrows.SetNowFunc(nowFn)

	f.engine = NewEngine()
	f.engine.SetState(&mockState{disputes: make(map[[32]byte]*Dispute)})
	f.engine.SetEscrows(f.escrows)
	f.engine.SetArbitrator(arbitrator)
	f.engine.SetWindows(100, 1_000)
	f.engine.SetNowFunc(nowFn)

	f.state.balances[fmt.Sprintf("%x/GVT", depositor)] = big.NewInt(100)
	esc, err := f.escrows.Create([32]byte{0xaa}, depositor, recipient, "GVT", big.NewInt(100), []*workorder.Milestone{
		{Title: "design", Amount: big.NewInt(40), DueAt: 5_000},
		{Title: "build", Amount: big.NewInt(60), DueAt: 9_000},
	}, 50_000)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if err := f.escrows.Fund(esc.ID, depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund escrow: %v", err)
	}
	if err := f.escrows.SubmitMilestone(esc.ID, recipient, 0, "done"); err != nil {
		t.Fatalf("submit milestone: %v", err)
	}
	f.escrowID = esc.ID
	return f
}

func TestOpenValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Open(f.escrowID, stranger, "missing work", nil); !errors.Is(err, ErrNotParty) {
		t.Fatalf("expected ErrNotParty, got %v", err)
	}
	if _, err := f.engine.Open(f.escrowID, depositor, "   ", nil); err == nil {
		t.Fatal("expected error for empty reason")
	}
	d, err := f.engine.Open(f.escrowID, depositor, "missing work", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if d.Respondent != recipient {
		t.Fatalf("expected recipient as respondent, got %x", d.Respondent)
	}
	if d.AgreementUntil != 1_100 || d.Deadline != 2_000 {
		t.Fatalf("unexpected windows: agreement %d deadline %d", d.AgreementUntil, d.Deadline)
	}
	esc, _ := f.escrows.Get(f.escrowID)
	if esc.Status != escrow.StatusDisputed {
		t.Fatalf("escrow not frozen, got %s", esc.Status)
	}
	// Refiling by the same party returns the open dispute; the other party
	// cannot open a second one.
	again, err := f.engine.Open(f.escrowID, depositor, "missing work", nil)
	if err != nil || again.ID != d.ID {
		t.Fatalf("refile: %v (id %x)", err, again.ID)
	}
	if _, err := f.engine.Open(f.escrowID, recipient, "counter", nil); err == nil {
		t.Fatal("expected error for second dispute on same escrow")
	}
}

func TestRespondOnce(t *testing.T) {
	f := newFixture(t)
	d, err := f.engine.Open(f.escrowID, depositor, "missing work", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.engine.Respond(d.ID, depositor, "statement", nil); !errors.Is(err, ErrNotParty) {
		t.Fatalf("filer must not respond, got %v", err)
	}
	if err := f.engine.Respond(d.ID, recipient, "work was delivered", nil); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if err := f.engine.Respond(d.ID, recipient, "again", nil); !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("expected ErrAlreadyResponded, got %v", err)
	}
	stored, _ := f.engine.Get(d.ID)
	if !stored.Responded || stored.Response != "work was delivered" {
		t.Fatalf("response not recorded: %+v", stored)
	}
}

func TestEvidenceReferencesStored(t *testing.T) {
	f := newFixture(t)
	d, err := f.engine.Open(f.escrowID, depositor, "missing work",
		[]string{" ipfs://QmDesignDoc ", "", "https://files.example/chat.log"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(d.Evidence) != 2 || d.Evidence[0] != "ipfs://QmDesignDoc" || d.Evidence[1] != "https://files.example/chat.log" {
		t.Fatalf("evidence not normalized: %v", d.Evidence)
	}
	counter := []string{"ipfs://QmDeliveryProof"}
	if err := f.engine.Respond(d.ID, recipient, "work was delivered", counter); err != nil {
		t.Fatalf("respond: %v", err)
	}
	stored, err := f.engine.Get(d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Evidence) != 2 {
		t.Fatalf("filer evidence lost: %v", stored.Evidence)
	}
	if len(stored.CounterEvidence) != 1 || stored.CounterEvidence[0] != "ipfs://QmDeliveryProof" {
		t.Fatalf("counter evidence lost: %v", stored.CounterEvidence)
	}
}

func TestMutualAgreementFastPath(t *testing.T) {
	f := newFixture(t)
	d, err := f.engine.Open(f.escrowID, depositor, "missing work", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.engine.ProposeResolution(d.ID, depositor, big.NewInt(30), big.NewInt(60)); !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit, got %v", err)
	}
	if err := f.engine.ProposeResolution(d.ID, depositor, big.NewInt(30), big.NewInt(70)); err != nil {
		t.Fatalf("filer proposal: %v", err)
	}
	stored, _ := f.engine.Get(d.ID)
	if stored.Status != StatusOpen {
		t.Fatalf("single proposal must not settle, got %s", stored.Status)
	}
	// A differing counter proposal keeps the dispute open.
	if err := f.engine.ProposeResolution(d.ID, recipient, big.NewInt(50), big.NewInt(50)); err != nil {
		t.Fatalf("counter proposal: %v", err)
	}
	stored, _ = f.engine.Get(d.ID)
	if stored.Status != StatusOpen {
		t.Fatalf("mismatched proposals must not settle, got %s", stored.Status)
	}
	// The filer moving to the counter proposal settles immediately.
	if err := f.engine.ProposeResolution(d.ID, depositor, big.NewInt(50), big.NewInt(50)); err != nil {
		t.Fatalf("matching proposal: %v", err)
	}
	stored, _ = f.engine.Get(d.ID)
	if stored.Status != StatusResolved || stored.Outcome != OutcomeAgreement {
		t.Fatalf("expected agreement settlement, got %s/%s", stored.Status, stored.Outcome)
	}
	recBal, _ := f.state.Balance(recipient, "GVT")
	depBal, _ := f.state.Balance(depositor, "GVT")
	if recBal.Cmp(big.NewInt(50)) != 0 || depBal.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected payout: recipient %s depositor %s", recBal, depBal)
	}
	if err := f.engine.ProposeResolution(d.ID, depositor, big.NewInt(50), big.NewInt(50)); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestArbitratorRuling(t *testing.T) {
	f := newFixture(t)
	d, err := f.engine.Open(f.escrowID, depositor, "missing work", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.engine.Resolve(d.ID, stranger, big.NewInt(60), big.NewInt(40)); !errors.Is(err, ErrNotArbitrator) {
		t.Fatalf("expected ErrNotArbitrator, got %v", err)
	}
	if err := f.engine.Resolve(d.ID, arbitrator, big.NewInt(60), big.NewInt(40)); !errors.Is(err, ErrAgreementWindowOpen) {
		t.Fatalf("expected ErrAgreementWindowOpen, got %v", err)
	}
	f.now = 1_100
	if err := f.engine.Resolve(d.ID, arbitrator, big.NewInt(60), big.NewInt(50)); !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit, got %v", err)
	}
	if err := f.engine.Resolve(d.ID, arbitrator, big.NewInt(60), big.NewInt(40)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	stored, _ := f.engine.Get(d.ID)
	if stored.Status != StatusResolved || stored.Outcome != OutcomeArbitration {
		t.Fatalf("expected arbitration settlement, got %s/%s", stored.Status, stored.Outcome)
	}
	esc, _ := f.escrows.Get(f.escrowID)
	if esc.Status != escrow.StatusClosed {
		t.Fatalf("expected closed escrow, got %s", esc.Status)
	}
}

func TestNoArbitratorConfigured(t *testing.T) {
	f := newFixture(t)
	f.engine.SetArbitrator([20]byte{})
	d, err := f.engine.Open(f.escrowID, depositor, "missing work", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.now = 2_000
	if err := f.engine.Resolve(d.ID, arbitrator, big.NewInt(100), big.NewInt(0)); !errors.Is(err, ErrNoArbitrator) {
		t.Fatalf("expected ErrNoArbitrator, got %v", err)
	}
}

func TestTimeoutProRataSplit(t *testing.T) {
	f := newFixture(t)
	// Approve the first leg so 40 of 100 is already released; the dispute
	// then contests the remaining 60.
	if err := f.escrows.ApproveMilestone(f.escrowID, depositor, 0); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.escrows.SubmitMilestone(f.escrowID, recipient, 1, "done"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	d, err := f.engine.Open(f.escrowID, recipient, "approval withheld", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.engine.TryTimeout(d.ID, 1_500); !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("expected ErrDeadlineNotReached, got %v", err)
	}
	if err := f.engine.TryTimeout(d.ID, 2_000); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	stored, _ := f.engine.Get(d.ID)
	if stored.Status != StatusResolved || stored.Outcome != OutcomeTimeout {
		t.Fatalf("expected timeout settlement, got %s/%s", stored.Status, stored.Outcome)
	}
	// Held 60, approved share 40 of 100: recipient 24, depositor 36.
	if stored.AwardRecipient.Cmp(big.NewInt(24)) != 0 || stored.AwardDepositor.Cmp(big.NewInt(36)) != 0 {
		t.Fatalf("unexpected award: recipient %s depositor %s", stored.AwardRecipient, stored.AwardDepositor)
	}
	recBal, _ := f.state.Balance(recipient, "GVT")
	depBal, _ := f.state.Balance(depositor, "GVT")
	if recBal.Cmp(big.NewInt(64)) != 0 || depBal.Cmp(big.NewInt(36)) != 0 {
		t.Fatalf("unexpected payout: recipient %s depositor %s", recBal, depBal)
	}
	if err := f.engine.TryTimeout(d.ID, 3_000); err != nil {
		t.Fatalf("timeout on resolved dispute must be a no-op, got %v", err)
	}
}

func TestTimeoutWithNothingApprovedRefundsAll(t *testing.T) {
	f := newFixture(t)
	d, err := f.engine.Open(f.escrowID, depositor, "missing work", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.engine.TryTimeout(d.ID, 2_000); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	stored, _ := f.engine.Get(d.ID)
	if stored.AwardRecipient.Sign() != 0 || stored.AwardDepositor.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected award: recipient %s depositor %s", stored.AwardRecipient, stored.AwardDepositor)
	}
	esc, _ := f.escrows.Get(f.escrowID)
	if esc.Status != escrow.StatusCancelled {
		t.Fatalf("expected cancelled escrow, got %s", esc.Status)
	}
}
