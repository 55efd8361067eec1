package state

import (
	"math/big"
	"testing"

	"gavel/native/auction"
	"gavel/native/dispute"
	"gavel/native/escrow"
	"gavel/native/reputation"
	"gavel/native/workorder"
	"gavel/storage"
)

func newManager() *Manager {
	m, err := NewManager(storage.NewMemDB())
	if err != nil {
		panic(err)
	}
	return m
}

func TestBalanceRoundTrip(t *testing.T) {
	m := newManager()
	addr := [20]byte{0x01}
	bal, err := m.Balance(addr, "GVT")
	if err != nil || bal.Sign() != 0 {
		t.Fatalf("expected zero balance for unknown account, got %s (%v)", bal, err)
	}
	if err := m.Mint(addr, "GVT", big.NewInt(250)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := m.Mint(addr, "GVT", big.NewInt(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	bal, err = m.Balance(addr, "GVT")
	if err != nil || bal.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected 300, got %s (%v)", bal, err)
	}
	if err := m.SetBalance(addr, "GVT", big.NewInt(-1)); err == nil {
		t.Fatal("expected rejection of negative balance")
	}
}

func TestVaultLedger(t *testing.T) {
	m := newManager()
	id := [32]byte{0xaa}
	if err := m.EscrowCredit(id, "GVT", big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := m.EscrowDebit(id, "GVT", big.NewInt(40)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := m.EscrowDebit(id, "GVT", big.NewInt(61)); err == nil {
		t.Fatal("expected underflow rejection")
	}
	held, err := m.EscrowVaultBalance(id, "GVT")
	if err != nil || held.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("expected 60 held, got %s (%v)", held, err)
	}
	vaultA, err := m.EscrowVaultAddress("GVT")
	if err != nil {
		t.Fatalf("vault address: %v", err)
	}
	vaultB, _ := m.EscrowVaultAddress("gvt")
	if vaultA != vaultB {
		t.Fatal("vault address must be stable under token casing")
	}
	other, _ := m.EscrowVaultAddress("USDX")
	if vaultA == other {
		t.Fatal("distinct tokens must map to distinct vaults")
	}
}

func TestWorkOrderRoundTrip(t *testing.T) {
	m := newManager()
	order := &workorder.WorkOrder{
		ID:            [32]byte{0x01},
		SchemaVersion: workorder.SchemaVersion,
		Requester:     [20]byte{0x0a},
		Token:         "GVT",
		Total:         big.NewInt(100),
		Deadline:      50_000,
		Milestones: []*workorder.Milestone{
			{Title: "design", Amount: big.NewInt(40), DueAt: 20_000},
			{Title: "build", Amount: big.NewInt(60), DueAt: 40_000},
		},
		Status:    workorder.StatusOpen,
		CreatedAt: 1_000,
		UpdatedAt: 1_000,
	}
	if err := m.WorkOrderPut(order); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := m.WorkOrderGet(order.ID)
	if !ok {
		t.Fatal("work order not found after put")
	}
	if got.Total.Cmp(order.Total) != 0 || got.Deadline != order.Deadline || len(got.Milestones) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Milestones[1].Title != "build" || got.Milestones[1].DueAt != 40_000 {
		t.Fatalf("milestone mismatch: %+v", got.Milestones[1])
	}
	ids, err := m.WorkOrderIDsByParty(order.Requester)
	if err != nil || len(ids) != 1 || ids[0] != order.ID {
		t.Fatalf("party index mismatch: %v (%v)", ids, err)
	}
	if _, ok := m.WorkOrderGet([32]byte{0xff}); ok {
		t.Fatal("unknown identifier must miss")
	}
}

func TestEscrowRoundTrip(t *testing.T) {
	m := newManager()
	esc := &escrow.Escrow{
		ID:            [32]byte{0x02},
		SchemaVersion: escrow.SchemaVersion,
		Depositor:     [20]byte{0x0a},
		Recipient:     [20]byte{0x0b},
		Token:         "GVT",
		Total:         big.NewInt(100),
		Deposited:     big.NewInt(100),
		Released:      big.NewInt(40),
		Refunded:      big.NewInt(0),
		Expiry:        10_000,
		CreatedAt:     1_000,
		Status:        escrow.StatusActive,
		Milestones: []*escrow.Milestone{
			{Title: "design", Amount: big.NewInt(40), Status: escrow.MilestoneApproved, FinalizedAt: 2_000},
			{Title: "build", Amount: big.NewInt(60), Status: escrow.MilestoneSubmitted, Proof: "ipfs://x", SubmittedAt: 3_000},
		},
	}
	if err := m.EscrowPut(esc); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := m.EscrowGet(esc.ID)
	if !ok {
		t.Fatal("escrow not found after put")
	}
	if got.Held().Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("accounting mismatch: held %s", got.Held())
	}
	if got.Milestones[1].Status != escrow.MilestoneSubmitted || got.Milestones[1].Proof != "ipfs://x" {
		t.Fatalf("milestone mismatch: %+v", got.Milestones[1])
	}
	for _, party := range [][20]byte{esc.Depositor, esc.Recipient} {
		ids, err := m.EscrowIDsByParty(party)
		if err != nil || len(ids) != 1 || ids[0] != esc.ID {
			t.Fatalf("party index mismatch for %x: %v (%v)", party, ids, err)
		}
	}
	// Re-put must not duplicate index entries.
	if err := m.EscrowPut(esc); err != nil {
		t.Fatalf("second put: %v", err)
	}
	ids, _ := m.EscrowIDs()
	if len(ids) != 1 {
		t.Fatalf("expected deduplicated index, got %d entries", len(ids))
	}
}

func TestAuctionRoundTrip(t *testing.T) {
	m := newManager()
	a := &auction.Auction{
		ID:            [32]byte{0x03},
		SchemaVersion: auction.SchemaVersion,
		Owner:         [20]byte{0x0a},
		Token:         "GVT",
		Mechanism:     auction.MechanismSealedBid,
		StartPrice:    big.NewInt(10),
		ReservePrice:  big.NewInt(2),
		StartTime:     1_000,
		EndTime:       10_000,
		RevealWindow:  1_000,
		Status:        auction.StatusRevealing,
		Commitments: []*auction.Commitment{
			{Bidder: [20]byte{0x0b}, Hash: [32]byte{0x11}, Sequence: 1, CommittedAt: 2_000},
			{Bidder: [20]byte{0x0c}, Hash: [32]byte{0x12}, Sequence: 2, CommittedAt: 3_000, Revealed: true, Amount: big.NewInt(30), RevealedAt: 10_100},
		},
		CreatedAt: 1_000,
	}
	if err := m.AuctionPut(a); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := m.AuctionGet(a.ID)
	if !ok {
		t.Fatal("auction not found after put")
	}
	if got.InstantBuy != nil {
		t.Fatalf("unset instant buy must stay nil, got %s", got.InstantBuy)
	}
	if got.BestBid != nil {
		t.Fatal("unset best bid must stay nil")
	}
	if len(got.Commitments) != 2 {
		t.Fatalf("commitment count mismatch: %d", len(got.Commitments))
	}
	if got.Commitments[0].Revealed || got.Commitments[0].Amount != nil {
		t.Fatalf("sealed commitment must stay sealed: %+v", got.Commitments[0])
	}
	if !got.Commitments[1].Revealed || got.Commitments[1].Amount.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("revealed commitment mismatch: %+v", got.Commitments[1])
	}

	a.InstantBuy = big.NewInt(50)
	a.BestBid = &auction.Bid{Bidder: [20]byte{0x0b}, Amount: big.NewInt(12), PlacedAt: 4_000, Sequence: 3}
	if err := m.AuctionPut(a); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _ = m.AuctionGet(a.ID)
	if got.InstantBuy == nil || got.InstantBuy.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("instant buy mismatch: %v", got.InstantBuy)
	}
	if got.BestBid == nil || got.BestBid.Amount.Cmp(big.NewInt(12)) != 0 {
		t.Fatalf("best bid mismatch: %+v", got.BestBid)
	}
}

func TestDisputeRoundTrip(t *testing.T) {
	m := newManager()
	d := &dispute.Dispute{
		ID:             [32]byte{0x04},
		SchemaVersion:  dispute.SchemaVersion,
		EscrowID:       [32]byte{0x02},
		Filer:          [20]byte{0x0a},
		Respondent:     [20]byte{0x0b},
		Reason:         "missing work",
		Evidence:       []string{"ipfs://QmDesignDoc", "https://files.example/chat.log"},
		OpenedAt:       1_000,
		AgreementUntil: 1_100,
		Deadline:       2_000,
		Status:         dispute.StatusOpen,
		FilerProposal:  &dispute.Proposal{ToRecipient: big.NewInt(30), ToDepositor: big.NewInt(70), ProposedAt: 1_050},
	}
	if err := m.DisputePut(d); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := m.DisputeGet(d.ID)
	if !ok {
		t.Fatal("dispute not found after put")
	}
	if len(got.Evidence) != 2 || got.Evidence[0] != "ipfs://QmDesignDoc" {
		t.Fatalf("evidence mismatch: %v", got.Evidence)
	}
	if got.FilerProposal == nil || got.FilerProposal.ToRecipient.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("filer proposal mismatch: %+v", got.FilerProposal)
	}
	if got.RespondentProposal != nil {
		t.Fatal("absent proposal must stay nil")
	}
	if got.AwardRecipient != nil || got.AwardDepositor != nil {
		t.Fatal("unresolved dispute must carry no award")
	}
	ids, err := m.DisputeIDsByParty(d.Respondent)
	if err != nil || len(ids) != 1 || ids[0] != d.ID {
		t.Fatalf("party index mismatch: %v (%v)", ids, err)
	}
}

func TestReputationRoundTrip(t *testing.T) {
	m := newManager()
	score := &reputation.Score{Subject: [20]byte{0x0a}, Value: -3, Samples: 5, UpdatedAt: 1_000}
	if err := m.ReputationPut(score); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := m.ReputationGet(score.Subject)
	if !ok {
		t.Fatal("score not found after put")
	}
	if got.Value != -3 || got.Samples != 5 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestAssetRegistry(t *testing.T) {
	m := newManager()
	if err := m.RegisterAsset("gvt"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.RegisterAsset("GVT"); err != nil {
		t.Fatalf("idempotent register: %v", err)
	}
	if err := m.RegisterAsset("USDX"); err != nil {
		t.Fatalf("register: %v", err)
	}
	assets, err := m.Assets()
	if err != nil || len(assets) != 2 || assets[0] != "GVT" || assets[1] != "USDX" {
		t.Fatalf("unexpected registry %v (%v)", assets, err)
	}
}

func TestPauseRegistry(t *testing.T) {
	m := newManager()
	if m.IsPaused("escrow") {
		t.Fatal("modules must start unpaused")
	}
	if err := m.SetPaused("escrow", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !m.IsPaused("escrow") {
		t.Fatal("pause not visible")
	}
	if err := m.SetPaused("escrow", false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if m.IsPaused("escrow") {
		t.Fatal("unpause not visible")
	}
}

// Every mutation commits the trie, so the root hash moves and a manager
// reopened over the same database resumes from the bookmarked root.
func TestRootCommitsAndReopens(t *testing.T) {
	db := storage.NewMemDB()
	m, err := NewManager(db)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	empty := m.Root()

	addr := [20]byte{0x01}
	if err := m.Mint(addr, "GVT", big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	funded := m.Root()
	if funded == empty {
		t.Fatal("root must change after a mutation")
	}

	reopened, err := NewManager(db)
	if err != nil {
		t.Fatalf("reopen state: %v", err)
	}
	if reopened.Root() != funded {
		t.Fatalf("reopened root %x, want %x", reopened.Root(), funded)
	}
	bal, err := reopened.Balance(addr, "GVT")
	if err != nil || bal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("balance after reopen: %s (%v)", bal, err)
	}
}

// The engines run unchanged on the real manager: fund, submit, approve and
// settle against the keccak/RLP backed store.
func TestEnginesOnManager(t *testing.T) {
	m := newManager()
	depositor := [20]byte{0x0a}
	recipient := [20]byte{0x0b}

	engine := escrow.NewEngine()
	engine.SetState(m)
	engine.SetNowFunc(func() int64 { return 1_000 })
	if err := m.Mint(depositor, "GVT", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	esc, err := engine.Create([32]byte{0xaa}, depositor, recipient, "GVT", big.NewInt(100), []*workorder.Milestone{
		{Title: "design", Amount: big.NewInt(40), DueAt: 5_000},
		{Title: "build", Amount: big.NewInt(60), DueAt: 9_000},
	}, 10_000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Fund(esc.ID, depositor, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	vault, _ := m.EscrowVaultAddress("GVT")
	vaultBal, _ := m.Balance(vault, "GVT")
	if vaultBal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("vault account not credited: %s", vaultBal)
	}
	if err := engine.SubmitMilestone(esc.ID, recipient, 0, "done"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := engine.ApproveMilestone(esc.ID, depositor, 0); err != nil {
		t.Fatalf("approve: %v", err)
	}
	recBal, _ := m.Balance(recipient, "GVT")
	if recBal.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("recipient not paid: %s", recBal)
	}
	held, _ := m.EscrowVaultBalance(esc.ID, "GVT")
	if held.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("vault ledger mismatch: %s", held)
	}
	stored, _ := m.EscrowGet(esc.ID)
	if stored.Status != escrow.StatusActive || stored.Released.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("persisted escrow mismatch: %s released %s", stored.Status, stored.Released)
	}
}
