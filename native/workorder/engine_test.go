package workorder

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"gavel/core/events"
	"gavel/core/types"
)

var (
	requester = [20]byte{0x01}
	provider  = [20]byte{0x02}
	stranger  = [20]byte{0x03}
	nonce     = [32]byte{0x11}
)

type mockState struct {
	orders map[[32]byte]*WorkOrder
}

func newMockState() *mockState {
	return &mockState{orders: make(map[[32]byte]*WorkOrder)}
}

func (m *mockState) WorkOrderPut(o *WorkOrder) error {
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *mockState) WorkOrderGet(id [32]byte) (*WorkOrder, bool) {
	o, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

type capturingEmitter struct {
	events []*types.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	if p, ok := evt.(events.Payloader); ok {
		c.events = append(c.events, p.Event())
	}
}

func newTestEngine() (*Engine, *mockState, *capturingEmitter) {
	state := newMockState()
	emitter := &capturingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_000 })
	return engine, state, emitter
}

func milestones() []*Milestone {
	return []*Milestone{
		{Title: "design", Amount: big.NewInt(40), DueAt: 20_000},
		{Title: "build", Amount: big.NewInt(60), DueAt: 40_000},
	}
}

func create(t *testing.T, engine *Engine) *WorkOrder {
	t.Helper()
	order, err := engine.Create(requester, "znhb", big.NewInt(100), 50_000, milestones(), nonce)
	require.NoError(t, err)
	return order
}

func TestCreateValidation(t *testing.T) {
	engine, _, _ := newTestEngine()

	_, err := engine.Create(requester, "znhb", big.NewInt(100), 500, milestones(), nonce)
	require.ErrorIs(t, err, ErrPastDeadline)

	_, err = engine.Create(requester, "znhb", big.NewInt(99), 50_000, milestones(), nonce)
	require.ErrorIs(t, err, ErrInvalidMilestoneSum)

	_, err = engine.Create(requester, "znhb", big.NewInt(100), 50_000, nil, nonce)
	require.Error(t, err)

	order := create(t, engine)
	require.Equal(t, StatusOpen, order.Status)
	require.Equal(t, "ZNHB", order.Token)
}

func TestCreateIdempotent(t *testing.T) {
	engine, _, emitter := newTestEngine()

	first := create(t, engine)
	second, err := engine.Create(requester, "znhb", big.NewInt(100), 50_000, milestones(), nonce)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, emitter.events, 1)

	// Same nonce with a different total is a conflicting definition.
	_, err = engine.Create(requester, "znhb", big.NewInt(200), 50_000, []*Milestone{
		{Title: "all", Amount: big.NewInt(200), DueAt: 20_000},
	}, nonce)
	require.Error(t, err)
}

func TestAmendOnlyWhileOpen(t *testing.T) {
	engine, _, _ := newTestEngine()
	order := create(t, engine)

	_, err := engine.Amend(order.ID, stranger, big.NewInt(100), 60_000, milestones())
	require.ErrorIs(t, err, ErrNotRequester)

	amended, err := engine.Amend(order.ID, requester, big.NewInt(200), 60_000, []*Milestone{
		{Title: "all", Amount: big.NewInt(200), DueAt: 30_000},
	})
	require.NoError(t, err)
	require.Equal(t, int64(60_000), amended.Deadline)
	require.Equal(t, big.NewInt(200), amended.Total)

	require.NoError(t, engine.Assign(order.ID, requester, provider))
	_, err = engine.Amend(order.ID, requester, big.NewInt(100), 60_000, milestones())
	require.ErrorIs(t, err, ErrWrongTurn)
}

func TestLifecycleTurns(t *testing.T) {
	engine, _, _ := newTestEngine()
	order := create(t, engine)

	require.Error(t, engine.Assign(order.ID, requester, requester))
	require.NoError(t, engine.Assign(order.ID, requester, provider))

	require.ErrorIs(t, engine.Start(order.ID, requester), ErrNotProvider)
	require.NoError(t, engine.Start(order.ID, provider))

	require.NoError(t, engine.SubmitForReview(order.ID, provider))

	got, err := engine.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusUnderReview, got.Status)
}

func TestCancelOnlyWhileOpen(t *testing.T) {
	engine, _, _ := newTestEngine()
	order := create(t, engine)

	require.ErrorIs(t, engine.Cancel(order.ID, provider), ErrNotRequester)
	require.NoError(t, engine.Assign(order.ID, requester, provider))
	require.Error(t, engine.Cancel(order.ID, requester))
}

func TestApplyAuctionTermsRescales(t *testing.T) {
	engine, _, _ := newTestEngine()
	order := create(t, engine)

	applied, err := engine.ApplyAuctionTerms(order.ID, provider, big.NewInt(13))
	require.NoError(t, err)
	require.Equal(t, StatusAssigned, applied.Status)
	require.Equal(t, provider, applied.Provider)
	require.Equal(t, big.NewInt(13), applied.Total)
	// 40/100 of 13 floors to 5; the remainder lands on the final milestone.
	require.Equal(t, big.NewInt(5), applied.Milestones[0].Amount)
	require.Equal(t, big.NewInt(8), applied.Milestones[1].Amount)

	// Reapplying identical terms is an idempotent retry; conflicting
	// terms still fail.
	again, err := engine.ApplyAuctionTerms(order.ID, provider, big.NewInt(13))
	require.NoError(t, err)
	require.Equal(t, applied.Milestones[1].Amount, again.Milestones[1].Amount)

	_, err = engine.ApplyAuctionTerms(order.ID, provider, big.NewInt(14))
	require.Error(t, err)
	_, err = engine.ApplyAuctionTerms(order.ID, stranger, big.NewInt(13))
	require.Error(t, err)
}

func TestMarksRespectTerminalStatus(t *testing.T) {
	engine, _, _ := newTestEngine()
	order := create(t, engine)

	require.NoError(t, engine.MarkDisputed(order.ID))
	require.NoError(t, engine.MarkCompleted(order.ID))

	require.ErrorIs(t, engine.MarkCancelled(order.ID), ErrTerminalStatus)
	// Marking the already-held status is a no-op, not an error.
	require.NoError(t, engine.MarkCompleted(order.ID))
}

func TestLinkEscrowAndAuction(t *testing.T) {
	engine, state, _ := newTestEngine()
	order := create(t, engine)

	auctionID := [32]byte{0xaa}
	escrowID := [32]byte{0xbb}
	require.NoError(t, engine.LinkAuction(order.ID, auctionID))
	require.NoError(t, engine.LinkEscrow(order.ID, escrowID))

	stored, ok := state.WorkOrderGet(order.ID)
	require.True(t, ok)
	require.Equal(t, auctionID, stored.AuctionID)
	require.Equal(t, escrowID, stored.EscrowID)

	require.NoError(t, engine.Assign(order.ID, requester, provider))
	require.Error(t, engine.LinkAuction(order.ID, auctionID))
}

func TestRescaleMilestonesRemainder(t *testing.T) {
	rescaled, err := RescaleMilestones(milestones(), big.NewInt(100), big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(2), rescaled[0].Amount)
	require.Equal(t, big.NewInt(5), rescaled[1].Amount)

	// A total too small to give every milestone a positive share is rejected.
	_, err = RescaleMilestones(milestones(), big.NewInt(100), big.NewInt(1))
	require.Error(t, err)
}
