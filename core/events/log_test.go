package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gavel/core/types"
)

type testEvent struct {
	kind string
}

func (e testEvent) EventType() string { return e.kind }

type payloadEvent struct {
	evt *types.Event
}

func (e payloadEvent) EventType() string   { return e.evt.Type }
func (e payloadEvent) Event() *types.Event { return e.evt }

func TestEmitAssignsSequences(t *testing.T) {
	log := NewLog(0)
	log.SetNowFunc(func() int64 { return 42 })

	log.Emit(testEvent{kind: "a"})
	log.Emit(testEvent{kind: "b"})

	entries := log.Backlog(0)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(1), entries[0].Sequence)
	require.Equal(t, uint64(2), entries[1].Sequence)
	require.Equal(t, int64(42), entries[0].Timestamp)
	require.Equal(t, "a", entries[0].Event.Type)
}

func TestBacklogHonorsCursor(t *testing.T) {
	log := NewLog(0)
	for i := 0; i < 5; i++ {
		log.Emit(testEvent{kind: "e"})
	}

	require.Len(t, log.Backlog(0), 5)
	require.Len(t, log.Backlog(3), 2)
	require.Empty(t, log.Backlog(5))
}

func TestCapacityEvictsOldest(t *testing.T) {
	log := NewLog(3)
	for i := 0; i < 5; i++ {
		log.Emit(testEvent{kind: "e"})
	}

	entries := log.Backlog(0)
	require.Len(t, entries, 3)
	require.Equal(t, uint64(3), entries[0].Sequence)
}

func TestPayloadEventsKeepAttributes(t *testing.T) {
	log := NewLog(0)
	log.Emit(payloadEvent{evt: &types.Event{
		Type:       "escrow.created",
		Attributes: map[string]string{"id": "0xabc"},
	}})

	entries := log.Backlog(0)
	require.Len(t, entries, 1)
	require.Equal(t, "0xabc", entries[0].Event.Attributes["id"])
}

func TestSubscribeReplaysAndStreams(t *testing.T) {
	log := NewLog(0)
	log.Emit(testEvent{kind: "early"})

	ch, cancel, backlog := log.Subscribe(context.Background(), 0)
	defer cancel()
	require.Len(t, backlog, 1)
	require.Equal(t, "early", backlog[0].Event.Type)

	log.Emit(testEvent{kind: "live"})
	select {
	case entry := <-ch:
		require.Equal(t, "live", entry.Event.Type)
		require.Equal(t, uint64(2), entry.Sequence)
	case <-time.After(time.Second):
		t.Fatal("no live entry delivered")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	log := NewLog(0)
	ctx, ctxCancel := context.WithCancel(context.Background())

	ch, cancel, _ := log.Subscribe(ctx, 0)
	cancel()
	_, open := <-ch
	require.False(t, open)

	ch2, cancel2, _ := log.Subscribe(ctx, 0)
	defer cancel2()
	ctxCancel()
	select {
	case _, open := <-ch2:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("context cancellation did not close subscription")
	}
}

func TestSubscribeMissesNoConcurrentEntries(t *testing.T) {
	log := NewLog(4096)
	var emitted uint64
	for i := 0; i < 200; i++ {
		done := make(chan struct{})
		go func() {
			log.Emit(testEvent{kind: "racer"})
			close(done)
		}()
		ch, cancel, backlog := log.Subscribe(context.Background(), 0)
		<-done
		log.Emit(testEvent{kind: "marker"})
		emitted += 2

		seen := make(map[uint64]bool, emitted)
		for _, entry := range backlog {
			seen[entry.Sequence] = true
		}
		for !seen[emitted] {
			select {
			case entry := <-ch:
				seen[entry.Sequence] = true
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for sequence %d", emitted)
			}
		}
		for seq := uint64(1); seq <= emitted; seq++ {
			require.True(t, seen[seq], "sequence %d neither in backlog nor on channel", seq)
		}
		cancel()
	}
}
