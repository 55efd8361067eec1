package events

import (
	"context"
	"sync"
	"time"

	"gavel/core/types"
)

// Entry is a single record in the append-only transition log. Sequence numbers
// start at 1 and never repeat, giving consumers a stable resume cursor.
type Entry struct {
	Sequence  uint64       `json:"sequence"`
	Timestamp int64        `json:"timestamp"`
	Event     *types.Event `json:"event"`
}

// Payloader is implemented by events that can render a canonical payload for
// the transition log. Events without a payload are recorded by type only.
type Payloader interface {
	Event() *types.Event
}

// Log is an in-memory append-only event log with fan-out subscriptions. It
// implements Emitter so engines can be pointed at it directly. Entries are
// retained up to the configured capacity; subscribers that fall behind have
// their channel dropped rather than blocking the emitting operation.
type Log struct {
	mu       sync.Mutex
	nowFn    func() int64
	capacity int
	entries  []Entry
	nextSeq  uint64
	nextSub  int
	subs     map[int]chan Entry
}

const defaultLogCapacity = 4096

// NewLog creates a transition log retaining up to capacity entries. A
// non-positive capacity selects the default.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &Log{
		nowFn:    func() int64 { return time.Now().Unix() },
		capacity: capacity,
		nextSeq:  1,
		subs:     make(map[int]chan Entry),
	}
}

// SetNowFunc overrides the timestamp source, primarily for tests.
func (l *Log) SetNowFunc(now func() int64) {
	if l == nil || now == nil {
		return
	}
	l.mu.Lock()
	l.nowFn = now
	l.mu.Unlock()
}

// Emit implements the Emitter interface by appending the event to the log and
// fanning it out to live subscribers.
func (l *Log) Emit(evt Event) {
	if l == nil || evt == nil {
		return
	}
	payload := &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	if p, ok := evt.(Payloader); ok {
		if rendered := p.Event(); rendered != nil {
			payload = rendered
		}
	}
	l.mu.Lock()
	entry := Entry{Sequence: l.nextSeq, Timestamp: l.nowFn(), Event: payload}
	l.nextSeq++
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	for id, ch := range l.subs {
		select {
		case ch <- entry:
		default:
			close(ch)
			delete(l.subs, id)
		}
	}
	l.mu.Unlock()
}

// Backlog returns all retained entries with a sequence greater than after.
func (l *Log) Backlog(after uint64) []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		if entry.Sequence > after {
			out = append(out, entry)
		}
	}
	return out
}

// Subscribe registers a live subscription resuming after the provided cursor.
// The returned backlog covers retained entries past the cursor; subsequent
// entries arrive on the channel until cancel is called or ctx is done. The
// snapshot and the registration happen under one critical section, so every
// entry lands in exactly one of the two.
func (l *Log) Subscribe(ctx context.Context, after uint64) (<-chan Entry, func(), []Entry) {
	ch := make(chan Entry, 64)
	l.mu.Lock()
	backlog := make([]Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		if entry.Sequence > after {
			backlog = append(backlog, entry)
		}
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			if existing, ok := l.subs[id]; ok {
				close(existing)
				delete(l.subs, id)
			}
			l.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel, backlog
}
