// Package reputation keeps per address standing scores fed by settlement
// outcomes elsewhere in the system. Writers treat it as a fire-and-forget
// sink; a reputation failure never blocks a settlement.
package reputation

import (
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"gavel/core/events"
	"gavel/core/types"
)

// EventTypeDelta is emitted for every applied score change.
const EventTypeDelta = "reputation.delta"

var (
	errNilState = errors.New("reputation engine: state not configured")
	// ErrNotFound is returned when no score exists for the subject.
	ErrNotFound = errors.New("reputation engine: subject not found")
)

// Score is the persistent standing of one address.
type Score struct {
	Subject   [20]byte
	Value     int64
	Samples   uint64
	UpdatedAt int64
}

func (s *Score) Clone() *Score {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

type engineState interface {
	ReputationPut(*Score) error
	ReputationGet(subject [20]byte) (*Score, bool)
}

type reputationEvent struct {
	evt *types.Event
}

func (e reputationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e reputationEvent) Event() *types.Event { return e.evt }

// Engine accumulates score deltas per subject.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

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

// Apply books a delta against the subject's score and reports any storage
// failure to the caller.
func (e *Engine) Apply(subject [20]byte, delta int64, reason string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	score, ok := e.state.ReputationGet(subject)
	if !ok {
		score = &Score{Subject: subject}
	}
	score.Value += delta
	score.Samples++
	score.UpdatedAt = e.now()
	if err := e.state.ReputationPut(score); err != nil {
		return err
	}
	e.emit(&types.Event{Type: EventTypeDelta, Attributes: map[string]string{
		"subject": hex.EncodeToString(subject[:]),
		"delta":   strconv.FormatInt(delta, 10),
		"score":   strconv.FormatInt(score.Value, 10),
		"reason":  reason,
	}})
	return nil
}

// Record is the fire-and-forget entry point used by the settlement engines.
// Storage failures are swallowed; callers must not depend on the sink.
func (e *Engine) Record(subject [20]byte, delta int64, reason string) {
	if e == nil {
		return
	}
	_ = e.Apply(subject, delta, reason)
}

// Get returns a defensive copy of the subject's score.
func (e *Engine) Get(subject [20]byte) (*Score, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	score, ok := e.state.ReputationGet(subject)
	if !ok {
		return nil, ErrNotFound
	}
	return score.Clone(), nil
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(reputationEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}
