package streamz

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// State is the lifecycle position of a Stream.
type State int

// Stream states.
const (
	// StateBuilding means stages may be pending. A fresh stream starts here, and an
	// evaluated stream returns here when another stage is attached.
	StateBuilding State = iota
	// StateEvaluated means the queue was drained by a terminal operation.
	StateEvaluated
	// StateConsumed means ToArray or Export handed out the elements. Terminal
	// operations on a consumed stream return ErrConsumed.
	StateConsumed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateEvaluated:
		return "evaluated"
	case StateConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

// queued is a stage plus its position in attachment order.
type queued struct {
	step  stage
	index int
}

// Stream is a lazy pipeline over a sequence of integers.
//
// A Stream owns its elements and an ordered queue of pending stages. Stage
// attachment only appends to the queue; the first terminal operation drains it,
// replacing the elements stage by stage. Streams are single-pass: drained stages
// never run again, and later stages apply to the residual elements.
//
// A Stream is not safe for concurrent use. Overlapping terminal calls are
// detected and rejected with ErrConcurrentUse rather than serialized.
//
// # Observability
//
// Metrics:
//   - stream.evaluations.total: Counter of evaluations that had stages to run
//   - stream.failures.total: Counter of failed evaluations
//   - stream.stages.applied: Counter of stages applied successfully
//   - stream.terminal.total: Counter of terminal operations
//   - stream.empty.total: Counter of aggregates rejected with ErrEmptySequence
//   - stream.elements.in: Gauge of elements entering the last evaluation
//   - stream.elements.out: Gauge of elements leaving the last evaluation
//   - stream.duration.ms: Gauge of the last evaluation duration
//
// Traces:
//   - stream.terminal: Span for each terminal operation
//   - stream.evaluate: Child span for draining the stage queue
//   - stream.stage: Child span for each applied stage
//
// Events (via hooks):
//   - stream.stage_applied: Fired after each stage, successful or not
//   - stream.drained: Fired when every pending stage was applied
//   - stream.consumed: Fired when ToArray or Export consumes the stream
type Stream struct {
	name     Name
	id       uuid.UUID
	elements Sequence
	stages   []queued
	attached int
	state    State
	busy     atomic.Bool
	clock    clockz.Clock

	// Observability, created on first use.
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[StreamEvent]
}

// Of creates a Stream over the given elements with an empty stage queue.
// An empty stream is legal; only aggregates reject emptiness.
//
// Example:
//
//	s := streamz.Of(2, 7, 9, -11, 12, 28, -33, 70, 5, 0)
func Of(elements ...Element) *Stream {
	return FromSequence(elements)
}

// FromSequence creates a Stream over a copy of seq.
func FromSequence(seq Sequence) *Stream {
	return &Stream{
		name:     DefaultName,
		id:       uuid.New(),
		elements: slices.Clone(seq),
		state:    StateBuilding,
	}
}

// WithName sets the name used in errors, spans and events.
func (s *Stream) WithName(name Name) *Stream {
	s.name = name
	return s
}

// WithClock sets a custom clock for testing.
func (s *Stream) WithClock(clock clockz.Clock) *Stream {
	s.clock = clock
	return s
}

// getClock returns the clock to use.
func (s *Stream) getClock() clockz.Clock {
	if s.clock == nil {
		return clockz.RealClock
	}
	return s.clock
}

// Map queues a stage replacing every element with f(element).
func (s *Stream) Map(f func(Element) Element) *Stream {
	return s.attach(mapStage{fn: pureMap(f)})
}

// TryMap queues a map stage whose callback may fail.
// A non-nil error aborts the evaluation.
func (s *Stream) TryMap(f func(Element) (Element, error)) *Stream {
	return s.attach(mapStage{fn: f})
}

// Filter queues a stage keeping the elements for which p holds.
func (s *Stream) Filter(p func(Element) bool) *Stream {
	return s.attach(filterStage{pred: purePredicate(p)})
}

// TryFilter queues a filter stage whose predicate may fail.
func (s *Stream) TryFilter(p func(Element) (bool, error)) *Stream {
	return s.attach(filterStage{pred: p})
}

// FlatMap queues a stage replacing every element with the elements of f(element),
// in the order the returned stream defines. The returned stream is owned by the
// evaluator: its pending stages are drained, its elements copied out, and it is
// closed. A nil stream contributes no elements.
//
// Example:
//
//	mirrored := streamz.Of(1, 2).FlatMap(func(x int) *streamz.Stream {
//	    return streamz.Of(x, -x)
//	})
//	// 1, -1, 2, -2
func (s *Stream) FlatMap(f func(Element) *Stream) *Stream {
	return s.attach(flatMapStage{fn: pureFlatMap(f)})
}

// TryFlatMap queues a flat-map stage whose callback may fail.
func (s *Stream) TryFlatMap(f func(Element) (*Stream, error)) *Stream {
	return s.attach(flatMapStage{fn: f})
}

func (s *Stream) attach(step stage) *Stream {
	s.stages = append(s.stages, queued{step: step, index: s.attached})
	s.attached++
	if s.state == StateEvaluated {
		s.state = StateBuilding
	}
	return s
}

// Name returns the name of this stream.
func (s *Stream) Name() Name {
	return s.name
}

// ID returns the identity used to correlate this stream's errors and events.
func (s *Stream) ID() uuid.UUID {
	return s.id
}

// State returns the lifecycle state.
func (s *Stream) State() State {
	return s.state
}

// Pending returns the number of queued stages.
func (s *Stream) Pending() int {
	return len(s.stages)
}

// Stages returns the kinds of the queued stages in execution order.
func (s *Stream) Stages() []StageKind {
	kinds := make([]StageKind, len(s.stages))
	for i, q := range s.stages {
		kinds[i] = q.step.Kind()
	}
	return kinds
}

// Len returns the number of materialized elements without evaluating anything.
func (s *Stream) Len() int {
	return len(s.elements)
}

func (s *Stream) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrConcurrentUse
	}
	return nil
}

func (s *Stream) release() {
	s.busy.Store(false)
}

// consume releases the element storage and marks the stream consumed.
func (s *Stream) consume() {
	s.elements = nil
	s.state = StateConsumed
}

// observe creates the observability components on first use. Nested streams
// built inside FlatMap callbacks usually never need them.
func (s *Stream) observe() {
	if s.metrics != nil {
		return
	}

	registry := metricz.New()
	registry.Counter(StreamEvaluationsTotal)
	registry.Counter(StreamFailuresTotal)
	registry.Counter(StreamStagesApplied)
	registry.Counter(StreamTerminalTotal)
	registry.Counter(StreamEmptyTotal)
	registry.Gauge(StreamElementsIn)
	registry.Gauge(StreamElementsOut)
	registry.Gauge(StreamDurationMs)

	s.metrics = registry
	s.tracer = tracez.New()
	s.hooks = hookz.New[StreamEvent]()
}

// Metrics returns the metrics registry for this stream.
func (s *Stream) Metrics() *metricz.Registry {
	s.observe()
	return s.metrics
}

// Tracer returns the tracer for this stream.
func (s *Stream) Tracer() *tracez.Tracer {
	s.observe()
	return s.tracer
}

// Close gracefully shuts down observability components.
func (s *Stream) Close() error {
	if s.tracer != nil {
		s.tracer.Close()
	}
	if s.hooks != nil {
		s.hooks.Close()
	}
	return nil
}

// OnStageApplied registers a handler called after each stage runs, whether it
// succeeded or not. Handlers run asynchronously.
func (s *Stream) OnStageApplied(handler func(context.Context, StreamEvent) error) error {
	s.observe()
	_, err := s.hooks.Hook(StreamEventStageApplied, handler)
	return err
}

// OnDrained registers a handler called when an evaluation applied every pending stage.
func (s *Stream) OnDrained(handler func(context.Context, StreamEvent) error) error {
	s.observe()
	_, err := s.hooks.Hook(StreamEventDrained, handler)
	return err
}

// OnConsumed registers a handler called when ToArray or Export consumes the stream.
func (s *Stream) OnConsumed(handler func(context.Context, StreamEvent) error) error {
	s.observe()
	_, err := s.hooks.Hook(StreamEventConsumed, handler)
	return err
}
