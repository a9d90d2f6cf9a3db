// Package testing provides test utilities and helpers for streamz-based code.
//
// This package includes recording callbacks, failure and chaos injection,
// span capture and assertion helpers to make testing stream pipelines easier.
//
// Example usage:
//
//	func TestPipeline(t *testing.T) {
//		rec := streamztest.NewRecorder(t, "double")
//
//		s := streamz.Of(1, 2, 3).Map(rec.Map(func(x int) int { return x * 2 }))
//		streamztest.AssertNotCalled(t, rec)
//
//		got, err := s.ToArray()
//		if err != nil {
//			t.Fatal(err)
//		}
//		streamztest.AssertElements(t, got, streamz.Sequence{2, 4, 6})
//		streamztest.AssertCalls(t, rec, 3)
//	}
package testing

import (
	"crypto/rand"
	"errors"
	"fmt"
	mathrand "math/rand"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zoobzio/metricz"
	"github.com/zoobzio/streamz"
	"github.com/zoobzio/tracez"
)

// Recorder wraps stage callbacks and records every element they receive.
// Use it to check laziness, ordering and exactly-once evaluation.
type Recorder struct {
	t     *testing.T
	name  string
	calls int64
	mu    sync.Mutex
	seen  streamz.Sequence
}

// NewRecorder creates a new recorder for testing.
func NewRecorder(t *testing.T, name string) *Recorder {
	return &Recorder{t: t, name: name}
}

func (r *Recorder) record(e streamz.Element) {
	atomic.AddInt64(&r.calls, 1)
	r.mu.Lock()
	r.seen = append(r.seen, e)
	r.mu.Unlock()
}

// Map wraps a map callback.
func (r *Recorder) Map(f func(streamz.Element) streamz.Element) func(streamz.Element) streamz.Element {
	return func(e streamz.Element) streamz.Element {
		r.record(e)
		return f(e)
	}
}

// Filter wraps a filter predicate.
func (r *Recorder) Filter(p func(streamz.Element) bool) func(streamz.Element) bool {
	return func(e streamz.Element) bool {
		r.record(e)
		return p(e)
	}
}

// FlatMap wraps a flat-map callback.
func (r *Recorder) FlatMap(f func(streamz.Element) *streamz.Stream) func(streamz.Element) *streamz.Stream {
	return func(e streamz.Element) *streamz.Stream {
		r.record(e)
		return f(e)
	}
}

// Name returns the name of the recorder.
func (r *Recorder) Name() string {
	return r.name
}

// Calls returns the number of recorded callback invocations.
func (r *Recorder) Calls() int {
	return int(atomic.LoadInt64(&r.calls))
}

// Seen returns a copy of the recorded elements in call order.
func (r *Recorder) Seen() streamz.Sequence {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(streamz.Sequence, len(r.seen))
	copy(seen, r.seen)
	return seen
}

// Reset clears all recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	atomic.StoreInt64(&r.calls, 0)
	r.seen = nil
}

// FailOn returns a TryMap callback that passes elements through unchanged and
// fails with err on the first element matching match.
func FailOn(match func(streamz.Element) bool, err error) func(streamz.Element) (streamz.Element, error) {
	return func(e streamz.Element) (streamz.Element, error) {
		if match(e) {
			return e, err
		}
		return e, nil
	}
}

// PanicOn returns a Map callback that passes elements through unchanged and
// panics with msg on elements matching match.
func PanicOn(match func(streamz.Element) bool, msg string) func(streamz.Element) streamz.Element {
	return func(e streamz.Element) streamz.Element {
		if match(e) {
			panic(msg)
		}
		return e
	}
}

// ErrChaos is the error injected by ChaosMapper.
var ErrChaos = errors.New("chaos mapper induced failure")

// ChaosConfig holds configuration for chaos testing.
type ChaosConfig struct {
	FailureRate float64 // Probability of returning ErrChaos (0.0 to 1.0)
	PanicRate   float64 // Probability of panicking (0.0 to 1.0)
	Seed        int64   // Random seed for reproducible chaos (0 for random seed)
}

// ChaosMapper wraps a map callback and randomly injects failures and panics.
type ChaosMapper struct {
	wrapped     func(streamz.Element) streamz.Element
	failureRate float64
	panicRate   float64
	rng         *mathrand.Rand
	mu          sync.Mutex
	totalCalls  int64
	failedCalls int64
	panicCalls  int64
}

// NewChaosMapper creates a chaos mapper around f.
func NewChaosMapper(f func(streamz.Element) streamz.Element, config ChaosConfig) *ChaosMapper {
	seed := config.Seed
	if seed == 0 {
		var seedBytes [8]byte
		if _, err := rand.Read(seedBytes[:]); err == nil {
			for _, b := range seedBytes {
				seed = seed<<8 | int64(b)
			}
		}
	}

	return &ChaosMapper{
		wrapped:     f,
		failureRate: config.FailureRate,
		panicRate:   config.PanicRate,
		rng:         mathrand.New(mathrand.NewSource(seed)), //nolint:gosec // G404: Test utility uses weak RNG for deterministic chaos scenarios
	}
}

// TryMap returns the callback to pass to Stream.TryMap.
func (c *ChaosMapper) TryMap() func(streamz.Element) (streamz.Element, error) {
	return func(e streamz.Element) (streamz.Element, error) {
		atomic.AddInt64(&c.totalCalls, 1)

		c.mu.Lock()
		injectPanic := c.rng.Float64() < c.panicRate
		injectFailure := c.rng.Float64() < c.failureRate
		c.mu.Unlock()

		if injectPanic {
			atomic.AddInt64(&c.panicCalls, 1)
			panic("chaos mapper induced panic")
		}
		if injectFailure {
			atomic.AddInt64(&c.failedCalls, 1)
			return e, ErrChaos
		}
		return c.wrapped(e), nil
	}
}

// Stats returns statistics about chaos injection.
func (c *ChaosMapper) Stats() ChaosStats {
	return ChaosStats{
		TotalCalls:  atomic.LoadInt64(&c.totalCalls),
		FailedCalls: atomic.LoadInt64(&c.failedCalls),
		PanicCalls:  atomic.LoadInt64(&c.panicCalls),
	}
}

// ChaosStats holds statistics about chaos injection.
type ChaosStats struct {
	TotalCalls  int64
	FailedCalls int64
	PanicCalls  int64
}

// String returns a summary of the chaos statistics.
func (s ChaosStats) String() string {
	return fmt.Sprintf("calls=%d failed=%d panicked=%d", s.TotalCalls, s.FailedCalls, s.PanicCalls)
}

// SpanCollector captures the spans a stream's tracer completes.
type SpanCollector struct {
	mu    sync.Mutex
	spans []tracez.Span
}

// CollectSpans starts capturing spans completed by the stream's tracer.
func CollectSpans(s *streamz.Stream) *SpanCollector {
	c := &SpanCollector{}
	s.Tracer().OnSpanComplete(func(span tracez.Span) {
		c.mu.Lock()
		c.spans = append(c.spans, span)
		c.mu.Unlock()
	})
	return c
}

// Spans returns a copy of the captured spans in completion order.
func (c *SpanCollector) Spans() []tracez.Span {
	c.mu.Lock()
	defer c.mu.Unlock()
	spans := make([]tracez.Span, len(c.spans))
	copy(spans, c.spans)
	return spans
}

// Count returns how many captured spans have the given name.
func (c *SpanCollector) Count(name tracez.Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, span := range c.spans {
		if span.Name == name {
			n++
		}
	}
	return n
}

// Assertion Helpers

// AssertCalls verifies that a recorder saw exactly n callback invocations.
func AssertCalls(t *testing.T, r *Recorder, expectedCalls int) {
	t.Helper()
	if actual := r.Calls(); actual != expectedCalls {
		t.Errorf("expected recorder %s to be called %d times, but was called %d times",
			r.name, expectedCalls, actual)
	}
}

// AssertNotCalled verifies that a recorder was never invoked.
func AssertNotCalled(t *testing.T, r *Recorder) {
	t.Helper()
	AssertCalls(t, r, 0)
}

// AssertSeen verifies the elements a recorder received, in order.
func AssertSeen(t *testing.T, r *Recorder, expected streamz.Sequence) {
	t.Helper()
	if seen := r.Seen(); !equalSequences(seen, expected) {
		t.Errorf("expected recorder %s to see %v, but saw %v", r.name, expected, seen)
	}
}

// AssertElements verifies a sequence element by element.
func AssertElements(t *testing.T, got, expected streamz.Sequence) {
	t.Helper()
	if !equalSequences(got, expected) {
		t.Errorf("expected elements %v, got %v", expected, got)
	}
}

// AssertEmpty verifies that err reports an empty sequence.
func AssertEmpty(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, streamz.ErrEmptySequence) {
		t.Errorf("expected ErrEmptySequence, got %v", err)
	}
}

// AssertStageError verifies that err is an evaluation failure of the given
// stage kind and returns it for further checks.
func AssertStageError(t *testing.T, err error, kind streamz.StageKind) *streamz.Error {
	t.Helper()
	var streamErr *streamz.Error
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected *streamz.Error, got %T: %v", err, err)
	}
	if streamErr.Kind != kind {
		t.Errorf("expected %s stage failure, got %s", kind, streamErr.Kind)
	}
	return streamErr
}

// AssertCounter verifies a counter in the stream's metrics registry.
func AssertCounter(t *testing.T, s *streamz.Stream, key metricz.Key, expected float64) {
	t.Helper()
	if actual := s.Metrics().Counter(key).Value(); actual != expected {
		t.Errorf("expected counter %s to be %v, got %v", key, expected, actual)
	}
}

// AssertGauge verifies a gauge in the stream's metrics registry.
func AssertGauge(t *testing.T, s *streamz.Stream, key metricz.Key, expected float64) {
	t.Helper()
	if actual := s.Metrics().Gauge(key).Value(); actual != expected {
		t.Errorf("expected gauge %s to be %v, got %v", key, expected, actual)
	}
}

// equalSequences treats nil and empty sequences as equal.
func equalSequences(a, b streamz.Sequence) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
