package streamz

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/tracez"
)

var errBoom = errors.New("boom")

func TestEvaluateOrder(t *testing.T) {
	var trace []string
	s := Of(1, 2).
		Map(func(x int) int { trace = append(trace, "map"); return x }).
		Filter(func(int) bool { trace = append(trace, "filter"); return true })

	if _, err := s.Count(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Each stage runs over the whole sequence before the next starts.
	expected := []string{"map", "map", "filter", "filter"}
	if !reflect.DeepEqual(trace, expected) {
		t.Errorf("expected %v, got %v", expected, trace)
	}
}

func TestEvaluateFlatMap(t *testing.T) {
	t.Run("Variable Fan Out", func(t *testing.T) {
		got, err := Of(0, 1, 2, 3).FlatMap(func(x int) *Stream {
			out := make([]Element, x)
			for i := range out {
				out[i] = x
			}
			return Of(out...)
		}).ToArray()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := Sequence{1, 2, 2, 3, 3, 3}
		if !reflect.DeepEqual(got, expected) {
			t.Errorf("expected %v, got %v", expected, got)
		}
	})

	t.Run("Nested Stages Run", func(t *testing.T) {
		got, err := Of(1, 2).FlatMap(func(x int) *Stream {
			return Of(x, x+10).Map(func(y int) int { return y * 2 })
		}).ToArray()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := Sequence{2, 22, 4, 24}
		if !reflect.DeepEqual(got, expected) {
			t.Errorf("expected %v, got %v", expected, got)
		}
	})

	t.Run("Nil Stream Contributes Nothing", func(t *testing.T) {
		got, err := Of(1, 2, 3).FlatMap(func(x int) *Stream {
			if x == 2 {
				return nil
			}
			return Of(x)
		}).ToArray()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(got, Sequence{1, 3}) {
			t.Errorf("expected [1 3], got %v", got)
		}
	})

	t.Run("Nested Stream Is Consumed", func(t *testing.T) {
		var nested []*Stream
		_, err := Of(1, 2).FlatMap(func(x int) *Stream {
			n := Of(x)
			nested = append(nested, n)
			return n
		}).Count()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, n := range nested {
			if n.State() != StateConsumed {
				t.Errorf("nested stream should be consumed, got %s", n.State())
			}
		}
	})

	t.Run("Returning Outer Stream", func(t *testing.T) {
		s := Of(1)
		_, err := s.FlatMap(func(int) *Stream { return s }).Count()
		if !errors.Is(err, ErrConcurrentUse) {
			t.Errorf("expected ErrConcurrentUse, got %v", err)
		}
	})

	t.Run("Returning Consumed Stream", func(t *testing.T) {
		used := Of(5)
		_, _ = used.ToArray()
		_, err := Of(1).FlatMap(func(int) *Stream { return used }).Count()
		if !errors.Is(err, ErrConsumed) {
			t.Errorf("expected ErrConsumed, got %v", err)
		}
	})

	t.Run("Nested Failure Propagates", func(t *testing.T) {
		_, err := Of(1).FlatMap(func(x int) *Stream {
			return Of(x).TryMap(func(int) (int, error) { return 0, errBoom })
		}).Sum()
		if !errors.Is(err, errBoom) {
			t.Errorf("expected nested error to propagate, got %v", err)
		}
	})
}

func TestEvaluateFailure(t *testing.T) {
	t.Run("Error Describes Stage", func(t *testing.T) {
		s := Of(1, 2, 3).WithName("numbers").
			Map(func(x int) int { return x * 10 }).
			TryMap(func(x int) (int, error) {
				if x == 20 {
					return 0, errBoom
				}
				return x, nil
			})

		_, err := s.Sum()
		if !errors.Is(err, errBoom) {
			t.Fatalf("expected callback error, got %v", err)
		}

		var streamErr *Error
		if !errors.As(err, &streamErr) {
			t.Fatalf("expected *Error, got %T", err)
		}
		if streamErr.Stream != "numbers" {
			t.Errorf("expected stream name numbers, got %q", streamErr.Stream)
		}
		if streamErr.StreamID != s.ID() {
			t.Errorf("expected stream id %s, got %s", s.ID(), streamErr.StreamID)
		}
		if streamErr.Kind != KindMap || streamErr.Stage != "map" {
			t.Errorf("expected map stage, got %s/%s", streamErr.Kind, streamErr.Stage)
		}
		if streamErr.StageIndex != 1 {
			t.Errorf("expected stage index 1, got %d", streamErr.StageIndex)
		}
		if streamErr.Element != 20 {
			t.Errorf("expected failing element 20, got %d", streamErr.Element)
		}
		if streamErr.IsPanic() {
			t.Error("error should not be marked as panic")
		}
	})

	t.Run("Nothing Committed", func(t *testing.T) {
		mapCalls := 0
		fail := true
		s := Of(1, 2, 3).
			Map(func(x int) int { mapCalls++; return x + 1 }).
			TryFilter(func(x int) (bool, error) {
				if fail {
					return false, errBoom
				}
				return x%2 == 0, nil
			})

		if _, err := s.Count(); !errors.Is(err, errBoom) {
			t.Fatalf("expected errBoom, got %v", err)
		}
		if s.Pending() != 2 {
			t.Errorf("failed evaluation should keep the queue, got %d pending", s.Pending())
		}
		if s.State() != StateBuilding {
			t.Errorf("expected building, got %s", s.State())
		}

		fail = false
		got, err := s.ToArray()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Retried from the original elements: 1,2,3 -> 2,3,4 -> 2,4.
		if !reflect.DeepEqual(got, Sequence{2, 4}) {
			t.Errorf("expected [2 4], got %v", got)
		}
		if mapCalls != 6 {
			t.Errorf("expected map to run once per evaluation attempt, got %d calls", mapCalls)
		}
	})

	t.Run("Stops At Failing Element", func(t *testing.T) {
		seen := 0
		_, err := Of(1, 2, 3, 4).TryMap(func(x int) (int, error) {
			seen++
			if x == 2 {
				return 0, errBoom
			}
			return x, nil
		}).Sum()
		if err == nil {
			t.Fatal("expected error")
		}
		if seen != 2 {
			t.Errorf("evaluation should stop at the failing element, saw %d", seen)
		}
	})

	t.Run("TryFlatMap Error", func(t *testing.T) {
		_, err := Of(1).TryFlatMap(func(int) (*Stream, error) { return nil, errBoom }).Count()
		var streamErr *Error
		if !errors.As(err, &streamErr) || streamErr.Kind != KindFlatMap {
			t.Errorf("expected flat_map *Error, got %v", err)
		}
	})
}

func TestEvaluatePanic(t *testing.T) {
	t.Run("String Panic", func(t *testing.T) {
		_, err := Of(1, 2).Filter(func(x int) bool {
			if x == 2 {
				panic("bad predicate")
			}
			return true
		}).Count()

		var streamErr *Error
		if !errors.As(err, &streamErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if !streamErr.IsPanic() {
			t.Error("expected panic flag")
		}
		if streamErr.Kind != KindFilter || streamErr.Element != 2 {
			t.Errorf("expected filter stage on element 2, got %s on %d", streamErr.Kind, streamErr.Element)
		}
	})

	t.Run("Error Panic Stays Matchable", func(t *testing.T) {
		_, err := Of(1).Map(func(int) int { panic(errBoom) }).Sum()
		if !errors.Is(err, errBoom) {
			t.Errorf("expected panic value to be matchable, got %v", err)
		}
	})

	t.Run("Integer Divide By Zero", func(t *testing.T) {
		zero := 0
		_, err := Of(1).Map(func(x int) int { return x / zero }).Sum()
		var streamErr *Error
		if !errors.As(err, &streamErr) || !streamErr.Panic {
			t.Errorf("expected recovered runtime panic, got %v", err)
		}
	})
}

func TestEvaluateObservability(t *testing.T) {
	t.Run("Metrics", func(t *testing.T) {
		s := sample().
			Filter(func(x int) bool { return x > 0 }).
			Map(func(x int) int { return x * 2 })
		defer s.Close()

		if _, err := s.Sum(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		m := s.Metrics()
		if got := m.Counter(StreamEvaluationsTotal).Value(); got != 1 {
			t.Errorf("expected 1 evaluation, got %f", got)
		}
		if got := m.Counter(StreamStagesApplied).Value(); got != 2 {
			t.Errorf("expected 2 stages applied, got %f", got)
		}
		if got := m.Gauge(StreamElementsIn).Value(); got != 10 {
			t.Errorf("expected 10 elements in, got %f", got)
		}
		if got := m.Gauge(StreamElementsOut).Value(); got != 7 {
			t.Errorf("expected 7 elements out, got %f", got)
		}
		if got := m.Counter(StreamFailuresTotal).Value(); got != 0 {
			t.Errorf("expected no failures, got %f", got)
		}
	})

	t.Run("Failure Metrics", func(t *testing.T) {
		s := Of(1).TryMap(func(int) (int, error) { return 0, errBoom })
		defer s.Close()
		_, _ = s.Sum()

		if got := s.Metrics().Counter(StreamFailuresTotal).Value(); got != 1 {
			t.Errorf("expected 1 failure, got %f", got)
		}
		if got := s.Metrics().Counter(StreamStagesApplied).Value(); got != 0 {
			t.Errorf("expected no stages applied, got %f", got)
		}
	})

	t.Run("Spans", func(t *testing.T) {
		s := sample().
			Filter(func(x int) bool { return x > 0 }).
			FlatMap(func(x int) *Stream { return Of(x, x) })
		defer s.Close()

		var spans []tracez.Span
		var mu sync.Mutex
		s.Tracer().OnSpanComplete(func(span tracez.Span) {
			mu.Lock()
			spans = append(spans, span)
			mu.Unlock()
		})

		if _, err := s.Count(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()

		// 1 terminal + 1 evaluate + 2 stages
		if len(spans) != 4 {
			t.Fatalf("expected 4 spans, got %d", len(spans))
		}

		var kinds []string
		for _, span := range spans {
			switch span.Name {
			case StreamStageSpan:
				kinds = append(kinds, span.Tags[StreamTagStageKind])
				if span.Tags[StreamTagSuccess] != "true" {
					t.Errorf("stage span should be successful, got %q", span.Tags[StreamTagSuccess])
				}
			case StreamEvaluateSpan:
				if span.Tags[StreamTagStageCount] != "2" {
					t.Errorf("expected stage_count 2, got %q", span.Tags[StreamTagStageCount])
				}
				if span.Tags[StreamTagElementsOut] != "14" {
					t.Errorf("expected elements_out 14, got %q", span.Tags[StreamTagElementsOut])
				}
			}
		}
		if !reflect.DeepEqual(kinds, []string{"filter", "flat_map"}) {
			t.Errorf("expected stage spans [filter flat_map], got %v", kinds)
		}
	})

	t.Run("Hooks", func(t *testing.T) {
		s := sample().WithName("hooked").
			Filter(func(x int) bool { return x > 0 }).
			Map(func(x int) int { return x + 1 })
		defer s.Close()

		var mu sync.Mutex
		var stageEvents []StreamEvent
		var drainedEvents []StreamEvent
		var consumedEvents []StreamEvent

		if err := s.OnStageApplied(func(_ context.Context, e StreamEvent) error {
			mu.Lock()
			stageEvents = append(stageEvents, e)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := s.OnDrained(func(_ context.Context, e StreamEvent) error {
			mu.Lock()
			drainedEvents = append(drainedEvents, e)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := s.OnConsumed(func(_ context.Context, e StreamEvent) error {
			mu.Lock()
			consumedEvents = append(consumedEvents, e)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := s.ToArray(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Wait for async hooks to fire
		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()

		if len(stageEvents) != 2 {
			t.Fatalf("expected 2 stage events, got %d", len(stageEvents))
		}
		for _, e := range stageEvents {
			if !e.Success || e.Name != "hooked" || e.StreamID != s.ID() {
				t.Errorf("unexpected stage event: %+v", e)
			}
		}
		if len(drainedEvents) != 1 {
			t.Fatalf("expected 1 drained event, got %d", len(drainedEvents))
		}
		drained := drainedEvents[0]
		if drained.StagesRun != 2 || drained.ElementsIn != 10 || drained.ElementsOut != 7 {
			t.Errorf("unexpected drained event: %+v", drained)
		}
		if len(consumedEvents) != 1 || consumedEvents[0].ElementsOut != 7 {
			t.Errorf("expected 1 consumed event with 7 elements, got %+v", consumedEvents)
		}
	})

	t.Run("Fake Clock", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		s := Of(1).WithClock(clock).TryMap(func(int) (int, error) { return 0, errBoom })
		defer s.Close()

		_, err := s.Sum()
		var streamErr *Error
		if !errors.As(err, &streamErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if !streamErr.Timestamp.Equal(clock.Now()) {
			t.Errorf("expected timestamp from injected clock, got %v", streamErr.Timestamp)
		}
		if streamErr.Duration != 0 {
			t.Errorf("fake clock did not advance, expected zero duration, got %v", streamErr.Duration)
		}
	})
}
