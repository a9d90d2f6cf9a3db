// Package streamz provides a lazy, chainable pipeline over integer sequences.
//
// # Overview
//
// A Stream holds a sequence of integers and a queue of pending stages. Attaching a
// stage records it without running anything; the first terminal operation drains
// the queue, applying every stage to the whole sequence in the order the stages
// were attached, and then reads the result.
//
//	total, err := streamz.Of(2, 7, 9, -11, 12).
//	    Filter(func(x int) bool { return x > 0 }).
//	    Map(func(x int) int { return x * 2 }).
//	    Sum()
//	// total: 60
//
// # Stages
//
//   - Map: replace every element with f(element)
//   - Filter: keep the elements for which the predicate holds
//   - FlatMap: replace every element with the elements of the stream f(element) returns
//
// Each has a Try variant whose callback may return an error. A failing callback
// (error or panic) aborts the evaluation; nothing is committed and the error is
// returned from the terminal call as an *Error that unwraps to the cause.
//
// # Terminal Operations
//
//   - Sum, Average, Min, Max: aggregates; fail with ErrEmptySequence on an empty result
//   - Count, Reduce, ForEach: never fail on an empty result
//   - ToArray, Export: hand out the elements and consume the stream
//
// # Lifecycle
//
// Streams are single-pass. Stages run once: a second terminal call without new stages
// observes the same result, and stages attached after a terminal call apply to that
// residual result, not to the original input. After ToArray or Export the stream is
// consumed and every further terminal call returns ErrConsumed.
//
// A Stream belongs to one goroutine. Overlapping terminal calls, including a callback
// calling back into its own stream, are rejected with ErrConcurrentUse.
//
// # Observability
//
// Every stream exposes a metricz registry, a tracez tracer and hookz events:
//
//	s := streamz.Of(1, 2, 3).WithName("orders")
//	s.OnStageApplied(func(_ context.Context, e streamz.StreamEvent) error {
//	    log.Printf("%s stage %d: %d -> %d", e.Kind, e.StageIndex, e.ElementsIn, e.ElementsOut)
//	    return nil
//	})
//	defer s.Close()
package streamz
