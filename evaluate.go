package streamz

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for Stream.
const (
	// Metrics.
	StreamEvaluationsTotal = metricz.Key("stream.evaluations.total")
	StreamFailuresTotal    = metricz.Key("stream.failures.total")
	StreamStagesApplied    = metricz.Key("stream.stages.applied")
	StreamTerminalTotal    = metricz.Key("stream.terminal.total")
	StreamEmptyTotal       = metricz.Key("stream.empty.total")
	StreamElementsIn       = metricz.Key("stream.elements.in")
	StreamElementsOut      = metricz.Key("stream.elements.out")
	StreamDurationMs       = metricz.Key("stream.duration.ms")

	// Spans.
	StreamTerminalSpan = tracez.Key("stream.terminal")
	StreamEvaluateSpan = tracez.Key("stream.evaluate")
	StreamStageSpan    = tracez.Key("stream.stage")

	// Tags.
	StreamTagName        = tracez.Tag("stream.name")
	StreamTagOperation   = tracez.Tag("stream.operation")
	StreamTagStageCount  = tracez.Tag("stream.stage_count")
	StreamTagStageIndex  = tracez.Tag("stream.stage_index")
	StreamTagStageKind   = tracez.Tag("stream.stage_kind")
	StreamTagElementsIn  = tracez.Tag("stream.elements_in")
	StreamTagElementsOut = tracez.Tag("stream.elements_out")
	StreamTagSuccess     = tracez.Tag("stream.success")
	StreamTagError       = tracez.Tag("stream.error")

	// Hook event keys.
	StreamEventStageApplied = hookz.Key("stream.stage_applied")
	StreamEventDrained      = hookz.Key("stream.drained")
	StreamEventConsumed     = hookz.Key("stream.consumed")
)

// StreamEvent is emitted via hookz as stages run and when a stream is drained
// or consumed.
type StreamEvent struct {
	Name        Name          // Stream name
	StreamID    uuid.UUID     // Stream identity
	Kind        StageKind     // Stage kind (stage_applied)
	StageIndex  int           // Attachment index of the stage (stage_applied)
	StagesRun   int           // Stages applied by the evaluation (drained)
	ElementsIn  int           // Elements entering the stage or evaluation
	ElementsOut int           // Elements leaving the stage or evaluation
	Success     bool          // Whether the stage succeeded
	Error       error         // Error if the stage failed
	Duration    time.Duration // Stage or evaluation duration
	Timestamp   time.Time     // When the event occurred
}

// drain applies every pending stage, head first, to the whole sequence. Each
// stage materializes its full output before the next one starts.
//
// The evaluation is atomic: it works on a local sequence and only on success
// replaces the stream's elements and removes the applied stages from the queue.
// Stages attached by callbacks while draining stay queued.
func (s *Stream) drain(ctx context.Context) (err error) {
	n := len(s.stages)
	if n == 0 {
		return nil
	}
	pending := slices.Clone(s.stages)

	s.observe()
	clock := s.getClock()
	s.metrics.Counter(StreamEvaluationsTotal).Inc()
	s.metrics.Gauge(StreamElementsIn).Set(float64(len(s.elements)))
	start := clock.Now()

	ctx, span := s.tracer.StartSpan(ctx, StreamEvaluateSpan)
	span.SetTag(StreamTagName, s.name)
	span.SetTag(StreamTagStageCount, strconv.Itoa(n))
	span.SetTag(StreamTagElementsIn, strconv.Itoa(len(s.elements)))
	defer func() {
		s.metrics.Gauge(StreamDurationMs).Set(float64(clock.Since(start).Milliseconds()))
		if err == nil {
			span.SetTag(StreamTagSuccess, "true")
		} else {
			span.SetTag(StreamTagSuccess, "false")
			span.SetTag(StreamTagError, err.Error())
			s.metrics.Counter(StreamFailuresTotal).Inc()
		}
		span.Finish()
	}()

	working := s.elements
	for _, q := range pending {
		stageCtx, stageSpan := s.tracer.StartSpan(ctx, StreamStageSpan)
		stageSpan.SetTag(StreamTagStageIndex, strconv.Itoa(q.index))
		stageSpan.SetTag(StreamTagStageKind, q.step.Kind().String())
		stageSpan.SetTag(StreamTagElementsIn, strconv.Itoa(len(working)))

		stageStart := clock.Now()
		out, stageErr := s.applyStage(stageCtx, q, working)
		stageDuration := clock.Since(stageStart)

		event := StreamEvent{
			Name:       s.name,
			StreamID:   s.id,
			Kind:       q.step.Kind(),
			StageIndex: q.index,
			ElementsIn: len(working),
			Duration:   stageDuration,
			Timestamp:  clock.Now(),
		}

		if stageErr != nil {
			stageSpan.SetTag(StreamTagSuccess, "false")
			stageSpan.SetTag(StreamTagError, stageErr.Error())
			stageSpan.Finish()

			event.Error = stageErr
			_ = s.hooks.Emit(ctx, StreamEventStageApplied, event) //nolint:errcheck

			capitan.Error(ctx, SignalStreamFailed,
				FieldName.Field(s.name),
				FieldStreamID.Field(s.id.String()),
				FieldStageKind.Field(q.step.Kind().String()),
				FieldStageIndex.Field(q.index),
				FieldElements.Field(len(working)),
				FieldError.Field(stageErr.Error()),
				FieldDuration.Field(stageDuration.Seconds()),
			)
			return stageErr
		}

		stageSpan.SetTag(StreamTagElementsOut, strconv.Itoa(len(out)))
		stageSpan.SetTag(StreamTagSuccess, "true")
		stageSpan.Finish()
		s.metrics.Counter(StreamStagesApplied).Inc()

		event.Success = true
		event.ElementsOut = len(out)
		_ = s.hooks.Emit(ctx, StreamEventStageApplied, event) //nolint:errcheck

		working = out
	}

	elementsIn := len(s.elements)
	s.elements = working
	s.stages = append(s.stages[:0:0], s.stages[n:]...)

	s.metrics.Gauge(StreamElementsOut).Set(float64(len(working)))
	span.SetTag(StreamTagElementsOut, strconv.Itoa(len(working)))

	_ = s.hooks.Emit(ctx, StreamEventDrained, StreamEvent{ //nolint:errcheck
		Name:        s.name,
		StreamID:    s.id,
		StagesRun:   n,
		ElementsIn:  elementsIn,
		ElementsOut: len(working),
		Success:     true,
		Duration:    clock.Since(start),
		Timestamp:   clock.Now(),
	})

	return nil
}

// applyStage runs one stage over the whole input and returns a fresh sequence.
// The input is never modified.
func (s *Stream) applyStage(ctx context.Context, q queued, in Sequence) (out Sequence, err error) {
	clock := s.getClock()
	start := clock.Now()
	var current Element

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = s.stageError(q, current, panicCause(r), clock.Since(start), true)
		}
	}()

	out = make(Sequence, 0, len(in))
	for _, e := range in {
		current = e
		if out, err = q.step.apply(ctx, out, e); err != nil {
			return nil, s.stageError(q, e, err, clock.Since(start), false)
		}
	}
	return out, nil
}

func (s *Stream) stageError(q queued, e Element, cause error, elapsed time.Duration, panicked bool) *Error {
	return &Error{
		Timestamp:  s.getClock().Now(),
		Err:        cause,
		Stream:     s.name,
		StreamID:   s.id,
		Stage:      q.step.Name(),
		Kind:       q.step.Kind(),
		StageIndex: q.index,
		Element:    e,
		Duration:   elapsed,
		Panic:      panicked,
	}
}

// requireElements rejects an empty sequence for aggregates.
func (s *Stream) requireElements(op Name, seq Sequence) error {
	if len(seq) > 0 {
		return nil
	}
	s.metrics.Counter(StreamEmptyTotal).Inc()
	capitan.Warn(context.Background(), SignalStreamEmpty,
		FieldName.Field(s.name),
		FieldStreamID.Field(s.id.String()),
		FieldOperation.Field(op),
	)
	return ErrEmptySequence
}
