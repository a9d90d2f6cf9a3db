package streamz

import (
	"context"
	"slices"

	"github.com/zoobzio/capitan"
)

// Terminal operation names, as tagged on stream.terminal spans.
const (
	OpSum     Name = "sum"
	OpAverage Name = "average"
	OpMin     Name = "min"
	OpMax     Name = "max"
	OpCount   Name = "count"
	OpReduce  Name = "reduce"
	OpForEach Name = "for_each"
	OpToArray Name = "to_array"
	OpExport  Name = "export"
)

// terminal drains the pending stages and hands the resulting sequence to read.
// Stage failures are returned before read runs.
func (s *Stream) terminal(op Name, read func(Sequence) error) (err error) {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	if s.state == StateConsumed {
		return ErrConsumed
	}

	s.observe()
	s.metrics.Counter(StreamTerminalTotal).Inc()

	ctx, span := s.tracer.StartSpan(context.Background(), StreamTerminalSpan)
	span.SetTag(StreamTagName, s.name)
	span.SetTag(StreamTagOperation, op)
	defer func() {
		if r := recover(); r != nil {
			span.SetTag(StreamTagSuccess, "false")
			span.SetTag(StreamTagError, panicCause(r).Error())
			span.Finish()
			panic(r)
		}
		if err == nil {
			span.SetTag(StreamTagSuccess, "true")
		} else {
			span.SetTag(StreamTagSuccess, "false")
			span.SetTag(StreamTagError, err.Error())
		}
		span.Finish()
	}()

	if err := s.drain(ctx); err != nil {
		return err
	}
	if len(s.stages) == 0 {
		s.state = StateEvaluated
	}
	return read(s.elements)
}

// Sum returns the sum of the evaluated elements. Overflow wraps.
// It returns ErrEmptySequence when there are no elements.
func (s *Stream) Sum() (Element, error) {
	var total Element
	err := s.terminal(OpSum, func(seq Sequence) error {
		if err := s.requireElements(OpSum, seq); err != nil {
			return err
		}
		for _, e := range seq {
			total += e
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Average returns the arithmetic mean of the evaluated elements, computed in
// floating point. It returns ErrEmptySequence when there are no elements.
func (s *Stream) Average() (float64, error) {
	var mean float64
	err := s.terminal(OpAverage, func(seq Sequence) error {
		if err := s.requireElements(OpAverage, seq); err != nil {
			return err
		}
		var total float64
		for _, e := range seq {
			total += float64(e)
		}
		mean = total / float64(len(seq))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return mean, nil
}

// Min returns the smallest evaluated element.
// It returns ErrEmptySequence when there are no elements.
func (s *Stream) Min() (Element, error) {
	var lowest Element
	err := s.terminal(OpMin, func(seq Sequence) error {
		if err := s.requireElements(OpMin, seq); err != nil {
			return err
		}
		lowest = slices.Min(seq)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return lowest, nil
}

// Max returns the largest evaluated element.
// It returns ErrEmptySequence when there are no elements.
func (s *Stream) Max() (Element, error) {
	var highest Element
	err := s.terminal(OpMax, func(seq Sequence) error {
		if err := s.requireElements(OpMax, seq); err != nil {
			return err
		}
		highest = slices.Max(seq)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return highest, nil
}

// Count returns the number of evaluated elements. Zero is a valid count.
func (s *Stream) Count() (int, error) {
	var n int
	err := s.terminal(OpCount, func(seq Sequence) error {
		n = len(seq)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Reduce folds the evaluated elements from the left, starting at identity.
// An empty sequence yields identity.
//
// Example:
//
//	total, err := streamz.Of(1, 2, 3).Reduce(10, func(acc, x int) int { return acc + x })
//	// total: 16
func (s *Stream) Reduce(identity Element, op func(acc, e Element) Element) (Element, error) {
	acc := identity
	err := s.terminal(OpReduce, func(seq Sequence) error {
		for _, e := range seq {
			acc = op(acc, e)
		}
		return nil
	})
	if err != nil {
		return identity, err
	}
	return acc, nil
}

// ForEach calls action once per evaluated element, in order.
func (s *Stream) ForEach(action func(Element)) error {
	return s.terminal(OpForEach, func(seq Sequence) error {
		for _, e := range seq {
			action(e)
		}
		return nil
	})
}

// ToArray returns the evaluated elements and consumes the stream. The stream
// releases its storage; every later terminal call returns ErrConsumed.
func (s *Stream) ToArray() (Sequence, error) {
	var out Sequence
	err := s.terminal(OpToArray, func(seq Sequence) error {
		out = slices.Clone(seq)
		if out == nil {
			out = Sequence{}
		}
		s.finish(OpToArray, len(out))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Export encodes the evaluated elements with msgpack and consumes the stream.
// Decode rebuilds a stream from the result.
func (s *Stream) Export() ([]byte, error) {
	var data []byte
	err := s.terminal(OpExport, func(seq Sequence) error {
		encoded, err := EncodeSequence(seq)
		if err != nil {
			return err
		}
		data = encoded
		s.finish(OpExport, len(seq))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// finish consumes the stream and announces it.
func (s *Stream) finish(op Name, n int) {
	s.consume()
	ctx := context.Background()
	_ = s.hooks.Emit(ctx, StreamEventConsumed, StreamEvent{ //nolint:errcheck
		Name:        s.name,
		StreamID:    s.id,
		ElementsOut: n,
		Success:     true,
		Timestamp:   s.getClock().Now(),
	})

	capitan.Info(ctx, SignalStreamConsumed,
		FieldName.Field(s.name),
		FieldStreamID.Field(s.id.String()),
		FieldOperation.Field(op),
		FieldElements.Field(n),
	)
}
