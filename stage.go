package streamz

import "context"

// StageKind identifies the variant of a queued stage.
type StageKind int

// Stage kinds.
const (
	KindMap StageKind = iota
	KindFilter
	KindFlatMap
)

// String returns the kind as it appears in span tags and errors.
func (k StageKind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindFilter:
		return "filter"
	case KindFlatMap:
		return "flat_map"
	default:
		return "unknown"
	}
}

// stage is one queued transformation awaiting evaluation.
//
// The set of stages is closed: Map, Filter and FlatMap (and their Try variants)
// are the only ways to build one. Each variant holds its own callback, so the
// queue is a single ordered slice with no parallel bookkeeping to keep in sync.
// Callers see a queue through Stream.Stages.
type stage interface {
	Kind() StageKind
	Name() Name

	// apply runs the stage over one element, appending its output to dst.
	apply(ctx context.Context, dst Sequence, e Element) (Sequence, error)
}

type mapStage struct {
	fn func(Element) (Element, error)
}

func (mapStage) Kind() StageKind { return KindMap }
func (mapStage) Name() Name      { return KindMap.String() }

func (s mapStage) apply(_ context.Context, dst Sequence, e Element) (Sequence, error) {
	v, err := s.fn(e)
	if err != nil {
		return dst, err
	}
	return append(dst, v), nil
}

type filterStage struct {
	pred func(Element) (bool, error)
}

func (filterStage) Kind() StageKind { return KindFilter }
func (filterStage) Name() Name      { return KindFilter.String() }

func (s filterStage) apply(_ context.Context, dst Sequence, e Element) (Sequence, error) {
	keep, err := s.pred(e)
	if err != nil {
		return dst, err
	}
	if keep {
		dst = append(dst, e)
	}
	return dst, nil
}

type flatMapStage struct {
	fn func(Element) (*Stream, error)
}

func (flatMapStage) Kind() StageKind { return KindFlatMap }
func (flatMapStage) Name() Name      { return KindFlatMap.String() }

// apply takes ownership of the nested stream: its pending stages are drained,
// its elements copied into dst, and the stream closed. Nothing in dst refers
// back to the nested stream afterwards.
func (s flatMapStage) apply(ctx context.Context, dst Sequence, e Element) (Sequence, error) {
	nested, err := s.fn(e)
	if err != nil {
		return dst, err
	}
	if nested == nil {
		return dst, nil
	}
	if err := nested.acquire(); err != nil {
		return dst, err
	}
	defer nested.release()
	defer nested.Close()

	if nested.state == StateConsumed {
		return dst, ErrConsumed
	}
	if err := nested.drain(ctx); err != nil {
		return dst, err
	}
	dst = append(dst, nested.elements...)
	nested.consume()
	return dst, nil
}

func pureMap(f func(Element) Element) func(Element) (Element, error) {
	return func(e Element) (Element, error) {
		return f(e), nil
	}
}

func purePredicate(p func(Element) bool) func(Element) (bool, error) {
	return func(e Element) (bool, error) {
		return p(e), nil
	}
}

func pureFlatMap(f func(Element) *Stream) func(Element) (*Stream, error) {
	return func(e Element) (*Stream, error) {
		return f(e), nil
	}
}
