package streamz

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stream errors.
var (
	// ErrEmptySequence is returned by Sum, Average, Min and Max when the evaluated
	// sequence has no elements.
	ErrEmptySequence = errors.New("sequence is empty")
	// ErrConsumed is returned by terminal operations on a stream that ToArray or
	// Export already consumed.
	ErrConsumed = errors.New("stream already consumed")
	// ErrConcurrentUse is returned when a terminal operation starts while another
	// one is still running on the same stream.
	ErrConcurrentUse = errors.New("stream is in use")
)

// Error describes a failed evaluation: which stage failed, on which element,
// and why. Nothing is committed when an evaluation fails, so the stream still
// holds the sequence and stages it had before the terminal call.
//
// Error unwraps to the callback's error, so callers can match their own errors:
//
//	_, err := s.TryMap(parse).Sum()
//	if errors.Is(err, ErrMalformed) {
//	    // ...
//	}
//
//	var streamErr *streamz.Error
//	if errors.As(err, &streamErr) {
//	    log.Printf("%s stage %d failed on %d", streamErr.Kind, streamErr.StageIndex, streamErr.Element)
//	}
type Error struct {
	Timestamp  time.Time
	Err        error
	Stream     Name
	Stage      Name
	Duration   time.Duration
	StageIndex int
	Element    Element
	Kind       StageKind
	StreamID   uuid.UUID
	Panic      bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	location := fmt.Sprintf("stream %q: %s stage %d on element %d", e.Stream, e.Stage, e.StageIndex, e.Element)
	if e.Panic {
		return fmt.Sprintf("%s panicked after %v: %v", location, e.Duration, e.Err)
	}
	return fmt.Sprintf("%s failed after %v: %v", location, e.Duration, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsPanic reports whether the stage callback panicked.
func (e *Error) IsPanic() bool {
	return e.Panic
}

// panicCause turns a recovered value into an error, keeping error values matchable.
func panicCause(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
