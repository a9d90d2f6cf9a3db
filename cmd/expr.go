package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zoobzio/streamz"
)

// stageExpr is a parsed --stage flag value.
type stageExpr struct {
	kind   streamz.StageKind
	expr   string
	attach func(*streamz.Stream)
}

func (e stageExpr) String() string {
	return e.kind.String() + ":" + e.expr
}

// parseStage parses "kind:expr", for example "map:*2", "filter:>=10" or "flatmap:dup".
func parseStage(raw string) (stageExpr, error) {
	kind, expr, ok := strings.Cut(raw, ":")
	if !ok || expr == "" {
		return stageExpr{}, fmt.Errorf("invalid stage %q: expected kind:expr", raw)
	}

	switch strings.ToLower(kind) {
	case "map":
		f, err := parseMap(expr)
		if err != nil {
			return stageExpr{}, fmt.Errorf("invalid map stage %q: %w", raw, err)
		}
		return stageExpr{kind: streamz.KindMap, expr: expr, attach: func(s *streamz.Stream) { s.Map(f) }}, nil
	case "filter":
		p, err := parseFilter(expr)
		if err != nil {
			return stageExpr{}, fmt.Errorf("invalid filter stage %q: %w", raw, err)
		}
		return stageExpr{kind: streamz.KindFilter, expr: expr, attach: func(s *streamz.Stream) { s.Filter(p) }}, nil
	case "flatmap", "flat_map":
		f, err := parseFlatMap(expr)
		if err != nil {
			return stageExpr{}, fmt.Errorf("invalid flat_map stage %q: %w", raw, err)
		}
		return stageExpr{kind: streamz.KindFlatMap, expr: expr, attach: func(s *streamz.Stream) { s.FlatMap(f) }}, nil
	default:
		return stageExpr{}, fmt.Errorf("unknown stage kind %q", kind)
	}
}

func parseMap(expr string) (func(streamz.Element) streamz.Element, error) {
	switch expr {
	case "neg":
		return func(x streamz.Element) streamz.Element { return -x }, nil
	case "abs":
		return func(x streamz.Element) streamz.Element {
			if x < 0 {
				return -x
			}
			return x
		}, nil
	case "sq":
		return func(x streamz.Element) streamz.Element { return x * x }, nil
	}

	op, n, err := operand(expr, "+", "-", "*", "/", "%")
	if err != nil {
		return nil, err
	}
	switch op {
	case "+":
		return func(x streamz.Element) streamz.Element { return x + n }, nil
	case "-":
		return func(x streamz.Element) streamz.Element { return x - n }, nil
	case "*":
		return func(x streamz.Element) streamz.Element { return x * n }, nil
	}
	if n == 0 {
		return nil, fmt.Errorf("division by zero")
	}
	if op == "/" {
		return func(x streamz.Element) streamz.Element { return x / n }, nil
	}
	return func(x streamz.Element) streamz.Element { return x % n }, nil
}

func parseFilter(expr string) (func(streamz.Element) bool, error) {
	switch expr {
	case "even":
		return func(x streamz.Element) bool { return x%2 == 0 }, nil
	case "odd":
		return func(x streamz.Element) bool { return x%2 != 0 }, nil
	}

	// Two-character operators must be tried before their one-character prefixes.
	op, n, err := operand(expr, ">=", "<=", "==", "!=", ">", "<")
	if err != nil {
		return nil, err
	}
	switch op {
	case ">=":
		return func(x streamz.Element) bool { return x >= n }, nil
	case "<=":
		return func(x streamz.Element) bool { return x <= n }, nil
	case "==":
		return func(x streamz.Element) bool { return x == n }, nil
	case "!=":
		return func(x streamz.Element) bool { return x != n }, nil
	case ">":
		return func(x streamz.Element) bool { return x > n }, nil
	default:
		return func(x streamz.Element) bool { return x < n }, nil
	}
}

func parseFlatMap(expr string) (func(streamz.Element) *streamz.Stream, error) {
	switch expr {
	case "dup":
		return func(x streamz.Element) *streamz.Stream { return streamz.Of(x, x) }, nil
	case "mirror":
		return func(x streamz.Element) *streamz.Stream { return streamz.Of(x, -x) }, nil
	case "drop":
		return func(streamz.Element) *streamz.Stream { return streamz.Of() }, nil
	case "range":
		return func(x streamz.Element) *streamz.Stream {
			if x <= 0 {
				return streamz.Of()
			}
			seq := make(streamz.Sequence, x)
			for i := range seq {
				seq[i] = i
			}
			return streamz.FromSequence(seq)
		}, nil
	default:
		return nil, fmt.Errorf("unknown expression %q", expr)
	}
}

// operand splits expr into the first matching operator and its integer argument.
func operand(expr string, ops ...string) (string, streamz.Element, error) {
	for _, op := range ops {
		rest, ok := strings.CutPrefix(expr, op)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			return "", 0, fmt.Errorf("invalid operand %q", rest)
		}
		return op, n, nil
	}
	return "", 0, fmt.Errorf("unknown expression %q", expr)
}

// parseValues parses the positional integer arguments.
func parseValues(args []string) (streamz.Sequence, error) {
	seq := make(streamz.Sequence, 0, len(args))
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: not an integer", arg)
		}
		seq = append(seq, n)
	}
	return seq, nil
}
