package streamz

// Element is the value flowing through a Stream.
type Element = int

// Sequence is an ordered run of elements: the data as of one point in a Stream.
type Sequence = []Element

// Name is a type alias for stream and stage names.
// Names appear in errors, span tags and hook events.
//
// Example:
//
//	const OrdersStream streamz.Name = "orders"
//
//	s := streamz.Of(ids...).WithName(OrdersStream)
type Name = string

// DefaultName is the name given to streams that were not named with WithName.
const DefaultName Name = "stream"
