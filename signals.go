package streamz

import "github.com/zoobzio/capitan"

// Signal definitions for stream lifecycle events.
// Signals follow the pattern: stream.<event>.
var (
	SignalStreamFailed = capitan.NewSignal(
		"stream.failed",
		"Stream evaluation stopped because a stage returned an error or panicked",
	)
	SignalStreamEmpty = capitan.NewSignal(
		"stream.empty",
		"Stream aggregate was rejected because the evaluated sequence has no elements",
	)
	SignalStreamConsumed = capitan.NewSignal(
		"stream.consumed",
		"Stream handed out its elements and can no longer be evaluated",
	)
)

// Field keys using capitan primitive types.
var (
	FieldName       = capitan.NewStringKey("name")       // Stream name
	FieldStreamID   = capitan.NewStringKey("stream_id")  // Stream identity
	FieldOperation  = capitan.NewStringKey("operation")  // Terminal operation
	FieldStageKind  = capitan.NewStringKey("stage_kind") // Kind of the failing stage
	FieldStageIndex = capitan.NewIntKey("stage_index")   // Attachment index of the failing stage
	FieldElements   = capitan.NewIntKey("elements")      // Elements entering the failed stage, or handed out
	FieldError      = capitan.NewStringKey("error")      // Error message
	FieldDuration   = capitan.NewFloat64Key("duration")  // Stage duration in seconds
)
