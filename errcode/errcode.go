package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Setup-time conditions. Both abort the binding.
	NotPresent          Code = "not_present"          // version sentinel detected
	ResourceUnavailable Code = "resource_unavailable" // I/O window too small or already reserved

	// Steady-state conditions. Logged, never escalated to the caller.
	FirmwareCallFailed Code = "firmware_call_failed" // PWRD lookup or evaluation failed
	AckMismatch        Code = "ack_mismatch"         // interrupt status did not clear after write-back
	CompletionTimeout  Code = "completion_timeout"   // no power-change interrupt within the wait bound

	// Service/bus surface.
	Busy           Code = "busy"
	Unsupported    Code = "unsupported"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	InvalidTopic   Code = "invalid_topic"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
