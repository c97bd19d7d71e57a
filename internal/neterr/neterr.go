// Package neterr collects the precondition-failure sentinels spec.md §7
// names: errors that abort an operation and are reported to the caller
// rather than merged into the log-event stream.
package neterr

import "errors"

var (
	// ErrNoInterface is returned by netctx.Binding.Validate when no
	// capture-capable interface is bound.
	ErrNoInterface = errors.New("arpengine: no interface bound")
	// ErrNoGateway is returned when BlockingEngine is asked to start before
	// the gateway device has been resolved.
	ErrNoGateway = errors.New("arpengine: gateway not resolved")
	// ErrClosed is returned by Channel operations after Close.
	ErrClosed = errors.New("arpengine: capture channel closed")
)
