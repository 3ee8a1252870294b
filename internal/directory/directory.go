// Package directory maps phone numbers to live signaling sessions, either in
// this process or on another server instance reachable over the relay.
package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a number has no registered phone. Relay
// outages are reported the same way so callers can answer "no recipient"
// instead of failing hard.
var ErrNotFound = errors.New("phone number not registered")

// Partner is the signaling surface one phone exposes to its call peer. Both
// an in-process session and a relay handle to a session on another instance
// satisfy it, so the state machine never cares where the peer lives.
//
// The Signal methods are fire-and-forget: delivery failures are logged by the
// implementation, never surfaced to the caller.
type Partner interface {
	Number() string
	AccountID() string
	Valid() bool
	OnCall() bool

	IncomingCall(from string)
	Ringing()
	Refused(from, reason string)
	Connected(from string)
	Cancelled(from string)
	Ended(from string, wantAck bool)
	CloseAck(from string)
	Talk(msg string)
}

// CallContext is the shared per-number call state stamped by BeginCall. A
// server that did not originate a call reads it back to rate the call when
// the originating side never acknowledges the close.
type CallContext struct {
	CallID        string
	BillingPlanID string
}

// Directory is the number lookup service.
type Directory interface {
	// Get resolves a number to a partner handle, local or remote.
	Get(ctx context.Context, number string) (Partner, error)
	// GetLocal resolves only phones registered in this process.
	GetLocal(number string) (Partner, error)
	Set(ctx context.Context, number string, p Partner) error
	Delete(ctx context.Context, number string) error
	// ChangeValidState publishes whether the number may receive calls.
	ChangeValidState(ctx context.Context, number string, valid bool) error
	// BeginCall stamps both numbers with the call id and the caller's
	// billing plan; EndCall clears them.
	BeginCall(ctx context.Context, caller, callee, callID, billingPlanID string) error
	EndCall(ctx context.Context, caller, callee string) error
	CallContext(ctx context.Context, number string) (CallContext, error)
}
