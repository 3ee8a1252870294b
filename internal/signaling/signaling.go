// Package signaling implements the per-phone call state machine. A session
// tracks one connected phone, talks to its call partner through the
// directory, and owns the call record from creation to rating.
package signaling

// State is the lifecycle of one connected phone.
type State int

const (
	// StateInvalid means the phone may not place or receive calls, either
	// because the account is suspended or the phone has unregistered.
	StateInvalid State = iota
	StateNotInCall
	StateCallInitOutgoing
	StateCallInitIncoming
	// StateCallInitCreatingDoc is the window between accepting a call and
	// the call record landing in the database.
	StateCallInitCreatingDoc
	StateCallActive
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateNotInCall:
		return "not_in_call"
	case StateCallInitOutgoing:
		return "call_init_outgoing"
	case StateCallInitIncoming:
		return "call_init_incoming"
	case StateCallInitCreatingDoc:
		return "call_init_creating_doc"
	case StateCallActive:
		return "call_active"
	}
	return "unknown"
}

// Reasons reported with a "call not possible" signal.
const (
	ReasonNotActive          = "not_active"
	ReasonAlreadyInCall      = "already_in_call"
	ReasonDialedSelf         = "dialed_self"
	ReasonNoRecipient        = "no_recipient"
	ReasonBusy               = "busy"
	ReasonError              = "error"
	ReasonCalleeDisconnected = "callee_disconnected"
)

// ClientSignaler pushes session events down to the connected phone client.
// The transport adapter implements it over the live connection.
type ClientSignaler interface {
	CallRequest(from string)
	CalleeRinging()
	CallConnected()
	CallCancelled()
	CallNotPossible(reason string)
	CallEnded()
	IncomingTalk(msg string)
	Error(reason string)
}
