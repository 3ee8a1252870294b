package signaling

import (
	"context"
	"sync"
	"time"

	"voip-exchange/internal/billing"
	"voip-exchange/internal/directory"
)

// Session is the signaling state machine for one connected phone. It
// implements directory.Partner, so a peer session (or the relay) drives it
// through the same methods whether the peer is local or remote.
//
// Events for a single session are serialized by s.mu, but the mutex is never
// held across store calls or partner signaling. Instead a handler commits a
// provisional state before its I/O and rechecks it afterwards, so a
// concurrent disconnect or suspension unwinds the stale operation instead of
// racing it.
type Session struct {
	mgr    *Manager
	client ClientSignaler

	mu               sync.Mutex
	number           string
	accountID        string
	state            State
	partner          directory.Partner
	partnerConfirmed bool
	billID           string
	billingPlanID    string
	callDoc          *billing.Call
	closeTimer       *time.Timer
}

// resetLocked returns the session to its idle state. Callers hold s.mu.
func (s *Session) resetLocked(clearPartner bool) {
	if s.state != StateInvalid {
		s.state = StateNotInCall
	}
	if clearPartner {
		s.partner = nil
	}
	s.partnerConfirmed = false
	s.billID = ""
	s.billingPlanID = ""
	s.callDoc = nil
	if s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}
}

func (s *Session) resetCall(clearPartner bool) {
	s.mu.Lock()
	s.resetLocked(clearPartner)
	s.mu.Unlock()
}

// State reports the current machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MakeCall handles the client dialing calleeNumber.
func (s *Session) MakeCall(ctx context.Context, calleeNumber string) {
	s.mu.Lock()
	switch {
	case s.state == StateInvalid:
		s.mu.Unlock()
		s.client.CallNotPossible(ReasonNotActive)
		return
	case s.state != StateNotInCall:
		s.mu.Unlock()
		s.client.CallNotPossible(ReasonAlreadyInCall)
		return
	case calleeNumber == s.number:
		s.mu.Unlock()
		s.client.CallNotPossible(ReasonDialedSelf)
		return
	}
	// Provisional: committed before the lookups so a concurrent event can
	// detect the in-flight call attempt.
	s.state = StateCallInitOutgoing
	number := s.number
	accountID := s.accountID
	s.mu.Unlock()

	other, err := s.mgr.dir.Get(ctx, calleeNumber)
	if err != nil || !other.Valid() {
		s.failMakeCall(ReasonNoRecipient)
		return
	}
	if other.OnCall() {
		s.failMakeCall(ReasonBusy)
		return
	}

	accts, err := s.mgr.accounts.FindAccountsByIDs(ctx, []string{accountID, other.AccountID()})
	if err != nil || len(accts) != 2 {
		s.failMakeCall(ReasonError)
		return
	}
	var caller, callee *billing.PhoneAccount
	for i := range accts {
		switch accts[i].ID {
		case accountID:
			caller = &accts[i]
		case other.AccountID():
			callee = &accts[i]
		}
	}
	switch {
	case caller == nil || callee == nil:
		s.failMakeCall(ReasonError)
		return
	case !caller.IsActive || caller.IsSuspended:
		s.failMakeCall(ReasonError)
		return
	case !callee.IsActive || callee.IsSuspended:
		s.failMakeCall(ReasonNoRecipient)
		return
	}

	s.mu.Lock()
	if s.state != StateCallInitOutgoing {
		// Disconnected or suspended while the accounts loaded.
		s.mu.Unlock()
		return
	}
	s.partner = other
	s.billID = caller.CurrentBillID
	s.billingPlanID = caller.BillingPlanID
	s.mu.Unlock()

	other.IncomingCall(number)
}

func (s *Session) failMakeCall(reason string) {
	s.mu.Lock()
	if s.state == StateCallInitOutgoing {
		s.resetLocked(true)
	}
	s.mu.Unlock()
	s.client.CallNotPossible(reason)
}

// AcknowledgeCall handles the client confirming it is ringing for an
// incoming call from callerNumber.
func (s *Session) AcknowledgeCall(ctx context.Context, callerNumber string) {
	other, err := s.mgr.dir.Get(ctx, callerNumber)
	if err != nil {
		return
	}

	s.mu.Lock()
	number := s.number
	switch {
	case s.state == StateInvalid:
		// Suspended between the call request and the acknowledgement.
		s.mu.Unlock()
		s.client.CallCancelled()
		other.Refused(number, ReasonNoRecipient)
	case s.state != StateNotInCall:
		partner := s.partner
		s.mu.Unlock()
		if partner == nil || partner.Number() != callerNumber {
			other.Refused(number, ReasonBusy)
		}
	default:
		s.state = StateCallInitIncoming
		s.partner = other
		s.mu.Unlock()
		other.Ringing()
	}
}

// AcceptCall handles the client picking up (callee side) or confirming an
// answered call (caller side).
func (s *Session) AcceptCall(ctx context.Context) {
	s.mu.Lock()
	switch {
	case s.state == StateCallInitIncoming:
		s.state = StateCallActive
		partner := s.partner
		number := s.number
		s.mu.Unlock()
		if partner != nil {
			partner.Connected(number)
		}
	case s.state == StateCallInitOutgoing && s.partnerConfirmed:
		s.state = StateCallInitCreatingDoc
		partner := s.partner
		number := s.number
		billID := s.billID
		planID := s.billingPlanID
		s.mu.Unlock()
		s.createCallDoc(ctx, partner, number, billID, planID)
	default:
		s.mu.Unlock()
		s.client.Error("invalid_call_accepted")
	}
}

func (s *Session) createCallDoc(ctx context.Context, partner directory.Partner, number, billID, planID string) {
	doc := billing.Call{
		CallerBillID: billID,
		CalleeNumber: partner.Number(),
		StartDate:    s.mgr.clock().UTC(),
	}
	if err := s.mgr.calls.CreateCall(ctx, &doc); err != nil {
		s.mgr.log.Error("create call record", "number", number, "err", err)
		s.mu.Lock()
		if s.state == StateCallInitCreatingDoc {
			s.resetLocked(true)
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.state != StateCallInitCreatingDoc {
		// A hang-up, disconnect or suspension won the race while the
		// record was saving; discard it.
		s.resetLocked(true)
		s.mu.Unlock()
		partner.Cancelled(number)
		if err := s.mgr.calls.DeleteCall(ctx, doc.ID); err != nil {
			s.mgr.log.Error("discard stale call record", "call_id", doc.ID, "err", err)
		}
		return
	}
	s.state = StateCallActive
	s.callDoc = &doc
	s.mu.Unlock()

	partner.Connected(number)
	if err := s.mgr.dir.BeginCall(ctx, number, partner.Number(), doc.ID, planID); err != nil {
		s.mgr.log.Error("stamp call context", "call_id", doc.ID, "err", err)
	}
}

// RefuseCall handles the client declining an incoming call.
func (s *Session) RefuseCall(ctx context.Context, callerNumber, reason string) {
	s.mu.Lock()
	number := s.number
	var other directory.Partner
	if s.partner != nil && s.partner.Number() == callerNumber {
		other = s.partner
		s.resetLocked(true)
	}
	s.mu.Unlock()

	if other == nil {
		p, err := s.mgr.dir.Get(ctx, callerNumber)
		if err != nil {
			return
		}
		other = p
	}
	other.Refused(number, reason)
}

// HangUp handles the client ending whatever call activity is in flight.
func (s *Session) HangUp(ctx context.Context) {
	s.mu.Lock()
	state := s.state
	partner := s.partner
	number := s.number
	doc := s.callDoc
	switch state {
	case StateCallActive:
		s.mu.Unlock()
		s.closeCall(ctx, true, s.mgr.clock().UTC())
		if doc != nil {
			s.resetCall(true)
		} else {
			// Callee side: the partner and fallback timer survive until
			// the close acknowledgement arrives or the timer fires.
			s.mu.Lock()
			if s.state == StateCallActive {
				s.state = StateNotInCall
			}
			s.mu.Unlock()
		}
	case StateCallInitCreatingDoc:
		// The pending AcceptCall observes the disturbed state and cancels
		// the call; it still needs the partner reference.
		s.resetLocked(false)
		s.mu.Unlock()
	case StateCallInitOutgoing:
		s.resetLocked(true)
		s.mu.Unlock()
		if partner != nil {
			partner.Cancelled(number)
		}
	case StateCallInitIncoming:
		s.resetLocked(true)
		s.mu.Unlock()
		if partner != nil {
			partner.Refused(number, ReasonError)
		}
	default:
		s.mu.Unlock()
	}
}

// Disconnect handles the transport connection going away.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	state := s.state
	partner := s.partner
	number := s.number
	s.state = StateInvalid
	s.mu.Unlock()

	switch state {
	case StateCallInitOutgoing:
		if partner != nil {
			partner.Cancelled(number)
		}
	case StateCallInitIncoming:
		if partner != nil {
			partner.Refused(number, ReasonCalleeDisconnected)
		}
	case StateCallActive:
		s.closeCall(ctx, true, s.mgr.clock().UTC())
	}
	// StateCallInitCreatingDoc needs nothing here: the pending AcceptCall
	// sees the state change and discards the record.

	if err := s.mgr.dir.Delete(ctx, number); err != nil {
		s.mgr.log.Error("deregister phone", "number", number, "err", err)
	}
}

// SendTalk relays an in-call message from the client to the partner.
func (s *Session) SendTalk(msg string) {
	s.mu.Lock()
	var partner directory.Partner
	if s.state == StateCallActive {
		partner = s.partner
	}
	s.mu.Unlock()
	if partner != nil {
		partner.Talk(msg)
	}
}

// closeCall runs the close procedure for an active call. The side holding
// the persisted call record (the caller) rates and saves it; the other side
// asks the partner's server to do so and arms a fallback timer in case no
// acknowledgement ever comes back.
func (s *Session) closeCall(ctx context.Context, notifyPartner bool, endDate time.Time) {
	s.mu.Lock()
	doc := s.callDoc
	planID := s.billingPlanID
	partner := s.partner
	number := s.number
	s.mu.Unlock()
	if partner == nil {
		return
	}

	if doc == nil {
		s.armCloseFallback(number, partner.Number(), endDate)
		partner.Ended(number, true)
		return
	}

	if notifyPartner {
		partner.Ended(number, false)
	}
	if err := s.rateAndSave(ctx, doc, planID, endDate); err != nil {
		s.mgr.log.Error("rate call", "call_id", doc.ID, "err", err)
	}
	if err := s.mgr.dir.EndCall(ctx, number, partner.Number()); err != nil {
		s.mgr.log.Error("clear call context", "call_id", doc.ID, "err", err)
	}
}

// rateAndSave stamps the end date, rates the call against the plan that was
// in force when it started, and persists it. An unratable call is logged and
// dropped, never retried inline.
func (s *Session) rateAndSave(ctx context.Context, doc *billing.Call, planID string, endDate time.Time) error {
	doc.EndDate = &endDate
	plan, err := s.mgr.plans.FindPlanByID(ctx, planID)
	if err != nil {
		return err
	}
	doc.Charges = billing.Rate(*doc, plan)
	return s.mgr.calls.UpdateCall(ctx, doc)
}

func (s *Session) armCloseFallback(number, partnerNumber string, endDate time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeTimer != nil {
		return
	}
	s.closeTimer = time.AfterFunc(s.mgr.ackWait, func() {
		s.closeFallback(number, partnerNumber, endDate)
	})
}

// closeFallback fires when the partner's server never acknowledged a close
// request. The call context is recovered from the directory and the call is
// rated here. This is at-least-once: if the acknowledgement races the timer
// the end-date check below is the only thing preventing a double rating.
func (s *Session) closeFallback(number, partnerNumber string, endDate time.Time) {
	s.mu.Lock()
	s.closeTimer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	defer s.resetCall(true)

	cc, err := s.mgr.dir.CallContext(ctx, number)
	if err != nil {
		s.mgr.log.Error("recover call context", "number", number, "err", err)
		return
	}
	doc, err := s.mgr.calls.FindCallByID(ctx, cc.CallID)
	if err != nil {
		s.mgr.log.Error("recover call record", "call_id", cc.CallID, "err", err)
		return
	}
	if doc.EndDate == nil {
		s.mgr.log.Info("rating call via close fallback", "call_id", doc.ID, "number", number)
		if err := s.rateAndSave(ctx, &doc, cc.BillingPlanID, endDate); err != nil {
			s.mgr.log.Error("rate call via fallback", "call_id", doc.ID, "err", err)
		}
	}
	if err := s.mgr.dir.EndCall(ctx, number, partnerNumber); err != nil {
		s.mgr.log.Error("clear call context", "call_id", doc.ID, "err", err)
	}
}

// suspend marks the session invalid, hanging up any in-flight call first.
func (s *Session) suspend(ctx context.Context) {
	s.mu.Lock()
	prev := s.state
	if prev == StateInvalid || prev == StateNotInCall {
		s.state = StateInvalid
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.HangUp(ctx)
	s.mu.Lock()
	s.state = StateInvalid
	s.mu.Unlock()
}

func (s *Session) unsuspend() {
	s.mu.Lock()
	if s.state == StateInvalid {
		s.state = StateNotInCall
	}
	s.mu.Unlock()
}

func (s *Session) setNumber(number string) {
	s.mu.Lock()
	s.number = number
	s.mu.Unlock()
}
