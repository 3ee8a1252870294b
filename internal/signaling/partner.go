package signaling

import (
	"context"
	"time"

	"voip-exchange/internal/directory"
)

// directory.Partner implementation: the methods a peer session (or the relay
// on its behalf) invokes on this one.

var _ directory.Partner = (*Session)(nil)

func (s *Session) Number() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.number
}

func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateInvalid
}

func (s *Session) OnCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateCallInitOutgoing, StateCallInitIncoming, StateCallInitCreatingDoc, StateCallActive:
		return true
	}
	return false
}

// IncomingCall: a caller wants to ring this phone.
func (s *Session) IncomingCall(from string) {
	s.client.CallRequest(from)
}

// Ringing: the callee's phone is ringing.
func (s *Session) Ringing() {
	s.client.CalleeRinging()
}

// Refused: the partner declined or could not take the call.
func (s *Session) Refused(from, reason string) {
	s.mu.Lock()
	matched := s.partner != nil && s.partner.Number() == from
	if matched {
		s.resetLocked(true)
	}
	s.mu.Unlock()
	if matched {
		s.client.CallNotPossible(reason)
	}
}

// Connected: the partner confirmed the call is live on its side.
func (s *Session) Connected(from string) {
	s.mu.Lock()
	matched := s.partner != nil && s.partner.Number() == from
	if matched {
		s.partnerConfirmed = true
	}
	s.mu.Unlock()
	if matched {
		s.client.CallConnected()
	}
}

// Cancelled: the caller withdrew before the call went active.
func (s *Session) Cancelled(from string) {
	s.mu.Lock()
	matched := s.partner != nil && s.partner.Number() == from
	if matched {
		s.resetLocked(true)
	}
	s.mu.Unlock()
	if matched {
		s.client.CallCancelled()
	}
}

// Ended: the partner closed the call. When wantAck is set the partner's
// server could not rate the call itself and this side, holding the record,
// must rate it and acknowledge.
func (s *Session) Ended(from string, wantAck bool) {
	s.mu.Lock()
	if s.partner == nil || s.partner.Number() != from {
		s.mu.Unlock()
		return
	}
	doc := s.callDoc
	planID := s.billingPlanID
	partner := s.partner
	number := s.number
	rateHere := doc != nil && wantAck
	if !rateHere {
		s.resetLocked(true)
	}
	s.mu.Unlock()

	s.client.CallEnded()
	if !rateHere {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.rateAndSave(ctx, doc, planID, s.mgr.clock().UTC()); err != nil {
		s.mgr.log.Error("rate call", "call_id", doc.ID, "err", err)
	}
	if err := s.mgr.dir.EndCall(ctx, number, partner.Number()); err != nil {
		s.mgr.log.Error("clear call context", "call_id", doc.ID, "err", err)
	}
	partner.CloseAck(number)
	s.resetCall(true)
}

// CloseAck: the partner's server rated the call this side asked it to close;
// cancel the fallback.
func (s *Session) CloseAck(from string) {
	s.mu.Lock()
	if s.partner != nil && s.partner.Number() == from && s.closeTimer != nil {
		s.resetLocked(true)
	}
	s.mu.Unlock()
}

// Talk: an in-call message from the partner.
func (s *Session) Talk(msg string) {
	s.mu.Lock()
	active := s.state == StateCallActive
	s.mu.Unlock()
	if active {
		s.client.IncomingTalk(msg)
	}
}
