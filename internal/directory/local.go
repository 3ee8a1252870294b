package directory

import (
	"context"
	"sync"
)

// Local is the single-instance directory: a plain in-process map. Call
// context is tracked in memory so the close-acknowledgement fallback works
// the same way it does against the distributed directory.
type Local struct {
	mu       sync.RWMutex
	partners map[string]Partner
	calls    map[string]CallContext
}

func NewLocal() *Local {
	return &Local{
		partners: make(map[string]Partner),
		calls:    make(map[string]CallContext),
	}
}

var _ Directory = (*Local)(nil)

func (l *Local) Get(ctx context.Context, number string) (Partner, error) {
	return l.GetLocal(number)
}

func (l *Local) GetLocal(number string) (Partner, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.partners[number]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (l *Local) Set(ctx context.Context, number string, p Partner) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partners[number] = p
	return nil
}

func (l *Local) Delete(ctx context.Context, number string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.partners, number)
	delete(l.calls, number)
	return nil
}

// ChangeValidState is a no-op: a local partner's Valid method reads the live
// session state directly.
func (l *Local) ChangeValidState(ctx context.Context, number string, valid bool) error {
	return nil
}

func (l *Local) BeginCall(ctx context.Context, caller, callee, callID, billingPlanID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cc := CallContext{CallID: callID, BillingPlanID: billingPlanID}
	l.calls[caller] = cc
	l.calls[callee] = cc
	return nil
}

func (l *Local) EndCall(ctx context.Context, caller, callee string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.calls, caller)
	delete(l.calls, callee)
	return nil
}

func (l *Local) CallContext(ctx context.Context, number string) (CallContext, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cc, ok := l.calls[number]
	if !ok {
		return CallContext{}, ErrNotFound
	}
	return cc, nil
}
