package signaling

import (
	"context"
	"log/slog"
	"time"

	"voip-exchange/internal/billing"
	"voip-exchange/internal/directory"
)

const defaultAckWait = 5 * time.Second

// Manager creates sessions and carries their shared dependencies. It also
// implements billing.PhoneSuspender so the billing cycle can force-disconnect
// a suspended number's call.
type Manager struct {
	dir      directory.Directory
	accounts billing.PhoneAccountStore
	plans    billing.BillingPlanStore
	calls    billing.CallStore

	log     *slog.Logger
	clock   func() time.Time
	ackWait time.Duration
}

var _ billing.PhoneSuspender = (*Manager)(nil)

func NewManager(dir directory.Directory, accounts billing.PhoneAccountStore, plans billing.BillingPlanStore, calls billing.CallStore, log *slog.Logger, ackWait time.Duration) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if ackWait <= 0 {
		ackWait = defaultAckWait
	}
	return &Manager{
		dir:      dir,
		accounts: accounts,
		plans:    plans,
		calls:    calls,
		log:      log,
		clock:    time.Now,
		ackWait:  ackWait,
	}
}

// Register creates a session for a freshly connected phone and publishes it
// in the directory. A suspended account still gets a session so the client
// can be told why it cannot call; it just starts out invalid.
func (m *Manager) Register(ctx context.Context, acct billing.PhoneAccount, client ClientSignaler) (*Session, error) {
	s := &Session{
		mgr:       m,
		client:    client,
		number:    acct.PhoneNumber,
		accountID: acct.ID,
		state:     StateNotInCall,
	}
	if acct.IsSuspended {
		s.state = StateInvalid
	}
	if err := m.dir.Set(ctx, acct.PhoneNumber, s); err != nil {
		return nil, err
	}
	m.log.Info("phone registered", "number", acct.PhoneNumber, "account_id", acct.ID)
	return s, nil
}

// Suspend invalidates a number, hanging up its call if one is in flight, and
// publishes the new validity. A number connected to another instance is only
// marked invalid in the shared state; its own instance observes that on the
// next guard check.
func (m *Manager) Suspend(ctx context.Context, number string) error {
	if p, err := m.dir.GetLocal(number); err == nil {
		if sess, ok := p.(*Session); ok {
			sess.suspend(ctx)
		}
	}
	return m.dir.ChangeValidState(ctx, number, false)
}

// Unsuspend restores a number to service.
func (m *Manager) Unsuspend(ctx context.Context, number string) error {
	if p, err := m.dir.GetLocal(number); err == nil {
		if sess, ok := p.(*Session); ok {
			sess.unsuspend()
		}
	}
	return m.dir.ChangeValidState(ctx, number, true)
}

// UpdateNumber re-registers a connected phone under a new number.
func (m *Manager) UpdateNumber(ctx context.Context, oldNumber, newNumber string) error {
	p, err := m.dir.GetLocal(oldNumber)
	if err != nil {
		return err
	}
	if err := m.dir.Delete(ctx, oldNumber); err != nil {
		return err
	}
	if sess, ok := p.(*Session); ok {
		sess.setNumber(newNumber)
	}
	return m.dir.Set(ctx, newNumber, p)
}
