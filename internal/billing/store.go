package billing

import (
	"context"
	"errors"
	"time"
)

// Store interfaces abstract persistence for the core. Implementations:
// Postgres for production, memory for tests.

var (
	ErrNotFound    = errors.New("not found")
	ErrNumberTaken = errors.New("phone number already in use")
)

type PhoneAccountStore interface {
	FindAccountByID(ctx context.Context, id string) (PhoneAccount, error)
	// FindAccountsByIDs returns the accounts for the given ids, in no
	// particular order; missing ids are simply absent from the result.
	FindAccountsByIDs(ctx context.Context, ids []string) ([]PhoneAccount, error)
	FindActiveByNumber(ctx context.Context, number string) (PhoneAccount, error)
	// ActiveNumbers returns every active account's number, ascending.
	ActiveNumbers(ctx context.Context) ([]string, error)
	// CreateAccount fails with ErrNumberTaken when the number collides
	// with another active account.
	CreateAccount(ctx context.Context, acct *PhoneAccount) error
	UpdateAccount(ctx context.Context, acct *PhoneAccount) error
}

type BillingPlanStore interface {
	FindPlanByID(ctx context.Context, id string) (BillingPlan, error)
	ListPlans(ctx context.Context) ([]BillingPlan, error)
	CreatePlan(ctx context.Context, plan *BillingPlan) error
	UpdatePlan(ctx context.Context, plan *BillingPlan) error
}

type BillStore interface {
	FindBillByID(ctx context.Context, id string) (Bill, error)
	FindBillsByIDs(ctx context.Context, ids []string) ([]Bill, error)
	// OpenBillsStartedBefore returns bills with no end date whose start
	// date is strictly before the cutoff.
	OpenBillsStartedBefore(ctx context.Context, cutoff time.Time) ([]Bill, error)
	// ClosedBillsByAccount returns finalized bills, most recently closed first.
	ClosedBillsByAccount(ctx context.Context, accountID string) ([]Bill, error)
	CreateBill(ctx context.Context, bill *Bill) error
	UpdateBill(ctx context.Context, bill *Bill) error
}

type CallStore interface {
	FindCallByID(ctx context.Context, id string) (Call, error)
	// CallsByBill returns the bill's calls ordered by start date.
	CallsByBill(ctx context.Context, billID string) ([]Call, error)
	CreateCall(ctx context.Context, call *Call) error
	UpdateCall(ctx context.Context, call *Call) error
	// DeleteCall discards a call record, used to unwind a call document
	// whose session was disturbed while the insert was in flight.
	DeleteCall(ctx context.Context, id string) error
	// TransferOpenCalls moves still-open calls from one bill to another
	// during the monthly rollover.
	TransferOpenCalls(ctx context.Context, fromBillID, toBillID string) error
}

type CustomerStore interface {
	FindCustomerByID(ctx context.Context, id string) (Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	CreateCustomer(ctx context.Context, c *Customer) error
}

// Store bundles every interface for constructors that want the whole set.
type Store interface {
	PhoneAccountStore
	BillingPlanStore
	BillStore
	CallStore
	CustomerStore
}
