package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements every store interface against process memory.
// Useful for tests and early development; not intended for production.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[string]PhoneAccount
	plans     map[string]BillingPlan
	bills     map[string]Bill
	calls     map[string]Call
	customers map[string]Customer
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]PhoneAccount),
		plans:     make(map[string]BillingPlan),
		bills:     make(map[string]Bill),
		calls:     make(map[string]Call),
		customers: make(map[string]Customer),
	}
}

// --- PhoneAccountStore ---

func (m *MemoryStore) FindAccountByID(ctx context.Context, id string) (PhoneAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return PhoneAccount{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) FindAccountsByIDs(ctx context.Context, ids []string) ([]PhoneAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PhoneAccount
	for _, id := range ids {
		if a, ok := m.accounts[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindActiveByNumber(ctx context.Context, number string) (PhoneAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.IsActive && a.PhoneNumber == number {
			return a, nil
		}
	}
	return PhoneAccount{}, ErrNotFound
}

func (m *MemoryStore) ActiveNumbers(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nums []string
	for _, a := range m.accounts {
		if a.IsActive {
			nums = append(nums, a.PhoneNumber)
		}
	}
	sort.Strings(nums)
	return nums, nil
}

func (m *MemoryStore) CreateAccount(ctx context.Context, acct *PhoneAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.IsActive && a.PhoneNumber == acct.PhoneNumber {
			return ErrNumberTaken
		}
	}
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	m.accounts[acct.ID] = *acct
	return nil
}

func (m *MemoryStore) UpdateAccount(ctx context.Context, acct *PhoneAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.ID]; !ok {
		return ErrNotFound
	}
	for _, a := range m.accounts {
		if a.ID != acct.ID && a.IsActive && acct.IsActive && a.PhoneNumber == acct.PhoneNumber {
			return ErrNumberTaken
		}
	}
	m.accounts[acct.ID] = *acct
	return nil
}

// --- BillingPlanStore ---

func (m *MemoryStore) FindPlanByID(ctx context.Context, id string) (BillingPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return BillingPlan{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) ListPlans(ctx context.Context) ([]BillingPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BillingPlan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreatePlan(ctx context.Context, plan *BillingPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	m.plans[plan.ID] = *plan
	return nil
}

func (m *MemoryStore) UpdatePlan(ctx context.Context, plan *BillingPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.ID]; !ok {
		return ErrNotFound
	}
	m.plans[plan.ID] = *plan
	return nil
}

// --- BillStore ---

func (m *MemoryStore) FindBillByID(ctx context.Context, id string) (Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok {
		return Bill{}, ErrNotFound
	}
	return b, nil
}

func (m *MemoryStore) FindBillsByIDs(ctx context.Context, ids []string) ([]Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Bill
	for _, id := range ids {
		if b, ok := m.bills[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MemoryStore) OpenBillsStartedBefore(ctx context.Context, cutoff time.Time) ([]Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Bill
	for _, b := range m.bills {
		if b.EndDate == nil && b.StartDate.Before(cutoff) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *MemoryStore) ClosedBillsByAccount(ctx context.Context, accountID string) ([]Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Bill
	for _, b := range m.bills {
		if b.PhoneAccountID == accountID && b.EndDate != nil {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.After(*out[j].EndDate) })
	return out, nil
}

func (m *MemoryStore) CreateBill(ctx context.Context, bill *Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bill.ID == "" {
		bill.ID = uuid.NewString()
	}
	m.bills[bill.ID] = *bill
	return nil
}

func (m *MemoryStore) UpdateBill(ctx context.Context, bill *Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bills[bill.ID]; !ok {
		return ErrNotFound
	}
	m.bills[bill.ID] = *bill
	return nil
}

// --- CallStore ---

func (m *MemoryStore) FindCallByID(ctx context.Context, id string) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) CallsByBill(ctx context.Context, billID string) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.CallerBillID == billID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *MemoryStore) CreateCall(ctx context.Context, call *Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	m.calls[call.ID] = *call
	return nil
}

func (m *MemoryStore) UpdateCall(ctx context.Context, call *Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[call.ID]; !ok {
		return ErrNotFound
	}
	m.calls[call.ID] = *call
	return nil
}

func (m *MemoryStore) DeleteCall(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.calls, id)
	return nil
}

func (m *MemoryStore) TransferOpenCalls(ctx context.Context, fromBillID, toBillID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.calls {
		if c.CallerBillID == fromBillID && c.EndDate == nil {
			c.CallerBillID = toBillID
			m.calls[id] = c
		}
	}
	return nil
}

// --- CustomerStore ---

func (m *MemoryStore) FindCustomerByID(ctx context.Context, id string) (Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) ListCustomers(ctx context.Context) ([]Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Customer, 0, len(m.customers))
	for _, c := range m.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastName < out[j].LastName })
	return out, nil
}

func (m *MemoryStore) CreateCustomer(ctx context.Context, c *Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.customers[c.ID] = *c
	return nil
}
