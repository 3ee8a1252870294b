package billing

import (
	"context"
	"testing"
	"time"
)

type suspendRecorder struct {
	numbers []string
}

func (s *suspendRecorder) Suspend(ctx context.Context, number string) error {
	s.numbers = append(s.numbers, number)
	return nil
}

type cycleFixture struct {
	store *MemoryStore
	cycle *Cycle
	susp  *suspendRecorder
	acct  PhoneAccount
	plan  BillingPlan
}

func newCycleFixture(t *testing.T, now time.Time) *cycleFixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	susp := &suspendRecorder{}

	plan := BillingPlan{ID: "plan-a", Name: "basic", PricePerMonth: "20.00", PricePerMinute: "0.10", IsActive: true}
	if err := store.CreatePlan(ctx, &plan); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	acct := PhoneAccount{
		ID:            "acct-1",
		BillingPlanID: plan.ID,
		PhoneNumber:   "1234",
		IsActive:      true,
		TotalDue:      "0.00",
	}
	if err := store.CreateAccount(ctx, &acct); err != nil {
		t.Fatalf("create account: %v", err)
	}

	cycle := NewCycle(store, store, store, store, susp, nil)
	cycle.clock = func() time.Time { return now }
	return &cycleFixture{store: store, cycle: cycle, susp: susp, acct: acct, plan: plan}
}

func (f *cycleFixture) openBill(t *testing.T, id string, start time.Time, periods ...PlanPeriod) Bill {
	t.Helper()
	if len(periods) == 0 {
		periods = []PlanPeriod{{BillingPlanID: f.plan.ID, StartDate: start}}
	}
	bill := Bill{ID: id, PhoneAccountID: f.acct.ID, StartDate: start, Periods: periods}
	if err := f.store.CreateBill(context.Background(), &bill); err != nil {
		t.Fatalf("create bill: %v", err)
	}
	f.acct.CurrentBillID = bill.ID
	if err := f.store.UpdateAccount(context.Background(), &f.acct); err != nil {
		t.Fatalf("update account: %v", err)
	}
	return bill
}

func TestCycleClosesSinglePlanBill(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2020, time.August, 20, 5, 0, 0, 0, time.UTC)
	f := newCycleFixture(t, now)
	start := now.AddDate(0, -1, -2)
	bill := f.openBill(t, "bill-1", start)

	// one rated call on the bill: 90 min at 0.10 = 9.00
	end := start.Add(90 * time.Minute)
	call := Call{ID: "call-1", CallerBillID: bill.ID, StartDate: start, EndDate: &end,
		Charges: []Charge{{Rate: "0.10", Duration: 90}}}
	if err := f.store.CreateCall(ctx, &call); err != nil {
		t.Fatalf("create call: %v", err)
	}

	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	closed, _ := f.store.FindBillByID(ctx, bill.ID)
	if closed.EndDate == nil || !closed.EndDate.Equal(now) {
		t.Fatalf("bill not closed at %v: %+v", now, closed)
	}
	if closed.TotalDue != "29.00" {
		t.Fatalf("expected total 29.00 (20.00 month + 9.00 calls), got %q", closed.TotalDue)
	}
	if closed.Periods[0].AmountDue != "20.00" {
		t.Fatalf("expected full month on the single period, got %q", closed.Periods[0].AmountDue)
	}

	acct, _ := f.store.FindAccountByID(ctx, f.acct.ID)
	if acct.CurrentBillID == bill.ID || acct.CurrentBillID == "" {
		t.Fatalf("expected a successor bill, got %q", acct.CurrentBillID)
	}
	if acct.TotalDue != "29.00" {
		t.Fatalf("expected account total 29.00, got %q", acct.TotalDue)
	}
	if len(acct.UnpaidBillIDs) != 1 || acct.UnpaidBillIDs[0] != bill.ID {
		t.Fatalf("expected bill on unpaid list, got %v", acct.UnpaidBillIDs)
	}

	next, _ := f.store.FindBillByID(ctx, acct.CurrentBillID)
	if !next.Open() || !next.StartDate.Equal(now) {
		t.Fatalf("unexpected successor bill: %+v", next)
	}
}

func TestCycleIgnoresYoungAndClosedBills(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2020, time.August, 20, 5, 0, 0, 0, time.UTC)
	f := newCycleFixture(t, now)

	young := f.openBill(t, "bill-young", now.AddDate(0, 0, -10))

	closedDate := now.AddDate(0, 0, -5)
	old := Bill{ID: "bill-closed", PhoneAccountID: f.acct.ID, StartDate: now.AddDate(0, -2, 0),
		EndDate: &closedDate, TotalDue: "20.00",
		Periods: []PlanPeriod{{BillingPlanID: f.plan.ID, StartDate: now.AddDate(0, -2, 0), EndDate: &closedDate}}}
	if err := f.store.CreateBill(ctx, &old); err != nil {
		t.Fatalf("create bill: %v", err)
	}

	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := f.store.FindBillByID(ctx, young.ID)
	if !got.Open() {
		t.Fatalf("young bill should stay open")
	}
	gotOld, _ := f.store.FindBillByID(ctx, old.ID)
	if !gotOld.EndDate.Equal(closedDate) || gotOld.TotalDue != "20.00" {
		t.Fatalf("closed bill should be untouched: %+v", gotOld)
	}
}

func TestCycleProratesPlanChange(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2020, time.September, 1, 0, 0, 0, 0, time.UTC)
	f := newCycleFixture(t, now)

	planB := BillingPlan{ID: "plan-b", Name: "premium", PricePerMonth: "40.00", PricePerMinute: "0.20", IsActive: true}
	if err := f.store.CreatePlan(ctx, &planB); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	// 40 days total: 10 days on plan A, 30 on plan B.
	start := now.AddDate(0, 0, -40)
	change := start.AddDate(0, 0, 10)
	f.openBill(t, "bill-1", start,
		PlanPeriod{BillingPlanID: f.plan.ID, StartDate: start, EndDate: &change},
		PlanPeriod{BillingPlanID: planB.ID, StartDate: change},
	)

	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	bill, _ := f.store.FindBillByID(ctx, "bill-1")
	// 20.00 * 10/40 = 5.00 and 40.00 * 30/40 = 30.00
	if bill.Periods[0].AmountDue != "5.00" {
		t.Fatalf("expected 5.00 for the first period, got %q", bill.Periods[0].AmountDue)
	}
	if bill.Periods[1].AmountDue != "30.00" {
		t.Fatalf("expected 30.00 for the second period, got %q", bill.Periods[1].AmountDue)
	}
	if bill.TotalDue != "35.00" {
		t.Fatalf("expected total 35.00, got %q", bill.TotalDue)
	}
}

func TestCloseBillEarlyUsesNominalMonthSpan(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2020, time.July, 1, 0, 0, 0, 0, time.UTC)
	// Closing just 10 days in. The nominal span is the full July (31 days).
	closeAt := start.AddDate(0, 0, 10)
	f := newCycleFixture(t, closeAt)

	bill := f.openBill(t, "bill-1", start)

	if err := f.cycle.CloseBill(ctx, &bill, &f.acct, closeAt, true); err != nil {
		t.Fatalf("close: %v", err)
	}

	// 20.00 * 10/31 = 6.45: pro-rated against the hypothetical month, not
	// the truncated one, and no successor bill exists.
	if bill.Periods[0].AmountDue != "6.45" {
		t.Fatalf("expected 6.45, got %q", bill.Periods[0].AmountDue)
	}
	if bill.TotalDue != "6.45" {
		t.Fatalf("expected total 6.45, got %q", bill.TotalDue)
	}
	if f.acct.CurrentBillID != bill.ID {
		t.Fatalf("no successor should be created when closing an account")
	}
}

func TestCycleRatesUnratedCallWithPeriodPlan(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2020, time.August, 20, 5, 0, 0, 0, time.UTC)
	f := newCycleFixture(t, now)

	planB := BillingPlan{ID: "plan-b", Name: "premium", PricePerMonth: "40.00", PricePerMinute: "0.20", IsActive: true}
	if err := f.store.CreatePlan(ctx, &planB); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	start := now.AddDate(0, -1, -10)
	change := start.AddDate(0, 0, 20)
	bill := f.openBill(t, "bill-1", start,
		PlanPeriod{BillingPlanID: f.plan.ID, StartDate: start, EndDate: &change},
		PlanPeriod{BillingPlanID: planB.ID, StartDate: change},
	)

	// Unrated call inside the first period: must be rated at plan A's
	// 0.10, not the later plan's 0.20.
	callStart := start.AddDate(0, 0, 5)
	callEnd := callStart.Add(10*time.Minute + 30*time.Second)
	call := Call{ID: "call-1", CallerBillID: bill.ID, StartDate: callStart, EndDate: &callEnd}
	if err := f.store.CreateCall(ctx, &call); err != nil {
		t.Fatalf("create call: %v", err)
	}

	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	rated, _ := f.store.FindCallByID(ctx, call.ID)
	if len(rated.Charges) != 1 || rated.Charges[0].Rate != "0.10" || rated.Charges[0].Duration != 11 {
		t.Fatalf("unexpected charges: %v", rated.Charges)
	}
}

func TestCycleTransfersOpenCalls(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2020, time.August, 20, 5, 0, 0, 0, time.UTC)
	f := newCycleFixture(t, now)
	bill := f.openBill(t, "bill-1", now.AddDate(0, -1, -2))

	open := Call{ID: "call-open", CallerBillID: bill.ID, StartDate: now.Add(-10 * time.Minute)}
	if err := f.store.CreateCall(ctx, &open); err != nil {
		t.Fatalf("create call: %v", err)
	}

	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	acct, _ := f.store.FindAccountByID(ctx, f.acct.ID)
	moved, _ := f.store.FindCallByID(ctx, open.ID)
	if moved.CallerBillID != acct.CurrentBillID {
		t.Fatalf("open call should move to the successor bill, got %q", moved.CallerBillID)
	}
}

func TestCycleSuspendsAfterUnpaidLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2020, time.August, 20, 5, 0, 0, 0, time.UTC)
	f := newCycleFixture(t, now)

	// Already at the limit: one more unpaid bill crosses it.
	f.acct.UnpaidBillIDs = []string{"old-1", "old-2", "old-3"}
	f.acct.TotalDue = "60.00"
	if err := f.store.UpdateAccount(ctx, &f.acct); err != nil {
		t.Fatalf("update account: %v", err)
	}
	f.openBill(t, "bill-4", now.AddDate(0, -1, -2))

	if err := f.cycle.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	acct, _ := f.store.FindAccountByID(ctx, f.acct.ID)
	if !acct.IsSuspended {
		t.Fatalf("account should be suspended after %d unpaid bills", len(acct.UnpaidBillIDs))
	}
	if len(f.susp.numbers) != 1 || f.susp.numbers[0] != "1234" {
		t.Fatalf("expected phone 1234 force-suspended, got %v", f.susp.numbers)
	}

	// The successor bill starts out with a closed plan period.
	next, _ := f.store.FindBillByID(ctx, acct.CurrentBillID)
	if next.Periods[0].EndDate == nil || !next.Periods[0].EndDate.Equal(now) {
		t.Fatalf("successor period should be closed for a suspended account: %+v", next.Periods[0])
	}
}

func TestCycleIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2020, time.August, 20, 5, 0, 0, 0, time.UTC)
	f := newCycleFixture(t, now)

	// A bill pointing at a plan that no longer resolves.
	bad := f.openBill(t, "bill-bad", now.AddDate(0, -1, -5),
		PlanPeriod{BillingPlanID: "missing-plan", StartDate: now.AddDate(0, -1, -5)})
	good := f.openBill(t, "bill-good", now.AddDate(0, -1, -2))

	if err := f.cycle.Run(ctx); err == nil {
		t.Fatalf("expected an aggregate error")
	}

	gotBad, _ := f.store.FindBillByID(ctx, bad.ID)
	gotGood, _ := f.store.FindBillByID(ctx, good.ID)
	if !gotGood.EndDate.Equal(now) {
		t.Fatalf("good bill should close despite the bad one")
	}
	if !gotBad.Open() {
		t.Fatalf("failed bill should stay open for the next run")
	}
}
