package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"voip-exchange/internal/money"
)

// UnpaidBillLimit is the number of unpaid bills an account may carry before
// it is suspended for non-payment.
const UnpaidBillLimit = 3

// PhoneSuspender force-disconnects a live phone when its account gets
// suspended. Implemented by the signaling manager.
type PhoneSuspender interface {
	Suspend(ctx context.Context, number string) error
}

// Cycle closes out monthly bills and opens their successors.
type Cycle struct {
	accounts PhoneAccountStore
	plans    BillingPlanStore
	bills    BillStore
	calls    CallStore
	phones   PhoneSuspender

	log   *slog.Logger
	clock func() time.Time
}

func NewCycle(accounts PhoneAccountStore, plans BillingPlanStore, bills BillStore, calls CallStore, phones PhoneSuspender, log *slog.Logger) *Cycle {
	if log == nil {
		log = slog.Default()
	}
	return &Cycle{
		accounts: accounts,
		plans:    plans,
		bills:    bills,
		calls:    calls,
		phones:   phones,
		log:      log,
		clock:    time.Now,
	}
}

// Run closes every open bill older than one month. Bills are processed
// concurrently and independently; one failing bill never aborts the batch.
// Already-closed bills are untouched, so re-running is harmless.
func (c *Cycle) Run(ctx context.Context) error {
	now := c.clock().UTC()
	cutoff := now.AddDate(0, -1, 0)

	open, err := c.bills.OpenBillsStartedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("scan open bills: %w", err)
	}
	c.log.Info("billing cycle run", "due_bills", len(open))

	var wg sync.WaitGroup
	errs := make([]error, len(open))
	for i := range open {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bill := open[i]
			acct, err := c.accounts.FindAccountByID(ctx, bill.PhoneAccountID)
			if err != nil {
				errs[i] = fmt.Errorf("bill %s: account %s: %w", bill.ID, bill.PhoneAccountID, err)
				return
			}
			if err := c.CloseBill(ctx, &bill, &acct, now, false); err != nil {
				errs[i] = fmt.Errorf("bill %s: %w", bill.ID, err)
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			c.log.Error("bill processing failed", "err", err)
		}
	}
	return errors.Join(errs...)
}

// CloseBill finalizes one bill at endDate.
//
// When closing is false (the monthly rollover) a successor bill is opened
// first, still-open calls move to it, and both the bill and the account are
// persisted here. When closing is true (account closure) the caller already
// decided the account's fate: no successor is created, proration runs against
// the nominal one-month span, and persisting the bill and account is the
// caller's responsibility.
//
// Callers closing an account must terminate any ongoing call for the number
// before invoking this.
func (c *Cycle) CloseBill(ctx context.Context, bill *Bill, acct *PhoneAccount, endDate time.Time, closing bool) error {
	if !bill.Open() {
		return nil
	}
	if len(bill.Periods) == 0 {
		return fmt.Errorf("bill %s has no billing plan periods", bill.ID)
	}
	log := c.log.With("bill_id", bill.ID, "number", acct.PhoneNumber)

	var nextBill *Bill
	if !closing {
		nextBill = &Bill{
			ID:             uuid.NewString(),
			PhoneAccountID: acct.ID,
			StartDate:      endDate,
			Periods: []PlanPeriod{{
				BillingPlanID: acct.BillingPlanID,
				StartDate:     endDate,
			}},
		}
		if err := c.bills.CreateBill(ctx, nextBill); err != nil {
			return fmt.Errorf("create next bill: %w", err)
		}
		acct.CurrentBillID = nextBill.ID

		// Ongoing calls belong to the new period.
		if err := c.calls.TransferOpenCalls(ctx, bill.ID, nextBill.ID); err != nil {
			return fmt.Errorf("transfer open calls: %w", err)
		}
	}

	bill.EndDate = &endDate
	last := &bill.Periods[len(bill.Periods)-1]
	// The last period can already be closed if the account sat suspended.
	if last.EndDate == nil {
		last.EndDate = &endDate
	}

	totalDue, err := c.monthlyCharge(ctx, bill, endDate, closing)
	if err != nil {
		return err
	}

	callTotal, err := c.addCallCharges(ctx, bill, log)
	if err != nil {
		return err
	}
	totalDue += callTotal

	bill.TotalDue = money.StringFromCents(totalDue)
	if !closing {
		if err := c.bills.UpdateBill(ctx, bill); err != nil {
			return fmt.Errorf("save bill: %w", err)
		}
	}

	/* A zero total is possible when the account spent the whole period
	 * suspended: no calls, and a zero-length plan period. Zero-total bills
	 * do not join the unpaid list. */
	if totalDue > 0 {
		acctDue, err := money.CentsFromString(acct.TotalDue)
		if err != nil {
			acctDue = 0
		}
		acct.TotalDue = money.StringFromCents(acctDue + totalDue)
		acct.UnpaidBillIDs = append(acct.UnpaidBillIDs, bill.ID)

		if len(acct.UnpaidBillIDs) > UnpaidBillLimit && !acct.IsSuspended {
			log.Info("suspending account for non-payment", "unpaid_bills", len(acct.UnpaidBillIDs))
			acct.IsSuspended = true
			if c.phones != nil {
				if err := c.phones.Suspend(ctx, acct.PhoneNumber); err != nil {
					log.Error("force suspend failed", "err", err)
				}
			}
		}
	}

	// A suspended account accrues nothing on the successor bill.
	if acct.IsSuspended && nextBill != nil {
		nextBill.Periods[0].EndDate = &endDate
		if err := c.bills.UpdateBill(ctx, nextBill); err != nil {
			return fmt.Errorf("save next bill: %w", err)
		}
	}

	if !closing {
		if err := c.accounts.UpdateAccount(ctx, acct); err != nil {
			return fmt.Errorf("save account: %w", err)
		}
	}
	log.Info("bill closed", "total_due", bill.TotalDue)
	return nil
}

// monthlyCharge computes the plan-subscription part of the bill and stamps
// each period's AmountDue.
//
// A bill that never changed plans owes the full monthly price. Otherwise each
// period owes its wall-clock share of the bill's span. When the account is
// being closed early the span is the nominal month from the bill's start, not
// the elapsed time, so a mid-cycle plan change is not inflated by an early
// close.
func (c *Cycle) monthlyCharge(ctx context.Context, bill *Bill, endDate time.Time, closing bool) (int64, error) {
	if len(bill.Periods) == 1 && !closing {
		plan, err := c.plans.FindPlanByID(ctx, bill.Periods[0].BillingPlanID)
		if err != nil {
			return 0, fmt.Errorf("plan %s: %w", bill.Periods[0].BillingPlanID, err)
		}
		bill.Periods[0].AmountDue = plan.PricePerMonth
		return money.CentsFromString(plan.PricePerMonth)
	}

	spanEnd := endDate
	if closing {
		spanEnd = bill.StartDate.AddDate(0, 1, 0)
	}
	span := spanEnd.Sub(bill.StartDate)
	if span <= 0 {
		return 0, fmt.Errorf("bill %s has a non-positive span", bill.ID)
	}

	var total int64
	for i := range bill.Periods {
		entry := &bill.Periods[i]
		plan, err := c.plans.FindPlanByID(ctx, entry.BillingPlanID)
		if err != nil {
			return 0, fmt.Errorf("plan %s: %w", entry.BillingPlanID, err)
		}
		monthCents, err := money.CentsFromString(plan.PricePerMonth)
		if err != nil {
			return 0, fmt.Errorf("plan %s price: %w", entry.BillingPlanID, err)
		}
		periodEnd := endDate
		if entry.EndDate != nil {
			periodEnd = *entry.EndDate
		}
		dur := periodEnd.Sub(entry.StartDate)
		if dur < 0 {
			dur = 0
		}
		due := int64(math.Round(float64(monthCents) * float64(dur) / float64(span)))
		entry.AmountDue = money.StringFromCents(due)
		total += due
	}
	return total, nil
}

// addCallCharges sums the rated charges of the bill's calls, rating any call
// that was left unrated (rating normally happens when the call closes; this
// is the fallback). Each call is rated with the plan period covering its
// start, never the account's current plan.
func (c *Cycle) addCallCharges(ctx context.Context, bill *Bill, log *slog.Logger) (int64, error) {
	calls, err := c.calls.CallsByBill(ctx, bill.ID)
	if err != nil {
		return 0, fmt.Errorf("load calls: %w", err)
	}

	var total int64
	periodIdx := 0
	for i := range calls {
		call := &calls[i]
		for periodIdx < len(bill.Periods)-1 &&
			bill.Periods[periodIdx].EndDate != nil &&
			bill.Periods[periodIdx].EndDate.Before(call.StartDate) {
			periodIdx++
		}

		if len(call.Charges) == 0 && call.EndDate != nil {
			plan, err := c.plans.FindPlanByID(ctx, bill.Periods[periodIdx].BillingPlanID)
			if err != nil {
				return 0, fmt.Errorf("plan for call %s: %w", call.ID, err)
			}
			log.Info("rating call during bill close", "call_id", call.ID)
			call.Charges = Rate(*call, plan)
			if err := c.calls.UpdateCall(ctx, call); err != nil {
				return 0, fmt.Errorf("save rated call %s: %w", call.ID, err)
			}
		}

		for _, ch := range call.Charges {
			rate, err := money.CentsFromString(ch.Rate)
			if err != nil {
				return 0, fmt.Errorf("call %s has a bad rate %q: %w", call.ID, ch.Rate, err)
			}
			total += int64(ch.Duration) * rate
		}
	}
	return total, nil
}
