// Package accounts manages phone account lifecycle: number assignment,
// plan changes, payments, and account closure.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"voip-exchange/internal/billing"
	"voip-exchange/internal/money"
)

var numberPattern = regexp.MustCompile(`^[0-9]{4}$`)

// ErrInvalidNumber rejects numbers that are not exactly four digits.
var ErrInvalidNumber = errors.New("phone numbers must be four digits")

// PhoneRegistry is what the service needs from the live signaling layer.
// Implemented by the signaling manager.
type PhoneRegistry interface {
	Suspend(ctx context.Context, number string) error
	Unsuspend(ctx context.Context, number string) error
	UpdateNumber(ctx context.Context, oldNumber, newNumber string) error
}

type Service struct {
	store  billing.Store
	cycle  *billing.Cycle
	phones PhoneRegistry
	log    *slog.Logger
	clock  func() time.Time
}

func NewService(store billing.Store, cycle *billing.Cycle, phones PhoneRegistry, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		cycle:  cycle,
		phones: phones,
		log:    log,
		clock:  time.Now,
	}
}

type CreateInput struct {
	CustomerID    string `json:"customer_id"`
	BillingPlanID string `json:"billing_plan_id"`
	// PhoneNumber is either a concrete four digit number or "####" to have
	// one assigned.
	PhoneNumber string `json:"phone_number"`
}

// Create opens a new phone account with its first bill. A taken number,
// requested or generated in a race with another request, falls back to the
// next generated candidate rather than erroring out.
func (s *Service) Create(ctx context.Context, in CreateInput) (billing.PhoneAccount, error) {
	if _, err := s.store.FindCustomerByID(ctx, in.CustomerID); err != nil {
		return billing.PhoneAccount{}, fmt.Errorf("customer %s: %w", in.CustomerID, err)
	}
	if _, err := s.store.FindPlanByID(ctx, in.BillingPlanID); err != nil {
		return billing.PhoneAccount{}, fmt.Errorf("billing plan %s: %w", in.BillingPlanID, err)
	}
	generate := in.PhoneNumber == GeneratedNumber
	if !generate && !numberPattern.MatchString(in.PhoneNumber) {
		return billing.PhoneAccount{}, ErrInvalidNumber
	}

	acct := billing.PhoneAccount{
		CustomerID:    in.CustomerID,
		BillingPlanID: in.BillingPlanID,
		PhoneNumber:   in.PhoneNumber,
		IsActive:      true,
		TotalDue:      "0.00",
	}

	var nextNumber func() (string, error)
	for {
		if generate {
			if nextNumber == nil {
				active, err := s.store.ActiveNumbers(ctx)
				if err != nil {
					return billing.PhoneAccount{}, fmt.Errorf("scan active numbers: %w", err)
				}
				nextNumber = numberGenerator(active)
			}
			num, err := nextNumber()
			if err != nil {
				return billing.PhoneAccount{}, err
			}
			acct.PhoneNumber = num
		}
		err := s.store.CreateAccount(ctx, &acct)
		if err == nil {
			break
		}
		if errors.Is(err, billing.ErrNumberTaken) {
			generate = true
			continue
		}
		return billing.PhoneAccount{}, err
	}

	now := s.clock().UTC()
	bill := billing.Bill{
		PhoneAccountID: acct.ID,
		StartDate:      now,
		Periods:        []billing.PlanPeriod{{BillingPlanID: acct.BillingPlanID, StartDate: now}},
	}
	if err := s.store.CreateBill(ctx, &bill); err != nil {
		return billing.PhoneAccount{}, fmt.Errorf("open first bill: %w", err)
	}
	acct.CurrentBillID = bill.ID
	if err := s.store.UpdateAccount(ctx, &acct); err != nil {
		return billing.PhoneAccount{}, err
	}
	s.log.Info("phone account created", "account_id", acct.ID, "number", acct.PhoneNumber)
	return acct, nil
}

type UpdateInput struct {
	ID            string  `json:"-"`
	BillingPlanID string  `json:"billing_plan_id"`
	PhoneNumber   string  `json:"phone_number"`
	MakePayment   *string `json:"make_payment"`
	CloseAccount  bool    `json:"close_account"`
}

// Update applies a plan change, number change, payment, account closure, or
// any combination, then pushes the results to the signaling layer.
func (s *Service) Update(ctx context.Context, in UpdateInput) (billing.PhoneAccount, error) {
	acct, err := s.store.FindAccountByID(ctx, in.ID)
	if err != nil {
		return billing.PhoneAccount{}, err
	}
	now := s.clock().UTC()
	oldNumber := acct.PhoneNumber

	var bill *billing.Bill
	billDirty := false
	loadBill := func() error {
		if bill != nil {
			return nil
		}
		b, err := s.store.FindBillByID(ctx, acct.CurrentBillID)
		if err != nil {
			return fmt.Errorf("current bill %s: %w", acct.CurrentBillID, err)
		}
		bill = &b
		return nil
	}

	if in.BillingPlanID != "" && in.BillingPlanID != acct.BillingPlanID {
		if _, err := s.store.FindPlanByID(ctx, in.BillingPlanID); err != nil {
			return billing.PhoneAccount{}, fmt.Errorf("billing plan %s: %w", in.BillingPlanID, err)
		}
		// A suspended account has no accruing plan period to split; the
		// new plan takes effect when the account is unsuspended.
		if !acct.IsSuspended {
			if err := loadBill(); err != nil {
				return billing.PhoneAccount{}, err
			}
			last := &bill.Periods[len(bill.Periods)-1]
			if last.EndDate == nil {
				last.EndDate = &now
			}
			bill.Periods = append(bill.Periods, billing.PlanPeriod{
				BillingPlanID: in.BillingPlanID,
				StartDate:     now,
			})
			billDirty = true
		}
		acct.BillingPlanID = in.BillingPlanID
	}

	// Number generation is for new accounts only; the wildcard is ignored
	// on updates.
	if in.PhoneNumber != "" && in.PhoneNumber != GeneratedNumber {
		if !numberPattern.MatchString(in.PhoneNumber) {
			return billing.PhoneAccount{}, ErrInvalidNumber
		}
		acct.PhoneNumber = in.PhoneNumber
	}

	unsuspended := false
	if in.MakePayment != nil {
		paid, err := s.applyPayment(ctx, &acct, *in.MakePayment)
		if err != nil {
			return billing.PhoneAccount{}, err
		}
		if paid && acct.IsSuspended && len(acct.UnpaidBillIDs) < billing.UnpaidBillLimit {
			acct.IsSuspended = false
			unsuspended = true
			if err := loadBill(); err != nil {
				return billing.PhoneAccount{}, err
			}
			// The plan starts accruing again from the moment of
			// unsuspension.
			bill.Periods = append(bill.Periods, billing.PlanPeriod{
				BillingPlanID: acct.BillingPlanID,
				StartDate:     now,
			})
			billDirty = true
		}
	}

	if in.CloseAccount {
		acct.IsActive = false
		if err := s.phones.Suspend(ctx, oldNumber); err != nil {
			s.log.Error("force suspend on close", "number", oldNumber, "err", err)
		}
		if err := loadBill(); err != nil {
			return billing.PhoneAccount{}, err
		}
		if err := s.cycle.CloseBill(ctx, bill, &acct, now, true); err != nil {
			return billing.PhoneAccount{}, fmt.Errorf("close final bill: %w", err)
		}
		billDirty = true
	}

	if billDirty {
		if err := s.store.UpdateBill(ctx, bill); err != nil {
			return billing.PhoneAccount{}, fmt.Errorf("save bill: %w", err)
		}
	}
	if err := s.store.UpdateAccount(ctx, &acct); err != nil {
		if errors.Is(err, billing.ErrNumberTaken) && acct.PhoneNumber != oldNumber {
			// Requested number is in use; keep the old one instead of
			// failing the whole update.
			acct.PhoneNumber = oldNumber
			if err := s.store.UpdateAccount(ctx, &acct); err != nil {
				return billing.PhoneAccount{}, err
			}
		} else {
			return billing.PhoneAccount{}, err
		}
	}

	if acct.IsActive {
		if acct.PhoneNumber != oldNumber {
			if err := s.phones.UpdateNumber(ctx, oldNumber, acct.PhoneNumber); err != nil {
				s.log.Error("renumber live phone", "old", oldNumber, "new", acct.PhoneNumber, "err", err)
			}
		}
		if unsuspended {
			if err := s.phones.Unsuspend(ctx, acct.PhoneNumber); err != nil {
				s.log.Error("unsuspend live phone", "number", acct.PhoneNumber, "err", err)
			}
		}
	}
	return acct, nil
}

// applyPayment reduces the account's balance and settles unpaid bills from
// the oldest end: walking the list newest first, bills whose cumulative
// totals are still covered by the remaining balance stay unpaid, everything
// older is considered paid off. Reports whether any bill was settled.
func (s *Service) applyPayment(ctx context.Context, acct *billing.PhoneAccount, amount string) (bool, error) {
	payment, err := money.CentsFromString(amount)
	if err != nil {
		return false, fmt.Errorf("payment amount: %w", err)
	}
	due, err := money.CentsFromString(acct.TotalDue)
	if err != nil {
		due = 0
	}
	remaining := due - payment
	acct.TotalDue = money.StringFromCents(remaining)

	bills, err := s.store.FindBillsByIDs(ctx, acct.UnpaidBillIDs)
	if err != nil {
		return false, fmt.Errorf("load unpaid bills: %w", err)
	}
	totals := make(map[string]int64, len(bills))
	for _, b := range bills {
		cents, err := money.CentsFromString(b.TotalDue)
		if err != nil {
			cents = 0
		}
		totals[b.ID] = cents
	}

	idx := len(acct.UnpaidBillIDs) - 1
	var sum int64
	for idx > -1 && sum < remaining {
		sum += totals[acct.UnpaidBillIDs[idx]]
		idx--
	}
	if idx < 0 {
		return false, nil
	}
	acct.UnpaidBillIDs = append([]string(nil), acct.UnpaidBillIDs[idx+1:]...)
	return true, nil
}

// ClosedBills lists an account's finalized bills, newest first.
func (s *Service) ClosedBills(ctx context.Context, accountID string) ([]billing.Bill, error) {
	return s.store.ClosedBillsByAccount(ctx, accountID)
}
