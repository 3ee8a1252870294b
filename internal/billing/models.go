package billing

import "time"

// Core billing documents. Money fields are strings ("12.34") validated by
// internal/money; arithmetic happens in cents and results are rendered back.
// Optional dates are pointers: a nil EndDate means "still open".

// AllWeek is the DiscountPeriod day-of-week value meaning "applies every day".
// Days 0-6 are Sunday through Saturday.
const AllWeek = 7

// DiscountPeriod is a recurring clock window with an overriding per-minute
// rate. Both the start minute and the end minute are inside the window.
type DiscountPeriod struct {
	DayOfWeek      int    `json:"day_of_week"`
	StartHour      int    `json:"start_hour"`
	StartMinute    int    `json:"start_minute"`
	EndHour        int    `json:"end_hour"`
	EndMinute      int    `json:"end_minute"`
	PricePerMinute string `json:"price_per_minute"`
}

type BillingPlan struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	PricePerMonth  string           `json:"price_per_month"`
	PricePerMinute string           `json:"price_per_minute"`
	// DiscountPeriods are kept sorted by (day, start hour, start minute);
	// Normalize enforces that along with the overlap rules.
	DiscountPeriods []DiscountPeriod `json:"discount_periods"`
	IsActive        bool             `json:"is_active"`
}

// PlanPeriod is one contiguous slice of a bill during which a single billing
// plan was in force. The last period of an open bill has no end date.
type PlanPeriod struct {
	BillingPlanID string     `json:"billing_plan_id"`
	StartDate     time.Time  `json:"start_date"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	AmountDue     string     `json:"amount_due,omitempty"`
}

type Bill struct {
	ID             string       `json:"id"`
	PhoneAccountID string       `json:"phone_account_id"`
	StartDate      time.Time    `json:"start_date"`
	EndDate        *time.Time   `json:"end_date,omitempty"`
	Periods        []PlanPeriod `json:"billing_plans"`
	TotalDue       string       `json:"total_due,omitempty"`
}

// Open reports whether the bill is still accumulating charges.
func (b *Bill) Open() bool { return b.EndDate == nil }

// Charge is one rated line item: minutes billed at a single rate.
type Charge struct {
	Rate     string `json:"rate"`
	Duration int    `json:"duration"`
}

// Call is owned by the caller's bill. Charges stay empty until the call is
// rated on close (or, as a fallback, by the billing cycle).
type Call struct {
	ID           string     `json:"id"`
	CallerBillID string     `json:"caller_bill_id"`
	CalleeNumber string     `json:"callee_number"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	Charges      []Charge   `json:"charges,omitempty"`
}

type PhoneAccount struct {
	ID            string   `json:"id"`
	CustomerID    string   `json:"customer_id"`
	BillingPlanID string   `json:"billing_plan_id"`
	PhoneNumber   string   `json:"phone_number"`
	CurrentBillID string   `json:"current_bill_id,omitempty"`
	IsActive      bool     `json:"is_active"`
	IsSuspended   bool     `json:"is_suspended"`
	TotalDue      string   `json:"total_due"`
	// UnpaidBillIDs is ordered oldest first. Payments walk it from the
	// newest end; suspension triggers when it grows past UnpaidBillLimit.
	UnpaidBillIDs []string `json:"unpaid_bills,omitempty"`
}

type Customer struct {
	ID            string `json:"id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	StreetAddress string `json:"street_address"`
	City          string `json:"city"`
	PostalCode    string `json:"postal_code"`
	Email         string `json:"email"`
}
