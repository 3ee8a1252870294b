package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This repository assumes the following tables exist:
// - customers
// - billing_plans (discount_periods JSONB)
// - phone_accounts (unpaid_bills JSONB, partial unique index on
//   phone_number WHERE is_active)
// - bills (periods JSONB)
// - calls (charges JSONB)

const uniqueViolation = "23505"

// PostgresStore implements Store on top of database/sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func marshalJSONB(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	return b, nil
}

func unmarshalJSONB(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode jsonb: %w", err)
	}
	return nil
}

// ---- phone accounts ----

const accountColumns = `id, customer_id, billing_plan_id, phone_number, current_bill_id, is_active, is_suspended, total_due, unpaid_bills`

func scanAccount(row interface{ Scan(...any) error }) (PhoneAccount, error) {
	var (
		a       PhoneAccount
		current sql.NullString
		unpaid  []byte
	)
	if err := row.Scan(
		&a.ID,
		&a.CustomerID,
		&a.BillingPlanID,
		&a.PhoneNumber,
		&current,
		&a.IsActive,
		&a.IsSuspended,
		&a.TotalDue,
		&unpaid,
	); err != nil {
		return PhoneAccount{}, err
	}
	a.CurrentBillID = current.String
	if err := unmarshalJSONB(unpaid, &a.UnpaidBillIDs); err != nil {
		return PhoneAccount{}, err
	}
	return a, nil
}

func (s *PostgresStore) FindAccountByID(ctx context.Context, id string) (PhoneAccount, error) {
	const q = `
SELECT ` + accountColumns + `
FROM phone_accounts
WHERE id = $1
`
	a, err := scanAccount(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return PhoneAccount{}, ErrNotFound
	}
	return a, err
}

func (s *PostgresStore) FindAccountsByIDs(ctx context.Context, ids []string) ([]PhoneAccount, error) {
	const q = `
SELECT ` + accountColumns + `
FROM phone_accounts
WHERE id = ANY($1)
`
	rows, err := s.db.QueryContext(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PhoneAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindActiveByNumber(ctx context.Context, number string) (PhoneAccount, error) {
	const q = `
SELECT ` + accountColumns + `
FROM phone_accounts
WHERE phone_number = $1 AND is_active
`
	a, err := scanAccount(s.db.QueryRowContext(ctx, q, number))
	if errors.Is(err, sql.ErrNoRows) {
		return PhoneAccount{}, ErrNotFound
	}
	return a, err
}

func (s *PostgresStore) ActiveNumbers(ctx context.Context) ([]string, error) {
	const q = `
SELECT phone_number
FROM phone_accounts
WHERE is_active
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acct *PhoneAccount) error {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	unpaid, err := marshalJSONB(acct.UnpaidBillIDs)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO phone_accounts (id, customer_id, billing_plan_id, phone_number, current_bill_id, is_active, is_suspended, total_due, unpaid_bills)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
`
	_, err = s.db.ExecContext(ctx, q,
		acct.ID, acct.CustomerID, acct.BillingPlanID, acct.PhoneNumber,
		acct.CurrentBillID, acct.IsActive, acct.IsSuspended, acct.TotalDue, unpaid)
	if isUniqueViolation(err) {
		return ErrNumberTaken
	}
	return err
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, acct *PhoneAccount) error {
	unpaid, err := marshalJSONB(acct.UnpaidBillIDs)
	if err != nil {
		return err
	}
	const q = `
UPDATE phone_accounts
SET customer_id = $2,
    billing_plan_id = $3,
    phone_number = $4,
    current_bill_id = NULLIF($5, ''),
    is_active = $6,
    is_suspended = $7,
    total_due = $8,
    unpaid_bills = $9
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q,
		acct.ID, acct.CustomerID, acct.BillingPlanID, acct.PhoneNumber,
		acct.CurrentBillID, acct.IsActive, acct.IsSuspended, acct.TotalDue, unpaid)
	if isUniqueViolation(err) {
		return ErrNumberTaken
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// ---- billing plans ----

func scanPlan(row interface{ Scan(...any) error }) (BillingPlan, error) {
	var (
		p       BillingPlan
		periods []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.PricePerMonth, &p.PricePerMinute, &periods, &p.IsActive); err != nil {
		return BillingPlan{}, err
	}
	if err := unmarshalJSONB(periods, &p.DiscountPeriods); err != nil {
		return BillingPlan{}, err
	}
	return p, nil
}

func (s *PostgresStore) FindPlanByID(ctx context.Context, id string) (BillingPlan, error) {
	const q = `
SELECT id, name, price_per_month, price_per_minute, discount_periods, is_active
FROM billing_plans
WHERE id = $1
`
	p, err := scanPlan(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return BillingPlan{}, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) ListPlans(ctx context.Context) ([]BillingPlan, error) {
	const q = `
SELECT id, name, price_per_month, price_per_minute, discount_periods, is_active
FROM billing_plans
ORDER BY name
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BillingPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreatePlan(ctx context.Context, plan *BillingPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	periods, err := marshalJSONB(plan.DiscountPeriods)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO billing_plans (id, name, price_per_month, price_per_minute, discount_periods, is_active)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err = s.db.ExecContext(ctx, q,
		plan.ID, plan.Name, plan.PricePerMonth, plan.PricePerMinute, periods, plan.IsActive)
	return err
}

func (s *PostgresStore) UpdatePlan(ctx context.Context, plan *BillingPlan) error {
	periods, err := marshalJSONB(plan.DiscountPeriods)
	if err != nil {
		return err
	}
	const q = `
UPDATE billing_plans
SET name = $2,
    price_per_month = $3,
    price_per_minute = $4,
    discount_periods = $5,
    is_active = $6
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q,
		plan.ID, plan.Name, plan.PricePerMonth, plan.PricePerMinute, periods, plan.IsActive)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// ---- bills ----

func scanBill(row interface{ Scan(...any) error }) (Bill, error) {
	var (
		b       Bill
		end     sql.NullTime
		periods []byte
	)
	if err := row.Scan(&b.ID, &b.PhoneAccountID, &b.StartDate, &end, &periods, &b.TotalDue); err != nil {
		return Bill{}, err
	}
	if end.Valid {
		t := end.Time
		b.EndDate = &t
	}
	if err := unmarshalJSONB(periods, &b.Periods); err != nil {
		return Bill{}, err
	}
	return b, nil
}

func (s *PostgresStore) FindBillByID(ctx context.Context, id string) (Bill, error) {
	const q = `
SELECT id, phone_account_id, start_date, end_date, periods, total_due
FROM bills
WHERE id = $1
`
	b, err := scanBill(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Bill{}, ErrNotFound
	}
	return b, err
}

func (s *PostgresStore) FindBillsByIDs(ctx context.Context, ids []string) ([]Bill, error) {
	const q = `
SELECT id, phone_account_id, start_date, end_date, periods, total_due
FROM bills
WHERE id = ANY($1)
`
	return s.queryBills(ctx, q, ids)
}

func (s *PostgresStore) OpenBillsStartedBefore(ctx context.Context, cutoff time.Time) ([]Bill, error) {
	const q = `
SELECT id, phone_account_id, start_date, end_date, periods, total_due
FROM bills
WHERE end_date IS NULL AND start_date < $1
ORDER BY start_date
`
	return s.queryBills(ctx, q, cutoff)
}

func (s *PostgresStore) ClosedBillsByAccount(ctx context.Context, accountID string) ([]Bill, error) {
	const q = `
SELECT id, phone_account_id, start_date, end_date, periods, total_due
FROM bills
WHERE phone_account_id = $1 AND end_date IS NOT NULL
ORDER BY start_date DESC
`
	return s.queryBills(ctx, q, accountID)
}

func (s *PostgresStore) queryBills(ctx context.Context, q string, args ...any) ([]Bill, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateBill(ctx context.Context, bill *Bill) error {
	if bill.ID == "" {
		bill.ID = uuid.NewString()
	}
	periods, err := marshalJSONB(bill.Periods)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO bills (id, phone_account_id, start_date, end_date, periods, total_due)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err = s.db.ExecContext(ctx, q,
		bill.ID, bill.PhoneAccountID, bill.StartDate, bill.EndDate, periods, bill.TotalDue)
	return err
}

func (s *PostgresStore) UpdateBill(ctx context.Context, bill *Bill) error {
	periods, err := marshalJSONB(bill.Periods)
	if err != nil {
		return err
	}
	const q = `
UPDATE bills
SET end_date = $2,
    periods = $3,
    total_due = $4
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, bill.ID, bill.EndDate, periods, bill.TotalDue)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// ---- calls ----

func scanCall(row interface{ Scan(...any) error }) (Call, error) {
	var (
		c       Call
		end     sql.NullTime
		charges []byte
	)
	if err := row.Scan(&c.ID, &c.CallerBillID, &c.CalleeNumber, &c.StartDate, &end, &charges); err != nil {
		return Call{}, err
	}
	if end.Valid {
		t := end.Time
		c.EndDate = &t
	}
	if err := unmarshalJSONB(charges, &c.Charges); err != nil {
		return Call{}, err
	}
	return c, nil
}

func (s *PostgresStore) FindCallByID(ctx context.Context, id string) (Call, error) {
	const q = `
SELECT id, caller_bill_id, callee_number, start_date, end_date, charges
FROM calls
WHERE id = $1
`
	c, err := scanCall(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) CallsByBill(ctx context.Context, billID string) ([]Call, error) {
	const q = `
SELECT id, caller_bill_id, callee_number, start_date, end_date, charges
FROM calls
WHERE caller_bill_id = $1
ORDER BY start_date
`
	rows, err := s.db.QueryContext(ctx, q, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateCall(ctx context.Context, call *Call) error {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	charges, err := marshalJSONB(call.Charges)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO calls (id, caller_bill_id, callee_number, start_date, end_date, charges)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err = s.db.ExecContext(ctx, q,
		call.ID, call.CallerBillID, call.CalleeNumber, call.StartDate, call.EndDate, charges)
	return err
}

func (s *PostgresStore) UpdateCall(ctx context.Context, call *Call) error {
	charges, err := marshalJSONB(call.Charges)
	if err != nil {
		return err
	}
	const q = `
UPDATE calls
SET caller_bill_id = $2,
    end_date = $3,
    charges = $4
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, call.ID, call.CallerBillID, call.EndDate, charges)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) DeleteCall(ctx context.Context, id string) error {
	const q = `
DELETE FROM calls
WHERE id = $1
`
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *PostgresStore) TransferOpenCalls(ctx context.Context, fromBillID, toBillID string) error {
	const q = `
UPDATE calls
SET caller_bill_id = $2
WHERE caller_bill_id = $1 AND end_date IS NULL
`
	_, err := s.db.ExecContext(ctx, q, fromBillID, toBillID)
	return err
}

// ---- customers ----

func (s *PostgresStore) FindCustomerByID(ctx context.Context, id string) (Customer, error) {
	const q = `
SELECT id, first_name, last_name, street_address, city, postal_code, email
FROM customers
WHERE id = $1
`
	var c Customer
	if err := s.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.StreetAddress, &c.City, &c.PostalCode, &c.Email,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, err
	}
	return c, nil
}

func (s *PostgresStore) ListCustomers(ctx context.Context) ([]Customer, error) {
	const q = `
SELECT id, first_name, last_name, street_address, city, postal_code, email
FROM customers
ORDER BY last_name, first_name
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.StreetAddress, &c.City, &c.PostalCode, &c.Email); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateCustomer(ctx context.Context, c *Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	const q = `
INSERT INTO customers (id, first_name, last_name, street_address, city, postal_code, email)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err := s.db.ExecContext(ctx, q,
		c.ID, c.FirstName, c.LastName, c.StreetAddress, c.City, c.PostalCode, c.Email)
	return err
}
