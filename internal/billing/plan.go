package billing

import (
	"errors"
	"fmt"
	"sort"

	"voip-exchange/internal/money"
)

var (
	ErrZeroLengthPeriod  = errors.New("discount period start and end times are the same")
	ErrOverlappingPeriod = errors.New("discount periods may not overlap (except a single-day period overriding an all-week period)")
)

// Normalize validates and canonicalizes a plan before it is written.
//
// Rules:
//   - prices must be valid money strings
//   - a window with start after end is swapped, zero-length windows are rejected
//   - two windows on the same day-of-week value may not overlap; a single-day
//     window overlapping an all-week window is the one permitted case
//   - windows end up sorted by (day, start hour, start minute), which the
//     rate walk relies on
func (p *BillingPlan) Normalize() error {
	if _, err := money.CentsFromString(p.PricePerMonth); err != nil {
		return fmt.Errorf("price_per_month: %w", err)
	}
	if _, err := money.CentsFromString(p.PricePerMinute); err != nil {
		return fmt.Errorf("price_per_minute: %w", err)
	}

	for i := range p.DiscountPeriods {
		dp := &p.DiscountPeriods[i]
		if err := dp.normalize(); err != nil {
			return err
		}
	}

	for x := 0; x < len(p.DiscountPeriods); x++ {
		for y := x + 1; y < len(p.DiscountPeriods); y++ {
			a, b := p.DiscountPeriods[x], p.DiscountPeriods[y]
			if a.DayOfWeek == b.DayOfWeek && a.overlaps(b) {
				return fmt.Errorf("%w: %s and %s", ErrOverlappingPeriod, a, b)
			}
		}
	}

	sort.SliceStable(p.DiscountPeriods, func(i, j int) bool {
		a, b := p.DiscountPeriods[i], p.DiscountPeriods[j]
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.StartHour != b.StartHour {
			return a.StartHour < b.StartHour
		}
		return a.StartMinute < b.StartMinute
	})
	return nil
}

func (dp *DiscountPeriod) normalize() error {
	if dp.DayOfWeek < 0 || dp.DayOfWeek > AllWeek {
		return fmt.Errorf("day_of_week out of range: %d", dp.DayOfWeek)
	}
	if dp.StartHour < 0 || dp.StartHour > 23 || dp.EndHour < 0 || dp.EndHour > 23 {
		return fmt.Errorf("hour out of range in %s", dp)
	}
	if dp.StartMinute < 0 || dp.StartMinute > 59 || dp.EndMinute < 0 || dp.EndMinute > 59 {
		return fmt.Errorf("minute out of range in %s", dp)
	}
	if _, err := money.CentsFromString(dp.PricePerMinute); err != nil {
		return fmt.Errorf("discount price_per_minute: %w", err)
	}

	start := dp.StartHour*60 + dp.StartMinute
	end := dp.EndHour*60 + dp.EndMinute
	if start == end {
		return fmt.Errorf("%w: %s", ErrZeroLengthPeriod, dp)
	}
	if start > end {
		dp.StartHour, dp.EndHour = dp.EndHour, dp.StartHour
		dp.StartMinute, dp.EndMinute = dp.EndMinute, dp.StartMinute
	}
	return nil
}

// overlaps treats windows as closed minute intervals, matching the inclusive
// boundary semantics used when rating.
func (dp DiscountPeriod) overlaps(other DiscountPeriod) bool {
	s1, e1 := dp.StartHour*60+dp.StartMinute, dp.EndHour*60+dp.EndMinute
	s2, e2 := other.StartHour*60+other.StartMinute, other.EndHour*60+other.EndMinute
	return s2 <= e1 && s1 <= e2
}

func (dp DiscountPeriod) String() string {
	return fmt.Sprintf("day=%d %02d:%02d-%02d:%02d", dp.DayOfWeek, dp.StartHour, dp.StartMinute, dp.EndHour, dp.EndMinute)
}
