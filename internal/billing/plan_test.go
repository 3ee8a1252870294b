package billing

import (
	"errors"
	"testing"
)

func validPlan(periods ...DiscountPeriod) BillingPlan {
	return BillingPlan{
		Name:            "basic",
		PricePerMonth:   "20.00",
		PricePerMinute:  "0.10",
		DiscountPeriods: periods,
		IsActive:        true,
	}
}

func TestNormalizeSortsPeriods(t *testing.T) {
	p := validPlan(
		DiscountPeriod{DayOfWeek: AllWeek, StartHour: 1, EndHour: 2, PricePerMinute: "0.05"},
		DiscountPeriod{DayOfWeek: 2, StartHour: 10, EndHour: 11, PricePerMinute: "0.05"},
		DiscountPeriod{DayOfWeek: 2, StartHour: 6, EndHour: 7, PricePerMinute: "0.05"},
	)
	if err := p.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if p.DiscountPeriods[0].DayOfWeek != 2 || p.DiscountPeriods[0].StartHour != 6 {
		t.Fatalf("unexpected order: %+v", p.DiscountPeriods)
	}
	if p.DiscountPeriods[2].DayOfWeek != AllWeek {
		t.Fatalf("all-week period should sort last: %+v", p.DiscountPeriods)
	}
}

func TestNormalizeSwapsInvertedWindow(t *testing.T) {
	p := validPlan(DiscountPeriod{DayOfWeek: 1, StartHour: 12, StartMinute: 30, EndHour: 9, EndMinute: 15, PricePerMinute: "0.05"})
	if err := p.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	dp := p.DiscountPeriods[0]
	if dp.StartHour != 9 || dp.StartMinute != 15 || dp.EndHour != 12 || dp.EndMinute != 30 {
		t.Fatalf("window not swapped: %+v", dp)
	}
}

func TestNormalizeRejectsZeroLengthWindow(t *testing.T) {
	p := validPlan(DiscountPeriod{DayOfWeek: 1, StartHour: 9, StartMinute: 5, EndHour: 9, EndMinute: 5, PricePerMinute: "0.05"})
	if err := p.Normalize(); !errors.Is(err, ErrZeroLengthPeriod) {
		t.Fatalf("expected ErrZeroLengthPeriod, got %v", err)
	}
}

func TestNormalizeRejectsSameDayOverlap(t *testing.T) {
	p := validPlan(
		DiscountPeriod{DayOfWeek: 3, StartHour: 9, EndHour: 12, PricePerMinute: "0.05"},
		DiscountPeriod{DayOfWeek: 3, StartHour: 11, EndHour: 14, PricePerMinute: "0.04"},
	)
	if err := p.Normalize(); !errors.Is(err, ErrOverlappingPeriod) {
		t.Fatalf("expected ErrOverlappingPeriod, got %v", err)
	}

	// Inclusive boundaries: touching end/start minutes also conflict.
	p = validPlan(
		DiscountPeriod{DayOfWeek: 3, StartHour: 9, EndHour: 12, PricePerMinute: "0.05"},
		DiscountPeriod{DayOfWeek: 3, StartHour: 12, EndHour: 14, PricePerMinute: "0.04"},
	)
	if err := p.Normalize(); !errors.Is(err, ErrOverlappingPeriod) {
		t.Fatalf("expected ErrOverlappingPeriod for touching windows, got %v", err)
	}
}

func TestNormalizeAllowsSingleDayOverAllWeek(t *testing.T) {
	p := validPlan(
		DiscountPeriod{DayOfWeek: 3, StartHour: 9, EndHour: 12, PricePerMinute: "0.05"},
		DiscountPeriod{DayOfWeek: AllWeek, StartHour: 8, EndHour: 13, PricePerMinute: "0.07"},
	)
	if err := p.Normalize(); err != nil {
		t.Fatalf("single-day over all-week should be allowed: %v", err)
	}
}

func TestNormalizeRejectsBadMoney(t *testing.T) {
	p := validPlan()
	p.PricePerMinute = "ten cents"
	if err := p.Normalize(); err == nil {
		t.Fatalf("expected money validation error")
	}
}
