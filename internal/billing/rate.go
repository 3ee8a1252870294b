package billing

import "time"

// Rate computes the itemized charges for a finished call under one billing
// plan. It is a pure function: no I/O, no clock.
//
// The walk visits the call minute by minute on the caller's wall clock and
// prices each minute with priority: single-day discount window, then all-week
// window, then the plan's base rate. Window boundaries are inclusive on both
// ends. The minute containing the call's end counts unless the call ends on
// an exact minute boundary (zero residual seconds). Minutes at the same rate
// merge into one charge even when the intervals are not contiguous, ordered
// by first use.
//
// Calls that span midnight keep working because the day-of-week is taken from
// the wall-clock date of each step, not from the call's start date.
//
// A call with no end date, or one cut to zero rated minutes, yields nil.
func Rate(c Call, plan BillingPlan) []Charge {
	if c.EndDate == nil {
		return nil
	}

	start := c.StartDate.Truncate(time.Minute)
	end := c.EndDate.In(c.StartDate.Location())
	last := end.Truncate(time.Minute)
	if end.Second() == 0 && end.Nanosecond() == 0 {
		// ended exactly on the boundary: that minute was never used
		last = last.Add(-time.Minute)
	}

	var charges []Charge
	index := make(map[string]int)
	for t := start; !t.After(last); t = t.Add(time.Minute) {
		rate := plan.rateAt(t)
		i, ok := index[rate]
		if !ok {
			i = len(charges)
			index[rate] = i
			charges = append(charges, Charge{Rate: rate})
		}
		charges[i].Duration++
	}
	return charges
}

// rateAt resolves the per-minute rate in force at t. A single-day window for
// t's weekday always wins over an all-week window covering the same minutes.
func (p BillingPlan) rateAt(t time.Time) string {
	day := int(t.Weekday())
	h, m := t.Hour(), t.Minute()

	allWeek := ""
	for _, dp := range p.DiscountPeriods {
		if !dp.contains(h, m) {
			continue
		}
		if dp.DayOfWeek == day {
			return dp.PricePerMinute
		}
		if dp.DayOfWeek == AllWeek && allWeek == "" {
			allWeek = dp.PricePerMinute
		}
	}
	if allWeek != "" {
		return allWeek
	}
	return p.PricePerMinute
}

func (dp DiscountPeriod) contains(hour, minute int) bool {
	afterStart := hour > dp.StartHour || (hour == dp.StartHour && minute >= dp.StartMinute)
	beforeEnd := hour < dp.EndHour || (hour == dp.EndHour && minute <= dp.EndMinute)
	return afterStart && beforeEnd
}
