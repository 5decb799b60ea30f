package lot

import (
	"math"
	"time"
)

// Fee computes the parking charge for a stay. Hours are fractional; the
// raw charge is rounded UP to the nearest unit (1000 VND at this site),
// and a non-positive duration is free rather than negative.
func Fee(start, end time.Time, ratePerHour, unit int) int {
	if ratePerHour <= 0 {
		return 0
	}
	if unit <= 0 {
		unit = 1
	}
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	raw := d.Hours() * float64(ratePerHour)
	if raw <= 0 {
		return 0
	}
	return int(math.Ceil(raw/float64(unit))) * unit
}

// Settle splits a fee against a prepaid balance.
func Settle(fee, prepaid int) (paid, shortfall, remaining int) {
	if prepaid < 0 {
		prepaid = 0
	}
	paid = fee
	if prepaid < fee {
		paid = prepaid
	}
	shortfall = fee - paid
	remaining = prepaid - paid
	return paid, shortfall, remaining
}
