package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Subunit scale is fixed at two decimal places for every supported currency.
const minorPerMajor = 100

// ToMinorUnits converts a major-unit amount to integer minor units, rounding
// half away from zero. Used only at input boundaries; everything downstream
// stays integer.
func ToMinorUnits(major float64) int64 {
	return int64(math.Round(major * minorPerMajor))
}

// ToMajorUnits converts minor units back to a major-unit amount.
func ToMajorUnits(minor int64) float64 {
	return float64(minor) / minorPerMajor
}

// FormatAmount renders a minor-unit amount for display, e.g. "NGN 5,000.00".
// Presentation only; never parse this back.
func FormatAmount(minor int64, currency string) string {
	negative := minor < 0
	if negative {
		minor = -minor
	}

	major := minor / minorPerMajor
	cents := minor % minorPerMajor

	digits := fmt.Sprintf("%d", major)
	var grouped strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}

	sign := ""
	if negative {
		sign = "-"
	}
	return fmt.Sprintf("%s %s%s.%02d", strings.ToUpper(strings.TrimSpace(currency)), sign, grouped.String(), cents)
}

// SplitInstallments divides a total into two installments. The first takes
// percent of the total rounded half up; the second is the remainder by
// subtraction, so the parts always sum back to the total.
func SplitInstallments(totalMinor int64, percent int) (first, second int64) {
	if totalMinor <= 0 {
		return 0, 0
	}
	if percent <= 0 {
		percent = 50
	}
	if percent > 100 {
		percent = 100
	}

	first = (totalMinor*int64(percent) + 50) / 100
	second = totalMinor - first
	return first, second
}

// SecondInstallmentDueDate computes when the closing installment falls due.
func SecondInstallmentDueDate(now time.Time, grace time.Duration) time.Time {
	return now.UTC().Add(grace)
}

// Balance recomputes the outstanding amount. Callers persist the result so
// the stored invariant balance = total - paid never drifts.
func Balance(totalMinor, paidMinor int64) int64 {
	return totalMinor - paidMinor
}
