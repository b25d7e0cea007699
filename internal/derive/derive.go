// Package derive computes the formula-based gate codes. The formulas are
// deliberately non-secret policy carried over from the legacy system: a soft
// preview gate, not access control. Anything that wants stronger codes swaps
// this package, nothing else.
package derive

import (
	"fmt"
	"strings"
	"time"
)

// multiplier is the parity rule shared by all three derivations: even
// components double, odd components triple.
func multiplier(n int) int {
	if n%2 == 0 {
		return n * 2
	}
	return n * 3
}

// DailyAccessCode returns the rotating code that opens the preview gate for
// the calendar day of now. Comparison is case-insensitive; see Matches.
func DailyAccessCode(now time.Time) string {
	day := now.Day()
	month := int(now.Month())
	return fmt.Sprintf("%02dSENE%d", month, multiplier(day))
}

// Matches reports whether a submitted value equals the daily access code for
// now, ignoring case.
func Matches(submitted string, now time.Time) bool {
	return strings.EqualFold(strings.TrimSpace(submitted), DailyAccessCode(now))
}

// PhoneCode returns the deterministic phone-validation code for the calendar
// day of now. It is time-only: the subject's phone digits never enter the
// formula, every phone shares the same code for a given day.
func PhoneCode(now time.Time) string {
	day := now.Day()
	month := int(now.Month())
	year := now.Year() % 100
	return fmt.Sprintf("%02d%02d%02d", multiplier(day), multiplier(month), multiplier(year))
}

// MasterCode returns the override code for the calendar day of now. It is
// accepted by every channel that takes a one-time code, regardless of the
// subject being validated.
func MasterCode(now time.Time) string {
	day := now.Day()
	month := int(now.Month())
	year := now.Year() % 100
	return fmt.Sprintf("%02d%02d%02d", multiplier(month), year, multiplier(day))
}

// EndOfDay returns the first instant after the calendar day of now, in now's
// location. Derived codes expire here.
func EndOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}
