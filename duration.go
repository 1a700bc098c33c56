package rwpool

import (
	"math"
	"time"
)

// DurationFormatter renders a measured duration for logs and health results.
type DurationFormatter func(time.Duration) string

// FormatDuration rounds to the microsecond, e.g. "12.345ms".
func FormatDuration(d time.Duration) string {
	return d.Round(time.Microsecond).String()
}

// BackoffFunc returns the delay before the next attempt, given the retry
// budget the failed attempt ran with.
type BackoffFunc func(remaining int) time.Duration

// RemainingBudgetBackoff waits (4 - remaining)² × 500ms. With the default
// budget of 3 the delays are 500ms then 2s. The curve depends on the
// remaining budget rather than the attempt number, so budgets above 4 wait
// less on early attempts than on later ones.
func RemainingBudgetBackoff(remaining int) time.Duration {
	n := 4 - remaining
	return time.Duration(n*n) * 500 * time.Millisecond
}

// ExponentialBackoff doubles the delay with every spent attempt, starting at
// base, for a budget of total attempts.
func ExponentialBackoff(base time.Duration, total int) BackoffFunc {
	return func(remaining int) time.Duration {
		spent := total - remaining
		if spent < 0 {
			spent = 0
		}
		return time.Duration(float64(base) * math.Pow(2, float64(spent)))
	}
}
