// Package trial computes free-trial lifecycle state for an account. All
// functions take the evaluation instant explicitly so callers and tests
// control the clock.
package trial

import (
	"math"
	"time"

	"github.com/mreyes/despacho/internal/model"
)

// DefaultLength is the trial window granted at signup when no admin
// override is present.
const DefaultLength = 7 * 24 * time.Hour

// End returns the instant the account's trial expires: the admin override
// verbatim when set, otherwise signup plus the default window.
func End(account *model.Account) time.Time {
	if account.TrialExpiresAt != nil {
		return *account.TrialExpiresAt
	}
	return account.CreatedAt.Add(DefaultLength)
}

// Expired reports whether the trial is over at the given instant.
func Expired(account *model.Account, now time.Time) bool {
	return now.After(End(account))
}

// DaysRemaining returns the whole days left in the trial, rounding partial
// days up, floored at zero.
func DaysRemaining(account *model.Account, now time.Time) int {
	remaining := End(account).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}
