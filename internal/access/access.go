// Package access derives the single entitlement tier for an account by
// merging the super-admin identity, the courtesy grant, billing state, and
// the trial clock. The precedence order is total and load-bearing: the
// first matching rule wins and later rules are never consulted.
package access

import (
	"fmt"
	"strings"
	"time"

	"github.com/mreyes/despacho/internal/model"
	"github.com/mreyes/despacho/internal/trial"
)

type Tier string

const (
	TierAdmin       Tier = "admin"
	TierCourtesy    Tier = "courtesy"
	TierPremium     Tier = "premium"
	TierTrialActive Tier = "trial_active"
	TierNone        Tier = "none"
)

// Denial reasons, machine-readable.
const (
	ReasonExpiredTrial   = "expired_trial"
	ReasonNoSubscription = "no_subscription"
	ReasonPaymentFailed  = "payment_failed"
)

// Decision is the outcome of one entitlement evaluation.
type Decision struct {
	Granted   bool
	Tier      Tier
	PeriodEnd *time.Time // nil for tiers with no expiry
	Reason    string     // set only when access is denied
	Message   string
}

// Resolver holds the injected super-admin identity. One literal email was
// hard-coded all over the source system; here it is deployment config.
type Resolver struct {
	adminEmail string
}

func NewResolver(adminEmail string) *Resolver {
	return &Resolver{adminEmail: strings.ToLower(strings.TrimSpace(adminEmail))}
}

// Resolve evaluates the precedence chain at the given instant:
// admin, courtesy, live billing, active trial, then denial with a reason.
func (r *Resolver) Resolve(account *model.Account, now time.Time) Decision {
	if r.adminEmail != "" && strings.EqualFold(account.Email, r.adminEmail) {
		return Decision{
			Granted: true,
			Tier:    TierAdmin,
			Message: "Administrator account, full access",
		}
	}

	if account.CourtesyAccess {
		return Decision{
			Granted: true,
			Tier:    TierCourtesy,
			Message: "Courtesy access granted, no expiration",
		}
	}

	switch account.SubscriptionStatus {
	case model.StatusActive, model.StatusTrialing:
		return Decision{
			Granted:   true,
			Tier:      TierPremium,
			PeriodEnd: account.CurrentPeriodEnd,
			Message:   "Subscription active",
		}
	}

	if !trial.Expired(account, now) {
		end := trial.End(account)
		days := trial.DaysRemaining(account, now)
		return Decision{
			Granted:   true,
			Tier:      TierTrialActive,
			PeriodEnd: &end,
			Message:   fmt.Sprintf("Free trial, %d days remaining", days),
		}
	}

	d := Decision{Granted: false, Tier: TierNone}
	switch account.SubscriptionStatus {
	case model.StatusPastDue:
		d.Reason = ReasonPaymentFailed
		d.Message = "Payment failed, update your billing details to restore access"
	case model.StatusCanceled:
		d.Reason = ReasonNoSubscription
		d.Message = "Subscription canceled, resubscribe to restore access"
	default:
		d.Reason = ReasonExpiredTrial
		d.Message = "Free trial expired, subscribe to continue"
	}
	return d
}
