package model

import "time"

// SubscriptionStatus mirrors the billing provider's subscription status
// vocabulary. "inactive" is our own marker for "no billing relationship".
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusInactive   SubscriptionStatus = "inactive"
)

// Account is the single record all access decisions read from and all
// billing/PIN mutations write to. Optional fields are pointers; nil means
// absent.
type Account struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`

	// Access tier inputs.
	CourtesyAccess  bool       `json:"courtesy_access"`
	TrialExpiresAt  *time.Time `json:"trial_expires_at"`   // admin override; nil = default formula
	TrialOverrideBy *string    `json:"trial_override_by"`  // audit: acting admin email
	TrialOverrideAt *time.Time `json:"trial_override_at"`  // audit: when the override was set/cleared

	// Billing state, owned by the reconciliation job.
	StripeCustomerID   *string            `json:"stripe_customer_id"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end"`
	PaymentFailedAt    *time.Time         `json:"payment_failed_at"`
	PaymentRecoveredAt *time.Time         `json:"payment_recovered_at"`
	CanceledAt         *time.Time         `json:"canceled_at"`

	// Financial PIN lock. PinHash only ever holds a salted digest.
	PinHash           []byte     `json:"-"`
	PinLockEnabled    bool       `json:"pin_lock_enabled"`
	PinResetToken     *string    `json:"-"`
	PinResetExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPin reports whether a financial PIN has ever been set.
func (a *Account) HasPin() bool {
	return len(a.PinHash) > 0
}

// BillingUpdate is the merged outcome of one reconciliation run, applied to
// the account in a single statement so the customer ref and status never
// drift apart.
type BillingUpdate struct {
	CustomerID         *string
	SubscriptionStatus SubscriptionStatus
	CurrentPeriodEnd   *time.Time
	PaymentFailedAt    *time.Time
	PaymentRecoveredAt *time.Time
	CanceledAt         *time.Time
}

type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	AccountID int64     `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
