// Package billing reconciles externally-reported subscription state onto
// the account record. The provider itself sits behind an interface so the
// job is testable without network calls.
package billing

import (
	"context"
	"time"

	"github.com/mreyes/despacho/internal/model"
)

// Subscription is the provider-neutral view of one subscription object.
type Subscription struct {
	ID               string
	Status           model.SubscriptionStatus
	Created          time.Time
	CurrentPeriodEnd *time.Time
}

// Provider is the slice of the billing provider's API the reconciler needs.
type Provider interface {
	// FindCustomerByEmail returns the provider customer ID for an email,
	// or "" when no customer exists.
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
	// ListSubscriptions returns all of a customer's subscriptions,
	// regardless of status.
	ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)
}
