package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mreyes/despacho/internal/model"
	"github.com/mreyes/despacho/internal/store"
)

// Outcome summarizes what one reconciliation run wrote to the account.
type Outcome struct {
	Status           model.SubscriptionStatus
	SubscriptionID   string
	CurrentPeriodEnd *time.Time
}

// Reconciler maps the provider's subscription objects onto account state.
// Runs are idempotent: the same provider state always produces the same
// account state, so a run can be repeated after any failure.
type Reconciler struct {
	provider Provider
	accounts *store.AccountStore
	logger   *slog.Logger
}

func NewReconciler(provider Provider, accounts *store.AccountStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{provider: provider, accounts: accounts, logger: logger}
}

// Reconcile refreshes one account's billing fields from the provider.
// Provider failures are returned to the caller, never papered over with a
// default status.
func (r *Reconciler) Reconcile(ctx context.Context, account *model.Account) (Outcome, error) {
	customerID, err := r.provider.FindCustomerByEmail(ctx, account.Email)
	if err != nil {
		return Outcome{}, fmt.Errorf("billing provider lookup: %w", err)
	}

	// Carry existing stamps forward; each branch below adjusts only its own.
	update := model.BillingUpdate{
		SubscriptionStatus: model.StatusInactive,
		PaymentFailedAt:    account.PaymentFailedAt,
		PaymentRecoveredAt: account.PaymentRecoveredAt,
		CanceledAt:         account.CanceledAt,
	}

	if customerID == "" {
		if err := r.accounts.UpdateBillingState(account.ID, update); err != nil {
			return Outcome{}, err
		}
		r.logger.Info("no billing customer", "account_id", account.ID)
		return Outcome{Status: model.StatusInactive}, nil
	}
	update.CustomerID = &customerID

	subs, err := r.provider.ListSubscriptions(ctx, customerID)
	if err != nil {
		return Outcome{}, fmt.Errorf("billing provider subscriptions: %w", err)
	}

	chosen := chooseSubscription(subs)
	if chosen == nil {
		if err := r.accounts.UpdateBillingState(account.ID, update); err != nil {
			return Outcome{}, err
		}
		return Outcome{Status: model.StatusInactive}, nil
	}

	update.SubscriptionStatus = chosen.Status
	update.CurrentPeriodEnd = chosen.CurrentPeriodEnd

	now := time.Now().UTC()
	switch chosen.Status {
	case model.StatusActive:
		if update.PaymentFailedAt != nil {
			update.PaymentFailedAt = nil
			update.PaymentRecoveredAt = &now
		}
	case model.StatusPastDue:
		if update.PaymentFailedAt == nil {
			update.PaymentFailedAt = &now
		}
	case model.StatusCanceled:
		if update.CanceledAt == nil {
			update.CanceledAt = &now
		}
	}

	if err := r.accounts.UpdateBillingState(account.ID, update); err != nil {
		return Outcome{}, err
	}

	r.logger.Info("billing state reconciled",
		"account_id", account.ID,
		"subscription_id", chosen.ID,
		"status", string(chosen.Status),
	)
	return Outcome{
		Status:           chosen.Status,
		SubscriptionID:   chosen.ID,
		CurrentPeriodEnd: chosen.CurrentPeriodEnd,
	}, nil
}

// chooseSubscription picks the subscription that should drive account
// state: the first currently-relevant one (active, trialing, or past_due),
// else the most recently created regardless of status.
func chooseSubscription(subs []Subscription) *Subscription {
	for i := range subs {
		switch subs[i].Status {
		case model.StatusActive, model.StatusTrialing, model.StatusPastDue:
			return &subs[i]
		}
	}
	var latest *Subscription
	for i := range subs {
		if latest == nil || subs[i].Created.After(latest.Created) {
			latest = &subs[i]
		}
	}
	return latest
}
