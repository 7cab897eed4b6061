package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/mreyes/despacho/internal/database"
	"github.com/mreyes/despacho/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAccountCreate(t *testing.T) {
	s := NewAccountStore(setupTestDB(t))

	a, err := s.Create("alice@example.com")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if a.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", a.Email, "alice@example.com")
	}
	if a.CourtesyAccess {
		t.Error("expected courtesy access off by default")
	}
	if !a.PinLockEnabled {
		t.Error("expected pin lock enabled by default")
	}
	if a.StripeCustomerID != nil {
		t.Error("expected nil stripe customer id")
	}
	// A never-reconciled account reports "inactive", not an empty status.
	if a.SubscriptionStatus != model.StatusInactive {
		t.Errorf("subscription_status = %q, want inactive", a.SubscriptionStatus)
	}
	if a.TrialExpiresAt != nil {
		t.Error("expected no trial override on a fresh account")
	}
}

func TestAccountGetByEmailNotFound(t *testing.T) {
	s := NewAccountStore(setupTestDB(t))

	a, err := s.GetByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if a != nil {
		t.Error("expected nil for nonexistent email")
	}
}

func TestAccountSetCourtesyAccess(t *testing.T) {
	s := NewAccountStore(setupTestDB(t))

	created, _ := s.Create("amigo@example.com")
	if err := s.SetCourtesyAccess(created.ID, true); err != nil {
		t.Fatalf("set courtesy: %v", err)
	}

	a, _ := s.GetByID(created.ID)
	if !a.CourtesyAccess {
		t.Error("expected courtesy access on")
	}

	if err := s.SetCourtesyAccess(created.ID, false); err != nil {
		t.Fatalf("revoke courtesy: %v", err)
	}
	a, _ = s.GetByID(created.ID)
	if a.CourtesyAccess {
		t.Error("expected courtesy access off")
	}
}

func TestAccountTrialOverrideRoundTrip(t *testing.T) {
	s := NewAccountStore(setupTestDB(t))

	created, _ := s.Create("alice@example.com")
	target := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	if err := s.SetTrialOverride(created.ID, target, "admin@example.com"); err != nil {
		t.Fatalf("set trial override: %v", err)
	}

	a, _ := s.GetByID(created.ID)
	if a.TrialExpiresAt == nil || !a.TrialExpiresAt.Equal(target) {
		t.Errorf("trial_expires_at = %v, want %v", a.TrialExpiresAt, target)
	}
	if a.TrialOverrideBy == nil || *a.TrialOverrideBy != "admin@example.com" {
		t.Errorf("trial_override_by = %v, want admin@example.com", a.TrialOverrideBy)
	}
	if a.TrialOverrideAt == nil {
		t.Error("expected audit timestamp on override")
	}

	if err := s.ClearTrialOverride(created.ID, "admin@example.com"); err != nil {
		t.Fatalf("clear trial override: %v", err)
	}
	a, _ = s.GetByID(created.ID)
	if a.TrialExpiresAt != nil {
		t.Errorf("trial_expires_at = %v, want nil after clear", a.TrialExpiresAt)
	}
	if a.TrialOverrideBy == nil {
		t.Error("expected audit stamp to survive the clear")
	}
}

func TestAccountUpdateBillingState(t *testing.T) {
	s := NewAccountStore(setupTestDB(t))

	created, _ := s.Create("alice@example.com")
	customerID := "cus_123"
	periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	failedAt := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	err := s.UpdateBillingState(created.ID, model.BillingUpdate{
		CustomerID:         &customerID,
		SubscriptionStatus: model.StatusPastDue,
		CurrentPeriodEnd:   &periodEnd,
		PaymentFailedAt:    &failedAt,
	})
	if err != nil {
		t.Fatalf("update billing state: %v", err)
	}

	a, _ := s.GetByID(created.ID)
	if a.StripeCustomerID == nil || *a.StripeCustomerID != "cus_123" {
		t.Errorf("stripe_customer_id = %v, want cus_123", a.StripeCustomerID)
	}
	if a.SubscriptionStatus != model.StatusPastDue {
		t.Errorf("subscription_status = %q, want past_due", a.SubscriptionStatus)
	}
	if a.CurrentPeriodEnd == nil || !a.CurrentPeriodEnd.Equal(periodEnd) {
		t.Errorf("current_period_end = %v, want %v", a.CurrentPeriodEnd, periodEnd)
	}
	if a.PaymentFailedAt == nil {
		t.Error("expected payment_failed_at set")
	}

	// A later run that clears the customer must also clear stale fields in
	// the same write.
	err = s.UpdateBillingState(created.ID, model.BillingUpdate{
		SubscriptionStatus: model.StatusInactive,
	})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	a, _ = s.GetByID(created.ID)
	if a.StripeCustomerID != nil {
		t.Error("expected customer ref cleared")
	}
	if a.SubscriptionStatus != model.StatusInactive {
		t.Errorf("subscription_status = %q, want inactive", a.SubscriptionStatus)
	}
	if a.CurrentPeriodEnd != nil {
		t.Error("expected period end cleared")
	}
}

func TestAccountListTrialAccounts(t *testing.T) {
	s := NewAccountStore(setupTestDB(t))

	onTrial, _ := s.Create("trial@example.com")
	amigo, _ := s.Create("amigo@example.com")
	s.SetCourtesyAccess(amigo.ID, true)
	paid, _ := s.Create("paid@example.com")
	s.UpdateBillingState(paid.ID, model.BillingUpdate{SubscriptionStatus: model.StatusActive})
	lapsed, _ := s.Create("lapsed@example.com")
	s.UpdateBillingState(lapsed.ID, model.BillingUpdate{SubscriptionStatus: model.StatusCanceled})

	accounts, err := s.ListTrialAccounts()
	if err != nil {
		t.Fatalf("list trial accounts: %v", err)
	}

	ids := make(map[int64]bool)
	for _, a := range accounts {
		ids[a.ID] = true
	}
	if !ids[onTrial.ID] {
		t.Error("expected fresh account in trial list")
	}
	if !ids[lapsed.ID] {
		t.Error("expected canceled account in trial list")
	}
	if ids[amigo.ID] {
		t.Error("courtesy account should not be in trial list")
	}
	if ids[paid.ID] {
		t.Error("active subscriber should not be in trial list")
	}
}
