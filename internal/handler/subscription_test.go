package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mreyes/despacho/internal/access"
	"github.com/mreyes/despacho/internal/billing"
	"github.com/mreyes/despacho/internal/database"
	"github.com/mreyes/despacho/internal/model"
	"github.com/mreyes/despacho/internal/store"
)

type fakeBilling struct {
	customerID string
	subs       []billing.Subscription
	created    int
}

func (f *fakeBilling) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	return f.customerID, nil
}

func (f *fakeBilling) ListSubscriptions(ctx context.Context, customerID string) ([]billing.Subscription, error) {
	return f.subs, nil
}

func (f *fakeBilling) CreateCustomer(ctx context.Context, email string) (string, error) {
	f.created++
	return "cus_new", nil
}

func (f *fakeBilling) CreateCheckoutSession(ctx context.Context, customerID string) (string, error) {
	return "https://checkout.example.com/session", nil
}

func (f *fakeBilling) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return "https://portal.example.com/session", nil
}

func setupSubscriptionTest(t *testing.T, fb *fakeBilling) (*SubscriptionHandler, *store.AccountStore, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	accounts := store.NewAccountStore(db)
	resolver := access.NewResolver("admin@example.com")
	var reconciler *billing.Reconciler
	var checkout CheckoutProvider
	if fb != nil {
		reconciler = billing.NewReconciler(fb, accounts, slog.Default())
		checkout = fb
	}
	h := NewSubscriptionHandler(accounts, resolver, reconciler, checkout, "admin@example.com", slog.Default())
	return h, accounts, db
}

func getStatus(t *testing.T, h *SubscriptionHandler, accountID int64) map[string]any {
	t.Helper()
	r := httptest.NewRequest("GET", "/subscription/status", nil)
	r = r.WithContext(WithAccountID(r.Context(), accountID))
	rec := httptest.NewRecorder()
	h.Status(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint: %d: %s", rec.Code, rec.Body.String())
	}
	return decodeBody(t, rec)
}

func TestStatusFreshTrial(t *testing.T) {
	h, accounts, _ := setupSubscriptionTest(t, nil)
	account, _ := accounts.Create("bob@example.com")

	body := getStatus(t, h, account.ID)
	if body["subscribed"] != true {
		t.Errorf("subscribed = %v, want true during trial", body["subscribed"])
	}
	// Trial access is not a paid tier on the wire.
	if body["account_type"] != "none" {
		t.Errorf("account_type = %v, want none", body["account_type"])
	}
	if body["current_period_end"] == nil {
		t.Error("trial status should carry the trial end")
	}
}

func TestStatusCourtesyReportsAmigo(t *testing.T) {
	h, accounts, _ := setupSubscriptionTest(t, nil)
	account, _ := accounts.Create("carol@example.com")
	if err := accounts.SetCourtesyAccess(account.ID, true); err != nil {
		t.Fatalf("set courtesy: %v", err)
	}

	body := getStatus(t, h, account.ID)
	if body["account_type"] != "amigo" {
		t.Errorf("account_type = %v, want amigo", body["account_type"])
	}
	if body["current_period_end"] != nil {
		t.Error("courtesy access has no expiry")
	}
}

func TestStatusAdmin(t *testing.T) {
	h, accounts, _ := setupSubscriptionTest(t, nil)
	account, _ := accounts.Create("admin@example.com")

	body := getStatus(t, h, account.ID)
	if body["account_type"] != "admin" || body["subscribed"] != true {
		t.Errorf("body = %v, want admin grant", body)
	}
}

func TestStatusExpiredTrialDenied(t *testing.T) {
	h, accounts, db := setupSubscriptionTest(t, nil)
	account, _ := accounts.Create("dave@example.com")
	if _, err := db.Exec(
		`UPDATE accounts SET created_at = datetime('now', '-30 days') WHERE id = ?`, account.ID,
	); err != nil {
		t.Fatalf("age account: %v", err)
	}

	body := getStatus(t, h, account.ID)
	if body["subscribed"] != false {
		t.Errorf("subscribed = %v, want false after trial lapse", body["subscribed"])
	}
	if body["account_type"] != "none" {
		t.Errorf("account_type = %v", body["account_type"])
	}
}

func TestReconcileSelf(t *testing.T) {
	periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	fb := &fakeBilling{
		customerID: "cus_123",
		subs: []billing.Subscription{
			{ID: "sub_1", Status: model.StatusActive, Created: time.Now(), CurrentPeriodEnd: &periodEnd},
		},
	}
	h, accounts, _ := setupSubscriptionTest(t, fb)
	account, _ := accounts.Create("bob@example.com")

	rec := postJSON(t, h.Reconcile, account.ID, `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "active" || body["subscription_id"] != "sub_1" {
		t.Errorf("body = %v", body)
	}
	if int64(body["current_period_end"].(float64)) != periodEnd.Unix() {
		t.Errorf("current_period_end = %v, want %d", body["current_period_end"], periodEnd.Unix())
	}

	// Reconciliation result now drives the entitlement answer.
	status := getStatus(t, h, account.ID)
	if status["account_type"] != "premium" {
		t.Errorf("account_type after reconcile = %v, want premium", status["account_type"])
	}
}

func TestReconcileAdminPath(t *testing.T) {
	fb := &fakeBilling{customerID: ""}
	h, accounts, _ := setupSubscriptionTest(t, fb)
	admin, _ := accounts.Create("admin@example.com")
	accounts.Create("target@example.com")

	rec := postJSON(t, h.Reconcile, admin.ID, `{"admin_action":true,"email_to_fix":"target@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, h.Reconcile, admin.ID, `{"admin_action":true,"email_to_fix":"missing@example.com"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown target: status = %d, want 404", rec.Code)
	}

	rec = postJSON(t, h.Reconcile, admin.ID, `{"admin_action":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing email: status = %d, want 400", rec.Code)
	}
}

func TestReconcileAdminPathForbidsNonAdmin(t *testing.T) {
	fb := &fakeBilling{customerID: ""}
	h, accounts, _ := setupSubscriptionTest(t, fb)
	user, _ := accounts.Create("bob@example.com")

	rec := postJSON(t, h.Reconcile, user.ID, `{"admin_action":true,"email_to_fix":"bob@example.com"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestReconcileUnconfigured(t *testing.T) {
	h, accounts, _ := setupSubscriptionTest(t, nil)
	account, _ := accounts.Create("bob@example.com")

	rec := postJSON(t, h.Reconcile, account.ID, `{}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestCreateCheckoutEnsuresCustomer(t *testing.T) {
	fb := &fakeBilling{}
	h, accounts, _ := setupSubscriptionTest(t, fb)
	account, _ := accounts.Create("bob@example.com")

	rec := postJSON(t, h.CreateCheckout, account.ID, `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if fb.created != 1 {
		t.Errorf("created %d customers, want 1", fb.created)
	}
	body := decodeBody(t, rec)
	if body["url"] != "https://checkout.example.com/session" {
		t.Errorf("url = %v", body["url"])
	}

	got, _ := accounts.GetByID(account.ID)
	if got.StripeCustomerID == nil || *got.StripeCustomerID != "cus_new" {
		t.Errorf("customer ref = %v, want cus_new persisted", got.StripeCustomerID)
	}

	// A second checkout reuses the stored customer.
	postJSON(t, h.CreateCheckout, account.ID, `{}`)
	if fb.created != 1 {
		t.Errorf("created %d customers after second checkout, want 1", fb.created)
	}
}

func TestBillingPortalRequiresCustomer(t *testing.T) {
	fb := &fakeBilling{}
	h, accounts, _ := setupSubscriptionTest(t, fb)
	account, _ := accounts.Create("bob@example.com")

	rec := postJSON(t, h.BillingPortal, account.ID, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 with no billing account", rec.Code)
	}

	cus := "cus_123"
	accounts.UpdateBillingState(account.ID, model.BillingUpdate{
		CustomerID:         &cus,
		SubscriptionStatus: model.StatusActive,
	})

	rec = postJSON(t, h.BillingPortal, account.ID, `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["url"] != "https://portal.example.com/session" {
		t.Errorf("unexpected portal url")
	}
}
