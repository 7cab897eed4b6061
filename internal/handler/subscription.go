package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mreyes/despacho/internal/access"
	"github.com/mreyes/despacho/internal/billing"
	"github.com/mreyes/despacho/internal/model"
	"github.com/mreyes/despacho/internal/store"
)

// Provider calls get this long before we give up and report the failure.
const reconcileTimeout = 15 * time.Second

// CheckoutProvider is the slice of the billing client used for hosted
// checkout and portal sessions.
type CheckoutProvider interface {
	CreateCustomer(ctx context.Context, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID string) (string, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// SubscriptionHandler answers entitlement queries and runs on-demand
// billing reconciliation.
type SubscriptionHandler struct {
	accounts   *store.AccountStore
	resolver   *access.Resolver
	reconciler *billing.Reconciler
	checkout   CheckoutProvider
	adminEmail string
	logger     *slog.Logger
}

func NewSubscriptionHandler(
	accounts *store.AccountStore,
	resolver *access.Resolver,
	reconciler *billing.Reconciler,
	checkout CheckoutProvider,
	adminEmail string,
	logger *slog.Logger,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		accounts:   accounts,
		resolver:   resolver,
		reconciler: reconciler,
		checkout:   checkout,
		adminEmail: adminEmail,
		logger:     logger,
	}
}

// wireTier maps internal tiers onto the API's account_type vocabulary. The
// courtesy grant has always been called "amigo" on the wire.
func wireTier(t access.Tier) string {
	switch t {
	case access.TierCourtesy:
		return "amigo"
	case access.TierTrialActive:
		return "none"
	default:
		return string(t)
	}
}

// Status handles GET /subscription/status.
func (h *SubscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	account := h.callerAccount(w, r)
	if account == nil {
		return
	}

	decision := h.resolver.Resolve(account, time.Now().UTC())

	var periodEnd any
	if decision.PeriodEnd != nil {
		periodEnd = decision.PeriodEnd.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subscribed":          decision.Granted,
		"account_type":        wireTier(decision.Tier),
		"subscription_status": string(account.SubscriptionStatus),
		"current_period_end":  periodEnd,
		"message":             decision.Message,
	})
}

// Reconcile handles POST /billing/reconcile. The self path refreshes the
// caller's own account; the admin path targets any account by email.
func (h *SubscriptionHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "billing is not configured")
		return
	}
	caller := h.callerAccount(w, r)
	if caller == nil {
		return
	}

	var req struct {
		AdminAction bool   `json:"admin_action,omitempty"`
		EmailToFix  string `json:"email_to_fix,omitempty"`
	}
	if r.Body != nil {
		// Empty body means the self path.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	target := caller
	if req.AdminAction {
		if !strings.EqualFold(caller.Email, h.adminEmail) {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		if req.EmailToFix == "" {
			writeError(w, http.StatusBadRequest, "email_to_fix is required")
			return
		}
		var err error
		target, err = h.accounts.GetByEmail(strings.ToLower(strings.TrimSpace(req.EmailToFix)))
		if err != nil {
			h.logger.Error("get account", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if target == nil {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), reconcileTimeout)
	defer cancel()

	outcome, err := h.reconciler.Reconcile(ctx, target)
	if err != nil {
		h.logger.Error("reconcile billing", "account_id", target.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "billing provider error: "+err.Error())
		return
	}

	resp := map[string]any{
		"success": true,
		"status":  string(outcome.Status),
	}
	if outcome.SubscriptionID != "" {
		resp["subscription_id"] = outcome.SubscriptionID
	}
	if outcome.CurrentPeriodEnd != nil {
		resp["current_period_end"] = outcome.CurrentPeriodEnd.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateCheckout handles POST /api/checkout: ensures a provider customer
// exists and returns the hosted checkout URL.
func (h *SubscriptionHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		writeError(w, http.StatusServiceUnavailable, "billing is not configured")
		return
	}
	account := h.callerAccount(w, r)
	if account == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), reconcileTimeout)
	defer cancel()

	customerID := ""
	if account.StripeCustomerID != nil {
		customerID = *account.StripeCustomerID
	}
	if customerID == "" {
		var err error
		customerID, err = h.checkout.CreateCustomer(ctx, account.Email)
		if err != nil {
			h.logger.Error("create billing customer", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to create billing customer")
			return
		}
		if err := h.accounts.UpdateBillingState(account.ID, model.BillingUpdate{
			CustomerID:         &customerID,
			SubscriptionStatus: account.SubscriptionStatus,
			CurrentPeriodEnd:   account.CurrentPeriodEnd,
			PaymentFailedAt:    account.PaymentFailedAt,
			PaymentRecoveredAt: account.PaymentRecoveredAt,
			CanceledAt:         account.CanceledAt,
		}); err != nil {
			h.logger.Error("store billing customer", "error", err)
		}
	}

	url, err := h.checkout.CreateCheckoutSession(ctx, customerID)
	if err != nil {
		h.logger.Error("create checkout session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create checkout session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// BillingPortal handles POST /api/billing-portal.
func (h *SubscriptionHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		writeError(w, http.StatusServiceUnavailable, "billing is not configured")
		return
	}
	account := h.callerAccount(w, r)
	if account == nil {
		return
	}
	if account.StripeCustomerID == nil {
		writeError(w, http.StatusBadRequest, "no billing account")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), reconcileTimeout)
	defer cancel()

	returnURL := r.Header.Get("Referer")
	if returnURL == "" {
		returnURL = "/account"
	}
	url, err := h.checkout.CreateBillingPortalSession(ctx, *account.StripeCustomerID, returnURL)
	if err != nil {
		h.logger.Error("create billing portal session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create billing portal session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *SubscriptionHandler) callerAccount(w http.ResponseWriter, r *http.Request) *model.Account {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil
	}
	account, err := h.accounts.GetByID(accountID)
	if err != nil {
		h.logger.Error("get account", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return nil
	}
	return account
}
