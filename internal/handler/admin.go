package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mreyes/despacho/internal/store"
	"github.com/mreyes/despacho/internal/trial"
)

// AdminHandler exposes trial-lifecycle administration. Every action
// requires the caller to be the configured super-admin.
type AdminHandler struct {
	accounts   *store.AccountStore
	adminEmail string
	logger     *slog.Logger
}

func NewAdminHandler(accounts *store.AccountStore, adminEmail string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{accounts: accounts, adminEmail: adminEmail, logger: logger}
}

// Trial handles POST /admin/trial with actions "list_trial_users",
// "set_trial_expiration", and "remove_custom_expiration".
func (h *AdminHandler) Trial(w http.ResponseWriter, r *http.Request) {
	caller := h.requireAdmin(w, r)
	if caller == "" {
		return
	}

	var req struct {
		Action         string `json:"action"`
		UserID         int64  `json:"user_id,omitempty"`
		ExpirationDate string `json:"expiration_date,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case "list_trial_users":
		h.listTrialUsers(w)

	case "set_trial_expiration":
		expiresAt, err := parseExpirationDate(req.ExpirationDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expiration_date must be a valid date")
			return
		}
		if !h.accountExists(w, req.UserID) {
			return
		}
		if err := h.accounts.SetTrialOverride(req.UserID, expiresAt, caller); err != nil {
			h.logger.Error("set trial override", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"message":    "Trial expiration updated",
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
		})

	case "remove_custom_expiration":
		if !h.accountExists(w, req.UserID) {
			return
		}
		if err := h.accounts.ClearTrialOverride(req.UserID, caller); err != nil {
			h.logger.Error("clear trial override", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Custom trial expiration removed",
		})

	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (h *AdminHandler) listTrialUsers(w http.ResponseWriter) {
	accounts, err := h.accounts.ListTrialAccounts()
	if err != nil {
		h.logger.Error("list trial accounts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := time.Now().UTC()
	users := make([]map[string]any, 0, len(accounts))
	for _, a := range accounts {
		users = append(users, map[string]any{
			"user_id":        a.ID,
			"email":          a.Email,
			"created_at":     a.CreatedAt.UTC().Format(time.RFC3339),
			"trial_end":      trial.End(a).UTC().Format(time.RFC3339),
			"days_remaining": trial.DaysRemaining(a, now),
			"expired":        trial.Expired(a, now),
			"has_override":   a.TrialExpiresAt != nil,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": users})
}

// requireAdmin returns the caller's email when it matches the configured
// super-admin, or writes a 403 and returns "".
func (h *AdminHandler) requireAdmin(w http.ResponseWriter, r *http.Request) string {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return ""
	}
	account, err := h.accounts.GetByID(accountID)
	if err != nil {
		h.logger.Error("get account", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return ""
	}
	if account == nil || h.adminEmail == "" || !strings.EqualFold(account.Email, h.adminEmail) {
		writeError(w, http.StatusForbidden, "admin access required")
		return ""
	}
	return account.Email
}

func (h *AdminHandler) accountExists(w http.ResponseWriter, id int64) bool {
	if id == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return false
	}
	account, err := h.accounts.GetByID(id)
	if err != nil {
		h.logger.Error("get account", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return false
	}
	return true
}

// parseExpirationDate accepts RFC 3339 or a bare calendar date.
func parseExpirationDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
