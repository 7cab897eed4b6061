package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mreyes/despacho/internal/pin"
	"github.com/mreyes/despacho/internal/store"
)

// PinHandler exposes the financial-PIN lock: verification, settings, and
// the token-based recovery flow.
type PinHandler struct {
	gate     *pin.Gate
	recovery *pin.Recovery
	accounts *store.AccountStore
	logger   *slog.Logger
}

func NewPinHandler(gate *pin.Gate, recovery *pin.Recovery, accounts *store.AccountStore, logger *slog.Logger) *PinHandler {
	return &PinHandler{gate: gate, recovery: recovery, accounts: accounts, logger: logger}
}

// Verify handles POST /finance-pin/verify. Clients that remembered the PIN
// locally resubmit it here on every load; there is no cached-unlock path.
func (h *PinHandler) Verify(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		PinAttempt string `json:"pinAttempt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.gate.ValidatePin(accountID, req.PinAttempt)
	if err != nil {
		h.logger.Error("validate pin", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]any{"verified": result.Verified}
	if result.Message != "" {
		resp["message"] = result.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

// Settings handles POST /finance-pin/settings with actions "toggle",
// "status", and "set_pin".
func (h *PinHandler) Settings(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		Action  string `json:"action"`
		Enabled *bool  `json:"enabled,omitempty"`
		NewPin  string `json:"newPin,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case "toggle":
		if req.Enabled == nil {
			writeError(w, http.StatusBadRequest, "enabled is required for toggle")
			return
		}
		result, err := h.gate.SetLockEnabled(accountID, *req.Enabled)
		if err != nil {
			h.logger.Error("toggle pin lock", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": result.Message,
			"enabled": result.Enabled,
		})

	case "status":
		enabled, hasPin, err := h.gate.Status(accountID)
		if err != nil {
			h.logger.Error("pin status", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"enabled": enabled,
			"hasPin":  hasPin,
		})

	case "set_pin":
		if err := h.gate.SetPin(accountID, req.NewPin); err != nil {
			if errors.Is(err, pin.ErrInvalidPinFormat) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.logger.Error("set pin", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "PIN updated",
		})

	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

// RequestReset handles POST /finance-pin/reset/request. The caller must
// hold a valid session; the token travels only by email.
func (h *PinHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())
	if accountID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	account, err := h.accounts.GetByID(accountID)
	if err != nil {
		h.logger.Error("get account", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	if err := h.recovery.RequestReset(account); err != nil {
		h.logger.Error("request pin reset", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to send reset email")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "A reset link has been sent to your email address",
	})
}

// VerifyResetToken handles POST /finance-pin/reset/verify. Public: the
// token is the only credential, and the answer is a bare boolean.
func (h *PinHandler) VerifyResetToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	valid, err := h.recovery.VerifyToken(req.Token)
	if err != nil {
		h.logger.Error("verify reset token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]any{"valid": valid}
	if !valid {
		resp["error"] = "invalid or expired token"
	}
	writeJSON(w, http.StatusOK, resp)
}

// CompleteReset handles POST /finance-pin/reset/complete.
func (h *PinHandler) CompleteReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string `json:"token"`
		NewPin string `json:"newPin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.recovery.CompleteReset(req.Token, req.NewPin)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "PIN updated"})
	case errors.Is(err, pin.ErrInvalidPinFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pin.ErrTokenNotFound), errors.Is(err, pin.ErrTokenExpired):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("complete pin reset", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
