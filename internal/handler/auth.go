package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/mreyes/despacho/internal/store"
)

const sessionCookieName = "despacho_session"

// LoginMailer is the slice of the email client the login flow needs.
type LoginMailer interface {
	Configured() bool
	SendLoginLink(toEmail, token string) error
}

// AuthHandler implements the magic-link session flow that fronts every
// authenticated endpoint.
type AuthHandler struct {
	accounts *store.AccountStore
	sessions *store.SessionStore
	mailer   LoginMailer
	logger   *slog.Logger
}

func NewAuthHandler(accounts *store.AccountStore, sessions *store.SessionStore, mailer LoginMailer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, sessions: sessions, mailer: mailer, logger: logger}
}

// Login accepts an email, finds or creates the account, and mails a
// sign-in link. The response is identical whether or not the account
// existed, to prevent enumeration.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	addr := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(addr); err != nil {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}

	account, err := h.accounts.GetByEmail(addr)
	if err != nil {
		h.logger.Error("get account", "error", err)
	}
	if account == nil {
		account, err = h.accounts.Create(addr)
		if err != nil {
			h.logger.Error("create account", "error", err)
			writeError(w, http.StatusInternalServerError, "unable to process request")
			return
		}
	}

	sess, err := h.sessions.Create(account.ID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to process request")
		return
	}

	if h.mailer != nil && h.mailer.Configured() {
		if err := h.mailer.SendLoginLink(addr, sess.Token); err != nil {
			h.logger.Error("send login link", "error", err)
		}
	} else {
		h.logger.Info("login link token generated", "email", addr, "token", sess.Token)
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Check your email for a sign-in link"})
}

// Verify redeems the emailed token and sets the session cookie.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid or expired link")
		return
	}

	sess, err := h.sessions.GetByToken(token)
	if err != nil || sess == nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired link")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Logout destroys the session and clears the cookie. With
// {"everywhere": true} it revokes every session the account holds, not just
// the calling one.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Everywhere bool `json:"everywhere"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		sess, err := h.sessions.GetByToken(cookie.Value)
		if err == nil && sess != nil {
			if req.Everywhere {
				if err := h.sessions.DeleteByAccountID(sess.AccountID); err != nil {
					h.logger.Error("delete account sessions", "error", err)
				}
			} else if err := h.sessions.Delete(sess.ID); err != nil {
				h.logger.Error("delete session", "error", err)
			}
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
