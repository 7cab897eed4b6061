package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mreyes/despacho/internal/database"
	"github.com/mreyes/despacho/internal/pin"
	"github.com/mreyes/despacho/internal/store"
)

// attemptCounter stands in for the shared rate limiter behind pin.AttemptLimiter.
type attemptCounter struct {
	counts map[string]int
}

func (c *attemptCounter) Allow(key string, limit int, window time.Duration) bool {
	c.counts[key]++
	return c.counts[key] <= limit
}

func (c *attemptCounter) Reset(key string) {
	delete(c.counts, key)
}

type recordingMailer struct {
	lastToken string
}

func (m *recordingMailer) Configured() bool { return true }

func (m *recordingMailer) SendPinReset(toEmail, token string) error {
	m.lastToken = token
	return nil
}

func setupPinHandlerTest(t *testing.T) (*PinHandler, *recordingMailer, int64) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	accounts := store.NewAccountStore(db)
	account, err := accounts.Create("alice@example.com")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	pins := store.NewPinLockStore(db)
	hasher := pin.NewHasher("test-salt")
	gate := pin.NewGate(pins, hasher, &attemptCounter{counts: make(map[string]int)})
	mailer := &recordingMailer{}
	recovery := pin.NewRecovery(pins, hasher, mailer, slog.Default())
	return NewPinHandler(gate, recovery, accounts, slog.Default()), mailer, account.ID
}

// postJSON issues an authenticated POST with the given JSON body.
func postJSON(t *testing.T, h http.HandlerFunc, accountID int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("POST", "/", strings.NewReader(body))
	if accountID != 0 {
		r = r.WithContext(WithAccountID(r.Context(), accountID))
	}
	rec := httptest.NewRecorder()
	h(rec, r)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

func TestPinVerifyEndpoint(t *testing.T) {
	h, _, id := setupPinHandlerTest(t)

	postJSON(t, h.Settings, id, `{"action":"set_pin","newPin":"1234"}`)

	rec := postJSON(t, h.Verify, id, `{"pinAttempt":"1234"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["verified"] != true {
		t.Errorf("verified = %v, want true", body["verified"])
	}

	rec = postJSON(t, h.Verify, id, `{"pinAttempt":"0000"}`)
	body = decodeBody(t, rec)
	if body["verified"] != false {
		t.Errorf("verified = %v, want false", body["verified"])
	}
	if body["message"] != "Incorrect PIN" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestPinVerifyRequiresSession(t *testing.T) {
	h, _, _ := setupPinHandlerTest(t)

	rec := postJSON(t, h.Verify, 0, `{"pinAttempt":"1234"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestPinSettingsStatusAndToggle(t *testing.T) {
	h, _, id := setupPinHandlerTest(t)

	rec := postJSON(t, h.Settings, id, `{"action":"status"}`)
	body := decodeBody(t, rec)
	if body["enabled"] != true || body["hasPin"] != false {
		t.Errorf("status body = %v", body)
	}

	rec = postJSON(t, h.Settings, id, `{"action":"toggle","enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["enabled"] != false {
		t.Errorf("toggle body = %v", body)
	}

	rec = postJSON(t, h.Settings, id, `{"action":"toggle"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("toggle without enabled: status = %d, want 400", rec.Code)
	}

	rec = postJSON(t, h.Settings, id, `{"action":"frobnicate"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown action: status = %d, want 400", rec.Code)
	}
}

func TestPinSettingsSetPinRejectsBadFormat(t *testing.T) {
	h, _, id := setupPinHandlerTest(t)

	rec := postJSON(t, h.Settings, id, `{"action":"set_pin","newPin":"12"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPinResetFlowOverHTTP(t *testing.T) {
	h, mailer, id := setupPinHandlerTest(t)

	rec := postJSON(t, h.RequestReset, id, `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("request reset status = %d", rec.Code)
	}
	if mailer.lastToken == "" {
		t.Fatal("no token was mailed")
	}

	rec = postJSON(t, h.VerifyResetToken, 0, `{"token":"`+mailer.lastToken+`"}`)
	body := decodeBody(t, rec)
	if body["valid"] != true {
		t.Fatalf("verify body = %v", body)
	}

	rec = postJSON(t, h.CompleteReset, 0, `{"token":"`+mailer.lastToken+`","newPin":"4321"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d: %s", rec.Code, rec.Body.String())
	}

	// The consumed token reads as not found.
	rec = postJSON(t, h.CompleteReset, 0, `{"token":"`+mailer.lastToken+`","newPin":"9999"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("reuse status = %d, want 404", rec.Code)
	}

	rec = postJSON(t, h.Verify, id, `{"pinAttempt":"4321"}`)
	if decodeBody(t, rec)["verified"] != true {
		t.Error("new PIN should verify after reset")
	}
}

func TestPinVerifyResetTokenInvalid(t *testing.T) {
	h, _, _ := setupPinHandlerTest(t)

	rec := postJSON(t, h.VerifyResetToken, 0, `{"token":"bogus"}`)
	body := decodeBody(t, rec)
	if body["valid"] != false {
		t.Errorf("body = %v, want valid=false", body)
	}
	if body["error"] != "invalid or expired token" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestPinCompleteResetBadFormat(t *testing.T) {
	h, mailer, id := setupPinHandlerTest(t)

	postJSON(t, h.RequestReset, id, `{}`)
	rec := postJSON(t, h.CompleteReset, 0, `{"token":"`+mailer.lastToken+`","newPin":"abc"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPinRequestResetRequiresSession(t *testing.T) {
	h, _, _ := setupPinHandlerTest(t)

	rec := postJSON(t, h.RequestReset, 0, `{}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
