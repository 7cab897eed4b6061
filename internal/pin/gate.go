package pin

import (
	"fmt"
	"time"

	"github.com/mreyes/despacho/internal/store"
)

const (
	attemptLimit  = 5
	attemptWindow = 15 * time.Minute
)

// AttemptLimiter counts failed unlock attempts per key. The shared rate
// limiter satisfies this.
type AttemptLimiter interface {
	Allow(key string, limit int, window time.Duration) bool
	Reset(key string)
}

// VerifyResult is the outcome of one unlock attempt. Message is safe to
// show the caller: wrong PIN and no-PIN-set produce the same text so the
// response does not reveal account state.
type VerifyResult struct {
	Verified bool
	Message  string
}

// ToggleResult reports the lock state after a settings change.
type ToggleResult struct {
	Enabled bool
	HasPin  bool
	Message string
}

// Gate answers "is financial data visible right now" for an account. It
// holds no per-session unlock state: every check, including a client
// re-submitting a remembered PIN, goes through the same digest comparison.
type Gate struct {
	pins     *store.PinLockStore
	hasher   *Hasher
	attempts AttemptLimiter
}

func NewGate(pins *store.PinLockStore, hasher *Hasher, attempts AttemptLimiter) *Gate {
	return &Gate{pins: pins, hasher: hasher, attempts: attempts}
}

func attemptKey(accountID int64) string {
	return fmt.Sprintf("pin-attempt:%d", accountID)
}

// ValidatePin checks an unlock attempt. A malformed attempt is rejected
// before hashing; a disabled lock passes without touching the digest; a
// correct PIN clears the attempt counter.
func (g *Gate) ValidatePin(accountID int64, attempt string) (VerifyResult, error) {
	if !ValidFormat(attempt) {
		return VerifyResult{Verified: false, Message: "PIN must be exactly 4 digits"}, nil
	}

	state, err := g.pins.GetPinState(accountID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("validate pin: %w", err)
	}
	if state == nil {
		// Unknown account gets the same answer as a wrong PIN.
		return VerifyResult{Verified: false, Message: "Incorrect PIN"}, nil
	}

	if !state.LockEnabled {
		g.attempts.Reset(attemptKey(accountID))
		return VerifyResult{Verified: true}, nil
	}

	if !g.attempts.Allow(attemptKey(accountID), attemptLimit, attemptWindow) {
		return VerifyResult{Verified: false, Message: "Too many attempts, try again later"}, nil
	}

	if !state.HasPin() || !g.hasher.Verify(attempt, state.Hash) {
		return VerifyResult{Verified: false, Message: "Incorrect PIN"}, nil
	}

	g.attempts.Reset(attemptKey(accountID))
	return VerifyResult{Verified: true}, nil
}

// SetPin stores a new PIN digest for the account.
func (g *Gate) SetPin(accountID int64, newPin string) error {
	if !ValidFormat(newPin) {
		return ErrInvalidPinFormat
	}
	if err := g.pins.SetPinHash(accountID, g.hasher.Hash(newPin)); err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	return nil
}

// SetLockEnabled toggles the lock. Disabling when already disabled is a
// no-op that still reports success. Enabling with no PIN on file succeeds
// but leaves the account locked until SetPin is called; the message says so.
func (g *Gate) SetLockEnabled(accountID int64, enabled bool) (ToggleResult, error) {
	if err := g.pins.SetLockEnabled(accountID, enabled); err != nil {
		return ToggleResult{}, fmt.Errorf("toggle lock: %w", err)
	}
	state, err := g.pins.GetPinState(accountID)
	if err != nil {
		return ToggleResult{}, fmt.Errorf("toggle lock: %w", err)
	}
	if state == nil {
		return ToggleResult{}, fmt.Errorf("toggle lock: account %d not found", accountID)
	}

	res := ToggleResult{Enabled: state.LockEnabled, HasPin: state.HasPin()}
	switch {
	case !enabled:
		res.Message = "Financial data lock disabled"
	case state.HasPin():
		res.Message = "Financial data lock enabled"
	default:
		res.Message = "Financial data lock enabled; set a PIN to unlock"
	}
	return res, nil
}

// Status returns the current lock configuration for an account.
func (g *Gate) Status(accountID int64) (enabled, hasPin bool, err error) {
	state, err := g.pins.GetPinState(accountID)
	if err != nil {
		return false, false, fmt.Errorf("pin status: %w", err)
	}
	if state == nil {
		return false, false, fmt.Errorf("pin status: account %d not found", accountID)
	}
	return state.LockEnabled, state.HasPin(), nil
}
