package pin

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mreyes/despacho/internal/model"
	"github.com/mreyes/despacho/internal/store"
)

var (
	// ErrTokenNotFound means no account holds the presented reset token.
	ErrTokenNotFound = errors.New("reset token not found")
	// ErrTokenExpired means the token exists but its window has closed.
	ErrTokenExpired = errors.New("reset token expired")
)

// Mailer dispatches the recovery email. The Postmark client satisfies this.
type Mailer interface {
	Configured() bool
	SendPinReset(toEmail, token string) error
}

// Recovery issues, verifies, and consumes single-use PIN reset tokens.
// Requesting a reset requires an authenticated session; verify and complete
// are reachable with only the token itself.
type Recovery struct {
	pins   *store.PinLockStore
	hasher *Hasher
	mailer Mailer
	logger *slog.Logger
}

func NewRecovery(pins *store.PinLockStore, hasher *Hasher, mailer Mailer, logger *slog.Logger) *Recovery {
	return &Recovery{pins: pins, hasher: hasher, mailer: mailer, logger: logger}
}

// RequestReset issues a fresh token for the account, superseding any prior
// one, and emails the recovery link. The token value is never returned to
// the requesting client.
func (r *Recovery) RequestReset(account *model.Account) error {
	token, err := r.pins.IssueResetToken(account.ID)
	if err != nil {
		return fmt.Errorf("request reset: %w", err)
	}

	if r.mailer != nil && r.mailer.Configured() {
		if err := r.mailer.SendPinReset(account.Email, token); err != nil {
			return fmt.Errorf("send reset email: %w", err)
		}
	} else {
		// The token value itself never goes to the log.
		r.logger.Info("pin reset token issued, email not configured", "email", account.Email)
	}
	return nil
}

// VerifyToken reports whether a token is currently redeemable. Unknown and
// expired tokens share a single store predicate, so the caller learns only
// the boolean.
func (r *Recovery) VerifyToken(token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	valid, err := r.pins.ValidResetToken(token)
	if err != nil {
		return false, fmt.Errorf("verify reset token: %w", err)
	}
	return valid, nil
}

// CompleteReset stores the new PIN digest and clears the token in one
// atomic store operation. The store's check-and-clear re-validates the
// token, so a concurrently consumed or just-expired token fails cleanly
// with no partial write.
func (r *Recovery) CompleteReset(token, newPin string) error {
	if !ValidFormat(newPin) {
		return ErrInvalidPinFormat
	}

	digest := r.hasher.Hash(newPin)
	consumed, err := r.pins.ConsumeResetToken(token, digest)
	if err != nil {
		return fmt.Errorf("complete reset: %w", err)
	}
	if consumed {
		return nil
	}

	// Classify the failure for the error taxonomy. The token may have been
	// consumed, superseded, or timed out between checks; look again.
	account, err := r.pins.FindByResetToken(token)
	if err != nil {
		return fmt.Errorf("complete reset: %w", err)
	}
	if account == nil {
		return ErrTokenNotFound
	}
	if account.PinResetExpiresAt != nil && time.Now().UTC().After(*account.PinResetExpiresAt) {
		return ErrTokenExpired
	}
	return ErrTokenNotFound
}
