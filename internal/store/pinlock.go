package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mreyes/despacho/internal/model"
)

// ResetTokenTTL is how long a PIN recovery token stays redeemable.
const ResetTokenTTL = 30 * time.Minute

// PinLockStore owns the financial-PIN columns of the account record: the
// salted digest, the lock-enabled flag, and the single outstanding reset
// token slot.
type PinLockStore struct {
	db *sql.DB
}

func NewPinLockStore(db *sql.DB) *PinLockStore {
	return &PinLockStore{db: db}
}

// PinState is the read-side view the visibility gate works from.
type PinState struct {
	Hash        []byte
	LockEnabled bool
}

// HasPin reports whether a digest has ever been stored.
func (p PinState) HasPin() bool {
	return len(p.Hash) > 0
}

// GetPinState returns the PIN columns for an account, or nil if the account
// does not exist.
func (s *PinLockStore) GetPinState(accountID int64) (*PinState, error) {
	var state PinState
	var hash []byte
	var enabled int
	err := s.db.QueryRow(
		`SELECT pin_hash, pin_lock_enabled FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&hash, &enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pin state: %w", err)
	}
	state.Hash = hash
	state.LockEnabled = enabled != 0
	return &state, nil
}

func (s *PinLockStore) SetPinHash(accountID int64, digest []byte) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET pin_hash = ?, updated_at = datetime('now') WHERE id = ?`,
		digest, accountID,
	)
	if err != nil {
		return fmt.Errorf("set pin hash: %w", err)
	}
	return nil
}

func (s *PinLockStore) ClearPinHash(accountID int64) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET pin_hash = NULL, updated_at = datetime('now') WHERE id = ?`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("clear pin hash: %w", err)
	}
	return nil
}

func (s *PinLockStore) SetLockEnabled(accountID int64, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := s.db.Exec(
		`UPDATE accounts SET pin_lock_enabled = ?, updated_at = datetime('now') WHERE id = ?`,
		v, accountID,
	)
	if err != nil {
		return fmt.Errorf("set lock enabled: %w", err)
	}
	return nil
}

// IssueResetToken writes a fresh crypto-random token into the single token
// slot, overwriting any prior token so two valid tokens never coexist.
func (s *PinLockStore) IssueResetToken(accountID int64) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)
	expiresAt := time.Now().UTC().Add(ResetTokenTTL)

	result, err := s.db.Exec(
		`UPDATE accounts SET pin_reset_token = ?, pin_reset_expires_at = ?, updated_at = datetime('now') WHERE id = ?`,
		token, expiresAt, accountID,
	)
	if err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("store reset token: account %d not found", accountID)
	}
	return token, nil
}

// FindByResetToken looks up the account holding a token, expired or not.
// Returns nil if no account holds it.
func (s *PinLockStore) FindByResetToken(token string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE pin_reset_token = ?`, token)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by reset token: %w", err)
	}
	return a, nil
}

// ValidResetToken reports whether a token exists and has not expired. A
// single predicate covers both conditions so unknown and expired tokens
// take the same path.
func (s *PinLockStore) ValidResetToken(token string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM accounts WHERE pin_reset_token = ? AND pin_reset_expires_at > datetime('now')`,
		token,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check reset token: %w", err)
	}
	return true, nil
}

// ConsumeResetToken swaps in the new digest and clears the token slot in one
// statement. The WHERE clause re-checks validity, so a token consumed by a
// concurrent request makes this return false rather than double-applying.
func (s *PinLockStore) ConsumeResetToken(token string, newDigest []byte) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE accounts
		 SET pin_hash = ?, pin_reset_token = NULL, pin_reset_expires_at = NULL, updated_at = datetime('now')
		 WHERE pin_reset_token = ? AND pin_reset_expires_at > datetime('now')`,
		newDigest, token,
	)
	if err != nil {
		return false, fmt.Errorf("consume reset token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ClearExpiredResetTokens drops token slots past their expiry. Run from the
// hourly janitor.
func (s *PinLockStore) ClearExpiredResetTokens() (int64, error) {
	result, err := s.db.Exec(
		`UPDATE accounts
		 SET pin_reset_token = NULL, pin_reset_expires_at = NULL
		 WHERE pin_reset_token IS NOT NULL AND pin_reset_expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, fmt.Errorf("clear expired reset tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
