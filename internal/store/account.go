package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mreyes/despacho/internal/model"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var (
		courtesy        int
		trialExpires    sql.NullTime
		overrideBy      sql.NullString
		overrideAt      sql.NullTime
		customerID      sql.NullString
		subStatus       sql.NullString
		periodEnd       sql.NullTime
		paymentFailed   sql.NullTime
		paymentRecov    sql.NullTime
		canceledAt      sql.NullTime
		pinHash         []byte
		pinLockEnabled  int
		resetToken      sql.NullString
		resetExpiresAt  sql.NullTime
	)

	err := scanner.Scan(
		&a.ID, &a.Email, &courtesy, &trialExpires, &overrideBy, &overrideAt,
		&customerID, &subStatus, &periodEnd, &paymentFailed, &paymentRecov, &canceledAt,
		&pinHash, &pinLockEnabled, &resetToken, &resetExpiresAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.CourtesyAccess = courtesy != 0
	a.PinLockEnabled = pinLockEnabled != 0
	a.PinHash = pinHash
	if trialExpires.Valid {
		a.TrialExpiresAt = &trialExpires.Time
	}
	if overrideBy.Valid {
		a.TrialOverrideBy = &overrideBy.String
	}
	if overrideAt.Valid {
		a.TrialOverrideAt = &overrideAt.Time
	}
	if customerID.Valid {
		a.StripeCustomerID = &customerID.String
	}
	if subStatus.Valid {
		a.SubscriptionStatus = model.SubscriptionStatus(subStatus.String)
	}
	if periodEnd.Valid {
		a.CurrentPeriodEnd = &periodEnd.Time
	}
	if paymentFailed.Valid {
		a.PaymentFailedAt = &paymentFailed.Time
	}
	if paymentRecov.Valid {
		a.PaymentRecoveredAt = &paymentRecov.Time
	}
	if canceledAt.Valid {
		a.CanceledAt = &canceledAt.Time
	}
	if resetToken.Valid {
		a.PinResetToken = &resetToken.String
	}
	if resetExpiresAt.Valid {
		a.PinResetExpiresAt = &resetExpiresAt.Time
	}
	return &a, nil
}

const accountCols = `id, email, courtesy_access, trial_expires_at, trial_override_by, trial_override_at,
	stripe_customer_id, subscription_status, current_period_end, payment_failed_at, payment_recovered_at, canceled_at,
	pin_hash, pin_lock_enabled, pin_reset_token, pin_reset_expires_at, created_at, updated_at`

func (s *AccountStore) Create(email string) (*model.Account, error) {
	result, err := s.db.Exec(
		`INSERT INTO accounts (email) VALUES (?)`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *AccountStore) GetByID(id int64) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(email string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

// SetCourtesyAccess grants or revokes the indefinite free-access flag.
func (s *AccountStore) SetCourtesyAccess(id int64, granted bool) error {
	v := 0
	if granted {
		v = 1
	}
	_, err := s.db.Exec(
		`UPDATE accounts SET courtesy_access = ?, updated_at = datetime('now') WHERE id = ?`,
		v, id,
	)
	if err != nil {
		return fmt.Errorf("set courtesy access: %w", err)
	}
	return nil
}

// SetTrialOverride pins the trial expiration to an explicit instant and
// audit-stamps the acting admin.
func (s *AccountStore) SetTrialOverride(id int64, expiresAt time.Time, adminEmail string) error {
	_, err := s.db.Exec(
		`UPDATE accounts
		 SET trial_expires_at = ?, trial_override_by = ?, trial_override_at = datetime('now'), updated_at = datetime('now')
		 WHERE id = ?`,
		expiresAt.UTC(), adminEmail, id,
	)
	if err != nil {
		return fmt.Errorf("set trial override: %w", err)
	}
	return nil
}

// ClearTrialOverride reverts the account to the default trial formula. The
// audit stamp records who cleared it.
func (s *AccountStore) ClearTrialOverride(id int64, adminEmail string) error {
	_, err := s.db.Exec(
		`UPDATE accounts
		 SET trial_expires_at = NULL, trial_override_by = ?, trial_override_at = datetime('now'), updated_at = datetime('now')
		 WHERE id = ?`,
		adminEmail, id,
	)
	if err != nil {
		return fmt.Errorf("clear trial override: %w", err)
	}
	return nil
}

// UpdateBillingState applies one reconciliation outcome in a single
// statement so the customer ref and subscription status cannot drift apart.
func (s *AccountStore) UpdateBillingState(id int64, u model.BillingUpdate) error {
	var customerID sql.NullString
	if u.CustomerID != nil {
		customerID = sql.NullString{String: *u.CustomerID, Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE accounts
		 SET stripe_customer_id = ?, subscription_status = ?, current_period_end = ?,
		     payment_failed_at = ?, payment_recovered_at = ?, canceled_at = ?,
		     updated_at = datetime('now')
		 WHERE id = ?`,
		customerID, string(u.SubscriptionStatus), nullTime(u.CurrentPeriodEnd),
		nullTime(u.PaymentFailedAt), nullTime(u.PaymentRecoveredAt), nullTime(u.CanceledAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("update billing state: %w", err)
	}
	return nil
}

// ListTrialAccounts returns accounts with no courtesy grant and no live
// subscription, i.e. everyone whose access rides on the trial clock.
func (s *AccountStore) ListTrialAccounts() ([]*model.Account, error) {
	rows, err := s.db.Query(
		`SELECT ` + accountCols + ` FROM accounts
		 WHERE courtesy_access = 0
		   AND subscription_status NOT IN ('active', 'trialing')
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list trial accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trial account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trial accounts: %w", err)
	}
	return accounts, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
