/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Wallet and transaction mutations run inside WithTx on a single pgx transaction; the
 * remaining methods are single statements against the pool.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC columns are scanned into decimals.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// limitArg turns a non-positive limit into NULL, which Postgres reads as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (r *PostgresRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- wallets ---

const walletColumns = `id, owner_id, balance, currency, is_active, is_locked, daily_total, daily_count,
	daily_reset_date, paystack_customer_code, dedicated_account_number, dedicated_account_bank,
	created_at, updated_at`

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var (
		w          domain.Wallet
		balance    decimal.Decimal
		dailyTotal decimal.Decimal
		currency   string
	)
	err := row.Scan(&w.ID, &w.OwnerID, &balance, &currency, &w.IsActive, &w.IsLocked, &dailyTotal, &w.DailyCount,
		&w.DailyResetDate, &w.PaystackCustomerCode, &w.DedicatedAccountNumber, &w.DedicatedAccountBank,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	currency = strings.TrimSpace(currency)
	w.Balance = domain.Money{Amount: balance, Currency: currency}
	w.DailyTotal = domain.Money{Amount: dailyTotal, Currency: currency}
	return &w, nil
}

func (r *PostgresRepository) GetOrCreateWallet(ctx context.Context, ownerID string, currency string, now time.Time) (*domain.Wallet, error) {
	w := domain.NewWallet(ownerID, currency, now)
	query := `
		INSERT INTO wallets (id, owner_id, balance, currency, is_active, is_locked, daily_total, daily_count, daily_reset_date, created_at, updated_at)
		VALUES ($1, $2, 0, $3, TRUE, FALSE, 0, 0, $4, $5, $5)
		ON CONFLICT (owner_id) DO NOTHING`
	if _, err := r.db.Exec(ctx, query, w.ID, ownerID, w.Currency(), w.DailyResetDate, now); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return r.FindWalletByOwner(ctx, ownerID)
}

func (r *PostgresRepository) FindWalletByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	return scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
}

func (r *PostgresRepository) FindWalletByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	return scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, ownerID))
}

func (r *PostgresRepository) FindWalletByDedicatedAccount(ctx context.Context, accountNumber string) (*domain.Wallet, error) {
	return scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE dedicated_account_number = $1`, accountNumber))
}

func (r *PostgresRepository) ResetDailyCounters(ctx context.Context, today time.Time, now time.Time) (int64, error) {
	query := `
		UPDATE wallets
		SET daily_total = 0, daily_count = 0, daily_reset_date = $1, updated_at = $2
		WHERE daily_reset_date < $1`
	tag, err := r.db.Exec(ctx, query, today, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) DeactivateWalletInstruments(ctx context.Context, walletID uuid.UUID, now time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	statements := []string{
		`UPDATE bank_accounts SET is_active = FALSE, is_default = FALSE, updated_at = $2 WHERE wallet_id = $1 AND is_active`,
		`UPDATE cards SET is_active = FALSE, updated_at = $2 WHERE wallet_id = $1 AND is_active`,
		`UPDATE settlement_schedules SET is_active = FALSE, next_run = NULL, updated_at = $2 WHERE wallet_id = $1 AND is_active`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, walletID, now); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// --- transactions ---

const transactionColumns = `id, wallet_id, type, status, amount, fee, currency, reference, external_reference,
	recipient_wallet_id, bank_account_id, card_id, related_transaction_id, schedule_id, channel, description,
	metadata, failure_reason, created_at, updated_at, completed_at`

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t        domain.Transaction
		amount   decimal.Decimal
		fee      decimal.Decimal
		currency string
		metadata []byte
	)
	err := row.Scan(&t.ID, &t.WalletID, &t.Type, &t.Status, &amount, &fee, &currency, &t.Reference, &t.ExternalReference,
		&t.RecipientWalletID, &t.BankAccountID, &t.CardID, &t.RelatedTransactionID, &t.ScheduleID, &t.Channel, &t.Description,
		&metadata, &t.FailureReason, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	currency = strings.TrimSpace(currency)
	t.Amount = domain.Money{Amount: amount, Currency: currency}
	t.Fee = domain.Money{Amount: fee, Currency: currency}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for transaction %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func encodeMetadata(md map[string]any) ([]byte, error) {
	if md == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(md)
}

func (r *PostgresRepository) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference))
}

func (r *PostgresRepository) FindTransactionByExternalReference(ctx context.Context, externalReference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_reference = $1 ORDER BY created_at DESC LIMIT 1`
	return scanTransaction(r.db.QueryRow(ctx, query, externalReference))
}

func (r *PostgresRepository) ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	var typeFilter, statusFilter any
	if opts.Type != nil {
		typeFilter = string(*opts.Type)
	}
	if opts.Status != nil {
		statusFilter = string(*opts.Status)
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE wallet_id = $1
		  AND ($2::text IS NULL OR type = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC, reference DESC
		LIMIT $4 OFFSET $5`
	rows, err := r.db.Query(ctx, query, walletID, typeFilter, statusFilter, limitArg(opts.Limit), max(opts.Offset, 0))
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *PostgresRepository) ListStalePendingTransactions(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, createdBefore, limitArg(limit))
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *PostgresRepository) SetTransactionExternalReference(ctx context.Context, id uuid.UUID, externalReference string, now time.Time) error {
	query := `
		UPDATE transactions
		SET external_reference = COALESCE(external_reference, $2),
		    updated_at = CASE WHEN external_reference IS NULL THEN $3 ELSE updated_at END
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, externalReference, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// --- bank accounts ---

const bankAccountColumns = `id, wallet_id, bank_code, bank_name, account_number, account_name, recipient_code,
	is_verified, is_default, is_active, created_at, updated_at`

func scanBankAccount(row rowScanner) (*domain.BankAccount, error) {
	var b domain.BankAccount
	err := row.Scan(&b.ID, &b.WalletID, &b.BankCode, &b.BankName, &b.AccountNumber, &b.AccountName, &b.RecipientCode,
		&b.IsVerified, &b.IsDefault, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrBankAccountNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *PostgresRepository) CreateBankAccount(ctx context.Context, account *domain.BankAccount) error {
	query := `
		INSERT INTO bank_accounts (` + bankAccountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.Exec(ctx, query, account.ID, account.WalletID, account.BankCode, account.BankName, account.AccountNumber,
		account.AccountName, account.RecipientCode, account.IsVerified, account.IsDefault, account.IsActive,
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrBankAccountExists
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) FindBankAccountByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error) {
	return scanBankAccount(r.db.QueryRow(ctx, `SELECT `+bankAccountColumns+` FROM bank_accounts WHERE id = $1`, id))
}

func (r *PostgresRepository) ListBankAccountsByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.BankAccount, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bankAccountColumns+` FROM bank_accounts WHERE wallet_id = $1 ORDER BY created_at ASC`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.BankAccount
	for rows.Next() {
		b, err := scanBankAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SetDefaultBankAccount(ctx context.Context, walletID uuid.UUID, accountID uuid.UUID, now time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bank_accounts WHERE id = $1 AND wallet_id = $2)`, accountID, walletID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrBankAccountNotFound
	}
	query := `
		UPDATE bank_accounts
		SET is_default = (id = $2), updated_at = $3
		WHERE wallet_id = $1 AND is_default <> (id = $2)`
	if _, err := tx.Exec(ctx, query, walletID, accountID, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- cards ---

const cardColumns = `id, wallet_id, last4, bin, brand, exp_month, exp_year, bank, authorization_code, signature,
	reusable, is_default, is_active, created_at, updated_at`

func scanCard(row rowScanner) (*domain.Card, error) {
	var c domain.Card
	err := row.Scan(&c.ID, &c.WalletID, &c.Last4, &c.Bin, &c.Brand, &c.ExpMonth, &c.ExpYear, &c.Bank, &c.AuthorizationCode,
		&c.Signature, &c.Reusable, &c.IsDefault, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrCardNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpsertCard inserts the card, or refreshes the saved card with the same signature on the
// wallet. card.ID, CreatedAt and IsDefault are updated to the stored row.
func (r *PostgresRepository) UpsertCard(ctx context.Context, card *domain.Card) error {
	query := `
		INSERT INTO cards (` + cardColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (wallet_id, signature) WHERE signature <> '' DO UPDATE
		SET authorization_code = EXCLUDED.authorization_code,
		    exp_month = EXCLUDED.exp_month,
		    exp_year = EXCLUDED.exp_year,
		    reusable = EXCLUDED.reusable,
		    bank = EXCLUDED.bank,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, is_default`
	return r.db.QueryRow(ctx, query, card.ID, card.WalletID, card.Last4, card.Bin, card.Brand, card.ExpMonth, card.ExpYear,
		card.Bank, card.AuthorizationCode, card.Signature, card.Reusable, card.IsDefault, card.IsActive,
		card.CreatedAt, card.UpdatedAt).Scan(&card.ID, &card.CreatedAt, &card.IsDefault)
}

func (r *PostgresRepository) FindCardByID(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	return scanCard(r.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, id))
}

func (r *PostgresRepository) ListCardsByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.Card, error) {
	rows, err := r.db.Query(ctx, `SELECT `+cardColumns+` FROM cards WHERE wallet_id = $1 ORDER BY created_at ASC`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// --- settlement schedules ---

const scheduleColumns = `id, wallet_id, bank_account_id, schedule_type, day_of_week, day_of_month, time_of_day,
	currency, minimum_amount, maximum_amount, amount_threshold, last_run, next_run, is_active, created_at, updated_at`

func scanSchedule(row rowScanner) (*domain.SettlementSchedule, error) {
	var (
		s         domain.SettlementSchedule
		currency  string
		minimum   decimal.Decimal
		maximum   decimal.NullDecimal
		threshold decimal.NullDecimal
	)
	err := row.Scan(&s.ID, &s.WalletID, &s.BankAccountID, &s.Type, &s.DayOfWeek, &s.DayOfMonth, &s.TimeOfDay,
		&currency, &minimum, &maximum, &threshold, &s.LastRun, &s.NextRun, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, err
	}
	currency = strings.TrimSpace(currency)
	s.MinimumAmount = domain.Money{Amount: minimum, Currency: currency}
	if maximum.Valid {
		s.MaximumAmount = &domain.Money{Amount: maximum.Decimal, Currency: currency}
	}
	if threshold.Valid {
		s.AmountThreshold = &domain.Money{Amount: threshold.Decimal, Currency: currency}
	}
	return &s, nil
}

func collectSchedules(rows pgx.Rows) ([]domain.SettlementSchedule, error) {
	defer rows.Close()
	var out []domain.SettlementSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func optionalAmount(m *domain.Money) decimal.NullDecimal {
	if m == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(m.Amount)
}

func (r *PostgresRepository) CreateSettlementSchedule(ctx context.Context, s *domain.SettlementSchedule) error {
	query := `
		INSERT INTO settlement_schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.db.Exec(ctx, query, s.ID, s.WalletID, s.BankAccountID, string(s.Type), s.DayOfWeek, s.DayOfMonth, s.TimeOfDay,
		s.MinimumAmount.Currency, s.MinimumAmount.Amount, optionalAmount(s.MaximumAmount), optionalAmount(s.AmountThreshold),
		s.LastRun, s.NextRun, s.IsActive, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *PostgresRepository) UpdateSettlementSchedule(ctx context.Context, s *domain.SettlementSchedule) error {
	query := `
		UPDATE settlement_schedules
		SET bank_account_id = $2, schedule_type = $3, day_of_week = $4, day_of_month = $5, time_of_day = $6,
		    minimum_amount = $7, maximum_amount = $8, amount_threshold = $9, last_run = $10, next_run = $11,
		    is_active = $12, updated_at = $13
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, s.ID, s.BankAccountID, string(s.Type), s.DayOfWeek, s.DayOfMonth, s.TimeOfDay,
		s.MinimumAmount.Amount, optionalAmount(s.MaximumAmount), optionalAmount(s.AmountThreshold),
		s.LastRun, s.NextRun, s.IsActive, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (r *PostgresRepository) FindSettlementScheduleByID(ctx context.Context, id uuid.UUID) (*domain.SettlementSchedule, error) {
	return scanSchedule(r.db.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM settlement_schedules WHERE id = $1`, id))
}

func (r *PostgresRepository) ListSettlementSchedulesByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.SettlementSchedule, error) {
	rows, err := r.db.Query(ctx, `SELECT `+scheduleColumns+` FROM settlement_schedules WHERE wallet_id = $1 ORDER BY created_at ASC`, walletID)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *PostgresRepository) ListDueSettlementSchedules(ctx context.Context, now time.Time, limit int) ([]domain.SettlementSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM settlement_schedules
		WHERE is_active
		  AND schedule_type IN ('daily', 'weekly', 'monthly')
		  AND next_run IS NOT NULL AND next_run <= $1
		ORDER BY next_run ASC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limitArg(limit))
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *PostgresRepository) ListActiveThresholdSchedules(ctx context.Context, walletID uuid.UUID) ([]domain.SettlementSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM settlement_schedules
		WHERE wallet_id = $1 AND is_active AND schedule_type = 'threshold'`
	rows, err := r.db.Query(ctx, query, walletID)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *PostgresRepository) ListReachedThresholdSchedules(ctx context.Context, limit int) ([]domain.SettlementSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM settlement_schedules s
		WHERE s.is_active
		  AND s.schedule_type = 'threshold'
		  AND s.amount_threshold IS NOT NULL
		  AND EXISTS (
			SELECT 1 FROM wallets w
			WHERE w.id = s.wallet_id AND w.is_active AND NOT w.is_locked AND w.balance >= s.amount_threshold
		  )
		ORDER BY s.created_at ASC
		LIMIT $1`
	rows, err := r.db.Query(ctx, query, limitArg(limit))
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *PostgresRepository) RecordSettlementRun(ctx context.Context, id uuid.UUID, lastRun *time.Time, nextRun *time.Time, now time.Time) error {
	query := `
		UPDATE settlement_schedules
		SET last_run = COALESCE($2, last_run), next_run = $3, updated_at = $4
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, lastRun, nextRun, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

// --- webhook events ---

const webhookColumns = `id, event_type, reference, payload, signature_valid, status, attempts, failure_reason,
	transaction_id, next_attempt_at, received_at, processed_at, updated_at`

func scanWebhookEvent(row rowScanner) (*domain.WebhookEvent, error) {
	var (
		e       domain.WebhookEvent
		payload []byte
	)
	err := row.Scan(&e.ID, &e.EventType, &e.Reference, &payload, &e.SignatureValid, &e.Status, &e.Attempts, &e.FailureReason,
		&e.TransactionID, &e.NextAttemptAt, &e.ReceivedAt, &e.ProcessedAt, &e.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrWebhookEventNotFound
		}
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	return &e, nil
}

func payloadArg(payload json.RawMessage) []byte {
	if len(payload) == 0 || !json.Valid(payload) {
		// Unparseable bodies are kept as a JSON string so the row still round-trips.
		encoded, _ := json.Marshal(string(payload))
		return encoded
	}
	return payload
}

func (r *PostgresRepository) CreateWebhookEvent(ctx context.Context, e *domain.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (` + webhookColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.db.Exec(ctx, query, e.ID, e.EventType, e.Reference, payloadArg(e.Payload), e.SignatureValid, string(e.Status),
		e.Attempts, e.FailureReason, e.TransactionID, e.NextAttemptAt, e.ReceivedAt, e.ProcessedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEvent
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) UpdateWebhookEvent(ctx context.Context, e *domain.WebhookEvent) error {
	query := `
		UPDATE webhook_events
		SET status = $2, attempts = $3, failure_reason = $4, transaction_id = $5, next_attempt_at = $6,
		    processed_at = $7, updated_at = $8
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, e.ID, string(e.Status), e.Attempts, e.FailureReason, e.TransactionID, e.NextAttemptAt,
		e.ProcessedAt, e.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWebhookEventNotFound
	}
	return nil
}

func (r *PostgresRepository) FindWebhookEventByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	return scanWebhookEvent(r.db.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhook_events WHERE id = $1`, id))
}

func (r *PostgresRepository) FindWebhookEvent(ctx context.Context, reference string, eventType string) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_events WHERE reference = $1 AND event_type = $2 AND signature_valid`
	return scanWebhookEvent(r.db.QueryRow(ctx, query, reference, eventType))
}

func (r *PostgresRepository) ListRetryableWebhookEvents(ctx context.Context, receivedBefore time.Time, now time.Time, maxAttempts int, limit int) ([]domain.WebhookEvent, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhook_events
		WHERE signature_valid
		  AND status IN ('received', 'failed')
		  AND attempts < $3
		  AND received_at < $1
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		ORDER BY received_at ASC
		LIMIT $4`
	rows, err := r.db.Query(ctx, query, receivedBefore, now, maxAttempts, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// pgTx implements Tx on top of a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockWallets(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Wallet, error) {
	out := make(map[uuid.UUID]*domain.Wallet, len(ids))
	for _, id := range SortedWalletIDs(ids) {
		w, err := scanWallet(t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, domain.ErrWalletNotFound) {
				return nil, fmt.Errorf("%w: %s", domain.ErrWalletNotFound, id)
			}
			return nil, err
		}
		out[id] = w
	}
	return out, nil
}

func (t *pgTx) SaveWallet(ctx context.Context, w *domain.Wallet) error {
	query := `
		UPDATE wallets
		SET balance = $2, is_active = $3, is_locked = $4, daily_total = $5, daily_count = $6, daily_reset_date = $7,
		    paystack_customer_code = $8, dedicated_account_number = $9, dedicated_account_bank = $10, updated_at = $11
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, query, w.ID, w.Balance.Amount, w.IsActive, w.IsLocked, w.DailyTotal.Amount, w.DailyCount,
		w.DailyResetDate, w.PaystackCustomerCode, w.DedicatedAccountNumber, w.DedicatedAccountBank, w.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

func (t *pgTx) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	metadata, err := encodeMetadata(txn.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	_, err = t.tx.Exec(ctx, query, txn.ID, txn.WalletID, string(txn.Type), string(txn.Status), txn.Amount.Amount, txn.Fee.Amount,
		txn.Amount.Currency, txn.Reference, txn.ExternalReference, txn.RecipientWalletID, txn.BankAccountID, txn.CardID,
		txn.RelatedTransactionID, txn.ScheduleID, txn.Channel, txn.Description, metadata, txn.FailureReason,
		txn.CreatedAt, txn.UpdatedAt, txn.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("duplicate transaction reference %s: %w", txn.Reference, err)
		}
		return err
	}
	return nil
}

func (t *pgTx) LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) LockTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	return scanTransaction(t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1 FOR UPDATE`, reference))
}

func (t *pgTx) UpdateTransactionStatus(ctx context.Context, txn *domain.Transaction, from domain.TransactionStatus) error {
	metadata, err := encodeMetadata(txn.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	query := `
		UPDATE transactions
		SET status = $3, fee = $4, external_reference = $5, failure_reason = $6, metadata = $7,
		    updated_at = $8, completed_at = $9, channel = $10
		WHERE id = $1 AND status = $2`
	tag, err := t.tx.Exec(ctx, query, txn.ID, string(from), string(txn.Status), txn.Fee.Amount, txn.ExternalReference,
		txn.FailureReason, metadata, txn.UpdatedAt, txn.CompletedAt, txn.Channel)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyTerminal
	}
	return nil
}

func (t *pgTx) SumRefunds(ctx context.Context, originalID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE related_transaction_id = $1 AND type = 'refund' AND status = 'success'`
	if err := t.tx.QueryRow(ctx, query, originalID).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
