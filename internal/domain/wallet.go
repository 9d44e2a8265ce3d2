/**
 * @description
 * Core domain models for the wallet service: wallets, transactions and the closed sets
 * of transaction types and statuses that drive the state machine.
 *
 * @notes
 * - A wallet's transaction history is a query by wallet_id; wallets never hold a
 *   collection of their transactions.
 * - Transaction amounts are always positive. Direction is encoded by type.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is an account holding a balance in one currency for one owner.
type Wallet struct {
	ID                     uuid.UUID `json:"id"`
	OwnerID                string    `json:"owner_id"`
	Balance                Money     `json:"balance"`
	IsActive               bool      `json:"is_active"`
	IsLocked               bool      `json:"is_locked"`
	DailyTotal             Money     `json:"daily_total"`
	DailyCount             int       `json:"daily_count"`
	DailyResetDate         time.Time `json:"daily_reset_date"`
	PaystackCustomerCode   *string   `json:"paystack_customer_code,omitempty"`
	DedicatedAccountNumber *string   `json:"dedicated_account_number,omitempty"`
	DedicatedAccountBank   *string   `json:"dedicated_account_bank,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Currency returns the wallet's currency code.
func (w *Wallet) Currency() string {
	return w.Balance.Currency
}

// NewWallet builds a fresh, empty wallet for owner.
func NewWallet(ownerID string, currency string, now time.Time) *Wallet {
	return &Wallet{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Balance:        Zero(currency),
		IsActive:       true,
		DailyTotal:     Zero(currency),
		DailyResetDate: DateOf(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// DateOf truncates t to midnight in t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDate compares the calendar dates of a and b, each read in its own location.
// Stored DATE columns come back as UTC midnight, so converting would shift the day.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// TransactionType is the closed set of money movements.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeSettlement TransactionType = "settlement"
)

// TransactionTypes lists every transaction type. Dispatch tables are checked against it.
var TransactionTypes = []TransactionType{
	TransactionTypeDeposit,
	TransactionTypeWithdrawal,
	TransactionTypeTransfer,
	TransactionTypeRefund,
	TransactionTypeSettlement,
}

// ReferencePrefix returns the internal reference prefix for the type.
func (t TransactionType) ReferencePrefix() string {
	switch t {
	case TransactionTypeDeposit:
		return "DEP"
	case TransactionTypeWithdrawal:
		return "WDR"
	case TransactionTypeTransfer:
		return "TRF"
	case TransactionTypeRefund:
		return "RFD"
	case TransactionTypeSettlement:
		return "STL"
	default:
		return "TXN"
	}
}

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusSuccess  TransactionStatus = "success"
	TransactionStatusFailed   TransactionStatus = "failed"
	TransactionStatusReversed TransactionStatus = "reversed"
)

// Transaction is an immutable-once-terminal record of a single money movement attempt.
type Transaction struct {
	ID                   uuid.UUID         `json:"id"`
	WalletID             uuid.UUID         `json:"wallet_id"`
	Type                 TransactionType   `json:"type"`
	Status               TransactionStatus `json:"status"`
	Amount               Money             `json:"amount"`
	Fee                  Money             `json:"fee"`
	Reference            string            `json:"reference"`
	ExternalReference    *string           `json:"external_reference,omitempty"`
	RecipientWalletID    *uuid.UUID        `json:"recipient_wallet_id,omitempty"`
	BankAccountID        *uuid.UUID        `json:"bank_account_id,omitempty"`
	CardID               *uuid.UUID        `json:"card_id,omitempty"`
	RelatedTransactionID *uuid.UUID        `json:"related_transaction_id,omitempty"`
	ScheduleID           *uuid.UUID        `json:"schedule_id,omitempty"`
	Channel              string            `json:"channel,omitempty"`
	Description          string            `json:"description,omitempty"`
	Metadata             map[string]any    `json:"metadata,omitempty"`
	FailureReason        *string           `json:"failure_reason,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the transaction can no longer change status, with the single
// exception of success -> reversed.
func (t *Transaction) IsTerminal() bool {
	return t.Status != TransactionStatusPending
}

// CanTransitionTo enforces pending -> {success, failed} and success -> reversed.
func (t *Transaction) CanTransitionTo(next TransactionStatus) bool {
	switch t.Status {
	case TransactionStatusPending:
		return next == TransactionStatusSuccess || next == TransactionStatusFailed
	case TransactionStatusSuccess:
		return next == TransactionStatusReversed
	default:
		return false
	}
}

// TransactionListOptions filters a wallet's history query.
type TransactionListOptions struct {
	Type   *TransactionType
	Status *TransactionStatus
	Limit  int
	Offset int
}
