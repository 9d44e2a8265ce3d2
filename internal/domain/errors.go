package domain

import (
	"errors"
	"fmt"
)

// Ledger and validation errors. These are returned synchronously to callers and are never
// retried automatically.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrWalletLocked       = errors.New("wallet is locked")
	ErrWalletInactive     = errors.New("wallet is inactive")
	ErrWalletNotEmpty     = errors.New("wallet balance is not zero")
	ErrDailyLimitExceeded = errors.New("daily transaction limit exceeded")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrCurrencyMismatch   = fmt.Errorf("%w: currency mismatch", ErrInvalidAmount)
	ErrRefundNotAllowed   = errors.New("transaction cannot be refunded")
	ErrInvalidSchedule    = errors.New("invalid settlement schedule")
	ErrInvalidPayload     = errors.New("invalid payload")
)

// Lookup errors.
var (
	ErrWalletNotFound        = errors.New("wallet not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrBankAccountNotFound   = errors.New("bank account not found")
	ErrBankAccountUnverified = errors.New("bank account is not verified")
	ErrBankAccountExists     = errors.New("bank account already linked to wallet")
	ErrCardNotFound          = errors.New("card not found")
	ErrCardExpired           = errors.New("card is expired")
	ErrScheduleNotFound      = errors.New("settlement schedule not found")
	ErrWebhookEventNotFound  = errors.New("webhook event not found")
)

// Processing outcomes that callers classify rather than surface.
var (
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrDuplicateEvent     = errors.New("duplicate webhook event")
	ErrAlreadyTerminal    = errors.New("transaction already in a terminal state")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrScheduleConflict   = errors.New("settlement schedule run already in progress")
)
