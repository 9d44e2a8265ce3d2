package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookStatus is the processing state of an inbound gateway event.
type WebhookStatus string

const (
	WebhookStatusReceived     WebhookStatus = "received"
	WebhookStatusProcessed    WebhookStatus = "processed"
	WebhookStatusIgnored      WebhookStatus = "ignored"
	WebhookStatusFailed       WebhookStatus = "failed"
	WebhookStatusManualReview WebhookStatus = "manual_review"
)

// WebhookEvent is a persisted inbound gateway notification.
type WebhookEvent struct {
	ID             uuid.UUID       `json:"id"`
	EventType      string          `json:"event_type"`
	Reference      string          `json:"reference"`
	Payload        json.RawMessage `json:"payload"`
	SignatureValid bool            `json:"signature_valid"`
	Status         WebhookStatus   `json:"status"`
	Attempts       int             `json:"attempts"`
	FailureReason  *string         `json:"failure_reason,omitempty"`
	TransactionID  *uuid.UUID      `json:"transaction_id,omitempty"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Routing keys for events published on the wallet events exchange.
const (
	RoutingKeyTransactionSucceeded = "wallet.transaction.succeeded"
	RoutingKeyTransactionFailed    = "wallet.transaction.failed"
	RoutingKeyBalanceCredited      = "wallet.balance.credited"
	RoutingKeyWebhookPrefix        = "webhook."
)

// TransactionEvent is published after a transaction reaches a terminal state.
type TransactionEvent struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	WalletID      uuid.UUID         `json:"wallet_id"`
	Reference     string            `json:"reference"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	Amount        Money             `json:"amount"`
	Fee           Money             `json:"fee"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// BalanceCreditedEvent is published whenever a wallet balance increases.
type BalanceCreditedEvent struct {
	WalletID      uuid.UUID `json:"wallet_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        Money     `json:"amount"`
	Balance       Money     `json:"balance"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// WebhookForwardEvent is the envelope forwarded for processed gateway events.
type WebhookForwardEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	Reference     string          `json:"reference"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	Data          json.RawMessage `json:"data"`
	ProcessedAt   time.Time       `json:"processed_at"`
}
