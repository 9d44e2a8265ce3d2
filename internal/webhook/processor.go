/**
 * @description
 * This package ingests Paystack webhooks. Every event is verified, deduplicated on
 * (reference, event type), persisted as `received` and only then dispatched to the
 * transaction state machine. Failed events are retried by a periodic sweep and end in
 * `manual_review` once the retry budget is spent.
 *
 * Key features:
 * - HMAC-SHA512 signature check of the raw body against the webhook secret.
 * - Exactly-once handling under at-least-once delivery: duplicates return `ignored`.
 * - Closed dispatch table from event type to handler; unknown types are `ignored`.
 *
 * @notes
 * - Handlers call idempotent terminal transitions, so a replay that slips past the
 *   dedupe check is still a no-op.
 * - Invalid signatures are stored `failed` for audit and never take part in dedupe.
 *
 * @dependencies
 * - internal/app: terminal transitions of deposits, withdrawals and settlements.
 * - internal/store: webhook event persistence.
 * - pkg/rabbitmq: forwarding processed events.
 */

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/paystackclient"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

// SignatureHeader carries the hex HMAC-SHA512 of the request body.
const SignatureHeader = "X-Paystack-Signature"

// Gateway event types with a handler.
const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

// Resolver applies terminal transitions for the events this processor handles.
type Resolver interface {
	CompleteTransaction(ctx context.Context, reference string, c app.Completion, now time.Time) (app.Resolution, error)
	FailTransaction(ctx context.Context, reference string, reason string, now time.Time) (app.Resolution, error)
	ReverseTransfer(ctx context.Context, reference string, reason string, now time.Time) (app.Resolution, error)
	CreditDedicatedAccount(ctx context.Context, charge *paystackclient.Charge, now time.Time) (app.Resolution, error)
}

// Options configures signature checks and the retry policy.
type Options struct {
	Secret      string
	Exchange    string
	MaxAttempts int
	RetryDelay  time.Duration
	MaxBackoff  time.Duration
	BatchSize   int
}

// Result is what Ingest, RetryFailed and Reprocess report for one event.
type Result struct {
	EventID       uuid.UUID            `json:"event_id"`
	EventType     string               `json:"event_type"`
	Reference     string               `json:"reference"`
	Status        domain.WebhookStatus `json:"status"`
	Duplicate     bool                 `json:"duplicate,omitempty"`
	TransactionID *uuid.UUID           `json:"transaction_id,omitempty"`
}

// Processor verifies, records and dispatches gateway events.
type Processor struct {
	repo      store.Repository
	resolver  Resolver
	publisher rabbitmq.Publisher
	opts      Options
	logger    *slog.Logger
}

func NewProcessor(repo store.Repository, resolver Resolver, publisher rabbitmq.Publisher, opts Options, logger *slog.Logger) *Processor {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	if opts.Exchange == "" {
		opts.Exchange = "wallet.events"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Processor{
		repo:      repo,
		resolver:  resolver,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With("component", "webhook_processor"),
	}
}

// envelope is the outer shape of every Paystack event.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type eventRefs struct {
	Reference    string          `json:"reference"`
	TransferCode string          `json:"transfer_code"`
	ID           json.RawMessage `json:"id"`
}

// reference picks data.reference, then data.transfer_code, then data.id.
func (e envelope) reference() string {
	var refs eventRefs
	if len(e.Data) == 0 || json.Unmarshal(e.Data, &refs) != nil {
		return ""
	}
	if ref := strings.TrimSpace(refs.Reference); ref != "" {
		return ref
	}
	if code := strings.TrimSpace(refs.TransferCode); code != "" {
		return code
	}
	id := strings.Trim(strings.TrimSpace(string(refs.ID)), `"`)
	if id == "null" {
		return ""
	}
	return id
}

// ValidSignature reports whether signature is the hex HMAC-SHA512 of payload under secret.
func ValidSignature(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), given)
}

// Sign returns the signature Paystack would send for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Ingest handles one delivery. Handler failures are recorded on the event and reported in
// the result; the returned error is reserved for bad input and store failures.
func (p *Processor) Ingest(ctx context.Context, payload []byte, signature string, now time.Time) (Result, error) {
	var env envelope
	parseErr := json.Unmarshal(payload, &env)
	env.Event = strings.TrimSpace(env.Event)
	reference := env.reference()

	if !ValidSignature(p.opts.Secret, payload, signature) {
		reason := "invalid signature"
		event := &domain.WebhookEvent{
			ID:             uuid.New(),
			EventType:      env.Event,
			Reference:      reference,
			Payload:        storablePayload(payload),
			SignatureValid: false,
			Status:         domain.WebhookStatusFailed,
			FailureReason:  &reason,
			ReceivedAt:     now,
			UpdatedAt:      now,
		}
		if err := p.repo.CreateWebhookEvent(ctx, event); err != nil {
			p.logger.Error("failed to record rejected webhook", "error", err)
		}
		metrics.WebhookEvents.WithLabelValues(metricType(env.Event), "invalid_signature").Inc()
		p.logger.Warn("webhook rejected", "event_type", env.Event, "reference", reference, "reason", reason)
		return Result{EventID: event.ID, EventType: env.Event, Reference: reference, Status: event.Status}, domain.ErrInvalidSignature
	}

	if parseErr != nil {
		return Result{}, fmt.Errorf("%w: decode webhook: %v", domain.ErrInvalidPayload, parseErr)
	}
	if env.Event == "" || reference == "" {
		return Result{}, fmt.Errorf("%w: webhook without event type or reference", domain.ErrInvalidPayload)
	}

	if prior, err := p.repo.FindWebhookEvent(ctx, reference, env.Event); err == nil {
		return p.duplicate(prior), nil
	} else if !errors.Is(err, domain.ErrWebhookEventNotFound) {
		return Result{}, fmt.Errorf("look up webhook event: %w", err)
	}

	event := &domain.WebhookEvent{
		ID:             uuid.New(),
		EventType:      env.Event,
		Reference:      reference,
		Payload:        json.RawMessage(payload),
		SignatureValid: true,
		Status:         domain.WebhookStatusReceived,
		ReceivedAt:     now,
		UpdatedAt:      now,
	}
	if err := p.repo.CreateWebhookEvent(ctx, event); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			prior, findErr := p.repo.FindWebhookEvent(ctx, reference, env.Event)
			if findErr != nil {
				return Result{}, fmt.Errorf("look up duplicate webhook event: %w", findErr)
			}
			return p.duplicate(prior), nil
		}
		return Result{}, fmt.Errorf("record webhook event: %w", err)
	}

	return p.process(ctx, event, now)
}

func (p *Processor) duplicate(prior *domain.WebhookEvent) Result {
	metrics.WebhookEvents.WithLabelValues(metricType(prior.EventType), "duplicate").Inc()
	p.logger.Info("duplicate webhook ignored", "event_id", prior.ID, "event_type", prior.EventType,
		"reference", prior.Reference, "prior_status", prior.Status)
	return Result{
		EventID:       prior.ID,
		EventType:     prior.EventType,
		Reference:     prior.Reference,
		Status:        domain.WebhookStatusIgnored,
		Duplicate:     true,
		TransactionID: prior.TransactionID,
	}
}

// outcome is what a handler decided about an event.
type outcome struct {
	status        domain.WebhookStatus
	transactionID *uuid.UUID
	note          string
}

type handler func(ctx context.Context, data json.RawMessage, now time.Time) (outcome, error)

// permanentError marks events that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (p *Processor) handlerFor(eventType string) (handler, bool) {
	switch eventType {
	case EventChargeSuccess:
		return p.handleChargeSuccess, true
	case EventTransferSuccess:
		return p.handleTransferSuccess, true
	case EventTransferFailed:
		return p.handleTransferFailed, true
	case EventTransferReversed:
		return p.handleTransferReversed, true
	default:
		return nil, false
	}
}

// process dispatches a stored event and records how it went.
func (p *Processor) process(ctx context.Context, event *domain.WebhookEvent, now time.Time) (Result, error) {
	var env envelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return p.finish(ctx, event, outcome{}, permanentError{fmt.Errorf("decode stored payload: %w", err)}, now)
	}
	h, ok := p.handlerFor(event.EventType)
	if !ok {
		return p.finish(ctx, event, outcome{status: domain.WebhookStatusIgnored, note: "unhandled event type"}, nil, now)
	}
	out, err := h(ctx, env.Data, now)
	return p.finish(ctx, event, out, err, now)
}

func (p *Processor) finish(ctx context.Context, event *domain.WebhookEvent, out outcome, handlerErr error, now time.Time) (Result, error) {
	event.UpdatedAt = now
	if out.transactionID != nil {
		event.TransactionID = out.transactionID
	}

	if handlerErr != nil {
		event.Attempts++
		reason := handlerErr.Error()
		event.FailureReason = &reason
		var permanent permanentError
		if errors.As(handlerErr, &permanent) || event.Attempts >= p.opts.MaxAttempts {
			event.Status = domain.WebhookStatusManualReview
			event.NextAttemptAt = nil
		} else {
			event.Status = domain.WebhookStatusFailed
			next := now.Add(p.backoff(event.Attempts))
			event.NextAttemptAt = &next
		}
		p.logger.Warn("webhook processing failed", "event_id", event.ID, "event_type", event.EventType,
			"reference", event.Reference, "attempts", event.Attempts, "status", event.Status, "error", handlerErr)
	} else {
		event.Status = out.status
		event.NextAttemptAt = nil
		event.FailureReason = nil
		if out.note != "" {
			note := out.note
			event.FailureReason = &note
		}
		processed := now
		event.ProcessedAt = &processed
		if event.Status == domain.WebhookStatusManualReview {
			p.logger.Error("webhook contradicts ledger; manual review required", "event_id", event.ID,
				"event_type", event.EventType, "reference", event.Reference, "reason", out.note)
		} else {
			p.logger.Info("webhook processed", "event_id", event.ID, "event_type", event.EventType,
				"reference", event.Reference, "status", event.Status)
		}
	}

	if err := p.repo.UpdateWebhookEvent(ctx, event); err != nil {
		return Result{}, fmt.Errorf("update webhook event: %w", err)
	}
	metrics.WebhookEvents.WithLabelValues(metricType(event.EventType), string(event.Status)).Inc()

	if event.Status == domain.WebhookStatusProcessed {
		p.forward(ctx, event, now)
	}
	return Result{
		EventID:       event.ID,
		EventType:     event.EventType,
		Reference:     event.Reference,
		Status:        event.Status,
		TransactionID: event.TransactionID,
	}, nil
}

// backoff is base * 2^min(attempts, 8), capped at the configured maximum.
func (p *Processor) backoff(attempts int) time.Duration {
	base := p.opts.RetryDelay
	if base <= 0 {
		base = time.Second
	}
	if attempts > 8 {
		attempts = 8
	}
	d := base * time.Duration(1<<attempts)
	if d > p.opts.MaxBackoff {
		d = p.opts.MaxBackoff
	}
	return d
}

func (p *Processor) forward(ctx context.Context, event *domain.WebhookEvent, now time.Time) {
	var env envelope
	_ = json.Unmarshal(event.Payload, &env)
	msg := domain.WebhookForwardEvent{
		EventID:       event.ID,
		EventType:     event.EventType,
		Reference:     event.Reference,
		TransactionID: event.TransactionID,
		Data:          env.Data,
		ProcessedAt:   now,
	}
	if err := p.publisher.Publish(ctx, p.opts.Exchange, domain.RoutingKeyWebhookPrefix+event.EventType, msg); err != nil {
		p.logger.Warn("webhook forward failed", "event_id", event.ID, "error", err)
	}
}

// --- handlers ---

func (p *Processor) handleChargeSuccess(ctx context.Context, data json.RawMessage, now time.Time) (outcome, error) {
	var charge paystackclient.Charge
	if err := json.Unmarshal(data, &charge); err != nil {
		return outcome{}, permanentError{fmt.Errorf("decode charge: %w", err)}
	}
	reference := charge.MetadataValue("internal_reference")
	if reference == "" {
		reference = charge.Reference
	}
	txn, err := p.repo.FindTransactionByReference(ctx, reference)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		if charge.Channel == app.ChannelDedicatedTransfer {
			return p.creditDedicatedAccount(ctx, &charge, now)
		}
		return outcome{status: domain.WebhookStatusIgnored, note: "no matching deposit"}, nil
	}
	if err != nil {
		return outcome{}, err
	}
	if txn.Type != domain.TransactionTypeDeposit {
		return outcome{status: domain.WebhookStatusIgnored, transactionID: &txn.ID, note: "reference is not a deposit"}, nil
	}

	res, err := p.resolver.CompleteTransaction(ctx, txn.Reference, app.CompletionFromCharge(&charge, txn.Amount.Currency), now)
	if err != nil {
		return outcome{transactionID: &txn.ID}, err
	}
	return resolved(res, true), nil
}

// creditDedicatedAccount books a bank transfer into a virtual account. Money has already
// arrived at the gateway, so a charge that cannot be matched to an active wallet goes to
// manual review instead of being ignored.
func (p *Processor) creditDedicatedAccount(ctx context.Context, charge *paystackclient.Charge, now time.Time) (outcome, error) {
	res, err := p.resolver.CreditDedicatedAccount(ctx, charge, now)
	switch {
	case errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrWalletInactive),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrInvalidAmount):
		return outcome{}, permanentError{fmt.Errorf("dedicated account transfer %s: %w", charge.Reference, err)}
	case err != nil:
		return outcome{}, err
	}
	return resolved(res, true), nil
}

func (p *Processor) handleTransferSuccess(ctx context.Context, data json.RawMessage, now time.Time) (outcome, error) {
	return p.handleTransfer(ctx, data, true, func(txn *domain.Transaction, transfer *paystackclient.Transfer) (app.Resolution, error) {
		return p.resolver.CompleteTransaction(ctx, txn.Reference, app.Completion{ExternalReference: transfer.TransferCode}, now)
	})
}

func (p *Processor) handleTransferFailed(ctx context.Context, data json.RawMessage, now time.Time) (outcome, error) {
	return p.handleTransfer(ctx, data, false, func(txn *domain.Transaction, transfer *paystackclient.Transfer) (app.Resolution, error) {
		return p.resolver.FailTransaction(ctx, txn.Reference, "transfer failed at gateway", now)
	})
}

func (p *Processor) handleTransferReversed(ctx context.Context, data json.RawMessage, now time.Time) (outcome, error) {
	return p.handleTransfer(ctx, data, false, func(txn *domain.Transaction, transfer *paystackclient.Transfer) (app.Resolution, error) {
		return p.resolver.ReverseTransfer(ctx, txn.Reference, "transfer reversed by gateway", now)
	})
}

func (p *Processor) handleTransfer(ctx context.Context, data json.RawMessage, success bool, apply func(*domain.Transaction, *paystackclient.Transfer) (app.Resolution, error)) (outcome, error) {
	var transfer paystackclient.Transfer
	if err := json.Unmarshal(data, &transfer); err != nil {
		return outcome{}, permanentError{fmt.Errorf("decode transfer: %w", err)}
	}
	txn, err := p.findPayout(ctx, &transfer)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return outcome{status: domain.WebhookStatusIgnored, note: "no matching withdrawal or settlement"}, nil
	}
	if err != nil {
		return outcome{}, err
	}
	if txn.Type != domain.TransactionTypeWithdrawal && txn.Type != domain.TransactionTypeSettlement {
		return outcome{status: domain.WebhookStatusIgnored, transactionID: &txn.ID, note: "reference is not a payout"}, nil
	}

	res, err := apply(txn, &transfer)
	if err != nil {
		return outcome{transactionID: &txn.ID}, err
	}
	return resolved(res, success), nil
}

// findPayout matches on our reference first, then on the gateway transfer code.
func (p *Processor) findPayout(ctx context.Context, transfer *paystackclient.Transfer) (*domain.Transaction, error) {
	if transfer.Reference != "" {
		txn, err := p.repo.FindTransactionByReference(ctx, transfer.Reference)
		if err == nil || !errors.Is(err, domain.ErrTransactionNotFound) {
			return txn, err
		}
	}
	if transfer.TransferCode != "" {
		return p.repo.FindTransactionByExternalReference(ctx, transfer.TransferCode)
	}
	return nil, domain.ErrTransactionNotFound
}

// resolved maps a resolution to the event outcome. An event that reports the opposite of
// the transaction's terminal status means money moved at the gateway without a ledger entry,
// so it goes to manual review.
func resolved(res app.Resolution, success bool) outcome {
	out := outcome{status: domain.WebhookStatusProcessed}
	if res.Transaction == nil {
		return out
	}
	id := res.Transaction.ID
	out.transactionID = &id
	if res.Applied {
		return out
	}
	switch status := res.Transaction.Status; {
	case success && status == domain.TransactionStatusFailed:
		out.status = domain.WebhookStatusManualReview
		out.note = fmt.Sprintf("gateway reported success for %s transaction %s", status, res.Transaction.Reference)
	case !success && status == domain.TransactionStatusSuccess:
		out.status = domain.WebhookStatusManualReview
		out.note = fmt.Sprintf("gateway reported failure for %s transaction %s", status, res.Transaction.Reference)
	}
	return out
}

func metricType(eventType string) string {
	switch eventType {
	case EventChargeSuccess, EventTransferSuccess, EventTransferFailed, EventTransferReversed:
		return eventType
	default:
		return "other"
	}
}

// storablePayload keeps unparsable bodies as a JSON string so they can still be stored.
func storablePayload(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	encoded, _ := json.Marshal(string(payload))
	return encoded
}
