package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
)

// RetrySummary counts what one retry sweep did.
type RetrySummary struct {
	Retried      int `json:"retried"`
	Processed    int `json:"processed"`
	Failed       int `json:"failed"`
	ManualReview int `json:"manual_review"`
}

// RetryFailed re-dispatches failed or stuck events older than the retry delay whose next
// attempt is due. Events that exhaust their attempts move to manual_review.
func (p *Processor) RetryFailed(ctx context.Context, now time.Time) (RetrySummary, error) {
	var summary RetrySummary
	events, err := p.repo.ListRetryableWebhookEvents(ctx, now.Add(-p.opts.RetryDelay), now, p.opts.MaxAttempts, p.opts.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("list retryable webhook events: %w", err)
	}
	for i := range events {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Retried++
		res, err := p.process(ctx, &events[i], now)
		if err != nil {
			p.logger.Error("webhook retry could not be recorded", "event_id", events[i].ID, "error", err)
			summary.Failed++
			continue
		}
		switch res.Status {
		case domain.WebhookStatusFailed:
			summary.Failed++
		case domain.WebhookStatusManualReview:
			summary.ManualReview++
		default:
			summary.Processed++
		}
	}
	if summary.Retried > 0 {
		p.logger.Info("webhook retry sweep finished", "retried", summary.Retried, "processed", summary.Processed,
			"failed", summary.Failed, "manual_review", summary.ManualReview)
	}
	return summary, nil
}

// Reprocess re-dispatches one stored event on operator request, whatever its status.
// Events that failed signature verification are never dispatched.
func (p *Processor) Reprocess(ctx context.Context, eventID uuid.UUID, now time.Time) (Result, error) {
	event, err := p.repo.FindWebhookEventByID(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	if !event.SignatureValid {
		return Result{}, fmt.Errorf("%w: event %s", domain.ErrInvalidSignature, eventID)
	}
	p.logger.Info("reprocessing webhook", "event_id", event.ID, "event_type", event.EventType, "status", event.Status)
	return p.process(ctx, event, now)
}
