/**
 * @description
 * Scheduled job implementations for the wallet scheduler process.
 */
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/settlement"
	"github.com/transfa/wallet-service/internal/webhook"
)

// SettlementRunner runs due settlement schedules.
type SettlementRunner interface {
	RunDue(ctx context.Context, now time.Time) (settlement.RunDueSummary, error)
}

// WebhookRetrier re-dispatches failed webhook events.
type WebhookRetrier interface {
	RetryFailed(ctx context.Context, now time.Time) (webhook.RetrySummary, error)
}

// WalletMaintainer covers the ledger housekeeping jobs.
type WalletMaintainer interface {
	ReconcilePending(ctx context.Context, now time.Time) (app.ReconcileSummary, error)
	ResetDormantDailyCounters(ctx context.Context, now time.Time) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	settlements SettlementRunner
	webhooks    WebhookRetrier
	wallets     WalletMaintainer
	clock       func() time.Time
	logger      *slog.Logger
}

// NewJobs creates a new Jobs runner. A nil clock uses time.Now.
func NewJobs(settlements SettlementRunner, webhooks WebhookRetrier, wallets WalletMaintainer, clock func() time.Time, logger *slog.Logger) *Jobs {
	if clock == nil {
		clock = time.Now
	}
	return &Jobs{
		settlements: settlements,
		webhooks:    webhooks,
		wallets:     wallets,
		clock:       clock,
		logger:      logger,
	}
}

// RunDueSettlements settles every schedule whose next run has passed.
func (j *Jobs) RunDueSettlements() {
	j.logger.Info("starting settlement job")
	ctx := context.Background()

	summary, err := j.settlements.RunDue(ctx, j.clock())
	if err != nil {
		j.logger.Error("failed to run due settlements", "error", err)
		return
	}

	j.logger.Info("settlement job finished", "due", summary.Due, "threshold", summary.Threshold, "settled", summary.Settled,
		"skipped", summary.Skipped, "failed", summary.Failed, "conflicts", summary.Conflicts)
}

// RetryWebhooks re-dispatches failed webhook events whose backoff has elapsed.
func (j *Jobs) RetryWebhooks() {
	j.logger.Info("starting webhook retry job")
	ctx := context.Background()

	summary, err := j.webhooks.RetryFailed(ctx, j.clock())
	if err != nil {
		j.logger.Error("failed to retry webhook events", "error", err)
		return
	}

	j.logger.Info("webhook retry job finished", "retried", summary.Retried, "processed", summary.Processed,
		"failed", summary.Failed, "manual_review", summary.ManualReview)
}

// ReconcilePending resolves stale pending gateway transactions.
func (j *Jobs) ReconcilePending() {
	j.logger.Info("starting reconciliation job")
	ctx := context.Background()

	summary, err := j.wallets.ReconcilePending(ctx, j.clock())
	if err != nil {
		j.logger.Error("failed to reconcile pending transactions", "error", err)
		return
	}

	j.logger.Info("reconciliation job finished", "checked", summary.Checked, "completed", summary.Completed,
		"failed", summary.Failed, "skipped", summary.Skipped)
}

// ResetDailyCounters zeroes the daily counters of wallets idle since yesterday.
func (j *Jobs) ResetDailyCounters() {
	j.logger.Info("starting daily counter reset job")
	ctx := context.Background()

	reset, err := j.wallets.ResetDormantDailyCounters(ctx, j.clock())
	if err != nil {
		j.logger.Error("failed to reset daily counters", "error", err)
		return
	}

	j.logger.Info("daily counter reset job finished", "wallets", reset)
}
