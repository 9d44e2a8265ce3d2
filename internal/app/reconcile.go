package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

// ReconcileSummary counts what one reconciliation sweep did.
type ReconcileSummary struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ReconcilePending asks the gateway about pending deposits, withdrawals and settlements
// older than the reconcile window and resolves the ones it has an answer for. Unreachable
// gateway calls are skipped and picked up by the next sweep.
func (s *Service) ReconcilePending(ctx context.Context, now time.Time) (ReconcileSummary, error) {
	var summary ReconcileSummary
	stale, err := s.repo.ListStalePendingTransactions(ctx, now.Add(-s.opts.ReconcileAfter), s.opts.SweepBatchSize)
	if err != nil {
		return summary, fmt.Errorf("list stale pending transactions: %w", err)
	}

	for i := range stale {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		txn := &stale[i]
		summary.Checked++
		outcome, err := s.reconcileOne(ctx, txn, now)
		if err != nil {
			s.logger.Warn("reconciliation skipped", "reference", txn.Reference, "type", txn.Type, "error", err)
			outcome = "skipped"
		}
		switch outcome {
		case "completed":
			summary.Completed++
		case "failed":
			summary.Failed++
		default:
			summary.Skipped++
		}
		metrics.Reconciliation.WithLabelValues(outcome).Inc()
	}

	s.logger.Info("reconciliation sweep finished", "checked", summary.Checked, "completed", summary.Completed,
		"failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

func (s *Service) reconcileOne(ctx context.Context, txn *domain.Transaction, now time.Time) (string, error) {
	var (
		res Resolution
		err error
	)
	switch txn.Type {
	case domain.TransactionTypeDeposit:
		var charge *paystackclient.Charge
		charge, err = s.gateway.VerifyCharge(ctx, txn.Reference)
		if err == nil {
			res, err = s.applyCharge(ctx, txn, charge, now)
		}
	case domain.TransactionTypeWithdrawal, domain.TransactionTypeSettlement:
		var transfer *paystackclient.Transfer
		transfer, err = s.gateway.VerifyTransfer(ctx, txn.Reference)
		if err == nil {
			res, err = s.applyTransfer(ctx, txn, transfer, now)
		}
	default:
		return "skipped", fmt.Errorf("%s transactions are not reconciled", txn.Type)
	}

	if errors.Is(err, paystackclient.ErrNotFound) {
		// The gateway never saw the reference, so nothing moved there.
		res, err = s.FailTransaction(ctx, txn.Reference, "not found at gateway during reconciliation", now)
	}
	if err != nil {
		return "skipped", gatewayError("reconcile "+txn.Reference, err)
	}
	if !res.Applied {
		return "skipped", nil
	}
	if res.Transaction.Status == domain.TransactionStatusSuccess {
		return "completed", nil
	}
	return "failed", nil
}
