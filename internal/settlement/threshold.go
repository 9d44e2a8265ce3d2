package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/transfa/wallet-service/internal/domain"
)

// ThresholdConsumer runs threshold schedules when a wallet.balance.credited event shows the
// balance at or above their threshold.
type ThresholdConsumer struct {
	scheduler *Scheduler
	clock     func() time.Time
	logger    *slog.Logger
}

func NewThresholdConsumer(scheduler *Scheduler, clock func() time.Time, logger *slog.Logger) *ThresholdConsumer {
	if clock == nil {
		clock = time.Now
	}
	return &ThresholdConsumer{scheduler: scheduler, clock: clock, logger: logger.With("component", "threshold_consumer")}
}

// HandleMessage returns false only when the message should be requeued.
func (c *ThresholdConsumer) HandleMessage(body []byte) bool {
	var event domain.BalanceCreditedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("failed to unmarshal balance credited event", "error", err)
		return true
	}
	ctx := context.Background()
	now := c.clock()

	schedules, err := c.scheduler.repo.ListActiveThresholdSchedules(ctx, event.WalletID)
	if err != nil {
		c.logger.Error("failed to list threshold schedules", "wallet_id", event.WalletID, "error", err)
		return false
	}
	requeue := false
	for _, schedule := range schedules {
		if schedule.AmountThreshold == nil || event.Balance.LessThan(*schedule.AmountThreshold) {
			continue
		}
		res, err := c.scheduler.Run(ctx, schedule.ID, now)
		switch {
		case errors.Is(err, domain.ErrScheduleConflict):
			c.logger.Info("threshold settlement already running", "schedule_id", schedule.ID)
		case err != nil && res.Outcome == RunFailed:
			// The run was recorded; the next credit will try again.
			c.logger.Warn("threshold settlement failed", "schedule_id", schedule.ID, "error", err)
		case err != nil:
			c.logger.Error("threshold settlement errored", "schedule_id", schedule.ID, "error", err)
			requeue = true
		default:
			c.logger.Info("threshold schedule ran", "schedule_id", schedule.ID, "outcome", res.Outcome)
		}
	}
	return !requeue
}
