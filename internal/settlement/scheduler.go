/**
 * @description
 * This package runs settlement schedules: recurring payouts of a wallet's available
 * balance to one of its bank accounts. Time-based schedules are swept by the cron
 * process; threshold schedules fire when a credit lifts the balance past their threshold.
 *
 * @notes
 * - Only one run per schedule may be in flight. Runs take a RunLocker lock keyed by the
 *   schedule id and report domain.ErrScheduleConflict when it is held.
 * - A skipped run keeps last_run; next_run is recomputed after every run.
 * - Money leaves the wallet only through app.Service.CreateSettlement.
 */

package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/internal/store"
)

// Settler creates settlement transactions. *app.Service implements it.
type Settler interface {
	CreateSettlement(ctx context.Context, req app.SettlementRequest, now time.Time) (*domain.Transaction, error)
	Ledger() *app.Ledger
	Currency() string
}

// Options configures run locking and sweep size.
type Options struct {
	LockTTL   time.Duration
	BatchSize int
}

// RunOutcome is how a single schedule run ended.
type RunOutcome string

const (
	RunSettled RunOutcome = "settled"
	RunSkipped RunOutcome = "skipped"
	RunFailed  RunOutcome = "error"
)

// RunResult reports one schedule run.
type RunResult struct {
	ScheduleID  uuid.UUID           `json:"schedule_id"`
	Outcome     RunOutcome          `json:"outcome"`
	Amount      *domain.Money       `json:"amount,omitempty"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	NextRun     *time.Time          `json:"next_run,omitempty"`
}

// Scheduler manages settlement schedules and executes their runs.
type Scheduler struct {
	repo    store.Repository
	settler Settler
	locker  RunLocker
	opts    Options
	logger  *slog.Logger
}

func NewScheduler(repo store.Repository, settler Settler, locker RunLocker, opts Options, logger *slog.Logger) *Scheduler {
	if locker == nil {
		locker = NewMemoryRunLocker()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Scheduler{
		repo:    repo,
		settler: settler,
		locker:  locker,
		opts:    opts,
		logger:  logger.With("component", "settlement_scheduler"),
	}
}

// --- schedule management ---

// CreateSchedule validates the policy and target account and stores an active schedule.
func (s *Scheduler) CreateSchedule(ctx context.Context, walletID, bankAccountID uuid.UUID, policy domain.SchedulePolicy, now time.Time) (*domain.SettlementSchedule, error) {
	if err := s.validate(ctx, walletID, bankAccountID, policy); err != nil {
		return nil, err
	}
	schedule := &domain.SettlementSchedule{
		ID:            uuid.New(),
		WalletID:      walletID,
		BankAccountID: bankAccountID,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	policy.Apply(schedule)
	next, err := NextRun(*schedule, now)
	if err != nil {
		return nil, err
	}
	schedule.NextRun = next
	if err := s.repo.CreateSettlementSchedule(ctx, schedule); err != nil {
		return nil, fmt.Errorf("create settlement schedule: %w", err)
	}
	s.logger.Info("settlement schedule created", "schedule_id", schedule.ID, "wallet_id", walletID, "type", schedule.Type)
	return schedule, nil
}

// UpdatePolicy replaces the schedule's policy and optionally its bank account.
func (s *Scheduler) UpdatePolicy(ctx context.Context, walletID, scheduleID uuid.UUID, bankAccountID *uuid.UUID, policy domain.SchedulePolicy, now time.Time) (*domain.SettlementSchedule, error) {
	schedule, err := s.owned(ctx, walletID, scheduleID)
	if err != nil {
		return nil, err
	}
	target := schedule.BankAccountID
	if bankAccountID != nil {
		target = *bankAccountID
	}
	if err := s.validate(ctx, walletID, target, policy); err != nil {
		return nil, err
	}
	schedule.BankAccountID = target
	policy.Apply(schedule)
	return s.save(ctx, schedule, now)
}

// Activate resumes a schedule.
func (s *Scheduler) Activate(ctx context.Context, walletID, scheduleID uuid.UUID, now time.Time) (*domain.SettlementSchedule, error) {
	schedule, err := s.owned(ctx, walletID, scheduleID)
	if err != nil {
		return nil, err
	}
	schedule.IsActive = true
	return s.save(ctx, schedule, now)
}

// Deactivate pauses a schedule. Its next run is cleared.
func (s *Scheduler) Deactivate(ctx context.Context, walletID, scheduleID uuid.UUID, now time.Time) (*domain.SettlementSchedule, error) {
	schedule, err := s.owned(ctx, walletID, scheduleID)
	if err != nil {
		return nil, err
	}
	schedule.IsActive = false
	return s.save(ctx, schedule, now)
}

// ListSchedules returns the wallet's schedules.
func (s *Scheduler) ListSchedules(ctx context.Context, walletID uuid.UUID) ([]domain.SettlementSchedule, error) {
	return s.repo.ListSettlementSchedulesByWallet(ctx, walletID)
}

func (s *Scheduler) save(ctx context.Context, schedule *domain.SettlementSchedule, now time.Time) (*domain.SettlementSchedule, error) {
	schedule.NextRun = nil
	if schedule.IsActive {
		next, err := NextRun(*schedule, now)
		if err != nil {
			return nil, err
		}
		schedule.NextRun = next
	}
	schedule.UpdatedAt = now
	if err := s.repo.UpdateSettlementSchedule(ctx, schedule); err != nil {
		return nil, fmt.Errorf("update settlement schedule: %w", err)
	}
	return schedule, nil
}

func (s *Scheduler) owned(ctx context.Context, walletID, scheduleID uuid.UUID) (*domain.SettlementSchedule, error) {
	schedule, err := s.repo.FindSettlementScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if schedule.WalletID != walletID {
		return nil, domain.ErrScheduleNotFound
	}
	return schedule, nil
}

func (s *Scheduler) validate(ctx context.Context, walletID, bankAccountID uuid.UUID, policy domain.SchedulePolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	for _, m := range []*domain.Money{&policy.MinimumAmount, policy.MaximumAmount, policy.AmountThreshold} {
		if m != nil && !m.IsZero() && m.Currency != s.settler.Currency() {
			return fmt.Errorf("%w: schedule amounts must be in %s", domain.ErrCurrencyMismatch, s.settler.Currency())
		}
	}
	account, err := s.repo.FindBankAccountByID(ctx, bankAccountID)
	if err != nil {
		return err
	}
	if account.WalletID != walletID || !account.IsActive {
		return domain.ErrBankAccountNotFound
	}
	if !account.Usable() {
		return domain.ErrBankAccountUnverified
	}
	return nil
}

// --- runs ---

// ReachedThresholds returns active threshold schedules whose wallet balance is at or above
// the threshold. The sweep settles them when no balance-credited consumer is running.
func (s *Scheduler) ReachedThresholds(ctx context.Context) ([]domain.SettlementSchedule, error) {
	return s.repo.ListReachedThresholdSchedules(ctx, s.opts.BatchSize)
}

// DueSchedules returns active time-based schedules whose next run has passed.
func (s *Scheduler) DueSchedules(ctx context.Context, now time.Time) ([]domain.SettlementSchedule, error) {
	return s.repo.ListDueSettlementSchedules(ctx, now, s.opts.BatchSize)
}

// Run executes one schedule: settle the eligible amount or skip, then move next_run on.
func (s *Scheduler) Run(ctx context.Context, scheduleID uuid.UUID, now time.Time) (RunResult, error) {
	result := RunResult{ScheduleID: scheduleID}
	release, ok, err := s.locker.Acquire(ctx, scheduleID.String(), s.opts.LockTTL)
	if err != nil {
		metrics.SettlementRuns.WithLabelValues("error").Inc()
		return result, fmt.Errorf("acquire settlement run lock: %w", err)
	}
	if !ok {
		metrics.SettlementRuns.WithLabelValues("conflict").Inc()
		return result, fmt.Errorf("%w: schedule %s", domain.ErrScheduleConflict, scheduleID)
	}
	defer release()

	schedule, err := s.repo.FindSettlementScheduleByID(ctx, scheduleID)
	if err != nil {
		return result, err
	}
	if !schedule.IsActive {
		result.Outcome = RunSkipped
		result.Reason = "schedule is inactive"
		metrics.SettlementRuns.WithLabelValues(string(RunSkipped)).Inc()
		return result, nil
	}

	wallet, err := s.repo.FindWalletByID(ctx, schedule.WalletID)
	if err != nil {
		return result, err
	}
	amount := s.eligible(wallet, schedule)
	result.Amount = &amount

	var (
		lastRun *time.Time
		runErr  error
	)
	switch {
	case !amount.Amount.IsPositive() || amount.LessThan(schedule.MinimumAmount):
		result.Outcome = RunSkipped
		result.Reason = fmt.Sprintf("eligible %s is below minimum %s", amount, schedule.MinimumAmount)
	default:
		id := schedule.ID
		txn, err := s.settler.CreateSettlement(ctx, app.SettlementRequest{
			WalletID:      schedule.WalletID,
			BankAccountID: schedule.BankAccountID,
			Amount:        amount,
			ScheduleID:    &id,
			Reason:        fmt.Sprintf("%s settlement", schedule.Type),
		}, now)
		if errors.Is(err, domain.ErrInvalidAmount) {
			result.Outcome = RunSkipped
			result.Reason = err.Error()
			break
		}
		if err != nil {
			result.Outcome = RunFailed
			result.Reason = err.Error()
			runErr = fmt.Errorf("settle schedule %s: %w", schedule.ID, err)
			break
		}
		result.Outcome = RunSettled
		result.Transaction = txn
		ran := now
		lastRun = &ran
	}

	schedule.LastRun = lastRunOr(lastRun, schedule.LastRun)
	next, err := NextRun(*schedule, now)
	if err != nil {
		return result, errors.Join(runErr, err)
	}
	if err := s.repo.RecordSettlementRun(ctx, schedule.ID, lastRun, next, now); err != nil {
		return result, errors.Join(runErr, fmt.Errorf("record settlement run: %w", err))
	}
	result.NextRun = next

	metrics.SettlementRuns.WithLabelValues(string(result.Outcome)).Inc()
	s.logger.Info("settlement run finished", "schedule_id", schedule.ID, "wallet_id", schedule.WalletID,
		"outcome", result.Outcome, "amount", amount.String(), "reason", result.Reason)
	return result, runErr
}

// eligible is the available balance capped at maximum_amount.
func (s *Scheduler) eligible(wallet *domain.Wallet, schedule *domain.SettlementSchedule) domain.Money {
	amount := s.settler.Ledger().Available(wallet)
	if schedule.MaximumAmount != nil {
		amount = amount.Min(*schedule.MaximumAmount)
	}
	return amount
}

func lastRunOr(updated, previous *time.Time) *time.Time {
	if updated != nil {
		return updated
	}
	return previous
}

// RunDueSummary counts what one sweep of due schedules did.
type RunDueSummary struct {
	Due       int `json:"due"`
	Threshold int `json:"threshold"`
	Settled   int `json:"settled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

// RunDue runs every due time-based schedule, then every threshold schedule whose wallet
// balance has reached its threshold. It carries on past per-schedule errors.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) (RunDueSummary, error) {
	var summary RunDueSummary
	due, err := s.DueSchedules(ctx, now)
	if err != nil {
		return summary, fmt.Errorf("list due settlement schedules: %w", err)
	}
	summary.Due = len(due)
	reached, err := s.ReachedThresholds(ctx)
	if err != nil {
		return summary, fmt.Errorf("list reached threshold schedules: %w", err)
	}
	summary.Threshold = len(reached)

	for _, schedule := range append(due, reached...) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := s.Run(ctx, schedule.ID, now)
		switch {
		case errors.Is(err, domain.ErrScheduleConflict):
			summary.Conflicts++
			continue
		case err != nil && res.Outcome == "":
			summary.Failed++
			s.logger.Error("settlement run errored", "schedule_id", schedule.ID, "error", err)
			continue
		}
		switch res.Outcome {
		case RunSettled:
			summary.Settled++
		case RunSkipped:
			summary.Skipped++
		default:
			summary.Failed++
			s.logger.Warn("settlement run failed", "schedule_id", schedule.ID, "error", err)
		}
	}
	return summary, nil
}
