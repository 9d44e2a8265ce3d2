package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScheduleType selects how a settlement schedule decides when to run.
type ScheduleType string

const (
	ScheduleTypeDaily     ScheduleType = "daily"
	ScheduleTypeWeekly    ScheduleType = "weekly"
	ScheduleTypeMonthly   ScheduleType = "monthly"
	ScheduleTypeThreshold ScheduleType = "threshold"
	ScheduleTypeManual    ScheduleType = "manual"
)

// IsTimeBased reports whether the type has a wall-clock next run.
func (t ScheduleType) IsTimeBased() bool {
	switch t {
	case ScheduleTypeDaily, ScheduleTypeWeekly, ScheduleTypeMonthly:
		return true
	default:
		return false
	}
}

// SettlementSchedule describes recurring payouts from a wallet to a bank account.
type SettlementSchedule struct {
	ID              uuid.UUID    `json:"id"`
	WalletID        uuid.UUID    `json:"wallet_id"`
	BankAccountID   uuid.UUID    `json:"bank_account_id"`
	Type            ScheduleType `json:"type"`
	DayOfWeek       *int         `json:"day_of_week,omitempty"`  // 0 = Monday
	DayOfMonth      *int         `json:"day_of_month,omitempty"` // 1..31, clamped to month length
	TimeOfDay       string       `json:"time_of_day,omitempty"`  // HH:MM
	MinimumAmount   Money        `json:"minimum_amount"`
	MaximumAmount   *Money       `json:"maximum_amount,omitempty"`
	AmountThreshold *Money       `json:"amount_threshold,omitempty"`
	LastRun         *time.Time   `json:"last_run,omitempty"`
	NextRun         *time.Time   `json:"next_run,omitempty"`
	IsActive        bool         `json:"is_active"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// SchedulePolicy carries the mutable policy fields of a schedule.
type SchedulePolicy struct {
	Type            ScheduleType
	DayOfWeek       *int
	DayOfMonth      *int
	TimeOfDay       string
	MinimumAmount   Money
	MaximumAmount   *Money
	AmountThreshold *Money
}

// Apply copies the policy onto the schedule.
func (p SchedulePolicy) Apply(s *SettlementSchedule) {
	s.Type = p.Type
	s.DayOfWeek = p.DayOfWeek
	s.DayOfMonth = p.DayOfMonth
	s.TimeOfDay = p.TimeOfDay
	s.MinimumAmount = p.MinimumAmount
	s.MaximumAmount = p.MaximumAmount
	s.AmountThreshold = p.AmountThreshold
}

// Validate checks the policy fields required by its type.
func (p SchedulePolicy) Validate() error {
	switch p.Type {
	case ScheduleTypeDaily, ScheduleTypeManual:
	case ScheduleTypeWeekly:
		if p.DayOfWeek == nil || *p.DayOfWeek < 0 || *p.DayOfWeek > 6 {
			return fmt.Errorf("%w: weekly schedules need day_of_week 0-6", ErrInvalidSchedule)
		}
	case ScheduleTypeMonthly:
		if p.DayOfMonth == nil || *p.DayOfMonth < 1 || *p.DayOfMonth > 31 {
			return fmt.Errorf("%w: monthly schedules need day_of_month 1-31", ErrInvalidSchedule)
		}
	case ScheduleTypeThreshold:
		if p.AmountThreshold == nil || !p.AmountThreshold.Amount.IsPositive() {
			return fmt.Errorf("%w: threshold schedules need a positive amount_threshold", ErrInvalidSchedule)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSchedule, p.Type)
	}
	if _, _, err := ParseTimeOfDay(p.TimeOfDay); err != nil {
		return err
	}
	if p.MinimumAmount.IsNegative() {
		return fmt.Errorf("%w: minimum_amount cannot be negative", ErrInvalidSchedule)
	}
	if p.MaximumAmount != nil {
		if !p.MaximumAmount.Amount.IsPositive() {
			return fmt.Errorf("%w: maximum_amount must be positive", ErrInvalidSchedule)
		}
		if p.MaximumAmount.LessThan(p.MinimumAmount) {
			return fmt.Errorf("%w: maximum_amount is below minimum_amount", ErrInvalidSchedule)
		}
	}
	return nil
}

// ParseTimeOfDay parses "HH:MM". An empty value means midnight.
func ParseTimeOfDay(value string) (hour int, minute int, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, 0, nil
	}
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time_of_day %q is not HH:MM", ErrInvalidSchedule, value)
	}
	hour, errH := strconv.Atoi(parts[0])
	minute, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time_of_day %q is not HH:MM", ErrInvalidSchedule, value)
	}
	return hour, minute, nil
}
