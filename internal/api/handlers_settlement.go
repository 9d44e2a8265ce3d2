package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
)

type scheduleRequest struct {
	BankAccountID   string  `json:"bank_account_id"`
	Type            string  `json:"type"`
	DayOfWeek       *int    `json:"day_of_week"`
	DayOfMonth      *int    `json:"day_of_month"`
	TimeOfDay       string  `json:"time_of_day"`
	MinimumAmount   string  `json:"minimum_amount"`
	MaximumAmount   *string `json:"maximum_amount"`
	AmountThreshold *string `json:"amount_threshold"`
	IsActive        *bool   `json:"is_active"`
}

// policy converts the request into a schedule policy. Amounts may be zero here; the
// scheduler decides which fields each type needs.
func (h *Handlers) policy(w http.ResponseWriter, req scheduleRequest) (domain.SchedulePolicy, bool) {
	policy := domain.SchedulePolicy{
		Type:          domain.ScheduleType(strings.ToLower(strings.TrimSpace(req.Type))),
		DayOfWeek:     req.DayOfWeek,
		DayOfMonth:    req.DayOfMonth,
		TimeOfDay:     strings.TrimSpace(req.TimeOfDay),
		MinimumAmount: domain.Zero(h.service.Currency()),
	}
	parse := func(field, value string) (domain.Money, bool) {
		m, err := domain.ParseMoney(value, h.service.Currency())
		if err != nil {
			writeError(w, http.StatusBadRequest, field+": "+err.Error())
			return domain.Money{}, false
		}
		return m, true
	}
	if strings.TrimSpace(req.MinimumAmount) != "" {
		m, ok := parse("minimum_amount", req.MinimumAmount)
		if !ok {
			return policy, false
		}
		policy.MinimumAmount = m
	}
	if req.MaximumAmount != nil {
		m, ok := parse("maximum_amount", *req.MaximumAmount)
		if !ok {
			return policy, false
		}
		policy.MaximumAmount = &m
	}
	if req.AmountThreshold != nil {
		m, ok := parse("amount_threshold", *req.AmountThreshold)
		if !ok {
			return policy, false
		}
		policy.AmountThreshold = &m
	}
	return policy, true
}

// ListSchedulesHandler returns the caller's settlement schedules.
func (h *Handlers) ListSchedulesHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	schedules, err := h.schedules.ListSchedules(r.Context(), wallet.ID)
	if err != nil {
		writeServiceError(w, h.logger, "list_schedules", err)
		return
	}
	if schedules == nil {
		schedules = []domain.SettlementSchedule{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settlement_schedules": schedules})
}

// CreateScheduleHandler creates an active settlement schedule.
func (h *Handlers) CreateScheduleHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	accountID, err := uuid.Parse(req.BankAccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid bank_account_id")
		return
	}
	policy, ok := h.policy(w, req)
	if !ok {
		return
	}
	now := h.clock()
	schedule, err := h.schedules.CreateSchedule(r.Context(), wallet.ID, accountID, policy, now)
	if err != nil {
		writeServiceError(w, h.logger, "create_schedule", err)
		return
	}
	if req.IsActive != nil && !*req.IsActive {
		schedule, err = h.schedules.Deactivate(r.Context(), wallet.ID, schedule.ID, now)
		if err != nil {
			writeServiceError(w, h.logger, "create_schedule", err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, schedule)
}

// UpdateScheduleHandler replaces a schedule's policy and optionally toggles it.
func (h *Handlers) UpdateScheduleHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	scheduleID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req scheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var accountID *uuid.UUID
	if req.BankAccountID != "" {
		id, err := uuid.Parse(req.BankAccountID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid bank_account_id")
			return
		}
		accountID = &id
	}
	policy, ok := h.policy(w, req)
	if !ok {
		return
	}
	now := h.clock()
	schedule, err := h.schedules.UpdatePolicy(r.Context(), wallet.ID, scheduleID, accountID, policy, now)
	if err != nil {
		writeServiceError(w, h.logger, "update_schedule", err)
		return
	}
	if req.IsActive != nil && *req.IsActive != schedule.IsActive {
		if *req.IsActive {
			schedule, err = h.schedules.Activate(r.Context(), wallet.ID, scheduleID, now)
		} else {
			schedule, err = h.schedules.Deactivate(r.Context(), wallet.ID, scheduleID, now)
		}
		if err != nil {
			writeServiceError(w, h.logger, "update_schedule", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, schedule)
}
