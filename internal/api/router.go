/**
 * @description
 * This file sets up the HTTP router for the wallet service. It defines the API endpoints,
 * associates them with their handlers, and applies middleware for authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: router and standard middleware.
 * - github.com/go-chi/cors: CORS for browser clients.
 * - github.com/prometheus/client_golang: /metrics exposition.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the credentials the middleware checks.
type RouterConfig struct {
	JWTSecret      string
	InternalAPIKey string
}

// NewRouter creates the wallet service router.
func NewRouter(h *Handlers, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", InternalAPIKeyHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/paystack", h.PaystackWebhookHandler)

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(cfg.JWTSecret))

		r.Get("/banks", h.ListBanksHandler)

		r.Route("/wallets/me", func(r chi.Router) {
			r.Get("/", h.GetWalletHandler)
			r.Get("/transactions", h.ListTransactionsHandler)
			r.Get("/transactions/{reference}", h.GetTransactionHandler)
			r.Get("/settlements", h.ListSettlementsHandler)

			r.Post("/deposits", h.InitializeDepositHandler)
			r.Post("/deposits/{reference}/verify", h.VerifyDepositHandler)
			r.Post("/card-charges", h.ChargeCardHandler)
			r.Post("/withdrawals", h.WithdrawHandler)
			r.Post("/transfers", h.TransferHandler)

			r.Get("/bank-accounts", h.ListBankAccountsHandler)
			r.Post("/bank-accounts", h.AddBankAccountHandler)
			r.Post("/bank-accounts/{id}/default", h.SetDefaultBankAccountHandler)
			r.Get("/cards", h.ListCardsHandler)
			r.Post("/dedicated-account", h.ProvisionDedicatedAccountHandler)

			r.Get("/settlement-schedules", h.ListSchedulesHandler)
			r.Post("/settlement-schedules", h.CreateScheduleHandler)
			r.Put("/settlement-schedules/{id}", h.UpdateScheduleHandler)
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/transactions/{id}/refunds", h.RefundHandler)
		r.Post("/wallets/{id}/lock", h.LockWalletHandler)
		r.Post("/wallets/{id}/unlock", h.UnlockWalletHandler)
		r.Post("/wallets/{id}/deactivate", h.DeactivateWalletHandler)
		r.Post("/webhooks/{id}/reprocess", h.ReprocessWebhookHandler)
		r.Post("/settlement-schedules/{id}/run", h.RunScheduleHandler)
	})

	return r
}
