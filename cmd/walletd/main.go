/**
 * @description
 * Entry point for the wallet HTTP service: Paystack webhook ingress, the wallet API
 * and the internal operator routes.
 *
 * @dependencies
 * - github.com/joho/godotenv: loads .env files during local development.
 * - internal/bootstrap: database, Redis, RabbitMQ and service wiring.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/transfa/wallet-service/internal/api"
	"github.com/transfa/wallet-service/internal/bootstrap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, logger, err := bootstrap.LoadConfig("walletd")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	rt, err := bootstrap.Open(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	handlers := api.NewHandlers(rt.Service, rt.Schedules, rt.Webhooks, time.Now, logger)
	router := api.NewRouter(handlers, api.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		InternalAPIKey: cfg.InternalAPIKey,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "component", "http", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "component", "http", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started", "component", "http")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "component", "http", "error", err)
	}
	logger.Info("shutdown complete", "component", "http")
}
