// Package cli implements the walletctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/transfa/wallet-service/internal/bootstrap"
	"github.com/transfa/wallet-service/internal/store"
)

// Opener builds the runtime a command operates on.
type Opener func(ctx context.Context) (*bootstrap.Runtime, error)

func openFromEnv(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg, logger, err := bootstrap.LoadConfig("walletctl")
	if err != nil {
		return nil, err
	}
	return bootstrap.Open(ctx, cfg, logger)
}

// NewRootCommand returns the walletctl command tree wired to the configured environment.
func NewRootCommand() *cobra.Command {
	return newRootCommand(openFromEnv, time.Now)
}

func newRootCommand(open Opener, clock func() time.Time) *cobra.Command {
	root := &cobra.Command{
		Use:           "walletctl",
		Short:         "Operator tasks for the wallet service",
		SilenceUsage:  true,
	}
	root.AddCommand(
		migrateCommand(open),
		syncBanksCommand(open),
		reprocessWebhookCommand(open, clock),
		reconcileCommand(open, clock),
		runSettlementCommand(open, clock),
	)
	return root
}

func migrateCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the wallet database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *bootstrap.Runtime) error {
				if rt.DB == nil {
					return fmt.Errorf("migrate requires a database connection")
				}
				if err := store.Migrate(ctx, rt.DB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func syncBanksCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-banks",
		Short: "Refresh the cached bank list from Paystack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *bootstrap.Runtime) error {
				banks, err := rt.Service.SyncBanks(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d banks\n", len(banks))
				return nil
			})
		},
	}
}

func reprocessWebhookCommand(open Opener, clock func() time.Time) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess-webhook EVENT_ID",
		Short: "Re-dispatch a stored webhook event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid event id %q: %w", args[0], err)
			}
			return withRuntime(cmd, open, func(ctx context.Context, rt *bootstrap.Runtime) error {
				res, err := rt.Webhooks.Reprocess(ctx, eventID, clock())
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func reconcileCommand(open Opener, clock func() time.Time) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Verify stale pending transactions with Paystack once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *bootstrap.Runtime) error {
				summary, err := rt.Service.ReconcilePending(ctx, clock())
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
}

func runSettlementCommand(open Opener, clock func() time.Time) *cobra.Command {
	return &cobra.Command{
		Use:   "run-settlement SCHEDULE_ID",
		Short: "Run one settlement schedule now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduleID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid schedule id %q: %w", args[0], err)
			}
			return withRuntime(cmd, open, func(ctx context.Context, rt *bootstrap.Runtime) error {
				res, runErr := rt.Schedules.Run(ctx, scheduleID, clock())
				if res.Outcome != "" {
					if err := printJSON(cmd, res); err != nil {
						return err
					}
				}
				return runErr
			})
		},
	}
}

func withRuntime(cmd *cobra.Command, open Opener, fn func(ctx context.Context, rt *bootstrap.Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
