package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tuitionpay_backend/internals/bootstrap"
	"tuitionpay_backend/internals/configs"
	database "tuitionpay_backend/internals/databases"
	"tuitionpay_backend/internals/kvstore"
	routeDetails "tuitionpay_backend/internals/route/details"
)

const defaultTimeout = 30 * time.Minute

// env is everything a subcommand needs; close releases it.
type env struct {
	svc   *routeDetails.Services
	log   *zap.Logger
	close func()
}

func open(cmd *cobra.Command) (context.Context, *env, error) {
	cfg := configs.LoadEnv()
	log := configs.NewLogger(cfg.Env)

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)

	rt, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	svc := routeDetails.NewServices(rt.DB, rt.KV, rt.Processor, cfg, log)
	return ctx, &env{
		svc: svc,
		log: log,
		close: func() {
			cancel()
			rt.Close()
			_ = log.Sync()
		},
	}, nil
}

func printSummary(cmd *cobra.Command, title string, summary any) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		out, err := sonic.ConfigStd.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	}
	fmt.Fprintf(os.Stdout, "%s: %+v\n", title, summary)
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update every table",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			if err := database.Migrate(e.svc.DB); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(os.Stdout, "schema up to date")
			return nil
		},
	}
}

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Record every paid invoice of every known subscription",
		Long: `Pages through the processor's paid invoices for each subscription referenced
by a student or a subscription row and records one payment per student.
Already recorded invoices are left alone, so the job can be re-run at will.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			sum, err := e.svc.Reconcile.BackfillPayments(ctx)
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
			return printSummary(cmd, "backfill", sum)
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Mirror subscription status and billing periods from the processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			sum, err := e.svc.Reconcile.SyncSubscriptionStatuses(ctx)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			return printSummary(cmd, "reconcile", sum)
		},
	}
}

func purgeKVCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-kv",
		Short: "Delete expired keys from the database-backed KV store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			n, err := kvstore.Purge(ctx, e.svc.KV)
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			fmt.Fprintf(os.Stdout, "purged %d expired key(s)\n", n)
			return nil
		},
	}
}
