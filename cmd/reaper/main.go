package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"archgen/internal/adapter/repo"
	"archgen/internal/infra"
	"archgen/internal/lifecycle"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reaper",
		Short:         "Fail and refund generation jobs stuck in processing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSweepCmd())
	return root
}

func newSweepCmd() *cobra.Command {
	var (
		userID string
		all    bool
		watch  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile stuck jobs for one user or for everyone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (userID == "") == !all {
				return errors.New("exactly one of --user or --all is required")
			}
			if watch > 0 && !all {
				return errors.New("--watch requires --all")
			}

			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel).With().Str("cmd", "reaper").Logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := infra.NewDBPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			sqlRunner := infra.NewSQLRunner(pool, logger)

			reaper := lifecycle.NewReaper(lifecycle.ReaperOptions{
				Jobs:           repo.NewJobRepository(sqlRunner, repo.JobOptions{Logger: logger}),
				Ledger:         repo.NewCreditLedger(sqlRunner, logger),
				Tools:          repo.NewToolRepository(sqlRunner),
				Logger:         logger,
				Threshold:      cfg.StuckJobThreshold,
				VideoThreshold: cfg.VideoJobThreshold,
			})

			if watch > 0 {
				logger.Info().Dur("interval", watch).Msg("reaper watching")
				if err := reaper.Watch(ctx, watch); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}

			var report lifecycle.SweepReport
			if all {
				report, err = reaper.SweepAll(ctx)
			} else {
				report, err = reaper.Sweep(ctx, userID)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "reconcile jobs of this user id")
	cmd.Flags().BoolVar(&all, "all", false, "reconcile jobs of every user")
	cmd.Flags().DurationVar(&watch, "watch", 0, "repeat the sweep at this interval until interrupted")
	return cmd
}
