// Command credits is an operator tool for balances, usage logs and the
// stored generator key.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"archgen/internal/adapter/repo"
	"archgen/internal/infra"
	"archgen/internal/infra/credentials"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(connect).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type connectFunc func(ctx context.Context) (infra.SQLExecutor, func(), error)

func connect(ctx context.Context) (infra.SQLExecutor, func(), error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel).With().Str("cmd", "credits").Logger()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return infra.NewSQLRunner(pool, logger), pool.Close, nil
}

func newRootCmd(connect connectFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "credits",
		Short:         "Inspect and adjust credit balances",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newGrantCmd(connect), newBalanceCmd(connect), newUsageCmd(connect), newSetKeyCmd(connect))
	return root
}

func withLedger(cmd *cobra.Command, connect connectFunc, fn func(ctx context.Context, ledger *repo.CreditLedgerPG) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	db, closeDB, err := connect(ctx)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer closeDB()
	return fn(ctx, repo.NewCreditLedger(db, infra.NopLogger()))
}

func newGrantCmd(connect connectFunc) *cobra.Command {
	var amount int
	cmd := &cobra.Command{
		Use:   "grant <user-id>",
		Short: "Add credits to a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount <= 0 {
				return fmt.Errorf("--amount must be positive")
			}
			return withLedger(cmd, connect, func(ctx context.Context, ledger *repo.CreditLedgerPG) error {
				balance, err := ledger.Grant(ctx, args[0], amount)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s balance=%d\n", args[0], balance)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&amount, "amount", 0, "credits to add")
	return cmd
}

func newBalanceCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Print a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, connect, func(ctx context.Context, ledger *repo.CreditLedgerPG) error {
				balance, err := ledger.Balance(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s balance=%d\n", args[0], balance)
				return nil
			})
		},
	}
}

func newUsageCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <usage-log-id>",
		Short: "Show a deduction and whether it was refunded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, connect, func(ctx context.Context, ledger *repo.CreditLedgerPG) error {
				log, err := ledger.UsageLog(ctx, args[0])
				if err != nil {
					return err
				}
				refunded := "no"
				if log.IsRefunded() {
					refunded = log.RefundedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "usage %s user=%s amount=%d refunded=%s description=%q\n",
					log.ID, log.UserID, log.Amount, refunded, log.Description)
				return nil
			})
		},
	}
}

func newSetKeyCmd(connect connectFunc) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "set-generator-key",
		Short: "Store the generation backend API key server-side",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key = strings.TrimSpace(key)
			if key == "" {
				key = strings.TrimSpace(os.Getenv("GENERATOR_API_KEY"))
			}
			if key == "" {
				return fmt.Errorf("generator API key is required via --key or GENERATOR_API_KEY")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			db, closeDB, err := connect(ctx)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer closeDB()
			fp, err := credentials.NewStore(db).SetGeneratorAPIKey(ctx, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generator API key stored fingerprint=%s\n", fp)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "API key (falls back to GENERATOR_API_KEY)")
	return cmd
}
