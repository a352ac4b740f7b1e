package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/handler"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(accrueCmd)
	rootCmd.AddCommand(tokenCmd)

	accrueCmd.Flags().String("user", "", "User whose investments are accrued")
	_ = accrueCmd.MarkFlagRequired("user")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

// ─── migrate ────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		// Open applies pending migrations.
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		logger.Info("schema up to date", zap.String("database_path", cfg.DatabasePath))
		return nil
	},
}

// ─── accrue ─────────────────────────────────────────────────────────────────

var accrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "Bring a user's investments current and print them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		userID, _ := cmd.Flags().GetString("user")
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		invs, err := a.services.Ledger.AccrueAll(cmd.Context(), userID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(invs)
	},
}

// ─── token ──────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Issue an API access token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			return fmt.Errorf("LEDGER_JWT_SECRET is not set")
		}
		token, err := handler.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer).Issue(args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, token)
		return nil
	},
}
