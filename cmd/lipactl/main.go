package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"lipa/config"
	"lipa/internal/auth"
	"lipa/internal/database"
	"lipa/pkg/poll"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "lipactl",
		Short:   "Operator tool for the lipa M-Pesa payment service",
		Version: Version,
	}
	rootCmd.PersistentFlags().String("server", envOr("LIPA_SERVER", "http://localhost:8099"), "lipa server base URL")
	rootCmd.PersistentFlags().String("token", os.Getenv("LIPA_TOKEN"), "bearer token for guarded routes")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the payment_intents and orders tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := database.NewDB(&cfg.Database)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			if err := database.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [intent-id]",
		Short: "Show the current status of a payment intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIntentID(args[0])
			if err != nil {
				return err
			}
			v, err := newStatusClient(cmd).Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [intent-id]",
		Short: "Poll a payment intent until it settles or attempts run out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIntentID(args[0])
			if err != nil {
				return err
			}
			interval, _ := cmd.Flags().GetDuration("interval")
			attempts, _ := cmd.Flags().GetInt("attempts")
			out, err := watch(cmd.Context(), newStatusClient(cmd), id, poll.Poller{Interval: interval, MaxAttempts: attempts}, func(s string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", time.Now().Format(time.TimeOnly), s)
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().Duration("interval", 3*time.Second, "time between status checks")
	cmd.Flags().Int("attempts", 20, "maximum number of status checks")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a client access token with JWT_ACCESS_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetUint("user")
			if userID == 0 {
				return fmt.Errorf("--user is required")
			}
			cfg := config.Load()
			if cfg.JWT.AccessSecret == "" {
				return fmt.Errorf("JWT_ACCESS_SECRET is not set")
			}
			tok, err := auth.GenerateAccessToken(&cfg.JWT, userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Uint("user", 0, "user id to embed in the token")
	return cmd
}

func newStatusClient(cmd *cobra.Command) *statusClient {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	return newClient(server, token)
}

func parseIntentID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid intent id %q", s)
	}
	return uint(id), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
