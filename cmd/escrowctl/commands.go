package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"bazaar/internal/config"
	"bazaar/internal/gateway"
	"bazaar/internal/models"
	"bazaar/internal/repositories"
	"bazaar/internal/services/seller"
	"bazaar/internal/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// openDB connects with the environment's settings. Callers close it.
func openDB(log *zap.Logger) (*config.Config, *gorm.DB, error) {
	cfg := config.Load()
	db, err := repositories.InitDB(cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the escrow tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zap.NewNop()
			_, db, err := openDB(log)
			if err != nil {
				return err
			}
			defer repositories.Close(db)

			if err := repositories.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d tables\n", len(repositories.Models()))
			return nil
		},
	}
}

func syncAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-accounts",
		Short: "Refresh every seller account's status from Stripe",
		Long: `Fetches each connected account from Stripe and re-derives its status
with the same rule the status endpoint and account webhooks use. Useful
after missed account.updated deliveries.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			cfg, db, err := openDB(log)
			if err != nil {
				return err
			}
			defer repositories.Close(db)

			if cfg.Stripe.SecretKey == "" {
				return fmt.Errorf("STRIPE_SECRET_KEY is not set")
			}
			svc := seller.NewService(
				repositories.NewSellerAccountRepository(db),
				gateway.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, log),
				cfg.Escrow.AppBaseURL,
				log,
			)

			n, err := svc.SyncAll(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d seller accounts\n", n)
			return err
		},
	}
}

func ledgerCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "List recently processed webhook events",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB(zap.NewNop())
			if err != nil {
				return err
			}
			defer repositories.Close(db)

			events, err := repositories.NewWebhookLedger(db).Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printLedger(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show")
	return cmd
}

func printLedger(w io.Writer, events []models.WebhookEvent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROCESSED\tEVENT\tTYPE")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ProcessedAt.Format(time.RFC3339), e.EventID, e.EventType)
	}
	return tw.Flush()
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		name   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.IsProduction() {
				return fmt.Errorf("refusing to mint tokens in production")
			}
			tok, err := utils.GenerateToken(config.Load().JWTSecret, models.UserClaims{
				UserID: userID,
				Email:  email,
				Name:   name,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&name, "name", "", "display name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
