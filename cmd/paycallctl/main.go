package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"paycall/internal/auth"
	"paycall/internal/config"
	"paycall/internal/pricing"
	"paycall/internal/rbac"
	"paycall/internal/telephony"
	"paycall/migrations"
	"paycall/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "paycallctl",
		Short:         "Operator tooling for the paycall API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRatesCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newMigrateCmd())
	return root
}

func newRatesCmd() *cobra.Command {
	rates := &cobra.Command{Use: "rates", Short: "Inspect rate tables"}

	var defaultRate string
	rates.PersistentFlags().StringVar(&defaultRate, "default", pricing.DefaultRate.String(), "rate used when the file has no default")

	load := func(path string) (*pricing.RateTable, error) {
		def, err := pricing.ParseCredits(defaultRate)
		if err != nil {
			return nil, fmt.Errorf("--default: %w", err)
		}
		if path == "" {
			return pricing.NewRateTable(def, pricing.DefaultRates())
		}
		return pricing.LoadRateFile(path, def)
	}

	validate := &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse a YAML rate file and list its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := load(args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "PREFIX\tCOUNTRY\tRATE")
			for _, e := range tbl.Entries() {
				_, _ = fmt.Fprintf(w, "+%s\t%s\t%s\n", e.Prefix, e.Country, e.Rate)
			}
			_, _ = fmt.Fprintf(w, "*\tdefault\t%s\n", tbl.Default())
			if err := w.Flush(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d rates\n", len(tbl.Entries()))
			return nil
		},
	}

	var file, to string
	var seconds int64
	quote := &cobra.Command{
		Use:   "quote",
		Short: "Price a call to a number for a duration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tbl, err := load(file)
			if err != nil {
				return err
			}
			dest, err := telephony.NormalizeE164(to)
			if err != nil {
				return err
			}
			q, err := tbl.Quote(dest, seconds)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s rate=%s/min billed=%d min cost=%s\n",
				q.Destination, q.RatePerMinute, q.BilledMinutes, q.Cost)
			return nil
		},
	}
	quote.Flags().StringVar(&file, "file", "", "rate file (built-in table when empty)")
	quote.Flags().StringVar(&to, "to", "", "destination number")
	quote.Flags().Int64Var(&seconds, "seconds", 60, "call duration in seconds")
	_ = quote.MarkFlagRequired("to")

	rates.AddCommand(validate, quote)
	return rates
}

func newTokenCmd() *cobra.Command {
	token := &cobra.Command{Use: "token", Short: "Access tokens for local testing"}

	var principalID, role string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Mint an access token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !rbac.Known(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			m, err := auth.NewManager(config.AuthConfig{
				JWTSecret:       os.Getenv("JWT_SECRET"),
				JWTIssuer:       os.Getenv("JWT_ISSUER"),
				JWTAudience:     os.Getenv("JWT_AUDIENCE"),
				AccessTokenTTL:  ttl,
				RefreshTokenTTL: ttl,
			})
			if err != nil {
				return err
			}
			tok, err := m.IssueAccess(time.Now(), principalID, role)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	issue.Flags().StringVar(&principalID, "principal", "", "principal id")
	issue.Flags().StringVar(&role, "role", rbac.RoleCaller, "caller|support|admin")
	issue.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = issue.MarkFlagRequired("principal")

	token.AddCommand(issue)
	return token
}

func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				dsn = os.Getenv("DATABASE_URL")
			}
			if dsn == "" {
				return fmt.Errorf("--dsn or DATABASE_URL is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			db, err := utils.OpenPostgres(ctx, dsn, utils.PostgresPoolConfig{MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := utils.ApplyMigrations(ctx, db, migrations.FS)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, name := range applied {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres DSN (default $DATABASE_URL)")
	return cmd
}
