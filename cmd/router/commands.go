package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/app"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/config"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/modelreference"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/security"
	"github.com/spf13/cobra"
)

type configLoader func() (*config.Config, error)

func newServeCommand(load configLoader) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, errLoad := load()
			if errLoad != nil {
				return errLoad
			}
			if listen != "" {
				cfg.Listen = listen
			}
			return app.RunServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides config")
	return cmd
}

func newMigrateCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, errLoad := load()
			if errLoad != nil {
				return errLoad
			}
			if errMigrate := app.Migrate(cmd.Context(), cfg); errMigrate != nil {
				return errMigrate
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
}

func newResolveCommand(load configLoader) *cobra.Command {
	var (
		provider string
		chatID   string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <model>",
		Short: "Show which provider and credential a model resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, errLoad := load()
			if errLoad != nil {
				return errLoad
			}
			rt, errOpen := app.Open(cmd.Context(), cfg)
			if errOpen != nil {
				return errOpen
			}
			defer func() { _ = rt.Close() }()

			res, errResolve := rt.Engine.ResolveModel(cmd.Context(), args[0], provider, resolution.RouteContext{
				ChatID: chatID,
				Source: "cli",
			})
			if errResolve != nil {
				return errResolve
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "MODEL\t%s\n", res.Model.ID)
			fmt.Fprintf(w, "PROVIDER\t%s (%s)\n", res.Provider.ID, res.Provider.Name)
			fmt.Fprintf(w, "INDEX\t%d\n", res.ProviderIndex)
			if res.Credential != nil {
				label := res.Credential.Credential.Label
				if label == "" {
					label = "-"
				}
				fmt.Fprintf(w, "CREDENTIAL\t%d\t%s\n", res.Credential.Credential.ID, label)
				if res.Credential.Degraded {
					fmt.Fprintf(w, "DEGRADED\t%v\n", res.Credential.DegradedReasons)
				}
			} else {
				fmt.Fprintln(w, "CREDENTIAL\t-")
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "preferred provider id")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id used for rate-limit bookkeeping")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the resolution as JSON")
	return cmd
}

func newUsageCommand(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect and maintain usage logs",
	}
	cmd.AddCommand(newUsageCleanupCommand(load))
	return cmd
}

func newUsageCleanupCommand(load configLoader) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete usage logs older than the given number of days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, errLoad := load()
			if errLoad != nil {
				return errLoad
			}
			if days <= 0 {
				days = cfg.Usage.RetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			rt, errOpen := app.Open(cmd.Context(), cfg)
			if errOpen != nil {
				return errOpen
			}
			defer func() { _ = rt.Close() }()

			deleted, errCleanup := rt.Engine.Tracker().Cleanup(cmd.Context(), days)
			if errCleanup != nil {
				return errCleanup
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d usage logs older than %d days\n", deleted, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (defaults to usage.retention-days)")
	return cmd
}

func newModelsCommand(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage the model reference catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Fetch the model reference catalog once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, errLoad := load()
			if errLoad != nil {
				return errLoad
			}
			rt, errOpen := app.Open(cmd.Context(), cfg)
			if errOpen != nil {
				return errOpen
			}
			defer func() { _ = rt.Close() }()

			syncer := modelreference.NewSyncer(rt.DB, cfg.ModelsSync.URL, cfg.ModelsSync.Interval)
			report, errSync := syncer.Sync(cmd.Context())
			if errSync != nil {
				return errSync
			}
			if report.NotModified {
				fmt.Fprintln(cmd.OutOrStdout(), "model reference catalog unchanged")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d model references, backfilled %d models\n", report.References, report.Backfilled)
			return nil
		},
	})
	return cmd
}

func newTokenCommand(load configLoader) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, errLoad := load()
			if errLoad != nil {
				return errLoad
			}
			if ttl <= 0 {
				ttl = cfg.JWT.Expiry
			}
			token, errIssue := security.IssueAdminToken(cfg.JWT.Secret, ttl, time.Now())
			if errIssue != nil {
				return errIssue
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to jwt.expiry)")
	return cmd
}

