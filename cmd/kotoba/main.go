package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bdobrica/kotoba/common/version"
	"github.com/bdobrica/kotoba/internal/kotoba/app"
	"github.com/bdobrica/kotoba/internal/kotoba/archive"
	kotobaconfig "github.com/bdobrica/kotoba/internal/kotoba/config"
	"github.com/bdobrica/kotoba/internal/kotoba/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := app.LoadConfig()
	var debug bool

	root := &cobra.Command{
		Use:           "kotoba",
		Short:         "Conversational session and context manager",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path (KOTOBA_DATABASE_PATH)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(cfg),
		newArchiveCmd(cfg),
		newConfigCmd(cfg),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(cfg *app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when configured, the Matrix transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("starting kotoba", "version", version.Version, "commit", version.GitCommit)

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Stop()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address, empty to disable (KOTOBA_HTTP_ADDR)")
	cmd.Flags().StringVar(&cfg.TopicsFile, "topics", cfg.TopicsFile, "YAML topic table (KOTOBA_TOPICS_FILE)")
	cmd.Flags().DurationVar(&cfg.SessionTimeout, "session-timeout", cfg.SessionTimeout, "idle time before a session expires (KOTOBA_SESSION_TIMEOUT)")
	cmd.Flags().DurationVar(&cfg.CleanupInterval, "cleanup-interval", cfg.CleanupInterval, "expired session sweep interval (KOTOBA_CLEANUP_INTERVAL)")
	cmd.Flags().IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "messages per user per minute (KOTOBA_RATE_LIMIT)")
	return cmd
}

// openStore opens the database for the offline subcommands.
func openStore(cfg *app.Config) (*store.Store, error) {
	db, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	return db, nil
}

func newArchiveCmd(cfg *app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived session summaries",
	}

	var (
		userID string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			sums, err := archive.NewSQLite(db).List(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			return printSummaries(cmd.OutOrStdout(), sums)
		},
	}
	list.Flags().StringVar(&userID, "user", "", "only sessions of this user")
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print one archived session summary as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			sum, err := archive.NewSQLite(db).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func printSummaries(w io.Writer, sums []archive.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tUSER\tENDED\tREASON\tTURNS\tMINUTES")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.SessionID, s.UserID, s.EndedAt.Format("2006-01-02 15:04"), s.Reason, s.TurnCount,
			strconv.FormatFloat(s.DurationSeconds/60, 'f', 1, 64))
	}
	return tw.Flush()
}

func newConfigCmd(cfg *app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage runtime overrides stored in the database",
		Long:  "Runtime overrides are applied at startup and take precedence over environment variables.",
	}

	withStore := func(fn func(ctx context.Context, s kotobaconfig.Store, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			return fn(cmd.Context(), kotobaconfig.New(db), cmd.OutOrStdout(), args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print an override",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, s kotobaconfig.Store, out io.Writer, args []string) error {
				v, err := s.Get(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Store an override",
			Args:  cobra.ExactArgs(2),
			RunE: withStore(func(ctx context.Context, s kotobaconfig.Store, out io.Writer, args []string) error {
				return s.Set(ctx, args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "delete <key>",
			Short: "Remove an override",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, s kotobaconfig.Store, out io.Writer, args []string) error {
				return s.Delete(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored overrides and the supported keys",
			Args:  cobra.NoArgs,
			RunE: withStore(func(ctx context.Context, s kotobaconfig.Store, out io.Writer, args []string) error {
				all, err := s.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tVALUE")
				for _, k := range kotobaconfig.Keys() {
					v, ok := all[k]
					if !ok {
						v = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\n", k, v)
				}
				return tw.Flush()
			}),
		},
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
