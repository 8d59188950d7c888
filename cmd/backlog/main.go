package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dealer-backlog/internal/config"
	"dealer-backlog/internal/data"
	"dealer-backlog/internal/db"
	"dealer-backlog/internal/httpapi"
	"dealer-backlog/internal/jobs"
	"dealer-backlog/internal/logging"
)

type app struct {
	envFile string
	debug   bool

	cfg *config.Config
	log *logrus.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "backlog",
		Short:         "Parts backlog import, reconciliation and enrichment jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logging.New(logging.Options{
				Level:      cfg.LogLevel,
				File:       cfg.LogFile,
				MaxSizeMB:  cfg.LogMaxSizeMB,
				MaxBackups: cfg.LogMaxBackups,
				MaxAgeDays: cfg.LogMaxAgeDays,
			})
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&a.envFile, "env", ".env", "dotenv file to load before the environment")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "print the job trace")

	cmd.AddCommand(
		a.serveCommand(),
		a.importCommand(),
		a.importSupplierCommand(),
		a.reconcileCommand(),
		a.syncDueDatesCommand(),
		a.syncAdvisorsCommand(),
		a.migrateCommand(),
		a.seedCommand(),
		a.explainCommand(),
	)
	return cmd
}

// withRunner opens both stores for the duration of fn.
func (a *app) withRunner(ctx context.Context, fn func(r *jobs.Runner) error) error {
	h, err := db.Open(a.cfg)
	if err != nil {
		return err
	}
	defer h.Close()
	if h.Secondary == nil {
		a.log.Warn("no secondary store configured; lookups return nothing")
	}

	r, err := jobs.NewRunner(ctx, a.cfg, h.Primary, h.Secondary, a.log)
	if err != nil {
		return err
	}
	return fn(r)
}

func (a *app) runJob(cmd *cobra.Command, job func(ctx context.Context, r *jobs.Runner) (jobs.Report, error)) error {
	ctx := cmd.Context()
	return a.withRunner(ctx, func(r *jobs.Runner) error {
		rep, err := job(ctx, r)
		printReport(cmd.OutOrStdout(), rep, a.debug || err != nil)
		return err
	})
}

func (a *app) importCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import the order system snapshot and sweep vanished lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runJob(cmd, func(ctx context.Context, r *jobs.Runner) (jobs.Report, error) {
				return r.Import(ctx, file)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "snapshot file (default SNAPSHOT_FILE in IMPORT_DIR)")
	return cmd
}

func (a *app) importSupplierCommand() *cobra.Command {
	var brand string
	cmd := &cobra.Command{
		Use:   "import-supplier",
		Short: "Import the newest feed file of one supplier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runJob(cmd, func(ctx context.Context, r *jobs.Runner) (jobs.Report, error) {
				return r.ImportSupplier(ctx, brand)
			})
		},
	}
	cmd.Flags().StringVar(&brand, "brand", "", "import definition brand")
	_ = cmd.MarkFlagRequired("brand")
	return cmd
}

func (a *app) reconcileCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "reconcile-inbound",
		Short: "Apply recent delivery notes to the backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runJob(cmd, func(ctx context.Context, r *jobs.Runner) (jobs.Report, error) {
				return r.Reconcile(ctx, days)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", -1, "days of delivery notes to read (default RECONCILE_DEFAULT_DAYS)")
	return cmd
}

func (a *app) syncDueDatesCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sync-due-dates",
		Short: "Recompute due dates from the referenced order date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runJob(cmd, func(ctx context.Context, r *jobs.Runner) (jobs.Report, error) {
				return r.SyncDueDates(ctx, all)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "work on every import run instead of the latest")
	return cmd
}

func (a *app) syncAdvisorsCommand() *cobra.Command {
	var all, force bool
	cmd := &cobra.Command{
		Use:   "sync-advisors",
		Short: "Assign service advisors from the referenced order's creator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runJob(cmd, func(ctx context.Context, r *jobs.Runner) (jobs.Report, error) {
				return r.SyncAdvisors(ctx, all, force)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "work on every import run instead of the latest")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite advisors that are already set")
	return cmd
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the job endpoints over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.withRunner(ctx, func(r *jobs.Runner) error {
				gin.SetMode(gin.ReleaseMode)
				srv := &http.Server{
					Addr: a.cfg.HTTPAddress,
					Handler: httpapi.New(r, r.Store, httpapi.Options{
						Log:      a.log,
						Location: r.Location,
					}),
					ReadHeaderTimeout: 10 * time.Second,
				}

				errCh := make(chan error, 1)
				go func() {
					a.log.WithField("address", srv.Addr).Info("listening")
					errCh <- srv.ListenAndServe()
				}()

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				a.log.Info("shutting down")
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the backlog schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := db.OpenPrimary(a.cfg)
			if err != nil {
				return fmt.Errorf("connect primary store: %w", err)
			}
			defer (&db.Handles{Primary: gdb}).Close()
			if err := data.EnsureSchema(gdb); err != nil {
				return fmt.Errorf("migrate schema: %w", err)
			}
			a.log.Info("schema up to date")
			return nil
		},
	}
}

func (a *app) seedCommand() *cobra.Command {
	var lines, batch int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert default configuration and an optional synthetic backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := db.OpenPrimary(a.cfg)
			if err != nil {
				return fmt.Errorf("connect primary store: %w", err)
			}
			defer (&db.Handles{Primary: gdb}).Close()
			if err := data.EnsureSchema(gdb); err != nil {
				return fmt.Errorf("migrate schema: %w", err)
			}
			start := time.Now()
			if err := data.SeedDataset(cmd.Context(), gdb, data.SeedConfig{Lines: lines, BatchSize: batch}); err != nil {
				return fmt.Errorf("seed dataset: %w", err)
			}
			a.log.WithFields(logrus.Fields{"lines": lines, "duration": time.Since(start).String()}).Info("dataset ready")
			return nil
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 0, "synthetic backlog lines to insert")
	cmd.Flags().IntVar(&batch, "batch", 500, "batch size for bulk inserts")
	return cmd
}

func (a *app) explainCommand() *cobra.Command {
	var showPlan bool
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Time the hot queries and print their plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := db.OpenPrimary(a.cfg)
			if err != nil {
				return fmt.Errorf("connect primary store: %w", err)
			}
			defer (&db.Handles{Primary: gdb}).Close()
			results := data.RunProbes(cmd.Context(), gdb, data.HotQueries())
			out := cmd.OutOrStdout()
			if showPlan {
				for _, res := range results {
					if res.Err != nil {
						fmt.Fprintf(out, "[%s] skipped explain: %v\n", res.Name, res.Err)
						continue
					}
					fmt.Fprintf(out, "[%s] %s\n", res.Name, res.Description)
					for _, line := range res.Explain {
						fmt.Fprintf(out, "  %s\n", line)
					}
				}
			}
			printProbeTable(out, results)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPlan, "plan", true, "print EXPLAIN output for each query")
	return cmd
}
