package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chrissnell/climatology/internal/app"
	"github.com/chrissnell/climatology/internal/log"
	"github.com/chrissnell/climatology/internal/timespan"
	"github.com/chrissnell/climatology/pkg/config"
)

// ErrMissingFlag is returned when a required flag is not set.
var ErrMissingFlag = errors.New("missing required flag")

func newBaselineCommand(g *globalFlags) *cobra.Command {
	var maxRuns int

	cmd := &cobra.Command{
		Use:   "baseline [run...]",
		Short: "Compute the baselines of the named runs (all runs when none are named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgData, err := g.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			a := app.New(cfgData, log.GetSugaredLogger())
			a.MaxConcurrentRuns = maxRuns
			results, err := a.RunBaselines(cmd.Context(), args...)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tRUN ID\tBASELINE\tDAYS")
			for _, r := range results {
				for _, b := range r.Baselines {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.Name, r.RunID, b.Label.Name(), b.Days)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&maxRuns, "max-concurrent-runs", 0, "runs executed at once (default GOMAXPROCS)")

	return cmd
}

func newDetectCommand(g *globalFlags) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "detect <run>",
		Short: "Detect anomalies in a date range against a run's cached baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if start == "" {
				return fmt.Errorf("--start: %w", ErrMissingFlag)
			}
			if end == "" {
				end = start
			}
			from, err := timespan.ParseDate(start)
			if err != nil {
				return fmt.Errorf("--start %q: %w", start, err)
			}
			to, err := timespan.ParseDate(end)
			if err != nil {
				return fmt.Errorf("--end %q: %w", end, err)
			}

			cfgData, err := g.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			a := app.New(cfgData, log.GetSugaredLogger())
			results, err := a.Detect(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tANOMALIES\tCLUSTERS\tLARGEST")
			for _, r := range results {
				largest := 0
				for _, c := range r.Clusters {
					largest = max(largest, c.Size())
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", r.Date.Format(timespan.DateLayout), r.Anomalies.Len(), len(r.Clusters), largest)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "first date to judge (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last date to judge (YYYY-MM-DD, default --start)")

	return cmd
}

func newServeCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the product catalog, stored anomalies, health and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgData, err := g.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			return app.New(cfgData, log.GetSugaredLogger()).Serve(cmd.Context())
		},
	}
}

func newConfigCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration sources",
	}
	cmd.AddCommand(newConfigImportCommand(g))
	cmd.AddCommand(newConfigCheckCommand(g))
	return cmd
}

func newConfigImportCommand(g *globalFlags) *cobra.Command {
	var dbPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "import <config.yaml>",
		Short: "Validate a YAML configuration and store it as a SQLite profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return fmt.Errorf("--db: %w", ErrMissingFlag)
			}

			cfgData, err := config.Load(config.NewYAMLProvider(args[0]))
			if err != nil {
				return err
			}

			if _, err := os.Stat(dbPath); err == nil && !force {
				existing, err := config.NewSQLiteProvider(dbPath, g.profile, log.Named("config"))
				if err != nil {
					return err
				}
				_, loadErr := existing.LoadConfig()
				existing.Close()
				if loadErr == nil {
					return fmt.Errorf("profile %q already exists in %s; use --force to overwrite", g.profile, dbPath)
				}
			}

			provider, err := config.NewSQLiteProvider(dbPath, g.profile, log.Named("config"))
			if err != nil {
				return err
			}
			defer provider.Close()

			if err := provider.SaveConfig(cfgData); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d run(s) into profile %q of %s\n", len(cfgData.Runs), g.profile, dbPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite configuration database to write")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing profile")

	return cmd
}

func newConfigCheckCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration, then list its runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgData, err := g.loadConfig()
			if err != nil {
				return err
			}
			rcs, err := cfgData.RunConfigs()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTART\tEND\tINCREMENT\tSTRATEGY\tSCOPE")
			for _, rc := range rcs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", rc.Name, rc.Start.Format(timespan.DateLayout),
					rc.End.Format(timespan.DateLayout), rc.Increment, rc.Strategy, rc.Scope)
			}
			return w.Flush()
		},
	}
}
