package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/chrissnell/climatology/internal/log"
	"github.com/chrissnell/climatology/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

// globalFlags are shared by every subcommand.
type globalFlags struct {
	cfgFile    string
	cfgBackend string
	profile    string
	debug      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "climatology",
		Short: "Gridded climatology baselines and spatial anomaly detection",
		Long: `climatology builds per-cell mean and standard deviation baselines from daily
gridded satellite products and flags days that depart from them.

Commands:
  baseline  compute the baselines of one or more configured runs
  detect    judge a date range against a run's cached baseline
  serve     serve the product catalog and stored anomalies over HTTP
  config    import a YAML configuration into a SQLite profile`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.cfgFile, "config", "c", "climatology.yaml", "path to the configuration (YAML file or SQLite database)")
	root.PersistentFlags().StringVar(&g.cfgBackend, "config-backend", "yaml", "configuration backend: 'yaml' or 'sqlite'")
	root.PersistentFlags().StringVar(&g.profile, "profile", config.DefaultProfile, "profile to load from a SQLite configuration")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "turn on debugging output")

	root.AddCommand(newBaselineCommand(g))
	root.AddCommand(newDetectCommand(g))
	root.AddCommand(newServeCommand(g))
	root.AddCommand(newConfigCommand(g))
	root.AddCommand(versionCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "climatology %s\n", version)
		},
	}
}

// setup loads the configuration and initializes logging from it. The --debug
// flag overrides the configured level.
func (g *globalFlags) setup() (*config.ConfigData, error) {
	cfgData, err := g.loadConfig()
	if err != nil {
		return nil, err
	}

	lc := cfgData.Logging
	if err := log.InitWithConfig(log.Config{
		Debug:      g.debug || lc.Debug,
		File:       lc.File,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
	}); err != nil {
		return nil, err
	}
	return cfgData, nil
}

func (g *globalFlags) loadConfig() (*config.ConfigData, error) {
	filename, _ := filepath.Abs(g.cfgFile)

	var provider config.ConfigProvider
	var err error

	switch g.cfgBackend {
	case "yaml":
		provider = config.NewYAMLProvider(filename)
	case "sqlite":
		provider, err = config.NewSQLiteProvider(filename, g.profile, log.Named("config"))
		if err != nil {
			return nil, fmt.Errorf("error creating SQLite provider: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported configuration backend: %s. Use 'yaml' or 'sqlite'", g.cfgBackend)
	}
	defer provider.Close()

	cfgData, err := config.Load(provider)
	if err != nil {
		return nil, fmt.Errorf("error reading configuration %s. Did you pass the --config flag? %w", filename, err)
	}
	return cfgData, nil
}
