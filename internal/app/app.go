package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chrissnell/climatology/internal/climatology"
	"github.com/chrissnell/climatology/internal/datasource"
	"github.com/chrissnell/climatology/internal/log"
	"github.com/chrissnell/climatology/internal/managers"
	"github.com/chrissnell/climatology/internal/metrics"
	"github.com/chrissnell/climatology/pkg/config"
)

// ErrNoCache indicates detection was asked for without a baseline cache to
// read baselines from.
var ErrNoCache = errors.New("app: detection needs output.cache enabled")

// SourceFactory builds the data source for a dataset.
type SourceFactory func(datasource.Params) (datasource.DataSource, error)

// App represents the main application
type App struct {
	config  *config.ConfigData
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	// NewSource defaults to datasource.New.
	NewSource SourceFactory
	// MaxConcurrentRuns caps how many runs execute at once. Zero means GOMAXPROCS.
	MaxConcurrentRuns int
}

// New creates a new application instance for a loaded, validated configuration
func New(c *config.ConfigData, logger *zap.SugaredLogger) *App {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &App{
		config:    c,
		logger:    logger,
		metrics:   metrics.New(),
		NewSource: datasource.New,
	}
}

// Metrics returns the application's collectors.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// RunResult is the outcome of one baseline run.
type RunResult struct {
	Name      string
	RunID     string
	Baselines []*climatology.Baseline
}

// RunBaselines executes the named runs (every configured run when names is
// empty) concurrently, each with its own engine and data source, writing to
// every configured output.
func (a *App) RunBaselines(ctx context.Context, names ...string) ([]RunResult, error) {
	rcs, err := a.runConfigs(names)
	if err != nil {
		return nil, err
	}

	sm, err := managers.NewStorageManager(ctx, &a.config.Output, log.Named("storage"))
	if err != nil {
		sm.Close()
		return nil, err
	}
	defer sm.Close()

	results := make([]RunResult, len(rcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency())
	for i, rc := range rcs {
		g.Go(func() error {
			source, err := a.NewSource(rc.Sensor)
			if err != nil {
				return fmt.Errorf("run %s: %w", rc.Name, err)
			}
			engine, err := climatology.NewEngine(rc, source, sm, a.metrics, log.Named("run."+rc.Name))
			if err != nil {
				return fmt.Errorf("run %s: %w", rc.Name, err)
			}
			baselines, err := engine.Run(gctx)
			results[i] = RunResult{Name: rc.Name, RunID: engine.RunID(), Baselines: baselines}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	a.logger.Infof("completed %d run(s)", len(rcs))
	return results, nil
}

// Detect loads the cached baselines of run and judges every day in
// [start, end] against them. Anomalies go to every output that stores them.
func (a *App) Detect(ctx context.Context, run string, start, end time.Time) ([]climatology.DayResult, error) {
	rc, err := a.config.RunConfig(run)
	if err != nil {
		return nil, err
	}

	sm, err := managers.NewStorageManager(ctx, &a.config.Output, log.Named("storage"))
	if err != nil {
		sm.Close()
		return nil, err
	}
	defer sm.Close()
	if sm.Cache == nil {
		return nil, ErrNoCache
	}

	source, err := a.NewSource(rc.Sensor)
	if err != nil {
		return nil, err
	}
	engine, err := climatology.NewEngine(rc, source, sm, a.metrics, log.Named("detect."+run))
	if err != nil {
		return nil, err
	}

	labels, err := engine.Labels()
	if err != nil {
		return nil, err
	}
	baselines := make([]*climatology.Baseline, 0, len(labels))
	for _, l := range labels {
		b, err := climatology.LoadBaseline(ctx, sm.Cache, l)
		if err != nil {
			return nil, fmt.Errorf("run %s has no cached baseline (run the baseline first): %w", run, err)
		}
		baselines = append(baselines, b)
	}

	return engine.DetectRange(ctx, baselines, start, end)
}

// Serve runs the results API until ctx is cancelled or a shutdown signal
// arrives.
func (a *App) Serve(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sm, err := managers.NewStorageManager(ctx, &a.config.Output, log.Named("storage"))
	if err != nil {
		sm.Close()
		return err
	}
	defer sm.Close()

	interval, err := a.config.Server.Health()
	if err != nil {
		return err
	}
	sm.StartHealthMonitors(ctx, interval)

	cm, err := managers.NewControllerManager(ctx, &wg, a.config, sm, a.metrics, a.logger)
	if err != nil {
		return err
	}
	if err := cm.StartControllers(); err != nil {
		return err
	}

	log.Info("Application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}

func (a *App) runConfigs(names []string) ([]climatology.RunConfig, error) {
	if len(names) == 0 {
		return a.config.RunConfigs()
	}
	rcs := make([]climatology.RunConfig, 0, len(names))
	for _, n := range names {
		rc, err := a.config.RunConfig(n)
		if err != nil {
			return nil, err
		}
		rcs = append(rcs, rc)
	}
	return rcs, nil
}

func (a *App) concurrency() int {
	if a.MaxConcurrentRuns > 0 {
		return a.MaxConcurrentRuns
	}
	return runtime.GOMAXPROCS(0)
}
