package managers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/storage"
	"github.com/chrissnell/climatology/internal/storage/binfile"
	"github.com/chrissnell/climatology/internal/storage/cache"
	"github.com/chrissnell/climatology/internal/storage/catalog"
	"github.com/chrissnell/climatology/internal/storage/netcdf"
	"github.com/chrissnell/climatology/internal/storage/timescaledb"
	"github.com/chrissnell/climatology/pkg/config"
)

// StorageManager holds our active output sinks and fans every write out to
// all of them.
type StorageManager struct {
	Sinks  []storage.Sink
	Health *storage.HealthManager

	// Cache and Catalog are also kept here when configured, for readers.
	Cache   *cache.Sink
	Catalog *catalog.Catalog

	logger *zap.SugaredLogger
}

// NewStorageManager creates a StorageManager populated with every sink
// enabled in the output configuration.
func NewStorageManager(ctx context.Context, c *config.OutputData, logger *zap.SugaredLogger) (*StorageManager, error) {
	s := &StorageManager{Health: storage.NewHealthManager(), logger: logger}

	if c.Binary.Enabled {
		if err := s.AddEngine(ctx, "binary", c); err != nil {
			return s, fmt.Errorf("could not add binary output: %w", err)
		}
	}
	if c.NetCDF.Enabled {
		if err := s.AddEngine(ctx, "netcdf", c); err != nil {
			return s, fmt.Errorf("could not add NetCDF output: %w", err)
		}
	}
	if c.Cache.Enabled {
		if err := s.AddEngine(ctx, "cache", c); err != nil {
			return s, fmt.Errorf("could not add baseline cache: %w", err)
		}
	}
	if c.Catalog.Enabled {
		if err := s.AddEngine(ctx, "catalog", c); err != nil {
			return s, fmt.Errorf("could not add catalog: %w", err)
		}
	}
	if c.TimescaleDB.ConnectionString != "" {
		if err := s.AddEngine(ctx, "timescaledb", c); err != nil {
			return s, fmt.Errorf("could not add TimescaleDB output: %w", err)
		}
	}
	return s, nil
}

// AddEngine adds the sink named engineName, configured from c.
func (s *StorageManager) AddEngine(ctx context.Context, engineName string, c *config.OutputData) error {
	switch engineName {
	case "binary":
		sink, err := binfile.New(c.Directory, c.Binary.ByteOrder)
		if err != nil {
			return err
		}
		s.AddSink(sink)
	case "netcdf":
		sink, err := netcdf.New(c.Directory)
		if err != nil {
			return err
		}
		s.AddSink(sink)
	case "cache":
		dir := c.Cache.Directory
		if dir == "" {
			dir = filepath.Join(c.Directory, "cache")
		}
		sink, err := cache.New(dir)
		if err != nil {
			return err
		}
		s.Cache = sink
		s.AddSink(sink)
	case "catalog":
		path := c.Catalog.Path
		if path == "" {
			path = filepath.Join(c.Directory, "catalog.db")
		}
		sink, err := catalog.Open(ctx, path)
		if err != nil {
			return err
		}
		s.Catalog = sink
		s.AddSink(sink)
	case "timescaledb":
		sink, err := timescaledb.New(ctx, c.TimescaleDB.ConnectionString, s.logger)
		if err != nil {
			return err
		}
		s.AddSink(sink)
	default:
		return fmt.Errorf("unknown output %q", engineName)
	}
	return nil
}

// AddSink registers an already constructed sink.
func (s *StorageManager) AddSink(sink storage.Sink) {
	s.Sinks = append(s.Sinks, sink)
	s.logger.Infof("enabled %s output", sink.Name())
}

// StartHealthMonitors checks every database-backed sink periodically until
// ctx is done.
func (s *StorageManager) StartHealthMonitors(ctx context.Context, interval time.Duration) {
	for _, sink := range s.Sinks {
		if checker, ok := sink.(storage.HealthChecker); ok {
			storage.StartHealthMonitor(ctx, s.Health, sink.Name(), checker, interval, s.logger)
		}
	}
}

// Name implements storage.Sink.
func (s *StorageManager) Name() string { return "manager" }

// WriteGrid writes g to every sink. A failing sink does not stop the others;
// all failures are joined into the returned error.
func (s *StorageManager) WriteGrid(ctx context.Context, g *grid.Grid, label storage.Label) error {
	var errs []error
	for _, sink := range s.Sinks {
		err := sink.WriteGrid(ctx, g, label)
		s.Health.Record(sink.Name(), err)
		if err != nil {
			s.logger.Errorf("%s: could not write %s: %v", sink.Name(), label.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// WriteAnomalies writes ag to every sink that stores anomalies.
func (s *StorageManager) WriteAnomalies(ctx context.Context, date time.Time, ag *grid.AnomalyGrid, label storage.Label) error {
	var errs []error
	for _, sink := range s.Sinks {
		as, ok := sink.(storage.AnomalySink)
		if !ok {
			continue
		}
		err := as.WriteAnomalies(ctx, date, ag, label)
		s.Health.Record(sink.Name(), err)
		if err != nil {
			s.logger.Errorf("%s: could not write anomalies for %s: %v", sink.Name(), date.Format("2006-01-02"), err)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (s *StorageManager) Close() error {
	var errs []error
	for _, sink := range s.Sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
