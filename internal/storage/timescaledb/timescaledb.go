// Package timescaledb stores detected anomalies and baseline product records
// in TimescaleDB.
package timescaledb

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chrissnell/climatology/internal/database"
	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/storage"
)

const createExtensionSQL = `CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;`

const createHypertableSQL = `SELECT create_hypertable('anomalies', 'date', if_not_exists => TRUE, migrate_data => TRUE);`

// batchSize bounds the rows per INSERT statement.
const batchSize = 500

// Storage holds the TimescaleDB connection.
type Storage struct {
	TimescaleDBConn *gorm.DB
	logger          *zap.SugaredLogger
}

// New connects to TimescaleDB and prepares the schema.
func New(ctx context.Context, connectionString string, logger *zap.SugaredLogger) (*Storage, error) {
	db, err := database.CreateConnection(connectionString, logger)
	if err != nil {
		return nil, err
	}
	t := &Storage{TimescaleDBConn: db, logger: logger}

	logger.Info("creating TimescaleDB extension...")
	if err := db.WithContext(ctx).Exec(createExtensionSQL).Error; err != nil {
		logger.Warn("warning: could not create TimescaleDB extension")
		return nil, err
	}

	logger.Info("creating database tables...")
	if err := db.WithContext(ctx).AutoMigrate(&database.AnomalyRecord{}, &database.ProductRecord{}); err != nil {
		logger.Warn("warning: could not create tables in database")
		return nil, err
	}

	logger.Info("creating hypertable...")
	if err := db.WithContext(ctx).Exec(createHypertableSQL).Error; err != nil {
		logger.Warn("warning: could not create hypertable")
		return nil, err
	}
	return t, nil
}

// Name implements storage.Sink.
func (t *Storage) Name() string { return "timescaledb" }

// WriteGrid records the product; the grid values themselves are not stored.
func (t *Storage) WriteGrid(ctx context.Context, g *grid.Grid, label storage.Label) error {
	rec := ProductRecordFor(g, label)
	err := t.TimescaleDBConn.WithContext(ctx).Save(&rec).Error
	if err != nil {
		t.logger.Error("could not store product record:", err)
		return err
	}
	return nil
}

// WriteAnomalies replaces the anomalies stored for date against label.
func (t *Storage) WriteAnomalies(ctx context.Context, date time.Time, ag *grid.AnomalyGrid, label storage.Label) error {
	records := AnomalyRecordsFor(date, ag, label)
	baseline := label.WithStatistic(storage.StatAnomalies).Name()

	return t.TimescaleDBConn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("baseline = ? AND date = ?", baseline, date).Delete(&database.AnomalyRecord{}).Error
		if err != nil {
			return fmt.Errorf("could not clear anomalies: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(records, batchSize).Error; err != nil {
			return fmt.Errorf("could not store anomalies: %w", err)
		}
		return nil
	})
}

// CheckHealth implements storage.HealthChecker.
func (t *Storage) CheckHealth(ctx context.Context) error {
	return database.Ping(ctx, t.TimescaleDBConn)
}

// Close implements storage.Sink.
func (t *Storage) Close() error {
	sqlDB, err := t.TimescaleDBConn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ProductRecordFor builds the row describing g.
func ProductRecordFor(g *grid.Grid, label storage.Label) database.ProductRecord {
	return database.ProductRecord{
		Name:       label.Name(),
		RunID:      label.RunID,
		Sensor:     label.Sensor,
		Statistic:  string(label.Statistic),
		Increment:  label.Increment,
		StartDate:  label.Start,
		EndDate:    label.End,
		Rows:       g.Rows(),
		Cols:       g.Cols(),
		ValidCells: g.ValidCount(),
		CreatedAt:  time.Now().UTC(),
	}
}

// AnomalyRecordsFor builds one row per anomalous cell in row-major order.
func AnomalyRecordsFor(date time.Time, ag *grid.AnomalyGrid, label storage.Label) []database.AnomalyRecord {
	baseline := label.WithStatistic(storage.StatAnomalies).Name()
	cells := ag.Cells()
	records := make([]database.AnomalyRecord, len(cells))
	for i, an := range cells {
		records[i] = database.NewAnomalyRecord(date, baseline, label.RunID, label.Sensor, an)
	}
	return records
}
