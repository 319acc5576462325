// Package catalog keeps a SQLite index of produced baselines and detected
// anomalies. The results API reads from it.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/storage"
	"github.com/chrissnell/climatology/internal/timespan"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS products (
	name        TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	sensor      TEXT NOT NULL,
	statistic   TEXT NOT NULL,
	increment   TEXT NOT NULL,
	start_date  TEXT NOT NULL,
	end_date    TEXT NOT NULL,
	tag         TEXT NOT NULL DEFAULT '',
	rows        INTEGER NOT NULL,
	cols        INTEGER NOT NULL,
	valid_cells INTEGER NOT NULL,
	mean_value  REAL,
	min_value   REAL,
	max_value   REAL,
	created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS anomalies (
	baseline    TEXT NOT NULL,
	run_id      TEXT NOT NULL,
	sensor      TEXT NOT NULL,
	date        TEXT NOT NULL,
	row         INTEGER NOT NULL,
	col         INTEGER NOT NULL,
	value       REAL NOT NULL,
	mean        REAL NOT NULL,
	sd          REAL NOT NULL,
	z_score     REAL NOT NULL,
	probability REAL NOT NULL,
	neighbors   INTEGER NOT NULL,
	PRIMARY KEY (baseline, date, row, col)
);

CREATE INDEX IF NOT EXISTS idx_anomalies_date ON anomalies(date);
`

// Product is one catalogued grid.
type Product struct {
	Name       string    `json:"name"`
	RunID      string    `json:"run_id"`
	Sensor     string    `json:"sensor"`
	Statistic  string    `json:"statistic"`
	Increment  string    `json:"increment"`
	StartDate  string    `json:"start_date"`
	EndDate    string    `json:"end_date"`
	Tag        string    `json:"tag,omitempty"`
	Rows       int       `json:"rows"`
	Cols       int       `json:"cols"`
	ValidCells int       `json:"valid_cells"`
	MeanValue  *float64  `json:"mean_value,omitempty"`
	MinValue   *float64  `json:"min_value,omitempty"`
	MaxValue   *float64  `json:"max_value,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Anomaly is one stored anomalous cell.
type Anomaly struct {
	grid.Anomaly
	Baseline string `json:"baseline"`
	RunID    string `json:"run_id"`
	Sensor   string `json:"sensor"`
	Date     string `json:"date"`
}

// DateSummary counts the anomalies stored for one date.
type DateSummary struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Catalog is a SQLite-backed storage.Sink and storage.AnomalySink.
type Catalog struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if necessary) the catalog at dbPath.
func Open(ctx context.Context, dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create catalog schema: %w", err)
	}
	return &Catalog{db: db, dbPath: dbPath}, nil
}

// Name implements storage.Sink.
func (c *Catalog) Name() string { return "catalog" }

// Close implements storage.Sink.
func (c *Catalog) Close() error { return c.db.Close() }

// CheckHealth implements storage.HealthChecker.
func (c *Catalog) CheckHealth(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// WriteGrid records a product and summary statistics of its valid cells.
func (c *Catalog) WriteGrid(ctx context.Context, g *grid.Grid, label storage.Label) error {
	values := g.ValidValues()
	var mean, lo, hi sql.NullFloat64
	if len(values) > 0 {
		mean = sql.NullFloat64{Float64: stat.Mean(values, nil), Valid: true}
		lo = sql.NullFloat64{Float64: floats.Min(values), Valid: true}
		hi = sql.NullFloat64{Float64: floats.Max(values), Valid: true}
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO products (name, run_id, sensor, statistic, increment, start_date, end_date, tag,
		                      rows, cols, valid_cells, mean_value, min_value, max_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			run_id = excluded.run_id, rows = excluded.rows, cols = excluded.cols,
			valid_cells = excluded.valid_cells, mean_value = excluded.mean_value,
			min_value = excluded.min_value, max_value = excluded.max_value,
			created_at = excluded.created_at`,
		label.Name(), label.RunID, label.Sensor, string(label.Statistic), label.Increment,
		label.Start.Format(timespan.DateLayout), label.End.Format(timespan.DateLayout), label.Tag,
		g.Rows(), g.Cols(), len(values), mean, lo, hi, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record product %s: %w", label.Name(), err)
	}
	return nil
}

// WriteAnomalies replaces the anomalies stored for date against label.
func (c *Catalog) WriteAnomalies(ctx context.Context, date time.Time, ag *grid.AnomalyGrid, label storage.Label) error {
	baseline := label.WithStatistic(storage.StatAnomalies).Name()
	day := date.Format(timespan.DateLayout)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM anomalies WHERE baseline = ? AND date = ?`, baseline, day); err != nil {
		return fmt.Errorf("failed to clear anomalies for %s: %w", day, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO anomalies (baseline, run_id, sensor, date, row, col, value, mean, sd, z_score, probability, neighbors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare anomaly insert: %w", err)
	}
	defer stmt.Close()

	for _, an := range ag.Cells() {
		_, err := stmt.ExecContext(ctx, baseline, label.RunID, label.Sensor, day, an.Row, an.Col,
			an.Value, an.Mean, an.StandardDeviation, an.ZScore, an.Probability, an.Neighbors)
		if err != nil {
			return fmt.Errorf("failed to insert anomaly (%d,%d): %w", an.Row, an.Col, err)
		}
	}
	return tx.Commit()
}

// ListProducts returns every catalogued product, newest first.
func (c *Catalog) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name, run_id, sensor, statistic, increment, start_date, end_date, tag,
		       rows, cols, valid_cells, mean_value, min_value, max_value, created_at
		FROM products
		ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		var mean, lo, hi sql.NullFloat64
		err := rows.Scan(&p.Name, &p.RunID, &p.Sensor, &p.Statistic, &p.Increment, &p.StartDate, &p.EndDate,
			&p.Tag, &p.Rows, &p.Cols, &p.ValidCells, &mean, &lo, &hi, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		p.MeanValue = nullable(mean)
		p.MinValue = nullable(lo)
		p.MaxValue = nullable(hi)
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetProduct returns one product by name.
func (c *Catalog) GetProduct(ctx context.Context, name string) (Product, error) {
	products, err := c.ListProducts(ctx)
	if err != nil {
		return Product{}, err
	}
	for _, p := range products {
		if p.Name == name {
			return p, nil
		}
	}
	return Product{}, fmt.Errorf("product %s: %w", name, storage.ErrNotFound)
}

// AnomaliesForDate returns the anomalies stored for date in row-major order.
func (c *Catalog) AnomaliesForDate(ctx context.Context, date time.Time) ([]Anomaly, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT baseline, run_id, sensor, date, row, col, value, mean, sd, z_score, probability, neighbors
		FROM anomalies
		WHERE date = ?
		ORDER BY baseline, row, col`, date.Format(timespan.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	var out []Anomaly
	for rows.Next() {
		var a Anomaly
		err := rows.Scan(&a.Baseline, &a.RunID, &a.Sensor, &a.Date, &a.Row, &a.Col, &a.Value, &a.Mean,
			&a.StandardDeviation, &a.ZScore, &a.Probability, &a.Neighbors)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AnomalyDates lists the dates that have stored anomalies, oldest first.
func (c *Catalog) AnomalyDates(ctx context.Context) ([]DateSummary, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT date, COUNT(*) FROM anomalies GROUP BY date ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomaly dates: %w", err)
	}
	defer rows.Close()

	var out []DateSummary
	for rows.Next() {
		var d DateSummary
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly date row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
