// Package cache stores baseline grids and anomalies as msgpack documents so
// that a later detection run can reload a baseline without recomputing it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/storage"
)

// GridRecord is the on-disk form of one grid. Valid is the row-major
// validity bitmap; NoData only fills the missing cells of Values for readers
// that ignore Valid.
type GridRecord struct {
	Label  storage.Label `msgpack:"label"`
	Rows   int           `msgpack:"rows"`
	Cols   int           `msgpack:"cols"`
	NoData float64       `msgpack:"nodata"`
	Values []float64     `msgpack:"values"`
	Valid  []bool        `msgpack:"valid,omitempty"`
}

// AnomalyRecord is the on-disk form of one day's anomalies.
type AnomalyRecord struct {
	Label     storage.Label  `msgpack:"label"`
	Date      time.Time      `msgpack:"date"`
	Rows      int            `msgpack:"rows"`
	Cols      int            `msgpack:"cols"`
	Anomalies []grid.Anomaly `msgpack:"anomalies"`
}

// Sink reads and writes msgpack files under one directory.
type Sink struct {
	dir string
}

// New returns a cache rooted at dir.
func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Sink{dir: dir}, nil
}

// Name implements storage.Sink.
func (s *Sink) Name() string { return "cache" }

// Close implements storage.Sink.
func (s *Sink) Close() error { return nil }

func (s *Sink) gridPath(label storage.Label) string {
	return filepath.Join(s.dir, label.Name()+".msgpack")
}

func (s *Sink) anomalyPath(date time.Time, label storage.Label) string {
	return filepath.Join(s.dir, label.WithStatistic(storage.StatAnomalies).Name()+"-"+date.Format("20060102")+".msgpack")
}

// WriteGrid implements storage.Sink.
func (s *Sink) WriteGrid(ctx context.Context, g *grid.Grid, label storage.Label) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := GridRecord{
		Label:  label,
		Rows:   g.Rows(),
		Cols:   g.Cols(),
		NoData: grid.NoData,
		Values: g.Flatten(grid.NoData),
		Valid:  g.Validity(),
	}
	return writeFile(s.gridPath(label), rec)
}

// ReadGrid loads the grid stored for label. A missing product wraps
// storage.ErrNotFound.
func (s *Sink) ReadGrid(ctx context.Context, label storage.Label) (*grid.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec GridRecord
	if err := readFile(s.gridPath(label), &rec); err != nil {
		return nil, err
	}
	return rec.Grid()
}

// Grid rebuilds the stored grid. Records without a bitmap fall back to the
// NoData sentinel.
func (rec GridRecord) Grid() (*grid.Grid, error) {
	if rec.Valid == nil {
		return grid.FromValues(rec.Rows, rec.Cols, rec.Values, rec.NoData)
	}
	if rec.Rows <= 0 || rec.Cols <= 0 {
		return nil, grid.ErrInvalidDimensions
	}
	n := rec.Rows * rec.Cols
	if len(rec.Values) != n || len(rec.Valid) != n {
		return nil, fmt.Errorf("have %d values and %d flags for %dx%d grid: %w",
			len(rec.Values), len(rec.Valid), rec.Rows, rec.Cols, grid.ErrDimensionMismatch)
	}
	g := grid.New(rec.Rows, rec.Cols)
	for i, ok := range rec.Valid {
		if ok {
			g.Set(i/rec.Cols, i%rec.Cols, rec.Values[i])
		}
	}
	return g, nil
}

// WriteAnomalies implements storage.AnomalySink.
func (s *Sink) WriteAnomalies(ctx context.Context, date time.Time, ag *grid.AnomalyGrid, label storage.Label) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := AnomalyRecord{
		Label:     label,
		Date:      date,
		Rows:      ag.Rows(),
		Cols:      ag.Cols(),
		Anomalies: ag.Cells(),
	}
	return writeFile(s.anomalyPath(date, label), rec)
}

// ReadAnomalies loads the anomalies stored for date against label.
func (s *Sink) ReadAnomalies(ctx context.Context, date time.Time, label storage.Label) (*grid.AnomalyGrid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec AnomalyRecord
	if err := readFile(s.anomalyPath(date, label), &rec); err != nil {
		return nil, err
	}
	ag := grid.NewAnomalyGrid(rec.Rows, rec.Cols)
	for _, an := range rec.Anomalies {
		ag.Put(an)
	}
	return ag, nil
}

func writeFile(path string, v interface{}) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readFile(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, storage.ErrNotFound)
		}
		return err
	}
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
