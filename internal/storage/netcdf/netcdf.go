// Package netcdf writes baseline grids as classic NetCDF files.
package netcdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ctessum/cdf"

	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/storage"
	"github.com/chrissnell/climatology/internal/timespan"
)

// Sink writes one <label name>.nc per grid with a single float32 variable
// named after the statistic over (rows, cols) dimensions.
type Sink struct {
	dir string
}

// New returns a sink writing into dir.
func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Sink{dir: dir}, nil
}

// Name implements storage.Sink.
func (s *Sink) Name() string { return "netcdf" }

// Path returns the file a label is written to.
func (s *Sink) Path(label storage.Label) string {
	return filepath.Join(s.dir, label.Name()+".nc")
}

// WriteGrid implements storage.Sink.
func (s *Sink) WriteGrid(ctx context.Context, g *grid.Grid, label storage.Label) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows, cols := g.Dims()
	v := string(label.Statistic)

	h := cdf.NewHeader([]string{"rows", "cols"}, []int{rows, cols})
	h.AddAttribute("", "title", "climatology baseline "+label.Name())
	h.AddAttribute("", "sensor", label.Sensor)
	h.AddAttribute("", "increment", label.Increment)
	h.AddAttribute("", "start_date", label.Start.Format(timespan.DateLayout))
	h.AddAttribute("", "end_date", label.End.Format(timespan.DateLayout))
	h.AddAttribute("", "run_id", label.RunID)
	h.AddVariable(v, []string{"rows", "cols"}, []float32{0})
	h.AddAttribute(v, "_FillValue", []float32{float32(grid.NoData)})
	h.AddAttribute(v, "description", description(label.Statistic))
	h.Define()

	path := s.Path(label)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	nc, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	flat := g.Flatten(grid.NoData)
	data := make([]float32, len(flat))
	for i, x := range flat {
		data[i] = float32(x)
	}
	w := nc.Writer(v, []int{0, 0}, []int{rows, cols})
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return cdf.UpdateNumRecs(f)
}

// Close implements storage.Sink.
func (s *Sink) Close() error { return nil }

func description(s storage.Statistic) string {
	switch s {
	case storage.StatMean:
		return "per-cell mean"
	case storage.StatStandardDeviation:
		return "per-cell standard deviation"
	case storage.StatPopulation:
		return "per-cell count of valid observations"
	}
	return string(s)
}
