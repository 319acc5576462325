package datasource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ctessum/cdf"

	"github.com/chrissnell/climatology/internal/grid"
)

// DefaultSeaIceVariable is the concentration variable in the Goddard
// bootstrap daily files.
const DefaultSeaIceVariable = "goddard_bt_seaice_conc"

// SeaIce reads daily sea ice concentration from NetCDF files. The grid shape
// is taken from the last two dimensions of the variable in the metadata file,
// or in the first NetCDF file found under Path.
type SeaIce struct {
	params Params

	mu   sync.Mutex
	meta *Metadata
}

// NewSeaIce returns a sea ice adapter.
func NewSeaIce(p Params) (*SeaIce, error) {
	if p.Variable == "" {
		p.Variable = DefaultSeaIceVariable
	}
	return &SeaIce{params: p}, nil
}

// ReadMetadata implements DataSource.
func (s *SeaIce) ReadMetadata(ctx context.Context) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta != nil {
		return *s.meta, nil
	}

	path := s.params.MetadataFile
	if path == "" {
		var err error
		path, err = firstNetCDF(s.params.Path)
		if err != nil || path == "" {
			return Metadata{}, fmt.Errorf("no NetCDF file under %s: %w", s.params.Path, ErrMetadataUnavailable)
		}
	}

	rows, cols, err := s.shape(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("%s: %v: %w", path, err, ErrMetadataUnavailable)
	}
	s.meta = &Metadata{
		Rows:        rows,
		Cols:        cols,
		Sensor:      SensorSeaIce,
		Description: fmt.Sprintf("sea ice %s, %s hemisphere", s.params.Variable, s.params.Hemisphere),
	}
	return *s.meta, nil
}

func (s *SeaIce) shape(path string) (int, int, error) {
	f, nc, err := openNetCDF(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	lengths := nc.Header.Lengths(s.params.Variable)
	if len(lengths) < 2 {
		return 0, 0, fmt.Errorf("variable %q has %d dimensions, want at least 2", s.params.Variable, len(lengths))
	}
	return lengths[len(lengths)-2], lengths[len(lengths)-1], nil
}

func (s *SeaIce) locate(date time.Time) locator {
	dir := s.params.Path
	if s.params.AddYearToPath {
		dir = filepath.Join(dir, strconv.Itoa(date.Year()))
	}
	return locator{dir: dir, tokens: []string{date.Format("20060102"), ".nc"}}
}

// FileIdentifierFor implements DataSource.
func (s *SeaIce) FileIdentifierFor(date time.Time) string {
	return s.locate(date).String()
}

// FetchDay implements DataSource. Only the first record of a variable with
// leading (e.g. time) dimensions is read.
func (s *SeaIce) FetchDay(ctx context.Context, date time.Time) (*grid.Grid, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	meta, err := s.ReadMetadata(ctx)
	if err != nil {
		return nil, false, err
	}
	path, err := s.locate(date).find()
	if err != nil || path == "" {
		return nil, false, err
	}

	f, nc, err := openNetCDF(path)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %v: %w", path, err, ErrCorruptFile)
	}
	defer f.Close()

	v := s.params.Variable
	lengths := nc.Header.Lengths(v)
	if len(lengths) < 2 || lengths[len(lengths)-2] != meta.Rows || lengths[len(lengths)-1] != meta.Cols {
		return nil, false, fmt.Errorf("%s: %s has shape %v: %w", path, v, lengths, grid.ErrDimensionMismatch)
	}
	begin := make([]int, len(lengths))
	end := make([]int, len(lengths))
	for i := range end {
		end[i] = 1
	}
	end[len(end)-2], end[len(end)-1] = meta.Rows, meta.Cols

	r := nc.Reader(v, begin, end)
	buf := r.Zero(meta.Rows * meta.Cols)
	if _, err := r.Read(buf); err != nil {
		return nil, false, fmt.Errorf("%s: read %s: %v: %w", path, v, err, ErrCorruptFile)
	}
	values, err := toFloats(buf)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %v: %w", path, err, ErrCorruptFile)
	}

	g, err := grid.FromValues(meta.Rows, meta.Cols, values, grid.NoData)
	if err != nil {
		return nil, false, err
	}
	if fill, ok := fillValue(nc, v); ok {
		for i, val := range values {
			if val == fill {
				g.SetMissing(i/meta.Cols, i%meta.Cols)
			}
		}
	}
	return g, true, nil
}

func openNetCDF(path string) (*os.File, *cdf.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	nc, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, nc, nil
}

func firstNetCDF(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.nc"))
	if err != nil || len(matches) == 0 {
		return "", err
	}
	return matches[0], nil
}

func fillValue(nc *cdf.File, v string) (float64, bool) {
	attr := nc.Header.GetAttribute(v, "_FillValue")
	if attr == nil {
		return 0, false
	}
	vals, err := toFloats(attr)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

func toFloats(data interface{}) ([]float64, error) {
	switch d := data.(type) {
	case []int8:
		return convert(d), nil
	case []uint8:
		return convert(d), nil
	case []int16:
		return convert(d), nil
	case []int32:
		return convert(d), nil
	case []float32:
		return convert(d), nil
	case []float64:
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported NetCDF element type %T", data)
	}
}

func convert[T int8 | uint8 | int16 | int32 | float32](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
