package datasource

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chrissnell/climatology/internal/grid"
)

// SSMI reads daily passive microwave brightness temperature grids on the
// polar stereographic 25 km (12.5 km for 85/91 GHz) grids.
type SSMI struct {
	params Params
	rows   int
	cols   int
}

// NewSSMI returns an SSMI adapter. Frequency and Polarization are required.
func NewSSMI(p Params) (*SSMI, error) {
	if p.Frequency == "" || p.Polarization == "" {
		return nil, fmt.Errorf("ssmi needs frequency and polarization: %w", ErrMetadataUnavailable)
	}
	rows, cols := ssmiDims(p.Hemisphere, p.Frequency)
	return &SSMI{params: p, rows: rows, cols: cols}, nil
}

func ssmiDims(hemisphere, frequency string) (int, int) {
	high := frequency == "85" || frequency == "91"
	switch {
	case isSouth(hemisphere) && high:
		return 664, 632
	case isSouth(hemisphere):
		return 332, 316
	case high:
		return 896, 608
	default:
		return 448, 304
	}
}

// ReadMetadata implements DataSource.
func (s *SSMI) ReadMetadata(ctx context.Context) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Rows:   s.rows,
		Cols:   s.cols,
		Sensor: SensorSSMI,
		Description: fmt.Sprintf("SSMI %s GHz %s-pol, %s hemisphere",
			s.params.Frequency, s.params.Polarization, s.params.Hemisphere),
	}, nil
}

func (s *SSMI) locate(date time.Time) locator {
	dir := s.params.Path
	if s.params.AddYearToPath {
		dir = filepath.Join(dir, strconv.Itoa(date.Year()))
	}
	return locator{
		dir:    dir,
		tokens: []string{date.Format("20060102"), s.params.Frequency + s.params.Polarization},
	}
}

// FileIdentifierFor implements DataSource.
func (s *SSMI) FileIdentifierFor(date time.Time) string {
	return s.locate(date).String()
}

// FetchDay implements DataSource.
func (s *SSMI) FetchDay(ctx context.Context, date time.Time) (*grid.Grid, bool, error) {
	return fetchInt16(ctx, s.locate(date), s.rows, s.cols)
}

func fetchInt16(ctx context.Context, loc locator, rows, cols int) (*grid.Grid, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	path, err := loc.find()
	if err != nil {
		return nil, false, err
	}
	if path == "" {
		return nil, false, nil
	}
	g, err := readInt16Grid(path, rows, cols)
	if err != nil {
		return nil, false, err
	}
	return g, true, nil
}
