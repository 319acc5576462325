package datasource

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/timespan"
)

// AVHRR reads daily Polar Pathfinder 5 km composites.
type AVHRR struct {
	params Params
	size   int
}

// NewAVHRR returns an AVHRR adapter. Channel and Time are required.
func NewAVHRR(p Params) (*AVHRR, error) {
	if p.Channel == "" || p.Time == "" {
		return nil, fmt.Errorf("avhrr needs channel and time: %w", ErrMetadataUnavailable)
	}
	size := 1805
	if isSouth(p.Hemisphere) {
		size = 1605
	}
	return &AVHRR{params: p, size: size}, nil
}

// ReadMetadata implements DataSource.
func (a *AVHRR) ReadMetadata(ctx context.Context) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Rows:        a.size,
		Cols:        a.size,
		Sensor:      SensorAVHRR,
		Description: fmt.Sprintf("AVHRR %s at %s, %s hemisphere", a.params.Channel, a.params.Time, a.params.Hemisphere),
	}, nil
}

func (a *AVHRR) locate(date time.Time) locator {
	doy := fmt.Sprintf("%03d", timespan.DayOfYear(date))
	dir := a.params.Path
	if a.params.AddYearToPath {
		dir = filepath.Join(dir, strconv.Itoa(date.Year()))
	}
	if a.params.AddDayToPath {
		dir = filepath.Join(dir, doy)
	}
	token := strconv.Itoa(date.Year()) + doy + "_" + a.params.Time + "_" + a.params.Channel
	return locator{dir: dir, tokens: []string{token}}
}

// FileIdentifierFor implements DataSource.
func (a *AVHRR) FileIdentifierFor(date time.Time) string {
	return a.locate(date).String()
}

// FetchDay implements DataSource.
func (a *AVHRR) FetchDay(ctx context.Context, date time.Time) (*grid.Grid, bool, error) {
	return fetchInt16(ctx, a.locate(date), a.size, a.size)
}
