// Package datasource supplies daily gridded observations to the climatology
// engine. Each sensor has a small adapter that knows its grid size and how its
// daily files are named on disk.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chrissnell/climatology/internal/grid"
)

var (
	// ErrMetadataUnavailable indicates the grid dimensions could not be determined.
	ErrMetadataUnavailable = errors.New("datasource: metadata unavailable")
	// ErrUnknownSensor indicates a sensor name with no adapter.
	ErrUnknownSensor = errors.New("datasource: unknown sensor")
	// ErrCorruptFile indicates a daily file that exists but cannot be decoded.
	ErrCorruptFile = errors.New("datasource: corrupt file")
)

// Metadata describes the grids a source produces.
type Metadata struct {
	Rows        int    `json:"rows" msgpack:"rows"`
	Cols        int    `json:"cols" msgpack:"cols"`
	Sensor      string `json:"sensor" msgpack:"sensor"`
	Description string `json:"description" msgpack:"description"`
}

// DataSource is the capability the engine needs from a sensor.
//
// FetchDay returns ok == false when no data exists for the date; that is a
// routine condition, not an error. A non-nil error means the input exists but
// is broken.
type DataSource interface {
	ReadMetadata(ctx context.Context) (Metadata, error)
	FetchDay(ctx context.Context, date time.Time) (*grid.Grid, bool, error)
	FileIdentifierFor(date time.Time) string
}

// Params selects and configures a sensor adapter.
type Params struct {
	Sensor     string `json:"sensor" yaml:"sensor"`
	Path       string `json:"path" yaml:"path"`
	Hemisphere string `json:"hemisphere" yaml:"hemisphere"`
	// Frequency is the SSMI channel frequency in GHz, e.g. "37".
	Frequency    string `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	Polarization string `json:"polarization,omitempty" yaml:"polarization,omitempty"`
	// Channel and Time select an AVHRR product, e.g. "temp" and "1400".
	Channel string `json:"channel,omitempty" yaml:"channel,omitempty"`
	Time    string `json:"time,omitempty" yaml:"time,omitempty"`
	// Variable is the NetCDF variable read by the sea ice adapter.
	Variable      string `json:"variable,omitempty" yaml:"variable,omitempty"`
	MetadataFile  string `json:"metadata_file,omitempty" yaml:"metadata_file,omitempty"`
	AddYearToPath bool   `json:"add_year_to_path,omitempty" yaml:"add_year_to_path,omitempty"`
	AddDayToPath  bool   `json:"add_day_to_path,omitempty" yaml:"add_day_to_path,omitempty"`
}

// Suffixes returns the two product qualifiers used in output names: frequency
// and polarization for SSMI, time and channel for AVHRR.
func (p Params) Suffixes() (string, string) {
	switch strings.ToLower(p.Sensor) {
	case SensorSSMI:
		return p.Frequency, p.Polarization
	case SensorAVHRR:
		return p.Time, p.Channel
	case SensorSeaIce:
		return p.Hemisphere, ""
	}
	return "", ""
}

// Sensor names.
const (
	SensorSSMI   = "ssmi"
	SensorAVHRR  = "avhrr"
	SensorSeaIce = "seaice"
	SensorMemory = "memory"
)

// New builds the adapter named by p.Sensor. The memory sensor cannot be built
// from parameters; use NewMemory.
func New(p Params) (DataSource, error) {
	switch strings.ToLower(p.Sensor) {
	case SensorSSMI:
		return NewSSMI(p)
	case SensorAVHRR:
		return NewAVHRR(p)
	case SensorSeaIce:
		return NewSeaIce(p)
	default:
		return nil, fmt.Errorf("%q: %w", p.Sensor, ErrUnknownSensor)
	}
}

// DefaultRange returns the plausible value range for a sensor. ok is false for
// sensors without a documented range.
func DefaultRange(sensor string) (lo, hi float64, ok bool) {
	switch strings.ToLower(sensor) {
	case SensorSSMI:
		// brightness temperature in tenths of a kelvin
		return 500, 3500, true
	case SensorSeaIce:
		// concentration in percent
		return 0, 100, true
	}
	return 0, 0, false
}

func isSouth(hemisphere string) bool {
	return strings.EqualFold(hemisphere, "south") || strings.EqualFold(hemisphere, "s")
}
