// Package storage defines the output sinks that receive baseline grids and
// detected anomalies, plus the health bookkeeping shared by all of them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chrissnell/climatology/internal/grid"
)

// ErrNotFound indicates a stored product that does not exist.
var ErrNotFound = errors.New("storage: not found")

// Statistic names the quantity held by a grid.
type Statistic string

const (
	StatMean              Statistic = "mean"
	StatStandardDeviation Statistic = "sd"
	StatPopulation        Statistic = "population"
	StatAnomalies         Statistic = "anomalies"
)

// Label identifies one output product.
type Label struct {
	RunID     string    `json:"run_id" msgpack:"run_id"`
	Sensor    string    `json:"sensor" msgpack:"sensor"`
	Suffix1   string    `json:"suffix1,omitempty" msgpack:"suffix1,omitempty"`
	Suffix2   string    `json:"suffix2,omitempty" msgpack:"suffix2,omitempty"`
	Statistic Statistic `json:"statistic" msgpack:"statistic"`
	Increment string    `json:"increment" msgpack:"increment"`
	Start     time.Time `json:"start" msgpack:"start"`
	End       time.Time `json:"end" msgpack:"end"`
	// Tag distinguishes several products of one run, e.g. per-window baselines.
	Tag string `json:"tag,omitempty" msgpack:"tag,omitempty"`
}

// Name returns the product file stem:
// climate-<sensor><suffix1><suffix2>-<statistic>-<increment>-<firstyear>-<lastyear>[-<tag>]
func (l Label) Name() string {
	name := "climate-" + l.Sensor + l.Suffix1 + l.Suffix2 + "-" + string(l.Statistic) + "-" + l.Increment +
		"-" + strconv.Itoa(l.Start.Year()) + "-" + strconv.Itoa(l.End.Year())
	if l.Tag != "" {
		name += "-" + l.Tag
	}
	return name
}

// WithStatistic returns a copy of l for another statistic.
func (l Label) WithStatistic(s Statistic) Label {
	l.Statistic = s
	return l
}

func (l Label) String() string {
	return fmt.Sprintf("%s (run %s)", l.Name(), l.RunID)
}

// Sink receives finalized grids.
type Sink interface {
	Name() string
	WriteGrid(ctx context.Context, g *grid.Grid, label Label) error
	Close() error
}

// AnomalySink is implemented by sinks that also store detected anomalies.
// label describes the baseline the anomalies were judged against.
type AnomalySink interface {
	WriteAnomalies(ctx context.Context, date time.Time, ag *grid.AnomalyGrid, label Label) error
}
