package climatology

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chrissnell/climatology/internal/accumulator"
	"github.com/chrissnell/climatology/internal/anomaly"
	"github.com/chrissnell/climatology/internal/datasource"
	"github.com/chrissnell/climatology/internal/storage"
	"github.com/chrissnell/climatology/internal/timespan"
)

// ErrInvalidRunConfig indicates a run configuration the engine cannot execute.
var ErrInvalidRunConfig = errors.New("climatology: invalid run configuration")

// Strategy selects how the standard deviation is accumulated.
type Strategy string

const (
	// StrategyTwoPass reads every day twice: once for the mean, once for the
	// squared deviations from it.
	StrategyTwoPass Strategy = "two-pass"
	// StrategyStreaming reads every day once with a per-cell Welford estimator.
	StrategyStreaming Strategy = "streaming"
)

// Scope selects how many baselines a run produces.
type Scope string

const (
	// ScopeRun folds every window of the range into one baseline.
	ScopeRun Scope = "run"
	// ScopeWindow produces one baseline per window.
	ScopeWindow Scope = "window"
)

// Cell addresses one grid cell.
type Cell struct {
	Row int `json:"row" yaml:"row"`
	Col int `json:"col" yaml:"col"`
}

// RunConfig is the immutable description of one baseline run.
type RunConfig struct {
	// Name identifies the run in logs.
	Name      string
	Sensor    datasource.Params
	Start     time.Time
	End       time.Time
	Increment timespan.Increment

	// MinValue and MaxValue bound the values folded and judged when
	// FilterBadData is set. Missing cells are always skipped.
	MinValue      float64
	MaxValue      float64
	FilterBadData bool

	SDThreshold            float64
	MinSupportingNeighbors int

	// Bias is subtracted from the population in the standard deviation
	// denominator: 1 for the sample SD, 0 for the population SD.
	Bias int

	// Workers folds that many days concurrently into private partial
	// accumulators. RowBands splits each day's fold into disjoint row bands.
	Workers  int
	RowBands int

	Strategy Strategy
	Scope    Scope

	// Probe, when set, is logged after every baseline.
	Probe *Cell
}

// Validate checks c. The zero Strategy and Scope mean two-pass and run.
func (c RunConfig) Validate() error {
	switch {
	case c.Start.IsZero() || c.End.IsZero():
		return fmt.Errorf("start and end dates are required: %w", ErrInvalidRunConfig)
	case c.Start.After(c.End):
		return fmt.Errorf("%s > %s: %w", c.Start.Format(timespan.DateLayout), c.End.Format(timespan.DateLayout),
			errors.Join(ErrInvalidRunConfig, timespan.ErrInvalidRange))
	case !c.Increment.Valid():
		return fmt.Errorf("increment %v: %w", c.Increment, ErrInvalidRunConfig)
	case c.Bias < 0:
		return fmt.Errorf("bias %d is negative: %w", c.Bias, ErrInvalidRunConfig)
	case c.Workers < 0 || c.RowBands < 0:
		return fmt.Errorf("workers %d and row bands %d must not be negative: %w", c.Workers, c.RowBands, ErrInvalidRunConfig)
	}

	switch c.Strategy {
	case "", StrategyTwoPass, StrategyStreaming:
	default:
		return fmt.Errorf("strategy %q: %w", c.Strategy, ErrInvalidRunConfig)
	}
	switch c.Scope {
	case "", ScopeRun, ScopeWindow:
	default:
		return fmt.Errorf("scope %q: %w", c.Scope, ErrInvalidRunConfig)
	}

	if err := c.DetectorParams().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRunConfig, err)
	}
	return nil
}

func (c RunConfig) strategy() Strategy {
	if c.Strategy == "" {
		return StrategyTwoPass
	}
	return c.Strategy
}

func (c RunConfig) scope() Scope {
	if c.Scope == "" {
		return ScopeRun
	}
	return c.Scope
}

func (c RunConfig) sensor() string {
	if c.Sensor.Sensor == "" {
		return datasource.SensorMemory
	}
	return strings.ToLower(c.Sensor.Sensor)
}

// ProductNames returns the file stems of the mean baselines c produces.
// Two runs that share a name would overwrite each other's products.
func (c RunConfig) ProductNames() ([]string, error) {
	labels, err := c.labels("")
	if err != nil {
		return nil, err
	}
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.WithStatistic(storage.StatMean).Name()
	}
	return names, nil
}

func (c RunConfig) labels(runID string) ([]storage.Label, error) {
	groups, err := c.groups(runID)
	if err != nil {
		return nil, err
	}
	labels := make([]storage.Label, len(groups))
	for i, g := range groups {
		labels[i] = g.label
	}
	return labels, nil
}

func (c RunConfig) groups(runID string) ([]group, error) {
	w, err := timespan.New(c.Start, c.End, c.Increment)
	if err != nil {
		return nil, err
	}
	windows := w.Windows()

	s1, s2 := c.Sensor.Suffixes()
	base := storage.Label{
		RunID:     runID,
		Sensor:    c.sensor(),
		Suffix1:   s1,
		Suffix2:   s2,
		Increment: c.Increment.Label(w.Start()),
	}

	if c.scope() == ScopeRun {
		span := timespan.Window{Start: w.Start(), End: w.End(), Increment: w.Increment()}
		label := base
		label.Start, label.End = span.Start, span.End
		return []group{{windows: windows, span: span, label: label}}, nil
	}

	groups := make([]group, len(windows))
	for i, win := range windows {
		label := base
		label.Start, label.End = win.Start, win.End
		label.Tag = win.Start.Format("20060102")
		groups[i] = group{windows: []timespan.Window{win}, span: win, label: label}
	}
	return groups, nil
}

// Gate returns the accumulator quality gate for c.
func (c RunConfig) Gate() accumulator.QualityGate {
	return accumulator.QualityGate{
		MinValue: c.MinValue,
		MaxValue: c.MaxValue,
		Disabled: !c.FilterBadData,
	}
}

// DetectorParams returns the anomaly detection parameters for c.
func (c RunConfig) DetectorParams() anomaly.Params {
	p := anomaly.Params{
		SDThreshold:            c.SDThreshold,
		MinValue:               math.Inf(-1),
		MaxValue:               math.Inf(1),
		MinSupportingNeighbors: c.MinSupportingNeighbors,
	}
	if c.FilterBadData {
		p.MinValue, p.MaxValue = c.MinValue, c.MaxValue
	}
	return p
}
