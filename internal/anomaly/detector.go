// Package anomaly finds spatially corroborated departures from a baseline.
//
// Detection runs in two stages. Condense keeps every in-range observation
// outside mean +/- k*sd. Corroborate then keeps only condensed cells that have
// enough condensed cells among their eight immediate neighbours, discarding
// isolated noise.
package anomaly

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/chrissnell/climatology/internal/grid"
)

var (
	// ErrInvalidParams indicates unusable detection parameters.
	ErrInvalidParams = errors.New("anomaly: invalid parameters")
)

// neighbourOffsets lists the 8-connected neighbourhood (3x3 block minus self).
var neighbourOffsets = [8][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// Params configures detection.
type Params struct {
	// SDThreshold is the number of standard deviations a value must lie beyond the mean.
	SDThreshold float64
	// MinValue and MaxValue bound plausible observations; others are discarded.
	MinValue float64
	MaxValue float64
	// MinSupportingNeighbors is the number of condensed neighbours a cell needs to be kept.
	MinSupportingNeighbors int
}

// DefaultParams returns a two-sigma threshold with one supporting neighbour
// and an unbounded value range.
func DefaultParams() Params {
	return Params{
		SDThreshold:            2,
		MinValue:               math.Inf(-1),
		MaxValue:               math.Inf(1),
		MinSupportingNeighbors: 1,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	switch {
	case !(p.SDThreshold > 0):
		return fmt.Errorf("sd threshold %v must be positive: %w", p.SDThreshold, ErrInvalidParams)
	case p.MinValue > p.MaxValue:
		return fmt.Errorf("min value %v > max value %v: %w", p.MinValue, p.MaxValue, ErrInvalidParams)
	case p.MinSupportingNeighbors < 0 || p.MinSupportingNeighbors > len(neighbourOffsets):
		return fmt.Errorf("min supporting neighbors %d outside 0..8: %w", p.MinSupportingNeighbors, ErrInvalidParams)
	}
	return nil
}

// Mask marks the condensed cells of a grid.
type Mask struct {
	rows int
	cols int
	set  []bool
}

// Condensed reports whether (r, c) was condensed.
func (m *Mask) Condensed(r, c int) bool { return m.set[r*m.cols+c] }

// Count returns the number of condensed cells.
func (m *Mask) Count() int {
	n := 0
	for _, ok := range m.set {
		if ok {
			n++
		}
	}
	return n
}

// Neighbours returns how many of the (up to eight) neighbours of (r, c) are
// condensed. Cells on the grid boundary only count the neighbours that exist.
func (m *Mask) Neighbours(r, c int) int {
	n := 0
	for _, off := range neighbourOffsets {
		nr, nc := r+off[0], c+off[1]
		if nr < 0 || nc < 0 || nr >= m.rows || nc >= m.cols {
			continue
		}
		if m.set[nr*m.cols+nc] {
			n++
		}
	}
	return n
}

// Detector holds validated parameters. It keeps no state between calls.
type Detector struct {
	params Params
	normal distuv.Normal
}

// NewDetector validates p and returns a detector.
func NewDetector(p Params) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		params: p,
		normal: distuv.Normal{Mu: 0, Sigma: 1},
	}, nil
}

// Params returns the detector's parameters.
func (d *Detector) Params() Params { return d.params }

// Condense is stage one: the set of in-range observations outside the
// threshold band. Cells with an undefined mean or standard deviation never
// condense.
func (d *Detector) Condense(obs, mean, sd *grid.Grid) (*Mask, error) {
	if err := checkShapes(obs, mean, sd); err != nil {
		return nil, err
	}
	rows, cols := obs.Dims()
	m := &Mask{rows: rows, cols: cols, set: make([]bool, rows*cols)}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.set[r*cols+c] = d.condenseCell(obs, mean, sd, r, c)
		}
	}
	return m, nil
}

func (d *Detector) condenseCell(obs, mean, sd *grid.Grid, r, c int) bool {
	v, ok := obs.At(r, c)
	if !ok || v < d.params.MinValue || v > d.params.MaxValue {
		return false
	}
	mu, ok := mean.At(r, c)
	if !ok {
		return false
	}
	sigma, ok := sd.At(r, c)
	if !ok {
		return false
	}
	low := mu - d.params.SDThreshold*sigma
	high := mu + d.params.SDThreshold*sigma
	return v < low || v > high
}

// Corroborate is stage two: keep condensed cells with at least
// MinSupportingNeighbors condensed neighbours.
func (d *Detector) Corroborate(mask *Mask, obs, mean, sd *grid.Grid) *grid.AnomalyGrid {
	out := grid.NewAnomalyGrid(mask.rows, mask.cols)
	for r := 0; r < mask.rows; r++ {
		for c := 0; c < mask.cols; c++ {
			if !mask.Condensed(r, c) {
				continue
			}
			n := mask.Neighbours(r, c)
			if n < d.params.MinSupportingNeighbors {
				continue
			}
			out.Put(d.describe(obs, mean, sd, r, c, n))
		}
	}
	return out
}

// Detect runs both stages.
func (d *Detector) Detect(obs, mean, sd *grid.Grid) (*grid.AnomalyGrid, error) {
	mask, err := d.Condense(obs, mean, sd)
	if err != nil {
		return nil, err
	}
	return d.Corroborate(mask, obs, mean, sd), nil
}

// describe fills in the statistics of a kept cell. A zero standard deviation
// leaves the z-score and probability at zero so the record stays encodable.
func (d *Detector) describe(obs, mean, sd *grid.Grid, r, c, neighbours int) grid.Anomaly {
	v, _ := obs.At(r, c)
	mu, _ := mean.At(r, c)
	sigma, _ := sd.At(r, c)

	an := grid.Anomaly{
		Row:               r,
		Col:               c,
		Value:             v,
		Mean:              mu,
		StandardDeviation: sigma,
		Neighbors:         neighbours,
	}
	if sigma > 0 {
		an.ZScore = (v - mu) / sigma
		an.Probability = 2 * d.normal.Survival(math.Abs(an.ZScore))
	}
	return an
}

// Detect is a convenience wrapper around NewDetector and Detector.Detect.
func Detect(obs, mean, sd *grid.Grid, p Params) (*grid.AnomalyGrid, error) {
	d, err := NewDetector(p)
	if err != nil {
		return nil, err
	}
	return d.Detect(obs, mean, sd)
}

func checkShapes(obs, mean, sd *grid.Grid) error {
	if obs == nil || mean == nil || sd == nil {
		return fmt.Errorf("observation, mean and standard deviation grids are required: %w", ErrInvalidParams)
	}
	if !obs.SameShape(mean) || !obs.SameShape(sd) {
		return fmt.Errorf("observation %dx%d vs baseline %dx%d/%dx%d: %w",
			obs.Rows(), obs.Cols(), mean.Rows(), mean.Cols(), sd.Rows(), sd.Cols(), grid.ErrDimensionMismatch)
	}
	return nil
}
