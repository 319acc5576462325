// Package accumulator folds daily grids into per-cell running statistics and
// finalizes them into mean and standard-deviation grids.
//
// The reference strategy is two passes over the same days: the first in
// ModeSum to build the mean, the second in ModeSquaredDeviation against that
// mean. Streaming offers a single-pass alternative.
package accumulator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/chrissnell/climatology/internal/grid"
)

// Mode selects what FoldDay accumulates.
type Mode int

const (
	// ModeSum accumulates values for the mean.
	ModeSum Mode = iota
	// ModeSquaredDeviation accumulates squared deviations from a finalized mean.
	ModeSquaredDeviation
)

func (m Mode) String() string {
	switch m {
	case ModeSum:
		return "sum"
	case ModeSquaredDeviation:
		return "squared-deviation"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

var (
	// ErrMeanRequired indicates a squared-deviation fold without a mean grid.
	ErrMeanRequired = errors.New("accumulator: squared-deviation mode requires a mean grid")
	// ErrUnknownMode indicates an unsupported fold mode.
	ErrUnknownMode = errors.New("accumulator: unknown fold mode")
)

// QualityGate decides which cell values may be folded. The same gate is
// applied in both passes.
type QualityGate struct {
	MinValue float64
	MaxValue float64
	// Disabled lets every non-missing value through.
	Disabled bool
}

// Accept reports whether v passes the gate.
func (q QualityGate) Accept(v float64) bool {
	if q.Disabled {
		return true
	}
	return v >= q.MinValue && v <= q.MaxValue
}

// Accumulator holds per-cell sums, squared-deviation sums and populations.
type Accumulator struct {
	rows       int
	cols       int
	gate       QualityGate
	sum        *mat.Dense
	sqDev      *mat.Dense
	population []int
	days       int
}

// New returns a zeroed accumulator for a rows x cols grid.
func New(rows, cols int, gate QualityGate) *Accumulator {
	return &Accumulator{
		rows:       rows,
		cols:       cols,
		gate:       gate,
		sum:        mat.NewDense(rows, cols, nil),
		sqDev:      mat.NewDense(rows, cols, nil),
		population: make([]int, rows*cols),
	}
}

// Reset zeroes every running statistic.
func (a *Accumulator) Reset() {
	a.sum.Zero()
	a.sqDev.Zero()
	for i := range a.population {
		a.population[i] = 0
	}
	a.days = 0
}

// Dims returns rows and columns.
func (a *Accumulator) Dims() (int, int) { return a.rows, a.cols }

// Days returns the number of non-nil day grids folded since the last Reset.
func (a *Accumulator) Days() int { return a.days }

// Population returns the number of valid observations folded into (r, c).
func (a *Accumulator) Population(r, c int) int {
	return a.population[r*a.cols+c]
}

// Observations returns the total number of values folded across all cells.
func (a *Accumulator) Observations() int {
	n := 0
	for _, p := range a.population {
		n += p
	}
	return n
}

// PopulationGrid returns the per-cell populations as a fully valid grid.
func (a *Accumulator) PopulationGrid() *grid.Grid {
	g := grid.New(a.rows, a.cols)
	for i, n := range a.population {
		g.Set(i/a.cols, i%a.cols, float64(n))
	}
	return g
}

// FoldDay folds one day's grid. A nil day means the day was unavailable and
// leaves every population untouched.
func (a *Accumulator) FoldDay(day *grid.Grid, mode Mode, mean *grid.Grid) error {
	if day == nil {
		return nil
	}
	if err := a.check(day, mode, mean); err != nil {
		return err
	}
	a.foldRows(day, mode, mean, 0, a.rows)
	a.days++
	return nil
}

// FoldDayParallel is FoldDay with the rows split into disjoint bands, one
// goroutine per band. No two goroutines touch the same cell.
func (a *Accumulator) FoldDayParallel(ctx context.Context, day *grid.Grid, mode Mode, mean *grid.Grid, workers int) error {
	if day == nil {
		return nil
	}
	if err := a.check(day, mode, mean); err != nil {
		return err
	}
	if workers <= 1 || a.rows < 2 {
		a.foldRows(day, mode, mean, 0, a.rows)
		a.days++
		return nil
	}
	if workers > a.rows {
		workers = a.rows
	}

	g, ctx := errgroup.WithContext(ctx)
	band := (a.rows + workers - 1) / workers
	for r0 := 0; r0 < a.rows; r0 += band {
		r1 := min(r0+band, a.rows)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			a.foldRows(day, mode, mean, r0, r1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	a.days++
	return nil
}

func (a *Accumulator) check(day *grid.Grid, mode Mode, mean *grid.Grid) error {
	if day.Rows() != a.rows || day.Cols() != a.cols {
		return fmt.Errorf("day grid is %dx%d, accumulator is %dx%d: %w",
			day.Rows(), day.Cols(), a.rows, a.cols, grid.ErrDimensionMismatch)
	}
	switch mode {
	case ModeSum:
	case ModeSquaredDeviation:
		if mean == nil {
			return ErrMeanRequired
		}
		if !day.SameShape(mean) {
			return fmt.Errorf("mean grid: %w", grid.ErrDimensionMismatch)
		}
	default:
		return fmt.Errorf("%v: %w", mode, ErrUnknownMode)
	}
	return nil
}

func (a *Accumulator) foldRows(day *grid.Grid, mode Mode, mean *grid.Grid, r0, r1 int) {
	for r := r0; r < r1; r++ {
		for c := 0; c < a.cols; c++ {
			v, ok := day.At(r, c)
			if !ok || !a.gate.Accept(v) {
				continue
			}

			switch mode {
			case ModeSum:
				a.sum.Set(r, c, a.sum.At(r, c)+v)
			case ModeSquaredDeviation:
				m, ok := mean.At(r, c)
				if !ok {
					// no deviation against an undefined mean
					continue
				}
				diff := v - m
				a.sqDev.Set(r, c, a.sqDev.At(r, c)+diff*diff)
			}
			a.population[r*a.cols+c]++
		}
	}
}

// Merge adds a partial accumulator built over a disjoint set of days into a.
func (a *Accumulator) Merge(o *Accumulator) error {
	if o.rows != a.rows || o.cols != a.cols {
		return fmt.Errorf("merge %dx%d into %dx%d: %w", o.rows, o.cols, a.rows, a.cols, grid.ErrDimensionMismatch)
	}
	a.sum.Add(a.sum, o.sum)
	a.sqDev.Add(a.sqDev, o.sqDev)
	for i, n := range o.population {
		a.population[i] += n
	}
	a.days += o.days
	return nil
}

// FinalizeMean returns sum/population for every cell with a non-zero
// population. Other cells are missing (NODATA).
func (a *Accumulator) FinalizeMean() *grid.Grid {
	g := grid.New(a.rows, a.cols)
	for r := 0; r < a.rows; r++ {
		for c := 0; c < a.cols; c++ {
			n := a.population[r*a.cols+c]
			if n > 0 {
				g.Set(r, c, a.sum.At(r, c)/float64(n))
			}
		}
	}
	return g
}

// FinalizeStandardDeviation returns sqrt(sqDev/(population-bias)) for every
// cell whose population exceeds bias. bias 1 is the sample standard
// deviation, bias 0 the population standard deviation.
func (a *Accumulator) FinalizeStandardDeviation(bias int) *grid.Grid {
	g := grid.New(a.rows, a.cols)
	for r := 0; r < a.rows; r++ {
		for c := 0; c < a.cols; c++ {
			n := a.population[r*a.cols+c]
			if n > bias {
				g.Set(r, c, math.Sqrt(a.sqDev.At(r, c)/float64(n-bias)))
			}
		}
	}
	return g
}
