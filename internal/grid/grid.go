// Package grid provides the fixed-size value grid shared by the data sources,
// the accumulator and the anomaly detector.
//
// A Grid stores float64 values in a gonum dense matrix and keeps a parallel
// validity bitmap, so a missing cell is an explicit state rather than a magic
// number hidden among the values.
package grid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// NoData is substituted for undefined cells when a grid is flattened for output.
const NoData = -9999.0

var (
	// ErrDimensionMismatch indicates two grids that must share a shape do not.
	ErrDimensionMismatch = errors.New("grid: dimension mismatch")
	// ErrInvalidDimensions indicates a non-positive row or column count.
	ErrInvalidDimensions = errors.New("grid: rows and cols must be positive")
)

// Grid is a rows x cols array of values where each cell is either a value or missing.
type Grid struct {
	rows   int
	cols   int
	values *mat.Dense
	valid  []bool
}

// New returns a grid with every cell missing. It panics if rows or cols is not
// positive, mirroring mat.NewDense.
func New(rows, cols int) *Grid {
	if rows <= 0 || cols <= 0 {
		panic(ErrInvalidDimensions)
	}
	return &Grid{
		rows:   rows,
		cols:   cols,
		values: mat.NewDense(rows, cols, nil),
		valid:  make([]bool, rows*cols),
	}
}

// FromRows builds a grid from row slices. NaN marks a missing cell.
func FromRows(data [][]float64) (*Grid, error) {
	if len(data) == 0 || len(data[0]) == 0 {
		return nil, ErrInvalidDimensions
	}
	g := New(len(data), len(data[0]))
	for r, row := range data {
		if len(row) != g.cols {
			return nil, fmt.Errorf("row %d has %d columns, expected %d: %w", r, len(row), g.cols, ErrDimensionMismatch)
		}
		for c, v := range row {
			if math.IsNaN(v) {
				continue
			}
			g.Set(r, c, v)
		}
	}
	return g, nil
}

// FromValues builds a grid from row-major values. Cells equal to noData are
// left missing.
func FromValues(rows, cols int, values []float64, noData float64) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, ErrInvalidDimensions
	}
	if len(values) != rows*cols {
		return nil, fmt.Errorf("have %d values for %dx%d grid: %w", len(values), rows, cols, ErrDimensionMismatch)
	}
	g := New(rows, cols)
	for i, v := range values {
		if v == noData || math.IsNaN(v) {
			continue
		}
		g.Set(i/cols, i%cols, v)
	}
	return g, nil
}

// Rows returns the number of rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of columns.
func (g *Grid) Cols() int { return g.cols }

// Dims returns rows and columns.
func (g *Grid) Dims() (int, int) { return g.rows, g.cols }

// SameShape reports whether o has the same dimensions as g.
func (g *Grid) SameShape(o *Grid) bool {
	return o != nil && g.rows == o.rows && g.cols == o.cols
}

// At returns the value at (r, c) and whether the cell holds a value.
func (g *Grid) At(r, c int) (float64, bool) {
	if !g.valid[r*g.cols+c] {
		return 0, false
	}
	return g.values.At(r, c), true
}

// Valid reports whether (r, c) holds a value.
func (g *Grid) Valid(r, c int) bool {
	return g.valid[r*g.cols+c]
}

// Set stores v at (r, c) and marks the cell valid.
func (g *Grid) Set(r, c int, v float64) {
	g.values.Set(r, c, v)
	g.valid[r*g.cols+c] = true
}

// SetMissing marks (r, c) as missing.
func (g *Grid) SetMissing(r, c int) {
	g.values.Set(r, c, 0)
	g.valid[r*g.cols+c] = false
}

// ValidCount returns the number of cells holding a value.
func (g *Grid) ValidCount() int {
	n := 0
	for _, ok := range g.valid {
		if ok {
			n++
		}
	}
	return n
}

// ValidValues returns the values of all valid cells in row-major order.
func (g *Grid) ValidValues() []float64 {
	out := make([]float64, 0, g.ValidCount())
	for i, ok := range g.valid {
		if ok {
			out = append(out, g.values.At(i/g.cols, i%g.cols))
		}
	}
	return out
}

// Flatten returns row-major values with noData in place of missing cells.
func (g *Grid) Flatten(noData float64) []float64 {
	out := make([]float64, g.rows*g.cols)
	for i := range out {
		if g.valid[i] {
			out[i] = g.values.At(i/g.cols, i%g.cols)
		} else {
			out[i] = noData
		}
	}
	return out
}

// Validity returns a copy of the row-major validity bitmap.
func (g *Grid) Validity() []bool {
	return append([]bool(nil), g.valid...)
}

// Clone returns a deep copy of g.
func (g *Grid) Clone() *Grid {
	return &Grid{
		rows:   g.rows,
		cols:   g.cols,
		values: mat.DenseCopyOf(g.values),
		valid:  append([]bool(nil), g.valid...),
	}
}

// Matrix returns a copy of the values as a dense matrix. Missing cells are zero.
func (g *Grid) Matrix() *mat.Dense {
	return mat.DenseCopyOf(g.values)
}

// EqualApprox reports whether g and o have the same shape, the same validity
// bitmap and valid values within tol of each other.
func (g *Grid) EqualApprox(o *Grid, tol float64) bool {
	if !g.SameShape(o) {
		return false
	}
	for i := range g.valid {
		if g.valid[i] != o.valid[i] {
			return false
		}
	}
	// Missing cells are stored as zero in both grids, so the whole matrix can be compared.
	return mat.EqualApprox(g.values, o.values, tol)
}
