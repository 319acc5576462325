package accumulator

import (
	"fmt"
	"math"

	"github.com/chrissnell/climatology/internal/grid"
)

// Streaming is a single-pass per-cell Welford estimator. It reads every day
// once instead of twice; rounding differs slightly from the two-pass result.
type Streaming struct {
	rows  int
	cols  int
	gate  QualityGate
	count []int
	mean  []float64
	m2    []float64
	days  int
}

// NewStreaming returns an empty streaming estimator for a rows x cols grid.
func NewStreaming(rows, cols int, gate QualityGate) *Streaming {
	return &Streaming{
		rows:  rows,
		cols:  cols,
		gate:  gate,
		count: make([]int, rows*cols),
		mean:  make([]float64, rows*cols),
		m2:    make([]float64, rows*cols),
	}
}

// Reset clears all running statistics.
func (s *Streaming) Reset() {
	for i := range s.count {
		s.count[i], s.mean[i], s.m2[i] = 0, 0, 0
	}
	s.days = 0
}

// Days returns the number of non-nil day grids folded.
func (s *Streaming) Days() int { return s.days }

// Population returns the number of valid observations folded into (r, c).
func (s *Streaming) Population(r, c int) int { return s.count[r*s.cols+c] }

// Observations returns the total number of values folded across all cells.
func (s *Streaming) Observations() int {
	n := 0
	for _, c := range s.count {
		n += c
	}
	return n
}

// Fold adds one day. A nil day is a no-op.
func (s *Streaming) Fold(day *grid.Grid) error {
	if day == nil {
		return nil
	}
	if day.Rows() != s.rows || day.Cols() != s.cols {
		return fmt.Errorf("day grid is %dx%d, estimator is %dx%d: %w",
			day.Rows(), day.Cols(), s.rows, s.cols, grid.ErrDimensionMismatch)
	}
	for r := 0; r < s.rows; r++ {
		for c := 0; c < s.cols; c++ {
			v, ok := day.At(r, c)
			if !ok || !s.gate.Accept(v) {
				continue
			}
			i := r*s.cols + c
			s.count[i]++
			delta := v - s.mean[i]
			s.mean[i] += delta / float64(s.count[i])
			s.m2[i] += delta * (v - s.mean[i])
		}
	}
	s.days++
	return nil
}

// Merge combines another estimator built over disjoint days (Chan et al.
// pairwise update).
func (s *Streaming) Merge(o *Streaming) error {
	if o.rows != s.rows || o.cols != s.cols {
		return fmt.Errorf("merge %dx%d into %dx%d: %w", o.rows, o.cols, s.rows, s.cols, grid.ErrDimensionMismatch)
	}
	for i := range s.count {
		nb := o.count[i]
		if nb == 0 {
			continue
		}
		na := s.count[i]
		n := na + nb
		delta := o.mean[i] - s.mean[i]
		s.mean[i] += delta * float64(nb) / float64(n)
		s.m2[i] += o.m2[i] + delta*delta*float64(na)*float64(nb)/float64(n)
		s.count[i] = n
	}
	s.days += o.days
	return nil
}

// Mean returns the per-cell mean, missing where no observation was folded.
func (s *Streaming) Mean() *grid.Grid {
	g := grid.New(s.rows, s.cols)
	for i, n := range s.count {
		if n > 0 {
			g.Set(i/s.cols, i%s.cols, s.mean[i])
		}
	}
	return g
}

// StandardDeviation returns sqrt(m2/(n-bias)) where n exceeds bias.
func (s *Streaming) StandardDeviation(bias int) *grid.Grid {
	g := grid.New(s.rows, s.cols)
	for i, n := range s.count {
		if n > bias {
			g.Set(i/s.cols, i%s.cols, math.Sqrt(s.m2[i]/float64(n-bias)))
		}
	}
	return g
}

// PopulationGrid returns the per-cell counts as a fully valid grid.
func (s *Streaming) PopulationGrid() *grid.Grid {
	g := grid.New(s.rows, s.cols)
	for i, n := range s.count {
		g.Set(i/s.cols, i%s.cols, float64(n))
	}
	return g
}
