package grid

import "sort"

// Anomaly is one anomalous cell together with the baseline it was judged against.
type Anomaly struct {
	Row               int     `json:"row" msgpack:"row"`
	Col               int     `json:"col" msgpack:"col"`
	Value             float64 `json:"value" msgpack:"value"`
	Mean              float64 `json:"mean" msgpack:"mean"`
	StandardDeviation float64 `json:"standard_deviation" msgpack:"standard_deviation"`
	ZScore            float64 `json:"z_score" msgpack:"z_score"`
	Probability       float64 `json:"probability" msgpack:"probability"`
	Neighbors         int     `json:"neighbors" msgpack:"neighbors"`
}

// AnomalyGrid is a sparse rows x cols grid holding only anomalous cells.
// It is rebuilt from scratch by every detection and is read-only afterwards.
type AnomalyGrid struct {
	rows  int
	cols  int
	cells map[int]Anomaly
}

// NewAnomalyGrid returns an empty anomaly grid of the given shape.
func NewAnomalyGrid(rows, cols int) *AnomalyGrid {
	return &AnomalyGrid{rows: rows, cols: cols, cells: make(map[int]Anomaly)}
}

// Rows returns the number of rows.
func (a *AnomalyGrid) Rows() int { return a.rows }

// Cols returns the number of columns.
func (a *AnomalyGrid) Cols() int { return a.cols }

// Len returns the number of anomalous cells.
func (a *AnomalyGrid) Len() int { return len(a.cells) }

// Put records an anomaly, replacing any previous entry for the same cell.
func (a *AnomalyGrid) Put(an Anomaly) {
	a.cells[an.Row*a.cols+an.Col] = an
}

// At returns the anomaly at (r, c), if any.
func (a *AnomalyGrid) At(r, c int) (Anomaly, bool) {
	an, ok := a.cells[r*a.cols+c]
	return an, ok
}

// Contains reports whether (r, c) is anomalous.
func (a *AnomalyGrid) Contains(r, c int) bool {
	_, ok := a.cells[r*a.cols+c]
	return ok
}

// Cells returns the anomalies in row-major order.
func (a *AnomalyGrid) Cells() []Anomaly {
	keys := make([]int, 0, len(a.cells))
	for k := range a.cells {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := make([]Anomaly, len(keys))
	for i, k := range keys {
		out[i] = a.cells[k]
	}
	return out
}

// Dense expands the anomaly grid into a Grid where non-anomalous cells are missing.
func (a *AnomalyGrid) Dense() *Grid {
	g := New(a.rows, a.cols)
	for _, an := range a.cells {
		g.Set(an.Row, an.Col, an.Value)
	}
	return g
}
