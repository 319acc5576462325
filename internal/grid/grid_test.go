package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRowsMarksNaNMissing(t *testing.T) {
	g, err := FromRows([][]float64{
		{1, math.NaN()},
		{3, 4},
	})
	require.NoError(t, err)

	v, ok := g.At(0, 0)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = g.At(0, 1)
	assert.False(t, ok)
	assert.Equal(t, 3, g.ValidCount())
	assert.Equal(t, []float64{1, 3, 4}, g.ValidValues())
}

func TestFromRowsRejectsRaggedInput(t *testing.T) {
	_, err := FromRows([][]float64{{1, 2}, {3}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = FromRows(nil)
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestFromValuesAndFlatten(t *testing.T) {
	g, err := FromValues(2, 2, []float64{5, NoData, 7, 8}, NoData)
	require.NoError(t, err)
	assert.False(t, g.Valid(0, 1))
	assert.Equal(t, []float64{5, NoData, 7, 8}, g.Flatten(NoData))

	_, err = FromValues(2, 2, []float64{1, 2, 3}, NoData)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSetMissingAndClone(t *testing.T) {
	g := New(2, 3)
	g.Set(1, 2, 9)
	c := g.Clone()
	g.SetMissing(1, 2)

	assert.False(t, g.Valid(1, 2))
	v, ok := c.At(1, 2)
	assert.True(t, ok, "clone must not share the validity bitmap")
	assert.Equal(t, 9.0, v)
}

func TestEqualApprox(t *testing.T) {
	a, _ := FromRows([][]float64{{1, math.NaN()}, {3, 4}})
	b, _ := FromRows([][]float64{{1 + 1e-12, math.NaN()}, {3, 4}})
	c, _ := FromRows([][]float64{{1, 2}, {3, 4}})

	assert.True(t, a.EqualApprox(b, 1e-9))
	assert.False(t, a.EqualApprox(c, 1e-9), "validity differs")
	assert.False(t, a.EqualApprox(New(3, 2), 1e-9))
}

func TestAnomalyGridCellsAreRowMajor(t *testing.T) {
	ag := NewAnomalyGrid(3, 3)
	ag.Put(Anomaly{Row: 2, Col: 0, Value: 3})
	ag.Put(Anomaly{Row: 0, Col: 1, Value: 1})
	ag.Put(Anomaly{Row: 1, Col: 2, Value: 2})

	cells := ag.Cells()
	require.Len(t, cells, 3)
	assert.Equal(t, 1.0, cells[0].Value)
	assert.Equal(t, 2.0, cells[1].Value)
	assert.Equal(t, 3.0, cells[2].Value)
	assert.True(t, ag.Contains(1, 2))
	assert.False(t, ag.Contains(1, 1))

	dense := ag.Dense()
	assert.Equal(t, 3, dense.ValidCount())
}
