package cache

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/storage"
)

func label() storage.Label {
	return storage.Label{
		RunID: "r1", Sensor: "ssmi", Suffix1: "37", Suffix2: "v", Statistic: storage.StatMean, Increment: "month",
		Start: time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2014, 1, 30, 0, 0, 0, 0, time.UTC),
	}
}

func TestGridReload(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	g := grid.New(3, 2)
	g.Set(0, 0, 1.25)
	g.Set(2, 1, -7)
	require.NoError(t, s.WriteGrid(ctx, g, label()))

	got, err := s.ReadGrid(ctx, label())
	require.NoError(t, err)
	assert.True(t, g.EqualApprox(got, 0))
	assert.False(t, got.Valid(1, 0))

	other := label()
	other.RunID = "r2"
	_, err = s.ReadGrid(ctx, other)
	assert.NoError(t, err, "products are keyed by name, not run")

	_, err = s.ReadGrid(ctx, label().WithStatistic(storage.StatStandardDeviation))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGridReloadKeepsSentinelValuedCells(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	g := grid.New(2, 2)
	g.Set(0, 0, grid.NoData)
	g.Set(0, 1, 3)
	g.Set(1, 1, math.Inf(-1))
	require.NoError(t, s.WriteGrid(ctx, g, label()))

	got, err := s.ReadGrid(ctx, label())
	require.NoError(t, err)
	v, ok := got.At(0, 0)
	require.True(t, ok, "a real value equal to the no-data sentinel is not missing")
	assert.Equal(t, grid.NoData, v)
	assert.False(t, got.Valid(1, 0))
	assert.Equal(t, 3, got.ValidCount())
}

func TestGridRecordWithoutBitmap(t *testing.T) {
	rec := GridRecord{Rows: 1, Cols: 3, NoData: grid.NoData, Values: []float64{1, grid.NoData, 2}}
	g, err := rec.Grid()
	require.NoError(t, err)
	assert.Equal(t, 2, g.ValidCount())
	assert.False(t, g.Valid(0, 1))

	rec.Valid = []bool{true, true}
	_, err = rec.Grid()
	assert.ErrorIs(t, err, grid.ErrDimensionMismatch)
}

func TestAnomalyReload(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	ag := grid.NewAnomalyGrid(4, 4)
	ag.Put(grid.Anomaly{Row: 1, Col: 1, Value: 10, Mean: 2, StandardDeviation: 1, ZScore: 8, Neighbors: 1})
	ag.Put(grid.Anomaly{Row: 1, Col: 2, Value: 11, Mean: 2, StandardDeviation: 1, ZScore: 9, Neighbors: 1})
	day := time.Date(2014, 1, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.WriteAnomalies(ctx, day, ag, label()))

	got, err := s.ReadAnomalies(ctx, day, label())
	require.NoError(t, err)
	assert.Equal(t, ag.Cells(), got.Cells())
	assert.Equal(t, 4, got.Rows())

	_, err = s.ReadAnomalies(ctx, day.AddDate(0, 0, 1), label())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
