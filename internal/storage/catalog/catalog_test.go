package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/storage"
)

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func label(stat storage.Statistic) storage.Label {
	return storage.Label{
		RunID: "r1", Sensor: "ssmi", Suffix1: "37", Suffix2: "v", Statistic: stat, Increment: "month",
		Start: time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2014, 1, 30, 0, 0, 0, 0, time.UTC),
	}
}

func TestProducts(t *testing.T) {
	ctx := context.Background()
	c := openCatalog(t)
	require.NoError(t, c.CheckHealth(ctx))

	mean := grid.New(2, 2)
	mean.Set(0, 0, 10)
	mean.Set(1, 1, 30)
	require.NoError(t, c.WriteGrid(ctx, mean, label(storage.StatMean)))
	require.NoError(t, c.WriteGrid(ctx, grid.New(2, 2), label(storage.StatStandardDeviation)))
	// rewriting a product replaces it
	require.NoError(t, c.WriteGrid(ctx, mean, label(storage.StatMean)))

	products, err := c.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)

	p, err := c.GetProduct(ctx, "climate-ssmi37v-mean-month-2011-2014")
	require.NoError(t, err)
	assert.Equal(t, 2, p.ValidCells)
	require.NotNil(t, p.MeanValue)
	assert.Equal(t, 20.0, *p.MeanValue)
	assert.Equal(t, 10.0, *p.MinValue)
	assert.Equal(t, 30.0, *p.MaxValue)
	assert.Equal(t, "2014-01-30", p.EndDate)

	sd, err := c.GetProduct(ctx, "climate-ssmi37v-sd-month-2011-2014")
	require.NoError(t, err)
	assert.Nil(t, sd.MeanValue, "all-NODATA grid has no summary")

	_, err = c.GetProduct(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAnomalies(t *testing.T) {
	ctx := context.Background()
	c := openCatalog(t)

	day := time.Date(2014, 1, 5, 0, 0, 0, 0, time.UTC)
	ag := grid.NewAnomalyGrid(3, 3)
	ag.Put(grid.Anomaly{Row: 2, Col: 2, Value: 5, ZScore: 4, Neighbors: 1})
	ag.Put(grid.Anomaly{Row: 1, Col: 1, Value: 6, ZScore: 5, Neighbors: 1})
	require.NoError(t, c.WriteAnomalies(ctx, day, ag, label(storage.StatMean)))
	require.NoError(t, c.WriteAnomalies(ctx, day.AddDate(0, 0, 1), grid.NewAnomalyGrid(3, 3), label(storage.StatMean)))

	got, err := c.AnomaliesForDate(ctx, day)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Row)
	assert.Equal(t, 5.0, got[0].ZScore)
	assert.Equal(t, "2014-01-05", got[0].Date)
	assert.Equal(t, "climate-ssmi37v-anomalies-month-2011-2014", got[0].Baseline)

	// re-detecting a day replaces its anomalies
	smaller := grid.NewAnomalyGrid(3, 3)
	smaller.Put(grid.Anomaly{Row: 0, Col: 0, Value: 1})
	require.NoError(t, c.WriteAnomalies(ctx, day, smaller, label(storage.StatMean)))
	got, err = c.AnomaliesForDate(ctx, day)
	require.NoError(t, err)
	require.Len(t, got, 1)

	dates, err := c.AnomalyDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []DateSummary{{Date: "2014-01-05", Count: 1}}, dates)
}
