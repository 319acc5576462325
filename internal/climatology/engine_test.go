package climatology

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/climatology/internal/datasource"
	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/metrics"
	"github.com/chrissnell/climatology/internal/storage"
	"github.com/chrissnell/climatology/internal/storage/cache"
	"github.com/chrissnell/climatology/internal/timespan"
)

var nan = math.NaN()

type recordingSink struct {
	mu        sync.Mutex
	grids     map[string]*grid.Grid
	anomalies map[string]*grid.AnomalyGrid
}

func newRecordingSink() *recordingSink {
	return &recordingSink{grids: map[string]*grid.Grid{}, anomalies: map[string]*grid.AnomalyGrid{}}
}

func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) WriteGrid(_ context.Context, g *grid.Grid, label storage.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grids[label.Name()] = g
	return nil
}

func (s *recordingSink) WriteAnomalies(_ context.Context, date time.Time, ag *grid.AnomalyGrid, label storage.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies[label.Name()+"@"+date.Format(timespan.DateLayout)] = ag
	return nil
}

func mustRows(t *testing.T, rows [][]float64) *grid.Grid {
	t.Helper()
	g, err := grid.FromRows(rows)
	require.NoError(t, err)
	return g
}

func baseConfig(start, end time.Time) RunConfig {
	return RunConfig{
		Sensor:                 datasource.Params{Sensor: datasource.SensorMemory},
		Start:                  start,
		End:                    end,
		Increment:              timespan.None,
		MinValue:               0,
		MaxValue:               100,
		FilterBadData:          true,
		SDThreshold:            2,
		MinSupportingNeighbors: 1,
		Bias:                   1,
	}
}

// threeDaySource holds three days on a 2x2 grid:
//
//	(0,0): 10, 20, 30       mean 20, sd 10
//	(0,1): 10, missing, 9999 mean 10, sd NODATA
//	(1,0): always missing   mean NODATA
//	(1,1): 5, 5, 5          mean 5, sd 0
func threeDaySource(t *testing.T) *datasource.Memory {
	src := datasource.NewMemory(2, 2)
	src.Put(timespan.Date(2020, 1, 1), mustRows(t, [][]float64{{10, 10}, {nan, 5}}))
	src.Put(timespan.Date(2020, 1, 2), mustRows(t, [][]float64{{20, nan}, {nan, 5}}))
	src.Put(timespan.Date(2020, 1, 3), mustRows(t, [][]float64{{30, 9999}, {nan, 5}}))
	return src
}

func TestRunTwoPassBaseline(t *testing.T) {
	src := threeDaySource(t)
	sink := newRecordingSink()
	m := metrics.New()

	e, err := NewEngine(baseConfig(timespan.Date(2020, 1, 1), timespan.Date(2020, 1, 5)), src, sink, m, nil)
	require.NoError(t, err)

	baselines, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, baselines, 1)
	b := baselines[0]

	assert.Equal(t, 3, b.Days)

	v, ok := b.Mean.At(0, 0)
	require.True(t, ok)
	assert.InDelta(t, 20, v, 1e-12)
	v, ok = b.StandardDeviation.At(0, 0)
	require.True(t, ok)
	assert.InDelta(t, 10, v, 1e-12)

	v, ok = b.Mean.At(0, 1)
	require.True(t, ok)
	assert.InDelta(t, 10, v, 1e-12)
	assert.False(t, b.StandardDeviation.Valid(0, 1), "one observation has no sample SD")

	assert.False(t, b.Mean.Valid(1, 0))
	assert.False(t, b.StandardDeviation.Valid(1, 0))

	v, ok = b.StandardDeviation.At(1, 1)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	pop, _ := b.Population.At(0, 1)
	assert.Equal(t, 1.0, pop)

	// every day of the range is read once per pass, including the missing ones
	for d := 1; d <= 5; d++ {
		assert.Equal(t, 2, src.Fetches(timespan.Date(2020, 1, d)))
	}

	assert.Contains(t, sink.grids, "climate-memory-mean-none-2020-2020")
	assert.Contains(t, sink.grids, "climate-memory-sd-none-2020-2020")
	assert.Equal(t, e.RunID(), b.Label.RunID)
}

func TestMetadataFailureAbortsBeforeAnyFetch(t *testing.T) {
	src := threeDaySource(t)
	src.MetadataErr = errors.New("no locations table")
	sink := newRecordingSink()

	e, err := NewEngine(baseConfig(timespan.Date(2020, 1, 1), timespan.Date(2020, 1, 3)), src, sink, nil, nil)
	require.NoError(t, err)

	baselines, err := e.Run(context.Background())
	require.ErrorIs(t, err, datasource.ErrMetadataUnavailable)
	assert.Nil(t, baselines)
	assert.Zero(t, src.TotalFetches())
	assert.Empty(t, sink.grids)
}

func TestRunCancelled(t *testing.T) {
	e, err := NewEngine(baseConfig(timespan.Date(2020, 1, 1), timespan.Date(2020, 1, 3)), threeDaySource(t), nil, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func randomSource(t *testing.T, seed int64, rows, cols int, start time.Time, days int) *datasource.Memory {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	src := datasource.NewMemory(rows, cols)
	for i := 0; i < days; i++ {
		if rng.Float64() < 0.1 {
			continue
		}
		g := grid.New(rows, cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				switch p := rng.Float64(); {
				case p < 0.1:
				case p < 0.15:
					g.Set(r, c, 500)
				default:
					g.Set(r, c, rng.Float64()*100)
				}
			}
		}
		src.Put(start.AddDate(0, 0, i), g)
	}
	return src
}

func TestParallelFoldsMatchSequential(t *testing.T) {
	start := timespan.Date(2019, 12, 1)
	src := randomSource(t, 7, 9, 11, start, 90)
	cfg := baseConfig(start, timespan.Date(2020, 2, 29))
	cfg.Increment = timespan.Month

	seq, err := NewEngine(cfg, src, nil, nil, nil)
	require.NoError(t, err)
	want, err := seq.Run(context.Background())
	require.NoError(t, err)

	cfg.Workers = 4
	cfg.RowBands = 3
	par, err := NewEngine(cfg, src, nil, nil, nil)
	require.NoError(t, err)
	got, err := par.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, want[0].Days, got[0].Days)
	assert.True(t, want[0].Mean.EqualApprox(got[0].Mean, 1e-9))
	assert.True(t, want[0].StandardDeviation.EqualApprox(got[0].StandardDeviation, 1e-9))
	assert.True(t, want[0].Population.EqualApprox(got[0].Population, 0))
}

func TestStreamingAgreesWithTwoPass(t *testing.T) {
	start := timespan.Date(2021, 6, 1)
	src := randomSource(t, 11, 5, 6, start, 30)
	cfg := baseConfig(start, timespan.Date(2021, 6, 30))

	e, err := NewEngine(cfg, src, nil, nil, nil)
	require.NoError(t, err)
	twoPass, err := e.Run(context.Background())
	require.NoError(t, err)
	fetched := src.TotalFetches()

	cfg.Strategy = StrategyStreaming
	cfg.Workers = 3
	e, err = NewEngine(cfg, src, nil, nil, nil)
	require.NoError(t, err)
	streaming, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fetched/2, src.TotalFetches()-fetched, "streaming reads each day once")
	assert.True(t, twoPass[0].Mean.EqualApprox(streaming[0].Mean, 1e-9))
	assert.True(t, twoPass[0].StandardDeviation.EqualApprox(streaming[0].StandardDeviation, 1e-9))
}

func TestWindowScope(t *testing.T) {
	start := timespan.Date(2020, 1, 15)
	src := randomSource(t, 3, 3, 3, start, 40)
	sink := newRecordingSink()
	cfg := baseConfig(start, timespan.Date(2020, 2, 20))
	cfg.Increment = timespan.Month
	cfg.Scope = ScopeWindow

	e, err := NewEngine(cfg, src, sink, nil, nil)
	require.NoError(t, err)
	labels, err := e.Labels()
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, "climate-memory-mean-month-2020-2020-20200115", labels[0].WithStatistic(storage.StatMean).Name())
	assert.Equal(t, "20200201", labels[1].Tag)

	baselines, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, baselines, 2)
	assert.Equal(t, timespan.Date(2020, 1, 31), baselines[0].Window.End)
	assert.Equal(t, timespan.Date(2020, 2, 20), baselines[1].Window.End)
	assert.Len(t, sink.grids, 4)

	assert.Same(t, baselines[1], BaselineFor(baselines, timespan.Date(2020, 2, 3)))
	assert.Nil(t, BaselineFor(baselines, timespan.Date(2020, 3, 3)))
}

// flakySource drops a date after it has been served once.
type flakySource struct {
	*datasource.Memory
	drop time.Time
	mu   sync.Mutex
	seen bool
}

func (f *flakySource) FetchDay(ctx context.Context, date time.Time) (*grid.Grid, bool, error) {
	if date.Equal(f.drop) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.seen {
			return nil, false, nil
		}
		f.seen = true
	}
	return f.Memory.FetchDay(ctx, date)
}

func TestPassMismatchIsAnError(t *testing.T) {
	src := &flakySource{Memory: threeDaySource(t), drop: timespan.Date(2020, 1, 2)}
	e, err := NewEngine(baseConfig(timespan.Date(2020, 1, 1), timespan.Date(2020, 1, 3)), src, nil, nil, nil)
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	assert.ErrorIs(t, err, ErrPassMismatch)
}

// brokenSource fails to decode one date.
type brokenSource struct {
	*datasource.Memory
	bad time.Time
}

func (b *brokenSource) FetchDay(ctx context.Context, date time.Time) (*grid.Grid, bool, error) {
	if date.Equal(b.bad) {
		return nil, false, datasource.ErrCorruptFile
	}
	return b.Memory.FetchDay(ctx, date)
}

func TestUnreadableAndMisshapenDaysAreSkipped(t *testing.T) {
	mem := threeDaySource(t)
	mem.Put(timespan.Date(2020, 1, 4), grid.New(3, 3))
	src := &brokenSource{Memory: mem, bad: timespan.Date(2020, 1, 2)}
	m := metrics.New()

	e, err := NewEngine(baseConfig(timespan.Date(2020, 1, 1), timespan.Date(2020, 1, 4)), src, nil, m, nil)
	require.NoError(t, err)
	baselines, err := e.Run(context.Background())
	require.NoError(t, err)

	b := baselines[0]
	assert.Equal(t, 2, b.Days)
	v, _ := b.Mean.At(0, 0)
	assert.InDelta(t, 20, v, 1e-12, "days 1 and 3 only")
}

func TestValidate(t *testing.T) {
	good := baseConfig(timespan.Date(2020, 1, 1), timespan.Date(2020, 1, 3))

	tests := []struct {
		name   string
		modify func(*RunConfig)
	}{
		{"start after end", func(c *RunConfig) { c.Start = timespan.Date(2021, 1, 1) }},
		{"missing end", func(c *RunConfig) { c.End = time.Time{} }},
		{"unknown increment", func(c *RunConfig) { c.Increment = timespan.Increment(99) }},
		{"zero threshold", func(c *RunConfig) { c.SDThreshold = 0 }},
		{"min above max", func(c *RunConfig) { c.MinValue = 200 }},
		{"too many neighbours", func(c *RunConfig) { c.MinSupportingNeighbors = 9 }},
		{"negative bias", func(c *RunConfig) { c.Bias = -1 }},
		{"negative workers", func(c *RunConfig) { c.Workers = -2 }},
		{"unknown strategy", func(c *RunConfig) { c.Strategy = "three-pass" }},
		{"unknown scope", func(c *RunConfig) { c.Scope = "decade" }},
	}

	require.NoError(t, good.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := good
			tt.modify(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidRunConfig)
		})
	}

	c := good
	c.Start = timespan.Date(2021, 1, 1)
	assert.ErrorIs(t, c.Validate(), timespan.ErrInvalidRange)

	c = good
	c.FilterBadData = false
	c.MinValue = 200
	assert.NoError(t, c.Validate(), "range is ignored when bad data is not filtered")
}

// detectionFixture builds a 4x4 baseline of mean 15 and a day with a pair of
// adjacent hot cells and one isolated hot cell.
func detectionFixture(t *testing.T) (*datasource.Memory, RunConfig, time.Time) {
	src := datasource.NewMemory(4, 4)
	start := timespan.Date(2020, 1, 1)
	for i := 0; i < 10; i++ {
		v := 10.0
		if i%2 == 1 {
			v = 20
		}
		g := grid.New(4, 4)
		for r := 0; r < 4; r++ {
			for c := 0; c < 4; c++ {
				g.Set(r, c, v)
			}
		}
		src.Put(start.AddDate(0, 0, i), g)
	}

	obs := mustRows(t, [][]float64{
		{90, 95, 15, 15},
		{15, 15, 15, 15},
		{15, 15, 15, 15},
		{15, 15, 15, 80},
	})
	day := timespan.Date(2020, 2, 1)
	src.Put(day, obs)

	return src, baseConfig(start, start.AddDate(0, 0, 9)), day
}

func TestDetectRange(t *testing.T) {
	src, cfg, day := detectionFixture(t)
	sink := newRecordingSink()
	m := metrics.New()

	e, err := NewEngine(cfg, src, sink, m, nil)
	require.NoError(t, err)
	baselines, err := e.Run(context.Background())
	require.NoError(t, err)

	results, err := e.DetectRange(context.Background(), baselines, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, results, 1, "only the observed day has data")

	res := results[0]
	assert.Equal(t, day, res.Date)
	assert.Equal(t, 2, res.Anomalies.Len())
	assert.True(t, res.Anomalies.Contains(0, 0))
	assert.True(t, res.Anomalies.Contains(0, 1))
	assert.False(t, res.Anomalies.Contains(3, 3), "isolated cell is noise")
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, 2, res.Clusters[0].Size())

	key := baselines[0].Label.Name() + "@2020-02-01"
	require.Contains(t, sink.anomalies, key)
	assert.Equal(t, 2, sink.anomalies[key].Len())
}

func TestDetectDayWithoutData(t *testing.T) {
	src, cfg, _ := detectionFixture(t)
	e, err := NewEngine(cfg, src, nil, nil, nil)
	require.NoError(t, err)
	baselines, err := e.Run(context.Background())
	require.NoError(t, err)

	ag, err := e.DetectDay(context.Background(), baselines[0], timespan.Date(2020, 3, 1))
	require.NoError(t, err)
	assert.Nil(t, ag)

	_, err = e.DetectDay(context.Background(), nil, timespan.Date(2020, 3, 1))
	assert.Error(t, err)
}

func TestSameMonthRunsGetDistinctProductNames(t *testing.T) {
	src := datasource.NewMemory(2, 2)

	jan := baseConfig(timespan.Date(2011, 1, 1), timespan.Date(2014, 12, 31))
	jan.Increment = timespan.SameMonth
	feb := jan
	feb.Start = timespan.Date(2011, 2, 1)

	names := map[string]bool{}
	for _, cfg := range []RunConfig{jan, feb} {
		e, err := NewEngine(cfg, src, nil, nil, nil)
		require.NoError(t, err)
		labels, err := e.Labels()
		require.NoError(t, err)
		require.Len(t, labels, 1)
		names[labels[0].WithStatistic(storage.StatMean).Name()] = true
	}
	assert.Equal(t, map[string]bool{
		"climate-memory-mean-same-month-jan-2011-2014": true,
		"climate-memory-mean-same-month-feb-2011-2014": true,
	}, names)

	season := jan
	season.Increment = timespan.SameSeason
	season.Start = timespan.Date(2011, 6, 1)
	seasonNames, err := season.ProductNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"climate-memory-mean-same-season-jja-2011-2014"}, seasonNames)
}

func TestLoadBaselineFromCache(t *testing.T) {
	src, cfg, day := detectionFixture(t)
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)

	e, err := NewEngine(cfg, src, c, nil, nil)
	require.NoError(t, err)
	computed, err := e.Run(context.Background())
	require.NoError(t, err)

	// a later detection run rebuilds its labels from the same configuration
	later, err := NewEngine(cfg, src, c, nil, nil)
	require.NoError(t, err)
	labels, err := later.Labels()
	require.NoError(t, err)
	require.Len(t, labels, 1)

	loaded, err := LoadBaseline(context.Background(), c, labels[0])
	require.NoError(t, err)
	assert.True(t, computed[0].Mean.EqualApprox(loaded.Mean, 1e-12))
	assert.True(t, computed[0].StandardDeviation.EqualApprox(loaded.StandardDeviation, 1e-12))

	ag, err := later.DetectDay(context.Background(), loaded, day)
	require.NoError(t, err)
	assert.Equal(t, 2, ag.Len())

	stored, err := c.ReadAnomalies(context.Background(), day, labels[0])
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Len())

	_, err = LoadBaseline(context.Background(), c, storage.Label{Sensor: "nothing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
