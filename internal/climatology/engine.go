// Package climatology runs the baseline computation: it walks the windows of a
// date range, fetches each day from a data source, folds it into per-cell
// accumulators and hands the finalized mean and standard deviation grids to
// the output sinks. The same package judges later observations against a
// finalized baseline.
package climatology

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chrissnell/climatology/internal/accumulator"
	"github.com/chrissnell/climatology/internal/anomaly"
	"github.com/chrissnell/climatology/internal/datasource"
	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/metrics"
	"github.com/chrissnell/climatology/internal/storage"
	"github.com/chrissnell/climatology/internal/timespan"
)

var (
	// ErrPassMismatch indicates that the second pass saw different days or
	// populations than the first.
	ErrPassMismatch = errors.New("climatology: pass 2 diverged from pass 1")
	// ErrWindowOverflow indicates a window with more days than its buffer.
	ErrWindowOverflow = errors.New("climatology: window exceeds day buffer")
)

// Baseline is a finalized mean and standard deviation for one span of dates.
type Baseline struct {
	// Label names the baseline; its Statistic is left empty.
	Label             storage.Label
	Window            timespan.Window
	Mean              *grid.Grid
	StandardDeviation *grid.Grid
	Population        *grid.Grid
	// Days is the number of days that had data.
	Days int
}

// group is the set of windows folded into one baseline.
type group struct {
	windows []timespan.Window
	span    timespan.Window
	label   storage.Label
}

// Engine executes one RunConfig against one data source.
type Engine struct {
	cfg      RunConfig
	source   datasource.DataSource
	sink     storage.Sink
	detector *anomaly.Detector
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	runID    string

	rows int
	cols int
}

// NewEngine returns an engine for cfg. sink and m may be nil.
func NewEngine(cfg RunConfig, source datasource.DataSource, sink storage.Sink, m *metrics.Metrics, logger *zap.SugaredLogger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("no data source: %w", ErrInvalidRunConfig)
	}
	detector, err := anomaly.NewDetector(cfg.DetectorParams())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Engine{
		cfg:      cfg,
		source:   source,
		sink:     sink,
		detector: detector,
		metrics:  m,
		logger:   logger,
		runID:    uuid.NewString(),
	}, nil
}

// RunID returns the identifier stamped on every product of this engine.
func (e *Engine) RunID() string { return e.runID }

// Config returns the run configuration.
func (e *Engine) Config() RunConfig { return e.cfg }

func (e *Engine) name() string {
	if e.cfg.Name != "" {
		return e.cfg.Name
	}
	return e.sensor() + "/" + e.cfg.Increment.String()
}

func (e *Engine) sensor() string { return e.cfg.sensor() }

// Labels returns the labels of the baselines Run produces, in order.
func (e *Engine) Labels() ([]storage.Label, error) {
	return e.cfg.labels(e.runID)
}

func (e *Engine) groups() ([]group, error) { return e.cfg.groups(e.runID) }

// Run computes every baseline of the configured range and writes it to the
// sink. A failure to read the source metadata aborts the run before any day
// is fetched.
func (e *Engine) Run(ctx context.Context) ([]*Baseline, error) {
	done := e.metrics.RunStarted(e.cfg.Increment.String())
	defer done()

	md, err := e.source.ReadMetadata(ctx)
	if err != nil {
		if !errors.Is(err, datasource.ErrMetadataUnavailable) {
			err = fmt.Errorf("%w: %w", datasource.ErrMetadataUnavailable, err)
		}
		return nil, fmt.Errorf("run %s: %w", e.name(), err)
	}
	if md.Rows <= 0 || md.Cols <= 0 {
		return nil, fmt.Errorf("run %s: grid is %dx%d: %w", e.name(), md.Rows, md.Cols, datasource.ErrMetadataUnavailable)
	}
	e.rows, e.cols = md.Rows, md.Cols

	groups, err := e.groups()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", e.name(), err)
	}

	e.logger.Infof("run %s (%s): %s..%s by %s, %dx%d grid, %s strategy, %d baseline(s)",
		e.name(), e.runID, e.cfg.Start.Format(timespan.DateLayout), e.cfg.End.Format(timespan.DateLayout),
		e.cfg.Increment, e.rows, e.cols, e.cfg.strategy(), len(groups))

	var baselines []*Baseline
	if e.cfg.strategy() == StrategyStreaming {
		baselines, err = e.runStreaming(ctx, groups)
	} else {
		baselines, err = e.runTwoPass(ctx, groups)
	}
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", e.name(), err)
	}

	for _, b := range baselines {
		e.logSummary(b)
		if err := e.write(ctx, b); err != nil {
			return baselines, fmt.Errorf("run %s: %w", e.name(), err)
		}
	}
	return baselines, nil
}

func (e *Engine) runTwoPass(ctx context.Context, groups []group) ([]*Baseline, error) {
	bands := max(e.cfg.RowBands, 1)
	newFolder := func(mode accumulator.Mode, mean *grid.Grid) func() folder {
		return func() folder {
			return &twoPassFolder{acc: accumulator.New(e.rows, e.cols, e.cfg.Gate()), mode: mode, mean: mean, bands: bands}
		}
	}

	first := make([]*twoPassFolder, len(groups))
	seen := make([][]time.Time, len(groups))
	for i, g := range groups {
		mk := newFolder(accumulator.ModeSum, nil)
		f := mk().(*twoPassFolder)
		days, err := e.foldGroup(ctx, g, f, mk)
		if err != nil {
			return nil, fmt.Errorf("pass 1 of %s: %w", g.span, err)
		}
		first[i], seen[i] = f, days
		e.metrics.CellsFolded(accumulator.ModeSum.String(), f.acc.Observations())
		e.logger.Infof("pass 1 of %s: %d of %d days available", g.span, len(days), spanDays(g))
	}

	// pass 2 starts only once every mean is final
	means := make([]*grid.Grid, len(groups))
	for i, f := range first {
		means[i] = f.acc.FinalizeMean()
	}

	baselines := make([]*Baseline, len(groups))
	for i, g := range groups {
		mk := newFolder(accumulator.ModeSquaredDeviation, means[i])
		f := mk().(*twoPassFolder)
		days, err := e.foldGroup(ctx, g, f, mk)
		if err != nil {
			return nil, fmt.Errorf("pass 2 of %s: %w", g.span, err)
		}
		if err := checkParity(seen[i], days, first[i].acc, f.acc); err != nil {
			return nil, fmt.Errorf("%s: %w", g.span, err)
		}
		e.metrics.CellsFolded(accumulator.ModeSquaredDeviation.String(), f.acc.Observations())
		e.logger.Infof("pass 2 of %s: %d of %d days available", g.span, len(days), spanDays(g))

		baselines[i] = &Baseline{
			Label:             g.label,
			Window:            g.span,
			Mean:              means[i],
			StandardDeviation: f.acc.FinalizeStandardDeviation(e.cfg.Bias),
			Population:        first[i].acc.PopulationGrid(),
			Days:              len(days),
		}
	}
	return baselines, nil
}

func (e *Engine) runStreaming(ctx context.Context, groups []group) ([]*Baseline, error) {
	mk := func() folder {
		return &streamingFolder{s: accumulator.NewStreaming(e.rows, e.cols, e.cfg.Gate())}
	}

	baselines := make([]*Baseline, len(groups))
	for i, g := range groups {
		f := mk().(*streamingFolder)
		days, err := e.foldGroup(ctx, g, f, mk)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", g.span, err)
		}
		e.metrics.CellsFolded(string(StrategyStreaming), f.s.Observations())
		e.logger.Infof("%s: %d of %d days available", g.span, len(days), spanDays(g))

		baselines[i] = &Baseline{
			Label:             g.label,
			Window:            g.span,
			Mean:              f.s.Mean(),
			StandardDeviation: f.s.StandardDeviation(e.cfg.Bias),
			Population:        f.s.PopulationGrid(),
			Days:              len(days),
		}
	}
	return baselines, nil
}

// checkParity fails unless both passes folded the same days into the same
// per-cell populations.
func checkParity(days1, days2 []time.Time, acc1, acc2 *accumulator.Accumulator) error {
	if len(days1) != len(days2) {
		return fmt.Errorf("%d days in pass 1, %d in pass 2: %w", len(days1), len(days2), ErrPassMismatch)
	}
	for i := range days1 {
		if !days1[i].Equal(days2[i]) {
			return fmt.Errorf("pass 1 read %s where pass 2 read %s: %w",
				days1[i].Format(timespan.DateLayout), days2[i].Format(timespan.DateLayout), ErrPassMismatch)
		}
	}
	rows, cols := acc1.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if acc1.Population(r, c) != acc2.Population(r, c) {
				return fmt.Errorf("cell (%d,%d) has population %d in pass 1, %d in pass 2: %w",
					r, c, acc1.Population(r, c), acc2.Population(r, c), ErrPassMismatch)
			}
		}
	}
	return nil
}

func spanDays(g group) int {
	n := 0
	for _, w := range g.windows {
		n += w.Days()
	}
	return n
}

// folder is one accumulation target: the shared accumulator of a pass or a
// worker's private partial.
type folder interface {
	fold(ctx context.Context, day *grid.Grid) error
	merge(other folder) error
}

type twoPassFolder struct {
	acc   *accumulator.Accumulator
	mode  accumulator.Mode
	mean  *grid.Grid
	bands int
}

func (f *twoPassFolder) fold(ctx context.Context, day *grid.Grid) error {
	return f.acc.FoldDayParallel(ctx, day, f.mode, f.mean, f.bands)
}

func (f *twoPassFolder) merge(other folder) error {
	return f.acc.Merge(other.(*twoPassFolder).acc)
}

type streamingFolder struct {
	s *accumulator.Streaming
}

func (f *streamingFolder) fold(_ context.Context, day *grid.Grid) error {
	return f.s.Fold(day)
}

func (f *streamingFolder) merge(other folder) error {
	return f.s.Merge(other.(*streamingFolder).s)
}

// foldGroup folds every window of g in windower order and returns the days
// that had data, in date order.
func (e *Engine) foldGroup(ctx context.Context, g group, into folder, newPartial func() folder) ([]time.Time, error) {
	var days []time.Time
	for _, w := range g.windows {
		got, err := e.foldWindow(ctx, w, into, newPartial)
		if err != nil {
			return nil, err
		}
		days = append(days, got...)
	}
	return days, nil
}

func (e *Engine) foldWindow(ctx context.Context, w timespan.Window, into folder, newPartial func() folder) ([]time.Time, error) {
	dates := w.Dates()
	if limit := w.Increment.BufferDays(); w.Increment != timespan.None && len(dates) > limit {
		return nil, fmt.Errorf("%s has %d days, buffer holds %d: %w", w, len(dates), limit, ErrWindowOverflow)
	}

	workers := min(e.cfg.Workers, len(dates))
	if workers <= 1 {
		var got []time.Time
		for _, d := range dates {
			day, err := e.fetch(ctx, d, e.rows, e.cols)
			if err != nil {
				return nil, err
			}
			if day == nil {
				continue
			}
			if err := into.fold(ctx, day); err != nil {
				return nil, err
			}
			got = append(got, d)
		}
		return got, nil
	}

	// Each worker folds a contiguous run of days into its own partial; the
	// partials are merged once all workers are done.
	available := make([]bool, len(dates))
	var partials []folder
	eg, gctx := errgroup.WithContext(ctx)
	chunk := (len(dates) + workers - 1) / workers
	for lo := 0; lo < len(dates); lo += chunk {
		hi := min(lo+chunk, len(dates))
		p := newPartial()
		partials = append(partials, p)
		eg.Go(func() error {
			for i := lo; i < hi; i++ {
				day, err := e.fetch(gctx, dates[i], e.rows, e.cols)
				if err != nil {
					return err
				}
				if day == nil {
					continue
				}
				if err := p.fold(gctx, day); err != nil {
					return err
				}
				available[i] = true
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, p := range partials {
		if err := into.merge(p); err != nil {
			return nil, err
		}
	}
	var got []time.Time
	for i, ok := range available {
		if ok {
			got = append(got, dates[i])
		}
	}
	return got, nil
}

// fetch returns the grid for date, or nil when the day is unavailable. Only
// cancellation is returned as an error; unreadable or misshapen days are
// logged and skipped.
func (e *Engine) fetch(ctx context.Context, date time.Time, rows, cols int) (*grid.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := e.source.FileIdentifierFor(date)
	g, ok, err := e.source.FetchDay(ctx, date)
	switch {
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.logger.Warnf("skipping %s: %v", id, err)
		e.metrics.DayFetched(e.sensor(), metrics.FetchFailed)
		return nil, nil
	case !ok || g == nil:
		e.logger.Debugf("no data for %s", id)
		e.metrics.DayFetched(e.sensor(), metrics.FetchMissing)
		return nil, nil
	case g.Rows() != rows || g.Cols() != cols:
		e.logger.Warnf("skipping %s: grid is %dx%d, expected %dx%d", id, g.Rows(), g.Cols(), rows, cols)
		e.metrics.DayFetched(e.sensor(), metrics.FetchFailed)
		return nil, nil
	}
	e.metrics.DayFetched(e.sensor(), metrics.FetchOK)
	return g, nil
}

func (e *Engine) write(ctx context.Context, b *Baseline) error {
	if e.sink == nil {
		return nil
	}
	if err := e.sink.WriteGrid(ctx, b.Mean, b.Label.WithStatistic(storage.StatMean)); err != nil {
		return fmt.Errorf("write mean: %w", err)
	}
	if err := e.sink.WriteGrid(ctx, b.StandardDeviation, b.Label.WithStatistic(storage.StatStandardDeviation)); err != nil {
		return fmt.Errorf("write standard deviation: %w", err)
	}
	return nil
}

func (e *Engine) logSummary(b *Baseline) {
	e.logger.Infof("%s: %d days, %d of %d cells with a mean, %d with a standard deviation",
		b.Label.Name(), b.Days, b.Mean.ValidCount(), b.Mean.Rows()*b.Mean.Cols(), b.StandardDeviation.ValidCount())

	p := e.cfg.Probe
	if p == nil || p.Row < 0 || p.Col < 0 || p.Row >= b.Mean.Rows() || p.Col >= b.Mean.Cols() {
		return
	}
	n, _ := b.Population.At(p.Row, p.Col)
	e.logger.Infof("probe (%d,%d): population %d, mean %s, sd %s",
		p.Row, p.Col, int(n), cellString(b.Mean, p.Row, p.Col), cellString(b.StandardDeviation, p.Row, p.Col))
}

func cellString(g *grid.Grid, r, c int) string {
	v, ok := g.At(r, c)
	if !ok {
		return "NODATA"
	}
	return fmt.Sprintf("%.3f", v)
}
