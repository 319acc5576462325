package climatology

import (
	"context"
	"fmt"
	"time"

	"github.com/chrissnell/climatology/internal/anomaly"
	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/storage"
	"github.com/chrissnell/climatology/internal/timespan"
)

// DayResult is the detection outcome for one day that had data.
type DayResult struct {
	Date      time.Time
	Anomalies *grid.AnomalyGrid
	Clusters  []anomaly.Cluster
}

// GridReader loads stored grids. The baseline cache implements it.
type GridReader interface {
	ReadGrid(ctx context.Context, label storage.Label) (*grid.Grid, error)
}

// LoadBaseline reads the mean and standard deviation stored under label.
func LoadBaseline(ctx context.Context, r GridReader, label storage.Label) (*Baseline, error) {
	mean, err := r.ReadGrid(ctx, label.WithStatistic(storage.StatMean))
	if err != nil {
		return nil, fmt.Errorf("load mean for %s: %w", label.Name(), err)
	}
	sd, err := r.ReadGrid(ctx, label.WithStatistic(storage.StatStandardDeviation))
	if err != nil {
		return nil, fmt.Errorf("load standard deviation for %s: %w", label.Name(), err)
	}
	if !mean.SameShape(sd) {
		return nil, fmt.Errorf("baseline %s: %w", label.Name(), grid.ErrDimensionMismatch)
	}
	return &Baseline{
		Label:             label,
		Window:            timespan.Window{Start: label.Start, End: label.End},
		Mean:              mean,
		StandardDeviation: sd,
	}, nil
}

// BaselineFor picks the baseline that covers date. A single baseline covers
// every date.
func BaselineFor(baselines []*Baseline, date time.Time) *Baseline {
	if len(baselines) == 1 {
		return baselines[0]
	}
	for _, b := range baselines {
		if b.Window.Contains(date) {
			return b
		}
	}
	return nil
}

// DetectDay judges the observations for date against b. It returns nil
// when the day has no data. Anomalies are written to the sink when it stores
// them.
func (e *Engine) DetectDay(ctx context.Context, b *Baseline, date time.Time) (*grid.AnomalyGrid, error) {
	if b == nil || b.Mean == nil || b.StandardDeviation == nil {
		return nil, fmt.Errorf("no baseline for %s: %w", date.Format(timespan.DateLayout), ErrInvalidRunConfig)
	}
	obs, err := e.fetch(ctx, date, b.Mean.Rows(), b.Mean.Cols())
	if err != nil || obs == nil {
		return nil, err
	}

	ag, err := e.detector.Detect(obs, b.Mean, b.StandardDeviation)
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", date.Format(timespan.DateLayout), err)
	}
	e.metrics.AnomaliesDetected(e.sensor(), ag.Len())

	if as, ok := e.sink.(storage.AnomalySink); ok {
		if err := as.WriteAnomalies(ctx, date, ag, b.Label); err != nil {
			return ag, fmt.Errorf("write anomalies for %s: %w", date.Format(timespan.DateLayout), err)
		}
	}
	return ag, nil
}

// DetectRange runs DetectDay for every date in [start, end], choosing the
// covering baseline for each. Days without data or without a baseline are
// skipped.
func (e *Engine) DetectRange(ctx context.Context, baselines []*Baseline, start, end time.Time) ([]DayResult, error) {
	start, end = timespan.Truncate(start), timespan.Truncate(end)
	if start.After(end) {
		return nil, fmt.Errorf("%s > %s: %w", start.Format(timespan.DateLayout), end.Format(timespan.DateLayout), timespan.ErrInvalidRange)
	}

	var results []DayResult
	for _, d := range (timespan.Window{Start: start, End: end}).Dates() {
		b := BaselineFor(baselines, d)
		if b == nil {
			e.logger.Debugf("no baseline covers %s", d.Format(timespan.DateLayout))
			continue
		}
		ag, err := e.DetectDay(ctx, b, d)
		if err != nil {
			return results, err
		}
		if ag == nil {
			continue
		}
		clusters := anomaly.Clusters(ag)
		e.logger.Infof("%s: %d anomalies in %d clusters against %s",
			d.Format(timespan.DateLayout), ag.Len(), len(clusters), b.Label.Name())
		results = append(results, DayResult{Date: d, Anomalies: ag, Clusters: clusters})
	}
	return results, nil
}
