package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/timespan"
)

// Memory serves grids held in memory. It is safe for concurrent use.
type Memory struct {
	meta Metadata

	mu      sync.Mutex
	days    map[string]*grid.Grid
	fetches map[string]int
	// MetadataErr, when set, is returned by ReadMetadata.
	MetadataErr error
}

// NewMemory returns an empty in-memory source of rows x cols grids.
func NewMemory(rows, cols int) *Memory {
	return &Memory{
		meta: Metadata{
			Rows:        rows,
			Cols:        cols,
			Sensor:      SensorMemory,
			Description: "in-memory grids",
		},
		days:    make(map[string]*grid.Grid),
		fetches: make(map[string]int),
	}
}

// Put stores the grid for date, replacing any earlier grid.
func (m *Memory) Put(date time.Time, g *grid.Grid) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[m.FileIdentifierFor(date)] = g
}

// Fetches returns how many times FetchDay was called for date.
func (m *Memory) Fetches(date time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[m.FileIdentifierFor(date)]
}

// TotalFetches returns the number of FetchDay calls across all dates.
func (m *Memory) TotalFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.fetches {
		n += c
	}
	return n
}

// ReadMetadata implements DataSource.
func (m *Memory) ReadMetadata(ctx context.Context) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	if m.MetadataErr != nil {
		return Metadata{}, fmt.Errorf("%v: %w", m.MetadataErr, ErrMetadataUnavailable)
	}
	return m.meta, nil
}

// FileIdentifierFor implements DataSource.
func (m *Memory) FileIdentifierFor(date time.Time) string {
	return date.Format(timespan.DateLayout)
}

// FetchDay implements DataSource. The returned grid is a copy.
func (m *Memory) FetchDay(ctx context.Context, date time.Time) (*grid.Grid, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key := m.FileIdentifierFor(date)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[key]++
	g, ok := m.days[key]
	if !ok {
		return nil, false, nil
	}
	return g.Clone(), true, nil
}
