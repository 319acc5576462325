package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/chrissnell/climatology/internal/datasource"
	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/timespan"
)

const (
	baseTb      = 2000.0
	gradientTb  = 400.0
	seasonalTb  = 150.0
	hotPatchTb  = 800.0
	hotPatchLen = 5
)

// simulator writes one SSMI-format file per day: a north-south gradient plus
// a seasonal cycle plus Gaussian noise, with a warm patch on the hot dates.
type simulator struct {
	Dir           string
	Hemisphere    string
	Frequency     string
	Polarization  string
	AddYearToPath bool
	Seed          uint64
	Noise         float64
	GapRate       float64
	Hot           map[string]bool
}

func (s simulator) params() datasource.Params {
	return datasource.Params{
		Sensor:        datasource.SensorSSMI,
		Path:          s.Dir,
		Hemisphere:    s.Hemisphere,
		Frequency:     s.Frequency,
		Polarization:  s.Polarization,
		AddYearToPath: s.AddYearToPath,
	}
}

// Run writes every day in [from, to] and returns the number of files written.
func (s simulator) Run(from, to time.Time) (int, error) {
	src, err := datasource.NewSSMI(s.params())
	if err != nil {
		return 0, err
	}
	md, err := src.ReadMetadata(context.Background())
	if err != nil {
		return 0, err
	}

	written := 0
	for _, d := range (timespan.Window{Start: from, End: to}).Dates() {
		rng := rand.New(rand.NewPCG(s.Seed, uint64(d.Unix())))
		if s.GapRate > 0 && rng.Float64() < s.GapRate {
			continue
		}
		g := s.day(d, md.Rows, md.Cols, rng)
		if err := s.write(d, g); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// day builds the grid for d.
func (s simulator) day(d time.Time, rows, cols int, src rand.Source) *grid.Grid {
	noise := distuv.Normal{Mu: 0, Sigma: s.Noise, Src: src}
	season := seasonalTb * math.Cos(2*math.Pi*float64(timespan.DayOfYear(d)-15)/365.25)
	hot := s.Hot[d.Format(timespan.DateLayout)]
	r0, c0 := rows/4, cols/4

	g := grid.New(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := baseTb + gradientTb*float64(r)/float64(rows) - season
			if s.Noise > 0 {
				v += noise.Rand()
			}
			if hot && r >= r0 && r < r0+hotPatchLen && c >= c0 && c < c0+hotPatchLen {
				v += hotPatchTb
			}
			g.Set(r, c, math.Round(v))
		}
	}
	return g
}

func (s simulator) path(d time.Time) string {
	dir := s.Dir
	if s.AddYearToPath {
		dir = filepath.Join(dir, strconv.Itoa(d.Year()))
	}
	return filepath.Join(dir, fmt.Sprintf("tb_%s_%s%s.bin", d.Format("20060102"), s.Frequency, s.Polarization))
}

func (s simulator) write(d time.Time, g *grid.Grid) error {
	path := s.path(d)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := datasource.WriteInt16Grid(w, g, binary.LittleEndian); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
