// Package binfile writes baseline grids as flat 2-byte integer rasters.
package binfile

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chrissnell/climatology/internal/datasource"
	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/storage"
)

// Sink writes <dir>/<label name>.bin, rows x cols int16 in row-major order,
// with missing cells as grid.NoData.
type Sink struct {
	dir   string
	order binary.ByteOrder
}

// New returns a sink writing into dir. byteOrder is "little" (the default,
// matching the daily input files) or "big".
func New(dir, byteOrder string) (*Sink, error) {
	s := &Sink{dir: dir, order: binary.LittleEndian}
	switch strings.ToLower(byteOrder) {
	case "", "little", "little-endian":
	case "big", "big-endian":
		s.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("unknown byte order %q", byteOrder)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return s, nil
}

// Name implements storage.Sink.
func (s *Sink) Name() string { return "binary" }

// Path returns the file a label is written to.
func (s *Sink) Path(label storage.Label) string {
	return filepath.Join(s.dir, label.Name()+".bin")
}

// WriteGrid implements storage.Sink.
func (s *Sink) WriteGrid(ctx context.Context, g *grid.Grid, label storage.Label) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.Path(label)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := datasource.WriteInt16Grid(w, g, s.order); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Close implements storage.Sink.
func (s *Sink) Close() error { return nil }
