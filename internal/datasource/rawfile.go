package datasource

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/chrissnell/climatology/internal/grid"
)

// locator finds a daily file by scanning a directory for a name that contains
// every token, case-insensitively. The first match in lexical order wins.
type locator struct {
	dir    string
	tokens []string
}

func (l locator) String() string {
	return filepath.Join(l.dir, "*"+strings.Join(l.tokens, "*")+"*")
}

// find returns the matching path, or "" when the directory or file is absent.
func (l locator) find() (string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		matched := true
		for _, tok := range l.tokens {
			if !strings.Contains(name, strings.ToLower(tok)) {
				matched = false
				break
			}
		}
		if matched {
			return filepath.Join(l.dir, e.Name()), nil
		}
	}
	return "", nil
}

// readInt16Grid decodes a rows x cols little-endian int16 file. Files shorter
// than the grid are corrupt; trailing bytes beyond the grid are ignored.
// Cells holding grid.NoData come back missing.
func readInt16Grid(path string, rows, cols int) (*grid.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	want := int64(rows) * int64(cols) * 2
	if st.Size() < want {
		return nil, fmt.Errorf("%s is %d bytes, a %dx%d grid needs %d: %w",
			path, st.Size(), rows, cols, want, ErrCorruptFile)
	}

	raw := make([]int16, rows*cols)
	if err := binary.Read(io.LimitReader(f, want), binary.LittleEndian, raw); err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", path, err, ErrCorruptFile)
	}

	values := make([]float64, len(raw))
	for i, v := range raw {
		values[i] = float64(v)
	}
	return grid.FromValues(rows, cols, values, grid.NoData)
}

// WriteInt16Grid encodes g as int16 in row-major order with missing cells as
// grid.NoData. Values are rounded and clamped to int16.
func WriteInt16Grid(w io.Writer, g *grid.Grid, order binary.ByteOrder) error {
	flat := g.Flatten(grid.NoData)
	out := make([]int16, len(flat))
	for i, v := range flat {
		out[i] = clampInt16(v)
	}
	return binary.Write(w, order, out)
}

func clampInt16(v float64) int16 {
	switch {
	case v >= 32767:
		return 32767
	case v <= -32768:
		return -32768
	case v < 0:
		return int16(v - 0.5)
	default:
		return int16(v + 0.5)
	}
}
