// Package dump writes sampled snapshots of a tile for plotting.
//
// Every line is "x y t value" in domain coordinates, with a blank line after
// each sweep over y, which is the layout gnuplot's splot expects.
package dump

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	// SpatialDensity is the number of samples taken along each tile side.
	SpatialDensity = 25
	// TemporalFrequency is the number of iterations between dumps.
	TemporalFrequency = 100
)

// Source is the read side of a workspace.
type Source interface {
	Read(x, y int) (float64, error)
	TileEdgeLength() int
}

// Dumper writes the snapshots of one rank.
type Dumper struct {
	prefix           string
	offsetX, offsetY float64
	step             float64
	density          int
}

// New returns a Dumper writing files named prefix_<t>. Interior coordinate
// (x, y) is placed at (offsetX + x*step, offsetY + y*step).
func New(prefix string, offsetX, offsetY, step float64) *Dumper {
	return &Dumper{
		prefix:  prefix,
		offsetX: offsetX,
		offsetY: offsetY,
		step:    step,
		density: SpatialDensity,
	}
}

// Due reports whether iteration t should be dumped.
func Due(t int) bool {
	return t%TemporalFrequency == 0
}

// Path is the file written for iteration t.
func (d *Dumper) Path(t int) string {
	return d.prefix + "_" + strconv.Itoa(t)
}

// Dump writes the current values of src for iteration t.
func (d *Dumper) Dump(src Source, t int) (err error) {
	if err := os.MkdirAll(filepath.Dir(d.prefix), 0o755); err != nil {
		return err
	}
	f, err := os.Create(d.Path(t))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	n := src.TileEdgeLength()
	for _, x := range samples(n, d.density) {
		for _, y := range samples(n, d.density) {
			v, err := src.Read(x, y)
			if err != nil {
				return err
			}
			fmt.Fprintf(bw, "%s %s %d %s\n", format(d.offsetX+float64(x)*d.step),
				format(d.offsetY+float64(y)*d.step), t, format(v))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// samples returns the 1-based interior indices visited along one side: every
// n/density-th index, and always the last one.
func samples(n, density int) []int {
	stride := max(n/density, 1)
	var out []int
	for i := 0; ; i += stride {
		if i >= n {
			if len(out) == 0 || out[len(out)-1] != n {
				out = append(out, n)
			}
			return out
		}
		out = append(out, i+1)
	}
}
