// Package solver runs the Jacobi relaxation on one rank's tile.
//
// The global domain is the open unit square. With side×side tiles of N×N
// points the grid step is h = 1/(side*N + 1); tile (row, column) holds the
// global points column*N + x and (side-1-row)*N + y, so row 0 is the top
// band of the domain.
package solver

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/Turalchik/halo-relax/config"
	"github.com/Turalchik/halo-relax/dump"
	"github.com/Turalchik/halo-relax/exchange"
	"github.com/Turalchik/halo-relax/topology"
	"github.com/Turalchik/halo-relax/workspace"
)

// Initial is the field at iteration zero. It vanishes on the boundary of the
// unit square.
func Initial(x, y float64) float64 {
	return math.Sin(math.Pi*x) * math.Sin(math.Pi*y)
}

// Equation is the 4-point update.
func Equation(left, right, down, up float64) float64 {
	return 0.25 * (left + right + down + up)
}

// Result is the state of one rank after a run.
type Result struct {
	Rank, Row, Column int
	// Field is a copy of the final tile, indexed (x-1, y-1).
	Field   *mat.Dense
	Min     float64
	Max     float64
	Norm    float64
	Elapsed time.Duration
}

// Grid places a tile in the global domain.
type Grid struct {
	N    int
	Side int
	Row  int
	Col  int
}

// Step is the distance between neighboring points.
func (g Grid) Step() float64 {
	return 1 / float64(g.Side*g.N+1)
}

// Global maps tile coordinates to global grid indices.
func (g Grid) Global(x, y int) (gx, gy int) {
	return g.Col*g.N + x, (g.Side-1-g.Row)*g.N + y
}

// Run performs cfg.TimeSteps iterations on the tile of the calling rank.
func Run(cfg config.Config, transport exchange.Transport, logger *slog.Logger) (*Result, error) {
	topo, err := topology.Discover(transport, logger)
	if err != nil {
		return nil, err
	}
	channel := exchange.NewChannel(transport, cfg.N, logger)
	w := workspace.New(cfg.N, cfg.Boundary, topo, channel, logger)
	defer w.Close()

	grid := Grid{N: cfg.N, Side: topo.SideLength(), Row: topo.Row(), Col: topo.Column()}
	var dumper *dump.Dumper
	if cfg.Output {
		h := grid.Step()
		ox, oy := grid.Global(0, 0)
		prefix := filepath.Join(cfg.OutputDir, "rank"+strconv.Itoa(topo.Rank()))
		dumper = dump.New(prefix, float64(ox)*h, float64(oy)*h, h)
	}

	start := time.Now()
	if err := seed(w, grid); err != nil {
		return nil, err
	}
	for t := 0; t < cfg.TimeSteps; t++ {
		if dumper != nil && dump.Due(t) {
			if err := dumper.Dump(w, t); err != nil {
				return nil, fmt.Errorf("dump iteration %d: %w", t, err)
			}
		}
		if err := step(w); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", t, err)
		}
	}
	if dumper != nil {
		if err := dumper.Dump(w, cfg.TimeSteps); err != nil {
			return nil, fmt.Errorf("dump iteration %d: %w", cfg.TimeSteps, err)
		}
	}
	elapsed := time.Since(start)

	res := summarize(w.Field())
	res.Rank, res.Row, res.Column = topo.Rank(), topo.Row(), topo.Column()
	res.Elapsed = elapsed
	logger.Info("finished", "iterations", cfg.TimeSteps, "elapsed", elapsed,
		"min", res.Min, "max", res.Max, "norm", res.Norm)
	return res, nil
}

// seed writes the initial condition and publishes it.
func seed(w *workspace.Workspace, grid Grid) error {
	h := grid.Step()
	for x := 1; x <= grid.N; x++ {
		for y := 1; y <= grid.N; y++ {
			gx, gy := grid.Global(x, y)
			if err := w.Write(x, y, Initial(float64(gx)*h, float64(gy)*h)); err != nil {
				return err
			}
		}
	}
	return w.Synchronize()
}

// step computes the next iteration from the current one and exchanges it.
func step(w *workspace.Workspace) error {
	n := w.TileEdgeLength()
	for x := 1; x <= n; x++ {
		for y := 1; y <= n; y++ {
			v, err := update(w, x, y)
			if err != nil {
				return err
			}
			if err := w.Write(x, y, v); err != nil {
				return err
			}
		}
	}
	return w.Synchronize()
}

func update(w *workspace.Workspace, x, y int) (float64, error) {
	var nb [4]float64
	for i, c := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
		v, err := w.Read(c[0], c[1])
		if err != nil {
			return 0, err
		}
		nb[i] = v
	}
	return Equation(nb[0], nb[1], nb[2], nb[3]), nil
}

func summarize(field mat.Matrix) *Result {
	f := mat.DenseCopyOf(field)
	data := f.RawMatrix().Data
	return &Result{
		Field: f,
		Min:   floats.Min(data),
		Max:   floats.Max(data),
		Norm:  mat.Norm(f, 2),
	}
}
