// Package workspace holds one process's tile of the field.
//
// Coordinates are 1-based: 1..N is the interior. Reads may also address the
// single ring just outside the tile (0 and N+1), which resolves to the edge
// last received from the neighbor on that side or, on the domain boundary,
// to the boundary constant. Writes go to the front buffer and only become
// readable after Synchronize.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/Turalchik/halo-relax/exchange"
	"github.com/Turalchik/halo-relax/topology"
)

var (
	ErrCoordinate = errors.New("coordinate outside tile")
	ErrCorner     = errors.New("corner access")
	ErrBusy       = errors.New("synchronize already in progress")
	ErrClosed     = errors.New("workspace closed")
)

// State is the phase of the per-iteration cycle.
type State int32

const (
	Idle State = iota
	EdgeSnapshotted
	ExchangePending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case EdgeSnapshotted:
		return "edge-snapshotted"
	case ExchangePending:
		return "exchange-pending"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// edge describes where the line facing one direction lies in a buffer.
// Buffers are indexed (x-1, y-1), so a fixed y is a matrix column and a
// fixed x is a matrix row.
type edge struct {
	fixedX bool
	at     func(n int) int
}

var edges = [...]edge{
	topology.Up:    {fixedX: false, at: func(n int) int { return n }},
	topology.Down:  {fixedX: false, at: func(int) int { return 1 }},
	topology.Left:  {fixedX: true, at: func(int) int { return 1 }},
	topology.Right: {fixedX: true, at: func(n int) int { return n }},
}

// Workspace is a double-buffered tile with halo edges.
type Workspace struct {
	n        int
	boundary float64
	topo     *topology.Topology
	channel  *exchange.Channel
	logger   *slog.Logger

	front, back *mat.Dense
	inner       [len(topology.Directions)][]float64
	outer       [len(topology.Directions)][]float64

	state  atomic.Int32
	closed bool
}

// New allocates an n×n workspace. Edge buffers exist only for directions
// that have a neighbor in topo.
func New(n int, boundary float64, topo *topology.Topology, channel *exchange.Channel, logger *slog.Logger) *Workspace {
	w := &Workspace{
		n:        n,
		boundary: boundary,
		topo:     topo,
		channel:  channel,
		logger:   logger,
		front:    mat.NewDense(n, n, nil),
		back:     mat.NewDense(n, n, nil),
	}
	for _, d := range topology.Directions {
		if _, ok := topo.Neighbor(d); ok {
			w.inner[d] = make([]float64, n)
			w.outer[d] = make([]float64, n)
		}
	}
	return w
}

// TileEdgeLength is N, the interior side length.
func (w *Workspace) TileEdgeLength() int {
	return w.n
}

func (w *Workspace) State() State {
	return State(w.state.Load())
}

func (w *Workspace) interior(c int) bool {
	return c >= 1 && c <= w.n
}

// Write stores v at interior (x, y) of the next iteration.
func (w *Workspace) Write(x, y int, v float64) error {
	if w.closed {
		return ErrClosed
	}
	if !w.interior(x) || !w.interior(y) {
		return fmt.Errorf("%w: write (%d, %d), interior is 1..%d", ErrCoordinate, x, y, w.n)
	}
	w.front.Set(x-1, y-1, v)
	return nil
}

// Read returns the current-iteration value at (x, y), which may be one step
// outside the tile on at most one axis.
func (w *Workspace) Read(x, y int) (float64, error) {
	if w.closed {
		return 0, ErrClosed
	}
	xIn, yIn := w.interior(x), w.interior(y)
	switch {
	case xIn && yIn:
		return w.back.At(x-1, y-1), nil
	case !w.virtual(x) && !xIn, !w.virtual(y) && !yIn:
		return 0, fmt.Errorf("%w: read (%d, %d)", ErrCoordinate, x, y)
	case !xIn && !yIn:
		return 0, fmt.Errorf("%w: (%d, %d)", ErrCorner, x, y)
	case x == 0:
		return w.halo(topology.Left, y), nil
	case x == w.n+1:
		return w.halo(topology.Right, y), nil
	case y == 0:
		return w.halo(topology.Down, x), nil
	default:
		return w.halo(topology.Up, x), nil
	}
}

func (w *Workspace) virtual(c int) bool {
	return c == 0 || c == w.n+1
}

func (w *Workspace) halo(d topology.Direction, i int) float64 {
	if w.outer[d] == nil {
		return w.boundary
	}
	return w.outer[d][i-1]
}

// OuterEdge returns the values last received from the neighbor in
// direction d. The slice must not be modified.
func (w *Workspace) OuterEdge(d topology.Direction) ([]float64, bool) {
	return w.outer[d], w.outer[d] != nil
}

// Field is a read-only view of the current iteration's interior, indexed
// (x-1, y-1).
func (w *Workspace) Field() mat.Matrix {
	return w.back
}

// Synchronize exchanges the edges of the front buffer with every neighbor
// and then makes the front buffer the readable one.
func (w *Workspace) Synchronize() error {
	if w.closed {
		return ErrClosed
	}
	if !w.state.CompareAndSwap(int32(Idle), int32(EdgeSnapshotted)) {
		return ErrBusy
	}
	defer w.state.Store(int32(Idle))
	if err := w.channel.Err(); err != nil {
		return err
	}

	for _, d := range topology.Directions {
		if w.inner[d] != nil {
			w.copyEdge(d, w.inner[d])
		}
	}

	w.channel.Reset()
	for _, d := range topology.Directions {
		peer, ok := w.topo.Neighbor(d)
		if !ok {
			continue
		}
		if err := w.channel.Enqueue(peer, w.inner[d], w.outer[d]); err != nil {
			return fmt.Errorf("enqueue %s edge: %w", d, err)
		}
	}
	w.state.Store(int32(ExchangePending))
	if err := w.channel.DrainAll(); err != nil {
		return err
	}

	w.front, w.back = w.back, w.front
	return nil
}

// copyEdge snapshots the line of front facing d into dst.
func (w *Workspace) copyEdge(d topology.Direction, dst []float64) {
	e := edges[d]
	if e.fixedX {
		mat.Row(dst, e.at(w.n)-1, w.front)
	} else {
		mat.Col(dst, e.at(w.n)-1, w.front)
	}
}

// Close drops the buffers. The workspace cannot be used afterwards.
func (w *Workspace) Close() {
	if w.State() != Idle {
		w.logger.Warn("closing workspace during synchronize", "state", w.State())
	}
	w.front, w.back = nil, nil
	for _, d := range topology.Directions {
		w.inner[d], w.outer[d] = nil, nil
	}
	w.closed = true
}
