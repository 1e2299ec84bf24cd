package workspace

import (
	"errors"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Turalchik/halo-relax/exchange"
	"github.com/Turalchik/halo-relax/topology"
	"github.com/Turalchik/halo-relax/transport/local"
)

var quiet = slog.New(slog.DiscardHandler)

// newGrid builds one workspace per rank, all connected through one hub.
func newGrid(t *testing.T, processes, n int, boundary float64) []*Workspace {
	t.Helper()
	hub := local.NewHub(processes)
	t.Cleanup(hub.Close)
	ws := make([]*Workspace, processes)
	for rank := range ws {
		ep := hub.Endpoint(rank)
		topo, err := topology.Discover(ep, quiet)
		require.NoError(t, err)
		ws[rank] = New(n, boundary, topo, exchange.NewChannel(ep, n, quiet), quiet)
	}
	return ws
}

// onEachRank runs f concurrently for every workspace, the way separate
// processes would.
func onEachRank(t *testing.T, ws []*Workspace, f func(rank int, w *Workspace) error) {
	t.Helper()
	var g errgroup.Group
	for rank, w := range ws {
		g.Go(func() error { return f(rank, w) })
	}
	require.NoError(t, g.Wait())
}

func fill(w *Workspace, value func(x, y int) float64) error {
	for x := 1; x <= w.TileEdgeLength(); x++ {
		for y := 1; y <= w.TileEdgeLength(); y++ {
			if err := w.Write(x, y, value(x, y)); err != nil {
				return err
			}
		}
	}
	return nil
}

func TestTwoByTwoUniform(t *testing.T) {
	ws := newGrid(t, 4, 2, 0.0)
	onEachRank(t, ws, func(_ int, w *Workspace) error {
		if err := fill(w, func(int, int) float64 { return 1.0 }); err != nil {
			return err
		}
		return w.Synchronize()
	})

	for rank, w := range ws {
		present := 0
		for _, d := range topology.Directions {
			edge, ok := w.OuterEdge(d)
			if !ok {
				continue
			}
			present++
			assert.Equal(t, []float64{1, 1}, edge, "rank %d %s", rank, d)
		}
		assert.Equal(t, 2, present, "rank %d", rank)

		// every tile of a 2x2 grid touches the domain boundary on two sides
		topo := w.topo
		for i := 1; i <= 2; i++ {
			check := func(d topology.Direction, x, y int) {
				v, err := w.Read(x, y)
				require.NoError(t, err)
				if _, ok := topo.Neighbor(d); ok {
					assert.Equal(t, 1.0, v, "rank %d %s", rank, d)
				} else {
					assert.Equal(t, 0.0, v, "rank %d %s", rank, d)
				}
			}
			check(topology.Left, 0, i)
			check(topology.Right, 3, i)
			check(topology.Down, i, 0)
			check(topology.Up, i, 3)
		}
	}
}

func cellValue(rank, x, y int) float64 {
	return float64(rank*1000 + x*10 + y)
}

func TestRoundTripPreservesOrder(t *testing.T) {
	const n = 5
	ws := newGrid(t, 9, n, -1)
	onEachRank(t, ws, func(rank int, w *Workspace) error {
		if err := fill(w, func(x, y int) float64 { return cellValue(rank, x, y) }); err != nil {
			return err
		}
		return w.Synchronize()
	})

	for rank, w := range ws {
		for _, d := range topology.Directions {
			peer, ok := w.topo.Neighbor(d)
			edge, present := w.OuterEdge(d)
			require.Equal(t, ok, present, "rank %d %s", rank, d)
			if !ok {
				continue
			}
			for i := 1; i <= n; i++ {
				var want float64
				switch d {
				case topology.Up:
					want = cellValue(peer, i, 1)
				case topology.Down:
					want = cellValue(peer, i, n)
				case topology.Left:
					want = cellValue(peer, n, i)
				case topology.Right:
					want = cellValue(peer, 1, i)
				}
				assert.Equal(t, want, edge[i-1], "rank %d %s index %d", rank, d, i)
			}
		}

		// virtual reads resolve to the same seam
		if peer, ok := w.topo.Neighbor(topology.Left); ok {
			v, err := w.Read(0, 3)
			require.NoError(t, err)
			assert.Equal(t, cellValue(peer, n, 3), v)
		}
		if peer, ok := w.topo.Neighbor(topology.Up); ok {
			v, err := w.Read(2, n+1)
			require.NoError(t, err)
			assert.Equal(t, cellValue(peer, 2, 1), v)
		}
	}
}

func TestBoundaryFallback(t *testing.T) {
	const (
		n        = 4
		boundary = 7.5
	)
	ws := newGrid(t, 4, n, boundary)
	onEachRank(t, ws, func(rank int, w *Workspace) error {
		rnd := rand.New(rand.NewSource(int64(rank)))
		for it := 0; it < 5; it++ {
			if err := fill(w, func(int, int) float64 { return rnd.Float64() * 100 }); err != nil {
				return err
			}
			if err := w.Synchronize(); err != nil {
				return err
			}
			if rank != 0 {
				continue
			}
			// rank 0 sits at row 0, column 0: nothing above and nothing left
			for i := 1; i <= n; i++ {
				for _, c := range [][2]int{{0, i}, {i, n + 1}} {
					v, err := w.Read(c[0], c[1])
					if err != nil {
						return err
					}
					assert.Equal(t, boundary, v, "iteration %d at %v", it, c)
				}
			}
		}
		return nil
	})
}

func newSingle(t *testing.T, n int) *Workspace {
	t.Helper()
	return newGrid(t, 1, n, 0)[0]
}

func TestDoubleBufferIsolation(t *testing.T) {
	w := newSingle(t, 3)
	require.NoError(t, fill(w, func(int, int) float64 { return 1 }))
	v, err := w.Read(2, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v, "write visible before synchronize")

	require.NoError(t, w.Synchronize())
	require.NoError(t, fill(w, func(int, int) float64 { return 2 }))
	for x := 1; x <= 3; x++ {
		for y := 1; y <= 3; y++ {
			v, err := w.Read(x, y)
			require.NoError(t, err)
			assert.Equal(t, 1.0, v)
		}
	}

	require.NoError(t, w.Synchronize())
	v, err = w.Read(3, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
	assert.Equal(t, 2.0, w.Field().At(2, 0))
}

func TestCornersAlwaysFail(t *testing.T) {
	const n = 3
	ws := newGrid(t, 4, n, 0)
	onEachRank(t, ws, func(_ int, w *Workspace) error { return w.Synchronize() })

	for rank, w := range ws {
		for _, x := range []int{0, n + 1} {
			for _, y := range []int{0, n + 1} {
				_, err := w.Read(x, y)
				assert.ErrorIs(t, err, ErrCorner, "rank %d (%d, %d)", rank, x, y)
			}
		}
	}
}

func TestInvalidCoordinates(t *testing.T) {
	w := newSingle(t, 2)
	for _, c := range [][2]int{{0, 1}, {3, 1}, {1, 0}, {1, 3}, {-1, 1}} {
		assert.ErrorIs(t, w.Write(c[0], c[1], 1), ErrCoordinate, "write %v", c)
	}
	for _, c := range [][2]int{{-1, 1}, {4, 1}, {1, 4}, {1, -2}, {-1, 0}} {
		_, err := w.Read(c[0], c[1])
		assert.ErrorIs(t, err, ErrCoordinate, "read %v", c)
	}
}

func TestConcurrentSynchronizeRejected(t *testing.T) {
	ws := newGrid(t, 4, 2, 0)
	first := make(chan error, 1)
	go func() { first <- ws[0].Synchronize() }()

	require.Eventually(t, func() bool { return ws[0].State() == ExchangePending },
		time.Second, time.Millisecond)
	assert.ErrorIs(t, ws[0].Synchronize(), ErrBusy)

	onEachRank(t, ws[1:], func(_ int, w *Workspace) error { return w.Synchronize() })
	require.NoError(t, <-first)
	assert.Equal(t, Idle, ws[0].State())
}

func TestClose(t *testing.T) {
	w := newSingle(t, 2)
	w.Close()
	assert.ErrorIs(t, w.Write(1, 1, 0), ErrClosed)
	_, err := w.Read(1, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, w.Synchronize(), ErrClosed)
	assert.Equal(t, 2, w.TileEdgeLength())
}

// brokenLink fails every send.
type brokenLink struct {
	*local.Endpoint
	err error
}

func (b brokenLink) Send(int, []float64) error { return b.err }

func TestFailedSynchronizeSticks(t *testing.T) {
	boom := errors.New("link down")
	hub := local.NewHub(4)
	t.Cleanup(hub.Close)
	tr := brokenLink{hub.Endpoint(0), boom}
	topo, err := topology.Discover(tr, quiet)
	require.NoError(t, err)
	w := New(2, 0, topo, exchange.NewChannel(tr, 2, quiet), quiet)

	require.NoError(t, fill(w, func(int, int) float64 { return 1 }))
	require.ErrorIs(t, w.Synchronize(), boom)
	assert.Equal(t, Idle, w.State())

	assert.NotPanics(t, func() {
		assert.ErrorIs(t, w.Synchronize(), boom)
	})
	v, err := w.Read(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v, "failed exchange must not swap buffers")
}
