package topology

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.DiscardHandler)

type fakeWorld struct{ rank, size int }

func (w fakeWorld) Rank() int { return w.rank }
func (w fakeWorld) Size() int { return w.size }

func TestGridCoverage(t *testing.T) {
	for _, p := range []int{1, 4, 9, 16, 25, 36, 100} {
		side, ok := isqrt(p)
		require.True(t, ok, "p=%d", p)

		seen := make(map[[2]int]int)
		for rank := 0; rank < p; rank++ {
			topo, err := New(rank, p, quiet)
			require.NoError(t, err)
			assert.Equal(t, side, topo.SideLength())
			assert.Equal(t, rank, topo.Rank())
			assert.Equal(t, p, topo.ProcessCount())

			cell := [2]int{topo.Row(), topo.Column()}
			assert.GreaterOrEqual(t, cell[0], 0)
			assert.Less(t, cell[0], side)
			assert.GreaterOrEqual(t, cell[1], 0)
			assert.Less(t, cell[1], side)
			_, dup := seen[cell]
			assert.False(t, dup, "p=%d: cell %v assigned twice", p, cell)
			seen[cell] = rank
		}
		assert.Len(t, seen, p)
	}
}

func TestNonSquareCounts(t *testing.T) {
	for _, p := range []int{-4, 0, 2, 3, 5, 8, 10, 15, 99} {
		_, err := New(0, p, quiet)
		assert.ErrorIs(t, err, ErrNotSquare, "p=%d", p)
	}
}

func TestRankOutOfRange(t *testing.T) {
	_, err := New(4, 4, quiet)
	assert.ErrorIs(t, err, ErrRankOutOfRange)
	_, err = New(-1, 4, quiet)
	assert.ErrorIs(t, err, ErrRankOutOfRange)
}

func TestNeighbors3x3(t *testing.T) {
	corner, err := New(0, 9, quiet)
	require.NoError(t, err)
	assert.Equal(t, 2, corner.NeighborCount())
	_, ok := corner.Neighbor(Up)
	assert.False(t, ok)
	_, ok = corner.Neighbor(Left)
	assert.False(t, ok)
	r, ok := corner.Neighbor(Right)
	assert.True(t, ok)
	assert.Equal(t, 1, r)
	r, ok = corner.Neighbor(Down)
	assert.True(t, ok)
	assert.Equal(t, 3, r)

	center, err := New(4, 9, quiet)
	require.NoError(t, err)
	assert.Equal(t, 4, center.NeighborCount())
	want := map[Direction]int{Up: 1, Down: 7, Left: 3, Right: 5}
	for d, rank := range want {
		got, ok := center.Neighbor(d)
		assert.True(t, ok, d.String())
		assert.Equal(t, rank, got, d.String())
	}

	for _, rank := range []int{1, 3, 5, 7} {
		edge, err := New(rank, 9, quiet)
		require.NoError(t, err)
		assert.Equal(t, 3, edge.NeighborCount(), "rank %d", rank)
	}
	for _, rank := range []int{2, 6, 8} {
		c, err := New(rank, 9, quiet)
		require.NoError(t, err)
		assert.Equal(t, 2, c.NeighborCount(), "rank %d", rank)
	}
}

func TestNeighborsAreMutual(t *testing.T) {
	const p = 16
	topos := make([]*Topology, p)
	for rank := range topos {
		var err error
		topos[rank], err = New(rank, p, quiet)
		require.NoError(t, err)
	}
	for _, topo := range topos {
		for _, d := range Directions {
			n, ok := topo.Neighbor(d)
			if !ok {
				continue
			}
			back, ok := topos[n].Neighbor(d.Opposite())
			require.True(t, ok)
			assert.Equal(t, topo.Rank(), back)
		}
	}
}

func TestSingleProcess(t *testing.T) {
	topo, err := Discover(fakeWorld{0, 1}, quiet)
	require.NoError(t, err)
	assert.Equal(t, 0, topo.NeighborCount())
	assert.Equal(t, 1, topo.SideLength())
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "up", Up.String())
	assert.Equal(t, "right", Right.String())
	assert.Equal(t, "Direction(7)", Direction(7).String())
	for _, d := range Directions {
		assert.Equal(t, d, d.Opposite().Opposite())
	}
}
