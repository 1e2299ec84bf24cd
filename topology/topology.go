// Package topology places a process on the square process grid and finds
// the ranks of its up to four neighbors.
package topology

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
)

var (
	ErrNotSquare      = errors.New("process count is not a perfect square")
	ErrRankOutOfRange = errors.New("rank out of range")
)

// Direction names one side of a tile.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

// Directions lists every direction in slot order.
var Directions = [...]Direction{Up, Down, Left, Right}

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Opposite returns the direction a neighbor uses to look back at us.
func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	default:
		return Left
	}
}

// World is the runtime environment that assigns ranks.
type World interface {
	Rank() int
	Size() int
}

type neighbor struct {
	rank    int
	present bool
}

// Topology is the immutable placement of one process.
type Topology struct {
	rank         int
	processCount int
	sideLength   int
	row, column  int
	neighbors    [len(Directions)]neighbor
}

// Discover derives the topology from the rank and size reported by world.
func Discover(world World, logger *slog.Logger) (*Topology, error) {
	return New(world.Rank(), world.Size(), logger)
}

// New derives the topology for rank out of processCount processes.
func New(rank, processCount int, logger *slog.Logger) (*Topology, error) {
	side, ok := isqrt(processCount)
	if !ok {
		logger.Error("number of processes must be a square of some integer", "processes", processCount)
		return nil, fmt.Errorf("%w: got %d", ErrNotSquare, processCount)
	}
	if rank < 0 || rank >= processCount {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrRankOutOfRange, rank, processCount)
	}

	t := &Topology{
		rank:         rank,
		processCount: processCount,
		sideLength:   side,
		row:          rank / side,
		column:       rank % side,
	}
	if t.row > 0 {
		t.neighbors[Up] = neighbor{rank - side, true}
	}
	if t.row < side-1 {
		t.neighbors[Down] = neighbor{rank + side, true}
	}
	if t.column > 0 {
		t.neighbors[Left] = neighbor{rank - 1, true}
	}
	if t.column < side-1 {
		t.neighbors[Right] = neighbor{rank + 1, true}
	}

	logger.Info("cluster initialized", "row", t.row, "column", t.column,
		"up", t.neighborAttr(Up), "down", t.neighborAttr(Down),
		"left", t.neighborAttr(Left), "right", t.neighborAttr(Right))
	return t, nil
}

// isqrt returns the integer square root of n and whether n is a perfect square.
func isqrt(n int) (int, bool) {
	if n < 1 {
		return 0, false
	}
	r := int(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r, r*r == n
}

func (t *Topology) neighborAttr(d Direction) any {
	if n := t.neighbors[d]; n.present {
		return n.rank
	}
	return "none"
}

func (t *Topology) Rank() int { return t.rank }
func (t *Topology) ProcessCount() int { return t.processCount }
func (t *Topology) SideLength() int { return t.sideLength }
func (t *Topology) Row() int { return t.row }
func (t *Topology) Column() int { return t.column }

// Neighbor returns the rank adjacent in direction d. ok is false when the
// tile touches the global domain boundary on that side.
func (t *Topology) Neighbor(d Direction) (rank int, ok bool) {
	n := t.neighbors[d]
	return n.rank, n.present
}

// NeighborCount is the number of directions that have a neighbor.
func (t *Topology) NeighborCount() int {
	count := 0
	for _, n := range t.neighbors {
		if n.present {
			count++
		}
	}
	return count
}
