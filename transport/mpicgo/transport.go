// Package mpicgo runs the edge exchange over an MPI library.
//
// The bindings need cgo and an MPI installation (build with CC=mpicc) and are
// only compiled with the mpi build tag. Requests of one iteration are issued
// from separate goroutines, so Init asks for MPI_THREAD_MULTIPLE and refuses
// to run on a library that cannot provide it. MPI's default error handler
// aborts the whole job on a communication failure; a rank that fails on its
// own calls Abort so its neighbors are not left blocked in a receive.
package mpicgo

import (
	"errors"
	"fmt"
)

// edgeTag marks edge messages; all of them share one tag because every
// receive is posted for a specific source.
const edgeTag = 1

var (
	ErrNotBuilt    = errors.New("built without MPI support (use -tags mpi)")
	ErrThreadLevel = errors.New("MPI library does not support MPI_THREAD_MULTIPLE")
)

// Transport is this process's endpoint on COMM_WORLD.
type Transport struct {
	rank, size int
}

func (t *Transport) Rank() int { return t.rank }
func (t *Transport) Size() int { return t.size }

// checkThreadLevel compares the thread level MPI granted with the one the
// concurrent exchange needs. MPI orders the levels by value.
func checkThreadLevel(provided, required int) error {
	if provided < required {
		return fmt.Errorf("%w: provided level %d, need %d", ErrThreadLevel, provided, required)
	}
	return nil
}
