//go:build mpi

package mpicgo

/*
#include <mpi.h>

static int init_multiple(int *provided) {
	return MPI_Init_thread(NULL, NULL, MPI_THREAD_MULTIPLE, provided);
}

static int thread_multiple(void) {
	return MPI_THREAD_MULTIPLE;
}

static void abort_world(int code) {
	MPI_Abort(MPI_COMM_WORLD, code);
}
*/
import "C"

import (
	mpi "github.com/marcusthierfelder/mpi"
)

// Built reports whether the MPI bindings are compiled in.
const Built = true

// Init initializes MPI at the MPI_THREAD_MULTIPLE level and returns the
// endpoint of this process on COMM_WORLD. It fails, after shutting MPI down
// again, when the library cannot provide that level. Finalize or Abort must
// be called before the process exits.
func Init() (*Transport, error) {
	var provided C.int
	C.init_multiple(&provided)
	if err := checkThreadLevel(int(provided), int(C.thread_multiple())); err != nil {
		mpi.Finalize()
		return nil, err
	}
	return &Transport{
		rank: mpi.Comm_rank(mpi.COMM_WORLD),
		size: mpi.Comm_size(mpi.COMM_WORLD),
	}, nil
}

// Finalize shuts MPI down. Every rank has to reach it.
func (t *Transport) Finalize() {
	mpi.Finalize()
}

// Abort ends every process of the job with code.
func (t *Transport) Abort(code int) {
	C.abort_world(C.int(code))
}

// Send is a standard-mode MPI send of data to dest.
func (t *Transport) Send(dest int, data []float64) error {
	mpi.Send(data, dest, edgeTag, mpi.COMM_WORLD)
	return nil
}

// Receive is a blocking MPI receive from source into data.
func (t *Transport) Receive(source int, data []float64) error {
	mpi.Recv(data, source, edgeTag, mpi.COMM_WORLD)
	return nil
}
