//go:build !mpi

package mpicgo

// this file provides a stand-in, built by default, so the command builds
// without an MPI installation.

// Built reports whether the MPI bindings are compiled in.
const Built = false

// Init always fails: rebuild with -tags mpi.
func Init() (*Transport, error) {
	return nil, ErrNotBuilt
}

func (t *Transport) Finalize() {}

func (t *Transport) Abort(code int) {}

func (t *Transport) Send(dest int, data []float64) error {
	return ErrNotBuilt
}

func (t *Transport) Receive(source int, data []float64) error {
	return ErrNotBuilt
}
