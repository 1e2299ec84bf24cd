//go:build !mpi

package mpicgo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotBuilt(t *testing.T) {
	assert.False(t, Built)
	_, err := Init()
	assert.ErrorIs(t, err, ErrNotBuilt)

	var tr Transport
	assert.ErrorIs(t, tr.Send(0, nil), ErrNotBuilt)
	assert.ErrorIs(t, tr.Receive(0, nil), ErrNotBuilt)
}
