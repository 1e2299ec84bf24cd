// Package local connects ranks that live in one process as goroutines.
package local

import (
	"errors"
	"fmt"
	"sync"
)

// mailboxDepth bounds how far a sender may run ahead of its receiver before
// Send blocks. Neighbors never drift more than one iteration apart.
const mailboxDepth = 4

var (
	ErrRank   = errors.New("rank out of range")
	ErrLength = errors.New("message length mismatch")
	ErrClosed = errors.New("hub closed")
)

type route struct{ from, to int }

// Hub owns the mailboxes between every ordered pair of ranks.
type Hub struct {
	size int

	mu        sync.Mutex
	mailboxes map[route]chan []float64
	closed    chan struct{}
	closeOnce sync.Once
}

// NewHub returns a Hub for size ranks.
func NewHub(size int) *Hub {
	return &Hub{
		size:      size,
		mailboxes: make(map[route]chan []float64),
		closed:    make(chan struct{}),
	}
}

// Endpoint returns the transport for rank.
func (h *Hub) Endpoint(rank int) *Endpoint {
	return &Endpoint{hub: h, rank: rank}
}

// Close fails all blocked and future operations.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.closed) })
}

func (h *Hub) mailbox(from, to int) (chan []float64, error) {
	if from < 0 || from >= h.size || to < 0 || to >= h.size {
		return nil, fmt.Errorf("%w: %d -> %d of %d", ErrRank, from, to, h.size)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r := route{from, to}
	mb, ok := h.mailboxes[r]
	if !ok {
		mb = make(chan []float64, mailboxDepth)
		h.mailboxes[r] = mb
	}
	return mb, nil
}

// Endpoint is one rank's view of a Hub.
type Endpoint struct {
	hub  *Hub
	rank int
}

func (e *Endpoint) Rank() int { return e.rank }
func (e *Endpoint) Size() int { return e.hub.size }

// Send copies data into the mailbox towards dest.
func (e *Endpoint) Send(dest int, data []float64) error {
	mb, err := e.hub.mailbox(e.rank, dest)
	if err != nil {
		return err
	}
	msg := make([]float64, len(data))
	copy(msg, data)
	select {
	case mb <- msg:
		return nil
	case <-e.hub.closed:
		return ErrClosed
	}
}

// Receive fills data with the next message from source.
func (e *Endpoint) Receive(source int, data []float64) error {
	mb, err := e.hub.mailbox(source, e.rank)
	if err != nil {
		return err
	}
	select {
	case msg := <-mb:
		if len(msg) != len(data) {
			return fmt.Errorf("%w: got %d values, want %d", ErrLength, len(msg), len(data))
		}
		copy(data, msg)
		return nil
	case <-e.hub.closed:
		return ErrClosed
	}
}
