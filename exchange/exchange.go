// Package exchange moves tile edges between neighboring ranks.
//
// A Channel is reused every iteration: Reset, then one Enqueue per existing
// neighbor, then DrainAll. Every Enqueue starts a send and a receive that run
// concurrently with each other and with the requests of other neighbors, so a
// slow neighbor never holds back the completion of a fast one.
package exchange

import (
	"errors"
	"fmt"
	"log/slog"
)

// MaxRequests is the number of send+receive pairs a Channel accepts per
// iteration, one per tile side.
const MaxRequests = 4

var (
	ErrTooManyRequests = errors.New("too many exchanges enqueued")
	ErrBufferLength    = errors.New("edge buffer has wrong length")
)

// Transport is a per-process endpoint of the message passing layer.
//
// Send and Receive block until the data has been handed off or filled in.
// Messages between one ordered pair of ranks must arrive in the order they
// were sent, and each Receive consumes exactly one message.
type Transport interface {
	Rank() int
	Size() int
	Send(dest int, data []float64) error
	Receive(source int, data []float64) error
}

type completion struct {
	op   string
	peer int
	err  error
}

// Channel issues the edge exchanges of one process.
type Channel struct {
	transport  Transport
	edgeLength int
	logger     *slog.Logger

	enqueued int
	pending  int
	done     chan completion
	err      error
}

// NewChannel returns a Channel exchanging edges of edgeLength values.
func NewChannel(transport Transport, edgeLength int, logger *slog.Logger) *Channel {
	c := &Channel{
		transport:  transport,
		edgeLength: edgeLength,
		logger:     logger,
	}
	c.Reset()
	return c
}

// Reset clears the registrations of the previous iteration. A failed channel
// stays failed and Reset leaves it untouched.
func (c *Channel) Reset() {
	if c.err != nil {
		return
	}
	if c.pending > 0 {
		panic(fmt.Sprintf("exchange: reset with %d requests outstanding", c.pending))
	}
	c.enqueued = 0
	c.done = make(chan completion, 2*MaxRequests)
}

// Pending returns the number of requests that have not completed yet.
func (c *Channel) Pending() int {
	return c.pending
}

// Err returns the failure that ended the exchanges of this channel, if any.
func (c *Channel) Err() error {
	return c.err
}

// Enqueue starts sending send to target and receiving receive from target.
// Neither buffer may be touched until DrainAll returns.
func (c *Channel) Enqueue(target int, send, receive []float64) error {
	if c.err != nil {
		return c.err
	}
	if c.enqueued == MaxRequests {
		return fmt.Errorf("%w: limit is %d", ErrTooManyRequests, MaxRequests)
	}
	if len(send) != c.edgeLength || len(receive) != c.edgeLength {
		return fmt.Errorf("%w: send %d, receive %d, want %d",
			ErrBufferLength, len(send), len(receive), c.edgeLength)
	}
	c.enqueued++
	c.pending += 2

	done := c.done
	go func() {
		done <- completion{"send", target, c.transport.Send(target, send)}
	}()
	go func() {
		done <- completion{"receive", target, c.transport.Receive(target, receive)}
	}()
	return nil
}

// DrainAll blocks until every request enqueued since the last Reset has
// completed, in whatever order they finish. The first failure is returned
// and sticks: every later Enqueue and DrainAll returns it again.
func (c *Channel) DrainAll() error {
	if c.err != nil {
		return c.err
	}
	for c.pending > 0 {
		finished, err := c.waitSome()
		c.pending -= finished
		if err != nil {
			c.err = err
			return err
		}
	}
	return nil
}

// waitSome blocks for one completion and then collects every other request
// that has already finished.
func (c *Channel) waitSome() (int, error) {
	var first error
	record := func(cp completion) {
		if cp.err != nil && first == nil {
			first = fmt.Errorf("rank %d: %s with rank %d: %w",
				c.transport.Rank(), cp.op, cp.peer, cp.err)
		}
	}

	record(<-c.done)
	finished := 1
	for finished < c.pending {
		select {
		case cp := <-c.done:
			record(cp)
			finished++
		default:
			c.logger.Debug("exchange progress", "finished", finished, "outstanding", c.pending-finished)
			return finished, first
		}
	}
	return finished, first
}
