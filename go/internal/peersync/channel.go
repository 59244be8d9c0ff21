package peersync

import (
	"context"
	"errors"
	"sync"
)

// ErrChannelClosed is returned by Send on a closed channel.
var ErrChannelClosed = errors.New("peer channel closed")

// Handler receives every message delivered by a Channel.
type Handler func(msg Message)

// Channel is a bidirectional, transport-agnostic link to the paired peer.
// Delivery is at most once and unordered across message types.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	OnReceive(handler Handler)
}

// PipeEnd is one side of an in-memory Channel pair.
type PipeEnd struct {
	mu      sync.RWMutex
	handler Handler
	peer    *PipeEnd
	closed  bool
}

// Pipe returns two connected in-memory channels. A Send on one end invokes
// the other end's handler synchronously.
func Pipe() (*PipeEnd, *PipeEnd) {
	a, b := &PipeEnd{}, &PipeEnd{}
	a.peer, b.peer = b, a
	return a, b
}

func (p *PipeEnd) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrChannelClosed
	}

	// round-trip through the codec so both ends see wire semantics
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	decoded, err := Decode(data)
	if err != nil {
		return err
	}

	p.peer.deliver(decoded)
	return nil
}

func (p *PipeEnd) OnReceive(handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

// Close stops this end from sending and receiving.
func (p *PipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *PipeEnd) deliver(msg Message) {
	p.mu.RLock()
	handler, closed := p.handler, p.closed
	p.mu.RUnlock()

	if closed || handler == nil {
		return
	}
	handler(msg)
}
