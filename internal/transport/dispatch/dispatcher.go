// Package dispatch routes addressed engine events to live client connections.
// It is the only component that knows which players are currently reachable;
// the engine only ever names an Address.
package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"

	"flowgrid.io/internal/sim/engine"
	"flowgrid.io/internal/sim/world"
)

// Client is a live connection's outbound queue, registered by the transport.
type Client struct {
	ID  world.PlayerID
	Out chan []byte
}

type registerReq struct {
	client Client
	done   chan struct{}
}

type unregisterReq struct {
	id   world.PlayerID
	done chan struct{}
}

type Dispatcher struct {
	log    *log.Logger
	events <-chan engine.Event

	register   chan registerReq
	unregister chan unregisterReq
	clients    map[world.PlayerID]chan []byte

	connected atomic.Int64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func New(events <-chan engine.Event, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		log:        logger,
		events:     events,
		register:   make(chan registerReq),
		unregister: make(chan unregisterReq),
		clients:    make(map[world.PlayerID]chan []byte),
	}
}

// Register announces a new connection and returns once routing is active, so
// a join submitted afterwards cannot outrun its own welcome event.
func (d *Dispatcher) Register(c Client) {
	done := make(chan struct{})
	d.register <- registerReq{client: c, done: done}
	<-done
}

// Unregister removes a connection and returns once routing has stopped. The
// transport remains the owner of the out channel's lifetime.
func (d *Dispatcher) Unregister(id world.PlayerID) {
	done := make(chan struct{})
	d.unregister <- unregisterReq{id: id, done: done}
	<-done
}

// Connected reports the number of registered clients.
func (d *Dispatcher) Connected() int { return int(d.connected.Load()) }

// Delivered counts frames handed to client queues.
func (d *Dispatcher) Delivered() uint64 { return d.delivered.Load() }

// Dropped counts frames discarded because a client queue was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Run owns the client map. It selects fairly across lifecycle registrations
// and engine events until the context ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-d.register:
			d.clients[req.client.ID] = req.client.Out
			d.connected.Store(int64(len(d.clients)))
			close(req.done)
		case req := <-d.unregister:
			delete(d.clients, req.id)
			d.connected.Store(int64(len(d.clients)))
			close(req.done)
		case ev := <-d.events:
			d.deliver(ev)
		}
	}
}

func (d *Dispatcher) deliver(ev engine.Event) {
	switch ev.To.Kind {
	case engine.AddrNone:
		return
	case engine.AddrPlayer:
		out, ok := d.clients[ev.To.Player]
		if !ok {
			// The player disconnected between emit and delivery; drop.
			return
		}
		data, err := json.Marshal(ev.Msg)
		if err != nil {
			d.logf("marshal %T: %v", ev.Msg, err)
			return
		}
		d.send(ev.To.Player, out, data)
	case engine.AddrAll:
		if len(d.clients) == 0 {
			return
		}
		data, err := json.Marshal(ev.Msg)
		if err != nil {
			d.logf("marshal %T: %v", ev.Msg, err)
			return
		}
		for id, out := range d.clients {
			d.send(id, out, data)
		}
	}
}

// send enqueues without blocking; a stalled client loses its oldest frame
// rather than stalling the dispatcher.
func (d *Dispatcher) send(id world.PlayerID, out chan []byte, data []byte) {
	select {
	case out <- data:
		d.delivered.Add(1)
		return
	default:
	}
	select {
	case <-out:
		d.dropped.Add(1)
	default:
	}
	select {
	case out <- data:
		d.delivered.Add(1)
	default:
		d.dropped.Add(1)
		d.logf("client %d queue jammed, frame dropped", id)
	}
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.log != nil {
		d.log.Printf(format, args...)
	}
}
