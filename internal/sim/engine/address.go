package engine

import "flowgrid.io/internal/sim/world"

// AddressKind routes an outbound event to zero, one, or all players.
type AddressKind int

const (
	AddrNone AddressKind = iota
	AddrPlayer
	AddrAll
)

// Address is routing data, not a live connection reference; the dispatcher
// resolves it against the current client set.
type Address struct {
	Kind   AddressKind
	Player world.PlayerID
}

var (
	AddressNone = Address{Kind: AddrNone}
	AddressAll  = Address{Kind: AddrAll}
)

func AddressTo(id world.PlayerID) Address {
	return Address{Kind: AddrPlayer, Player: id}
}

// Event is an addressed outbound message. Msg is one of the protocol event
// structs and is serialized by the dispatcher.
type Event struct {
	To  Address
	Msg any
}
