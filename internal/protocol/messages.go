package protocol

import "flowgrid.io/internal/sim/world"

// RequestMsg is the inbound tagged command union. Only the fields of the
// tagged variant are meaningful. IDs start at 1, so zero means absent.
type RequestMsg struct {
	Type   string `json:"type"`
	FlowID uint64 `json:"flow_id,omitempty"` // ChangeFlow
	Dir    string `json:"dir,omitempty"`     // ChangeFlow: "To1" | "To2"
	LinkID uint64 `json:"link_id,omitempty"` // Jump
}

// GameStateMsg is a full world snapshot.
type GameStateMsg struct {
	Type  string       `json:"type"`
	Time  float64      `json:"time"`
	Nodes []world.Node `json:"nodes"`
	Links []world.Link `json:"links"`
	Flows []world.Flow `json:"flows"`
	Flids []world.Flid `json:"flids"`
}

// FlowStateMsg carries every flow after a tick.
type FlowStateMsg struct {
	Type  string       `json:"type"`
	Time  float64      `json:"time"`
	Flows []world.Flow `json:"flows"`
}

// FlidStateMsg carries every flid after a tick.
type FlidStateMsg struct {
	Type  string       `json:"type"`
	Time  float64      `json:"time"`
	Flids []world.Flid `json:"flids"`
}

// FlowUpdateMsg is a single-flow delta.
type FlowUpdateMsg struct {
	Type string     `json:"type"`
	Flow world.Flow `json:"flow"`
}

// FlidUpdateMsg is a single-flid delta.
type FlidUpdateMsg struct {
	Type string     `json:"type"`
	Flid world.Flid `json:"flid"`
}

// HelloMsg is the private welcome for a freshly joined player.
type HelloMsg struct {
	Type string         `json:"type"`
	ID   world.PlayerID `json:"id"`
	Time float64        `json:"time"`
}

// NopMsg is the explicit no-op event.
type NopMsg struct {
	Type string `json:"type"`
}

// ErrorMsg reports a transport-level rejection to one client.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
