// Package protocol defines the JSON wire frames exchanged with clients. Tag
// names and field shapes match the historical wire format and must not change
// without a version bump.
package protocol

import "encoding/json"

const Version = "1.0"

// Inbound command tags.
const (
	TypeNewPlayer  = "NewPlayer"
	TypePlayerExit = "PlayerExit"
	TypeGetState   = "GetState"
	TypeRestart    = "Restart"
	TypeCalc       = "Calc"
	TypeTick       = "Tick" // accepted alias for Calc
	TypeChangeFlow = "ChangeFlow"
	TypeJump       = "Jump"
)

// Outbound event tags.
const (
	TypeGameState  = "GameState"
	TypeFlowState  = "FlowState"
	TypeFlidState  = "FlidState"
	TypeFlowUpdate = "FlowUpdate"
	TypeFlidUpdate = "FlidUpdate"
	TypeHello      = "Hello"
	TypeNop        = "Nop"
	TypeError      = "Error"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
