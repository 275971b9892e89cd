package engine

// TickLogEntry records one applied tick for the journal and the index.
type TickLogEntry struct {
	Seq         uint64  `json:"seq"`
	At          float64 `json:"at"`
	Dt          float64 `json:"dt"`
	TotalAmount float64 `json:"total_amount"`
	Blobs       int     `json:"blobs"`
	Players     int     `json:"players"`
}

// RestartLogEntry records a world regeneration.
type RestartLogEntry struct {
	At    float64 `json:"at"`
	Nodes int     `json:"nodes"`
	Links int     `json:"links"`
}

// TickLogger and RestartLogger are optional sinks; implementations live in
// internal/persistence. Write failures are logged, never fatal.
type TickLogger interface {
	WriteTick(TickLogEntry) error
}

type RestartLogger interface {
	WriteRestart(RestartLogEntry) error
}
