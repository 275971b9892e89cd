package engine

import (
	"flowgrid.io/internal/protocol"
	"flowgrid.io/internal/sim/world"
)

func nop() []Event {
	return []Event{{To: AddressNone, Msg: protocol.NopMsg{Type: protocol.TypeNop}}}
}

// handle applies one command to completion and returns the addressed events
// it produced. It never leaves the world partially updated.
func (e *Engine) handle(cmd Command) []Event {
	switch cmd.Req.Type {
	case protocol.TypeNewPlayer:
		return e.handleNewPlayer(cmd.Player)
	case protocol.TypePlayerExit:
		return e.handlePlayerExit(cmd.Player)
	case protocol.TypeGetState:
		return e.handleGetState(cmd.Player)
	case protocol.TypeRestart:
		return e.handleRestart()
	case protocol.TypeCalc, protocol.TypeTick:
		return e.handleCalc()
	case protocol.TypeChangeFlow:
		return e.handleChangeFlow(cmd.Player, world.FlowID(cmd.Req.FlowID), cmd.Req.Dir)
	case protocol.TypeJump:
		return e.handleJump(cmd.Player, world.LinkID(cmd.Req.LinkID))
	default:
		e.logf("unknown command type %q from player %d", cmd.Req.Type, cmd.Player)
		return nop()
	}
}

func (e *Engine) handleNewPlayer(id world.PlayerID) []Event {
	if id == 0 {
		return nop()
	}
	if _, ok := e.w.FlidByPlayer(id); !ok {
		node := e.w.Nodes[e.rng.Intn(len(e.w.Nodes))]
		e.w.AddFlid(world.Flid{ID: id, Host: world.NodeHost(node.ID)})
		e.players.Store(int64(len(e.w.Flids)))
	}
	return []Event{
		{To: AddressTo(id), Msg: protocol.HelloMsg{Type: protocol.TypeHello, ID: id, Time: e.lastTick}},
		{To: AddressAll, Msg: e.gameState()},
	}
}

func (e *Engine) handlePlayerExit(id world.PlayerID) []Event {
	removed := e.w.RemoveFlid(id)
	for i := range e.w.Flows {
		if e.w.Flows[i].Owner == id {
			e.w.Flows[i].Owner = 0
		}
	}
	if !removed {
		return nop()
	}
	e.players.Store(int64(len(e.w.Flids)))
	return []Event{{To: AddressAll, Msg: e.gameState()}}
}

func (e *Engine) handleGetState(id world.PlayerID) []Event {
	if id == 0 {
		return nop()
	}
	e.calc(e.now())
	return []Event{{To: AddressTo(id), Msg: e.gameState()}}
}

func (e *Engine) handleRestart() []Event {
	w, err := world.Generate(e.rng, e.cfg.Gen)
	if err != nil {
		// Keep serving the current world rather than dying mid-session.
		e.logf("restart: regeneration failed: %v", err)
		return nop()
	}
	e.w = w
	e.lastTick = e.now()
	e.tickSeq.Store(0)
	e.players.Store(0)

	if e.cfg.RestartLog != nil {
		entry := RestartLogEntry{At: e.lastTick, Nodes: len(w.Nodes), Links: len(w.Links)}
		if err := e.cfg.RestartLog.WriteRestart(entry); err != nil {
			e.logf("restart journal: %v", err)
		}
	}
	return []Event{{To: AddressAll, Msg: e.gameState()}}
}

func (e *Engine) handleCalc() []Event {
	now := e.now()
	if now-e.lastTick < e.cfg.MinTickInterval {
		return nop()
	}
	e.calc(now)
	return []Event{
		{To: AddressAll, Msg: protocol.FlowStateMsg{Type: protocol.TypeFlowState, Time: e.lastTick, Flows: e.w.CopyFlows()}},
		{To: AddressAll, Msg: protocol.FlidStateMsg{Type: protocol.TypeFlidState, Time: e.lastTick, Flids: e.w.CopyFlids()}},
	}
}

func (e *Engine) handleChangeFlow(id world.PlayerID, flowID world.FlowID, dirStr string) []Event {
	if id == 0 {
		return nop()
	}
	if _, ok := e.w.FlidByPlayer(id); !ok {
		return nop()
	}
	dir, ok := world.ParseDir(dirStr)
	if !ok {
		return nop()
	}
	flow, ok := e.w.FlowByID(flowID)
	if !ok || flow.Kind != world.HostLink {
		return nop()
	}

	// Redirecting discards the in-flight queue; the pending amount is dropped,
	// not refunded.
	flow.Dir = dir
	flow.Owner = id
	flow.Blobs = nil
	flow.Amount = 0

	return []Event{{To: AddressAll, Msg: protocol.FlowUpdateMsg{Type: protocol.TypeFlowUpdate, Flow: copyFlow(*flow)}}}
}

func (e *Engine) handleJump(id world.PlayerID, linkID world.LinkID) []Event {
	if id == 0 {
		return nop()
	}
	flid, ok := e.w.FlidByPlayer(id)
	if !ok {
		return nop()
	}
	link, ok := e.w.LinkByID(linkID)
	if !ok {
		return nop()
	}
	nodeID, ok := flid.Host.AtNode()
	if !ok {
		return nop()
	}
	dir, ok := link.DirFrom(nodeID)
	if !ok {
		return nop()
	}

	start := e.lastTick
	flid.Host = world.JumpHost(world.Jump{
		LinkID:   link.ID,
		Dir:      dir,
		StartAt:  start,
		ArriveAt: start + e.travelTime(link),
	})

	return []Event{{To: AddressAll, Msg: protocol.FlidUpdateMsg{Type: protocol.TypeFlidUpdate, Flid: copyFlid(*flid)}}}
}

func (e *Engine) gameState() protocol.GameStateMsg {
	return protocol.GameStateMsg{
		Type:  protocol.TypeGameState,
		Time:  e.lastTick,
		Nodes: e.w.Nodes,
		Links: e.w.Links,
		Flows: e.w.CopyFlows(),
		Flids: e.w.CopyFlids(),
	}
}

func (e *Engine) travelTime(l world.Link) float64 {
	return e.w.LinkDistance(l) / e.cfg.Speed
}

func copyFlow(f world.Flow) world.Flow {
	if f.Blobs != nil {
		blobs := make([]world.Blob, len(f.Blobs))
		copy(blobs, f.Blobs)
		f.Blobs = blobs
	}
	return f
}

func copyFlid(f world.Flid) world.Flid {
	if f.Host.Jump != nil {
		j := *f.Host.Jump
		f.Host.Jump = &j
	}
	return f
}
