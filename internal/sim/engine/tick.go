package engine

import "flowgrid.io/internal/sim/world"

// calc advances simulation time to now. Flow redistribution runs in three
// strict phases with links processed before nodes; once phase 1 has executed,
// the remaining phases always run to completion so the world is never visible
// in a half-ticked state.
func (e *Engine) calc(now float64) {
	dt := now - e.lastTick
	if dt < 0 {
		dt = 0
	}

	// Phase 1a: settle arrivals. Each matured blob credits the reservoir of
	// the node its link's current direction points at.
	credited := make(map[world.NodeID]float64)
	for i := range e.w.Flows {
		f := &e.w.Flows[i]
		if f.Kind != world.HostLink || len(f.Blobs) == 0 {
			continue
		}
		link, ok := e.w.LinkByID(f.LinkID)
		if !ok || f.Dir == world.DirNone {
			continue
		}
		dest := link.Dest(f.Dir)
		keep := f.Blobs[:0]
		for _, b := range f.Blobs {
			if b.ArriveAt <= now {
				credited[dest] += b.Amount
			} else {
				keep = append(keep, b)
			}
		}
		f.Blobs = keep
		f.Amount = blobSum(f.Blobs)
	}

	// Phase 1b: ambient generation plus settled inflow.
	for i := range e.w.Flows {
		f := &e.w.Flows[i]
		if f.Kind != world.HostNode {
			continue
		}
		node, ok := e.w.NodeByID(f.NodeID)
		if !ok {
			continue
		}
		f.Amount += node.Size*dt + credited[f.NodeID]
	}

	// Phase 2: candidate draws per directed link, accumulated per origin.
	requested := make(map[world.NodeID]float64)
	draws := make(map[world.FlowID]float64)
	for i := range e.w.Flows {
		f := &e.w.Flows[i]
		if f.Kind != world.HostLink || f.Dir == world.DirNone {
			continue
		}
		link, ok := e.w.LinkByID(f.LinkID)
		if !ok {
			continue
		}
		amount := e.cfg.OutflowRate * dt
		if amount <= 0 {
			continue
		}
		requested[link.Origin(f.Dir)] += amount
		draws[f.ID] = amount
	}

	// Phase 3: drain reservoirs, scaling oversubscribed nodes down so no
	// reservoir ever goes negative, then inject the drawn amounts as blobs.
	factors := make(map[world.NodeID]float64, len(requested))
	for nodeID, req := range requested {
		res, ok := e.w.ReservoirAt(nodeID)
		if !ok {
			factors[nodeID] = 0
			continue
		}
		if req <= res.Amount {
			factors[nodeID] = 1
			res.Amount -= req
		} else {
			factors[nodeID] = res.Amount / req
			res.Amount = 0
		}
	}
	for i := range e.w.Flows {
		f := &e.w.Flows[i]
		if f.Kind != world.HostLink || f.Dir == world.DirNone {
			continue
		}
		draw, ok := draws[f.ID]
		if !ok {
			continue
		}
		link, _ := e.w.LinkByID(f.LinkID)
		amount := draw * factors[link.Origin(f.Dir)]
		if amount > 0 {
			f.Blobs = append(f.Blobs, world.Blob{
				Amount:   amount,
				ArriveAt: now + e.travelTime(link),
			})
		}
		f.Amount = blobSum(f.Blobs)
	}

	// Flid arrivals: in-transit avatars whose arrival time has passed land at
	// the jump's destination node.
	for i := range e.w.Flids {
		flid := &e.w.Flids[i]
		jump, ok := flid.Host.InTransit()
		if !ok || jump.ArriveAt > now {
			continue
		}
		link, ok := e.w.LinkByID(jump.LinkID)
		if !ok {
			continue
		}
		flid.Host = world.NodeHost(link.Dest(jump.Dir))
	}

	e.lastTick = now
	seq := e.tickSeq.Add(1)

	if e.cfg.TickLog != nil {
		entry := TickLogEntry{
			Seq:         seq,
			At:          now,
			Dt:          dt,
			TotalAmount: e.w.TotalAmount(),
			Blobs:       e.w.BlobCount(),
			Players:     len(e.w.Flids),
		}
		if err := e.cfg.TickLog.WriteTick(entry); err != nil {
			e.logf("tick journal: %v", err)
		}
	}
}

func blobSum(blobs []world.Blob) float64 {
	var sum float64
	for _, b := range blobs {
		sum += b.Amount
	}
	return sum
}
