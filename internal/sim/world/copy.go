package world

// CopyFlows deep-copies the flow collection, including blob queues, so a
// snapshot can leave the engine goroutine safely.
func (w *World) CopyFlows() []Flow {
	out := make([]Flow, len(w.Flows))
	copy(out, w.Flows)
	for i := range out {
		if out[i].Blobs != nil {
			blobs := make([]Blob, len(out[i].Blobs))
			copy(blobs, out[i].Blobs)
			out[i].Blobs = blobs
		}
	}
	return out
}

// CopyFlids deep-copies the flid collection, including jump records.
func (w *World) CopyFlids() []Flid {
	out := make([]Flid, len(w.Flids))
	copy(out, w.Flids)
	for i := range out {
		if out[i].Host.Jump != nil {
			j := *out[i].Host.Jump
			out[i].Host.Jump = &j
		}
	}
	return out
}
