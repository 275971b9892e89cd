package world

import "math"

type PlayerID uint64

type NodeID uint64

type LinkID uint64

type FlowID uint64

// Point is a position on the 2D integer grid.
type Point struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

func (p Point) Dist(q Point) float64 {
	dx := float64(p.X - q.X)
	dy := float64(p.Y - q.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// Node is a fixed spatial vertex. Size scales the ambient generation rate of
// its reservoir. Nodes are immutable for the lifetime of a World instance.
type Node struct {
	ID   NodeID  `json:"id"`
	Pos  Point   `json:"pos"`
	Size float64 `json:"size"`
}

func (n Node) DistTo(other Node) float64 {
	return n.Pos.Dist(other.Pos)
}

// Link is an undirected edge between two distinct nodes.
type Link struct {
	ID      LinkID  `json:"id"`
	Quality float64 `json:"quality"`
	N1      NodeID  `json:"n1"`
	N2      NodeID  `json:"n2"`
}

func (l Link) HasNode(id NodeID) bool {
	return l.N1 == id || l.N2 == id
}

func (l Link) Between(a, b NodeID) bool {
	return l.HasNode(a) && l.HasNode(b)
}

// DirFrom reports the traversal direction leaving the given endpoint.
func (l Link) DirFrom(id NodeID) (Dir, bool) {
	switch id {
	case l.N1:
		return DirTo2, true
	case l.N2:
		return DirTo1, true
	default:
		return "", false
	}
}

// Dest returns the endpoint the direction points at.
func (l Link) Dest(d Dir) NodeID {
	if d == DirTo1 {
		return l.N1
	}
	return l.N2
}

// Origin returns the endpoint the direction points away from.
func (l Link) Origin(d Dir) NodeID {
	if d == DirTo1 {
		return l.N2
	}
	return l.N1
}

// Dir is a traversal direction on a link, named after the endpoint it points
// at. The zero value means no direction is set.
type Dir string

const (
	DirNone Dir = ""
	DirTo1  Dir = "To1"
	DirTo2  Dir = "To2"
)

func ParseDir(s string) (Dir, bool) {
	switch Dir(s) {
	case DirTo1:
		return DirTo1, true
	case DirTo2:
		return DirTo2, true
	default:
		return DirNone, false
	}
}

// Blob is a discrete in-flight chunk of flow amount scheduled to arrive at an
// absolute simulation time.
type Blob struct {
	Amount   float64 `json:"amount"`
	ArriveAt float64 `json:"arrive_at"`
}

// HostKind tags where a flow or flid currently lives.
type HostKind string

const (
	HostNode HostKind = "Node"
	HostLink HostKind = "Link"
)

// Flow is a conserved quantity hosted either at a node (a reservoir) or on a
// link (in transit). Only the fields of the active kind are meaningful.
type Flow struct {
	ID   FlowID   `json:"id"`
	Kind HostKind `json:"kind"`

	// Node-hosted: reservoir anchor.
	NodeID NodeID `json:"node_id,omitempty"`

	// Link-hosted: transit channel.
	LinkID LinkID   `json:"link_id,omitempty"`
	Dir    Dir      `json:"dir,omitempty"`
	Owner  PlayerID `json:"owner,omitempty"`
	Blobs  []Blob   `json:"blobs,omitempty"`

	// Reservoir amount for node flows, sum of queued blob amounts for link
	// flows.
	Amount float64 `json:"amount"`
}

// Jump records a flid traversal in progress.
type Jump struct {
	LinkID   LinkID  `json:"link_id"`
	Dir      Dir     `json:"dir"`
	StartAt  float64 `json:"start_at"`
	ArriveAt float64 `json:"arrive_at"`
}

// Host places a flid at exactly one node or on exactly one jump.
type Host struct {
	Kind   HostKind `json:"kind"`
	NodeID NodeID   `json:"node_id,omitempty"`
	Jump   *Jump    `json:"jump,omitempty"`
}

func NodeHost(id NodeID) Host {
	return Host{Kind: HostNode, NodeID: id}
}

func JumpHost(j Jump) Host {
	return Host{Kind: HostLink, Jump: &j}
}

func (h Host) AtNode() (NodeID, bool) {
	if h.Kind == HostNode {
		return h.NodeID, true
	}
	return 0, false
}

func (h Host) InTransit() (*Jump, bool) {
	if h.Kind == HostLink && h.Jump != nil {
		return h.Jump, true
	}
	return nil, false
}

// Flid is a player's movable presence in the world.
type Flid struct {
	ID   PlayerID `json:"id"`
	Host Host     `json:"host"`
}

// World aggregates the immutable graph and the live flow/flid collections.
// It is exclusively owned by the engine goroutine after construction.
type World struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
	Flows []Flow `json:"flows"`
	Flids []Flid `json:"flids"`

	nodeByID map[NodeID]int
	linkByID map[LinkID]int
	flowByID map[FlowID]int
	// Reservoir flow index per node, transit flow index per link.
	flowAtNode map[NodeID]int
	flowOnLink map[LinkID]int
}

func (w *World) NodeByID(id NodeID) (Node, bool) {
	i, ok := w.nodeByID[id]
	if !ok {
		return Node{}, false
	}
	return w.Nodes[i], true
}

func (w *World) LinkByID(id LinkID) (Link, bool) {
	i, ok := w.linkByID[id]
	if !ok {
		return Link{}, false
	}
	return w.Links[i], true
}

func (w *World) FlowByID(id FlowID) (*Flow, bool) {
	i, ok := w.flowByID[id]
	if !ok {
		return nil, false
	}
	return &w.Flows[i], true
}

// ReservoirAt returns the node-hosted flow anchored at the given node.
func (w *World) ReservoirAt(id NodeID) (*Flow, bool) {
	i, ok := w.flowAtNode[id]
	if !ok {
		return nil, false
	}
	return &w.Flows[i], true
}

// TransitOn returns the link-hosted flow anchored on the given link.
func (w *World) TransitOn(id LinkID) (*Flow, bool) {
	i, ok := w.flowOnLink[id]
	if !ok {
		return nil, false
	}
	return &w.Flows[i], true
}

func (w *World) FlidByPlayer(id PlayerID) (*Flid, bool) {
	for i := range w.Flids {
		if w.Flids[i].ID == id {
			return &w.Flids[i], true
		}
	}
	return nil, false
}

func (w *World) AddFlid(f Flid) {
	w.Flids = append(w.Flids, f)
}

func (w *World) RemoveFlid(id PlayerID) bool {
	for i := range w.Flids {
		if w.Flids[i].ID == id {
			w.Flids = append(w.Flids[:i], w.Flids[i+1:]...)
			return true
		}
	}
	return false
}

// LinkDistance is the Euclidean length of a link.
func (w *World) LinkDistance(l Link) float64 {
	n1, ok1 := w.NodeByID(l.N1)
	n2, ok2 := w.NodeByID(l.N2)
	if !ok1 || !ok2 {
		return 0
	}
	return n1.DistTo(n2)
}

// TotalAmount sums every reservoir and every queued blob. Used by the
// conservation checks and the tick journal.
func (w *World) TotalAmount() float64 {
	var total float64
	for i := range w.Flows {
		f := &w.Flows[i]
		switch f.Kind {
		case HostNode:
			total += f.Amount
		case HostLink:
			for _, b := range f.Blobs {
				total += b.Amount
			}
		}
	}
	return total
}

// BlobCount counts queued blobs across all link flows.
func (w *World) BlobCount() int {
	n := 0
	for i := range w.Flows {
		if w.Flows[i].Kind == HostLink {
			n += len(w.Flows[i].Blobs)
		}
	}
	return n
}

func (w *World) reindex() {
	w.nodeByID = make(map[NodeID]int, len(w.Nodes))
	for i, n := range w.Nodes {
		w.nodeByID[n.ID] = i
	}
	w.linkByID = make(map[LinkID]int, len(w.Links))
	for i, l := range w.Links {
		w.linkByID[l.ID] = i
	}
	w.flowByID = make(map[FlowID]int, len(w.Flows))
	w.flowAtNode = make(map[NodeID]int)
	w.flowOnLink = make(map[LinkID]int)
	for i := range w.Flows {
		f := &w.Flows[i]
		w.flowByID[f.ID] = i
		switch f.Kind {
		case HostNode:
			w.flowAtNode[f.NodeID] = i
		case HostLink:
			w.flowOnLink[f.LinkID] = i
		}
	}
}
