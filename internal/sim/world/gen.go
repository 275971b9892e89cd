package world

import (
	"fmt"
	"math/rand"
	"sort"
)

// GenConfig tunes procedural graph generation.
type GenConfig struct {
	NodeCount     int
	Extent        int64 // coordinates are drawn from [-Extent, Extent)
	MinSeparation float64
	MinLinks      int
	MaxLinks      int
}

func (c *GenConfig) applyDefaults() {
	if c.NodeCount <= 0 {
		c.NodeCount = 100
	}
	if c.Extent <= 0 {
		c.Extent = 1000
	}
	if c.MinSeparation <= 0 {
		c.MinSeparation = 100
	}
	if c.MinLinks <= 0 {
		c.MinLinks = 2
	}
	if c.MaxLinks < c.MinLinks {
		c.MaxLinks = c.MinLinks + 3
	}
}

// Generate builds a fresh world: rejection-sampled node placement, nearest
// neighbor links stitched into a single component, then one transit flow per
// link followed by one empty reservoir per node. Link flows precede node
// flows in the flow slice; the tick pass depends on that ordering.
func Generate(rng *rand.Rand, cfg GenConfig) (*World, error) {
	cfg.applyDefaults()

	nodes, err := genNodes(rng, cfg)
	if err != nil {
		return nil, err
	}
	links := genLinks(rng, nodes, cfg)

	w := &World{
		Nodes: nodes,
		Links: links,
		Flows: genFlows(nodes, links),
		Flids: nil,
	}
	w.reindex()
	return w, nil
}

func genNodes(rng *rand.Rand, cfg GenConfig) ([]Node, error) {
	nodes := make([]Node, 0, cfg.NodeCount)
	maxAttempts := cfg.NodeCount * 1000

	for attempts := 0; len(nodes) < cfg.NodeCount; attempts++ {
		if attempts >= maxAttempts {
			return nil, fmt.Errorf("node placement: %d/%d placed after %d attempts (extent %d too tight for separation %.0f)",
				len(nodes), cfg.NodeCount, attempts, cfg.Extent, cfg.MinSeparation)
		}
		pos := Point{
			X: rng.Int63n(2*cfg.Extent) - cfg.Extent,
			Y: rng.Int63n(2*cfg.Extent) - cfg.Extent,
		}
		if tooClose(pos, nodes, cfg.MinSeparation) {
			continue
		}
		nodes = append(nodes, Node{
			ID:   NodeID(len(nodes) + 1),
			Pos:  pos,
			Size: 0.5 + rng.Float64(), // 0.5..1.5
		})
	}
	return nodes, nil
}

func tooClose(pos Point, nodes []Node, minSep float64) bool {
	for i := range nodes {
		if pos.Dist(nodes[i].Pos) < minSep {
			return true
		}
	}
	return false
}

// nearestNodes returns up to n nodes ordered by distance from pos, excluding
// the node with the given id.
func nearestNodes(pos Point, nodes []Node, exclude NodeID, n int) []Node {
	candidates := make([]Node, 0, len(nodes))
	for _, node := range nodes {
		if node.ID == exclude {
			continue
		}
		candidates = append(candidates, node)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return pos.Dist(candidates[i].Pos) < pos.Dist(candidates[j].Pos)
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

func genLinks(rng *rand.Rand, nodes []Node, cfg GenConfig) []Link {
	type pair struct{ a, b NodeID }
	linked := make(map[pair]bool)
	key := func(a, b NodeID) pair {
		if a > b {
			a, b = b, a
		}
		return pair{a, b}
	}

	var links []Link
	addLink := func(a, b NodeID) {
		if a == b || linked[key(a, b)] {
			return
		}
		linked[key(a, b)] = true
		links = append(links, Link{
			ID:      LinkID(len(links) + 1),
			Quality: 0.01 + rng.Float64()*0.98,
			N1:      a,
			N2:      b,
		})
	}

	for _, node := range nodes {
		count := cfg.MinLinks + rng.Intn(cfg.MaxLinks-cfg.MinLinks+1)
		for _, neighbor := range nearestNodes(node.Pos, nodes, node.ID, count) {
			addLink(node.ID, neighbor.ID)
		}
	}

	// Stitch disconnected components through their nearest node pair so every
	// node is reachable from every other.
	parent := make(map[NodeID]NodeID, len(nodes))
	for _, n := range nodes {
		parent[n.ID] = n.ID
	}
	var find func(NodeID) NodeID
	find = func(id NodeID) NodeID {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	union := func(a, b NodeID) {
		parent[find(a)] = find(b)
	}
	for _, l := range links {
		union(l.N1, l.N2)
	}
	for {
		roots := make(map[NodeID]bool)
		for _, n := range nodes {
			roots[find(n.ID)] = true
		}
		if len(roots) <= 1 {
			break
		}
		var bestA, bestB NodeID
		bestDist := -1.0
		for i := range nodes {
			for j := i + 1; j < len(nodes); j++ {
				if find(nodes[i].ID) == find(nodes[j].ID) {
					continue
				}
				d := nodes[i].DistTo(nodes[j])
				if bestDist < 0 || d < bestDist {
					bestDist = d
					bestA, bestB = nodes[i].ID, nodes[j].ID
				}
			}
		}
		addLink(bestA, bestB)
		union(bestA, bestB)
	}

	return links
}

// genFlows creates the flow set for a fresh graph: all link-hosted flows
// first, then all node-hosted reservoirs.
func genFlows(nodes []Node, links []Link) []Flow {
	flows := make([]Flow, 0, len(links)+len(nodes))
	next := FlowID(1)
	for _, l := range links {
		flows = append(flows, Flow{
			ID:     next,
			Kind:   HostLink,
			LinkID: l.ID,
		})
		next++
	}
	for _, n := range nodes {
		flows = append(flows, Flow{
			ID:     next,
			Kind:   HostNode,
			NodeID: n.ID,
		})
		next++
	}
	return flows
}
